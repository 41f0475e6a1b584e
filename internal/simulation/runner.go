package simulation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nvandessel/monosim/internal/logging"
	"github.com/nvandessel/monosim/internal/metrics"
	"github.com/nvandessel/monosim/internal/population"
)

// Runner executes scenarios.
type Runner struct {
	logger  *slog.Logger
	events  *logging.EventLogger
	metrics *metrics.Recorder
	now     func() time.Time
	newID   func() string
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger for batch and replicate progress.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithEvents sets the trace sink passed down to every expansion.
func WithEvents(el *logging.EventLogger) Option {
	return func(r *Runner) { r.events = el }
}

// WithMetrics sets the recorder passed down to every expansion.
func WithMetrics(m *metrics.Recorder) Option {
	return func(r *Runner) { r.metrics = m }
}

// NewRunner creates a runner. Without options it logs nothing.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		logger: logging.Discard(),
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run grows every replicate of sc in order and returns the batch. Replicate
// i (1-based) draws from its own stream seeded with the i-th value of
// ReplicateSeeds, so a single culture can be regrown from its report's Seed.
// A cancelled context stops the batch between or during replicates.
func (r *Runner) Run(ctx context.Context, sc Scenario) (*Batch, error) {
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	seed := sc.Seed
	if seed == 0 {
		seed = freshSeed()
	}
	batch := &Batch{
		RunID:     r.newID(),
		Scenario:  sc,
		Seed:      seed,
		CreatedAt: r.now().UTC(),
		Reports:   make([]population.Report, 0, sc.Replicates),
	}
	batch.Scenario.Seed = seed

	logger := r.logger.With("run_id", batch.RunID)
	logger.Info("batch started",
		"scenario", sc.Name,
		"replicates", sc.Replicates,
		"target_size", sc.TargetSize,
		"seed", seed)

	opts := population.Options{
		Cleanup:        sc.Cleanup,
		MaxGenerations: sc.MaxGenerations,
		Logger:         logger,
		Events:         r.events,
		Metrics:        r.metrics,
	}

	for i, repSeed := range ReplicateSeeds(seed, sc.Replicates) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		founder, err := sc.founder()
		if err != nil {
			return nil, err
		}
		sim, err := population.Expand(ctx, founder, sc.TargetSize, NewStream(repSeed), opts)
		if err != nil {
			return nil, fmt.Errorf("replicate %d: %w", i+1, err)
		}
		rep := sim.Report()
		rep.RunID = batch.RunID
		rep.Replicate = i + 1
		rep.Seed = repSeed
		batch.Reports = append(batch.Reports, rep)
	}

	logger.Info("batch complete", "replicates", len(batch.Reports))
	return batch, nil
}

// Regrow reruns one replicate of a batch from its recorded seed. The
// returned simulation keeps its full population for inspection.
func Regrow(ctx context.Context, sc Scenario, rep population.Report) (*population.Simulation, error) {
	sc.Cleanup = false
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	founder, err := sc.founder()
	if err != nil {
		return nil, err
	}
	return population.Expand(ctx, founder, sc.TargetSize, NewStream(rep.Seed), population.Options{MaxGenerations: sc.MaxGenerations})
}
