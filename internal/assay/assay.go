// Package assay aggregates replicate reports into fluctuation-assay count
// series and fits mutation-count estimators to them.
package assay

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/nvandessel/monosim/internal/constants"
	"github.com/nvandessel/monosim/internal/estimator"
	"github.com/nvandessel/monosim/internal/lineage"
	"github.com/nvandessel/monosim/internal/logging"
	"github.com/nvandessel/monosim/internal/metrics"
	"github.com/nvandessel/monosim/internal/population"
)

// Solver computes point estimates and confidence intervals for m.
type Solver interface {
	NewtonLD(counts []int, maxIter int) (float64, error)
	ConfintLD(counts []int, maxIter int) (estimator.Interval, error)
	NewtonMK(counts []int, w float64, maxIter int) (float64, error)
	ConfintMK(counts []int, w float64, maxIter int) (estimator.Interval, error)
}

type defaultSolver struct{}

func (defaultSolver) NewtonLD(c []int, n int) (float64, error) { return estimator.NewtonLD(c, n) }
func (defaultSolver) ConfintLD(c []int, n int) (estimator.Interval, error) {
	return estimator.ConfintLD(c, n)
}
func (defaultSolver) NewtonMK(c []int, w float64, n int) (float64, error) {
	return estimator.NewtonMK(c, w, n)
}
func (defaultSolver) ConfintMK(c []int, w float64, n int) (estimator.Interval, error) {
	return estimator.ConfintMK(c, w, n)
}

// Option configures an Assay.
type Option func(*Assay)

// WithMaxIter bounds every solver iteration.
func WithMaxIter(n int) Option {
	return func(a *Assay) { a.maxIter = n }
}

// WithSolver replaces the estimator routines.
func WithSolver(s Solver) Option {
	return func(a *Assay) { a.solver = s }
}

// WithMetrics records fit outcomes.
func WithMetrics(r *metrics.Recorder) Option {
	return func(a *Assay) { a.metrics = r }
}

// WithLogger sets the logger for fit summaries.
func WithLogger(l *slog.Logger) Option {
	return func(a *Assay) { a.logger = l }
}

// WithEvents writes a "fit" record per fit to the event log.
func WithEvents(e *logging.EventLogger) Option {
	return func(a *Assay) { a.events = e }
}

// FitOption configures a single Fit call.
type FitOption func(*fitConfig)

type fitConfig struct {
	w    float64
	hasW bool
}

// WithFitnessWeight sets the relative mutant fitness for the MK model.
func WithFitnessWeight(w float64) FitOption {
	return func(c *fitConfig) { c.w, c.hasW = w, true }
}

// Assay holds the count series of a set of replicates and the history of
// fits made against them.
type Assay struct {
	params     lineage.Params
	replicates int
	nt         float64
	series     map[MutantClass][]int
	results    []Result

	maxIter int
	solver  Solver
	metrics *metrics.Recorder
	logger  *slog.Logger
	events  *logging.EventLogger
}

// New builds an assay from replicate reports. The first report's parameters
// are taken as representative of all replicates.
func New(reports []population.Report, opts ...Option) (*Assay, error) {
	if len(reports) == 0 {
		return nil, ErrNoReplicates
	}
	a := &Assay{
		params:     reports[0].Params,
		replicates: len(reports),
		series: map[MutantClass][]int{
			ClassMonosome:  make([]int, len(reports)),
			ClassRevertant: make([]int, len(reports)),
		},
		maxIter: constants.DefaultMaxIter,
		solver:  defaultSolver{},
		logger:  logging.Discard(),
	}
	for _, opt := range opts {
		opt(a)
	}

	var total float64
	for i, r := range reports {
		total += float64(r.FinalSize)
		a.series[ClassMonosome][i] = r.LiveMutant
		a.series[ClassRevertant][i] = r.RevertEventCount
	}
	a.nt = total / float64(len(reports))
	return a, nil
}

// Nt returns the mean final population size across replicates.
func (a *Assay) Nt() float64 { return a.nt }

// Replicates returns the number of replicates.
func (a *Assay) Replicates() int { return a.replicates }

// Params returns the representative mutation parameters.
func (a *Assay) Params() lineage.Params { return a.params }

// Counts returns a copy of the count series for class.
func (a *Assay) Counts(class MutantClass) ([]int, error) {
	s, ok := a.series[class]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMutantClass, class)
	}
	return slices.Clone(s), nil
}

// Fit estimates m for one mutant class under one model and appends the
// result to the history. Solver failures are recorded in the result, not
// returned; the error is reserved for invalid arguments.
func (a *Assay) Fit(class MutantClass, model Model, opts ...FitOption) (Result, error) {
	counts, err := a.Counts(class)
	if err != nil {
		return Result{}, err
	}
	if !model.Valid() {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidModel, model)
	}
	var cfg fitConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	res := Result{
		Mutant: class,
		Model:  model,
		W:      1,
		Nt:     a.nt,
	}
	if !slices.ContainsFunc(counts, func(n int) bool { return n != 0 }) {
		counts[0] = 1
		res.UpperBound = true
	}
	res.Counts = counts

	var (
		m  float64
		ci estimator.Interval
	)
	switch model {
	case ModelLD:
		m, err = a.solver.NewtonLD(counts, a.maxIter)
		if err == nil {
			ci, err = a.solver.ConfintLD(counts, a.maxIter)
		}
	case ModelMK:
		res.W = a.params.MonosomeFitness
		if cfg.hasW {
			res.W = cfg.w
		}
		m, err = a.solver.NewtonMK(counts, res.W, a.maxIter)
		if err == nil {
			ci, err = a.solver.ConfintMK(counts, res.W, a.maxIter)
		}
	}

	if err != nil {
		res.Failure = err.Error()
		a.logger.Warn("fit undefined",
			"mutant", class, "model", model, "w", res.W, "error", err)
	} else {
		res.Estimate = &Estimate{
			M:    m,
			MCI:  ci,
			Mu:   m / a.nt,
			MuCI: estimator.Interval{Lower: ci.Lower / a.nt, Upper: ci.Upper / a.nt},
		}
		a.logger.Info("fit complete",
			"mutant", class, "model", model, "w", res.W,
			"m", m, "mu", res.Estimate.Mu, "upper_bound", res.UpperBound)
	}

	a.metrics.ObserveFit(model.String(), class.String(), res.Defined())
	if a.events.Tracing() {
		a.events.Log("fit", map[string]any{
			"mutant":      class.String(),
			"model":       model.String(),
			"w":           res.W,
			"counts":      res.Counts,
			"upper_bound": res.UpperBound,
			"defined":     res.Defined(),
		})
	}

	a.results = append(a.results, res)
	return res, nil
}

// Results returns the fit history in call order.
func (a *Assay) Results() []Result {
	return slices.Clone(a.results)
}
