// Package archive records simulation batches and assay results in a SQL
// database. SQLite and Postgres share one schema; only placeholders and
// integrity checks differ between them.
package archive

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/nvandessel/monosim/internal/assay"
	"github.com/nvandessel/monosim/internal/config"
	"github.com/nvandessel/monosim/internal/constants"
	"github.com/nvandessel/monosim/internal/lineage"
	"github.com/nvandessel/monosim/internal/population"
	"github.com/nvandessel/monosim/internal/simulation"
)

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var (
	// ErrRunNotFound is returned when no run has the requested id.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunExists is returned when a batch with the same run id was already
	// saved.
	ErrRunExists = errors.New("run already archived")
)

// Archive stores batches and the fits computed from them.
type Archive interface {
	// SaveBatch stores the batch and every replicate report with its event
	// log. A run id can only be saved once.
	SaveBatch(ctx context.Context, b *simulation.Batch) error

	// ListRuns returns run summaries, newest first.
	ListRuns(ctx context.Context) ([]Run, error)

	// GetRun returns one run summary.
	GetRun(ctx context.Context, runID string) (*Run, error)

	// LoadReports restores the replicate reports of a run in replicate
	// order.
	LoadReports(ctx context.Context, runID string) ([]population.Report, error)

	// SaveResults appends fit results to a run's history.
	SaveResults(ctx context.Context, runID string, results []assay.Result) error

	// LoadResults returns a run's fit history in the order it was saved.
	LoadResults(ctx context.Context, runID string) ([]assay.Result, error)

	Close() error
}

// Run summarizes an archived batch.
type Run struct {
	RunID          string         `json:"run_id"`
	Scenario       string         `json:"scenario"`
	Seed           uint64         `json:"seed"`
	Params         lineage.Params `json:"params"`
	TargetSize     int            `json:"target_size"`
	Replicates     int            `json:"replicates"`
	Cleanup        bool           `json:"cleanup"`
	MaxGenerations int            `json:"max_generations"`
	FounderState   lineage.State  `json:"founder_state"`
	CreatedAt      time.Time      `json:"created_at"`
	Fits           int            `json:"fits"`
}

// ScenarioOf rebuilds the scenario a run was grown from.
func (r Run) ScenarioOf() simulation.Scenario {
	return simulation.Scenario{
		Name:           r.Scenario,
		Params:         r.Params,
		TargetSize:     r.TargetSize,
		Replicates:     r.Replicates,
		Seed:           r.Seed,
		Cleanup:        r.Cleanup,
		MaxGenerations: r.MaxGenerations,
		FounderState:   r.FounderState,
	}
}

// Open opens the archive described by cfg. An empty SQLite path puts the
// database under dataDir.
func Open(ctx context.Context, cfg config.ArchiveConfig, dataDir string) (Archive, error) {
	switch cfg.Driver {
	case "", DriverSQLite:
		path := cfg.Path
		if path == "" {
			path = filepath.Join(dataDir, constants.ArchiveFileName)
		}
		return OpenSQLite(ctx, path)
	case DriverPostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres archive requires a dsn")
		}
		return OpenPostgres(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown archive driver %q", cfg.Driver)
	}
}
