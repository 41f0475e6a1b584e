// Package population grows a lineage from one founder to a target size with a
// synchronous generational branching process and reports the outcome.
package population

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nvandessel/monosim/internal/lineage"
	"github.com/nvandessel/monosim/internal/logging"
	"github.com/nvandessel/monosim/internal/metrics"
)

var (
	// ErrInvalidTarget is returned for a target size below 1.
	ErrInvalidTarget = errors.New("target size must be at least 1")

	// ErrGenerationLimit is returned when Options.MaxGenerations is reached
	// before the target size.
	ErrGenerationLimit = errors.New("generation limit reached before target size")
)

// Event kinds used in logs, traces and metrics.
const (
	KindMonosome = "monosome"
	KindRevert   = "revert"
)

// Options tunes an expansion. The zero value runs an unbounded expansion
// that keeps every cell and logs nothing.
type Options struct {
	// Cleanup drops cells that are neither Monosome nor Revertant from the
	// stored population once the report is built.
	Cleanup bool

	// MaxGenerations bounds the number of generations (0 = unlimited).
	// A Monosome founder with zero fitness never grows, so callers running
	// untrusted parameters should set it.
	MaxGenerations int

	Logger  *slog.Logger
	Events  *logging.EventLogger
	Metrics *metrics.Recorder
}

// Simulation is the result of one expansion.
type Simulation struct {
	cells  map[int64]*lineage.Cell
	order  []int64
	report Report
}

// Expand grows founder until the population holds at least targetSize cells.
//
// Each generation visits the current population in order; every cell that
// decides to divide adds one daughter to the generation's batch. As soon as
// the projected size reaches targetSize the generation stops, and the cells
// not yet visited carry over unchanged. rng is the single stream shared by
// every decision in the run.
func Expand(ctx context.Context, founder *lineage.Cell, targetSize int, rng lineage.Stream, opts Options) (*Simulation, error) {
	if founder == nil {
		return nil, fmt.Errorf("founder is required")
	}
	if targetSize < 1 {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidTarget, targetSize)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	start := time.Now()

	pop := []*lineage.Cell{founder}
	size := 1
	id := founder.ID
	gen := founder.Born
	generations := 0
	var monosomeEvents, revertEvents []Event

	for size < targetSize {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("expansion stopped at generation %d: %w", gen, err)
		}
		if opts.MaxGenerations > 0 && generations >= opts.MaxGenerations {
			return nil, fmt.Errorf("%w: %d generations, size %d of %d",
				ErrGenerationLimit, generations, size, targetSize)
		}

		gen++
		generations++
		batch := make([]*lineage.Cell, 0, min(len(pop), targetSize-size))

		for _, c := range pop {
			if !c.DecideDivide(rng) {
				continue
			}
			id++
			div := c.Divide(rng, id, gen)
			batch = append(batch, div.Daughter)

			if div.Monosome {
				monosomeEvents = append(monosomeEvents, Event{CellID: id, Generation: gen})
				recordEvent(opts, KindMonosome, div.Daughter, gen)
			} else if div.Revert {
				revertEvents = append(revertEvents, Event{CellID: id, Generation: gen})
				recordEvent(opts, KindRevert, div.Daughter, gen)
			}

			if size+len(batch) >= targetSize {
				break
			}
		}

		logger.Debug("generation complete",
			"generation", gen,
			"daughters", len(batch),
			"mothers", size,
			"cumulative", size+len(batch))
		opts.Events.Log("generation", map[string]any{
			"generation": gen,
			"daughters":  len(batch),
			"mothers":    size,
			"cumulative": size + len(batch),
		})
		opts.Metrics.ObserveGeneration(len(batch))

		pop = append(pop, batch...)
		size += len(batch)
	}

	sim := &Simulation{
		cells: make(map[int64]*lineage.Cell, len(pop)),
		order: make([]int64, 0, len(pop)),
	}
	for _, c := range pop {
		sim.cells[c.ID] = c
		sim.order = append(sim.order, c.ID)
	}
	elapsed := time.Since(start)

	sim.report = buildReport(founder.Params, targetSize, pop, monosomeEvents, revertEvents, generations, elapsed)
	opts.Metrics.ObserveReplicate(elapsed)

	logger.Info("expansion complete",
		"final_size", sim.report.FinalSize,
		"generations", generations,
		"monosome_events", sim.report.MonosomeEventCount,
		"revert_events", sim.report.RevertEventCount,
		"elapsed", elapsed)

	if opts.Cleanup {
		sim.clean()
	}
	return sim, nil
}

func recordEvent(opts Options, kind string, daughter *lineage.Cell, gen int) {
	opts.Metrics.ObserveEvent(kind)
	if opts.Events.Tracing() {
		opts.Events.Log(kind, map[string]any{
			"cell_id":    daughter.ID,
			"mother":     daughter.Mother,
			"generation": gen,
			"genealogy":  daughter.Genealogy,
		})
	}
}

// clean removes wildtype cells from the stored population.
func (s *Simulation) clean() {
	kept := s.order[:0]
	for _, id := range s.order {
		if !s.cells[id].IsMutant() {
			delete(s.cells, id)
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
}

// Report returns the report built at the end of the expansion.
func (s *Simulation) Report() Report { return s.report }

// Size returns the number of stored cells. After cleanup this is the number
// of mutant cells, not the final population size.
func (s *Simulation) Size() int { return len(s.cells) }

// Cell returns the stored cell with the given id.
func (s *Simulation) Cell(id int64) (*lineage.Cell, bool) {
	c, ok := s.cells[id]
	return c, ok
}

// Cells returns the stored cells in population order.
func (s *Simulation) Cells() []*lineage.Cell {
	out := make([]*lineage.Cell, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.cells[id])
	}
	return out
}
