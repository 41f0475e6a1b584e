package simulation

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/nvandessel/monosim/internal/lineage"
	"github.com/nvandessel/monosim/internal/population"
)

// Scenario defines one batch of replicates.
type Scenario struct {
	Name       string         `json:"name"`
	Params     lineage.Params `json:"params"`
	TargetSize int            `json:"target_size"`
	Replicates int            `json:"replicates"`

	// Seed makes the batch reproducible. Zero draws fresh entropy; the seed
	// actually used is recorded on the Batch.
	Seed uint64 `json:"seed"`

	// Cleanup drops wildtype cells after each replicate's report is built.
	Cleanup bool `json:"cleanup"`

	// MaxGenerations bounds each replicate (0 = unlimited).
	MaxGenerations int `json:"max_generations"`

	// FounderState is the state every founder starts in.
	FounderState lineage.State `json:"founder_state"`
}

// Validate checks the scenario before any replicate runs.
func (s Scenario) Validate() error {
	if err := s.Params.Validate(); err != nil {
		return err
	}
	if s.TargetSize < 1 {
		return fmt.Errorf("%w, got %d", population.ErrInvalidTarget, s.TargetSize)
	}
	if s.Replicates < 1 {
		return fmt.Errorf("replicates must be at least 1, got %d", s.Replicates)
	}
	if s.MaxGenerations < 0 {
		return fmt.Errorf("max generations must be non-negative, got %d", s.MaxGenerations)
	}
	switch s.FounderState {
	case lineage.Wildtype, lineage.Monosome, lineage.Revertant:
	default:
		return fmt.Errorf("invalid founder state %v", s.FounderState)
	}
	return nil
}

// founder builds a replicate's founder in the scenario's starting state.
func (s Scenario) founder() (*lineage.Cell, error) {
	c, err := lineage.NewFounder(0, 0, s.Params)
	if err != nil {
		return nil, err
	}
	switch s.FounderState {
	case lineage.Monosome:
		err = c.BecomeMonosome(0)
	case lineage.Revertant:
		if err = c.BecomeMonosome(0); err == nil {
			err = c.BecomeRevertant(0)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("preparing founder: %w", err)
	}
	return c, nil
}

// Batch is the outcome of one scenario run.
type Batch struct {
	RunID     string              `json:"run_id"`
	Scenario  Scenario            `json:"scenario"`
	Seed      uint64              `json:"seed"`
	CreatedAt time.Time           `json:"created_at"`
	Reports   []population.Report `json:"reports"`
}

const streamMix = 0x9e3779b97f4a7c15

// NewStream returns the PCG stream a replicate with the given seed draws
// from.
func NewStream(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^streamMix))
}

// ReplicateSeeds derives n replicate seeds from a batch seed.
func ReplicateSeeds(batchSeed uint64, n int) []uint64 {
	src := NewStream(batchSeed)
	seeds := make([]uint64, n)
	for i := range seeds {
		seeds[i] = src.Uint64()
	}
	return seeds
}

// freshSeed draws a nonzero seed from the runtime's entropy source.
func freshSeed() uint64 {
	for {
		if s := rand.Uint64(); s != 0 {
			return s
		}
	}
}
