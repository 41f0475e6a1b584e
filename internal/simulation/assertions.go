package simulation

import (
	"testing"

	"github.com/nvandessel/monosim/internal/population"
)

// AssertFinalSizes asserts that every replicate reached its target size.
func AssertFinalSizes(t *testing.T, b *Batch) {
	t.Helper()
	for _, r := range b.Reports {
		if r.FinalSize < r.TargetSize {
			t.Errorf("AssertFinalSizes: replicate %d: final size %d < target %d", r.Replicate, r.FinalSize, r.TargetSize)
		}
	}
}

// AssertCountsConsistent asserts that event counts match the event lists
// and that the live mutant total is the sum of its parts.
func AssertCountsConsistent(t *testing.T, b *Batch) {
	t.Helper()
	for _, r := range b.Reports {
		if r.MonosomeEventCount != len(r.MonosomeEvents) {
			t.Errorf("AssertCountsConsistent: replicate %d: %d monosome events listed, count %d", r.Replicate, len(r.MonosomeEvents), r.MonosomeEventCount)
		}
		if r.RevertEventCount != len(r.RevertEvents) {
			t.Errorf("AssertCountsConsistent: replicate %d: %d revert events listed, count %d", r.Replicate, len(r.RevertEvents), r.RevertEventCount)
		}
		if r.LiveMutant != r.LiveMonosome+r.LiveRevertant {
			t.Errorf("AssertCountsConsistent: replicate %d: live mutants %d != %d + %d", r.Replicate, r.LiveMutant, r.LiveMonosome, r.LiveRevertant)
		}
		if r.LiveMutant > r.FinalSize {
			t.Errorf("AssertCountsConsistent: replicate %d: %d live mutants in %d cells", r.Replicate, r.LiveMutant, r.FinalSize)
		}
	}
}

// AssertEventsOrdered asserts that event generations never decrease and
// stay within the replicate's generation count.
func AssertEventsOrdered(t *testing.T, b *Batch) {
	t.Helper()
	for _, r := range b.Reports {
		for name, events := range map[string][]population.Event{"monosome": r.MonosomeEvents, "revert": r.RevertEvents} {
			for i, e := range events {
				if e.Generation < 1 || e.Generation > r.Generations {
					t.Errorf("AssertEventsOrdered: replicate %d: %s event %d in generation %d outside [1, %d]", r.Replicate, name, i, e.Generation, r.Generations)
				}
				if i > 0 && e.Generation < events[i-1].Generation {
					t.Errorf("AssertEventsOrdered: replicate %d: %s event %d goes back from generation %d to %d", r.Replicate, name, i, events[i-1].Generation, e.Generation)
				}
			}
		}
	}
}

// AssertProvenance asserts that every report carries the batch run id and
// consecutive 1-based replicate numbers.
func AssertProvenance(t *testing.T, b *Batch) {
	t.Helper()
	if len(b.Reports) != b.Scenario.Replicates {
		t.Errorf("AssertProvenance: %d reports, want %d", len(b.Reports), b.Scenario.Replicates)
	}
	for i, r := range b.Reports {
		if r.RunID != b.RunID {
			t.Errorf("AssertProvenance: replicate %d: run id %q, want %q", i+1, r.RunID, b.RunID)
		}
		if r.Replicate != i+1 {
			t.Errorf("AssertProvenance: report %d numbered %d", i, r.Replicate)
		}
	}
}
