package simulation

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/nvandessel/monosim/internal/lineage"
	"github.com/nvandessel/monosim/internal/logging"
	"github.com/nvandessel/monosim/internal/population"
)

func testScenario() Scenario {
	return Scenario{
		Name:       "small",
		Params:     lineage.Params{MonosomeFitness: 0.8, MonosomeRate: 0.01, RevertRate: 0.05, Ploidy: 2},
		TargetSize: 512,
		Replicates: 6,
		Seed:       42,
	}
}

func TestRun_Batch(t *testing.T) {
	var trace bytes.Buffer
	r := NewRunner(WithEvents(logging.NewEventWriter(&trace, false)))

	b, err := r.Run(context.Background(), testScenario())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if b.RunID == "" || b.Seed != 42 || b.CreatedAt.IsZero() {
		t.Errorf("batch header = %q %d %v", b.RunID, b.Seed, b.CreatedAt)
	}

	AssertProvenance(t, b)
	AssertFinalSizes(t, b)
	AssertCountsConsistent(t, b)
	AssertEventsOrdered(t, b)

	seeds := ReplicateSeeds(42, 6)
	for i, rep := range b.Reports {
		if rep.Seed != seeds[i] {
			t.Errorf("replicate %d seed = %d, want %d", i+1, rep.Seed, seeds[i])
		}
	}
	if !strings.Contains(trace.String(), `"kind":"generation"`) {
		t.Error("expected generation records in the trace")
	}
}

func TestRun_Deterministic(t *testing.T) {
	r := NewRunner()
	a, err := r.Run(context.Background(), testScenario())
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.Run(context.Background(), testScenario())
	if err != nil {
		t.Fatal(err)
	}
	if a.RunID == b.RunID {
		t.Error("each run should get its own run id")
	}
	for i := range a.Reports {
		x, y := a.Reports[i], b.Reports[i]
		x.RunID, y.RunID = "", ""
		x.ComputeTime, y.ComputeTime = 0, 0
		if !reflect.DeepEqual(x, y) {
			t.Errorf("replicate %d differs between runs with the same seed", i+1)
		}
	}
}

func TestRun_FreshSeedRecorded(t *testing.T) {
	sc := testScenario()
	sc.Seed = 0
	sc.Replicates = 1

	b, err := NewRunner().Run(context.Background(), sc)
	if err != nil {
		t.Fatal(err)
	}
	if b.Seed == 0 || b.Scenario.Seed != b.Seed {
		t.Errorf("seed = %d, scenario seed = %d; want the same nonzero value", b.Seed, b.Scenario.Seed)
	}
	if got := ReplicateSeeds(b.Seed, 1)[0]; b.Reports[0].Seed != got {
		t.Errorf("replicate seed = %d, want %d", b.Reports[0].Seed, got)
	}
}

func TestRun_FounderStates(t *testing.T) {
	tests := []struct {
		state    lineage.State
		wantLive func(population.Report) bool
	}{
		{lineage.Wildtype, func(population.Report) bool { return true }},
		{lineage.Monosome, func(r population.Report) bool { return r.LiveMutant == r.FinalSize }},
		{lineage.Revertant, func(r population.Report) bool { return r.LiveRevertant == r.FinalSize }},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			sc := testScenario()
			sc.FounderState = tt.state
			sc.Params.MonosomeFitness = 1
			sc.Replicates = 2
			sc.TargetSize = 64

			b, err := NewRunner().Run(context.Background(), sc)
			if err != nil {
				t.Fatal(err)
			}
			for _, r := range b.Reports {
				if !tt.wantLive(r) {
					t.Errorf("replicate %d: unexpected live counts %+v", r.Replicate, r)
				}
			}
		})
	}
}

func TestRun_InvalidScenario(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Scenario)
	}{
		{"bad params", func(s *Scenario) { s.Params.MonosomeRate = 2 }},
		{"zero target", func(s *Scenario) { s.TargetSize = 0 }},
		{"zero replicates", func(s *Scenario) { s.Replicates = 0 }},
		{"negative generations", func(s *Scenario) { s.MaxGenerations = -3 }},
		{"bad founder", func(s *Scenario) { s.FounderState = lineage.State(9) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := testScenario()
			tt.mutate(&sc)
			if _, err := NewRunner().Run(context.Background(), sc); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestRun_GenerationLimit(t *testing.T) {
	sc := testScenario()
	sc.FounderState = lineage.Monosome
	sc.Params.MonosomeFitness = 0
	sc.MaxGenerations = 10

	_, err := NewRunner().Run(context.Background(), sc)
	if !errors.Is(err, population.ErrGenerationLimit) {
		t.Fatalf("Run() error = %v, want ErrGenerationLimit", err)
	}
	if !strings.Contains(err.Error(), "replicate 1") {
		t.Errorf("error should name the replicate: %v", err)
	}
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewRunner().Run(ctx, testScenario()); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestRun_InjectedClockAndID(t *testing.T) {
	r := NewRunner()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }
	r.newID = func() string { return "run-1" }

	sc := testScenario()
	sc.Replicates = 1
	b, err := r.Run(context.Background(), sc)
	if err != nil {
		t.Fatal(err)
	}
	if b.RunID != "run-1" || !b.CreatedAt.Equal(fixed) || b.Reports[0].RunID != "run-1" {
		t.Errorf("batch = %s %v, report run id %s", b.RunID, b.CreatedAt, b.Reports[0].RunID)
	}
}

func TestRegrow(t *testing.T) {
	sc := testScenario()
	sc.Cleanup = true
	b, err := NewRunner().Run(context.Background(), sc)
	if err != nil {
		t.Fatal(err)
	}
	rep := b.Reports[3]

	sim, err := Regrow(context.Background(), sc, rep)
	if err != nil {
		t.Fatalf("Regrow() error = %v", err)
	}
	got := sim.Report()
	if got.FinalSize != rep.FinalSize || got.LiveMutant != rep.LiveMutant || !reflect.DeepEqual(got.MonosomeEvents, rep.MonosomeEvents) {
		t.Errorf("regrown replicate differs: got %+v, want %+v", got, rep)
	}
	if sim.Size() != rep.FinalSize {
		t.Errorf("regrown population keeps %d cells, want all %d", sim.Size(), rep.FinalSize)
	}
}

func TestReplicateSeeds(t *testing.T) {
	a := ReplicateSeeds(7, 5)
	b := ReplicateSeeds(7, 5)
	if !reflect.DeepEqual(a, b) {
		t.Error("seeds should be deterministic")
	}
	seen := make(map[uint64]bool)
	for _, s := range a {
		if seen[s] {
			t.Errorf("duplicate seed %d", s)
		}
		seen[s] = true
	}
	if reflect.DeepEqual(a, ReplicateSeeds(8, 5)) {
		t.Error("different batch seeds should give different replicate seeds")
	}
}
