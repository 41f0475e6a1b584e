package archive

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nvandessel/monosim/internal/assay"
	"github.com/nvandessel/monosim/internal/config"
	"github.com/nvandessel/monosim/internal/estimator"
	"github.com/nvandessel/monosim/internal/lineage"
	"github.com/nvandessel/monosim/internal/simulation"
)

func testBatch(t *testing.T) *simulation.Batch {
	t.Helper()
	b, err := simulation.NewRunner().Run(context.Background(), simulation.Scenario{
		Name:         "archive-test",
		Params:       lineage.Params{MonosomeFitness: 0.7, MonosomeRate: 0.02, RevertRate: 0.1, Ploidy: 2},
		TargetSize:   256,
		Replicates:   4,
		Seed:         1<<63 + 5,
		Cleanup:      true,
		FounderState: lineage.Wildtype,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return b
}

func newSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// exerciseArchive runs the behavior every backend must share.
func exerciseArchive(t *testing.T, a Archive) {
	ctx := context.Background()
	b := testBatch(t)

	if err := a.SaveBatch(ctx, b); err != nil {
		t.Fatalf("SaveBatch() error = %v", err)
	}
	if err := a.SaveBatch(ctx, b); !errors.Is(err, ErrRunExists) {
		t.Errorf("second SaveBatch() error = %v, want ErrRunExists", err)
	}

	run, err := a.GetRun(ctx, b.RunID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.Seed != b.Seed || run.Replicates != 4 || !run.Cleanup || run.Params != b.Scenario.Params {
		t.Errorf("GetRun() = %+v", run)
	}
	if !run.CreatedAt.Equal(b.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", run.CreatedAt, b.CreatedAt)
	}
	if !reflect.DeepEqual(run.ScenarioOf(), b.Scenario) {
		t.Errorf("ScenarioOf() = %+v, want %+v", run.ScenarioOf(), b.Scenario)
	}

	reports, err := a.LoadReports(ctx, b.RunID)
	if err != nil {
		t.Fatalf("LoadReports() error = %v", err)
	}
	if !reflect.DeepEqual(reports, b.Reports) {
		t.Errorf("reports changed in the archive:\n got %+v\nwant %+v", reports, b.Reports)
	}

	runs, err := a.ListRuns(ctx)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if !slices.ContainsFunc(runs, func(r Run) bool { return r.RunID == b.RunID }) {
		t.Errorf("ListRuns() does not include %s", b.RunID)
	}

	first := []assay.Result{
		{
			Mutant: assay.ClassMonosome, Model: assay.ModelLD, W: 1, Nt: 256, Counts: []int{3, 0, 12, 1},
			Estimate: &assay.Estimate{
				M: 1.25, MCI: estimator.Interval{Lower: 0.5, Upper: 2.5},
				Mu: 1.25 / 256, MuCI: estimator.Interval{Lower: 0.5 / 256, Upper: 2.5 / 256},
			},
		},
		{Mutant: assay.ClassRevertant, Model: assay.ModelMK, W: 0.7, Nt: 256, Counts: []int{1, 0, 0, 0}, UpperBound: true, Failure: "not converged"},
	}
	second := []assay.Result{{Mutant: assay.ClassRevertant, Model: assay.ModelLD, W: 1, Nt: 256, Counts: []int{0, 2}}}
	if err := a.SaveResults(ctx, b.RunID, first); err != nil {
		t.Fatalf("SaveResults() error = %v", err)
	}
	if err := a.SaveResults(ctx, b.RunID, second); err != nil {
		t.Fatalf("second SaveResults() error = %v", err)
	}
	got, err := a.LoadResults(ctx, b.RunID)
	if err != nil {
		t.Fatalf("LoadResults() error = %v", err)
	}
	if want := append(slices.Clone(first), second...); !reflect.DeepEqual(got, want) {
		t.Errorf("LoadResults() =\n%+v\nwant\n%+v", got, want)
	}
	if run, _ := a.GetRun(ctx, b.RunID); run == nil || run.Fits != 3 {
		t.Errorf("run fits = %+v, want 3", run)
	}

	missing := uuid.New().String()
	if _, err := a.GetRun(ctx, missing); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("GetRun(missing) error = %v", err)
	}
	if _, err := a.LoadReports(ctx, missing); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("LoadReports(missing) error = %v", err)
	}
	if err := a.SaveResults(ctx, missing, second); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("SaveResults(missing) error = %v", err)
	}
	if _, err := a.LoadResults(ctx, missing); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("LoadResults(missing) error = %v", err)
	}
}

func TestSQLite_Archive(t *testing.T) {
	exerciseArchive(t, newSQLiteStore(t))
}

func TestPostgres_Archive(t *testing.T) {
	dsn := os.Getenv("MONOSIM_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("MONOSIM_TEST_POSTGRES_DSN not set")
	}
	s, err := OpenPostgres(context.Background(), dsn)
	if err != nil {
		t.Fatalf("OpenPostgres() error = %v", err)
	}
	defer s.Close()
	exerciseArchive(t, s)
}

func TestSQLite_ListRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "new", "mid"} {
		b := &simulation.Batch{
			RunID:     id,
			Scenario:  simulation.Scenario{Name: id, Params: lineage.Params{Ploidy: 2}, TargetSize: 1, Replicates: 0},
			CreatedAt: base.Add(time.Duration([]int{0, 2, 1}[i]) * time.Hour),
		}
		if err := s.SaveBatch(ctx, b); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := s.ListRuns(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, r := range runs {
		ids = append(ids, r.RunID)
	}
	if want := []string{"new", "mid", "old"}; !slices.Equal(ids, want) {
		t.Errorf("ListRuns() order = %v, want %v", ids, want)
	}
}

func TestSQLite_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "runs.db")

	s, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	b := testBatch(t)
	if err := s.SaveBatch(ctx, b); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()
	reports, err := s.LoadReports(ctx, b.RunID)
	if err != nil || len(reports) != len(b.Reports) {
		t.Errorf("LoadReports() after reopen = %d reports, %v", len(reports), err)
	}
}

func TestSaveBatch_RequiresRunID(t *testing.T) {
	s := newSQLiteStore(t)
	if err := s.SaveBatch(context.Background(), &simulation.Batch{}); err == nil {
		t.Error("expected error for batch without run id")
	}
	if err := s.SaveBatch(context.Background(), nil); err == nil {
		t.Error("expected error for nil batch")
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()

	a, err := Open(ctx, config.ArchiveConfig{}, dataDir)
	if err != nil {
		t.Fatalf("Open(default) error = %v", err)
	}
	a.Close()
	if _, err := os.Stat(filepath.Join(dataDir, "runs.db")); err != nil {
		t.Errorf("default archive not created: %v", err)
	}

	if _, err := Open(ctx, config.ArchiveConfig{Driver: "postgres"}, dataDir); err == nil {
		t.Error("postgres without dsn should fail")
	}
	if _, err := Open(ctx, config.ArchiveConfig{Driver: "mysql"}, dataDir); err == nil {
		t.Error("unknown driver should fail")
	}
}

func TestRebind(t *testing.T) {
	q := `INSERT INTO t (a, b) VALUES (?, ?)`
	if got := sqliteDialect.rebind(q); got != q {
		t.Errorf("sqlite rebind = %q", got)
	}
	if got, want := postgresDialect.rebind(q), `INSERT INTO t (a, b) VALUES ($1, $2)`; got != want {
		t.Errorf("postgres rebind = %q, want %q", got, want)
	}
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements(schemaV1)
	if len(stmts) != 6 {
		t.Fatalf("got %d statements, want 6: %q", len(stmts), stmts)
	}
	for _, s := range stmts {
		if s == "" || s[0] == '-' {
			t.Errorf("bad statement %q", s)
		}
	}
	got := splitStatements("-- only a comment\n;\nSELECT 1;\n  ;")
	if !slices.Equal(got, []string{"SELECT 1"}) {
		t.Errorf("splitStatements() = %q", got)
	}
}
