package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nvandessel/monosim/internal/assay"
	"github.com/nvandessel/monosim/internal/estimator"
	"github.com/nvandessel/monosim/internal/lineage"
	"github.com/nvandessel/monosim/internal/population"
	"github.com/nvandessel/monosim/internal/simulation"
)

// SQLStore implements Archive over database/sql.
type SQLStore struct {
	db  *sql.DB
	d   dialect
	now func() time.Time
}

var _ Archive = (*SQLStore)(nil)

func newSQLStore(ctx context.Context, db *sql.DB, d dialect) (*SQLStore, error) {
	if err := InitSchema(ctx, db, d); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLStore{db: db, d: d, now: time.Now}, nil
}

// Driver returns the database driver name.
func (s *SQLStore) Driver() string { return s.d.name }

// SaveBatch implements Archive.
func (s *SQLStore) SaveBatch(ctx context.Context, b *simulation.Batch) error {
	if b == nil || b.RunID == "" {
		return fmt.Errorf("batch with a run id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	exists, err := s.runExists(ctx, tx, b.RunID)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrRunExists, b.RunID)
	}

	sc := b.Scenario
	_, err = tx.ExecContext(ctx, s.d.rebind(`
		INSERT INTO runs (run_id, scenario, seed, monosome_fitness, monosome_rate, revert_rate, ploidy,
			target_size, replicates, cleanup, max_generations, founder_state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		b.RunID, sc.Name, formatSeed(b.Seed),
		sc.Params.MonosomeFitness, sc.Params.MonosomeRate, sc.Params.RevertRate, sc.Params.Ploidy,
		sc.TargetSize, len(b.Reports), boolToInt(sc.Cleanup), sc.MaxGenerations, sc.FounderState.String(),
		formatTime(b.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	repStmt, err := tx.PrepareContext(ctx, s.d.rebind(`
		INSERT INTO replicates (run_id, replicate, seed, m_monosome, m_revert, n_monosome, n_revert,
			n_total, final_size, generations, compute_time_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("failed to prepare replicate insert: %w", err)
	}
	defer repStmt.Close()

	evStmt, err := tx.PrepareContext(ctx, s.d.rebind(`
		INSERT INTO events (run_id, replicate, kind, seq, cell_id, generation)
		VALUES (?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("failed to prepare event insert: %w", err)
	}
	defer evStmt.Close()

	for _, r := range b.Reports {
		if _, err := repStmt.ExecContext(ctx,
			b.RunID, r.Replicate, formatSeed(r.Seed), r.MonosomeEventCount, r.RevertEventCount,
			r.LiveMonosome, r.LiveRevertant, r.LiveMutant, r.FinalSize, r.Generations,
			int64(r.ComputeTime)); err != nil {
			return fmt.Errorf("failed to insert replicate %d: %w", r.Replicate, err)
		}
		for kind, events := range map[string][]population.Event{
			population.KindMonosome: r.MonosomeEvents,
			population.KindRevert:   r.RevertEvents,
		} {
			for i, e := range events {
				if _, err := evStmt.ExecContext(ctx, b.RunID, r.Replicate, kind, i, e.CellID, e.Generation); err != nil {
					return fmt.Errorf("failed to insert %s event %d of replicate %d: %w", kind, i, r.Replicate, err)
				}
			}
		}
	}

	return tx.Commit()
}

const runColumns = `r.run_id, r.scenario, r.seed, r.monosome_fitness, r.monosome_rate, r.revert_rate, r.ploidy,
	r.target_size, r.replicates, r.cleanup, r.max_generations, r.founder_state, r.created_at,
	(SELECT COUNT(*) FROM fits f WHERE f.run_id = r.run_id)`

// ListRuns implements Archive.
func (s *SQLStore) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs r ORDER BY r.created_at DESC, r.run_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// GetRun implements Archive.
func (s *SQLStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, s.d.rebind(`SELECT `+runColumns+` FROM runs r WHERE r.run_id = ?`), runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run, err
}

// LoadReports implements Archive.
func (s *SQLStore) LoadReports(ctx context.Context, runID string) ([]population.Report, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	// Replicates are read in full before the event query; SQLite runs on a
	// single connection.
	rows, err := s.db.QueryContext(ctx, s.d.rebind(`
		SELECT replicate, seed, m_monosome, m_revert, n_monosome, n_revert, n_total,
			final_size, generations, compute_time_ns
		FROM replicates WHERE run_id = ? ORDER BY replicate`), runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query replicates: %w", err)
	}
	var reports []population.Report
	index := make(map[int]int)
	for rows.Next() {
		r := population.Report{
			RunID:          runID,
			Params:         run.Params,
			TargetSize:     run.TargetSize,
			MonosomeEvents: []population.Event{},
			RevertEvents:   []population.Event{},
		}
		var seed string
		var computeNS int64
		if err := rows.Scan(&r.Replicate, &seed, &r.MonosomeEventCount, &r.RevertEventCount,
			&r.LiveMonosome, &r.LiveRevertant, &r.LiveMutant, &r.FinalSize, &r.Generations, &computeNS); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan replicate: %w", err)
		}
		if r.Seed, err = parseSeed(seed); err != nil {
			rows.Close()
			return nil, err
		}
		r.ComputeTime = time.Duration(computeNS)
		index[r.Replicate] = len(reports)
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	evRows, err := s.db.QueryContext(ctx, s.d.rebind(`
		SELECT replicate, kind, cell_id, generation
		FROM events WHERE run_id = ? ORDER BY replicate, kind, seq`), runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer evRows.Close()
	for evRows.Next() {
		var rep int
		var kind string
		var e population.Event
		if err := evRows.Scan(&rep, &kind, &e.CellID, &e.Generation); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		i, ok := index[rep]
		if !ok {
			return nil, fmt.Errorf("event for unknown replicate %d", rep)
		}
		switch kind {
		case population.KindMonosome:
			reports[i].MonosomeEvents = append(reports[i].MonosomeEvents, e)
		case population.KindRevert:
			reports[i].RevertEvents = append(reports[i].RevertEvents, e)
		default:
			return nil, fmt.Errorf("unknown event kind %q", kind)
		}
	}
	return reports, evRows.Err()
}

// SaveResults implements Archive.
func (s *SQLStore) SaveResults(ctx context.Context, runID string, results []assay.Result) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	exists, err := s.runExists(ctx, tx, runID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	var next int
	if err := tx.QueryRowContext(ctx, s.d.rebind(`SELECT COALESCE(MAX(seq) + 1, 0) FROM fits WHERE run_id = ?`), runID).Scan(&next); err != nil {
		return fmt.Errorf("failed to read fit sequence: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, s.d.rebind(`
		INSERT INTO fits (run_id, seq, mutant, model, w, nt, upper_bound, counts,
			m, m_lower, m_upper, mu, mu_lower, mu_upper, failure, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("failed to prepare fit insert: %w", err)
	}
	defer stmt.Close()

	created := formatTime(s.now())
	for i, r := range results {
		counts, err := json.Marshal(r.Counts)
		if err != nil {
			return fmt.Errorf("failed to marshal counts: %w", err)
		}
		var m, mLo, mHi, mu, muLo, muHi sql.NullFloat64
		if e := r.Estimate; e != nil {
			m, mLo, mHi = nullFloat(e.M), nullFloat(e.MCI.Lower), nullFloat(e.MCI.Upper)
			mu, muLo, muHi = nullFloat(e.Mu), nullFloat(e.MuCI.Lower), nullFloat(e.MuCI.Upper)
		}
		if _, err := stmt.ExecContext(ctx,
			runID, next+i, r.Mutant.String(), r.Model.String(), r.W, r.Nt, boolToInt(r.UpperBound), string(counts),
			m, mLo, mHi, mu, muLo, muHi, nullString(r.Failure), created); err != nil {
			return fmt.Errorf("failed to insert fit %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// LoadResults implements Archive.
func (s *SQLStore) LoadResults(ctx context.Context, runID string) ([]assay.Result, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, s.d.rebind(`
		SELECT mutant, model, w, nt, upper_bound, counts,
			m, m_lower, m_upper, mu, mu_lower, mu_upper, failure
		FROM fits WHERE run_id = ? ORDER BY seq`), runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query fits: %w", err)
	}
	defer rows.Close()

	results := []assay.Result{}
	for rows.Next() {
		var r assay.Result
		var mutant, model, counts string
		var upper int
		var m, mLo, mHi, mu, muLo, muHi sql.NullFloat64
		var failure sql.NullString
		if err := rows.Scan(&mutant, &model, &r.W, &r.Nt, &upper, &counts,
			&m, &mLo, &mHi, &mu, &muLo, &muHi, &failure); err != nil {
			return nil, fmt.Errorf("failed to scan fit: %w", err)
		}
		if r.Mutant, err = assay.ParseMutantClass(mutant); err != nil {
			return nil, err
		}
		if r.Model, err = assay.ParseModel(model); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(counts), &r.Counts); err != nil {
			return nil, fmt.Errorf("failed to parse counts: %w", err)
		}
		r.UpperBound = upper != 0
		r.Failure = failure.String
		if m.Valid {
			r.Estimate = &assay.Estimate{
				M:    m.Float64,
				MCI:  estimator.Interval{Lower: mLo.Float64, Upper: mHi.Float64},
				Mu:   mu.Float64,
				MuCI: estimator.Interval{Lower: muLo.Float64, Upper: muHi.Float64},
			}
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) runExists(ctx context.Context, tx *sql.Tx, runID string) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, s.d.rebind(`SELECT 1 FROM runs WHERE run_id = ?`), runID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up run: %w", err)
	}
	return true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	var seed, state, created string
	var cleanup int
	if err := row.Scan(&r.RunID, &r.Scenario, &seed,
		&r.Params.MonosomeFitness, &r.Params.MonosomeRate, &r.Params.RevertRate, &r.Params.Ploidy,
		&r.TargetSize, &r.Replicates, &cleanup, &r.MaxGenerations, &state, &created, &r.Fits); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	var err error
	if r.Seed, err = parseSeed(seed); err != nil {
		return nil, err
	}
	if r.FounderState, err = lineage.ParseState(state); err != nil {
		return nil, err
	}
	if r.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return nil, fmt.Errorf("failed to parse created_at %q: %w", created, err)
	}
	r.Cleanup = cleanup != 0
	return &r, nil
}

// Helper functions

func formatSeed(seed uint64) string {
	return strconv.FormatUint(seed, 10)
}

func parseSeed(s string) (uint64, error) {
	seed, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid stored seed %q: %w", s, err)
	}
	return seed, nil
}

// timeLayout has a fixed-width fraction so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullFloat(f float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: f, Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
