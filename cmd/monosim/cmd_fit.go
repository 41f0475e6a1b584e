package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nvandessel/monosim/internal/archive"
	"github.com/nvandessel/monosim/internal/assay"
	"github.com/nvandessel/monosim/internal/blob"
	"github.com/nvandessel/monosim/internal/constants"
	"github.com/nvandessel/monosim/internal/population"
	"github.com/nvandessel/monosim/internal/snapshot"
	"github.com/nvandessel/monosim/internal/tableprint"
)

func newFitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fit <run-id>",
		Short: "Estimate mutation rates for an archived run",
		Long: `Run the fluctuation assay over the replicates of a run: for every mutant
class and model, estimate the expected number of mutations per culture (m)
with a 95% likelihood-ratio interval, and the rate mu = m/Nt.

Reports come from the archive, or from the run's snapshots in the blob store
with --snapshots. Results are appended to the run's fit history.

Examples:
  monosim fit 3f1c7c8e-8d5e-4f0a-9d59-1b1f4b7b2a10
  monosim fit <run-id> --mutant revert --model MK --fitness-weight 0.5
  monosim fit <run-id> --snapshots --no-save --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := args[0]
			jsonOut, _ := cmd.Flags().GetBool("json")
			fromSnapshots, _ := cmd.Flags().GetBool("snapshots")
			noSave, _ := cmd.Flags().GetBool("no-save")
			ctx := cmd.Context()

			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			arc, err := e.openArchive(ctx)
			if err != nil {
				return err
			}
			defer arc.Close()

			var reports []population.Report
			if fromSnapshots {
				store, err := e.openBlobs(ctx)
				if err != nil {
					return err
				}
				reports, err = loadSnapshotReports(ctx, store, runID)
				if err != nil {
					return err
				}
			} else if reports, err = arc.LoadReports(ctx, runID); err != nil {
				return err
			}

			results, err := fitReports(cmd, e, reports)
			if err != nil {
				return err
			}

			saved := false
			if !noSave {
				err := arc.SaveResults(ctx, runID, results)
				switch {
				case err == nil:
					saved = true
				case errors.Is(err, archive.ErrRunNotFound):
					e.logger.Warn("run is not archived, fits not saved", "run_id", runID)
				default:
					return fmt.Errorf("failed to archive fits: %w", err)
				}
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
					"run_id":     runID,
					"replicates": len(reports),
					"results":    results,
					"saved":      saved,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Run %s: %d replicates\n\n", runID, len(reports))
			return renderResults(cmd.OutOrStdout(), results)
		},
	}

	cmd.Flags().Bool("snapshots", false, "Read reports from the blob store instead of the archive")
	cmd.Flags().StringSlice("mutant", nil, "Mutant classes to fit: monosome, revert (default from config)")
	cmd.Flags().StringSlice("model", nil, "Models to fit: LD, MK (default from config)")
	cmd.Flags().Float64("fitness-weight", 0, "MK weight (default: the run's monosome fitness)")
	cmd.Flags().Int("max-iter", 0, "Newton iteration limit (default from config)")
	cmd.Flags().Bool("no-save", false, "Do not append the fits to the archive")

	return cmd
}

// fitReports fits every requested mutant class and model over reports.
// Commands without the fit flags get the config values.
func fitReports(cmd *cobra.Command, e *env, reports []population.Report) ([]assay.Result, error) {
	ac := e.cfg.Assay
	flags := cmd.Flags()
	mutants, models, weight, maxIter := ac.Mutants, ac.Models, ac.FitnessWeight, ac.MaxIter
	if flags.Changed("mutant") {
		mutants, _ = flags.GetStringSlice("mutant")
	}
	if flags.Changed("model") {
		models, _ = flags.GetStringSlice("model")
	}
	if flags.Changed("fitness-weight") {
		weight, _ = flags.GetFloat64("fitness-weight")
	}
	if flags.Changed("max-iter") {
		maxIter, _ = flags.GetInt("max-iter")
	}

	a, err := assay.New(reports,
		assay.WithMaxIter(maxIter),
		assay.WithLogger(e.logger),
		assay.WithEvents(e.events),
		assay.WithMetrics(e.metrics),
	)
	if err != nil {
		return nil, err
	}

	var fitOpts []assay.FitOption
	if weight > 0 {
		fitOpts = append(fitOpts, assay.WithFitnessWeight(weight))
	}
	for _, ms := range mutants {
		class, err := assay.ParseMutantClass(ms)
		if err != nil {
			return nil, err
		}
		for _, name := range models {
			model, err := assay.ParseModel(name)
			if err != nil {
				return nil, err
			}
			if _, err := a.Fit(class, model, fitOpts...); err != nil {
				return nil, err
			}
		}
	}
	return a.Results(), nil
}

// loadSnapshotReports decodes every snapshot stored under runID, in key
// order.
func loadSnapshotReports(ctx context.Context, store blob.Store, runID string) ([]population.Report, error) {
	infos, err := store.List(ctx, runID+"/")
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	var reports []population.Report
	for _, info := range infos {
		if !strings.HasSuffix(info.Key, constants.SnapshotExt) {
			continue
		}
		_, rc, err := store.Get(ctx, info.Key)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s: %w", info.Key, err)
		}
		s, err := snapshot.Decode(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", info.Key, err)
		}
		reports = append(reports, s.Report)
	}
	if len(reports) == 0 {
		return nil, fmt.Errorf("no snapshots found for run %s", runID)
	}
	return reports, nil
}

func renderResults(w io.Writer, results []assay.Result) error {
	tbl := tableprint.New("mutant", "model", "w", "m", "m 95% CI", "mu", "mu 95% CI", "note").AlignRight(2, 3, 5)
	for _, r := range results {
		note := ""
		if r.UpperBound {
			note = "upper bound (no mutants)"
		}
		if !r.Defined() {
			tbl.Append(r.Mutant, r.Model, fmt.Sprintf("%.3g", r.W), "-", "-", "-", "-", "failed: "+r.Failure)
			continue
		}
		est := r.Estimate
		tbl.Append(r.Mutant, r.Model, fmt.Sprintf("%.3g", r.W),
			fmt.Sprintf("%.4g", est.M), fmt.Sprintf("[%.4g, %.4g]", est.MCI.Lower, est.MCI.Upper),
			fmt.Sprintf("%.4g", est.Mu), fmt.Sprintf("[%.4g, %.4g]", est.MuCI.Lower, est.MuCI.Upper),
			note)
	}
	return tbl.Render(w)
}
