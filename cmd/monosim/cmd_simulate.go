package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nvandessel/monosim/internal/archive"
	"github.com/nvandessel/monosim/internal/assay"
	"github.com/nvandessel/monosim/internal/blob"
	"github.com/nvandessel/monosim/internal/lineage"
	"github.com/nvandessel/monosim/internal/simulation"
	"github.com/nvandessel/monosim/internal/snapshot"
	"github.com/nvandessel/monosim/internal/tableprint"
)

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Grow a batch of replicate cultures",
		Long: `Grow replicate cultures from single founders until each reaches the target
size. Each replicate is written as a snapshot to the blob store and the batch
is recorded in the archive. Flags override the config file.

Examples:
  monosim simulate --replicates 48 --target 65536 --seed 7
  monosim simulate --monosome-rate 1e-4 --fitness 0.6 --fit
  monosim simulate --founder monosome --max-generations 40 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			sc, err := scenarioFromFlags(cmd, e)
			if err != nil {
				return err
			}
			noArchive, _ := cmd.Flags().GetBool("no-archive")
			noSnapshots, _ := cmd.Flags().GetBool("no-snapshots")
			fit, _ := cmd.Flags().GetBool("fit")
			ctx := cmd.Context()

			runner := simulation.NewRunner(
				simulation.WithLogger(e.logger),
				simulation.WithEvents(e.events),
				simulation.WithMetrics(e.metrics),
			)
			batch, err := runner.Run(ctx, sc)
			if err != nil {
				return fmt.Errorf("simulation failed: %w", err)
			}

			var keys []string
			if !noSnapshots {
				store, err := e.openBlobs(ctx)
				if err != nil {
					return err
				}
				if keys, err = writeSnapshots(cmd, store, batch); err != nil {
					return err
				}
			}

			var arc archive.Archive
			if !noArchive {
				if arc, err = e.openArchive(ctx); err != nil {
					return err
				}
				defer arc.Close()
				if err := arc.SaveBatch(ctx, batch); err != nil {
					return fmt.Errorf("failed to archive batch: %w", err)
				}
			}

			var results []assay.Result
			if fit {
				if results, err = fitReports(cmd, e, batch.Reports); err != nil {
					return err
				}
				if arc != nil {
					if err := arc.SaveResults(ctx, batch.RunID, results); err != nil {
						return fmt.Errorf("failed to archive fits: %w", err)
					}
				}
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
					"run_id":    batch.RunID,
					"seed":      batch.Seed,
					"scenario":  batch.Scenario,
					"reports":   batch.Reports,
					"snapshots": keys,
					"archived":  arc != nil,
					"fits":      results,
				})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run %s (seed %d, %d replicates to %d cells)\n\n",
				batch.RunID, batch.Seed, len(batch.Reports), sc.TargetSize)
			tbl := tableprint.New("replicate", "final", "gens", "m_monosome", "m_revert", "n_monosome", "n_revert", "n_total").
				AlignRight(0, 1, 2, 3, 4, 5, 6, 7)
			for _, r := range batch.Reports {
				tbl.Append(r.Replicate, r.FinalSize, r.Generations, r.MonosomeEventCount, r.RevertEventCount,
					r.LiveMonosome, r.LiveRevertant, r.LiveMutant)
			}
			if err := tbl.Render(out); err != nil {
				return err
			}
			if len(keys) > 0 {
				fmt.Fprintf(out, "\n%d snapshots written under %s/\n", len(keys), batch.RunID)
			}
			if len(results) > 0 {
				fmt.Fprintln(out)
				return renderResults(out, results)
			}
			return nil
		},
	}

	cmd.Flags().String("name", "", "Scenario name recorded in the archive")
	cmd.Flags().Int("replicates", 0, "Number of replicate cultures")
	cmd.Flags().Int("target", 0, "Target population size per replicate")
	cmd.Flags().Uint64("seed", 0, "Batch seed (0 = fresh entropy)")
	cmd.Flags().Float64("fitness", 0, "Monosome fitness (division probability)")
	cmd.Flags().Float64("monosome-rate", 0, "Per-division monosomy probability")
	cmd.Flags().Float64("revert-rate", 0, "Per-division reversion probability")
	cmd.Flags().Int("ploidy", 0, "Founder chromosome copies")
	cmd.Flags().String("founder", "", "Founder state: wildtype, monosome or revertant")
	cmd.Flags().Bool("cleanup", false, "Drop wildtype cells after each replicate")
	cmd.Flags().Int("max-generations", 0, "Abort a replicate after this many generations (0 = unlimited)")
	cmd.Flags().Bool("fit", false, "Fit the configured mutant classes and models after the run")
	cmd.Flags().Bool("no-archive", false, "Do not record the batch in the archive")
	cmd.Flags().Bool("no-snapshots", false, "Do not write replicate snapshots")

	return cmd
}

// scenarioFromFlags builds the scenario from config, overridden by any flag
// the user set.
func scenarioFromFlags(cmd *cobra.Command, e *env) (simulation.Scenario, error) {
	sim := e.cfg.Simulation
	sc := simulation.Scenario{
		Params:         e.cfg.Model,
		TargetSize:     sim.TargetSize,
		Replicates:     sim.Replicates,
		Seed:           sim.Seed,
		Cleanup:        sim.Cleanup,
		MaxGenerations: sim.MaxGenerations,
	}
	founder := sim.FounderState

	flags := cmd.Flags()
	if flags.Changed("name") {
		sc.Name, _ = flags.GetString("name")
	}
	if flags.Changed("replicates") {
		sc.Replicates, _ = flags.GetInt("replicates")
	}
	if flags.Changed("target") {
		sc.TargetSize, _ = flags.GetInt("target")
	}
	if flags.Changed("seed") {
		sc.Seed, _ = flags.GetUint64("seed")
	}
	if flags.Changed("fitness") {
		sc.Params.MonosomeFitness, _ = flags.GetFloat64("fitness")
	}
	if flags.Changed("monosome-rate") {
		sc.Params.MonosomeRate, _ = flags.GetFloat64("monosome-rate")
	}
	if flags.Changed("revert-rate") {
		sc.Params.RevertRate, _ = flags.GetFloat64("revert-rate")
	}
	if flags.Changed("ploidy") {
		sc.Params.Ploidy, _ = flags.GetInt("ploidy")
	}
	if flags.Changed("founder") {
		founder, _ = flags.GetString("founder")
	}
	if flags.Changed("cleanup") {
		sc.Cleanup, _ = flags.GetBool("cleanup")
	}
	if flags.Changed("max-generations") {
		sc.MaxGenerations, _ = flags.GetInt("max-generations")
	}

	state, err := lineage.ParseState(founder)
	if err != nil {
		return sc, err
	}
	sc.FounderState = state
	if err := sc.Validate(); err != nil {
		return sc, err
	}
	return sc, nil
}

// writeSnapshots stores one snapshot per replicate and returns their keys.
func writeSnapshots(cmd *cobra.Command, store blob.Store, b *simulation.Batch) ([]string, error) {
	keys := make([]string, 0, len(b.Reports))
	for _, r := range b.Reports {
		var buf bytes.Buffer
		if err := snapshot.Encode(&buf, snapshot.New(r)); err != nil {
			return nil, fmt.Errorf("failed to encode replicate %d: %w", r.Replicate, err)
		}
		key := snapshot.Key(b.RunID, r.Replicate)
		_, err := store.Put(cmd.Context(), key, &buf, blob.PutOptions{
			ContentType: "application/gzip",
			Metadata: map[string]string{
				"run_id":    b.RunID,
				"replicate": strconv.Itoa(r.Replicate),
				"seed":      strconv.FormatUint(r.Seed, 10),
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to store snapshot %s: %w", key, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}
