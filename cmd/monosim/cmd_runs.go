package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvandessel/monosim/internal/tableprint"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List archived runs",
		Long: `List the batches recorded in the archive, newest first.

Examples:
  monosim runs
  monosim runs show <run-id>
  monosim runs --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
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

			runs, err := arc.ListRuns(ctx)
			if err != nil {
				return err
			}
			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
					"runs":  runs,
					"count": len(runs),
				})
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs archived yet.")
				return nil
			}
			tbl := tableprint.New("run_id", "created", "scenario", "replicates", "target", "seed", "fits").AlignRight(3, 4, 6)
			for _, r := range runs {
				tbl.Append(r.RunID, r.CreatedAt.Local().Format(time.DateTime), r.Scenario, r.Replicates, r.TargetSize, r.Seed, r.Fits)
			}
			return tbl.Render(cmd.OutOrStdout())
		},
	}
	cmd.AddCommand(newRunsShowCmd())
	return cmd
}

func newRunsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run's scenario and fit history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
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

			run, err := arc.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			results, err := arc.LoadResults(ctx, run.RunID)
			if err != nil {
				return err
			}
			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
					"run":     run,
					"results": results,
				})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run:        %s\n", run.RunID)
			fmt.Fprintf(out, "Created:    %s\n", run.CreatedAt.Local().Format(time.DateTime))
			fmt.Fprintf(out, "Scenario:   %s\n", valueOrDefault(run.Scenario, "(unnamed)"))
			fmt.Fprintf(out, "Seed:       %d\n", run.Seed)
			fmt.Fprintf(out, "Replicates: %d x %d cells (founder %s)\n", run.Replicates, run.TargetSize, run.FounderState)
			fmt.Fprintf(out, "Params:     fitness=%g monosome_rate=%g revert_rate=%g ploidy=%d\n",
				run.Params.MonosomeFitness, run.Params.MonosomeRate, run.Params.RevertRate, run.Params.Ploidy)
			if len(results) == 0 {
				fmt.Fprintln(out, "\nNo fits yet. Run: monosim fit", run.RunID)
				return nil
			}
			fmt.Fprintln(out)
			return renderResults(out, results)
		},
	}
}

func valueOrDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
