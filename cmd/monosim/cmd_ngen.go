package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvandessel/monosim/internal/constants"
	"github.com/nvandessel/monosim/internal/population"
)

func newNgenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ngen",
		Short: "Suggest generations and target size for a mutation rate",
		Long: `Compute how many doublings (and the matching target size) a culture needs
for about x mutations to be expected at the given rate.

Examples:
  monosim ngen --rate 1e-4
  monosim ngen --rate 0.001 --x 50 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			rate, _ := cmd.Flags().GetFloat64("rate")
			x, _ := cmd.Flags().GetFloat64("x")

			gens, err := population.GenerationsForRate(rate, x)
			if err != nil {
				return err
			}
			target, err := population.TargetForRate(rate, x)
			if err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
					"rate":        rate,
					"x":           x,
					"generations": gens,
					"target_size": target,
					"capped":      gens == population.MaxRateGenerations,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d generations, target size %d\n", gens, target)
			if gens == population.MaxRateGenerations {
				fmt.Fprintf(cmd.OutOrStdout(), "(capped at %d generations)\n", population.MaxRateGenerations)
			}
			return nil
		},
	}
	cmd.Flags().Float64("rate", 0, "Per-division mutation probability (required)")
	cmd.Flags().Float64("x", constants.DefaultExpectedMutations, "Expected number of mutations")
	_ = cmd.MarkFlagRequired("rate")
	return cmd
}
