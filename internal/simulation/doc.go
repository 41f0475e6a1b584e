// Package simulation runs batches of independent replicate expansions: the
// parallel cultures of a fluctuation assay.
//
// A Scenario names the mutation parameters, the target size and how many
// replicates to grow. Runner.Run grows them one after another, each from a
// fresh founder with its own random stream derived from the batch seed, and
// returns a Batch of reports ready for the assay, the archive and snapshots.
//
// Usage:
//
//	r := simulation.NewRunner(simulation.WithLogger(logger))
//	batch, err := r.Run(ctx, simulation.Scenario{
//	    Name:       "wildtype-founder",
//	    Params:     lineage.Params{MonosomeFitness: 0.8, MonosomeRate: 1e-3, RevertRate: 1e-2, Ploidy: 2},
//	    TargetSize: 1 << 15,
//	    Replicates: 24,
//	    Seed:       42,
//	})
//
// The assertion helpers in this package check batch-level properties from
// tests in other packages.
package simulation
