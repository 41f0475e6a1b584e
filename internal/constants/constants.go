// Package constants provides named defaults used throughout monosim.
// This centralizes magic numbers shared by config, the runner and the CLI.
package constants

// Mutation model defaults.
const (
	// DefaultMonosomeFitness is the division probability of a monosome cell
	// per generation, relative to wildtype.
	DefaultMonosomeFitness = 0.8

	// DefaultMonosomeRate is the per-division probability that a daughter of
	// a non-monosome mother loses a chromosome copy.
	DefaultMonosomeRate = 1e-3

	// DefaultRevertRate is the per-division probability that a daughter of a
	// monosome mother regains the copy.
	DefaultRevertRate = 1e-2

	// DefaultPloidy is the chromosome copy number of a wildtype founder.
	DefaultPloidy = 2
)

// Simulation defaults.
const (
	// DefaultTargetSize is the final population size of one replicate.
	DefaultTargetSize = 1 << 15

	// DefaultReplicates is the number of independent cultures per run.
	DefaultReplicates = 24

	// DefaultExpectedMutations is the x in GenerationsForRate(rate, x): the
	// number of forward mutations a replicate should expect.
	DefaultExpectedMutations = 20.0
)

// Estimator defaults.
const (
	// DefaultMaxIter bounds every Newton iteration in the estimator.
	DefaultMaxIter = 100
)

// Storage layout.
const (
	// DataDirName is the per-user directory under $HOME.
	DataDirName = ".monosim"

	// ConfigFileName is the config file inside DataDirName.
	ConfigFileName = "config.yaml"

	// ArchiveFileName is the default SQLite archive inside DataDirName.
	ArchiveFileName = "runs.db"

	// SnapshotDirName is the default filesystem blob root inside DataDirName.
	SnapshotDirName = "snapshots"

	// SnapshotExt is the suffix of compressed replicate snapshots.
	SnapshotExt = ".snap.gz"
)
