// Package config provides unified configuration loading for monosim.
// It supports loading from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nvandessel/monosim/internal/constants"
	"github.com/nvandessel/monosim/internal/lineage"
	"gopkg.in/yaml.v3"
)

// MonosimConfig contains all monosim configuration settings.
type MonosimConfig struct {
	// Model holds the mutation parameters given to every founder.
	Model lineage.Params `json:"model" yaml:"model"`

	// Simulation controls how replicates are grown.
	Simulation SimulationConfig `json:"simulation" yaml:"simulation"`

	// Assay controls which fits are made after a run.
	Assay AssayConfig `json:"assay" yaml:"assay"`

	// Storage configures the run archive and the snapshot blob store.
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Logging contains settings for operational and event logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Metrics configures the Prometheus textfile output.
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
}

// SimulationConfig configures a batch of replicates.
type SimulationConfig struct {
	TargetSize int    `json:"target_size" yaml:"target_size"`
	Replicates int    `json:"replicates" yaml:"replicates"`
	Seed       uint64 `json:"seed" yaml:"seed"`

	// Cleanup drops wildtype cells from memory after each replicate.
	Cleanup bool `json:"cleanup" yaml:"cleanup"`

	// MaxGenerations bounds each replicate (0 = unlimited).
	MaxGenerations int `json:"max_generations" yaml:"max_generations"`

	// FounderState is the founder's initial state: wildtype, monosome or
	// revert.
	FounderState string `json:"founder_state" yaml:"founder_state"`
}

// AssayConfig configures fluctuation-assay fits.
type AssayConfig struct {
	MaxIter int `json:"max_iter" yaml:"max_iter"`

	// Mutants lists the mutant classes to fit: monosome, revert.
	Mutants []string `json:"mutants" yaml:"mutants"`

	// Models lists the estimator models to fit: LD, MK.
	Models []string `json:"models" yaml:"models"`

	// FitnessWeight overrides the MK weight (0 = use the monosome fitness).
	FitnessWeight float64 `json:"fitness_weight,omitempty" yaml:"fitness_weight,omitempty"`
}

// StorageConfig configures persistence.
type StorageConfig struct {
	Archive ArchiveConfig `json:"archive" yaml:"archive"`
	Blob    BlobConfig    `json:"blob" yaml:"blob"`
}

// ArchiveConfig selects the run archive backend.
type ArchiveConfig struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver string `json:"driver" yaml:"driver"`

	// Path is the SQLite database file. Empty means ~/.monosim/runs.db.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// DSN is the Postgres connection string. Supports ${VAR} syntax.
	DSN string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}

// RedactedDSN returns the DSN with any password masked.
func (c ArchiveConfig) RedactedDSN() string {
	if c.DSN == "" {
		return ""
	}
	at := strings.LastIndex(c.DSN, "@")
	scheme := strings.Index(c.DSN, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return c.DSN
	}
	creds := c.DSN[scheme+3 : at]
	user, _, hasPass := strings.Cut(creds, ":")
	if !hasPass {
		return c.DSN
	}
	return c.DSN[:scheme+3] + user + ":***" + c.DSN[at:]
}

// BlobConfig selects the snapshot blob store.
type BlobConfig struct {
	// Driver is "fs" (default), "memory" or "s3".
	Driver string `json:"driver" yaml:"driver"`

	// Root is the filesystem root. Empty means ~/.monosim/snapshots.
	Root string `json:"root,omitempty" yaml:"root,omitempty"`

	Bucket    string `json:"bucket,omitempty" yaml:"bucket,omitempty"`
	Region    string `json:"region,omitempty" yaml:"region,omitempty"`
	Endpoint  string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Prefix    string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	PathStyle bool   `json:"path_style,omitempty" yaml:"path_style,omitempty"`
}

// LoggingConfig configures monosim's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	// "debug" enables the event log; "trace" adds one record per mutation.
	Level string `json:"level" yaml:"level"`

	// Dir holds events.jsonl. Empty means ~/.monosim.
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`
}

// MetricsConfig configures metrics output.
type MetricsConfig struct {
	// Textfile is written after each command when set, for the node
	// exporter textfile collector.
	Textfile string `json:"textfile,omitempty" yaml:"textfile,omitempty"`
}

// Default returns a MonosimConfig with sensible defaults.
func Default() *MonosimConfig {
	return &MonosimConfig{
		Model: lineage.Params{
			MonosomeFitness: constants.DefaultMonosomeFitness,
			MonosomeRate:    constants.DefaultMonosomeRate,
			RevertRate:      constants.DefaultRevertRate,
			Ploidy:          constants.DefaultPloidy,
		},
		Simulation: SimulationConfig{
			TargetSize:   constants.DefaultTargetSize,
			Replicates:   constants.DefaultReplicates,
			FounderState: "wildtype",
		},
		Assay: AssayConfig{
			MaxIter: constants.DefaultMaxIter,
			Mutants: []string{"monosome", "revert"},
			Models:  []string{"LD", "MK"},
		},
		Storage: StorageConfig{
			Archive: ArchiveConfig{Driver: "sqlite"},
			Blob:    BlobConfig{Driver: "fs"},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DataDir returns ~/.monosim.
func DataDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(homeDir, constants.DataDirName), nil
}

// DefaultPath returns ~/.monosim/config.yaml.
func DefaultPath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, constants.ConfigFileName), nil
}

// Load loads configuration from the default locations and environment variables.
// Order: defaults -> ~/.monosim/config.yaml -> environment variables
func Load() (*MonosimConfig, error) {
	config := Default()

	if configPath, err := DefaultPath(); err == nil {
		if _, statErr := os.Stat(configPath); statErr == nil {
			fileConfig, loadErr := LoadFromFile(configPath)
			if loadErr != nil {
				return nil, fmt.Errorf("loading config file: %w", loadErr)
			}
			config = fileConfig
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// LoadPath loads path (or the default locations when path is empty) and
// applies environment overrides.
func LoadPath(path string) (*MonosimConfig, error) {
	if path == "" {
		return Load()
	}
	config, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	applyEnvOverrides(config)
	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file.
func LoadFromFile(path string) (*MonosimConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	config.Storage.Archive.DSN = expandEnvVars(config.Storage.Archive.DSN)

	return config, nil
}

// Save writes the configuration as YAML, creating the parent directory.
func (c *MonosimConfig) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks that the configuration is valid.
func (c *MonosimConfig) Validate() error {
	if err := c.Model.Validate(); err != nil {
		return fmt.Errorf("model: %w", err)
	}

	if c.Simulation.TargetSize < 1 {
		return fmt.Errorf("target_size must be at least 1, got %d", c.Simulation.TargetSize)
	}
	if c.Simulation.Replicates < 1 {
		return fmt.Errorf("replicates must be at least 1, got %d", c.Simulation.Replicates)
	}
	if c.Simulation.MaxGenerations < 0 {
		return fmt.Errorf("max_generations must be non-negative, got %d", c.Simulation.MaxGenerations)
	}
	if _, err := lineage.ParseState(c.Simulation.FounderState); err != nil {
		return fmt.Errorf("founder_state: %w", err)
	}

	if c.Assay.MaxIter < 1 {
		return fmt.Errorf("max_iter must be positive, got %d", c.Assay.MaxIter)
	}
	if c.Assay.FitnessWeight < 0 {
		return fmt.Errorf("fitness_weight must be non-negative, got %v", c.Assay.FitnessWeight)
	}
	for _, m := range c.Assay.Mutants {
		if !validMutants[strings.ToLower(m)] {
			return fmt.Errorf("invalid mutant class: %s (valid: monosome, revert)", m)
		}
	}
	for _, m := range c.Assay.Models {
		if !validModels[strings.ToUpper(m)] {
			return fmt.Errorf("invalid model: %s (valid: LD, MK)", m)
		}
	}

	switch c.Storage.Archive.Driver {
	case "", "sqlite":
	case "postgres":
		if c.Storage.Archive.DSN == "" {
			return fmt.Errorf("postgres archive requires storage.archive.dsn")
		}
	default:
		return fmt.Errorf("invalid archive driver: %s (valid: sqlite, postgres)", c.Storage.Archive.Driver)
	}

	switch c.Storage.Blob.Driver {
	case "", "fs", "memory":
	case "s3":
		if c.Storage.Blob.Bucket == "" {
			return fmt.Errorf("s3 blob store requires storage.blob.bucket")
		}
	default:
		return fmt.Errorf("invalid blob driver: %s (valid: fs, memory, s3)", c.Storage.Blob.Driver)
	}

	validLevels := map[string]bool{"info": true, "debug": true, "trace": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: info, debug, trace, or empty for default)", c.Logging.Level)
	}

	return nil
}

var (
	validMutants = map[string]bool{"monosome": true, "revert": true, "revertant": true}
	validModels  = map[string]bool{"LD": true, "MK": true}
)

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(config *MonosimConfig) {
	if v := os.Getenv("MONOSIM_SEED"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			config.Simulation.Seed = n
		}
	}
	if v := os.Getenv("MONOSIM_TARGET_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Simulation.TargetSize = n
		}
	}
	if v := os.Getenv("MONOSIM_REPLICATES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Simulation.Replicates = n
		}
	}

	if v := os.Getenv("MONOSIM_ARCHIVE_DRIVER"); v != "" {
		config.Storage.Archive.Driver = v
	}
	if v := os.Getenv("MONOSIM_ARCHIVE_DSN"); v != "" {
		config.Storage.Archive.DSN = v
	}

	if v := os.Getenv("MONOSIM_BLOB_DRIVER"); v != "" {
		config.Storage.Blob.Driver = v
	}
	if v := os.Getenv("MONOSIM_S3_BUCKET"); v != "" {
		config.Storage.Blob.Bucket = v
	}
	if v := os.Getenv("MONOSIM_S3_ENDPOINT"); v != "" {
		config.Storage.Blob.Endpoint = v
	}
	// The AWS SDK reads AWS_REGION itself; mirror it so config list shows it.
	if config.Storage.Blob.Region == "" {
		config.Storage.Blob.Region = os.Getenv("AWS_REGION")
	}

	if v := os.Getenv("MONOSIM_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("MONOSIM_METRICS_TEXTFILE"); v != "" {
		config.Metrics.Textfile = v
	}
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
