package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nvandessel/monosim/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage monosim configuration",
		Long: `View and modify monosim configuration settings.

Configuration is stored in ~/.monosim/config.yaml unless --config is given.

Examples:
  monosim config list                                # Show all settings
  monosim config get simulation.replicates           # Get a specific setting
  monosim config set model.monosome_fitness 0.6      # Set a setting
  monosim config set storage.archive.dsn 'postgres://monosim:${PGPASSWORD}@db/runs'`,
	}

	cmd.AddCommand(
		newConfigListCmd(),
		newConfigGetCmd(),
		newConfigSetCmd(),
	)
	return cmd
}

func newConfigListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all configuration settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			// Redact the DSN before it is printed.
			redacted := *e.cfg
			redacted.Storage.Archive.DSN = e.cfg.Storage.Archive.RedactedDSN()

			out := cmd.OutOrStdout()
			if jsonOut {
				return json.NewEncoder(out).Encode(redacted)
			}
			data, err := yaml.Marshal(&redacted)
			if err != nil {
				return fmt.Errorf("failed to render config: %w", err)
			}
			fmt.Fprintf(out, "Configuration (%s):\n\n", e.configPath)
			_, err = out.Write(data)
			return err
		},
	}
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			key := args[0]
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			value, found := getConfigValue(e.cfg, key)
			out := cmd.OutOrStdout()
			if !found {
				if jsonOut {
					return json.NewEncoder(out).Encode(map[string]interface{}{
						"error": "key not found",
						"key":   key,
					})
				}
				return fmt.Errorf("unknown configuration key: %s", key)
			}

			if jsonOut {
				return json.NewEncoder(out).Encode(map[string]interface{}{
					"key":   key,
					"value": value,
				})
			}
			fmt.Fprintf(out, "%s = %v\n", key, value)
			return nil
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			key, value := args[0], args[1]

			// Environment overrides are not written back, so start from the
			// file alone.
			path, err := configFilePath(cmd)
			if err != nil {
				return err
			}
			cfg := config.Default()
			if _, statErr := os.Stat(path); statErr == nil {
				if cfg, err = config.LoadFromFile(path); err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
			}

			if err := setConfigValue(cfg, key, value); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid value for %s: %w", key, err)
			}
			if err := cfg.Save(path); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				return json.NewEncoder(out).Encode(map[string]interface{}{
					"status": "updated",
					"key":    key,
					"value":  value,
				})
			}
			fmt.Fprintf(out, "Set %s = %s\n", key, value)
			return nil
		},
	}
}

func configFilePath(cmd *cobra.Command) (string, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return path, nil
	}
	return config.DefaultPath()
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.MonosimConfig, key string) (interface{}, bool) {
	switch key {
	case "model.monosome_fitness":
		return cfg.Model.MonosomeFitness, true
	case "model.monosome_rate":
		return cfg.Model.MonosomeRate, true
	case "model.revert_rate":
		return cfg.Model.RevertRate, true
	case "model.ploidy":
		return cfg.Model.Ploidy, true
	case "simulation.target_size":
		return cfg.Simulation.TargetSize, true
	case "simulation.replicates":
		return cfg.Simulation.Replicates, true
	case "simulation.seed":
		return cfg.Simulation.Seed, true
	case "simulation.cleanup":
		return cfg.Simulation.Cleanup, true
	case "simulation.max_generations":
		return cfg.Simulation.MaxGenerations, true
	case "simulation.founder_state":
		return cfg.Simulation.FounderState, true
	case "assay.max_iter":
		return cfg.Assay.MaxIter, true
	case "assay.mutants":
		return strings.Join(cfg.Assay.Mutants, ","), true
	case "assay.models":
		return strings.Join(cfg.Assay.Models, ","), true
	case "assay.fitness_weight":
		return cfg.Assay.FitnessWeight, true
	case "storage.archive.driver":
		return cfg.Storage.Archive.Driver, true
	case "storage.archive.path":
		return cfg.Storage.Archive.Path, true
	case "storage.archive.dsn":
		return cfg.Storage.Archive.RedactedDSN(), true
	case "storage.blob.driver":
		return cfg.Storage.Blob.Driver, true
	case "storage.blob.root":
		return cfg.Storage.Blob.Root, true
	case "storage.blob.bucket":
		return cfg.Storage.Blob.Bucket, true
	case "storage.blob.region":
		return cfg.Storage.Blob.Region, true
	case "storage.blob.endpoint":
		return cfg.Storage.Blob.Endpoint, true
	case "storage.blob.prefix":
		return cfg.Storage.Blob.Prefix, true
	case "storage.blob.path_style":
		return cfg.Storage.Blob.PathStyle, true
	case "logging.level":
		return cfg.Logging.Level, true
	case "logging.dir":
		return cfg.Logging.Dir, true
	case "metrics.textfile":
		return cfg.Metrics.Textfile, true
	default:
		return nil, false
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.MonosimConfig, key, value string) error {
	var err error
	switch key {
	case "model.monosome_fitness":
		cfg.Model.MonosomeFitness, err = parseFloat(value)
	case "model.monosome_rate":
		cfg.Model.MonosomeRate, err = parseFloat(value)
	case "model.revert_rate":
		cfg.Model.RevertRate, err = parseFloat(value)
	case "model.ploidy":
		cfg.Model.Ploidy, err = parseInt(value)
	case "simulation.target_size":
		cfg.Simulation.TargetSize, err = parseInt(value)
	case "simulation.replicates":
		cfg.Simulation.Replicates, err = parseInt(value)
	case "simulation.seed":
		cfg.Simulation.Seed, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			err = fmt.Errorf("invalid seed: %s", value)
		}
	case "simulation.cleanup":
		cfg.Simulation.Cleanup, err = parseBool(value)
	case "simulation.max_generations":
		cfg.Simulation.MaxGenerations, err = parseInt(value)
	case "simulation.founder_state":
		cfg.Simulation.FounderState = value
	case "assay.max_iter":
		cfg.Assay.MaxIter, err = parseInt(value)
	case "assay.mutants":
		cfg.Assay.Mutants = splitList(value)
	case "assay.models":
		cfg.Assay.Models = splitList(value)
	case "assay.fitness_weight":
		cfg.Assay.FitnessWeight, err = parseFloat(value)
	case "storage.archive.driver":
		cfg.Storage.Archive.Driver = value
	case "storage.archive.path":
		cfg.Storage.Archive.Path = value
	case "storage.archive.dsn":
		cfg.Storage.Archive.DSN = value
	case "storage.blob.driver":
		cfg.Storage.Blob.Driver = value
	case "storage.blob.root":
		cfg.Storage.Blob.Root = value
	case "storage.blob.bucket":
		cfg.Storage.Blob.Bucket = value
	case "storage.blob.region":
		cfg.Storage.Blob.Region = value
	case "storage.blob.endpoint":
		cfg.Storage.Blob.Endpoint = value
	case "storage.blob.prefix":
		cfg.Storage.Blob.Prefix = value
	case "storage.blob.path_style":
		cfg.Storage.Blob.PathStyle, err = parseBool(value)
	case "logging.level":
		cfg.Logging.Level = value
	case "logging.dir":
		cfg.Logging.Dir = value
	case "metrics.textfile":
		cfg.Metrics.Textfile = value
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return err
}

func parseFloat(v string) (float64, error) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number: %s", v)
	}
	return f, nil
}

func parseInt(v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer: %s", v)
	}
	return n, nil
}

func parseBool(v string) (bool, error) {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid boolean: %s (use true or false)", v)
	}
	return b, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
