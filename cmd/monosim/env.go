package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nvandessel/monosim/internal/archive"
	"github.com/nvandessel/monosim/internal/blob"
	"github.com/nvandessel/monosim/internal/config"
	"github.com/nvandessel/monosim/internal/constants"
	"github.com/nvandessel/monosim/internal/logging"
	"github.com/nvandessel/monosim/internal/metrics"
)

// env is what a command needs after flags and config are resolved.
type env struct {
	cfg        *config.MonosimConfig
	configPath string
	dataDir    string
	logger     *slog.Logger
	events     *logging.EventLogger
	metrics    *metrics.Recorder
}

// loadEnv resolves the config file, applies --log-level and sets up logging
// and metrics.
func loadEnv(cmd *cobra.Command) (*env, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadPath(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	dataDir, err := config.DataDir()
	if err != nil {
		return nil, err
	}
	if path == "" {
		path = filepath.Join(dataDir, constants.ConfigFileName)
	}
	logDir := cfg.Logging.Dir
	if logDir == "" {
		logDir = dataDir
	}

	return &env{
		cfg:        cfg,
		configPath: path,
		dataDir:    dataDir,
		logger:     logging.NewLogger(cfg.Logging.Level, cmd.ErrOrStderr()),
		events:     logging.NewEventLogger(logDir, cfg.Logging.Level),
		metrics:    metrics.New(),
	}, nil
}

func (e *env) openArchive(ctx context.Context) (archive.Archive, error) {
	a, err := archive.Open(ctx, e.cfg.Storage.Archive, e.dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive (%s %s): %w",
			e.cfg.Storage.Archive.Driver, e.cfg.Storage.Archive.RedactedDSN(), err)
	}
	return a, nil
}

func (e *env) openBlobs(ctx context.Context) (blob.Store, error) {
	s, err := blob.Open(ctx, e.cfg.Storage.Blob, e.dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open blob store: %w", err)
	}
	return s, nil
}

// close flushes the event log and the metrics textfile.
func (e *env) close() {
	e.events.Close()
	if path := e.cfg.Metrics.Textfile; path != "" {
		if err := e.metrics.WriteTextfile(path); err != nil {
			e.logger.Warn("failed to write metrics textfile", "path", path, "error", err)
		}
	}
}
