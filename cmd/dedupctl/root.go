package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/timmy/storydedup/internal/config"
	"github.com/timmy/storydedup/internal/domain"
	"github.com/timmy/storydedup/internal/logger"
)

// Exit codes beyond the generic failure.
const (
	exitFailure       = 1
	exitDuplicate     = 2
	exitPartialCommit = 3
	exitConfiguration = 78
)

var (
	configPath   string
	outputFormat string
	logLevel     string

	cfg       *config.Config
	appLogger *logger.Logger
)

var rootCmd = &cobra.Command{
	Use:          "dedupctl",
	Short:        "Duplicate detection for generated story artifacts",
	SilenceUsage: true,
	Long: `dedupctl fingerprints story artifacts by their canonical key, compares their
embeddings against an index of accepted stories, and records every accepted
artifact in the dedup registry.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded

		logCfg := logger.ConfigFromEnv()
		logCfg.ServiceName = "dedupctl"
		logCfg.Level = cfg.Log.Level
		logCfg.Format = cfg.Log.Format
		logCfg.File = cfg.Log.File
		if logLevel != "" {
			logCfg.Level = logLevel
		}
		appLogger = logger.New(logCfg)
		logger.SetDefaultLogger(appLogger)

		switch outputFormat {
		case outputText, outputJSON, outputYAML:
		default:
			return fmt.Errorf("unknown output format %q (want text, json or yaml)", outputFormat)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default: ./config.yaml if present)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", outputText, "Output format: text, json or yaml")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
}

// Execute runs the root command and maps dedup errors to exit codes.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err == nil {
		return
	}

	red := color.New(color.FgRed, color.Bold).SprintFunc()
	fmt.Fprintf(os.Stderr, "%s %v\n", red("Error:"), err)
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrDuplicateDetected):
		return exitDuplicate
	case errors.Is(err, domain.ErrPersistenceInconsistency):
		return exitPartialCommit
	case errors.Is(err, domain.ErrConfiguration):
		return exitConfiguration
	default:
		return exitFailure
	}
}
