// Package cli defines the command-line interface for ucirelay.
package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/codex-k8s/ucirelay/internal/config"
	"github.com/codex-k8s/ucirelay/internal/logging"
)

const (
	// defaultConfigPath is the default path to the profile configuration file.
	defaultConfigPath = "ucirelay.yaml"
)

// Options stores global CLI options shared between commands.
type Options struct {
	ConfigPath string
	Profile    string
	LogLevel   logging.Level
}

// Execute builds the root command, runs it with the provided args and logger, and returns any error.
func Execute(args []string, logger *slog.Logger) error {
	if logger == nil {
		logger = logging.NewLogger(os.Stderr, logging.LevelInfo)
	}

	rootOpts := &Options{
		ConfigPath: defaultConfigPath,
		LogLevel:   logging.LevelInfo,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand(rootOpts, logger)
	rootCmd.SetArgs(args)

	return rootCmd.ExecuteContext(ctx)
}

// newRootCommand constructs the root cobra.Command with global flags and subcommands.
func newRootCommand(opts *Options, logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ucirelay",
		Short:         "ucirelay tunes a UCI chess engine by relaying its traffic",
		Long:          "ucirelay starts a UCI chess engine, forwards all traffic verbatim and injects a profile of setoption commands as soon as the engine answers uciok.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			levelValue := cmd.Flag("log-level").Value.String()
			if !cmd.Flags().Changed("log-level") {
				if envOpts, err := config.OverridesFromEnv(nil); err == nil && envOpts.LogLevel != "" {
					levelValue = envOpts.LogLevel
				}
			}
			level, err := logging.ParseLevel(levelValue)
			if err != nil {
				return err
			}
			opts.LogLevel = level
			logger = logging.NewLogger(os.Stderr, level)
			cmd.SetContext(context.WithValue(cmd.Context(), loggerKey{}, logger))
			logger.Debug("logger initialized", "level", level.String())
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", defaultConfigPath, "Path to ucirelay.yaml profile file (optional)")
	cmd.PersistentFlags().StringVarP(&opts.Profile, "profile", "p", "", "Profile name (defaults to the file's default or "+config.DefaultProfile+")")
	cmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error); logs always go to stderr")

	cmd.AddCommand(
		newRunCommand(opts),
		newServeCommand(opts),
		newProfilesCommand(opts),
	)

	return cmd
}

// loggerKey is a private context key used to store a logger in command contexts.
type loggerKey struct{}

// LoggerFromContext extracts a logger from the context or falls back to a default logger.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return logging.NewLogger(os.Stderr, logging.LevelInfo)
	}
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return logging.NewLogger(os.Stderr, logging.LevelInfo)
}
