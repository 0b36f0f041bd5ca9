// Package cli implements the chainrelay command line.
package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/chainrelay/internal/core/config"
	"github.com/vietddude/chainrelay/internal/core/domain"
)

// Process exit codes.
const (
	ExitOK     = 0
	ExitConfig = 1
	ExitFatal  = 2
)

var (
	cfgPath string
	isDebug bool
)

var rootCmd = &cobra.Command{
	Use:   "chainrelay",
	Short: "Chain event relay",
	Long: `chainrelay follows a ledger node's chain, waits until blocks are final,
turns them into events and delivers those to a sink, resuming from a durable
cursor after restarts.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          noSubcommand,
	RunE:          showHelp,
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	err := rootCmd.Execute()
	if err != nil {
		slog.Error("chainrelay failed", "error", err)
	}
	return ExitCode(err)
}

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, domain.ErrConfig):
		return ExitConfig
	default:
		return ExitFatal
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", domain.ErrConfig, err)
	})
}

// noSubcommand rejects an unknown subcommand of a command group as a
// usage error.
func noSubcommand(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return nil
	}
	msg := fmt.Sprintf("unknown command %q for %q", args[0], cmd.CommandPath())
	if s := cmd.SuggestionsFor(args[0]); len(s) > 0 {
		msg += fmt.Sprintf(", did you mean %q?", s[0])
	}
	return fmt.Errorf("%w: %s", domain.ErrConfig, msg)
}

func showHelp(cmd *cobra.Command, _ []string) error {
	return cmd.Help()
}

// exactArgs is cobra.ExactArgs reporting usage mistakes as configuration
// errors.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrConfig, err)
		}
		return nil
	}
}

// loadConfig reads .env and the config file.
func loadConfig() (*config.AppConfig, error) {
	_ = godotenv.Load()
	return config.Load(cfgPath)
}

func setupLogging(level string) {
	slogLevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn", "warning":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	}
	if isDebug {
		slogLevel = slog.LevelDebug
	}

	stylelog.InitDefault(&tint.Options{
		Level:      slogLevel,
		TimeFormat: time.RFC3339,
	})
}
