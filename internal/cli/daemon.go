package cli

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/chainrelay/internal/control"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Follow the chain and deliver events until interrupted",
	Args:  exactArgs(0),
	RunE:  runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		// Fall back to default logger for config load errors
		stylelog.InitDefault()
		return err
	}
	setupLogging(cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	relay, err := control.NewRelay(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}

	slog.Info("Relay started", "config", cfgPath)
	if err := relay.Run(ctx); err != nil {
		return err
	}
	slog.Info("Relay stopped")
	return nil
}
