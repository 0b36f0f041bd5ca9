package cli

import (
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/chainrelay/internal/control"
	"github.com/vietddude/chainrelay/internal/core/cursor"
	"github.com/vietddude/chainrelay/internal/core/domain"
	"github.com/vietddude/chainrelay/internal/infra/storage"
)

var cursorCmd = &cobra.Command{
	Use:   "cursor",
	Short: "Inspect or override the stored resume point",
	Args:  noSubcommand,
	RunE:  showHelp,
}

var cursorShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored cursor",
	Args:  exactArgs(0),
	RunE:  runCursorShow,
}

var cursorResetCmd = &cobra.Command{
	Use:   "reset [slot] [hash]",
	Short: "Overwrite the stored cursor, backwards or forwards",
	Long: `Overwrite the stored cursor with the given point. The relay resumes from
the block after it on its next start. Stop the daemon first.`,
	Args: exactArgs(2),
	RunE: runCursorReset,
}

func init() {
	cursorCmd.AddCommand(cursorShowCmd, cursorResetCmd)
	rootCmd.AddCommand(cursorCmd)
}

func runCursorShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	repo, err := control.OpenCursor(ctx, cfg.Cursor)
	if err != nil {
		return err
	}
	defer func() {
		_ = repo.Close()
	}()

	out := cmd.OutOrStdout()
	stored, err := repo.Load(ctx)
	if errors.Is(err, storage.ErrCursorNotFound) {
		_, _ = fmt.Fprintln(out, "No cursor stored")
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCursorPersist, err)
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, "SLOT\tHASH\tUPDATED")
	_, _ = fmt.Fprintf(w, "%d\t%s\t%s\n", stored.Point.Slot, stored.Point.HashHex(), stored.UpdatedAt.Format(time.RFC3339))
	return w.Flush()
}

func runCursorReset(cmd *cobra.Command, args []string) error {
	slot, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid slot %q", domain.ErrConfig, args[0])
	}
	point, err := domain.NewPoint(slot, args[1])
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConfig, err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	repo, err := control.OpenCursor(ctx, cfg.Cursor)
	if err != nil {
		return err
	}
	defer func() {
		_ = repo.Close()
	}()

	if err := cursor.NewManager(repo).Reset(ctx, point); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Successfully reset cursor to %s\n", point.String())
	return nil
}
