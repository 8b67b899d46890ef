package app

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/blackwell-systems/rpmannotate/internal/annotate"
	"github.com/blackwell-systems/rpmannotate/internal/output"
	"github.com/blackwell-systems/rpmannotate/internal/store"
	"github.com/blackwell-systems/rpmannotate/internal/watcher"
)

var (
	statusLimit int

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show watcher status, the saved snapshot and recent cycles",
		Long: `Display the current state of rpmannotate.

Shows:
  • Whether the watch daemon is running, and its PID
  • Where the package snapshot is saved, how many packages it holds and when
    it was written
  • The series annotations are written to
  • The most recent cycles from the journal`,
		Example: `  # Check status
  rpmannotate status

  # Show the last 50 cycles
  rpmannotate status -n 50`,
		Args: cobra.NoArgs,
		RunE: runStatus,
	}
)

func init() {
	statusCmd.Flags().IntVarP(&statusLimit, "limit", "n", 10, "number of recent cycles to show")
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	now := time.Now()

	if pid, ok := watcher.DaemonPID(cfg.Watch.PIDFile); ok {
		fmt.Fprintf(out, "Watcher:   running (PID %d)\n", pid)
	} else {
		fmt.Fprintf(out, "Watcher:   stopped (run 'rpmannotate watch --daemon' to start)\n")
	}

	fmt.Fprintf(out, "Series:    %s\n", annotate.SeriesName(cfg.Series.Prefix, cfg.Hostname()))
	describeSnapshot(cmd, out, now)

	fmt.Fprintln(out)
	if !cfg.Journal.Enabled {
		fmt.Fprintln(out, "Cycle journal disabled (journal.enabled: false).")
		return nil
	}
	if _, err := os.Stat(cfg.Journal.Path); errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(out, "No cycles recorded yet.")
		return nil
	}

	db, err := store.Open(cfg.Journal.Path)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer db.Close()

	records, err := db.RecentCycles(cmd.Context(), statusLimit)
	if err != nil {
		return err
	}
	fmt.Fprint(out, output.RenderCycleTable(records, now))
	return nil
}

// describeSnapshot prints the snapshot location, size and age. It reads the
// snapshot but never takes the cycle lock.
func describeSnapshot(cmd *cobra.Command, out io.Writer, now time.Time) {
	fmt.Fprintf(out, "Snapshot:  %s (%s)\n", cfg.Store.Path, cfg.Store.Backend)

	if _, err := os.Stat(cfg.Store.Path); errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(out, "           none saved yet; the next cycle records a baseline")
		return
	}

	var (
		st      store.Store
		savedAt time.Time
	)
	switch cfg.Store.Backend {
	case store.BackendSQLite:
		db, err := store.Open(cfg.Store.Path)
		if err != nil {
			fmt.Fprintf(out, "           unreadable: %v\n", err)
			return
		}
		defer db.Close()
		st = db
		savedAt, _ = db.SavedAt(cmd.Context())
	default:
		st = store.NewFileStore(cfg.Store.Path, logger)
		if fi, err := os.Stat(cfg.Store.Path); err == nil {
			savedAt = fi.ModTime()
		}
	}

	snap, err := st.Load(cmd.Context())
	switch {
	case errors.Is(err, store.ErrNoSnapshot):
		fmt.Fprintln(out, "           none saved yet; the next cycle records a baseline")
	case err != nil:
		fmt.Fprintf(out, "           unreadable: %v\n", err)
	default:
		fmt.Fprintf(out, "           %s packages, saved %s\n",
			humanize.Comma(int64(len(snap))), humanize.RelTime(savedAt, now, "ago", "from now"))
	}
}
