package app

import (
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/blackwell-systems/rpmannotate/internal/output"
	"github.com/blackwell-systems/rpmannotate/internal/watcher"
)

var (
	watchDaemon      bool
	watchDaemonChild bool
	watchStop        bool

	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Run collection cycles on a schedule and on rpm transactions",
		Long: `Run collection cycles continuously.

A cycle runs at startup, then every watch.interval (default 5m). With
watch.rpmdb enabled (the default) the rpm database directory is watched as
well, and a cycle runs shortly after each install, upgrade or removal.
Cycles never overlap, and a lock file keeps 'rpmannotate run' from cron
from racing the watcher.

Watch modes:
  • Foreground (default): Run in current terminal with Ctrl+C to stop
  • Daemon: Run as background process
  • Stop: Stop a running daemon

Set metrics.listen (e.g. ":9465") to serve prometheus metrics on /metrics.`,
		Example: `  # Run in foreground (Ctrl+C to stop)
  rpmannotate watch

  # Run as background daemon
  rpmannotate watch --daemon

  # Stop running daemon
  rpmannotate watch --stop

  # Poll every minute, custom PID and log files
  rpmannotate watch --daemon --interval 1m --pid-file /run/rpmannotate.pid --log-file /var/log/rpmannotate.log`,
		Args: cobra.NoArgs,
		RunE: runWatch,
	}
)

func init() {
	watchCmd.Flags().BoolVar(&watchDaemon, "daemon", false, "run as background daemon")
	watchCmd.Flags().BoolVar(&watchDaemonChild, "daemon-child", false, "internal flag for daemon child process")
	watchCmd.Flags().BoolVar(&watchStop, "stop", false, "stop running daemon")
	watchCmd.Flags().Duration("interval", 0, "time between scheduled cycles (default: watch.interval, 5m)")
	watchCmd.Flags().String("pid-file", "", "PID file path (default: <state_dir>/watch.pid)")
	watchCmd.Flags().String("log-file", "", "log file path (default: <state_dir>/watch.log)")

	// Hide the internal daemon-child flag from help
	watchCmd.Flags().MarkHidden("daemon-child")
}

func runWatch(cmd *cobra.Command, args []string) error {
	if watchStop {
		return stopWatchDaemon(cmd)
	}

	if watchDaemon {
		return startWatchDaemon(cmd)
	}

	d, err := buildDeps(cfg, logger, false)
	if err != nil {
		return err
	}
	defer d.Close()

	w, err := newWatcher(d)
	if err != nil {
		return err
	}

	if watchDaemonChild {
		// stdout/stderr are redirected to the log file by the parent.
		return w.RunDaemon(cmd.Context(), cfg.Watch.PIDFile)
	}

	return runWatchForeground(cmd, w)
}

func newWatcher(d *runtimeDeps) (*watcher.Watcher, error) {
	opts := watcher.Options{
		Interval:      cfg.Watch.Interval,
		Debounce:      cfg.Watch.Debounce,
		MetricsListen: cfg.Metrics.Listen,
		Gatherer:      d.Registry,
		Logger:        logger,
	}
	if cfg.Watch.RPMDB {
		opts.DBPath = cfg.Source.DBPath
	}

	w, err := watcher.New(d.Collector, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	return w, nil
}

func stopWatchDaemon(cmd *cobra.Command) error {
	running, err := watcher.IsDaemonRunning(cfg.Watch.PIDFile)
	if err != nil {
		return fmt.Errorf("failed to check daemon status: %w", err)
	}

	if !running {
		fmt.Fprintln(cmd.OutOrStdout(), "Daemon is not running")
		return nil
	}

	spinner := output.NewSpinner("Stopping daemon")
	spinner.SetWriter(cmd.OutOrStdout())
	if err := watcher.StopDaemon(cfg.Watch.PIDFile); err != nil {
		spinner.Stop()
		return fmt.Errorf("failed to stop daemon: %w", err)
	}
	spinner.StopWithMessage("✓ Daemon stopped")

	return nil
}

func startWatchDaemon(cmd *cobra.Command) error {
	if err := ensureDir(filepath.Dir(cfg.Watch.LogFile)); err != nil {
		return err
	}

	spinner := output.NewSpinner("Starting daemon")
	spinner.SetWriter(cmd.OutOrStdout())
	if err := watcher.StartDaemon(cfg.Watch.PIDFile, cfg.Watch.LogFile, daemonChildArgs(cmd)...); err != nil {
		spinner.Stop()
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	spinner.StopWithMessage("✓ Daemon started")

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nPackage change watcher started\n")
	fmt.Fprintf(out, "  PID file: %s\n", cfg.Watch.PIDFile)
	fmt.Fprintf(out, "  Log file: %s\n", cfg.Watch.LogFile)
	fmt.Fprintf(out, "\nTo stop: rpmannotate watch --stop\n")

	return nil
}

// daemonChildArgs forwards the flags the user set to the daemon child, so it
// resolves the same configuration as the parent.
func daemonChildArgs(cmd *cobra.Command) []string {
	var args []string
	if cfgFile != "" {
		abs, err := filepath.Abs(cfgFile)
		if err != nil {
			abs = cfgFile
		}
		args = append(args, "--config", abs)
	}
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if _, ok := flagKeys[f.Name]; ok {
			args = append(args, "--"+f.Name, f.Value.String())
		}
	})
	return args
}

func runWatchForeground(cmd *cobra.Command, w *watcher.Watcher) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Watching for package changes every %s (press Ctrl+C to stop)...\n", cfg.Watch.Interval)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := w.Run(ctx); err != nil {
		return fmt.Errorf("watcher: %w", err)
	}

	fmt.Fprintln(out, "Watcher stopped")
	return nil
}
