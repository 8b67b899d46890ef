// Package watcher schedules package-change collection cycles.
//
// A Watcher runs one cycle at startup, then one per interval. When the rpm
// database directory is watched, installs and removals also trigger a cycle
// once the database has been quiet for the debounce period. Cycles never
// overlap; triggers that arrive while a cycle is running collapse into a
// single follow-up cycle.
//
// Key features:
//   - Interval scheduling with an fsnotify trigger on /var/lib/rpm
//   - Optional prometheus /metrics endpoint
//   - Daemon mode support with PID file management
//   - Graceful shutdown with SIGTERM/SIGINT handling
//
// Example usage:
//
//	c := collector.New(collector.Options{...})
//	w, err := watcher.New(c, watcher.Options{
//		Interval: 5 * time.Minute,
//		DBPath:   "/var/lib/rpm",
//		Debounce: 10 * time.Second,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	// Run in foreground until ctx is cancelled
//	if err := w.Run(ctx); err != nil {
//		log.Fatal(err)
//	}
//
//	// Or start as daemon
//	if err := watcher.StartDaemon("/var/lib/rpmannotate/watch.pid", "/var/lib/rpmannotate/watch.log"); err != nil {
//		log.Fatal(err)
//	}
package watcher
