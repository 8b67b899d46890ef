package watcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/blackwell-systems/rpmannotate/internal/collector"
	rlog "github.com/blackwell-systems/rpmannotate/internal/log"
)

// CycleRunner runs one collection cycle. *collector.Collector implements it.
type CycleRunner interface {
	RunCycle(ctx context.Context) *collector.Outcome
}

// Options configures a Watcher.
type Options struct {
	// Interval between scheduled cycles.
	Interval time.Duration

	// DBPath is the rpm database directory to watch for changes.
	// Empty disables the filesystem trigger.
	DBPath string
	// Debounce is how long the rpm database must stay quiet before a
	// change triggers a cycle.
	Debounce time.Duration

	// MetricsListen is the address /metrics is served on. Empty disables it.
	MetricsListen string
	Gatherer      prometheus.Gatherer

	// OnCycle, when set, is called after every cycle.
	OnCycle func(*collector.Outcome)

	Logger log.Interface
}

// Watcher runs collection cycles on a schedule and whenever the rpm
// database changes. Cycles run one at a time on a single goroutine; triggers
// arriving during a cycle collapse into one follow-up cycle.
type Watcher struct {
	runner CycleRunner
	opts   Options
	logger log.Interface

	trigger chan struct{}

	mu       sync.Mutex
	started  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	fsw      *fsnotify.Watcher
	debounce *time.Timer
	metrics  *metricsServer
}

// New creates a new Watcher instance.
func New(runner CycleRunner, opts Options) (*Watcher, error) {
	if runner == nil {
		return nil, errors.New("cycle runner cannot be nil")
	}
	if opts.Interval <= 0 {
		return nil, errors.New("interval must be positive")
	}
	return &Watcher{
		runner:  runner,
		opts:    opts,
		logger:  rlog.OrDiscard(opts.Logger),
		trigger: make(chan struct{}, 1),
	}, nil
}

// Start runs a cycle immediately, then keeps running cycles on every tick
// and rpm database change until ctx is cancelled or Stop is called.
// Failure to watch the database or serve metrics is logged, not fatal.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return errors.New("watcher already started")
	}
	w.started = true

	ctx, w.cancel = context.WithCancel(ctx)

	if w.opts.DBPath != "" {
		if err := w.watchDB(ctx); err != nil {
			w.logger.WithError(err).WithField("path", w.opts.DBPath).
				Warn("cannot watch rpm database, falling back to interval only")
		}
	}

	if w.opts.MetricsListen != "" {
		srv, err := startMetricsServer(w.opts.MetricsListen, w.opts.Gatherer, w.logger)
		if err != nil {
			w.logger.WithError(err).WithField("listen", w.opts.MetricsListen).Warn("metrics endpoint disabled")
		} else {
			w.metrics = srv
		}
	}

	w.wg.Add(1)
	go w.loop(ctx)

	w.logger.WithFields(log.Fields{
		"interval": w.opts.Interval.String(),
		"rpmdb":    w.opts.DBPath,
	}).Info("watcher started")
	return nil
}

// Run starts the watcher and blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return w.Stop()
}

// Trigger requests a cycle as soon as the current one (if any) ends.
// Repeated triggers before that cycle starts are coalesced.
func (w *Watcher) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// Stop halts the watcher and waits for a running cycle to finish.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = false
	w.cancel()
	if w.debounce != nil {
		w.debounce.Stop()
	}
	fsw, srv := w.fsw, w.metrics
	w.fsw, w.metrics = nil, nil
	w.mu.Unlock()

	var errs []error
	if fsw != nil {
		errs = append(errs, fsw.Close())
	}
	if srv != nil {
		errs = append(errs, srv.shutdown())
	}

	w.wg.Wait()
	w.logger.Info("watcher stopped")
	return errors.Join(errs...)
}

// MetricsAddr returns the address metrics are served on, or "" if disabled.
func (w *Watcher) MetricsAddr() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.metrics == nil {
		return ""
	}
	return w.metrics.addr()
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	w.runCycle(ctx, "startup")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runCycle(ctx, "interval")
		case <-w.trigger:
			w.runCycle(ctx, "rpmdb")
		}
	}
}

func (w *Watcher) runCycle(ctx context.Context, reason string) {
	if ctx.Err() != nil {
		return
	}
	w.logger.WithField("reason", reason).Debug("starting cycle")
	out := w.runner.RunCycle(ctx)
	if w.opts.OnCycle != nil && out != nil {
		w.opts.OnCycle(out)
	}
}
