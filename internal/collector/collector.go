// Package collector runs one package-change collection cycle: load the
// prior snapshot, enumerate installed packages, diff, emit one annotation
// and persist the current snapshot.
//
// A cycle never panics and never returns an error on its own; everything
// that went wrong is classified and recorded in the returned Outcome.
package collector

import (
	"context"
	"errors"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"

	"github.com/blackwell-systems/rpmannotate/internal/annotate"
	apperrors "github.com/blackwell-systems/rpmannotate/internal/errors"
	rlog "github.com/blackwell-systems/rpmannotate/internal/log"
	"github.com/blackwell-systems/rpmannotate/internal/rpm"
	"github.com/blackwell-systems/rpmannotate/internal/snapshot"
	"github.com/blackwell-systems/rpmannotate/internal/store"
)

// Emitter sends the rendered annotation text. annotate.Emitter implements it.
type Emitter interface {
	Emit(ctx context.Context, text string) (bool, error)
}

// Journal records finished cycles. store.DB implements it.
type Journal interface {
	RecordCycle(ctx context.Context, rec *store.CycleRecord, retain int) error
}

// Options wires a Collector. Source, Store and Emitter are required.
type Options struct {
	Source  rpm.Source
	Store   store.Store
	Emitter Emitter

	// Journal, when set, receives one record per cycle, pruned to Retain rows.
	Journal Journal
	Retain  int

	// LockFile guards against concurrent cycles across processes.
	// Empty disables locking.
	LockFile string

	Metrics *Metrics
	Logger  log.Interface

	// DryRun diffs and renders but neither emits nor persists.
	DryRun bool
}

// Collector runs collection cycles.
type Collector struct {
	opts   Options
	logger log.Interface
	now    func() time.Time
}

// New returns a Collector.
func New(opts Options) *Collector {
	return &Collector{
		opts:   opts,
		logger: rlog.OrDiscard(opts.Logger),
		now:    time.Now,
	}
}

// RunCycle runs one cycle to completion.
func (c *Collector) RunCycle(ctx context.Context) *Outcome {
	out := &Outcome{
		ID:        uuid.NewString(),
		StartedAt: c.now(),
		DryRun:    c.opts.DryRun,
	}
	logger := c.logger.WithField("cycle", out.ID)
	defer c.finish(ctx, out, logger)

	lock, err := acquireLock(c.opts.LockFile)
	if err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeBusy) {
			out.State = StateBusy
			out.Errors = append(out.Errors, err)
			return out
		}
		c.abort(out, logger, err, apperrors.ErrCodePersistence, "cannot take cycle lock")
		return out
	}
	defer lock.release()

	prior, err := c.opts.Store.Load(ctx)
	switch {
	case errors.Is(err, store.ErrNoSnapshot):
		c.bootstrap(ctx, out, logger)
		return out
	case err != nil:
		c.abort(out, logger, err, apperrors.ErrCodePersistence, "prior snapshot unreadable, skipping cycle")
		return out
	}

	current, err := c.opts.Source.Snapshot(ctx)
	if err != nil {
		c.abort(out, logger, err, apperrors.ErrCodePackageSource, "package enumeration failed, skipping cycle")
		return out
	}
	out.Installed = len(current)

	res := snapshot.Diff(current, prior)
	out.Added = len(res.Added)
	out.Removed = len(res.Removed)
	out.Changed = len(res.Changed)
	out.Unchanged = len(res.Unchanged)

	out.Lines = annotate.Render(res, current, prior, logger)
	out.Text = annotate.Text(out.Lines)
	out.State = StateCompleted

	if c.opts.DryRun {
		return out
	}

	emitted, err := c.opts.Emitter.Emit(ctx, out.Text)
	if err != nil {
		err = classify(err, apperrors.ErrCodeSink)
		logger.WithError(err).WithField("code", apperrors.CodeOf(err)).Error("annotation not delivered")
		out.Errors = append(out.Errors, err)
	}
	out.Emitted = emitted

	c.persist(ctx, out, logger, current)
	return out
}

func (c *Collector) bootstrap(ctx context.Context, out *Outcome, logger log.Interface) {
	logger.Info("no prior snapshot, recording baseline")

	current, err := c.opts.Source.Snapshot(ctx)
	if err != nil {
		c.abort(out, logger, err, apperrors.ErrCodePackageSource, "package enumeration failed, baseline not recorded")
		return
	}
	out.Installed = len(current)
	out.Unchanged = len(current)
	out.State = StateBootstrapped

	if c.opts.DryRun {
		return
	}
	c.persist(ctx, out, logger, current)
}

func (c *Collector) persist(ctx context.Context, out *Outcome, logger log.Interface, current snapshot.Snapshot) {
	if err := c.opts.Store.Save(ctx, current); err != nil {
		err = classify(err, apperrors.ErrCodePersistence)
		logger.WithError(err).WithField("code", apperrors.CodeOf(err)).Error("snapshot not saved")
		out.Errors = append(out.Errors, err)
		return
	}
	out.Persisted = true
}

func (c *Collector) abort(out *Outcome, logger log.Interface, err error, code apperrors.ErrorCode, msg string) {
	err = classify(err, code)
	out.State = StateAborted
	out.Errors = append(out.Errors, err)
	logger.WithError(err).WithField("code", apperrors.CodeOf(err)).Error(msg)
}

func (c *Collector) finish(ctx context.Context, out *Outcome, logger log.Interface) {
	out.FinishedAt = c.now()

	c.opts.Metrics.Observe(out)

	if c.opts.Journal != nil {
		jctx := context.WithoutCancel(ctx)
		if err := c.opts.Journal.RecordCycle(jctx, out.Record(), c.opts.Retain); err != nil {
			logger.WithError(err).Warn("cycle not journaled")
		}
	}

	entry := logger.WithFields(log.Fields{
		"state":     out.State,
		"added":     out.Added,
		"removed":   out.Removed,
		"changed":   out.Changed,
		"emitted":   out.Emitted,
		"persisted": out.Persisted,
		"dry_run":   out.DryRun,
		"duration":  out.Duration().String(),
	})
	switch out.State {
	case StateBusy:
		entry.Warn("cycle skipped, lock held")
	case StateAborted:
		entry.Warn("cycle aborted")
	default:
		entry.Info("cycle finished")
	}
}

// classify ensures err carries a code, wrapping it with def if it has none.
func classify(err error, def apperrors.ErrorCode) error {
	if apperrors.CodeOf(err) != "" {
		return err
	}
	return apperrors.Wrap(def, "cycle step failed", err)
}
