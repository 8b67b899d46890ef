// Package annotate turns a snapshot diff into a dashboard annotation and
// hands it to a sink.
//
// One cycle produces at most one Event. Its text lists every added, removed
// and changed package, joined by Delimiter:
//
//	NEW RPM htop-3.2.1-1.el9, REMOVED RPM telnet-0.17-85.el9, RPM CHANGE FROM bash-5.1.8-4.el9 TO bash-5.1.8-6.el9
package annotate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/apex/log"

	apperrors "github.com/blackwell-systems/rpmannotate/internal/errors"
	rlog "github.com/blackwell-systems/rpmannotate/internal/log"
	"github.com/blackwell-systems/rpmannotate/internal/snapshot"
)

const (
	// Title is the title of every annotation event.
	Title = "RPM"
	// Delimiter separates rendered entries in the annotation text.
	Delimiter = ", "
	// seriesSuffix is the last path element of the annotation series.
	seriesSuffix = "rpm"
)

// Event is one annotation written to a series.
type Event struct {
	Series string
	Title  string
	Text   string
	Time   time.Time
}

// Sink accepts annotation events.
type Sink interface {
	Write(ctx context.Context, events []Event) error
}

// SeriesName builds the series an annotation is written to:
// "<prefix>.<host>.rpm". Dots in host are replaced with underscores so the
// host stays a single path element.
func SeriesName(prefix, host string) string {
	parts := make([]string, 0, 3)
	if prefix = strings.Trim(prefix, "."); prefix != "" {
		parts = append(parts, prefix)
	}
	if host = strings.ReplaceAll(host, ".", "_"); host != "" {
		parts = append(parts, host)
	}
	parts = append(parts, seriesSuffix)
	return strings.Join(parts, ".")
}

// Render produces one line per added, removed and changed package, in that
// order. A name whose value is missing from the snapshot it must come from is
// logged and skipped.
func Render(res snapshot.Result, current, prior snapshot.Snapshot, logger log.Interface) []string {
	logger = rlog.OrDiscard(logger)
	lines := make([]string, 0, len(res.Added)+len(res.Removed)+len(res.Changed))

	missing := func(kind, name, side string) {
		logger.WithFields(log.Fields{
			"package": name,
			"kind":    kind,
			"missing": side,
		}).Error("diff entry has no version-release, skipping")
	}

	for _, name := range res.Added {
		vr, ok := current[name]
		if !ok {
			missing("added", name, "current")
			continue
		}
		lines = append(lines, fmt.Sprintf("NEW RPM %s-%s", name, vr))
	}

	for _, name := range res.Removed {
		vr, ok := prior[name]
		if !ok {
			missing("removed", name, "prior")
			continue
		}
		lines = append(lines, fmt.Sprintf("REMOVED RPM %s-%s", name, vr))
	}

	for _, name := range res.Changed {
		former, okPrior := prior[name]
		latest, okCurrent := current[name]
		switch {
		case !okPrior:
			missing("changed", name, "prior")
			continue
		case !okCurrent:
			missing("changed", name, "current")
			continue
		}
		lines = append(lines, fmt.Sprintf("RPM CHANGE FROM %s-%s TO %s-%s", name, former, name, latest))
	}

	return lines
}

// Text joins rendered lines into the annotation text.
func Text(lines []string) string {
	return strings.Join(lines, Delimiter)
}

// Emitter writes a cycle's annotation to a Sink.
type Emitter struct {
	sink    Sink
	series  string
	timeout time.Duration
	now     func() time.Time
}

// NewEmitter returns an Emitter writing to series through sink. Each write is
// bounded by timeout; timeout <= 0 means the caller's context alone applies.
func NewEmitter(sink Sink, series string, timeout time.Duration) *Emitter {
	return &Emitter{
		sink:    sink,
		series:  series,
		timeout: timeout,
		now:     time.Now,
	}
}

// Emit sends text as a single event. Empty text sends nothing and reports
// false. Sink failures are returned as SINK errors.
func (e *Emitter) Emit(ctx context.Context, text string) (bool, error) {
	if text == "" {
		return false, nil
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	ev := Event{
		Series: e.series,
		Title:  Title,
		Text:   text,
		Time:   e.now(),
	}
	if err := e.sink.Write(ctx, []Event{ev}); err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeSink) {
			return false, err
		}
		return false, apperrors.WrapWithContext(apperrors.ErrCodeSink, "write annotation", err,
			map[string]any{"series": e.series})
	}
	return true, nil
}
