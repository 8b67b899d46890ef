package collector

import (
	"errors"
	"strings"
	"time"

	apperrors "github.com/blackwell-systems/rpmannotate/internal/errors"
	"github.com/blackwell-systems/rpmannotate/internal/store"
)

// State is the terminal state of a cycle.
type State string

const (
	// StateBootstrapped: no prior snapshot existed; the current one was saved
	// and nothing was annotated.
	StateBootstrapped State = "BOOTSTRAPPED"
	// StateCompleted: the cycle diffed, emitted (if anything changed) and
	// attempted to persist. Emit or persist failures are listed in Errors.
	StateCompleted State = "COMPLETED"
	// StateAborted: the prior snapshot or the package list could not be read.
	// Nothing was emitted or persisted.
	StateAborted State = "ABORTED"
	// StateBusy: another cycle held the lock.
	StateBusy State = "BUSY"
)

// Outcome describes one finished cycle.
type Outcome struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	State      State
	DryRun     bool

	Added     int
	Removed   int
	Changed   int
	Unchanged int
	Installed int

	// Lines are the rendered changes; Text joins them into the annotation.
	Lines     []string
	Text      string
	Emitted   bool
	Persisted bool
	Errors    []error
}

// Duration returns how long the cycle ran.
func (o *Outcome) Duration() time.Duration {
	return o.FinishedAt.Sub(o.StartedAt)
}

// Err joins every error recorded during the cycle, or returns nil.
func (o *Outcome) Err() error {
	return errors.Join(o.Errors...)
}

// Failed reports whether the cycle did not get as far as a diff.
func (o *Outcome) Failed() bool {
	return o.State == StateAborted
}

// Codes returns the classification of every recorded error.
func (o *Outcome) Codes() []apperrors.ErrorCode {
	codes := make([]apperrors.ErrorCode, 0, len(o.Errors))
	for _, err := range o.Errors {
		code := apperrors.CodeOf(err)
		if code == "" {
			code = "UNKNOWN"
		}
		codes = append(codes, code)
	}
	return codes
}

// Record converts the outcome into a journal row.
func (o *Outcome) Record() *store.CycleRecord {
	msgs := make([]string, 0, len(o.Errors))
	for _, err := range o.Errors {
		msgs = append(msgs, err.Error())
	}
	state := string(o.State)
	if o.DryRun {
		state += " (dry-run)"
	}
	return &store.CycleRecord{
		ID:         o.ID,
		StartedAt:  o.StartedAt,
		FinishedAt: o.FinishedAt,
		State:      state,
		Added:      o.Added,
		Removed:    o.Removed,
		Changed:    o.Changed,
		Unchanged:  o.Unchanged,
		Emitted:    o.Emitted,
		Persisted:  o.Persisted,
		Error:      strings.Join(msgs, "; "),
	}
}
