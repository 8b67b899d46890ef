// Package output provides terminal output utilities for rpmannotate.
//
// This package includes:
//   - Table rendering for the cycle journal
//   - One-line cycle summaries
//   - Spinners for indeterminate operations
//
// Colour is emitted only when stdout is a TTY and NO_COLOR is unset.
package output

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/blackwell-systems/rpmannotate/internal/collector"
	"github.com/blackwell-systems/rpmannotate/internal/store"
)

// ANSI color codes for cycle state display
const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorGray   = "\033[90m"
)

// IsColorEnabled returns true if ANSI color codes should be emitted.
// It checks that os.Stdout is a TTY and that the NO_COLOR env var is not set.
func IsColorEnabled() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(os.Stdout.Fd())
}

// colorize wraps text in the given ANSI color code if color is enabled,
// otherwise returns the plain text.
func colorize(color, text string) string {
	if IsColorEnabled() {
		return color + text + colorReset
	}
	return text
}

// RenderCycleTable renders journal records, newest first as given.
func RenderCycleTable(records []*store.CycleRecord, now time.Time) string {
	if len(records) == 0 {
		return "No cycles recorded.\n"
	}

	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%-16s %-14s %5s %5s %5s %6s %-7s %-5s %-8s %s\n",
		"Started", "State", "Added", "Rem", "Chg", "Same", "Emitted", "Saved", "Took", "Error"))
	sb.WriteString(strings.Repeat("─", 96))
	sb.WriteString("\n")

	for _, rec := range records {
		// Pad before colouring so escape codes don't break alignment.
		state := fmt.Sprintf("%-14s", truncate(rec.State, 14))
		sb.WriteString(fmt.Sprintf("%-16s %s %5d %5d %5d %6d %-7s %-5s %-8s %s\n",
			truncate(relativeTime(rec.StartedAt, now), 16),
			colorize(stateColor(rec.State), state),
			rec.Added,
			rec.Removed,
			rec.Changed,
			rec.Unchanged,
			yesNo(rec.Emitted),
			yesNo(rec.Persisted),
			formatDuration(rec.Duration()),
			truncate(rec.Error, 40)))
	}

	return sb.String()
}

// RenderOutcome renders a one-line summary of a cycle.
func RenderOutcome(o *collector.Outcome) string {
	state := string(o.State)
	if o.DryRun {
		state += " (dry-run)"
	}

	var sb strings.Builder
	sb.WriteString(colorize(stateColor(string(o.State)), state))

	switch o.State {
	case collector.StateBootstrapped:
		sb.WriteString(fmt.Sprintf(": baseline of %s packages", humanize.Comma(int64(o.Installed))))
	case collector.StateCompleted:
		sb.WriteString(fmt.Sprintf(": %d added, %d removed, %d changed, %s unchanged",
			o.Added, o.Removed, o.Changed, humanize.Comma(int64(o.Unchanged))))
		switch {
		case o.Emitted:
			sb.WriteString("; annotation sent")
		case o.Text != "" && !o.DryRun:
			sb.WriteString("; annotation NOT sent")
		}
		if !o.Persisted && !o.DryRun {
			sb.WriteString("; snapshot NOT saved")
		}
	}

	sb.WriteString(fmt.Sprintf(" (%s)", formatDuration(o.Duration())))
	if err := o.Err(); err != nil {
		sb.WriteString("\n")
		sb.WriteString(colorize(colorRed, "error: "+strings.ReplaceAll(err.Error(), "\n", "\nerror: ")))
	}
	sb.WriteString("\n")
	return sb.String()
}

func stateColor(state string) string {
	switch {
	case strings.HasPrefix(state, string(collector.StateCompleted)),
		strings.HasPrefix(state, string(collector.StateBootstrapped)):
		return colorGreen
	case strings.HasPrefix(state, string(collector.StateBusy)):
		return colorYellow
	case strings.HasPrefix(state, string(collector.StateAborted)):
		return colorRed
	default:
		return colorGray
	}
}

// relativeTime formats t relative to now, e.g. "3 minutes ago".
func relativeTime(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	if now.Sub(t) < time.Second {
		return "just now"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

func formatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "0s"
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	default:
		return d.Round(100 * time.Millisecond).String()
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// truncate shortens s to maxLen runes, marking the cut with "...".
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
