package output

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/blackwell-systems/rpmannotate/internal/collector"
	"github.com/blackwell-systems/rpmannotate/internal/store"
)

func TestRenderCycleTable_Empty(t *testing.T) {
	assert.Equal(t, "No cycles recorded.\n", RenderCycleTable(nil, time.Now()))
}

func TestRenderCycleTable(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	records := []*store.CycleRecord{
		{
			ID:         "b",
			StartedAt:  now.Add(-5 * time.Minute),
			FinishedAt: now.Add(-5*time.Minute + 1500*time.Millisecond),
			State:      "COMPLETED",
			Added:      2,
			Removed:    1,
			Unchanged:  612,
			Emitted:    true,
			Persisted:  true,
		},
		{
			ID:         "a",
			StartedAt:  now.Add(-2 * time.Hour),
			FinishedAt: now.Add(-2 * time.Hour),
			State:      "ABORTED",
			Error:      "[PACKAGE_SOURCE] rpm query failed: exit status 1",
		},
	}

	out := RenderCycleTable(records, now)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")

	assert.Len(t, lines, 4)
	assert.Contains(t, lines[0], "Started")
	assert.Contains(t, lines[2], "5 minutes ago")
	assert.Contains(t, lines[2], "COMPLETED")
	assert.Contains(t, lines[2], "612")
	assert.Contains(t, lines[2], "1.5s")
	assert.Contains(t, lines[3], "2 hours ago")
	assert.Contains(t, lines[3], "ABORTED")
	assert.Contains(t, lines[3], "[PACKAGE_SOURCE] rpm query failed: ex...")
	assert.NotContains(t, out, "\033[")
}

func TestRenderOutcome(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	start := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		out  *collector.Outcome
		want []string
	}{
		{
			name: "bootstrap",
			out:  &collector.Outcome{State: collector.StateBootstrapped, Installed: 1234, Persisted: true},
			want: []string{"BOOTSTRAPPED: baseline of 1,234 packages"},
		},
		{
			name: "completed and sent",
			out: &collector.Outcome{State: collector.StateCompleted, Added: 1, Unchanged: 10,
				Text: "NEW RPM htop-3.2.1-1.el9", Emitted: true, Persisted: true},
			want: []string{"COMPLETED: 1 added, 0 removed, 0 changed, 10 unchanged; annotation sent"},
		},
		{
			name: "sink down",
			out: &collector.Outcome{State: collector.StateCompleted, Added: 1,
				Text: "NEW RPM htop-3.2.1-1.el9", Persisted: true, Errors: []error{errors.New("[SINK] down")}},
			want: []string{"annotation NOT sent", "error: [SINK] down"},
		},
		{
			name: "dry run",
			out: &collector.Outcome{State: collector.StateCompleted, DryRun: true, Changed: 1,
				Text: "RPM CHANGE FROM a-1 TO a-2"},
			want: []string{"COMPLETED (dry-run): 0 added, 0 removed, 1 changed"},
		},
		{
			name: "busy",
			out:  &collector.Outcome{State: collector.StateBusy, Errors: []error{errors.New("[BUSY] another cycle is running")}},
			want: []string{"BUSY (0s)", "error: [BUSY] another cycle is running"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.out.StartedAt = start
			tt.out.FinishedAt = start
			got := RenderOutcome(tt.out)
			for _, w := range tt.want {
				assert.Contains(t, got, w)
			}
			if tt.out.DryRun {
				assert.NotContains(t, got, "NOT")
			}
		})
	}
}

func TestRelativeTime(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, "never", relativeTime(time.Time{}, now))
	assert.Equal(t, "just now", relativeTime(now, now))
	assert.Equal(t, "3 days ago", relativeTime(now.Add(-72*time.Hour), now))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "ab", truncate("abcdef", 2))
}

func TestStateColor(t *testing.T) {
	assert.Equal(t, colorGreen, stateColor("COMPLETED (dry-run)"))
	assert.Equal(t, colorGreen, stateColor("BOOTSTRAPPED"))
	assert.Equal(t, colorYellow, stateColor("BUSY"))
	assert.Equal(t, colorRed, stateColor("ABORTED"))
	assert.Equal(t, colorGray, stateColor("?"))
}
