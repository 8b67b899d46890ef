package store

import "time"

// timeLayout is fixed-width so that stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// CycleRecord is one journal row describing a finished collection cycle.
type CycleRecord struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	State      string
	Added      int
	Removed    int
	Changed    int
	Unchanged  int
	Emitted    bool
	Persisted  bool
	Error      string
}

// Duration returns how long the cycle ran.
func (c *CycleRecord) Duration() time.Duration {
	return c.FinishedAt.Sub(c.StartedAt)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
