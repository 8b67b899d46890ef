package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSpinner_NonTTYPrintsOnce(t *testing.T) {
	var buf bytes.Buffer
	s := NewSpinner("Querying rpm database")
	s.SetWriter(&buf)

	s.Start()
	s.Start()
	time.Sleep(20 * time.Millisecond)
	s.StopWithMessage("done")

	assert.Equal(t, "Querying rpm database...\ndone\n", buf.String())
}

func TestSpinner_MultipleStops(t *testing.T) {
	var buf bytes.Buffer
	s := NewSpinner("x")
	s.SetWriter(&buf)

	s.Stop()
	s.Start()
	s.Stop()
	s.Stop()
	assert.Equal(t, 1, strings.Count(buf.String(), "x..."))
}

func TestSpinner_Restart(t *testing.T) {
	var buf bytes.Buffer
	s := NewSpinner("x")
	s.SetWriter(&buf)

	s.Start()
	s.Stop()
	s.Start()
	s.Stop()
	assert.Equal(t, "x...\nx...\n", buf.String())
}

func TestSpinner_Label(t *testing.T) {
	s := NewSpinner("Querying").WithTimeout(2 * time.Minute)
	s.started = time.Now().Add(-8 * time.Second)
	assert.Regexp(t, `^Querying \(1m5\ds left\)$`, s.label())

	s = NewSpinner("Querying").WithTimeout(2 * time.Second)
	s.started = time.Now().Add(-time.Minute)
	assert.Equal(t, "Querying (0s left)", s.label())

	s = NewSpinner("Querying").WithTimeout(0)
	s.started = time.Now()
	assert.Equal(t, "Querying (0s elapsed)", s.label())

	s = NewSpinner("Querying")
	assert.Equal(t, "Querying", s.label())
}
