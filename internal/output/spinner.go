package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

var spinFrames = [...]string{"|", "/", "-", "\\"}

const spinInterval = 100 * time.Millisecond

// Spinner shows progress for a blocking step such as an rpm query:
//
//	/  Querying rpm database (1m52s left)
//
// It writes to stderr so stdout carries only command output. On a writer
// that is not a terminal the message is printed once with no animation.
type Spinner struct {
	mu      sync.Mutex
	w       io.Writer
	msg     string
	budget  time.Duration
	timed   bool
	started time.Time
	width   int
	stop    chan struct{}
	exited  chan struct{}
}

// NewSpinner returns a stopped spinner for msg.
func NewSpinner(msg string) *Spinner {
	return &Spinner{w: os.Stderr, msg: msg}
}

// WithTimeout adds a countdown from budget, or an elapsed counter when
// budget is zero. Call it before Start.
func (s *Spinner) WithTimeout(budget time.Duration) *Spinner {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.budget = budget
	s.timed = true
	return s
}

// SetWriter redirects output.
func (s *Spinner) SetWriter(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w = w
}

// Start shows the spinner. Calling Start on a running spinner does nothing.
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return
	}
	s.started = time.Now()
	s.stop = make(chan struct{})

	if !isTerminal(s.w) {
		fmt.Fprintf(s.w, "%s...\n", s.msg)
		return
	}

	s.exited = make(chan struct{})
	go s.animate(s.stop, s.exited)
}

func (s *Spinner) animate(stop <-chan struct{}, exited chan<- struct{}) {
	defer close(exited)
	t := time.NewTicker(spinInterval)
	defer t.Stop()

	for frame := 0; ; frame++ {
		s.mu.Lock()
		line := spinFrames[frame%len(spinFrames)] + "  " + s.label()
		s.width = max(s.width, len(line))
		fmt.Fprintf(s.w, "\r%s", line)
		s.mu.Unlock()

		select {
		case <-stop:
			return
		case <-t.C:
		}
	}
}

// label is the message plus timing. Must be called with mu held.
func (s *Spinner) label() string {
	if !s.timed {
		return s.msg
	}
	elapsed := time.Since(s.started)
	if s.budget > 0 {
		left := max(s.budget-elapsed, 0)
		return fmt.Sprintf("%s (%s left)", s.msg, left.Truncate(time.Second))
	}
	return fmt.Sprintf("%s (%s elapsed)", s.msg, elapsed.Truncate(time.Second))
}

// Stop removes the spinner line. It is safe to call more than once.
func (s *Spinner) Stop() {
	s.mu.Lock()
	stop, exited := s.stop, s.exited
	if stop == nil {
		s.mu.Unlock()
		return
	}
	s.stop, s.exited = nil, nil
	close(stop)
	s.mu.Unlock()

	if exited == nil {
		return
	}
	<-exited

	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "\r%s\r", strings.Repeat(" ", s.width))
}

// StopWithMessage stops the spinner and prints msg on its own line.
func (s *Spinner) StopWithMessage(msg string) {
	s.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.w, msg)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	return ok && isatty.IsTerminal(f.Fd())
}
