package mutation

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Step is one entry of a submission trace.
type Step struct {
	At     time.Time `json:"at"`
	State  State     `json:"state"`
	Action string    `json:"action"`
	Detail string    `json:"detail,omitempty"`
	Error  string    `json:"error,omitempty"`
}

// Trace is the append-only, ordered log of one submission.
type Trace struct {
	mu    sync.Mutex
	steps []Step
}

func (t *Trace) append(s Step) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.steps = append(t.steps, s)
}

// Steps returns a copy of the recorded steps in order.
func (t *Trace) Steps() []Step {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Step(nil), t.steps...)
}

// Last returns the most recent step.
func (t *Trace) Last() (Step, bool) {
	steps := t.Steps()
	if len(steps) == 0 {
		return Step{}, false
	}
	return steps[len(steps)-1], true
}

// String renders the trace one step per line.
func (t *Trace) String() string {
	var sb strings.Builder
	for _, s := range t.Steps() {
		fmt.Fprintf(&sb, "%s %-12s %s", s.At.Format("15:04:05.000"), s.State, s.Action)
		if s.Detail != "" {
			sb.WriteString(": ")
			sb.WriteString(strings.ReplaceAll(strings.TrimRight(s.Detail, "\n"), "\n", "\n    "))
		}
		if s.Error != "" {
			sb.WriteString(" error=")
			sb.WriteString(s.Error)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
