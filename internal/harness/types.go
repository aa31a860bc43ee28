package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/bizcursor/internal/driver"
)

// TraceEvent is one executed step and the statements it sent.
type TraceEvent struct {
	Step       int                `json:"step"`
	Op         string             `json:"op"`
	Object     string             `json:"object"`
	Statements []driver.Statement `json:"statements,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// Result is the outcome of a scenario.
type Result struct {
	// Pass is true when every step behaved as expected and every
	// assertion held.
	Pass bool `json:"pass"`

	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Statements returns every recorded statement in execution order.
func (r *Result) Statements() []driver.Statement {
	var out []driver.Statement
	for _, ev := range r.Trace {
		out = append(out, ev.Statements...)
	}
	return out
}

// Text renders the trace one step per line, each followed by its
// statements indented and their parameters in brackets.
func (r *Result) Text(scenario string) string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "# %s\n", scenario)
	for _, ev := range r.Trace {
		fmt.Fprintf(&buf, "%d %s %s", ev.Step, ev.Op, ev.Object)
		if ev.Error != "" {
			fmt.Fprintf(&buf, " ! %s", ev.Error)
		}
		buf.WriteByte('\n')
		for _, s := range ev.Statements {
			buf.WriteString("  ")
			buf.WriteString(s.SQL)
			if len(s.Params) > 0 {
				fmt.Fprintf(&buf, " %v", s.Params)
			}
			buf.WriteByte('\n')
		}
	}
	return buf.String()
}
