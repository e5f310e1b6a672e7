package controller

import (
	"time"

	"isoflow/internal/flow"
	"isoflow/internal/histogram"
	"isoflow/internal/runner"
)

// FlowStatus is the terminal outcome of one flow.
type FlowStatus struct {
	Role    flow.Role
	State   runner.State
	Err     error
	Elapsed time.Duration
	Reports uint64
	Bytes   uint64
}

// Result is everything a run produced. Histograms only holds flows that
// reached Completed.
type Result struct {
	RunID      string
	Title      string
	StartedAt  time.Time
	FinishedAt time.Time

	// Order lists flow names in declaration order.
	Order      []string
	Status     map[string]FlowStatus
	Histograms map[string][]histogram.Histogram
}

// Completed lists completed flows in declaration order.
func (r Result) Completed() []string { return r.with(runner.Completed) }

// Failed lists failed flows in declaration order.
func (r Result) Failed() []string { return r.with(runner.Failed) }

// OK reports whether every flow completed.
func (r Result) OK() bool {
	return len(r.Order) > 0 && len(r.Completed()) == len(r.Order)
}

func (r Result) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

func (r Result) with(state runner.State) []string {
	var out []string
	for _, name := range r.Order {
		if r.Status[name].State == state {
			out = append(out, name)
		}
	}
	return out
}
