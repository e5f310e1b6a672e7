package runner

import (
	"errors"
	"time"

	"isoflow/internal/flow"
)

var (
	ErrFlowLaunch           = errors.New("flow launch failed")
	ErrFlowAborted          = errors.New("flow aborted")
	ErrFlowDeadlineExceeded = errors.New("flow deadline exceeded")
	ErrNotCompleted         = errors.New("flow not completed")
)

type State int

const (
	Pending State = iota
	Running
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Running:
		return "Running"
	case Completed:
		return "Completed"
	case Failed:
		return "Failed"
	}
	return "Unknown"
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == Completed || s == Failed
}

const (
	MetricLatency = "latency"
	MetricJitter  = "jitter"
)

type Config struct {
	// BinWidth of histograms built from interval samples.
	BinWidth time.Duration
	// TickInterval between progress updates while awaiting a flow.
	TickInterval time.Duration
}

// Update is a progress snapshot of one flow, sent over the update channel.
type Update struct {
	Flow    string
	Role    flow.Role
	State   State
	Err     error
	Elapsed time.Duration

	Reports uint64
	Bytes   uint64

	// Pre-calculated for the UI (cheap copy)
	P99LatencyMs float64
}

// UpdateChan is the channel type
type UpdateChan chan Update
