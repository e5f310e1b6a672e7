package traffic

import (
	"context"
	"time"

	"isoflow/internal/flow"
	"isoflow/internal/histogram"
)

type ReportKind int

const (
	// ReportHistogram carries a complete histogram printed by the tool.
	ReportHistogram ReportKind = iota
	// ReportInterval carries one periodic measurement line.
	ReportInterval
)

// Report is one parsed piece of output from a traffic session.
type Report struct {
	Kind      ReportKind
	Histogram histogram.Histogram

	// Interval fields. Zero durations mean the line did not carry the value.
	Start   time.Duration
	End     time.Duration
	Bytes   int64
	Latency time.Duration
	Jitter  time.Duration
}

// Session is one running client/server pair.
//
// Reports is closed once the session has exited and all of its output has
// been parsed; Done is closed after that and Err is valid from then on.
type Session interface {
	Reports() <-chan Report
	Done() <-chan struct{}
	Err() error
	Terminate() error
}

// Launcher starts traffic sessions. Launch returns once the server side is
// ready and the client has been started.
type Launcher interface {
	Launch(ctx context.Context, d flow.Descriptor) (Session, error)
}

// LauncherFunc adapts a function to the Launcher interface.
type LauncherFunc func(ctx context.Context, d flow.Descriptor) (Session, error)

func (f LauncherFunc) Launch(ctx context.Context, d flow.Descriptor) (Session, error) {
	return f(ctx, d)
}
