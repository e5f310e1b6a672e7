package runner

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"isoflow/internal/dummy"
	"isoflow/internal/flow"
	"isoflow/internal/loadspec"
	"isoflow/internal/traffic"
)

func descriptor(t *testing.T, name string, dur time.Duration) flow.Descriptor {
	t.Helper()
	d, err := flow.Build(flow.Params{
		Name:           name,
		Role:           flow.Measurement,
		ServerHost:     "srv",
		ClientHost:     "localhost",
		Destination:    "10.0.0.2",
		Protocol:       "UDP",
		TrafficClass:   "BE",
		Duration:       dur,
		Load:           loadspec.Default,
		ReportInterval: 100 * time.Millisecond,
	})
	require.NoError(t, err)
	return d
}

func TestRunnerCompletes(t *testing.T) {
	updates := make(UpdateChan, 100)
	r := NewRunner(&dummy.Launcher{}, Config{TickInterval: 50 * time.Millisecond}, updates)
	d := descriptor(t, "ISOCH", 500*time.Millisecond)

	start := time.Now()
	h := r.Start(context.Background(), d)
	require.Equal(t, Running, h.State())

	r.Await(context.Background(), h, start.Add(5*time.Second))
	assert.Equal(t, Completed, h.State())
	assert.NoError(t, h.Err())

	hists, err := r.Collect(h)
	require.NoError(t, err)
	require.NotEmpty(t, hists)
	assert.Equal(t, "T8", hists[0].Metric)
	assert.False(t, hists[0].Empty())

	var metrics []string
	for _, h := range hists[1:] {
		metrics = append(metrics, h.Metric)
	}
	assert.Equal(t, []string{MetricJitter, MetricLatency}, metrics)

	var last Update
	for len(updates) > 0 {
		last = <-updates
	}
	assert.Equal(t, Completed, last.State)
	assert.Positive(t, last.Reports)
}

func TestRunnerLaunchFailure(t *testing.T) {
	l := &dummy.Launcher{Behaviors: map[string]dummy.Behavior{"ISOCH": dummy.FailLaunch}}
	r := NewRunner(l, Config{}, nil)

	h := r.Start(context.Background(), descriptor(t, "ISOCH", time.Second))
	assert.Equal(t, Failed, h.State())
	assert.ErrorIs(t, h.Err(), ErrFlowLaunch)

	// Await on a failed handle returns immediately.
	done := make(chan struct{})
	go func() {
		r.Await(context.Background(), h, time.Now().Add(time.Hour))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Await blocked on a failed handle")
	}

	_, err := r.Collect(h)
	assert.ErrorIs(t, err, ErrNotCompleted)
}

func TestRunnerDeadlineExceeded(t *testing.T) {
	l := &dummy.Launcher{Behaviors: map[string]dummy.Behavior{"ISOCH": dummy.Hang}}
	r := NewRunner(l, Config{}, nil)
	d := descriptor(t, "ISOCH", 300*time.Millisecond)

	start := time.Now()
	deadline := start.Add(d.Duration)
	h := r.Start(context.Background(), d)
	r.Await(context.Background(), h, deadline)

	assert.WithinDuration(t, deadline, time.Now(), 100*time.Millisecond)
	assert.Equal(t, Failed, h.State())
	assert.ErrorIs(t, h.Err(), ErrFlowDeadlineExceeded)
	_, err := r.Collect(h)
	assert.ErrorIs(t, err, ErrNotCompleted)
}

func TestRunnerCrashIsAborted(t *testing.T) {
	l := &dummy.Launcher{Behaviors: map[string]dummy.Behavior{"ISOCH": dummy.Crash}}
	r := NewRunner(l, Config{}, nil)
	d := descriptor(t, "ISOCH", 400*time.Millisecond)

	h := r.Start(context.Background(), d)
	r.Await(context.Background(), h, time.Now().Add(5*time.Second))
	assert.Equal(t, Failed, h.State())
	assert.ErrorIs(t, h.Err(), ErrFlowAborted)
}

func TestRunnerSilentEarlyExitIsAborted(t *testing.T) {
	l := &dummy.Launcher{Behaviors: map[string]dummy.Behavior{"ISOCH": dummy.Silent}}
	r := NewRunner(l, Config{}, nil)

	h := r.Start(context.Background(), descriptor(t, "ISOCH", 5*time.Second))
	r.Await(context.Background(), h, time.Now().Add(10*time.Second))
	assert.Equal(t, Failed, h.State())
	assert.ErrorIs(t, h.Err(), ErrFlowAborted)
}

// scripted is a session whose reports and exit are fed by the test.
type scripted struct {
	reports chan traffic.Report
	done    chan struct{}
	err     error
}

func (s *scripted) Reports() <-chan traffic.Report { return s.reports }
func (s *scripted) Done() <-chan struct{}          { return s.done }
func (s *scripted) Err() error                     { <-s.done; return s.err }
func (s *scripted) Terminate() error               { return errors.New("already gone") }

func TestRunnerKeepsToolHistogramOrder(t *testing.T) {
	s := &scripted{reports: make(chan traffic.Report, 4), done: make(chan struct{})}
	l := traffic.LauncherFunc(func(context.Context, flow.Descriptor) (traffic.Session, error) {
		return s, nil
	})
	r := NewRunner(l, Config{}, nil)
	h := r.Start(context.Background(), descriptor(t, "ISOCH", time.Second))

	for _, line := range []string{
		"[  1] 0.00-1.00 sec F8-PDF: bin(w=100us):cnt(1)=5:1",
		"[  1] 0.00-1.00 sec T8-PDF: bin(w=100us):cnt(2)=7:2",
	} {
		rep, ok, err := traffic.ParseLine(line)
		require.NoError(t, err)
		require.True(t, ok)
		s.reports <- rep
	}
	close(s.reports)
	close(s.done)

	r.Await(context.Background(), h, time.Now().Add(time.Second))
	require.Equal(t, Completed, h.State())

	hists, err := r.Collect(h)
	require.NoError(t, err)
	require.Len(t, hists, 2)
	assert.Equal(t, "F8", hists[0].Metric)
	assert.Equal(t, "T8", hists[1].Metric)
}

func TestRunnerCountsDroppedSamples(t *testing.T) {
	prev := log.Logger
	defer func() { log.Logger = prev }()
	var out bytes.Buffer
	log.Logger = zerolog.New(&out).Level(zerolog.DebugLevel)

	s := &scripted{reports: make(chan traffic.Report, 4), done: make(chan struct{})}
	l := traffic.LauncherFunc(func(context.Context, flow.Descriptor) (traffic.Session, error) {
		return s, nil
	})
	r := NewRunner(l, Config{}, nil)
	h := r.Start(context.Background(), descriptor(t, "ISOCH", time.Second))

	s.reports <- traffic.Report{Kind: traffic.ReportInterval, Latency: 2 * time.Millisecond}
	s.reports <- traffic.Report{Kind: traffic.ReportInterval, Latency: 11 * time.Minute}
	close(s.reports)
	close(s.done)

	r.Await(context.Background(), h, time.Now().Add(time.Second))
	require.Equal(t, Completed, h.State())
	assert.Equal(t, uint64(1), atomic.LoadUint64(&h.Stats.Dropped))
	assert.Equal(t, uint64(2), atomic.LoadUint64(&h.Stats.Reports))
	assert.Contains(t, out.String(), "sample dropped")
}

func TestRunnerTerminateErrorStillFails(t *testing.T) {
	s := &scripted{reports: make(chan traffic.Report), done: make(chan struct{})}
	l := traffic.LauncherFunc(func(context.Context, flow.Descriptor) (traffic.Session, error) {
		return s, nil
	})
	r := NewRunner(l, Config{}, nil)
	h := r.Start(context.Background(), descriptor(t, "ISOCH", time.Second))

	r.Await(context.Background(), h, time.Now().Add(50*time.Millisecond))
	assert.ErrorIs(t, h.Err(), ErrFlowDeadlineExceeded)
}

func TestRunnerContextCancelIsEarlyDeadline(t *testing.T) {
	l := &dummy.Launcher{Behaviors: map[string]dummy.Behavior{"ISOCH": dummy.Hang}}
	r := NewRunner(l, Config{}, nil)
	h := r.Start(context.Background(), descriptor(t, "ISOCH", time.Minute))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	r.Await(ctx, h, time.Now().Add(time.Minute))
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.ErrorIs(t, h.Err(), ErrFlowDeadlineExceeded)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "Pending", Pending.String())
	assert.Equal(t, "Completed", Completed.String())
	assert.True(t, Failed.Terminal())
	assert.False(t, Running.Terminal())
}
