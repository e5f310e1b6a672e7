package runner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"isoflow/internal/flow"
	"isoflow/internal/histogram"
	"isoflow/internal/stats"
	"isoflow/internal/traffic"
)

// Runner drives traffic sessions for flows and tracks them through handles.
type Runner struct {
	Launcher traffic.Launcher
	Cfg      Config

	// Event Channel
	Updates UpdateChan
}

func NewRunner(l traffic.Launcher, cfg Config, updates UpdateChan) *Runner {
	if cfg.BinWidth <= 0 {
		cfg.BinWidth = stats.DefaultBinWidth
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 200 * time.Millisecond
	}
	if updates == nil {
		// Avoid nil panics if not provided
		updates = make(UpdateChan, 10)
	}
	return &Runner{Launcher: l, Cfg: cfg, Updates: updates}
}

// Handle tracks one flow from launch to its terminal state.
type Handle struct {
	desc  flow.Descriptor
	Stats *stats.Stats

	mu         sync.Mutex
	state      State
	err        error
	histograms []histogram.Histogram
	startedAt  time.Time
	endedAt    time.Time

	session  traffic.Session
	consumed chan struct{}
}

func newHandle(d flow.Descriptor) *Handle {
	return &Handle{desc: d, Stats: stats.NewStats(), state: Pending}
}

func (h *Handle) Descriptor() flow.Descriptor { return h.desc }

func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Err is the reason a flow failed, nil otherwise.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Elapsed is the time spent running, so far or in total.
func (h *Handle) Elapsed() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.startedAt.IsZero() {
		return 0
	}
	if h.endedAt.IsZero() {
		return time.Since(h.startedAt)
	}
	return h.endedAt.Sub(h.startedAt)
}

func (h *Handle) finish(state State, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state.Terminal() {
		return
	}
	h.state = state
	h.err = err
	h.endedAt = time.Now()
}

func (h *Handle) snapshot() Update {
	u := Update{
		Flow:    h.desc.Name,
		Role:    h.desc.Role,
		State:   h.State(),
		Err:     h.Err(),
		Elapsed: h.Elapsed(),
		Reports: atomic.LoadUint64(&h.Stats.Reports),
		Bytes:   atomic.LoadUint64(&h.Stats.Bytes),
	}
	if atomic.LoadUint64(&h.Stats.Samples) > 0 {
		u.P99LatencyMs = h.Stats.P99Ms(MetricLatency)
	}
	return u
}

// Start launches the traffic session for d. Launch errors leave the handle
// Failed; they are never returned to the caller separately.
func (r *Runner) Start(ctx context.Context, d flow.Descriptor) *Handle {
	h := newHandle(d)
	logger := log.With().Str("flow", d.Name).Str("role", d.Role.String()).Logger()

	sess, err := r.Launcher.Launch(ctx, d)
	if err != nil {
		h.finish(Failed, fmt.Errorf("%w: %s: %v", ErrFlowLaunch, d.Name, err))
		logger.Error().Err(err).Msg("flow launch failed")
		r.sendUpdate(h)
		return h
	}

	h.mu.Lock()
	h.session = sess
	h.state = Running
	h.startedAt = time.Now()
	h.consumed = make(chan struct{})
	h.mu.Unlock()

	go h.pump(sess)

	logger.Info().
		Str("server", d.ServerHost).
		Str("client", d.ClientHost).
		Str("dst", d.Destination).
		Str("proto", string(d.Protocol)).
		Str("load", d.Load.String()).
		Str("tos", d.TrafficClass.Token()).
		Msg("flow running")
	r.sendUpdate(h)
	return h
}

// pump drains session reports into the handle until the session closes them.
func (h *Handle) pump(sess traffic.Session) {
	defer close(h.consumed)
	for rep := range sess.Reports() {
		h.Stats.AddReport(rep.Bytes)
		switch rep.Kind {
		case traffic.ReportHistogram:
			h.mu.Lock()
			h.histograms = append(h.histograms, rep.Histogram)
			h.mu.Unlock()
		case traffic.ReportInterval:
			if rep.Latency > 0 {
				h.addSample(MetricLatency, rep.Latency)
			}
			if rep.Jitter > 0 {
				h.addSample(MetricJitter, rep.Jitter)
			}
		}
	}
}

func (h *Handle) addSample(metric string, d time.Duration) {
	if err := h.Stats.AddSample(metric, d); err != nil {
		log.Debug().Err(err).
			Str("flow", h.desc.Name).
			Str("metric", metric).
			Dur("value", d).
			Msg("sample dropped")
	}
}

// Await blocks until the flow's session ends or the deadline passes. A flow
// still running at the deadline is terminated and marked Failed. A cancelled
// ctx counts as an early deadline.
func (r *Runner) Await(ctx context.Context, h *Handle, deadline time.Time) *Handle {
	h.mu.Lock()
	sess, consumed := h.session, h.consumed
	h.mu.Unlock()
	if sess == nil || h.State().Terminal() {
		return h
	}

	logger := log.With().Str("flow", h.desc.Name).Logger()

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	ticker := time.NewTicker(r.Cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sess.Done():
			<-consumed
			if err := sess.Err(); err != nil {
				h.finish(Failed, fmt.Errorf("%w: %s: %v", ErrFlowAborted, h.desc.Name, err))
				logger.Error().Err(err).Dur("elapsed", h.Elapsed()).Msg("flow aborted")
			} else if atomic.LoadUint64(&h.Stats.Reports) == 0 && h.Elapsed() < h.desc.Duration {
				h.finish(Failed, fmt.Errorf("%w: %s: exited after %s without reports", ErrFlowAborted, h.desc.Name, h.Elapsed().Round(time.Millisecond)))
				logger.Error().Dur("elapsed", h.Elapsed()).Msg("flow exited early")
			} else {
				h.finish(Completed, nil)
				logger.Info().Uint64("reports", atomic.LoadUint64(&h.Stats.Reports)).Msg("flow completed")
			}
			r.sendUpdate(h)
			return h

		case <-timer.C:
			r.expire(h, sess, fmt.Errorf("%w: %s: still running at %s", ErrFlowDeadlineExceeded, h.desc.Name, deadline.Format(time.RFC3339Nano)))
			return h

		case <-ctx.Done():
			r.expire(h, sess, fmt.Errorf("%w: %s: %v", ErrFlowDeadlineExceeded, h.desc.Name, context.Cause(ctx)))
			return h

		case <-ticker.C:
			r.sendUpdate(h)
		}
	}
}

func (r *Runner) expire(h *Handle, sess traffic.Session, err error) {
	if terr := sess.Terminate(); terr != nil {
		log.Warn().Str("flow", h.desc.Name).Err(terr).Msg("terminate failed")
	}
	h.finish(Failed, err)
	log.Warn().Str("flow", h.desc.Name).Err(err).Msg("flow terminated")
	r.sendUpdate(h)
}

// Collect returns the histograms of a completed flow: those printed by the
// traffic tool in arrival order, followed by those built from interval samples.
func (r *Runner) Collect(h *Handle) ([]histogram.Histogram, error) {
	if st := h.State(); st != Completed {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotCompleted, h.desc.Name, st)
	}
	h.mu.Lock()
	out := make([]histogram.Histogram, 0, len(h.histograms))
	for _, hist := range h.histograms {
		out = append(out, hist.Clone())
	}
	h.mu.Unlock()
	return append(out, h.Stats.Export(r.Cfg.BinWidth)...), nil
}

func (r *Runner) sendUpdate(h *Handle) {
	// Non-blocking send
	select {
	case r.Updates <- h.snapshot():
	default:
		// Drop update if channel full, UI acts as backpressure
	}
}
