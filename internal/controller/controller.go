// Package controller runs a set of flows under one shared deadline and hands
// back a run-scoped Result.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"isoflow/internal/flow"
	"isoflow/internal/histogram"
	"isoflow/internal/runner"
	"isoflow/internal/traffic"
)

var ErrWrongPhase = errors.New("controller: operation not allowed in this phase")

type Phase int32

const (
	Idle Phase = iota
	Configuring
	Running
	Draining
	Done
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "Idle"
	case Configuring:
		return "Configuring"
	case Running:
		return "Running"
	case Draining:
		return "Draining"
	case Done:
		return "Done"
	}
	return "Unknown"
}

// Observer is told about every finished run.
type Observer interface {
	ObserveRun(Result)
}

type Options struct {
	Launcher traffic.Launcher
	Runner   runner.Config
	// Updates receives progress snapshots of every flow. Optional.
	Updates runner.UpdateChan
	// Grace extends the shared deadline to cover process teardown.
	Grace    time.Duration
	Title    string
	Observer Observer
}

// Controller owns the flows of a single run. It is not reusable: once Done,
// build a new one for the next run.
type Controller struct {
	opts  Options
	phase atomic.Int32
	flows []flow.Descriptor
}

func New(opts Options) *Controller {
	return &Controller{opts: opts}
}

func (c *Controller) Phase() Phase { return Phase(c.phase.Load()) }

// Flows returns the configured flows in declaration order.
func (c *Controller) Flows() []flow.Descriptor {
	return append([]flow.Descriptor(nil), c.flows...)
}

// Configure builds the run's flows from cfg. On error nothing is kept and
// the controller stays Idle.
func (c *Controller) Configure(cfg flow.PlanConfig) error {
	flows, err := flow.Plan(cfg)
	if err != nil {
		return err
	}
	return c.ConfigureFlows(flows)
}

// ConfigureFlows takes an explicit flow set, for runs that are not shaped
// like the measurement plus stress plan.
func (c *Controller) ConfigureFlows(flows []flow.Descriptor) error {
	if !c.phase.CompareAndSwap(int32(Idle), int32(Configuring)) {
		return fmt.Errorf("%w: configure in %s", ErrWrongPhase, c.Phase())
	}
	if err := flow.Validate(flows); err != nil {
		c.phase.Store(int32(Idle))
		return err
	}
	c.flows = append([]flow.Descriptor(nil), flows...)
	for _, d := range c.flows {
		log.Info().
			Str("flow", d.Name).
			Str("role", d.Role.String()).
			Str("server", d.ServerHost).
			Str("client", d.ClientHost).
			Str("dst", d.Destination).
			Str("proto", string(d.Protocol)).
			Str("load", d.Load.String()).
			Str("tos", d.TrafficClass.Token()).
			Dur("duration", d.Duration).
			Msg("flow configured")
	}
	return nil
}

// Run starts every configured flow, waits for all of them to reach a
// terminal state or the shared deadline, and collects histograms of the
// flows that completed. Per-flow failures are reported in the Result, not
// as an error.
func (c *Controller) Run(ctx context.Context) (Result, error) {
	if !c.phase.CompareAndSwap(int32(Configuring), int32(Running)) {
		return Result{}, fmt.Errorf("%w: run in %s", ErrWrongPhase, c.Phase())
	}

	id, err := uuid.NewV7()
	if err != nil {
		c.phase.Store(int32(Configuring))
		return Result{}, err
	}
	res := Result{
		RunID:      id.String(),
		Title:      c.opts.Title,
		StartedAt:  time.Now(),
		Order:      make([]string, len(c.flows)),
		Status:     make(map[string]FlowStatus, len(c.flows)),
		Histograms: map[string][]histogram.Histogram{},
	}
	for i, d := range c.flows {
		res.Order[i] = d.Name
	}
	logger := log.With().Str("run_id", res.RunID).Logger()

	deadline := res.StartedAt.Add(c.flows[0].Duration + c.opts.Grace)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	logger.Info().Int("flows", len(c.flows)).Time("deadline", deadline).Msg("run started")

	run := runner.NewRunner(c.opts.Launcher, c.opts.Runner, c.opts.Updates)
	collector := histogram.NewCollector()

	handles := make([]*runner.Handle, len(c.flows))
	var started, finished sync.WaitGroup
	for i, d := range c.flows {
		started.Add(1)
		finished.Add(1)
		go func(i int, d flow.Descriptor) {
			defer finished.Done()
			h := run.Start(ctx, d)
			handles[i] = h
			started.Done()

			run.Await(ctx, h, deadline)
			if h.State() != runner.Completed {
				return
			}
			hists, err := run.Collect(h)
			if err != nil {
				logger.Error().Err(err).Str("flow", d.Name).Msg("collect failed")
				return
			}
			for _, hist := range hists {
				if err := collector.Ingest(d.Name, hist); err != nil {
					logger.Error().Err(err).Str("flow", d.Name).Msg("ingest failed")
				}
			}
		}(i, d)
	}

	started.Wait()
	c.phase.Store(int32(Draining))
	finished.Wait()

	hists, err := collector.Finalize()
	if err != nil {
		return Result{}, err
	}
	res.Histograms = hists

	for i, h := range handles {
		st := FlowStatus{
			Role:    c.flows[i].Role,
			State:   h.State(),
			Err:     h.Err(),
			Elapsed: h.Elapsed(),
			Reports: atomic.LoadUint64(&h.Stats.Reports),
			Bytes:   atomic.LoadUint64(&h.Stats.Bytes),
		}
		res.Status[h.Descriptor().Name] = st
	}
	res.FinishedAt = time.Now()
	c.phase.Store(int32(Done))

	logger.Info().
		Strs("completed", res.Completed()).
		Strs("failed", res.Failed()).
		Dur("took", res.FinishedAt.Sub(res.StartedAt)).
		Msg("run finished")

	if c.opts.Observer != nil {
		c.opts.Observer.ObserveRun(res)
	}
	return res, nil
}
