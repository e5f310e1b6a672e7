package dummy

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"isoflow/internal/flow"
	"isoflow/internal/stats"
	"isoflow/internal/traffic"
)

// Behavior selects how a simulated session misbehaves.
type Behavior int

const (
	Normal Behavior = iota
	// FailLaunch makes Launch return an error, like an unreachable host.
	FailLaunch
	// Hang never exits on its own; only Terminate stops it.
	Hang
	// Crash exits with an error halfway through the run.
	Crash
	// Silent exits cleanly right away without printing any report.
	Silent
)

// Profile shapes the simulated one-way delay.
type Profile struct {
	Base   time.Duration
	Jitter time.Duration
	// SpikeChance is the probability of a frame being delayed by Spike.
	SpikeChance float64
	Spike       time.Duration
}

var (
	Fast   = Profile{Base: 2 * time.Millisecond, Jitter: 500 * time.Microsecond}
	Medium = Profile{Base: 15 * time.Millisecond, Jitter: 5 * time.Millisecond}
	Spiky  = Profile{Base: 2 * time.Millisecond, Jitter: time.Millisecond, SpikeChance: 0.05, Spike: 40 * time.Millisecond}
)

// Launcher runs simulated traffic sessions in-process. It stands in for the
// real traffic tool in dry runs and tests.
type Launcher struct {
	// TimeScale shrinks (or stretches) the flow duration; 0 means 1.
	TimeScale float64
	// LaunchDelay simulates the server-ready handshake.
	LaunchDelay time.Duration
	Profile     Profile
	Behaviors   map[string]Behavior
	Seed        int64

	mu       sync.Mutex
	launched []string
}

func (l *Launcher) behavior(name string) Behavior {
	if l.Behaviors == nil {
		return Normal
	}
	return l.Behaviors[name]
}

// Launched lists the flows launched so far, in launch order.
func (l *Launcher) Launched() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.launched...)
}

func (l *Launcher) Launch(ctx context.Context, d flow.Descriptor) (traffic.Session, error) {
	l.mu.Lock()
	l.launched = append(l.launched, d.Name)
	seed := l.Seed + int64(len(l.launched))
	l.mu.Unlock()

	if l.LaunchDelay > 0 {
		select {
		case <-time.After(l.LaunchDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if l.behavior(d.Name) == FailLaunch {
		return nil, errors.New("connect: no route to host " + d.ServerHost)
	}

	scale := l.TimeScale
	if scale <= 0 {
		scale = 1
	}
	profile := l.Profile
	if profile.Base == 0 {
		profile = Fast
	}

	s := &session{
		desc:     d,
		behavior: l.behavior(d.Name),
		profile:  profile,
		runFor:   time.Duration(float64(d.Duration) * scale),
		rng:      rand.New(rand.NewSource(seed)),
		reports:  make(chan traffic.Report, 16),
		done:     make(chan struct{}),
		stop:     make(chan struct{}),
	}
	go s.run()
	return s, nil
}

type session struct {
	desc     flow.Descriptor
	behavior Behavior
	profile  Profile
	runFor   time.Duration
	rng      *rand.Rand

	reports chan traffic.Report
	done    chan struct{}
	err     error

	stop     chan struct{}
	stopOnce sync.Once
}

func (s *session) Reports() <-chan traffic.Report { return s.reports }
func (s *session) Done() <-chan struct{}          { return s.done }

func (s *session) Err() error {
	<-s.done
	return s.err
}

func (s *session) Terminate() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}

func (s *session) run() {
	defer close(s.done)
	defer close(s.reports)

	if s.behavior == Silent {
		return
	}

	interval := s.desc.ReportInterval
	if interval <= 0 {
		interval = time.Second
	}
	tick := time.Duration(float64(s.runFor) * float64(interval) / float64(s.desc.Duration))
	if tick <= 0 {
		tick = time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	end := time.After(s.runFor)
	if s.behavior == Hang {
		end = nil
	}
	var crash <-chan time.Time
	if s.behavior == Crash {
		crash = time.After(s.runFor / 2)
	}

	frames := stats.NewSafeHistogram()
	var sent time.Duration
	for {
		select {
		case <-s.stop:
			return
		case <-crash:
			s.err = errors.New("client: exit status 1 (connection refused)")
			return
		case <-end:
			s.reports <- traffic.Report{
				Kind:      traffic.ReportHistogram,
				Histogram: frames.Export("T8", stats.DefaultBinWidth),
			}
			return
		case <-ticker.C:
			rep := s.interval(sent, interval, frames)
			sent += interval
			select {
			case s.reports <- rep:
			case <-s.stop:
				return
			}
		}
	}
}

// interval simulates one reporting interval worth of frames.
func (s *session) interval(start, length time.Duration, frames *stats.SafeHistogram) traffic.Report {
	n := int64(length.Seconds() * float64(s.desc.Load.RatePerSecond))
	if n <= 0 {
		n = 1
	}
	var total, prev, jitter time.Duration
	for i := int64(0); i < n; i++ {
		d := s.delay()
		frames.RecordValue(d.Microseconds())
		total += d
		if i > 0 {
			diff := d - prev
			if diff < 0 {
				diff = -diff
			}
			jitter += diff
		}
		prev = d
	}

	// one frame of MeanSizeBytes per isochronous tick
	bytes := int64(float64(n) * s.desc.Load.MeanSizeBytes)
	if s.desc.Load.BandwidthBitsPerSecond > 0 {
		bytes = int64(s.desc.Load.BandwidthBitsPerSecond / 8 * length.Seconds())
	}

	rep := traffic.Report{
		Kind:    traffic.ReportInterval,
		Start:   start,
		End:     start + length,
		Bytes:   bytes,
		Latency: total / time.Duration(n),
	}
	if n > 1 {
		rep.Jitter = jitter / time.Duration(n-1)
	}
	return rep
}

func (s *session) delay() time.Duration {
	p := s.profile
	d := p.Base
	if p.Jitter > 0 {
		d += time.Duration(s.rng.Int63n(int64(p.Jitter)))
	}
	if p.SpikeChance > 0 && s.rng.Float64() < p.SpikeChance {
		d += p.Spike
	}
	return d
}
