package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"isoflow/internal/controller"
)

const namespace = "isoflow"

// Metrics exposes run and flow outcomes. It observes every finished run.
type Metrics struct {
	Registry *prometheus.Registry

	runs         *prometheus.CounterVec
	flows        *prometheus.CounterVec
	reports      *prometheus.CounterVec
	bytes        *prometheus.CounterVec
	runDuration  prometheus.Histogram
	flowDuration *prometheus.HistogramVec
	lastRun      prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Finished runs by outcome (ok when every flow completed).",
			},
			[]string{"outcome"},
		),
		flows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "flows_total",
				Help:      "Flows that reached a terminal state.",
			},
			[]string{"flow", "role", "state"},
		),
		reports: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "flow_reports_total",
				Help:      "Reports received from the traffic tool.",
			},
			[]string{"flow"},
		),
		bytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "flow_bytes_total",
				Help:      "Bytes reported transferred by the traffic tool.",
			},
			[]string{"flow"},
		),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time from run start to Done.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		flowDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flow_duration_seconds",
			Help:      "Time each flow spent running.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"flow"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
	}
	m.Registry.MustRegister(m.runs, m.flows, m.reports, m.bytes, m.runDuration, m.flowDuration, m.lastRun)
	return m
}

// ObserveRun records the outcome of a finished run.
func (m *Metrics) ObserveRun(res controller.Result) {
	outcome := "ok"
	if !res.OK() {
		outcome = "failed"
	}
	m.runs.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(res.Duration().Seconds())
	m.lastRun.Set(float64(res.FinishedAt.Unix()))

	for _, name := range res.Order {
		st := res.Status[name]
		m.flows.WithLabelValues(name, st.Role.String(), st.State.String()).Inc()
		m.reports.WithLabelValues(name).Add(float64(st.Reports))
		m.bytes.WithLabelValues(name).Add(float64(st.Bytes))
		m.flowDuration.WithLabelValues(name).Observe(st.Elapsed.Seconds())
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("serving metrics")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
