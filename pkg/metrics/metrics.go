// Package metrics exposes poll-cycle outcomes as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/hnmirror/hn-mirror/pkg/models"
)

const (
	namespace = "hn_mirror"
	subsystem = "crawler"
)

// Cycle results used as the "result" label
const (
	ResultSuccess = "success"
	ResultFailed  = "failed"
)

// Metrics holds the counters updated after every finished cycle
type Metrics struct {
	CyclesTotal          *prometheus.CounterVec
	CycleDurationSeconds prometheus.Histogram
	LastCycleTimestamp   prometheus.Gauge
	ItemsDiscovered      prometheus.Counter
	ItemsStored          prometheus.Counter
	ItemFailures         prometheus.Counter
	CommentFailures      prometheus.Counter
	LinksStored          prometheus.Counter
	LinkFailures         prometheus.Counter
}

// NewMetrics creates the metrics and registers them with reg
// (the default registerer when nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
		})
	}

	return &Metrics{
		CyclesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cycles_total",
			Help:      "Poll cycles run, by result",
		}, []string{"result"}),
		CycleDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of a poll cycle",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~17min
		}),
		LastCycleTimestamp: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "last_cycle_timestamp_seconds",
			Help:      "Unix time the last cycle finished",
		}),
		ItemsDiscovered: counter("items_discovered_total", "Stories discovered on the listing page"),
		ItemsStored:     counter("items_stored_total", "Primary documents stored"),
		ItemFailures:    counter("item_failures_total", "Primary documents that could not be fetched or stored"),
		CommentFailures: counter("comment_failures_total", "Comment pages that could not be fetched"),
		LinksStored:     counter("links_stored_total", "Comment-linked documents stored"),
		LinkFailures:    counter("link_failures_total", "Comment-linked documents that failed"),
	}
}

// ObserveCycle adds one finished cycle to the metrics
func (m *Metrics) ObserveCycle(result models.CycleResult, err error) {
	label := ResultSuccess
	if err != nil || !result.Success() {
		label = ResultFailed
	}
	m.CyclesTotal.WithLabelValues(label).Inc()
	m.CycleDurationSeconds.Observe(result.Duration().Seconds())
	if !result.FinishedAt.IsZero() {
		m.LastCycleTimestamp.Set(float64(result.FinishedAt.Unix()))
	}

	m.ItemsDiscovered.Add(float64(result.Discovered))
	m.ItemsStored.Add(float64(result.ItemsStored))
	m.ItemFailures.Add(float64(result.ItemFailures))
	m.CommentFailures.Add(float64(result.CommentFailures))
	m.LinksStored.Add(float64(result.LinksStored))
	m.LinkFailures.Add(float64(result.LinkFailures))
}

// Serve exposes gatherer on addr under /metrics until ctx is cancelled
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer, log *logrus.Entry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Infof("Serving metrics on %s/metrics", addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
