// Package metrics exposes the tick loop's and interest tracker's runtime
// counters as Prometheus collectors, served over a small net/http endpoint.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps a dedicated prometheus.Registry so test runs and multiple
// server instances in one process never collide on the default global
// registry.
type Registry struct {
	reg *prometheus.Registry

	TickDuration        prometheus.Histogram
	ReplicationBytes    prometheus.Counter
	ReplicationOverflow *prometheus.CounterVec
	ConnectedPeers      prometheus.Gauge
	MalformedFrames     prometheus.Counter
}

// New builds a Registry with every collector registered and ready to
// observe.
func New() *Registry {
	reg := prometheus.NewRegistry()

	m := &Registry{
		reg: reg,
		TickDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: "worldsync",
			Name:      "tick_duration_seconds",
			Help:      "Wall-clock duration of a single tick loop iteration.",
			Buckets:   prometheus.DefBuckets,
		}),
		ReplicationBytes: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "worldsync",
			Name:      "replication_bytes_total",
			Help:      "Total bytes written across all TRACKER_UPDATE frames.",
		}),
		ReplicationOverflow: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "worldsync",
			Name:      "replication_overflow_total",
			Help:      "Count of replication writes that could not fit every pending record, by observer.",
		}, []string{"observer"}),
		ConnectedPeers: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "worldsync",
			Name:      "connected_peers",
			Help:      "Current number of peer sessions in state READY or PENDING.",
		}),
		MalformedFrames: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "worldsync",
			Name:      "malformed_frames_total",
			Help:      "Total frames rejected by the codec across all peers.",
		}),
	}
	return m
}

// ObserveTick records the duration of one tick loop iteration.
func (m *Registry) ObserveTick(d time.Duration) {
	m.TickDuration.Observe(d.Seconds())
}

// ObserveReplicationWrite records a completed per-peer TRACKER_UPDATE
// write, including its overflow hint if the write was truncated.
func (m *Registry) ObserveReplicationWrite(observer string, bytesWritten int, overflowHint int) {
	m.ReplicationBytes.Add(float64(bytesWritten))
	if overflowHint > 0 {
		m.ReplicationOverflow.WithLabelValues(observer).Inc()
	}
}

// Handler returns the HTTP handler that serves this registry's collectors
// in the Prometheus text exposition format.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Serve starts an HTTP server bound to addr exposing Handler at /metrics.
// It blocks until ctx is canceled, then shuts the server down, returning
// nil on a clean shutdown.
func Serve(ctx context.Context, addr string, m *Registry) error {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics: serve %s: %w", addr, err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics: shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}
