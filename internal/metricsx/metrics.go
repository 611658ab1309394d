// Package metricsx exposes Prometheus metrics for the PipelineEngine
// and DispositionEngine: a singleton registered once at startup and a
// small HTTP server serving /metrics via promhttp.
package metricsx

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/busybox42/decency/internal/filter"
	"github.com/busybox42/decency/internal/pipeline"
)

var (
	instance *Metrics
	once     sync.Once
)

// Metrics holds every counter/histogram the Content Filter emits.
type Metrics struct {
	ModuleInvocations *prometheus.CounterVec
	ModuleScoreDelta   *prometheus.HistogramVec
	ModuleElapsed      *prometheus.HistogramVec
	Dispositions       *prometheus.CounterVec
	PipelineRuns       prometheus.Counter
}

// Get returns the process-wide singleton, registering metrics on
// first call.
func Get() *Metrics {
	once.Do(func() {
		instance = &Metrics{
			ModuleInvocations: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "decency_module_invocations_total",
				Help: "Total module invocations by module name and outcome status.",
			}, []string{"module", "status"}),
			ModuleScoreDelta: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "decency_module_score_delta",
				Help:    "Score delta contributed per module invocation.",
				Buckets: []float64{-200, -100, -50, -20, -10, -5, 0, 5, 10},
			}, []string{"module"}),
			ModuleElapsed: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "decency_module_elapsed_seconds",
				Help:    "Wall-clock time spent in each module's Handle call.",
				Buckets: prometheus.DefBuckets,
			}, []string{"module"}),
			Dispositions: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "decency_dispositions_total",
				Help: "Total pipeline runs by final disposition code.",
			}, []string{"code"}),
			PipelineRuns: promauto.NewCounter(prometheus.CounterOpts{
				Name: "decency_pipeline_runs_total",
				Help: "Total number of completed pipeline runs.",
			}),
		}
	})
	return instance
}

// RecordRun folds one pipeline.RunStats plus the eventual disposition
// code into the registered metrics. Called once per message, after
// DispositionEngine.Resolve returns.
func (m *Metrics) RecordRun(stats pipeline.RunStats, code filter.DispositionCode) {
	m.PipelineRuns.Inc()
	m.Dispositions.WithLabelValues(string(code)).Inc()
	for _, stat := range stats.Modules {
		m.ModuleInvocations.WithLabelValues(stat.Module, stat.Status).Inc()
		m.ModuleScoreDelta.WithLabelValues(stat.Module).Observe(float64(stat.ScoreDelta))
		m.ModuleElapsed.WithLabelValues(stat.Module).Observe(stat.Elapsed.Seconds())
	}
}

// Server is the small HTTP server exposing /metrics, started
// alongside the SMTPFrontend.
type Server struct {
	httpServer *http.Server
}

// StartServer binds addr and begins serving /metrics in the
// background. Call Shutdown to stop it cleanly.
func StartServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	httpServer := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return &Server{httpServer: httpServer}
}

// Shutdown gracefully stops the metrics HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// shutdownTimeout is the default grace period callers may use when
// they don't have their own deadline handy.
const shutdownTimeout = 5 * time.Second

// ShutdownDefault stops the metrics server with shutdownTimeout as its
// deadline, for callers that don't already carry a context.
func (s *Server) ShutdownDefault() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Shutdown(ctx)
}
