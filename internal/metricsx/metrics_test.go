package metricsx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/busybox42/decency/internal/filter"
	"github.com/busybox42/decency/internal/pipeline"
)

func TestGet_ReturnsSameSingletonAcrossCalls(t *testing.T) {
	m1 := Get()
	m2 := Get()
	assert.Same(t, m1, m2)
}

func TestRecordRun_IncrementsCountersAndObservesHistograms(t *testing.T) {
	m := Get()

	before := testutil.ToFloat64(m.PipelineRuns)

	stats := pipeline.RunStats{Modules: []pipeline.ModuleStat{
		{Module: "cmdfilter", Status: "OK", ScoreDelta: -5, Elapsed: 10 * time.Millisecond},
		{Module: "spamc", Status: "SPAM", ScoreDelta: -20, Elapsed: 50 * time.Millisecond},
	}}

	m.RecordRun(stats, filter.DispositionBounce)

	after := testutil.ToFloat64(m.PipelineRuns)
	assert.Equal(t, before+1, after)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.Dispositions.WithLabelValues(string(filter.DispositionBounce))))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ModuleInvocations.WithLabelValues("cmdfilter", "OK")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ModuleInvocations.WithLabelValues("spamc", "SPAM")))
}

func TestStartServer_ServesMetricsEndpoint(t *testing.T) {
	Get().PipelineRuns.Inc()

	srv := StartServer("127.0.0.1:0")
	// StartServer binds lazily inside ListenAndServe, so exercise the
	// handler directly instead of racing the background goroutine for
	// a real socket.
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	req, err := http.NewRequest(http.MethodGet, "http://example.invalid/metrics", nil)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "decency_pipeline_runs_total")
}
