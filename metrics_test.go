package marquee

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsCollectorWithRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := NewMetricsCollectorWithRegistry(registry)

	if collector == nil {
		t.Fatal("NewMetricsCollectorWithRegistry() returned nil")
	}
	if collector.GetRegistry() != registry {
		t.Error("Registry not set correctly")
	}
}

func TestBuildInfoGauge(t *testing.T) {
	registry := prometheus.NewRegistry()
	NewMetricsCollectorWithRegistry(registry)

	if n := testutil.CollectAndCount(registry, "marquee_build_info"); n != 1 {
		t.Fatalf("Expected one build info series, got %d", n)
	}
	build := ReadBuildInfo()
	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Expected no gather error, got %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "marquee_build_info" {
			continue
		}
		labels := map[string]string{}
		for _, lp := range mf.GetMetric()[0].GetLabel() {
			labels[lp.GetName()] = lp.GetValue()
		}
		if labels["version"] != build.Version || labels["go_version"] != build.GoVersion {
			t.Errorf("Expected build labels %+v, got %v", build, labels)
		}
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var collector *MetricsCollector

	collector.RecordRequest(http.MethodGet, "host/", 200, time.Millisecond)
	collector.RecordChainStart(http.MethodGet, "host/")
	collector.RecordChainEnd(http.MethodGet, "host/", "ok", 1)
	collector.RecordRetry(ActionFallback, 404, "host/")
	collector.RecordError(ErrorTypeTransport, http.MethodGet, "host/")
	collector.RecordPolicyReload()

	if collector.GetRegistry() != nil {
		t.Error("Expected nil registry from nil collector")
	}
}

func TestRecordRequest(t *testing.T) {
	collector := NewMetricsCollector()

	collector.RecordRequest(http.MethodGet, "catalog.test/api/main/movies/", 200, 50*time.Millisecond)
	collector.RecordRequest(http.MethodGet, "catalog.test/api/main/movies/", 200, 10*time.Millisecond)

	got := testutil.ToFloat64(collector.requestsTotal.WithLabelValues(http.MethodGet, "200", "catalog.test/api/main/movies/"))
	if got != 2 {
		t.Errorf("Expected 2 requests recorded, got %v", got)
	}
}

func TestPipelineRecordsChainMetrics(t *testing.T) {
	collector := NewMetricsCollector()
	rt := &recordingTransport{script: sequence(
		statusResponse(http.StatusUnauthorized, ""),
		statusResponse(http.StatusOK, ""),
		statusResponse(http.StatusOK, "{}"),
	)}
	p := New(WithTransport(rt), WithMetricsCollector(collector))

	p.Send(context.Background(), NewRequest(http.MethodGet, testMoviesURL, nil))

	endpoint := "catalog.test/api/main/movies/"
	if got := testutil.ToFloat64(collector.chainsTotal.WithLabelValues("ok", endpoint)); got != 1 {
		t.Errorf("Expected 1 ok chain, got %v", got)
	}
	if got := testutil.ToFloat64(collector.retriesTotal.WithLabelValues("reauthenticate", "401", endpoint)); got != 1 {
		t.Errorf("Expected 1 reauthenticate action, got %v", got)
	}
	if got := testutil.ToFloat64(collector.chainsInFlight.WithLabelValues(http.MethodGet, endpoint)); got != 0 {
		t.Errorf("Expected no chains in flight, got %v", got)
	}
	if got := testutil.ToFloat64(collector.requestsTotal.WithLabelValues(http.MethodPost, "200", "catalog.test/api/users/refresh")); got != 1 {
		t.Errorf("Expected refresh call to be recorded, got %v", got)
	}
}

func TestPipelineRecordsErrorsAndReloads(t *testing.T) {
	collector := NewMetricsCollector()
	rt := &recordingTransport{script: sequence(statusResponse(http.StatusOK, "not json"))}
	p := New(WithTransport(rt), WithMetricsCollector(collector))

	req := NewRequest(http.MethodGet, testMoviesURL, nil)
	req.ExpectJSON = true
	p.Send(context.Background(), req)

	if got := testutil.ToFloat64(collector.errorsTotal.WithLabelValues(ErrorTypeParse, http.MethodGet, "catalog.test/api/main/movies/")); got != 1 {
		t.Errorf("Expected 1 parse error, got %v", got)
	}

	if err := p.UpdatePolicy(DefaultRetryPolicy()); err != nil {
		t.Fatalf("UpdatePolicy failed: %v", err)
	}
	if got := testutil.ToFloat64(collector.policyReloads); got != 1 {
		t.Errorf("Expected 1 policy reload, got %v", got)
	}
}
