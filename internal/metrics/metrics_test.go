package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/hitoshi/codepair/internal/middleware"
	"github.com/hitoshi/codepair/internal/session"
)

// インターフェース実装の検証
var (
	_ MetricsCollector               = (*Collector)(nil)
	_ session.MetricsRecorder        = (*Collector)(nil)
	_ middleware.HTTPMetricsRecorder = (*Collector)(nil)
)

// findMetric はレジストリから名前とラベルが一致するメトリクスを探す。
func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m, labels) {
				return m
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return nil
}

func labelsMatch(m *dto.Metric, labels map[string]string) bool {
	if len(m.GetLabel()) != len(labels) {
		return false
	}
	for _, lp := range m.GetLabel() {
		if labels[lp.GetName()] != lp.GetValue() {
			return false
		}
	}
	return true
}

func TestRecordSessionCreated_CountsByDifficulty(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSessionCreated("easy")
	c.RecordSessionCreated("easy")
	c.RecordSessionCreated("hard")

	if v := findMetric(t, reg, "codepair_sessions_created_total", map[string]string{"difficulty": "easy"}).GetCounter().GetValue(); v != 2 {
		t.Errorf("easy = %v, want 2", v)
	}
	if v := findMetric(t, reg, "codepair_sessions_created_total", map[string]string{"difficulty": "hard"}).GetCounter().GetValue(); v != 1 {
		t.Errorf("hard = %v, want 1", v)
	}
}

func TestLifecycleCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSessionJoined()
	c.RecordJoinConflict()
	c.RecordJoinConflict()
	c.RecordSessionEnded()

	tests := map[string]float64{
		"codepair_sessions_joined_total": 1,
		"codepair_join_conflicts_total":  2,
		"codepair_sessions_ended_total":  1,
	}
	for name, want := range tests {
		if v := findMetric(t, reg, name, nil).GetCounter().GetValue(); v != want {
			t.Errorf("%s = %v, want %v", name, v, want)
		}
	}
}

func TestRecordProviderCall_LabelsResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordProviderCall("create_call", 100*time.Millisecond, nil)
	c.RecordProviderCall("create_call", 200*time.Millisecond, errors.New("502"))

	ok := findMetric(t, reg, "codepair_provider_calls_total", map[string]string{"operation": "create_call", "result": "success"})
	if v := ok.GetCounter().GetValue(); v != 1 {
		t.Errorf("success = %v, want 1", v)
	}
	failed := findMetric(t, reg, "codepair_provider_calls_total", map[string]string{"operation": "create_call", "result": "error"})
	if v := failed.GetCounter().GetValue(); v != 1 {
		t.Errorf("error = %v, want 1", v)
	}

	h := findMetric(t, reg, "codepair_provider_call_duration_seconds", map[string]string{"operation": "create_call"}).GetHistogram()
	if h.GetSampleCount() != 2 {
		t.Errorf("sample count = %d, want 2", h.GetSampleCount())
	}
	if sum := h.GetSampleSum(); sum < 0.29 || sum > 0.31 {
		t.Errorf("sample sum = %v, want ~0.3", sum)
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPRequest("POST", "/api/sessions/{id}/join", "409", 5*time.Millisecond)

	m := findMetric(t, reg, "codepair_http_requests_total", map[string]string{"method": "POST", "route": "/api/sessions/{id}/join", "status": "409"})
	if v := m.GetCounter().GetValue(); v != 1 {
		t.Errorf("http_requests_total = %v, want 1", v)
	}
	h := findMetric(t, reg, "codepair_http_request_duration_seconds", map[string]string{"method": "POST", "route": "/api/sessions/{id}/join"})
	if h.GetHistogram().GetSampleCount() != 1 {
		t.Errorf("sample count = %d, want 1", h.GetHistogram().GetSampleCount())
	}
}

// TestMetricsHandler_ReturnsPrometheusFormat は/metricsエンドポイントがPrometheus形式で返すことを検証する。
func TestMetricsHandler_ReturnsPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSessionCreated("medium")
	c.RecordSessionEnded()
	c.RecordProviderCall("delete_call", time.Millisecond, nil)

	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	body, _ := io.ReadAll(w.Body)
	for _, metric := range []string{
		"codepair_sessions_created_total",
		"codepair_sessions_ended_total",
		"codepair_provider_calls_total",
		"codepair_provider_call_duration_seconds",
	} {
		if !strings.Contains(string(body), metric) {
			t.Errorf("response body does not contain %q", metric)
		}
	}
}

// TestMultipleCollectors_IndependentRegistries は異なるレジストリで独立に動作することを検証する。
func TestMultipleCollectors_IndependentRegistries(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()
	c1 := NewCollector(reg1)
	c2 := NewCollector(reg2)

	c1.RecordSessionJoined()
	c2.RecordSessionJoined()
	c2.RecordSessionJoined()

	if v := findMetric(t, reg1, "codepair_sessions_joined_total", nil).GetCounter().GetValue(); v != 1 {
		t.Errorf("reg1 joined = %v, want 1", v)
	}
	if v := findMetric(t, reg2, "codepair_sessions_joined_total", nil).GetCounter().GetValue(); v != 2 {
		t.Errorf("reg2 joined = %v, want 2", v)
	}
}
