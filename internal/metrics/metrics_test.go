package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func labeledCounterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
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
			if matchLabels(m, labels) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func matchLabels(m *dto.Metric, want map[string]string) bool {
	got := make(map[string]string, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

// TestRecordAuthAttempt は認証試行が操作・結果ラベル付きで記録されることを検証する。
func TestRecordAuthAttempt(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAuthAttempt("login", "success")
	c.RecordAuthAttempt("login", "success")
	c.RecordAuthAttempt("login", "invalid-credential")
	c.RecordAuthAttempt("signup", "success")

	got := labeledCounterValue(t, reg, "lifeid_auth_attempts_total",
		map[string]string{"op": "login", "result": "success"})
	if got != 2 {
		t.Errorf("login/success = %v, want 2", got)
	}
	got = labeledCounterValue(t, reg, "lifeid_auth_attempts_total",
		map[string]string{"op": "login", "result": "invalid-credential"})
	if got != 1 {
		t.Errorf("login/invalid-credential = %v, want 1", got)
	}
}

// TestRecordProfileCounters はプロフィール系カウンタの増加を検証する。
func TestRecordProfileCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordProfileSave()
	c.RecordProfileSave()
	c.RecordProfileUpdate()
	c.RecordProfileDelete()
	c.RecordPublicView()
	c.RecordPublicView()
	c.RecordPublicView()

	if got := counterValue(t, reg, "lifeid_profile_saves_total"); got != 2 {
		t.Errorf("profile_saves = %v, want 2", got)
	}
	if got := counterValue(t, reg, "lifeid_profile_updates_total"); got != 1 {
		t.Errorf("profile_updates = %v, want 1", got)
	}
	if got := counterValue(t, reg, "lifeid_profile_deletes_total"); got != 1 {
		t.Errorf("profile_deletes = %v, want 1", got)
	}
	if got := counterValue(t, reg, "lifeid_public_views_total"); got != 3 {
		t.Errorf("public_views = %v, want 3", got)
	}
}

// TestRecordHTTPStatus はステータスコード別カウンタを検証する。
func TestRecordHTTPStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(404)

	got := labeledCounterValue(t, reg, "lifeid_http_status_total",
		map[string]string{"status_code": "200"})
	if got != 2 {
		t.Errorf("status 200 = %v, want 2", got)
	}
	got = labeledCounterValue(t, reg, "lifeid_http_status_total",
		map[string]string{"status_code": "404"})
	if got != 1 {
		t.Errorf("status 404 = %v, want 1", got)
	}
}

// TestRecordRequestLatency はレイテンシヒストグラムの観測数を検証する。
func TestRecordRequestLatency(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRequestLatency(10 * time.Millisecond)
	c.RecordRequestLatency(250 * time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "lifeid_request_latency_seconds" {
			continue
		}
		if count := mf.GetMetric()[0].GetHistogram().GetSampleCount(); count != 2 {
			t.Errorf("sample count = %d, want 2", count)
		}
		return
	}
	t.Error("lifeid_request_latency_seconds not found")
}

// TestRecordSessionsCleaned は削除セッション数の加算を検証する。
func TestRecordSessionsCleaned(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSessionsCleaned(3)
	c.RecordSessionsCleaned(2)

	if got := counterValue(t, reg, "lifeid_sessions_cleaned_total"); got != 5 {
		t.Errorf("sessions_cleaned = %v, want 5", got)
	}
}
