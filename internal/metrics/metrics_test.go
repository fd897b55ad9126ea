package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/hitoshi/allergyboard/internal/auth"
	"github.com/hitoshi/allergyboard/internal/ratelimit"
	"github.com/hitoshi/allergyboard/internal/worker/cleanup"
)

var (
	_ auth.Metrics      = (*Collector)(nil)
	_ ratelimit.Metrics = (*Collector)(nil)
	_ cleanup.Recorder  = (*Collector)(nil)
)

// findFamily は名前でメトリクスファミリーを探す。見つからなければテストを失敗させる。
func findFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("%s metric not found", name)
	return nil
}

// labelValue はメトリクスから指定ラベルの値を返す。
func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordSessionCreated_IncrementsCounter はセッション発行カウンタが増加することを検証する。
func TestRecordSessionCreated_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSessionCreated()
	c.RecordSessionCreated()

	mf := findFamily(t, reg, "allergyboard_sessions_created_total")
	if got := mf.GetMetric()[0].GetCounter().GetValue(); got != 2 {
		t.Errorf("sessions_created_total = %v, want 2", got)
	}
}

// TestRecordSessionValidation_CountsByResult は検証結果ごとにカウントされることを検証する。
func TestRecordSessionValidation_CountsByResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSessionValidation("valid")
	c.RecordSessionValidation("valid")
	c.RecordSessionValidation("expired")
	c.RecordSessionValidation("not_found")

	mf := findFamily(t, reg, "allergyboard_session_validations_total")
	want := map[string]float64{"valid": 2, "expired": 1, "not_found": 1}
	if len(mf.GetMetric()) != len(want) {
		t.Fatalf("expected %d metrics, got %d", len(want), len(mf.GetMetric()))
	}
	for _, m := range mf.GetMetric() {
		result := labelValue(m, "result")
		if got := m.GetCounter().GetValue(); got != want[result] {
			t.Errorf("session_validations_total{result=%q} = %v, want %v", result, got, want[result])
		}
	}
}

// TestRecordSessionRenewed_IncrementsCounter はセッション延長カウンタが増加することを検証する。
func TestRecordSessionRenewed_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSessionRenewed()

	mf := findFamily(t, reg, "allergyboard_sessions_renewed_total")
	if got := mf.GetMetric()[0].GetCounter().GetValue(); got != 1 {
		t.Errorf("sessions_renewed_total = %v, want 1", got)
	}
}

// TestRecordCallback_CountsByProviderAndOutcome はコールバック結果がラベル付きで記録されることを検証する。
func TestRecordCallback_CountsByProviderAndOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordCallback("google", "linked")
	c.RecordCallback("google", "registration_pending")
	c.RecordCallback("github", "linked")
	c.RecordCallback("google", "linked")

	mf := findFamily(t, reg, "allergyboard_oauth_callbacks_total")
	counts := make(map[string]float64)
	for _, m := range mf.GetMetric() {
		counts[labelValue(m, "provider")+"/"+labelValue(m, "outcome")] = m.GetCounter().GetValue()
	}

	want := map[string]float64{
		"google/linked":               2,
		"google/registration_pending": 1,
		"github/linked":               1,
	}
	for key, v := range want {
		if counts[key] != v {
			t.Errorf("oauth_callbacks_total[%s] = %v, want %v", key, counts[key], v)
		}
	}
}

// TestRecordRegistration_CountsByResult は登録結果ごとにカウントされることを検証する。
func TestRecordRegistration_CountsByResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRegistration("created")
	c.RecordRegistration("duplicate")

	mf := findFamily(t, reg, "allergyboard_registrations_total")
	if len(mf.GetMetric()) != 2 {
		t.Fatalf("expected 2 metrics, got %d", len(mf.GetMetric()))
	}
	for _, m := range mf.GetMetric() {
		if got := m.GetCounter().GetValue(); got != 1 {
			t.Errorf("registrations_total{result=%q} = %v, want 1", labelValue(m, "result"), got)
		}
	}
}

// TestRecordRateLimitExceeded_CountsByFeature はレート制限超過が機能別に記録されることを検証する。
func TestRecordRateLimitExceeded_CountsByFeature(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRateLimitExceeded(ratelimit.FeatureLogin)
	c.RecordRateLimitExceeded(ratelimit.FeatureLogin)
	c.RecordRateLimitExceeded(ratelimit.FeatureRegistration)

	mf := findFamily(t, reg, "allergyboard_rate_limit_exceeded_total")
	for _, m := range mf.GetMetric() {
		feature := labelValue(m, "feature")
		want := 1.0
		if feature == ratelimit.FeatureLogin {
			want = 2
		}
		if got := m.GetCounter().GetValue(); got != want {
			t.Errorf("rate_limit_exceeded_total{feature=%q} = %v, want %v", feature, got, want)
		}
	}
}

// TestRecordSessionsSwept_ObservesCountAndLatency は削除件数と所要時間が記録されることを検証する。
func TestRecordSessionsSwept_ObservesCountAndLatency(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSessionsSwept(12, 150*time.Millisecond)
	c.RecordSessionsSwept(3, 50*time.Millisecond)

	swept := findFamily(t, reg, "allergyboard_sessions_swept_total")
	if got := swept.GetMetric()[0].GetCounter().GetValue(); got != 15 {
		t.Errorf("sessions_swept_total = %v, want 15", got)
	}

	latency := findFamily(t, reg, "allergyboard_session_sweep_duration_seconds")
	h := latency.GetMetric()[0].GetHistogram()
	if h.GetSampleCount() != 2 {
		t.Errorf("sample count = %d, want 2", h.GetSampleCount())
	}
	if sum := h.GetSampleSum(); sum < 0.19 || sum > 0.21 {
		t.Errorf("sample sum = %v, want ~0.2", sum)
	}
}

// TestRecordHTTPStatus_IncrementsCounterWithLabel はステータスコードラベル付きで記録されることを検証する。
func TestRecordHTTPStatus_IncrementsCounterWithLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(429)
	c.RecordHTTPStatus(200)

	mf := findFamily(t, reg, "allergyboard_http_responses_total")
	for _, m := range mf.GetMetric() {
		code := labelValue(m, "status_code")
		want := 1.0
		if code == "200" {
			want = 2
		}
		if got := m.GetCounter().GetValue(); got != want {
			t.Errorf("http_responses_total{status_code=%q} = %v, want %v", code, got, want)
		}
	}
}

// TestMultipleCollectors_IndependentRegistries は異なるレジストリで独立に動作することを検証する。
func TestMultipleCollectors_IndependentRegistries(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()
	c1 := NewCollector(reg1)
	c2 := NewCollector(reg2)

	c1.RecordSessionCreated()
	c2.RecordSessionCreated()
	c2.RecordSessionCreated()

	val1 := findFamily(t, reg1, "allergyboard_sessions_created_total").GetMetric()[0].GetCounter().GetValue()
	val2 := findFamily(t, reg2, "allergyboard_sessions_created_total").GetMetric()[0].GetCounter().GetValue()

	if val1 != 1 {
		t.Errorf("reg1 sessions_created = %v, want 1", val1)
	}
	if val2 != 2 {
		t.Errorf("reg2 sessions_created = %v, want 2", val2)
	}
}
