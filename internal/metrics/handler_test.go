package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewRegistry_IncludesRuntimeCollectors(t *testing.T) {
	reg := NewRegistry()
	NewCollector(reg)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	found := map[string]bool{}
	for _, f := range families {
		found[f.GetName()] = true
	}
	if !found["go_goroutines"] {
		t.Error("go_goroutines should be registered")
	}
}

func TestHandler_ExposesCollectorMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordSessionCreated()
	c.RecordCallback("google", "linked")
	c.RecordRateLimitExceeded("login")

	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	body, _ := io.ReadAll(w.Body)
	for _, want := range []string{
		"allergyboard_sessions_created_total 1",
		`allergyboard_oauth_callbacks_total{outcome="linked",provider="google"} 1`,
		`allergyboard_rate_limit_exceeded_total{feature="login"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("response should contain %s", want)
		}
	}
}

// TestSetupMetricsRoute はワーカー用ルートが /metrics と /health だけを持つことを検証する。
func TestSetupMetricsRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg).RecordSessionsSwept(3, 0)
	handler := SetupMetricsRoute(reg)

	tests := []struct {
		method     string
		path       string
		wantStatus int
		wantBody   string
	}{
		{http.MethodGet, "/metrics", http.StatusOK, "allergyboard_sessions_swept_total 3"},
		{http.MethodGet, "/health", http.StatusOK, `{"status":"ok"}`},
		{http.MethodPost, "/health", http.StatusMethodNotAllowed, ""},
		{http.MethodGet, "/auth/me", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("body should contain %s, got %s", tt.wantBody, w.Body.String())
			}
		})
	}
}
