package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

type recordingStatus struct {
	codes []int
}

func (r *recordingStatus) RecordHTTPStatus(statusCode int) {
	r.codes = append(r.codes, statusCode)
}

func TestMetricsMiddleware_RecordsStatusCode(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    int
	}{
		{
			name:    "implicit 200",
			handler: func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("ok")) },
			want:    http.StatusOK,
		},
		{
			name:    "explicit 401",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusUnauthorized) },
			want:    http.StatusUnauthorized,
		},
		{
			name: "redirect",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Redirect(w, r, "/login", http.StatusSeeOther)
			},
			want: http.StatusSeeOther,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingStatus{}
			handler := NewMetricsMiddleware(rec)(tt.handler)

			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

			if len(rec.codes) != 1 || rec.codes[0] != tt.want {
				t.Errorf("recorded = %v, want [%d]", rec.codes, tt.want)
			}
		})
	}
}
