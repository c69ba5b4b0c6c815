package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name       string
		patterns   []string
		origin     string
		method     string
		wantAllow  string
		wantCreds  string
		wantStatus int
	}{
		{name: "wildcard", patterns: []string{"*"}, origin: "http://a.test", method: http.MethodGet, wantAllow: "http://a.test", wantStatus: http.StatusNoContent},
		{name: "explicit host gets credentials", patterns: []string{"chat.example.com"}, origin: "https://chat.example.com", method: http.MethodGet, wantAllow: "https://chat.example.com", wantCreds: "true", wantStatus: http.StatusNoContent},
		{name: "glob host", patterns: []string{"*.example.com"}, origin: "https://app.example.com", method: http.MethodGet, wantAllow: "https://app.example.com", wantCreds: "true", wantStatus: http.StatusNoContent},
		{name: "rejected", patterns: []string{"chat.example.com"}, origin: "https://evil.test", method: http.MethodGet, wantStatus: http.StatusNoContent},
		{name: "preflight", patterns: []string{"*"}, origin: "http://a.test", method: http.MethodOptions, wantAllow: "http://a.test", wantStatus: http.StatusOK},
		{name: "no origin", patterns: []string{"*"}, method: http.MethodGet, wantStatus: http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/stats", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()

			CORS(tt.patterns)(next).ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantAllow)
			}
			if got := w.Header().Get("Access-Control-Allow-Credentials"); got != tt.wantCreds {
				t.Errorf("Allow-Credentials = %q, want %q", got, tt.wantCreds)
			}
		})
	}
}
