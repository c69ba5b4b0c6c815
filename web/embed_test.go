package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerServesIndex(t *testing.T) {
	for _, path := range []string{"/", "/some/client/route"} {
		w := httptest.NewRecorder()
		Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))

		if w.Code != http.StatusOK {
			t.Fatalf("GET %s: status = %d, want 200", path, w.Code)
		}
		if !strings.Contains(w.Body.String(), "/ws?username=") {
			t.Errorf("GET %s: body does not contain the chat client", path)
		}
	}
}
