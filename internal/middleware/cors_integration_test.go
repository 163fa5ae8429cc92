package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// Runs CORS inside the same chain ordering main uses: RequestID outermost,
// then CORS, then the handler. Rejected origins must still get a request ID
// so the refusal is traceable in the logs.
func TestCORS_IntegrationWithMiddlewareStack(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	wrappedHandler := RequestID(CORS(dashboardCORSConfig())(handler))

	t.Run("preflight request with request ID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/payments/initiate", nil)
		req.Header.Set("Origin", "https://hudumahub.co.ke")
		req.Header.Set("Access-Control-Request-Method", "POST")
		rr := httptest.NewRecorder()

		wrappedHandler.ServeHTTP(rr, req)

		if rr.Code != http.StatusNoContent {
			t.Errorf("expected status %d, got %d", http.StatusNoContent, rr.Code)
		}

		if origin := rr.Header().Get("Access-Control-Allow-Origin"); origin != "https://hudumahub.co.ke" {
			t.Errorf("expected CORS origin header, got: %s", origin)
		}

		if reqID := rr.Header().Get("X-Request-ID"); reqID == "" {
			t.Error("expected X-Request-ID header to be set")
		}
	})

	t.Run("actual request with CORS and request ID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "https://hudumahub.co.ke")
		rr := httptest.NewRecorder()

		wrappedHandler.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, rr.Code)
		}

		if origin := rr.Header().Get("Access-Control-Allow-Origin"); origin != "https://hudumahub.co.ke" {
			t.Errorf("expected CORS origin header, got: %s", origin)
		}

		if reqID := rr.Header().Get("X-Request-ID"); reqID == "" {
			t.Error("expected X-Request-ID header to be set")
		}

		if body := rr.Body.String(); body != "OK" {
			t.Errorf("expected body 'OK', got: %s", body)
		}
	})

	t.Run("unauthorized origin blocked before reaching handler", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "https://phishing.example")
		rr := httptest.NewRecorder()

		wrappedHandler.ServeHTTP(rr, req)

		if rr.Code != http.StatusForbidden {
			t.Errorf("expected status %d, got %d", http.StatusForbidden, rr.Code)
		}

		if reqID := rr.Header().Get("X-Request-ID"); reqID == "" {
			t.Error("expected X-Request-ID header even for rejected requests")
		}

		if origin := rr.Header().Get("Access-Control-Allow-Origin"); origin != "" {
			t.Errorf("expected no CORS headers for rejected origin, got: %s", origin)
		}
	})
}
