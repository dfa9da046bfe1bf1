package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name        string
		allowed     string
		method      string
		origin      string
		wantStatus  int
		wantNext    bool
		wantAllowed string
	}{
		{"GET passes through", "http://localhost:5173", http.MethodGet, "", http.StatusOK, true, "http://localhost:5173"},
		{"POST passes through", "https://app.example.com", http.MethodPost, "https://app.example.com", http.StatusCreated, true, "https://app.example.com"},
		{"preflight stops at 204", "http://localhost:5173", http.MethodOptions, "http://localhost:5173", http.StatusNoContent, false, "http://localhost:5173"},
		{"listed origin is echoed", "http://localhost:5173, https://app.example.com/", http.MethodGet, "https://app.example.com", http.StatusOK, true, "https://app.example.com"},
		{"first listed origin", "http://localhost:5173, https://app.example.com/", http.MethodGet, "http://localhost:5173", http.StatusOK, true, "http://localhost:5173"},
		{"unlisted origin", "http://localhost:5173, https://app.example.com", http.MethodGet, "https://evil.example.com", http.StatusOK, true, ""},
		{"no origin with list", "http://localhost:5173, https://app.example.com", http.MethodGet, "", http.StatusOK, true, ""},
		{"wildcard in list", "*, http://localhost:5173", http.MethodGet, "https://any.example.com", http.StatusOK, true, "https://any.example.com"},
		{"nothing configured", "", http.MethodGet, "https://app.example.com", http.StatusOK, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := NewCORSMiddleware(tt.allowed)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(tt.wantStatus)
			}))

			req := httptest.NewRequest(tt.method, "/habits/my", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if called != tt.wantNext {
				t.Errorf("next called = %v, want %v", called, tt.wantNext)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllowed {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.wantAllowed)
			}
			if got := w.Header().Get("Vary"); got != "Origin" {
				t.Errorf("Vary = %q, want Origin", got)
			}
		})
	}
}

// Cookieは使わないためAllow-Credentialsは付与しない
func TestCORSMiddleware_FixedHeaders(t *testing.T) {
	handler := NewCORSMiddleware("http://localhost:5173")(http.NotFoundHandler())
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/habits", nil))

	want := map[string]string{
		"Access-Control-Allow-Methods":     "GET, POST, PATCH, DELETE, OPTIONS",
		"Access-Control-Allow-Headers":     "Authorization, Content-Type",
		"Access-Control-Expose-Headers":    "Retry-After",
		"Access-Control-Max-Age":           "86400",
		"Access-Control-Allow-Credentials": "",
	}
	for k, v := range want {
		if got := w.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}
