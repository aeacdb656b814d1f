package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	h := CORS([]string{"https://chat.example"})(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	req.Header.Set("Origin", "https://chat.example")
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)

	if got := resp.Header().Get("Access-Control-Allow-Origin"); got != "https://chat.example" {
		t.Fatalf("expected origin echoed, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/users", nil)
	req.Header.Set("Origin", "https://evil.example")
	resp = httptest.NewRecorder()
	h.ServeHTTP(resp, req)

	if got := resp.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("expected no CORS header, got %q", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	h := CORS([]string{"*"})(okHandler)

	req := httptest.NewRequest(http.MethodOptions, "/api/users", nil)
	req.Header.Set("Origin", "https://anything.example")
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)

	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
}

func TestAllowOrigin(t *testing.T) {
	check := AllowOrigin([]string{"https://chat.example"})

	req := httptest.NewRequest(http.MethodGet, "/ws/chat/bob", nil)
	if !check(req) {
		t.Fatalf("requests without Origin should pass")
	}
	req.Header.Set("Origin", "https://evil.example")
	if check(req) {
		t.Fatalf("foreign origin should be rejected")
	}
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(1, 2)(okHandler)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		resp := httptest.NewRecorder()
		h.ServeHTTP(resp, req)
		codes = append(codes, resp.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status sequence %v", codes)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("other clients must have their own bucket, got %d", resp.Code)
	}
}

func TestRateLimitDisabled(t *testing.T) {
	h := RateLimit(0, 0)(okHandler)
	for i := 0; i < 100; i++ {
		resp := httptest.NewRecorder()
		h.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))
		if resp.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.Code)
		}
	}
}

func TestRequestLoggerRedactsCredentials(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	h := RequestLogger(zap.New(core))(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("Accept", "application/json")
	h.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one log line, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["status"] != int64(http.StatusOK) {
		t.Fatalf("unexpected status field %v", fields["status"])
	}
	for _, name := range fields["headers"].([]interface{}) {
		if name == "Authorization" {
			t.Fatalf("authorization header must not be logged")
		}
	}
}
