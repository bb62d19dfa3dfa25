package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"hublievents.com/internal/audit"
	"hublievents.com/internal/obs"
)

func TestRateLimitExceeded(t *testing.T) {
	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RequestID(RateLimit(base, 1, 1, nil), "session_id")

	req := httptest.NewRequest(http.MethodGet, "/limited", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, req.Clone(context.Background()))
	if rr1.Code != http.StatusOK {
		t.Fatalf("expected first call 200, got %d", rr1.Code)
	}

	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, req.Clone(context.Background()))
	if rr2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr2.Code)
	}
	if rr2.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}

	var body map[string]any
	if err := json.Unmarshal(rr2.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode rate limit body: %v", err)
	}
	if body["error"] == "" {
		t.Fatalf("expected error message in body")
	}
	if body["request_id"] == "" || body["request_id"] != rr2.Header().Get(requestIDHeader) {
		t.Fatalf("expected request_id in body, got %v", body["request_id"])
	}

	other := req.Clone(context.Background())
	other.RemoteAddr = "10.0.0.2:1234"
	rr3 := httptest.NewRecorder()
	handler.ServeHTTP(rr3, other)
	if rr3.Code != http.StatusOK {
		t.Fatalf("buckets must be per client, got %d", rr3.Code)
	}
}

func TestLoggingJSONEmitsStructuredEntry(t *testing.T) {
	var buf bytes.Buffer
	restore := obs.SetOutput(&buf)
	defer restore()

	handler := RequestID(LoggingJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("ok"))
	})), "session_id")

	req := httptest.NewRequest(http.MethodGet, "/log-test", nil)
	req.Header.Set("User-Agent", "middleware-test")
	req.RemoteAddr = "127.0.0.1:1234"

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	line := strings.TrimSpace(buf.String())
	if line == "" {
		t.Fatal("expected log line")
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log is not valid JSON: %v", err)
	}
	for _, key := range []string{"ts", "level", "message", "request_id", "method", "path", "status", "duration_ms", "remote_ip", "user_agent"} {
		if _, ok := entry[key]; !ok {
			t.Fatalf("expected key %q in log entry", key)
		}
	}
	if entry["message"] != "request_complete" {
		t.Fatalf("unexpected message: %v", entry["message"])
	}
	if entry["status"] != float64(http.StatusTeapot) {
		t.Fatalf("unexpected status: %v", entry["status"])
	}
}

func TestRequestIDPropagatesMeta(t *testing.T) {
	var got audit.RequestMeta
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = audit.MetaFromContext(r.Context())
	}), "hub_sid")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	req.Header.Set("User-Agent", "ua")
	req.Header.Set("X-Real-IP", "192.0.2.7")
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "wrong-name"})
	req.AddCookie(&http.Cookie{Name: "hub_sid", Value: "sid-1"})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	want := audit.RequestMeta{RequestID: "abc-123", IPAddress: "192.0.2.7", UserAgent: "ua", SessionID: "sid-1"}
	if got != want {
		t.Fatalf("meta = %+v, want %+v", got, want)
	}
	if rr.Header().Get(requestIDHeader) != "abc-123" {
		t.Fatalf("request id not echoed")
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "has space")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if got.RequestID == "has space" || got.RequestID == "" {
		t.Fatalf("unsafe request id should be replaced, got %q", got.RequestID)
	}
}

func TestClientIPOrder(t *testing.T) {
	cases := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded first hop", map[string]string{"X-Forwarded-For": "203.0.113.1, 10.0.0.1", "X-Real-IP": "198.51.100.1"}, "10.0.0.9:80", "203.0.113.1"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.1"}, "10.0.0.9:80", "198.51.100.1"},
		{"remote addr", nil, "10.0.0.9:80", "10.0.0.9"},
		{"remote addr without port", nil, "10.0.0.9", "10.0.0.9"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tc.remote
		for k, v := range tc.headers {
			req.Header.Set(k, v)
		}
		if got := clientIP(req); got != tc.want {
			t.Fatalf("%s: got %q want %q", tc.name, got, tc.want)
		}
	}
}

func TestTrustedProxiesClientAddr(t *testing.T) {
	proxies, err := ParseTrustedProxies([]string{"10.0.0.0/8", " 192.0.2.10 "})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cases := []struct {
		name    string
		proxies TrustedProxies
		headers map[string]string
		remote  string
		want    string
	}{
		{"untrusted peer ignores forwarded", proxies, map[string]string{"X-Forwarded-For": "203.0.113.7"}, "198.51.100.4:5000", "198.51.100.4"},
		{"untrusted peer ignores real ip", proxies, map[string]string{"X-Real-IP": "203.0.113.7"}, "198.51.100.4:5000", "198.51.100.4"},
		{"no proxies configured", nil, map[string]string{"X-Forwarded-For": "203.0.113.7"}, "10.0.0.5:80", "10.0.0.5"},
		{"trusted peer uses forwarded", proxies, map[string]string{"X-Forwarded-For": "203.0.113.7"}, "10.0.0.5:80", "203.0.113.7"},
		{"spoofed left hop skipped", proxies, map[string]string{"X-Forwarded-For": "1.2.3.4, 203.0.113.7, 10.1.1.1"}, "192.0.2.10:80", "203.0.113.7"},
		{"garbage hop stops the walk", proxies, map[string]string{"X-Forwarded-For": "203.0.113.7, bogus, 10.1.1.1"}, "10.0.0.5:80", "10.1.1.1"},
		{"trusted peer real ip", proxies, map[string]string{"X-Real-IP": "203.0.113.9"}, "10.0.0.5:80", "203.0.113.9"},
		{"trusted peer no headers", proxies, nil, "10.0.0.5:80", "10.0.0.5"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.RemoteAddr = tc.remote
		for k, v := range tc.headers {
			req.Header.Set(k, v)
		}
		if got := tc.proxies.ClientAddr(req); got != tc.want {
			t.Fatalf("%s: got %q want %q", tc.name, got, tc.want)
		}
	}

	if _, err := ParseTrustedProxies([]string{"proxy.internal"}); err == nil {
		t.Fatal("expected error for hostname entry")
	}
}

func TestRateLimitIgnoresSpoofedForwardedFor(t *testing.T) {
	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	handler := RequestID(RateLimit(base, 1, 1, nil), "session_id")

	codes := map[int]int{}
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "198.51.100.4:5000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i+1))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		codes[rr.Code]++
	}
	if codes[http.StatusOK] != 1 || codes[http.StatusTooManyRequests] != 4 {
		t.Fatalf("rotating X-Forwarded-For escaped the limiter: %v", codes)
	}
}

func TestSecurityHeadersHSTSOnlyWhenEnabled(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	for _, hsts := range []bool{false, true} {
		rr := httptest.NewRecorder()
		SecurityHeaders(ok, hsts).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		if rr.Header().Get("X-Frame-Options") != "DENY" || rr.Header().Get("X-Content-Type-Options") != "nosniff" {
			t.Fatalf("missing hardening headers: %v", rr.Header())
		}
		if got := rr.Header().Get("Strict-Transport-Security") != ""; got != hsts {
			t.Fatalf("hsts=%v but header present=%v", hsts, got)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	called := false
	h := CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }), []string{"https://hublievents.com"})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/auth/login", nil)
	req.Header.Set("Origin", "https://hublievents.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent || called {
		t.Fatalf("preflight should stop at CORS: code=%d called=%v", rr.Code, called)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "https://hublievents.com" ||
		rr.Header().Get("Access-Control-Allow-Credentials") != "true" ||
		!strings.Contains(rr.Header().Get("Access-Control-Allow-Headers"), "X-CSRF-Token") {
		t.Fatalf("unexpected CORS headers: %v", rr.Header())
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Header().Get("Access-Control-Allow-Origin") != "" || !called {
		t.Fatalf("foreign origin must not be allowed")
	}
}

func TestExtractBearerToken(t *testing.T) {
	if tok, err := extractBearerToken("bearer abc"); err != nil || tok != "abc" {
		t.Fatalf("got %q %v", tok, err)
	}
	for _, h := range []string{"", "Basic abc", "Bearer ", "Bear"} {
		if _, err := extractBearerToken(h); err == nil {
			t.Fatalf("expected error for %q", h)
		}
	}
}
