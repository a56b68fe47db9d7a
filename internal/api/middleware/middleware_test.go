package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNormalizePath(t *testing.T) {
	tests := map[string]string{
		"/rooms":            "/rooms",
		"/rooms/":           "/rooms/",
		"/rooms/discover":   "/rooms/discover",
		"/rooms/12":         "/rooms/:id",
		"/rooms/12/join":    "/rooms/:id/join",
		"/rooms/7/messages": "/rooms/:id/messages",
		"/auth/login":       "/auth/login",
		"/ws":               "/ws",
	}
	for in, want := range tests {
		if got := normalizePath(in); got != want {
			t.Errorf("normalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFindLimitPrefersLongestPattern(t *testing.T) {
	rl := NewRateLimiter(nil, zerolog.Nop(), RateLimiterConfig{})

	tests := []struct {
		method, path, want string
	}{
		{http.MethodPost, "/rooms", "POST /rooms"},
		{http.MethodPost, "/rooms/3/join", "POST /rooms/"},
		{http.MethodGet, "/rooms/3/messages", "GET /rooms"},
		{http.MethodPost, "/auth/register", "POST /auth/register"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, nil)
		pattern, _, ok := rl.findLimit(req)
		if !ok || pattern != tt.want {
			t.Errorf("findLimit(%s %s) = %q, %v; want %q", tt.method, tt.path, pattern, ok, tt.want)
		}
	}

	if _, _, ok := rl.findLimit(httptest.NewRequest(http.MethodGet, "/health", nil)); ok {
		t.Error("health should not be rate limited")
	}
}

func TestWhitelist(t *testing.T) {
	rl := NewRateLimiter(nil, zerolog.Nop(), RateLimiterConfig{
		Whitelist: []string{"10.0.0.0/8", "192.168.1.5", "not-a-cidr/99"},
	})

	if !rl.isWhitelisted("10.1.2.3") {
		t.Error("CIDR member should be whitelisted")
	}
	if !rl.isWhitelisted("192.168.1.5") {
		t.Error("exact IP should be whitelisted")
	}
	if rl.isWhitelisted("192.168.1.6") {
		t.Error("unlisted IP should not be whitelisted")
	}
}

func TestRateLimiterWithoutRedisPassesThrough(t *testing.T) {
	rl := NewRateLimiter(nil, zerolog.Nop(), RateLimiterConfig{})
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/register", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}
}

func TestRealIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:5555"
	if got := RealIP(req); got != "203.0.113.9" {
		t.Errorf("RealIP() = %q", got)
	}

	req.Header.Set("X-Forwarded-For", "198.51.100.1, 10.0.0.1")
	if got := RealIP(req); got != "198.51.100.1" {
		t.Errorf("RealIP() with forwarded header = %q", got)
	}
}

func TestValidateRequest(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := ValidateRequest(ok)

	tests := []struct {
		name        string
		method      string
		target      string
		body        string
		contentType string
		want        int
	}{
		{"plain get", http.MethodGet, "/rooms", "", "", http.StatusOK},
		{"json post", http.MethodPost, "/rooms", `{"name":"general"}`, "application/json", http.StatusOK},
		{"form post", http.MethodPost, "/rooms", "name=general", "application/x-www-form-urlencoded", http.StatusUnsupportedMediaType},
		{"encoded query", http.MethodGet, "/rooms?q=%3Cb%3E", "", "", http.StatusOK},
		{"script scheme in query", http.MethodGet, "/rooms?next=javascript:alert(1)", "", "", http.StatusBadRequest},
		{"traversal", http.MethodGet, "/rooms/../etc", "", "", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q", got)
	}
	if got := rec.Header().Get("Content-Security-Policy"); got != "default-src 'none'" {
		t.Errorf("Content-Security-Policy = %q", got)
	}
}
