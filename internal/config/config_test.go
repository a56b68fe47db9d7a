package config

import (
	"strings"
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse()
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if !cfg.IsDevelopment() {
		t.Errorf("Env = %q, want development", cfg.Env)
	}
	if cfg.BrokerURL != "memory://" {
		t.Errorf("BrokerURL = %q, want memory://", cfg.BrokerURL)
	}
	if cfg.BrokerExchange != "chat.rooms" {
		t.Errorf("BrokerExchange = %q", cfg.BrokerExchange)
	}
	if cfg.BrokerRetryInterval != 3*time.Second {
		t.Errorf("BrokerRetryInterval = %v, want 3s", cfg.BrokerRetryInterval)
	}
	if cfg.OperationTimeout != 5*time.Second {
		t.Errorf("OperationTimeout = %v, want 5s", cfg.OperationTimeout)
	}
	if cfg.TokenTTL != 168*time.Hour {
		t.Errorf("TokenTTL = %v, want 168h", cfg.TokenTTL)
	}
}

func TestParseWhitelist(t *testing.T) {
	t.Setenv("RATE_LIMIT_WHITELIST", "10.0.0.1, 192.168.0.0/16,,")

	cfg, err := Parse()
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	want := []string{"10.0.0.1", "192.168.0.0/16"}
	if strings.Join(cfg.RateLimitWhitelist, "|") != strings.Join(want, "|") {
		t.Errorf("RateLimitWhitelist = %v, want %v", cfg.RateLimitWhitelist, want)
	}
}

func TestParseProductionRequirements(t *testing.T) {
	tests := []struct {
		name    string
		dbURL   string
		secret  string
		wantErr string
	}{
		{"missing database", "", "prod-secret", "DATABASE_URL"},
		{"default secret", "postgres://db", "", "JWT_SECRET"},
		{"valid", "postgres://db", "prod-secret", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ENV", "production")
			t.Setenv("DATABASE_URL", tt.dbURL)
			t.Setenv("JWT_SECRET", tt.secret)

			_, err := Parse()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Parse() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Parse() error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestParseRejectsBadDuration(t *testing.T) {
	t.Setenv("BROKER_RETRY_INTERVAL", "soon")

	if _, err := Parse(); err == nil {
		t.Fatal("expected error for unparsable duration")
	}
}

func TestParseSessionSettings(t *testing.T) {
	t.Setenv("WS_MAX_FRAMES_PER_SECOND", "5")
	t.Setenv("ALLOWED_ORIGINS", "https://chat.example.com, ")

	cfg, err := Parse()
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.MaxFramesPerSecond != 5 {
		t.Errorf("MaxFramesPerSecond = %d, want 5", cfg.MaxFramesPerSecond)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "https://chat.example.com" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}

	t.Setenv("WS_MAX_FRAMES_PER_SECOND", "0")
	if _, err := Parse(); err == nil {
		t.Error("expected error for zero frame budget")
	}
}
