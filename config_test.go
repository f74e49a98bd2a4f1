package goAccount

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/goAccount/mail"
	"github.com/MrEthical07/goAccount/persist/redisstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestDefaultConfigValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestDefaultResendCooldownIsTenMinutes(t *testing.T) {
	for purpose, p := range DefaultConfig().Purposes {
		if p.Guard.Cooldown != 10*time.Minute {
			t.Fatalf("%s: expected 10m cooldown, got %v", purpose, p.Guard.Cooldown)
		}
	}
}

func TestConfigValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no purposes", func(c *Config) { c.Purposes = nil }, "at least one purpose"},
		{"zero ttl", func(c *Config) {
			p := c.Purposes[PurposeRegistration]
			p.TTL = 0
			c.Purposes[PurposeRegistration] = p
		}, "TTL must be > 0"},
		{"zero attempts", func(c *Config) {
			p := c.Purposes[PurposeRegistration]
			p.MaxAttempts = 0
			c.Purposes[PurposeRegistration] = p
		}, "MaxAttempts"},
		{"short code", func(c *Config) {
			p := c.Purposes[PurposePasswordReset]
			p.CodeDigits = 4
			c.Purposes[PurposePasswordReset] = p
		}, "CodeDigits"},
		{"lockout without window", func(c *Config) {
			p := c.Purposes[PurposeEmailChange]
			p.Guard.Window = 0
			p.Guard.MaxRequests = 0
			c.Purposes[PurposeEmailChange] = p
		}, "lockout requires"},
		{"single without session", func(c *Config) {
			p := c.Purposes[PurposeEmailChange]
			p.SingleSession = true
			c.Purposes[PurposeEmailChange] = p
		}, "SingleSession requires IssueSession"},
		{"unknown purpose", func(c *Config) {
			c.Purposes[Purpose(99)] = c.Purposes[PurposeRegistration]
		}, "unknown verification purpose"},
		{"session ttl", func(c *Config) { c.Session.TTL = 0 }, "Session.TTL"},
		{"idle without touch", func(c *Config) {
			c.Session.IdleTimeout = time.Minute
			c.Session.TouchInterval = time.Minute
		}, "IdleTimeout"},
		{"negative retries", func(c *Config) { c.Verification.ConflictRetries = -1 }, "ConflictRetries"},
		{"audit buffer", func(c *Config) {
			c.Audit.Enabled = true
			c.Audit.BufferSize = 0
		}, "Audit.BufferSize"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestWithConfigCopiesMaps(t *testing.T) {
	cfg := DefaultConfig()
	b := New().WithConfig(cfg)
	p := cfg.Purposes[PurposeRegistration]
	p.TTL = 0
	cfg.Purposes[PurposeRegistration] = p

	if b.config.Purposes[PurposeRegistration].TTL == 0 {
		t.Fatal("builder shares the caller's purpose map")
	}
}

func TestBuildRequiresDependencies(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	adapter := redisstore.New(rdb, "")
	identity := newDirectory()
	transport := mail.TransportFunc(func(ctx context.Context, msg mail.Message) error { return nil })
	secret := bytes.Repeat([]byte("x"), 32)

	tests := []struct {
		name string
		b    *Builder
		want string
	}{
		{"adapter", New().WithIdentityProvider(identity).WithTransport(transport).WithSecret(secret), "adapter"},
		{"identity", New().WithAdapter(adapter).WithTransport(transport).WithSecret(secret), "identity"},
		{"transport", New().WithAdapter(adapter).WithIdentityProvider(identity).WithSecret(secret), "transport"},
		{"short secret", New().WithAdapter(adapter).WithIdentityProvider(identity).WithTransport(transport).WithSecret(secret[:16]), "secret"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.b.Build()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}

	b := New().WithAdapter(adapter).WithIdentityProvider(identity).WithTransport(transport).WithSecret(secret)
	e, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer e.Close()
	if _, err := b.Build(); err == nil {
		t.Fatal("second Build should fail")
	}
}
