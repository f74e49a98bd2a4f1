package main

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	goAccount "github.com/MrEthical07/goAccount"
)

var testSecret = base64.StdEncoding.EncodeToString([]byte(strings.Repeat("s", 32)))

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "goaccountd.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigFromYAML(t *testing.T) {
	path := writeConfig(t, `
env: staging
secret: `+testSecret+`
http:
  addr: ":9090"
  shutdown_timeout: 5s
backend:
  kind: sqlite
  sqlite:
    path: /tmp/goaccount.db
mail:
  transport: discard
  allowed_domains: [example.com]
  templates:
    registration:
      subject: Welcome
      body: "Code: {{.Code}}"
identity:
  accounts:
    - id: acct-1
      email: one@example.com
      status: pending
engine:
  session_ttl: 24h
  max_sessions_per_account: 3
  housekeeping_interval: 10m
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Env != "staging" || cfg.HTTP.Addr != ":9090" || cfg.HTTP.ShutdownTimeout != 5*time.Second {
		t.Fatalf("unexpected top-level config %+v / %+v", cfg.Env, cfg.HTTP)
	}
	if cfg.Backend.Kind != "sqlite" || cfg.Backend.SQLite.Path != "/tmp/goaccount.db" {
		t.Fatalf("unexpected backend %+v", cfg.Backend)
	}
	if cfg.Backend.Prefix != "goaccount" {
		t.Fatalf("unset keys keep defaults, got prefix %q", cfg.Backend.Prefix)
	}
	if cfg.Engine.SessionTTL != 24*time.Hour {
		t.Fatalf("unexpected session ttl %v", cfg.Engine.SessionTTL)
	}
	if len(cfg.Identity.Accounts) != 1 {
		t.Fatalf("expected 1 static account, got %d", len(cfg.Identity.Accounts))
	}

	engineCfg, err := engineConfig(cfg)
	if err != nil {
		t.Fatalf("engineConfig: %v", err)
	}
	if engineCfg.Session.TTL != 24*time.Hour || engineCfg.Session.MaxPerAccount != 3 {
		t.Fatalf("unexpected session config %+v", engineCfg.Session)
	}
	if engineCfg.Housekeeping.Interval != 10*time.Minute {
		t.Fatalf("unexpected housekeeping interval %v", engineCfg.Housekeeping.Interval)
	}
	if got := engineCfg.Dispatch.Templates["registration"].Subject; got != "Welcome" {
		t.Fatalf("template override lost, subject %q", got)
	}
	if !slices.Equal(engineCfg.Dispatch.AllowedDomains, []string{"example.com"}) {
		t.Fatalf("unexpected allowed domains %v", engineCfg.Dispatch.AllowedDomains)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
secret: `+testSecret+`
identity:
  url: http://accounts.internal/v1/accounts
`)
	t.Setenv("GOACCOUNT_BACKEND", "dynamodb")
	t.Setenv("GOACCOUNT_DYNAMO_TABLE", "verifications")
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("REDIS_ADDR", "r1:6379, r2:6379")
	t.Setenv("SMTP_PORT", "2525")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Backend.Kind != "dynamodb" || cfg.Backend.Dynamo.Table != "verifications" || cfg.Backend.Dynamo.Region != "eu-west-1" {
		t.Fatalf("env overrides not applied: %+v", cfg.Backend)
	}
	if !slices.Equal(cfg.Backend.Redis.Addrs, []string{"r1:6379", "r2:6379"}) {
		t.Fatalf("unexpected redis addrs %v", cfg.Backend.Redis.Addrs)
	}
	if cfg.Mail.SMTP.Port != 2525 {
		t.Fatalf("unexpected smtp port %d", cfg.Mail.SMTP.Port)
	}
}

func TestLoadConfigRejects(t *testing.T) {
	short := base64.StdEncoding.EncodeToString([]byte("too-short"))
	cases := []struct {
		name string
		body string
		want string
	}{
		{"missing secret", "identity: {url: http://x.example}\n", "Secret"},
		{"short secret", "secret: " + short + "\nidentity: {url: http://x.example}\n", "at least 32 bytes"},
		{"no identity", "secret: " + testSecret + "\n", "identity.url or identity.accounts"},
		{"bad backend", "secret: " + testSecret + "\nidentity: {url: http://x.example}\nbackend: {kind: etcd}\n", "Kind"},
		{"bad status", "secret: " + testSecret + "\nidentity: {accounts: [{id: a, email: a@example.com, status: gone}]}\n", "Status"},
		{"smtp without from", "secret: " + testSecret + "\nidentity: {url: http://x.example}\nmail: {smtp: {from: ''}}\n", "smtp"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tc.body))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestEngineConfigRejectsUnknownTemplate(t *testing.T) {
	cfg := defaultConfig()
	cfg.Mail.Templates = map[string]TemplateEntry{"newsletter": {Subject: "s", Body: "b"}}
	if _, err := engineConfig(cfg); !errors.Is(err, goAccount.ErrUnknownPurpose) {
		t.Fatalf("expected ErrUnknownPurpose, got %v", err)
	}
}

func TestStaticDirectory(t *testing.T) {
	dir, err := newStaticDirectory([]StaticAccount{
		{ID: "a", Email: "a@example.com", Status: "active"},
	})
	if err != nil {
		t.Fatalf("newStaticDirectory: %v", err)
	}

	acct, err := dir.LookupAccount(context.Background(), "a")
	if err != nil {
		t.Fatalf("LookupAccount: %v", err)
	}
	if acct.Status != goAccount.AccountActive {
		t.Fatalf("unexpected status %v", acct.Status)
	}

	if _, err := dir.LookupAccount(context.Background(), "b"); !errors.Is(err, goAccount.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestHTTPDirectory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/accounts/acct-1":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"acct-1","email":"one@example.com","status":"pending"}`))
		case "/accounts/broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	dir := newHTTPDirectory(srv.URL+"/accounts/", time.Second)
	ctx := context.Background()

	acct, err := dir.LookupAccount(ctx, "acct-1")
	if err != nil {
		t.Fatalf("LookupAccount: %v", err)
	}
	if acct.Email != "one@example.com" || acct.Status != goAccount.AccountPendingVerification {
		t.Fatalf("unexpected account %+v", acct)
	}

	if _, err := dir.LookupAccount(ctx, "nobody"); !errors.Is(err, goAccount.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}

	_, err = dir.LookupAccount(ctx, "broken")
	if err == nil || errors.Is(err, goAccount.ErrAccountNotFound) {
		t.Fatalf("server error must not read as a missing account, got %v", err)
	}
}
