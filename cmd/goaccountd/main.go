// Command goaccountd serves the verification engine over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goAccount "github.com/MrEthical07/goAccount"
	"github.com/MrEthical07/goAccount/httpapi"
	"github.com/MrEthical07/goAccount/mail"
	"github.com/MrEthical07/goAccount/mail/smtp"
	"github.com/MrEthical07/goAccount/metrics/export/prometheus"
	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", os.Getenv("GOACCOUNT_CONFIG"), "path to a YAML config file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log, cfg.Service, cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("goaccountd stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	adapter, closeBackend, err := openBackend(ctx, cfg.Backend, logger)
	if err != nil {
		return err
	}
	defer closeBackend()

	identity, err := newIdentityProvider(cfg.Identity)
	if err != nil {
		return err
	}

	engineCfg, err := engineConfig(cfg)
	if err != nil {
		return err
	}
	secret, err := cfg.secretBytes()
	if err != nil {
		return err
	}

	builder := goAccount.New().
		WithConfig(engineCfg).
		WithAdapter(adapter).
		WithIdentityProvider(identity).
		WithTransport(newTransport(cfg.Mail, logger)).
		WithSecret(secret).
		WithLogger(logger)
	if cfg.Engine.Audit {
		builder = builder.WithAuditSink(goAccount.SlogSink{Logger: logger.With("component", "audit")})
	}
	engine, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	housekeeper := goAccount.NewHousekeeper(engine, logger, 0)
	housekeeper.Start()
	defer housekeeper.Stop()

	exporter := prometheus.New(engine, prometheus.WithHealthCheck(engine.Ping, 2*time.Second))
	srv := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: httpapi.NewRouter(engine, httpapi.Options{
			AllowedOrigins:    cfg.HTTP.AllowedOrigins,
			RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
			Burst:             cfg.HTTP.Burst,
			Logger:            logger,
			Metrics:           exporter,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr, "backend", cfg.Backend.Kind)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// engineConfig overlays the daemon settings on the engine defaults.
func engineConfig(cfg Config) (goAccount.Config, error) {
	out := goAccount.DefaultConfig()
	if cfg.Engine.SessionTTL > 0 {
		out.Session.TTL = cfg.Engine.SessionTTL
	}
	out.Session.IdleTimeout = cfg.Engine.IdleTimeout
	out.Session.MaxPerAccount = cfg.Engine.MaxSessions
	if cfg.Engine.HousekeepingInterval > 0 {
		out.Housekeeping.Interval = cfg.Engine.HousekeepingInterval
	}
	out.Audit.Enabled = cfg.Engine.Audit
	out.Dispatch.AllowedDomains = cfg.Mail.AllowedDomains
	for name, tpl := range cfg.Mail.Templates {
		if _, err := goAccount.ParsePurpose(name); err != nil {
			return goAccount.Config{}, fmt.Errorf("mail template: %w", err)
		}
		out.Dispatch.Templates[name] = mail.Template{Subject: tpl.Subject, Body: tpl.Body}
	}
	if err := out.Validate(); err != nil {
		return goAccount.Config{}, err
	}
	return out, nil
}

func newTransport(cfg MailConfig, logger *slog.Logger) mail.Transport {
	if cfg.Transport == "discard" {
		logger.Warn("mail transport is discard: verification codes are not delivered")
		return mail.TransportFunc(func(context.Context, mail.Message) error { return nil })
	}
	return smtp.New(cfg.SMTP)
}

func newIdentityProvider(cfg IdentityConfig) (goAccount.IdentityProvider, error) {
	if cfg.URL != "" {
		return newHTTPDirectory(cfg.URL, cfg.Timeout), nil
	}
	return newStaticDirectory(cfg.Accounts)
}
