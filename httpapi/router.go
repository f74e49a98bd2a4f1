package httpapi

import (
	"context"
	"iter"
	"log/slog"
	"net"
	"net/http"

	goAccount "github.com/MrEthical07/goAccount"
	"github.com/MrEthical07/goAccount/internal/limiters"
	"github.com/MrEthical07/goAccount/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Service is the subset of *goAccount.Engine the API calls.
type Service interface {
	StartVerification(ctx context.Context, accountID string, purpose goAccount.Purpose, opts ...goAccount.StartOption) error
	ConfirmVerification(ctx context.Context, accountID string, purpose goAccount.Purpose, code string) (*goAccount.Session, error)
	AuthenticateSession(ctx context.Context, token string) (*goAccount.Session, error)
	RevokeSession(ctx context.Context, token string) error
	RevokeSessionByID(ctx context.Context, accountID, sessionID string) error
	RevokeAllSessions(ctx context.Context, accountID string) (int, error)
	ListActiveSessions(ctx context.Context, accountID string) iter.Seq2[*goAccount.Session, error]
	Ping(ctx context.Context) error
}

// Options tunes the router.
type Options struct {
	AllowedOrigins []string
	// RequestsPerSecond and Burst bound the public verification routes per
	// client IP. Zero disables the limit.
	RequestsPerSecond float64
	Burst             int
	Logger            *slog.Logger
	// Metrics, when set, is mounted at /metrics.
	Metrics http.Handler
}

// NewRouter builds the HTTP handler for svc.
func NewRouter(svc Service, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{svc: svc, logger: logger}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.ClientIP)

	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	perIP := limitPerIP(limiters.NewAdvisory(opts.RequestsPerSecond, opts.Burst, 0))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", h.health)

		r.With(perIP).Post("/verifications/{purpose}", h.startVerification)
		r.With(perIP).Post("/verifications/{purpose}/confirm", h.confirmVerification)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireSession(svc))

			r.Get("/sessions", h.listSessions)
			r.Delete("/sessions", h.revokeAllSessions)
			r.Get("/sessions/current", h.currentSession)
			r.Delete("/sessions/current", h.logout)
			r.Delete("/sessions/{id}", h.revokeSession)
		})
	})

	return r
}

func limitPerIP(l *limiters.Advisory) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := r.RemoteAddr
			if host, _, err := net.SplitHostPort(ip); err == nil {
				ip = host
			}
			if !l.Allow(ip) {
				writeError(w, http.StatusTooManyRequests, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
