package http

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/walletgate/server/internal/clock"
	"github.com/walletgate/server/internal/http/handlers"
	"github.com/walletgate/server/internal/middleware"
)

// Rate limits per client IP
const (
	LimitWindow   = 10 * time.Minute
	InitiateLimit = 20
	CompleteLimit = 30
)

// Limiters holds the per-route rate limiters. Callers own their cleanup loops.
type Limiters struct {
	Initiate *middleware.RateLimiter
	Complete *middleware.RateLimiter
}

// NewLimiters creates the default initiate/complete limiters
func NewLimiters(clk clock.Clock) Limiters {
	return Limiters{
		Initiate: middleware.NewRateLimiter(LimitWindow, InitiateLimit, clk),
		Complete: middleware.NewRateLimiter(LimitWindow, CompleteLimit, clk),
	}
}

// Options configures NewRouter
type Options struct {
	// Receipts may be nil, in which case the receipt route is not mounted.
	Receipts middleware.ReceiptVerifier
	Limiters Limiters
	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	// Only set it behind a proxy that overwrites those headers, otherwise
	// clients pick their own rate limit key.
	TrustProxy bool
}

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(verifyHandler *handlers.VerifyHandler, opts Options) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	if opts.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	healthHandler := handlers.NewHealthHandler()
	r.Get("/health", healthHandler.ServeHTTP)

	verifyRoutes := func(r chi.Router) {
		r.Post("/", verifyHandler.HandleLegacyVerify)
		r.With(middleware.RateLimit(opts.Limiters.Initiate, middleware.GetIPKey)).
			Post("/initiate", verifyHandler.HandleInitiate)
		r.With(middleware.RateLimit(opts.Limiters.Complete, middleware.GetIPKey)).
			Post("/complete", verifyHandler.HandleComplete)
		if opts.Receipts != nil {
			r.With(middleware.ReceiptMiddleware(opts.Receipts)).Get("/receipt", verifyHandler.HandleReceipt)
		}
		r.Get("/{externalIdentity}", verifyHandler.HandleStatus)
	}

	r.Route("/verify", verifyRoutes)
	r.Route("/api/verify", verifyRoutes)

	return r
}
