// Package server exposes a vault sandbox over HTTP. Every route except
// /healthz and /metrics requires an API token; sandbox controls additionally
// require an admin principal.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"strategyvaults/observability/metrics"
	"strategyvaults/services/vaultd/sandbox"
)

// Config defines HTTP server parameters.
type Config struct {
	ListenAddress string
	RateLimit     RateLimit
}

// Server hosts the vault API.
type Server struct {
	cfg     Config
	sb      *sandbox.Sandbox
	auth    *Authenticator
	limiter *RateLimiter
	metrics *metrics.VaultMetrics
	logger  *slog.Logger
	router  http.Handler
}

// New constructs the server. m may be nil.
func New(cfg Config, sb *sandbox.Sandbox, auth *Authenticator, m *metrics.VaultMetrics, logger *slog.Logger) (*Server, error) {
	if sb == nil {
		return nil, fmt.Errorf("sandbox required")
	}
	if auth == nil {
		return nil, fmt.Errorf("authenticator required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		cfg:     cfg,
		sb:      sb,
		auth:    auth,
		limiter: NewRateLimiter(cfg.RateLimit, m),
		metrics: m,
		logger:  logger,
	}
	srv.router = srv.buildRouter()
	return srv, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Use(s.auth.Middleware)
		api.Use(s.limiter.Middleware)

		api.Get("/vaults", s.handleListVaults)
		api.Route("/vaults/{vault}", func(vr chi.Router) {
			vr.Get("/", s.handleGetVault)
			vr.Get("/maturities/{maturity}", s.handleGetMaturity)
			vr.Get("/accounts/{account}", s.handleGetAccount)
			vr.Get("/accounts/{account}/liquidation", s.handleGetLiquidation)

			vr.Post("/deposit", s.handleDeposit)
			vr.Post("/redeem", s.handleRedeem)
			vr.Post("/roll", s.handleRoll)
			vr.Post("/accounts/{account}/deleverage", s.handleDeleverage)
			vr.Post("/accounts/{account}/liquidate", s.handleLiquidate)
			vr.Post("/maturities/{maturity}/settle", s.handleSettle)
			vr.Post("/rewards/claim", s.handleClaimRewards)
			vr.Post("/rewards/reinvest", s.handleReinvest)

			vr.Post("/roles", s.handleRole)
			vr.Post("/flags", s.handleFlags)
			vr.Post("/settings", s.handleSettings)
			vr.Post("/owner", s.handleOwner)
			vr.Post("/trade-permissions", s.handleTradePermission)
		})

		api.Get("/events", s.handleEvents)
		api.Get("/balances/{token}/{holder}", s.handleBalance)
		api.Get("/clock", s.handleClock)
		api.Get("/pauses", s.handlePauses)

		api.Route("/admin", func(admin chi.Router) {
			admin.Use(requireAdmin)
			admin.Post("/advance", s.handleAdvance)
			admin.Post("/prices", s.handlePrice)
			admin.Post("/pauses", s.handleSetPause)
			admin.Post("/mint", s.handleMint)
			admin.Post("/rewards", s.handleAccrueRewards)
		})
	})
	return otelhttp.NewHandler(r, "vaultd")
}

// Run starts the HTTP server and blocks until context cancellation.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("server not configured")
	}
	srv := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server listening",
		slog.String("component", "vaultd"),
		slog.String("address", s.cfg.ListenAddress))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// caller returns the authenticated principal. Routes under /v1 always have
// one.
func caller(r *http.Request) *Principal {
	principal, _ := PrincipalFromContext(r.Context())
	if principal == nil {
		return &Principal{}
	}
	return principal
}

// vaultParam resolves the {vault} path segment by address or registry name.
func (s *Server) vaultParam(r *http.Request) (*sandbox.Vault, error) {
	ref := chi.URLParam(r, "vault")
	for _, v := range s.sb.Vaults() {
		if v.Name == ref {
			return v, nil
		}
	}
	addr, err := parseAddress("vault", ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", sandbox.ErrUnknownVault, ref)
	}
	return s.sb.Vault(addr)
}
