// Package server exposes the allocator over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"DebtAllocator/internal/allocator"
	"DebtAllocator/internal/auth"
	"DebtAllocator/internal/metrics"
	"DebtAllocator/internal/model"
	"DebtAllocator/internal/recorder"
	"DebtAllocator/internal/strategy"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// StatusReader returns the vault balances.
type StatusReader interface {
	Snapshot() model.VaultState
}

// StrategyResolver finds the APR oracle for a strategy address.
type StrategyResolver interface {
	Get(id model.StrategyID) (strategy.Strategy, error)
}

// FeeManagement is the accountant's fee manager handover.
type FeeManagement interface {
	FeeManager() model.StrategyID
	FutureFeeManager() model.StrategyID
	Accrued() decimal.Decimal
	ProposeFeeManager(caller, next model.StrategyID) error
	AcceptFeeManager(caller model.StrategyID) error
}

// Config holds server configuration.
type Config struct {
	Addr           string
	AllowedOrigins []string
	Engine         *allocator.Engine
	Treasury       *allocator.Treasury
	Vault          StatusReader
	Fees           FeeManagement
	Catalog        StrategyResolver
	Tokens         *auth.TokenVerifier
	Recorder       recorder.Recorder
	Log            zerolog.Logger
}

// Server represents the HTTP server.
type Server struct {
	router   *chi.Mux
	server   *http.Server
	engine   *allocator.Engine
	treasury *allocator.Treasury
	vault    StatusReader
	fees     FeeManagement
	catalog  StrategyResolver
	tokens   *auth.TokenVerifier
	recorder recorder.Recorder
	log      zerolog.Logger
}

// New creates a new HTTP server.
func New(cfg Config) *Server {
	rec := cfg.Recorder
	if rec == nil {
		rec = recorder.NewNoopRecorder()
	}
	s := &Server{
		router:   chi.NewRouter(),
		engine:   cfg.Engine,
		treasury: cfg.Treasury,
		vault:    cfg.Vault,
		fees:     cfg.Fees,
		catalog:  cfg.Catalog,
		tokens:   cfg.Tokens,
		recorder: rec,
		log:      cfg.Log.With().Str("component", "server").Logger(),
	}

	s.setupMiddleware(cfg.AllowedOrigins)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupMiddleware(origins []string) {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(30 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", metrics.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/strategies", func(r chi.Router) {
			r.Get("/", s.handleListStrategies)
			r.Post("/", s.handleRegisterStrategy)
			r.Delete("/{id}", s.handleRemoveStrategy)
		})
		r.Get("/proposal", s.handleProposal)
		r.Post("/execute", s.handleExecute)
		r.Get("/executions", s.handleExecutions)

		r.Route("/vault", func(r chi.Router) {
			r.Get("/", s.handleVault)
			r.Post("/deposit", s.handleDeposit)
			r.Post("/withdraw", s.handleWithdraw)
			r.Delete("/strategies/{id}", s.handleRevokeStrategy)
		})
		r.Route("/fees", func(r chi.Router) {
			r.Get("/", s.handleFees)
			r.Post("/distribute", s.handleDistributeFees)
			r.Post("/manager", s.handleProposeFeeManager)
			r.Post("/manager/accept", s.handleAcceptFeeManager)
		})
	})
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}
