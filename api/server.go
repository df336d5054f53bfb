// Package api provides the HTTP REST API server for covenantwatch.
//
// It exposes endpoints for covenant evaluation, financial ratios, adverse
// event aggregation, background covenant extraction, contract monitoring and
// a WebSocket stream of raised alerts.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/covenantwatch/covenantwatch/internal/assessment"
	"github.com/covenantwatch/covenantwatch/internal/backend"
	"github.com/covenantwatch/covenantwatch/internal/cache"
	"github.com/covenantwatch/covenantwatch/internal/config"
	"github.com/covenantwatch/covenantwatch/internal/covenant"
	"github.com/covenantwatch/covenantwatch/internal/extraction"
	"github.com/covenantwatch/covenantwatch/internal/metrics"
	"github.com/covenantwatch/covenantwatch/internal/monitor"
	"github.com/covenantwatch/covenantwatch/internal/news"
	"github.com/covenantwatch/covenantwatch/internal/risk"
	"github.com/covenantwatch/covenantwatch/internal/session"
	"github.com/covenantwatch/covenantwatch/internal/storage"
	"github.com/covenantwatch/covenantwatch/pkg/models"
)

// Version is reported by /health. The CLI overrides it at build time.
var Version = "dev"

// Deps are the components the server is built from. Store is required; the
// rest default to local, heuristic-only versions.
type Deps struct {
	Store      *storage.Storage
	Evaluator  *covenant.Evaluator
	Aggregator *risk.Aggregator
	Assessor   *assessment.Assessor
	Scanner    *news.Scanner
	Sessions   *session.Store
	Backend    *backend.Client
	Cache      cache.Cache
	Logger     *zap.Logger
}

// Server is the HTTP API server.
type Server struct {
	router   chi.Router
	cfg      *config.Config
	store    *storage.Storage
	eval     *covenant.Evaluator
	agg      *risk.Aggregator
	assessor *assessment.Assessor
	scanner  *news.Scanner
	sessions *session.Store
	backend  *backend.Client
	cache    cache.Cache
	tracker  *extraction.Tracker
	monitor  *monitor.Monitor
	wsHub    *WSHub
	log      *zap.Logger
}

// NewServer creates a configured API server with all routes and middleware.
func NewServer(cfg *config.Config, deps Deps) (*Server, error) {
	if deps.Store == nil {
		return nil, errors.New("api: a store is required")
	}
	if cfg == nil {
		cfg = config.Default()
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("api")

	srv := &Server{
		cfg:      cfg,
		store:    deps.Store,
		eval:     deps.Evaluator,
		agg:      deps.Aggregator,
		assessor: deps.Assessor,
		scanner:  deps.Scanner,
		sessions: deps.Sessions,
		backend:  deps.Backend,
		cache:    deps.Cache,
		wsHub:    NewWSHub(log),
		log:      log,
	}
	if srv.eval == nil {
		srv.eval = covenant.NewEvaluator()
	}
	if srv.agg == nil {
		srv.agg = risk.NewAggregator()
	}
	if srv.assessor == nil {
		srv.assessor = assessment.NewAssessor(nil, srv.agg)
	}
	if srv.scanner == nil {
		srv.scanner = news.NewScanner(cfg.News, news.WithLogger(log))
	}
	if srv.sessions == nil {
		srv.sessions = session.NewStore(srv.store, log)
	}
	srv.sessions.Subscribe(func(sess *session.Session) {
		srv.wsHub.Broadcast(WSMessage{Type: "session", Data: map[string]bool{"logged_in": sess != nil}})
	})

	monOpts := []monitor.Option{
		monitor.WithAssessor(srv.assessor, cfg.Monitor.UseAI),
		monitor.WithConcurrency(cfg.Monitor.Concurrency),
		monitor.WithAuditLog(cfg.Monitor.AuditLog),
		monitor.WithBroadcast(srv.broadcastAlert),
		monitor.WithLogger(log),
	}
	if srv.backend != nil {
		monOpts = append(monOpts, monitor.WithBackend(srv.backend))
	}
	srv.monitor = monitor.New(srv.store, srv.eval, srv.agg, monOpts...)
	srv.tracker = extraction.NewTracker(srv.assessor,
		extraction.WithSink(CovenantSink(srv.store, srv.backend, log)),
		extraction.WithLogger(log),
	)

	srv.router = srv.buildRouter()
	return srv, nil
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// Close stops background extraction jobs.
func (s *Server) Close() {
	s.tracker.Close()
}

// sweep forgets finished extraction jobs older than the retention period and
// drops expired entries from a memory cache.
func (s *Server) sweep(now time.Time) (jobs, entries int) {
	if keep := s.cfg.API.JobRetention(); keep > 0 {
		jobs = s.tracker.Prune(now.Add(-keep))
	}
	if sw, ok := s.cache.(cache.Sweeper); ok {
		entries = sw.Cleanup()
	}
	if jobs > 0 || entries > 0 {
		s.log.Debug("swept", zap.Int("jobs", jobs), zap.Int("cache_entries", entries))
	}
	return jobs, entries
}

func (s *Server) runSweeper(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.sweep(now)
		}
	}
}

// ListenAndServe starts the HTTP server with graceful shutdown.
func (s *Server) ListenAndServe(addr string) error {
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go s.wsHub.Run(hubCtx)
	go s.runSweeper(hubCtx, s.cfg.API.SweepInterval())

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(done)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", zap.String("addr", addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("api: http server: %w", err)
	case <-done:
	}
	s.log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	err := httpSrv.Shutdown(ctx)
	s.Close()
	return err
}

// buildRouter configures all routes and middleware.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	// CORS
	origins := []string{"*"}
	if len(s.cfg.API.CORSOrigins) > 0 {
		origins = s.cfg.API.CORSOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Pure computations
		r.Post("/covenants/evaluate", s.handleEvaluate)
		r.Post("/ratios", s.handleRatios)
		r.Post("/risk/aggregate", s.handleAggregate)
		r.Post("/risk/impact", s.handleImpact)

		// Extraction jobs
		r.Post("/extractions", s.handleSubmitExtraction)
		r.Get("/extractions", s.handleListExtractions)
		r.Get("/extractions/{id}", s.handleGetExtraction)

		// Contracts
		r.Get("/contracts/{id}/covenants", s.handleListCovenants)
		r.Get("/contracts/{id}/health", s.handleContractHealth)
		r.Post("/contracts/{id}/refresh", s.handleRefreshContract)
		r.Post("/contracts/{id}/financials", s.handleRecordFinancials)
		r.Post("/contracts/{id}/report", s.handleContractReport)
		r.Get("/contracts/{id}/reports", s.handleListReports)

		// Covenants
		r.Post("/covenants", s.handleCreateCovenant)
		r.Get("/covenants/{id}", s.handleGetCovenant)
		r.Delete("/covenants/{id}", s.handleDeleteCovenant)
		r.Get("/covenants/{id}/health", s.handleCovenantHealth)
		r.Get("/covenants/{id}/history", s.handleCovenantHistory)
		r.Post("/covenants/{id}/values", s.handleRecordValue)
		r.Post("/covenants/{id}/assess", s.handleAssessCovenant)

		// Borrowers
		r.Post("/borrowers/{id}/news", s.handleIngestNews)
		r.Post("/borrowers/{id}/events", s.handleAddEvent)
		r.Get("/borrowers/{id}/events", s.handleListEvents)
		r.Post("/borrowers/{id}/profile", s.handleBorrowerProfile)

		// Session
		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/logout", s.handleLogout)
		r.Get("/auth/session", s.handleSession)

		// Configuration
		r.Get("/config", s.handleGetConfig)
		r.Get("/config/keys", s.handleGetConfigKeys)

		// WebSocket
		r.Get("/ws", s.handleWebSocket)
		r.Get("/ws/alerts", s.handleWebSocket)
	})

	return r
}

// broadcastAlert pushes a raised alert to every websocket client.
func (s *Server) broadcastAlert(a models.Alert) {
	s.wsHub.Broadcast(WSMessage{Type: "alert", Data: a})
}

// CovenantSink persists extracted covenants locally and, when a backend is
// configured, creates them there too. The backend id wins when one comes back.
func CovenantSink(store *storage.Storage, bc *backend.Client, log *zap.Logger) extraction.Sink {
	if log == nil {
		log = zap.NewNop()
	}
	return func(ctx context.Context, contractID string, res models.CovenantExtractionResult) error {
		for _, in := range res.Covenants {
			cov := in.ToCovenant()
			cov.ContractID = contractID
			cov.CreatedAt = time.Now()
			if bc != nil {
				created, err := bc.CreateCovenant(ctx, in)
				if err != nil {
					return fmt.Errorf("create covenant %q: %w", in.CovenantName, err)
				}
				cov.ID = created.ID
			}
			if cov.ID == "" {
				cov.ID = uuid.New().String()
			}
			if err := store.UpsertCovenant(ctx, cov); err != nil {
				return err
			}
		}
		if bc != nil {
			if _, err := bc.UpdateContractStatus(ctx, contractID, models.ContractActive); err != nil {
				log.Warn("contract status not updated", zap.String("contract", contractID), zap.Error(err))
			}
		}
		log.Info("covenants stored", zap.String("contract", contractID), zap.Int("count", len(res.Covenants)))
		return nil
	}
}

// ============================================================
// Response helpers
// ============================================================

// APIResponse is the standard JSON envelope.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, v interface{}) {
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: v})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, APIResponse{
		Success: false,
		Error:   msg,
	})
}

// writeErr maps a component error onto a status code.
func (s *Server) writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	msg := err.Error()
	var apiErr *backend.APIError
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, extraction.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, extraction.ErrEmptyText), errors.Is(err, assessment.ErrEmptyText):
		status = http.StatusBadRequest
	case errors.Is(err, extraction.ErrClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, news.ErrNoFeeds):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, session.ErrNoSession):
		status = http.StatusUnauthorized
		msg = "not logged in"
	case errors.Is(err, backend.ErrUnauthorized):
		status = http.StatusUnauthorized
		msg = backend.Message(err)
	case errors.As(err, &apiErr):
		status = http.StatusBadGateway
		msg = backend.Message(err)
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	if status >= 500 {
		s.log.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	writeError(w, status, msg)
}

// decodeBody decodes a JSON request body, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeOK(w, map[string]interface{}{
		"status":     "ok",
		"version":    Version,
		"ai_enabled": s.assessor.AIEnabled(),
		"backend":    s.backend != nil,
		"ws_clients": s.wsHub.ClientCount(),
		"time":       time.Now().UTC().Format(time.RFC3339),
	})
}
