// Package httpapi is the HTTP surface of the service: provider webhook
// endpoints, the scheduler-facing runner trigger, and the operator debug
// and probe endpoints.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/config"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/jetstream"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/model"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/storage"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/usecase"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/internal/workspace"
	"github.com/shire602-cyber/alainbcenter-crm-sub009/pkg/logger"
)

// RunnerService is the runner surface the admin endpoints drive.
type RunnerService interface {
	RunOnce(ctx context.Context, max int) (*usecase.RunReport, error)
	FindStuck(ctx context.Context) ([]model.OutboundJob, error)
}

// Server hosts the webhook and admin endpoints.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	cfg        *config.Config
	publisher  jetstream.ClientInterface
	runner     RunnerService
	jobs       storage.JobRepo
	tasks      storage.TaskRepo
	contacts   storage.ContactRepo
	logger     *zap.Logger

	readyChecks map[string]func(ctx context.Context) error
}

// NewServer creates the HTTP server and wires its routes.
func NewServer(
	cfg *config.Config,
	publisher jetstream.ClientInterface,
	runner RunnerService,
	jobs storage.JobRepo,
	tasks storage.TaskRepo,
	contacts storage.ContactRepo,
	baseLogger *zap.Logger,
) *Server {
	router := mux.NewRouter()
	server := &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		router:      router,
		cfg:         cfg,
		publisher:   publisher,
		runner:      runner,
		jobs:        jobs,
		tasks:       tasks,
		contacts:    contacts,
		logger:      baseLogger.Named("httpapi"),
		readyChecks: make(map[string]func(ctx context.Context) error),
	}
	server.routes()
	return server
}

func (s *Server) routes() {
	s.router.Use(s.requestMiddleware)

	s.router.HandleFunc("/webhooks/{channel}", s.handleWebhookVerify).Methods(http.MethodGet)
	s.router.HandleFunc("/webhooks/{channel}", s.handleWebhookReceive).Methods(http.MethodPost)

	s.router.HandleFunc("/run-outbound", s.handleRunOutbound).Methods(http.MethodGet)
	s.router.HandleFunc("/jobs/debug", s.handleJobsDebug).Methods(http.MethodGet)
	s.router.HandleFunc("/contacts/merge", s.handleContactsMerge).Methods(http.MethodPost)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
}

// RegisterMetricsHandler adds the /metrics endpoint.
// Should only be called if metrics are enabled.
func (s *Server) RegisterMetricsHandler(handler http.Handler) {
	s.logger.Info("Registering /metrics endpoint")
	s.router.Handle("/metrics", handler).Methods(http.MethodGet)
}

// RegisterReadyCheck adds a named dependency probe to /ready.
func (s *Server) RegisterReadyCheck(name string, check func(ctx context.Context) error) {
	s.readyChecks[name] = check
}

// requestMiddleware attaches a request id, the workspace id, and a
// request-scoped logger. The workspace id must be present before any
// storage write; the runner path reaches the ledger and task repos
// straight from this context.
func (s *Server) requestMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// request_id rides the context; logger.FromContext appends it.
		requestID := uuid.NewString()
		log := s.logger.With(
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
		)
		ctx := workspace.WithRequestID(r.Context(), requestID)
		ctx = workspace.WithWorkspaceID(ctx, s.cfg.Workspace.ID)
		ctx = logger.WithLogger(ctx, log)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Start begins listening. Blocks until the listener fails or Stop is called.
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}
