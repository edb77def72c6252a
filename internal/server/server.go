// Package server exposes the monitoring API over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"netwarden/internal/domain"
	"netwarden/internal/usecase"
)

// TelemetryService is the ingest surface the handlers need.
type TelemetryService interface {
	Submit(ctx context.Context, snap *domain.Snapshot) (*usecase.IngestResult, error)
	Recent(ctx context.Context, limit int) ([]domain.Snapshot, error)
}

// CommandService is the command-distribution surface the handlers need.
type CommandService interface {
	Enqueue(ctx context.Context, endpoint string, action domain.Action, resource, reason string) (int64, error)
	Drain(ctx context.Context, endpoint string) ([]domain.DeliveredDirective, error)
	CurrentlyBlocked(ctx context.Context, endpoint string) ([]string, error)
	Broadcast(ctx context.Context, action domain.Action, resource, reason string, activeWithin time.Duration) (*usecase.BroadcastResult, error)
	History(ctx context.Context, limit int) ([]domain.Directive, error)
}

// AlertService is the alert surface the handlers need.
type AlertService interface {
	List(ctx context.Context, activeOnly bool) ([]domain.Alert, error)
	Resolve(ctx context.Context, id int64) error
}

// StatsService produces aggregate reports.
type StatsService interface {
	Weekly(ctx context.Context) (*usecase.WeeklyStats, error)
}

// Config holds the server's HTTP settings.
type Config struct {
	Addr string
	// APIKey, when non-empty, is required in X-API-Key on every request
	// except the health check.
	APIKey string
}

// Server wires the use cases to HTTP routes.
type Server struct {
	cfg       Config
	telemetry TelemetryService
	commands  CommandService
	alerts    AlertService
	policies  domain.DomainPolicyStore
	stats     StatsService
	logger    *zap.Logger
	http      *http.Server
}

// New creates the server. Start must be called to begin serving.
func New(
	cfg Config,
	telemetry TelemetryService,
	commands CommandService,
	alerts AlertService,
	policies domain.DomainPolicyStore,
	stats StatsService,
	logger *zap.Logger,
) *Server {
	s := &Server{
		cfg:       cfg,
		telemetry: telemetry,
		commands:  commands,
		alerts:    alerts,
		policies:  policies,
		stats:     stats,
		logger:    logger,
	}
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Router(),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Router builds the route table. Exposed for handler tests.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(s.requestIDMiddleware, s.accessLogMiddleware)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	if s.cfg.APIKey != "" {
		api.Use(s.apiKeyMiddleware)
	}

	api.HandleFunc("/telemetry", s.handleSubmitTelemetry).Methods(http.MethodPost)
	api.HandleFunc("/telemetry/recent", s.handleRecentTelemetry).Methods(http.MethodGet)

	api.HandleFunc("/commands", s.handleEnqueueCommand).Methods(http.MethodPost)
	api.HandleFunc("/commands", s.handlePollCommands).Methods(http.MethodGet)
	api.HandleFunc("/commands/blocked", s.handleBlockedResources).Methods(http.MethodGet)
	api.HandleFunc("/commands/recent", s.handleCommandHistory).Methods(http.MethodGet)
	api.HandleFunc("/commands/broadcast", s.handleBroadcast).Methods(http.MethodPost)

	api.HandleFunc("/alerts", s.handleListAlerts).Methods(http.MethodGet)
	api.HandleFunc("/alerts/active", s.handleActiveAlerts).Methods(http.MethodGet)
	api.HandleFunc("/alerts/{id:[0-9]+}/resolve", s.handleResolveAlert).Methods(http.MethodPost)

	api.HandleFunc("/policy/domains", s.handleListDomains).Methods(http.MethodGet)
	api.HandleFunc("/policy/domains/block", s.handleBlockDomain).Methods(http.MethodPost)
	api.HandleFunc("/policy/domains/allow", s.handleAllowDomain).Methods(http.MethodPost)
	api.HandleFunc("/policy/domains/{domain}", s.handleRemoveDomain).Methods(http.MethodDelete)

	api.HandleFunc("/stats/weekly", s.handleWeeklyStats).Methods(http.MethodGet)

	return r
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server starting", zap.String("addr", s.cfg.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.http.Shutdown(ctx)
}
