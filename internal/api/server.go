package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"courieropt/internal/broker"
	"courieropt/internal/config"
	"courieropt/internal/dispatch"
	"courieropt/internal/metrics"
	"courieropt/internal/store"
)

type Server struct {
	Config  config.Config
	Store   store.Store
	Broker  broker.EventBroker
	Planner *dispatch.Planner
	Service *dispatch.Service
	ETA     *dispatch.ETAEstimator
	Tracker *dispatch.Tracker
	log     *zap.Logger
}

// NewServer creates a Server. If no database URL is configured, uses the
// in-memory store; without a Redis URL, the in-process broker.
func NewServer(ctx context.Context, cfg config.Config, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var st store.Store
	if strings.TrimSpace(cfg.Database.URL) == "" {
		st = store.NewMemory()
	} else {
		sp, err := store.NewPostgres(cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		if cfg.Database.Migrate {
			if err := sp.Migrate(ctx); err != nil {
				_ = sp.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		st = sp
	}

	var events broker.EventBroker
	if cfg.Redis.URL != "" {
		rb, err := broker.NewRedisBroker(cfg.Redis.URL, log.Named("broker"))
		if err != nil {
			log.Warn("redis broker unavailable, falling back to in-process", zap.Error(err))
			events = broker.NewBroker()
		} else {
			events = rb
		}
	} else {
		events = broker.NewBroker()
	}
	return newServer(cfg, st, events, log), nil
}

func newServer(cfg config.Config, st store.Store, events broker.EventBroker, log *zap.Logger) *Server {
	planner := dispatch.NewPlanner(cfg.Solver, st, log.Named("planner"))
	return &Server{
		Config:  cfg,
		Store:   st,
		Broker:  events,
		Planner: planner,
		Service: dispatch.NewService(st, planner, cfg, log.Named("dispatch")),
		ETA:     dispatch.NewETAEstimator(st, cfg.Dispatch),
		Tracker: dispatch.NewTracker(st, events, cfg.Dispatch, log.Named("tracker")),
		log:     log,
	}
}

// Handler wires every route behind the access log and metrics middleware.
func (s *Server) Handler() http.Handler {
	metrics.RegisterDefault()
	mux := http.NewServeMux()

	// Optimization
	mux.HandleFunc("POST /v1/assignments/optimize", s.OptimizeAssignmentsHandler)
	mux.HandleFunc("POST /v1/routes/optimize", s.OptimizeRouteHandler)
	mux.HandleFunc("POST /v1/routes/plan-all", s.PlanAllRoutesHandler)
	mux.HandleFunc("POST /v1/partners/{id}/route", s.PartnerRouteHandler)
	mux.HandleFunc("GET /v1/jobs", s.JobsHandler)
	mux.HandleFunc("GET /v1/jobs/{kind}/{id}", s.JobHandler)
	mux.HandleFunc("DELETE /v1/jobs/{kind}/{id}", s.JobHandler)

	// Tracking
	mux.HandleFunc("POST /v1/partners/{id}/location", s.PartnerLocationHandler)
	mux.HandleFunc("GET /v1/orders/{id}/route-info", s.RouteInfoHandler)
	mux.HandleFunc("GET /v1/orders/{id}/eta", s.ETAHandler)
	mux.HandleFunc("GET /v1/orders/{id}/location/ws", s.LocationWSHandler)

	// Admin
	mux.HandleFunc("GET /v1/admin/solve-runs", s.SolveRunsHandler)
	mux.HandleFunc("GET /v1/admin/debug", s.DebugJSON)

	// Health
	mux.HandleFunc("GET /healthz", s.HealthHandler)
	mux.HandleFunc("GET /readyz", s.ReadyHandler)
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	return logMiddleware(s.log, mux)
}

// Close stops the solvers, then releases the broker and the store.
func (s *Server) Close(ctx context.Context) error {
	return errors.Join(s.Planner.Close(ctx), s.Broker.Close(), s.Store.Close())
}
