package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"idsoc/internal/catalog"
	"idsoc/internal/incident"
	"idsoc/internal/pipeline"
	"idsoc/internal/store"
	"idsoc/internal/telemetry"
)

// Config controls the HTTP server.
type Config struct {
	Addr string
}

// Server exposes the query and response API consumed by the dashboard.
type Server struct {
	cfg      Config
	handlers *Handlers
	metrics  *telemetry.Metrics
	server   *http.Server
}

// New creates a server.
func New(cfg Config, st *store.Store, cat *catalog.Catalog, mgr *incident.Manager, pipe *pipeline.Pipeline, met *telemetry.Metrics) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	return &Server{
		cfg:      cfg,
		handlers: NewHandlers(st, cat, mgr, pipe, met),
		metrics:  met,
	}
}

// Router builds the gin router with middleware and all routes mounted.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(CORS())

	router.GET("/health", s.handlers.Health)
	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	api := router.Group("/api/v1")
	{
		api.POST("/events", s.handlers.IngestEvents)
		api.GET("/events", s.handlers.ListEvents)
		api.GET("/events/timeline", s.handlers.Timeline)

		api.GET("/detections", s.handlers.ListDetections)
		api.GET("/detections/:detection_id", s.handlers.GetDetection)

		api.GET("/dashboard/kpis", s.handlers.DashboardKPIs)
		api.GET("/dashboard/alert-trends", s.handlers.AlertTrends)
		api.GET("/dashboard/sign-in-stats", s.handlers.SignInStats)
		api.GET("/dashboard/mfa-stats", s.handlers.MFAStats)

		api.GET("/users/:user/investigation", s.handlers.UserInvestigation)

		api.GET("/response-actions", s.handlers.ListActionTypes)

		api.GET("/incidents", s.handlers.ListIncidents)
		api.GET("/incidents/:incident_id", s.handlers.GetIncident)
		api.GET("/incidents/:incident_id/response-actions", s.handlers.ResponseActions)
		api.POST("/incidents/:incident_id/acknowledge", s.handlers.Acknowledge)
		api.POST("/incidents/:incident_id/resolve", s.handlers.Resolve)
		api.POST("/incidents/:incident_id/response/:action_type", s.handlers.ExecuteResponse)
	}

	return router
}

// Start runs the HTTP server in the background.
func (s *Server) Start() {
	s.server = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		logrus.WithField("addr", s.cfg.Addr).Info("HTTP server starting")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("HTTP server failed")
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logrus.Info("HTTP server stopped")
	return nil
}
