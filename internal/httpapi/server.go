// Package httpapi provides the HTTP API for answerd.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/answerd/internal/docstore"
	"github.com/fyrsmithlabs/answerd/internal/generation"
	"github.com/fyrsmithlabs/answerd/internal/logging"
	"github.com/fyrsmithlabs/answerd/internal/pipeline"
	"github.com/fyrsmithlabs/answerd/internal/tenant"
)

// Engine is the subset of the pipeline the HTTP layer drives.
type Engine interface {
	Ingest(ctx context.Context, b *tenant.Bundle, title, content string) (*docstore.Document, error)
	Documents(ctx context.Context, b *tenant.Bundle) ([]docstore.Document, error)
	Document(ctx context.Context, b *tenant.Bundle, docID string) (*docstore.Document, error)
	DeleteDocument(ctx context.Context, b *tenant.Bundle, docID string) error

	Ask(ctx context.Context, b *tenant.Bundle, question string) (*pipeline.AskResult, error)
	AskStream(ctx context.Context, b *tenant.Bundle, question string) (<-chan generation.Event, error)

	QALogs(ctx context.Context, b *tenant.Bundle, flaggedOnly bool, limit int) ([]docstore.QALog, error)
	FlagQALog(ctx context.Context, b *tenant.Bundle, logID string) error
	ReviewQALog(ctx context.Context, b *tenant.Bundle, logID, note string) error
}

// Directory resolves API keys and administers tenants.
type Directory interface {
	ResolveAPIKey(ctx context.Context, apiKey string) (*tenant.Bundle, error)
	Create(ctx context.Context, name, slug, apiKey string, creds tenant.Credentials) (*tenant.Tenant, error)
	List(ctx context.Context) ([]tenant.Tenant, error)
	UpdateCredentials(ctx context.Context, slug string, creds tenant.Credentials) error
	Delete(ctx context.Context, slug string) error
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// AdminToken guards the tenant admin API. Empty disables it.
	AdminToken string
}

// Server provides HTTP endpoints for answerd.
type Server struct {
	echo    *echo.Echo
	engine  Engine
	tenants Directory
	logger  *zap.Logger
	config  *Config
}

// NewServer creates a new HTTP server.
func NewServer(engine Engine, tenants Directory, logger *zap.Logger, cfg *Config) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if tenants == nil {
		return nil, fmt.Errorf("tenant directory cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8080,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			req := c.Request()
			if rid := c.Response().Header().Get(echo.HeaderXRequestID); rid != "" {
				c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), rid)))
			}

			err := next(c)
			duration := time.Since(start)

			fields := []zap.Field{
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
			}
			// Auth middleware inside the group stamps the tenant onto the
			// request context; ContextFields picks it up along with the
			// request id and any active trace.
			fields = append(fields, logging.ContextFields(c.Request().Context())...)
			logger.Info("http request", fields...)

			return err
		}
	})

	s := &Server{
		echo:    e,
		engine:  engine,
		tenants: tenants,
		logger:  logger,
		config:  cfg,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Tenant API, authenticated by per-tenant API key. The body limit
	// sits above the sanitizer's content cap so oversize uploads are
	// rejected before they buffer.
	v1 := s.echo.Group("/api/v1", middleware.BodyLimit("1M"), s.apiKeyAuth())
	v1.POST("/documents", s.handleUpload)
	v1.GET("/documents", s.handleListDocuments)
	v1.GET("/documents/:id", s.handleGetDocument)
	v1.DELETE("/documents/:id", s.handleDeleteDocument)
	v1.POST("/ask", s.handleAsk)
	v1.GET("/qalogs", s.handleListQALogs)
	v1.POST("/qalogs/:id/flag", s.handleFlagQALog)
	v1.POST("/qalogs/:id/review", s.handleReviewQALog)

	// Admin API, authenticated by the deployment admin token.
	admin := s.echo.Group("/admin/v1", s.adminAuth())
	admin.POST("/tenants", s.handleCreateTenant)
	admin.GET("/tenants", s.handleListTenants)
	admin.PUT("/tenants/:slug/credentials", s.handleUpdateCredentials)
	admin.DELETE("/tenants/:slug", s.handleDeleteTenant)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
