// Package server provides the HTTP API for taskbridge.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/taskbridge/taskbridge/internal/engine"
	"github.com/taskbridge/taskbridge/internal/persistence"
	"github.com/taskbridge/taskbridge/pkg/api"
)

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Server exposes flow execution and observability endpoints.
type Server struct {
	echo     *echo.Echo
	executor *engine.Executor
	registry *api.Registry
	staging  persistence.StagingStore
	ledger   persistence.LedgerStore
	logger   *zap.Logger
	config   Config
}

// New creates the HTTP server and registers its routes. gatherer backs
// the /metrics endpoint; pass prometheus.DefaultGatherer unless tests
// need isolation.
func New(executor *engine.Executor, registry *api.Registry, staging persistence.StagingStore, ledger persistence.LedgerStore, gatherer prometheus.Gatherer, logger *zap.Logger, cfg Config) (*Server, error) {
	if executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:     e,
		executor: executor,
		registry: registry,
		staging:  staging,
		ledger:   ledger,
		logger:   logger,
		config:   cfg,
	}

	e.GET("/health", s.handleHealth)
	if gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	v1 := e.Group("/api/v1")
	v1.GET("/flows", s.handleListFlows)
	v1.POST("/flows/execute", s.handleExecuteFlow)
	v1.GET("/flows/:id/status", s.handleFlowStatus)
	v1.GET("/tasks", s.handleListTasks)
	v1.GET("/tasks/promoted", s.handlePromotedTask)
	v1.GET("/sync/summaries", s.handleSyncSummaries)

	return s, nil
}

// ExecuteFlowRequest is the body for POST /api/v1/flows/execute.
type ExecuteFlowRequest struct {
	FlowName string            `json:"flowName"`
	TaskID   string            `json:"taskId,omitempty"`
	Config   map[string]any    `json:"config,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// handleExecuteFlow runs a flow synchronously and always answers with
// the FlowResult envelope; step failures are a 200 with success=false.
func (s *Server) handleExecuteFlow(c echo.Context) error {
	var req ExecuteFlowRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.FlowName == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "flowName is required")
	}

	result, err := s.executor.ExecuteFlow(c.Request().Context(), req.FlowName, api.Request{
		TaskID:   req.TaskID,
		Config:   req.Config,
		Metadata: req.Metadata,
	})
	if err != nil {
		var nf *api.FlowNotFoundError
		if errors.As(err, &nf) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		s.logger.Error("flow execution error", zap.String("flow", req.FlowName), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "flow execution failed")
	}

	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleFlowStatus(c echo.Context) error {
	rec, err := s.executor.FlowStatus(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, persistence.ErrFlowStatusNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "unknown flow id")
		}
		s.logger.Error("flow status lookup failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "status lookup failed")
	}
	return c.JSON(http.StatusOK, rec)
}

const listTasksLimit = 200

// handleListFlows reports the registered flow names.
func (s *Server) handleListFlows(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string][]string{"flows": s.executor.Flows()})
}

// handleListTasks lists staged tasks, optionally filtered to one sync
// status via ?status=. Without a filter it answers with the review
// queue (pending and enriched rows).
func (s *Server) handleListTasks(c echo.Context) error {
	var (
		tasks []*api.StagedTask
		err   error
	)
	switch status := api.SyncStatus(c.QueryParam("status")); status {
	case "":
		tasks, err = s.staging.ListPending(c.Request().Context(), listTasksLimit)
	case api.SyncPending, api.SyncEnriched, api.SyncPromoted, api.SyncError:
		tasks, err = s.staging.ListBySyncStatus(c.Request().Context(), status, listTasksLimit)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown sync status %q", status))
	}
	if err != nil {
		s.logger.Error("listing staged tasks failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "listing tasks failed")
	}
	if tasks == nil {
		tasks = []*api.StagedTask{}
	}
	return c.JSON(http.StatusOK, tasks)
}

// handlePromotedTask looks up a promoted record by its natural key.
func (s *Server) handlePromotedTask(c echo.Context) error {
	externalID := c.QueryParam("externalId")
	projectRef := c.QueryParam("projectRef")
	if externalID == "" || projectRef == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "externalId and projectRef are required")
	}

	p, err := s.staging.GetPromotedTask(c.Request().Context(), externalID, projectRef)
	if err != nil {
		if errors.Is(err, persistence.ErrTaskNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "no promoted record for that task")
		}
		s.logger.Error("promoted task lookup failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "lookup failed")
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) handleSyncSummaries(c echo.Context) error {
	summaries, err := s.ledger.ListSyncSummaries(c.Request().Context(), 50)
	if err != nil {
		s.logger.Error("listing sync summaries failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "listing summaries failed")
	}
	if summaries == nil {
		summaries = []*api.SyncOperationSummary{}
	}
	return c.JSON(http.StatusOK, summaries)
}

// HealthResponse is the body for GET /health.
type HealthResponse struct {
	Status       string          `json:"status"`
	Capabilities map[string]bool `json:"capabilities"`
}

// handleHealth reports per-capability health. The endpoint answers 503
// when any capability is down, but still includes the full map.
func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok", Capabilities: map[string]bool{}}
	code := http.StatusOK

	if s.registry != nil {
		resp.Capabilities = s.registry.HealthCheck(c.Request().Context())
		for _, ok := range resp.Capabilities {
			if !ok {
				resp.Status = "degraded"
				code = http.StatusServiceUnavailable
				break
			}
		}
	}
	return c.JSON(code, resp)
}

// Start runs the server until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("http server starting", zap.String("addr", addr))

	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
