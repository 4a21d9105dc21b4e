// Package server exposes the HTTP API: ingestion enqueue, task and document
// inspection, hybrid search, graph reconciliation, and streamed answers.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quarrylabs/quarry/config"
	"github.com/quarrylabs/quarry/internal/answer"
	"github.com/quarrylabs/quarry/internal/core"
	"github.com/quarrylabs/quarry/internal/graphsync"
	"github.com/quarrylabs/quarry/internal/ingest"
	"github.com/quarrylabs/quarry/internal/queue/streams"
	"github.com/quarrylabs/quarry/internal/retrieval"
	"github.com/quarrylabs/quarry/internal/store"
)

// Deps carries the wired dependencies for the HTTP layer.
type Deps struct {
	Config     config.Config
	Store      *store.Store
	Pipeline   *ingest.Pipeline
	Retrieval  *retrieval.Service
	Answer     *answer.Service
	Reconciler *graphsync.Reconciler
	Publisher  *streams.Publisher
}

// Server is the echo application.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	logger *log.Logger
}

// New assembles the echo app and registers all routes.
func New(deps Deps) (*Server, error) {
	if deps.Store == nil || deps.Pipeline == nil || deps.Retrieval == nil {
		return nil, fmt.Errorf("server requires store, pipeline, and retrieval service")
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	logger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code, msg := statusFor(err)
		req := c.Request()
		logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	s := &Server{echo: e, deps: deps, logger: logger}

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")
	s.registerIngest(api)
	s.registerDocuments(api)
	s.registerSearch(api)
	s.registerGraph(api)
	s.registerAnswer(api)

	return s, nil
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start(addr string) error {
	s.logger.Printf("listening on %s", addr)
	return s.echo.Start(addr)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// statusFor maps domain errors to HTTP codes. Transient upstream failures and
// unavailable stores surface as 503 so callers know to retry.
func statusFor(err error) (int, string) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code, fmt.Sprint(he.Message)
	}
	switch {
	case errors.Is(err, core.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, core.ErrConflict):
		return http.StatusConflict, err.Error()
	case errors.Is(err, core.ErrStoreUnavailable), core.Transient(err):
		return http.StatusServiceUnavailable, err.Error()
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

// listEnvelope is the standard shape for paginated collections.
type listEnvelope struct {
	Items  interface{} `json:"items"`
	Total  int         `json:"total"`
	Cursor string      `json:"cursor,omitempty"`
}
