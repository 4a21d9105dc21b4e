package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

func (s *Server) registerGraph(g *echo.Group) {
	g.POST("/graph/reconcile", s.reconcileGraph)
	g.GET("/graph/status", s.graphStatus)
}

// reconcileGraph runs one bounded reconciliation sweep and reports per
// document outcomes.
func (s *Server) reconcileGraph(c echo.Context) error {
	if s.deps.Reconciler == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "graph engine not configured")
	}
	limit := intQuery(c, "limit", 20)
	result, err := s.deps.Reconciler.Sweep(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) graphStatus(c echo.Context) error {
	ceiling := s.deps.Config.Graph.RetryCeiling
	unsynced, err := s.deps.Store.CountGraphUnsynced(c.Request().Context(), ceiling)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"unsynced":      unsynced,
		"retry_ceiling": ceiling,
	})
}
