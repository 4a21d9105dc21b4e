package server

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

func (s *Server) registerDocuments(g *echo.Group) {
	g.GET("/documents", s.listDocuments)
	g.GET("/documents/:id", s.getDocument)
	g.GET("/documents/:id/sync-log", s.listSyncLog)
}

func (s *Server) listDocuments(c echo.Context) error {
	limit := intQuery(c, "limit", 0)
	docs, total, cursor, err := s.deps.Store.ListDocuments(c.Request().Context(), c.QueryParam("cursor"), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, listEnvelope{Items: docs, Total: total, Cursor: cursor})
}

func (s *Server) getDocument(c echo.Context) error {
	doc, found, err := s.deps.Store.GetDocument(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	if !found {
		return echo.NewHTTPError(http.StatusNotFound, "document not found")
	}
	return c.JSON(http.StatusOK, doc)
}

func (s *Server) listSyncLog(c echo.Context) error {
	limit := intQuery(c, "limit", 100)
	logs, err := s.deps.Store.ListSyncLogs(c.Request().Context(), c.Param("id"), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"items": logs})
}

func intQuery(c echo.Context, name string, fallback int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
