package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/quarrylabs/quarry/internal/retrieval"
)

type searchRequest struct {
	Query      string `json:"query"`
	TopK       int    `json:"top_k"`
	SourceType string `json:"source_type,omitempty"`
}

func (s *Server) registerSearch(g *echo.Group) {
	g.POST("/search", s.search)
}

func (s *Server) search(c echo.Context) error {
	var req searchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	results, err := s.deps.Retrieval.Search(c.Request().Context(), req.Query, req.TopK,
		retrieval.Filters{SourceType: req.SourceType})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"results": results})
}
