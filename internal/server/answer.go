package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/quarrylabs/quarry/internal/retrieval"
)

type answerRequest struct {
	Question   string `json:"question"`
	SourceType string `json:"source_type,omitempty"`
}

func (s *Server) registerAnswer(g *echo.Group) {
	g.POST("/answer/stream", s.streamAnswer)
}

// streamAnswer forwards the answer event stream over SSE. Each event is one
// JSON object; the stream ends with a done or error event.
func (s *Server) streamAnswer(c echo.Context) error {
	if s.deps.Answer == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "answer service not configured")
	}
	var req answerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Question == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question is required")
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}

	ctx := c.Request().Context()
	events := s.deps.Answer.Stream(ctx, req.Question, retrieval.Filters{SourceType: req.SourceType})
	for ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			s.logger.Printf("warn: marshal answer event: %v", err)
			continue
		}
		if _, err := fmt.Fprintf(resp, "event: %s\ndata: %s\n\n", ev.Type, payload); err != nil {
			return nil
		}
		flusher.Flush()
	}
	return nil
}
