package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/quarrylabs/quarry/internal/ingest"
)

type enqueueRequest struct {
	Documents []ingest.Request `json:"documents"`
}

type enqueuedTask struct {
	TaskID     string `json:"task_id"`
	SourceType string `json:"source_type"`
	SourceID   string `json:"source_id"`
}

func (s *Server) registerIngest(g *echo.Group) {
	g.POST("/ingest", s.enqueueIngest)
	g.POST("/ingest/run", s.runIngest)
	g.GET("/tasks", s.listTasks)
	g.GET("/tasks/:id", s.getTask)
}

// enqueueIngest creates one task per document and hands the work orders to
// the stream. Workers pick them up asynchronously.
func (s *Server) enqueueIngest(c echo.Context) error {
	if s.deps.Publisher == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "queue not configured")
	}
	var req enqueueRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Documents) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "documents must not be empty")
	}

	ctx := c.Request().Context()
	stream := s.deps.Config.Ingest.Stream
	tasks := make([]enqueuedTask, 0, len(req.Documents))
	for _, doc := range req.Documents {
		if doc.SourceType == "" || doc.SourceID == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "source_type and source_id are required")
		}
		task, err := s.deps.Store.CreateTask(ctx, doc.SourceType, doc.SourceID)
		if err != nil {
			return err
		}
		if _, err := s.deps.Publisher.PublishIngestRequest(ctx, stream, task.ID, doc); err != nil {
			_ = s.deps.Store.FailTask(ctx, task.ID, "enqueue failed: "+err.Error())
			return err
		}
		tasks = append(tasks, enqueuedTask{TaskID: task.ID, SourceType: doc.SourceType, SourceID: doc.SourceID})
	}
	return c.JSON(http.StatusAccepted, map[string]interface{}{"tasks": tasks})
}

// runIngest executes the batch synchronously in-process. Failures are
// isolated per document and reported inline.
func (s *Server) runIngest(c echo.Context) error {
	var req enqueueRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Documents) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "documents must not be empty")
	}
	results := s.deps.Pipeline.IngestBatch(c.Request().Context(), req.Documents)
	return c.JSON(http.StatusOK, map[string]interface{}{"results": results})
}

func (s *Server) listTasks(c echo.Context) error {
	limit := intQuery(c, "limit", 0)
	tasks, total, cursor, err := s.deps.Store.ListTasks(c.Request().Context(), c.QueryParam("cursor"), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, listEnvelope{Items: tasks, Total: total, Cursor: cursor})
}

func (s *Server) getTask(c echo.Context) error {
	task, found, err := s.deps.Store.GetTask(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	if !found {
		return echo.NewHTTPError(http.StatusNotFound, "task not found")
	}
	return c.JSON(http.StatusOK, task)
}
