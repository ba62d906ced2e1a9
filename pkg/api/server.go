// Package api exposes the evaluator over HTTP: pipeline registration,
// synchronous runs, persisted results and events, and metrics snapshots.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Promptonauts/gate/pkg/config"
	"github.com/Promptonauts/gate/pkg/models"
	"github.com/Promptonauts/gate/pkg/pipeline"
	"github.com/Promptonauts/gate/pkg/store"
)

type Server struct {
	store  store.Store
	runner *pipeline.Runner
	logger *slog.Logger
	engine *gin.Engine
}

func NewServer(st store.Store, runner *pipeline.Runner, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		store:  st,
		runner: runner,
		logger: logger,
		engine: gin.New(),
	}
	s.engine.Use(gin.Recovery())
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.handleHealthz)

	v1 := s.engine.Group("/v1")
	v1.POST("/pipelines", s.handlePutPipeline)
	v1.GET("/pipelines", s.handleListPipelines)
	v1.GET("/pipelines/:name", s.handleGetPipeline)
	v1.DELETE("/pipelines/:name", s.handleDeletePipeline)
	v1.POST("/pipelines/:name/run", s.handleRunPipeline)

	v1.GET("/results", s.handleListResults)
	v1.GET("/results/:id", s.handleGetResult)
	v1.GET("/results/:id/events", s.handleGetResultEvents)

	v1.GET("/metrics", s.handleMetrics)
	v1.GET("/events", s.handleEventStream)
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type putPipelineRequest struct {
	Name string              `json:"name" binding:"required"`
	Spec models.PipelineSpec `json:"spec"`
}

func (s *Server) handlePutPipeline(c *gin.Context) {
	var req putPipelineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := config.Validate(&req.Spec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.store.PutPipeline(req.Name, &req.Spec); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"name": req.Name})
}

func (s *Server) handleListPipelines(c *gin.Context) {
	records, err := s.store.ListPipelines()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pipelines": records})
}

func (s *Server) handleGetPipeline(c *gin.Context) {
	rec, err := s.store.GetPipeline(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleDeletePipeline(c *gin.Context) {
	if err := s.store.DeletePipeline(c.Param("name")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

type runPipelineRequest struct {
	State map[string]any `json:"state"`
}

func (s *Server) handleRunPipeline(c *gin.Context) {
	name := c.Param("name")
	rec, err := s.store.GetPipeline(name)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	// An empty body is a run with no state.
	var req runPipelineRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	report, err := s.runner.Run(c.Request.Context(), name, rec.Spec, config.State(req.State))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleListResults(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	records, err := s.store.ListStepResults(c.Query("pipeline"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": records})
}

func (s *Server) handleGetResult(c *gin.Context) {
	rec, err := s.store.GetStepResult(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleGetResultEvents(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.store.GetStepResult(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	events, err := s.store.GetStepEvents(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (s *Server) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.runner.Metrics().Snapshot())
}

// handleEventStream writes result events as JSON lines until the client
// goes away. Events emitted while no watcher drains fast enough are
// dropped by the store, not buffered here.
func (s *Server) handleEventStream(c *gin.Context) {
	ch := s.store.Watch()
	c.Header("Content-Type", "application/x-ndjson")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	enc := json.NewEncoder(c.Writer)
	done := c.Request.Context().Done()
	for {
		select {
		case <-done:
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if err := enc.Encode(event); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}
