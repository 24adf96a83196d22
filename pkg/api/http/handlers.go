package http

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aescanero/robotd/internal/application/workers"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

// robotQueryParam names the robot to allocate a worker for
const robotQueryParam = "robotFullyQualifiedName"

// AllocateRequest is the JSON form of a worker allocation
type AllocateRequest struct {
	Robot string `json:"robot"`
}

// AllocateResponse is returned for a new worker
type AllocateResponse struct {
	WorkerID string `json:"workerId"`
}

// RunResponse is returned for a run that produced a value or was aborted
type RunResponse struct {
	WorkerID   string      `json:"workerId"`
	Result     interface{} `json:"result,omitempty"`
	Aborted    bool        `json:"aborted"`
	DurationMS int64       `json:"durationMs"`
}

// PoolResponse describes pool occupancy
type PoolResponse struct {
	Size     int `json:"size"`
	Capacity int `json:"capacity"`
	Leaked   int `json:"leaked"`
}

// handlePing identifies the service
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":    "robotd",
		"version": s.version,
	})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
		})
		return
	}

	status := s.health.GetStatus()
	code, label := http.StatusOK, "healthy"
	if !status.Healthy {
		code, label = http.StatusServiceUnavailable, "unhealthy"
	}
	c.JSON(code, gin.H{
		"status":    label,
		"timestamp": status.Timestamp,
		"pool":      status,
	})
}

// handleAllocateWorker creates a worker for the robot named by the query
// string or the JSON body
func (s *Server) handleAllocateWorker(c *gin.Context) {
	robot := c.Query(robotQueryParam)
	if robot == "" {
		var req AllocateRequest
		if err := bindOptionalJSON(c, &req); err != nil {
			badRequest(c, "INVALID_REQUEST", err)
			return
		}
		robot = req.Robot
	}

	id, err := s.manager.Allocate(c.Request.Context(), robot)
	if err != nil {
		s.writeError(c, "allocate", err)
		return
	}

	c.Header("Location", c.FullPath()+"/"+id.String())
	c.JSON(http.StatusCreated, AllocateResponse{WorkerID: id.String()})
}

// handleListWorkers lists allocated workers
func (s *Server) handleListWorkers(c *gin.Context) {
	records, err := s.manager.List(c.Request.Context())
	if err != nil {
		s.writeError(c, "list", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"workers": records,
		"total":   len(records),
	})
}

// handleGetWorker returns a worker's record
func (s *Server) handleGetWorker(c *gin.Context) {
	id, ok := workerID(c)
	if !ok {
		return
	}

	record, err := s.manager.Get(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, "get", err)
		return
	}

	c.JSON(http.StatusOK, record)
}

// handleReleaseWorker releases an idle or failed worker
func (s *Server) handleReleaseWorker(c *gin.Context) {
	id, ok := workerID(c)
	if !ok {
		return
	}

	if err := s.manager.Release(c.Request.Context(), id); err != nil {
		s.writeError(c, "release", err)
		return
	}

	c.Status(http.StatusNoContent)
}

// handleRunWorker runs the worker's robot and waits for it. A client that
// goes away aborts the run.
func (s *Server) handleRunWorker(c *gin.Context) {
	id, ok := workerID(c)
	if !ok {
		return
	}

	var params map[string]interface{}
	if err := bindOptionalJSON(c, &params); err != nil {
		badRequest(c, "INVALID_PARAMETERS", err)
		return
	}

	result, err := s.manager.Run(c.Request.Context(), id, params)
	if err != nil {
		s.writeError(c, "run", err)
		return
	}

	if result.Value == nil && !result.Aborted {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, RunResponse{
		WorkerID:   id.String(),
		Result:     result.Value,
		Aborted:    result.Aborted,
		DurationMS: result.Duration.Milliseconds(),
	})
}

// handleStopWorker aborts the worker's running robot
func (s *Server) handleStopWorker(c *gin.Context) {
	id, ok := workerID(c)
	if !ok {
		return
	}

	if err := s.manager.Stop(c.Request.Context(), id); err != nil {
		s.writeError(c, "stop", err)
		return
	}

	c.Status(http.StatusNoContent)
}

// handleGetPool reports pool occupancy
func (s *Server) handleGetPool(c *gin.Context) {
	c.JSON(http.StatusOK, PoolResponse{
		Size:     s.manager.PoolSize(),
		Capacity: s.manager.Capacity(),
		Leaked:   s.manager.Leaked(),
	})
}

// workerID parses the :id path parameter, answering 400 when it is malformed
func workerID(c *gin.Context) (workers.WorkerID, bool) {
	id, err := workers.ParseWorkerID(c.Param("id"))
	if err != nil {
		badRequest(c, "INVALID_WORKER_ID", err)
		return workers.WorkerID{}, false
	}
	return id, true
}

// bindOptionalJSON decodes the request body into obj; an empty body leaves
// obj untouched.
func bindOptionalJSON(c *gin.Context, obj interface{}) error {
	if c.Request.Body == nil {
		return nil
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return fmt.Errorf("reading request body: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := binding.JSON.BindBody(body, obj); err != nil {
		return fmt.Errorf("request body must be a JSON object: %w", err)
	}
	return nil
}
