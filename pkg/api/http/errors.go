package http

import (
	"errors"
	"net/http"

	"github.com/aescanero/robotd/internal/application/orchestrator"
	"github.com/aescanero/robotd/internal/application/workers"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// statusOf maps a manager error to an HTTP status and error code
func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, orchestrator.ErrInvalidRobotName),
		errors.Is(err, orchestrator.ErrInvalidParameters):
		return http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, workers.ErrPoolExhausted):
		return http.StatusNotAcceptable, "POOL_EXHAUSTED"
	case errors.Is(err, workers.ErrRobotNotFound):
		return http.StatusNotFound, "ROBOT_NOT_FOUND"
	case errors.Is(err, workers.ErrCompile):
		return http.StatusConflict, "COMPILE_ERROR"
	case errors.Is(err, workers.ErrRuntimeUnavailable):
		return http.StatusServiceUnavailable, "RUNTIME_UNAVAILABLE"
	}

	switch workers.KindOf(err) {
	case workers.KindNotFound:
		return http.StatusNotFound, "WORKER_NOT_FOUND"
	case workers.KindInvalidState:
		return http.StatusConflict, "INVALID_STATE"
	case workers.KindAllocate:
		return http.StatusServiceUnavailable, "ALLOCATE_FAILED"
	case workers.KindRuntimeExecution:
		return http.StatusInternalServerError, "RUNTIME_ERROR"
	case workers.KindAbortFailed:
		return http.StatusInternalServerError, "ABORT_FAILED"
	case workers.KindPoolFailure:
		return http.StatusInternalServerError, "POOL_FAILURE"
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}

// writeError renders err and logs it at a level matching its status
func (s *Server) writeError(c *gin.Context, op string, err error) {
	status, code := statusOf(err)
	fields := []zap.Field{
		zap.String("op", op),
		zap.String("code", code),
		zap.Error(err),
	}
	if id := c.Param("id"); id != "" {
		fields = append(fields, zap.String("worker_id", id))
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", fields...)
	} else {
		s.logger.Info("request rejected", fields...)
	}

	c.JSON(status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: err.Error(),
		},
	})
}

func badRequest(c *gin.Context, code string, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: err.Error(),
		},
	})
}
