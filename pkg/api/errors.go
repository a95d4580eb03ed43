package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/crawlwatch/pkg/engine"
	"github.com/codeready-toolchain/crawlwatch/pkg/monitor"
	"github.com/codeready-toolchain/crawlwatch/pkg/services"
)

// mapError maps monitor, engine and service errors to an HTTP status and a
// client-facing message.
func mapError(err error) (int, ErrorResponse) {
	var conflict *monitor.ConflictError
	if errors.As(err, &conflict) {
		return http.StatusConflict, ErrorResponse{
			Error:     conflict.Error(),
			SessionID: conflict.SessionID,
			Phase:     conflict.Phase,
		}
	}
	if errors.Is(err, monitor.ErrInvalidTarget) {
		return http.StatusBadRequest, ErrorResponse{Error: err.Error()}
	}
	if errors.Is(err, monitor.ErrNotTerminal) {
		return http.StatusConflict, ErrorResponse{Error: "session is not in a terminal phase"}
	}
	if errors.Is(err, monitor.ErrStopped) {
		return http.StatusServiceUnavailable, ErrorResponse{Error: "monitor is shutting down"}
	}

	// Start and stop failures are always the engine's: 502 regardless of cause.
	var control *monitor.ControlError
	if errors.As(err, &control) {
		return http.StatusBadGateway, ErrorResponse{Error: control.Error(), SessionID: control.SessionID}
	}

	var apiErr *engine.APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			return apiErr.StatusCode, ErrorResponse{Error: apiErr.Message, Reason: apiErr.Reason}
		}
		return http.StatusBadGateway, ErrorResponse{Error: apiErr.Error(), Reason: apiErr.Reason}
	}
	if engine.IsTransient(err) || engine.IsProtocol(err) {
		return http.StatusBadGateway, ErrorResponse{Error: err.Error()}
	}

	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		return http.StatusBadRequest, ErrorResponse{Error: validErr.Error()}
	}
	if errors.Is(err, services.ErrNotFound) {
		return http.StatusNotFound, ErrorResponse{Error: "resource not found"}
	}

	slog.Error("Unexpected API error", "error", err)
	return http.StatusInternalServerError, ErrorResponse{Error: "internal server error"}
}

func abortWithError(c *gin.Context, err error) {
	status, body := mapError(err)
	c.AbortWithStatusJSON(status, body)
}

func abortBadRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}
