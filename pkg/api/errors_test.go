package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/codeready-toolchain/crawlwatch/pkg/engine"
	"github.com/codeready-toolchain/crawlwatch/pkg/models"
	"github.com/codeready-toolchain/crawlwatch/pkg/monitor"
	"github.com/codeready-toolchain/crawlwatch/pkg/services"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		expectCode int
		expectMsg  string
	}{
		{
			name:       "conflict maps to 409",
			err:        &monitor.ConflictError{SessionID: "s-1", Phase: models.PhaseRunning},
			expectCode: http.StatusConflict,
			expectMsg:  "s-1 is running",
		},
		{
			name:       "invalid target maps to 400",
			err:        fmt.Errorf("%w: no host", monitor.ErrInvalidTarget),
			expectCode: http.StatusBadRequest,
			expectMsg:  "invalid target url",
		},
		{
			name:       "not terminal maps to 409",
			err:        monitor.ErrNotTerminal,
			expectCode: http.StatusConflict,
			expectMsg:  "not in a terminal phase",
		},
		{
			name:       "stopped maps to 503",
			err:        monitor.ErrStopped,
			expectCode: http.StatusServiceUnavailable,
			expectMsg:  "shutting down",
		},
		{
			name: "control error maps to 502 even for engine 4xx",
			err: &monitor.ControlError{Op: "start", Err: &engine.APIError{
				Op: "POST /crawl", StatusCode: http.StatusBadRequest, Reason: "invalid_url", Message: "bad",
			}},
			expectCode: http.StatusBadGateway,
			expectMsg:  "start crawl",
		},
		{
			name:       "engine 4xx passes through",
			err:        &engine.APIError{Op: "POST /crawl/config", StatusCode: http.StatusUnprocessableEntity, Message: "max_depth must be positive"},
			expectCode: http.StatusUnprocessableEntity,
			expectMsg:  "max_depth must be positive",
		},
		{
			name:       "engine 5xx maps to 502",
			err:        &engine.APIError{Op: "GET /crawl/config", StatusCode: http.StatusInternalServerError, Message: "boom"},
			expectCode: http.StatusBadGateway,
			expectMsg:  "boom",
		},
		{
			name:       "transient maps to 502",
			err:        &engine.TransientNetworkError{Op: "GET /crawl/config", Err: errors.New("connection refused")},
			expectCode: http.StatusBadGateway,
			expectMsg:  "connection refused",
		},
		{
			name:       "validation error maps to 400",
			err:        services.NewValidationError("limit", "too large"),
			expectCode: http.StatusBadRequest,
			expectMsg:  "too large",
		},
		{
			name:       "not found maps to 404",
			err:        fmt.Errorf("wrapped: %w", services.ErrNotFound),
			expectCode: http.StatusNotFound,
			expectMsg:  "resource not found",
		},
		{
			name:       "unknown error maps to 500",
			err:        errors.New("something unexpected happened"),
			expectCode: http.StatusInternalServerError,
			expectMsg:  "internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := mapError(tt.err)
			assert.Equal(t, tt.expectCode, code)
			assert.Contains(t, body.Error, tt.expectMsg)
		})
	}
}

func TestMapErrorConflictCarriesSession(t *testing.T) {
	_, body := mapError(&monitor.ConflictError{SessionID: "s-9", Phase: models.PhaseStopping})
	assert.Equal(t, "s-9", body.SessionID)
	assert.Equal(t, models.PhaseStopping, body.Phase)
}
