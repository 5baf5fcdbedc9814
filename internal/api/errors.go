package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/loomworks/loom/internal/generate"
	"github.com/loomworks/loom/internal/kvcache"
)

// ErrInvalidRequest marks request validation failures so handlers can map
// them to 400 responses.
var ErrInvalidRequest = errors.New("invalid request")

type invalidRequestError struct {
	msg string
}

func (e *invalidRequestError) Error() string { return e.msg }

func (e *invalidRequestError) Unwrap() error { return ErrInvalidRequest }

func newInvalidRequest(format string, args ...any) error {
	return &invalidRequestError{msg: fmt.Sprintf(format, args...)}
}

// apiError is the wire shape of an error payload.
type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

func writeError(c *echo.Context, status int, typ, message string) error {
	return c.JSON(status, errorEnvelope{Error: apiError{
		Message: message,
		Type:    typ,
	}})
}

func writeBadRequest(c *echo.Context, message string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", message)
}

// writeEngineError maps engine failures onto HTTP statuses. Validation
// problems are the caller's fault, capacity and concurrency pressure are
// retryable, everything else is a server error.
func writeEngineError(c *echo.Context, log interface{ Error(string, ...any) }, err error) error {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, generate.ErrInvalidOptions),
		errors.Is(err, generate.ErrInputTooLong):
		return writeBadRequest(c, err.Error())
	case errors.Is(err, generate.ErrGenerationActive):
		return writeError(c, http.StatusConflict, "conflict_error", err.Error())
	case errors.Is(err, kvcache.ErrOverCapacity):
		return writeError(c, http.StatusServiceUnavailable, "overloaded_error", err.Error())
	default:
		log.Error("request failed", "error", err)
		return writeError(c, http.StatusInternalServerError, "internal_error", "generation failed")
	}
}
