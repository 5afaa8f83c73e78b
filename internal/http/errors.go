package http

import (
	"errors"
	"net/http"

	"github.com/fyrsmithlabs/memoryd/internal/extraction"
	"github.com/fyrsmithlabs/memoryd/internal/intel"
	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

var (
	errExtractionDisabled = echo.NewHTTPError(http.StatusServiceUnavailable, "extraction is not configured")
	errRecallDisabled     = echo.NewHTTPError(http.StatusServiceUnavailable, "recall search is not configured")
)

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he.Code
	case memory.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, memory.ErrNotFound), errors.Is(err, intel.ErrNotFound):
		return http.StatusNotFound
	case extraction.IsExtractionError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorHandler renders every error as ErrorResponse. Internal errors are
// logged and their detail withheld from the client.
func errorHandler(logger *logging.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := statusFor(err)
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			if m, ok := he.Message.(string); ok {
				msg = m
			} else {
				msg = http.StatusText(code)
			}
		}
		if code == http.StatusInternalServerError && he == nil {
			logger.Error(c.Request().Context(), "request failed", zap.String("path", c.Path()), zap.Error(err))
			msg = http.StatusText(code)
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(code)
		} else {
			werr = c.JSON(code, ErrorResponse{Error: msg})
		}
		if werr != nil {
			logger.Warn(c.Request().Context(), "write error response", zap.Error(werr))
		}
	}
}
