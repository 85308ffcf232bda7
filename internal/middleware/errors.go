package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/rashiddalii/moodlog-server/internal/service"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// StatusFor maps a service error kind to its HTTP status.
func StatusFor(kind service.Kind) int {
	switch kind {
	case service.KindValidation, service.KindConflict:
		return http.StatusBadRequest
	case service.KindAuth:
		return http.StatusUnauthorized
	case service.KindCapacity:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteError renders err as {message, code}.  Anything that is not a
// *service.Error is reported as a generic 500 so no internal detail leaks.
func WriteError(c echo.Context, err error) error {
	var se *service.Error
	if !errors.As(err, &se) {
		c.Logger().Error(err)
		return c.JSON(http.StatusInternalServerError, ErrorBody{Message: "Internal server error", Code: "INTERNAL_ERROR"})
	}
	return c.JSON(StatusFor(se.Kind), ErrorBody{Message: se.Message, Code: se.Code})
}
