package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"quill/internal/app"
	"quill/internal/shared/logging"
)

// CallerHeader carries the opaque caller identity set by the UI boundary.
const CallerHeader = "X-Caller-ID"

const (
	callerKey       = "quill.caller"
	anonymousCaller = "anonymous"
)

func callerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := strings.TrimSpace(c.GetHeader(CallerHeader))
		if caller == "" {
			caller = anonymousCaller
		}
		c.Set(callerKey, caller)
		c.Next()
	}
}

func callerID(c *gin.Context) string {
	if v := c.GetString(callerKey); v != "" {
		return v
	}
	return anonymousCaller
}

func requestLogger(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		latency := time.Since(start)
		switch {
		case status >= 500:
			logger.Error("%s %s -> %d (%v)", c.Request.Method, c.FullPath(), status, latency)
		case status >= 400:
			logger.Warn("%s %s -> %d (%v)", c.Request.Method, c.FullPath(), status, latency)
		default:
			logger.Debug("%s %s -> %d (%v)", c.Request.Method, c.FullPath(), status, latency)
		}
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, app.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, app.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, app.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, app.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(statusFor(err), APIResponse{Success: false, Error: err.Error()})
}

func writeData(c *gin.Context, status int, data any) {
	c.JSON(status, APIResponse{Success: true, Data: data})
}
