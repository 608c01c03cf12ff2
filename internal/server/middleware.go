package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/peakstranding/internal/auth"
	"github.com/MarcoPoloResearchLab/peakstranding/internal/metrics"
	"github.com/MarcoPoloResearchLab/peakstranding/internal/users"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	requestIDHeader     = "X-Request-ID"
	requestIDContextKey = "peakstranding_request_id"
	userIDContextKey    = "peakstranding_user_id"
)

// requestLogger assigns a request id, then logs and measures every request once it completes.
func requestLogger(logger *zap.Logger, registry *metrics.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(requestIDContextKey, requestID)
		c.Header(requestIDHeader, requestID)

		c.Next()

		elapsed := time.Since(start)
		status := c.Writer.Status()
		route := c.FullPath()
		registry.ObserveHTTPRequest(c.Request.Method, route, status, elapsed)

		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", elapsed),
		}
		if userID, ok := c.Get(userIDContextKey); ok {
			fields = append(fields, zap.Int64("user_id", userID.(int64)))
		}

		switch {
		case route == "/metrics" || route == "/healthz":
			logger.Debug("http request", fields...)
		case status >= http.StatusInternalServerError:
			logger.Error("http request", fields...)
		default:
			logger.Info("http request", fields...)
		}
	}
}

func (h *httpHandler) authenticateRequest(c *gin.Context) {
	ticket := strings.TrimSpace(c.GetHeader(TicketHeader))
	steamID, err := h.resolver.Resolve(c.Request.Context(), ticket)
	if err != nil {
		status, code := classifyIdentityError(err)
		c.AbortWithStatusJSON(status, gin.H{"error": code})
		return
	}
	c.Set(userIDContextKey, steamID.Int64())
	c.Next()
}

func classifyIdentityError(err error) (int, string) {
	switch {
	case errors.Is(err, users.ErrUnauthenticated):
		return http.StatusUnauthorized, "missing_ticket"
	case errors.Is(err, auth.ErrTicketRejected):
		return http.StatusUnauthorized, "ticket_rejected"
	case errors.Is(err, users.ErrMalformedTicket), errors.Is(err, users.ErrBadTicket):
		return http.StatusBadRequest, "invalid_ticket"
	default:
		return http.StatusBadGateway, "identity_provider_unavailable"
	}
}

func identityFromContext(c *gin.Context) (int64, bool) {
	value, ok := c.Get(userIDContextKey)
	if !ok {
		return 0, false
	}
	userID, ok := value.(int64)
	return userID, ok
}
