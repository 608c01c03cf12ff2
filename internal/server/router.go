package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/peakstranding/internal/auth"
	"github.com/MarcoPoloResearchLab/peakstranding/internal/metrics"
	"github.com/MarcoPoloResearchLab/peakstranding/internal/ratelimit"
	"github.com/MarcoPoloResearchLab/peakstranding/internal/structures"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// TicketHeader carries the client's Steam session ticket.
const TicketHeader = "X-Steam-Auth"

var (
	errMissingResolver   = errors.New("identity resolver dependency required")
	errMissingLimiter    = errors.New("rate limiter dependency required")
	errMissingStructures = errors.New("structure store dependency required")
	errMissingLikes      = errors.New("like ledger dependency required")
)

// IdentityResolver maps a raw ticket to a Steam identity.
type IdentityResolver interface {
	Resolve(ctx context.Context, ticket string) (auth.SteamID, error)
}

// CooldownLimiter admits or rejects an operation for an identity.
type CooldownLimiter interface {
	Admit(identity int64, class ratelimit.Class) error
}

// StructureStore persists and samples structures.
type StructureStore interface {
	Submit(ctx context.Context, ownerID int64, submission structures.Submission) (structures.Structure, error)
	Sample(ctx context.Context, request structures.SampleRequest) ([]structures.Structure, error)
}

// LikeLedger applies likes to structures.
type LikeLedger interface {
	Apply(ctx context.Context, likerID, structureID int64, requested int) (int, error)
}

// HealthChecker reports whether the backing store is reachable.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

type Dependencies struct {
	Resolver   IdentityResolver
	Limiter    CooldownLimiter
	Structures StructureStore
	Likes      LikeLedger
	Health     HealthChecker
	Metrics    *metrics.Registry
	Logger     *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Resolver == nil {
		return nil, errMissingResolver
	}
	if deps.Limiter == nil {
		return nil, errMissingLimiter
	}
	if deps.Structures == nil {
		return nil, errMissingStructures
	}
	if deps.Likes == nil {
		return nil, errMissingLikes
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger, deps.Metrics))
	router.Use(corsMiddleware())

	handler := &httpHandler{
		resolver:   deps.Resolver,
		limiter:    deps.Limiter,
		structures: deps.Structures,
		likes:      deps.Likes,
		health:     deps.Health,
		logger:     logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Metrics.Gatherer(), promhttp.HandlerOpts{})))

	api := router.Group("/api/v1")
	api.Use(handler.authenticateRequest)
	api.POST("/structures", handler.handleSubmitStructure)
	api.GET("/structures", handler.handleSampleStructures)
	api.POST("/structures/:id/like", handler.handleLikeStructure)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{TicketHeader, "Content-Type", requestIDHeader},
		ExposeHeaders: []string{requestIDHeader},
		MaxAge:        12 * time.Hour,
	})
}

type httpHandler struct {
	resolver   IdentityResolver
	limiter    CooldownLimiter
	structures StructureStore
	likes      LikeLedger
	health     HealthChecker
	logger     *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	if h.health != nil {
		if err := h.health.PingContext(c.Request.Context()); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
