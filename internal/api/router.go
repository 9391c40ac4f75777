package api

import (
	a "go-chat-hub/internal/auth"
	"go-chat-hub/internal/middleware"

	"github.com/gin-gonic/gin"
)

type Router struct {
	ws      *WebSocketHandler
	audit   *AuditHandlers
	om      *a.OperatorMiddleware
	limiter *middleware.IPRateLimiter
}

func NewRouter(deps Dependencies) *Router {
	cfg := deps.Config
	r := &Router{
		ws:      NewWebSocketHandler(deps.Hub, deps.Gate, deps.Audit, cfg.Server.AllowedOrigins, deps.Logger),
		om:      a.NewOperatorMiddleware(cfg.Auth.OperatorKeyHash),
		limiter: middleware.NewIPRateLimiter(middleware.UpgradeRateLimit(cfg.RateLimit), deps.Logger),
	}
	if deps.Audit != nil {
		r.audit = NewAuditHandlers(deps.Audit)
	}
	return r
}

func (r *Router) RegisterRoutes(router *gin.Engine) {
	{
		unprotected := router.Group("/")
		unprotected.GET("/hc", HealthCheckHandler)
		unprotected.GET("/ws", middleware.RateLimitMiddleware(r.limiter), r.ws.HandleWebSocket)
	}

	{
		operator := router.Group("/")
		operator.Use(r.om.RequireOperator())
		operator.GET("/ws/stats", r.ws.GetStats)
		if r.audit != nil {
			operator.GET("/audit", r.audit.GetAuditLogsHandler)
		}
	}
}

// Close stops the limiter's cleanup loop.
func (r *Router) Close() {
	r.limiter.Stop()
}

func HealthCheckHandler(c *gin.Context) {
	c.String(200, "Running")
}
