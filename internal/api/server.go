package api

import (
	"errors"
	"net/http"

	monitor "cryptobotics/bots_monitor"
	"cryptobotics/internal/billing"
	log "cryptobotics/internal/infra/log"
	"cryptobotics/internal/service"
	"cryptobotics/internal/storage"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Options struct {
	Service *service.Service
	History *monitor.History
	Hub     *Hub
	// PortalReturnURL is where the billing portal sends users back to.
	PortalReturnURL string
}

// Server exposes the dashboard REST API, the billing webhook and the live
// update socket.
type Server struct {
	svc       *service.Service
	history   *monitor.History
	hub       *Hub
	returnURL string
}

func NewServer(opts Options) *Server {
	if opts.Hub == nil {
		opts.Hub = NewHub()
	}
	return &Server{
		svc:       opts.Service,
		history:   opts.History,
		hub:       opts.Hub,
		returnURL: opts.PortalReturnURL,
	}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), AccessLog())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "wsClients": s.hub.Clients()})
	})
	r.POST("/webhooks/stripe", s.stripeWebhook)

	api := r.Group("/api")
	api.POST("/users", s.register)

	authed := api.Group("", s.Authenticate())
	authed.GET("/user/profile", s.profile)
	authed.GET("/user/billing-portal", s.billingPortal)

	bots := authed.Group("/bots")
	bots.GET("", s.listBots)
	bots.POST("", s.createBot)
	bots.GET("/:id", s.getBot)
	bots.PUT("/:id", s.updateBot)
	bots.DELETE("/:id", s.deleteBot)
	bots.POST("/:id/start", s.startBot)
	bots.POST("/:id/stop", s.stopBot)
	bots.POST("/:id/restart", s.restartBot)
	bots.GET("/:id/history", s.botHistory)
	bots.GET("/:id/chart.png", s.botChart)

	admin := authed.Group("/admin", RequireAdmin())
	admin.GET("/bots", s.adminBots)
	admin.GET("/stats", s.adminStats)
	admin.POST("/bots/:id/manage", s.manageBot)

	r.GET("/ws", s.Authenticate(), func(c *gin.Context) {
		a := actorFrom(c)
		s.hub.serve(c, a.UserID, a.IsAdmin)
	})

	return r
}

// fail maps domain errors onto HTTP statuses.
func (s *Server) fail(c *gin.Context, err error) {
	_ = c.Error(err)
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, monitor.ErrBotNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
	case service.IsClientError(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, billing.ErrNotConfigured):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "billing is not configured"})
	case errors.Is(err, monitor.ErrSchedulerClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server is shutting down"})
	default:
		log.RequestLogger(c.GetString(ctxRequestID)).Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
