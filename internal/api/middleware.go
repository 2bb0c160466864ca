package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	log "cryptobotics/internal/infra/log"
	"cryptobotics/internal/service"
	"cryptobotics/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	headerRequestID = "X-Request-ID"
	headerUserID    = "X-User-ID"
	ctxRequestID    = "requestID"
	ctxActor        = "actor"
)

// RequestID reuses the caller's X-Request-ID or issues a new one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(headerRequestID))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header(headerRequestID, id)
		c.Next()
	}
}

func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetString(ctxRequestID)
		log.LogRequest(requestID, c.Request.Method, c.Request.URL.Path)

		c.Next()

		fields := []zap.Field{zap.String("path", c.FullPath())}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		log.LogResponse(requestID, c.Writer.Status(), time.Since(start).Milliseconds(), fields...)
	}
}

// Authenticate resolves the caller from X-User-ID (or ?userId= for websockets).
// Session and OAuth handling live in front of this service.
func (s *Server) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(headerUserID)
		if raw == "" {
			raw = c.Query("userId")
		}
		id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil || id <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		user, err := s.svc.Profile(c.Request.Context(), service.Actor{UserID: id})
		if errors.Is(err, storage.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown user"})
			return
		}
		if err != nil {
			s.fail(c, err)
			c.Abort()
			return
		}

		c.Set(ctxActor, service.Actor{UserID: user.ID, IsAdmin: user.IsAdmin})
		c.Next()
	}
}

func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !actorFrom(c).IsAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin access required"})
			return
		}
		c.Next()
	}
}

func actorFrom(c *gin.Context) service.Actor {
	if v, ok := c.Get(ctxActor); ok {
		if a, ok := v.(service.Actor); ok {
			return a
		}
	}
	return service.Actor{}
}
