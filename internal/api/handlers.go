package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	monitor "cryptobotics/bots_monitor"
	"cryptobotics/internal/features/charts"
	"cryptobotics/internal/models"
	"cryptobotics/internal/service"

	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 64 << 10

func botID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bot id"})
		return 0, false
	}
	return id, true
}

func (s *Server) register(c *gin.Context) {
	var in service.RegisterInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := s.svc.Register(c.Request.Context(), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *Server) profile(c *gin.Context) {
	user, err := s.svc.Profile(c.Request.Context(), actorFrom(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *Server) billingPortal(c *gin.Context) {
	url, err := s.svc.BillingPortal(c.Request.Context(), actorFrom(c), s.returnURL)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

func (s *Server) listBots(c *gin.Context) {
	bots, err := s.svc.ListBots(c.Request.Context(), actorFrom(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, bots)
}

func (s *Server) createBot(c *gin.Context) {
	var in service.CreateBotInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	bot, err := s.svc.CreateBot(c.Request.Context(), actorFrom(c), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, bot)
}

func (s *Server) getBot(c *gin.Context) {
	id, ok := botID(c)
	if !ok {
		return
	}
	bot, err := s.svc.GetBot(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, bot)
}

func (s *Server) updateBot(c *gin.Context) {
	id, ok := botID(c)
	if !ok {
		return
	}
	var in service.UpdateBotInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	bot, err := s.svc.UpdateBot(c.Request.Context(), actorFrom(c), id, in)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, bot)
}

func (s *Server) deleteBot(c *gin.Context) {
	id, ok := botID(c)
	if !ok {
		return
	}
	if err := s.svc.DeleteBot(c.Request.Context(), actorFrom(c), id); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Bot deleted successfully"})
}

func (s *Server) startBot(c *gin.Context)   { s.lifecycle(c, s.svc.StartBot) }
func (s *Server) stopBot(c *gin.Context)    { s.lifecycle(c, s.svc.StopBot) }
func (s *Server) restartBot(c *gin.Context) { s.lifecycle(c, s.svc.RestartBot) }

type lifecycleOp func(ctx context.Context, actor service.Actor, id int64) (*models.Bot, error)

func (s *Server) lifecycle(c *gin.Context, op lifecycleOp) {
	id, ok := botID(c)
	if !ok {
		return
	}
	bot, err := op(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, bot)
}

func (s *Server) botHistory(c *gin.Context) {
	id, ok := botID(c)
	if !ok {
		return
	}
	if _, err := s.svc.GetBot(c.Request.Context(), actorFrom(c), id); err != nil {
		s.fail(c, err)
		return
	}
	samples := s.history.Samples(id)
	if samples == nil {
		samples = []monitor.Sample{}
	}
	c.JSON(http.StatusOK, gin.H{"botId": id, "samples": samples})
}

func (s *Server) botChart(c *gin.Context) {
	id, ok := botID(c)
	if !ok {
		return
	}
	bot, err := s.svc.GetBot(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		s.fail(c, err)
		return
	}

	var buf bytes.Buffer
	if err := charts.RenderValueChart(&buf, bot.Name, s.history.Points(id)); err != nil {
		if errors.Is(err, charts.ErrNoSamples) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no numeric samples yet"})
			return
		}
		s.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

func (s *Server) adminBots(c *gin.Context) {
	bots, err := s.svc.ListAllBots(c.Request.Context(), actorFrom(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, bots)
}

func (s *Server) adminStats(c *gin.Context) {
	stats, err := s.svc.PlatformStats(c.Request.Context(), actorFrom(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) manageBot(c *gin.Context) {
	id, ok := botID(c)
	if !ok {
		return
	}
	var body struct {
		Action string `json:"action"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	bot, err := s.svc.ManageBot(c.Request.Context(), actorFrom(c), id, body.Action)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Bot " + body.Action + " successful", "bot": bot})
}

// stripeWebhook needs the raw body for signature verification.
func (s *Server) stripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}
	ev, err := s.svc.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true, "type": ev.Type})
}
