package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/velra-app/velra/internal/subscription"
	subscriptiondomain "github.com/velra-app/velra/internal/subscription/domain"
	"go.uber.org/zap"
)

const maxWebhookBytes = 1 << 20

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/revenuecat", s.RevenueCatWebhook)
}

func (s *Server) RevenueCatWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if s.cfg.RevenueCat.VerifyWebhook {
		sig := c.GetHeader("X-RevenueCat-Signature")
		if !subscription.VerifySignature(s.cfg.RevenueCat.WebhookSecret, body, sig) {
			s.log.Warn("webhook signature rejected")
			AbortWithError(c, ErrUnauthorized)
			return
		}
	}

	var payload subscriptiondomain.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	res, err := s.subscriptionSvc.ProcessWebhook(c.Request.Context(), payload)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordWebhookEvent(c.Request.Context(), "revenuecat", res.EventType)
	}
	s.log.Info("webhook processed",
		zap.String("event_id", res.EventID),
		zap.String("event_type", res.EventType),
		zap.Bool("duplicate", res.Duplicate),
	)
	c.JSON(http.StatusOK, res)
}
