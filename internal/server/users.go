package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	userdomain "github.com/velra-app/velra/internal/user/domain"
)

func (s *Server) registerUserRoutes() {
	users := s.engine.Group("/users", s.AuthRequired())

	users.GET("/me", s.Me)
	users.GET("/subscription-status", s.SubscriptionStatus)
	users.PUT("/subscription-status", s.UpdateSubscriptionStatus)
	users.POST("/link-revenuecat", s.LinkRevenueCat)
	users.GET("/insights-usage", s.InsightsUsage)
}

func (s *Server) Me(c *gin.Context) {
	user, err := s.currentUser(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *Server) SubscriptionStatus(c *gin.Context) {
	user, err := s.currentUser(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"is_premium":        user.IsPremium,
		"subscription_type": user.SubscriptionType,
	})
}

// UpdateSubscriptionStatus lets a client restore its entitlement after
// a purchase restore when webhook delivery is delayed.
func (s *Server) UpdateSubscriptionStatus(c *gin.Context) {
	var req struct {
		IsPremium        bool   `json:"is_premium"`
		SubscriptionType string `json:"subscription_type"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	id, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	subType := userdomain.SubscriptionType(req.SubscriptionType)
	user, err := s.userSvc.SetPremium(c.Request.Context(), id, req.IsPremium, subType)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"is_premium":        user.IsPremium,
		"subscription_type": user.SubscriptionType,
	})
}

func (s *Server) LinkRevenueCat(c *gin.Context) {
	var req struct {
		AppUserID string `json:"app_user_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	id, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	user, err := s.userSvc.LinkRevenueCat(c.Request.Context(), id, req.AppUserID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *Server) InsightsUsage(c *gin.Context) {
	user, err := s.currentUser(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"used":      user.InsightsRequestCount,
		"unlimited": user.IsPremium,
	})
}
