package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	notificationdomain "github.com/velra-app/velra/internal/notification/domain"
)

func (s *Server) registerNotificationRoutes() {
	n := s.engine.Group("/notifications", s.OptionalAuth())

	n.POST("/register-device", s.RegisterDevice)
	n.POST("/unregister-device", s.UnregisterDevice)
	n.GET("/preferences", s.NotificationPreferences)
	n.PUT("/preferences", s.UpdateNotificationPreferences)
	n.POST("/test", s.SendTestNotification)
	n.POST("/send-headlines", s.SendHeadlinesNow)
}

func (s *Server) RegisterDevice(c *gin.Context) {
	var req struct {
		Token    string `json:"token"`
		DeviceID string `json:"device_id"`
		Platform string `json:"platform"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	domainReq := notificationdomain.RegisterTokenRequest{
		DeviceID: req.DeviceID,
		Token:    req.Token,
		Platform: req.Platform,
	}
	if id, ok := currentUserID(c); ok {
		domainReq.UserID = &id
	}

	token, err := s.notificationSvc.RegisterToken(c.Request.Context(), domainReq)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, token)
}

func (s *Server) UnregisterDevice(c *gin.Context) {
	var req struct {
		Token string `json:"token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.notificationSvc.UnregisterToken(c.Request.Context(), req.Token); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) NotificationPreferences(c *gin.Context) {
	pref, err := s.notificationSvc.Preference(c.Request.Context(), c.Query("token"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, pref)
}

func (s *Server) UpdateNotificationPreferences(c *gin.Context) {
	var req struct {
		Token      string   `json:"token"`
		Frequency  string   `json:"frequency"`
		Enabled    *bool    `json:"enabled"`
		Categories []string `json:"categories"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	pref, err := s.notificationSvc.SetPreference(c.Request.Context(), notificationdomain.SetPreferenceRequest{
		Token:      req.Token,
		Frequency:  notificationdomain.Frequency(req.Frequency),
		Enabled:    enabled,
		Categories: req.Categories,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, pref)
}

func (s *Server) SendTestNotification(c *gin.Context) {
	var req struct {
		Token string `json:"token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.notificationSvc.SendTest(c.Request.Context(), req.Token); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}

// SendHeadlinesNow triggers a fanout outside the scheduler, used for
// manual sends.
func (s *Server) SendHeadlinesNow(c *gin.Context) {
	var req struct {
		Frequency string `json:"frequency"`
		Title     string `json:"title"`
		Body      string `json:"body"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if req.Frequency == "" {
		req.Frequency = string(notificationdomain.FrequencyDaily)
	}

	report, err := s.notificationSvc.SendHeadlines(
		c.Request.Context(),
		notificationdomain.Frequency(req.Frequency),
		req.Title,
		req.Body,
	)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if s.obsMetrics != nil {
		s.obsMetrics.RecordPushSent(c.Request.Context(), "ok")
	}
	c.JSON(http.StatusOK, report)
}
