package server

import (
	"crypto/subtle"
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	userdomain "github.com/velra-app/velra/internal/user/domain"
)

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin", s.adminKeyRequired())
	admin.POST("/users/:id/premium", s.AdminSetPremium)
}

// adminKeyRequired gates the manual-override endpoints behind a shared
// key. With no key configured the endpoints are unreachable.
func (s *Server) adminKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := s.cfg.AdminAPIKey
		provided := c.GetHeader("X-Admin-Key")
		if key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(provided)) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}

// AdminSetPremium manually overrides a user's entitlement, the escape
// hatch for support cases where store state and our state disagree.
func (s *Server) AdminSetPremium(c *gin.Context) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var req struct {
		IsPremium        bool   `json:"is_premium"`
		SubscriptionType string `json:"subscription_type"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	user, err := s.userSvc.SetPremium(c.Request.Context(), id, req.IsPremium, userdomain.SubscriptionType(req.SubscriptionType))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}
