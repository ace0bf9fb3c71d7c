package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	authpkg "github.com/velra-app/velra/internal/auth"
	subscriptiondomain "github.com/velra-app/velra/internal/subscription/domain"
	userdomain "github.com/velra-app/velra/internal/user/domain"
)

func (s *Server) registerAuthRoutes() {
	auth := s.engine.Group("/auth")

	auth.POST("/register", s.Register)
	auth.POST("/login", s.Login)
	auth.POST("/token", s.Login)
	auth.POST("/google", s.socialLogin(authpkg.ProviderGoogle))
	auth.POST("/apple", s.socialLogin(authpkg.ProviderApple))
	auth.POST("/forgot-password", s.ForgotPassword)
	auth.POST("/reset-password", s.ResetPassword)
	auth.POST("/logout", s.Logout)
	auth.DELETE("/delete-account", s.AuthRequired(), s.DeleteAccount)

	auth.POST("/subscription", s.AuthRequired(), s.CreateSubscription)
	auth.GET("/subscription", s.AuthRequired(), s.GetSubscription)
	auth.DELETE("/subscription", s.AuthRequired(), s.CancelSubscription)
}

// socialLogin verifies a provider ID token and signs the asserted
// identity in.
func (s *Server) socialLogin(provider string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			IDToken string `json:"id_token"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.IDToken == "" {
			AbortWithError(c, ErrInvalidRequest)
			return
		}

		identity, err := s.idTokens.Verify(c.Request.Context(), provider, req.IDToken)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		res, err := s.userSvc.SocialSignIn(c.Request.Context(), userdomain.SocialSignInRequest{
			Provider: identity.Provider,
			Subject:  identity.Subject,
			Email:    identity.Email,
		})
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func (s *Server) Register(c *gin.Context) {
	var req userdomain.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	res, err := s.userSvc.Register(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (s *Server) Login(c *gin.Context) {
	var req userdomain.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	res, err := s.userSvc.Login(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) ForgotPassword(c *gin.Context) {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	// Always acknowledged, the response must not leak which emails
	// have accounts.
	if err := s.userSvc.RequestPasswordReset(c.Request.Context(), req.Email); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) ResetPassword(c *gin.Context) {
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.userSvc.ResetPassword(c.Request.Context(), req.Token, req.NewPassword); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Logout is a client-side operation with stateless tokens, the server
// just acknowledges it.
func (s *Server) Logout(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) CreateSubscription(c *gin.Context) {
	id, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req struct {
		ProductID string     `json:"product_id"`
		ExpiresAt *time.Time `json:"expires_at"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	sub, err := s.subscriptionSvc.CreateSubscription(c.Request.Context(), subscriptiondomain.CreateSubscriptionRequest{
		UserID:    id,
		ProductID: req.ProductID,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sub)
}

func (s *Server) GetSubscription(c *gin.Context) {
	id, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	sub, err := s.subscriptionSvc.GetSubscription(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (s *Server) CancelSubscription(c *gin.Context) {
	id, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	sub, err := s.subscriptionSvc.CancelSubscription(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (s *Server) DeleteAccount(c *gin.Context) {
	id, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	if err := s.userSvc.Delete(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
