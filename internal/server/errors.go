package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/velra-app/velra/internal/auth"
	newsdomain "github.com/velra-app/velra/internal/news/domain"
	notificationdomain "github.com/velra-app/velra/internal/notification/domain"
	productservice "github.com/velra-app/velra/internal/product/service"
	stocksservice "github.com/velra-app/velra/internal/stocks/service"
	subscriptiondomain "github.com/velra-app/velra/internal/subscription/domain"
	tryondomain "github.com/velra-app/velra/internal/tryon/domain"
	usagedomain "github.com/velra-app/velra/internal/usage/domain"
	userdomain "github.com/velra-app/velra/internal/user/domain"
	"gorm.io/gorm"
)

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidRequest = errors.New("invalid_request")
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

// ErrorHandlingMiddleware converts errors attached to the context into
// a uniform JSON error body.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}
		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, usagedomain.ErrInvalidSubject),
		errors.Is(err, usagedomain.ErrInvalidTier),
		errors.Is(err, userdomain.ErrInvalidEmail),
		errors.Is(err, userdomain.ErrWeakPassword),
		errors.Is(err, userdomain.ErrRevenueCatIDMissing),
		errors.Is(err, userdomain.ErrResetTokenInvalid),
		errors.Is(err, tryondomain.ErrMissingImages),
		errors.Is(err, newsdomain.ErrEmptyArticle),
		errors.Is(err, newsdomain.ErrInvalidPageToken),
		errors.Is(err, notificationdomain.ErrInvalidToken),
		errors.Is(err, notificationdomain.ErrInvalidFrequency),
		errors.Is(err, productservice.ErrMissingCategory),
		errors.Is(err, subscriptiondomain.ErrMissingEventID),
		errors.Is(err, subscriptiondomain.ErrMissingProductID):
		return http.StatusBadRequest, errorPayload{Type: "invalid_request", Message: err.Error()}

	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrTokenExpired),
		errors.Is(err, auth.ErrIDTokenInvalid),
		errors.Is(err, userdomain.ErrInvalidCredentials),
		errors.Is(err, userdomain.ErrUserInactive):
		return http.StatusUnauthorized, errorPayload{Type: "unauthorized", Message: err.Error()}

	case errors.Is(err, tryondomain.ErrLimitReached):
		return http.StatusForbidden, errorPayload{Type: "limit_reached", Message: err.Error()}

	case errors.Is(err, userdomain.ErrUserNotFound),
		errors.Is(err, tryondomain.ErrPredictionNotFound),
		errors.Is(err, newsdomain.ErrHeadlineNotFound),
		errors.Is(err, newsdomain.ErrSavedArticleNotFound),
		errors.Is(err, notificationdomain.ErrTokenNotFound),
		errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound),
		errors.Is(err, stocksservice.ErrUnknownSymbol),
		errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, errorPayload{Type: "not_found", Message: err.Error()}

	case errors.Is(err, userdomain.ErrEmailTaken),
		errors.Is(err, userdomain.ErrUsernameTaken),
		errors.Is(err, userdomain.ErrRevenueCatIDInUse),
		errors.Is(err, newsdomain.ErrArticleAlreadySaved):
		return http.StatusConflict, errorPayload{Type: "conflict", Message: err.Error()}

	case errors.Is(err, userdomain.ErrInsightsLimit),
		errors.Is(err, tryondomain.ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{Type: "rate_limited", Message: err.Error()}

	case errors.Is(err, usagedomain.ErrConflict):
		return http.StatusServiceUnavailable, errorPayload{Type: "conflict_retry", Message: "temporarily busy, retry"}

	case errors.Is(err, auth.ErrProviderNotWiredUp):
		return http.StatusServiceUnavailable, errorPayload{Type: "not_configured", Message: err.Error()}

	default:
		return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal server error"}
	}
}
