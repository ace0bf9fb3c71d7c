package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/velra-app/velra/internal/auth"
	"github.com/velra-app/velra/internal/clock"
	"github.com/velra-app/velra/internal/config"
	subscriptiondomain "github.com/velra-app/velra/internal/subscription/domain"
	tryondomain "github.com/velra-app/velra/internal/tryon/domain"
	usagedomain "github.com/velra-app/velra/internal/usage/domain"
	userdomain "github.com/velra-app/velra/internal/user/domain"
	"go.uber.org/zap"
)

type fakeUsageService struct {
	usagedomain.Service

	lastConsume usagedomain.ConsumeRequest
	consumeRes  *usagedomain.ConsumeResult
	checkStats  *usagedomain.Stats
}

func (f *fakeUsageService) Consume(ctx context.Context, req usagedomain.ConsumeRequest) (*usagedomain.ConsumeResult, error) {
	f.lastConsume = req
	return f.consumeRes, nil
}

func (f *fakeUsageService) Check(ctx context.Context, subject usagedomain.Subject, tier usagedomain.Tier) (*usagedomain.Stats, error) {
	return f.checkStats, nil
}

type fakeTryonService struct {
	tryondomain.Service

	startErr  error
	startRes  *tryondomain.StartResult
	statusErr error
}

func (f *fakeTryonService) Start(ctx context.Context, req tryondomain.StartRequest) (*tryondomain.StartResult, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	return f.startRes, nil
}

func (f *fakeTryonService) Status(ctx context.Context, predictionID string) (*tryondomain.Prediction, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return &tryondomain.Prediction{PredictionID: predictionID}, nil
}

type fakeUserService struct {
	userdomain.Service

	user *userdomain.User
}

func (f *fakeUserService) GetByID(ctx context.Context, id snowflake.ID) (*userdomain.User, error) {
	if f.user == nil || f.user.ID != id {
		return nil, userdomain.ErrUserNotFound
	}
	return f.user, nil
}

func (f *fakeUserService) SetPremium(ctx context.Context, id snowflake.ID, premium bool, subType userdomain.SubscriptionType) (*userdomain.User, error) {
	if f.user == nil || f.user.ID != id {
		return nil, userdomain.ErrUserNotFound
	}
	f.user.IsPremium = premium
	f.user.SubscriptionType = subType
	return f.user, nil
}

type fakeSubscriptionService struct {
	subscriptiondomain.Service

	lastPayload subscriptiondomain.WebhookPayload
	processRes  *subscriptiondomain.ProcessResult
}

func (f *fakeSubscriptionService) ProcessWebhook(ctx context.Context, payload subscriptiondomain.WebhookPayload) (*subscriptiondomain.ProcessResult, error) {
	f.lastPayload = payload
	return f.processRes, nil
}

func (f *fakeSubscriptionService) TierOf(user *userdomain.User) usagedomain.Tier {
	if user != nil && user.IsPremium {
		return usagedomain.TierSubscribed
	}
	return usagedomain.TierFree
}

func newTestServer(t *testing.T, s *Server) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	if s.cfg.AuthJWTSecret == "" {
		s.cfg.AuthJWTSecret = "test-secret"
		s.cfg.AccessTokenMinutes = 30
	}
	tokens, err := auth.NewManager(s.cfg, clock.NewFakeClock(time.Now()))
	require.NoError(t, err)
	s.tokens = tokens
	s.log = zap.NewNop()

	r := gin.New()
	r.Use(ErrorHandlingMiddleware())
	s.engine = r

	s.registerAuthRoutes()
	s.registerUserRoutes()
	s.registerTryonRoutes()
	s.registerWebhookRoutes()
	s.registerAdminRoutes()
	return s
}

func doJSON(s *Server, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp := httptest.NewRecorder()
	s.engine.ServeHTTP(resp, req)
	return resp
}

func TestConsumeUsageDeviceSubject(t *testing.T) {
	usage := &fakeUsageService{
		consumeRes: &usagedomain.ConsumeResult{
			Allowed: false,
			Reason:  usagedomain.ReasonDailyLimit,
		},
	}
	s := newTestServer(t, &Server{usageSvc: usage})

	resp := doJSON(s, http.MethodPost, "/tryon/device-usage", `{"device_id":"abc-123","is_premium":true}`, nil)

	// Denials stay a 200, the body carries allowed=false.
	require.Equal(t, http.StatusOK, resp.Code)

	var body usagedomain.ConsumeResult
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.False(t, body.Allowed)
	assert.Equal(t, usagedomain.ReasonDailyLimit, body.Reason)

	assert.Equal(t, usagedomain.DeviceSubject("abc-123"), usage.lastConsume.Subject)
	assert.Equal(t, usagedomain.TierSubscribed, usage.lastConsume.Tier)
}

func TestConsumeUsageRequiresDeviceID(t *testing.T) {
	s := newTestServer(t, &Server{usageSvc: &fakeUsageService{}})

	resp := doJSON(s, http.MethodPost, "/tryon/device-usage", `{"device_id":"  "}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestConsumeUsageAuthenticatedUsesUserSubject(t *testing.T) {
	user := &userdomain.User{ID: snowflake.ID(42), Email: "a@velra.app", IsPremium: true}
	usage := &fakeUsageService{consumeRes: &usagedomain.ConsumeResult{Allowed: true}}
	s := newTestServer(t, &Server{
		usageSvc:        usage,
		userSvc:         &fakeUserService{user: user},
		subscriptionSvc: &fakeSubscriptionService{},
	})

	token, _, err := s.tokens.Generate(user.ID)
	require.NoError(t, err)

	resp := doJSON(s, http.MethodPost, "/tryon/device-usage", `{}`, map[string]string{
		"Authorization": "Bearer " + token,
	})
	require.Equal(t, http.StatusOK, resp.Code)

	assert.Equal(t, usagedomain.UserSubject(user.ID), usage.lastConsume.Subject)
	assert.Equal(t, usagedomain.TierSubscribed, usage.lastConsume.Tier)
}

func TestTryAsyncDeniedReturnsUsageBody(t *testing.T) {
	tryon := &fakeTryonService{
		startErr: &tryondomain.DeniedError{
			Reason: usagedomain.ReasonDailyLimit,
			Stats:  usagedomain.Stats{DailyUsed: 3, DailyLimit: 3},
		},
	}
	s := newTestServer(t, &Server{tryonSvc: tryon})

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, field := range []string{"model_image", "garment_image"} {
		fw, err := w.CreateFormFile(field, field+".jpg")
		require.NoError(t, err)
		_, err = fw.Write([]byte("jpeg-bytes"))
		require.NoError(t, err)
	}
	require.NoError(t, w.WriteField("device_id", "abc-123"))
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/virtual-tryon/try-async", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp := httptest.NewRecorder()
	s.engine.ServeHTTP(resp, req)

	require.Equal(t, http.StatusForbidden, resp.Code)

	var body struct {
		Reason string `json:"reason"`
		Usage  struct {
			DailyUsed int `json:"daily_used"`
		} `json:"usage"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, string(usagedomain.ReasonDailyLimit), body.Reason)
	assert.Equal(t, 3, body.Usage.DailyUsed)
}

func TestTryAsyncMissingImage(t *testing.T) {
	s := newTestServer(t, &Server{tryonSvc: &fakeTryonService{}})

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("device_id", "abc-123"))
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/virtual-tryon/try-async", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp := httptest.NewRecorder()
	s.engine.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestTryonStatusNotFound(t *testing.T) {
	s := newTestServer(t, &Server{
		tryonSvc: &fakeTryonService{statusErr: tryondomain.ErrPredictionNotFound},
	})

	req := httptest.NewRequest(http.MethodGet, "/virtual-tryon/status/nope", nil)
	resp := httptest.NewRecorder()
	s.engine.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestMeRequiresToken(t *testing.T) {
	user := &userdomain.User{ID: snowflake.ID(42), Email: "a@velra.app"}
	s := newTestServer(t, &Server{userSvc: &fakeUserService{user: user}})

	resp := doJSON(s, http.MethodGet, "/users/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = doJSON(s, http.MethodGet, "/users/me", "", map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	token, _, err := s.tokens.Generate(user.ID)
	require.NoError(t, err)
	resp = doJSON(s, http.MethodGet, "/users/me", "", map[string]string{
		"Authorization": "Bearer " + token,
	})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "a@velra.app")
}

func TestRevenueCatWebhookSignature(t *testing.T) {
	sub := &fakeSubscriptionService{
		processRes: &subscriptiondomain.ProcessResult{EventID: "ev-1", EventType: "INITIAL_PURCHASE", Premium: true},
	}
	s := newTestServer(t, &Server{
		cfg: config.Config{RevenueCat: config.RevenueCatConfig{
			WebhookSecret: "whsec",
			VerifyWebhook: true,
		}},
		subscriptionSvc: sub,
	})

	body := `{"api_version":"1.0","event":{"id":"ev-1","type":"INITIAL_PURCHASE","app_user_id":"rc_42"}}`

	resp := doJSON(s, http.MethodPost, "/webhooks/revenuecat", body, map[string]string{
		"X-RevenueCat-Signature": "bogus",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	mac := hmac.New(sha256.New, []byte("whsec"))
	mac.Write([]byte(body))
	sig := hex.EncodeToString(mac.Sum(nil))

	resp = doJSON(s, http.MethodPost, "/webhooks/revenuecat", body, map[string]string{
		"X-RevenueCat-Signature": sig,
	})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "ev-1", sub.lastPayload.Event.ID)
	assert.Contains(t, resp.Body.String(), `"premium":true`)
}

func TestRevenueCatWebhookSkipsVerificationWhenDisabled(t *testing.T) {
	sub := &fakeSubscriptionService{
		processRes: &subscriptiondomain.ProcessResult{EventID: "ev-2", EventType: "CANCELLATION"},
	}
	s := newTestServer(t, &Server{subscriptionSvc: sub})

	resp := doJSON(s, http.MethodPost, "/webhooks/revenuecat", `{"event":{"id":"ev-2","type":"CANCELLATION"}}`, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "ev-2", sub.lastPayload.Event.ID)
}

func TestRevenueCatWebhookMalformedBody(t *testing.T) {
	s := newTestServer(t, &Server{subscriptionSvc: &fakeSubscriptionService{}})

	resp := doJSON(s, http.MethodPost, "/webhooks/revenuecat", "{not json", nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestAdminSetPremiumRequiresKey(t *testing.T) {
	user := &userdomain.User{ID: snowflake.ID(77), Email: "sam@example.com"}
	s := newTestServer(t, &Server{
		cfg:     config.Config{AdminAPIKey: "hunter2"},
		userSvc: &fakeUserService{user: user},
	})

	path := "/admin/users/" + user.ID.String() + "/premium"
	body := `{"is_premium": true, "subscription_type": "yearly"}`

	w := doJSON(s, http.MethodPost, path, body, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(s, http.MethodPost, path, body, map[string]string{"X-Admin-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(s, http.MethodPost, path, body, map[string]string{"X-Admin-Key": "hunter2"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, user.IsPremium)
	assert.Equal(t, userdomain.SubscriptionYearly, user.SubscriptionType)
}

func TestAdminDisabledWithoutConfiguredKey(t *testing.T) {
	s := newTestServer(t, &Server{userSvc: &fakeUserService{}})

	w := doJSON(s, http.MethodPost, "/admin/users/1/premium", `{"is_premium": true}`, map[string]string{"X-Admin-Key": ""})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
