// Package server wires the HTTP surface: gin engine, middleware, and
// the route handlers for every service.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/velra-app/velra/internal/auth"
	"github.com/velra-app/velra/internal/config"
	newsdomain "github.com/velra-app/velra/internal/news/domain"
	notificationdomain "github.com/velra-app/velra/internal/notification/domain"
	obslogger "github.com/velra-app/velra/internal/observability/logger"
	obsmetrics "github.com/velra-app/velra/internal/observability/metrics"
	productservice "github.com/velra-app/velra/internal/product/service"
	stocksservice "github.com/velra-app/velra/internal/stocks/service"
	subscriptiondomain "github.com/velra-app/velra/internal/subscription/domain"
	tryondomain "github.com/velra-app/velra/internal/tryon/domain"
	usagedomain "github.com/velra-app/velra/internal/usage/domain"
	userdomain "github.com/velra-app/velra/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config) *gin.Engine {
	if !cfg.DevMode {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{Debug: cfg.DevMode}))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	tokens          *auth.Manager
	idTokens        *auth.IDTokenVerifier
	userSvc         userdomain.Service
	subscriptionSvc subscriptiondomain.Service
	usageSvc        usagedomain.Service
	tryonSvc        tryondomain.Service
	newsSvc         newsdomain.Service
	productSvc      *productservice.Service
	stocksSvc       *stocksservice.Service
	notificationSvc notificationdomain.Service
	obsMetrics      *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	Tokens          *auth.Manager
	IDTokens        *auth.IDTokenVerifier
	UserSvc         userdomain.Service
	SubscriptionSvc subscriptiondomain.Service
	UsageSvc        usagedomain.Service
	TryonSvc        tryondomain.Service
	NewsSvc         newsdomain.Service
	ProductSvc      *productservice.Service
	StocksSvc       *stocksservice.Service
	NotificationSvc notificationdomain.Service
	ObsMetrics      *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("server"),
		tokens:          p.Tokens,
		idTokens:        p.IDTokens,
		userSvc:         p.UserSvc,
		subscriptionSvc: p.SubscriptionSvc,
		usageSvc:        p.UsageSvc,
		tryonSvc:        p.TryonSvc,
		newsSvc:         p.NewsSvc,
		productSvc:      p.ProductSvc,
		stocksSvc:       p.StocksSvc,
		notificationSvc: p.NotificationSvc,
		obsMetrics:      p.ObsMetrics,
	}

	s.registerAuthRoutes()
	s.registerUserRoutes()
	s.registerTryonRoutes()
	s.registerNewsRoutes()
	s.registerCatalogRoutes()
	s.registerNotificationRoutes()
	s.registerWebhookRoutes()
	s.registerAdminRoutes()

	return s
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}
