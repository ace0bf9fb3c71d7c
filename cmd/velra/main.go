package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/velra-app/velra/internal/auth"
	"github.com/velra-app/velra/internal/clock"
	"github.com/velra-app/velra/internal/config"
	"github.com/velra-app/velra/internal/migration"
	"github.com/velra-app/velra/internal/news"
	"github.com/velra-app/velra/internal/notification"
	"github.com/velra-app/velra/internal/observability"
	"github.com/velra-app/velra/internal/product"
	"github.com/velra-app/velra/internal/providers/asos"
	"github.com/velra-app/velra/internal/providers/email"
	"github.com/velra-app/velra/internal/providers/expo"
	"github.com/velra-app/velra/internal/providers/fashn"
	"github.com/velra-app/velra/internal/providers/gemini"
	"github.com/velra-app/velra/internal/providers/newsapi"
	"github.com/velra-app/velra/internal/providers/stocks"
	"github.com/velra-app/velra/internal/ratelimit"
	"github.com/velra-app/velra/internal/scheduler"
	"github.com/velra-app/velra/internal/server"
	stocksvc "github.com/velra-app/velra/internal/stocks"
	"github.com/velra-app/velra/internal/subscription"
	"github.com/velra-app/velra/internal/tryon"
	"github.com/velra-app/velra/internal/usage"
	"github.com/velra-app/velra/internal/user"
	"github.com/velra-app/velra/pkg/db"
	"github.com/velra-app/velra/pkg/log"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// core infrastructure
		config.Module,
		log.Module,
		observability.Module,
		fx.Provide(newSnowflakeNode),
		db.Module,
		clock.Module,
		migration.Module,
		auth.Module,
		ratelimit.Module,

		// upstream providers
		fashn.Module,
		gemini.Module,
		newsapi.Module,
		asos.Module,
		stocks.Module,
		expo.Module,
		email.Module,

		// domain services
		usage.Module,
		user.Module,
		subscription.Module,
		tryon.Module,
		news.Module,
		product.Module,
		stocksvc.Module,
		notification.Module,

		// background jobs and HTTP surface
		scheduler.Module,
		server.Module,
	)
	app.Run()
}

func newSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
