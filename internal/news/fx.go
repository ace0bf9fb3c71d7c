package news

import (
	"github.com/velra-app/velra/internal/news/service"
	"go.uber.org/fx"
)

var Module = fx.Module("news.service",
	fx.Provide(service.NewService),
)
