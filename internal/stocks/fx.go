package stocks

import (
	"github.com/velra-app/velra/internal/stocks/service"
	"go.uber.org/fx"
)

var Module = fx.Module("stocks.service",
	fx.Provide(service.NewService),
)
