package tryon

import (
	"github.com/velra-app/velra/internal/tryon/service"
	"go.uber.org/fx"
)

var Module = fx.Module("tryon.service",
	fx.Provide(service.NewService),
)
