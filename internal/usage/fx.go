package usage

import (
	"github.com/velra-app/velra/internal/usage/repository"
	"github.com/velra-app/velra/internal/usage/service"
	"go.uber.org/fx"
)

var Module = fx.Module("usage.service",
	fx.Provide(
		repository.New,
		service.NewService,
	),
)
