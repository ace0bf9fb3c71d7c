package asos

import "go.uber.org/fx"

var Module = fx.Module("providers.asos",
	fx.Provide(NewClient),
)
