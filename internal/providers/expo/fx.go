package expo

import "go.uber.org/fx"

var Module = fx.Module("providers.expo",
	fx.Provide(NewClient),
)
