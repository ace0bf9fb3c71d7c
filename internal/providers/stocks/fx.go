package stocks

import "go.uber.org/fx"

var Module = fx.Module("providers.stocks",
	fx.Provide(NewClient),
)
