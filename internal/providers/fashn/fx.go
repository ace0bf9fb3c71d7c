package fashn

import "go.uber.org/fx"

var Module = fx.Module("providers.fashn",
	fx.Provide(NewClient),
)
