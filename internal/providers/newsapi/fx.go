package newsapi

import "go.uber.org/fx"

var Module = fx.Module("providers.newsapi",
	fx.Provide(NewClient),
)
