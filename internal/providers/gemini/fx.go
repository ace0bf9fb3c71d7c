package gemini

import "go.uber.org/fx"

var Module = fx.Module("providers.gemini",
	fx.Provide(NewClient),
)
