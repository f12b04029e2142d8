package addon

import "go.uber.org/fx"

var Module = fx.Module("addon", fx.Provide(New))
