package clock

import "go.uber.org/fx"

func Provide() Clock {
	return SystemClock{}
}

var Module = fx.Module("clock",
	fx.Provide(Provide),
)
