package bus

import (
	"github.com/nsiitk/killbill/internal/bus/domain"
	"github.com/nsiitk/killbill/internal/bus/service"
	"go.uber.org/fx"
)

var Module = fx.Module("bus",
	fx.Provide(domain.NewRepository),
	fx.Provide(service.NewPublisher),
)
