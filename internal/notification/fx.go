package notification

import (
	"go.uber.org/fx"

	"github.com/nsiitk/killbill/internal/notification/domain"
	"github.com/nsiitk/killbill/internal/notification/service"
)

var Module = fx.Module("notification",
	fx.Provide(domain.NewRepository),
	fx.Provide(service.NewDispatcher),
)
