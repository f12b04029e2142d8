package subscription

import (
	"go.uber.org/fx"

	"github.com/nsiitk/killbill/internal/subscription/repository"
	"github.com/nsiitk/killbill/internal/subscription/service"
)

var Module = fx.Module("subscription.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
