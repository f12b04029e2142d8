package catalog

import (
	"time"

	catalogdomain "github.com/nsiitk/killbill/internal/catalog/domain"
	"github.com/nsiitk/killbill/internal/catalog/memory"
	"go.uber.org/fx"
)

// Provide wires the built-in demo catalog. Deployments replace this with a
// catalog backed by their own plan definitions.
func Provide() catalogdomain.Catalog {
	return memory.New(DefaultProducts(), DefaultPlans())
}

func DefaultProducts() []catalogdomain.Product {
	return []catalogdomain.Product{
		{
			Name:      "Shotgun",
			Category:  catalogdomain.ProductCategoryBase,
			Available: []string{"Telescopic-Scope", "Laser-Scope"},
		},
		{
			Name:      "Assault-Rifle",
			Category:  catalogdomain.ProductCategoryBase,
			Available: []string{"Telescopic-Scope"},
			Included:  []string{"Laser-Scope"},
		},
		{Name: "Telescopic-Scope", Category: catalogdomain.ProductCategoryAddOn},
		{Name: "Laser-Scope", Category: catalogdomain.ProductCategoryAddOn},
	}
}

func DefaultPlans() []catalogdomain.Plan {
	return []catalogdomain.Plan{
		{
			Name:          "shotgun-monthly",
			Product:       "Shotgun",
			Category:      catalogdomain.ProductCategoryBase,
			BillingPeriod: catalogdomain.BillingPeriodMonthly,
			Phases: []catalogdomain.PlanPhase{
				{Name: "shotgun-monthly-trial", Type: catalogdomain.PhaseTypeTrial, Duration: 30 * 24 * time.Hour},
				{Name: "shotgun-monthly-evergreen", Type: catalogdomain.PhaseTypeEvergreen},
			},
		},
		{
			Name:          "shotgun-annual",
			Product:       "Shotgun",
			Category:      catalogdomain.ProductCategoryBase,
			BillingPeriod: catalogdomain.BillingPeriodAnnual,
			Phases: []catalogdomain.PlanPhase{
				{Name: "shotgun-annual-evergreen", Type: catalogdomain.PhaseTypeEvergreen},
			},
		},
		{
			Name:          "assault-rifle-monthly",
			Product:       "Assault-Rifle",
			Category:      catalogdomain.ProductCategoryBase,
			BillingPeriod: catalogdomain.BillingPeriodMonthly,
			Phases: []catalogdomain.PlanPhase{
				{Name: "assault-rifle-monthly-evergreen", Type: catalogdomain.PhaseTypeEvergreen},
			},
		},
		{
			Name:          "telescopic-scope-monthly",
			Product:       "Telescopic-Scope",
			Category:      catalogdomain.ProductCategoryAddOn,
			BillingPeriod: catalogdomain.BillingPeriodMonthly,
			BundleAligned: true,
			Phases: []catalogdomain.PlanPhase{
				{Name: "telescopic-scope-monthly-discount", Type: catalogdomain.PhaseTypeDiscount, Duration: 30 * 24 * time.Hour},
				{Name: "telescopic-scope-monthly-evergreen", Type: catalogdomain.PhaseTypeEvergreen},
			},
		},
		{
			Name:          "laser-scope-monthly",
			Product:       "Laser-Scope",
			Category:      catalogdomain.ProductCategoryAddOn,
			BillingPeriod: catalogdomain.BillingPeriodMonthly,
			BundleAligned: true,
			Phases: []catalogdomain.PlanPhase{
				{Name: "laser-scope-monthly-evergreen", Type: catalogdomain.PhaseTypeEvergreen},
			},
		},
	}
}

var Module = fx.Module("catalog",
	fx.Provide(Provide),
)
