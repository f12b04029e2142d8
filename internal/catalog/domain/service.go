package domain

import (
	"context"
	"time"
)

// Catalog resolves plan specifiers and answers add-on coupling questions.
// The engine consumes it as a black box; pricing internals stay outside.
type Catalog interface {
	// ResolvePlan maps a (product, billing period, price list) specifier to
	// the plan effective at the given instant.
	ResolvePlan(ctx context.Context, spec PlanSpecifier, asOf time.Time) (*Plan, error)

	// FindPlan looks a plan up by name.
	FindPlan(ctx context.Context, name string, asOf time.Time) (*Plan, error)

	// IsAvailable reports whether the add-on product may coexist with the
	// given base plan.
	IsAvailable(ctx context.Context, productName string, asOf time.Time, basePlanName string) (bool, error)

	// IsIncluded reports whether the base plan already bundles the add-on
	// product at no charge.
	IsIncluded(ctx context.Context, productName string, asOf time.Time, basePlanName string) (bool, error)
}
