package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	catalogdomain "github.com/nsiitk/killbill/internal/catalog/domain"
)

// Catalog is a static in-process catalog. Versioned catalog loading lives in
// a separate system; the engine only needs lookup semantics.
type Catalog struct {
	products map[string]catalogdomain.Product
	plans    map[string]catalogdomain.Plan
}

func New(products []catalogdomain.Product, plans []catalogdomain.Plan) *Catalog {
	c := &Catalog{
		products: make(map[string]catalogdomain.Product, len(products)),
		plans:    make(map[string]catalogdomain.Plan, len(plans)),
	}
	for _, p := range products {
		c.products[p.Name] = p
	}
	for _, p := range plans {
		if p.PriceList == "" {
			p.PriceList = catalogdomain.DefaultPriceList
		}
		c.plans[p.Name] = p
	}
	return c
}

func (c *Catalog) ResolvePlan(ctx context.Context, spec catalogdomain.PlanSpecifier, asOf time.Time) (*catalogdomain.Plan, error) {
	if _, ok := c.products[spec.Product]; !ok {
		return nil, fmt.Errorf("%w: %s", catalogdomain.ErrUnknownProduct, spec.Product)
	}

	switch spec.BillingPeriod {
	case catalogdomain.BillingPeriodMonthly, catalogdomain.BillingPeriodAnnual, catalogdomain.BillingPeriodNoPeriod:
	default:
		return nil, fmt.Errorf("%w: %s", catalogdomain.ErrUnknownBillingPeriod, spec.BillingPeriod)
	}

	priceList := strings.TrimSpace(spec.PriceList)
	if priceList == "" {
		priceList = catalogdomain.DefaultPriceList
	}
	priceListKnown := false
	for _, plan := range c.plans {
		if plan.PriceList == priceList {
			priceListKnown = true
			break
		}
	}
	if !priceListKnown {
		return nil, fmt.Errorf("%w: %s", catalogdomain.ErrUnknownPriceList, priceList)
	}

	for _, plan := range c.plans {
		if plan.Product == spec.Product && plan.BillingPeriod == spec.BillingPeriod && plan.PriceList == priceList {
			found := plan
			return &found, nil
		}
	}
	return nil, fmt.Errorf("%w: %s/%s/%s", catalogdomain.ErrUnknownPlan, spec.Product, spec.BillingPeriod, priceList)
}

func (c *Catalog) FindPlan(ctx context.Context, name string, asOf time.Time) (*catalogdomain.Plan, error) {
	plan, ok := c.plans[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", catalogdomain.ErrUnknownPlan, name)
	}
	return &plan, nil
}

func (c *Catalog) IsAvailable(ctx context.Context, productName string, asOf time.Time, basePlanName string) (bool, error) {
	base, err := c.basePlanProduct(basePlanName)
	if err != nil {
		return false, err
	}
	for _, name := range base.Available {
		if name == productName {
			return true, nil
		}
	}
	return false, nil
}

func (c *Catalog) IsIncluded(ctx context.Context, productName string, asOf time.Time, basePlanName string) (bool, error) {
	base, err := c.basePlanProduct(basePlanName)
	if err != nil {
		return false, err
	}
	for _, name := range base.Included {
		if name == productName {
			return true, nil
		}
	}
	return false, nil
}

func (c *Catalog) basePlanProduct(basePlanName string) (catalogdomain.Product, error) {
	plan, ok := c.plans[basePlanName]
	if !ok {
		return catalogdomain.Product{}, fmt.Errorf("%w: %s", catalogdomain.ErrUnknownPlan, basePlanName)
	}
	product, ok := c.products[plan.Product]
	if !ok {
		return catalogdomain.Product{}, fmt.Errorf("%w: %s", catalogdomain.ErrUnknownProduct, plan.Product)
	}
	return product, nil
}
