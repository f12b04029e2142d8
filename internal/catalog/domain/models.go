package domain

import "time"

type ProductCategory string

const (
	ProductCategoryBase       ProductCategory = "BASE"
	ProductCategoryAddOn      ProductCategory = "ADD_ON"
	ProductCategoryStandalone ProductCategory = "STANDALONE"
)

type BillingPeriod string

const (
	BillingPeriodMonthly  BillingPeriod = "MONTHLY"
	BillingPeriodAnnual   BillingPeriod = "ANNUAL"
	BillingPeriodNoPeriod BillingPeriod = "NO_BILLING_PERIOD"
)

type PhaseType string

const (
	PhaseTypeTrial     PhaseType = "TRIAL"
	PhaseTypeDiscount  PhaseType = "DISCOUNT"
	PhaseTypeFixedTerm PhaseType = "FIXEDTERM"
	PhaseTypeEvergreen PhaseType = "EVERGREEN"
)

const DefaultPriceList = "DEFAULT"

// Product groups the plans sold under one name and carries the add-on
// coupling rules: which add-on products may be purchased alongside it and
// which ones its plans already include.
type Product struct {
	Name      string
	Category  ProductCategory
	Available []string
	Included  []string
}

// PlanPhase is one pricing period of a plan. Duration zero means the phase
// never ends (evergreen).
type PlanPhase struct {
	Name     string
	Type     PhaseType
	Duration time.Duration
}

type Plan struct {
	Name          string
	Product       string
	Category      ProductCategory
	BillingPeriod BillingPeriod
	PriceList     string
	Phases        []PlanPhase

	// BundleAligned anchors phase boundaries to the bundle start date
	// instead of the subscription's own start date (add-on plans).
	BundleAligned bool
}

// InitialPhase returns the first phase of the plan.
func (p *Plan) InitialPhase() PlanPhase {
	return p.Phases[0]
}

// PhaseAfter returns the phase following the named one, if any.
func (p *Plan) PhaseAfter(phaseName string) (PlanPhase, bool) {
	for i, ph := range p.Phases {
		if ph.Name == phaseName && i+1 < len(p.Phases) {
			return p.Phases[i+1], true
		}
	}
	return PlanPhase{}, false
}

// PhaseBoundary returns the instant at which the named phase ends, folding
// phase durations from the alignment start date. ok is false when the phase
// is unbounded or is the last one.
func (p *Plan) PhaseBoundary(alignStart time.Time, phaseName string) (time.Time, bool) {
	boundary := alignStart
	for i, ph := range p.Phases {
		if ph.Duration == 0 {
			return time.Time{}, false
		}
		boundary = boundary.Add(ph.Duration)
		if ph.Name == phaseName {
			return boundary, i+1 < len(p.Phases)
		}
	}
	return time.Time{}, false
}

// PhaseAsOf resolves which phase is in effect at the given instant relative
// to the alignment start date.
func (p *Plan) PhaseAsOf(alignStart, asOf time.Time) PlanPhase {
	boundary := alignStart
	for _, ph := range p.Phases {
		if ph.Duration == 0 {
			return ph
		}
		boundary = boundary.Add(ph.Duration)
		if asOf.Before(boundary) {
			return ph
		}
	}
	return p.Phases[len(p.Phases)-1]
}

// PlanSpecifier identifies a plan by the triple callers use on the API
// surface instead of internal plan names.
type PlanSpecifier struct {
	Product       string
	BillingPeriod BillingPeriod
	PriceList     string
}
