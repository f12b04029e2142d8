package domain

import "errors"

var (
	ErrUnknownProduct       = errors.New("catalog: unknown product")
	ErrUnknownPlan          = errors.New("catalog: unknown plan")
	ErrUnknownPriceList     = errors.New("catalog: unknown price list")
	ErrUnknownBillingPeriod = errors.New("catalog: unknown billing period")
)
