package milestone

import "github.com/shopspring/decimal"

// FeeSchedule computes the platform's cut of a milestone amount. The schedule
// is supplied by the marketplace operator; the engine only subtracts it.
type FeeSchedule interface {
	PlatformFee(amount decimal.Decimal) decimal.Decimal
}

// PercentFeeSchedule retains a flat percentage, rounded to cents.
type PercentFeeSchedule struct {
	Rate decimal.Decimal
}

// NewPercentFeeSchedule builds a schedule from a percentage, e.g. 10 for 10%.
func NewPercentFeeSchedule(percent float64) PercentFeeSchedule {
	return PercentFeeSchedule{Rate: decimal.NewFromFloat(percent).Div(decimal.NewFromInt(100))}
}

func (s PercentFeeSchedule) PlatformFee(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(s.Rate).Round(2)
}
