package pricing

import "github.com/shopspring/decimal"

// Tier identifies which rung of the weight ladder priced a line.
type Tier string

const (
	// TierBase is the undiscounted per-kg price.
	TierBase Tier = "base"
	// Tier2to4 applies from 2 kg when no higher tier takes the quantity.
	Tier2to4 Tier = "2-4kg"
	// Tier5to9 applies from 5 kg when no higher tier takes the quantity.
	Tier5to9 Tier = "5-9kg"
	// Tier10Up applies from 10 kg.
	Tier10Up Tier = "10kg+"
)

// TierPricing carries the per-kg price ladder configured on a product.
// A tier price that is zero or negative means the tier is not configured;
// resolution falls through to base price, never sideways to another tier.
type TierPricing struct {
	BasePerKg decimal.Decimal
	HasTiers  bool
	Tier2to4  decimal.Decimal
	Tier5to9  decimal.Decimal
	Tier10Up  decimal.Decimal
}

var (
	two     = decimal.NewFromInt(2)
	five    = decimal.NewFromInt(5)
	ten     = decimal.NewFromInt(10)
	hundred = decimal.NewFromInt(100)
)

// ResolveTier maps a quantity onto the configured ladder and returns the
// effective per-kg price together with the tier that produced it. Tiers are
// checked from the highest threshold downward so that any subset of tiers may
// be configured without an absent tier resolving to a price of zero.
func ResolveTier(p TierPricing, qtyKg decimal.Decimal) (decimal.Decimal, Tier) {
	if !p.HasTiers {
		return p.BasePerKg, TierBase
	}
	switch {
	case qtyKg.GreaterThanOrEqual(ten) && p.Tier10Up.IsPositive():
		return p.Tier10Up, Tier10Up
	case qtyKg.GreaterThanOrEqual(five) && p.Tier5to9.IsPositive():
		return p.Tier5to9, Tier5to9
	case qtyKg.GreaterThanOrEqual(two) && p.Tier2to4.IsPositive():
		return p.Tier2to4, Tier2to4
	default:
		return p.BasePerKg, TierBase
	}
}

// Subtotal is the tier-resolved per-kg price multiplied by the quantity.
// No rounding happens here; callers round with RoundIDR at persistence points.
func Subtotal(p TierPricing, qtyKg decimal.Decimal) decimal.Decimal {
	perKg, _ := ResolveTier(p, qtyKg)
	return perKg.Mul(qtyKg)
}

// SavingsBreakdown describes what the ladder saved relative to base price.
// Tier is nil when nothing was saved; it exists for display only.
type SavingsBreakdown struct {
	Original       decimal.Decimal
	Discounted     decimal.Decimal
	Savings        decimal.Decimal
	SavingsPercent decimal.Decimal
	Tier           *Tier
}

// Savings compares the tier-resolved subtotal against the base-price subtotal.
// SavingsPercent is zero when the base price is zero.
func Savings(p TierPricing, qtyKg decimal.Decimal) SavingsBreakdown {
	original := p.BasePerKg.Mul(qtyKg)
	perKg, tier := ResolveTier(p, qtyKg)
	discounted := perKg.Mul(qtyKg)
	savings := original.Sub(discounted)
	breakdown := SavingsBreakdown{
		Original:       original,
		Discounted:     discounted,
		Savings:        savings,
		SavingsPercent: decimal.Zero,
	}
	if original.IsPositive() {
		breakdown.SavingsPercent = savings.Div(original).Mul(hundred)
	}
	if savings.IsPositive() && tier != TierBase {
		applied := tier
		breakdown.Tier = &applied
	}
	return breakdown
}

// ItemBreakdown is the result of applying a loyalty percentage to a line.
type ItemBreakdown struct {
	Total          decimal.Decimal
	DiscountAmount decimal.Decimal
}

// ItemTotal applies a stackable loyalty percentage on top of an already
// tier-resolved per-kg price. The percentage is clamped into [0, 100] so the
// engine stays total: out-of-range input degrades instead of failing.
func ItemTotal(perKg, qtyKg, loyaltyPercent decimal.Decimal) ItemBreakdown {
	raw := perKg.Mul(qtyKg)
	pct := loyaltyPercent
	if pct.IsNegative() {
		pct = decimal.Zero
	}
	if pct.GreaterThan(hundred) {
		pct = hundred
	}
	discount := raw.Mul(pct).Div(hundred)
	return ItemBreakdown{
		Total:          raw.Sub(discount),
		DiscountAmount: discount,
	}
}

// RoundIDR rounds an amount half-up to whole rupiah. Every amount that is
// persisted or summed across modules goes through this exact rounding so
// checkout, agent tools, and analytics never disagree by a rounding step.
func RoundIDR(d decimal.Decimal) decimal.Decimal {
	return d.Round(0)
}
