package loyalty

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotEligible is returned when the code cannot be applied for the caller.
	ErrNotEligible = errors.New("loyalty code not eligible")
	// ErrUsageLimitReached indicates the code has exhausted its global quota.
	ErrUsageLimitReached = errors.New("loyalty code usage limit reached")
	// ErrPerUserLimitReached indicates the customer exceeded the per-user allowance.
	ErrPerUserLimitReached = errors.New("loyalty code per-user usage limit reached")
	// ErrCodeInactive is returned when the code is used before its active window.
	ErrCodeInactive = errors.New("loyalty code not active")
	// ErrCodeExpired is returned when the code has already expired.
	ErrCodeExpired = errors.New("loyalty code expired")
	// ErrSpendThresholdUnmet indicates the customer has not yet earned the code.
	ErrSpendThresholdUnmet = errors.New("loyalty spend threshold not met")
)

// Rule captures the runtime constraints of a loyalty discount code.
// Percent is the stackable percentage off, applied by the pricing engine after
// tier resolution. QualifyingSpend is the lifetime spend (returned orders
// excluded) a customer must have reached to earn the code.
type Rule struct {
	Code            string
	Percent         decimal.Decimal
	QualifyingSpend int64
	ValidFrom       *time.Time
	ValidTo         *time.Time
	UsageLimit      *int32
	UsedCount       int32
	PerUserLimit    *int32
	PerUserUsed     int32
	EffectiveLimit  int32
	DefaultLimit    int
}

var maxPercent = decimal.NewFromInt(100)

// Validate ensures the rule can be applied at the provided instant for a
// customer with the given lifetime spend.
func (r Rule) Validate(now time.Time, customerSpend int64) error {
	if !r.Percent.IsPositive() || r.Percent.GreaterThan(maxPercent) {
		return ErrNotEligible
	}
	if customerSpend < r.QualifyingSpend {
		return ErrSpendThresholdUnmet
	}
	if r.ValidFrom != nil && now.Before(*r.ValidFrom) {
		return ErrCodeInactive
	}
	if r.ValidTo != nil && now.After(*r.ValidTo) {
		return ErrCodeExpired
	}
	if r.UsageLimit != nil && *r.UsageLimit >= 0 && r.UsedCount >= *r.UsageLimit {
		return ErrUsageLimitReached
	}
	if r.EffectiveLimit > 0 && r.PerUserUsed >= r.EffectiveLimit {
		return ErrPerUserLimitReached
	}
	return nil
}

// EffectivePerUserLimit resolves the per-user allowance, falling back to the
// configured default when the rule does not carry its own.
func (r Rule) EffectivePerUserLimit() int32 {
	if r.PerUserLimit != nil && *r.PerUserLimit > 0 {
		return *r.PerUserLimit
	}
	if r.DefaultLimit > 0 {
		return int32(r.DefaultLimit)
	}
	return 0
}
