package loyalty

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Resolution is the outcome of validating a code for a customer. Percent is
// ready to hand to the pricing engine's item-total calculation.
type Resolution struct {
	CodeID  uuid.UUID
	Code    string
	Percent decimal.Decimal
}

// Service encapsulates loyalty code evaluation and redemption behaviour.
type Service struct {
	Store               Store
	Now                 func() time.Time
	DefaultPerUserLimit int
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Resolve validates a code against the customer's earned spend and usage
// allowances without mutating state.
func (s *Service) Resolve(ctx context.Context, code string, userID *uuid.UUID) (Resolution, error) {
	if s == nil || s.Store == nil {
		return Resolution{}, errors.New("loyalty service not configured")
	}
	trimmed := strings.ToUpper(strings.TrimSpace(code))
	if trimmed == "" {
		return Resolution{}, fmt.Errorf("code is required: %w", ErrNotEligible)
	}
	stored, err := s.Store.GetCode(ctx, trimmed)
	if err != nil {
		if errors.Is(err, ErrCodeNotFound) {
			return Resolution{}, ErrNotEligible
		}
		return Resolution{}, err
	}
	rule := ruleFromCode(stored)
	rule.DefaultLimit = s.DefaultPerUserLimit

	var spend int64
	if userID != nil {
		spend, err = s.Store.CustomerQualifyingSpend(ctx, *userID)
		if err != nil {
			return Resolution{}, err
		}
		if limit := rule.EffectivePerUserLimit(); limit > 0 {
			used, err := s.Store.CountRedemptionsByUser(ctx, stored.ID, *userID)
			if err != nil {
				return Resolution{}, err
			}
			rule.PerUserUsed = int32(used)
			rule.EffectiveLimit = limit
		}
	}

	if err := rule.Validate(s.now(), spend); err != nil {
		return Resolution{}, err
	}
	return Resolution{CodeID: stored.ID, Code: stored.Code, Percent: rule.Percent}, nil
}

// Redeem records usage of a code against an order. It is idempotent per
// (code, order) so checkout retries never double-count.
func (s *Service) Redeem(ctx context.Context, codeID, orderID, userID uuid.UUID, discountAmount int64) error {
	if s == nil || s.Store == nil {
		return errors.New("loyalty service not configured")
	}
	if codeID == uuid.Nil || orderID == uuid.Nil {
		return nil
	}
	if discountAmount < 0 {
		discountAmount = 0
	}
	exists, err := s.Store.RedemptionExists(ctx, codeID, orderID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if err := s.Store.InsertRedemption(ctx, codeID, orderID, userID, discountAmount); err != nil {
		return err
	}
	return s.Store.IncrementUsedCount(ctx, codeID)
}

func ruleFromCode(c Code) Rule {
	return Rule{
		Code:            c.Code,
		Percent:         decimal.NewFromFloat(c.PercentOff),
		QualifyingSpend: c.QualifyingSpend,
		ValidFrom:       c.ValidFrom,
		ValidTo:         c.ValidTo,
		UsageLimit:      c.UsageLimit,
		UsedCount:       c.UsedCount,
		PerUserLimit:    c.PerUserLimit,
	}
}
