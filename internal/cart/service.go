package cart

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/berasid/backend-beras/internal/catalog"
	"github.com/berasid/backend-beras/internal/loyalty"
	"github.com/berasid/backend-beras/internal/pricing"
)

// ErrInvalidInput is returned when the provided payload is invalid.
var ErrInvalidInput = errors.New("cart: invalid input")

// Service encapsulates cart domain operations. Quotes run the same pricing
// path checkout uses so a customer never sees a cart total that checkout
// would then disagree with.
type Service struct {
	Store     Store
	Catalog   catalog.Store
	Loyalty   *loyalty.Service
	TTL       time.Duration
	MaxLineKg float64
	Now       func() time.Time
}

func (s *Service) ttl() time.Duration {
	if s == nil || s.TTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return s.TTL
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) maxLineKg() float64 {
	if s != nil && s.MaxLineKg > 0 {
		return s.MaxLineKg
	}
	return 1000
}

// EnsureCart loads or creates the active cart for the provided identifiers.
func (s *Service) EnsureCart(ctx context.Context, userID *uuid.UUID, anonID *string) (Cart, error) {
	if s == nil || s.Store == nil {
		return Cart{}, errors.New("cart service not configured")
	}
	now := s.now()
	expires := now.Add(s.ttl())

	if userID != nil && *userID != uuid.Nil {
		c, err := s.Store.GetActiveCartByUser(ctx, *userID, now)
		if errors.Is(err, ErrNotFound) {
			return s.Store.CreateCart(ctx, userID, nil, expires)
		}
		if err != nil {
			return Cart{}, err
		}
		_ = s.Store.TouchCart(ctx, c.ID, expires)
		return c, nil
	}

	if anonID != nil && *anonID != "" {
		c, err := s.Store.GetActiveCartByAnon(ctx, *anonID, now)
		if errors.Is(err, ErrNotFound) {
			return s.Store.CreateCart(ctx, nil, anonID, expires)
		}
		if err != nil {
			return Cart{}, err
		}
		_ = s.Store.TouchCart(ctx, c.ID, expires)
		return c, nil
	}

	return Cart{}, ErrInvalidInput
}

// AddItem inserts or increments a cart line.
func (s *Service) AddItem(ctx context.Context, cartID, productID uuid.UUID, qtyKg float64) error {
	if s == nil || s.Store == nil {
		return errors.New("cart service not configured")
	}
	if err := validQty(qtyKg, s.maxLineKg()); err != nil {
		return err
	}
	if s.Catalog != nil {
		product, err := s.Catalog.GetProductByID(ctx, productID)
		if err != nil {
			return err
		}
		if !product.Available {
			return fmt.Errorf("product is not available: %w", ErrInvalidInput)
		}
	}
	return s.Store.UpsertItem(ctx, cartID, productID, qtyKg)
}

// SetItemQty replaces a line quantity; zero removes the line.
func (s *Service) SetItemQty(ctx context.Context, cartID, productID uuid.UUID, qtyKg float64) error {
	if s == nil || s.Store == nil {
		return errors.New("cart service not configured")
	}
	if qtyKg == 0 {
		return s.Store.RemoveItem(ctx, cartID, productID)
	}
	if err := validQty(qtyKg, s.maxLineKg()); err != nil {
		return err
	}
	return s.Store.SetItemQty(ctx, cartID, productID, qtyKg)
}

// RemoveItem deletes a cart line.
func (s *Service) RemoveItem(ctx context.Context, cartID, productID uuid.UUID) error {
	if s == nil || s.Store == nil {
		return errors.New("cart service not configured")
	}
	return s.Store.RemoveItem(ctx, cartID, productID)
}

// QuoteLine is one priced cart line in a quote.
type QuoteLine struct {
	ProductID      uuid.UUID    `json:"productId"`
	Name           string       `json:"name"`
	QtyKg          float64      `json:"qtyKg"`
	PricePerKg     int64        `json:"pricePerKg"`
	TierApplied    pricing.Tier `json:"tierApplied"`
	Subtotal       int64        `json:"subtotal"`
	BaseSubtotal   int64        `json:"baseSubtotal"`
	TierSavings    int64        `json:"tierSavings"`
	Available      bool         `json:"available"`
	DiscountAmount int64        `json:"discountAmount"`
	Total          int64        `json:"total"`
}

// Quote is a non-binding priced view of the cart.
type Quote struct {
	CartID         uuid.UUID   `json:"cartId"`
	Lines          []QuoteLine `json:"lines"`
	Subtotal       int64       `json:"subtotal"`
	TierSavings    int64       `json:"tierSavings"`
	DiscountAmount int64       `json:"discountAmount"`
	Total          int64       `json:"total"`
	LoyaltyCode    *string     `json:"loyaltyCode,omitempty"`
}

// Quote prices the cart through the tier ladder, optionally previewing a
// loyalty code on top. Unavailable products are flagged, not dropped, so the
// storefront can prompt the customer before checkout rejects them.
func (s *Service) Quote(ctx context.Context, cartID uuid.UUID, loyaltyCode *string, userID *uuid.UUID) (Quote, error) {
	if s == nil || s.Store == nil || s.Catalog == nil {
		return Quote{}, errors.New("cart service not configured")
	}
	items, err := s.Store.ListItems(ctx, cartID)
	if err != nil {
		return Quote{}, err
	}
	quote := Quote{CartID: cartID}
	if len(items) == 0 {
		return quote, nil
	}

	ids := make([]uuid.UUID, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ProductID)
	}
	products, err := s.Catalog.GetProductsByIDs(ctx, ids)
	if err != nil {
		return Quote{}, err
	}
	byID := make(map[uuid.UUID]catalog.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	percent := decimal.Zero
	if loyaltyCode != nil && *loyaltyCode != "" && s.Loyalty != nil {
		if res, err := s.Loyalty.Resolve(ctx, *loyaltyCode, userID); err == nil {
			percent = res.Percent
			code := res.Code
			quote.LoyaltyCode = &code
		}
	}

	for _, it := range items {
		product, ok := byID[it.ProductID]
		if !ok {
			continue
		}
		qty := decimal.NewFromFloat(it.QtyKg)
		ladder := product.TierPricing()
		perKg, tier := pricing.ResolveTier(ladder, qty)
		savings := pricing.Savings(ladder, qty)
		breakdown := pricing.ItemTotal(perKg, qty, percent)

		subtotal := pricing.RoundIDR(savings.Discounted).IntPart()
		discount := pricing.RoundIDR(breakdown.DiscountAmount).IntPart()
		line := QuoteLine{
			ProductID:      product.ID,
			Name:           product.Name,
			QtyKg:          it.QtyKg,
			PricePerKg:     perKg.IntPart(),
			TierApplied:    tier,
			Subtotal:       subtotal,
			BaseSubtotal:   pricing.RoundIDR(savings.Original).IntPart(),
			TierSavings:    pricing.RoundIDR(savings.Savings).IntPart(),
			Available:      product.Available,
			DiscountAmount: discount,
			Total:          subtotal - discount,
		}
		quote.Lines = append(quote.Lines, line)
		quote.Subtotal += line.Subtotal
		quote.TierSavings += line.TierSavings
		quote.DiscountAmount += line.DiscountAmount
		quote.Total += line.Total
	}
	return quote, nil
}

func validQty(qtyKg, maxKg float64) error {
	if math.IsNaN(qtyKg) || math.IsInf(qtyKg, 0) {
		return fmt.Errorf("quantity must be finite: %w", ErrInvalidInput)
	}
	if qtyKg <= 0 {
		return fmt.Errorf("quantity must be positive: %w", ErrInvalidInput)
	}
	if qtyKg > maxKg {
		return fmt.Errorf("quantity exceeds the per-line limit: %w", ErrInvalidInput)
	}
	return nil
}
