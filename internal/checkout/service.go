package checkout

import (
	"context"
	"errors"
	"math"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/berasid/backend-beras/internal/catalog"
	"github.com/berasid/backend-beras/internal/common"
	"github.com/berasid/backend-beras/internal/events"
	"github.com/berasid/backend-beras/internal/loyalty"
	"github.com/berasid/backend-beras/internal/order"
	"github.com/berasid/backend-beras/internal/pricing"
)

// LineInput is one requested product line.
type LineInput struct {
	ProductID string  `json:"productId" validate:"required,uuid4_rfc4122|uuid_rfc4122"`
	QtyKg     float64 `json:"qtyKg" validate:"required"`
}

// AddressInput is the delivery address supplied at checkout.
type AddressInput struct {
	ReceiverName string `json:"receiverName" validate:"required"`
	Phone        string `json:"phone" validate:"required"`
	Province     string `json:"province" validate:"required"`
	City         string `json:"city" validate:"required"`
	PostalCode   string `json:"postalCode" validate:"required"`
	AddressLine1 string `json:"addressLine1" validate:"required"`
	AddressLine2 string `json:"addressLine2"`
}

// Input is the full checkout request.
type Input struct {
	Lines        []LineInput  `json:"lines" validate:"required,min=1,dive"`
	SalesChannel string       `json:"salesChannel"`
	LoyaltyCode  *string      `json:"loyaltyCode"`
	Address      AddressInput `json:"address" validate:"required"`
	Notes        *string      `json:"notes"`
}

// LineResult echoes a priced line back to the caller.
type LineResult struct {
	ProductID              uuid.UUID    `json:"productId"`
	Name                   string       `json:"name"`
	QtyKg                  float64      `json:"qtyKg"`
	PricePerKg             int64        `json:"pricePerKg"`
	TierApplied            pricing.Tier `json:"tierApplied"`
	SubtotalBeforeDiscount int64        `json:"subtotalBeforeDiscount"`
	DiscountAmount         int64        `json:"discountAmount"`
	TotalAfterDiscount     int64        `json:"totalAfterDiscount"`
}

// Output is the confirmed order view returned from checkout.
type Output struct {
	OrderID                uuid.UUID    `json:"orderId"`
	Status                 order.Status `json:"status"`
	Currency               string       `json:"currency"`
	SalesChannel           string       `json:"salesChannel"`
	Lines                  []LineResult `json:"lines"`
	SubtotalBeforeDiscount int64        `json:"subtotalBeforeDiscount"`
	DiscountAmount         int64        `json:"discountAmount"`
	TotalAfterDiscount     int64        `json:"totalAfterDiscount"`
	LoyaltyCode            *string      `json:"loyaltyCode,omitempty"`
}

// Service prices the requested lines through the tier ladder, applies loyalty
// on top, and persists the order through a sequence of individual store calls.
// The backing store has no transactions, so a failure mid-sequence triggers
// best-effort compensation and the leftovers are logged for reconciliation.
type Service struct {
	Catalog        catalog.Store
	Orders         order.Store
	Loyalty        *loyalty.Service
	Events         *events.Bus
	Logger         zerolog.Logger
	Currency       string
	MaxLineKg      float64
	DefaultChannel string
}

// DefaultMaxLineKg caps a single order line; agent tools share it.
const DefaultMaxLineKg = 1000

func (s *Service) maxLineKg() float64 {
	if s.MaxLineKg > 0 {
		return s.MaxLineKg
	}
	return DefaultMaxLineKg
}

func (s *Service) currency() string {
	if s.Currency != "" {
		return s.Currency
	}
	return "IDR"
}

// Create prices and persists an order for the given user.
func (s *Service) Create(ctx context.Context, userID uuid.UUID, in Input) (Output, error) {
	if s == nil || s.Catalog == nil || s.Orders == nil {
		return Output{}, errors.New("checkout service not configured")
	}
	if len(in.Lines) == 0 {
		return Output{}, badRequest("BAD_REQUEST", "at least one line is required", nil)
	}

	productIDs := make([]uuid.UUID, 0, len(in.Lines))
	for i, line := range in.Lines {
		if err := ValidateQuantity(line.QtyKg, s.maxLineKg()); err != nil {
			return Output{}, badRequest("INVALID_QUANTITY", err.Error(), map[string]any{"line": i, "qtyKg": line.QtyKg})
		}
		id, err := uuid.Parse(line.ProductID)
		if err != nil {
			return Output{}, badRequest("BAD_REQUEST", "invalid product id", map[string]any{"line": i})
		}
		productIDs = append(productIDs, id)
	}

	products, err := s.Catalog.GetProductsByIDs(ctx, productIDs)
	if err != nil {
		return Output{}, err
	}
	byID := make(map[uuid.UUID]catalog.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	percent := decimal.Zero
	var resolution *loyalty.Resolution
	if in.LoyaltyCode != nil && *in.LoyaltyCode != "" {
		if s.Loyalty == nil {
			return Output{}, badRequest("LOYALTY_UNAVAILABLE", "loyalty codes are not accepted right now", nil)
		}
		res, err := s.Loyalty.Resolve(ctx, *in.LoyaltyCode, &userID)
		if err != nil {
			return Output{}, mapLoyaltyError(err)
		}
		resolution = &res
		percent = res.Percent
	}

	channel := in.SalesChannel
	if channel == "" {
		channel = s.DefaultChannel
	}
	if channel == "" {
		channel = "online"
	}

	var (
		lines       []LineResult
		items       []order.Item
		sumSubtotal int64
		sumDiscount int64
		sumTotal    int64
	)
	for i, line := range in.Lines {
		product, ok := byID[productIDs[i]]
		if !ok {
			return Output{}, badRequest("UNAVAILABLE_PRODUCT", "product not found", map[string]any{"productId": line.ProductID})
		}
		if !product.Available {
			return Output{}, badRequest("UNAVAILABLE_PRODUCT", "product is not available for purchase", map[string]any{"productId": line.ProductID})
		}
		if product.BasePerKg <= 0 {
			return Output{}, badRequest("ZERO_PRICE_PRODUCT", "product has no configured price", map[string]any{"productId": line.ProductID})
		}

		qty := decimal.NewFromFloat(line.QtyKg)
		perKg, tier := pricing.ResolveTier(product.TierPricing(), qty)
		breakdown := pricing.ItemTotal(perKg, qty, percent)

		subtotal := pricing.RoundIDR(perKg.Mul(qty)).IntPart()
		discount := pricing.RoundIDR(breakdown.DiscountAmount).IntPart()
		total := subtotal - discount

		lines = append(lines, LineResult{
			ProductID:              product.ID,
			Name:                   product.Name,
			QtyKg:                  line.QtyKg,
			PricePerKg:             perKg.IntPart(),
			TierApplied:            tier,
			SubtotalBeforeDiscount: subtotal,
			DiscountAmount:         discount,
			TotalAfterDiscount:     total,
		})
		items = append(items, order.Item{
			ProductID:              product.ID,
			Name:                   product.Name,
			QtyKg:                  line.QtyKg,
			PricePerKgAtOrder:      perKg.IntPart(),
			TierApplied:            string(tier),
			SubtotalBeforeDiscount: subtotal,
			DiscountAmount:         discount,
			TotalAfterDiscount:     total,
		})
		sumSubtotal += subtotal
		sumDiscount += discount
		sumTotal += total
	}

	if sumTotal <= 0 {
		return Output{}, badRequest("ZERO_TOTAL_ORDER", "order total must be positive", map[string]any{"total": sumTotal})
	}

	persisted, err := s.persist(ctx, userID, in, items, channel, sumSubtotal, sumDiscount, sumTotal, resolution)
	if err != nil {
		return Output{}, err
	}

	if resolution != nil {
		if err := s.Loyalty.Redeem(ctx, resolution.CodeID, persisted.ID, userID, sumDiscount); err != nil {
			s.Logger.Error().Err(err).
				Str("order_id", persisted.ID.String()).
				Str("code", resolution.Code).
				Msg("record loyalty redemption")
		}
	}
	if s.Events != nil {
		_, _ = s.Events.Emit(ctx, events.TopicOrderCreated, persisted.ID, map[string]any{
			"orderId":      persisted.ID.String(),
			"userId":       userID.String(),
			"salesChannel": channel,
			"total":        sumTotal,
		})
	}

	return Output{
		OrderID:                persisted.ID,
		Status:                 persisted.Status,
		Currency:               persisted.Currency,
		SalesChannel:           persisted.SalesChannel,
		Lines:                  lines,
		SubtotalBeforeDiscount: sumSubtotal,
		DiscountAmount:         sumDiscount,
		TotalAfterDiscount:     sumTotal,
		LoyaltyCode:            persisted.LoyaltyCode,
	}, nil
}

// persist runs the write sequence: items first (unattached), then the order,
// then attachment and address. Earlier writes are compensated when a later
// one fails; compensation failures are logged, not returned.
func (s *Service) persist(ctx context.Context, userID uuid.UUID, in Input, items []order.Item, channel string, subtotal, discount, total int64, res *loyalty.Resolution) (order.Order, error) {
	itemIDs := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		id, err := s.Orders.CreateItem(ctx, item)
		if err != nil {
			s.compensateItems(ctx, itemIDs)
			return order.Order{}, err
		}
		itemIDs = append(itemIDs, id)
	}

	header := order.Order{
		UserID:                 userID,
		Status:                 order.StatusPending,
		SalesChannel:           channel,
		Currency:               s.currency(),
		SubtotalBeforeDiscount: subtotal,
		DiscountAmount:         discount,
		TotalAfterDiscount:     total,
		Notes:                  in.Notes,
	}
	if res != nil {
		code := res.Code
		header.LoyaltyCode = &code
	}
	persisted, err := s.Orders.CreateOrder(ctx, header)
	if err != nil {
		s.compensateItems(ctx, itemIDs)
		return order.Order{}, err
	}

	if err := s.Orders.AttachItems(ctx, persisted.ID, itemIDs); err != nil {
		s.compensateOrder(ctx, persisted.ID, itemIDs)
		return order.Order{}, err
	}

	addressID, err := s.Orders.CreateAddress(ctx, order.Address{
		ReceiverName: in.Address.ReceiverName,
		Phone:        in.Address.Phone,
		Province:     in.Address.Province,
		City:         in.Address.City,
		PostalCode:   in.Address.PostalCode,
		AddressLine1: in.Address.AddressLine1,
		AddressLine2: in.Address.AddressLine2,
	})
	if err != nil {
		s.compensateOrder(ctx, persisted.ID, itemIDs)
		return order.Order{}, err
	}
	if err := s.Orders.SetOrderAddress(ctx, persisted.ID, addressID); err != nil {
		s.compensateOrder(ctx, persisted.ID, itemIDs)
		return order.Order{}, err
	}
	persisted.AddressID = &addressID
	return persisted, nil
}

func (s *Service) compensateItems(ctx context.Context, itemIDs []uuid.UUID) {
	if len(itemIDs) == 0 {
		return
	}
	if err := s.Orders.DeleteItems(ctx, itemIDs); err != nil {
		s.Logger.Error().Err(err).Int("items", len(itemIDs)).Msg("checkout compensation: delete order items")
	}
}

func (s *Service) compensateOrder(ctx context.Context, orderID uuid.UUID, itemIDs []uuid.UUID) {
	if err := s.Orders.DeleteOrder(ctx, orderID); err != nil {
		s.Logger.Error().Err(err).Str("order_id", orderID.String()).Msg("checkout compensation: delete order")
	}
	s.compensateItems(ctx, itemIDs)
}

// ValidateQuantity rejects non-finite, non-positive, and over-cap quantities
// before the pricing engine ever sees them.
func ValidateQuantity(qtyKg, maxKg float64) error {
	if math.IsNaN(qtyKg) || math.IsInf(qtyKg, 0) {
		return errors.New("quantity must be a finite number")
	}
	if qtyKg <= 0 {
		return errors.New("quantity must be greater than zero")
	}
	if qtyKg > maxKg {
		return errors.New("quantity exceeds the per-line limit")
	}
	return nil
}

func badRequest(code, message string, details any) *common.AppError {
	return &common.AppError{Code: code, Message: message, HTTPStatus: http.StatusUnprocessableEntity, Details: details}
}

func mapLoyaltyError(err error) error {
	switch {
	case errors.Is(err, loyalty.ErrNotEligible),
		errors.Is(err, loyalty.ErrSpendThresholdUnmet),
		errors.Is(err, loyalty.ErrCodeInactive),
		errors.Is(err, loyalty.ErrCodeExpired),
		errors.Is(err, loyalty.ErrUsageLimitReached),
		errors.Is(err, loyalty.ErrPerUserLimitReached):
		return &common.AppError{Code: "LOYALTY_REJECTED", Message: err.Error(), HTTPStatus: http.StatusUnprocessableEntity, Err: err}
	default:
		return err
	}
}
