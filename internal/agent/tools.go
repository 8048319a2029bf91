package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/berasid/backend-beras/internal/catalog"
	"github.com/berasid/backend-beras/internal/checkout"
	"github.com/berasid/backend-beras/internal/pricing"
)

// ToolRequest is one tool invocation from the hosted agent platform.
type ToolRequest struct {
	Tool      string          `json:"tool"`
	UserID    string          `json:"userId,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Args      json.RawMessage `json:"args"`
}

// ToolResponse carries the tool result back to the agent. Content is a
// human-readable summary the agent can speak; Data is the structured result.
type ToolResponse struct {
	Content string `json:"content"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ErrUnknownTool is returned for tool names the gateway does not serve.
var ErrUnknownTool = errors.New("agent: unknown tool")

// Tools dispatches agent tool calls onto the storefront services.
type Tools struct {
	Catalog  catalog.Store
	Checkout *checkout.Service
}

// Dispatch routes a tool request to its implementation.
func (t *Tools) Dispatch(ctx context.Context, req ToolRequest) (ToolResponse, error) {
	switch req.Tool {
	case "calculate_order_price":
		return t.calculateOrderPrice(ctx, req)
	case "check_product_availability":
		return t.checkProductAvailability(ctx, req)
	case "list_products":
		return t.listProducts(ctx, req)
	case "create_order":
		return t.createOrder(ctx, req)
	default:
		return ToolResponse{}, fmt.Errorf("%w: %s", ErrUnknownTool, req.Tool)
	}
}

type priceArgs struct {
	ProductID      string  `json:"productId"`
	Slug           string  `json:"slug"`
	QtyKg          float64 `json:"qtyKg"`
	LoyaltyPercent float64 `json:"loyaltyPercent"`
}

// PriceBreakdown mirrors one checkout line so agent answers and checkout
// totals never diverge.
type PriceBreakdown struct {
	ProductID   uuid.UUID    `json:"productId"`
	Name        string       `json:"name"`
	QtyKg       float64      `json:"qtyKg"`
	PricePerKg  int64        `json:"pricePerKg"`
	TierApplied pricing.Tier `json:"tierApplied"`
	Subtotal    int64        `json:"subtotal"`
	TierSavings int64        `json:"tierSavings"`
	Discount    int64        `json:"discount"`
	Total       int64        `json:"total"`
}

func (t *Tools) calculateOrderPrice(ctx context.Context, req ToolRequest) (ToolResponse, error) {
	var args priceArgs
	if err := json.Unmarshal(req.Args, &args); err != nil {
		return toolError("invalid arguments"), nil
	}
	if err := checkout.ValidateQuantity(args.QtyKg, t.maxLineKg()); err != nil {
		return toolError(err.Error()), nil
	}
	product, err := t.lookupProduct(ctx, args.ProductID, args.Slug)
	if err != nil {
		if errors.Is(err, catalog.ErrProductNotFound) {
			return toolError("product not found"), nil
		}
		return ToolResponse{}, err
	}
	// same guards checkout applies before pricing: never quote what cannot be bought
	if !product.Available {
		return toolError(product.Name + " is not available for purchase"), nil
	}
	if product.BasePerKg <= 0 {
		return toolError(product.Name + " has no configured price"), nil
	}

	qty := decimal.NewFromFloat(args.QtyKg)
	ladder := product.TierPricing()
	perKg, tier := pricing.ResolveTier(ladder, qty)
	savings := pricing.Savings(ladder, qty)
	breakdown := pricing.ItemTotal(perKg, qty, decimal.NewFromFloat(args.LoyaltyPercent))

	subtotal := pricing.RoundIDR(savings.Discounted).IntPart()
	discount := pricing.RoundIDR(breakdown.DiscountAmount).IntPart()
	result := PriceBreakdown{
		ProductID:   product.ID,
		Name:        product.Name,
		QtyKg:       args.QtyKg,
		PricePerKg:  perKg.IntPart(),
		TierApplied: tier,
		Subtotal:    subtotal,
		TierSavings: pricing.RoundIDR(savings.Savings).IntPart(),
		Discount:    discount,
		Total:       subtotal - discount,
	}

	content := fmt.Sprintf("%s: %.4g kg at Rp%d/kg (%s tier) = Rp%d",
		product.Name, args.QtyKg, result.PricePerKg, tier, result.Subtotal)
	if result.TierSavings > 0 {
		content += fmt.Sprintf(", saving Rp%d versus the base price", result.TierSavings)
	}
	if result.Discount > 0 {
		content += fmt.Sprintf("; loyalty discount Rp%d brings the total to Rp%d", result.Discount, result.Total)
	}
	return ToolResponse{Content: content, Data: result}, nil
}

type availabilityArgs struct {
	ProductID string  `json:"productId"`
	Slug      string  `json:"slug"`
	QtyKg     float64 `json:"qtyKg"`
}

func (t *Tools) checkProductAvailability(ctx context.Context, req ToolRequest) (ToolResponse, error) {
	var args availabilityArgs
	if err := json.Unmarshal(req.Args, &args); err != nil {
		return toolError("invalid arguments"), nil
	}
	product, err := t.lookupProduct(ctx, args.ProductID, args.Slug)
	if err != nil {
		if errors.Is(err, catalog.ErrProductNotFound) {
			return toolError("product not found"), nil
		}
		return ToolResponse{}, err
	}

	available := product.Available && (args.QtyKg <= 0 || product.StockKg >= args.QtyKg)
	data := map[string]any{
		"productId": product.ID,
		"name":      product.Name,
		"available": available,
		"stockKg":   product.StockKg,
	}
	if available {
		return ToolResponse{Content: fmt.Sprintf("%s is in stock (%.4g kg available)", product.Name, product.StockKg), Data: data}, nil
	}
	return ToolResponse{Content: fmt.Sprintf("%s is not available right now", product.Name), Data: data}, nil
}

type listArgs struct {
	Query   string `json:"query"`
	Variety string `json:"variety"`
	Limit   int32  `json:"limit"`
}

func (t *Tools) listProducts(ctx context.Context, req ToolRequest) (ToolResponse, error) {
	var args listArgs
	if len(req.Args) > 0 {
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return toolError("invalid arguments"), nil
		}
	}
	limit := args.Limit
	if limit <= 0 || limit > 20 {
		limit = 10
	}
	avail := true
	products, err := t.Catalog.ListProducts(ctx, catalog.ListFilter{
		Query:     args.Query,
		Variety:   args.Variety,
		Available: &avail,
		Limit:     limit,
	})
	if err != nil {
		return ToolResponse{}, err
	}

	type listed struct {
		ProductID  uuid.UUID `json:"productId"`
		Name       string    `json:"name"`
		Slug       string    `json:"slug"`
		Variety    string    `json:"variety"`
		BasePerKg  int64     `json:"basePerKg"`
		HasTiers   bool      `json:"hasTiers"`
		Tier10UpKg int64     `json:"tier10UpKg,omitempty"`
	}
	out := make([]listed, 0, len(products))
	for _, p := range products {
		out = append(out, listed{
			ProductID:  p.ID,
			Name:       p.Name,
			Slug:       p.Slug,
			Variety:    p.Variety,
			BasePerKg:  p.BasePerKg,
			HasTiers:   p.HasTiers,
			Tier10UpKg: p.Tier10UpKg,
		})
	}
	return ToolResponse{
		Content: fmt.Sprintf("found %d products", len(out)),
		Data:    out,
	}, nil
}

type createOrderArgs struct {
	Lines        []checkout.LineInput  `json:"lines"`
	SalesChannel string                `json:"salesChannel"`
	LoyaltyCode  *string               `json:"loyaltyCode"`
	Address      checkout.AddressInput `json:"address"`
	Notes        *string               `json:"notes"`
}

func (t *Tools) createOrder(ctx context.Context, req ToolRequest) (ToolResponse, error) {
	if t.Checkout == nil {
		return ToolResponse{}, errors.New("agent: checkout not configured")
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return toolError("a known customer is required to place an order"), nil
	}
	var args createOrderArgs
	if err := json.Unmarshal(req.Args, &args); err != nil {
		return toolError("invalid arguments"), nil
	}
	channel := args.SalesChannel
	if channel == "" {
		channel = "agent"
	}
	out, err := t.Checkout.Create(ctx, userID, checkout.Input{
		Lines:        args.Lines,
		SalesChannel: channel,
		LoyaltyCode:  args.LoyaltyCode,
		Address:      args.Address,
		Notes:        args.Notes,
	})
	if err != nil {
		// checkout guard failures become speakable content, not transport errors
		return toolError(err.Error()), nil
	}
	return ToolResponse{
		Content: fmt.Sprintf("order %s placed, total Rp%d", out.OrderID, out.TotalAfterDiscount),
		Data:    out,
	}, nil
}

func (t *Tools) maxLineKg() float64 {
	if t.Checkout != nil && t.Checkout.MaxLineKg > 0 {
		return t.Checkout.MaxLineKg
	}
	return checkout.DefaultMaxLineKg
}

func (t *Tools) lookupProduct(ctx context.Context, id, slug string) (catalog.Product, error) {
	if id != "" {
		parsed, err := uuid.Parse(id)
		if err != nil {
			return catalog.Product{}, catalog.ErrProductNotFound
		}
		return t.Catalog.GetProductByID(ctx, parsed)
	}
	if slug != "" {
		return t.Catalog.GetProductBySlug(ctx, slug)
	}
	return catalog.Product{}, catalog.ErrProductNotFound
}

func toolError(msg string) ToolResponse {
	return ToolResponse{Error: msg, Content: msg}
}
