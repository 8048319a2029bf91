package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/berasid/backend-beras/internal/common"
	"github.com/berasid/backend-beras/internal/pricing"
)

// Service orchestrates catalog queries, DTO assembly, and caching.
type Service struct {
	store        Store
	cache        *Cache
	defaultPage  int
	defaultLimit int
	maxLimit     int
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Store        Store
	Cache        *Cache
	DefaultPage  int
	DefaultLimit int
	MaxLimit     int
}

// ListParams captures filters for product listing.
type ListParams struct {
	Query     string
	Variety   string
	Origin    string
	Available *bool
	Sort      string
	Page      int
	Limit     int
}

// TierPriceView is one rung of the ladder rendered on product payloads.
type TierPriceView struct {
	Tier       string  `json:"tier"`
	MinKg      int     `json:"minKg"`
	PricePerKg int64   `json:"pricePerKg"`
	SavingsPct float64 `json:"savingsPct"`
}

// ProductListItem represents an entry in list responses.
type ProductListItem struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Slug       string   `json:"slug"`
	Variety    string   `json:"variety"`
	Origin     string   `json:"origin"`
	PricePerKg int64    `json:"pricePerKg"`
	Available  bool     `json:"available"`
	ImageURL   *string  `json:"imageUrl,omitempty"`
	Badges     []string `json:"badges"`
}

// ProductDetail aggregates the full detail payload including the tier ladder.
type ProductDetail struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Slug        string          `json:"slug"`
	Variety     string          `json:"variety"`
	Origin      string          `json:"origin"`
	Description string          `json:"description"`
	PricePerKg  int64           `json:"pricePerKg"`
	Available   bool            `json:"available"`
	StockKg     float64         `json:"stockKg"`
	ImageURL    *string         `json:"imageUrl,omitempty"`
	Badges      []string        `json:"badges"`
	TierPrices  []TierPriceView `json:"tierPrices"`
}

// ProductListResult contains list data and pagination metadata.
type ProductListResult struct {
	Items []ProductListItem
	Total int64
	Page  int
	Limit int
}

// NewService constructs a Service instance.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("catalog: store is required")
	}
	defaultPage := cfg.DefaultPage
	if defaultPage < 1 {
		defaultPage = 1
	}
	defaultLimit := cfg.DefaultLimit
	if defaultLimit < 1 {
		defaultLimit = 20
	}
	maxLimit := cfg.MaxLimit
	if maxLimit < 1 {
		maxLimit = 100
	}
	if defaultLimit > maxLimit {
		defaultLimit = maxLimit
	}
	return &Service{
		store:        cfg.Store,
		cache:        cfg.Cache,
		defaultPage:  defaultPage,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
	}, nil
}

// ParseListParams normalises raw query values into strongly typed filters.
func (s *Service) ParseListParams(values url.Values) (ListParams, error) {
	params := ListParams{
		Page:  s.defaultPage,
		Limit: s.defaultLimit,
	}
	params.Query = strings.TrimSpace(values.Get("q"))
	params.Variety = strings.TrimSpace(values.Get("variety"))
	params.Origin = strings.TrimSpace(values.Get("origin"))

	if v := strings.TrimSpace(values.Get("page")); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page < 1 {
			return params, badRequest("page", "page must be a positive integer", err)
		}
		params.Page = page
	}

	limit := s.defaultLimit
	if v := strings.TrimSpace(values.Get("limit")); v != "" {
		l, err := strconv.Atoi(v)
		if err != nil || l < 1 {
			return params, badRequest("limit", "limit must be a positive integer", err)
		}
		limit = l
	}
	if limit > s.maxLimit {
		limit = s.maxLimit
	}
	params.Limit = limit

	if v := strings.TrimSpace(values.Get("available")); v != "" {
		b, err := parseBool(v)
		if err != nil {
			return params, badRequest("available", "available must be true or false", err)
		}
		params.Available = &b
	}

	params.Sort = normalizeSort(values.Get("sort"))
	return params, nil
}

// ListProducts returns a filtered product list with pagination metadata.
func (s *Service) ListProducts(ctx context.Context, params ListParams) (ProductListResult, error) {
	key, shouldUseCache := s.listCacheKey(params)
	if shouldUseCache && s.cache != nil {
		var cached cachedList
		ok, err := s.cache.GetJSON(ctx, key, &cached)
		if err == nil && ok {
			return ProductListResult{Items: cached.Items, Total: cached.Total, Page: params.Page, Limit: params.Limit}, nil
		}
	}

	filter := ListFilter{
		Query:     params.Query,
		Variety:   params.Variety,
		Origin:    params.Origin,
		Available: params.Available,
		Sort:      params.Sort,
	}
	total, err := s.store.CountProducts(ctx, filter)
	if err != nil {
		return ProductListResult{}, fmt.Errorf("count products: %w", err)
	}
	offset := int32((params.Page - 1) * params.Limit)
	if offset < 0 {
		offset = 0
	}
	filter.Limit = int32(params.Limit)
	filter.Offset = offset
	rows, err := s.store.ListProducts(ctx, filter)
	if err != nil {
		return ProductListResult{}, fmt.Errorf("list products: %w", err)
	}
	items := make([]ProductListItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, ProductListItem{
			ID:         row.ID.String(),
			Name:       row.Name,
			Slug:       row.Slug,
			Variety:    row.Variety,
			Origin:     row.Origin,
			PricePerKg: row.BasePerKg,
			Available:  row.Available,
			ImageURL:   row.ImageURL,
			Badges:     row.Badges,
		})
	}
	result := ProductListResult{Items: items, Total: total, Page: params.Page, Limit: params.Limit}
	if shouldUseCache && s.cache != nil {
		_ = s.cache.SetJSON(ctx, key, cachedList{Items: items, Total: total})
	}
	return result, nil
}

// GetProductDetail returns the product detail with its rendered tier ladder.
func (s *Service) GetProductDetail(ctx context.Context, slug string) (ProductDetail, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return ProductDetail{}, badRequest("slug", "slug is required", nil)
	}
	cacheKey := detailCacheKey(slug)
	if s.cache != nil {
		var cached ProductDetail
		ok, err := s.cache.GetJSON(ctx, cacheKey, &cached)
		if err == nil && ok {
			return cached, nil
		}
	}
	product, err := s.store.GetProductBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, ErrProductNotFound) {
			return ProductDetail{}, &common.AppError{Code: "NOT_FOUND", Message: "product not found", HTTPStatus: http.StatusNotFound, Err: err}
		}
		return ProductDetail{}, fmt.Errorf("get product by slug: %w", err)
	}
	detail := ProductDetail{
		ID:          product.ID.String(),
		Name:        product.Name,
		Slug:        product.Slug,
		Variety:     product.Variety,
		Origin:      product.Origin,
		Description: product.Description,
		PricePerKg:  product.BasePerKg,
		Available:   product.Available,
		StockKg:     product.StockKg,
		ImageURL:    product.ImageURL,
		Badges:      product.Badges,
		TierPrices:  tierLadderView(product),
	}
	if s.cache != nil {
		_ = s.cache.SetJSON(ctx, cacheKey, detail)
	}
	return detail, nil
}

// tierLadderView renders the configured tiers with their savings percentage
// relative to base price, computed by the same engine that prices checkout.
func tierLadderView(product Product) []TierPriceView {
	tp := product.TierPricing()
	views := make([]TierPriceView, 0, 3)
	if !tp.HasTiers {
		return views
	}
	ladder := []struct {
		minKg int
	}{{2}, {5}, {10}}
	for _, rung := range ladder {
		qty := decimal.NewFromInt(int64(rung.minKg))
		breakdown := pricing.Savings(tp, qty)
		if breakdown.Tier == nil {
			continue
		}
		perKg, _ := pricing.ResolveTier(tp, qty)
		pct, _ := breakdown.SavingsPercent.Round(2).Float64()
		views = append(views, TierPriceView{
			Tier:       string(*breakdown.Tier),
			MinKg:      rung.minKg,
			PricePerKg: perKg.IntPart(),
			SavingsPct: pct,
		})
	}
	return views
}

type cachedList struct {
	Items []ProductListItem `json:"items"`
	Total int64             `json:"total"`
}

func (s *Service) listCacheKey(params ListParams) (string, bool) {
	if params.Page != s.defaultPage {
		return "", false
	}
	if params.Limit != s.defaultLimit {
		return "", false
	}
	if params.Query != "" || params.Variety != "" || params.Origin != "" || params.Available != nil || params.Sort != "" {
		return "", false
	}
	return "catalog:products:list:popular", true
}

func detailCacheKey(slug string) string {
	return "catalog:products:detail:" + slug
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes", "y":
		return true, nil
	case "false", "0", "no", "n":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean: %s", value)
	}
}

func normalizeSort(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "price:asc", "price:desc", "name:asc", "name:desc":
		return s
	default:
		return ""
	}
}

func badRequest(field, message string, err error) *common.AppError {
	return &common.AppError{
		Code:       "BAD_REQUEST",
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
		Err:        err,
		Details: map[string]any{
			"field": field,
		},
	}
}
