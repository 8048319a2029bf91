package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/berasid/backend-beras/internal/pricing"
)

// ErrStoreUnavailable indicates the catalog store dependency is not configured.
var ErrStoreUnavailable = errors.New("catalog: store unavailable")

// ErrProductNotFound is returned when a product lookup matches nothing.
var ErrProductNotFound = errors.New("catalog: product not found")

// Product is a rice product row with its weight-tier price ladder.
// Prices are whole rupiah per kg; a tier price of zero means unconfigured.
type Product struct {
	ID          uuid.UUID
	Name        string
	Slug        string
	Variety     string
	Origin      string
	Description string
	ImageURL    *string
	Available   bool
	StockKg     float64
	BasePerKg   int64
	HasTiers    bool
	Tier2to4Kg  int64
	Tier5to9Kg  int64
	Tier10UpKg  int64
	Badges      []string
}

// TierPricing converts the stored ladder into the pricing engine's input type.
func (p Product) TierPricing() pricing.TierPricing {
	return pricing.TierPricing{
		BasePerKg: decimal.NewFromInt(p.BasePerKg),
		HasTiers:  p.HasTiers,
		Tier2to4:  decimal.NewFromInt(p.Tier2to4Kg),
		Tier5to9:  decimal.NewFromInt(p.Tier5to9Kg),
		Tier10Up:  decimal.NewFromInt(p.Tier10UpKg),
	}
}

// ListFilter narrows and orders product listings.
type ListFilter struct {
	Query     string
	Variety   string
	Origin    string
	Available *bool
	Sort      string
	Limit     int32
	Offset    int32
}

// Store provides database accessors for the product catalog.
type Store interface {
	ListProducts(ctx context.Context, filter ListFilter) ([]Product, error)
	CountProducts(ctx context.Context, filter ListFilter) (int64, error)
	GetProductBySlug(ctx context.Context, slug string) (Product, error)
	GetProductByID(ctx context.Context, id uuid.UUID) (Product, error)
	GetProductsByIDs(ctx context.Context, ids []uuid.UUID) ([]Product, error)
}

// NewStore constructs a Store backed by a pgx connection pool.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

type pgStore struct {
	pool *pgxpool.Pool
}

const productColumns = `id, name, slug, variety, origin, description, image_url, available, stock_kg,
base_price_per_kg, has_tier_pricing, tier_2_4kg_price, tier_5_9kg_price, tier_10kg_up_price, badges`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	var tier24, tier59, tier10 *int64
	err := row.Scan(&p.ID, &p.Name, &p.Slug, &p.Variety, &p.Origin, &p.Description, &p.ImageURL,
		&p.Available, &p.StockKg, &p.BasePerKg, &p.HasTiers, &tier24, &tier59, &tier10, &p.Badges)
	if err != nil {
		return Product{}, err
	}
	if tier24 != nil {
		p.Tier2to4Kg = *tier24
	}
	if tier59 != nil {
		p.Tier5to9Kg = *tier59
	}
	if tier10 != nil {
		p.Tier10UpKg = *tier10
	}
	return p, nil
}

func (f ListFilter) whereClause(args *[]any) string {
	var parts []string
	add := func(cond string, value any) {
		*args = append(*args, value)
		parts = append(parts, fmt.Sprintf(cond, len(*args)))
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		add("(name ILIKE '%%' || $%d || '%%' OR variety ILIKE '%%' || $%[1]d || '%%')", q)
	}
	if v := strings.TrimSpace(f.Variety); v != "" {
		add("variety = $%d", v)
	}
	if o := strings.TrimSpace(f.Origin); o != "" {
		add("origin = $%d", o)
	}
	if f.Available != nil {
		add("available = $%d", *f.Available)
	}
	if len(parts) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(parts, " AND ")
}

func (f ListFilter) orderClause() string {
	switch f.Sort {
	case "price:asc":
		return " ORDER BY base_price_per_kg ASC, name ASC"
	case "price:desc":
		return " ORDER BY base_price_per_kg DESC, name ASC"
	case "name:desc":
		return " ORDER BY name DESC"
	default:
		return " ORDER BY name ASC"
	}
}

// ListProducts fetches a filtered, ordered page of products.
func (s *pgStore) ListProducts(ctx context.Context, filter ListFilter) ([]Product, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	var args []any
	query := `SELECT ` + productColumns + ` FROM products` + filter.whereClause(&args) + filter.orderClause()
	args = append(args, filter.Limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	args = append(args, filter.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]Product, 0, filter.Limit)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// CountProducts counts products matching the filter.
func (s *pgStore) CountProducts(ctx context.Context, filter ListFilter) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, ErrStoreUnavailable
	}
	var args []any
	query := `SELECT COUNT(*) FROM products` + filter.whereClause(&args)
	var total int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// GetProductBySlug fetches a single product by slug.
func (s *pgStore) GetProductBySlug(ctx context.Context, slug string) (Product, error) {
	if s == nil || s.pool == nil {
		return Product{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE slug = $1`, slug)
	p, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrProductNotFound
	}
	return p, err
}

// GetProductByID fetches a single product by identifier.
func (s *pgStore) GetProductByID(ctx context.Context, id uuid.UUID) (Product, error) {
	if s == nil || s.pool == nil {
		return Product{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	p, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrProductNotFound
	}
	return p, err
}

// GetProductsByIDs fetches the given products preserving no particular order.
func (s *pgStore) GetProductsByIDs(ctx context.Context, ids []uuid.UUID) ([]Product, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT `+productColumns+` FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]Product, 0, len(ids))
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}
