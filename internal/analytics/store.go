package analytics

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrStoreUnavailable indicates the analytics store dependency is not configured.
var ErrStoreUnavailable = errors.New("analytics: store unavailable")

// Overview is the storefront-wide dashboard summary. Revenue figures count
// every order except returned ones; returns reverse the sale entirely.
type Overview struct {
	TotalRevenue    int64   `json:"totalRevenue"`
	TotalDiscount   int64   `json:"totalDiscount"`
	CountedOrders   int64   `json:"countedOrders"`
	ReturnedOrders  int64   `json:"returnedOrders"`
	TotalCustomers  int64   `json:"totalCustomers"`
	AvgOrderValue   int64   `json:"avgOrderValue"`
	TotalQuantityKg float64 `json:"totalQuantityKg"`
}

// DailySales is one day of revenue.
type DailySales struct {
	Day      time.Time `json:"day"`
	Orders   int64     `json:"orders"`
	Revenue  int64     `json:"revenue"`
	Discount int64     `json:"discount"`
}

// TopProduct aggregates sold quantity and revenue per product.
type TopProduct struct {
	ProductID uuid.UUID `json:"productId"`
	Name      string    `json:"name"`
	QtyKg     float64   `json:"qtyKg"`
	Revenue   int64     `json:"revenue"`
	Orders    int64     `json:"orders"`
}

// ChannelPerformance aggregates revenue per sales channel.
type ChannelPerformance struct {
	SalesChannel string `json:"salesChannel"`
	Orders       int64  `json:"orders"`
	Revenue      int64  `json:"revenue"`
}

// CustomerValue is lifetime spend for one customer.
type CustomerValue struct {
	UserID  uuid.UUID `json:"userId"`
	Orders  int64     `json:"orders"`
	Revenue int64     `json:"revenue"`
}

// ExportRow is one order line flattened for CSV export.
type ExportRow struct {
	OrderID      uuid.UUID
	CreatedAt    time.Time
	Status       string
	SalesChannel string
	ProductName  string
	QtyKg        float64
	PricePerKg   int64
	TierApplied  string
	LineTotal    int64
}

// Store provides the read aggregates behind the analytics endpoints. Every
// revenue query filters `status <> 'returned'` so a returned order vanishes
// from revenue, quantities and customer lifetime value alike.
type Store interface {
	Overview(ctx context.Context, from, to time.Time) (Overview, error)
	SalesRange(ctx context.Context, from, to time.Time) ([]DailySales, error)
	TopProducts(ctx context.Context, from, to time.Time, limit, offset int32) ([]TopProduct, error)
	ChannelPerformance(ctx context.Context, from, to time.Time) ([]ChannelPerformance, error)
	TopCustomers(ctx context.Context, limit int32) ([]CustomerValue, error)
	ExportRows(ctx context.Context, from, to time.Time) ([]ExportRow, error)
}

// NewStore constructs a Store backed by a pgx connection pool.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

type pgStore struct {
	pool *pgxpool.Pool
}

func (s *pgStore) Overview(ctx context.Context, from, to time.Time) (Overview, error) {
	if s == nil || s.pool == nil {
		return Overview{}, ErrStoreUnavailable
	}
	var o Overview
	err := s.pool.QueryRow(ctx, `SELECT
COALESCE(SUM(total_after_discount) FILTER (WHERE status <> 'returned'), 0),
COALESCE(SUM(discount_amount) FILTER (WHERE status <> 'returned'), 0),
COUNT(*) FILTER (WHERE status <> 'returned'),
COUNT(*) FILTER (WHERE status = 'returned'),
COUNT(DISTINCT user_id) FILTER (WHERE status <> 'returned')
FROM orders WHERE created_at >= $1 AND created_at < $2`,
		from, to).Scan(&o.TotalRevenue, &o.TotalDiscount, &o.CountedOrders, &o.ReturnedOrders, &o.TotalCustomers)
	if err != nil {
		return Overview{}, err
	}
	if o.CountedOrders > 0 {
		o.AvgOrderValue = o.TotalRevenue / o.CountedOrders
	}
	err = s.pool.QueryRow(ctx, `SELECT COALESCE(SUM(oi.qty_kg), 0)
FROM order_items oi
JOIN orders o ON o.id = oi.order_id
WHERE o.status <> 'returned' AND o.created_at >= $1 AND o.created_at < $2`,
		from, to).Scan(&o.TotalQuantityKg)
	return o, err
}

func (s *pgStore) SalesRange(ctx context.Context, from, to time.Time) ([]DailySales, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT date_trunc('day', created_at) AS day,
COUNT(*), COALESCE(SUM(total_after_discount), 0), COALESCE(SUM(discount_amount), 0)
FROM orders
WHERE status <> 'returned' AND created_at >= $1 AND created_at < $2
GROUP BY day ORDER BY day`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DailySales
	for rows.Next() {
		var d DailySales
		if err := rows.Scan(&d.Day, &d.Orders, &d.Revenue, &d.Discount); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *pgStore) TopProducts(ctx context.Context, from, to time.Time, limit, offset int32) ([]TopProduct, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT oi.product_id, oi.name,
COALESCE(SUM(oi.qty_kg), 0), COALESCE(SUM(oi.total_after_discount), 0), COUNT(DISTINCT o.id)
FROM order_items oi
JOIN orders o ON o.id = oi.order_id
WHERE o.status <> 'returned' AND o.created_at >= $1 AND o.created_at < $2
GROUP BY oi.product_id, oi.name
ORDER BY SUM(oi.qty_kg) DESC
LIMIT $3 OFFSET $4`, from, to, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TopProduct
	for rows.Next() {
		var p TopProduct
		if err := rows.Scan(&p.ProductID, &p.Name, &p.QtyKg, &p.Revenue, &p.Orders); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *pgStore) ChannelPerformance(ctx context.Context, from, to time.Time) ([]ChannelPerformance, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT sales_channel, COUNT(*), COALESCE(SUM(total_after_discount), 0)
FROM orders
WHERE status <> 'returned' AND created_at >= $1 AND created_at < $2
GROUP BY sales_channel ORDER BY 3 DESC`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChannelPerformance
	for rows.Next() {
		var c ChannelPerformance
		if err := rows.Scan(&c.SalesChannel, &c.Orders, &c.Revenue); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *pgStore) TopCustomers(ctx context.Context, limit int32) ([]CustomerValue, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT user_id, COUNT(*), COALESCE(SUM(total_after_discount), 0)
FROM orders
WHERE status <> 'returned'
GROUP BY user_id ORDER BY 3 DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CustomerValue
	for rows.Next() {
		var c CustomerValue
		if err := rows.Scan(&c.UserID, &c.Orders, &c.Revenue); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Returned orders never appear in exports, same as every other aggregate.
const exportQuery = `SELECT o.id, o.created_at, o.status, o.sales_channel,
oi.name, oi.qty_kg, oi.price_per_kg_at_order, oi.tier_applied, oi.total_after_discount
FROM order_items oi
JOIN orders o ON o.id = oi.order_id
WHERE o.created_at >= $1 AND o.created_at < $2 AND o.status <> 'returned'
ORDER BY o.created_at, o.id`

func (s *pgStore) ExportRows(ctx context.Context, from, to time.Time) ([]ExportRow, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, exportQuery, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ExportRow
	for rows.Next() {
		var r ExportRow
		if err := rows.Scan(&r.OrderID, &r.CreatedAt, &r.Status, &r.SalesChannel,
			&r.ProductName, &r.QtyKg, &r.PricePerKg, &r.TierApplied, &r.LineTotal); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
