package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrStoreUnavailable indicates the order store dependency is not configured.
var ErrStoreUnavailable = errors.New("order: store unavailable")

// ErrNotFound is returned when the requested order does not exist.
var ErrNotFound = errors.New("order: not found")

// Order is the persisted order header. All money fields are rounded whole
// rupiah; the breakdown lives on the items and the header carries sums.
type Order struct {
	ID                     uuid.UUID  `json:"id"`
	UserID                 uuid.UUID  `json:"userId"`
	Status                 Status     `json:"status"`
	SalesChannel           string     `json:"salesChannel"`
	Currency               string     `json:"currency"`
	SubtotalBeforeDiscount int64      `json:"subtotalBeforeDiscount"`
	DiscountAmount         int64      `json:"discountAmount"`
	TotalAfterDiscount     int64      `json:"totalAfterDiscount"`
	LoyaltyCode            *string    `json:"loyaltyCode,omitempty"`
	AddressID              *uuid.UUID `json:"addressId,omitempty"`
	Notes                  *string    `json:"notes,omitempty"`
	CreatedAt              time.Time  `json:"createdAt"`
	UpdatedAt              time.Time  `json:"updatedAt"`
}

// Item is a priced order line. OrderID is nil between item creation and order
// creation; checkout attaches items once the order row exists.
type Item struct {
	ID                     uuid.UUID  `json:"id"`
	OrderID                *uuid.UUID `json:"orderId,omitempty"`
	ProductID              uuid.UUID  `json:"productId"`
	Name                   string     `json:"name"`
	QtyKg                  float64    `json:"qtyKg"`
	PricePerKgAtOrder      int64      `json:"pricePerKgAtOrder"`
	TierApplied            string     `json:"tierApplied"`
	SubtotalBeforeDiscount int64      `json:"subtotalBeforeDiscount"`
	DiscountAmount         int64      `json:"discountAmount"`
	TotalAfterDiscount     int64      `json:"totalAfterDiscount"`
}

// Address is the delivery address attached to an order after creation.
type Address struct {
	ID           uuid.UUID `json:"id"`
	ReceiverName string    `json:"receiverName"`
	Phone        string    `json:"phone"`
	Province     string    `json:"province"`
	City         string    `json:"city"`
	PostalCode   string    `json:"postalCode"`
	AddressLine1 string    `json:"addressLine1"`
	AddressLine2 string    `json:"addressLine2,omitempty"`
}

// ListFilter narrows admin order listings.
type ListFilter struct {
	Status       Status
	SalesChannel string
	Limit        int32
	Offset       int32
}

// Store provides database accessors for orders. The write path is a set of
// individual operations rather than one transaction: the hosted data backend
// this mirrors offers no transactions, so checkout sequences the steps and
// compensates on failure.
type Store interface {
	CreateItem(ctx context.Context, item Item) (uuid.UUID, error)
	AttachItems(ctx context.Context, orderID uuid.UUID, itemIDs []uuid.UUID) error
	CreateOrder(ctx context.Context, o Order) (Order, error)
	CreateAddress(ctx context.Context, a Address) (uuid.UUID, error)
	SetOrderAddress(ctx context.Context, orderID, addressID uuid.UUID) error
	DeleteItems(ctx context.Context, itemIDs []uuid.UUID) error
	DeleteOrder(ctx context.Context, orderID uuid.UUID) error

	GetOrder(ctx context.Context, orderID uuid.UUID) (Order, error)
	GetOrderForUser(ctx context.Context, orderID, userID uuid.UUID) (Order, error)
	ListOrdersForUser(ctx context.Context, userID uuid.UUID, limit, offset int32) ([]Order, error)
	CountOrdersForUser(ctx context.Context, userID uuid.UUID) (int64, error)
	ListOrders(ctx context.Context, filter ListFilter) ([]Order, error)
	ListItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]Item, error)
	GetAddress(ctx context.Context, addressID uuid.UUID) (Address, error)
	UpdateStatus(ctx context.Context, orderID uuid.UUID, status Status) error
}

// NewStore constructs a Store backed by a pgx connection pool.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

type pgStore struct {
	pool *pgxpool.Pool
}

const orderColumns = `id, user_id, status, sales_channel, currency, subtotal_before_discount,
discount_amount, total_after_discount, loyalty_code, address_id, notes, created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.UserID, &o.Status, &o.SalesChannel, &o.Currency, &o.SubtotalBeforeDiscount,
		&o.DiscountAmount, &o.TotalAfterDiscount, &o.LoyaltyCode, &o.AddressID, &o.Notes, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

// CreateItem persists an unattached order line and returns its identifier.
func (s *pgStore) CreateItem(ctx context.Context, item Item) (uuid.UUID, error) {
	if s == nil || s.pool == nil {
		return uuid.Nil, ErrStoreUnavailable
	}
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `INSERT INTO order_items
(product_id, name, qty_kg, price_per_kg_at_order, tier_applied, subtotal_before_discount, discount_amount, total_after_discount)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		item.ProductID, item.Name, item.QtyKg, item.PricePerKgAtOrder, item.TierApplied,
		item.SubtotalBeforeDiscount, item.DiscountAmount, item.TotalAfterDiscount).Scan(&id)
	return id, err
}

// AttachItems links previously created lines to the order.
func (s *pgStore) AttachItems(ctx context.Context, orderID uuid.UUID, itemIDs []uuid.UUID) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	if len(itemIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `UPDATE order_items SET order_id = $1 WHERE id = ANY($2)`, orderID, itemIDs)
	return err
}

// CreateOrder persists the order header and returns the stored row.
func (s *pgStore) CreateOrder(ctx context.Context, o Order) (Order, error) {
	if s == nil || s.pool == nil {
		return Order{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `INSERT INTO orders
(user_id, status, sales_channel, currency, subtotal_before_discount, discount_amount, total_after_discount, loyalty_code, notes)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING `+orderColumns,
		o.UserID, o.Status, o.SalesChannel, o.Currency, o.SubtotalBeforeDiscount,
		o.DiscountAmount, o.TotalAfterDiscount, o.LoyaltyCode, o.Notes)
	return scanOrder(row)
}

// CreateAddress persists a delivery address and returns its identifier.
func (s *pgStore) CreateAddress(ctx context.Context, a Address) (uuid.UUID, error) {
	if s == nil || s.pool == nil {
		return uuid.Nil, ErrStoreUnavailable
	}
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `INSERT INTO order_addresses
(receiver_name, phone, province, city, postal_code, address_line1, address_line2)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		a.ReceiverName, a.Phone, a.Province, a.City, a.PostalCode, a.AddressLine1, a.AddressLine2).Scan(&id)
	return id, err
}

// SetOrderAddress points the order at its delivery address.
func (s *pgStore) SetOrderAddress(ctx context.Context, orderID, addressID uuid.UUID) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	_, err := s.pool.Exec(ctx, `UPDATE orders SET address_id = $2, updated_at = now() WHERE id = $1`, orderID, addressID)
	return err
}

// DeleteItems removes order lines; used by checkout compensation.
func (s *pgStore) DeleteItems(ctx context.Context, itemIDs []uuid.UUID) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	if len(itemIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM order_items WHERE id = ANY($1)`, itemIDs)
	return err
}

// DeleteOrder removes an order header; used by checkout compensation.
func (s *pgStore) DeleteOrder(ctx context.Context, orderID uuid.UUID) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM orders WHERE id = $1`, orderID)
	return err
}

// GetOrder fetches an order by identifier.
func (s *pgStore) GetOrder(ctx context.Context, orderID uuid.UUID) (Order, error) {
	if s == nil || s.pool == nil {
		return Order{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	return o, err
}

// GetOrderForUser fetches an order scoped to its owner.
func (s *pgStore) GetOrderForUser(ctx context.Context, orderID, userID uuid.UUID) (Order, error) {
	if s == nil || s.pool == nil {
		return Order{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 AND user_id = $2`, orderID, userID)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	return o, err
}

// ListOrdersForUser fetches a page of the customer's orders, newest first.
func (s *pgStore) ListOrdersForUser(ctx context.Context, userID uuid.UUID, limit, offset int32) ([]Order, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT `+orderColumns+` FROM orders
WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows, int(limit))
}

// CountOrdersForUser counts the customer's orders.
func (s *pgStore) CountOrdersForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, ErrStoreUnavailable
	}
	var total int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE user_id = $1`, userID).Scan(&total)
	return total, err
}

// ListOrders fetches a filtered page of orders for the admin dashboard.
func (s *pgStore) ListOrders(ctx context.Context, filter ListFilter) ([]Order, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	var (
		conds []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.SalesChannel != "" {
		args = append(args, filter.SalesChannel)
		conds = append(conds, fmt.Sprintf("sales_channel = $%d", len(args)))
	}
	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, filter.Limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	args = append(args, filter.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows, int(filter.Limit))
}

// ListItemsByOrder fetches the priced lines of an order.
func (s *pgStore) ListItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]Item, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT id, order_id, product_id, name, qty_kg, price_per_kg_at_order,
tier_applied, subtotal_before_discount, discount_amount, total_after_discount
FROM order_items WHERE order_id = $1 ORDER BY name`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Name, &it.QtyKg, &it.PricePerKgAtOrder,
			&it.TierApplied, &it.SubtotalBeforeDiscount, &it.DiscountAmount, &it.TotalAfterDiscount); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// GetAddress fetches a delivery address by identifier.
func (s *pgStore) GetAddress(ctx context.Context, addressID uuid.UUID) (Address, error) {
	if s == nil || s.pool == nil {
		return Address{}, ErrStoreUnavailable
	}
	var a Address
	err := s.pool.QueryRow(ctx, `SELECT id, receiver_name, phone, province, city, postal_code, address_line1, address_line2
FROM order_addresses WHERE id = $1`, addressID).Scan(
		&a.ID, &a.ReceiverName, &a.Phone, &a.Province, &a.City, &a.PostalCode, &a.AddressLine1, &a.AddressLine2)
	if errors.Is(err, pgx.ErrNoRows) {
		return Address{}, ErrNotFound
	}
	return a, err
}

// UpdateStatus sets the order status.
func (s *pgStore) UpdateStatus(ctx context.Context, orderID uuid.UUID, status Status) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	tag, err := s.pool.Exec(ctx, `UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`, orderID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func collectOrders(rows pgx.Rows, hint int) ([]Order, error) {
	orders := make([]Order, 0, hint)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}
