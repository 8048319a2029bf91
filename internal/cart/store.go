package cart

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrStoreUnavailable indicates the cart store dependency is not configured.
var ErrStoreUnavailable = errors.New("cart: store unavailable")

// ErrNotFound indicates the requested cart could not be located.
var ErrNotFound = errors.New("cart: not found")

// Cart is a persisted shopping cart. Either UserID or AnonID identifies the
// owner; anonymous carts expire and are swept by the worker.
type Cart struct {
	ID        uuid.UUID  `json:"id"`
	UserID    *uuid.UUID `json:"userId,omitempty"`
	AnonID    *string    `json:"anonId,omitempty"`
	ExpiresAt time.Time  `json:"expiresAt"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Item is a cart line keyed by product; quantity is kilograms.
type Item struct {
	ID        uuid.UUID `json:"id"`
	CartID    uuid.UUID `json:"cartId"`
	ProductID uuid.UUID `json:"productId"`
	QtyKg     float64   `json:"qtyKg"`
}

// Store provides database accessors for carts.
type Store interface {
	GetCart(ctx context.Context, cartID uuid.UUID) (Cart, error)
	GetActiveCartByUser(ctx context.Context, userID uuid.UUID, now time.Time) (Cart, error)
	GetActiveCartByAnon(ctx context.Context, anonID string, now time.Time) (Cart, error)
	CreateCart(ctx context.Context, userID *uuid.UUID, anonID *string, expiresAt time.Time) (Cart, error)
	TouchCart(ctx context.Context, cartID uuid.UUID, expiresAt time.Time) error
	ListItems(ctx context.Context, cartID uuid.UUID) ([]Item, error)
	UpsertItem(ctx context.Context, cartID, productID uuid.UUID, qtyKg float64) error
	SetItemQty(ctx context.Context, cartID, productID uuid.UUID, qtyKg float64) error
	RemoveItem(ctx context.Context, cartID, productID uuid.UUID) error
	ClearItems(ctx context.Context, cartID uuid.UUID) error
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// NewStore constructs a Store backed by a pgx connection pool.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

type pgStore struct {
	pool *pgxpool.Pool
}

const cartColumns = `id, user_id, anon_id, expires_at, created_at, updated_at`

func scanCart(row pgx.Row) (Cart, error) {
	var c Cart
	err := row.Scan(&c.ID, &c.UserID, &c.AnonID, &c.ExpiresAt, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Cart{}, ErrNotFound
	}
	return c, err
}

func (s *pgStore) GetCart(ctx context.Context, cartID uuid.UUID) (Cart, error) {
	if s == nil || s.pool == nil {
		return Cart{}, ErrStoreUnavailable
	}
	return scanCart(s.pool.QueryRow(ctx, `SELECT `+cartColumns+` FROM carts WHERE id = $1`, cartID))
}

func (s *pgStore) GetActiveCartByUser(ctx context.Context, userID uuid.UUID, now time.Time) (Cart, error) {
	if s == nil || s.pool == nil {
		return Cart{}, ErrStoreUnavailable
	}
	return scanCart(s.pool.QueryRow(ctx, `SELECT `+cartColumns+` FROM carts
WHERE user_id = $1 AND expires_at > $2 ORDER BY created_at DESC LIMIT 1`, userID, now))
}

func (s *pgStore) GetActiveCartByAnon(ctx context.Context, anonID string, now time.Time) (Cart, error) {
	if s == nil || s.pool == nil {
		return Cart{}, ErrStoreUnavailable
	}
	return scanCart(s.pool.QueryRow(ctx, `SELECT `+cartColumns+` FROM carts
WHERE anon_id = $1 AND expires_at > $2 ORDER BY created_at DESC LIMIT 1`, anonID, now))
}

func (s *pgStore) CreateCart(ctx context.Context, userID *uuid.UUID, anonID *string, expiresAt time.Time) (Cart, error) {
	if s == nil || s.pool == nil {
		return Cart{}, ErrStoreUnavailable
	}
	return scanCart(s.pool.QueryRow(ctx, `INSERT INTO carts (user_id, anon_id, expires_at)
VALUES ($1, $2, $3) RETURNING `+cartColumns, userID, anonID, expiresAt))
}

func (s *pgStore) TouchCart(ctx context.Context, cartID uuid.UUID, expiresAt time.Time) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	_, err := s.pool.Exec(ctx, `UPDATE carts SET expires_at = $2, updated_at = now() WHERE id = $1`, cartID, expiresAt)
	return err
}

func (s *pgStore) ListItems(ctx context.Context, cartID uuid.UUID) ([]Item, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT id, cart_id, product_id, qty_kg
FROM cart_items WHERE cart_id = $1 ORDER BY created_at`, cartID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.CartID, &it.ProductID, &it.QtyKg); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *pgStore) UpsertItem(ctx context.Context, cartID, productID uuid.UUID, qtyKg float64) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO cart_items (cart_id, product_id, qty_kg)
VALUES ($1, $2, $3)
ON CONFLICT (cart_id, product_id) DO UPDATE SET qty_kg = cart_items.qty_kg + EXCLUDED.qty_kg`,
		cartID, productID, qtyKg)
	return err
}

func (s *pgStore) SetItemQty(ctx context.Context, cartID, productID uuid.UUID, qtyKg float64) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	tag, err := s.pool.Exec(ctx, `UPDATE cart_items SET qty_kg = $3 WHERE cart_id = $1 AND product_id = $2`,
		cartID, productID, qtyKg)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgStore) RemoveItem(ctx context.Context, cartID, productID uuid.UUID) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1 AND product_id = $2`, cartID, productID)
	return err
}

func (s *pgStore) ClearItems(ctx context.Context, cartID uuid.UUID) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID)
	return err
}

func (s *pgStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, ErrStoreUnavailable
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM carts WHERE expires_at <= $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
