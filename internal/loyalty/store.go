package loyalty

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrStoreUnavailable indicates the loyalty store dependency is not configured.
var ErrStoreUnavailable = errors.New("loyalty: store unavailable")

// ErrCodeNotFound is returned when no code row matches.
var ErrCodeNotFound = errors.New("loyalty: code not found")

// Code is a persisted loyalty discount code. PercentOff is stored with two
// decimal places; money thresholds are whole rupiah.
type Code struct {
	ID              uuid.UUID  `json:"id"`
	Code            string     `json:"code"`
	PercentOff      float64    `json:"percentOff"`
	QualifyingSpend int64      `json:"qualifyingSpend"`
	ValidFrom       *time.Time `json:"validFrom,omitempty"`
	ValidTo         *time.Time `json:"validTo,omitempty"`
	UsageLimit      *int32     `json:"usageLimit,omitempty"`
	UsedCount       int32      `json:"usedCount"`
	PerUserLimit    *int32     `json:"perUserLimit,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// Store provides database accessors for loyalty codes and redemptions.
type Store interface {
	GetCode(ctx context.Context, code string) (Code, error)
	CreateCode(ctx context.Context, c Code) (Code, error)
	UpdateCode(ctx context.Context, c Code) (Code, error)
	ListCodes(ctx context.Context, limit, offset int32) ([]Code, error)
	CountRedemptionsByUser(ctx context.Context, codeID, userID uuid.UUID) (int64, error)
	RedemptionExists(ctx context.Context, codeID, orderID uuid.UUID) (bool, error)
	InsertRedemption(ctx context.Context, codeID, orderID, userID uuid.UUID, amount int64) error
	IncrementUsedCount(ctx context.Context, codeID uuid.UUID) error
	CustomerQualifyingSpend(ctx context.Context, userID uuid.UUID) (int64, error)
}

// NewStore constructs a Store backed by a pgx connection pool.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

type pgStore struct {
	pool *pgxpool.Pool
}

const codeColumns = `id, code, percent_off, qualifying_spend, valid_from, valid_to, usage_limit, used_count, per_user_limit, created_at`

func scanCode(row pgx.Row) (Code, error) {
	var c Code
	err := row.Scan(&c.ID, &c.Code, &c.PercentOff, &c.QualifyingSpend, &c.ValidFrom, &c.ValidTo,
		&c.UsageLimit, &c.UsedCount, &c.PerUserLimit, &c.CreatedAt)
	return c, err
}

// GetCode fetches a code row by its customer-facing code string.
func (s *pgStore) GetCode(ctx context.Context, code string) (Code, error) {
	if s == nil || s.pool == nil {
		return Code{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `SELECT `+codeColumns+` FROM loyalty_codes WHERE code = $1`, code)
	c, err := scanCode(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Code{}, ErrCodeNotFound
	}
	return c, err
}

// CreateCode persists a new code and returns the stored row.
func (s *pgStore) CreateCode(ctx context.Context, c Code) (Code, error) {
	if s == nil || s.pool == nil {
		return Code{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `INSERT INTO loyalty_codes
(code, percent_off, qualifying_spend, valid_from, valid_to, usage_limit, per_user_limit)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING `+codeColumns,
		c.Code, c.PercentOff, c.QualifyingSpend, c.ValidFrom, c.ValidTo, c.UsageLimit, c.PerUserLimit)
	return scanCode(row)
}

// UpdateCode mutates an existing code identified by its code string.
func (s *pgStore) UpdateCode(ctx context.Context, c Code) (Code, error) {
	if s == nil || s.pool == nil {
		return Code{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `UPDATE loyalty_codes SET
percent_off = $2, qualifying_spend = $3, valid_from = $4, valid_to = $5, usage_limit = $6, per_user_limit = $7
WHERE code = $1
RETURNING `+codeColumns,
		c.Code, c.PercentOff, c.QualifyingSpend, c.ValidFrom, c.ValidTo, c.UsageLimit, c.PerUserLimit)
	stored, err := scanCode(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Code{}, ErrCodeNotFound
	}
	return stored, err
}

// ListCodes fetches codes ordered by creation time.
func (s *pgStore) ListCodes(ctx context.Context, limit, offset int32) ([]Code, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT `+codeColumns+` FROM loyalty_codes ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	codes := make([]Code, 0, limit)
	for rows.Next() {
		c, err := scanCode(rows)
		if err != nil {
			return nil, err
		}
		codes = append(codes, c)
	}
	return codes, rows.Err()
}

// CountRedemptionsByUser counts how often a customer redeemed a code.
func (s *pgStore) CountRedemptionsByUser(ctx context.Context, codeID, userID uuid.UUID) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, ErrStoreUnavailable
	}
	var total int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM loyalty_redemptions WHERE code_id = $1 AND user_id = $2`, codeID, userID).Scan(&total)
	return total, err
}

// RedemptionExists reports whether the order already redeemed the code.
func (s *pgStore) RedemptionExists(ctx context.Context, codeID, orderID uuid.UUID) (bool, error) {
	if s == nil || s.pool == nil {
		return false, ErrStoreUnavailable
	}
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM loyalty_redemptions WHERE code_id = $1 AND order_id = $2)`, codeID, orderID).Scan(&exists)
	return exists, err
}

// InsertRedemption records a redemption tied to an order.
func (s *pgStore) InsertRedemption(ctx context.Context, codeID, orderID, userID uuid.UUID, amount int64) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO loyalty_redemptions (code_id, order_id, user_id, amount)
VALUES ($1, $2, $3, $4)`, codeID, orderID, userID, amount)
	return err
}

// IncrementUsedCount bumps the global usage counter.
func (s *pgStore) IncrementUsedCount(ctx context.Context, codeID uuid.UUID) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	_, err := s.pool.Exec(ctx, `UPDATE loyalty_codes SET used_count = used_count + 1 WHERE id = $1`, codeID)
	return err
}

// CustomerQualifyingSpend sums the customer's order totals, excluding returned
// orders. The same exclusion rule analytics applies everywhere.
func (s *pgStore) CustomerQualifyingSpend(ctx context.Context, userID uuid.UUID) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, ErrStoreUnavailable
	}
	var total int64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(SUM(total_after_discount), 0)
FROM orders WHERE user_id = $1 AND status <> 'returned'`, userID).Scan(&total)
	return total, err
}
