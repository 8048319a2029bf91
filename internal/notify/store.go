package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/berasid/backend-beras/internal/events"
)

// ErrStoreUnavailable indicates the webhook store dependency is not configured.
var ErrStoreUnavailable = errors.New("notify: store unavailable")

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("notify: not found")

// Delivery statuses.
const (
	StatusPending    = "pending"
	StatusDelivering = "delivering"
	StatusDelivered  = "delivered"
	StatusFailed     = "failed"
	StatusDLQ        = "dlq"
)

// Endpoint is a registered webhook receiver.
type Endpoint struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Secret    string    `json:"-"`
	Active    bool      `json:"active"`
	Topics    []string  `json:"topics"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Delivery is one scheduled attempt series for an event against an endpoint.
type Delivery struct {
	ID             uuid.UUID `json:"id"`
	EndpointID     uuid.UUID `json:"endpointId"`
	EventID        uuid.UUID `json:"eventId"`
	Status         string    `json:"status"`
	Attempt        int32     `json:"attempt"`
	MaxAttempt     int32     `json:"maxAttempt"`
	NextAttemptAt  time.Time `json:"nextAttemptAt"`
	LastError      *string   `json:"lastError,omitempty"`
	ResponseStatus *int32    `json:"responseStatus,omitempty"`
	ResponseBody   *string   `json:"responseBody,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// DLQEntry records a delivery that exhausted its attempts.
type DLQEntry struct {
	ID         uuid.UUID `json:"id"`
	DeliveryID uuid.UUID `json:"deliveryId"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"createdAt"`
}

// DeliveryFilter narrows delivery listings.
type DeliveryFilter struct {
	EndpointID uuid.UUID
	EventID    uuid.UUID
	Status     string
	Limit      int
	Offset     int
}

// Store defines the persistence operations required for webhook management.
type Store interface {
	CreateEndpoint(ctx context.Context, ep Endpoint) (Endpoint, error)
	UpdateEndpoint(ctx context.Context, ep Endpoint) (Endpoint, error)
	GetEndpoint(ctx context.Context, id uuid.UUID) (Endpoint, error)
	ListEndpoints(ctx context.Context, limit, offset int) ([]Endpoint, error)
	DeleteEndpoint(ctx context.Context, id uuid.UUID) error
	ListActiveEndpointsForTopic(ctx context.Context, topic string) ([]Endpoint, error)

	EnqueueDelivery(ctx context.Context, endpointID, eventID uuid.UUID, maxAttempt int32) (Delivery, error)
	DequeueDueDeliveries(ctx context.Context, limit int32) ([]Delivery, error)
	MarkDelivering(ctx context.Context, id uuid.UUID) error
	MarkDelivered(ctx context.Context, id uuid.UUID, responseStatus int32, responseBody string) error
	MarkFailedWithBackoff(ctx context.Context, id uuid.UUID, delaySec int32, lastError string) error
	MoveToDLQ(ctx context.Context, id uuid.UUID, reason string) error
	InsertDLQ(ctx context.Context, deliveryID uuid.UUID, reason string) (DLQEntry, error)
	DeleteDLQByDelivery(ctx context.Context, deliveryID uuid.UUID) error
	GetDelivery(ctx context.Context, id uuid.UUID) (Delivery, error)
	ResetDeliveryForReplay(ctx context.Context, id uuid.UUID) (Delivery, error)
	ListDeliveries(ctx context.Context, f DeliveryFilter) ([]Delivery, error)
	CountDeliveries(ctx context.Context, f DeliveryFilter) (int64, error)

	GetEvent(ctx context.Context, id uuid.UUID) (events.DomainEvent, error)
}

// NewStore constructs a Store backed by a pgx connection pool.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

type pgStore struct {
	pool *pgxpool.Pool
}

const endpointColumns = `id, name, url, secret, active, topics, created_at, updated_at`

const deliveryColumns = `id, endpoint_id, event_id, status, attempt, max_attempt,
next_attempt_at, last_error, response_status, response_body, created_at, updated_at`

func (s *pgStore) CreateEndpoint(ctx context.Context, ep Endpoint) (Endpoint, error) {
	if s == nil || s.pool == nil {
		return Endpoint{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `INSERT INTO webhook_endpoints (name, url, secret, active, topics)
VALUES ($1, $2, $3, $4, $5)
RETURNING `+endpointColumns, ep.Name, ep.URL, ep.Secret, ep.Active, ep.Topics)
	return scanEndpoint(row)
}

func (s *pgStore) UpdateEndpoint(ctx context.Context, ep Endpoint) (Endpoint, error) {
	if s == nil || s.pool == nil {
		return Endpoint{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `UPDATE webhook_endpoints
SET name = $2, url = $3, secret = $4, active = $5, topics = $6, updated_at = now()
WHERE id = $1
RETURNING `+endpointColumns, ep.ID, ep.Name, ep.URL, ep.Secret, ep.Active, ep.Topics)
	out, err := scanEndpoint(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Endpoint{}, ErrNotFound
	}
	return out, err
}

func (s *pgStore) GetEndpoint(ctx context.Context, id uuid.UUID) (Endpoint, error) {
	if s == nil || s.pool == nil {
		return Endpoint{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `SELECT `+endpointColumns+` FROM webhook_endpoints WHERE id = $1`, id)
	out, err := scanEndpoint(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Endpoint{}, ErrNotFound
	}
	return out, err
}

func (s *pgStore) ListEndpoints(ctx context.Context, limit, offset int) ([]Endpoint, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT `+endpointColumns+` FROM webhook_endpoints
ORDER BY created_at DESC
LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectEndpoints(rows)
}

func (s *pgStore) DeleteEndpoint(ctx context.Context, id uuid.UUID) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM webhook_endpoints WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgStore) ListActiveEndpointsForTopic(ctx context.Context, topic string) ([]Endpoint, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `SELECT `+endpointColumns+` FROM webhook_endpoints
WHERE active AND $1 = ANY(topics)
ORDER BY created_at`, topic)
	if err != nil {
		return nil, err
	}
	return collectEndpoints(rows)
}

func (s *pgStore) EnqueueDelivery(ctx context.Context, endpointID, eventID uuid.UUID, maxAttempt int32) (Delivery, error) {
	if s == nil || s.pool == nil {
		return Delivery{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `INSERT INTO webhook_deliveries (endpoint_id, event_id, status, max_attempt, next_attempt_at)
VALUES ($1, $2, 'pending', $3, now())
RETURNING `+deliveryColumns, endpointID, eventID, maxAttempt)
	return scanDelivery(row)
}

// DequeueDueDeliveries claims due rows in one statement. SKIP LOCKED in the
// inner select keeps concurrent workers from picking the same delivery.
func (s *pgStore) DequeueDueDeliveries(ctx context.Context, limit int32) ([]Delivery, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.pool.Query(ctx, `UPDATE webhook_deliveries
SET status = 'delivering', attempt = attempt + 1, updated_at = now()
WHERE id IN (
	SELECT id FROM webhook_deliveries
	WHERE status IN ('pending', 'failed') AND next_attempt_at <= now()
	ORDER BY next_attempt_at
	LIMIT $1
	FOR UPDATE SKIP LOCKED
)
RETURNING `+deliveryColumns, limit)
	if err != nil {
		return nil, err
	}
	return collectDeliveries(rows)
}

func (s *pgStore) MarkDelivering(ctx context.Context, id uuid.UUID) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	_, err := s.pool.Exec(ctx, `UPDATE webhook_deliveries
SET status = 'delivering', attempt = attempt + 1, updated_at = now()
WHERE id = $1`, id)
	return err
}

func (s *pgStore) MarkDelivered(ctx context.Context, id uuid.UUID, responseStatus int32, responseBody string) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	var status any
	if responseStatus > 0 {
		status = responseStatus
	}
	var body any
	if responseBody != "" {
		body = responseBody
	}
	_, err := s.pool.Exec(ctx, `UPDATE webhook_deliveries
SET status = 'delivered', response_status = $2, response_body = $3, last_error = NULL, updated_at = now()
WHERE id = $1`, id, status, body)
	return err
}

func (s *pgStore) MarkFailedWithBackoff(ctx context.Context, id uuid.UUID, delaySec int32, lastError string) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	_, err := s.pool.Exec(ctx, `UPDATE webhook_deliveries
SET status = 'failed', last_error = $2, next_attempt_at = now() + make_interval(secs => $3), updated_at = now()
WHERE id = $1`, id, lastError, delaySec)
	return err
}

func (s *pgStore) MoveToDLQ(ctx context.Context, id uuid.UUID, reason string) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	_, err := s.pool.Exec(ctx, `UPDATE webhook_deliveries
SET status = 'dlq', last_error = $2, updated_at = now()
WHERE id = $1`, id, reason)
	return err
}

func (s *pgStore) InsertDLQ(ctx context.Context, deliveryID uuid.UUID, reason string) (DLQEntry, error) {
	if s == nil || s.pool == nil {
		return DLQEntry{}, ErrStoreUnavailable
	}
	var entry DLQEntry
	err := s.pool.QueryRow(ctx, `INSERT INTO webhook_dlq (delivery_id, reason)
VALUES ($1, $2)
RETURNING id, delivery_id, reason, created_at`, deliveryID, reason).
		Scan(&entry.ID, &entry.DeliveryID, &entry.Reason, &entry.CreatedAt)
	return entry, err
}

func (s *pgStore) DeleteDLQByDelivery(ctx context.Context, deliveryID uuid.UUID) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM webhook_dlq WHERE delivery_id = $1`, deliveryID)
	return err
}

func (s *pgStore) GetDelivery(ctx context.Context, id uuid.UUID) (Delivery, error) {
	if s == nil || s.pool == nil {
		return Delivery{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM webhook_deliveries WHERE id = $1`, id)
	out, err := scanDelivery(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Delivery{}, ErrNotFound
	}
	return out, err
}

func (s *pgStore) ResetDeliveryForReplay(ctx context.Context, id uuid.UUID) (Delivery, error) {
	if s == nil || s.pool == nil {
		return Delivery{}, ErrStoreUnavailable
	}
	row := s.pool.QueryRow(ctx, `UPDATE webhook_deliveries
SET status = 'pending', attempt = 0, last_error = NULL, next_attempt_at = now(), updated_at = now()
WHERE id = $1
RETURNING `+deliveryColumns, id)
	out, err := scanDelivery(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Delivery{}, ErrNotFound
	}
	return out, err
}

func (s *pgStore) ListDeliveries(ctx context.Context, f DeliveryFilter) ([]Delivery, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	conds, args := deliveryConds(f)
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, f.Offset)
	query := fmt.Sprintf(`SELECT `+deliveryColumns+` FROM webhook_deliveries
%s
ORDER BY created_at DESC
LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectDeliveries(rows)
}

func (s *pgStore) CountDeliveries(ctx context.Context, f DeliveryFilter) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, ErrStoreUnavailable
	}
	conds, args := deliveryConds(f)
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	var total int64
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM webhook_deliveries `+where, args...).Scan(&total)
	return total, err
}

func (s *pgStore) GetEvent(ctx context.Context, id uuid.UUID) (events.DomainEvent, error) {
	if s == nil || s.pool == nil {
		return events.DomainEvent{}, ErrStoreUnavailable
	}
	var ev events.DomainEvent
	err := s.pool.QueryRow(ctx, `SELECT id, topic, aggregate_id, payload, occurred_at
FROM domain_events WHERE id = $1`, id).
		Scan(&ev.ID, &ev.Topic, &ev.AggregateID, &ev.Payload, &ev.OccurredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return events.DomainEvent{}, ErrNotFound
	}
	return ev, err
}

func deliveryConds(f DeliveryFilter) (conds []string, args []any) {
	if f.EndpointID != uuid.Nil {
		args = append(args, f.EndpointID)
		conds = append(conds, fmt.Sprintf("endpoint_id = $%d", len(args)))
	}
	if f.EventID != uuid.Nil {
		args = append(args, f.EventID)
		conds = append(conds, fmt.Sprintf("event_id = $%d", len(args)))
	}
	if strings.TrimSpace(f.Status) != "" {
		args = append(args, f.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	return conds, args
}

func scanEndpoint(row pgx.Row) (Endpoint, error) {
	var ep Endpoint
	err := row.Scan(&ep.ID, &ep.Name, &ep.URL, &ep.Secret, &ep.Active, &ep.Topics, &ep.CreatedAt, &ep.UpdatedAt)
	return ep, err
}

func collectEndpoints(rows pgx.Rows) ([]Endpoint, error) {
	defer rows.Close()
	out := make([]Endpoint, 0)
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

func scanDelivery(row pgx.Row) (Delivery, error) {
	var d Delivery
	err := row.Scan(&d.ID, &d.EndpointID, &d.EventID, &d.Status, &d.Attempt, &d.MaxAttempt,
		&d.NextAttemptAt, &d.LastError, &d.ResponseStatus, &d.ResponseBody, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

func collectDeliveries(rows pgx.Rows) ([]Delivery, error) {
	defer rows.Close()
	out := make([]Delivery, 0)
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
