package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Service provides cached access to the analytics aggregates.
type Service struct {
	Store        Store
	R            *redis.Client
	TTL          time.Duration
	DefaultRange int
	Now          func() time.Time
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func cacheKey(parts ...any) string {
	formatted := make([]string, 0, len(parts))
	for _, part := range parts {
		formatted = append(formatted, fmt.Sprint(part))
	}
	return strings.Join(formatted, ":")
}

// Overview returns the dashboard summary between the bounds, from inclusive.
func (s *Service) Overview(ctx context.Context, from, to time.Time) (Overview, error) {
	if s == nil || s.Store == nil {
		return Overview{}, fmt.Errorf("analytics service not configured")
	}
	key := cacheKey("an", "overview", from.Format("2006-01-02"), to.Format("2006-01-02"))
	var cached Overview
	if s.fromCache(ctx, key, &cached) {
		return cached, nil
	}
	o, err := s.Store.Overview(ctx, from, to)
	if err != nil {
		return Overview{}, err
	}
	s.store(ctx, key, o)
	return o, nil
}

// SalesRange returns per-day revenue between the provided bounds.
func (s *Service) SalesRange(ctx context.Context, from, to time.Time) ([]DailySales, error) {
	if s == nil || s.Store == nil {
		return nil, fmt.Errorf("analytics service not configured")
	}
	key := cacheKey("an", "sales", from.Format("2006-01-02"), to.Format("2006-01-02"))
	var cached []DailySales
	if s.fromCache(ctx, key, &cached) {
		return cached, nil
	}
	rows, err := s.Store.SalesRange(ctx, from, to)
	if err != nil {
		return nil, err
	}
	s.store(ctx, key, rows)
	return rows, nil
}

// TopProducts returns products ordered by quantity sold within the range.
func (s *Service) TopProducts(ctx context.Context, from, to time.Time, limit, offset int32) ([]TopProduct, error) {
	if s == nil || s.Store == nil {
		return nil, fmt.Errorf("analytics service not configured")
	}
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}
	key := cacheKey("an", "top", from.Format("2006-01-02"), to.Format("2006-01-02"), limit, offset)
	var cached []TopProduct
	if s.fromCache(ctx, key, &cached) {
		return cached, nil
	}
	rows, err := s.Store.TopProducts(ctx, from, to, limit, offset)
	if err != nil {
		return nil, err
	}
	s.store(ctx, key, rows)
	return rows, nil
}

// ChannelPerformance returns revenue per sales channel within the range.
func (s *Service) ChannelPerformance(ctx context.Context, from, to time.Time) ([]ChannelPerformance, error) {
	if s == nil || s.Store == nil {
		return nil, fmt.Errorf("analytics service not configured")
	}
	key := cacheKey("an", "channels", from.Format("2006-01-02"), to.Format("2006-01-02"))
	var cached []ChannelPerformance
	if s.fromCache(ctx, key, &cached) {
		return cached, nil
	}
	rows, err := s.Store.ChannelPerformance(ctx, from, to)
	if err != nil {
		return nil, err
	}
	s.store(ctx, key, rows)
	return rows, nil
}

// TopCustomers returns lifetime spend leaders. Not cached: it is an
// occasional admin view and lifetime figures change with every order.
func (s *Service) TopCustomers(ctx context.Context, limit int32) ([]CustomerValue, error) {
	if s == nil || s.Store == nil {
		return nil, fmt.Errorf("analytics service not configured")
	}
	if limit <= 0 {
		limit = 20
	}
	return s.Store.TopCustomers(ctx, limit)
}

func (s *Service) fromCache(ctx context.Context, key string, dest any) bool {
	if s.R == nil || s.TTL <= 0 {
		return false
	}
	data, err := s.R.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dest) == nil
}

func (s *Service) store(ctx context.Context, key string, value any) {
	if s.R == nil || s.TTL <= 0 {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	_ = s.R.Set(ctx, key, data, s.TTL).Err()
}
