package loyalty_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/berasid/backend-beras/internal/loyalty"
)

type fakeStore struct {
	codes        map[string]loyalty.Code
	spend        map[uuid.UUID]int64
	redemptions  map[string]int64
	usedCounts   map[uuid.UUID]int32
	userRedeemed map[uuid.UUID]int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		codes:        map[string]loyalty.Code{},
		spend:        map[uuid.UUID]int64{},
		redemptions:  map[string]int64{},
		usedCounts:   map[uuid.UUID]int32{},
		userRedeemed: map[uuid.UUID]int64{},
	}
}

func (f *fakeStore) GetCode(ctx context.Context, code string) (loyalty.Code, error) {
	c, ok := f.codes[code]
	if !ok {
		return loyalty.Code{}, loyalty.ErrCodeNotFound
	}
	return c, nil
}

func (f *fakeStore) CreateCode(ctx context.Context, c loyalty.Code) (loyalty.Code, error) {
	c.ID = uuid.New()
	f.codes[c.Code] = c
	return c, nil
}

func (f *fakeStore) UpdateCode(ctx context.Context, c loyalty.Code) (loyalty.Code, error) {
	stored, ok := f.codes[c.Code]
	if !ok {
		return loyalty.Code{}, loyalty.ErrCodeNotFound
	}
	c.ID = stored.ID
	f.codes[c.Code] = c
	return c, nil
}

func (f *fakeStore) ListCodes(ctx context.Context, limit, offset int32) ([]loyalty.Code, error) {
	var out []loyalty.Code
	for _, c := range f.codes {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeStore) CountRedemptionsByUser(ctx context.Context, codeID, userID uuid.UUID) (int64, error) {
	return f.userRedeemed[userID], nil
}

func (f *fakeStore) RedemptionExists(ctx context.Context, codeID, orderID uuid.UUID) (bool, error) {
	_, ok := f.redemptions[codeID.String()+":"+orderID.String()]
	return ok, nil
}

func (f *fakeStore) InsertRedemption(ctx context.Context, codeID, orderID, userID uuid.UUID, amount int64) error {
	f.redemptions[codeID.String()+":"+orderID.String()] = amount
	f.userRedeemed[userID]++
	return nil
}

func (f *fakeStore) IncrementUsedCount(ctx context.Context, codeID uuid.UUID) error {
	f.usedCounts[codeID]++
	return nil
}

func (f *fakeStore) CustomerQualifyingSpend(ctx context.Context, userID uuid.UUID) (int64, error) {
	return f.spend[userID], nil
}

func TestResolveHappyPath(t *testing.T) {
	store := newFakeStore()
	code, err := store.CreateCode(context.Background(), loyalty.Code{Code: "SETIA5", PercentOff: 5, QualifyingSpend: 500_000})
	require.NoError(t, err)

	user := uuid.New()
	store.spend[user] = 750_000

	svc := &loyalty.Service{Store: store, DefaultPerUserLimit: 3}
	res, err := svc.Resolve(context.Background(), "setia5", &user)
	require.NoError(t, err)
	require.Equal(t, code.ID, res.CodeID)
	require.Equal(t, "SETIA5", res.Code)
	require.Equal(t, "5", res.Percent.String())
}

func TestResolveUnearnedCode(t *testing.T) {
	store := newFakeStore()
	_, err := store.CreateCode(context.Background(), loyalty.Code{Code: "SETIA5", PercentOff: 5, QualifyingSpend: 500_000})
	require.NoError(t, err)

	user := uuid.New()
	store.spend[user] = 100_000

	svc := &loyalty.Service{Store: store}
	_, err = svc.Resolve(context.Background(), "SETIA5", &user)
	require.ErrorIs(t, err, loyalty.ErrSpendThresholdUnmet)
}

func TestResolveUnknownCode(t *testing.T) {
	svc := &loyalty.Service{Store: newFakeStore()}
	user := uuid.New()
	_, err := svc.Resolve(context.Background(), "TIDAKADA", &user)
	require.ErrorIs(t, err, loyalty.ErrNotEligible)
}

func TestResolvePerUserLimit(t *testing.T) {
	store := newFakeStore()
	_, err := store.CreateCode(context.Background(), loyalty.Code{Code: "SETIA5", PercentOff: 5})
	require.NoError(t, err)

	user := uuid.New()
	store.userRedeemed[user] = 1

	svc := &loyalty.Service{Store: store, DefaultPerUserLimit: 1}
	_, err = svc.Resolve(context.Background(), "SETIA5", &user)
	require.ErrorIs(t, err, loyalty.ErrPerUserLimitReached)
}

func TestResolveExpired(t *testing.T) {
	store := newFakeStore()
	past := time.Now().Add(-time.Hour)
	_, err := store.CreateCode(context.Background(), loyalty.Code{Code: "LAMA", PercentOff: 5, ValidTo: &past})
	require.NoError(t, err)

	user := uuid.New()
	svc := &loyalty.Service{Store: store}
	_, err = svc.Resolve(context.Background(), "LAMA", &user)
	require.ErrorIs(t, err, loyalty.ErrCodeExpired)
}

func TestRedeemIdempotent(t *testing.T) {
	store := newFakeStore()
	code, err := store.CreateCode(context.Background(), loyalty.Code{Code: "SETIA5", PercentOff: 5})
	require.NoError(t, err)

	svc := &loyalty.Service{Store: store}
	order := uuid.New()
	user := uuid.New()
	require.NoError(t, svc.Redeem(context.Background(), code.ID, order, user, 4500))
	require.NoError(t, svc.Redeem(context.Background(), code.ID, order, user, 4500))
	require.EqualValues(t, 1, store.usedCounts[code.ID])
}

func TestRedeemNegativeAmountClamped(t *testing.T) {
	store := newFakeStore()
	code, err := store.CreateCode(context.Background(), loyalty.Code{Code: "SETIA5", PercentOff: 5})
	require.NoError(t, err)

	svc := &loyalty.Service{Store: store}
	require.NoError(t, svc.Redeem(context.Background(), code.ID, uuid.New(), uuid.New(), -100))
	for _, amount := range store.redemptions {
		require.GreaterOrEqual(t, amount, int64(0))
	}
}
