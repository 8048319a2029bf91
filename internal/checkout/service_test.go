package checkout

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/berasid/backend-beras/internal/catalog"
	"github.com/berasid/backend-beras/internal/common"
	"github.com/berasid/backend-beras/internal/loyalty"
	"github.com/berasid/backend-beras/internal/order"
)

type fakeCatalog struct {
	products map[uuid.UUID]catalog.Product
}

func (f *fakeCatalog) ListProducts(ctx context.Context, filter catalog.ListFilter) ([]catalog.Product, error) {
	return nil, nil
}
func (f *fakeCatalog) CountProducts(ctx context.Context, filter catalog.ListFilter) (int64, error) {
	return 0, nil
}
func (f *fakeCatalog) GetProductBySlug(ctx context.Context, slug string) (catalog.Product, error) {
	return catalog.Product{}, catalog.ErrProductNotFound
}
func (f *fakeCatalog) GetProductByID(ctx context.Context, id uuid.UUID) (catalog.Product, error) {
	p, ok := f.products[id]
	if !ok {
		return catalog.Product{}, catalog.ErrProductNotFound
	}
	return p, nil
}
func (f *fakeCatalog) GetProductsByIDs(ctx context.Context, ids []uuid.UUID) ([]catalog.Product, error) {
	var out []catalog.Product
	for _, id := range ids {
		if p, ok := f.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeOrders struct {
	items        map[uuid.UUID]order.Item
	orders       map[uuid.UUID]order.Order
	addresses    map[uuid.UUID]order.Address
	attached     map[uuid.UUID][]uuid.UUID
	failOrder    bool
	failAttach   bool
	deletedItems []uuid.UUID
	deletedOrder []uuid.UUID
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{
		items:     map[uuid.UUID]order.Item{},
		orders:    map[uuid.UUID]order.Order{},
		addresses: map[uuid.UUID]order.Address{},
		attached:  map[uuid.UUID][]uuid.UUID{},
	}
}

func (f *fakeOrders) CreateItem(ctx context.Context, item order.Item) (uuid.UUID, error) {
	id := uuid.New()
	item.ID = id
	f.items[id] = item
	return id, nil
}
func (f *fakeOrders) AttachItems(ctx context.Context, orderID uuid.UUID, itemIDs []uuid.UUID) error {
	if f.failAttach {
		return errors.New("attach failed")
	}
	f.attached[orderID] = itemIDs
	return nil
}
func (f *fakeOrders) CreateOrder(ctx context.Context, o order.Order) (order.Order, error) {
	if f.failOrder {
		return order.Order{}, errors.New("create order failed")
	}
	o.ID = uuid.New()
	f.orders[o.ID] = o
	return o, nil
}
func (f *fakeOrders) CreateAddress(ctx context.Context, a order.Address) (uuid.UUID, error) {
	id := uuid.New()
	a.ID = id
	f.addresses[id] = a
	return id, nil
}
func (f *fakeOrders) SetOrderAddress(ctx context.Context, orderID, addressID uuid.UUID) error {
	o := f.orders[orderID]
	o.AddressID = &addressID
	f.orders[orderID] = o
	return nil
}
func (f *fakeOrders) DeleteItems(ctx context.Context, itemIDs []uuid.UUID) error {
	f.deletedItems = append(f.deletedItems, itemIDs...)
	for _, id := range itemIDs {
		delete(f.items, id)
	}
	return nil
}
func (f *fakeOrders) DeleteOrder(ctx context.Context, orderID uuid.UUID) error {
	f.deletedOrder = append(f.deletedOrder, orderID)
	delete(f.orders, orderID)
	return nil
}
func (f *fakeOrders) GetOrder(ctx context.Context, orderID uuid.UUID) (order.Order, error) {
	return order.Order{}, order.ErrNotFound
}
func (f *fakeOrders) GetOrderForUser(ctx context.Context, orderID, userID uuid.UUID) (order.Order, error) {
	return order.Order{}, order.ErrNotFound
}
func (f *fakeOrders) ListOrdersForUser(ctx context.Context, userID uuid.UUID, limit, offset int32) ([]order.Order, error) {
	return nil, nil
}
func (f *fakeOrders) CountOrdersForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	return 0, nil
}
func (f *fakeOrders) ListOrders(ctx context.Context, filter order.ListFilter) ([]order.Order, error) {
	return nil, nil
}
func (f *fakeOrders) ListItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]order.Item, error) {
	return nil, nil
}
func (f *fakeOrders) GetAddress(ctx context.Context, addressID uuid.UUID) (order.Address, error) {
	return order.Address{}, order.ErrNotFound
}
func (f *fakeOrders) UpdateStatus(ctx context.Context, orderID uuid.UUID, status order.Status) error {
	return nil
}

func pandanWangi() catalog.Product {
	return catalog.Product{
		ID:         uuid.New(),
		Name:       "Beras Pandan Wangi",
		Slug:       "beras-pandan-wangi",
		Available:  true,
		StockKg:    500,
		BasePerKg:  18000,
		HasTiers:   true,
		Tier2to4Kg: 17500,
		Tier5to9Kg: 17000,
		Tier10UpKg: 16000,
	}
}

func newService(products ...catalog.Product) (*Service, *fakeOrders) {
	cat := &fakeCatalog{products: map[uuid.UUID]catalog.Product{}}
	for _, p := range products {
		cat.products[p.ID] = p
	}
	orders := newFakeOrders()
	return &Service{
		Catalog: cat,
		Orders:  orders,
		Logger:  zerolog.Nop(),
	}, orders
}

func checkoutInput(lines ...LineInput) Input {
	return Input{
		Lines: lines,
		Address: AddressInput{
			ReceiverName: "Dewi",
			Phone:        "0812000111",
			Province:     "Jawa Barat",
			City:         "Bandung",
			PostalCode:   "40111",
			AddressLine1: "Jl. Cihampelas 100",
		},
	}
}

func TestCheckoutAppliesTierLadder(t *testing.T) {
	product := pandanWangi()
	svc, orders := newService(product)

	out, err := svc.Create(context.Background(), uuid.New(),
		checkoutInput(LineInput{ProductID: product.ID.String(), QtyKg: 10}))
	require.NoError(t, err)

	require.Len(t, out.Lines, 1)
	require.Equal(t, int64(16000), out.Lines[0].PricePerKg)
	require.Equal(t, "10kg+", string(out.Lines[0].TierApplied))
	require.Equal(t, int64(160000), out.SubtotalBeforeDiscount)
	require.Equal(t, int64(0), out.DiscountAmount)
	require.Equal(t, int64(160000), out.TotalAfterDiscount)
	require.Equal(t, order.StatusPending, out.Status)
	require.Equal(t, "IDR", out.Currency)
	require.Equal(t, "online", out.SalesChannel)

	stored := orders.orders[out.OrderID]
	require.Equal(t, int64(160000), stored.TotalAfterDiscount)
	require.NotNil(t, stored.AddressID)
	require.Len(t, orders.attached[out.OrderID], 1)
}

func TestCheckoutFallsThroughWhenTopTierAbsent(t *testing.T) {
	product := pandanWangi()
	product.Tier10UpKg = 0
	svc, _ := newService(product)

	out, err := svc.Create(context.Background(), uuid.New(),
		checkoutInput(LineInput{ProductID: product.ID.String(), QtyKg: 12}))
	require.NoError(t, err)
	require.Equal(t, int64(17000), out.Lines[0].PricePerKg)
	require.Equal(t, "5-9kg", string(out.Lines[0].TierApplied))
	require.Equal(t, int64(204000), out.TotalAfterDiscount)
}

func TestCheckoutRoundsHalfUpAtPersistence(t *testing.T) {
	product := pandanWangi()
	svc, _ := newService(product)

	// 0.33333 kg * 18000 = 5999.94, which rounds to 6000.
	out, err := svc.Create(context.Background(), uuid.New(),
		checkoutInput(LineInput{ProductID: product.ID.String(), QtyKg: 0.33333}))
	require.NoError(t, err)
	require.Equal(t, int64(6000), out.SubtotalBeforeDiscount)
	require.Equal(t, int64(6000), out.TotalAfterDiscount)
}

func TestCheckoutRejectsBadQuantities(t *testing.T) {
	product := pandanWangi()
	svc, orders := newService(product)

	for _, qty := range []float64{0, -3, 1000.5, math.NaN(), math.Inf(1)} {
		_, err := svc.Create(context.Background(), uuid.New(),
			checkoutInput(LineInput{ProductID: product.ID.String(), QtyKg: qty}))
		var appErr *common.AppError
		require.ErrorAs(t, err, &appErr, "qty %v", qty)
		require.Equal(t, "INVALID_QUANTITY", appErr.Code, "qty %v", qty)
	}
	require.Empty(t, orders.orders)
	require.Empty(t, orders.items)
}

func TestCheckoutRejectsUnavailableProduct(t *testing.T) {
	product := pandanWangi()
	product.Available = false
	svc, _ := newService(product)

	_, err := svc.Create(context.Background(), uuid.New(),
		checkoutInput(LineInput{ProductID: product.ID.String(), QtyKg: 5}))
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "UNAVAILABLE_PRODUCT", appErr.Code)
}

func TestCheckoutRejectsUnknownProduct(t *testing.T) {
	svc, _ := newService()

	_, err := svc.Create(context.Background(), uuid.New(),
		checkoutInput(LineInput{ProductID: uuid.NewString(), QtyKg: 5}))
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "UNAVAILABLE_PRODUCT", appErr.Code)
}

func TestCheckoutRejectsZeroPriceProduct(t *testing.T) {
	product := pandanWangi()
	product.BasePerKg = 0
	product.HasTiers = false
	svc, _ := newService(product)

	_, err := svc.Create(context.Background(), uuid.New(),
		checkoutInput(LineInput{ProductID: product.ID.String(), QtyKg: 5}))
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "ZERO_PRICE_PRODUCT", appErr.Code)
}

func TestCheckoutCompensatesWhenOrderInsertFails(t *testing.T) {
	product := pandanWangi()
	svc, orders := newService(product)
	orders.failOrder = true

	_, err := svc.Create(context.Background(), uuid.New(),
		checkoutInput(LineInput{ProductID: product.ID.String(), QtyKg: 5}))
	require.Error(t, err)
	require.Len(t, orders.deletedItems, 1)
	require.Empty(t, orders.items)
}

func TestCheckoutCompensatesWhenAttachFails(t *testing.T) {
	product := pandanWangi()
	svc, orders := newService(product)
	orders.failAttach = true

	_, err := svc.Create(context.Background(), uuid.New(),
		checkoutInput(LineInput{ProductID: product.ID.String(), QtyKg: 5}))
	require.Error(t, err)
	require.Len(t, orders.deletedOrder, 1)
	require.Empty(t, orders.orders)
	require.Empty(t, orders.items)
}

func TestCheckoutMultiLineSumsRoundedLines(t *testing.T) {
	premium := pandanWangi()
	rojolele := catalog.Product{
		ID:        uuid.New(),
		Name:      "Beras Rojolele",
		Slug:      "beras-rojolele",
		Available: true,
		StockKg:   200,
		BasePerKg: 14000,
	}
	svc, _ := newService(premium, rojolele)

	out, err := svc.Create(context.Background(), uuid.New(), checkoutInput(
		LineInput{ProductID: premium.ID.String(), QtyKg: 3},
		LineInput{ProductID: rojolele.ID.String(), QtyKg: 15},
	))
	require.NoError(t, err)
	require.Len(t, out.Lines, 2)
	// 3 kg premium at the 2-4kg tier, 15 kg rojolele at base (no ladder).
	require.Equal(t, int64(17500*3), out.Lines[0].SubtotalBeforeDiscount)
	require.Equal(t, int64(14000*15), out.Lines[1].SubtotalBeforeDiscount)
	require.Equal(t, "base", string(out.Lines[1].TierApplied))
	require.Equal(t, int64(17500*3+14000*15), out.TotalAfterDiscount)
}

type fakeLoyaltyStore struct {
	code        loyalty.Code
	spend       int64
	redemptions []int64
}

func (f *fakeLoyaltyStore) GetCode(ctx context.Context, code string) (loyalty.Code, error) {
	if code != f.code.Code {
		return loyalty.Code{}, loyalty.ErrCodeNotFound
	}
	return f.code, nil
}
func (f *fakeLoyaltyStore) CreateCode(ctx context.Context, c loyalty.Code) (loyalty.Code, error) {
	return c, nil
}
func (f *fakeLoyaltyStore) UpdateCode(ctx context.Context, c loyalty.Code) (loyalty.Code, error) {
	return c, nil
}
func (f *fakeLoyaltyStore) ListCodes(ctx context.Context, limit, offset int32) ([]loyalty.Code, error) {
	return nil, nil
}
func (f *fakeLoyaltyStore) CountRedemptionsByUser(ctx context.Context, codeID, userID uuid.UUID) (int64, error) {
	return 0, nil
}
func (f *fakeLoyaltyStore) RedemptionExists(ctx context.Context, codeID, orderID uuid.UUID) (bool, error) {
	return false, nil
}
func (f *fakeLoyaltyStore) InsertRedemption(ctx context.Context, codeID, orderID, userID uuid.UUID, amount int64) error {
	f.redemptions = append(f.redemptions, amount)
	return nil
}
func (f *fakeLoyaltyStore) IncrementUsedCount(ctx context.Context, codeID uuid.UUID) error {
	return nil
}
func (f *fakeLoyaltyStore) CustomerQualifyingSpend(ctx context.Context, userID uuid.UUID) (int64, error) {
	return f.spend, nil
}

func TestCheckoutStacksLoyaltyOnTierPrice(t *testing.T) {
	product := pandanWangi()
	svc, orders := newService(product)
	ls := &fakeLoyaltyStore{
		code:  loyalty.Code{ID: uuid.New(), Code: "SETIA5", PercentOff: 5},
		spend: 1_000_000,
	}
	svc.Loyalty = &loyalty.Service{Store: ls}

	code := "SETIA5"
	in := checkoutInput(LineInput{ProductID: product.ID.String(), QtyKg: 10})
	in.LoyaltyCode = &code

	out, err := svc.Create(context.Background(), uuid.New(), in)
	require.NoError(t, err)

	// Tier price first (10 kg at 16000), then 5% loyalty on top.
	require.Equal(t, int64(160000), out.SubtotalBeforeDiscount)
	require.Equal(t, int64(8000), out.DiscountAmount)
	require.Equal(t, int64(152000), out.TotalAfterDiscount)
	require.NotNil(t, out.LoyaltyCode)
	require.Equal(t, "SETIA5", *out.LoyaltyCode)

	stored := orders.orders[out.OrderID]
	require.NotNil(t, stored.LoyaltyCode)
	require.Equal(t, []int64{8000}, ls.redemptions)
}

func TestCheckoutRejectsCodeBelowSpendThreshold(t *testing.T) {
	product := pandanWangi()
	svc, _ := newService(product)
	ls := &fakeLoyaltyStore{
		code: loyalty.Code{
			ID: uuid.New(), Code: "SETIA10", PercentOff: 10,
			QualifyingSpend: 5_000_000,
		},
		spend: 100_000,
	}
	svc.Loyalty = &loyalty.Service{Store: ls}

	code := "SETIA10"
	in := checkoutInput(LineInput{ProductID: product.ID.String(), QtyKg: 10})
	in.LoyaltyCode = &code

	_, err := svc.Create(context.Background(), uuid.New(), in)
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "LOYALTY_REJECTED", appErr.Code)
}
