package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/berasid/backend-beras/internal/catalog"
)

type stubCatalog struct {
	products map[uuid.UUID]catalog.Product
}

func (s *stubCatalog) ListProducts(ctx context.Context, f catalog.ListFilter) ([]catalog.Product, error) {
	var out []catalog.Product
	for _, p := range s.products {
		out = append(out, p)
	}
	return out, nil
}
func (s *stubCatalog) CountProducts(ctx context.Context, f catalog.ListFilter) (int64, error) {
	return int64(len(s.products)), nil
}
func (s *stubCatalog) GetProductBySlug(ctx context.Context, slug string) (catalog.Product, error) {
	for _, p := range s.products {
		if p.Slug == slug {
			return p, nil
		}
	}
	return catalog.Product{}, catalog.ErrProductNotFound
}
func (s *stubCatalog) GetProductByID(ctx context.Context, id uuid.UUID) (catalog.Product, error) {
	p, ok := s.products[id]
	if !ok {
		return catalog.Product{}, catalog.ErrProductNotFound
	}
	return p, nil
}
func (s *stubCatalog) GetProductsByIDs(ctx context.Context, ids []uuid.UUID) ([]catalog.Product, error) {
	var out []catalog.Product
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func testProduct() catalog.Product {
	return catalog.Product{
		ID:         uuid.New(),
		Name:       "Beras Pandan Wangi",
		Slug:       "beras-pandan-wangi",
		Available:  true,
		StockKg:    120,
		BasePerKg:  18000,
		HasTiers:   true,
		Tier2to4Kg: 17500,
		Tier5to9Kg: 17000,
		Tier10UpKg: 16000,
	}
}

func newTools(products ...catalog.Product) *Tools {
	cat := &stubCatalog{products: map[uuid.UUID]catalog.Product{}}
	for _, p := range products {
		cat.products[p.ID] = p
	}
	return &Tools{Catalog: cat}
}

func TestCalculateOrderPriceMatchesLadder(t *testing.T) {
	product := testProduct()
	tools := newTools(product)

	args, _ := json.Marshal(map[string]any{"productId": product.ID.String(), "qtyKg": 10})
	resp, err := tools.Dispatch(context.Background(), ToolRequest{Tool: "calculate_order_price", Args: args})
	require.NoError(t, err)
	require.Empty(t, resp.Error)

	result, ok := resp.Data.(PriceBreakdown)
	require.True(t, ok)
	require.Equal(t, int64(16000), result.PricePerKg)
	require.Equal(t, "10kg+", string(result.TierApplied))
	require.Equal(t, int64(160000), result.Subtotal)
	require.Equal(t, int64(20000), result.TierSavings)
	require.Equal(t, int64(160000), result.Total)
	require.Contains(t, resp.Content, "Rp160000")
}

func TestCalculateOrderPriceWithLoyalty(t *testing.T) {
	product := testProduct()
	tools := newTools(product)

	args, _ := json.Marshal(map[string]any{"slug": product.Slug, "qtyKg": 10, "loyaltyPercent": 5})
	resp, err := tools.Dispatch(context.Background(), ToolRequest{Tool: "calculate_order_price", Args: args})
	require.NoError(t, err)

	result := resp.Data.(PriceBreakdown)
	require.Equal(t, int64(8000), result.Discount)
	require.Equal(t, int64(152000), result.Total)
}

func TestCalculateOrderPriceGuards(t *testing.T) {
	unavailable := testProduct()
	unavailable.Slug = "beras-basmati-impor"
	unavailable.Available = false

	free := testProduct()
	free.ID = uuid.New()
	free.Slug = "beras-demo"
	free.BasePerKg = 0
	free.HasTiers = false

	priced := testProduct()
	priced.ID = uuid.New()
	tools := newTools(unavailable, free, priced)

	cases := []struct {
		name string
		args map[string]any
		want string
	}{
		{name: "unavailable product", args: map[string]any{"slug": unavailable.Slug, "qtyKg": 3}, want: "not available"},
		{name: "zero price product", args: map[string]any{"slug": free.Slug, "qtyKg": 5000}, want: "no configured price"},
		{name: "over quantity cap", args: map[string]any{"productId": priced.ID.String(), "qtyKg": 1001}, want: "per-line limit"},
		{name: "zero quantity", args: map[string]any{"productId": priced.ID.String(), "qtyKg": 0}, want: "greater than zero"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			args, _ := json.Marshal(tc.args)
			resp, err := tools.Dispatch(context.Background(), ToolRequest{Tool: "calculate_order_price", Args: args})
			require.NoError(t, err)
			require.NotEmpty(t, resp.Error)
			require.Contains(t, resp.Error, tc.want)
			require.Nil(t, resp.Data, "no quote may leak past a guard")
		})
	}
}

func TestCalculateOrderPriceUnknownProduct(t *testing.T) {
	tools := newTools()
	args, _ := json.Marshal(map[string]any{"productId": uuid.NewString(), "qtyKg": 5})
	resp, err := tools.Dispatch(context.Background(), ToolRequest{Tool: "calculate_order_price", Args: args})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Error)
}

func TestCheckProductAvailability(t *testing.T) {
	product := testProduct()
	tools := newTools(product)

	args, _ := json.Marshal(map[string]any{"slug": product.Slug, "qtyKg": 50})
	resp, err := tools.Dispatch(context.Background(), ToolRequest{Tool: "check_product_availability", Args: args})
	require.NoError(t, err)
	require.Empty(t, resp.Error)
	require.Contains(t, resp.Content, "in stock")

	args, _ = json.Marshal(map[string]any{"slug": product.Slug, "qtyKg": 500})
	resp, err = tools.Dispatch(context.Background(), ToolRequest{Tool: "check_product_availability", Args: args})
	require.NoError(t, err)
	require.Contains(t, resp.Content, "not available")
}

func TestDispatchUnknownTool(t *testing.T) {
	tools := newTools()
	_, err := tools.Dispatch(context.Background(), ToolRequest{Tool: "refund_order"})
	require.ErrorIs(t, err, ErrUnknownTool)
}

func TestRequireServiceToken(t *testing.T) {
	h := &Handler{Tools: newTools(), ServiceToken: "svc-token", Logger: zerolog.Nop()}
	next := h.RequireServiceToken(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/agent/tools", bytes.NewReader(nil))
	next.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/agent/tools", bytes.NewReader(nil))
	req.Header.Set("Authorization", "Bearer svc-token")
	next.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestInvokeEndToEnd(t *testing.T) {
	product := testProduct()
	h := &Handler{Tools: newTools(product), ServiceToken: "svc-token", Logger: zerolog.Nop()}

	body, _ := json.Marshal(ToolRequest{
		Tool: "calculate_order_price",
		Args: json.RawMessage(`{"slug":"beras-pandan-wangi","qtyKg":3}`),
	})
	rec := httptest.NewRecorder()
	h.Invoke(rec, httptest.NewRequest(http.MethodPost, "/agent/tools", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Content string          `json:"content"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Contains(t, resp.Content, "2-4kg")

	var breakdown PriceBreakdown
	require.NoError(t, json.Unmarshal(resp.Data, &breakdown))
	require.Equal(t, int64(17500), breakdown.PricePerKg)
	require.Equal(t, int64(52500), breakdown.Subtotal)
}
