package catalog_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/berasid/backend-beras/internal/catalog"
)

type fakeStore struct {
	products []catalog.Product
	lists    int
}

func (f *fakeStore) ListProducts(ctx context.Context, filter catalog.ListFilter) ([]catalog.Product, error) {
	f.lists++
	out := make([]catalog.Product, 0, len(f.products))
	for _, p := range f.products {
		if filter.Available != nil && p.Available != *filter.Available {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeStore) CountProducts(ctx context.Context, filter catalog.ListFilter) (int64, error) {
	rows, _ := f.ListProducts(ctx, filter)
	return int64(len(rows)), nil
}

func (f *fakeStore) GetProductBySlug(ctx context.Context, slug string) (catalog.Product, error) {
	for _, p := range f.products {
		if p.Slug == slug {
			return p, nil
		}
	}
	return catalog.Product{}, catalog.ErrProductNotFound
}

func (f *fakeStore) GetProductByID(ctx context.Context, id uuid.UUID) (catalog.Product, error) {
	for _, p := range f.products {
		if p.ID == id {
			return p, nil
		}
	}
	return catalog.Product{}, catalog.ErrProductNotFound
}

func (f *fakeStore) GetProductsByIDs(ctx context.Context, ids []uuid.UUID) ([]catalog.Product, error) {
	var out []catalog.Product
	for _, id := range ids {
		if p, err := f.GetProductByID(ctx, id); err == nil {
			out = append(out, p)
		}
	}
	return out, nil
}

func sampleProducts(t *testing.T) []catalog.Product {
	t.Helper()
	return []catalog.Product{
		{
			ID:         uuid.New(),
			Name:       "Beras Pandan Wangi",
			Slug:       "beras-pandan-wangi",
			Variety:    "pandan wangi",
			Origin:     "Cianjur",
			Available:  true,
			StockKg:    500,
			BasePerKg:  18000,
			HasTiers:   true,
			Tier2to4Kg: 17500,
			Tier5to9Kg: 17000,
			Tier10UpKg: 16000,
			Badges:     []string{"best-seller"},
		},
		{
			ID:        uuid.New(),
			Name:      "Beras Merah Organik",
			Slug:      "beras-merah-organik",
			Variety:   "beras merah",
			Origin:    "Tasikmalaya",
			Available: false,
			BasePerKg: 25000,
			Badges:    []string{},
		},
	}
}

func newRouter(t *testing.T, store catalog.Store) http.Handler {
	t.Helper()
	svc, err := catalog.NewService(catalog.ServiceConfig{Store: store, DefaultPage: 1, DefaultLimit: 20, MaxLimit: 100})
	require.NoError(t, err)
	handler := catalog.NewHandler(catalog.HandlerConfig{Service: svc})
	r := chi.NewRouter()
	r.Get("/api/v1/products", handler.Products)
	r.Get("/api/v1/products/{slug}", handler.ProductDetail)
	return r
}

func TestProductsList(t *testing.T) {
	store := &fakeStore{products: sampleProducts(t)}
	router := newRouter(t, store)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products?available=true", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data []catalog.ProductListItem `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	require.Equal(t, "beras-pandan-wangi", resp.Data[0].Slug)
	require.EqualValues(t, 18000, resp.Data[0].PricePerKg)
}

func TestProductsListRejectsBadPage(t *testing.T) {
	router := newRouter(t, &fakeStore{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/products?page=zero", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProductDetailTierLadder(t *testing.T) {
	store := &fakeStore{products: sampleProducts(t)}
	router := newRouter(t, store)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products/beras-pandan-wangi", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data catalog.ProductDetail `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data.TierPrices, 3)
	require.Equal(t, "2-4kg", resp.Data.TierPrices[0].Tier)
	require.EqualValues(t, 17500, resp.Data.TierPrices[0].PricePerKg)
	require.Equal(t, "10kg+", resp.Data.TierPrices[2].Tier)
	require.EqualValues(t, 16000, resp.Data.TierPrices[2].PricePerKg)
	// ladder must never get more expensive as quantity grows
	for i := 1; i < len(resp.Data.TierPrices); i++ {
		require.LessOrEqual(t, resp.Data.TierPrices[i].PricePerKg, resp.Data.TierPrices[i-1].PricePerKg)
	}
}

func TestProductDetailNotFound(t *testing.T) {
	router := newRouter(t, &fakeStore{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/products/tidak-ada", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
