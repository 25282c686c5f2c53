package http

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nutrishelf/backend/config"
	"github.com/nutrishelf/backend/internal/domain"
	"github.com/nutrishelf/backend/internal/usecase"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// mockQuerier answers from fixed data or a fixed error
type mockQuerier struct {
	err      error
	products map[string]domain.ProductRecord
	lastK    int
}

func (m *mockQuerier) Similar(ctx context.Context, productID string, k int) (*domain.SimilarityResult, error) {
	m.lastK = k
	if m.err != nil {
		return nil, m.err
	}
	return &domain.SimilarityResult{
		ProductID: productID,
		K:         k,
		Results:   []domain.SimilarProduct{{ProductID: "B", Name: "Milk", Score: 0.98}},
	}, nil
}

func (m *mockQuerier) Product(ctx context.Context, productID string) (*domain.ProductRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	r, ok := m.products[productID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, productID)
	}
	return &r, nil
}

func (m *mockQuerier) Status() usecase.DatasetStatus {
	return usecase.DatasetStatus{Loaded: true, Products: len(m.products), Complete: true}
}

func (m *mockQuerier) DefaultK() int { return 5 }

func setupTestRouter(querier SimilarityQuerier) *gin.Engine {
	cfg := &config.Config{
		Server: config.ServerConfig{
			Port:           "8080",
			Environment:    "test",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
	}
	return SetupRouter(cfg, NewHandler(querier))
}

func doRequest(t *testing.T, router *gin.Engine, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(method, path, nil))

	var body map[string]any
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w, body
}

func TestHealthCheckEndpoint(t *testing.T) {
	router := setupTestRouter(&mockQuerier{})

	w, body := doRequest(t, router, http.MethodGet, "/health")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "nutrishelf-backend", body["service"])
	assert.NotEmpty(t, body["version"])
	dataset, ok := body["dataset"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, dataset["loaded"])

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		w, _ := doRequest(t, router, method, "/health")
		assert.Equal(t, http.StatusNotFound, w.Code, method)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router := setupTestRouter(&mockQuerier{})
	doRequest(t, router, http.MethodGet, "/health")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "nutrishelf_api_requests_total")
}

func TestGetSimilar(t *testing.T) {
	t.Run("default k", func(t *testing.T) {
		querier := &mockQuerier{}
		w, body := doRequest(t, setupTestRouter(querier), http.MethodGet, "/api/v1/products/A/similar")

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 5, querier.lastK)
		assert.Equal(t, "A", body["productId"])
		results, ok := body["results"].([]any)
		require.True(t, ok)
		require.Len(t, results, 1)
		assert.Equal(t, "B", results[0].(map[string]any)["productId"])
	})

	t.Run("explicit k", func(t *testing.T) {
		querier := &mockQuerier{}
		w, _ := doRequest(t, setupTestRouter(querier), http.MethodGet, "/api/v1/products/A/similar?k=3")

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 3, querier.lastK)
	})

	t.Run("non numeric k", func(t *testing.T) {
		querier := &mockQuerier{}
		w, body := doRequest(t, setupTestRouter(querier), http.MethodGet, "/api/v1/products/A/similar?k=many")

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, body["error"], "integer")
		assert.Zero(t, querier.lastK)
	})
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "invalid query", err: fmt.Errorf("%w: k must be positive", domain.ErrInvalidQuery), wantStatus: http.StatusBadRequest},
		{name: "not found", err: fmt.Errorf("%w: Z", domain.ErrNotFound), wantStatus: http.StatusNotFound},
		{name: "not built", err: domain.ErrNotBuilt, wantStatus: http.StatusServiceUnavailable},
		{name: "unexpected", err: fmt.Errorf("boom"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := setupTestRouter(&mockQuerier{err: tt.err})

			for _, path := range []string{"/api/v1/products/Z/similar?k=1", "/api/v1/products/Z"} {
				w, body := doRequest(t, router, http.MethodGet, path)
				assert.Equal(t, tt.wantStatus, w.Code, path)
				assert.NotEmpty(t, body["error"], path)
			}
		})
	}

	t.Run("internal errors are not leaked", func(t *testing.T) {
		router := setupTestRouter(&mockQuerier{err: fmt.Errorf("open /secret/path: permission denied")})
		_, body := doRequest(t, router, http.MethodGet, "/api/v1/products/Z")
		assert.Equal(t, "internal error", body["error"])
	})
}

func TestGetProduct(t *testing.T) {
	price := 1.89
	querier := &mockQuerier{products: map[string]domain.ProductRecord{
		"138452": {ProductID: "138452", Name: "Yogur natural", Price: &price},
	}}
	router := setupTestRouter(querier)

	w, body := doRequest(t, router, http.MethodGet, "/api/v1/products/138452")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Yogur natural", body["name"])
	assert.Equal(t, 1.89, body["price"])

	w, _ = doRequest(t, router, http.MethodGet, "/api/v1/products/000000")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNotConfigured(t *testing.T) {
	router := setupTestRouter(nil)

	w, _ := doRequest(t, router, http.MethodGet, "/api/v1/products/A/similar")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w, body := doRequest(t, router, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, body["dataset"])
}

func TestSimilarityEndToEnd(t *testing.T) {
	engine := usecase.NewSimilarityEngine(nil)
	svc := usecase.NewSimilarityService(engine, nil, usecase.SimilarityServiceConfig{MaxK: 10})
	svc.Use([]domain.ProductRecord{
		{ProductID: "A", Name: "Leche", Nutrition: domain.Nutrition{domain.NutrientEnergy: 100, domain.NutrientProtein: 5, domain.NutrientFat: 2}},
		{ProductID: "B", Name: "Leche doble", Nutrition: domain.Nutrition{domain.NutrientEnergy: 200, domain.NutrientProtein: 10, domain.NutrientFat: 4}},
		{ProductID: "C", Name: "Azúcar", Nutrition: domain.Nutrition{domain.NutrientSugars: 100}},
	}, "fp", nil)
	router := setupTestRouter(svc)

	w, body := doRequest(t, router, http.MethodGet, "/api/v1/products/A/similar?k=2")
	require.Equal(t, http.StatusOK, w.Code)
	results := body["results"].([]any)
	require.Len(t, results, 2)
	first := results[0].(map[string]any)
	assert.Equal(t, "B", first["productId"])
	assert.InDelta(t, 1.0, first["score"], 1e-12)

	w, _ = doRequest(t, router, http.MethodGet, "/api/v1/products/A/similar?k=0")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = doRequest(t, router, http.MethodGet, "/api/v1/products/nope/similar")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = doRequest(t, router, http.MethodGet, "/api/v1/products/A/similar?k=50")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
