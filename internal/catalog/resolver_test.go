package catalog

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rosepetal/storefront/internal/apperr"
	"github.com/rosepetal/storefront/internal/store"
)

type countingResolver struct {
	Resolver
	calls map[int64]int
}

func (c *countingResolver) ResolvePrice(ctx context.Context, id int64) (decimal.Decimal, error) {
	c.calls[id]++
	return c.Resolver.ResolvePrice(ctx, id)
}

func TestSnapshotResolvesDistinctIDsOnce(t *testing.T) {
	mem := store.NewMemory()
	a := mem.AddProduct("Rose", decimal.RequireFromString("10.00"))
	b := mem.AddProduct("Tulip", decimal.RequireFromString("2.50"))
	r := &countingResolver{Resolver: NewResolver(mem), calls: map[int64]int{}}

	prices, err := Snapshot(context.Background(), r, []int64{a.ID, b.ID, a.ID})
	require.NoError(t, err)
	assert.Len(t, prices, 2)
	assert.Equal(t, 1, r.calls[a.ID])
	assert.True(t, prices[b.ID].Equal(decimal.RequireFromString("2.50")))
}

func TestSnapshotFailsOnMissingProduct(t *testing.T) {
	mem := store.NewMemory()
	a := mem.AddProduct("Rose", decimal.RequireFromString("10.00"))

	_, err := Snapshot(context.Background(), NewResolver(mem), []int64{a.ID, 404})
	assert.ErrorIs(t, err, apperr.ErrProductNotFound)
}

func TestProductHandlers(t *testing.T) {
	mem := store.NewMemory()
	p := mem.AddProduct("Rose", decimal.RequireFromString("10.00"))
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	router := mux.NewRouter()
	NewHandler(mem, logger).RegisterRoutes(router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products/"+strconv.FormatInt(p.ID, 10), nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"Rose"`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products/999", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products/abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
