package orders

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rosepetal/storefront/internal/apperr"
	"github.com/rosepetal/storefront/internal/catalog"
	"github.com/rosepetal/storefront/internal/events"
	"github.com/rosepetal/storefront/internal/store"
	"github.com/rosepetal/storefront/pkg/models"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Type
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type fixture struct {
	mem   *store.MemoryStore
	svc   *Service
	pub   *recordingPublisher
	user  models.User
	rose  models.Product
	tulip models.Product
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemory()
	f := &fixture{mem: mem, pub: &recordingPublisher{}}
	f.user = mem.AddUser("ana", "ana@example.com")
	f.rose = mem.AddProduct("Rose", decimal.RequireFromString("5.00"))
	f.tulip = mem.AddProduct("Tulip", decimal.RequireFromString("10.00"))
	f.svc = NewService(mem, catalog.NewResolver(mem), f.pub, nil, quietLogger())
	return f
}

func (f *fixture) place(t *testing.T) *models.Order {
	t.Helper()
	order, err := f.svc.PlaceOrder(context.Background(), PlaceOrderInput{
		UserID:          f.user.ID,
		Items:           []models.ItemRequest{{ProductID: f.rose.ID, Quantity: 2}, {ProductID: f.tulip.ID, Quantity: 1}},
		ShippingAddress: "1 Garden Lane",
	})
	require.NoError(t, err)
	return order
}

func TestPlaceOrderComputesTotalFromSnapshot(t *testing.T) {
	f := newFixture(t)
	order := f.place(t)

	assert.True(t, order.TotalAmount.Equal(decimal.RequireFromString("20.00")), "total %s", order.TotalAmount)
	assert.Equal(t, models.StatusPlaced, order.Status)
	assert.Equal(t, models.PaymentUnpaid, order.PaymentStatus)

	f.mem.SetProductPrice(f.rose.ID, decimal.RequireFromString("7.00"))
	got, err := f.svc.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 2)
	assert.True(t, got.TotalAmount.Equal(decimal.RequireFromString("20.00")))
	assert.True(t, got.Items[0].UnitPrice.Equal(decimal.RequireFromString("5.00")))

	assert.Equal(t, []events.Type{events.OrderPlaced}, f.pub.types())
}

func TestPlaceOrderRoundsAfterSummation(t *testing.T) {
	f := newFixture(t)
	odd := f.mem.AddProduct("Stem", decimal.RequireFromString("0.333"))

	order, err := f.svc.PlaceOrder(context.Background(), PlaceOrderInput{
		UserID: f.user.ID,
		Items:  []models.ItemRequest{{ProductID: odd.ID, Quantity: 3}},
	})
	require.NoError(t, err)
	assert.Equal(t, "1.00", order.TotalAmount.StringFixed(2))
}

func TestPlaceOrderValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := map[string]PlaceOrderInput{
		"no items":      {UserID: f.user.ID},
		"zero quantity": {UserID: f.user.ID, Items: []models.ItemRequest{{ProductID: f.rose.ID, Quantity: 0}}},
		"bad product":   {UserID: f.user.ID, Items: []models.ItemRequest{{ProductID: 0, Quantity: 1}}},
		"bad user":      {UserID: 0, Items: []models.ItemRequest{{ProductID: f.rose.ID, Quantity: 1}}},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.PlaceOrder(ctx, in)
			assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
		})
	}

	orders, items := f.mem.Counts()
	assert.Zero(t, orders)
	assert.Zero(t, items)
}

func TestPlaceOrderUnknownUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.PlaceOrder(context.Background(), PlaceOrderInput{
		UserID: 999,
		Items:  []models.ItemRequest{{ProductID: f.rose.ID, Quantity: 1}},
	})
	assert.ErrorIs(t, err, apperr.ErrUserNotFound)
}

func TestPlaceOrderMissingProductWritesNothing(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.PlaceOrder(context.Background(), PlaceOrderInput{
		UserID: f.user.ID,
		Items:  []models.ItemRequest{{ProductID: f.rose.ID, Quantity: 1}, {ProductID: 404, Quantity: 1}},
	})
	assert.ErrorIs(t, err, apperr.ErrProductNotFound)

	orders, items := f.mem.Counts()
	assert.Zero(t, orders)
	assert.Zero(t, items)
	assert.Empty(t, f.pub.types())
}

type failingItemsStore struct {
	*store.MemoryStore
}

func (s failingItemsStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.MemoryStore.WithTx(ctx, func(tx store.Tx) error {
		return fn(failingItemsTx{Tx: tx})
	})
}

type failingItemsTx struct {
	store.Tx
}

func (failingItemsTx) InsertOrderItems(context.Context, int64, []models.OrderItem) error {
	return apperr.Persistence("insert order items", io.ErrUnexpectedEOF)
}

func TestPlaceOrderRollsBackHeaderWhenItemsFail(t *testing.T) {
	f := newFixture(t)
	pub := &recordingPublisher{}
	svc := NewService(failingItemsStore{f.mem}, catalog.NewResolver(f.mem), pub, nil, quietLogger())

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderInput{
		UserID: f.user.ID,
		Items:  []models.ItemRequest{{ProductID: f.rose.ID, Quantity: 1}},
	})
	assert.Equal(t, apperr.KindPersistence, apperr.KindOf(err))

	orders, items := f.mem.Counts()
	assert.Zero(t, orders)
	assert.Zero(t, items)
	assert.Empty(t, pub.types())
}

func strPtr(s string) *string { return &s }

func TestUpdateOrderTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.place(t)

	updated, err := f.svc.UpdateOrder(ctx, order.ID, UpdateOrderInput{Status: strPtr("Delivering")})
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivering, updated.Status)

	_, err = f.svc.UpdateOrder(ctx, order.ID, UpdateOrderInput{Status: strPtr("cancelled")})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	same, err := f.svc.UpdateOrder(ctx, order.ID, UpdateOrderInput{Status: strPtr("delivering")})
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivering, same.Status)

	assert.Equal(t, []events.Type{events.OrderPlaced, events.OrderStatusChanged}, f.pub.types())
}

func TestUpdateOrderUnknownStatusLeavesOrderUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.place(t)

	_, err := f.svc.UpdateOrder(ctx, order.ID, UpdateOrderInput{Status: strPtr("shipped"), ShippingAddress: strPtr("elsewhere")})
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))

	got, err := f.svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPlaced, got.Status)
	assert.Equal(t, "1 Garden Lane", got.ShippingAddress)
}

func TestUpdateOrderRequiresAField(t *testing.T) {
	f := newFixture(t)
	order := f.place(t)

	_, err := f.svc.UpdateOrder(context.Background(), order.ID, UpdateOrderInput{})
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
}

func TestUpdateOrderMissing(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.UpdateOrder(context.Background(), 42, UpdateOrderInput{Status: strPtr("cancelled")})
	assert.ErrorIs(t, err, apperr.ErrOrderNotFound)
}

func TestUpdateOrderAddressOnlyWhileOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.place(t)

	updated, err := f.svc.UpdateOrder(ctx, order.ID, UpdateOrderInput{ShippingAddress: strPtr("2 Orchard Road")})
	require.NoError(t, err)
	assert.Equal(t, "2 Orchard Road", updated.ShippingAddress)

	_, err = f.svc.UpdateOrder(ctx, order.ID, UpdateOrderInput{Status: strPtr("cancelled")})
	require.NoError(t, err)

	_, err = f.svc.UpdateOrder(ctx, order.ID, UpdateOrderInput{ShippingAddress: strPtr("3 Hedge Row")})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

type racingStore struct {
	*store.MemoryStore
	before func()
}

func (s racingStore) UpdateOrder(ctx context.Context, id int64, guard store.Guard, change store.OrderChange) (bool, error) {
	s.before()
	return s.MemoryStore.UpdateOrder(ctx, id, guard, change)
}

func TestUpdateOrderLostRace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.place(t)

	cancelled := models.StatusCancelled
	racer := racingStore{MemoryStore: f.mem, before: func() {
		_, err := f.mem.UpdateOrder(ctx, order.ID, store.Guard{}, store.OrderChange{Status: &cancelled})
		require.NoError(t, err)
	}}
	svc := NewService(racer, catalog.NewResolver(f.mem), nil, nil, quietLogger())

	_, err := svc.UpdateOrder(ctx, order.ID, UpdateOrderInput{Status: strPtr("delivering")})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	got, err := f.mem.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
}

func TestUpdateOrderConcurrentSameTargetIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.place(t)

	delivering := models.StatusDelivering
	racer := racingStore{MemoryStore: f.mem, before: func() {
		_, err := f.mem.UpdateOrder(ctx, order.ID, store.Guard{}, store.OrderChange{Status: &delivering})
		require.NoError(t, err)
	}}
	svc := NewService(racer, catalog.NewResolver(f.mem), nil, nil, quietLogger())

	got, err := svc.UpdateOrder(ctx, order.ID, UpdateOrderInput{Status: strPtr("delivering")})
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivering, got.Status)
}

func TestListUserOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ListUserOrders(ctx, f.user.ID)
	assert.True(t, apperr.IsNotFound(err))

	f.place(t)
	f.place(t)
	list, err := f.svc.ListUserOrders(ctx, f.user.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Len(t, list[0].Items, 2)
}

func TestDeleteOrderRemovesInvoiceAndFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.place(t)

	path := filepath.Join(t.TempDir(), "invoice.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF"), 0o644))
	require.NoError(t, f.mem.InsertInvoice(ctx, &models.Invoice{OrderID: order.ID, FilePath: path}))

	require.NoError(t, f.svc.DeleteOrder(ctx, order.ID))

	_, err := f.mem.GetOrder(ctx, order.ID)
	assert.ErrorIs(t, err, apperr.ErrOrderNotFound)
	_, err = f.mem.GetInvoice(ctx, order.ID)
	assert.ErrorIs(t, err, apperr.ErrInvoiceNotFound)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))

	orders, items := f.mem.Counts()
	assert.Zero(t, orders)
	assert.Zero(t, items)

	assert.ErrorIs(t, f.svc.DeleteOrder(ctx, order.ID), apperr.ErrOrderNotFound)
}
