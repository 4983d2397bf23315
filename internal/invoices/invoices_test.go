package invoices

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rosepetal/storefront/internal/apperr"
	"github.com/rosepetal/storefront/internal/events"
	"github.com/rosepetal/storefront/internal/store"
	"github.com/rosepetal/storefront/pkg/models"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type recordingPublisher struct {
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.events = append(p.events, e)
	return nil
}

// seed stores an order of 2 × 5.00 + 1 × 10.00.
func seed(t *testing.T, mem *store.MemoryStore) *models.Order {
	t.Helper()
	ctx := context.Background()
	user := mem.AddUser("ana", "ana@example.com")
	rose := mem.AddProduct("Rose", decimal.RequireFromString("5.00"))
	tulip := mem.AddProduct("Tulip", decimal.RequireFromString("10.00"))

	order := &models.Order{
		UserID:          user.ID,
		Status:          models.StatusDelivering,
		ShippingAddress: "1 Garden Lane",
		TotalAmount:     decimal.RequireFromString("20.00"),
		PaymentStatus:   models.PaymentPaid,
		PaymentMethod:   models.MethodCard,
	}
	require.NoError(t, mem.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		return tx.InsertOrderItems(ctx, order.ID, []models.OrderItem{
			{ProductID: rose.ID, Quantity: 2, UnitPrice: rose.Price},
			{ProductID: tulip.ID, Quantity: 1, UnitPrice: tulip.Price},
		})
	}))
	return order
}

func TestTotals(t *testing.T) {
	items := []models.OrderItem{
		{Quantity: 2, UnitPrice: decimal.RequireFromString("5.00")},
		{Quantity: 1, UnitPrice: decimal.RequireFromString("10.00")},
	}
	subtotal, tax, total := Totals(items)
	assert.Equal(t, "20.00", subtotal.StringFixed(2))
	assert.Equal(t, "1.60", tax.StringFixed(2))
	assert.Equal(t, "21.60", total.StringFixed(2))

	_, tax, _ = Totals([]models.OrderItem{{Quantity: 1, UnitPrice: decimal.RequireFromString("0.99")}})
	assert.Equal(t, "0.08", tax.StringFixed(2))
}

func TestCreateInvoice(t *testing.T) {
	mem := store.NewMemory()
	order := seed(t, mem)
	dir := t.TempDir()
	pub := &recordingPublisher{}
	svc := NewService(mem, dir, pub, nil, quietLogger())
	ctx := context.Background()

	invoice, err := svc.CreateInvoice(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "20.00", invoice.Subtotal.StringFixed(2))
	assert.Equal(t, "1.60", invoice.Tax.StringFixed(2))
	assert.Equal(t, "21.60", invoice.Total.StringFixed(2))
	assert.Equal(t, filepath.Join(dir, "invoice-"+strconv.FormatInt(order.ID, 10)+".pdf"), invoice.FilePath)

	content, err := os.ReadFile(invoice.FilePath)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(content, []byte("%PDF")))

	got, err := mem.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivering, got.Status)
	assert.Equal(t, models.PaymentPaid, got.PaymentStatus)

	require.Len(t, pub.events, 1)
	assert.Equal(t, events.InvoiceCreated, pub.events[0].Type)
	assert.Equal(t, PublicPath(order.ID), pub.events[0].InvoicePath)

	leftovers, err := filepath.Glob(filepath.Join(dir, ".invoice-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestCreateInvoiceIsIdempotent(t *testing.T) {
	mem := store.NewMemory()
	order := seed(t, mem)
	pub := &recordingPublisher{}
	svc := NewService(mem, t.TempDir(), pub, nil, quietLogger())
	ctx := context.Background()

	first, err := svc.CreateInvoice(ctx, order.ID)
	require.NoError(t, err)
	require.NoError(t, os.Remove(first.FilePath))

	second, err := svc.CreateInvoice(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.FileExists(t, second.FilePath)
	assert.Len(t, pub.events, 1)
}

func TestCreateInvoiceUsesStoredPrices(t *testing.T) {
	mem := store.NewMemory()
	order := seed(t, mem)
	svc := NewService(mem, t.TempDir(), nil, nil, quietLogger())

	for _, p := range []int64{1, 2} {
		mem.SetProductPrice(p, decimal.RequireFromString("99.00"))
	}
	invoice, err := svc.CreateInvoice(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, "20.00", invoice.Subtotal.StringFixed(2))
}

func TestCreateInvoiceErrors(t *testing.T) {
	mem := store.NewMemory()
	svc := NewService(mem, t.TempDir(), nil, nil, quietLogger())
	ctx := context.Background()

	_, err := svc.CreateInvoice(ctx, 0)
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))

	_, err = svc.CreateInvoice(ctx, 42)
	assert.ErrorIs(t, err, apperr.ErrOrderNotFound)

	user := mem.AddUser("bo", "bo@example.com")
	bad := &models.Order{UserID: user.ID, Status: models.StatusPlaced, TotalAmount: decimal.RequireFromString("3.00"), PaymentStatus: models.PaymentUnpaid}
	require.NoError(t, mem.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertOrder(ctx, bad); err != nil {
			return err
		}
		return tx.InsertOrderItems(ctx, bad.ID, []models.OrderItem{{ProductID: 7, Quantity: 1, UnitPrice: decimal.RequireFromString("2.00")}})
	}))
	_, err = svc.CreateInvoice(ctx, bad.ID)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
	_, err = mem.GetInvoice(ctx, bad.ID)
	assert.ErrorIs(t, err, apperr.ErrInvoiceNotFound)
}

type failingInsertStore struct {
	*store.MemoryStore
}

func (failingInsertStore) InsertInvoice(context.Context, *models.Invoice) error {
	return apperr.Persistence("insert invoice", io.ErrClosedPipe)
}

func TestCreateInvoiceRemovesFileWhenInsertFails(t *testing.T) {
	mem := store.NewMemory()
	order := seed(t, mem)
	dir := t.TempDir()
	svc := NewService(failingInsertStore{mem}, dir, nil, nil, quietLogger())

	_, err := svc.CreateInvoice(context.Background(), order.ID)
	assert.Equal(t, apperr.KindPersistence, apperr.KindOf(err))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDeleteInvoiceKeepsOrder(t *testing.T) {
	mem := store.NewMemory()
	order := seed(t, mem)
	svc := NewService(mem, t.TempDir(), nil, nil, quietLogger())
	ctx := context.Background()

	invoice, err := svc.CreateInvoice(ctx, order.ID)
	require.NoError(t, err)
	require.NoError(t, svc.DeleteInvoice(ctx, order.ID))

	assert.NoFileExists(t, invoice.FilePath)
	_, err = mem.GetOrder(ctx, order.ID)
	assert.NoError(t, err)
	assert.ErrorIs(t, svc.DeleteInvoice(ctx, order.ID), apperr.ErrInvoiceNotFound)
}

func TestInvoiceHandlers(t *testing.T) {
	mem := store.NewMemory()
	order := seed(t, mem)
	svc := NewService(mem, t.TempDir(), nil, nil, quietLogger())
	r := mux.NewRouter()
	NewHandler(svc, quietLogger()).RegisterRoutes(r)
	id := strconv.FormatInt(order.ID, 10)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(method, path, bytes.NewBufferString(body)))
		return rec
	}

	rec := do(http.MethodGet, "/invoice/download/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(http.MethodPost, "/invoice/create", `{"orderId":`+id+`}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp models.InvoiceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "/invoices/invoice-"+id+".pdf", resp.InvoicePath)

	rec = do(http.MethodGet, "/invoice/download/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")))

	rec = do(http.MethodGet, "/invoice/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var record models.Invoice
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.True(t, record.Tax.Equal(decimal.RequireFromString("1.60")))

	rec = do(http.MethodPost, "/invoice/create", `{"orderId":999}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(http.MethodDelete, "/invoice/"+id, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(http.MethodGet, "/invoice/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPaidHandler(t *testing.T) {
	mem := store.NewMemory()
	order := seed(t, mem)
	svc := NewService(mem, t.TempDir(), nil, nil, quietLogger())
	h := NewPaidHandler(svc, quietLogger())
	ctx := context.Background()

	require.NoError(t, h.Handle(ctx, events.New(events.OrderPlaced, order)))
	_, err := mem.GetInvoice(ctx, order.ID)
	assert.ErrorIs(t, err, apperr.ErrInvoiceNotFound)

	require.NoError(t, h.Handle(ctx, events.New(events.OrderPaid, order)))
	_, err = mem.GetInvoice(ctx, order.ID)
	assert.NoError(t, err)

	missing := events.New(events.OrderPaid, &models.Order{ID: 404})
	err = h.Handle(ctx, missing)
	require.Error(t, err)
	assert.False(t, h.IsRetryable(err))
	assert.True(t, h.IsRetryable(apperr.Persistence("get order", io.ErrUnexpectedEOF)))
}
