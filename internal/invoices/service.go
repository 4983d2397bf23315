// Package invoices materializes a tax invoice document for an order from
// the prices stored on its items.
package invoices

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/rosepetal/storefront/internal/apperr"
	"github.com/rosepetal/storefront/internal/events"
	"github.com/rosepetal/storefront/internal/metrics"
	"github.com/rosepetal/storefront/pkg/models"
)

// TaxRate applies to invoices only; order totals stay tax-exclusive.
var TaxRate = decimal.RequireFromString("0.08")

// PublicPrefix is where the HTTP server exposes the invoice directory.
const PublicPrefix = "/invoices/"

func FileName(orderID int64) string {
	return fmt.Sprintf("invoice-%d.pdf", orderID)
}

func PublicPath(orderID int64) string {
	return PublicPrefix + FileName(orderID)
}

// Totals returns subtotal, tax and invoice total for the stored lines.
func Totals(items []models.OrderItem) (subtotal, tax, total decimal.Decimal) {
	subtotal = decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.LineTotal())
	}
	subtotal = subtotal.Round(2)
	tax = subtotal.Mul(TaxRate).Round(2)
	return subtotal, tax, subtotal.Add(tax)
}

type Store interface {
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	GetUser(ctx context.Context, id int64) (*models.User, error)
	ListOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	GetInvoice(ctx context.Context, orderID int64) (*models.Invoice, error)
	InsertInvoice(ctx context.Context, invoice *models.Invoice) error
	DeleteInvoice(ctx context.Context, orderID int64) (bool, error)
}

type Service struct {
	store     Store
	dir       string
	renderer  Renderer
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *logrus.Logger
	now       func() time.Time
}

func NewService(st Store, dir string, publisher events.Publisher, m *metrics.Metrics, logger *logrus.Logger) *Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Service{
		store:     st,
		dir:       dir,
		renderer:  PDFRenderer{},
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *Service) filePath(orderID int64) string {
	return filepath.Join(s.dir, FileName(orderID))
}

// CreateInvoice renders and records the invoice of an order. An order has at
// most one invoice; calling again returns the existing record and restores
// its file if it went missing. Order state is never touched.
func (s *Service) CreateInvoice(ctx context.Context, orderID int64) (*models.Invoice, error) {
	if orderID <= 0 {
		return nil, apperr.InvalidInput("invalid_order", "orderId must be a positive integer")
	}
	log := s.logger.WithField("order_id", orderID)

	existing, err := s.store.GetInvoice(ctx, orderID)
	switch {
	case err == nil:
		if err := s.ensureFile(ctx, existing); err != nil {
			s.metrics.Invoice("failed")
			return nil, err
		}
		log.Info("Invoice already exists")
		s.metrics.Invoice("existing")
		return existing, nil
	case !errors.Is(err, apperr.ErrInvoiceNotFound):
		return nil, err
	}

	doc, err := s.document(ctx, orderID)
	if err != nil {
		return nil, err
	}

	path := s.filePath(orderID)
	if err := s.renderer.Render(path, doc); err != nil {
		s.metrics.Invoice("failed")
		return nil, apperr.Internal("failed to render invoice", err)
	}

	invoice := &models.Invoice{
		OrderID:  orderID,
		FilePath: path,
		Subtotal: doc.Subtotal,
		Tax:      doc.Tax,
		Total:    doc.Total,
	}
	if err := s.store.InsertInvoice(ctx, invoice); err != nil {
		if apperr.KindOf(err) == apperr.KindConflict {
			// A concurrent call recorded it first.
			return s.store.GetInvoice(ctx, orderID)
		}
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			log.WithError(rmErr).Warn("Failed to remove orphaned invoice file")
		}
		s.metrics.Invoice("failed")
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"subtotal": invoice.Subtotal.StringFixed(2),
		"tax":      invoice.Tax.StringFixed(2),
		"total":    invoice.Total.StringFixed(2),
	}).Info("Invoice created")
	s.metrics.Invoice("created")

	event := events.New(events.InvoiceCreated, doc.Order)
	event.InvoicePath = PublicPath(orderID)
	events.Emit(ctx, s.publisher, s.logger, event)
	return invoice, nil
}

func (s *Service) document(ctx context.Context, orderID int64) (Document, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return Document{}, err
	}
	user, err := s.store.GetUser(ctx, order.UserID)
	if err != nil {
		return Document{}, err
	}
	items, err := s.store.ListOrderItems(ctx, orderID)
	if err != nil {
		return Document{}, err
	}
	if len(items) == 0 {
		return Document{}, apperr.Internal("order has no items", nil)
	}

	subtotal, tax, total := Totals(items)
	if !subtotal.Equal(order.TotalAmount) {
		s.logger.WithFields(logrus.Fields{
			"order_id":     orderID,
			"subtotal":     subtotal.StringFixed(2),
			"total_amount": order.TotalAmount.StringFixed(2),
		}).Error("Invoice subtotal does not match order total")
		return Document{}, apperr.Internal("invoice subtotal does not match order total", nil)
	}

	return Document{
		Order:    order,
		User:     user,
		Items:    items,
		Subtotal: subtotal,
		Tax:      tax,
		Total:    total,
		IssuedAt: s.now().UTC(),
	}, nil
}

func (s *Service) ensureFile(ctx context.Context, invoice *models.Invoice) error {
	if _, err := os.Stat(invoice.FilePath); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return apperr.Internal("failed to stat invoice", err)
	}
	doc, err := s.document(ctx, invoice.OrderID)
	if err != nil {
		return err
	}
	doc.IssuedAt = invoice.CreatedAt
	if err := s.renderer.Render(invoice.FilePath, doc); err != nil {
		return apperr.Internal("failed to render invoice", err)
	}
	s.logger.WithField("order_id", invoice.OrderID).Info("Restored missing invoice file")
	return nil
}

func (s *Service) GetInvoice(ctx context.Context, orderID int64) (*models.Invoice, error) {
	return s.store.GetInvoice(ctx, orderID)
}

// OpenInvoice opens the document by its naming convention. The caller closes
// the file.
func (s *Service) OpenInvoice(orderID int64) (*os.File, error) {
	f, err := os.Open(s.filePath(orderID))
	if os.IsNotExist(err) {
		return nil, apperr.ErrInvoiceNotFound
	}
	if err != nil {
		return nil, apperr.Internal("failed to open invoice", err)
	}
	return f, nil
}

// DeleteInvoice removes the document and its record. The order is kept.
func (s *Service) DeleteInvoice(ctx context.Context, orderID int64) error {
	deleted, err := s.store.DeleteInvoice(ctx, orderID)
	if err != nil {
		return err
	}
	rmErr := os.Remove(s.filePath(orderID))
	removed := rmErr == nil
	if rmErr != nil && !os.IsNotExist(rmErr) {
		return apperr.Internal("failed to remove invoice", rmErr)
	}
	if !deleted && !removed {
		return apperr.ErrInvoiceNotFound
	}
	s.logger.WithField("order_id", orderID).Info("Invoice deleted")
	return nil
}
