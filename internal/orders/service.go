package orders

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/rosepetal/storefront/internal/apperr"
	"github.com/rosepetal/storefront/internal/catalog"
	"github.com/rosepetal/storefront/internal/events"
	"github.com/rosepetal/storefront/internal/lifecycle"
	"github.com/rosepetal/storefront/internal/metrics"
	"github.com/rosepetal/storefront/internal/store"
	"github.com/rosepetal/storefront/pkg/models"
)

type Service struct {
	store     store.Store
	prices    catalog.Resolver
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *logrus.Logger
}

func NewService(st store.Store, prices catalog.Resolver, publisher events.Publisher, m *metrics.Metrics, logger *logrus.Logger) *Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Service{store: st, prices: prices, publisher: publisher, metrics: m, logger: logger}
}

type PlaceOrderInput struct {
	UserID          int64
	Items           []models.ItemRequest
	ShippingAddress string
}

func (in PlaceOrderInput) validate() error {
	if in.UserID <= 0 {
		return apperr.InvalidInput("invalid_user", "userId must be a positive integer")
	}
	if len(in.Items) == 0 {
		return apperr.InvalidInput("empty_order", "order must contain at least one item")
	}
	for _, item := range in.Items {
		if item.ProductID <= 0 {
			return apperr.InvalidInput("invalid_product", "productId must be a positive integer")
		}
		if item.Quantity < 1 {
			return apperr.InvalidInput("invalid_quantity", "quantity must be at least 1")
		}
	}
	return nil
}

// PlaceOrder prices the request against a catalog snapshot taken before the
// transaction opens, then writes header and items in one transaction. The
// order is published only after commit.
func (s *Service) PlaceOrder(ctx context.Context, in PlaceOrderInput) (*models.Order, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if _, err := s.store.GetUser(ctx, in.UserID); err != nil {
		return nil, err
	}

	ids := make([]int64, len(in.Items))
	for i, item := range in.Items {
		ids[i] = item.ProductID
	}
	prices, err := catalog.Snapshot(ctx, s.prices, ids)
	if err != nil {
		return nil, err
	}

	items := make([]models.OrderItem, len(in.Items))
	total := decimal.Zero
	for i, req := range in.Items {
		items[i] = models.OrderItem{ProductID: req.ProductID, Quantity: req.Quantity, UnitPrice: prices[req.ProductID]}
		total = total.Add(items[i].LineTotal())
	}

	order := &models.Order{
		UserID:          in.UserID,
		Status:          models.StatusPlaced,
		ShippingAddress: strings.TrimSpace(in.ShippingAddress),
		TotalAmount:     total.Round(2),
		PaymentStatus:   models.PaymentUnpaid,
	}

	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		return tx.InsertOrderItems(ctx, order.ID, items)
	})
	if err != nil {
		s.logger.WithError(err).WithField("user_id", in.UserID).Error("Failed to place order")
		return nil, err
	}

	for i := range items {
		items[i].OrderID = order.ID
	}
	order.Items = items

	s.logger.WithFields(logrus.Fields{
		"order_id":     order.ID,
		"user_id":      order.UserID,
		"total_amount": order.TotalAmount.StringFixed(2),
		"items_count":  len(items),
	}).Info("Order placed")
	s.metrics.OrderPlaced(order.TotalAmount.InexactFloat64())
	events.Emit(ctx, s.publisher, s.logger, events.New(events.OrderPlaced, order))

	return order, nil
}

func (s *Service) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	order, err := s.store.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := s.store.ListOrderItems(ctx, id)
	if err != nil {
		return nil, err
	}
	order.Items = items
	return order, nil
}

// ListUserOrders returns every order of the user with its items. A user
// without orders is reported as not found.
func (s *Service) ListUserOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	list, err := s.store.ListOrdersByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, apperr.NotFound("no_orders", "no orders found for this user")
	}
	for i := range list {
		items, err := s.store.ListOrderItems(ctx, list[i].ID)
		if err != nil {
			return nil, err
		}
		list[i].Items = items
	}
	return list, nil
}

type UpdateOrderInput struct {
	Status          *string
	ShippingAddress *string
	PaymentStatus   *string
}

type parsedUpdate struct {
	status        *models.OrderStatus
	address       *string
	paymentStatus *models.PaymentStatus
}

func (in UpdateOrderInput) parse() (parsedUpdate, error) {
	var p parsedUpdate
	if in.Status == nil && in.ShippingAddress == nil && in.PaymentStatus == nil {
		return p, apperr.InvalidInput("no_fields", "no updatable field supplied")
	}
	if in.Status != nil {
		status, ok := lifecycle.ParseStatus(*in.Status)
		if !ok {
			return p, apperr.InvalidInput("invalid_status", "unknown order status")
		}
		p.status = &status
	}
	if in.PaymentStatus != nil {
		ps, ok := models.ParsePaymentStatus(*in.PaymentStatus)
		if !ok {
			return p, apperr.InvalidInput("invalid_payment_status", "unknown payment status")
		}
		p.paymentStatus = &ps
	}
	if in.ShippingAddress != nil {
		address := strings.TrimSpace(*in.ShippingAddress)
		p.address = &address
	}
	return p, nil
}

// UpdateOrder applies a status transition and/or address and payment status
// changes as one conditional write guarded by the status it was validated
// against.
func (s *Service) UpdateOrder(ctx context.Context, id int64, in UpdateOrderInput) (*models.Order, error) {
	req, err := in.parse()
	if err != nil {
		return nil, err
	}

	current, err := s.store.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	log := s.logger.WithFields(logrus.Fields{"order_id": id, "status": current.Status})
	var change store.OrderChange

	if req.status != nil {
		if !lifecycle.CanTransition(current.Status, *req.status) {
			log.WithField("target_status", *req.status).Info("Rejected illegal transition")
			return nil, apperr.Conflict("illegal_transition",
				"cannot move order from "+string(current.Status)+" to "+string(*req.status))
		}
		if *req.status != current.Status {
			change.Status = req.status
		}
	}
	if req.address != nil && *req.address != current.ShippingAddress {
		if lifecycle.IsTerminal(current.Status) {
			return nil, apperr.Conflict("order_closed", "shipping address cannot change once an order is "+string(current.Status))
		}
		change.ShippingAddress = req.address
	}
	if req.paymentStatus != nil && *req.paymentStatus != current.PaymentStatus {
		change.PaymentStatus = req.paymentStatus
	}

	if change.Empty() {
		return s.GetOrder(ctx, id)
	}

	ok, err := s.store.UpdateOrder(ctx, id, store.Guard{Status: current.Status}, change)
	if err != nil {
		return nil, err
	}

	updated, err := s.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		if matches(updated, change) {
			return updated, nil
		}
		log.WithField("current_status", updated.Status).Warn("Conditional update lost a race")
		return nil, apperr.Conflict("concurrent_update", "order changed concurrently, retry")
	}

	if change.Status != nil {
		log.WithField("new_status", *change.Status).Info("Order status changed")
		s.metrics.StatusTransition(string(current.Status), string(*change.Status))
		events.Emit(ctx, s.publisher, s.logger, events.New(events.OrderStatusChanged, updated))
	} else {
		log.Info("Order updated")
	}
	return updated, nil
}

// matches reports whether o already reflects change, which makes a
// zero-row update an idempotent retry rather than a conflict.
func matches(o *models.Order, change store.OrderChange) bool {
	if change.Status != nil && o.Status != *change.Status {
		return false
	}
	if change.ShippingAddress != nil && o.ShippingAddress != *change.ShippingAddress {
		return false
	}
	if change.PaymentStatus != nil && o.PaymentStatus != *change.PaymentStatus {
		return false
	}
	return true
}

// DeleteOrder removes items, invoice record and header in one transaction.
// The invoice document is removed afterwards on a best-effort basis.
func (s *Service) DeleteOrder(ctx context.Context, id int64) error {
	var (
		order   *models.Order
		invoice *models.Invoice
	)
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		if order, err = tx.GetOrder(ctx, id); err != nil {
			return err
		}
		invoice, err = tx.GetInvoice(ctx, id)
		if err != nil && !errors.Is(err, apperr.ErrInvoiceNotFound) {
			return err
		}
		deleted, err := tx.DeleteOrder(ctx, id)
		if err != nil {
			return err
		}
		if !deleted {
			return apperr.ErrOrderNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}

	if invoice != nil && invoice.FilePath != "" {
		if err := os.Remove(invoice.FilePath); err != nil && !os.IsNotExist(err) {
			s.logger.WithError(err).WithField("order_id", id).Warn("Failed to remove invoice file")
		}
	}

	s.logger.WithField("order_id", id).Info("Order deleted")
	events.Emit(ctx, s.publisher, s.logger, events.New(events.OrderDeleted, order))
	return nil
}
