// Package payments reconciles a reported payment against the stored order
// total and records refunds.
package payments

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/rosepetal/storefront/internal/apperr"
	"github.com/rosepetal/storefront/internal/events"
	"github.com/rosepetal/storefront/internal/lifecycle"
	"github.com/rosepetal/storefront/internal/metrics"
	"github.com/rosepetal/storefront/internal/store"
	"github.com/rosepetal/storefront/pkg/models"
)

// AuditGapUnguardedRefund tags refunds that a strict guard would have
// rejected.
const AuditGapUnguardedRefund = "unguarded_refund"

// ErrAmountMismatch never carries the expected amount.
var ErrAmountMismatch = &apperr.Error{
	Kind:    apperr.KindInvalidInput,
	Code:    "amount_mismatch",
	Message: "amount does not match order total",
	Status:  http.StatusBadRequest,
}

type OrderStore interface {
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	UpdateOrder(ctx context.Context, id int64, guard store.Guard, change store.OrderChange) (bool, error)
}

type Service struct {
	orders        OrderStore
	publisher     events.Publisher
	metrics       *metrics.Metrics
	strictRefunds bool
	logger        *logrus.Logger
}

func NewService(orders OrderStore, publisher events.Publisher, m *metrics.Metrics, strictRefunds bool, logger *logrus.Logger) *Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Service{
		orders:        orders,
		publisher:     publisher,
		metrics:       m,
		strictRefunds: strictRefunds,
		logger:        logger,
	}
}

// ProcessPayment accepts a payment only when amount equals the stored total
// exactly. Acceptance marks the order paid and moves it to delivering in one
// conditional write.
func (s *Service) ProcessPayment(ctx context.Context, orderID int64, amount decimal.Decimal, rawMethod string) (*models.Order, error) {
	if orderID <= 0 {
		return nil, apperr.InvalidInput("invalid_order", "orderId must be a positive integer")
	}
	method, ok := models.ParsePaymentMethod(rawMethod)
	if !ok {
		return nil, apperr.InvalidInput("invalid_payment_method", "unsupported payment method")
	}

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	log := s.logger.WithFields(logrus.Fields{
		"order_id":       orderID,
		"status":         order.Status,
		"payment_status": order.PaymentStatus,
		"payment_method": method,
	})

	if !amount.Equal(order.TotalAmount) {
		log.WithField("amount", amount.String()).Info("Payment amount mismatch")
		s.metrics.Payment("mismatch")
		return nil, ErrAmountMismatch
	}

	if settled(order, method) {
		log.Info("Payment already settled")
		s.metrics.Payment("replayed")
		return order, nil
	}
	if order.PaymentStatus != models.PaymentUnpaid {
		s.metrics.Payment("conflict")
		return nil, apperr.Conflict("payment_not_allowed", "order payment is already "+string(order.PaymentStatus))
	}
	if !lifecycle.CanTransition(order.Status, models.StatusDelivering) {
		s.metrics.Payment("conflict")
		return nil, apperr.Conflict("illegal_transition", "cannot pay for an order that is "+string(order.Status))
	}

	paid := models.PaymentPaid
	delivering := models.StatusDelivering
	change := store.OrderChange{PaymentStatus: &paid, PaymentMethod: &method}
	if order.Status != delivering {
		change.Status = &delivering
	}

	ok, err = s.orders.UpdateOrder(ctx, orderID, store.Guard{Status: order.Status, PaymentStatus: models.PaymentUnpaid}, change)
	if err != nil {
		return nil, err
	}
	updated, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !ok {
		if settled(updated, method) {
			s.metrics.Payment("replayed")
			return updated, nil
		}
		log.Warn("Conditional payment update lost a race")
		s.metrics.Payment("conflict")
		return nil, apperr.Conflict("concurrent_update", "order changed concurrently, retry")
	}

	log.WithField("total_amount", updated.TotalAmount.StringFixed(2)).Info("Payment processed")
	s.metrics.Payment("settled")
	s.metrics.StatusTransition(string(order.Status), string(updated.Status))
	events.Emit(ctx, s.publisher, s.logger, events.New(events.OrderPaid, updated))
	return updated, nil
}

func settled(o *models.Order, method models.PaymentMethod) bool {
	return o.PaymentStatus == models.PaymentPaid &&
		o.Status == models.StatusDelivering &&
		o.PaymentMethod == method
}

// ProcessRefund marks the order refunded. Unless strict refunds are enabled
// it does not check the prior payment state; such refunds are logged and
// published with an audit note.
func (s *Service) ProcessRefund(ctx context.Context, orderID int64) (*models.Order, error) {
	if orderID <= 0 {
		return nil, apperr.InvalidInput("invalid_order", "orderId must be a positive integer")
	}
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	log := s.logger.WithFields(logrus.Fields{
		"order_id":       orderID,
		"status":         order.Status,
		"payment_status": order.PaymentStatus,
	})

	if order.PaymentStatus == models.PaymentRefunded {
		log.Info("Order already refunded")
		return order, nil
	}

	guard := store.Guard{}
	note := ""
	if order.PaymentStatus == models.PaymentPaid {
		guard.PaymentStatus = models.PaymentPaid
		s.metrics.Refund("guarded")
	} else if s.strictRefunds {
		log.Info("Rejected refund of unpaid order")
		s.metrics.Refund("rejected")
		return nil, apperr.Conflict("refund_not_allowed", "only paid orders can be refunded")
	} else {
		note = AuditGapUnguardedRefund
		log.WithField("audit_gap", AuditGapUnguardedRefund).Warn("Refunding order that was never paid")
		s.metrics.Refund("unguarded")
	}

	refunded := models.PaymentRefunded
	ok, err := s.orders.UpdateOrder(ctx, orderID, guard, store.OrderChange{PaymentStatus: &refunded})
	if err != nil {
		return nil, err
	}
	updated, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !ok && updated.PaymentStatus != models.PaymentRefunded {
		return nil, apperr.Conflict("concurrent_update", "order changed concurrently, retry")
	}

	log.Info("Refund processed")
	event := events.New(events.OrderRefunded, updated)
	event.Note = note
	events.Emit(ctx, s.publisher, s.logger, event)
	return updated, nil
}
