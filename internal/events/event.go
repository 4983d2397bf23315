package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/rosepetal/storefront/pkg/models"
)

// Type doubles as the Kafka topic the event is published to.
type Type string

const (
	OrderPlaced        Type = "order.placed"
	OrderStatusChanged Type = "order.status_changed"
	OrderPaid          Type = "order.paid"
	OrderRefunded      Type = "order.refunded"
	OrderDeleted       Type = "order.deleted"
	InvoiceCreated     Type = "invoice.created"
)

var AllTypes = []Type{OrderPlaced, OrderStatusChanged, OrderPaid, OrderRefunded, OrderDeleted, InvoiceCreated}

func DLQTopic(topic string) string {
	return topic + ".dlq"
}

type Event struct {
	ID            string               `json:"event_id"`
	Type          Type                 `json:"event_type"`
	OrderID       int64                `json:"order_id"`
	UserID        int64                `json:"user_id"`
	Status        models.OrderStatus   `json:"status,omitempty"`
	PaymentStatus models.PaymentStatus `json:"payment_status,omitempty"`
	PaymentMethod models.PaymentMethod `json:"payment_method,omitempty"`
	TotalAmount   decimal.Decimal      `json:"total_amount"`
	InvoicePath   string               `json:"invoice_path,omitempty"`
	// Note carries audit annotations such as unguarded refunds.
	Note       string    `json:"note,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	type plain Event
	return json.Marshal(struct {
		plain
		TotalAmount models.Money `json:"total_amount"`
	}{plain(e), models.Money(e.TotalAmount)})
}

// New snapshots the order fields every consumer needs.
func New(t Type, order *models.Order) Event {
	return Event{
		ID:            uuid.New().String(),
		Type:          t,
		OrderID:       order.ID,
		UserID:        order.UserID,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		PaymentMethod: order.PaymentMethod,
		TotalAmount:   order.TotalAmount,
		OccurredAt:    time.Now().UTC(),
	}
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

// MultiPublisher delivers to every publisher and joins their errors.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Emit publishes after a committed change. A failed publish is logged and
// swallowed: the database row is the source of truth.
func Emit(ctx context.Context, p Publisher, logger logrus.FieldLogger, event Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, event); err != nil {
		logger.WithError(err).WithFields(logrus.Fields{
			"event_type": event.Type,
			"event_id":   event.ID,
			"order_id":   event.OrderID,
		}).Warn("Failed to publish event")
	}
}
