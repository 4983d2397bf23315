package invoices

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/rosepetal/storefront/internal/apperr"
	"github.com/rosepetal/storefront/internal/events"
)

// PaidHandler materializes the invoice of every order.paid event. It plugs
// into the retrying Kafka consumer.
type PaidHandler struct {
	service *Service
	logger  *logrus.Logger
}

func NewPaidHandler(service *Service, logger *logrus.Logger) *PaidHandler {
	return &PaidHandler{service: service, logger: logger}
}

func (h *PaidHandler) Handle(ctx context.Context, event events.Event) error {
	if event.Type != events.OrderPaid {
		h.logger.WithField("event_type", event.Type).Debug("Ignoring event")
		return nil
	}
	invoice, err := h.service.CreateInvoice(ctx, event.OrderID)
	if err != nil {
		return err
	}
	h.logger.WithFields(logrus.Fields{
		"event_id": event.ID,
		"order_id": invoice.OrderID,
	}).Info("Invoice materialized from payment event")
	return nil
}

// IsRetryable retries persistence faults only. A missing order or an
// integrity failure will not heal by retrying and goes to the DLQ.
func (h *PaidHandler) IsRetryable(err error) bool {
	return apperr.KindOf(err) == apperr.KindPersistence
}
