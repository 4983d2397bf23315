package payments

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/rosepetal/storefront/internal/httpx"
	"github.com/rosepetal/storefront/pkg/models"
)

type Handler struct {
	service *Service
	logger  *logrus.Logger
}

func NewHandler(service *Service, logger *logrus.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/payment/process", h.ProcessPayment).Methods("POST")
	r.HandleFunc("/payment/refund", h.ProcessRefund).Methods("POST")
}

func (h *Handler) ProcessPayment(w http.ResponseWriter, r *http.Request) {
	var req models.PaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondWithError(w, h.logger, err)
		return
	}
	if _, err := h.service.ProcessPayment(r.Context(), req.OrderID, req.Amount, req.PaymentMethod); err != nil {
		httpx.RespondWithError(w, h.logger.WithField("order_id", req.OrderID), err)
		return
	}
	httpx.RespondWithMessage(w, http.StatusOK, "Payment processed successfully")
}

func (h *Handler) ProcessRefund(w http.ResponseWriter, r *http.Request) {
	var req models.RefundRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondWithError(w, h.logger, err)
		return
	}
	if _, err := h.service.ProcessRefund(r.Context(), req.OrderID); err != nil {
		httpx.RespondWithError(w, h.logger.WithField("order_id", req.OrderID), err)
		return
	}
	httpx.RespondWithMessage(w, http.StatusOK, "Refund processed successfully")
}
