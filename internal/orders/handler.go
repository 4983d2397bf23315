package orders

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/rosepetal/storefront/internal/httpx"
	"github.com/rosepetal/storefront/pkg/models"
)

type Handler struct {
	service     *Service
	logger      *logrus.Logger
	idempotency mux.MiddlewareFunc
}

func NewHandler(service *Service, logger *logrus.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// SetIdempotency wraps order placement so retried requests carrying the same
// Idempotency-Key replay the first response.
func (h *Handler) SetIdempotency(mw mux.MiddlewareFunc) {
	h.idempotency = mw
}

func (h *Handler) RegisterRoutes(r *mux.Router) {
	var place http.Handler = http.HandlerFunc(h.PlaceOrder)
	if h.idempotency != nil {
		place = h.idempotency(place)
	}
	r.Handle("/orders", place).Methods("POST")
	r.HandleFunc("/orders/user/{userId}", h.ListUserOrders).Methods("GET")
	r.HandleFunc("/orders/{id}", h.GetOrder).Methods("GET")
	r.HandleFunc("/orders/{id}", h.UpdateOrder).Methods("PUT")
	r.HandleFunc("/orders/{id}", h.DeleteOrder).Methods("DELETE")
}

func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req models.PlaceOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondWithError(w, h.logger, err)
		return
	}
	address := req.ShippingAddress
	if address == "" {
		address = req.AddressShipping
	}

	order, err := h.service.PlaceOrder(r.Context(), PlaceOrderInput{
		UserID:          req.UserID,
		Items:           req.Items,
		ShippingAddress: address,
	})
	if err != nil {
		httpx.RespondWithError(w, h.logger.WithField("user_id", req.UserID), err)
		return
	}

	w.Header().Set("Location", "/orders/"+strconv.FormatInt(order.ID, 10))
	httpx.RespondWithJSON(w, http.StatusCreated, models.PlaceOrderResponse{
		OrderID:     order.ID,
		TotalAmount: order.TotalAmount,
	})
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondWithError(w, h.logger, err)
		return
	}
	order, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		httpx.RespondWithError(w, h.logger.WithField("order_id", id), err)
		return
	}
	items := order.Items
	if items == nil {
		items = []models.OrderItem{}
	}
	order.Items = nil
	httpx.RespondWithJSON(w, http.StatusOK, models.OrderResponse{Order: order, Items: items})
}

func (h *Handler) ListUserOrders(w http.ResponseWriter, r *http.Request) {
	userID, err := httpx.PathID(r, "userId")
	if err != nil {
		httpx.RespondWithError(w, h.logger, err)
		return
	}
	list, err := h.service.ListUserOrders(r.Context(), userID)
	if err != nil {
		httpx.RespondWithError(w, h.logger.WithField("user_id", userID), err)
		return
	}
	httpx.RespondWithJSON(w, http.StatusOK, list)
}

func (h *Handler) UpdateOrder(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondWithError(w, h.logger, err)
		return
	}
	var req models.UpdateOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondWithError(w, h.logger, err)
		return
	}

	order, err := h.service.UpdateOrder(r.Context(), id, UpdateOrderInput{
		Status:          req.Status,
		ShippingAddress: req.AddressShipping,
		PaymentStatus:   req.PaymentStatus,
	})
	if err != nil {
		httpx.RespondWithError(w, h.logger.WithField("order_id", id), err)
		return
	}
	httpx.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Order updated successfully",
		"order":   order,
	})
}

func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondWithError(w, h.logger, err)
		return
	}
	if err := h.service.DeleteOrder(r.Context(), id); err != nil {
		httpx.RespondWithError(w, h.logger.WithField("order_id", id), err)
		return
	}
	httpx.RespondWithMessage(w, http.StatusOK, "Order deleted successfully")
}
