package invoices

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
	r.HandleFunc("/invoice/create", h.CreateInvoice).Methods("POST")
	r.HandleFunc("/invoice/download/{orderId}", h.DownloadInvoice).Methods("GET")
	r.HandleFunc("/invoice/{orderId}", h.GetInvoice).Methods("GET")
	r.HandleFunc("/invoice/{orderId}", h.DeleteInvoice).Methods("DELETE")
}

func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req models.InvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondWithError(w, h.logger, err)
		return
	}
	invoice, err := h.service.CreateInvoice(r.Context(), req.OrderID)
	if err != nil {
		httpx.RespondWithError(w, h.logger.WithField("order_id", req.OrderID), err)
		return
	}
	httpx.RespondWithJSON(w, http.StatusOK, models.InvoiceResponse{
		Success:     true,
		Message:     "Invoice created successfully",
		InvoicePath: PublicPath(invoice.OrderID),
	})
}

func (h *Handler) DownloadInvoice(w http.ResponseWriter, r *http.Request) {
	orderID, err := httpx.PathID(r, "orderId")
	if err != nil {
		httpx.RespondWithError(w, h.logger, err)
		return
	}
	f, err := h.service.OpenInvoice(orderID)
	if err != nil {
		httpx.RespondWithError(w, h.logger.WithField("order_id", orderID), err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		httpx.RespondWithError(w, h.logger.WithField("order_id", orderID), err)
		return
	}
	name := FileName(orderID)
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	orderID, err := httpx.PathID(r, "orderId")
	if err != nil {
		httpx.RespondWithError(w, h.logger, err)
		return
	}
	invoice, err := h.service.GetInvoice(r.Context(), orderID)
	if err != nil {
		httpx.RespondWithError(w, h.logger.WithField("order_id", orderID), err)
		return
	}
	httpx.RespondWithJSON(w, http.StatusOK, invoice)
}

func (h *Handler) DeleteInvoice(w http.ResponseWriter, r *http.Request) {
	orderID, err := httpx.PathID(r, "orderId")
	if err != nil {
		httpx.RespondWithError(w, h.logger, err)
		return
	}
	if err := h.service.DeleteInvoice(r.Context(), orderID); err != nil {
		httpx.RespondWithError(w, h.logger.WithField("order_id", orderID), err)
		return
	}
	httpx.RespondWithMessage(w, http.StatusOK, "Invoice deleted successfully")
}
