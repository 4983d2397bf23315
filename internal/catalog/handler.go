package catalog

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/rosepetal/storefront/internal/httpx"
	"github.com/rosepetal/storefront/pkg/models"
)

type Handler struct {
	products ProductReader
	logger   *logrus.Logger
}

func NewHandler(products ProductReader, logger *logrus.Logger) *Handler {
	return &Handler{products: products, logger: logger}
}

func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/products", h.ListProducts).Methods("GET")
	r.HandleFunc("/products/{id}", h.GetProduct).Methods("GET")
}

func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.ListProducts(r.Context())
	if err != nil {
		httpx.RespondWithError(w, h.logger, err)
		return
	}
	if products == nil {
		products = []models.Product{}
	}
	httpx.RespondWithJSON(w, http.StatusOK, products)
}

func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondWithError(w, h.logger, err)
		return
	}
	product, err := h.products.GetProduct(r.Context(), id)
	if err != nil {
		httpx.RespondWithError(w, h.logger, err)
		return
	}
	httpx.RespondWithJSON(w, http.StatusOK, product)
}
