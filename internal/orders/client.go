package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rosepetal/storefront/pkg/models"
)

// APIError is a non-2xx reply decoded from the service's error envelope.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"error"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("storefront returned %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Client talks to a running order service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewClient(baseURL string, logger *logrus.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, header http.Header, out interface{}) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for name, values := range header {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to order service: %w", err)
	}
	defer resp.Body.Close()

	c.logger.WithFields(logrus.Fields{
		"method": method,
		"path":   path,
		"status": resp.StatusCode,
	}).Debug("Received response from order service")

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if w, ok := out.(io.Writer); ok {
		_, err := io.Copy(w, resp.Body)
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode order service response: %w", err)
	}
	return nil
}

// PlaceOrder sends key as Idempotency-Key when non-empty.
func (c *Client) PlaceOrder(ctx context.Context, req models.PlaceOrderRequest, key string) (*models.PlaceOrderResponse, error) {
	header := http.Header{}
	if key != "" {
		header.Set("Idempotency-Key", key)
	}
	var resp models.PlaceOrderResponse
	if err := c.do(ctx, http.MethodPost, "/orders", req, header, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) GetOrder(ctx context.Context, id int64) (*models.OrderResponse, error) {
	var resp models.OrderResponse
	if err := c.do(ctx, http.MethodGet, "/orders/"+strconv.FormatInt(id, 10), nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ListUserOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	var list []models.Order
	if err := c.do(ctx, http.MethodGet, "/orders/user/"+strconv.FormatInt(userID, 10), nil, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Client) UpdateOrder(ctx context.Context, id int64, req models.UpdateOrderRequest) (*models.Order, error) {
	var resp struct {
		Order *models.Order `json:"order"`
	}
	if err := c.do(ctx, http.MethodPut, "/orders/"+strconv.FormatInt(id, 10), req, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Order, nil
}

func (c *Client) DeleteOrder(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, "/orders/"+strconv.FormatInt(id, 10), nil, nil, nil)
}

func (c *Client) ProcessPayment(ctx context.Context, req models.PaymentRequest) (*models.MessageResponse, error) {
	var resp models.MessageResponse
	if err := c.do(ctx, http.MethodPost, "/payment/process", req, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Refund(ctx context.Context, orderID int64) (*models.MessageResponse, error) {
	var resp models.MessageResponse
	if err := c.do(ctx, http.MethodPost, "/payment/refund", models.RefundRequest{OrderID: orderID}, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) CreateInvoice(ctx context.Context, orderID int64) (*models.InvoiceResponse, error) {
	var resp models.InvoiceResponse
	if err := c.do(ctx, http.MethodPost, "/invoice/create", models.InvoiceRequest{OrderID: orderID}, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DownloadInvoice streams the PDF of the order's invoice into w.
func (c *Client) DownloadInvoice(ctx context.Context, orderID int64, w io.Writer) error {
	return c.do(ctx, http.MethodGet, "/invoice/download/"+strconv.FormatInt(orderID, 10), nil, nil, w)
}

func (c *Client) ListProducts(ctx context.Context) ([]models.Product, error) {
	var list []models.Product
	if err := c.do(ctx, http.MethodGet, "/products", nil, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}
