package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusPlaced     OrderStatus = "placed"
	StatusDelivering OrderStatus = "delivering"
	StatusFulfilled  OrderStatus = "fulfilled"
	StatusCancelled  OrderStatus = "cancelled"
	StatusRefunded   OrderStatus = "refunded"
)

type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "unpaid"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

// ParsePaymentStatus accepts the canonical lower-case values and the
// capitalised labels older clients send ("Paid", "Refunded").
func ParsePaymentStatus(s string) (PaymentStatus, bool) {
	switch PaymentStatus(strings.ToLower(strings.TrimSpace(s))) {
	case PaymentUnpaid:
		return PaymentUnpaid, true
	case PaymentPaid:
		return PaymentPaid, true
	case PaymentRefunded:
		return PaymentRefunded, true
	}
	return "", false
}

type PaymentMethod string

const (
	MethodCard         PaymentMethod = "card"
	MethodCash         PaymentMethod = "cash"
	MethodBankTransfer PaymentMethod = "bank_transfer"
)

var paymentMethodLabels = map[string]PaymentMethod{
	"card":             MethodCard,
	"credit card":      MethodCard,
	"cash":             MethodCash,
	"bank_transfer":    MethodBankTransfer,
	"bank transfer":    MethodBankTransfer,
	"internet banking": MethodBankTransfer,
}

func ParsePaymentMethod(s string) (PaymentMethod, bool) {
	m, ok := paymentMethodLabels[strings.ToLower(strings.TrimSpace(s))]
	return m, ok
}

type Order struct {
	ID              int64           `json:"id"`
	UserID          int64           `json:"userId"`
	Status          OrderStatus     `json:"status"`
	ShippingAddress string          `json:"addressShipping"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	PaymentStatus   PaymentStatus   `json:"paymentStatus"`
	PaymentMethod   PaymentMethod   `json:"paymentMethod,omitempty"`
	CreatedAt       time.Time       `json:"orderDate"`
	UpdatedAt       time.Time       `json:"updatedAt"`
	Items           []OrderItem     `json:"items,omitempty"`
}

// OrderItem keeps the unit price captured when the order was placed, so a
// later catalog reprice never changes a historical order.
type OrderItem struct {
	ID          int64           `json:"id"`
	OrderID     int64           `json:"orderId"`
	ProductID   int64           `json:"productId"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"price"`
	ProductName string          `json:"name,omitempty"`
	ImagePath   string          `json:"imagePath,omitempty"`
}

// LineTotal is the unrounded price × quantity of the line.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type ItemRequest struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

type PlaceOrderRequest struct {
	UserID          int64         `json:"userId"`
	Items           []ItemRequest `json:"items"`
	ShippingAddress string        `json:"shippingAddress"`
	// AddressShipping is the field name older clients send.
	AddressShipping string `json:"addressShipping,omitempty"`
}

type PlaceOrderResponse struct {
	OrderID     int64           `json:"orderId"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
}

type UpdateOrderRequest struct {
	Status          *string `json:"status,omitempty"`
	AddressShipping *string `json:"addressShipping,omitempty"`
	PaymentStatus   *string `json:"paymentStatus,omitempty"`
}

type OrderResponse struct {
	Order *Order      `json:"order"`
	Items []OrderItem `json:"items"`
}

type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
