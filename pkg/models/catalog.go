package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Description string          `json:"description"`
	ImagePath   string          `json:"imagePath"`
}

type User struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phoneNumber"`
}

type Invoice struct {
	ID        int64           `json:"id"`
	OrderID   int64           `json:"orderId"`
	FilePath  string          `json:"filePath"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Tax       decimal.Decimal `json:"tax"`
	Total     decimal.Decimal `json:"total"`
	CreatedAt time.Time       `json:"createdAt"`
}

type PaymentRequest struct {
	OrderID       int64           `json:"orderId"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"paymentMethod"`
}

type RefundRequest struct {
	OrderID int64 `json:"orderId"`
}

type InvoiceRequest struct {
	OrderID int64 `json:"orderId"`
}

type InvoiceResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	InvoicePath string `json:"invoicePath"`
}
