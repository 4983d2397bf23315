package models

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Money encodes an amount as a bare JSON number with at least two decimal
// places ("20.00", "0.333"). Decoding stays with decimal.Decimal, which
// accepts both numbers and quoted strings.
type Money decimal.Decimal

func (m Money) MarshalJSON() ([]byte, error) {
	d := decimal.Decimal(m)
	if d.Exponent() < -2 {
		return []byte(d.String()), nil
	}
	return []byte(d.StringFixed(2)), nil
}

func (o Order) MarshalJSON() ([]byte, error) {
	type plain Order
	return json.Marshal(struct {
		plain
		TotalAmount Money `json:"totalAmount"`
	}{plain(o), Money(o.TotalAmount)})
}

func (i OrderItem) MarshalJSON() ([]byte, error) {
	type plain OrderItem
	return json.Marshal(struct {
		plain
		UnitPrice Money `json:"price"`
	}{plain(i), Money(i.UnitPrice)})
}

func (r PlaceOrderResponse) MarshalJSON() ([]byte, error) {
	type plain PlaceOrderResponse
	return json.Marshal(struct {
		plain
		TotalAmount Money `json:"totalAmount"`
	}{plain(r), Money(r.TotalAmount)})
}

func (p Product) MarshalJSON() ([]byte, error) {
	type plain Product
	return json.Marshal(struct {
		plain
		Price Money `json:"price"`
	}{plain(p), Money(p.Price)})
}

func (inv Invoice) MarshalJSON() ([]byte, error) {
	type plain Invoice
	return json.Marshal(struct {
		plain
		Subtotal Money `json:"subtotal"`
		Tax      Money `json:"tax"`
		Total    Money `json:"total"`
	}{plain(inv), Money(inv.Subtotal), Money(inv.Tax), Money(inv.Total)})
}

func (r PaymentRequest) MarshalJSON() ([]byte, error) {
	type plain PaymentRequest
	return json.Marshal(struct {
		plain
		Amount Money `json:"amount"`
	}{plain(r), Money(r.Amount)})
}
