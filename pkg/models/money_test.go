package models

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoneyEncodesBareNumbers(t *testing.T) {
	cases := map[string]string{
		"20":    "20.00",
		"21.6":  "21.60",
		"0.08":  "0.08",
		"0.333": "0.333",
	}
	for in, want := range cases {
		out, err := json.Marshal(Money(decimal.RequireFromString(in)))
		require.NoError(t, err)
		assert.Equal(t, want, string(out), in)
	}
}

func TestOrderJSONCarriesNumericAmounts(t *testing.T) {
	order := &Order{
		ID:          1,
		TotalAmount: decimal.RequireFromString("20"),
		Items: []OrderItem{{
			ProductID: 2,
			Quantity:  2,
			UnitPrice: decimal.RequireFromString("10"),
		}},
	}
	out, err := json.Marshal(OrderResponse{Order: order, Items: order.Items})
	require.NoError(t, err)
	body := string(out)
	assert.Contains(t, body, `"totalAmount":20.00`)
	assert.Contains(t, body, `"price":10.00`)
	assert.Contains(t, body, `"addressShipping":""`)

	var back OrderResponse
	require.NoError(t, json.Unmarshal(out, &back))
	assert.True(t, back.Order.TotalAmount.Equal(decimal.RequireFromString("20")))
	assert.True(t, back.Items[0].UnitPrice.Equal(decimal.RequireFromString("10")))
}

func TestInvoiceAndResponseAmounts(t *testing.T) {
	out, err := json.Marshal(Invoice{
		OrderID:  1,
		Subtotal: decimal.RequireFromString("20"),
		Tax:      decimal.RequireFromString("1.6"),
		Total:    decimal.RequireFromString("21.6"),
	})
	require.NoError(t, err)
	assert.Contains(t, string(out), `"subtotal":20.00`)
	assert.Contains(t, string(out), `"tax":1.60`)
	assert.Contains(t, string(out), `"total":21.60`)

	out, err = json.Marshal(PlaceOrderResponse{OrderID: 1, TotalAmount: decimal.RequireFromString("20")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"orderId":1,"totalAmount":20.00}`, string(out))
}
