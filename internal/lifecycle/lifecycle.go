// Package lifecycle holds the order status graph.
//
//	placed ──► delivering ──► fulfilled
//	   │            │
//	   ▼            ▼
//	cancelled    refunded
//
// fulfilled, cancelled and refunded are terminal.
package lifecycle

import (
	"strings"

	"github.com/rosepetal/storefront/pkg/models"
)

var transitions = map[models.OrderStatus][]models.OrderStatus{
	models.StatusPlaced:     {models.StatusDelivering, models.StatusCancelled},
	models.StatusDelivering: {models.StatusFulfilled, models.StatusRefunded},
	models.StatusFulfilled:  nil,
	models.StatusCancelled:  nil,
	models.StatusRefunded:   nil,
}

// ParseStatus accepts any known status, case-insensitively.
func ParseStatus(s string) (models.OrderStatus, bool) {
	status := models.OrderStatus(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := transitions[status]; !ok {
		return "", false
	}
	return status, true
}

// CanTransition reports whether from → to is an edge of the graph. A
// same-state request is allowed and means "no change".
func CanTransition(from, to models.OrderStatus) bool {
	if from == to {
		_, known := transitions[from]
		return known
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func IsTerminal(s models.OrderStatus) bool {
	next, known := transitions[s]
	return known && len(next) == 0
}

func Next(s models.OrderStatus) []models.OrderStatus {
	return append([]models.OrderStatus(nil), transitions[s]...)
}
