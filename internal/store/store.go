// Package store is the persistence boundary of the order core. Services
// depend on these interfaces only; PostgresStore backs production and
// MemoryStore backs tests and local runs.
package store

import (
	"context"

	"github.com/rosepetal/storefront/pkg/models"
)

// Reader lookups return the apperr NotFound sentinels when a row is absent
// and apperr.Persistence for infrastructure faults.
type Reader interface {
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	ListProducts(ctx context.Context) ([]models.Product, error)
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	ListOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error)
	GetInvoice(ctx context.Context, orderID int64) (*models.Invoice, error)
}

type Writer interface {
	// InsertOrder stores the header and fills in ID, CreatedAt and UpdatedAt.
	InsertOrder(ctx context.Context, order *models.Order) error
	// InsertOrderItems stores all lines of an order in one statement.
	InsertOrderItems(ctx context.Context, orderID int64, items []models.OrderItem) error
	// UpdateOrder applies change to a single row when guard still holds.
	// It reports false when no row matched.
	UpdateOrder(ctx context.Context, id int64, guard Guard, change OrderChange) (bool, error)
	// DeleteOrder removes items, invoice record and header. It is only
	// atomic when called on a Tx.
	DeleteOrder(ctx context.Context, id int64) (bool, error)
	// InsertInvoice fails with Conflict "invoice_exists" when the order
	// already has one.
	InsertInvoice(ctx context.Context, invoice *models.Invoice) error
	DeleteInvoice(ctx context.Context, orderID int64) (bool, error)
}

type Tx interface {
	Reader
	Writer
}

type Store interface {
	Tx
	// WithTx runs fn in one transaction. Any error from fn rolls back every
	// write fn made; a nil return commits.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}

// Guard is the predicate a conditional update must satisfy. Empty fields
// match anything.
type Guard struct {
	Status        models.OrderStatus
	PaymentStatus models.PaymentStatus
}

type OrderChange struct {
	Status          *models.OrderStatus
	ShippingAddress *string
	PaymentStatus   *models.PaymentStatus
	PaymentMethod   *models.PaymentMethod
}

func (c OrderChange) Empty() bool {
	return c.Status == nil && c.ShippingAddress == nil && c.PaymentStatus == nil && c.PaymentMethod == nil
}
