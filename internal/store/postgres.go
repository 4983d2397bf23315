package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/rosepetal/storefront/internal/apperr"
	"github.com/rosepetal/storefront/pkg/models"
)

const uniqueViolation = "23505"

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type PostgresStore struct {
	queries
	db     *sql.DB
	logger *logrus.Logger
}

// OpenPostgres connects and waits up to attempts × 2s for the database.
func OpenPostgres(ctx context.Context, dsn string, maxConns, attempts int, logger *logrus.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns / 2)
	db.SetConnMaxLifetime(30 * time.Minute)

	for i := 0; i < attempts; i++ {
		if err = db.PingContext(ctx); err == nil {
			logger.Info("Database connection established")
			return NewPostgres(db, logger), nil
		}
		logger.WithError(err).Info("Waiting for database...")
		select {
		case <-ctx.Done():
			db.Close()
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	db.Close()
	return nil, fmt.Errorf("database not reachable: %w", err)
}

func NewPostgres(db *sql.DB, logger *logrus.Logger) *PostgresStore {
	return &PostgresStore{queries: queries{q: db}, db: db, logger: logger}
}

func (s *PostgresStore) DB() *sql.DB { return s.db }

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Persistence("begin transaction", err)
	}
	// Rollback after a successful Commit is a no-op returning ErrTxDone.
	defer tx.Rollback()

	if err := fn(queries{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperr.Persistence("commit transaction", err)
	}
	return nil
}

type queries struct {
	q querier
}

const orderColumns = `id, user_id, status, shipping_address, total_amount, payment_status,
	COALESCE(payment_method, ''), created_at, updated_at`

func scanOrder(row interface{ Scan(...interface{}) error }) (*models.Order, error) {
	o := &models.Order{}
	err := row.Scan(&o.ID, &o.UserID, &o.Status, &o.ShippingAddress, &o.TotalAmount,
		&o.PaymentStatus, &o.PaymentMethod, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (q queries) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	p := &models.Product{}
	err := q.q.QueryRowContext(ctx,
		`SELECT id, name, price, description, image_path FROM products WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.Price, &p.Description, &p.ImagePath)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrProductNotFound
	}
	if err != nil {
		return nil, apperr.Persistence("get product", err)
	}
	return p, nil
}

func (q queries) ListProducts(ctx context.Context) ([]models.Product, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT id, name, price, description, image_path FROM products ORDER BY id`)
	if err != nil {
		return nil, apperr.Persistence("list products", err)
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		var p models.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Description, &p.ImagePath); err != nil {
			return nil, apperr.Persistence("scan product", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("list products", err)
	}
	return products, nil
}

func (q queries) GetUser(ctx context.Context, id int64) (*models.User, error) {
	u := &models.User{}
	err := q.q.QueryRowContext(ctx,
		`SELECT id, username, email, phone_number FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Username, &u.Email, &u.PhoneNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrUserNotFound
	}
	if err != nil {
		return nil, apperr.Persistence("get user", err)
	}
	return u, nil
}

func (q queries) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	o, err := scanOrder(q.q.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrOrderNotFound
	}
	if err != nil {
		return nil, apperr.Persistence("get order", err)
	}
	return o, nil
}

func (q queries) ListOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	// LEFT JOIN: the product reference is weak and may have been deleted.
	rows, err := q.q.QueryContext(ctx, `
		SELECT oi.id, oi.order_id, oi.product_id, oi.quantity, oi.unit_price,
			COALESCE(p.name, ''), COALESCE(p.image_path, '')
		FROM order_items oi
		LEFT JOIN products p ON p.id = oi.product_id
		WHERE oi.order_id = $1
		ORDER BY oi.id`, orderID)
	if err != nil {
		return nil, apperr.Persistence("list order items", err)
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var it models.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &it.UnitPrice,
			&it.ProductName, &it.ImagePath); err != nil {
			return nil, apperr.Persistence("scan order item", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("list order items", err)
	}
	return items, nil
}

func (q queries) ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, apperr.Persistence("list orders", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, apperr.Persistence("scan order", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("list orders", err)
	}
	return orders, nil
}

func (q queries) GetInvoice(ctx context.Context, orderID int64) (*models.Invoice, error) {
	inv := &models.Invoice{}
	err := q.q.QueryRowContext(ctx, `
		SELECT id, order_id, file_path, subtotal, tax, total, created_at
		FROM invoices WHERE order_id = $1`, orderID,
	).Scan(&inv.ID, &inv.OrderID, &inv.FilePath, &inv.Subtotal, &inv.Tax, &inv.Total, &inv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrInvoiceNotFound
	}
	if err != nil {
		return nil, apperr.Persistence("get invoice", err)
	}
	return inv, nil
}

func (q queries) InsertOrder(ctx context.Context, order *models.Order) error {
	err := q.q.QueryRowContext(ctx, `
		INSERT INTO orders (user_id, status, shipping_address, total_amount, payment_status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`,
		order.UserID, string(order.Status), order.ShippingAddress, order.TotalAmount, string(order.PaymentStatus),
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return apperr.Persistence("insert order", err)
	}
	return nil
}

func (q queries) InsertOrderItems(ctx context.Context, orderID int64, items []models.OrderItem) error {
	if len(items) == 0 {
		return nil
	}

	values := make([]string, 0, len(items))
	args := make([]interface{}, 0, len(items)*4)
	for i, it := range items {
		n := i * 4
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4))
		args = append(args, orderID, it.ProductID, it.Quantity, it.UnitPrice)
	}

	query := `INSERT INTO order_items (order_id, product_id, quantity, unit_price) VALUES ` +
		strings.Join(values, ", ")
	if _, err := q.q.ExecContext(ctx, query, args...); err != nil {
		return apperr.Persistence("insert order items", err)
	}
	return nil
}

func (q queries) UpdateOrder(ctx context.Context, id int64, guard Guard, change OrderChange) (bool, error) {
	if change.Empty() {
		return false, apperr.InvalidInput("no_fields", "no fields to update")
	}

	var sets []string
	var args []interface{}
	set := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if change.Status != nil {
		set("status", string(*change.Status))
	}
	if change.ShippingAddress != nil {
		set("shipping_address", *change.ShippingAddress)
	}
	if change.PaymentStatus != nil {
		set("payment_status", string(*change.PaymentStatus))
	}
	if change.PaymentMethod != nil {
		set("payment_method", string(*change.PaymentMethod))
	}
	sets = append(sets, "updated_at = now()")

	args = append(args, id)
	where := fmt.Sprintf("id = $%d", len(args))
	if guard.Status != "" {
		args = append(args, string(guard.Status))
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if guard.PaymentStatus != "" {
		args = append(args, string(guard.PaymentStatus))
		where += fmt.Sprintf(" AND payment_status = $%d", len(args))
	}

	res, err := q.q.ExecContext(ctx, "UPDATE orders SET "+strings.Join(sets, ", ")+" WHERE "+where, args...)
	if err != nil {
		return false, apperr.Persistence("update order", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Persistence("update order", err)
	}
	return n > 0, nil
}

func (q queries) DeleteOrder(ctx context.Context, id int64) (bool, error) {
	if _, err := q.q.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = $1`, id); err != nil {
		return false, apperr.Persistence("delete order items", err)
	}
	if _, err := q.q.ExecContext(ctx, `DELETE FROM invoices WHERE order_id = $1`, id); err != nil {
		return false, apperr.Persistence("delete invoice", err)
	}
	res, err := q.q.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return false, apperr.Persistence("delete order", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Persistence("delete order", err)
	}
	return n > 0, nil
}

func (q queries) InsertInvoice(ctx context.Context, invoice *models.Invoice) error {
	err := q.q.QueryRowContext(ctx, `
		INSERT INTO invoices (order_id, file_path, subtotal, tax, total)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		invoice.OrderID, invoice.FilePath, invoice.Subtotal, invoice.Tax, invoice.Total,
	).Scan(&invoice.ID, &invoice.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return apperr.Conflict("invoice_exists", "invoice already exists for order")
		}
		return apperr.Persistence("insert invoice", err)
	}
	return nil
}

func (q queries) DeleteInvoice(ctx context.Context, orderID int64) (bool, error) {
	res, err := q.q.ExecContext(ctx, `DELETE FROM invoices WHERE order_id = $1`, orderID)
	if err != nil {
		return false, apperr.Persistence("delete invoice", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Persistence("delete invoice", err)
	}
	return n > 0, nil
}
