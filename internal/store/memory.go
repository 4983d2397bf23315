package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rosepetal/storefront/internal/apperr"
	"github.com/rosepetal/storefront/pkg/models"
)

// MemoryStore keeps every table in maps. WithTx works on a deep copy of the
// tables and swaps it in only when fn succeeds, so a failing fn leaves no
// trace.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memState
}

type memState struct {
	products map[int64]models.Product
	users    map[int64]models.User
	orders   map[int64]models.Order
	items    map[int64][]models.OrderItem // by order id
	invoices map[int64]models.Invoice     // by order id

	nextProductID int64
	nextUserID    int64
	nextOrderID   int64
	nextItemID    int64
	nextInvoiceID int64
}

func NewMemory() *MemoryStore {
	return &MemoryStore{state: &memState{
		products: make(map[int64]models.Product),
		users:    make(map[int64]models.User),
		orders:   make(map[int64]models.Order),
		items:    make(map[int64][]models.OrderItem),
		invoices: make(map[int64]models.Invoice),
	}}
}

func (s *memState) clone() *memState {
	c := *s
	c.products = make(map[int64]models.Product, len(s.products))
	for k, v := range s.products {
		c.products[k] = v
	}
	c.users = make(map[int64]models.User, len(s.users))
	for k, v := range s.users {
		c.users[k] = v
	}
	c.orders = make(map[int64]models.Order, len(s.orders))
	for k, v := range s.orders {
		c.orders[k] = v
	}
	c.items = make(map[int64][]models.OrderItem, len(s.items))
	for k, v := range s.items {
		c.items[k] = append([]models.OrderItem(nil), v...)
	}
	c.invoices = make(map[int64]models.Invoice, len(s.invoices))
	for k, v := range s.invoices {
		c.invoices[k] = v
	}
	return &c
}

// AddProduct seeds a catalog row and returns it with its assigned id.
func (m *MemoryStore) AddProduct(name string, price decimal.Decimal) models.Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.nextProductID++
	p := models.Product{ID: m.state.nextProductID, Name: name, Price: price}
	m.state.products[p.ID] = p
	return p
}

// SetProductPrice reprices a catalog row in place.
func (m *MemoryStore) SetProductPrice(id int64, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.state.products[id]; ok {
		p.Price = price
		m.state.products[id] = p
	}
}

func (m *MemoryStore) RemoveProduct(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.state.products, id)
}

func (m *MemoryStore) AddUser(username, email string) models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.nextUserID++
	u := models.User{ID: m.state.nextUserID, Username: username, Email: email}
	m.state.users[u.ID] = u
	return u
}

// Counts reports the number of order headers and order lines stored.
func (m *MemoryStore) Counts() (orders, items int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, lines := range m.state.items {
		items += len(lines)
	}
	return len(m.state.orders), items
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	working := m.state.clone()
	if err := fn(memTx{s: working}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return apperr.Persistence("commit transaction", err)
	}
	m.state = working
	return nil
}

func (m *MemoryStore) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return memTx{s: m.state}.GetProduct(ctx, id)
}

func (m *MemoryStore) ListProducts(ctx context.Context) ([]models.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return memTx{s: m.state}.ListProducts(ctx)
}

func (m *MemoryStore) GetUser(ctx context.Context, id int64) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return memTx{s: m.state}.GetUser(ctx, id)
}

func (m *MemoryStore) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return memTx{s: m.state}.GetOrder(ctx, id)
}

func (m *MemoryStore) ListOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return memTx{s: m.state}.ListOrderItems(ctx, orderID)
}

func (m *MemoryStore) ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return memTx{s: m.state}.ListOrdersByUser(ctx, userID)
}

func (m *MemoryStore) GetInvoice(ctx context.Context, orderID int64) (*models.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return memTx{s: m.state}.GetInvoice(ctx, orderID)
}

// Single writes outside WithTx are their own transaction.

func (m *MemoryStore) InsertOrder(ctx context.Context, order *models.Order) error {
	return m.WithTx(ctx, func(tx Tx) error { return tx.InsertOrder(ctx, order) })
}

func (m *MemoryStore) InsertOrderItems(ctx context.Context, orderID int64, items []models.OrderItem) error {
	return m.WithTx(ctx, func(tx Tx) error { return tx.InsertOrderItems(ctx, orderID, items) })
}

func (m *MemoryStore) UpdateOrder(ctx context.Context, id int64, guard Guard, change OrderChange) (bool, error) {
	var ok bool
	err := m.WithTx(ctx, func(tx Tx) error {
		var err error
		ok, err = tx.UpdateOrder(ctx, id, guard, change)
		return err
	})
	return ok, err
}

func (m *MemoryStore) DeleteOrder(ctx context.Context, id int64) (bool, error) {
	var ok bool
	err := m.WithTx(ctx, func(tx Tx) error {
		var err error
		ok, err = tx.DeleteOrder(ctx, id)
		return err
	})
	return ok, err
}

func (m *MemoryStore) InsertInvoice(ctx context.Context, invoice *models.Invoice) error {
	return m.WithTx(ctx, func(tx Tx) error { return tx.InsertInvoice(ctx, invoice) })
}

func (m *MemoryStore) DeleteInvoice(ctx context.Context, orderID int64) (bool, error) {
	var ok bool
	err := m.WithTx(ctx, func(tx Tx) error {
		var err error
		ok, err = tx.DeleteInvoice(ctx, orderID)
		return err
	})
	return ok, err
}

type memTx struct {
	s *memState
}

func (t memTx) GetProduct(_ context.Context, id int64) (*models.Product, error) {
	p, ok := t.s.products[id]
	if !ok {
		return nil, apperr.ErrProductNotFound
	}
	return &p, nil
}

func (t memTx) ListProducts(context.Context) ([]models.Product, error) {
	products := make([]models.Product, 0, len(t.s.products))
	for _, p := range t.s.products {
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool { return products[i].ID < products[j].ID })
	return products, nil
}

func (t memTx) GetUser(_ context.Context, id int64) (*models.User, error) {
	u, ok := t.s.users[id]
	if !ok {
		return nil, apperr.ErrUserNotFound
	}
	return &u, nil
}

func (t memTx) GetOrder(_ context.Context, id int64) (*models.Order, error) {
	o, ok := t.s.orders[id]
	if !ok {
		return nil, apperr.ErrOrderNotFound
	}
	return &o, nil
}

func (t memTx) ListOrderItems(_ context.Context, orderID int64) ([]models.OrderItem, error) {
	lines := t.s.items[orderID]
	items := make([]models.OrderItem, 0, len(lines))
	for _, it := range lines {
		if p, ok := t.s.products[it.ProductID]; ok {
			it.ProductName = p.Name
			it.ImagePath = p.ImagePath
		}
		items = append(items, it)
	}
	return items, nil
}

func (t memTx) ListOrdersByUser(_ context.Context, userID int64) ([]models.Order, error) {
	var orders []models.Order
	for _, o := range t.s.orders {
		if o.UserID == userID {
			orders = append(orders, o)
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID > orders[j].ID })
	return orders, nil
}

func (t memTx) GetInvoice(_ context.Context, orderID int64) (*models.Invoice, error) {
	inv, ok := t.s.invoices[orderID]
	if !ok {
		return nil, apperr.ErrInvoiceNotFound
	}
	return &inv, nil
}

func (t memTx) InsertOrder(_ context.Context, order *models.Order) error {
	if _, ok := t.s.users[order.UserID]; !ok {
		return apperr.Persistence("insert order", apperr.ErrUserNotFound)
	}
	t.s.nextOrderID++
	now := time.Now().UTC()
	order.ID = t.s.nextOrderID
	order.CreatedAt = now
	order.UpdatedAt = now
	stored := *order
	stored.Items = nil
	t.s.orders[order.ID] = stored
	return nil
}

func (t memTx) InsertOrderItems(_ context.Context, orderID int64, items []models.OrderItem) error {
	if _, ok := t.s.orders[orderID]; !ok {
		return apperr.Persistence("insert order items", apperr.ErrOrderNotFound)
	}
	for _, it := range items {
		if it.Quantity <= 0 {
			return apperr.Persistence("insert order items", apperr.InvalidInput("invalid_quantity", "quantity must be positive"))
		}
		t.s.nextItemID++
		it.ID = t.s.nextItemID
		it.OrderID = orderID
		it.ProductName = ""
		it.ImagePath = ""
		t.s.items[orderID] = append(t.s.items[orderID], it)
	}
	return nil
}

func (t memTx) UpdateOrder(_ context.Context, id int64, guard Guard, change OrderChange) (bool, error) {
	if change.Empty() {
		return false, apperr.InvalidInput("no_fields", "no fields to update")
	}
	o, ok := t.s.orders[id]
	if !ok {
		return false, nil
	}
	if guard.Status != "" && o.Status != guard.Status {
		return false, nil
	}
	if guard.PaymentStatus != "" && o.PaymentStatus != guard.PaymentStatus {
		return false, nil
	}

	if change.Status != nil {
		o.Status = *change.Status
	}
	if change.ShippingAddress != nil {
		o.ShippingAddress = *change.ShippingAddress
	}
	if change.PaymentStatus != nil {
		o.PaymentStatus = *change.PaymentStatus
	}
	if change.PaymentMethod != nil {
		o.PaymentMethod = *change.PaymentMethod
	}
	o.UpdatedAt = time.Now().UTC()
	t.s.orders[id] = o
	return true, nil
}

func (t memTx) DeleteOrder(_ context.Context, id int64) (bool, error) {
	delete(t.s.items, id)
	delete(t.s.invoices, id)
	if _, ok := t.s.orders[id]; !ok {
		return false, nil
	}
	delete(t.s.orders, id)
	return true, nil
}

func (t memTx) InsertInvoice(_ context.Context, invoice *models.Invoice) error {
	if _, ok := t.s.invoices[invoice.OrderID]; ok {
		return apperr.Conflict("invoice_exists", "invoice already exists for order")
	}
	if _, ok := t.s.orders[invoice.OrderID]; !ok {
		return apperr.Persistence("insert invoice", apperr.ErrOrderNotFound)
	}
	t.s.nextInvoiceID++
	invoice.ID = t.s.nextInvoiceID
	invoice.CreatedAt = time.Now().UTC()
	t.s.invoices[invoice.OrderID] = *invoice
	return nil
}

func (t memTx) DeleteInvoice(_ context.Context, orderID int64) (bool, error) {
	if _, ok := t.s.invoices[orderID]; !ok {
		return false, nil
	}
	delete(t.s.invoices, orderID)
	return true, nil
}
