package migration

// Schema is the ordered list of migrations for the storefront database.
// Never edit a released entry; append a new version instead.
var Schema = []Migration{
	{
		Version:     1,
		Description: "users and products",
		SQL: `
CREATE TABLE IF NOT EXISTS users (
	id BIGSERIAL PRIMARY KEY,
	username VARCHAR(255) NOT NULL UNIQUE,
	email VARCHAR(255) NOT NULL,
	phone_number VARCHAR(50) NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS products (
	id BIGSERIAL PRIMARY KEY,
	name VARCHAR(255) NOT NULL,
	price NUMERIC(12,2) NOT NULL CHECK (price >= 0),
	description TEXT NOT NULL DEFAULT '',
	image_path VARCHAR(512) NOT NULL DEFAULT ''
);`,
	},
	{
		Version:     2,
		Description: "orders and order items",
		SQL: `
CREATE TABLE IF NOT EXISTS orders (
	id BIGSERIAL PRIMARY KEY,
	user_id BIGINT NOT NULL REFERENCES users(id),
	status VARCHAR(20) NOT NULL DEFAULT 'placed'
		CHECK (status IN ('placed', 'delivering', 'fulfilled', 'cancelled', 'refunded')),
	shipping_address TEXT NOT NULL DEFAULT '',
	total_amount NUMERIC(12,2) NOT NULL CHECK (total_amount >= 0),
	payment_status VARCHAR(20) NOT NULL DEFAULT 'unpaid'
		CHECK (payment_status IN ('unpaid', 'paid', 'refunded')),
	payment_method VARCHAR(20)
		CHECK (payment_method IS NULL OR payment_method IN ('card', 'cash', 'bank_transfer')),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_orders_user_id ON orders(user_id);

-- product_id is a weak reference: lines outlive catalog deletions.
CREATE TABLE IF NOT EXISTS order_items (
	id BIGSERIAL PRIMARY KEY,
	order_id BIGINT NOT NULL REFERENCES orders(id),
	product_id BIGINT NOT NULL,
	quantity INTEGER NOT NULL CHECK (quantity > 0),
	unit_price NUMERIC(12,2) NOT NULL CHECK (unit_price >= 0)
);
CREATE INDEX IF NOT EXISTS idx_order_items_order_id ON order_items(order_id);`,
	},
	{
		Version:     3,
		Description: "invoices",
		SQL: `
CREATE TABLE IF NOT EXISTS invoices (
	id BIGSERIAL PRIMARY KEY,
	order_id BIGINT NOT NULL UNIQUE REFERENCES orders(id),
	file_path TEXT NOT NULL,
	subtotal NUMERIC(12,2) NOT NULL,
	tax NUMERIC(12,2) NOT NULL,
	total NUMERIC(12,2) NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
	},
	{
		Version:     4,
		Description: "freeze order totals",
		SQL: `
CREATE OR REPLACE FUNCTION orders_total_immutable() RETURNS trigger AS $$
BEGIN
	IF NEW.total_amount <> OLD.total_amount THEN
		RAISE EXCEPTION 'orders.total_amount is immutable (order %)', OLD.id;
	END IF;
	RETURN NEW;
END;
$$ LANGUAGE plpgsql;
DROP TRIGGER IF EXISTS orders_total_immutable ON orders;
CREATE TRIGGER orders_total_immutable BEFORE UPDATE ON orders
	FOR EACH ROW EXECUTE FUNCTION orders_total_immutable();`,
	},
}
