package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/example/atelier-shop/internal/domain/cart"
	"github.com/example/atelier-shop/internal/domain/order"
	"github.com/example/atelier-shop/internal/domain/product"
)

// ConnectPostgres opens and verifies a PostgreSQL connection.
func ConnectPostgres(connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// PostgresStore implements ProductStore, CartStore and OrderStore on
// PostgreSQL. Conditional updates are expressed as guarded UPDATEs checked
// via RowsAffected, matching the DynamoDB implementation's semantics.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// InitSchema creates the tables if they do not exist.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			price_cents INTEGER NOT NULL,
			image_urls TEXT[] NOT NULL DEFAULT '{}',
			status TEXT NOT NULL,
			reserved_by TEXT NOT NULL DEFAULT '',
			reserved_until TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS carts (
			user_id TEXT PRIMARY KEY,
			items JSONB NOT NULL DEFAULT '[]',
			expires_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			status TEXT NOT NULL,
			shipment_id TEXT NOT NULL DEFAULT '',
			payment_ref TEXT NOT NULL DEFAULT '',
			doc JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS orders_user_id_idx ON orders (user_id)`,
		`CREATE INDEX IF NOT EXISTS orders_shipment_id_idx ON orders (shipment_id)`,
		`CREATE INDEX IF NOT EXISTS orders_payment_ref_idx ON orders (payment_ref)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Put(ctx context.Context, p *product.Product) error {
	var reservedUntil sql.NullTime
	if !p.ReservedUntil.IsZero() {
		reservedUntil = sql.NullTime{Time: p.ReservedUntil, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO products (id, name, description, category, price_cents, image_urls, status, reserved_by, reserved_until, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			category = EXCLUDED.category,
			price_cents = EXCLUDED.price_cents,
			image_urls = EXCLUDED.image_urls,
			status = EXCLUDED.status,
			reserved_by = EXCLUDED.reserved_by,
			reserved_until = EXCLUDED.reserved_until`,
		p.ID, p.Name, p.Description, p.Category, p.PriceCents,
		pq.Array(p.ImageURLs), string(p.Status), p.ReservedBy, reservedUntil, p.CreatedAt,
	)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*product.Product, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, category, price_cents, image_urls, status, reserved_by, reserved_until, created_at
		 FROM products WHERE id = $1`, id)
	return scanProduct(row)
}

func (s *PostgresStore) List(ctx context.Context) ([]*product.Product, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, category, price_cents, image_urls, status, reserved_by, reserved_until, created_at
		 FROM products ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []*product.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return product.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Reserve(ctx context.Context, productID, holderID string, until, now time.Time) error {
	// Single guarded UPDATE: the row-level write lock makes the
	// check-and-set atomic, the same way the DynamoDB condition does.
	result, err := s.db.ExecContext(ctx,
		`UPDATE products SET status = $2, reserved_by = $3, reserved_until = $4
		 WHERE id = $1 AND (status = $5 OR reserved_until < $6 OR reserved_by = $3)`,
		productID, string(product.StatusReserved), holderID, until,
		string(product.StatusAvailable), now,
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, productID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return product.ErrNotFound
	}
	return product.ErrReserved
}

func (s *PostgresStore) Release(ctx context.Context, productID, holderID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE products SET status = $3, reserved_by = '', reserved_until = NULL
		 WHERE id = $1 AND reserved_by = $2`,
		productID, holderID, string(product.StatusAvailable),
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*product.Product, error) {
	var p product.Product
	var status, reservedBy string
	var reservedUntil sql.NullTime
	var imageURLs pq.StringArray

	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Category, &p.PriceCents,
		&imageURLs, &status, &reservedBy, &reservedUntil, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, product.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	p.ImageURLs = imageURLs
	p.Status = product.Status(status)
	p.ReservedBy = reservedBy
	if reservedUntil.Valid {
		p.ReservedUntil = reservedUntil.Time.UTC()
	}
	return &p, nil
}

func (s *PostgresStore) GetCart(ctx context.Context, userID string) (*cart.Cart, error) {
	var items []byte
	var expiresAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT items, expires_at FROM carts WHERE user_id = $1`, userID,
	).Scan(&items, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &cart.Cart{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}

	c := &cart.Cart{UserID: userID}
	if err := json.Unmarshal(items, &c.Items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cart items: %w", err)
	}
	if expiresAt.Valid {
		c.ExpiresAt = expiresAt.Time.UTC()
	}
	return c, nil
}

func (s *PostgresStore) SaveCart(ctx context.Context, c *cart.Cart) error {
	items, err := json.Marshal(c.Items)
	if err != nil {
		return err
	}
	var expiresAt sql.NullTime
	if !c.ExpiresAt.IsZero() {
		expiresAt = sql.NullTime{Time: c.ExpiresAt, Valid: true}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO carts (user_id, items, expires_at) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE SET items = EXCLUDED.items, expires_at = EXCLUDED.expires_at`,
		c.UserID, items, expiresAt,
	)
	return err
}

func (s *PostgresStore) DeleteCart(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM carts WHERE user_id = $1`, userID)
	return err
}

func (s *PostgresStore) ListExpiredCarts(ctx context.Context, now time.Time) ([]*cart.Cart, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, items, expires_at FROM carts WHERE expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var carts []*cart.Cart
	for rows.Next() {
		var c cart.Cart
		var items []byte
		var expiresAt sql.NullTime
		if err := rows.Scan(&c.UserID, &items, &expiresAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(items, &c.Items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal cart items: %w", err)
		}
		if expiresAt.Valid {
			c.ExpiresAt = expiresAt.Time.UTC()
		}
		carts = append(carts, &c)
	}
	return carts, rows.Err()
}

func (s *PostgresStore) NextCartExpiry(ctx context.Context) (time.Time, bool, error) {
	var next sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT MIN(expires_at) FROM carts WHERE expires_at IS NOT NULL`).Scan(&next)
	if err != nil {
		return time.Time{}, false, err
	}
	if !next.Valid {
		return time.Time{}, false, nil
	}
	return next.Time.UTC(), true, nil
}

func (s *PostgresStore) PutOrder(ctx context.Context, o *order.Order) error {
	doc, err := json.Marshal(o)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO orders (id, user_id, status, shipment_id, payment_ref, doc, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			shipment_id = EXCLUDED.shipment_id,
			doc = EXCLUDED.doc`,
		o.ID, o.UserID, string(o.Status), o.ShipmentID, o.PaymentRef, doc, o.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*order.Order, error) {
	return s.getOrderWhere(ctx, `id = $1`, id)
}

func (s *PostgresStore) GetOrderByShipmentID(ctx context.Context, shipmentID string) (*order.Order, error) {
	if shipmentID == "" {
		return nil, order.ErrOrderNotFound
	}
	return s.getOrderWhere(ctx, `shipment_id = $1`, shipmentID)
}

func (s *PostgresStore) GetOrderByPaymentRef(ctx context.Context, paymentRef string) (*order.Order, error) {
	if paymentRef == "" {
		return nil, order.ErrOrderNotFound
	}
	return s.getOrderWhere(ctx, `payment_ref = $1`, paymentRef)
}

func (s *PostgresStore) getOrderWhere(ctx context.Context, where string, arg any) (*order.Order, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM orders WHERE `+where, arg).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, order.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	var o order.Order
	if err := json.Unmarshal(doc, &o); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order doc: %w", err)
	}
	return &o, nil
}

func (s *PostgresStore) ListOrdersByUser(ctx context.Context, userID string) ([]*order.Order, error) {
	return s.listOrdersWhere(ctx, `WHERE user_id = $1`, userID)
}

func (s *PostgresStore) ListAllOrders(ctx context.Context) ([]*order.Order, error) {
	return s.listOrdersWhere(ctx, ``)
}

func (s *PostgresStore) listOrdersWhere(ctx context.Context, where string, args ...any) ([]*order.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM orders `+where+` ORDER BY created_at DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*order.Order
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var o order.Order
		if err := json.Unmarshal(doc, &o); err != nil {
			return nil, fmt.Errorf("failed to unmarshal order doc: %w", err)
		}
		orders = append(orders, &o)
	}
	return orders, rows.Err()
}

func (s *PostgresStore) UpdateOrderStatus(ctx context.Context, orderID string, allowedFrom []order.Status, mutate func(*order.Order)) (*order.Order, error) {
	o, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	prev := o.Status
	if !statusIn(prev, allowedFrom) {
		return nil, ErrStatusConflict
	}

	mutate(o)

	doc, err := json.Marshal(o)
	if err != nil {
		return nil, err
	}

	// Guarded UPDATE: only lands if nobody moved the status since the read.
	result, err := s.db.ExecContext(ctx,
		`UPDATE orders SET status = $2, shipment_id = $3, doc = $4
		 WHERE id = $1 AND status = $5`,
		orderID, string(o.Status), o.ShipmentID, doc, string(prev),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrStatusConflict
	}
	return o, nil
}
