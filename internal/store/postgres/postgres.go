package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"github.com/imbasito/spos-sub001/internal/domain"
	"github.com/imbasito/spos-sub001/internal/store"
	"github.com/imbasito/spos-sub001/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListProducts(ctx context.Context, page int, pageSize int) ([]domain.Product, error) {
	if pageSize < 1 {
		pageSize = 500
	}
	if page < 1 {
		page = 1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, price, discount, discount_type, quantity, active, created_at
		FROM products
		WHERE active = true
		ORDER BY name
		LIMIT $1 OFFSET $2
	`, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, pageSize)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Discount, &p.DiscountType, &p.Quantity, &p.Active, &p.CreatedAt); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, price, discount, discount_type, quantity, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, product.ID, product.Name, product.Price, product.Discount, product.DiscountType, product.Quantity, product.Active, product.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrValidation
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, price, discount, discount_type, quantity, active, created_at
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Price, &p.Discount, &p.DiscountType, &p.Quantity, &p.Active, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, price, discount, discount_type, quantity, active, created_at
		FROM products
		WHERE active = true AND id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Discount, &p.DiscountType, &p.Quantity, &p.Active, &p.CreatedAt); err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, price = $3, discount = $4, discount_type = $5, quantity = $6, active = $7
		WHERE id = $1
	`, product.ID, product.Name, product.Price, product.Discount, product.DiscountType, product.Quantity, product.Active)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	return s.GetProductByID(ctx, product.ID)
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, phone, created_at)
		VALUES ($1,$2,$3,$4)
	`, customer.ID, customer.Name, customer.Phone, customer.CreatedAt)
	if err != nil {
		return nil, err
	}

	created := customer
	return &created, nil
}

func (s *Store) GetCustomerByID(ctx context.Context, id string) (*domain.Customer, error) {
	var c domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, phone, created_at
		FROM customers
		WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Phone, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, phone, created_at
		FROM customers
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &c.CreatedAt); err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return customers, nil
}

func (s *Store) CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suppliers (id, name, phone, created_at)
		VALUES ($1,$2,$3,$4)
	`, supplier.ID, supplier.Name, supplier.Phone, supplier.CreatedAt)
	if err != nil {
		return nil, err
	}

	created := supplier
	return &created, nil
}

func (s *Store) GetSupplierByID(ctx context.Context, id string) (*domain.Supplier, error) {
	var sup domain.Supplier
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, phone, created_at
		FROM suppliers
		WHERE id = $1
	`, id).Scan(&sup.ID, &sup.Name, &sup.Phone, &sup.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &sup, nil
}

func (s *Store) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, phone, created_at
		FROM suppliers
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	suppliers := make([]domain.Supplier, 0, 32)
	for rows.Next() {
		var sup domain.Supplier
		if err := rows.Scan(&sup.ID, &sup.Name, &sup.Phone, &sup.CreatedAt); err != nil {
			return nil, err
		}
		suppliers = append(suppliers, sup)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return suppliers, nil
}

func (s *Store) CreateOrder(ctx context.Context, order domain.Order, initial domain.OrderTransaction) (*domain.Order, error) {
	if len(order.Lines) == 0 {
		return nil, store.ErrValidation
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	// Aggregate per product so multi-line orders against the same
	// product are decremented once, with the full requested quantity.
	requested := make(map[string]decimal.Decimal, len(order.Lines))
	for _, line := range order.Lines {
		if !line.Quantity.IsPositive() {
			return nil, store.ErrValidation
		}
		requested[line.ProductID] = requested[line.ProductID].Add(line.Quantity)
	}

	for productID, qty := range requested {
		res, err := pgTx.ExecContext(ctx, `
			UPDATE products
			SET quantity = quantity - $1
			WHERE id = $2 AND active = true AND quantity >= $1
		`, qty, productID)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			// The guard failed. Distinguish a missing product from a
			// stock shortfall for the error message; either way the
			// rollback undoes every decrement already applied.
			var name string
			var available decimal.Decimal
			lookupErr := pgTx.QueryRowContext(ctx, `
				SELECT name, quantity FROM products WHERE id = $1 AND active = true
			`, productID).Scan(&name, &available)
			if errors.Is(lookupErr, sql.ErrNoRows) {
				return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, productID)
			}
			if lookupErr != nil {
				return nil, lookupErr
			}
			return nil, fmt.Errorf("%w: stock would go negative for %s, current stock: %s",
				store.ErrInsufficientStock, name, available)
		}
	}

	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO orders (id, customer_id, sub_total, discount, tax_rate, tax_amount, total, paid, due, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, order.ID, nullIfEmpty(order.CustomerID), order.SubTotal, order.Discount, order.TaxRate, order.TaxAmount,
		order.Total, order.Paid, order.Due, order.Status, order.CreatedAt)
	if err != nil {
		return nil, err
	}

	for i := range order.Lines {
		line := &order.Lines[i]
		if line.ID == "" {
			line.ID = xid.New("oln")
		}
		line.OrderID = order.ID
		_, err = pgTx.ExecContext(ctx, `
			INSERT INTO order_lines (id, order_id, product_id, product_name, quantity, unit_price, line_total)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, line.ID, line.OrderID, line.ProductID, line.ProductName, line.Quantity, line.UnitPrice, line.LineTotal)
		if err != nil {
			return nil, err
		}
	}

	initial.OrderID = order.ID
	if initial.ID == "" {
		initial.ID = xid.New("trx")
	}
	if initial.CreatedAt.IsZero() {
		initial.CreatedAt = order.CreatedAt
	}
	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO order_transactions (id, order_id, amount, method, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, initial.ID, initial.OrderID, initial.Amount, initial.Method, initial.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	created := order
	return &created, nil
}

func (s *Store) GetOrderByID(ctx context.Context, id string) (*domain.Order, error) {
	var order domain.Order
	var customerID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, customer_id, sub_total, discount, tax_rate, tax_amount, total, paid, due, status, created_at
		FROM orders
		WHERE id = $1
	`, id).Scan(&order.ID, &customerID, &order.SubTotal, &order.Discount, &order.TaxRate, &order.TaxAmount,
		&order.Total, &order.Paid, &order.Due, &order.Status, &order.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	order.CustomerID = customerID.String

	lines, err := s.orderLines(ctx, id)
	if err != nil {
		return nil, err
	}
	order.Lines = lines
	return &order, nil
}

func (s *Store) orderLines(ctx context.Context, orderID string) ([]domain.OrderLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, product_id, product_name, quantity, unit_price, line_total
		FROM order_lines
		WHERE order_id = $1
		ORDER BY id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.OrderLine, 0, 8)
	for rows.Next() {
		var line domain.OrderLine
		if err := rows.Scan(&line.ID, &line.OrderID, &line.ProductID, &line.ProductName, &line.Quantity, &line.UnitPrice, &line.LineTotal); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return lines, nil
}

func (s *Store) ListOrders(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Order, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id, sub_total, discount, tax_rate, tax_amount, total, paid, due, status, created_at
		FROM orders
		WHERE created_at >= $1 AND created_at <= $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, limit)
	for rows.Next() {
		var order domain.Order
		var customerID sql.NullString
		if err := rows.Scan(&order.ID, &customerID, &order.SubTotal, &order.Discount, &order.TaxRate, &order.TaxAmount,
			&order.Total, &order.Paid, &order.Due, &order.Status, &order.CreatedAt); err != nil {
			return nil, err
		}
		order.CustomerID = customerID.String
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return orders, nil
}

func (s *Store) ListOrderTransactions(ctx context.Context, orderID string) ([]domain.OrderTransaction, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, store.ErrNotFound
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, amount, method, created_at
		FROM order_transactions
		WHERE order_id = $1
		ORDER BY created_at ASC
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txns := make([]domain.OrderTransaction, 0, 4)
	for rows.Next() {
		var txn domain.OrderTransaction
		if err := rows.Scan(&txn.ID, &txn.OrderID, &txn.Amount, &txn.Method, &txn.CreatedAt); err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return txns, nil
}

func (s *Store) CollectDue(ctx context.Context, orderID string, txn domain.OrderTransaction) (*domain.Order, *domain.OrderTransaction, error) {
	if !txn.Amount.IsPositive() {
		return nil, nil, store.ErrValidation
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var total, paid, due decimal.Decimal
	err = pgTx.QueryRowContext(ctx, `
		SELECT total, paid, due FROM orders WHERE id = $1 FOR UPDATE
	`, orderID).Scan(&total, &paid, &due)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, store.ErrNotFound
		}
		return nil, nil, err
	}

	if txn.Amount.GreaterThan(due) {
		return nil, nil, fmt.Errorf("%w: outstanding due is %s", store.ErrOverpayment, due)
	}

	paid = paid.Add(txn.Amount)
	due = clampedDue(total, paid)
	status := statusFor(due)

	_, err = pgTx.ExecContext(ctx, `
		UPDATE orders SET paid = $2, due = $3, status = $4 WHERE id = $1
	`, orderID, paid, due, status)
	if err != nil {
		return nil, nil, err
	}

	txn.OrderID = orderID
	if txn.ID == "" {
		txn.ID = xid.New("trx")
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now().UTC()
	}
	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO order_transactions (id, order_id, amount, method, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, txn.ID, txn.OrderID, txn.Amount, txn.Method, txn.CreatedAt)
	if err != nil {
		return nil, nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, nil, err
	}

	order, err := s.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	savedTxn := txn
	return order, &savedTxn, nil
}

func (s *Store) GetReturnedQtyByOrderLine(ctx context.Context, orderID string) (map[string]decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ri.order_line_id, COALESCE(SUM(ri.quantity), 0)
		FROM return_items ri
		JOIN product_returns pr ON pr.id = ri.return_id
		WHERE pr.order_id = $1
		GROUP BY ri.order_line_id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]decimal.Decimal)
	for rows.Next() {
		var lineID string
		var qty decimal.Decimal
		if err := rows.Scan(&lineID, &qty); err != nil {
			return nil, err
		}
		result[lineID] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Store) CreateProductReturn(ctx context.Context, ret domain.ProductReturn, restock bool) (*domain.ProductReturn, error) {
	if len(ret.Items) == 0 {
		return nil, store.ErrValidation
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var total, paid, due decimal.Decimal
	err = pgTx.QueryRowContext(ctx, `
		SELECT total, paid, due FROM orders WHERE id = $1 FOR UPDATE
	`, ret.OrderID).Scan(&total, &paid, &due)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	lineRows, err := pgTx.QueryContext(ctx, `
		SELECT id, product_id, product_name, quantity
		FROM order_lines
		WHERE order_id = $1
	`, ret.OrderID)
	if err != nil {
		return nil, err
	}
	linesByID := make(map[string]domain.OrderLine, 8)
	for lineRows.Next() {
		var line domain.OrderLine
		if err := lineRows.Scan(&line.ID, &line.ProductID, &line.ProductName, &line.Quantity); err != nil {
			_ = lineRows.Close()
			return nil, err
		}
		linesByID[line.ID] = line
	}
	if err := lineRows.Err(); err != nil {
		_ = lineRows.Close()
		return nil, err
	}
	_ = lineRows.Close()

	returnedRows, err := pgTx.QueryContext(ctx, `
		SELECT ri.order_line_id, COALESCE(SUM(ri.quantity), 0)
		FROM return_items ri
		JOIN product_returns pr ON pr.id = ri.return_id
		WHERE pr.order_id = $1
		GROUP BY ri.order_line_id
	`, ret.OrderID)
	if err != nil {
		return nil, err
	}
	alreadyReturned := make(map[string]decimal.Decimal, len(linesByID))
	for returnedRows.Next() {
		var lineID string
		var qty decimal.Decimal
		if err := returnedRows.Scan(&lineID, &qty); err != nil {
			_ = returnedRows.Close()
			return nil, err
		}
		alreadyReturned[lineID] = qty
	}
	if err := returnedRows.Err(); err != nil {
		_ = returnedRows.Close()
		return nil, err
	}
	_ = returnedRows.Close()

	totalRefund := decimal.Zero
	for _, item := range ret.Items {
		line, ok := linesByID[item.OrderLineID]
		if !ok {
			return nil, fmt.Errorf("%w: order line %s", store.ErrNotFound, item.OrderLineID)
		}
		if !item.Quantity.IsPositive() {
			return nil, store.ErrValidation
		}
		remaining := line.Quantity.Sub(alreadyReturned[item.OrderLineID])
		if item.Quantity.GreaterThan(remaining) {
			return nil, fmt.Errorf("%w: %s has %s returnable", store.ErrOverReturn, line.ProductName, remaining)
		}
		totalRefund = totalRefund.Add(item.RefundAmount)
	}

	// The counter is floored by the max suffix still on record, so
	// numbers stay strictly increasing even after the highest-numbered
	// return is deleted.
	var maxSuffix int
	err = pgTx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(CAST(SUBSTRING(return_number FROM 5) AS INTEGER)), 0)
		FROM product_returns
	`).Scan(&maxSuffix)
	if err != nil {
		return nil, err
	}
	var seq int
	err = pgTx.QueryRowContext(ctx, `
		INSERT INTO return_counters (id, last_seq)
		VALUES (1, $1 + 1)
		ON CONFLICT (id) DO UPDATE SET last_seq = GREATEST(return_counters.last_seq, $1) + 1
		RETURNING last_seq
	`, maxSuffix).Scan(&seq)
	if err != nil {
		return nil, err
	}
	ret.ReturnNumber = fmt.Sprintf("RET-%04d", seq)

	ret.TotalRefund = totalRefund
	ret.DebtCleared = decimal.Min(totalRefund, due)
	ret.CashBack = totalRefund.Sub(ret.DebtCleared)
	ret.Restocked = restock

	paid = paid.Add(ret.DebtCleared)
	due = clampedDue(total, paid)
	_, err = pgTx.ExecContext(ctx, `
		UPDATE orders SET paid = $2, due = $3, status = $4 WHERE id = $1
	`, ret.OrderID, paid, due, statusFor(due))
	if err != nil {
		return nil, err
	}

	if restock {
		for _, item := range ret.Items {
			_, err = pgTx.ExecContext(ctx, `
				UPDATE products SET quantity = quantity + $1 WHERE id = $2
			`, item.Quantity, item.ProductID)
			if err != nil {
				return nil, err
			}
		}
	}

	if ret.ID == "" {
		ret.ID = xid.New("ret")
	}
	if ret.CreatedAt.IsZero() {
		ret.CreatedAt = time.Now().UTC()
	}
	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO product_returns (id, order_id, return_number, total_refund, debt_cleared, cash_back, reason, processed_by, restocked, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, ret.ID, ret.OrderID, ret.ReturnNumber, ret.TotalRefund, ret.DebtCleared, ret.CashBack, ret.Reason, ret.ProcessedBy, ret.Restocked, ret.CreatedAt)
	if err != nil {
		return nil, err
	}

	for i := range ret.Items {
		item := &ret.Items[i]
		item.ReturnID = ret.ID
		_, err = pgTx.ExecContext(ctx, `
			INSERT INTO return_items (return_id, order_line_id, product_id, quantity, refund_amount)
			VALUES ($1,$2,$3,$4,$5)
		`, item.ReturnID, item.OrderLineID, item.ProductID, item.Quantity, item.RefundAmount)
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	created := ret
	return &created, nil
}

func (s *Store) ListReturnsByOrder(ctx context.Context, orderID string) ([]domain.ProductReturn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, return_number, total_refund, debt_cleared, cash_back, reason, processed_by, restocked, created_at
		FROM product_returns
		WHERE order_id = $1
		ORDER BY CAST(SUBSTRING(return_number FROM 5) AS INTEGER)
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	returns := make([]domain.ProductReturn, 0, 4)
	for rows.Next() {
		var ret domain.ProductReturn
		if err := rows.Scan(&ret.ID, &ret.OrderID, &ret.ReturnNumber, &ret.TotalRefund, &ret.DebtCleared, &ret.CashBack,
			&ret.Reason, &ret.ProcessedBy, &ret.Restocked, &ret.CreatedAt); err != nil {
			return nil, err
		}
		returns = append(returns, ret)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range returns {
		items, err := s.returnItems(ctx, returns[i].ID)
		if err != nil {
			return nil, err
		}
		returns[i].Items = items
	}

	return returns, nil
}

func (s *Store) returnItems(ctx context.Context, returnID string) ([]domain.ReturnItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT return_id, order_line_id, product_id, quantity, refund_amount
		FROM return_items
		WHERE return_id = $1
	`, returnID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.ReturnItem, 0, 4)
	for rows.Next() {
		var item domain.ReturnItem
		if err := rows.Scan(&item.ReturnID, &item.OrderLineID, &item.ProductID, &item.Quantity, &item.RefundAmount); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

func (s *Store) DeleteProductReturn(ctx context.Context, returnID string) error {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	if _, err := pgTx.ExecContext(ctx, `DELETE FROM return_items WHERE return_id = $1`, returnID); err != nil {
		return err
	}
	res, err := pgTx.ExecContext(ctx, `DELETE FROM product_returns WHERE id = $1`, returnID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}

	return pgTx.Commit()
}

func (s *Store) CreatePurchase(ctx context.Context, purchase domain.Purchase) (*domain.Purchase, error) {
	if len(purchase.Lines) == 0 {
		return nil, store.ErrValidation
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var exists bool
	if err := pgTx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM suppliers WHERE id = $1)`, purchase.SupplierID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: supplier %s", store.ErrNotFound, purchase.SupplierID)
	}

	if purchase.ID == "" {
		purchase.ID = xid.New("pur")
	}
	if purchase.CreatedAt.IsZero() {
		purchase.CreatedAt = time.Now().UTC()
	}

	total := decimal.Zero
	for _, line := range purchase.Lines {
		if !line.Quantity.IsPositive() || line.UnitCost.IsNegative() {
			return nil, store.ErrValidation
		}
		res, err := pgTx.ExecContext(ctx, `
			UPDATE products SET quantity = quantity + $1 WHERE id = $2
		`, line.Quantity, line.ProductID)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, line.ProductID)
		}
		total = total.Add(line.Quantity.Mul(line.UnitCost))
	}
	purchase.TotalCost = total.Round(2)

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO purchases (id, supplier_id, total_cost, created_at)
		VALUES ($1,$2,$3,$4)
	`, purchase.ID, purchase.SupplierID, purchase.TotalCost, purchase.CreatedAt)
	if err != nil {
		return nil, err
	}

	for i := range purchase.Lines {
		line := &purchase.Lines[i]
		line.PurchaseID = purchase.ID
		_, err = pgTx.ExecContext(ctx, `
			INSERT INTO purchase_lines (purchase_id, product_id, quantity, unit_cost)
			VALUES ($1,$2,$3,$4)
		`, line.PurchaseID, line.ProductID, line.Quantity, line.UnitCost)
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	created := purchase
	return &created, nil
}

func (s *Store) ListPurchases(ctx context.Context, limit int) ([]domain.Purchase, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, supplier_id, total_cost, created_at
		FROM purchases
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	purchases := make([]domain.Purchase, 0, limit)
	for rows.Next() {
		var p domain.Purchase
		if err := rows.Scan(&p.ID, &p.SupplierID, &p.TotalCost, &p.CreatedAt); err != nil {
			return nil, err
		}
		purchases = append(purchases, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return purchases, nil
}

func (s *Store) CloseRegister(ctx context.Context, countedCash decimal.Decimal, closedBy string, now time.Time) (*domain.DailyClosing, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	windowStart := time.Unix(0, 0).UTC()
	err = pgTx.QueryRowContext(ctx, `
		SELECT window_end FROM daily_closings ORDER BY window_end DESC LIMIT 1
	`).Scan(&windowStart)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	var orderTotal decimal.Decimal
	err = pgTx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total), 0) FROM orders WHERE created_at > $1 AND created_at <= $2
	`, windowStart, now).Scan(&orderTotal)
	if err != nil {
		return nil, err
	}

	var refundTotal decimal.Decimal
	err = pgTx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total_refund), 0) FROM product_returns WHERE created_at > $1 AND created_at <= $2
	`, windowStart, now).Scan(&refundTotal)
	if err != nil {
		return nil, err
	}

	expected := orderTotal.Sub(refundTotal).Round(2)
	closing := domain.DailyClosing{
		ID:           xid.New("cls"),
		WindowStart:  windowStart,
		WindowEnd:    now,
		ExpectedCash: expected,
		CountedCash:  countedCash.Round(2),
		Difference:   countedCash.Sub(expected).Round(2),
		ClosedBy:     closedBy,
		CreatedAt:    now,
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO daily_closings (id, window_start, window_end, expected_cash, counted_cash, difference, closed_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, closing.ID, closing.WindowStart, closing.WindowEnd, closing.ExpectedCash, closing.CountedCash, closing.Difference, closing.ClosedBy, closing.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	created := closing
	return &created, nil
}

func (s *Store) ListDailyClosings(ctx context.Context, limit int) ([]domain.DailyClosing, error) {
	if limit < 1 {
		limit = 30
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, window_start, window_end, expected_cash, counted_cash, difference, closed_by, created_at
		FROM daily_closings
		ORDER BY window_end DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	closings := make([]domain.DailyClosing, 0, limit)
	for rows.Next() {
		var c domain.DailyClosing
		if err := rows.Scan(&c.ID, &c.WindowStart, &c.WindowEnd, &c.ExpectedCash, &c.CountedCash, &c.Difference, &c.ClosedBy, &c.CreatedAt); err != nil {
			return nil, err
		}
		closings = append(closings, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return closings, nil
}

func (s *Store) GetCartLines(ctx context.Context, username string) ([]domain.CartLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, product_id, product_name, quantity, price_override, row_total_override, updated_at
		FROM cart_lines
		WHERE username = $1
		ORDER BY updated_at ASC
	`, username)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.CartLine, 0, 8)
	for rows.Next() {
		line, err := scanCartLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return lines, nil
}

func (s *Store) GetCartLine(ctx context.Context, lineID string) (*domain.CartLine, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, product_id, product_name, quantity, price_override, row_total_override, updated_at
		FROM cart_lines
		WHERE id = $1
	`, lineID)
	line, err := scanCartLine(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &line, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCartLine(row rowScanner) (domain.CartLine, error) {
	var line domain.CartLine
	var priceOverride, rowTotalOverride decimal.NullDecimal
	err := row.Scan(&line.ID, &line.Username, &line.ProductID, &line.ProductName, &line.Quantity,
		&priceOverride, &rowTotalOverride, &line.UpdatedAt)
	if err != nil {
		return domain.CartLine{}, err
	}
	if priceOverride.Valid {
		v := priceOverride.Decimal
		line.PriceOverride = &v
	}
	if rowTotalOverride.Valid {
		v := rowTotalOverride.Decimal
		line.RowTotalOverride = &v
	}
	return line, nil
}

func (s *Store) UpsertCartLine(ctx context.Context, line domain.CartLine) (*domain.CartLine, error) {
	if line.Username == "" || line.ProductID == "" || !line.Quantity.IsPositive() {
		return nil, store.ErrValidation
	}
	if line.ID == "" {
		line.ID = xid.New("crt")
	}
	line.UpdatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cart_lines (id, username, product_id, product_name, quantity, price_override, row_total_override, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			price_override = EXCLUDED.price_override,
			row_total_override = EXCLUDED.row_total_override,
			updated_at = EXCLUDED.updated_at
	`, line.ID, line.Username, line.ProductID, line.ProductName, line.Quantity,
		nullDecimal(line.PriceOverride), nullDecimal(line.RowTotalOverride), line.UpdatedAt)
	if err != nil {
		return nil, err
	}

	saved := line
	return &saved, nil
}

func (s *Store) DeleteCartLine(ctx context.Context, lineID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cart_lines WHERE id = $1`, lineID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ClearCart(ctx context.Context, username string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cart_lines WHERE username = $1`, username)
	return err
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at <= $2
		ORDER BY created_at ASC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrValidation
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrValidation
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Password, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func clampedDue(total decimal.Decimal, paid decimal.Decimal) decimal.Decimal {
	due := total.Sub(paid)
	if due.IsNegative() {
		return decimal.Zero
	}
	return due
}

func statusFor(due decimal.Decimal) string {
	if due.IsZero() {
		return domain.OrderStatusPaid
	}
	return domain.OrderStatusDue
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
