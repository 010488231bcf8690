package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/imbasito/spos-sub001/internal/domain"
	"github.com/imbasito/spos-sub001/internal/store"
	"github.com/imbasito/spos-sub001/internal/xid"
)

type Store struct {
	mu                  sync.RWMutex
	products            map[string]domain.Product
	customersByID       map[string]domain.Customer
	suppliersByID       map[string]domain.Supplier
	ordersByID          map[string]*domain.Order
	transactionsByOrder map[string][]domain.OrderTransaction
	returnsByID         map[string]domain.ProductReturn
	returnSeq           int
	purchasesByID       map[string]domain.Purchase
	closings            []domain.DailyClosing
	cartLinesByID       map[string]domain.CartLine
	auditLogs           []domain.AuditLog
	usersByUsername     map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func New() *Store {
	return &Store{
		products:            make(map[string]domain.Product),
		customersByID:       make(map[string]domain.Customer),
		suppliersByID:       make(map[string]domain.Supplier),
		ordersByID:          make(map[string]*domain.Order),
		transactionsByOrder: make(map[string][]domain.OrderTransaction),
		returnsByID:         make(map[string]domain.ProductReturn),
		purchasesByID:       make(map[string]domain.Purchase),
		closings:            make([]domain.DailyClosing, 0, 16),
		cartLinesByID:       make(map[string]domain.CartLine),
		auditLogs:           make([]domain.AuditLog, 0, 128),
		usersByUsername:     seedUsers(),
	}
}

func NewSeeded() *Store {
	s := New()

	now := time.Now().UTC()
	products := []domain.Product{
		{ID: "prd-kaju-katli", Name: "Kaju Katli", Price: dec("820.00"), Discount: dec("5"), DiscountType: domain.DiscountTypePercentage, Quantity: dec("24.500"), Active: true, CreatedAt: now},
		{ID: "prd-gulab-jamun", Name: "Gulab Jamun", Price: dec("320.00"), Discount: decimal.Zero, DiscountType: domain.DiscountTypeFixed, Quantity: dec("40.000"), Active: true, CreatedAt: now},
		{ID: "prd-rasgulla", Name: "Rasgulla", Price: dec("280.00"), Discount: dec("20"), DiscountType: domain.DiscountTypeFixed, Quantity: dec("36.000"), Active: true, CreatedAt: now},
		{ID: "prd-besan-ladoo", Name: "Besan Ladoo", Price: dec("450.00"), Discount: decimal.Zero, DiscountType: domain.DiscountTypeFixed, Quantity: dec("18.250"), Active: true, CreatedAt: now},
		{ID: "prd-jalebi", Name: "Jalebi", Price: dec("240.00"), Discount: decimal.Zero, DiscountType: domain.DiscountTypeFixed, Quantity: dec("30.000"), Active: true, CreatedAt: now},
		{ID: "prd-soan-papdi", Name: "Soan Papdi", Price: dec("380.00"), Discount: dec("10"), DiscountType: domain.DiscountTypePercentage, Quantity: dec("22.000"), Active: true, CreatedAt: now},
		{ID: "prd-milk-barfi", Name: "Milk Barfi", Price: dec("520.00"), Discount: decimal.Zero, DiscountType: domain.DiscountTypeFixed, Quantity: dec("15.750"), Active: true, CreatedAt: now},
		{ID: "prd-motichoor", Name: "Motichoor Ladoo", Price: dec("460.00"), Discount: decimal.Zero, DiscountType: domain.DiscountTypeFixed, Quantity: dec("20.000"), Active: true, CreatedAt: now},
	}
	for _, p := range products {
		s.products[p.ID] = p
	}

	s.customersByID["cus-walkin-regular"] = domain.Customer{ID: "cus-walkin-regular", Name: "Anil Sharma", Phone: "+91-98300-11223", CreatedAt: now}
	s.suppliersByID["sup-dairy-fresh"] = domain.Supplier{ID: "sup-dairy-fresh", Name: "Dairy Fresh Traders", Phone: "+91-98300-44556", CreatedAt: now}

	return s
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (s *Store) ListProducts(_ context.Context, page int, pageSize int) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return strings.Compare(a.Name, b.Name)
	})

	if pageSize < 1 {
		return products, nil
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * pageSize
	if start >= len(products) {
		return []domain.Product{}, nil
	}
	end := start + pageSize
	if end > len(products) {
		end = len(products)
	}
	return products[start:end], nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validateProduct(product); err != nil {
		return nil, err
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrValidation
	}

	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) GetProductByID(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := product
	return &found, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok && p.Active {
			result[id] = p
		}
	}
	return result, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validateProduct(product); err != nil {
		return nil, err
	}
	existing, ok := s.products[product.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	product.CreatedAt = existing.CreatedAt
	s.products[product.ID] = product
	updated := product
	return &updated, nil
}

func validateProduct(product domain.Product) error {
	if strings.TrimSpace(product.Name) == "" || product.Price.IsNegative() {
		return store.ErrValidation
	}
	if product.Quantity.IsNegative() || product.Discount.IsNegative() {
		return store.ErrValidation
	}
	switch product.DiscountType {
	case domain.DiscountTypeFixed, domain.DiscountTypePercentage:
	default:
		return store.ErrValidation
	}
	if product.DiscountType == domain.DiscountTypePercentage && product.Discount.GreaterThan(decimal.NewFromInt(100)) {
		return store.ErrValidation
	}
	return nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(customer.Name) == "" {
		return nil, store.ErrValidation
	}
	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	s.customersByID[customer.ID] = customer
	created := customer
	return &created, nil
}

func (s *Store) GetCustomerByID(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, ok := s.customersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := customer
	return &found, nil
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.customersByID))
	for _, c := range s.customersByID {
		customers = append(customers, c)
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		return strings.Compare(a.Name, b.Name)
	})
	return customers, nil
}

func (s *Store) CreateSupplier(_ context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(supplier.Name) == "" {
		return nil, store.ErrValidation
	}
	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}
	s.suppliersByID[supplier.ID] = supplier
	created := supplier
	return &created, nil
}

func (s *Store) GetSupplierByID(_ context.Context, id string) (*domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	supplier, ok := s.suppliersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := supplier
	return &found, nil
}

func (s *Store) ListSuppliers(_ context.Context) ([]domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	suppliers := make([]domain.Supplier, 0, len(s.suppliersByID))
	for _, sup := range s.suppliersByID {
		suppliers = append(suppliers, sup)
	}
	slices.SortFunc(suppliers, func(a, b domain.Supplier) int {
		return strings.Compare(a.Name, b.Name)
	})
	return suppliers, nil
}

func (s *Store) CreateOrder(_ context.Context, order domain.Order, initial domain.OrderTransaction) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(order.Lines) == 0 {
		return nil, store.ErrValidation
	}

	// Aggregate requested quantity per product so a multi-line order
	// against the same product is checked as a whole.
	requested := make(map[string]decimal.Decimal, len(order.Lines))
	for _, line := range order.Lines {
		if !line.Quantity.IsPositive() || line.UnitPrice.IsNegative() || line.LineTotal.IsNegative() {
			return nil, store.ErrValidation
		}
		requested[line.ProductID] = requested[line.ProductID].Add(line.Quantity)
	}

	for productID, qty := range requested {
		product, ok := s.products[productID]
		if !ok || !product.Active {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, productID)
		}
		if product.Quantity.LessThan(qty) {
			return nil, fmt.Errorf("%w: stock would go negative for %s, current stock: %s",
				store.ErrInsufficientStock, product.Name, product.Quantity)
		}
	}

	// All lines passed; apply the decrements as one unit.
	for productID, qty := range requested {
		product := s.products[productID]
		product.Quantity = product.Quantity.Sub(qty)
		s.products[productID] = product
	}

	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	lines := make([]domain.OrderLine, len(order.Lines))
	copy(lines, order.Lines)
	for i := range lines {
		if lines[i].ID == "" {
			lines[i].ID = xid.New("oln")
		}
		lines[i].OrderID = order.ID
	}
	order.Lines = lines

	saved := order
	s.ordersByID[order.ID] = &saved

	initial.OrderID = order.ID
	if initial.ID == "" {
		initial.ID = xid.New("trx")
	}
	if initial.CreatedAt.IsZero() {
		initial.CreatedAt = order.CreatedAt
	}
	s.transactionsByOrder[order.ID] = append(s.transactionsByOrder[order.ID], initial)

	result := saved
	return &result, nil
}

func (s *Store) GetOrderByID(_ context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.ordersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := *order
	found.Lines = make([]domain.OrderLine, len(order.Lines))
	copy(found.Lines, order.Lines)
	return &found, nil
}

func (s *Store) ListOrders(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := make([]domain.Order, 0, 32)
	for _, order := range s.ordersByID {
		if order.CreatedAt.Before(from) || order.CreatedAt.After(to) {
			continue
		}
		orders = append(orders, *order)
	}
	slices.SortFunc(orders, func(a, b domain.Order) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

func (s *Store) ListOrderTransactions(_ context.Context, orderID string) ([]domain.OrderTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.ordersByID[orderID]; !ok {
		return nil, store.ErrNotFound
	}
	txns := make([]domain.OrderTransaction, len(s.transactionsByOrder[orderID]))
	copy(txns, s.transactionsByOrder[orderID])
	return txns, nil
}

func (s *Store) CollectDue(_ context.Context, orderID string, txn domain.OrderTransaction) (*domain.Order, *domain.OrderTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.ordersByID[orderID]
	if !ok {
		return nil, nil, store.ErrNotFound
	}
	if !txn.Amount.IsPositive() {
		return nil, nil, store.ErrValidation
	}
	if txn.Amount.GreaterThan(order.Due) {
		return nil, nil, fmt.Errorf("%w: outstanding due is %s", store.ErrOverpayment, order.Due)
	}

	order.Paid = order.Paid.Add(txn.Amount)
	order.Due = clampedDue(order.Total, order.Paid)
	order.Status = statusFor(order.Due)

	txn.OrderID = orderID
	if txn.ID == "" {
		txn.ID = xid.New("trx")
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now().UTC()
	}
	s.transactionsByOrder[orderID] = append(s.transactionsByOrder[orderID], txn)

	updated := *order
	savedTxn := txn
	return &updated, &savedTxn, nil
}

func (s *Store) GetReturnedQtyByOrderLine(_ context.Context, orderID string) (map[string]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.returnedQtyLocked(orderID), nil
}

func (s *Store) returnedQtyLocked(orderID string) map[string]decimal.Decimal {
	result := make(map[string]decimal.Decimal)
	for _, ret := range s.returnsByID {
		if ret.OrderID != orderID {
			continue
		}
		for _, item := range ret.Items {
			result[item.OrderLineID] = result[item.OrderLineID].Add(item.Quantity)
		}
	}
	return result
}

func (s *Store) CreateProductReturn(_ context.Context, ret domain.ProductReturn, restock bool) (*domain.ProductReturn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.ordersByID[ret.OrderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if len(ret.Items) == 0 {
		return nil, store.ErrValidation
	}

	linesByID := make(map[string]domain.OrderLine, len(order.Lines))
	for _, line := range order.Lines {
		linesByID[line.ID] = line
	}
	alreadyReturned := s.returnedQtyLocked(ret.OrderID)

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

	s.returnSeq = nextReturnSeq(s.returnSeq, s.returnsByID)
	ret.ReturnNumber = fmt.Sprintf("RET-%04d", s.returnSeq)

	ret.TotalRefund = totalRefund
	ret.DebtCleared = decimal.Min(totalRefund, order.Due)
	ret.CashBack = totalRefund.Sub(ret.DebtCleared)
	ret.Restocked = restock

	order.Paid = order.Paid.Add(ret.DebtCleared)
	order.Due = clampedDue(order.Total, order.Paid)
	order.Status = statusFor(order.Due)

	if restock {
		for _, item := range ret.Items {
			product, ok := s.products[item.ProductID]
			if !ok {
				continue
			}
			product.Quantity = product.Quantity.Add(item.Quantity)
			s.products[item.ProductID] = product
		}
	}

	if ret.ID == "" {
		ret.ID = xid.New("ret")
	}
	if ret.CreatedAt.IsZero() {
		ret.CreatedAt = time.Now().UTC()
	}
	items := make([]domain.ReturnItem, len(ret.Items))
	copy(items, ret.Items)
	for i := range items {
		items[i].ReturnID = ret.ID
	}
	ret.Items = items

	s.returnsByID[ret.ID] = ret
	created := ret
	return &created, nil
}

// nextReturnSeq advances the return-number counter. The counter is floored
// by the max suffix still present so numbers stay strictly increasing and
// are never reissued, even after the highest-numbered return is deleted.
func nextReturnSeq(current int, returns map[string]domain.ProductReturn) int {
	maxSuffix := current
	for _, ret := range returns {
		if n := returnSuffix(ret.ReturnNumber); n > maxSuffix {
			maxSuffix = n
		}
	}
	return maxSuffix + 1
}

// returnSuffix parses the numeric part of a RET-%04d number. The width
// grows past four digits once the counter passes 9999, so comparisons
// must be numeric, not lexical.
func returnSuffix(number string) int {
	var n int
	if _, err := fmt.Sscanf(number, "RET-%d", &n); err != nil {
		return 0
	}
	return n
}

func (s *Store) ListReturnsByOrder(_ context.Context, orderID string) ([]domain.ProductReturn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	returns := make([]domain.ProductReturn, 0, 8)
	for _, ret := range s.returnsByID {
		if ret.OrderID == orderID {
			returns = append(returns, ret)
		}
	}
	slices.SortFunc(returns, func(a, b domain.ProductReturn) int {
		return returnSuffix(a.ReturnNumber) - returnSuffix(b.ReturnNumber)
	})
	return returns, nil
}

func (s *Store) DeleteProductReturn(_ context.Context, returnID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.returnsByID[returnID]; !ok {
		return store.ErrNotFound
	}
	delete(s.returnsByID, returnID)
	return nil
}

func (s *Store) CreatePurchase(_ context.Context, purchase domain.Purchase) (*domain.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(purchase.Lines) == 0 {
		return nil, store.ErrValidation
	}
	if _, ok := s.suppliersByID[purchase.SupplierID]; !ok {
		return nil, fmt.Errorf("%w: supplier %s", store.ErrNotFound, purchase.SupplierID)
	}
	for _, line := range purchase.Lines {
		if !line.Quantity.IsPositive() || line.UnitCost.IsNegative() {
			return nil, store.ErrValidation
		}
		if _, ok := s.products[line.ProductID]; !ok {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, line.ProductID)
		}
	}

	total := decimal.Zero
	for _, line := range purchase.Lines {
		product := s.products[line.ProductID]
		product.Quantity = product.Quantity.Add(line.Quantity)
		s.products[line.ProductID] = product
		total = total.Add(line.Quantity.Mul(line.UnitCost))
	}

	if purchase.ID == "" {
		purchase.ID = xid.New("pur")
	}
	if purchase.CreatedAt.IsZero() {
		purchase.CreatedAt = time.Now().UTC()
	}
	purchase.TotalCost = total.Round(2)
	lines := make([]domain.PurchaseLine, len(purchase.Lines))
	copy(lines, purchase.Lines)
	for i := range lines {
		lines[i].PurchaseID = purchase.ID
	}
	purchase.Lines = lines

	s.purchasesByID[purchase.ID] = purchase
	created := purchase
	return &created, nil
}

func (s *Store) ListPurchases(_ context.Context, limit int) ([]domain.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	purchases := make([]domain.Purchase, 0, len(s.purchasesByID))
	for _, p := range s.purchasesByID {
		purchases = append(purchases, p)
	}
	slices.SortFunc(purchases, func(a, b domain.Purchase) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(purchases) > limit {
		purchases = purchases[:limit]
	}
	return purchases, nil
}

func (s *Store) CloseRegister(_ context.Context, countedCash decimal.Decimal, closedBy string, now time.Time) (*domain.DailyClosing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	windowStart := time.Time{}
	if len(s.closings) > 0 {
		windowStart = s.closings[len(s.closings)-1].WindowEnd
	}

	expected := decimal.Zero
	for _, order := range s.ordersByID {
		if order.CreatedAt.After(windowStart) && !order.CreatedAt.After(now) {
			expected = expected.Add(order.Total)
		}
	}
	for _, ret := range s.returnsByID {
		if ret.CreatedAt.After(windowStart) && !ret.CreatedAt.After(now) {
			expected = expected.Sub(ret.TotalRefund)
		}
	}

	closing := domain.DailyClosing{
		ID:           xid.New("cls"),
		WindowStart:  windowStart,
		WindowEnd:    now,
		ExpectedCash: expected.Round(2),
		CountedCash:  countedCash.Round(2),
		Difference:   countedCash.Sub(expected).Round(2),
		ClosedBy:     closedBy,
		CreatedAt:    now,
	}
	s.closings = append(s.closings, closing)
	created := closing
	return &created, nil
}

func (s *Store) ListDailyClosings(_ context.Context, limit int) ([]domain.DailyClosing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	closings := make([]domain.DailyClosing, len(s.closings))
	copy(closings, s.closings)
	slices.Reverse(closings)
	if limit > 0 && len(closings) > limit {
		closings = closings[:limit]
	}
	return closings, nil
}

func (s *Store) GetCartLines(_ context.Context, username string) ([]domain.CartLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lines := make([]domain.CartLine, 0, 8)
	for _, line := range s.cartLinesByID {
		if line.Username == username {
			lines = append(lines, line)
		}
	}
	slices.SortFunc(lines, func(a, b domain.CartLine) int {
		return a.UpdatedAt.Compare(b.UpdatedAt)
	})
	return lines, nil
}

func (s *Store) GetCartLine(_ context.Context, lineID string) (*domain.CartLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	line, ok := s.cartLinesByID[lineID]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := line
	return &found, nil
}

func (s *Store) UpsertCartLine(_ context.Context, line domain.CartLine) (*domain.CartLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if line.Username == "" || line.ProductID == "" || !line.Quantity.IsPositive() {
		return nil, store.ErrValidation
	}
	if line.ID == "" {
		line.ID = xid.New("crt")
	}
	line.UpdatedAt = time.Now().UTC()
	s.cartLinesByID[line.ID] = line
	saved := line
	return &saved, nil
}

func (s *Store) DeleteCartLine(_ context.Context, lineID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.cartLinesByID[lineID]; !ok {
		return store.ErrNotFound
	}
	delete(s.cartLinesByID, lineID)
	return nil
}

func (s *Store) ClearCart(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, line := range s.cartLinesByID {
		if line.Username == username {
			delete(s.cartLinesByID, id)
		}
	}
	return nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := make([]domain.AuditLog, 0, limit)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || entry.CreatedAt.After(to) {
			continue
		}
		logs = append(logs, entry)
		if limit > 0 && len(logs) >= limit {
			break
		}
	}
	return logs, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username == "" || user.Password == "" {
		return store.ErrValidation
	}
	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrValidation
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
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
