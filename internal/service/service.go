package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/imbasito/spos-sub001/internal/cache"
	"github.com/imbasito/spos-sub001/internal/config"
	"github.com/imbasito/spos-sub001/internal/domain"
	"github.com/imbasito/spos-sub001/internal/store"
	"github.com/imbasito/spos-sub001/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo     store.Repository
	products cache.ProductCache
	cfg      config.Config
}

func New(repo store.Repository, products cache.ProductCache, cfg config.Config) *Service {
	if products == nil {
		products = cache.NoopProductCache{}
	}
	return &Service{
		repo:     repo,
		products: products,
		cfg:      cfg,
	}
}

// CreateOrder settles a sale: stock is decremented per line, totals are
// computed from the snapshot tax rate, and the order is persisted with
// its initial payment. Stock failures abort the whole settlement.
func (s *Service) CreateOrder(ctx context.Context, req domain.OrderCreateRequest) (domain.Order, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Order{}, fmt.Errorf("authentication required")
	}

	lines := req.Lines
	if req.FromCart {
		cartLines, err := s.cartLineInputs(ctx, actor.Username)
		if err != nil {
			return domain.Order{}, err
		}
		lines = cartLines
	}
	if len(lines) == 0 {
		return domain.Order{}, fmt.Errorf("%w: order has no lines", store.ErrValidation)
	}
	if req.Paid.IsNegative() || req.Discount.IsNegative() {
		return domain.Order{}, fmt.Errorf("%w: paid and discount must not be negative", store.ErrValidation)
	}
	method, err := normalizeMethod(req.PaymentMethod)
	if err != nil {
		return domain.Order{}, err
	}

	if req.CustomerID != "" {
		if _, err := s.repo.GetCustomerByID(ctx, req.CustomerID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.Order{}, fmt.Errorf("%w: customer %s", store.ErrNotFound, req.CustomerID)
			}
			return domain.Order{}, err
		}
	}

	productIDs := make([]string, 0, len(lines))
	for _, line := range lines {
		productIDs = append(productIDs, line.ProductID)
	}
	products, err := s.repo.GetProductsByIDs(ctx, productIDs)
	if err != nil {
		return domain.Order{}, err
	}

	orderLines := make([]domain.OrderLine, 0, len(lines))
	subTotal := decimal.Zero
	for _, line := range lines {
		product, ok := products[line.ProductID]
		if !ok {
			return domain.Order{}, fmt.Errorf("%w: product %s", store.ErrNotFound, line.ProductID)
		}
		if !line.Quantity.IsPositive() {
			return domain.Order{}, fmt.Errorf("%w: quantity must be positive for %s", store.ErrValidation, product.Name)
		}

		unitPrice := line.UnitPrice
		if unitPrice.IsZero() {
			unitPrice = product.DiscountedPrice()
		}
		if unitPrice.IsNegative() {
			return domain.Order{}, fmt.Errorf("%w: unit price must not be negative", store.ErrValidation)
		}
		lineTotal := line.LineTotal
		if lineTotal.IsZero() {
			lineTotal = line.Quantity.Mul(unitPrice).Round(2)
		}
		if lineTotal.IsNegative() {
			return domain.Order{}, fmt.Errorf("%w: line total must not be negative", store.ErrValidation)
		}

		orderLines = append(orderLines, domain.OrderLine{
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    line.Quantity,
			UnitPrice:   unitPrice,
			LineTotal:   lineTotal,
		})
		subTotal = subTotal.Add(lineTotal)
	}

	discount := req.Discount
	if discount.GreaterThan(subTotal) {
		return domain.Order{}, fmt.Errorf("%w: discount exceeds sub total", store.ErrValidation)
	}

	taxable := subTotal.Sub(discount)
	taxRate := decimal.Zero
	if s.cfg.TaxEnabled {
		taxRate = s.cfg.TaxRatePercent
	}
	taxAmount := taxable.Mul(taxRate).Div(decimal.NewFromInt(100)).Round(2)
	total := taxable.Add(taxAmount).Round(2)

	// Paid above the grand total is change handed back at the counter,
	// so the recorded payment is capped at the total.
	paid := req.Paid
	if paid.GreaterThan(total) {
		paid = total
	}
	due := total.Sub(paid)
	status := domain.OrderStatusDue
	if due.IsZero() {
		status = domain.OrderStatusPaid
	}

	order := domain.Order{
		ID:         xid.New("ord"),
		CustomerID: req.CustomerID,
		SubTotal:   subTotal.Round(2),
		Discount:   discount.Round(2),
		TaxRate:    taxRate,
		TaxAmount:  taxAmount,
		Total:      total,
		Paid:       paid,
		Due:        due,
		Status:     status,
		CreatedAt:  time.Now().UTC(),
		Lines:      orderLines,
	}
	initial := domain.OrderTransaction{
		Amount: paid,
		Method: method,
	}

	created, err := s.repo.CreateOrder(ctx, order, initial)
	if err != nil {
		return domain.Order{}, err
	}

	s.bumpCatalog(ctx)
	if req.FromCart {
		if err := s.repo.ClearCart(ctx, actor.Username); err != nil {
			log.Printf("[service] WARN: failed to clear cart for %s: %v", actor.Username, err)
		}
	}
	s.logAudit(ctx, "order_create", "order", created.ID,
		fmt.Sprintf("total=%s,paid=%s,status=%s", created.Total, created.Paid, created.Status))

	return *created, nil
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return domain.Order{}, store.ErrValidation
	}
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return *order, nil
}

func (s *Service) ListOrders(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Order, error) {
	if to.IsZero() {
		to = time.Now().UTC()
	}
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListOrders(ctx, from, to, limit)
}

func (s *Service) ListOrderTransactions(ctx context.Context, orderID string) ([]domain.OrderTransaction, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, store.ErrValidation
	}
	return s.repo.ListOrderTransactions(ctx, orderID)
}

// CollectDue records a payment against an order's outstanding balance.
func (s *Service) CollectDue(ctx context.Context, orderID string, req domain.DueCollectRequest) (domain.Order, domain.OrderTransaction, error) {
	if strings.TrimSpace(orderID) == "" {
		return domain.Order{}, domain.OrderTransaction{}, store.ErrValidation
	}
	if !req.Amount.IsPositive() {
		return domain.Order{}, domain.OrderTransaction{}, fmt.Errorf("%w: amount must be positive", store.ErrValidation)
	}
	method, err := normalizeMethod(req.Method)
	if err != nil {
		return domain.Order{}, domain.OrderTransaction{}, err
	}

	order, txn, err := s.repo.CollectDue(ctx, orderID, domain.OrderTransaction{
		Amount: req.Amount.Round(2),
		Method: method,
	})
	if err != nil {
		return domain.Order{}, domain.OrderTransaction{}, err
	}

	s.logAudit(ctx, "due_collect", "order", order.ID,
		fmt.Sprintf("amount=%s,remaining_due=%s", txn.Amount, order.Due))

	return *order, *txn, nil
}

// ProcessRefund reverses order lines at their effective sold price.
// Each line refunds at unit_price scaled by total/sub_total, so
// order-level discounts and tax come back proportionally. The refund is
// netted against any outstanding due before cash leaves the drawer.
func (s *Service) ProcessRefund(ctx context.Context, req domain.RefundRequest) (domain.RefundResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.RefundResponse{}, fmt.Errorf("authentication required")
	}
	if strings.TrimSpace(req.OrderID) == "" || len(req.Lines) == 0 {
		return domain.RefundResponse{}, fmt.Errorf("%w: order id and lines are required", store.ErrValidation)
	}

	order, err := s.repo.GetOrderByID(ctx, req.OrderID)
	if err != nil {
		return domain.RefundResponse{}, err
	}

	linesByID := make(map[string]domain.OrderLine, len(order.Lines))
	for _, line := range order.Lines {
		linesByID[line.ID] = line
	}

	items := make([]domain.ReturnItem, 0, len(req.Lines))
	for _, input := range req.Lines {
		line, ok := linesByID[input.OrderLineID]
		if !ok {
			return domain.RefundResponse{}, fmt.Errorf("%w: order line %s", store.ErrNotFound, input.OrderLineID)
		}
		if !input.Quantity.IsPositive() {
			return domain.RefundResponse{}, fmt.Errorf("%w: return quantity must be positive", store.ErrValidation)
		}

		amount := effectiveRefund(line.UnitPrice, input.Quantity, order.Total, order.SubTotal)
		items = append(items, domain.ReturnItem{
			OrderLineID:  line.ID,
			ProductID:    line.ProductID,
			Quantity:     input.Quantity,
			RefundAmount: amount,
		})
	}

	ret, err := s.repo.CreateProductReturn(ctx, domain.ProductReturn{
		OrderID:     order.ID,
		Reason:      strings.TrimSpace(req.Reason),
		ProcessedBy: actor.Username,
		Items:       items,
	}, s.cfg.RestockOnRefund)
	if err != nil {
		return domain.RefundResponse{}, err
	}

	if ret.Restocked {
		s.bumpCatalog(ctx)
	}
	s.logAudit(ctx, "refund_process", "return", ret.ID,
		fmt.Sprintf("order=%s,number=%s,refund=%s,debt_cleared=%s,cash_back=%s",
			order.ID, ret.ReturnNumber, ret.TotalRefund, ret.DebtCleared, ret.CashBack))

	updated, err := s.repo.GetOrderByID(ctx, order.ID)
	if err != nil {
		return domain.RefundResponse{}, err
	}
	allReturns, err := s.repo.ListReturnsByOrder(ctx, order.ID)
	if err != nil {
		return domain.RefundResponse{}, err
	}
	totalRefunded := decimal.Zero
	for _, r := range allReturns {
		totalRefunded = totalRefunded.Add(r.TotalRefund)
	}

	return domain.RefundResponse{
		Return:          *ret,
		OriginalTotal:   updated.Total,
		TotalRefunded:   totalRefunded,
		AdjustedBalance: updated.Total.Sub(totalRefunded),
		RemainingDue:    updated.Due,
	}, nil
}

// effectiveRefund is the per-line refund amount: quantity times the
// unit price scaled to the price the customer actually paid after
// order-level discount and tax, rounded half-up at currency precision.
func effectiveRefund(unitPrice decimal.Decimal, qty decimal.Decimal, total decimal.Decimal, subTotal decimal.Decimal) decimal.Decimal {
	if subTotal.IsZero() {
		return decimal.Zero
	}
	return qty.Mul(unitPrice).Mul(total).Div(subTotal).Round(2)
}

func (s *Service) ListReturns(ctx context.Context, orderID string) ([]domain.ProductReturn, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, store.ErrValidation
	}
	return s.repo.ListReturnsByOrder(ctx, orderID)
}

func (s *Service) DeleteReturn(ctx context.Context, returnID string) error {
	if err := requireRole(ctx, "admin"); err != nil {
		return err
	}
	if strings.TrimSpace(returnID) == "" {
		return store.ErrValidation
	}
	if err := s.repo.DeleteProductReturn(ctx, returnID); err != nil {
		return err
	}
	s.logAudit(ctx, "return_delete", "return", returnID, "")
	return nil
}

// CloseRegister reconciles the drawer against expected system cash for
// the window since the previous closing.
func (s *Service) CloseRegister(ctx context.Context, req domain.CloseRegisterRequest) (domain.DailyClosing, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.DailyClosing{}, fmt.Errorf("authentication required")
	}
	if req.CashInHand.IsNegative() {
		return domain.DailyClosing{}, fmt.Errorf("%w: cash in hand must not be negative", store.ErrValidation)
	}

	closing, err := s.repo.CloseRegister(ctx, req.CashInHand, actor.Username, time.Now().UTC())
	if err != nil {
		return domain.DailyClosing{}, err
	}

	s.logAudit(ctx, "register_close", "closing", closing.ID,
		fmt.Sprintf("expected=%s,counted=%s,difference=%s", closing.ExpectedCash, closing.CountedCash, closing.Difference))

	return *closing, nil
}

func (s *Service) ListDailyClosings(ctx context.Context, limit int) ([]domain.DailyClosing, error) {
	if limit < 1 {
		limit = 30
	}
	return s.repo.ListDailyClosings(ctx, limit)
}

// ListProducts serves the catalog page through the versioned cache.
// Any stock or price mutation bumps the catalog version, so stale
// pages are never served past a write; they just expire under TTL.
func (s *Service) ListProducts(ctx context.Context, page int) ([]domain.Product, error) {
	if page < 1 {
		page = 1
	}

	version, err := s.products.Version(ctx)
	if err != nil {
		log.Printf("[service] WARN: catalog cache unavailable: %v", err)
		return s.repo.ListProducts(ctx, page, s.cfg.PageSize)
	}

	if cached, hit, err := s.products.GetPage(ctx, version, page); err == nil && hit {
		return cached, nil
	}

	products, err := s.repo.ListProducts(ctx, page, s.cfg.PageSize)
	if err != nil {
		return nil, err
	}

	ttl := time.Duration(s.cfg.ProductCacheTTLSeconds) * time.Second
	if err := s.products.SetPage(ctx, version, page, products, ttl); err != nil {
		log.Printf("[service] WARN: failed to cache catalog page %d: %v", page, err)
	}

	return products, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if err := requireRole(ctx, "admin"); err != nil {
		return domain.Product{}, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" || req.Price.IsNegative() || req.Quantity.IsNegative() {
		return domain.Product{}, store.ErrValidation
	}
	discountType := req.DiscountType
	if discountType == "" {
		discountType = domain.DiscountTypeFixed
	}
	if err := validateDiscount(req.Discount, discountType); err != nil {
		return domain.Product{}, err
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		Name:         name,
		Price:        req.Price.Round(2),
		Discount:     req.Discount,
		DiscountType: discountType,
		Quantity:     req.Quantity,
		Active:       true,
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.bumpCatalog(ctx)
	s.logAudit(ctx, "product_create", "product", created.ID,
		fmt.Sprintf("name=%s,price=%s,quantity=%s", created.Name, created.Price, created.Quantity))

	return *created, nil
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Product{}, store.ErrValidation
	}
	product, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if err := requireRole(ctx, "admin"); err != nil {
		return domain.Product{}, err
	}
	if strings.TrimSpace(id) == "" {
		return domain.Product{}, store.ErrValidation
	}

	existing, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	product := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, store.ErrValidation
		}
		product.Name = name
	}
	if req.Price != nil {
		if req.Price.IsNegative() {
			return domain.Product{}, store.ErrValidation
		}
		product.Price = req.Price.Round(2)
	}
	if req.DiscountType != nil {
		product.DiscountType = *req.DiscountType
	}
	if req.Discount != nil {
		product.Discount = *req.Discount
	}
	if err := validateDiscount(product.Discount, product.DiscountType); err != nil {
		return domain.Product{}, err
	}
	if req.Quantity != nil {
		if req.Quantity.IsNegative() {
			return domain.Product{}, store.ErrValidation
		}
		product.Quantity = *req.Quantity
	}
	if req.Active != nil {
		product.Active = *req.Active
	}

	saved, err := s.repo.UpdateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}

	s.bumpCatalog(ctx)
	s.logAudit(ctx, "product_update", "product", saved.ID,
		fmt.Sprintf("active=%t,price=%s,quantity=%s", saved.Active, saved.Price, saved.Quantity))

	return *saved, nil
}

func validateDiscount(discount decimal.Decimal, discountType string) error {
	if discount.IsNegative() {
		return store.ErrValidation
	}
	switch discountType {
	case domain.DiscountTypeFixed:
	case domain.DiscountTypePercentage:
		if discount.GreaterThan(decimal.NewFromInt(100)) {
			return store.ErrValidation
		}
	default:
		return store.ErrValidation
	}
	return nil
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Customer{}, store.ErrValidation
	}
	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		Name:  name,
		Phone: strings.TrimSpace(req.Phone),
	})
	if err != nil {
		return domain.Customer{}, err
	}
	s.logAudit(ctx, "customer_create", "customer", created.ID, "name="+created.Name)
	return *created, nil
}

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx)
}

func (s *Service) CreateSupplier(ctx context.Context, req domain.SupplierCreateRequest) (domain.Supplier, error) {
	if err := requireRole(ctx, "admin"); err != nil {
		return domain.Supplier{}, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Supplier{}, store.ErrValidation
	}
	created, err := s.repo.CreateSupplier(ctx, domain.Supplier{
		Name:  name,
		Phone: strings.TrimSpace(req.Phone),
	})
	if err != nil {
		return domain.Supplier{}, err
	}
	s.logAudit(ctx, "supplier_create", "supplier", created.ID, "name="+created.Name)
	return *created, nil
}

func (s *Service) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	return s.repo.ListSuppliers(ctx)
}

// CreatePurchase receives stock from a supplier and increments product
// quantities.
func (s *Service) CreatePurchase(ctx context.Context, req domain.PurchaseCreateRequest) (domain.Purchase, error) {
	if err := requireRole(ctx, "admin"); err != nil {
		return domain.Purchase{}, err
	}
	if strings.TrimSpace(req.SupplierID) == "" || len(req.Lines) == 0 {
		return domain.Purchase{}, store.ErrValidation
	}

	lines := make([]domain.PurchaseLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		if !line.Quantity.IsPositive() || line.UnitCost.IsNegative() {
			return domain.Purchase{}, store.ErrValidation
		}
		lines = append(lines, domain.PurchaseLine{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitCost:  line.UnitCost,
		})
	}

	created, err := s.repo.CreatePurchase(ctx, domain.Purchase{
		SupplierID: req.SupplierID,
		Lines:      lines,
	})
	if err != nil {
		return domain.Purchase{}, err
	}

	s.bumpCatalog(ctx)
	s.logAudit(ctx, "purchase_create", "purchase", created.ID,
		fmt.Sprintf("supplier=%s,total_cost=%s", created.SupplierID, created.TotalCost))

	return *created, nil
}

func (s *Service) ListPurchases(ctx context.Context, limit int) ([]domain.Purchase, error) {
	if limit < 1 {
		limit = 50
	}
	return s.repo.ListPurchases(ctx, limit)
}

// ViewCart prices the actor's held cart against the live catalog.
func (s *Service) ViewCart(ctx context.Context) (domain.CartView, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.CartView{}, fmt.Errorf("authentication required")
	}

	lines, err := s.repo.GetCartLines(ctx, actor.Username)
	if err != nil {
		return domain.CartView{}, err
	}
	products, err := s.cartProducts(ctx, lines)
	if err != nil {
		return domain.CartView{}, err
	}

	view := domain.CartView{Lines: make([]domain.CartViewLine, 0, len(lines))}
	for _, line := range lines {
		product := products[line.ProductID]
		rate := line.EffectiveRate(product)
		rowTotal := line.RowTotal(product)
		view.Lines = append(view.Lines, domain.CartViewLine{
			CartLine:      line,
			EffectiveRate: rate,
			RowTotal:      rowTotal,
		})
		view.SubTotal = view.SubTotal.Add(rowTotal)
	}
	return view, nil
}

// AddToCart merges quantity into an existing line for the same product,
// keeping any manual rate. A merged quantity invalidates a manual row
// total, which is recomputed from the effective rate.
func (s *Service) AddToCart(ctx context.Context, req domain.CartAddRequest) (domain.CartLine, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.CartLine{}, fmt.Errorf("authentication required")
	}
	if !req.Quantity.IsPositive() {
		return domain.CartLine{}, fmt.Errorf("%w: quantity must be positive", store.ErrValidation)
	}

	product, err := s.repo.GetProductByID(ctx, req.ProductID)
	if err != nil {
		return domain.CartLine{}, err
	}
	if !product.Active {
		return domain.CartLine{}, fmt.Errorf("%w: product %s", store.ErrNotFound, req.ProductID)
	}

	lines, err := s.repo.GetCartLines(ctx, actor.Username)
	if err != nil {
		return domain.CartLine{}, err
	}

	var line domain.CartLine
	found := false
	for _, existing := range lines {
		if existing.ProductID == req.ProductID {
			line = existing
			found = true
			break
		}
	}
	if found {
		line.Quantity = line.Quantity.Add(req.Quantity)
		line.RowTotalOverride = nil
	} else {
		line = domain.CartLine{
			Username:    actor.Username,
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    req.Quantity,
		}
	}

	saved, err := s.repo.UpsertCartLine(ctx, line)
	if err != nil {
		return domain.CartLine{}, err
	}
	return *saved, nil
}

// SetCartQuantity replaces the line quantity. A manual row total no
// longer matches the new quantity, so it is cleared.
func (s *Service) SetCartQuantity(ctx context.Context, lineID string, req domain.CartQuantityRequest) (domain.CartLine, error) {
	line, err := s.ownedCartLine(ctx, lineID)
	if err != nil {
		return domain.CartLine{}, err
	}
	if !req.Quantity.IsPositive() {
		return domain.CartLine{}, fmt.Errorf("%w: quantity must be positive", store.ErrValidation)
	}

	line.Quantity = req.Quantity
	line.RowTotalOverride = nil

	saved, err := s.repo.UpsertCartLine(ctx, line)
	if err != nil {
		return domain.CartLine{}, err
	}
	return *saved, nil
}

// SetCartRate pins a manual per-unit price on the line and clears any
// manual row total, which the new rate supersedes.
func (s *Service) SetCartRate(ctx context.Context, lineID string, req domain.CartRateRequest) (domain.CartLine, error) {
	line, err := s.ownedCartLine(ctx, lineID)
	if err != nil {
		return domain.CartLine{}, err
	}
	if req.Rate.IsNegative() {
		return domain.CartLine{}, fmt.Errorf("%w: rate must not be negative", store.ErrValidation)
	}

	rate := req.Rate.Round(2)
	line.PriceOverride = &rate
	line.RowTotalOverride = nil

	saved, err := s.repo.UpsertCartLine(ctx, line)
	if err != nil {
		return domain.CartLine{}, err
	}
	return *saved, nil
}

// SetCartRowTotal pins a manual line amount and derives the quantity
// from the effective rate, so the sold weight matches the money asked
// for at the counter.
func (s *Service) SetCartRowTotal(ctx context.Context, lineID string, req domain.CartRowTotalRequest) (domain.CartLine, error) {
	line, err := s.ownedCartLine(ctx, lineID)
	if err != nil {
		return domain.CartLine{}, err
	}
	if !req.Amount.IsPositive() {
		return domain.CartLine{}, fmt.Errorf("%w: amount must be positive", store.ErrValidation)
	}

	product, err := s.repo.GetProductByID(ctx, line.ProductID)
	if err != nil {
		return domain.CartLine{}, err
	}
	rate := line.EffectiveRate(*product)
	if !rate.IsPositive() {
		return domain.CartLine{}, fmt.Errorf("%w: effective rate must be positive to set a row total", store.ErrValidation)
	}

	amount := req.Amount.Round(2)
	line.RowTotalOverride = &amount
	line.Quantity = amount.Div(rate).Round(3)

	saved, err := s.repo.UpsertCartLine(ctx, line)
	if err != nil {
		return domain.CartLine{}, err
	}
	return *saved, nil
}

func (s *Service) RemoveCartLine(ctx context.Context, lineID string) error {
	line, err := s.ownedCartLine(ctx, lineID)
	if err != nil {
		return err
	}
	return s.repo.DeleteCartLine(ctx, line.ID)
}

func (s *Service) ClearCart(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return fmt.Errorf("authentication required")
	}
	return s.repo.ClearCart(ctx, actor.Username)
}

func (s *Service) ownedCartLine(ctx context.Context, lineID string) (domain.CartLine, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.CartLine{}, fmt.Errorf("authentication required")
	}
	if strings.TrimSpace(lineID) == "" {
		return domain.CartLine{}, store.ErrValidation
	}
	line, err := s.repo.GetCartLine(ctx, lineID)
	if err != nil {
		return domain.CartLine{}, err
	}
	if line.Username != actor.Username {
		return domain.CartLine{}, store.ErrNotFound
	}
	return *line, nil
}

func (s *Service) cartProducts(ctx context.Context, lines []domain.CartLine) (map[string]domain.Product, error) {
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	return s.repo.GetProductsByIDs(ctx, ids)
}

// cartLineInputs converts the actor's cart into settlement line inputs
// priced at each line's effective rate and row total.
func (s *Service) cartLineInputs(ctx context.Context, username string) ([]domain.OrderLineInput, error) {
	lines, err := s.repo.GetCartLines(ctx, username)
	if err != nil {
		return nil, err
	}
	products, err := s.cartProducts(ctx, lines)
	if err != nil {
		return nil, err
	}

	inputs := make([]domain.OrderLineInput, 0, len(lines))
	for _, line := range lines {
		product, ok := products[line.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, line.ProductID)
		}
		inputs = append(inputs, domain.OrderLineInput{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.EffectiveRate(product),
			LineTotal: line.RowTotal(product),
		})
	}
	return inputs, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if err := requireRole(ctx, "admin"); err != nil {
		return nil, err
	}
	if to.IsZero() {
		to = time.Now().UTC()
	}
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func requireRole(ctx context.Context, role string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != role {
		return fmt.Errorf("%s role required", role)
	}
	return nil
}

func normalizeMethod(method string) (string, error) {
	method = strings.ToLower(strings.TrimSpace(method))
	if method == "" {
		return domain.PaymentMethodCash, nil
	}
	switch method {
	case domain.PaymentMethodCash, domain.PaymentMethodCard, domain.PaymentMethodOnline:
		return method, nil
	default:
		return "", fmt.Errorf("%w: unknown payment method %q", store.ErrValidation, method)
	}
}

func (s *Service) bumpCatalog(ctx context.Context) {
	if _, err := s.products.BumpVersion(ctx); err != nil {
		log.Printf("[service] WARN: failed to bump catalog version: %v", err)
	}
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[service] WARN: failed to write audit log action=%s: %v", action, err)
	}
}
