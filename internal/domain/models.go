package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	Discount     decimal.Decimal `json:"discount"`
	DiscountType string          `json:"discount_type"`
	Quantity     decimal.Decimal `json:"quantity"`
	Active       bool            `json:"active"`
	CreatedAt    time.Time       `json:"created_at"`
}

// DiscountedPrice applies the product-level discount to the list price.
// Fixed discounts subtract; percentage discounts scale. Never below zero.
func (p Product) DiscountedPrice() decimal.Decimal {
	price := p.Price
	switch p.DiscountType {
	case DiscountTypePercentage:
		price = p.Price.Mul(decimal.NewFromInt(100).Sub(p.Discount)).Div(decimal.NewFromInt(100))
	case DiscountTypeFixed:
		price = p.Price.Sub(p.Discount)
	}
	if price.IsNegative() {
		return decimal.Zero
	}
	return price.Round(2)
}

type ProductCreateRequest struct {
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	Discount     decimal.Decimal `json:"discount"`
	DiscountType string          `json:"discount_type"`
	Quantity     decimal.Decimal `json:"quantity"`
}

type ProductUpdateRequest struct {
	Name         *string          `json:"name,omitempty"`
	Price        *decimal.Decimal `json:"price,omitempty"`
	Discount     *decimal.Decimal `json:"discount,omitempty"`
	DiscountType *string          `json:"discount_type,omitempty"`
	Quantity     *decimal.Decimal `json:"quantity,omitempty"`
	Active       *bool            `json:"active,omitempty"`
}

type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}

type CustomerCreateRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type Supplier struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}

type SupplierCreateRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type OrderLineInput struct {
	ProductID string          `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type OrderCreateRequest struct {
	CustomerID    string           `json:"customer_id,omitempty"`
	Lines         []OrderLineInput `json:"lines"`
	Discount      decimal.Decimal  `json:"discount"`
	Paid          decimal.Decimal  `json:"paid"`
	PaymentMethod string           `json:"payment_method"`
	FromCart      bool             `json:"from_cart"`
}

type OrderLine struct {
	ID          string          `json:"id"`
	OrderID     string          `json:"order_id"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

type Order struct {
	ID         string          `json:"id"`
	CustomerID string          `json:"customer_id,omitempty"`
	SubTotal   decimal.Decimal `json:"sub_total"`
	Discount   decimal.Decimal `json:"discount"`
	TaxRate    decimal.Decimal `json:"tax_rate"`
	TaxAmount  decimal.Decimal `json:"tax_amount"`
	Total      decimal.Decimal `json:"total"`
	Paid       decimal.Decimal `json:"paid"`
	Due        decimal.Decimal `json:"due"`
	Status     string          `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	Lines      []OrderLine     `json:"lines"`
}

type OrderTransaction struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method"`
	CreatedAt time.Time       `json:"created_at"`
}

type DueCollectRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Method string          `json:"method"`
}

type ReturnLineInput struct {
	OrderLineID string          `json:"order_line_id"`
	Quantity    decimal.Decimal `json:"quantity"`
}

type RefundRequest struct {
	OrderID string            `json:"order_id"`
	Lines   []ReturnLineInput `json:"lines"`
	Reason  string            `json:"reason"`
}

type ReturnItem struct {
	ReturnID     string          `json:"return_id"`
	OrderLineID  string          `json:"order_line_id"`
	ProductID    string          `json:"product_id"`
	Quantity     decimal.Decimal `json:"quantity"`
	RefundAmount decimal.Decimal `json:"refund_amount"`
}

type ProductReturn struct {
	ID           string          `json:"id"`
	OrderID      string          `json:"order_id"`
	ReturnNumber string          `json:"return_number"`
	TotalRefund  decimal.Decimal `json:"total_refund"`
	DebtCleared  decimal.Decimal `json:"debt_cleared"`
	CashBack     decimal.Decimal `json:"cash_back"`
	Reason       string          `json:"reason"`
	ProcessedBy  string          `json:"processed_by"`
	Restocked    bool            `json:"restocked"`
	CreatedAt    time.Time       `json:"created_at"`
	Items        []ReturnItem    `json:"items"`
}

// RefundResponse is the receipt-ready summary returned to the POS terminal.
type RefundResponse struct {
	Return          ProductReturn   `json:"return"`
	OriginalTotal   decimal.Decimal `json:"original_total"`
	TotalRefunded   decimal.Decimal `json:"total_refunded"`
	AdjustedBalance decimal.Decimal `json:"adjusted_balance"`
	RemainingDue    decimal.Decimal `json:"remaining_due"`
}

type CartLine struct {
	ID               string           `json:"id"`
	Username         string           `json:"username"`
	ProductID        string           `json:"product_id"`
	ProductName      string           `json:"product_name"`
	Quantity         decimal.Decimal  `json:"quantity"`
	PriceOverride    *decimal.Decimal `json:"price_override,omitempty"`
	RowTotalOverride *decimal.Decimal `json:"row_total_override,omitempty"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// EffectiveRate is the per-unit price the cart line will settle at: the
// manual override when set, the discounted catalog price otherwise.
func (l CartLine) EffectiveRate(product Product) decimal.Decimal {
	if l.PriceOverride != nil {
		return *l.PriceOverride
	}
	return product.DiscountedPrice()
}

// RowTotal is the line amount: the manual amount when set, quantity times
// effective rate otherwise, rounded to currency precision.
func (l CartLine) RowTotal(product Product) decimal.Decimal {
	if l.RowTotalOverride != nil {
		return *l.RowTotalOverride
	}
	return l.Quantity.Mul(l.EffectiveRate(product)).Round(2)
}

type CartAddRequest struct {
	ProductID string          `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
}

type CartQuantityRequest struct {
	Quantity decimal.Decimal `json:"quantity"`
}

type CartRateRequest struct {
	Rate decimal.Decimal `json:"rate"`
}

type CartRowTotalRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type CartViewLine struct {
	CartLine
	EffectiveRate decimal.Decimal `json:"effective_rate"`
	RowTotal      decimal.Decimal `json:"row_total"`
}

type CartView struct {
	Lines    []CartViewLine  `json:"lines"`
	SubTotal decimal.Decimal `json:"sub_total"`
}

type PurchaseLineInput struct {
	ProductID string          `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
}

type PurchaseCreateRequest struct {
	SupplierID string              `json:"supplier_id"`
	Lines      []PurchaseLineInput `json:"lines"`
}

type PurchaseLine struct {
	PurchaseID string          `json:"purchase_id"`
	ProductID  string          `json:"product_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	UnitCost   decimal.Decimal `json:"unit_cost"`
}

type Purchase struct {
	ID         string          `json:"id"`
	SupplierID string          `json:"supplier_id"`
	TotalCost  decimal.Decimal `json:"total_cost"`
	CreatedAt  time.Time       `json:"created_at"`
	Lines      []PurchaseLine  `json:"lines"`
}

type CloseRegisterRequest struct {
	CashInHand decimal.Decimal `json:"cash_in_hand"`
}

type DailyClosing struct {
	ID           string          `json:"id"`
	WindowStart  time.Time       `json:"window_start"`
	WindowEnd    time.Time       `json:"window_end"`
	ExpectedCash decimal.Decimal `json:"expected_cash"`
	CountedCash  decimal.Decimal `json:"counted_cash"`
	Difference   decimal.Decimal `json:"difference"`
	ClosedBy     string          `json:"closed_by"`
	CreatedAt    time.Time       `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type UserCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type UserInfo struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	DiscountTypeFixed      = "fixed"
	DiscountTypePercentage = "percentage"
)

const (
	OrderStatusPaid = "paid"
	OrderStatusDue  = "due"
)

const (
	PaymentMethodCash   = "cash"
	PaymentMethodCard   = "card"
	PaymentMethodOnline = "online"
)
