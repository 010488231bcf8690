package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/imbasito/spos-sub001/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("invalid input")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrOverReturn        = errors.New("return exceeds remaining quantity")
	ErrOverpayment       = errors.New("amount exceeds outstanding due")
)

type Repository interface {
	ListProducts(ctx context.Context, page int, pageSize int) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductByID(ctx context.Context, id string) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)

	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	GetCustomerByID(ctx context.Context, id string) (*domain.Customer, error)
	ListCustomers(ctx context.Context) ([]domain.Customer, error)

	CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)
	GetSupplierByID(ctx context.Context, id string) (*domain.Supplier, error)
	ListSuppliers(ctx context.Context) ([]domain.Supplier, error)

	// CreateOrder persists the order, its lines, and the initial payment
	// transaction, decrementing product stock per line with an atomic
	// bounded decrement. Any line that would drive stock negative aborts
	// the whole settlement with ErrInsufficientStock.
	CreateOrder(ctx context.Context, order domain.Order, initial domain.OrderTransaction) (*domain.Order, error)
	GetOrderByID(ctx context.Context, id string) (*domain.Order, error)
	ListOrders(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Order, error)
	ListOrderTransactions(ctx context.Context, orderID string) ([]domain.OrderTransaction, error)

	// CollectDue appends a payment against the order's outstanding balance.
	// Amounts above the current due fail with ErrOverpayment.
	CollectDue(ctx context.Context, orderID string, txn domain.OrderTransaction) (*domain.Order, *domain.OrderTransaction, error)

	GetReturnedQtyByOrderLine(ctx context.Context, orderID string) (map[string]decimal.Decimal, error)
	// CreateProductReturn validates per-line return bounds inside the
	// transaction, assigns the next sequential return number, nets the
	// refund against the order's due, and optionally restocks.
	CreateProductReturn(ctx context.Context, ret domain.ProductReturn, restock bool) (*domain.ProductReturn, error)
	ListReturnsByOrder(ctx context.Context, orderID string) ([]domain.ProductReturn, error)
	DeleteProductReturn(ctx context.Context, returnID string) error

	CreatePurchase(ctx context.Context, purchase domain.Purchase) (*domain.Purchase, error)
	ListPurchases(ctx context.Context, limit int) ([]domain.Purchase, error)

	// CloseRegister reconciles counted cash against the expected system
	// cash for the window since the previous closing.
	CloseRegister(ctx context.Context, countedCash decimal.Decimal, closedBy string, now time.Time) (*domain.DailyClosing, error)
	ListDailyClosings(ctx context.Context, limit int) ([]domain.DailyClosing, error)

	GetCartLines(ctx context.Context, username string) ([]domain.CartLine, error)
	GetCartLine(ctx context.Context, lineID string) (*domain.CartLine, error)
	UpsertCartLine(ctx context.Context, line domain.CartLine) (*domain.CartLine, error)
	DeleteCartLine(ctx context.Context, lineID string) error
	ClearCart(ctx context.Context, username string) error

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
