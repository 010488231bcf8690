package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/imbasito/spos-sub001/internal/domain"
	"github.com/imbasito/spos-sub001/internal/store"
)

func TestSettlementAndRefundNetting(t *testing.T) {
	databaseURL := os.Getenv("SPOS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set SPOS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	productID := fmt.Sprintf("prd-it-%d", stamp)
	orderID := fmt.Sprintf("ord-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM return_items WHERE return_id IN (SELECT id FROM product_returns WHERE order_id = $1)`, orderID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM product_returns WHERE order_id = $1`, orderID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM order_transactions WHERE order_id = $1`, orderID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM order_lines WHERE order_id = $1`, orderID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, orderID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
	})

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, price, discount, discount_type, quantity, active, created_at)
		VALUES ($1, 'Integration Katli', 100.00, 0, 'fixed', 10.000, true, now())
	`, productID); err != nil {
		t.Fatalf("insert product: %v", err)
	}

	order, err := s.CreateOrder(ctx, domain.Order{
		ID:       orderID,
		SubTotal: decimal.RequireFromString("500"),
		Total:    decimal.RequireFromString("500"),
		Paid:     decimal.RequireFromString("300"),
		Due:      decimal.RequireFromString("200"),
		Status:   domain.OrderStatusDue,
		Lines: []domain.OrderLine{
			{
				ProductID:   productID,
				ProductName: "Integration Katli",
				Quantity:    decimal.RequireFromString("5"),
				UnitPrice:   decimal.RequireFromString("100"),
				LineTotal:   decimal.RequireFromString("500"),
			},
		},
	}, domain.OrderTransaction{Amount: decimal.RequireFromString("300"), Method: domain.PaymentMethodCash})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	product, err := s.GetProductByID(ctx, productID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if !product.Quantity.Equal(decimal.RequireFromString("5")) {
		t.Fatalf("expected stock 5 after settlement, got %s", product.Quantity)
	}

	// A second settlement beyond remaining stock must fail and leave
	// the quantity untouched.
	_, err = s.CreateOrder(ctx, domain.Order{
		ID:       orderID + "-over",
		SubTotal: decimal.RequireFromString("600"),
		Total:    decimal.RequireFromString("600"),
		Status:   domain.OrderStatusDue,
		Due:      decimal.RequireFromString("600"),
		Lines: []domain.OrderLine{
			{ProductID: productID, Quantity: decimal.RequireFromString("6"), UnitPrice: decimal.RequireFromString("100"), LineTotal: decimal.RequireFromString("600")},
		},
	}, domain.OrderTransaction{Amount: decimal.Zero})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	product, _ = s.GetProductByID(ctx, productID)
	if !product.Quantity.Equal(decimal.RequireFromString("5")) {
		t.Fatalf("failed settlement must not touch stock, got %s", product.Quantity)
	}

	ret, err := s.CreateProductReturn(ctx, domain.ProductReturn{
		OrderID: orderID,
		Items: []domain.ReturnItem{
			{
				OrderLineID:  order.Lines[0].ID,
				ProductID:    productID,
				Quantity:     decimal.RequireFromString("1"),
				RefundAmount: decimal.RequireFromString("100"),
			},
		},
	}, false)
	if err != nil {
		t.Fatalf("create return: %v", err)
	}
	if !ret.DebtCleared.Equal(decimal.RequireFromString("100")) || !ret.CashBack.IsZero() {
		t.Fatalf("expected netting against due, got debt=%s cash=%s", ret.DebtCleared, ret.CashBack)
	}

	saved, err := s.GetOrderByID(ctx, orderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if !saved.Due.Equal(decimal.RequireFromString("100")) {
		t.Fatalf("expected due 100 after netting, got %s", saved.Due)
	}
	if !saved.Total.Equal(decimal.RequireFromString("500")) {
		t.Fatalf("order total must never change, got %s", saved.Total)
	}
}
