package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/imbasito/spos-sub001/internal/cache"
	"github.com/imbasito/spos-sub001/internal/config"
	"github.com/imbasito/spos-sub001/internal/domain"
	"github.com/imbasito/spos-sub001/internal/store"
	"github.com/imbasito/spos-sub001/internal/store/memory"
)

func newTestService() *Service {
	return newTestServiceWithConfig(config.Config{
		PageSize:               20,
		ProductCacheTTLSeconds: 60,
	})
}

func newTestServiceWithConfig(cfg config.Config) *Service {
	return New(memory.NewSeeded(), cache.NoopProductCache{}, cfg)
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "cashier", Role: "cashier"})
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func mustCreateProduct(t *testing.T, svc *Service, name string, price string, qty string) domain.Product {
	t.Helper()
	product, err := svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{
		Name:     name,
		Price:    dec(price),
		Quantity: dec(qty),
	})
	if err != nil {
		t.Fatalf("create product %s failed: %v", name, err)
	}
	return product
}

func TestCreateOrderComputesTotalsAndDecrementsStock(t *testing.T) {
	svc := newTestService()
	product := mustCreateProduct(t, svc, "Kesar Peda", "100.00", "10.000")

	order, err := svc.CreateOrder(cashierCtx(), domain.OrderCreateRequest{
		Lines: []domain.OrderLineInput{
			{ProductID: product.ID, Quantity: dec("2")},
		},
		Discount: dec("20"),
		Paid:     dec("100"),
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	if !order.SubTotal.Equal(dec("200")) {
		t.Fatalf("expected sub total 200, got %s", order.SubTotal)
	}
	if !order.Total.Equal(dec("180")) {
		t.Fatalf("expected total 180, got %s", order.Total)
	}
	if !order.Due.Equal(dec("80")) {
		t.Fatalf("expected due 80, got %s", order.Due)
	}
	if order.Status != domain.OrderStatusDue {
		t.Fatalf("expected status due, got %s", order.Status)
	}

	saved, err := svc.GetProduct(cashierCtx(), product.ID)
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if !saved.Quantity.Equal(dec("8")) {
		t.Fatalf("expected remaining stock 8, got %s", saved.Quantity)
	}
}

func TestCreateOrderAppliesTaxSnapshot(t *testing.T) {
	svc := newTestServiceWithConfig(config.Config{
		PageSize:       20,
		TaxEnabled:     true,
		TaxRatePercent: dec("5"),
	})
	product := mustCreateProduct(t, svc, "Dry Fruit Halwa", "100.00", "10.000")

	order, err := svc.CreateOrder(cashierCtx(), domain.OrderCreateRequest{
		Lines: []domain.OrderLineInput{
			{ProductID: product.ID, Quantity: dec("2")},
		},
		Discount: dec("20"),
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	if !order.TaxAmount.Equal(dec("9")) {
		t.Fatalf("expected tax 9 on taxable 180, got %s", order.TaxAmount)
	}
	if !order.Total.Equal(dec("189")) {
		t.Fatalf("expected total 189, got %s", order.Total)
	}
	if !order.TaxRate.Equal(dec("5")) {
		t.Fatalf("expected snapshot tax rate 5, got %s", order.TaxRate)
	}
}

func TestCreateOrderInsufficientStockIsAllOrNothing(t *testing.T) {
	svc := newTestService()
	plenty := mustCreateProduct(t, svc, "Coconut Barfi", "50.00", "10.000")
	scarce := mustCreateProduct(t, svc, "Anjeer Roll", "90.00", "1.000")

	_, err := svc.CreateOrder(cashierCtx(), domain.OrderCreateRequest{
		Lines: []domain.OrderLineInput{
			{ProductID: plenty.ID, Quantity: dec("2")},
			{ProductID: scarce.ID, Quantity: dec("3")},
		},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}

	savedPlenty, _ := svc.GetProduct(cashierCtx(), plenty.ID)
	savedScarce, _ := svc.GetProduct(cashierCtx(), scarce.ID)
	if !savedPlenty.Quantity.Equal(dec("10")) {
		t.Fatalf("failed settlement must not touch stock, got %s", savedPlenty.Quantity)
	}
	if !savedScarce.Quantity.Equal(dec("1")) {
		t.Fatalf("failed settlement must not touch stock, got %s", savedScarce.Quantity)
	}
}

func TestConcurrentSettlementOfLastUnit(t *testing.T) {
	svc := newTestService()
	product := mustCreateProduct(t, svc, "Chocolate Barfi", "120.00", "1.000")

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateOrder(cashierCtx(), domain.OrderCreateRequest{
				Lines: []domain.OrderLineInput{
					{ProductID: product.ID, Quantity: dec("1")},
				},
				Paid: dec("120"),
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var wins, conflicts int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, store.ErrInsufficientStock):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || conflicts != 1 {
		t.Fatalf("expected exactly one winner, got wins=%d conflicts=%d", wins, conflicts)
	}

	saved, _ := svc.GetProduct(cashierCtx(), product.ID)
	if !saved.Quantity.IsZero() {
		t.Fatalf("expected zero stock after last unit sold, got %s", saved.Quantity)
	}
}

func TestCreateOrderCapsOverTender(t *testing.T) {
	svc := newTestService()
	product := mustCreateProduct(t, svc, "Kalakand", "90.00", "5.000")

	order, err := svc.CreateOrder(cashierCtx(), domain.OrderCreateRequest{
		Lines: []domain.OrderLineInput{
			{ProductID: product.ID, Quantity: dec("1")},
		},
		Paid: dec("500"),
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if !order.Paid.Equal(dec("90")) {
		t.Fatalf("tender above total must be capped, got paid %s", order.Paid)
	}
	if !order.Due.IsZero() || order.Status != domain.OrderStatusPaid {
		t.Fatalf("expected settled order, got due=%s status=%s", order.Due, order.Status)
	}
}

func TestCollectDueLifecycle(t *testing.T) {
	svc := newTestService()
	product := mustCreateProduct(t, svc, "Mysore Pak", "100.00", "10.000")

	order, err := svc.CreateOrder(cashierCtx(), domain.OrderCreateRequest{
		Lines: []domain.OrderLineInput{
			{ProductID: product.ID, Quantity: dec("3")},
		},
		Paid: dec("100"),
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	updated, txn, err := svc.CollectDue(cashierCtx(), order.ID, domain.DueCollectRequest{Amount: dec("150")})
	if err != nil {
		t.Fatalf("collect due failed: %v", err)
	}
	if !updated.Due.Equal(dec("50")) || updated.Status != domain.OrderStatusDue {
		t.Fatalf("expected due 50, got due=%s status=%s", updated.Due, updated.Status)
	}
	if !txn.Amount.Equal(dec("150")) {
		t.Fatalf("expected transaction amount 150, got %s", txn.Amount)
	}

	_, _, err = svc.CollectDue(cashierCtx(), order.ID, domain.DueCollectRequest{Amount: dec("60")})
	if !errors.Is(err, store.ErrOverpayment) {
		t.Fatalf("expected overpayment error, got %v", err)
	}

	updated, _, err = svc.CollectDue(cashierCtx(), order.ID, domain.DueCollectRequest{Amount: dec("50")})
	if err != nil {
		t.Fatalf("final collection failed: %v", err)
	}
	if !updated.Due.IsZero() || updated.Status != domain.OrderStatusPaid {
		t.Fatalf("expected settled order, got due=%s status=%s", updated.Due, updated.Status)
	}

	_, _, err = svc.CollectDue(cashierCtx(), order.ID, domain.DueCollectRequest{Amount: dec("1")})
	if !errors.Is(err, store.ErrOverpayment) {
		t.Fatalf("collection on a settled order must fail, got %v", err)
	}

	txns, err := svc.ListOrderTransactions(cashierCtx(), order.ID)
	if err != nil {
		t.Fatalf("list transactions failed: %v", err)
	}
	if len(txns) != 3 {
		t.Fatalf("expected 3 transactions (initial + 2 collections), got %d", len(txns))
	}
}

func TestRefundNetsAgainstOutstandingDue(t *testing.T) {
	svc := newTestService()
	product := mustCreateProduct(t, svc, "Motichoor Ladoo Box", "25.00", "20.000")

	order, err := svc.CreateOrder(cashierCtx(), domain.OrderCreateRequest{
		Lines: []domain.OrderLineInput{
			{ProductID: product.ID, Quantity: dec("10")},
		},
		Paid: dec("150"),
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	resp, err := svc.ProcessRefund(cashierCtx(), domain.RefundRequest{
		OrderID: order.ID,
		Lines: []domain.ReturnLineInput{
			{OrderLineID: order.Lines[0].ID, Quantity: dec("2")},
		},
		Reason: "stale batch",
	})
	if err != nil {
		t.Fatalf("refund failed: %v", err)
	}

	if !resp.Return.TotalRefund.Equal(dec("50")) {
		t.Fatalf("expected refund 50, got %s", resp.Return.TotalRefund)
	}
	if !resp.Return.DebtCleared.Equal(dec("50")) || !resp.Return.CashBack.IsZero() {
		t.Fatalf("expected full netting, got debt_cleared=%s cash_back=%s", resp.Return.DebtCleared, resp.Return.CashBack)
	}
	if !resp.RemainingDue.Equal(dec("50")) {
		t.Fatalf("expected remaining due 50, got %s", resp.RemainingDue)
	}
	if !resp.OriginalTotal.Equal(dec("250")) {
		t.Fatalf("order total must never be rewritten, got %s", resp.OriginalTotal)
	}
}

func TestRefundPaysCashWhenNothingIsOwed(t *testing.T) {
	svc := newTestService()
	product := mustCreateProduct(t, svc, "Badam Katli", "25.00", "20.000")

	order, err := svc.CreateOrder(cashierCtx(), domain.OrderCreateRequest{
		Lines: []domain.OrderLineInput{
			{ProductID: product.ID, Quantity: dec("10")},
		},
		Paid: dec("250"),
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	resp, err := svc.ProcessRefund(cashierCtx(), domain.RefundRequest{
		OrderID: order.ID,
		Lines: []domain.ReturnLineInput{
			{OrderLineID: order.Lines[0].ID, Quantity: dec("2")},
		},
	})
	if err != nil {
		t.Fatalf("refund failed: %v", err)
	}

	if !resp.Return.DebtCleared.IsZero() || !resp.Return.CashBack.Equal(dec("50")) {
		t.Fatalf("expected pure cash back, got debt_cleared=%s cash_back=%s", resp.Return.DebtCleared, resp.Return.CashBack)
	}
	if !resp.RemainingDue.IsZero() {
		t.Fatalf("due must stay zero, got %s", resp.RemainingDue)
	}
}

func TestRefundUsesEffectiveSoldPrice(t *testing.T) {
	svc := newTestService()
	product := mustCreateProduct(t, svc, "Pista Roll", "100.00", "10.000")

	// Sub total 200, order discount 20, total 180. The line sold at an
	// effective 90 per unit even though the list price was 100.
	order, err := svc.CreateOrder(cashierCtx(), domain.OrderCreateRequest{
		Lines: []domain.OrderLineInput{
			{ProductID: product.ID, Quantity: dec("2")},
		},
		Discount: dec("20"),
		Paid:     dec("180"),
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	resp, err := svc.ProcessRefund(cashierCtx(), domain.RefundRequest{
		OrderID: order.ID,
		Lines: []domain.ReturnLineInput{
			{OrderLineID: order.Lines[0].ID, Quantity: dec("1")},
		},
	})
	if err != nil {
		t.Fatalf("refund failed: %v", err)
	}

	if !resp.Return.TotalRefund.Equal(dec("90")) {
		t.Fatalf("expected refund at effective price 90, got %s", resp.Return.TotalRefund)
	}
}

func TestRefundRejectsCumulativeOverReturn(t *testing.T) {
	svc := newTestService()
	product := mustCreateProduct(t, svc, "Malai Peda", "50.00", "10.000")

	order, err := svc.CreateOrder(cashierCtx(), domain.OrderCreateRequest{
		Lines: []domain.OrderLineInput{
			{ProductID: product.ID, Quantity: dec("2")},
		},
		Paid: dec("100"),
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	lineID := order.Lines[0].ID

	_, err = svc.ProcessRefund(cashierCtx(), domain.RefundRequest{
		OrderID: order.ID,
		Lines:   []domain.ReturnLineInput{{OrderLineID: lineID, Quantity: dec("3")}},
	})
	if !errors.Is(err, store.ErrOverReturn) {
		t.Fatalf("expected over-return error, got %v", err)
	}

	if _, err = svc.ProcessRefund(cashierCtx(), domain.RefundRequest{
		OrderID: order.ID,
		Lines:   []domain.ReturnLineInput{{OrderLineID: lineID, Quantity: dec("1")}},
	}); err != nil {
		t.Fatalf("first partial refund failed: %v", err)
	}

	_, err = svc.ProcessRefund(cashierCtx(), domain.RefundRequest{
		OrderID: order.ID,
		Lines:   []domain.ReturnLineInput{{OrderLineID: lineID, Quantity: dec("2")}},
	})
	if !errors.Is(err, store.ErrOverReturn) {
		t.Fatalf("cumulative returns above sold quantity must fail, got %v", err)
	}
}

func TestRefundRestockToggle(t *testing.T) {
	svc := newTestService()
	product := mustCreateProduct(t, svc, "Sandesh", "60.00", "10.000")

	order, err := svc.CreateOrder(cashierCtx(), domain.OrderCreateRequest{
		Lines: []domain.OrderLineInput{
			{ProductID: product.ID, Quantity: dec("2")},
		},
		Paid: dec("120"),
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	resp, err := svc.ProcessRefund(cashierCtx(), domain.RefundRequest{
		OrderID: order.ID,
		Lines:   []domain.ReturnLineInput{{OrderLineID: order.Lines[0].ID, Quantity: dec("1")}},
	})
	if err != nil {
		t.Fatalf("refund failed: %v", err)
	}
	if resp.Return.Restocked {
		t.Fatalf("restock must be off by default")
	}
	saved, _ := svc.GetProduct(cashierCtx(), product.ID)
	if !saved.Quantity.Equal(dec("8")) {
		t.Fatalf("returned goods must not re-enter stock by default, got %s", saved.Quantity)
	}

	restockSvc := newTestServiceWithConfig(config.Config{PageSize: 20, RestockOnRefund: true})
	product2 := mustCreateProduct(t, restockSvc, "Sandesh", "60.00", "10.000")
	order2, err := restockSvc.CreateOrder(cashierCtx(), domain.OrderCreateRequest{
		Lines: []domain.OrderLineInput{
			{ProductID: product2.ID, Quantity: dec("2")},
		},
		Paid: dec("120"),
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	resp2, err := restockSvc.ProcessRefund(cashierCtx(), domain.RefundRequest{
		OrderID: order2.ID,
		Lines:   []domain.ReturnLineInput{{OrderLineID: order2.Lines[0].ID, Quantity: dec("1")}},
	})
	if err != nil {
		t.Fatalf("refund failed: %v", err)
	}
	if !resp2.Return.Restocked {
		t.Fatalf("expected restocked return")
	}
	saved2, _ := restockSvc.GetProduct(cashierCtx(), product2.ID)
	if !saved2.Quantity.Equal(dec("9")) {
		t.Fatalf("expected stock restored to 9, got %s", saved2.Quantity)
	}
}

func TestReturnNumbersStayMonotonicAfterDeletion(t *testing.T) {
	svc := newTestService()
	product := mustCreateProduct(t, svc, "Rasmalai", "40.00", "20.000")

	order, err := svc.CreateOrder(cashierCtx(), domain.OrderCreateRequest{
		Lines: []domain.OrderLineInput{
			{ProductID: product.ID, Quantity: dec("6")},
		},
		Paid: dec("240"),
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	lineID := order.Lines[0].ID

	refund := func() domain.ProductReturn {
		resp, err := svc.ProcessRefund(cashierCtx(), domain.RefundRequest{
			OrderID: order.ID,
			Lines:   []domain.ReturnLineInput{{OrderLineID: lineID, Quantity: dec("1")}},
		})
		if err != nil {
			t.Fatalf("refund failed: %v", err)
		}
		return resp.Return
	}

	first := refund()
	second := refund()
	if first.ReturnNumber != "RET-0001" || second.ReturnNumber != "RET-0002" {
		t.Fatalf("expected RET-0001 and RET-0002, got %s and %s", first.ReturnNumber, second.ReturnNumber)
	}

	if err := svc.DeleteReturn(adminCtx(), second.ID); err != nil {
		t.Fatalf("delete return failed: %v", err)
	}

	third := refund()
	if third.ReturnNumber != "RET-0003" {
		t.Fatalf("deleted numbers must never be reissued, got %s", third.ReturnNumber)
	}
}

func TestCloseRegisterWindows(t *testing.T) {
	svc := newTestService()
	product := mustCreateProduct(t, svc, "Ghee Ladoo", "100.00", "50.000")

	if _, err := svc.CreateOrder(cashierCtx(), domain.OrderCreateRequest{
		Lines: []domain.OrderLineInput{{ProductID: product.ID, Quantity: dec("3")}},
		Paid:  dec("300"),
	}); err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	first, err := svc.CloseRegister(cashierCtx(), domain.CloseRegisterRequest{CashInHand: dec("300")})
	if err != nil {
		t.Fatalf("close register failed: %v", err)
	}
	if !first.ExpectedCash.Equal(dec("300")) || !first.Difference.IsZero() {
		t.Fatalf("expected 300 with zero difference, got expected=%s difference=%s", first.ExpectedCash, first.Difference)
	}

	order, err := svc.CreateOrder(cashierCtx(), domain.OrderCreateRequest{
		Lines: []domain.OrderLineInput{{ProductID: product.ID, Quantity: dec("2")}},
		Paid:  dec("200"),
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if _, err := svc.ProcessRefund(cashierCtx(), domain.RefundRequest{
		OrderID: order.ID,
		Lines:   []domain.ReturnLineInput{{OrderLineID: order.Lines[0].ID, Quantity: dec("1")}},
	}); err != nil {
		t.Fatalf("refund failed: %v", err)
	}

	second, err := svc.CloseRegister(cashierCtx(), domain.CloseRegisterRequest{CashInHand: dec("90")})
	if err != nil {
		t.Fatalf("second close failed: %v", err)
	}
	if !second.WindowStart.Equal(first.WindowEnd) {
		t.Fatalf("second window must start where the first ended")
	}
	if !second.ExpectedCash.Equal(dec("100")) {
		t.Fatalf("expected 200 sales minus 100 refund, got %s", second.ExpectedCash)
	}
	if !second.Difference.Equal(dec("-10")) {
		t.Fatalf("expected shortfall of 10, got %s", second.Difference)
	}
}

func TestCartOverrideSemantics(t *testing.T) {
	svc := newTestService()
	product := mustCreateProduct(t, svc, "Kaju Roll", "500.00", "10.000")
	ctx := cashierCtx()

	line, err := svc.AddToCart(ctx, domain.CartAddRequest{ProductID: product.ID, Quantity: dec("0.5")})
	if err != nil {
		t.Fatalf("add to cart failed: %v", err)
	}

	// A manual amount derives the weight from the effective rate.
	line, err = svc.SetCartRowTotal(ctx, line.ID, domain.CartRowTotalRequest{Amount: dec("100")})
	if err != nil {
		t.Fatalf("set row total failed: %v", err)
	}
	if line.RowTotalOverride == nil || !line.RowTotalOverride.Equal(dec("100")) {
		t.Fatalf("expected row total override 100, got %v", line.RowTotalOverride)
	}
	if !line.Quantity.Equal(dec("0.2")) {
		t.Fatalf("expected derived quantity 0.2 at rate 500, got %s", line.Quantity)
	}

	// Changing the quantity invalidates the manual amount.
	line, err = svc.SetCartQuantity(ctx, line.ID, domain.CartQuantityRequest{Quantity: dec("1")})
	if err != nil {
		t.Fatalf("set quantity failed: %v", err)
	}
	if line.RowTotalOverride != nil {
		t.Fatalf("quantity change must clear the manual amount")
	}

	// A manual rate reprices the line and also clears any manual amount.
	line, err = svc.SetCartRowTotal(ctx, line.ID, domain.CartRowTotalRequest{Amount: dec("250")})
	if err != nil {
		t.Fatalf("set row total failed: %v", err)
	}
	line, err = svc.SetCartRate(ctx, line.ID, domain.CartRateRequest{Rate: dec("450")})
	if err != nil {
		t.Fatalf("set rate failed: %v", err)
	}
	if line.PriceOverride == nil || !line.PriceOverride.Equal(dec("450")) {
		t.Fatalf("expected price override 450, got %v", line.PriceOverride)
	}
	if line.RowTotalOverride != nil {
		t.Fatalf("rate change must clear the manual amount")
	}

	view, err := svc.ViewCart(ctx)
	if err != nil {
		t.Fatalf("view cart failed: %v", err)
	}
	if len(view.Lines) != 1 {
		t.Fatalf("expected 1 cart line, got %d", len(view.Lines))
	}
	if !view.Lines[0].EffectiveRate.Equal(dec("450")) {
		t.Fatalf("expected effective rate 450, got %s", view.Lines[0].EffectiveRate)
	}
	if !view.SubTotal.Equal(dec("225")) {
		t.Fatalf("expected sub total 225 for 0.5kg at 450, got %s", view.SubTotal)
	}
}

func TestAddToCartMergesSameProduct(t *testing.T) {
	svc := newTestService()
	product := mustCreateProduct(t, svc, "Gulab Jamun Tin", "320.00", "10.000")
	ctx := cashierCtx()

	if _, err := svc.AddToCart(ctx, domain.CartAddRequest{ProductID: product.ID, Quantity: dec("1")}); err != nil {
		t.Fatalf("add to cart failed: %v", err)
	}
	line, err := svc.AddToCart(ctx, domain.CartAddRequest{ProductID: product.ID, Quantity: dec("2")})
	if err != nil {
		t.Fatalf("second add failed: %v", err)
	}
	if !line.Quantity.Equal(dec("3")) {
		t.Fatalf("expected merged quantity 3, got %s", line.Quantity)
	}

	view, err := svc.ViewCart(ctx)
	if err != nil {
		t.Fatalf("view cart failed: %v", err)
	}
	if len(view.Lines) != 1 {
		t.Fatalf("expected a single merged line, got %d", len(view.Lines))
	}
}

func TestCreateOrderFromCartClearsCart(t *testing.T) {
	svc := newTestService()
	product := mustCreateProduct(t, svc, "Besan Barfi", "200.00", "10.000")
	ctx := cashierCtx()

	if _, err := svc.AddToCart(ctx, domain.CartAddRequest{ProductID: product.ID, Quantity: dec("1.5")}); err != nil {
		t.Fatalf("add to cart failed: %v", err)
	}

	order, err := svc.CreateOrder(ctx, domain.OrderCreateRequest{
		FromCart: true,
		Paid:     dec("300"),
	})
	if err != nil {
		t.Fatalf("create order from cart failed: %v", err)
	}
	if !order.Total.Equal(dec("300")) {
		t.Fatalf("expected total 300 for 1.5kg at 200, got %s", order.Total)
	}
	if order.Status != domain.OrderStatusPaid {
		t.Fatalf("expected settled order, got %s", order.Status)
	}

	view, err := svc.ViewCart(ctx)
	if err != nil {
		t.Fatalf("view cart failed: %v", err)
	}
	if len(view.Lines) != 0 {
		t.Fatalf("cart must be empty after settlement, got %d lines", len(view.Lines))
	}
}

func TestCreateProductRequiresAdmin(t *testing.T) {
	svc := newTestService()

	_, err := svc.CreateProduct(cashierCtx(), domain.ProductCreateRequest{
		Name:  "Peda",
		Price: dec("10"),
	})
	if err == nil {
		t.Fatalf("expected cashier product creation to fail")
	}
}

func TestProductDiscountLowersOrderPrice(t *testing.T) {
	svc := newTestService()
	product, err := svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{
		Name:         "Kaju Katli Premium",
		Price:        dec("800.00"),
		Discount:     dec("10"),
		DiscountType: domain.DiscountTypePercentage,
		Quantity:     dec("5.000"),
	})
	if err != nil {
		t.Fatalf("create product failed: %v", err)
	}

	order, err := svc.CreateOrder(cashierCtx(), domain.OrderCreateRequest{
		Lines: []domain.OrderLineInput{{ProductID: product.ID, Quantity: dec("1")}},
		Paid:  dec("720"),
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if !order.Total.Equal(dec("720")) {
		t.Fatalf("expected discounted total 720, got %s", order.Total)
	}
}

func TestPurchaseReceivesStock(t *testing.T) {
	svc := newTestService()
	product := mustCreateProduct(t, svc, "Boondi Ladoo", "150.00", "2.000")

	supplier, err := svc.CreateSupplier(adminCtx(), domain.SupplierCreateRequest{Name: "Sweet Supplies Co"})
	if err != nil {
		t.Fatalf("create supplier failed: %v", err)
	}

	purchase, err := svc.CreatePurchase(adminCtx(), domain.PurchaseCreateRequest{
		SupplierID: supplier.ID,
		Lines: []domain.PurchaseLineInput{
			{ProductID: product.ID, Quantity: dec("8"), UnitCost: dec("90")},
		},
	})
	if err != nil {
		t.Fatalf("create purchase failed: %v", err)
	}
	if !purchase.TotalCost.Equal(dec("720")) {
		t.Fatalf("expected total cost 720, got %s", purchase.TotalCost)
	}

	saved, _ := svc.GetProduct(cashierCtx(), product.ID)
	if !saved.Quantity.Equal(dec("10")) {
		t.Fatalf("expected stock 10 after receiving, got %s", saved.Quantity)
	}
}

func TestRefundRoundsFractionalWeightsPerLine(t *testing.T) {
	svc := newTestService()
	kaju := mustCreateProduct(t, svc, "Kaju Katli Loose", "610.00", "5.000")
	peda := mustCreateProduct(t, svc, "Kesar Peda Loose", "322.90", "5.000")

	// 0.333 kg at 610 is 203.13 and 0.3 kg at 322.90 is 96.87, so the
	// sub total is exactly 300. A 30 discount makes the effective rate
	// ratio 0.9.
	order, err := svc.CreateOrder(cashierCtx(), domain.OrderCreateRequest{
		Lines: []domain.OrderLineInput{
			{ProductID: kaju.ID, Quantity: dec("0.333")},
			{ProductID: peda.ID, Quantity: dec("0.3")},
		},
		Discount: dec("30"),
		Paid:     dec("270"),
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if !order.Total.Equal(dec("270")) {
		t.Fatalf("expected total 270, got %s", order.Total)
	}

	resp, err := svc.ProcessRefund(cashierCtx(), domain.RefundRequest{
		OrderID: order.ID,
		Lines: []domain.ReturnLineInput{
			{OrderLineID: order.Lines[0].ID, Quantity: dec("0.333")},
			{OrderLineID: order.Lines[1].ID, Quantity: dec("0.3")},
		},
	})
	if err != nil {
		t.Fatalf("refund failed: %v", err)
	}

	// Exact values are 182.817 and 87.183. Half-up rounding goes up on
	// the first line and down on the second.
	if !resp.Return.Items[0].RefundAmount.Equal(dec("182.82")) {
		t.Fatalf("expected line refund 182.82, got %s", resp.Return.Items[0].RefundAmount)
	}
	if !resp.Return.Items[1].RefundAmount.Equal(dec("87.18")) {
		t.Fatalf("expected line refund 87.18, got %s", resp.Return.Items[1].RefundAmount)
	}

	exact := dec("0.333").Mul(dec("610")).Add(dec("0.3").Mul(dec("322.90"))).
		Mul(order.Total).Div(order.SubTotal)
	if resp.Return.TotalRefund.Sub(exact).Abs().GreaterThanOrEqual(dec("0.01")) {
		t.Fatalf("rounded refund %s drifted more than a cent from exact %s", resp.Return.TotalRefund, exact)
	}
	if !resp.Return.TotalRefund.Equal(dec("270")) {
		t.Fatalf("expected full refund 270, got %s", resp.Return.TotalRefund)
	}
	if !resp.Return.CashBack.Equal(dec("270")) {
		t.Fatalf("fully paid order must refund in cash, got %s", resp.Return.CashBack)
	}
	if !resp.AdjustedBalance.IsZero() {
		t.Fatalf("expected adjusted balance 0, got %s", resp.AdjustedBalance)
	}
}

func TestCreateOrderRejectsUnknownCustomer(t *testing.T) {
	svc := newTestService()
	product := mustCreateProduct(t, svc, "Motichoor Ladoo", "250.00", "10.000")

	_, err := svc.CreateOrder(cashierCtx(), domain.OrderCreateRequest{
		CustomerID: "cus-does-not-exist",
		Lines: []domain.OrderLineInput{
			{ProductID: product.ID, Quantity: dec("2")},
		},
		Paid: dec("500"),
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for unknown customer, got %v", err)
	}

	saved, getErr := svc.GetProduct(cashierCtx(), product.ID)
	if getErr != nil {
		t.Fatalf("get product failed: %v", getErr)
	}
	if !saved.Quantity.Equal(dec("10")) {
		t.Fatalf("rejected order must not touch stock, got %s", saved.Quantity)
	}
}

func TestTaxRateIgnoredWhenTaxDisabled(t *testing.T) {
	svc := newTestServiceWithConfig(config.Config{
		PageSize:       20,
		TaxEnabled:     false,
		TaxRatePercent: dec("18"),
	})
	product := mustCreateProduct(t, svc, "Rasgulla Tin", "100.00", "10.000")

	order, err := svc.CreateOrder(cashierCtx(), domain.OrderCreateRequest{
		Lines: []domain.OrderLineInput{
			{ProductID: product.ID, Quantity: dec("2")},
		},
		Paid: dec("200"),
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if !order.TaxAmount.IsZero() || !order.TaxRate.IsZero() {
		t.Fatalf("disabled tax must not apply, got rate %s amount %s", order.TaxRate, order.TaxAmount)
	}
	if !order.Total.Equal(dec("200")) {
		t.Fatalf("expected total 200 without tax, got %s", order.Total)
	}
}
