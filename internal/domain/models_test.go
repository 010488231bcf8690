package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestDiscountedPrice(t *testing.T) {
	cases := []struct {
		name    string
		product Product
		want    string
	}{
		{
			name:    "no discount",
			product: Product{Price: dec("320.00"), DiscountType: DiscountTypeFixed},
			want:    "320",
		},
		{
			name:    "fixed discount subtracts",
			product: Product{Price: dec("280.00"), Discount: dec("20"), DiscountType: DiscountTypeFixed},
			want:    "260",
		},
		{
			name:    "percentage discount scales",
			product: Product{Price: dec("820.00"), Discount: dec("5"), DiscountType: DiscountTypePercentage},
			want:    "779",
		},
		{
			name:    "never below zero",
			product: Product{Price: dec("10.00"), Discount: dec("50"), DiscountType: DiscountTypeFixed},
			want:    "0",
		},
		{
			name:    "rounds to currency precision",
			product: Product{Price: dec("99.99"), Discount: dec("33"), DiscountType: DiscountTypePercentage},
			want:    "66.99",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.product.DiscountedPrice()
			if !got.Equal(dec(tc.want)) {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestCartLineEffectiveRateAndRowTotal(t *testing.T) {
	product := Product{Price: dec("400.00"), DiscountType: DiscountTypeFixed}

	line := CartLine{Quantity: dec("0.5")}
	if !line.EffectiveRate(product).Equal(dec("400")) {
		t.Fatalf("expected catalog rate 400, got %s", line.EffectiveRate(product))
	}
	if !line.RowTotal(product).Equal(dec("200")) {
		t.Fatalf("expected row total 200, got %s", line.RowTotal(product))
	}

	rate := dec("350")
	line.PriceOverride = &rate
	if !line.EffectiveRate(product).Equal(rate) {
		t.Fatalf("manual rate must win, got %s", line.EffectiveRate(product))
	}
	if !line.RowTotal(product).Equal(dec("175")) {
		t.Fatalf("expected row total 175 at manual rate, got %s", line.RowTotal(product))
	}

	amount := dec("160")
	line.RowTotalOverride = &amount
	if !line.RowTotal(product).Equal(amount) {
		t.Fatalf("manual amount must win, got %s", line.RowTotal(product))
	}
}
