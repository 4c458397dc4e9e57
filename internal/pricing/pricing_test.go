package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/mmeshcher/partsmart-ledger/internal/model"
	"github.com/mmeshcher/partsmart-ledger/internal/money"
)

func d(s string) decimal.Decimal {
	return money.MustParse(s)
}

func assertMoney(t *testing.T, want string, got decimal.Decimal, field string) {
	t.Helper()
	if !got.Equal(d(want)) {
		t.Fatalf("%s = %s, want %s", field, got.StringFixed(2), want)
	}
}

func TestCalculate_SingleLineAboveThreshold(t *testing.T) {
	e := NewEngine(DefaultConfig())
	lines := []model.CartLine{{ProductID: 1, UnitPrice: d("1000"), Quantity: 2, TaxRatePercent: d("18")}}

	got := e.Calculate(lines, decimal.Zero)

	assertMoney(t, "2000", got.Subtotal, "subtotal")
	assertMoney(t, "360", got.Tax, "tax")
	assertMoney(t, "0", got.Shipping, "shipping")
	assertMoney(t, "2360", got.GrandTotal, "grand total")
}

func TestCalculate_CouponDiscount(t *testing.T) {
	e := NewEngine(DefaultConfig())
	lines := []model.CartLine{{ProductID: 1, UnitPrice: d("1000"), Quantity: 2, TaxRatePercent: d("18")}}

	got := e.Calculate(lines, d("200"))

	assertMoney(t, "200", got.Discount, "discount")
	assertMoney(t, "2160", got.GrandTotal, "grand total")
}

func TestCalculate_Shipping(t *testing.T) {
	tests := []struct {
		name     string
		lines    []model.CartLine
		discount string
		shipping string
		total    string
	}{
		{
			name:     "below threshold pays flat fee",
			lines:    []model.CartLine{{ProductID: 1, UnitPrice: d("500"), Quantity: 1, TaxRatePercent: d("0")}},
			shipping: "100",
			total:    "600",
		},
		{
			name:     "exactly at threshold pays flat fee",
			lines:    []model.CartLine{{ProductID: 1, UnitPrice: d("1000"), Quantity: 1, TaxRatePercent: d("0")}},
			shipping: "100",
			total:    "1100",
		},
		{
			name:     "one cent above threshold ships free",
			lines:    []model.CartLine{{ProductID: 1, UnitPrice: d("1000.01"), Quantity: 1, TaxRatePercent: d("0")}},
			shipping: "0",
			total:    "1000.01",
		},
		{
			name:     "discount pulls total below threshold",
			lines:    []model.CartLine{{ProductID: 1, UnitPrice: d("1100"), Quantity: 1, TaxRatePercent: d("0")}},
			discount: "200",
			shipping: "100",
			total:    "1000",
		},
		{
			name:     "empty cart",
			shipping: "0",
			total:    "0",
		},
	}

	e := NewEngine(DefaultConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			discount := decimal.Zero
			if tt.discount != "" {
				discount = d(tt.discount)
			}
			got := e.Calculate(tt.lines, discount)
			assertMoney(t, tt.shipping, got.Shipping, "shipping")
			assertMoney(t, tt.total, got.GrandTotal, "grand total")
		})
	}
}

func TestCalculate_DiscountedUnitPriceAndPerLineRounding(t *testing.T) {
	e := NewEngine(Config{FreeShippingThreshold: d("0"), FlatShippingFee: d("50")})
	discounted := d("9.99")
	lines := []model.CartLine{
		{ProductID: 1, UnitPrice: d("12.50"), DiscountedUnitPrice: &discounted, Quantity: 3, TaxRatePercent: d("18")},
		{ProductID: 2, UnitPrice: d("0.33"), Quantity: 1, TaxRatePercent: d("5")},
	}

	got := e.Calculate(lines, decimal.Zero)

	// 29.97 * 18% = 5.3946 -> 5.39; 0.33 * 5% = 0.0165 -> 0.02
	assertMoney(t, "30.30", got.Subtotal, "subtotal")
	assertMoney(t, "5.41", got.Tax, "tax")
	assertMoney(t, "0", got.Shipping, "shipping")
	assertMoney(t, "35.71", got.GrandTotal, "grand total")
	assert.Len(t, got.Lines, 2)
	assertMoney(t, "29.97", got.Lines[0].Subtotal, "line subtotal")
}

func TestCalculate_DiscountLargerThanTotalClampsToZero(t *testing.T) {
	e := NewEngine(Config{FreeShippingThreshold: d("-1"), FlatShippingFee: d("100")})
	lines := []model.CartLine{{ProductID: 1, UnitPrice: d("10"), Quantity: 1, TaxRatePercent: d("0")}}

	got := e.Calculate(lines, d("50"))

	assertMoney(t, "0", got.GrandTotal, "grand total")
}

func TestCalculate_Idempotent(t *testing.T) {
	e := NewEngine(DefaultConfig())
	lines := []model.CartLine{
		{ProductID: 1, UnitPrice: d("199.99"), Quantity: 3, TaxRatePercent: d("12")},
		{ProductID: 2, UnitPrice: d("49.50"), Quantity: 1, TaxRatePercent: d("18")},
	}

	first := e.Calculate(lines, d("25"))
	second := e.Calculate(lines, d("25"))

	assert.Equal(t, first, second)
}
