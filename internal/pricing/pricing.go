// Package pricing рассчитывает денежные итоги корзины.
//
// Расчёт не имеет побочных эффектов: одинаковая корзина и одинаковая скидка
// всегда дают одинаковый результат.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/partsmart-ledger/internal/model"
	"github.com/mmeshcher/partsmart-ledger/internal/money"
)

// Config содержит параметры доставки, которые задаются конфигурацией сервиса.
type Config struct {
	FreeShippingThreshold decimal.Decimal
	FlatShippingFee       decimal.Decimal
}

// DefaultConfig возвращает параметры доставки по умолчанию.
func DefaultConfig() Config {
	return Config{
		FreeShippingThreshold: money.MustParse("1000.00"),
		FlatShippingFee:       money.MustParse("100.00"),
	}
}

// LineTotals: итоги одной позиции корзины.
type LineTotals struct {
	ProductID int64           `json:"product_id"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Tax       decimal.Decimal `json:"tax"`
}

// Totals: итоги корзины.
type Totals struct {
	Lines      []LineTotals    `json:"lines"`
	Subtotal   decimal.Decimal `json:"subtotal"`
	Tax        decimal.Decimal `json:"tax"`
	Discount   decimal.Decimal `json:"discount"`
	Shipping   decimal.Decimal `json:"shipping"`
	GrandTotal decimal.Decimal `json:"grand_total"`
}

// Engine рассчитывает итоги корзины по заданной конфигурации доставки.
type Engine struct {
	cfg Config
}

// NewEngine создаёт калькулятор итогов.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// LineSubtotal возвращает стоимость позиции без налога.
func LineSubtotal(l model.CartLine) decimal.Decimal {
	return money.Round(l.EffectiveUnitPrice().Mul(decimal.NewFromInt(int64(l.Quantity))))
}

// LineTax возвращает налог по позиции.
func LineTax(l model.CartLine) decimal.Decimal {
	return money.Percent(LineSubtotal(l), l.TaxRatePercent)
}

// Subtotal возвращает сумму позиций без налога и скидки.
func Subtotal(lines []model.CartLine) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(LineSubtotal(l))
	}
	return sum
}

// Calculate рассчитывает итоги для позиций корзины и уже проверенной скидки по купону.
//
// Доставка бесплатна, если сумма после скидки строго больше порога.
// Пустая корзина ничего не стоит, доставка для неё не начисляется.
func (e *Engine) Calculate(lines []model.CartLine, couponDiscount decimal.Decimal) Totals {
	t := Totals{
		Lines:    make([]LineTotals, 0, len(lines)),
		Subtotal: decimal.Zero,
		Tax:      decimal.Zero,
		Discount: money.ClampZero(money.Round(couponDiscount)),
		Shipping: decimal.Zero,
	}

	for _, l := range lines {
		lt := LineTotals{
			ProductID: l.ProductID,
			Subtotal:  LineSubtotal(l),
			Tax:       LineTax(l),
		}
		t.Subtotal = t.Subtotal.Add(lt.Subtotal)
		t.Tax = t.Tax.Add(lt.Tax)
		t.Lines = append(t.Lines, lt)
	}

	beforeShipping := money.ClampZero(t.Subtotal.Add(t.Tax).Sub(t.Discount))

	if len(lines) > 0 && !beforeShipping.GreaterThan(e.cfg.FreeShippingThreshold) {
		t.Shipping = money.Round(e.cfg.FlatShippingFee)
	}

	t.GrandTotal = money.ClampZero(beforeShipping.Add(t.Shipping))

	return t
}
