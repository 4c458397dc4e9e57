package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CartLine: позиция корзины со снимком данных товара из каталога.
type CartLine struct {
	ProductID           int64            `json:"product_id"`
	ProductName         string           `json:"product_name"`
	SellerID            int64            `json:"seller_id"`
	UnitPrice           decimal.Decimal  `json:"unit_price"`
	DiscountedUnitPrice *decimal.Decimal `json:"discounted_unit_price,omitempty"`
	Quantity            int              `json:"quantity"`
	TaxRatePercent      decimal.Decimal  `json:"tax_rate_percent"`
}

// EffectiveUnitPrice возвращает цену со скидкой каталога, если она задана.
func (l CartLine) EffectiveUnitPrice() decimal.Decimal {
	if l.DiscountedUnitPrice != nil {
		return *l.DiscountedUnitPrice
	}
	return l.UnitPrice
}

// Cart: корзина покупателя. В корзине может быть применён только один купон.
type Cart struct {
	UserID     int64      `json:"user_id"`
	Lines      []CartLine `json:"lines"`
	CouponCode string     `json:"coupon_code,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// LineIndex возвращает индекс позиции с указанным товаром.
func (c *Cart) LineIndex(productID int64) (int, bool) {
	for i, l := range c.Lines {
		if l.ProductID == productID {
			return i, true
		}
	}
	return -1, false
}

// IsEmpty сообщает, что в корзине нет позиций.
func (c *Cart) IsEmpty() bool {
	return len(c.Lines) == 0
}

// DiscountType описывает способ расчёта скидки по купону.
type DiscountType string

const (
	DiscountFixed      DiscountType = "FIXED"
	DiscountPercentage DiscountType = "PERCENTAGE"
)

// Coupon: промокод. После выпуска условия купона не меняются, меняется только счётчик использований.
type Coupon struct {
	Code            string           `json:"code"`
	DiscountType    DiscountType     `json:"discount_type"`
	DiscountAmount  decimal.Decimal  `json:"discount_amount"`
	DiscountPercent decimal.Decimal  `json:"discount_percent"`
	MinCartTotal    *decimal.Decimal `json:"min_cart_total,omitempty"`
	ValidFrom       *time.Time       `json:"valid_from,omitempty"`
	ValidTo         *time.Time       `json:"valid_to,omitempty"`
	Active          bool             `json:"active"`
	UsageLimit      *int             `json:"usage_limit,omitempty"`
	UsedCount       int              `json:"used_count"`
}
