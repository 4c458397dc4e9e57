// Package coupon проверяет применимость промокода к корзине.
//
// Нарушение бизнес-правил не является ошибкой: Apply возвращает отказ
// с причиной, которую клиент показывает пользователю.
package coupon

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/partsmart-ledger/internal/model"
	"github.com/mmeshcher/partsmart-ledger/internal/money"
)

// Reason: причина отказа в применении купона.
type Reason string

const (
	ReasonCodeNotFound          Reason = "CODE_NOT_FOUND"
	ReasonBelowMinimumCartTotal Reason = "BELOW_MINIMUM_CART_TOTAL"
	ReasonExpired               Reason = "EXPIRED"
	ReasonAlreadyUsedByCustomer Reason = "ALREADY_USED_BY_CUSTOMER"
)

// Rejection описывает отказ в применении купона.
type Rejection struct {
	Code    string `json:"code"`
	Reason  Reason `json:"reason"`
	Message string `json:"message"`
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("coupon %s rejected: %s", r.Code, r.Reason)
}

// Application: результат успешного применения купона.
type Application struct {
	Code           string          `json:"code"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
}

// NormalizeCode приводит код купона к каноническому виду.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validator проверяет купоны относительно текущего времени.
type Validator struct {
	now func() time.Time
}

// NewValidator создаёт валидатор купонов. Если now не задан, используется time.Now.
func NewValidator(now func() time.Time) *Validator {
	if now == nil {
		now = time.Now
	}
	return &Validator{now: now}
}

// Apply проверяет купон c для корзины с суммой cartSubtotal.
// c == nil означает, что купон с таким кодом не найден.
func (v *Validator) Apply(code string, c *model.Coupon, usedByCustomer bool, cartSubtotal decimal.Decimal) (Application, *Rejection) {
	code = NormalizeCode(code)

	if c == nil {
		return Application{}, reject(code, ReasonCodeNotFound, "coupon code not found")
	}

	now := v.now()
	switch {
	case !c.Active:
		return Application{}, reject(code, ReasonExpired, "coupon is no longer active")
	case c.ValidFrom != nil && now.Before(*c.ValidFrom):
		return Application{}, reject(code, ReasonExpired, "coupon is not valid yet")
	case c.ValidTo != nil && now.After(*c.ValidTo):
		return Application{}, reject(code, ReasonExpired, "coupon has expired")
	case c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit:
		return Application{}, reject(code, ReasonExpired, "coupon usage limit reached")
	}

	if usedByCustomer {
		return Application{}, reject(code, ReasonAlreadyUsedByCustomer, "coupon already used by this customer")
	}

	if c.MinCartTotal != nil && cartSubtotal.LessThan(*c.MinCartTotal) {
		return Application{}, reject(code, ReasonBelowMinimumCartTotal,
			fmt.Sprintf("minimum cart total is %s", c.MinCartTotal.StringFixed(money.Scale)))
	}

	return Application{Code: code, DiscountAmount: Discount(c, cartSubtotal)}, nil
}

// Discount возвращает размер скидки по купону. Скидка не превышает сумму корзины.
func Discount(c *model.Coupon, cartSubtotal decimal.Decimal) decimal.Decimal {
	var amount decimal.Decimal
	switch c.DiscountType {
	case model.DiscountPercentage:
		amount = money.Percent(cartSubtotal, c.DiscountPercent)
	default:
		amount = money.Round(c.DiscountAmount)
	}
	return money.ClampZero(money.Min(amount, cartSubtotal))
}

func reject(code string, reason Reason, msg string) *Rejection {
	return &Rejection{Code: code, Reason: reason, Message: msg}
}
