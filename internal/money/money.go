// Package money содержит операции над денежными суммами с фиксированной точностью.
//
// Все суммы хранятся как decimal.Decimal с двумя знаками после запятой,
// в базе данных хранятся как целое число копеек.
package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale: количество знаков после запятой у денежных сумм.
const Scale = 2

// ErrInvalidAmount возвращается, если строку не удалось разобрать как денежную сумму.
var ErrInvalidAmount = errors.New("invalid money amount")

// Round округляет сумму до копеек.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

// FromCents переводит целое число копеек в сумму.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -Scale)
}

// ToCents переводит сумму в целое число копеек, предварительно округлив её.
func ToCents(d decimal.Decimal) int64 {
	return d.Round(Scale).Shift(Scale).IntPart()
}

// Parse разбирает строковое представление суммы.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if d.Exponent() < -Scale && !d.Equal(Round(d)) {
		return decimal.Zero, fmt.Errorf("%w: more than %d fractional digits in %q", ErrInvalidAmount, Scale, s)
	}
	return Round(d), nil
}

// MustParse работает как Parse, но паникует при ошибке. Используется для констант.
func MustParse(s string) decimal.Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// ClampZero возвращает ноль для отрицательных сумм.
func ClampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// Min возвращает меньшую из двух сумм.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Percent возвращает округлённую до копеек долю percent% от суммы.
func Percent(amount, percent decimal.Decimal) decimal.Decimal {
	return Round(amount.Mul(percent).Div(decimal.NewFromInt(100)))
}
