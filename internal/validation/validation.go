// Package validation содержит функции валидации входных данных.
package validation

import (
	"strings"
	"unicode"
)

// IsValidIFSC проверяет код банковского отделения: четыре буквы, ноль и шесть букв или цифр.
func IsValidIFSC(code string) bool {
	if len(code) != 11 {
		return false
	}

	for i, ch := range code {
		switch {
		case i < 4:
			if ch < 'A' || ch > 'Z' {
				return false
			}
		case i == 4:
			if ch != '0' {
				return false
			}
		default:
			if !(ch >= 'A' && ch <= 'Z') && !unicode.IsDigit(ch) {
				return false
			}
		}
	}

	return true
}

// IsValidAccountNumber проверяет номер банковского счёта: от 9 до 18 цифр.
func IsValidAccountNumber(number string) bool {
	if len(number) < 9 || len(number) > 18 {
		return false
	}

	for _, ch := range number {
		if !unicode.IsDigit(ch) {
			return false
		}
	}

	return true
}

// IsValidHumanOrderID проверяет номер заказа вида ORD-XXXXXXXX.
func IsValidHumanOrderID(id string) bool {
	rest, ok := strings.CutPrefix(id, "ORD-")
	if !ok || len(rest) != 8 {
		return false
	}

	for _, ch := range rest {
		if !(ch >= 'A' && ch <= 'Z') && !(ch >= '0' && ch <= '9') {
			return false
		}
	}

	return true
}
