package apiclient

import (
	"errors"
	"fmt"

	"github.com/mmeshcher/partsmart-ledger/internal/returns"
)

var (
	// ErrUnauthorized сессия недействительна и не обновилась; токены сброшены.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden у пользователя нет прав на операцию.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound ресурс не найден.
	ErrNotFound = errors.New("not found")
	// ErrServer сервер ответил 5xx.
	ErrServer = errors.New("server error")
	// ErrNetwork запрос на чтение не дошёл до сервера.
	ErrNetwork = errors.New("network error")
	// ErrUnknownOutcome изменяющий запрос мог выполниться, а мог и нет. Состояние нужно перечитать.
	ErrUnknownOutcome = errors.New("mutation outcome unknown")
	// ErrMutationInFlight по тому же ресурсу уже выполняется изменяющий запрос.
	ErrMutationInFlight = errors.New("mutation already in flight")
)

// APIError ответ сервера в формате {"error","message","reason","details"}.
type APIError struct {
	Status  int                  `json:"-"`
	Code    string               `json:"error"`
	Message string               `json:"message,omitempty"`
	Reason  string               `json:"reason,omitempty"`
	Details []returns.FieldError `json:"details,omitempty"`
}

func (e APIError) describe() string {
	if e.Message != "" {
		return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("%s (%d)", e.Code, e.Status)
}

// ValidationError некорректные входные данные (400/422 или локальная проверка).
type ValidationError struct {
	APIError
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.describe()
}

// ConflictError нарушено бизнес-правило состояния (409) или не хватает средств (402).
type ConflictError struct {
	APIError
}

func (e *ConflictError) Error() string {
	return "conflict: " + e.describe()
}

// IsCannotCancel сообщает, что сервер отказал в отмене заказа.
func IsCannotCancel(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce) && ce.Code == "cannot cancel"
}

// IsInsufficientFunds сообщает, что операции не хватило средств на кошельке.
func IsInsufficientFunds(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce) && ce.Code == "insufficient_funds"
}
