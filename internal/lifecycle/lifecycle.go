// Package lifecycle описывает конечный автомат статусов заказа.
//
// Основной путь PENDING -> PROCESSING -> SHIPPED -> DELIVERED без пропусков.
// Отмена возможна только из PENDING и PROCESSING. Статус RETURNED выставляется
// исключительно завершённым возвратом через MarkReturned.
package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/mmeshcher/partsmart-ledger/internal/model"
)

var (
	// ErrInvalidTransition возвращается при недопустимом переходе между статусами.
	ErrInvalidTransition = errors.New("invalid order status transition")
	// ErrCannotCancel возвращается при попытке отменить отправленный или завершённый заказ.
	ErrCannotCancel     = errors.New("cannot cancel")
	ErrTrackingRequired = errors.New("tracking number or courier name required")
	ErrPaymentRequired  = errors.New("payment not confirmed")
	ErrUnknownItem      = errors.New("unknown order item")
	// ErrPaymentNotExpected возвращается при подтверждении оплаты заказа, который её не ожидает.
	ErrPaymentNotExpected = errors.New("order does not expect payment confirmation")
	// ErrStatusMismatch возвращается, если заказ уже не в том статусе, который ожидал клиент.
	ErrStatusMismatch = errors.New("order status changed concurrently")
)

// CannotCancelError сообщает, в каком статусе находился заказ при попытке отмены.
type CannotCancelError struct {
	Status model.OrderStatus
}

func (e *CannotCancelError) Error() string {
	return fmt.Sprintf("cannot cancel order in status %s", e.Status)
}

func (e *CannotCancelError) Unwrap() error {
	return ErrCannotCancel
}

var transitions = map[model.OrderStatus][]model.OrderStatus{
	model.OrderStatusPending:    {model.OrderStatusProcessing, model.OrderStatusCancelled},
	model.OrderStatusProcessing: {model.OrderStatusShipped, model.OrderStatusCancelled},
	model.OrderStatusShipped:    {model.OrderStatusDelivered},
	model.OrderStatusDelivered:  {model.OrderStatusReturned},
}

// CanTransition сообщает, допустим ли переход from -> to.
func CanTransition(from, to model.OrderStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CheckExpected сравнивает текущий статус заказа с ожидаемым клиентом.
// Пустой expected означает, что клиент не проверяет статус.
func CheckExpected(o *model.Order, expected model.OrderStatus) error {
	if expected != "" && o.Status != expected {
		return fmt.Errorf("%w: expected %s, got %s", ErrStatusMismatch, expected, o.Status)
	}
	return nil
}

// Process переводит заказ в обработку. Для онлайн-оплаты требуется подтверждение платежа.
func Process(o *model.Order, now time.Time) error {
	if o.PaymentRequired && !o.PaymentConfirmed {
		return ErrPaymentRequired
	}
	return apply(o, model.OrderStatusProcessing, "", now)
}

// ShipRequest содержит данные отслеживания для отправки заказа.
// Tracking применяется ко всем позициям без собственного трек-номера.
type ShipRequest struct {
	Tracking *model.Tracking
	Items    map[int64]model.Tracking
	Note     string
}

// Ship отправляет заказ. Хотя бы у одной позиции должен быть трек-номер или служба доставки.
func Ship(o *model.Order, req ShipRequest, now time.Time) error {
	if !CanTransition(o.Status, model.OrderStatusShipped) {
		return transitionError(o.Status, model.OrderStatusShipped)
	}

	items := make([]model.OrderItem, len(o.Items))
	copy(items, o.Items)

	for id := range req.Items {
		if _, ok := o.Item(id); !ok {
			return fmt.Errorf("%w: %d", ErrUnknownItem, id)
		}
	}

	tracked := false
	for i := range items {
		if t, ok := req.Items[items[i].ID]; ok && t.HasReference() {
			tr := t
			items[i].Tracking = &tr
		} else if req.Tracking.HasReference() && !items[i].Tracking.HasReference() {
			tr := *req.Tracking
			items[i].Tracking = &tr
		}
		if items[i].Tracking.HasReference() {
			tracked = true
		}
	}
	if !tracked {
		return ErrTrackingRequired
	}

	o.Items = items
	return apply(o, model.OrderStatusShipped, req.Note, now)
}

// Deliver отмечает заказ доставленным и запускает окно возврата.
// Заказ с оплатой при получении считается оплаченным в момент доставки.
func Deliver(o *model.Order, now time.Time) error {
	if err := apply(o, model.OrderStatusDelivered, "", now); err != nil {
		return err
	}
	if o.PaymentMethod == model.PaymentCOD {
		o.PaymentConfirmed = true
	}
	return nil
}

// Cancel отменяет заказ. Из SHIPPED и последующих статусов отмена невозможна.
func Cancel(o *model.Order, now time.Time) error {
	if !o.Cancellable() {
		return &CannotCancelError{Status: o.Status}
	}
	return apply(o, model.OrderStatusCancelled, "", now)
}

// MarkReturned переводит доставленный заказ в RETURNED после завершения возврата.
func MarkReturned(o *model.Order, now time.Time) error {
	return apply(o, model.OrderStatusReturned, "", now)
}

// ConfirmPayment отмечает оплату заказа без пересчёта сумм.
func ConfirmPayment(o *model.Order, reference string, now time.Time) error {
	if !o.PaymentRequired || o.PaymentConfirmed {
		return ErrPaymentNotExpected
	}
	if o.Status != model.OrderStatusPending && o.Status != model.OrderStatusProcessing {
		return transitionError(o.Status, o.Status)
	}
	o.PaymentConfirmed = true
	o.PaymentReference = reference
	o.UpdatedAt = now
	return nil
}

func apply(o *model.Order, to model.OrderStatus, note string, now time.Time) error {
	if !CanTransition(o.Status, to) {
		return transitionError(o.Status, to)
	}

	o.Status = to
	o.UpdatedAt = now

	switch to {
	case model.OrderStatusShipped:
		o.ShippedAt = &now
	case model.OrderStatusDelivered:
		o.DeliveredAt = &now
	case model.OrderStatusCancelled:
		o.CancelledAt = &now
	}

	o.TrackingUpdates = append(o.TrackingUpdates, model.TrackingUpdate{Status: to, Note: note, At: now})
	return nil
}

func transitionError(from, to model.OrderStatus) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
