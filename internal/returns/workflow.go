package returns

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/partsmart-ledger/internal/model"
	"github.com/mmeshcher/partsmart-ledger/internal/money"
)

var forward = map[model.ReturnStatus]model.ReturnStatus{
	model.ReturnRequested:       model.ReturnApproved,
	model.ReturnApproved:        model.ReturnPickupScheduled,
	model.ReturnPickupScheduled: model.ReturnInTransit,
	model.ReturnInTransit:       model.ReturnReceived,
	model.ReturnReceived:        model.ReturnInspected,
	model.ReturnInspected:       model.ReturnCompleted,
}

// CanTransition сообщает, допустим ли переход from -> to.
func CanTransition(from, to model.ReturnStatus) bool {
	if from.IsTerminal() {
		return false
	}
	if to == model.ReturnRejected || to == model.ReturnCancelled {
		return true
	}
	return forward[from] == to
}

func advance(r *model.ReturnRequest, to model.ReturnStatus, now time.Time) error {
	if !CanTransition(r.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, to)
	}
	r.Status = to
	r.UpdatedAt = now
	return nil
}

// Approve одобряет заявку.
func Approve(r *model.ReturnRequest, now time.Time) error {
	return advance(r, model.ReturnApproved, now)
}

// SchedulePickup назначает забор товара.
func SchedulePickup(r *model.ReturnRequest, trackingNumber string, now time.Time) error {
	if err := advance(r, model.ReturnPickupScheduled, now); err != nil {
		return err
	}
	r.ReturnTrackingNumber = strings.TrimSpace(trackingNumber)
	return nil
}

// MarkInTransit отмечает, что товар в пути к продавцу.
func MarkInTransit(r *model.ReturnRequest, now time.Time) error {
	return advance(r, model.ReturnInTransit, now)
}

// MarkReceived отмечает получение товара продавцом.
func MarkReceived(r *model.ReturnRequest, now time.Time) error {
	return advance(r, model.ReturnReceived, now)
}

// Inspect фиксирует результат проверки и сумму к возврату:
// полную для APPROVED, ноль для REJECTED и указанную для PARTIAL.
func Inspect(r *model.ReturnRequest, o *model.Order, result model.InspectionResult, partial decimal.Decimal, notes string, now time.Time) error {
	full := FullRefundAmount(r, o)

	var amount decimal.Decimal
	switch result {
	case model.InspectionApproved:
		amount = full
	case model.InspectionRejected:
		amount = decimal.Zero
	case model.InspectionPartial:
		amount = money.Round(partial)
		if !amount.IsPositive() || amount.GreaterThan(full) {
			return fmt.Errorf("%w: %s not in (0, %s]", ErrInvalidRefundAmount, amount.StringFixed(money.Scale), full.StringFixed(money.Scale))
		}
	default:
		return fmt.Errorf("%w: unknown inspection result %q", ErrInvalidTransition, result)
	}

	if err := advance(r, model.ReturnInspected, now); err != nil {
		return err
	}

	r.InspectionResult = result
	r.InspectionNotes = notes
	r.RefundAmount = amount
	return nil
}

// CheckCompletable проверяет, что по заявке можно выплатить возврат.
func CheckCompletable(r *model.ReturnRequest) error {
	if !CanTransition(r.Status, model.ReturnCompleted) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, model.ReturnCompleted)
	}
	if r.InspectionResult == model.InspectionRejected || !r.RefundAmount.IsPositive() {
		return ErrNothingToRefund
	}
	return nil
}

// RefundInstruction: записанное поручение на возврат денег.
type RefundInstruction struct {
	Method    model.RefundMethod
	Reference string
}

// Complete завершает возврат. Вызывается только после того, как поручение
// на возврат денег записано в той же транзакции.
func Complete(r *model.ReturnRequest, instr RefundInstruction, now time.Time) error {
	if err := CheckCompletable(r); err != nil {
		return err
	}
	if instr.Method == "" || instr.Reference == "" {
		return ErrRefundNotRecorded
	}
	if err := advance(r, model.ReturnCompleted, now); err != nil {
		return err
	}
	r.RefundMethod = instr.Method
	r.RefundReference = instr.Reference
	r.RefundedAt = &now
	return nil
}

// Reject отклоняет заявку с указанием причины.
func Reject(r *model.ReturnRequest, reason string, now time.Time) error {
	if err := advance(r, model.ReturnRejected, now); err != nil {
		return err
	}
	r.RejectionReason = strings.TrimSpace(reason)
	return nil
}

// Cancel отменяет заявку по инициативе покупателя.
func Cancel(r *model.ReturnRequest, now time.Time) error {
	return advance(r, model.ReturnCancelled, now)
}
