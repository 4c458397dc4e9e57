package handler

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/partsmart-ledger/internal/coupon"
	"github.com/mmeshcher/partsmart-ledger/internal/ledger"
	"github.com/mmeshcher/partsmart-ledger/internal/lifecycle"
	"github.com/mmeshcher/partsmart-ledger/internal/money"
	"github.com/mmeshcher/partsmart-ledger/internal/repository"
	"github.com/mmeshcher/partsmart-ledger/internal/returns"
	"github.com/mmeshcher/partsmart-ledger/internal/service"
)

type errorMapping struct {
	err    error
	status int
	code   string
}

// Порядок важен: первая подходящая по errors.Is запись определяет ответ.
var errorMappings = []errorMapping{
	{service.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
	{service.ErrForbidden, http.StatusForbidden, "forbidden"},

	{repository.ErrUserNotFound, http.StatusNotFound, "user_not_found"},
	{repository.ErrOrderNotFound, http.StatusNotFound, "order_not_found"},
	{repository.ErrReturnNotFound, http.StatusNotFound, "return_not_found"},
	{repository.ErrWithdrawalNotFound, http.StatusNotFound, "withdrawal_not_found"},
	{repository.ErrCouponNotFound, http.StatusNotFound, "coupon_not_found"},
	{service.ErrCartItemNotFound, http.StatusNotFound, "cart_item_not_found"},

	{service.ErrInvalidInput, http.StatusUnprocessableEntity, "validation_failed"},
	{service.ErrCartEmpty, http.StatusUnprocessableEntity, "cart_empty"},
	{money.ErrInvalidAmount, http.StatusUnprocessableEntity, "invalid_amount"},
	{ledger.ErrInvalidAmount, http.StatusUnprocessableEntity, "invalid_amount"},
	{ledger.ErrBelowMinimum, http.StatusUnprocessableEntity, "below_minimum_withdrawal"},
	{ledger.ErrInvalidBankDetails, http.StatusUnprocessableEntity, "invalid_bank_details"},
	{lifecycle.ErrTrackingRequired, http.StatusUnprocessableEntity, "tracking_required"},
	{lifecycle.ErrUnknownItem, http.StatusUnprocessableEntity, "unknown_item"},
	{returns.ErrUnknownItem, http.StatusUnprocessableEntity, "unknown_item"},
	{returns.ErrQuantityExceeded, http.StatusUnprocessableEntity, "quantity_exceeded"},
	{returns.ErrInvalidRefundAmount, http.StatusUnprocessableEntity, "invalid_refund_amount"},

	{ledger.ErrInsufficientFunds, http.StatusPaymentRequired, "insufficient_funds"},

	{lifecycle.ErrCannotCancel, http.StatusConflict, "cannot cancel"},
	{lifecycle.ErrStatusMismatch, http.StatusConflict, "status_mismatch"},
	{lifecycle.ErrPaymentRequired, http.StatusConflict, "payment_required"},
	{lifecycle.ErrPaymentNotExpected, http.StatusConflict, "payment_not_expected"},
	{lifecycle.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{returns.ErrNotDelivered, http.StatusConflict, "order_not_delivered"},
	{returns.ErrWindowExpired, http.StatusConflict, "return_window_expired"},
	{returns.ErrDuplicateReturn, http.StatusConflict, "duplicate_return"},
	{returns.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{returns.ErrNothingToRefund, http.StatusConflict, "nothing_to_refund"},
	{returns.ErrRefundNotRecorded, http.StatusConflict, "refund_not_recorded"},
	{ledger.ErrWalletLocked, http.StatusConflict, "wallet_locked"},
	{ledger.ErrWalletInactive, http.StatusConflict, "wallet_inactive"},
	{ledger.ErrInvalidWithdrawalTransition, http.StatusConflict, "invalid_transition"},
	{repository.ErrStaleWallet, http.StatusConflict, "concurrent_update"},
	{repository.ErrUserExists, http.StatusConflict, "user_exists"},
	{repository.ErrCouponExists, http.StatusConflict, "coupon_exists"},
}

// writeServiceError переводит ошибку бизнес-логики в HTTP-ответ.
// Неизвестные ошибки логируются и отдаются как 500.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error, op string, fields ...zap.Field) {
	var rej *coupon.Rejection
	if errors.As(err, &rej) {
		status := http.StatusUnprocessableEntity
		if rej.Reason == coupon.ReasonAlreadyUsedByCustomer {
			status = http.StatusConflict
		}
		writeJSON(w, status, errorResponse{
			Error:   "coupon_rejected",
			Message: rej.Message,
			Reason:  string(rej.Reason),
		})
		return
	}

	var verrs returns.ValidationErrors
	if errors.As(err, &verrs) {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Error:   "validation_failed",
			Message: "return request is invalid",
			Details: []returns.FieldError(verrs),
		})
		return
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			writeError(w, m.status, m.code, err.Error())
			return
		}
	}

	h.logger.Error(op+" error", append(fields, zap.String("path", r.URL.Path), zap.Error(err))...)
	writeError(w, http.StatusInternalServerError, "internal_error", http.StatusText(http.StatusInternalServerError))
}
