package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/partsmart-ledger/internal/model"
)

type withdrawRequest struct {
	Amount decimal.Decimal   `json:"amount"`
	Bank   model.BankDetails `json:"bank_details"`
}

type completeWithdrawalRequest struct {
	UTRNumber string `json:"utr_number"`
}

type walletStatusRequest struct {
	IsActive *bool `json:"is_active"`
	IsLocked *bool `json:"is_locked"`
}

// GetWallet возвращает кошелёк текущего пользователя.
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	wallet, err := h.service.GetWallet(r.Context(), actor.UserID)
	if err != nil {
		h.writeServiceError(w, r, err, "get wallet", zap.Int64("userID", actor.UserID))
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

// GetTransactions возвращает журнал операций кошелька.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	txs, err := h.service.GetTransactions(r.Context(), actor.UserID)
	if err != nil {
		h.writeServiceError(w, r, err, "get transactions", zap.Int64("userID", actor.UserID))
		return
	}
	writeList(w, txs)
}

// VerifyWallet сверяет баланс текущего пользователя с журналом.
func (h *Handler) VerifyWallet(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	h.verify(w, r, actor.UserID)
}

// VerifyOwnerWallet сверяет баланс произвольного кошелька (только администратор).
func (h *Handler) VerifyOwnerWallet(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := int64Param(r, "ownerID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_owner_id", "owner id must be a positive integer")
		return
	}
	h.verify(w, r, ownerID)
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request, ownerID int64) {
	v, err := h.service.VerifyWallet(r.Context(), ownerID)
	if err != nil {
		h.writeServiceError(w, r, err, "verify wallet", zap.Int64("ownerID", ownerID))
		return
	}
	if !v.Consistent {
		h.logger.Error("wallet ledger mismatch",
			zap.Int64("ownerID", ownerID),
			zap.String("balance", v.Balance.StringFixed(2)),
			zap.String("replayed", v.ReplayedBalance.StringFixed(2)))
	}
	writeJSON(w, http.StatusOK, v)
}

// SetWalletStatus включает, выключает или блокирует кошелёк (только администратор).
func (h *Handler) SetWalletStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	ownerID, ok := int64Param(r, "ownerID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_owner_id", "owner id must be a positive integer")
		return
	}

	var req walletStatusRequest
	if err := decodeJSON(r, &req, false); err != nil || req.IsActive == nil || req.IsLocked == nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "is_active and is_locked are required")
		return
	}

	wallet, err := h.service.SetWalletStatus(r.Context(), actor, ownerID, *req.IsActive, *req.IsLocked)
	if err != nil {
		h.writeServiceError(w, r, err, "set wallet status", zap.Int64("ownerID", ownerID))
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

// Withdraw создаёт заявку на вывод средств текущего пользователя.
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req withdrawRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "malformed JSON body")
		return
	}

	wd, err := h.service.RequestWithdrawal(r.Context(), actor, req.Amount, req.Bank)
	if err != nil {
		h.writeServiceError(w, r, err, "withdraw", zap.Int64("userID", actor.UserID), zap.String("amount", req.Amount.String()))
		return
	}
	writeJSON(w, http.StatusCreated, wd)
}

// GetWithdrawals возвращает историю выводов текущего пользователя.
func (h *Handler) GetWithdrawals(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	list, err := h.service.ListWithdrawals(r.Context(), actor.UserID)
	if err != nil {
		h.writeServiceError(w, r, err, "get withdrawals", zap.Int64("userID", actor.UserID))
		return
	}
	writeList(w, list)
}

// RejectWithdrawal отклоняет заявку на вывод и возвращает средства (только администратор).
func (h *Handler) RejectWithdrawal(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req reasonRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "malformed JSON body")
		return
	}

	id := chi.URLParam(r, "id")
	wd, err := h.service.RejectWithdrawal(r.Context(), actor, id, req.Reason)
	if err != nil {
		h.writeServiceError(w, r, err, "reject withdrawal", zap.String("withdrawal", id))
		return
	}
	writeJSON(w, http.StatusOK, wd)
}

// CompleteWithdrawal вручную завершает вывод с номером UTR (только администратор).
func (h *Handler) CompleteWithdrawal(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req completeWithdrawalRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "malformed JSON body")
		return
	}

	id := chi.URLParam(r, "id")
	wd, err := h.service.CompleteWithdrawal(r.Context(), actor, id, req.UTRNumber)
	if err != nil {
		h.writeServiceError(w, r, err, "complete withdrawal", zap.String("withdrawal", id))
		return
	}
	writeJSON(w, http.StatusOK, wd)
}
