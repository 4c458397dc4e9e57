package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/partsmart-ledger/internal/lifecycle"
	"github.com/mmeshcher/partsmart-ledger/internal/model"
	"github.com/mmeshcher/partsmart-ledger/internal/service"
)

type transitionRequest struct {
	ExpectedStatus model.OrderStatus `json:"expected_status,omitempty"`
}

type paymentRequest struct {
	Reference string `json:"reference"`
}

type shipRequest struct {
	ExpectedStatus model.OrderStatus        `json:"expected_status,omitempty"`
	Tracking       *model.Tracking          `json:"tracking,omitempty"`
	Items          map[int64]model.Tracking `json:"items,omitempty"`
	Note           string                   `json:"note,omitempty"`
}

// CreateOrder оформляет заказ из корзины текущего пользователя.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req service.CheckoutRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "malformed JSON body")
		return
	}

	res, err := h.service.CreateOrder(r.Context(), actor, req)
	if err != nil {
		h.writeServiceError(w, r, err, "create order", zap.Int64("userID", actor.UserID))
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// ListOrders возвращает заказы, доступные текущему пользователю.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	orders, err := h.service.ListOrders(r.Context(), actor)
	if err != nil {
		h.writeServiceError(w, r, err, "list orders", zap.Int64("userID", actor.UserID))
		return
	}
	writeList(w, orders)
}

// GetOrder возвращает заказ по идентификатору.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	o, err := h.service.GetOrder(r.Context(), actor, id)
	if err != nil {
		h.writeServiceError(w, r, err, "get order", zap.String("order", id))
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// CancelOrder отменяет заказ. Отправленный заказ отменить нельзя: 409 {"error":"cannot cancel"}.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "cancel order", h.service.CancelOrder)
}

// ProcessOrder переводит заказ в обработку.
func (h *Handler) ProcessOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "process order", h.service.ProcessOrder)
}

// DeliverOrder отмечает заказ доставленным и проводит расчёты с продавцами.
func (h *Handler) DeliverOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "deliver order", h.service.DeliverOrder)
}

// ConfirmPayment подтверждает онлайн-оплату заказа.
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req paymentRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "malformed JSON body")
		return
	}

	id := chi.URLParam(r, "id")
	o, err := h.service.ConfirmPayment(r.Context(), actor, id, req.Reference)
	if err != nil {
		h.writeServiceError(w, r, err, "confirm payment", zap.String("order", id))
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// ShipOrder отмечает заказ отправленным с трек-номерами.
func (h *Handler) ShipOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req shipRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "malformed JSON body")
		return
	}
	if req.ExpectedStatus != "" && !req.ExpectedStatus.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_body", "unknown expected_status")
		return
	}

	id := chi.URLParam(r, "id")
	o, err := h.service.ShipOrder(r.Context(), actor, id, req.ExpectedStatus, lifecycle.ShipRequest{
		Tracking: req.Tracking,
		Items:    req.Items,
		Note:     req.Note,
	})
	if err != nil {
		h.writeServiceError(w, r, err, "ship order", zap.String("order", id))
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type orderTransition func(ctx context.Context, actor model.Actor, id string, expected model.OrderStatus) (*model.Order, error)

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, op string, fn orderTransition) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req transitionRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "malformed JSON body")
		return
	}
	if req.ExpectedStatus != "" && !req.ExpectedStatus.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_body", "unknown expected_status")
		return
	}

	id := chi.URLParam(r, "id")
	o, err := fn(r.Context(), actor, id, req.ExpectedStatus)
	if err != nil {
		h.writeServiceError(w, r, err, op, zap.String("order", id), zap.Int64("userID", actor.UserID))
		return
	}
	writeJSON(w, http.StatusOK, o)
}
