package handler

import (
	"net/http"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/partsmart-ledger/internal/model"
	"github.com/mmeshcher/partsmart-ledger/internal/service"
)

type quantityRequest struct {
	Quantity *int `json:"quantity"`
}

type couponRequest struct {
	Code string `json:"code"`
}

type couponPreviewRequest struct {
	Code      string          `json:"code"`
	CartTotal decimal.Decimal `json:"cart_total"`
}

// GetCart возвращает корзину с расчётом итогов.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	view, err := h.service.GetCart(r.Context(), actor.UserID)
	h.writeCart(w, r, view, err, "get cart", actor)
}

// AddCartItem добавляет позицию в корзину или увеличивает количество существующей.
func (h *Handler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var line model.CartLine
	if err := decodeJSON(r, &line, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "malformed JSON body")
		return
	}

	view, err := h.service.AddCartItem(r.Context(), actor.UserID, line)
	h.writeCart(w, r, view, err, "add cart item", actor)
}

// UpdateCartItem меняет количество товара. Ноль удаляет позицию.
func (h *Handler) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	productID, ok := int64Param(r, "productID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_product_id", "product id must be a positive integer")
		return
	}

	var req quantityRequest
	if err := decodeJSON(r, &req, false); err != nil || req.Quantity == nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "quantity is required")
		return
	}

	view, err := h.service.UpdateCartItem(r.Context(), actor.UserID, productID, *req.Quantity)
	h.writeCart(w, r, view, err, "update cart item", actor)
}

// RemoveCartItem удаляет позицию из корзины.
func (h *Handler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	productID, ok := int64Param(r, "productID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_product_id", "product id must be a positive integer")
		return
	}

	view, err := h.service.RemoveCartItem(r.Context(), actor.UserID, productID)
	h.writeCart(w, r, view, err, "remove cart item", actor)
}

// ClearCart очищает корзину.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	view, err := h.service.ClearCart(r.Context(), actor.UserID)
	h.writeCart(w, r, view, err, "clear cart", actor)
}

// ApplyCoupon применяет купон к корзине.
func (h *Handler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req couponRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "malformed JSON body")
		return
	}

	view, err := h.service.ApplyCoupon(r.Context(), actor.UserID, req.Code)
	h.writeCart(w, r, view, err, "apply coupon", actor)
}

// RemoveCoupon снимает купон с корзины.
func (h *Handler) RemoveCoupon(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	view, err := h.service.RemoveCoupon(r.Context(), actor.UserID)
	h.writeCart(w, r, view, err, "remove coupon", actor)
}

// PreviewCoupon проверяет купон для суммы корзины: {code, cart_total} -> {discount_amount, code}.
func (h *Handler) PreviewCoupon(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req couponPreviewRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "malformed JSON body")
		return
	}

	app, err := h.service.PreviewCoupon(r.Context(), actor.UserID, req.Code, req.CartTotal)
	if err != nil {
		h.writeServiceError(w, r, err, "preview coupon", zap.Int64("userID", actor.UserID))
		return
	}
	writeJSON(w, http.StatusOK, app)
}

// CreateCoupon выпускает купон (только администратор).
func (h *Handler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var c model.Coupon
	if err := decodeJSON(r, &c, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "malformed JSON body")
		return
	}

	created, err := h.service.CreateCoupon(r.Context(), actor, c)
	if err != nil {
		h.writeServiceError(w, r, err, "create coupon", zap.String("code", c.Code))
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) writeCart(w http.ResponseWriter, r *http.Request, view *service.CartView, err error, op string, actor model.Actor) {
	if err != nil {
		h.writeServiceError(w, r, err, op, zap.Int64("userID", actor.UserID))
		return
	}
	writeJSON(w, http.StatusOK, view)
}
