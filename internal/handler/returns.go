package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/partsmart-ledger/internal/model"
	"github.com/mmeshcher/partsmart-ledger/internal/returns"
	"github.com/mmeshcher/partsmart-ledger/internal/service"
)

type reasonRequest struct {
	Reason string `json:"reason"`
}

type pickupRequest struct {
	TrackingNumber string `json:"tracking_number"`
}

// SubmitReturn создаёт заявку на возврат. Ошибки заполнения отдаются списком в details.
func (h *Handler) SubmitReturn(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var sub returns.Submission
	if err := decodeJSON(r, &sub, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "malformed JSON body")
		return
	}

	rr, err := h.service.SubmitReturn(r.Context(), actor, sub)
	if err != nil {
		h.writeServiceError(w, r, err, "submit return", zap.String("order", sub.OrderID))
		return
	}
	writeJSON(w, http.StatusCreated, rr)
}

// ListReturns возвращает заявки, доступные текущему пользователю.
func (h *Handler) ListReturns(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	list, err := h.service.ListReturns(r.Context(), actor)
	if err != nil {
		h.writeServiceError(w, r, err, "list returns", zap.Int64("userID", actor.UserID))
		return
	}
	writeList(w, list)
}

// GetReturn возвращает заявку на возврат.
func (h *Handler) GetReturn(w http.ResponseWriter, r *http.Request) {
	h.returnAction(w, r, "get return", h.service.GetReturn)
}

// ApproveReturn одобряет заявку.
func (h *Handler) ApproveReturn(w http.ResponseWriter, r *http.Request) {
	h.returnAction(w, r, "approve return", h.service.ApproveReturn)
}

// MarkReturnInTransit отмечает, что товар едет к продавцу.
func (h *Handler) MarkReturnInTransit(w http.ResponseWriter, r *http.Request) {
	h.returnAction(w, r, "return in transit", h.service.MarkReturnInTransit)
}

// MarkReturnReceived отмечает получение товара продавцом.
func (h *Handler) MarkReturnReceived(w http.ResponseWriter, r *http.Request) {
	h.returnAction(w, r, "receive return", h.service.MarkReturnReceived)
}

// CompleteReturn завершает возврат и оформляет возмещение.
func (h *Handler) CompleteReturn(w http.ResponseWriter, r *http.Request) {
	h.returnAction(w, r, "complete return", h.service.CompleteReturn)
}

// CancelReturn отменяет заявку по просьбе покупателя.
func (h *Handler) CancelReturn(w http.ResponseWriter, r *http.Request) {
	h.returnAction(w, r, "cancel return", h.service.CancelReturn)
}

// RejectReturn отклоняет заявку с указанием причины.
func (h *Handler) RejectReturn(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "malformed JSON body")
		return
	}
	h.returnAction(w, r, "reject return", func(ctx context.Context, actor model.Actor, id string) (*model.ReturnRequest, error) {
		return h.service.RejectReturn(ctx, actor, id, req.Reason)
	})
}

// ScheduleReturnPickup назначает забор товара.
func (h *Handler) ScheduleReturnPickup(w http.ResponseWriter, r *http.Request) {
	var req pickupRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "malformed JSON body")
		return
	}
	h.returnAction(w, r, "schedule return pickup", func(ctx context.Context, actor model.Actor, id string) (*model.ReturnRequest, error) {
		return h.service.ScheduleReturnPickup(ctx, actor, id, req.TrackingNumber)
	})
}

// InspectReturn фиксирует результат проверки товара.
func (h *Handler) InspectReturn(w http.ResponseWriter, r *http.Request) {
	var req service.InspectionInput
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "malformed JSON body")
		return
	}
	h.returnAction(w, r, "inspect return", func(ctx context.Context, actor model.Actor, id string) (*model.ReturnRequest, error) {
		return h.service.InspectReturn(ctx, actor, id, req)
	})
}

type returnOp func(ctx context.Context, actor model.Actor, id string) (*model.ReturnRequest, error)

func (h *Handler) returnAction(w http.ResponseWriter, r *http.Request, op string, fn returnOp) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	rr, err := fn(r.Context(), actor, id)
	if err != nil {
		h.writeServiceError(w, r, err, op, zap.String("return", id), zap.Int64("userID", actor.UserID))
		return
	}
	writeJSON(w, http.StatusOK, rr)
}
