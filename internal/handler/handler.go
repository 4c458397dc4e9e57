// Package handler содержит HTTP-обработчики API сервиса PartSmart.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/partsmart-ledger/internal/coupon"
	"github.com/mmeshcher/partsmart-ledger/internal/idempotency"
	"github.com/mmeshcher/partsmart-ledger/internal/lifecycle"
	"github.com/mmeshcher/partsmart-ledger/internal/middleware"
	"github.com/mmeshcher/partsmart-ledger/internal/model"
	"github.com/mmeshcher/partsmart-ledger/internal/returns"
	"github.com/mmeshcher/partsmart-ledger/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, email, password string, role model.Role) (int64, error)
	AuthenticateUser(ctx context.Context, email, password string) (*model.User, error)
	GetUser(ctx context.Context, id int64) (*model.User, error)

	GetCart(ctx context.Context, userID int64) (*service.CartView, error)
	AddCartItem(ctx context.Context, userID int64, line model.CartLine) (*service.CartView, error)
	UpdateCartItem(ctx context.Context, userID, productID int64, quantity int) (*service.CartView, error)
	RemoveCartItem(ctx context.Context, userID, productID int64) (*service.CartView, error)
	ClearCart(ctx context.Context, userID int64) (*service.CartView, error)
	ApplyCoupon(ctx context.Context, userID int64, code string) (*service.CartView, error)
	RemoveCoupon(ctx context.Context, userID int64) (*service.CartView, error)
	PreviewCoupon(ctx context.Context, userID int64, code string, cartTotal decimal.Decimal) (coupon.Application, error)
	CreateCoupon(ctx context.Context, actor model.Actor, c model.Coupon) (*model.Coupon, error)

	CreateOrder(ctx context.Context, actor model.Actor, req service.CheckoutRequest) (*service.CheckoutResult, error)
	GetOrder(ctx context.Context, actor model.Actor, id string) (*model.Order, error)
	ListOrders(ctx context.Context, actor model.Actor) ([]model.Order, error)
	CancelOrder(ctx context.Context, actor model.Actor, id string, expected model.OrderStatus) (*model.Order, error)
	ConfirmPayment(ctx context.Context, actor model.Actor, id, reference string) (*model.Order, error)
	ProcessOrder(ctx context.Context, actor model.Actor, id string, expected model.OrderStatus) (*model.Order, error)
	ShipOrder(ctx context.Context, actor model.Actor, id string, expected model.OrderStatus, req lifecycle.ShipRequest) (*model.Order, error)
	DeliverOrder(ctx context.Context, actor model.Actor, id string, expected model.OrderStatus) (*model.Order, error)

	SubmitReturn(ctx context.Context, actor model.Actor, sub returns.Submission) (*model.ReturnRequest, error)
	GetReturn(ctx context.Context, actor model.Actor, id string) (*model.ReturnRequest, error)
	ListReturns(ctx context.Context, actor model.Actor) ([]model.ReturnRequest, error)
	ApproveReturn(ctx context.Context, actor model.Actor, id string) (*model.ReturnRequest, error)
	RejectReturn(ctx context.Context, actor model.Actor, id, reason string) (*model.ReturnRequest, error)
	ScheduleReturnPickup(ctx context.Context, actor model.Actor, id, trackingNumber string) (*model.ReturnRequest, error)
	MarkReturnInTransit(ctx context.Context, actor model.Actor, id string) (*model.ReturnRequest, error)
	MarkReturnReceived(ctx context.Context, actor model.Actor, id string) (*model.ReturnRequest, error)
	InspectReturn(ctx context.Context, actor model.Actor, id string, in service.InspectionInput) (*model.ReturnRequest, error)
	CompleteReturn(ctx context.Context, actor model.Actor, id string) (*model.ReturnRequest, error)
	CancelReturn(ctx context.Context, actor model.Actor, id string) (*model.ReturnRequest, error)

	GetWallet(ctx context.Context, ownerID int64) (*model.Wallet, error)
	GetTransactions(ctx context.Context, ownerID int64) ([]model.WalletTransaction, error)
	VerifyWallet(ctx context.Context, ownerID int64) (*service.WalletVerification, error)
	SetWalletStatus(ctx context.Context, actor model.Actor, ownerID int64, active, locked bool) (*model.Wallet, error)
	RequestWithdrawal(ctx context.Context, actor model.Actor, amount decimal.Decimal, bank model.BankDetails) (*model.Withdrawal, error)
	ListWithdrawals(ctx context.Context, ownerID int64) ([]model.Withdrawal, error)
	RejectWithdrawal(ctx context.Context, actor model.Actor, id, reason string) (*model.Withdrawal, error)
	CompleteWithdrawal(ctx context.Context, actor model.Actor, id, utr string) (*model.Withdrawal, error)
}

// Handler реализует HTTP-обработчики API сервиса PartSmart.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	idempotency    *idempotency.Middleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
// idem может быть nil, тогда заголовок Idempotency-Key игнорируется.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, idem *idempotency.Middleware) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		idempotency:    idem,
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

// decodeJSON разбирает тело запроса. Пустое тело допускается, если allowEmpty.
func decodeJSON(r *http.Request, dst any, allowEmpty bool) error {
	defer r.Body.Close()
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) && allowEmpty {
		return nil
	}
	return err
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (model.Actor, bool) {
	actor, ok := middleware.GetActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
	}
	return actor, ok
}

func int64Param(r *http.Request, name string) (int64, bool) {
	v, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// writeList отдаёт 204 для пустого списка, как и остальные списочные методы API.
func writeList[T any](w http.ResponseWriter, items []T) {
	if len(items) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, items)
}
