package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/partsmart-ledger/internal/coupon"
	"github.com/mmeshcher/partsmart-ledger/internal/ledger"
	"github.com/mmeshcher/partsmart-ledger/internal/lifecycle"
	"github.com/mmeshcher/partsmart-ledger/internal/middleware"
	"github.com/mmeshcher/partsmart-ledger/internal/model"
	"github.com/mmeshcher/partsmart-ledger/internal/repository"
	"github.com/mmeshcher/partsmart-ledger/internal/returns"
	"github.com/mmeshcher/partsmart-ledger/internal/service"
)

// stubService реализует только методы, нужные тестам; остальные паникуют через nil-интерфейс.
type stubService struct {
	Service

	registerUserID int64
	registerErr    error

	authUser *model.User
	authErr  error

	ordersResp []model.Order
	ordersErr  error

	orderResp *model.Order
	cancelErr error
	gotCancel model.OrderStatus

	checkoutResp *service.CheckoutResult
	checkoutErr  error

	returnResp *model.ReturnRequest
	returnErr  error

	previewResp coupon.Application
	previewErr  error

	withdrawResp *model.Withdrawal
	withdrawErr  error
	gotAmount    decimal.Decimal
}

func (s *stubService) RegisterUser(ctx context.Context, email, password string, role model.Role) (int64, error) {
	return s.registerUserID, s.registerErr
}

func (s *stubService) AuthenticateUser(ctx context.Context, email, password string) (*model.User, error) {
	return s.authUser, s.authErr
}

func (s *stubService) ListOrders(ctx context.Context, actor model.Actor) ([]model.Order, error) {
	return s.ordersResp, s.ordersErr
}

func (s *stubService) CancelOrder(ctx context.Context, actor model.Actor, id string, expected model.OrderStatus) (*model.Order, error) {
	s.gotCancel = expected
	return s.orderResp, s.cancelErr
}

func (s *stubService) CreateOrder(ctx context.Context, actor model.Actor, req service.CheckoutRequest) (*service.CheckoutResult, error) {
	return s.checkoutResp, s.checkoutErr
}

func (s *stubService) SubmitReturn(ctx context.Context, actor model.Actor, sub returns.Submission) (*model.ReturnRequest, error) {
	return s.returnResp, s.returnErr
}

func (s *stubService) PreviewCoupon(ctx context.Context, userID int64, code string, cartTotal decimal.Decimal) (coupon.Application, error) {
	return s.previewResp, s.previewErr
}

func (s *stubService) RequestWithdrawal(ctx context.Context, actor model.Actor, amount decimal.Decimal, bank model.BankDetails) (*model.Withdrawal, error) {
	s.gotAmount = amount
	return s.withdrawResp, s.withdrawErr
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewAuthMiddleware("test-secret")

	return NewHandler(svc, logger, auth, nil)
}

func bearer(t *testing.T, h *Handler, actor model.Actor) string {
	t.Helper()
	pair, err := h.authMiddleware.IssueTokens(actor)
	require.NoError(t, err)
	return "Bearer " + pair.AccessToken
}

func serve(t *testing.T, h *Handler, method, path string, body any, actor *model.Actor) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		req.Header.Set("Authorization", bearer(t, h, *actor))
	}
	rec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return resp
}

var (
	customer = model.Actor{UserID: 10, Role: model.RoleCustomer}
	admin    = model.Actor{UserID: 1, Role: model.RoleAdmin}
)

func TestRegister_Success(t *testing.T) {
	svc := &stubService{registerUserID: 42}
	h := newTestHandler(t, svc)

	rec := serve(t, h, http.MethodPost, "/api/user/register", credentialsRequest{Email: "a@b.c", Password: "pass"}, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var resp authResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(42), resp.UserID)
	assert.Equal(t, model.RoleCustomer, resp.Role)

	actor, err := h.authMiddleware.Authenticate(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, model.Actor{UserID: 42, Role: model.RoleCustomer}, actor)
}

func TestRegister_Errors(t *testing.T) {
	tests := []struct {
		name string
		body credentialsRequest
		err  error
		want int
	}{
		{name: "missing password", body: credentialsRequest{Email: "a@b.c"}, want: http.StatusBadRequest},
		{name: "duplicate", body: credentialsRequest{Email: "a@b.c", Password: "p"}, err: repository.ErrUserExists, want: http.StatusConflict},
		{name: "admin self registration", body: credentialsRequest{Email: "a@b.c", Password: "p", Role: model.RoleAdmin}, err: service.ErrForbidden, want: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubService{registerErr: tt.err})
			rec := serve(t, h, http.MethodPost, "/api/user/register", tt.body, nil)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestLogin_UnauthorizedOnInvalidCredentials(t *testing.T) {
	h := newTestHandler(t, &stubService{authErr: service.ErrInvalidCredentials})

	rec := serve(t, h, http.MethodPost, "/api/user/login", credentialsRequest{Email: "a@b.c", Password: "bad"}, nil)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestLogin_InternalErrorOnStoreFailure(t *testing.T) {
	h := newTestHandler(t, &stubService{authErr: context.DeadlineExceeded})

	rec := serve(t, h, http.MethodPost, "/api/user/login", credentialsRequest{Email: "a@b.c", Password: "p"}, nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	rec := serve(t, h, http.MethodGet, "/api/orders", nil, nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	rec := serve(t, h, http.MethodPost, "/api/admin/coupons", map[string]any{"code": "X"}, &customer)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(t, h, http.MethodPost, "/api/orders/o1/ship", map[string]any{}, &customer)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestListOrders_NoContent(t *testing.T) {
	h := newTestHandler(t, &stubService{ordersResp: []model.Order{}})

	rec := serve(t, h, http.MethodGet, "/api/orders", nil, &customer)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
}

func TestCancelOrder(t *testing.T) {
	t.Run("cancelled", func(t *testing.T) {
		svc := &stubService{orderResp: &model.Order{ID: "o1", Status: model.OrderStatusCancelled}}
		h := newTestHandler(t, svc)

		rec := serve(t, h, http.MethodPost, "/api/orders/o1/cancel", transitionRequest{ExpectedStatus: model.OrderStatusProcessing}, &customer)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, model.OrderStatusProcessing, svc.gotCancel)
		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "CANCELLED", body["status"])
		assert.Equal(t, false, body["cancellable"])
	})

	t.Run("empty body", func(t *testing.T) {
		svc := &stubService{orderResp: &model.Order{ID: "o1", Status: model.OrderStatusCancelled}}
		h := newTestHandler(t, svc)

		rec := serve(t, h, http.MethodPost, "/api/orders/o1/cancel", nil, &customer)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, model.OrderStatus(""), svc.gotCancel)
	})

	t.Run("after shipping", func(t *testing.T) {
		err := fmt.Errorf("cancel order: %w", &lifecycle.CannotCancelError{Status: model.OrderStatusShipped})
		h := newTestHandler(t, &stubService{cancelErr: err})

		rec := serve(t, h, http.MethodPost, "/api/orders/o1/cancel", nil, &customer)

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "cannot cancel", decodeError(t, rec).Error)
	})

	t.Run("unknown expected status", func(t *testing.T) {
		h := newTestHandler(t, &stubService{})

		rec := serve(t, h, http.MethodPost, "/api/orders/o1/cancel", transitionRequest{ExpectedStatus: "LOST"}, &customer)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestCreateOrder(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		h := newTestHandler(t, &stubService{checkoutResp: &service.CheckoutResult{ID: "uuid", OrderID: "ORD-ABCDEFGH", PaymentRequired: true}})

		rec := serve(t, h, http.MethodPost, "/api/orders", service.CheckoutRequest{PaymentMethod: model.PaymentCard}, &customer)

		assert.Equal(t, http.StatusCreated, rec.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "uuid", body["id"])
		assert.Equal(t, "ORD-ABCDEFGH", body["order_id"])
		assert.Equal(t, true, body["payment_required"])
	})

	tests := []struct {
		name string
		err  error
		want int
		code string
	}{
		{name: "insufficient funds", err: fmt.Errorf("debit wallet: %w", ledger.ErrInsufficientFunds), want: http.StatusPaymentRequired, code: "insufficient_funds"},
		{name: "empty cart", err: service.ErrCartEmpty, want: http.StatusUnprocessableEntity, code: "cart_empty"},
		{name: "invalid input", err: fmt.Errorf("%w: payment method", service.ErrInvalidInput), want: http.StatusUnprocessableEntity, code: "validation_failed"},
		{name: "locked wallet", err: ledger.ErrWalletLocked, want: http.StatusConflict, code: "wallet_locked"},
		{name: "unexpected", err: errors.New("boom"), want: http.StatusInternalServerError, code: "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubService{checkoutErr: tt.err})

			rec := serve(t, h, http.MethodPost, "/api/orders", service.CheckoutRequest{PaymentMethod: model.PaymentWallet}, &customer)

			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Error)
		})
	}
}

func TestSubmitReturn_ValidationDetails(t *testing.T) {
	verrs := returns.ValidationErrors{
		{Field: "images", Message: "at least one image is required"},
	}
	h := newTestHandler(t, &stubService{returnErr: verrs})

	rec := serve(t, h, http.MethodPost, "/api/returns", returns.Submission{OrderID: "o1", Reason: model.ReasonDefective}, &customer)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var body struct {
		Error   string               `json:"error"`
		Details []returns.FieldError `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "validation_failed", body.Error)
	assert.Equal(t, []returns.FieldError(verrs), body.Details)
}

func TestSubmitReturn_Conflicts(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{err: returns.ErrWindowExpired, code: "return_window_expired"},
		{err: returns.ErrDuplicateReturn, code: "duplicate_return"},
		{err: returns.ErrNotDelivered, code: "order_not_delivered"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			h := newTestHandler(t, &stubService{returnErr: tt.err})

			rec := serve(t, h, http.MethodPost, "/api/returns", returns.Submission{OrderID: "o1"}, &customer)

			assert.Equal(t, http.StatusConflict, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Error)
		})
	}
}

func TestPreviewCoupon(t *testing.T) {
	t.Run("applied", func(t *testing.T) {
		h := newTestHandler(t, &stubService{previewResp: coupon.Application{Code: "SAVE200", DiscountAmount: decimal.NewFromInt(200)}})

		rec := serve(t, h, http.MethodPost, "/api/coupons/apply", map[string]any{"code": "save200", "cart_total": 2000}, &customer)

		assert.Equal(t, http.StatusOK, rec.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "SAVE200", body["code"])
		assert.Equal(t, "200", body["discount_amount"])
	})

	tests := []struct {
		reason coupon.Reason
		want   int
	}{
		{reason: coupon.ReasonBelowMinimumCartTotal, want: http.StatusUnprocessableEntity},
		{reason: coupon.ReasonExpired, want: http.StatusUnprocessableEntity},
		{reason: coupon.ReasonCodeNotFound, want: http.StatusUnprocessableEntity},
		{reason: coupon.ReasonAlreadyUsedByCustomer, want: http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			rej := &coupon.Rejection{Code: "SAVE200", Reason: tt.reason, Message: "rejected"}
			h := newTestHandler(t, &stubService{previewErr: rej})

			rec := serve(t, h, http.MethodPost, "/api/coupons/apply", map[string]any{"code": "SAVE200", "cart_total": 100}, &customer)

			assert.Equal(t, tt.want, rec.Code)
			resp := decodeError(t, rec)
			assert.Equal(t, "coupon_rejected", resp.Error)
			assert.Equal(t, string(tt.reason), resp.Reason)
		})
	}
}

func TestWithdraw(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		svc := &stubService{withdrawResp: &model.Withdrawal{ID: "w1", Status: model.WithdrawalRequested}}
		h := newTestHandler(t, svc)

		rec := serve(t, h, http.MethodPost, "/api/wallet/withdrawals", map[string]any{"amount": "500.00"}, &customer)

		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.True(t, svc.gotAmount.Equal(decimal.NewFromInt(500)))
	})

	t.Run("insufficient funds", func(t *testing.T) {
		h := newTestHandler(t, &stubService{withdrawErr: ledger.ErrInsufficientFunds})

		rec := serve(t, h, http.MethodPost, "/api/wallet/withdrawals", map[string]any{"amount": 1}, &customer)

		assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		h := newTestHandler(t, &stubService{})
		req := httptest.NewRequest(http.MethodPost, "/api/wallet/withdrawals", bytes.NewBufferString("{"))
		req.Header.Set("Authorization", bearer(t, h, customer))
		rec := httptest.NewRecorder()

		h.SetupRouter().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestNotFoundRoute(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	rec := serve(t, h, http.MethodGet, "/api/unknown", nil, &admin)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
