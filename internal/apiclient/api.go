package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/partsmart-ledger/internal/coupon"
	"github.com/mmeshcher/partsmart-ledger/internal/model"
	"github.com/mmeshcher/partsmart-ledger/internal/returns"
	"github.com/mmeshcher/partsmart-ledger/internal/service"
)

// AuthResult ответ на вход и регистрацию.
type AuthResult struct {
	UserID int64      `json:"user_id"`
	Role   model.Role `json:"role"`
	Tokens
}

// Register регистрирует пользователя. Токены сохраняются в сессию, если она это поддерживает.
func (c *Client) Register(ctx context.Context, email, password string, role model.Role) (*AuthResult, error) {
	return c.authenticate(ctx, "/api/user/register", map[string]any{"email": email, "password": password, "role": role})
}

// Login выполняет вход. Токены сохраняются в сессию, если она это поддерживает.
func (c *Client) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	return c.authenticate(ctx, "/api/user/login", map[string]any{"email": email, "password": password})
}

func (c *Client) authenticate(ctx context.Context, path string, body any) (*AuthResult, error) {
	var res AuthResult
	if err := c.anonymous(ctx, path, body, &res); err != nil {
		return nil, err
	}
	if setter, ok := c.session.(TokenSetter); ok {
		setter.SetTokens(res.Tokens)
	}
	return &res, nil
}

// RefreshTokens обменивает refresh-токен на новую пару.
func (c *Client) RefreshTokens(ctx context.Context, refreshToken string) (Tokens, error) {
	var t Tokens
	if err := c.anonymous(ctx, "/api/user/refresh", map[string]string{"refresh_token": refreshToken}, &t); err != nil {
		return Tokens{}, err
	}
	return t, nil
}

// anonymous отправляет POST без заголовка Authorization и без обновления сессии.
func (c *Client) anonymous(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	c.decorate(req.Header, "")

	resp, err := c.mutations.Do(req)
	if err != nil {
		return fmt.Errorf("%w: POST %s: %v", ErrNetwork, path, err)
	}
	res, err := readResult(resp)
	if err != nil {
		return err
	}
	return decodeResult(res, out)
}

const cartKey = "cart"

// GetCart возвращает корзину с итогами.
func (c *Client) GetCart(ctx context.Context) (*service.CartView, error) {
	var v service.CartView
	if err := c.get(ctx, "/api/cart", &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// AddCartItem добавляет позицию в корзину.
func (c *Client) AddCartItem(ctx context.Context, line model.CartLine) (*service.CartView, error) {
	var v service.CartView
	if err := c.mutate(ctx, cartKey, http.MethodPost, "/api/cart/items", line, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// UpdateCartItem меняет количество товара в корзине.
func (c *Client) UpdateCartItem(ctx context.Context, productID int64, quantity int) (*service.CartView, error) {
	var v service.CartView
	path := "/api/cart/items/" + strconv.FormatInt(productID, 10)
	if err := c.mutate(ctx, cartKey, http.MethodPatch, path, map[string]int{"quantity": quantity}, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// RemoveCartItem удаляет позицию из корзины.
func (c *Client) RemoveCartItem(ctx context.Context, productID int64) (*service.CartView, error) {
	var v service.CartView
	path := "/api/cart/items/" + strconv.FormatInt(productID, 10)
	if err := c.mutate(ctx, cartKey, http.MethodDelete, path, nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// ApplyCoupon применяет купон к корзине. Отказ приходит как *ValidationError или *ConflictError с Reason.
func (c *Client) ApplyCoupon(ctx context.Context, code string) (*service.CartView, error) {
	var v service.CartView
	if err := c.mutate(ctx, cartKey, http.MethodPost, "/api/cart/coupon", map[string]string{"code": code}, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// RemoveCoupon снимает купон.
func (c *Client) RemoveCoupon(ctx context.Context) (*service.CartView, error) {
	var v service.CartView
	if err := c.mutate(ctx, cartKey, http.MethodDelete, "/api/cart/coupon", nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// PreviewCoupon проверяет купон для суммы корзины, ничего не меняя на сервере.
func (c *Client) PreviewCoupon(ctx context.Context, code string, cartTotal decimal.Decimal) (*coupon.Application, error) {
	var app coupon.Application
	if err := c.post(ctx, "/api/coupons/apply", map[string]any{"code": code, "cart_total": cartTotal}, &app); err != nil {
		return nil, err
	}
	return &app, nil
}

// CreateOrder оформляет заказ из корзины. Корзина при этом расходуется, поэтому ключ общий с корзиной.
func (c *Client) CreateOrder(ctx context.Context, req service.CheckoutRequest) (*service.CheckoutResult, error) {
	var res service.CheckoutResult
	if err := c.mutate(ctx, cartKey, http.MethodPost, "/api/orders", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ListOrders возвращает заказы пользователя.
func (c *Client) ListOrders(ctx context.Context) ([]model.Order, error) {
	var list []model.Order
	if err := c.get(ctx, "/api/orders", &list); err != nil {
		return nil, err
	}
	return list, nil
}

// GetOrder возвращает заказ.
func (c *Client) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	var o model.Order
	if err := c.get(ctx, "/api/orders/"+url.PathEscape(id), &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// CancelOrder отменяет заказ. expected может быть пустым.
// Отказ из-за статуса распознаётся через IsCannotCancel.
func (c *Client) CancelOrder(ctx context.Context, id string, expected model.OrderStatus) (*model.Order, error) {
	var body any
	if expected != "" {
		body = map[string]model.OrderStatus{"expected_status": expected}
	}
	var o model.Order
	if err := c.mutate(ctx, "order:"+id, http.MethodPost, "/api/orders/"+url.PathEscape(id)+"/cancel", body, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// ConfirmPayment подтверждает онлайн-оплату заказа.
func (c *Client) ConfirmPayment(ctx context.Context, id, reference string) (*model.Order, error) {
	var o model.Order
	path := "/api/orders/" + url.PathEscape(id) + "/payment"
	if err := c.mutate(ctx, "order:"+id, http.MethodPost, path, map[string]string{"reference": reference}, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// SubmitReturn отправляет заявку на возврат. Заявка сначала проверяется локально:
// описание, фото для претензий к качеству и, если передан заказ, окно возврата.
// Ошибки локальной проверки возвращаются как *ValidationError без обращения к серверу.
func (c *Client) SubmitReturn(ctx context.Context, order *model.Order, sub returns.Submission) (*model.ReturnRequest, error) {
	errs := returns.Validate(sub)
	if order != nil {
		if order.DeliveredAt == nil || order.Status != model.OrderStatusDelivered {
			errs = append(errs, returns.FieldError{Field: "order_id", Message: "order is not delivered"})
		} else if !c.returnPolicy.WithinWindow(*order.DeliveredAt, c.now()) {
			errs = append(errs, returns.FieldError{Field: "order_id", Message: "return window has expired"})
		}
	}
	if len(errs) > 0 {
		return nil, &ValidationError{APIError: APIError{
			Code:    "validation_failed",
			Message: "return request is invalid",
			Details: errs,
		}}
	}

	var rr model.ReturnRequest
	if err := c.mutate(ctx, "return:"+sub.OrderID, http.MethodPost, "/api/returns", sub, &rr); err != nil {
		return nil, err
	}
	return &rr, nil
}

// ListReturns возвращает заявки пользователя.
func (c *Client) ListReturns(ctx context.Context) ([]model.ReturnRequest, error) {
	var list []model.ReturnRequest
	if err := c.get(ctx, "/api/returns", &list); err != nil {
		return nil, err
	}
	return list, nil
}

// CancelReturn отменяет заявку на возврат.
func (c *Client) CancelReturn(ctx context.Context, r *model.ReturnRequest) (*model.ReturnRequest, error) {
	var out model.ReturnRequest
	path := "/api/returns/" + url.PathEscape(r.ID) + "/cancel"
	if err := c.mutate(ctx, "return:"+r.OrderID, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

const walletKey = "wallet"

// GetWallet возвращает кошелёк.
func (c *Client) GetWallet(ctx context.Context) (*model.Wallet, error) {
	var w model.Wallet
	if err := c.get(ctx, "/api/wallet", &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// GetTransactions возвращает журнал операций кошелька.
func (c *Client) GetTransactions(ctx context.Context) ([]model.WalletTransaction, error) {
	var list []model.WalletTransaction
	if err := c.get(ctx, "/api/wallet/transactions", &list); err != nil {
		return nil, err
	}
	return list, nil
}

// VerifyWallet запрашивает сверку баланса с журналом.
func (c *Client) VerifyWallet(ctx context.Context) (*service.WalletVerification, error) {
	var v service.WalletVerification
	if err := c.get(ctx, "/api/wallet/verify", &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// RequestWithdrawal создаёт заявку на вывод. Нехватка средств распознаётся через IsInsufficientFunds.
func (c *Client) RequestWithdrawal(ctx context.Context, amount decimal.Decimal, bank model.BankDetails) (*model.Withdrawal, error) {
	var wd model.Withdrawal
	body := map[string]any{"amount": amount, "bank_details": bank}
	if err := c.mutate(ctx, walletKey, http.MethodPost, "/api/wallet/withdrawals", body, &wd); err != nil {
		return nil, err
	}
	return &wd, nil
}

// ListWithdrawals возвращает историю выводов.
func (c *Client) ListWithdrawals(ctx context.Context) ([]model.Withdrawal, error) {
	var list []model.Withdrawal
	if err := c.get(ctx, "/api/wallet/withdrawals", &list); err != nil {
		return nil, err
	}
	return list, nil
}
