package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/partsmart-ledger/internal/model"
)

// memTx накапливает изменения и применяет их к состоянию в commit.
type memTx struct {
	base *memState

	carts       map[int64]*model.Cart
	couponUses  map[string]int
	redemptions map[redemptionKey]string
	orders      map[string]*model.Order
	events      []model.OrderEvent
	returns     map[string]*model.ReturnRequest
	wallets     map[int64]*model.Wallet
	txs         []model.WalletTransaction
	withdrawals map[string]*model.Withdrawal
}

func newMemTx(base *memState) *memTx {
	return &memTx{
		base:        base,
		carts:       make(map[int64]*model.Cart),
		couponUses:  make(map[string]int),
		redemptions: make(map[redemptionKey]string),
		orders:      make(map[string]*model.Order),
		returns:     make(map[string]*model.ReturnRequest),
		wallets:     make(map[int64]*model.Wallet),
		withdrawals: make(map[string]*model.Withdrawal),
	}
}

func (t *memTx) commit() {
	s := t.base
	for id, c := range t.carts {
		s.carts[id] = c
	}
	for code, n := range t.couponUses {
		if c, ok := s.coupons[code]; ok {
			c.UsedCount += n
		}
	}
	for k, v := range t.redemptions {
		s.redemptions[k] = v
	}
	for id, o := range t.orders {
		s.orders[id] = o
	}
	for _, e := range t.events {
		s.nextEventID++
		e.ID = s.nextEventID
		s.events = append(s.events, e)
	}
	for id, r := range t.returns {
		s.returns[id] = r
	}
	for id, w := range t.wallets {
		s.wallets[id] = w
	}
	s.txs = append(s.txs, t.txs...)
	for id, wd := range t.withdrawals {
		s.withdrawals[id] = wd
	}
}

func (t *memTx) CartForUpdate(_ context.Context, userID int64) (*model.Cart, error) {
	if c, ok := t.carts[userID]; ok {
		return cloneCart(c), nil
	}
	if c, ok := t.base.carts[userID]; ok {
		return cloneCart(c), nil
	}
	return &model.Cart{UserID: userID}, nil
}

func (t *memTx) SaveCart(_ context.Context, cart *model.Cart) error {
	t.carts[cart.UserID] = cloneCart(cart)
	return nil
}

func (t *memTx) Coupon(_ context.Context, code string) (*model.Coupon, error) {
	c, ok := t.base.coupons[code]
	if !ok {
		return nil, ErrCouponNotFound
	}
	cp := cloneCoupon(c)
	cp.UsedCount += t.couponUses[code]
	return cp, nil
}

func (t *memTx) CouponRedeemed(_ context.Context, code string, userID int64) (bool, error) {
	key := redemptionKey{code: code, userID: userID}
	if _, ok := t.redemptions[key]; ok {
		return true, nil
	}
	_, ok := t.base.redemptions[key]
	return ok, nil
}

func (t *memTx) RedeemCoupon(ctx context.Context, code string, userID int64, orderID string, _ time.Time) error {
	c, err := t.Coupon(ctx, code)
	if err != nil {
		return err
	}
	redeemed, _ := t.CouponRedeemed(ctx, code, userID)
	if redeemed {
		return ErrCouponAlreadyRedeemed
	}
	if c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit {
		return ErrCouponExhausted
	}
	t.redemptions[redemptionKey{code: code, userID: userID}] = orderID
	t.couponUses[code]++
	return nil
}

func (t *memTx) InsertOrder(_ context.Context, o *model.Order) error {
	t.orders[o.ID] = cloneOrder(o)
	return nil
}

func (t *memTx) OrderForUpdate(_ context.Context, id string) (*model.Order, error) {
	if o, ok := t.orders[id]; ok {
		return cloneOrder(o), nil
	}
	if o, ok := t.base.orders[id]; ok {
		return cloneOrder(o), nil
	}
	return nil, ErrOrderNotFound
}

func (t *memTx) SaveOrder(ctx context.Context, o *model.Order) error {
	if _, err := t.OrderForUpdate(ctx, o.ID); err != nil {
		return err
	}
	t.orders[o.ID] = cloneOrder(o)
	return nil
}

func (t *memTx) AppendOrderEvent(_ context.Context, e model.OrderEvent) error {
	t.events = append(t.events, e)
	return nil
}

func (t *memTx) InsertReturn(_ context.Context, r *model.ReturnRequest) error {
	t.returns[r.ID] = cloneReturn(r)
	return nil
}

func (t *memTx) ReturnForUpdate(_ context.Context, id string) (*model.ReturnRequest, error) {
	if r, ok := t.returns[id]; ok {
		return cloneReturn(r), nil
	}
	if r, ok := t.base.returns[id]; ok {
		return cloneReturn(r), nil
	}
	return nil, ErrReturnNotFound
}

func (t *memTx) ReturnsForOrder(_ context.Context, orderID string) ([]model.ReturnRequest, error) {
	var res []model.ReturnRequest
	for id, r := range t.base.returns {
		if _, staged := t.returns[id]; staged {
			continue
		}
		if r.OrderID == orderID {
			res = append(res, *cloneReturn(r))
		}
	}
	for _, r := range t.returns {
		if r.OrderID == orderID {
			res = append(res, *cloneReturn(r))
		}
	}
	return res, nil
}

func (t *memTx) SaveReturn(ctx context.Context, r *model.ReturnRequest) error {
	if _, err := t.ReturnForUpdate(ctx, r.ID); err != nil {
		return err
	}
	t.returns[r.ID] = cloneReturn(r)
	return nil
}

func (t *memTx) WalletForUpdate(_ context.Context, ownerID int64) (*model.Wallet, error) {
	if w, ok := t.wallets[ownerID]; ok {
		cp := *w
		return &cp, nil
	}
	if w, ok := t.base.wallets[ownerID]; ok {
		cp := *w
		return &cp, nil
	}

	now := time.Now()
	w := &model.Wallet{OwnerID: ownerID, Balance: decimal.Zero, IsActive: true, CreatedAt: now, UpdatedAt: now}
	t.wallets[ownerID] = w
	cp := *w
	return &cp, nil
}

func (t *memTx) AppendTransaction(ctx context.Context, w *model.Wallet, tx model.WalletTransaction) error {
	if err := checkAppend(w, tx); err != nil {
		return err
	}

	current, err := t.WalletForUpdate(ctx, w.OwnerID)
	if err != nil {
		return err
	}
	if !current.Balance.Equal(tx.BalanceBefore) {
		return ErrStaleWallet
	}

	current.Balance = tx.BalanceAfter
	current.UpdatedAt = w.UpdatedAt
	t.wallets[w.OwnerID] = current
	t.txs = append(t.txs, tx)
	return nil
}

func (t *memTx) Transactions(_ context.Context, ownerID int64) ([]model.WalletTransaction, error) {
	var res []model.WalletTransaction
	for _, list := range [][]model.WalletTransaction{t.base.txs, t.txs} {
		for _, tx := range list {
			if tx.OwnerID == ownerID {
				res = append(res, tx)
			}
		}
	}
	return res, nil
}

func (t *memTx) InsertWithdrawal(_ context.Context, wd *model.Withdrawal) error {
	t.withdrawals[wd.ID] = cloneWithdrawal(wd)
	return nil
}

func (t *memTx) WithdrawalForUpdate(_ context.Context, id string) (*model.Withdrawal, error) {
	if wd, ok := t.withdrawals[id]; ok {
		return cloneWithdrawal(wd), nil
	}
	if wd, ok := t.base.withdrawals[id]; ok {
		return cloneWithdrawal(wd), nil
	}
	return nil, ErrWithdrawalNotFound
}

func (t *memTx) SaveWithdrawal(ctx context.Context, wd *model.Withdrawal) error {
	if _, err := t.WithdrawalForUpdate(ctx, wd.ID); err != nil {
		return err
	}
	t.withdrawals[wd.ID] = cloneWithdrawal(wd)
	return nil
}
