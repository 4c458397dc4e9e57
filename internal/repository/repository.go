package repository

import (
	"context"
	"errors"
	"time"

	"github.com/mmeshcher/partsmart-ledger/internal/model"
)

var (
	// ErrUserExists возвращается при попытке создать пользователя с уже существующим email.
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound       = errors.New("user not found")
	ErrOrderNotFound      = errors.New("order not found")
	ErrReturnNotFound     = errors.New("return request not found")
	ErrWithdrawalNotFound = errors.New("withdrawal not found")
	ErrCouponNotFound     = errors.New("coupon not found")
	ErrCouponExists       = errors.New("coupon already exists")
	// ErrCouponAlreadyRedeemed возвращается, если покупатель уже использовал купон.
	ErrCouponAlreadyRedeemed = errors.New("coupon already redeemed by user")
	// ErrCouponExhausted возвращается, если лимит использований купона исчерпан.
	ErrCouponExhausted = errors.New("coupon usage limit reached")
	// ErrStaleWallet возвращается, если баланс кошелька изменился вне текущей транзакции.
	ErrStaleWallet = errors.New("wallet balance changed concurrently")
)

// Tx описывает операции, выполняемые внутри одной транзакции хранилища.
// Методы ...ForUpdate блокируют запись до конца транзакции.
type Tx interface {
	CartForUpdate(ctx context.Context, userID int64) (*model.Cart, error)
	SaveCart(ctx context.Context, cart *model.Cart) error

	Coupon(ctx context.Context, code string) (*model.Coupon, error)
	CouponRedeemed(ctx context.Context, code string, userID int64) (bool, error)
	RedeemCoupon(ctx context.Context, code string, userID int64, orderID string, at time.Time) error

	InsertOrder(ctx context.Context, o *model.Order) error
	OrderForUpdate(ctx context.Context, id string) (*model.Order, error)
	SaveOrder(ctx context.Context, o *model.Order) error
	AppendOrderEvent(ctx context.Context, e model.OrderEvent) error

	InsertReturn(ctx context.Context, r *model.ReturnRequest) error
	ReturnForUpdate(ctx context.Context, id string) (*model.ReturnRequest, error)
	ReturnsForOrder(ctx context.Context, orderID string) ([]model.ReturnRequest, error)
	SaveReturn(ctx context.Context, r *model.ReturnRequest) error

	// WalletForUpdate блокирует кошелёк, создавая его при первом обращении.
	WalletForUpdate(ctx context.Context, ownerID int64) (*model.Wallet, error)
	// AppendTransaction записывает проводку и новый баланс кошелька.
	// Другого способа изменить баланс в хранилище нет.
	AppendTransaction(ctx context.Context, w *model.Wallet, tx model.WalletTransaction) error
	// Transactions возвращает журнал кошелька в порядке проводок.
	Transactions(ctx context.Context, ownerID int64) ([]model.WalletTransaction, error)

	InsertWithdrawal(ctx context.Context, wd *model.Withdrawal) error
	WithdrawalForUpdate(ctx context.Context, id string) (*model.Withdrawal, error)
	SaveWithdrawal(ctx context.Context, wd *model.Withdrawal) error
}

func checkAppend(w *model.Wallet, tx model.WalletTransaction) error {
	if tx.OwnerID != w.OwnerID || !tx.BalanceAfter.Equal(w.Balance) {
		return ErrStaleWallet
	}
	return nil
}
