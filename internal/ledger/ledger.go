// Package ledger реализует журнал операций кошелька.
//
// Post: единственная функция, которая меняет баланс кошелька. Баланс всегда
// равен сумме проводок со знаком, это проверяет Verify.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/partsmart-ledger/internal/model"
	"github.com/mmeshcher/partsmart-ledger/internal/money"
)

var (
	// ErrInsufficientFunds возвращается, если списание сделает баланс отрицательным.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrWalletLocked возвращается при попытке провести операцию по заблокированному кошельку.
	ErrWalletLocked   = errors.New("wallet is locked")
	ErrWalletInactive = errors.New("wallet is inactive")
	ErrInvalidAmount  = errors.New("amount must be positive")
	// ErrBalanceMismatch возвращается, если баланс не совпадает с суммой проводок.
	ErrBalanceMismatch = errors.New("wallet balance does not match transaction log")
)

// Entry описывает проводку до её записи в журнал.
type Entry struct {
	Type           model.TransactionType
	Source         model.TransactionSource
	Amount         decimal.Decimal
	RelatedOrderID string
	WithdrawalID   string
	Description    string
}

// Credit создаёт проводку зачисления.
func Credit(source model.TransactionSource, amount decimal.Decimal, description string) Entry {
	return Entry{Type: model.TransactionCredit, Source: source, Amount: amount, Description: description}
}

// Debit создаёт проводку списания.
func Debit(source model.TransactionSource, amount decimal.Decimal, description string) Entry {
	return Entry{Type: model.TransactionDebit, Source: source, Amount: amount, Description: description}
}

// ForOrder привязывает проводку к заказу.
func (e Entry) ForOrder(orderID string) Entry {
	e.RelatedOrderID = orderID
	return e
}

// ForWithdrawal привязывает проводку к заявке на вывод.
func (e Entry) ForWithdrawal(withdrawalID string) Entry {
	e.WithdrawalID = withdrawalID
	return e
}

// Post проводит операцию по кошельку и возвращает запись журнала.
// При ошибке кошелёк не изменяется. Вызывающий обязан сохранить кошелёк
// и запись в одной транзакции хранилища.
func Post(w *model.Wallet, e Entry, now time.Time) (model.WalletTransaction, error) {
	if w.IsLocked {
		return model.WalletTransaction{}, ErrWalletLocked
	}

	amount := money.Round(e.Amount)
	if !amount.IsPositive() {
		return model.WalletTransaction{}, fmt.Errorf("%w: %s", ErrInvalidAmount, amount.StringFixed(money.Scale))
	}

	before := w.Balance
	var after decimal.Decimal
	switch e.Type {
	case model.TransactionCredit:
		after = before.Add(amount)
	case model.TransactionDebit:
		after = before.Sub(amount)
		if after.IsNegative() {
			return model.WalletTransaction{}, fmt.Errorf("%w: balance %s, requested %s",
				ErrInsufficientFunds, before.StringFixed(money.Scale), amount.StringFixed(money.Scale))
		}
	default:
		return model.WalletTransaction{}, fmt.Errorf("unknown transaction type %q", e.Type)
	}

	tx := model.WalletTransaction{
		ID:             uuid.NewString(),
		OwnerID:        w.OwnerID,
		Type:           e.Type,
		Source:         e.Source,
		Amount:         amount,
		BalanceBefore:  before,
		BalanceAfter:   after,
		RelatedOrderID: e.RelatedOrderID,
		WithdrawalID:   e.WithdrawalID,
		Description:    e.Description,
		CreatedAt:      now,
	}

	w.Balance = after
	w.UpdatedAt = now

	return tx, nil
}

// Replay возвращает баланс, восстановленный по журналу.
func Replay(txs []model.WalletTransaction) decimal.Decimal {
	sum := decimal.Zero
	for _, tx := range txs {
		sum = sum.Add(tx.Signed())
	}
	return sum
}

// Verify проверяет, что баланс кошелька равен сумме журнала и что
// записи журнала образуют непрерывную цепочку balanceBefore -> balanceAfter.
func Verify(w *model.Wallet, txs []model.WalletTransaction) error {
	running := decimal.Zero
	for _, tx := range txs {
		if !tx.BalanceBefore.Equal(running) {
			return fmt.Errorf("%w: transaction %s starts at %s, expected %s",
				ErrBalanceMismatch, tx.ID, tx.BalanceBefore.StringFixed(money.Scale), running.StringFixed(money.Scale))
		}
		running = running.Add(tx.Signed())
		if !tx.BalanceAfter.Equal(running) {
			return fmt.Errorf("%w: transaction %s ends at %s, expected %s",
				ErrBalanceMismatch, tx.ID, tx.BalanceAfter.StringFixed(money.Scale), running.StringFixed(money.Scale))
		}
	}

	if !w.Balance.Equal(running) {
		return fmt.Errorf("%w: balance %s, replayed %s",
			ErrBalanceMismatch, w.Balance.StringFixed(money.Scale), running.StringFixed(money.Scale))
	}
	return nil
}
