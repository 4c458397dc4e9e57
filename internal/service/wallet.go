package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/partsmart-ledger/internal/ledger"
	"github.com/mmeshcher/partsmart-ledger/internal/model"
	"github.com/mmeshcher/partsmart-ledger/internal/money"
	"github.com/mmeshcher/partsmart-ledger/internal/repository"
)

// WalletVerification: результат сверки баланса с журналом проводок.
type WalletVerification struct {
	OwnerID          int64           `json:"owner_id"`
	Balance          decimal.Decimal `json:"balance"`
	ReplayedBalance  decimal.Decimal `json:"replayed_balance"`
	TransactionCount int             `json:"transaction_count"`
	Consistent       bool            `json:"consistent"`
	Problem          string          `json:"problem,omitempty"`
}

// GetWallet возвращает кошелёк пользователя.
func (s *Service) GetWallet(ctx context.Context, ownerID int64) (*model.Wallet, error) {
	return s.repo.GetWallet(ctx, ownerID)
}

// GetTransactions возвращает журнал проводок кошелька.
func (s *Service) GetTransactions(ctx context.Context, ownerID int64) ([]model.WalletTransaction, error) {
	return s.repo.GetTransactions(ctx, ownerID)
}

// VerifyWallet пересчитывает баланс по журналу и сравнивает с сохранённым.
func (s *Service) VerifyWallet(ctx context.Context, ownerID int64) (*WalletVerification, error) {
	var res *WalletVerification
	err := s.repo.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		w, err := tx.WalletForUpdate(ctx, ownerID)
		if err != nil {
			return err
		}
		txs, err := tx.Transactions(ctx, ownerID)
		if err != nil {
			return err
		}

		res = &WalletVerification{
			OwnerID:          ownerID,
			Balance:          w.Balance,
			ReplayedBalance:  ledger.Replay(txs),
			TransactionCount: len(txs),
			Consistent:       true,
		}
		if err := ledger.Verify(w, txs); err != nil {
			res.Consistent = false
			res.Problem = err.Error()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !res.Consistent {
		s.logger.Error("wallet ledger mismatch",
			zap.Int64("ownerID", ownerID),
			zap.String("balance", res.Balance.StringFixed(money.Scale)),
			zap.String("replayed", res.ReplayedBalance.StringFixed(money.Scale)),
			zap.String("problem", res.Problem))
	}
	return res, nil
}

// SetWalletStatus включает, выключает или блокирует кошелёк. Доступно только администратору.
func (s *Service) SetWalletStatus(ctx context.Context, actor model.Actor, ownerID int64, active, locked bool) (*model.Wallet, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	if err := s.repo.SetWalletFlags(ctx, ownerID, active, locked); err != nil {
		return nil, err
	}
	s.logger.Info("wallet status changed",
		zap.Int64("ownerID", ownerID),
		zap.Bool("active", active),
		zap.Bool("locked", locked),
		zap.Int64("adminID", actor.UserID))
	return s.repo.GetWallet(ctx, ownerID)
}

// RequestWithdrawal резервирует средства и создаёт заявку на вывод.
func (s *Service) RequestWithdrawal(ctx context.Context, actor model.Actor, amount decimal.Decimal, bank model.BankDetails) (*model.Withdrawal, error) {
	bank.IFSC = strings.ToUpper(strings.TrimSpace(bank.IFSC))
	bank.AccountNumber = strings.TrimSpace(bank.AccountNumber)
	bank.AccountHolder = strings.TrimSpace(bank.AccountHolder)
	if err := ledger.ValidateBankDetails(bank); err != nil {
		return nil, err
	}
	if !money.Round(amount).Equal(amount) {
		return nil, fmt.Errorf("%w: amount must have at most 2 decimal places", ErrInvalidInput)
	}

	var created *model.Withdrawal
	err := s.repo.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		w, err := tx.WalletForUpdate(ctx, actor.UserID)
		if err != nil {
			return err
		}

		wd, wt, err := s.withdrawals.RequestWithdrawal(w, amount, bank, s.now())
		if err != nil {
			return err
		}
		if err := tx.AppendTransaction(ctx, w, wt); err != nil {
			return err
		}
		if err := tx.InsertWithdrawal(ctx, wd); err != nil {
			return err
		}
		created = wd
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("withdrawal requested",
		zap.String("withdrawal", created.ID),
		zap.Int64("ownerID", created.OwnerID),
		zap.String("amount", created.Amount.StringFixed(money.Scale)))
	return created, nil
}

// ListWithdrawals возвращает заявки на вывод пользователя.
func (s *Service) ListWithdrawals(ctx context.Context, ownerID int64) ([]model.Withdrawal, error) {
	return s.repo.GetWithdrawalsByOwner(ctx, ownerID)
}

// RejectWithdrawal отклоняет заявку и возвращает средства на кошелёк. Доступно только администратору.
func (s *Service) RejectWithdrawal(ctx context.Context, actor model.Actor, id, reason string) (*model.Withdrawal, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("%w: rejection reason is required", ErrInvalidInput)
	}

	return s.updateWithdrawal(ctx, id, func(ctx context.Context, tx repository.Tx, wd *model.Withdrawal) error {
		now := s.now()
		e, err := ledger.RejectWithdrawal(wd, strings.TrimSpace(reason), now)
		if err != nil {
			return err
		}
		return s.reverse(ctx, tx, wd.OwnerID, e)
	})
}

// CompleteWithdrawal вручную отмечает выплату выполненной. Доступно только администратору.
func (s *Service) CompleteWithdrawal(ctx context.Context, actor model.Actor, id, utr string) (*model.Withdrawal, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	utr = strings.TrimSpace(utr)
	if utr == "" {
		return nil, fmt.Errorf("%w: utr number is required", ErrInvalidInput)
	}

	return s.updateWithdrawal(ctx, id, func(_ context.Context, _ repository.Tx, wd *model.Withdrawal) error {
		return ledger.CompleteWithdrawal(wd, utr, s.now())
	})
}

func (s *Service) updateWithdrawal(ctx context.Context, id string, fn func(ctx context.Context, tx repository.Tx, wd *model.Withdrawal) error) (*model.Withdrawal, error) {
	var updated *model.Withdrawal
	err := s.repo.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		wd, err := tx.WithdrawalForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(ctx, tx, wd); err != nil {
			return err
		}
		if err := tx.SaveWithdrawal(ctx, wd); err != nil {
			return err
		}
		updated = wd
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("withdrawal updated",
		zap.String("withdrawal", updated.ID),
		zap.String("status", string(updated.Status)))
	return updated, nil
}

// reverse проводит компенсирующую проводку: возврат по неуспешной заявке на вывод
// или списание выручки по возврату товара. Блокировка кошелька ей не мешает.
func (s *Service) reverse(ctx context.Context, tx repository.Tx, ownerID int64, e ledger.Entry) error {
	w, err := tx.WalletForUpdate(ctx, ownerID)
	if err != nil {
		return err
	}
	wt, err := ledger.PostReversal(w, e, s.now())
	if err != nil {
		return err
	}
	return tx.AppendTransaction(ctx, w, wt)
}
