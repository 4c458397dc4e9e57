package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/partsmart-ledger/internal/model"
	"github.com/mmeshcher/partsmart-ledger/internal/money"
	"github.com/mmeshcher/partsmart-ledger/internal/validation"
)

var (
	// ErrBelowMinimum возвращается, если сумма вывода меньше минимальной.
	ErrBelowMinimum = errors.New("amount below minimum withdrawal")
	// ErrInvalidWithdrawalTransition возвращается при недопустимой смене статуса заявки на вывод.
	ErrInvalidWithdrawalTransition = errors.New("invalid withdrawal status transition")
	ErrInvalidBankDetails          = errors.New("invalid bank details")
)

// DefaultMinimumWithdrawal: минимальная сумма вывода по умолчанию.
var DefaultMinimumWithdrawal = money.MustParse("100.00")

// WithdrawalPolicy содержит правила вывода средств.
type WithdrawalPolicy struct {
	Minimum decimal.Decimal
}

// Check проверяет, можно ли вывести amount из кошелька.
// Нехватка средств проверяется раньше минимальной суммы.
func (p WithdrawalPolicy) Check(w *model.Wallet, amount decimal.Decimal) error {
	if w.IsLocked {
		return ErrWalletLocked
	}
	if !w.IsActive {
		return ErrWalletInactive
	}
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if amount.GreaterThan(w.Balance) {
		return fmt.Errorf("%w: balance %s, requested %s",
			ErrInsufficientFunds, w.Balance.StringFixed(money.Scale), amount.StringFixed(money.Scale))
	}
	if amount.LessThan(p.Minimum) {
		return fmt.Errorf("%w: minimum is %s", ErrBelowMinimum, p.Minimum.StringFixed(money.Scale))
	}
	return nil
}

// RequestWithdrawal резервирует средства: проводит списание и создаёт заявку в статусе REQUESTED.
func (p WithdrawalPolicy) RequestWithdrawal(w *model.Wallet, amount decimal.Decimal, bank model.BankDetails, now time.Time) (*model.Withdrawal, model.WalletTransaction, error) {
	amount = money.Round(amount)
	if err := p.Check(w, amount); err != nil {
		return nil, model.WalletTransaction{}, err
	}

	wd := &model.Withdrawal{
		ID:          uuid.NewString(),
		OwnerID:     w.OwnerID,
		Amount:      amount,
		Bank:        bank,
		Status:      model.WithdrawalRequested,
		RequestedAt: now,
	}

	tx, err := Post(w, Debit(model.SourceWithdrawal, amount, "withdrawal to "+maskAccount(bank.AccountNumber)).ForWithdrawal(wd.ID), now)
	if err != nil {
		return nil, model.WalletTransaction{}, err
	}
	wd.DebitTransactionID = tx.ID

	return wd, tx, nil
}

// StartProcessing отмечает, что выплата передана провайдеру.
func StartProcessing(wd *model.Withdrawal, payoutID string) error {
	if wd.Status != model.WithdrawalRequested {
		return withdrawalTransitionError(wd.Status, model.WithdrawalProcessing)
	}
	wd.Status = model.WithdrawalProcessing
	wd.PayoutID = payoutID
	return nil
}

// CompleteWithdrawal отмечает успешную выплату. Баланс не меняется.
func CompleteWithdrawal(wd *model.Withdrawal, utr string, now time.Time) error {
	if wd.Status != model.WithdrawalRequested && wd.Status != model.WithdrawalProcessing {
		return withdrawalTransitionError(wd.Status, model.WithdrawalCompleted)
	}
	wd.Status = model.WithdrawalCompleted
	wd.UTRNumber = utr
	wd.ProcessedAt = &now
	return nil
}

// FailWithdrawal отмечает неуспешную выплату и возвращает компенсирующую проводку зачисления.
func FailWithdrawal(wd *model.Withdrawal, reason string, now time.Time) (Entry, error) {
	if wd.Status != model.WithdrawalRequested && wd.Status != model.WithdrawalProcessing {
		return Entry{}, withdrawalTransitionError(wd.Status, model.WithdrawalFailed)
	}
	wd.Status = model.WithdrawalFailed
	wd.FailureReason = reason
	wd.ProcessedAt = &now
	return reversal(wd, "reversal of failed withdrawal"), nil
}

// RejectWithdrawal отклоняет заявку до передачи провайдеру и возвращает компенсирующую проводку.
func RejectWithdrawal(wd *model.Withdrawal, reason string, now time.Time) (Entry, error) {
	if wd.Status != model.WithdrawalRequested {
		return Entry{}, withdrawalTransitionError(wd.Status, model.WithdrawalRejected)
	}
	wd.Status = model.WithdrawalRejected
	wd.FailureReason = reason
	wd.ProcessedAt = &now
	return reversal(wd, "reversal of rejected withdrawal"), nil
}

// PostReversal проводит компенсирующую проводку. Блокировка кошелька не мешает
// вернуть зарезервированные средства или списать выручку по возврату.
func PostReversal(w *model.Wallet, e Entry, now time.Time) (model.WalletTransaction, error) {
	locked := w.IsLocked
	w.IsLocked = false
	tx, err := Post(w, e, now)
	w.IsLocked = locked
	return tx, err
}

func reversal(wd *model.Withdrawal, description string) Entry {
	return Credit(model.SourceAdjustment, wd.Amount, description).ForWithdrawal(wd.ID)
}

func withdrawalTransitionError(from, to model.WithdrawalStatus) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidWithdrawalTransition, from, to)
}

// ValidateBankDetails проверяет формат банковских реквизитов.
func ValidateBankDetails(b model.BankDetails) error {
	var invalid []string
	if !validation.IsValidAccountNumber(b.AccountNumber) {
		invalid = append(invalid, "account_number")
	}
	if !validation.IsValidIFSC(b.IFSC) {
		invalid = append(invalid, "ifsc")
	}
	if strings.TrimSpace(b.AccountHolder) == "" {
		invalid = append(invalid, "account_holder")
	}
	if len(invalid) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidBankDetails, strings.Join(invalid, ", "))
	}
	return nil
}

func maskAccount(number string) string {
	if len(number) <= 4 {
		return number
	}
	return strings.Repeat("*", len(number)-4) + number[len(number)-4:]
}
