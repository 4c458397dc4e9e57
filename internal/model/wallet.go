package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet: кошелёк пользователя. Баланс меняется только проводкой транзакции.
type Wallet struct {
	OwnerID   int64           `json:"owner_id"`
	Balance   decimal.Decimal `json:"balance"`
	IsActive  bool            `json:"is_active"`
	IsLocked  bool            `json:"is_locked"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// TransactionType: направление движения средств.
type TransactionType string

const (
	TransactionCredit TransactionType = "CREDIT"
	TransactionDebit  TransactionType = "DEBIT"
)

// TransactionSource: основание проводки.
type TransactionSource string

const (
	SourceOrderPayment TransactionSource = "ORDER_PAYMENT"
	SourceCommission   TransactionSource = "COMMISSION"
	SourceOrderRefund  TransactionSource = "ORDER_REFUND"
	SourceReturnRefund TransactionSource = "RETURN_REFUND"
	SourceWithdrawal   TransactionSource = "WITHDRAWAL"
	SourceAdjustment   TransactionSource = "ADJUSTMENT"
)

// WalletTransaction: неизменяемая запись журнала кошелька.
type WalletTransaction struct {
	ID             string            `json:"id"`
	OwnerID        int64             `json:"owner_id"`
	Type           TransactionType   `json:"type"`
	Source         TransactionSource `json:"source"`
	Amount         decimal.Decimal   `json:"amount"`
	BalanceBefore  decimal.Decimal   `json:"balance_before"`
	BalanceAfter   decimal.Decimal   `json:"balance_after"`
	RelatedOrderID string            `json:"related_order_id,omitempty"`
	WithdrawalID   string            `json:"withdrawal_id,omitempty"`
	Description    string            `json:"description,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Signed возвращает сумму со знаком: положительную для CREDIT, отрицательную для DEBIT.
func (t WalletTransaction) Signed() decimal.Decimal {
	if t.Type == TransactionDebit {
		return t.Amount.Neg()
	}
	return t.Amount
}

// WithdrawalStatus: статус заявки на вывод средств.
type WithdrawalStatus string

const (
	WithdrawalRequested  WithdrawalStatus = "REQUESTED"
	WithdrawalProcessing WithdrawalStatus = "PROCESSING"
	WithdrawalCompleted  WithdrawalStatus = "COMPLETED"
	WithdrawalFailed     WithdrawalStatus = "FAILED"
	WithdrawalRejected   WithdrawalStatus = "REJECTED"
)

// IsTerminal сообщает, что обработка заявки завершена.
func (s WithdrawalStatus) IsTerminal() bool {
	return s == WithdrawalCompleted || s == WithdrawalFailed || s == WithdrawalRejected
}

// BankDetails: снимок банковских реквизитов на момент заявки.
type BankDetails struct {
	AccountNumber string `json:"account_number"`
	IFSC          string `json:"ifsc"`
	AccountHolder string `json:"account_holder"`
	BankName      string `json:"bank_name,omitempty"`
}

// Withdrawal: заявка на вывод средств из кошелька.
type Withdrawal struct {
	ID                 string           `json:"id"`
	OwnerID            int64            `json:"owner_id"`
	Amount             decimal.Decimal  `json:"amount"`
	Bank               BankDetails      `json:"bank_details"`
	Status             WithdrawalStatus `json:"status"`
	PayoutID           string           `json:"payout_id,omitempty"`
	UTRNumber          string           `json:"utr_number,omitempty"`
	FailureReason      string           `json:"failure_reason,omitempty"`
	DebitTransactionID string           `json:"debit_transaction_id"`
	RequestedAt        time.Time        `json:"requested_at"`
	ProcessedAt        *time.Time       `json:"processed_at,omitempty"`
}
