package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/partsmart-ledger/internal/model"
	"github.com/mmeshcher/partsmart-ledger/internal/money"
)

// querier: общее подмножество pgxpool.Pool и pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func toCents(d decimal.Decimal) int64 {
	return money.ToCents(d)
}

func fromCents(c int64) decimal.Decimal {
	return money.FromCents(c)
}

func getCart(ctx context.Context, q querier, userID int64, forUpdate bool) (*model.Cart, error) {
	query := `SELECT lines, coupon_code, updated_at FROM carts WHERE user_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var (
		lines []byte
		cart  = model.Cart{UserID: userID}
	)
	err := q.QueryRow(ctx, query, userID).Scan(&lines, &cart.CouponCode, &cart.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &cart, nil
		}
		return nil, fmt.Errorf("select cart: %w", err)
	}

	if err := json.Unmarshal(lines, &cart.Lines); err != nil {
		return nil, fmt.Errorf("decode cart lines: %w", err)
	}
	return &cart, nil
}

const orderColumns = `id, human_id, user_id, status, payment_method, payment_required, payment_confirmed,
	payment_reference, items, subtotal_amount, tax_amount, shipping_amount, discount_amount, total_amount,
	coupon_code, shipping_address, tracking_updates, created_at, updated_at, shipped_at, delivered_at, cancelled_at`

func scanOrder(row scanner) (*model.Order, error) {
	var (
		o                                        model.Order
		status, method                           string
		items, address, updates                  []byte
		subtotal, tax, shipping, discount, total int64
	)

	err := row.Scan(&o.ID, &o.HumanID, &o.UserID, &status, &method, &o.PaymentRequired, &o.PaymentConfirmed,
		&o.PaymentReference, &items, &subtotal, &tax, &shipping, &discount, &total,
		&o.CouponCode, &address, &updates, &o.CreatedAt, &o.UpdatedAt, &o.ShippedAt, &o.DeliveredAt, &o.CancelledAt)
	if err != nil {
		return nil, err
	}

	o.Status = model.OrderStatus(status)
	o.PaymentMethod = model.PaymentMethod(method)
	o.SubtotalAmount = fromCents(subtotal)
	o.TaxAmount = fromCents(tax)
	o.ShippingAmount = fromCents(shipping)
	o.DiscountAmount = fromCents(discount)
	o.TotalAmount = fromCents(total)

	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("decode order items: %w", err)
	}
	if err := json.Unmarshal(address, &o.ShippingAddress); err != nil {
		return nil, fmt.Errorf("decode shipping address: %w", err)
	}
	if err := json.Unmarshal(updates, &o.TrackingUpdates); err != nil {
		return nil, fmt.Errorf("decode tracking updates: %w", err)
	}

	return &o, nil
}

func orderSellerIDs(o *model.Order) []int64 {
	ids := make([]int64, 0, len(o.Items))
	seen := make(map[int64]struct{}, len(o.Items))
	for _, it := range o.Items {
		if _, ok := seen[it.SellerID]; ok {
			continue
		}
		seen[it.SellerID] = struct{}{}
		ids = append(ids, it.SellerID)
	}
	return ids
}

const returnColumns = `id, order_id, customer_id, seller_ids, items, reason, description, evidence_images, status,
	inspection_result, inspection_notes, rejection_reason, return_tracking_number, refund_amount, refund_method,
	refund_reference, fraud_score, flagged, created_at, updated_at, refunded_at`

func scanReturn(row scanner) (*model.ReturnRequest, error) {
	var (
		r                                  model.ReturnRequest
		reason, status, inspection, method string
		items, images                      []byte
		refund                             int64
	)

	err := row.Scan(&r.ID, &r.OrderID, &r.CustomerID, &r.SellerIDs, &items, &reason, &r.Description, &images, &status,
		&inspection, &r.InspectionNotes, &r.RejectionReason, &r.ReturnTrackingNumber, &refund, &method,
		&r.RefundReference, &r.FraudScore, &r.Flagged, &r.CreatedAt, &r.UpdatedAt, &r.RefundedAt)
	if err != nil {
		return nil, err
	}

	r.Reason = model.ReturnReason(reason)
	r.Status = model.ReturnStatus(status)
	r.InspectionResult = model.InspectionResult(inspection)
	r.RefundMethod = model.RefundMethod(method)
	r.RefundAmount = fromCents(refund)

	if err := json.Unmarshal(items, &r.Items); err != nil {
		return nil, fmt.Errorf("decode return items: %w", err)
	}
	if err := json.Unmarshal(images, &r.EvidenceImages); err != nil {
		return nil, fmt.Errorf("decode evidence images: %w", err)
	}

	return &r, nil
}

const walletColumns = `owner_id, balance, is_active, is_locked, created_at, updated_at`

func scanWallet(row scanner) (*model.Wallet, error) {
	var (
		w       model.Wallet
		balance int64
	)
	if err := row.Scan(&w.OwnerID, &balance, &w.IsActive, &w.IsLocked, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	w.Balance = fromCents(balance)
	return &w, nil
}

const transactionColumns = `id, owner_id, type, source, amount, balance_before, balance_after,
	related_order_id, withdrawal_id, description, created_at`

func scanTransaction(row scanner) (model.WalletTransaction, error) {
	var (
		tx                    model.WalletTransaction
		typ, source           string
		amount, before, after int64
	)
	err := row.Scan(&tx.ID, &tx.OwnerID, &typ, &source, &amount, &before, &after,
		&tx.RelatedOrderID, &tx.WithdrawalID, &tx.Description, &tx.CreatedAt)
	if err != nil {
		return tx, err
	}
	tx.Type = model.TransactionType(typ)
	tx.Source = model.TransactionSource(source)
	tx.Amount = fromCents(amount)
	tx.BalanceBefore = fromCents(before)
	tx.BalanceAfter = fromCents(after)
	return tx, nil
}

const withdrawalColumns = `id, owner_id, amount, bank_account_number, bank_ifsc, bank_account_holder, bank_name,
	status, payout_id, utr_number, failure_reason, debit_transaction_id, requested_at, processed_at`

func scanWithdrawal(row scanner) (*model.Withdrawal, error) {
	var (
		wd     model.Withdrawal
		amount int64
		status string
	)
	err := row.Scan(&wd.ID, &wd.OwnerID, &amount, &wd.Bank.AccountNumber, &wd.Bank.IFSC, &wd.Bank.AccountHolder,
		&wd.Bank.BankName, &status, &wd.PayoutID, &wd.UTRNumber, &wd.FailureReason, &wd.DebitTransactionID,
		&wd.RequestedAt, &wd.ProcessedAt)
	if err != nil {
		return nil, err
	}
	wd.Amount = fromCents(amount)
	wd.Status = model.WithdrawalStatus(status)
	return &wd, nil
}

const couponColumns = `code, discount_type, discount_amount, discount_percent, min_cart_total,
	valid_from, valid_to, active, usage_limit, used_count`

func scanCoupon(row scanner) (*model.Coupon, error) {
	var (
		c                  model.Coupon
		typ                string
		amount, percent    int64
		minTotal           *int64
		validFrom, validTo *time.Time
	)
	err := row.Scan(&c.Code, &typ, &amount, &percent, &minTotal, &validFrom, &validTo, &c.Active, &c.UsageLimit, &c.UsedCount)
	if err != nil {
		return nil, err
	}
	c.DiscountType = model.DiscountType(typ)
	c.DiscountAmount = fromCents(amount)
	c.DiscountPercent = fromCents(percent)
	if minTotal != nil {
		v := fromCents(*minTotal)
		c.MinCartTotal = &v
	}
	c.ValidFrom = validFrom
	c.ValidTo = validTo
	return &c, nil
}

func collect[T any](rows pgx.Rows, scan func(scanner) (T, error)) ([]T, error) {
	defer rows.Close()

	var res []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		res = append(res, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

func derefOrders(in []*model.Order) []model.Order {
	out := make([]model.Order, 0, len(in))
	for _, o := range in {
		out = append(out, *o)
	}
	return out
}

func derefReturns(in []*model.ReturnRequest) []model.ReturnRequest {
	out := make([]model.ReturnRequest, 0, len(in))
	for _, r := range in {
		out = append(out, *r)
	}
	return out
}

func derefWithdrawals(in []*model.Withdrawal) []model.Withdrawal {
	out := make([]model.Withdrawal, 0, len(in))
	for _, wd := range in {
		out = append(out, *wd)
	}
	return out
}
