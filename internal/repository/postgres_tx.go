package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/partsmart-ledger/internal/model"
)

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) CartForUpdate(ctx context.Context, userID int64) (*model.Cart, error) {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO carts (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID)
	if err != nil {
		return nil, fmt.Errorf("ensure cart: %w", err)
	}
	return getCart(ctx, t.tx, userID, true)
}

func (t *pgTx) SaveCart(ctx context.Context, cart *model.Cart) error {
	lines, err := json.Marshal(cart.Lines)
	if err != nil {
		return fmt.Errorf("encode cart lines: %w", err)
	}
	if cart.Lines == nil {
		lines = []byte("[]")
	}

	_, err = t.tx.Exec(ctx,
		`INSERT INTO carts (user_id, lines, coupon_code, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id) DO UPDATE SET lines = $2, coupon_code = $3, updated_at = $4`,
		cart.UserID, lines, cart.CouponCode, cart.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save cart: %w", err)
	}
	return nil
}

func (t *pgTx) Coupon(ctx context.Context, code string) (*model.Coupon, error) {
	c, err := scanCoupon(t.tx.QueryRow(ctx,
		`SELECT `+couponColumns+` FROM coupons WHERE code = $1`, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCouponNotFound
		}
		return nil, fmt.Errorf("select coupon: %w", err)
	}
	return c, nil
}

func (t *pgTx) CouponRedeemed(ctx context.Context, code string, userID int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM coupon_redemptions WHERE code = $1 AND user_id = $2)`,
		code, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("select redemption: %w", err)
	}
	return exists, nil
}

func (t *pgTx) RedeemCoupon(ctx context.Context, code string, userID int64, orderID string, at time.Time) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO coupon_redemptions (code, user_id, order_id, redeemed_at) VALUES ($1, $2, $3, $4)`,
		code, userID, orderID, at,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrCouponAlreadyRedeemed
		}
		return fmt.Errorf("insert redemption: %w", err)
	}

	// Лимит проверяется в том же UPDATE, который блокирует строку купона.
	tag, err := t.tx.Exec(ctx,
		`UPDATE coupons SET used_count = used_count + 1
		 WHERE code = $1 AND (usage_limit IS NULL OR used_count < usage_limit)`,
		code,
	)
	if err != nil {
		return fmt.Errorf("increment coupon usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCouponExhausted
	}
	return nil
}

func orderArgs(o *model.Order) ([]any, error) {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return nil, fmt.Errorf("encode order items: %w", err)
	}
	address, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return nil, fmt.Errorf("encode shipping address: %w", err)
	}
	updates, err := json.Marshal(o.TrackingUpdates)
	if err != nil {
		return nil, fmt.Errorf("encode tracking updates: %w", err)
	}
	if o.TrackingUpdates == nil {
		updates = []byte("[]")
	}

	return []any{
		o.ID, o.HumanID, o.UserID, string(o.Status), string(o.PaymentMethod), o.PaymentRequired, o.PaymentConfirmed,
		o.PaymentReference, items, orderSellerIDs(o), toCents(o.SubtotalAmount), toCents(o.TaxAmount),
		toCents(o.ShippingAmount), toCents(o.DiscountAmount), toCents(o.TotalAmount), o.CouponCode, address, updates,
		o.CreatedAt, o.UpdatedAt, o.ShippedAt, o.DeliveredAt, o.CancelledAt,
	}, nil
}

func (t *pgTx) InsertOrder(ctx context.Context, o *model.Order) error {
	args, err := orderArgs(o)
	if err != nil {
		return err
	}

	_, err = t.tx.Exec(ctx,
		`INSERT INTO orders (id, human_id, user_id, status, payment_method, payment_required, payment_confirmed,
		                     payment_reference, items, seller_ids, subtotal_amount, tax_amount, shipping_amount,
		                     discount_amount, total_amount, coupon_code, shipping_address, tracking_updates,
		                     created_at, updated_at, shipped_at, delivered_at, cancelled_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (t *pgTx) OrderForUpdate(ctx context.Context, id string) (*model.Order, error) {
	o, err := scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("select order for update: %w", err)
	}
	return o, nil
}

func (t *pgTx) SaveOrder(ctx context.Context, o *model.Order) error {
	args, err := orderArgs(o)
	if err != nil {
		return err
	}

	tag, err := t.tx.Exec(ctx,
		`UPDATE orders SET human_id = $2, user_id = $3, status = $4, payment_method = $5, payment_required = $6,
		        payment_confirmed = $7, payment_reference = $8, items = $9, seller_ids = $10, subtotal_amount = $11,
		        tax_amount = $12, shipping_amount = $13, discount_amount = $14, total_amount = $15, coupon_code = $16,
		        shipping_address = $17, tracking_updates = $18, created_at = $19, updated_at = $20, shipped_at = $21,
		        delivered_at = $22, cancelled_at = $23
		 WHERE id = $1`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (t *pgTx) AppendOrderEvent(ctx context.Context, e model.OrderEvent) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO order_events (order_id, type, previous_status, status, actor_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.OrderID, e.Type, string(e.PreviousStatus), string(e.Status), e.ActorID, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order event: %w", err)
	}
	return nil
}

func returnArgs(r *model.ReturnRequest) ([]any, error) {
	items, err := json.Marshal(r.Items)
	if err != nil {
		return nil, fmt.Errorf("encode return items: %w", err)
	}
	images, err := json.Marshal(r.EvidenceImages)
	if err != nil {
		return nil, fmt.Errorf("encode evidence images: %w", err)
	}
	if r.EvidenceImages == nil {
		images = []byte("[]")
	}
	sellers := r.SellerIDs
	if sellers == nil {
		sellers = []int64{}
	}

	return []any{
		r.ID, r.OrderID, r.CustomerID, sellers, items, string(r.Reason), r.Description, images, string(r.Status),
		string(r.InspectionResult), r.InspectionNotes, r.RejectionReason, r.ReturnTrackingNumber,
		toCents(r.RefundAmount), string(r.RefundMethod), r.RefundReference, r.FraudScore, r.Flagged,
		r.CreatedAt, r.UpdatedAt, r.RefundedAt,
	}, nil
}

func (t *pgTx) InsertReturn(ctx context.Context, r *model.ReturnRequest) error {
	args, err := returnArgs(r)
	if err != nil {
		return err
	}

	_, err = t.tx.Exec(ctx,
		`INSERT INTO return_requests (`+returnColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("insert return request: %w", err)
	}
	return nil
}

func (t *pgTx) ReturnForUpdate(ctx context.Context, id string) (*model.ReturnRequest, error) {
	r, err := scanReturn(t.tx.QueryRow(ctx, `SELECT `+returnColumns+` FROM return_requests WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReturnNotFound
		}
		return nil, fmt.Errorf("select return for update: %w", err)
	}
	return r, nil
}

func (t *pgTx) ReturnsForOrder(ctx context.Context, orderID string) ([]model.ReturnRequest, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+returnColumns+` FROM return_requests WHERE order_id = $1 ORDER BY created_at`, orderID)
	if err != nil {
		return nil, fmt.Errorf("select returns for order: %w", err)
	}
	res, err := collect(rows, scanReturn)
	if err != nil {
		return nil, err
	}
	return derefReturns(res), nil
}

func (t *pgTx) SaveReturn(ctx context.Context, r *model.ReturnRequest) error {
	args, err := returnArgs(r)
	if err != nil {
		return err
	}

	tag, err := t.tx.Exec(ctx,
		`UPDATE return_requests SET order_id = $2, customer_id = $3, seller_ids = $4, items = $5, reason = $6,
		        description = $7, evidence_images = $8, status = $9, inspection_result = $10, inspection_notes = $11,
		        rejection_reason = $12, return_tracking_number = $13, refund_amount = $14, refund_method = $15,
		        refund_reference = $16, fraud_score = $17, flagged = $18, created_at = $19, updated_at = $20,
		        refunded_at = $21
		 WHERE id = $1`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("update return request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrReturnNotFound
	}
	return nil
}

func (t *pgTx) WalletForUpdate(ctx context.Context, ownerID int64) (*model.Wallet, error) {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO wallets (owner_id) VALUES ($1) ON CONFLICT (owner_id) DO NOTHING`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("ensure wallet: %w", err)
	}

	w, err := scanWallet(t.tx.QueryRow(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE owner_id = $1 FOR UPDATE`, ownerID))
	if err != nil {
		return nil, fmt.Errorf("select wallet for update: %w", err)
	}
	return w, nil
}

func (t *pgTx) AppendTransaction(ctx context.Context, w *model.Wallet, tx model.WalletTransaction) error {
	if err := checkAppend(w, tx); err != nil {
		return err
	}

	_, err := t.tx.Exec(ctx,
		`INSERT INTO wallet_transactions (`+transactionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		tx.ID, tx.OwnerID, string(tx.Type), string(tx.Source), toCents(tx.Amount), toCents(tx.BalanceBefore),
		toCents(tx.BalanceAfter), tx.RelatedOrderID, tx.WithdrawalID, tx.Description, tx.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert wallet transaction: %w", err)
	}

	tag, err := t.tx.Exec(ctx,
		`UPDATE wallets SET balance = $2, updated_at = $3 WHERE owner_id = $1 AND balance = $4`,
		w.OwnerID, toCents(tx.BalanceAfter), w.UpdatedAt, toCents(tx.BalanceBefore),
	)
	if err != nil {
		return fmt.Errorf("update wallet balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleWallet
	}
	return nil
}

func (t *pgTx) Transactions(ctx context.Context, ownerID int64) ([]model.WalletTransaction, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+transactionColumns+` FROM wallet_transactions WHERE owner_id = $1 ORDER BY seq`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("select wallet transactions: %w", err)
	}
	return collect(rows, scanTransaction)
}

func (t *pgTx) InsertWithdrawal(ctx context.Context, wd *model.Withdrawal) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO withdrawals (`+withdrawalColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		wd.ID, wd.OwnerID, toCents(wd.Amount), wd.Bank.AccountNumber, wd.Bank.IFSC, wd.Bank.AccountHolder,
		wd.Bank.BankName, string(wd.Status), wd.PayoutID, wd.UTRNumber, wd.FailureReason, wd.DebitTransactionID,
		wd.RequestedAt, wd.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("insert withdrawal: %w", err)
	}
	return nil
}

func (t *pgTx) WithdrawalForUpdate(ctx context.Context, id string) (*model.Withdrawal, error) {
	wd, err := scanWithdrawal(t.tx.QueryRow(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWithdrawalNotFound
		}
		return nil, fmt.Errorf("select withdrawal for update: %w", err)
	}
	return wd, nil
}

func (t *pgTx) SaveWithdrawal(ctx context.Context, wd *model.Withdrawal) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE withdrawals SET status = $2, payout_id = $3, utr_number = $4, failure_reason = $5, processed_at = $6
		 WHERE id = $1`,
		wd.ID, string(wd.Status), wd.PayoutID, wd.UTRNumber, wd.FailureReason, wd.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("update withdrawal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrWithdrawalNotFound
	}
	return nil
}
