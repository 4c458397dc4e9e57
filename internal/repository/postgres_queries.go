package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/partsmart-ledger/internal/model"
)

// GetOrder возвращает заказ по идентификатору.
func (r *PostgresRepository) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("select order: %w", err)
	}
	return o, nil
}

// GetOrdersByUser возвращает заказы покупателя, новые первыми.
func (r *PostgresRepository) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	res, err := collect(rows, scanOrder)
	if err != nil {
		return nil, err
	}
	return derefOrders(res), nil
}

// GetOrdersBySeller возвращает заказы, в которых есть товары продавца.
func (r *PostgresRepository) GetOrdersBySeller(ctx context.Context, sellerID int64) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE $1 = ANY (seller_ids) ORDER BY created_at DESC`, sellerID)
	if err != nil {
		return nil, fmt.Errorf("select seller orders: %w", err)
	}
	res, err := collect(rows, scanOrder)
	if err != nil {
		return nil, err
	}
	return derefOrders(res), nil
}

// GetReturn возвращает заявку на возврат по идентификатору.
func (r *PostgresRepository) GetReturn(ctx context.Context, id string) (*model.ReturnRequest, error) {
	rr, err := scanReturn(r.pool.QueryRow(ctx, `SELECT `+returnColumns+` FROM return_requests WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReturnNotFound
		}
		return nil, fmt.Errorf("select return: %w", err)
	}
	return rr, nil
}

// GetReturnsByCustomer возвращает заявки покупателя.
func (r *PostgresRepository) GetReturnsByCustomer(ctx context.Context, customerID int64) ([]model.ReturnRequest, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+returnColumns+` FROM return_requests WHERE customer_id = $1 ORDER BY created_at DESC`, customerID)
	if err != nil {
		return nil, fmt.Errorf("select returns: %w", err)
	}
	res, err := collect(rows, scanReturn)
	if err != nil {
		return nil, err
	}
	return derefReturns(res), nil
}

// GetReturnsBySeller возвращает заявки на товары продавца.
func (r *PostgresRepository) GetReturnsBySeller(ctx context.Context, sellerID int64) ([]model.ReturnRequest, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+returnColumns+` FROM return_requests WHERE $1 = ANY (seller_ids) ORDER BY created_at DESC`, sellerID)
	if err != nil {
		return nil, fmt.Errorf("select seller returns: %w", err)
	}
	res, err := collect(rows, scanReturn)
	if err != nil {
		return nil, err
	}
	return derefReturns(res), nil
}

// GetWallet возвращает кошелёк владельца. Если кошелька ещё нет, возвращается пустой активный кошелёк.
func (r *PostgresRepository) GetWallet(ctx context.Context, ownerID int64) (*model.Wallet, error) {
	w, err := scanWallet(r.pool.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE owner_id = $1`, ownerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &model.Wallet{OwnerID: ownerID, Balance: decimal.Zero, IsActive: true}, nil
		}
		return nil, fmt.Errorf("select wallet: %w", err)
	}
	return w, nil
}

// GetTransactions возвращает журнал кошелька в порядке проводок.
func (r *PostgresRepository) GetTransactions(ctx context.Context, ownerID int64) ([]model.WalletTransaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+transactionColumns+` FROM wallet_transactions WHERE owner_id = $1 ORDER BY seq`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("select wallet transactions: %w", err)
	}
	return collect(rows, scanTransaction)
}

// GetWithdrawalsByOwner возвращает заявки на вывод владельца кошелька, новые первыми.
func (r *PostgresRepository) GetWithdrawalsByOwner(ctx context.Context, ownerID int64) ([]model.Withdrawal, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawals WHERE owner_id = $1 ORDER BY requested_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("select withdrawals: %w", err)
	}
	res, err := collect(rows, scanWithdrawal)
	if err != nil {
		return nil, err
	}
	return derefWithdrawals(res), nil
}

// GetWithdrawalsByStatus возвращает заявки в указанных статусах, старые первыми.
func (r *PostgresRepository) GetWithdrawalsByStatus(ctx context.Context, statuses []model.WithdrawalStatus, limit int) ([]model.Withdrawal, error) {
	names := make([]string, 0, len(statuses))
	for _, s := range statuses {
		names = append(names, string(s))
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawals WHERE status = ANY ($1) ORDER BY requested_at LIMIT $2`,
		names, limit)
	if err != nil {
		return nil, fmt.Errorf("select withdrawals by status: %w", err)
	}
	res, err := collect(rows, scanWithdrawal)
	if err != nil {
		return nil, err
	}
	return derefWithdrawals(res), nil
}

// GetUnpublishedEvents возвращает ещё не опубликованные события заказов.
func (r *PostgresRepository) GetUnpublishedEvents(ctx context.Context, limit int) ([]model.OrderEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, order_id, type, previous_status, status, actor_id, created_at
		 FROM order_events
		 WHERE published_at IS NULL
		 ORDER BY id
		 LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("select order events: %w", err)
	}
	return collect(rows, func(row scanner) (model.OrderEvent, error) {
		var (
			e            model.OrderEvent
			prev, status string
		)
		err := row.Scan(&e.ID, &e.OrderID, &e.Type, &prev, &status, &e.ActorID, &e.CreatedAt)
		e.PreviousStatus = model.OrderStatus(prev)
		e.Status = model.OrderStatus(status)
		return e, err
	})
}

// MarkEventsPublished отмечает события опубликованными.
func (r *PostgresRepository) MarkEventsPublished(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, `UPDATE order_events SET published_at = $2 WHERE id = ANY ($1)`, ids, at)
	if err != nil {
		return fmt.Errorf("mark events published: %w", err)
	}
	return nil
}

// SetWalletFlags меняет признаки активности и блокировки кошелька. Баланс не затрагивается.
func (r *PostgresRepository) SetWalletFlags(ctx context.Context, ownerID int64, active, locked bool) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO wallets (owner_id, is_active, is_locked) VALUES ($1, $2, $3)
		 ON CONFLICT (owner_id) DO UPDATE SET is_active = $2, is_locked = $3, updated_at = now()`,
		ownerID, active, locked)
	if err != nil {
		return fmt.Errorf("update wallet flags: %w", err)
	}
	return nil
}

// GetRecentOrders возвращает последние заказы всех покупателей.
func (r *PostgresRepository) GetRecentOrders(ctx context.Context, limit int) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("select recent orders: %w", err)
	}
	res, err := collect(rows, scanOrder)
	if err != nil {
		return nil, err
	}
	return derefOrders(res), nil
}

// GetRecentReturns возвращает последние заявки на возврат.
func (r *PostgresRepository) GetRecentReturns(ctx context.Context, limit int) ([]model.ReturnRequest, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+returnColumns+` FROM return_requests ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("select recent returns: %w", err)
	}
	res, err := collect(rows, scanReturn)
	if err != nil {
		return nil, err
	}
	return derefReturns(res), nil
}
