package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/partsmart-ledger/internal/model"
)

type redemptionKey struct {
	code   string
	userID int64
}

type memState struct {
	users       map[int64]*model.User
	carts       map[int64]*model.Cart
	coupons     map[string]*model.Coupon
	redemptions map[redemptionKey]string
	orders      map[string]*model.Order
	events      []model.OrderEvent
	published   map[int64]time.Time
	returns     map[string]*model.ReturnRequest
	wallets     map[int64]*model.Wallet
	txs         []model.WalletTransaction
	withdrawals map[string]*model.Withdrawal
	nextUserID  int64
	nextEventID int64
}

// MemoryRepository хранит данные в памяти процесса. Транзакции выполняются
// последовательно под общим мьютексом, изменения применяются только при успехе.
type MemoryRepository struct {
	mu    sync.Mutex
	state *memState
}

// NewMemoryRepository создаёт пустое in-memory хранилище.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		state: &memState{
			users:       make(map[int64]*model.User),
			carts:       make(map[int64]*model.Cart),
			coupons:     make(map[string]*model.Coupon),
			redemptions: make(map[redemptionKey]string),
			orders:      make(map[string]*model.Order),
			published:   make(map[int64]time.Time),
			returns:     make(map[string]*model.ReturnRequest),
			wallets:     make(map[int64]*model.Wallet),
			withdrawals: make(map[string]*model.Withdrawal),
		},
	}
}

// Close ничего не делает и нужен для совместимости с PostgresRepository.
func (r *MemoryRepository) Close() error {
	return nil
}

// InTx выполняет fn под эксклюзивной блокировкой хранилища.
func (r *MemoryRepository) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	t := newMemTx(r.state)
	if err := fn(ctx, t); err != nil {
		return err
	}
	t.commit()
	return nil
}

// CreateUser создаёт нового пользователя.
func (r *MemoryRepository) CreateUser(_ context.Context, email string, passwordHash []byte, role model.Role) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.state.users {
		if strings.EqualFold(u.Email, email) {
			return 0, ErrUserExists
		}
	}

	r.state.nextUserID++
	u := &model.User{
		ID:           r.state.nextUserID,
		Email:        email,
		PasswordHash: append([]byte(nil), passwordHash...),
		Role:         role,
		CreatedAt:    time.Now(),
	}
	r.state.users[u.ID] = u
	return u.ID, nil
}

// GetUserByEmail возвращает пользователя по email.
func (r *MemoryRepository) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.state.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrUserNotFound
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *MemoryRepository) GetUserByID(_ context.Context, id int64) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.state.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

// CreateCoupon сохраняет новый купон.
func (r *MemoryRepository) CreateCoupon(_ context.Context, c *model.Coupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.state.coupons[c.Code]; ok {
		return ErrCouponExists
	}
	r.state.coupons[c.Code] = cloneCoupon(c)
	return nil
}

// GetCart возвращает корзину пользователя. Если корзины нет, возвращается пустая.
func (r *MemoryRepository) GetCart(_ context.Context, userID int64) (*model.Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.state.carts[userID]; ok {
		return cloneCart(c), nil
	}
	return &model.Cart{UserID: userID}, nil
}

// GetOrder возвращает заказ по идентификатору.
func (r *MemoryRepository) GetOrder(_ context.Context, id string) (*model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.state.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

// GetOrdersByUser возвращает заказы покупателя, новые первыми.
func (r *MemoryRepository) GetOrdersByUser(_ context.Context, userID int64) ([]model.Order, error) {
	return r.filterOrders(func(o *model.Order) bool { return o.UserID == userID }), nil
}

// GetOrdersBySeller возвращает заказы, в которых есть товары продавца.
func (r *MemoryRepository) GetOrdersBySeller(_ context.Context, sellerID int64) ([]model.Order, error) {
	return r.filterOrders(func(o *model.Order) bool { return o.HasSeller(sellerID) }), nil
}

// GetRecentOrders возвращает последние заказы всех покупателей.
func (r *MemoryRepository) GetRecentOrders(_ context.Context, limit int) ([]model.Order, error) {
	res := r.filterOrders(func(*model.Order) bool { return true })
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (r *MemoryRepository) filterOrders(match func(*model.Order) bool) []model.Order {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.Order
	for _, o := range r.state.orders {
		if match(o) {
			res = append(res, *cloneOrder(o))
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res
}

// GetReturn возвращает заявку на возврат по идентификатору.
func (r *MemoryRepository) GetReturn(_ context.Context, id string) (*model.ReturnRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rr, ok := r.state.returns[id]
	if !ok {
		return nil, ErrReturnNotFound
	}
	return cloneReturn(rr), nil
}

// GetReturnsByCustomer возвращает заявки покупателя.
func (r *MemoryRepository) GetReturnsByCustomer(_ context.Context, customerID int64) ([]model.ReturnRequest, error) {
	return r.filterReturns(func(rr *model.ReturnRequest) bool { return rr.CustomerID == customerID }), nil
}

// GetReturnsBySeller возвращает заявки на товары продавца.
func (r *MemoryRepository) GetReturnsBySeller(_ context.Context, sellerID int64) ([]model.ReturnRequest, error) {
	return r.filterReturns(func(rr *model.ReturnRequest) bool { return rr.HasSeller(sellerID) }), nil
}

// GetRecentReturns возвращает последние заявки на возврат.
func (r *MemoryRepository) GetRecentReturns(_ context.Context, limit int) ([]model.ReturnRequest, error) {
	res := r.filterReturns(func(*model.ReturnRequest) bool { return true })
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (r *MemoryRepository) filterReturns(match func(*model.ReturnRequest) bool) []model.ReturnRequest {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.ReturnRequest
	for _, rr := range r.state.returns {
		if match(rr) {
			res = append(res, *cloneReturn(rr))
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res
}

// GetWallet возвращает кошелёк владельца. Если кошелька ещё нет, возвращается пустой активный кошелёк.
func (r *MemoryRepository) GetWallet(_ context.Context, ownerID int64) (*model.Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if w, ok := r.state.wallets[ownerID]; ok {
		cp := *w
		return &cp, nil
	}
	return &model.Wallet{OwnerID: ownerID, Balance: decimal.Zero, IsActive: true}, nil
}

// SetWalletFlags меняет признаки активности и блокировки кошелька.
func (r *MemoryRepository) SetWalletFlags(_ context.Context, ownerID int64, active, locked bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.state.wallets[ownerID]
	if !ok {
		w = &model.Wallet{OwnerID: ownerID, Balance: decimal.Zero, CreatedAt: time.Now()}
		r.state.wallets[ownerID] = w
	}
	w.IsActive = active
	w.IsLocked = locked
	return nil
}

// GetTransactions возвращает журнал кошелька в порядке проводок.
func (r *MemoryRepository) GetTransactions(_ context.Context, ownerID int64) ([]model.WalletTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.WalletTransaction
	for _, tx := range r.state.txs {
		if tx.OwnerID == ownerID {
			res = append(res, tx)
		}
	}
	return res, nil
}

// GetWithdrawalsByOwner возвращает заявки на вывод владельца кошелька, новые первыми.
func (r *MemoryRepository) GetWithdrawalsByOwner(_ context.Context, ownerID int64) ([]model.Withdrawal, error) {
	res := r.filterWithdrawals(func(wd *model.Withdrawal) bool { return wd.OwnerID == ownerID })
	sort.SliceStable(res, func(i, j int) bool { return res[i].RequestedAt.After(res[j].RequestedAt) })
	return res, nil
}

// GetWithdrawalsByStatus возвращает заявки в указанных статусах, старые первыми.
func (r *MemoryRepository) GetWithdrawalsByStatus(_ context.Context, statuses []model.WithdrawalStatus, limit int) ([]model.Withdrawal, error) {
	res := r.filterWithdrawals(func(wd *model.Withdrawal) bool {
		for _, s := range statuses {
			if wd.Status == s {
				return true
			}
		}
		return false
	})
	sort.SliceStable(res, func(i, j int) bool { return res[i].RequestedAt.Before(res[j].RequestedAt) })
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (r *MemoryRepository) filterWithdrawals(match func(*model.Withdrawal) bool) []model.Withdrawal {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.Withdrawal
	for _, wd := range r.state.withdrawals {
		if match(wd) {
			res = append(res, *cloneWithdrawal(wd))
		}
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// GetUnpublishedEvents возвращает ещё не опубликованные события заказов.
func (r *MemoryRepository) GetUnpublishedEvents(_ context.Context, limit int) ([]model.OrderEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.OrderEvent
	for _, e := range r.state.events {
		if _, done := r.state.published[e.ID]; done {
			continue
		}
		res = append(res, e)
		if limit > 0 && len(res) == limit {
			break
		}
	}
	return res, nil
}

// MarkEventsPublished отмечает события опубликованными.
func (r *MemoryRepository) MarkEventsPublished(_ context.Context, ids []int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range ids {
		r.state.published[id] = at
	}
	return nil
}
