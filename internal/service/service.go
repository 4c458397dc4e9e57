// Package service реализует сценарии маркетплейса: корзину, заказы, возвраты и кошельки.
//
// Денежные правила и переходы статусов живут в чистых пакетах pricing, coupon,
// lifecycle, returns и ledger. Сервис собирает их внутри транзакций хранилища.
package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/partsmart-ledger/internal/coupon"
	"github.com/mmeshcher/partsmart-ledger/internal/ledger"
	"github.com/mmeshcher/partsmart-ledger/internal/model"
	"github.com/mmeshcher/partsmart-ledger/internal/money"
	"github.com/mmeshcher/partsmart-ledger/internal/payout"
	"github.com/mmeshcher/partsmart-ledger/internal/pricing"
	"github.com/mmeshcher/partsmart-ledger/internal/repository"
	"github.com/mmeshcher/partsmart-ledger/internal/returns"
)

var (
	// ErrInvalidCredentials возвращается при неверном email или пароле.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrForbidden возвращается, если у пользователя нет прав на операцию.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidInput возвращается при некорректных входных данных.
	ErrInvalidInput = errors.New("invalid input")
	// ErrCartEmpty возвращается при оформлении пустой корзины.
	ErrCartEmpty        = errors.New("cart is empty")
	ErrCartItemNotFound = errors.New("cart item not found")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	InTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error

	CreateUser(ctx context.Context, email string, passwordHash []byte, role model.Role) (int64, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)

	CreateCoupon(ctx context.Context, c *model.Coupon) error

	GetOrder(ctx context.Context, id string) (*model.Order, error)
	GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error)
	GetOrdersBySeller(ctx context.Context, sellerID int64) ([]model.Order, error)
	GetRecentOrders(ctx context.Context, limit int) ([]model.Order, error)

	GetReturn(ctx context.Context, id string) (*model.ReturnRequest, error)
	GetReturnsByCustomer(ctx context.Context, customerID int64) ([]model.ReturnRequest, error)
	GetReturnsBySeller(ctx context.Context, sellerID int64) ([]model.ReturnRequest, error)
	GetRecentReturns(ctx context.Context, limit int) ([]model.ReturnRequest, error)

	GetWallet(ctx context.Context, ownerID int64) (*model.Wallet, error)
	SetWalletFlags(ctx context.Context, ownerID int64, active, locked bool) error
	GetTransactions(ctx context.Context, ownerID int64) ([]model.WalletTransaction, error)
	GetWithdrawalsByOwner(ctx context.Context, ownerID int64) ([]model.Withdrawal, error)
	GetWithdrawalsByStatus(ctx context.Context, statuses []model.WithdrawalStatus, limit int) ([]model.Withdrawal, error)
}

// PayoutProvider описывает внешний провайдер банковских выплат.
type PayoutProvider interface {
	CreatePayout(ctx context.Context, req payout.Request) (*payout.Payout, int, time.Duration, error)
	GetPayout(ctx context.Context, reference string) (*payout.Payout, int, time.Duration, error)
}

// Settings содержит настраиваемые параметры бизнес-правил.
type Settings struct {
	Pricing           pricing.Config
	ReturnWindowDays  int
	MinimumWithdrawal decimal.Decimal
	// CommissionRate: доля платформы от суммы продавца, например 0.10.
	CommissionRate        decimal.Decimal
	PlatformWalletOwnerID int64
}

// DefaultSettings возвращает параметры по умолчанию.
func DefaultSettings() Settings {
	return Settings{
		Pricing:               pricing.DefaultConfig(),
		ReturnWindowDays:      returns.DefaultWindowDays,
		MinimumWithdrawal:     ledger.DefaultMinimumWithdrawal,
		CommissionRate:        decimal.RequireFromString("0.10"),
		PlatformWalletOwnerID: 1,
	}
}

// Service содержит бизнес-логику маркетплейса.
type Service struct {
	repo        Repository
	payouts     PayoutProvider
	settings    Settings
	pricing     *pricing.Engine
	coupons     *coupon.Validator
	returns     returns.Policy
	withdrawals ledger.WithdrawalPolicy
	logger      *zap.Logger
	now         func() time.Time
}

// NewService создаёт сервис с указанным хранилищем и провайдером выплат.
// payouts может быть nil, тогда фоновая обработка выплат не запускается.
// Неположительный ReturnWindowDays в Settings заменяется окном по умолчанию.
func NewService(repo Repository, payouts PayoutProvider, settings Settings, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings.ReturnWindowDays <= 0 {
		settings.ReturnWindowDays = returns.DefaultWindowDays
	}

	s := &Service{
		repo:        repo,
		payouts:     payouts,
		settings:    settings,
		pricing:     pricing.NewEngine(settings.Pricing),
		returns:     returns.Policy{WindowDays: settings.ReturnWindowDays},
		withdrawals: ledger.WithdrawalPolicy{Minimum: settings.MinimumWithdrawal},
		logger:      logger,
		now:         time.Now,
	}
	s.coupons = coupon.NewValidator(func() time.Time { return s.now() })
	return s
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// ReturnPolicy возвращает правила окна возврата, чтобы клиент и сервер проверяли его одинаково.
func (s *Service) ReturnPolicy() returns.Policy {
	return s.returns
}

// RegisterUser регистрирует нового покупателя или продавца.
func (s *Service) RegisterUser(ctx context.Context, email, password string, role model.Role) (int64, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return 0, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}
	if role == "" {
		role = model.RoleCustomer
	}
	if !role.Valid() {
		return 0, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	if role == model.RoleAdmin {
		return 0, ErrForbidden
	}

	id, err := s.repo.CreateUser(ctx, email, hashPassword(email, password), role)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			return 0, repository.ErrUserExists
		}
		return 0, err
	}
	return id, nil
}

// EnsureAdmin создаёт администратора, если пользователя с таким email ещё нет.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) (int64, error) {
	email = normalizeEmail(email)
	u, err := s.repo.GetUserByEmail(ctx, email)
	if err == nil {
		if u.Role != model.RoleAdmin {
			return 0, fmt.Errorf("user %s exists with role %s", email, u.Role)
		}
		return u.ID, nil
	}
	if !errors.Is(err, repository.ErrUserNotFound) {
		return 0, err
	}
	return s.repo.CreateUser(ctx, email, hashPassword(email, password), model.RoleAdmin)
}

// AuthenticateUser проверяет email и пароль и возвращает пользователя.
func (s *Service) AuthenticateUser(ctx context.Context, email, password string) (*model.User, error) {
	email = normalizeEmail(email)
	u, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if subtle.ConstantTimeCompare(hashPassword(email, password), u.PasswordHash) != 1 {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// GetUser возвращает пользователя по идентификатору.
func (s *Service) GetUser(ctx context.Context, id int64) (*model.User, error) {
	return s.repo.GetUserByID(ctx, id)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func hashPassword(email, password string) []byte {
	sum := sha256.Sum256([]byte(email + ":" + password))
	return sum[:]
}

// post проводит операцию по кошельку владельца внутри транзакции хранилища.
func (s *Service) post(ctx context.Context, tx repository.Tx, ownerID int64, e ledger.Entry, now time.Time) (model.WalletTransaction, error) {
	w, err := tx.WalletForUpdate(ctx, ownerID)
	if err != nil {
		return model.WalletTransaction{}, err
	}
	wt, err := ledger.Post(w, e, now)
	if err != nil {
		return model.WalletTransaction{}, err
	}
	if err := tx.AppendTransaction(ctx, w, wt); err != nil {
		return model.WalletTransaction{}, err
	}
	return wt, nil
}

func newID() string {
	return uuid.NewString()
}

// newReference возвращает prefix и n случайных символов [0-9A-F].
func newReference(prefix string, n int) string {
	return prefix + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:n])
}

func positive(d decimal.Decimal) bool {
	return money.Round(d).IsPositive()
}
