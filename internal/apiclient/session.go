package apiclient

import (
	"context"
	"errors"
	"sync"
)

// ErrNoRefreshToken сессия не может обновиться: refresh-токена нет.
var ErrNoRefreshToken = errors.New("no refresh token")

// Tokens пара токенов, выданная сервером.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Exchanger обменивает refresh-токен на новую пару через сервер.
type Exchanger func(ctx context.Context, refreshToken string) (Tokens, error)

// Session источник токенов для клиента. Передаётся в конструктор явно,
// поэтому в тестах её легко подменить.
type Session interface {
	AccessToken() string
	// Refresh обновляет токены с помощью exchange. Вызывается клиентом после ответа 401.
	Refresh(ctx context.Context, exchange Exchanger) error
	// Clear забывает токены (принудительный выход).
	Clear()
}

// TokenSetter реализуется сессиями, которые умеют принимать токены после входа.
type TokenSetter interface {
	SetTokens(t Tokens)
}

// MemorySession хранит токены в памяти процесса.
type MemorySession struct {
	mu     sync.Mutex
	tokens Tokens
	// refreshing объединяет параллельные обновления в одно.
	refreshing chan struct{}
	lastErr    error
}

// NewMemorySession создаёт сессию с начальными токенами (могут быть пустыми).
func NewMemorySession(t Tokens) *MemorySession {
	return &MemorySession{tokens: t}
}

func (s *MemorySession) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens.AccessToken
}

func (s *MemorySession) SetTokens(t Tokens) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = t
}

func (s *MemorySession) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = Tokens{}
}

// Refresh выполняет обмен не более одного раза одновременно; остальные вызовы ждут его результата.
func (s *MemorySession) Refresh(ctx context.Context, exchange Exchanger) error {
	s.mu.Lock()
	if ch := s.refreshing; ch != nil {
		s.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.lastErr
	}
	refresh := s.tokens.RefreshToken
	if refresh == "" {
		s.mu.Unlock()
		return ErrNoRefreshToken
	}
	ch := make(chan struct{})
	s.refreshing = ch
	s.mu.Unlock()

	t, err := exchange(ctx, refresh)

	s.mu.Lock()
	if err == nil {
		if t.RefreshToken == "" {
			t.RefreshToken = refresh
		}
		s.tokens = t
	}
	s.lastErr = err
	s.refreshing = nil
	s.mu.Unlock()
	close(ch)
	return err
}
