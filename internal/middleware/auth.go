// Package middleware содержит HTTP middleware сервиса PartSmart.
package middleware

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mmeshcher/partsmart-ledger/internal/model"
)

type contextKey string

const actorKey contextKey = "actor"

const (
	accessTokenTTL  = 15 * time.Minute
	refreshTokenTTL = 30 * 24 * time.Hour

	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// ErrInvalidToken токен не прошёл проверку.
var ErrInvalidToken = errors.New("invalid token")

// Claims полезная нагрузка токена: sub содержит идентификатор пользователя.
type Claims struct {
	Role      model.Role `json:"role"`
	TokenType string     `json:"typ"`
	jwt.RegisteredClaims
}

// TokenPair пара токенов, выдаваемая при входе и обновлении.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// AuthMiddleware выпускает и проверяет JWT (HS256).
type AuthMiddleware struct {
	secretKey  []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewAuthMiddleware создаёт экземпляр AuthMiddleware. При пустом секрете генерируется случайный ключ,
// и токены перестают быть валидными после перезапуска.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("partsmart-default-secret")
		}
	}

	return &AuthMiddleware{
		secretKey:  key,
		accessTTL:  accessTokenTTL,
		refreshTTL: refreshTokenTTL,
		now:        time.Now,
	}
}

// IssueTokens выпускает пару access/refresh для пользователя.
func (a *AuthMiddleware) IssueTokens(actor model.Actor) (TokenPair, error) {
	access, err := a.sign(actor, tokenTypeAccess, a.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := a.sign(actor, tokenTypeRefresh, a.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(a.accessTTL / time.Second),
	}, nil
}

// Refresh обменивает refresh-токен на новую пару.
func (a *AuthMiddleware) Refresh(refreshToken string) (TokenPair, model.Actor, error) {
	actor, err := a.parse(refreshToken, tokenTypeRefresh)
	if err != nil {
		return TokenPair{}, model.Actor{}, err
	}
	pair, err := a.IssueTokens(actor)
	return pair, actor, err
}

// Authenticate проверяет access-токен и возвращает субъекта.
func (a *AuthMiddleware) Authenticate(token string) (model.Actor, error) {
	return a.parse(token, tokenTypeAccess)
}

// Middleware проверяет заголовок Authorization и добавляет субъекта в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeAuthError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}

		actor, err := a.Authenticate(strings.TrimSpace(token))
		if err != nil {
			writeAuthError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

// RequireRole пропускает запрос только для перечисленных ролей.
func RequireRole(roles ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := GetActorFromContext(r.Context())
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}
			for _, role := range roles {
				if actor.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeAuthError(w, http.StatusForbidden, "forbidden", "insufficient role")
		})
	}
}

func (a *AuthMiddleware) sign(actor model.Actor, typ string, ttl time.Duration) (string, error) {
	now := a.now()
	claims := Claims{
		Role:      actor.Role,
		TokenType: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(actor.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secretKey)
}

func (a *AuthMiddleware) parse(raw, typ string) (model.Actor, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return a.secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now))
	if err != nil {
		return model.Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.TokenType != typ || !claims.Role.Valid() {
		return model.Actor{}, ErrInvalidToken
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return model.Actor{}, ErrInvalidToken
	}
	return model.Actor{UserID: id, Role: claims.Role}, nil
}

func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}

// WithActor кладёт субъекта запроса в контекст.
func WithActor(ctx context.Context, actor model.Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// GetActorFromContext извлекает субъекта запроса из контекста.
func GetActorFromContext(ctx context.Context) (model.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(model.Actor)
	return actor, ok
}

// GetUserIDFromContext извлекает идентификатор пользователя из контекста запроса.
func GetUserIDFromContext(ctx context.Context) (int64, bool) {
	actor, ok := GetActorFromContext(ctx)
	return actor.UserID, ok
}
