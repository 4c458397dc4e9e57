// Package apiclient предоставляет Go-клиент для HTTP API PartSmart.
//
// Изменяющие запросы не повторяются автоматически и не выполняются параллельно
// по одному ресурсу. Читающие запросы повторяются при сбоях и объединяются,
// если одинаковый запрос уже выполняется.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/mmeshcher/partsmart-ledger/internal/returns"
)

const defaultTimeout = 10 * time.Second

// Client клиент API.
type Client struct {
	baseURL string
	session Session

	mutations *http.Client
	reads     *retryablehttp.Client
	sf        singleflight.Group

	mu       sync.Mutex
	inFlight map[string]struct{}

	returnPolicy returns.Policy
	now          func() time.Time
	logger       *zap.Logger
}

// Option настраивает клиент.
type Option func(*Client)

// WithHTTPClient задаёт HTTP-клиент для изменяющих запросов и транспорт для читающих.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.mutations = hc
			c.reads.HTTPClient = hc
		}
	}
}

// WithRetry задаёт число повторов и паузы для читающих запросов.
func WithRetry(max int, waitMin, waitMax time.Duration) Option {
	return func(c *Client) {
		c.reads.RetryMax = max
		c.reads.RetryWaitMin = waitMin
		c.reads.RetryWaitMax = waitMax
	}
}

// WithLogger задаёт логгер.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithReturnPolicy задаёт правила возврата для локальной проверки заявок.
func WithReturnPolicy(p returns.Policy) Option {
	return func(c *Client) { c.returnPolicy = p }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// New создаёт клиент для сервера baseURL с явно переданной сессией.
func New(baseURL string, session Session, opts ...Option) *Client {
	base := strings.TrimRight(baseURL, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	reads := retryablehttp.NewClient()
	reads.RetryMax = 3
	reads.RetryWaitMin = 100 * time.Millisecond
	reads.RetryWaitMax = 2 * time.Second
	reads.HTTPClient = &http.Client{Timeout: defaultTimeout}
	reads.ErrorHandler = retryablehttp.PassthroughErrorHandler

	c := &Client{
		baseURL:      base,
		session:      session,
		mutations:    &http.Client{Timeout: defaultTimeout},
		reads:        reads,
		inFlight:     make(map[string]struct{}),
		returnPolicy: returns.DefaultPolicy(),
		now:          time.Now,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.reads.Logger = zap.NewStdLog(c.logger.Named("apiclient"))
	return c
}

type result struct {
	status int
	body   []byte
}

// get выполняет GET с повторами. Одновременные одинаковые запросы объединяются.
func (c *Client) get(ctx context.Context, path string, out any) error {
	v, err, _ := c.sf.Do(path, func() (any, error) {
		res, err := c.withAuth(ctx, func(token string) (result, error) {
			req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
			if err != nil {
				return result{}, err
			}
			c.decorate(req.Header, token)
			resp, err := c.reads.Do(req)
			if err != nil {
				return result{}, fmt.Errorf("%w: GET %s: %v", ErrNetwork, path, err)
			}
			return readResult(resp)
		})
		return res, err
	})
	if err != nil {
		return err
	}
	return decodeResult(v.(result), out)
}

// post выполняет запрос без блокировки ресурса и без повторов.
func (c *Client) post(ctx context.Context, path string, in, out any) error {
	return c.send(ctx, http.MethodPost, path, in, out)
}

// mutate выполняет изменяющий запрос под ключом ресурса. Пока он не завершился,
// другой изменяющий запрос с тем же ключом сразу получает ErrMutationInFlight.
func (c *Client) mutate(ctx context.Context, key, method, path string, in, out any) error {
	if !c.acquire(key) {
		return fmt.Errorf("%w: %s", ErrMutationInFlight, key)
	}
	defer c.release(key)
	return c.send(ctx, method, path, in, out)
}

func (c *Client) send(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}
	idemKey := uuid.NewString()

	res, err := c.withAuth(ctx, func(token string) (result, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return result{}, err
		}
		c.decorate(req.Header, token)
		req.Header.Set("Idempotency-Key", idemKey)
		resp, err := c.mutations.Do(req)
		if err != nil {
			return result{}, fmt.Errorf("%w: %s %s: %v", ErrUnknownOutcome, method, path, err)
		}
		res, err := readResult(resp)
		if err != nil {
			return result{}, fmt.Errorf("%w: %s %s: %v", ErrUnknownOutcome, method, path, err)
		}
		return res, nil
	})
	if err != nil {
		return err
	}
	return decodeResult(res, out)
}

// withAuth выполняет запрос и при 401 один раз обновляет сессию и повторяет его.
// Ответ 401 означает, что сервер запрос не выполнял, поэтому повтор безопасен.
func (c *Client) withAuth(ctx context.Context, do func(token string) (result, error)) (result, error) {
	token := ""
	if c.session != nil {
		token = c.session.AccessToken()
	}
	res, err := do(token)
	if err != nil || res.status != http.StatusUnauthorized || c.session == nil {
		return res, err
	}

	if err := c.session.Refresh(ctx, c.RefreshTokens); err != nil {
		c.logger.Info("session refresh failed", zap.Error(err))
		c.session.Clear()
		return result{}, ErrUnauthorized
	}

	res, err = do(c.session.AccessToken())
	if err == nil && res.status == http.StatusUnauthorized {
		c.session.Clear()
	}
	return res, err
}

func (c *Client) decorate(h http.Header, token string) {
	h.Set("Accept", "application/json")
	h.Set("Content-Type", "application/json")
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
}

func (c *Client) acquire(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inFlight[key]; busy {
		return false
	}
	c.inFlight[key] = struct{}{}
	return true
}

func (c *Client) release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, key)
}

func readResult(resp *http.Response) (result, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return result{}, fmt.Errorf("read response: %w", err)
	}
	return result{status: resp.StatusCode, body: body}, nil
}

func decodeResult(res result, out any) error {
	switch {
	case res.status >= 200 && res.status < 300:
		if out == nil || res.status == http.StatusNoContent || len(res.body) == 0 {
			return nil
		}
		if err := json.Unmarshal(res.body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	case res.status >= 500:
		return fmt.Errorf("%w: status %d", ErrServer, res.status)
	}

	apiErr := APIError{Status: res.status}
	_ = json.Unmarshal(res.body, &apiErr)
	if apiErr.Code == "" {
		apiErr.Code = strings.ToLower(strings.ReplaceAll(http.StatusText(res.status), " ", "_"))
	}

	switch res.status {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrForbidden, apiErr.Message)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, apiErr.Message)
	case http.StatusConflict, http.StatusPaymentRequired:
		return &ConflictError{APIError: apiErr}
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return &ValidationError{APIError: apiErr}
	default:
		return fmt.Errorf("unexpected status %d: %s", res.status, apiErr.describe())
	}
}
