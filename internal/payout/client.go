// Package payout предоставляет клиент для внешнего провайдера банковских выплат.
package payout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/mmeshcher/partsmart-ledger/internal/model"
)

// Статусы выплаты на стороне провайдера.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusProcessed  = "processed"
	StatusFailed     = "failed"
	StatusReversed   = "reversed"
	StatusRejected   = "rejected"
)

// ErrNotConfigured возвращается, если адрес провайдера не задан.
var ErrNotConfigured = errors.New("payout client not configured")

// Payout описывает ответ провайдера по одной выплате.
type Payout struct {
	ID            string `json:"payout_id"`
	Reference     string `json:"reference"`
	Status        string `json:"status"`
	UTR           string `json:"utr,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// Processed сообщает, что деньги отправлены получателю.
func (p *Payout) Processed() bool {
	return p.Status == StatusProcessed
}

// Failed сообщает, что выплата не состоялась и средства нужно вернуть в кошелёк.
func (p *Payout) Failed() bool {
	switch p.Status {
	case StatusFailed, StatusReversed, StatusRejected:
		return true
	}
	return false
}

// Request описывает запрос на создание выплаты.
// Reference совпадает с идентификатором заявки на вывод, провайдер не создаёт вторую выплату с тем же Reference.
type Request struct {
	Reference string            `json:"reference"`
	Amount    decimal.Decimal   `json:"amount"`
	Bank      model.BankDetails `json:"bank_details"`
}

type response struct {
	status     int
	retryAfter time.Duration
	body       []byte
}

// Client инкапсулирует HTTP-взаимодействие с провайдером выплат.
// Ошибки транспорта и ответы 5xx размыкают предохранитель, после чего запросы не отправляются до истечения таймаута.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[response]
	logger     *zap.Logger
}

// NewClient создаёт клиент провайдера выплат по указанному адресу.
func NewClient(baseURL string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	base := strings.TrimRight(baseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	c := &Client{
		baseURL: base,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		logger: logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker[response](gobreaker.Settings{
		Name:        "payout-provider",
		MaxRequests: 1,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return c
}

// CreatePayout отправляет заявку на выплату. Повторный вызов с тем же Reference возвращает уже созданную выплату.
func (c *Client) CreatePayout(ctx context.Context, req Request) (*Payout, int, time.Duration, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("encode request: %w", err)
	}
	return c.call(ctx, http.MethodPost, "/payouts", body)
}

// GetPayout запрашивает состояние выплаты по Reference.
func (c *Client) GetPayout(ctx context.Context, reference string) (*Payout, int, time.Duration, error) {
	return c.call(ctx, http.MethodGet, "/payouts/"+url.PathEscape(reference), nil)
}

func (c *Client) call(ctx context.Context, method, path string, body []byte) (*Payout, int, time.Duration, error) {
	if c == nil || c.baseURL == "" {
		return nil, 0, 0, ErrNotConfigured
	}

	resp, err := c.breaker.Execute(func() (response, error) {
		return c.do(ctx, method, path, body)
	})
	if err != nil {
		return nil, resp.status, 0, err
	}

	switch resp.status {
	case http.StatusTooManyRequests:
		return nil, resp.status, resp.retryAfter, nil
	case http.StatusNotFound:
		return nil, resp.status, 0, nil
	case http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusConflict:
	default:
		return nil, resp.status, 0, fmt.Errorf("unexpected status: %d", resp.status)
	}

	var result Payout
	if err := json.Unmarshal(resp.body, &result); err != nil {
		return nil, resp.status, 0, fmt.Errorf("decode response: %w", err)
	}
	return &result, resp.status, 0, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return response{}, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return response{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return response{status: resp.StatusCode}, fmt.Errorf("read response: %w", err)
	}

	out := response{status: resp.StatusCode, body: data}
	if resp.StatusCode == http.StatusTooManyRequests {
		out.retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return out, fmt.Errorf("provider error: %d", resp.StatusCode)
	}
	return out, nil
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		return time.Until(at)
	}
	return 0
}
