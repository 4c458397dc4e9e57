package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// HeaderKey заголовок запроса с ключом идемпотентности.
	HeaderKey = "Idempotency-Key"
	// HeaderReplay выставляется в повторно выданном ответе.
	HeaderReplay = "X-Idempotent-Replay"

	maxKeyLength = 255
)

// IdentityFunc возвращает идентификатор пользователя, от имени которого выполняется запрос.
type IdentityFunc func(r *http.Request) string

// Middleware обеспечивает однократное выполнение мутирующих запросов с одинаковым ключом.
type Middleware struct {
	store    *Store
	identity IdentityFunc
	logger   *zap.Logger
	now      func() time.Time
}

// NewMiddleware создаёт middleware поверх хранилища ключей.
func NewMiddleware(store *Store, identity IdentityFunc, logger *zap.Logger) *Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	if identity == nil {
		identity = func(*http.Request) string { return "anonymous" }
	}
	return &Middleware{store: store, identity: identity, logger: logger, now: time.Now}
}

// Handler оборачивает обработчик. Запросы без заголовка и безопасные методы пропускаются как есть.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(HeaderKey))
		if m.store == nil || key == "" || !mutating(r.Method) {
			next.ServeHTTP(w, r)
			return
		}
		if len(key) > maxKeyLength {
			writeError(w, http.StatusBadRequest, "invalid_idempotency_key", "idempotency key is too long")
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", "unable to read request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		scoped := m.identity(r) + "|" + key
		fingerprint := fingerprintOf(r, body)

		state, record, err := m.store.Reserve(scoped, fingerprint, m.now().UTC())
		switch {
		case errors.Is(err, ErrFingerprintMismatch):
			writeError(w, http.StatusUnprocessableEntity, "idempotency_key_reused", "idempotency key already used for a different request")
			return
		case err != nil:
			m.logger.Error("idempotency reserve failed", zap.String("key", key), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal_error", "unable to process idempotency key")
			return
		}

		switch state {
		case StateCompleted:
			replay(w, record)
			return
		case StatePending:
			writeError(w, http.StatusConflict, "request_in_flight", "a request with this idempotency key is still being processed")
			return
		}

		rec := &recorder{header: make(http.Header)}
		next.ServeHTTP(rec, r)

		if rec.code() >= http.StatusInternalServerError {
			if err := m.store.Release(scoped, fingerprint); err != nil {
				m.logger.Warn("idempotency release failed", zap.String("key", key), zap.Error(err))
			}
		} else if err := m.store.Complete(scoped, fingerprint, rec.code(), rec.header, rec.body.Bytes(), m.now().UTC()); err != nil {
			m.logger.Error("idempotency complete failed", zap.String("key", key), zap.Error(err))
		}

		rec.flush(w)
	})
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func fingerprintOf(r *http.Request, body []byte) string {
	h := sha256.New()
	h.Write([]byte(r.Method))
	h.Write([]byte{0})
	h.Write([]byte(r.URL.Path))
	h.Write([]byte{0})
	h.Write([]byte(r.URL.RawQuery))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func replay(w http.ResponseWriter, record Record) {
	for name, values := range record.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.Header().Set(HeaderReplay, "true")
	status := record.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(record.Body) > 0 {
		_, _ = w.Write(record.Body)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}

// recorder буферизует ответ, чтобы сохранить его до отправки клиенту.
type recorder struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (r *recorder) Header() http.Header { return r.header }

func (r *recorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
}

func (r *recorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.body.Write(p)
}

func (r *recorder) code() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func (r *recorder) flush(w http.ResponseWriter) {
	for name, values := range r.header {
		w.Header()[name] = values
	}
	w.WriteHeader(r.code())
	if r.body.Len() > 0 {
		_, _ = w.Write(r.body.Bytes())
	}
}
