// Package idempotency реализует обработку заголовка Idempotency-Key:
// резервирование ключа, хранение ответа и его повторную выдачу.
//
// Записи хранятся во встроенной БД BoltDB, отдельный процесс не нужен.
package idempotency

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	bolt "github.com/boltdb/bolt"
)

const bucketName = "idempotency"

const (
	// DefaultTTL время хранения завершённой записи.
	DefaultTTL = 24 * time.Hour
	// DefaultPendingTTL время, после которого незавершённая резервация считается брошенной.
	DefaultPendingTTL = 2 * time.Minute
)

// Status состояние записи.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// State результат попытки резервирования ключа.
type State int

const (
	// StateNew ключ свободен и зарезервирован вызывающим.
	StateNew State = iota
	// StateCompleted по ключу есть сохранённый ответ.
	StateCompleted
	// StatePending запрос с этим ключом ещё выполняется.
	StatePending
)

// ErrFingerprintMismatch ключ уже использован для другого запроса.
var ErrFingerprintMismatch = errors.New("idempotency key reused for a different request")

// Record сохранённое состояние ключа.
type Record struct {
	Key         string              `json:"key"`
	Fingerprint string              `json:"fingerprint"`
	Status      Status              `json:"status"`
	StatusCode  int                 `json:"status_code,omitempty"`
	Header      map[string][]string `json:"header,omitempty"`
	Body        []byte              `json:"body,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	ExpiresAt   time.Time           `json:"expires_at"`
}

// Store хранилище ключей идемпотентности поверх BoltDB.
type Store struct {
	db         *bolt.DB
	ttl        time.Duration
	pendingTTL time.Duration
}

// Open открывает (или создаёт) файл БД и бакет для ключей.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, ttl: DefaultTTL, pendingTTL: DefaultPendingTTL}, nil
}

// Close освобождает файл БД.
func (s *Store) Close() error {
	return s.db.Close()
}

// Reserve атомарно резервирует ключ. Истёкшие записи перезаписываются.
func (s *Store) Reserve(key, fingerprint string, now time.Time) (State, Record, error) {
	var (
		state  State
		record Record
	)

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))

		if raw := b.Get([]byte(key)); raw != nil {
			var existing Record
			if err := json.Unmarshal(raw, &existing); err != nil {
				return err
			}
			if now.Before(existing.ExpiresAt) {
				if existing.Fingerprint != fingerprint {
					return ErrFingerprintMismatch
				}
				record = existing
				if existing.Status == StatusCompleted {
					state = StateCompleted
				} else {
					state = StatePending
				}
				return nil
			}
		}

		record = Record{
			Key:         key,
			Fingerprint: fingerprint,
			Status:      StatusPending,
			CreatedAt:   now,
			ExpiresAt:   now.Add(s.pendingTTL),
		}
		state = StateNew
		return put(b, record)
	})
	if err != nil {
		return 0, Record{}, err
	}

	return state, record, nil
}

// Complete сохраняет ответ для зарезервированного ключа.
func (s *Store) Complete(key, fingerprint string, status int, header http.Header, body []byte, now time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))

		record := Record{Key: key, Fingerprint: fingerprint, CreatedAt: now}
		if raw := b.Get([]byte(key)); raw != nil {
			var existing Record
			if err := json.Unmarshal(raw, &existing); err != nil {
				return err
			}
			if existing.Fingerprint != fingerprint {
				return ErrFingerprintMismatch
			}
			record.CreatedAt = existing.CreatedAt
		}

		record.Status = StatusCompleted
		record.StatusCode = status
		record.Header = storableHeader(header)
		record.Body = body
		record.ExpiresAt = now.Add(s.ttl)
		return put(b, record)
	})
}

// Release снимает резервацию, чтобы запрос можно было повторить.
// Завершённые записи не трогает. Отсутствие ключа ошибкой не считается.
func (s *Store) Release(key, fingerprint string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		raw := b.Get([]byte(key))
		if raw == nil {
			return nil
		}
		var existing Record
		if err := json.Unmarshal(raw, &existing); err != nil {
			return err
		}
		if existing.Fingerprint != fingerprint || existing.Status == StatusCompleted {
			return nil
		}
		return b.Delete([]byte(key))
	})
}

// Cleanup удаляет истёкшие записи и возвращает их количество.
func (s *Store) Cleanup(now time.Time) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		var expired [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var r Record
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if !now.Before(r.ExpiresAt) {
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(expired)
		return nil
	})
	return removed, err
}

func put(b *bolt.Bucket, r Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return b.Put([]byte(r.Key), data)
}

func storableHeader(header http.Header) map[string][]string {
	out := make(map[string][]string, len(header))
	for name, values := range header {
		switch strings.ToLower(name) {
		case "content-length", "date", "connection", "transfer-encoding", "set-cookie":
			continue
		}
		out[http.CanonicalHeaderKey(name)] = append([]string(nil), values...)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
