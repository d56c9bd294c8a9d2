// Package idempotency remembers contract submissions by client key so a
// client repeating a request gets the original result instead of a second
// transaction. A key is reserved before anything is broadcast and keeps the
// transaction hash while the confirmation is outstanding.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Record states. Records written before states existed decode with an empty
// State and count as done.
const (
	StatePending = "pending"
	StateDone    = "done"
)

// Record is one submission: pending while the request that reserved it is
// running or its transaction is unconfirmed, done once the response is final.
type Record struct {
	Operation   string    `json:"operation"`
	Fingerprint string    `json:"fingerprint"`
	State       string    `json:"state,omitempty"`
	StatusCode  int       `json:"statusCode"`
	Response    []byte    `json:"response"`
	TxHash      string    `json:"txHash,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

func (r Record) expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Pending reports whether the submission has no final response yet.
func (r Record) Pending() bool {
	return r.State == StatePending
}

// Store abstracts idempotency persistence. Get returns nil, nil for unknown
// or expired keys.
//
// Reserve stores record under key only when the key is unknown or expired,
// atomically. Otherwise it returns the live record and reserved is false.
type Store interface {
	Get(ctx context.Context, key string) (*Record, error)
	Reserve(ctx context.Context, key string, record Record) (existing *Record, reserved bool, err error)
	Save(ctx context.Context, key string, record Record) error
	Delete(ctx context.Context, key string) error
}

// Fingerprint hashes an operation name and request body so a key reused for
// a different request can be told apart.
func Fingerprint(operation string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(operation))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// MemoryStore is mostly for testing.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]Record),
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.data[key]
	if !ok || rec.expired(time.Now()) {
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryStore) Reserve(_ context.Context, key string, record Record) (*Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.data[key]; ok && !rec.expired(time.Now()) {
		return &rec, false, nil
	}
	m.data[key] = record
	return nil, true, nil
}

func (m *MemoryStore) Save(_ context.Context, key string, record Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = record
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// FileStore persists records to a JSON file. Suitable for a single local
// instance; use PostgresStore when several instances share keys.
type FileStore struct {
	path string
	mu   sync.Mutex
	data map[string]Record
}

func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{
		path: path,
		data: make(map[string]Record),
	}
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (f *FileStore) load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	blob, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(blob) == 0 {
		return nil
	}
	if err := json.Unmarshal(blob, &f.data); err != nil {
		return err
	}
	if f.data == nil {
		f.data = make(map[string]Record)
	}
	return nil
}

func (f *FileStore) persist() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	blob, err := json.MarshalIndent(f.data, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

func (f *FileStore) Get(_ context.Context, key string) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.data[key]
	if !ok {
		return nil, nil
	}
	if record.expired(time.Now()) {
		delete(f.data, key)
		return nil, f.persist()
	}
	return &record, nil
}

func (f *FileStore) Reserve(_ context.Context, key string, record Record) (*Record, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.data[key]; ok && !rec.expired(time.Now()) {
		return &rec, false, nil
	}
	f.data[key] = record
	if err := f.persist(); err != nil {
		delete(f.data, key)
		return nil, false, err
	}
	return nil, true, nil
}

func (f *FileStore) Save(_ context.Context, key string, record Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = record
	return f.persist()
}

func (f *FileStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; !ok {
		return nil
	}
	delete(f.data, key)
	return f.persist()
}
