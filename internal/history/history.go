package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/eclipse/internal/scan"
)

const (
	// DefaultKey is the storage key holding the serialized history.
	DefaultKey = "eclipseScanHistory"
	// DefaultLimit caps the number of retained entries.
	DefaultLimit = 50
)

// Entry is a saved scan result with its preview and save time.
type Entry struct {
	scan.Result
	ImagePreview string    `json:"imagePreview"`
	Date         time.Time `json:"date"`
	Saved        bool      `json:"saved"`
}

// Storage is the key/value capability the history is persisted through.
type Storage interface {
	Load(ctx context.Context, key string) (value string, ok bool, err error)
	Save(ctx context.Context, key, value string) error
}

// PersistenceError wraps a storage or serialization failure. The Store
// logs these and never returns them to callers.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("history %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Store keeps a bounded, newest-first list of entries under one key.
//
// Appends are serialized within a process. Two processes sharing the same
// storage race with last-write-wins.
type Store struct {
	mu       sync.Mutex
	storage  Storage
	key      string
	limit    int
	now      func() time.Time
	logger   *slog.Logger
	onChange func(n int)
}

// Option configures a Store.
type Option func(*Store)

// WithKey overrides DefaultKey.
func WithKey(key string) Option {
	return func(s *Store) {
		if key != "" {
			s.key = key
		}
	}
}

// WithLimit overrides DefaultLimit. Values <= 0 are ignored.
func WithLimit(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.limit = n
		}
	}
}

// WithClock replaces time.Now for entry save dates.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger used for swallowed persistence errors.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithOnChange registers a callback invoked with the new length after
// every successful write.
func WithOnChange(fn func(n int)) Option {
	return func(s *Store) { s.onChange = fn }
}

// NewStore returns a Store persisting through storage.
func NewStore(storage Storage, opts ...Option) *Store {
	s := &Store{
		storage: storage,
		key:     DefaultKey,
		limit:   DefaultLimit,
		now:     time.Now,
		logger:  slog.Default().With("component", "history"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Limit returns the retention cap.
func (s *Store) Limit() int {
	return s.limit
}

// Append prepends entry, truncates to the limit and writes the list back.
// Failures are logged and otherwise ignored.
func (s *Store) Append(ctx context.Context, entry Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.loadLocked(ctx)
	entries = append([]Entry{entry}, entries...)
	if len(entries) > s.limit {
		entries = entries[:s.limit]
	}

	data, err := json.Marshal(entries)
	if err != nil {
		s.logger.Error("saving scan history failed", "error", &PersistenceError{Op: "encode", Err: err})
		return
	}
	if err := s.storage.Save(ctx, s.key, string(data)); err != nil {
		s.logger.Error("saving scan history failed", "error", &PersistenceError{Op: "save", Err: err})
		return
	}
	if s.onChange != nil {
		s.onChange(len(entries))
	}
}

// Record builds an Entry for result, stamps it with the current time and
// appends it. Recording the same result twice stores it twice.
func (s *Store) Record(ctx context.Context, result scan.Result, preview string) Entry {
	entry := Entry{
		Result:       result,
		ImagePreview: preview,
		Date:         s.now().UTC(),
		Saved:        true,
	}
	s.Append(ctx, entry)
	return entry
}

// Load returns the stored entries, newest first. Missing or unreadable
// history yields an empty, non-nil slice.
func (s *Store) Load(ctx context.Context) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx)
}

// Find returns the newest entry with the given scan id.
func (s *Store) Find(ctx context.Context, scanID string) (Entry, bool) {
	for _, e := range s.Load(ctx) {
		if e.ScanID == scanID {
			return e, true
		}
	}
	return Entry{}, false
}

func (s *Store) loadLocked(ctx context.Context) []Entry {
	raw, ok, err := s.storage.Load(ctx, s.key)
	if err != nil {
		s.logger.Warn("reading scan history failed, treating as empty", "error", &PersistenceError{Op: "load", Err: err})
		return []Entry{}
	}
	if !ok || raw == "" {
		return []Entry{}
	}

	var entries []Entry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		s.logger.Warn("scan history is corrupt, treating as empty", "error", &PersistenceError{Op: "decode", Err: err})
		return []Entry{}
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries
}

// MemoryStorage is an in-process Storage, used by tests and as a fallback
// when no database is configured.
type MemoryStorage struct {
	mu   sync.Mutex
	data map[string]string
}

// NewMemoryStorage returns an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{data: make(map[string]string)}
}

func (m *MemoryStorage) Load(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryStorage) Save(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}
