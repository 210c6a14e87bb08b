package provisr

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidInput  = errors.New("invalid input")
	ErrInvalidState  = errors.New("invalid state")
)

// Status is the lifecycle state of a request. Transitions only move forward:
// pending -> processing -> {completed, failed, blocked}.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusBlocked    Status = "blocked"
)

// Terminal reports whether no further transition may leave this status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusBlocked
}

type Kind string

const (
	KindAccess        Kind = "access"
	KindSpaceCreation Kind = "space_creation"
)

// Request is one provisioning request record. Records are append-only
// history: they are created once, mutated only by the workflow runner, and
// never deleted.
type Request struct {
	ID        int            `json:"id"`
	Kind      Kind           `json:"kind"`
	Status    Status         `json:"status"`
	CreatedAt string         `json:"createdAt"`
	UpdatedAt string         `json:"updatedAt,omitempty"`
	Payload   map[string]any `json:"payload"`
	Result    map[string]any `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	Comments  []string       `json:"comments,omitempty"`
}

// Stats is recomputed on demand from the full collection; the per-status
// counts always sum to Total.
type Stats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Blocked    int `json:"blocked"`
}

// PersistenceError marks a state backend read or write failure. Callers must
// treat it as fatal to the operation in progress, not globally fatal.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("state %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

type persistedState struct {
	Requests []Request `json:"requests"`
}

// StateBackend loads and saves the full request collection as one snapshot.
type StateBackend interface {
	Load() (*persistedState, error)
	Save(state *persistedState) error
}

type stateBackendCloser interface {
	Close() error
}

// Store is the durable request collection. Every mutation is serialized
// through a single lock guarding a read-snapshot / modify / write-snapshot
// cycle, which makes each mutation atomic with respect to every other at the
// cost of O(collection size) work per write.
type Store struct {
	mu      sync.Mutex
	backend StateBackend
}

func NewStore() *Store {
	return &Store{backend: NewInMemoryStateBackend()}
}

// NewStoreWithBackend probes the backend with an initial load so that a
// misconfigured medium fails at startup rather than on the first request.
func NewStoreWithBackend(backend StateBackend) (*Store, error) {
	if backend == nil {
		backend = NewInMemoryStateBackend()
	}
	if _, err := backend.Load(); err != nil {
		return nil, &PersistenceError{Op: "load", Err: err}
	}
	return &Store{backend: backend}, nil
}

func (s *Store) Close() {
	if closer, ok := s.backend.(stateBackendCloser); ok && closer != nil {
		_ = closer.Close()
	}
}

func (s *Store) loadLocked() (*persistedState, error) {
	state, err := s.backend.Load()
	if err != nil {
		return nil, &PersistenceError{Op: "load", Err: err}
	}
	if state == nil {
		state = &persistedState{}
	}
	return state, nil
}

func (s *Store) saveLocked(state *persistedState) error {
	if err := s.backend.Save(state); err != nil {
		return &PersistenceError{Op: "save", Err: err}
	}
	return nil
}

// Create assigns the next id (1 + max existing id, or 1 if empty), stamps
// the record, and appends it. Ids are never reused.
func (s *Store) Create(req Request) (Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.loadLocked()
	if err != nil {
		return Request{}, err
	}
	nextID := 1
	for _, existing := range state.Requests {
		if existing.ID >= nextID {
			nextID = existing.ID + 1
		}
	}
	req.ID = nextID
	if req.Status == "" {
		req.Status = StatusPending
	}
	req.CreatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	state.Requests = append(state.Requests, req)
	if err := s.saveLocked(state); err != nil {
		return Request{}, err
	}
	return req, nil
}

func (s *Store) Get(id int) (Request, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.loadLocked()
	if err != nil {
		return Request{}, false, err
	}
	for _, req := range state.Requests {
		if req.ID == id {
			return req, true, nil
		}
	}
	return Request{}, false, nil
}

// Update applies mutate to the record under the store lock and persists the
// result. If mutate returns an error the record is left untouched and that
// error is returned. The mutated record is stamped with a fresh updatedAt.
func (s *Store) Update(id int, mutate func(*Request) error) (Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.loadLocked()
	if err != nil {
		return Request{}, err
	}
	for i := range state.Requests {
		if state.Requests[i].ID != id {
			continue
		}
		updated := state.Requests[i]
		if err := mutate(&updated); err != nil {
			return Request{}, err
		}
		updated.ID = id
		updated.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
		state.Requests[i] = updated
		if err := s.saveLocked(state); err != nil {
			return Request{}, err
		}
		return updated, nil
	}
	return Request{}, ErrNotFound
}

func (s *Store) List() ([]Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.loadLocked()
	if err != nil {
		return nil, err
	}
	out := make([]Request, len(state.Requests))
	copy(out, state.Requests)
	return out, nil
}

func (s *Store) Stats() (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.loadLocked()
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{Total: len(state.Requests)}
	for _, req := range state.Requests {
		switch req.Status {
		case StatusPending:
			stats.Pending++
		case StatusProcessing:
			stats.Processing++
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		case StatusBlocked:
			stats.Blocked++
		}
	}
	return stats, nil
}

type JSONFileStateBackend struct {
	Path string
}

func NewJSONFileStateBackend(path string) *JSONFileStateBackend {
	return &JSONFileStateBackend{Path: strings.TrimSpace(path)}
}

func (b *JSONFileStateBackend) Load() (*persistedState, error) {
	if b == nil || strings.TrimSpace(b.Path) == "" {
		return nil, nil
	}
	data, err := os.ReadFile(b.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var snapshot persistedState
	if err := unmarshalState(data, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (b *JSONFileStateBackend) Save(state *persistedState) error {
	if b == nil || strings.TrimSpace(b.Path) == "" || state == nil {
		return nil
	}
	data, err := marshalState(state)
	if err != nil {
		return err
	}
	dir := filepath.Dir(b.Path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := b.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, b.Path)
}

// BuildStateBackendFromDSN maps a DSN to a backend: bare paths and file://
// to the JSON file backend, memory:// to the in-memory backend, and
// postgres:// to the Postgres snapshot backend.
func BuildStateBackendFromDSN(dsn string) (StateBackend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	switch scheme {
	case "", "file":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewJSONFileStateBackend(path), nil
	case "memory", "mem", "inmem":
		return NewInMemoryStateBackend(), nil
	case "postgres", "postgresql":
		return NewPostgresStateBackend(dsn)
	default:
		return nil, fmt.Errorf("unsupported state backend scheme: %s", scheme)
	}
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed.Scheme == "" {
		return raw, nil
	}
	path := parsed.Path
	if parsed.Host != "" {
		path = parsed.Host + path
	}
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("state backend dsn has no path: %s", raw)
	}
	return path, nil
}
