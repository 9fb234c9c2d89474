// Package memstore provides a map-backed RemoteStore used by tests, the
// examples, and the demo server. It supports fault and latency injection so
// retry and throttling behavior can be exercised without a real backend.
package memstore

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/IvanBrykalov/gatedstore/remote"
)

const defaultPageSize = 50

// Store is an in-memory remote.RemoteStore. Safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte // store -> key -> value

	// FailNext, when non-nil, is consulted before every call with the
	// operation name ("get", "set", ...); a non-nil return is the injected
	// error. Swap it atomically via SetFailFunc.
	failFn func(op, store, key string) error

	// Latency is an artificial delay applied to every call (demo realism).
	Latency time.Duration
}

// New returns an empty Store.
func New() *Store {
	return &Store{data: make(map[string]map[string][]byte)}
}

// SetFailFunc installs (or clears, with nil) the fault injection hook.
func (s *Store) SetFailFunc(fn func(op, store, key string) error) {
	s.mu.Lock()
	s.failFn = fn
	s.mu.Unlock()
}

func (s *Store) inject(ctx context.Context, op, store, key string) error {
	if s.Latency > 0 {
		select {
		case <-time.After(s.Latency):
		case <-ctx.Done():
			return remote.WrapError(remote.KindTransient, op, store, key, ctx.Err())
		}
	}
	s.mu.RLock()
	fn := s.failFn
	s.mu.RUnlock()
	if fn != nil {
		return fn(op, store, key)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, store, key string) ([]byte, bool, error) {
	if err := s.inject(ctx, "get", store, key); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[store][key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

func (s *Store) Set(ctx context.Context, store, key string, value []byte) error {
	if err := s.inject(ctx, "set", store, key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.data[store]
	if !ok {
		m = make(map[string][]byte)
		s.data[store] = m
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	m[key] = cp
	return nil
}

func (s *Store) Delete(ctx context.Context, store, key string) error {
	if err := s.inject(ctx, "delete", store, key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data[store], key)
	return nil
}

// List pages through keys in lexicographic order. The cursor is the decimal
// offset of the next key, which keeps pages restartable and deterministic.
func (s *Store) List(ctx context.Context, store string, q remote.ListQuery) (remote.ListPage, error) {
	if err := s.inject(ctx, "list", store, ""); err != nil {
		return remote.ListPage{}, err
	}
	s.mu.RLock()
	keys := make([]string, 0, len(s.data[store]))
	for k := range s.data[store] {
		if q.Prefix == "" || strings.HasPrefix(k, q.Prefix) {
			keys = append(keys, k)
		}
	}
	s.mu.RUnlock()
	sort.Strings(keys)

	offset := 0
	if q.Cursor != "" {
		n, err := strconv.Atoi(q.Cursor)
		if err != nil || n < 0 {
			return remote.ListPage{}, remote.WrapError(remote.KindValidation, "list", store, "", err)
		}
		offset = n
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if offset >= len(keys) {
		return remote.ListPage{}, nil
	}
	end := offset + limit
	next := ""
	if end < len(keys) {
		next = strconv.Itoa(end)
	} else {
		end = len(keys)
	}
	return remote.ListPage{Keys: keys[offset:end], NextCursor: next}, nil
}

var _ remote.RemoteStore = (*Store)(nil)
