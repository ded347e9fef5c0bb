// Package kvstore provides the minimal KV collaborator contract the
// session database needs beneath it: get/put/delete/iter over a single
// key space, linearizable per key. The in-memory implementation satisfies
// that with a global mutex and a tx-closure shape over a map-backed store.
package kvstore

import (
	"sync"

	"github.com/coreos/oidcprovider/oidcerr"
)

// Store is the collaborator contract. A caller needing atomicity across
// several keys (session + reverse index + SSODb) must not rely on Store
// for that — it owns its own per-operation lock over a single key.
type Store[V any] interface {
	Get(key string) (V, error)
	Put(key string, v V) error
	Delete(key string) error
	// Iter calls fn for every entry. fn returning false stops iteration.
	// Iter takes no snapshot guarantee beyond what a single mutex acquisition gives.
	Iter(fn func(key string, v V) bool)
}

// Memory is an in-memory Store backed by a plain map and a single mutex.
type Memory[V any] struct {
	mu sync.Mutex
	data map[string]V
}

// NewMemory returns an empty in-memory Store.
func NewMemory[V any]() *Memory[V] {
	return &Memory[V]{data: make(map[string]V)}
}

func (m *Memory[V]) tx(f func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f()
}

func (m *Memory[V]) Get(key string) (v V, err error) {
	m.tx(func() {
		got, ok := m.data[key]
		if !ok {
			err = oidcerr.ErrNotFound
			return
		}
		v = got
	})
	return
}

func (m *Memory[V]) Put(key string, v V) error {
	m.tx(func() { m.data[key] = v })
	return nil
}

func (m *Memory[V]) Delete(key string) error {
	m.tx(func() { delete(m.data, key) })
	return nil
}

func (m *Memory[V]) Iter(fn func(key string, v V) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.data {
		if !fn(k, v) {
			return
		}
	}
}
