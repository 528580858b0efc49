package lifecycle

import "sync"

// keyedMutex provides a mutex per key. Locks are never reclaimed; the key
// space (users, nodes) is small and long-lived.
type keyedMutex[K comparable] struct {
	mu    sync.Mutex
	locks map[K]*sync.Mutex
}

func newKeyedMutex[K comparable]() *keyedMutex[K] {
	return &keyedMutex[K]{locks: make(map[K]*sync.Mutex)}
}

func (k *keyedMutex[K]) Lock(key K) {
	k.get(key).Lock()
}

func (k *keyedMutex[K]) Unlock(key K) {
	k.get(key).Unlock()
}

func (k *keyedMutex[K]) get(key K) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()

	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	return m
}
