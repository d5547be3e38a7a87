package concurrency

import "sync"

// KeyedMutex serializes operations per key while keeping different keys
// independent. Mutexes are created on first use and retained for the life
// of the manager.
type KeyedMutex struct {
	locks sync.Map // key -> *sync.Mutex
}

// NewKeyedMutex creates an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{}
}

// Lock acquires the mutex for key, creating it if needed, and returns the
// matching unlock function.
func (k *KeyedMutex) Lock(key string) (unlock func()) {
	m, _ := k.locks.LoadOrStore(key, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
