package replica

import "sync"

// KeyedLock serializes operations per key within one process. It is the
// decentralized variant's stand-in for server-side serialization: callers
// for the same room queue behind each other locally, while cross-process
// writers are only reconciled by the verify-and-retry protocol.
type KeyedLock struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedLock creates an empty lock table.
func NewKeyedLock() *KeyedLock {
	return &KeyedLock{locks: make(map[string]*keyLock)}
}

// Do runs fn while holding the key's lock. Waiters for the same key run in
// turn; other keys are unaffected.
func (l *KeyedLock) Do(key string, fn func()) {
	l.mu.Lock()
	kl := l.locks[key]
	if kl == nil {
		kl = &keyLock{}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	kl.mu.Lock()
	fn()
	kl.mu.Unlock()

	l.mu.Lock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}
