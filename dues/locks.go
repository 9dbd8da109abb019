package dues

import "sync"

// KeyedLocker serializes work per key (a due id). Entries are dropped once no
// goroutine holds or waits on them.
type KeyedLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	sem  chan struct{}
	refs int
}

func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{locks: make(map[string]*keyedEntry)}
}

// Lock blocks until key is free and returns its unlock function.
func (k *KeyedLocker) Lock(key string) func() {
	e := k.acquire(key)
	e.sem <- struct{}{}
	return k.unlocker(key, e)
}

// TryLock takes key only if it is free.
func (k *KeyedLocker) TryLock(key string) (func(), bool) {
	e := k.acquire(key)
	select {
	case e.sem <- struct{}{}:
		return k.unlocker(key, e), true
	default:
		k.release(key, e)
		return nil, false
	}
}

func (k *KeyedLocker) acquire(key string) *keyedEntry {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{sem: make(chan struct{}, 1)}
		k.locks[key] = e
	}
	e.refs++
	return e
}

func (k *KeyedLocker) release(key string, e *keyedEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
}

func (k *KeyedLocker) unlocker(key string, e *keyedEntry) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			k.release(key, e)
		})
	}
}

// size reports the number of live entries.
func (k *KeyedLocker) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
