package triage

import "sync"

// keyedMutex serializes work per key. Entries are dropped once nobody holds or
// waits on them. LockAll excludes every keyed holder.
type keyedMutex struct {
	all   sync.RWMutex
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sync.Mutex
	refs int
}

// Lock blocks until key is free and returns the matching unlock. Holders must
// not take a second key while holding one.
func (k *keyedMutex) Lock(key string) func() {
	k.all.RLock()

	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
		k.all.RUnlock()
	}
}

// LockAll waits for every keyed holder to finish and blocks new ones until
// the returned unlock runs.
func (k *keyedMutex) LockAll() func() {
	k.all.Lock()
	return k.all.Unlock
}
