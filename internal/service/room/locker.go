package room

import "sync"

// Locker serializes work per room. Entries are dropped once no goroutine
// holds or waits for them.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*roomLock
}

type roomLock struct {
	mu   sync.Mutex
	refs int
}

// NewLocker creates an empty locker.
func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*roomLock)}
}

// Lock blocks until the room is free and returns the matching unlock func.
func (l *Locker) Lock(roomID string) (unlock func()) {
	l.mu.Lock()
	lock, ok := l.locks[roomID]
	if !ok {
		lock = &roomLock{}
		l.locks[roomID] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		l.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(l.locks, roomID)
		}
		l.mu.Unlock()
	}
}

func (l *Locker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
