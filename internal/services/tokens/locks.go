package tokens

import "sync"

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// sessionLocks serializes refresh attempts per session without a global
// critical section across unrelated sessions.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sessionLock)}
}

func (l *sessionLocks) lock(sessionID string) func() {
	l.mu.Lock()
	entry, ok := l.locks[sessionID]
	if !ok {
		entry = &sessionLock{}
		l.locks[sessionID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, sessionID)
		}
		l.mu.Unlock()
	}
}
