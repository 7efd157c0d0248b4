// File: internal/session/lock.go
package session

import "sync"

// PathLocks hands out one mutex per resolved session path, serializing the
// load-merge-save cycle so concurrent requests against the same session
// cannot lose each other's writes. Locks are never released back; the set of
// distinct session paths in one process stays small.
type PathLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewPathLocks creates an empty lock set.
func NewPathLocks() *PathLocks {
	return &PathLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for path and returns its unlock function.
func (l *PathLocks) Lock(path string) func() {
	l.mu.Lock()
	m, ok := l.locks[path]
	if !ok {
		m = &sync.Mutex{}
		l.locks[path] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
