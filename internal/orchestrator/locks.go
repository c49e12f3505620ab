package orchestrator

import (
	"sort"
	"sync"
)

// TaskLocks is a keyed try-lock: at most one holder per task id, without
// blocking. A run that cannot take the lock is refused rather than queued.
type TaskLocks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewTaskLocks creates an empty lock set.
func NewTaskLocks() *TaskLocks {
	return &TaskLocks{held: make(map[string]struct{})}
}

// TryLock takes the lock for id, reporting false if it is already held.
func (l *TaskLocks) TryLock(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[id]; ok {
		return false
	}
	l.held[id] = struct{}{}
	return true
}

// Unlock releases id. Releasing an unheld id is a no-op.
func (l *TaskLocks) Unlock(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, id)
}

// Held reports whether id is locked.
func (l *TaskLocks) Held(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[id]
	return ok
}

// Keys returns the held ids in sorted order.
func (l *TaskLocks) Keys() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	keys := make([]string, 0, len(l.held))
	for k := range l.held {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
