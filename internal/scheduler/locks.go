package scheduler

import (
	"sync"
)

// WorkflowLocks provides per-workflow mutual exclusion. Each workflow id
// gets its own mutex, so operations on different workflows run
// concurrently while operations on the same workflow are serialized.
type WorkflowLocks struct {
	mu    sync.Mutex             // Guards the locks map itself
	locks map[string]*sync.Mutex // Per-workflow mutexes
}

// NewWorkflowLocks creates an empty lock table.
func NewWorkflowLocks() *WorkflowLocks {
	return &WorkflowLocks{
		locks: make(map[string]*sync.Mutex),
	}
}

func (l *WorkflowLocks) get(id string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, exists := l.locks[id]
	if !exists {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	return m
}

// Lock acquires the mutex for workflow id, creating it on first use.
func (l *WorkflowLocks) Lock(id string) {
	// Acquire outside the table lock so waiters don't block other ids
	l.get(id).Lock()
}

// TryLock acquires the mutex for id only if it is free.
func (l *WorkflowLocks) TryLock(id string) bool {
	return l.get(id).TryLock()
}

// Unlock releases the mutex for workflow id.
func (l *WorkflowLocks) Unlock(id string) {
	l.mu.Lock()
	m, exists := l.locks[id]
	l.mu.Unlock()

	if exists {
		m.Unlock()
	}
}
