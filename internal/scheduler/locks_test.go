package scheduler

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWorkflowLocks_SameIDBlocks(t *testing.T) {
	locks := NewWorkflowLocks()
	order := make(chan int, 2)

	locks.Lock("wf")
	go func() {
		locks.Lock("wf")
		order <- 2
		locks.Unlock("wf")
	}()

	time.Sleep(20 * time.Millisecond)
	order <- 1
	locks.Unlock("wf")

	assert.Equal(t, 1, <-order)
	assert.Equal(t, 2, <-order)
}

func TestWorkflowLocks_DifferentIDsConcurrent(t *testing.T) {
	locks := NewWorkflowLocks()
	var held atomic.Int32
	var wg sync.WaitGroup

	start := make(chan struct{})
	for _, id := range []string{"a", "b"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			locks.Lock(id)
			defer locks.Unlock(id)
			held.Add(1)
			<-start
		}(id)
	}

	assert.Eventually(t, func() bool { return held.Load() == 2 }, time.Second, 5*time.Millisecond)
	close(start)
	wg.Wait()
}

func TestWorkflowLocks_TryLock(t *testing.T) {
	locks := NewWorkflowLocks()

	assert.True(t, locks.TryLock("wf"))
	assert.False(t, locks.TryLock("wf"))
	assert.True(t, locks.TryLock("other"))

	locks.Unlock("wf")
	assert.True(t, locks.TryLock("wf"))
}

func TestWorkflowLocks_UnlockUnknownIsNoop(t *testing.T) {
	locks := NewWorkflowLocks()
	assert.NotPanics(t, func() { locks.Unlock("never-locked") })
}
