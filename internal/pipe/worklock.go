package pipe

import (
	"context"
	"runtime"
)

// WorkerLock the mutual exclusion primitive serializing random-access value
// loads against the sequential scan. Relinquish differs from Release: it
// hands the lock over and immediately re-acquires, giving blocked waiters a
// turn without ending the holder's critical section for good.
type WorkerLock struct {
	token chan struct{}
}

func NewWorkerLock() *WorkerLock {
	l := &WorkerLock{token: make(chan struct{}, 1)}
	l.token <- struct{}{}
	return l
}

// Acquire takes the lock, blocking until it is free or ctx is done.
func (l *WorkerLock) Acquire(ctx context.Context) error {
	select {
	case <-l.token:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees the lock. Calling Release on a free lock is a caller bug and
// blocks, like unlocking an unlocked channel-based mutex.
func (l *WorkerLock) Release() {
	l.token <- struct{}{}
}

// Relinquish releases the lock, yields, and takes it back.
func (l *WorkerLock) Relinquish(ctx context.Context) error {
	l.Release()
	runtime.Gosched()
	return l.Acquire(ctx)
}
