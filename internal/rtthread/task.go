package rtthread

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
)

var (
	// ErrTaskStart is returned when a task could not be created with the requested scheduling.
	ErrTaskStart = errors.New("cannot start task")
	// ErrRealtimeUnsupported is returned on platforms without realtime scheduling support.
	ErrRealtimeUnsupported = errors.New("realtime scheduling not supported on this platform")
)

// applyRealtime switches the calling OS thread to realtime scheduling.
var applyRealtime = setRealtime

// StartFunc is the signature of Start.
type StartFunc func(name string, prio Priority, fn func(ctx context.Context)) (*Task, error)

// Task is a handle to a background loop started with Start.
type Task struct {
	name     string
	prio     Priority
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// Start runs fn on its own goroutine. A realtime task is pinned to an OS thread
// and switched to FIFO scheduling before fn runs; if that fails fn never runs
// and an error wrapping ErrTaskStart is returned.
//
// fn must return promptly once ctx is cancelled.
func Start(name string, prio Priority, fn func(ctx context.Context)) (*Task, error) {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Task{name: name, prio: prio, cancel: cancel, done: make(chan struct{})}
	ready := make(chan error, 1)

	go func() {
		defer close(t.done)

		if prio.Realtime {
			// The thread is discarded when the goroutine exits locked.
			runtime.LockOSThread()
			if err := applyRealtime(prio.Value); err != nil {
				ready <- err
				return
			}
		}
		ready <- nil
		fn(ctx)
	}()

	if err := <-ready; err != nil {
		cancel()
		<-t.done
		return nil, fmt.Errorf("%w %q (priority %d): %v", ErrTaskStart, name, prio.Value, err)
	}
	return t, nil
}

// Name returns the name the task was started with.
func (t *Task) Name() string { return t.name }

// Priority returns the scheduling the task was started with.
func (t *Task) Priority() Priority { return t.prio }

// Cancel asks the task to stop at its next loop boundary.
func (t *Task) Cancel() {
	if t != nil {
		t.cancel()
	}
}

// Join blocks until the task has returned.
func (t *Task) Join() {
	if t != nil {
		<-t.done
	}
}

// Done is closed once the task has returned.
func (t *Task) Done() <-chan struct{} { return t.done }

// Stop cancels the task and waits for it. It is safe to call more than once
// and on a nil task.
func (t *Task) Stop() {
	if t == nil {
		return
	}
	t.stopOnce.Do(func() {
		t.cancel()
		<-t.done
	})
}
