package rtthread

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStart_RunsUntilStopped(t *testing.T) {
	var loops atomic.Int64
	task, err := Start("worker", Priority{Value: 10}, func(ctx context.Context) {
		for ctx.Err() == nil {
			loops.Add(1)
			time.Sleep(time.Millisecond)
		}
	})
	require.NoError(t, err)
	assert.Equal(t, "worker", task.Name())
	assert.Equal(t, Priority{Value: 10}, task.Priority())

	require.Eventually(t, func() bool { return loops.Load() > 0 }, time.Second, time.Millisecond)

	task.Stop()
	task.Stop()
	select {
	case <-task.Done():
	default:
		t.Fatal("task not joined")
	}
}

func TestTask_CancelThenJoin(t *testing.T) {
	task, err := Start("worker", Priority{}, func(ctx context.Context) { <-ctx.Done() })
	require.NoError(t, err)

	task.Cancel()
	task.Join()
	task.Stop()
}

func TestTask_NilIsNoop(t *testing.T) {
	var task *Task
	assert.NotPanics(t, func() {
		task.Cancel()
		task.Join()
		task.Stop()
	})
}

func TestStart_RealtimeFailure(t *testing.T) {
	boom := errors.New("EPERM")
	applyRealtime = func(int) error { return boom }
	defer func() { applyRealtime = setRealtime }()

	var ran atomic.Bool
	task, err := Start("rt", Priority{Value: 80, Realtime: true}, func(context.Context) { ran.Store(true) })

	assert.Nil(t, task)
	assert.ErrorIs(t, err, ErrTaskStart)
	assert.Contains(t, err.Error(), "EPERM")
	assert.False(t, ran.Load())
}

func TestStart_RealtimeAppliedOnTaskThread(t *testing.T) {
	var got atomic.Int64
	applyRealtime = func(p int) error { got.Store(int64(p)); return nil }
	defer func() { applyRealtime = setRealtime }()

	task, err := Start("rt", Priority{Value: 80, Realtime: true}, func(ctx context.Context) { <-ctx.Done() })
	require.NoError(t, err)
	task.Stop()

	assert.EqualValues(t, 80, got.Load())
}
