package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDispatcher_RunsTasksAndDrainsOnStop(t *testing.T) {
	d := NewDispatcher(NewLoggingBestEffort(zap.NewNop()), 64)
	stop := d.Start(2)

	var ran atomic.Int32
	for i := 0; i < 20; i++ {
		ok := d.Enqueue("count", func(context.Context) error {
			ran.Add(1)
			return nil
		})
		require.True(t, ok)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, stop(ctx))
	assert.EqualValues(t, 20, ran.Load())

	assert.False(t, d.Enqueue("late", func(context.Context) error { return nil }), "stopped dispatcher drops")
	require.NoError(t, stop(ctx), "stop is idempotent")
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	d := NewDispatcher(NewLoggingBestEffort(zap.NewNop()), 1)
	// 不启动 worker，队列只能容纳一个任务
	assert.True(t, d.Enqueue("a", func(context.Context) error { return nil }))
	assert.False(t, d.Enqueue("b", func(context.Context) error { return nil }))
	assert.Equal(t, 1, d.QueueLen())
}

func TestDispatcher_FailuresDoNotStopWorkers(t *testing.T) {
	d := NewDispatcher(NewLoggingBestEffort(zap.NewNop()), 8)
	stop := d.Start(1)

	var ran atomic.Int32
	d.Enqueue("fail", func(context.Context) error { return errors.New("boom") })
	d.Enqueue("panic", func(context.Context) error { panic("boom") })
	d.Enqueue("ok", func(context.Context) error {
		ran.Add(1)
		return nil
	})

	require.NoError(t, stop(context.Background()))
	assert.EqualValues(t, 1, ran.Load())
}

func TestLoggingBestEffort(t *testing.T) {
	b := NewLoggingBestEffort(nil)
	ctx := context.Background()
	assert.True(t, b.Attempt(ctx, "ok", func(context.Context) error { return nil }))
	assert.False(t, b.Attempt(ctx, "err", func(context.Context) error { return errors.New("x") }))
	assert.False(t, b.Attempt(ctx, "panic", func(context.Context) error { panic("x") }))
}

func TestCreateOrder_EmailGoesThroughDispatcher(t *testing.T) {
	d := NewDispatcher(NewLoggingBestEffort(zap.NewNop()), 8)
	stop := d.Start(1)
	f := newOrderFixture(t, WithTaskQueue(d))

	f.createOrder(t, "u1")
	require.NoError(t, stop(context.Background()))

	sent := f.notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "buyer@example.com", sent[0].To)
}
