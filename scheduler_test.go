package testbridge

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() log.Logger {
	return log.NewLogger(log.DiscardHandler())
}

// TestDefaultRunScheduler_RunOnce tests the scheduler in run-once mode
func TestDefaultRunScheduler_RunOnce(t *testing.T) {
	scheduler := NewDefaultRunScheduler(10*time.Millisecond, true, testLogger())

	var calls atomic.Int32
	scheduler.RegisterCallback(func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, scheduler.Start(ctx))
	assert.Equal(t, int32(1), calls.Load())

	// No periodic runs happen in run-once mode
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int64(1), scheduler.Runs())

	require.NoError(t, scheduler.Stop())
	assert.True(t, scheduler.Stopped())
}

// TestDefaultRunScheduler_Periodic tests the scheduler in periodic mode
func TestDefaultRunScheduler_Periodic(t *testing.T) {
	scheduler := NewDefaultRunScheduler(10*time.Millisecond, false, testLogger())

	callChan := make(chan struct{}, 10)
	scheduler.RegisterCallback(func(ctx context.Context) error {
		select {
		case callChan <- struct{}{}:
		default:
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, scheduler.Start(ctx))
	assert.False(t, scheduler.Stopped())

	for i := 0; i < 3; i++ {
		select {
		case <-callChan:
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for run %d", i+1)
		}
	}

	require.NoError(t, scheduler.Stop())
	require.NoError(t, scheduler.WaitForShutdown(context.Background()))
	assert.True(t, scheduler.Stopped())

	runs := scheduler.Runs()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, runs, scheduler.Runs(), "no runs after stop")
}

func TestDefaultRunScheduler_Errors(t *testing.T) {
	t.Run("requires callback", func(t *testing.T) {
		scheduler := NewDefaultRunScheduler(time.Second, true, testLogger())
		assert.Error(t, scheduler.Start(context.Background()))
	})

	t.Run("run-once returns callback error", func(t *testing.T) {
		scheduler := NewDefaultRunScheduler(time.Second, true, testLogger())
		scheduler.RegisterCallback(func(ctx context.Context) error {
			return errors.New("boom")
		})
		assert.EqualError(t, scheduler.Start(context.Background()), "boom")
	})

	t.Run("failing first periodic run stops the scheduler", func(t *testing.T) {
		scheduler := NewDefaultRunScheduler(10*time.Millisecond, false, testLogger())
		scheduler.RegisterCallback(func(ctx context.Context) error {
			return errors.New("boom")
		})
		assert.Error(t, scheduler.Start(context.Background()))
		assert.True(t, scheduler.Stopped())
		time.Sleep(30 * time.Millisecond)
		assert.Equal(t, int64(1), scheduler.Runs())
	})

	t.Run("double start", func(t *testing.T) {
		scheduler := NewDefaultRunScheduler(time.Hour, false, testLogger())
		scheduler.RegisterCallback(func(ctx context.Context) error { return nil })
		require.NoError(t, scheduler.Start(context.Background()))
		defer scheduler.Stop() //nolint:errcheck
		assert.Error(t, scheduler.Start(context.Background()))
	})
}

func TestDefaultRunScheduler_StopCancelsRun(t *testing.T) {
	scheduler := NewDefaultRunScheduler(time.Millisecond, false, testLogger())

	started := make(chan struct{})
	cancelled := make(chan struct{})
	var first atomic.Bool
	scheduler.RegisterCallback(func(ctx context.Context) error {
		if !first.Swap(true) {
			return nil
		}
		close(started)
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	})

	require.NoError(t, scheduler.Start(context.Background()))
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("periodic run did not start")
	}

	require.NoError(t, scheduler.Stop())
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("in-flight run was not cancelled")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, scheduler.WaitForShutdown(ctx))
}
