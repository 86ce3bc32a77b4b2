package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestPool(t *testing.T, workers int) *Pool {
	t.Helper()

	p, err := New(Config{Name: "test", Workers: workers, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	t.Cleanup(p.Stop)
	return p
}

func TestPoolDo(t *testing.T) {
	p := newTestPool(t, 2)

	var ran atomic.Bool
	err := p.Do(context.Background(), func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran.Load())

	boom := errors.New("boom")
	err = p.Do(context.Background(), func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	stats := p.Stats()
	assert.Equal(t, uint64(2), stats.TotalTasks)
	assert.Equal(t, uint64(1), stats.CompletedTasks)
	assert.Equal(t, uint64(1), stats.FailedTasks)
}

func TestPoolMinimumOneWorker(t *testing.T) {
	p := newTestPool(t, 0)
	assert.Equal(t, 1, p.Stats().Workers)
	require.NoError(t, p.Do(context.Background(), func(context.Context) error { return nil }))
}

func TestPoolRecoversPanics(t *testing.T) {
	p := newTestPool(t, 1)

	err := p.Do(context.Background(), func(ctx context.Context) error {
		panic("bad handler")
	})
	assert.ErrorIs(t, err, ErrTaskPanicked)

	// The worker survives the panic.
	require.NoError(t, p.Do(context.Background(), func(context.Context) error { return nil }))
}

func TestPoolConcurrency(t *testing.T) {
	p := newTestPool(t, 4)

	var (
		wg      sync.WaitGroup
		current atomic.Int32
		peak    atomic.Int32
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Do(context.Background(), func(context.Context) error {
				n := current.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				current.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(4))
	assert.Equal(t, uint64(32), p.Stats().CompletedTasks)
}

func TestPoolStopDrainsInFlight(t *testing.T) {
	p, err := New(Config{Name: "drain", Workers: 1})
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	result := make(chan error, 1)
	go func() {
		result <- p.Do(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a task was running")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-result)
	<-stopped

	err = p.Do(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrStopped)

	// Stopping twice is harmless.
	p.Stop()
}

func TestPoolCanceledSubmit(t *testing.T) {
	p, err := New(Config{Name: "full", Workers: 1, QueueSize: 1})
	require.NoError(t, err)
	defer p.Stop()

	release := make(chan struct{})
	block := func(context.Context) error { <-release; return nil }
	go p.Do(context.Background(), block)
	go p.Do(context.Background(), block)

	require.Eventually(t, func() bool {
		s := p.Stats()
		return s.ActiveWorkers == 1 && s.QueuedTasks == 1
	}, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err = p.Do(ctx, block)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, uint64(1), p.Stats().RejectedTasks)

	close(release)
}

func TestRenice(t *testing.T) {
	require.NoError(t, Renice(0))

	if !NicenessSupported() {
		assert.ErrorIs(t, Renice(1), ErrNicenessUnsupported)
		_, err := New(Config{Workers: 1, NicenessAdj: 1})
		assert.ErrorIs(t, err, ErrNicenessUnsupported)
		return
	}

	// Lowering priority never needs privileges.
	p, err := New(Config{Workers: 2, NicenessAdj: 1})
	require.NoError(t, err)
	p.Stop()
}

func TestClampNice(t *testing.T) {
	assert.Equal(t, -20, clampNice(-40))
	assert.Equal(t, 19, clampNice(25))
	assert.Equal(t, 3, clampNice(3))
}
