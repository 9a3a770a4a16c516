package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"boarcore.com/pkg/xerr"
)

func startManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	m := NewManager(cfg)
	m.Start(context.Background())
	t.Cleanup(m.Stop)
	return m
}

// keysOnDifferentLanes finds two user keys that hash to distinct lanes.
func keysOnDifferentLanes(t *testing.T, m *Manager) (string, string) {
	t.Helper()
	first := "user-1"
	for i := 2; i < 1000; i++ {
		k := fmt.Sprintf("user-%d", i)
		if m.LaneFor(k) != m.LaneFor(first) {
			return first, k
		}
	}
	t.Fatal("no two keys on different lanes")
	return "", ""
}

// blockLane occupies key's lane until the returned func is called.
func blockLane(t *testing.T, m *Manager, key string) (release func()) {
	t.Helper()
	gate := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = m.Submit(context.Background(), key, NewTaskID(), func(context.Context) error {
			close(started)
			<-gate
			return nil
		})
	}()
	<-started
	return func() { close(gate) }
}

func TestLaneFor(t *testing.T) {
	m := NewManager(Config{Lanes: 10})
	assert.Equal(t, 11, m.Lanes())
	assert.Equal(t, 0, m.LaneFor("editions:global"))
	assert.Equal(t, 0, m.LaneFor(m.GlobalKey("market")))

	for i := 0; i < 200; i++ {
		k := fmt.Sprintf("%d", 100000+i)
		lane := m.LaneFor(k)
		assert.GreaterOrEqual(t, lane, 1)
		assert.LessOrEqual(t, lane, 10)
		assert.Equal(t, lane, m.LaneFor(k), "lane must be deterministic")
	}
}

func TestSubmit_NotStarted(t *testing.T) {
	m := NewManager(Config{})
	err := m.Submit(context.Background(), "u1", "t1", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestSubmit_EmptyID(t *testing.T) {
	m := startManager(t, Config{})
	err := m.Submit(context.Background(), "u1", "", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrEmptyID)
}

func TestSameKeyNeverOverlaps(t *testing.T) {
	m := startManager(t, Config{Lanes: 4, Timeout: 5 * time.Second})

	var active, maxActive, ran int32
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.Submit(context.Background(), "user-42", NewTaskID(), func(context.Context) error {
				n := atomic.AddInt32(&active, 1)
				for {
					cur := atomic.LoadInt32(&maxActive)
					if n <= cur || atomic.CompareAndSwapInt32(&maxActive, cur, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&active, -1)
				atomic.AddInt32(&ran, 1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(40), atomic.LoadInt32(&ran))
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxActive))
}

func TestDifferentLanesRunConcurrently(t *testing.T) {
	m := startManager(t, Config{Lanes: 10, Timeout: 2 * time.Second})
	k1, k2 := keysOnDifferentLanes(t, m)

	// task A can only finish once task B has started: serializing them would time out
	bStarted := make(chan struct{})
	errs := make(chan error, 2)
	go func() {
		errs <- m.Submit(context.Background(), k1, NewTaskID(), func(context.Context) error {
			select {
			case <-bStarted:
				return nil
			case <-time.After(time.Second):
				return errors.New("lane of k2 never ran")
			}
		})
	}()
	go func() {
		errs <- m.Submit(context.Background(), k2, NewTaskID(), func(context.Context) error {
			close(bStarted)
			return nil
		})
	}()

	require.NoError(t, <-errs)
	require.NoError(t, <-errs)
}

func TestFIFOWithinLane(t *testing.T) {
	m := startManager(t, Config{Lanes: 4, Timeout: 2 * time.Second})
	lane := m.LaneFor("user-7")
	release := blockLane(t, m, "user-7")

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 1; i <= 5; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Submit(context.Background(), "user-7", fmt.Sprintf("t%d", i), func(context.Context) error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
		}()
		require.Eventually(t, func() bool { return m.Pending(lane) == i+1 }, time.Second, time.Millisecond)
	}
	release()
	wg.Wait()

	assert.Equal(t, []int{1, 2, 3, 4, 5}, order)
}

func TestReplaceOnSameID(t *testing.T) {
	m := startManager(t, Config{Lanes: 4, Timeout: 2 * time.Second})
	lane := m.LaneFor("user-9")
	release := blockLane(t, m, "user-9")

	var firstRan, secondRan int32
	errs := make(chan error, 2)
	go func() {
		errs <- m.Submit(context.Background(), "user-9", "press", func(context.Context) error {
			atomic.AddInt32(&firstRan, 1)
			return nil
		})
	}()
	require.Eventually(t, func() bool { return m.Pending(lane) == 2 }, time.Second, time.Millisecond)

	go func() {
		errs <- m.Submit(context.Background(), "user-9", "press", func(context.Context) error {
			atomic.AddInt32(&secondRan, 1)
			return nil
		})
	}()
	// the replacement takes over the slot instead of queueing behind it
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, m.Pending(lane))

	release()
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	assert.Equal(t, int32(0), atomic.LoadInt32(&firstRan))
	assert.Equal(t, int32(1), atomic.LoadInt32(&secondRan))
}

func TestSameIDAfterStartQueuesBehind(t *testing.T) {
	m := startManager(t, Config{Lanes: 4, Timeout: 2 * time.Second})

	gate := make(chan struct{})
	started := make(chan struct{})
	var runs int32
	errs := make(chan error, 2)
	go func() {
		errs <- m.Submit(context.Background(), "user-3", "dup", func(context.Context) error {
			atomic.AddInt32(&runs, 1)
			close(started)
			<-gate
			return nil
		})
	}()
	<-started
	go func() {
		errs <- m.Submit(context.Background(), "user-3", "dup", func(context.Context) error {
			atomic.AddInt32(&runs, 1)
			return nil
		})
	}()
	require.Eventually(t, func() bool { return m.Pending(m.LaneFor("user-3")) == 2 }, time.Second, time.Millisecond)
	close(gate)

	require.NoError(t, <-errs)
	require.NoError(t, <-errs)
	assert.Equal(t, int32(2), atomic.LoadInt32(&runs))
}

func TestFailingTaskDoesNotHaltLane(t *testing.T) {
	m := startManager(t, Config{Lanes: 2, Timeout: 2 * time.Second})

	err := m.Submit(context.Background(), "user-5", NewTaskID(), func(context.Context) error {
		return errors.New("save failed")
	})
	require.Error(t, err)
	assert.True(t, xerr.Is(err, xerr.TaskFailed))

	err = m.Submit(context.Background(), "user-5", NewTaskID(), func(context.Context) error {
		panic("nil map")
	})
	require.Error(t, err)
	assert.True(t, xerr.Is(err, xerr.TaskFailed))

	var ran bool
	err = m.Submit(context.Background(), "user-5", NewTaskID(), func(context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestCodedErrorPassesThrough(t *testing.T) {
	m := startManager(t, Config{Lanes: 2, Timeout: time.Second})
	err := m.Submit(context.Background(), "user-5", NewTaskID(), func(context.Context) error {
		return xerr.NewErrCode(xerr.InsufficientLiquidity)
	})
	assert.True(t, xerr.Is(err, xerr.InsufficientLiquidity))
}

func TestTimeoutDoesNotAbortTask(t *testing.T) {
	m := startManager(t, Config{Lanes: 2, Timeout: 30 * time.Millisecond})

	var finished int32
	err := m.Submit(context.Background(), "user-8", NewTaskID(), func(ctx context.Context) error {
		time.Sleep(120 * time.Millisecond)
		// the task ctx is detached from the caller's wait
		if ctx.Err() == nil {
			atomic.StoreInt32(&finished, 1)
		}
		return nil
	})
	require.Error(t, err)
	assert.True(t, xerr.Is(err, xerr.Timeout))

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&finished) == 1 }, time.Second, 5*time.Millisecond)
}

func TestCallerCancelReturnsCtxErr(t *testing.T) {
	m := startManager(t, Config{Lanes: 2, Timeout: time.Second})
	release := blockLane(t, m, "user-2")
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := m.Submit(ctx, "user-2", NewTaskID(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStopDrainsAndRefuses(t *testing.T) {
	m := NewManager(Config{Lanes: 2, Timeout: time.Second})
	m.Start(context.Background())

	var ran int32
	require.NoError(t, m.Submit(context.Background(), "u", NewTaskID(), func(context.Context) error {
		atomic.AddInt32(&ran, 1)
		return nil
	}))
	m.Stop()

	assert.Equal(t, int32(1), ran)
	err := m.Submit(context.Background(), "u", NewTaskID(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrStopped)
}

func TestParentCancelRefusesLaterSubmits(t *testing.T) {
	m := NewManager(Config{Lanes: 2, Timeout: 5 * time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	require.NoError(t, m.Submit(context.Background(), "u", NewTaskID(), func(context.Context) error { return nil }))

	cancel()
	m.wg.Wait()

	begin := time.Now()
	err := m.Submit(context.Background(), "u", NewTaskID(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrStopped)
	assert.Less(t, time.Since(begin), time.Second, "must not wait out the budget")
	m.Stop()
}

func TestSubmit_TaskSpanRecorded(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	m := startManager(t, Config{Lanes: 2, Timeout: time.Second})
	require.NoError(t, m.Submit(context.Background(), "user-1", "ok", func(context.Context) error { return nil }))
	err := m.Submit(context.Background(), "user-1", "bad", func(context.Context) error { return errors.New("boom") })
	require.Error(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "queue.task", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}
