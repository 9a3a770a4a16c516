// Package queue serializes mutations per resource.
//
// A Manager owns N+1 lanes: lane 0 for keys ending in the global marker and N
// lanes picked by hashing every other key. Each lane runs one task at a time,
// in submission order, on its own goroutine; lanes run independently.
//
// Same-id replacement: a Submit whose task id is already waiting (not yet
// started) in the lane overwrites that waiting task in place, and both callers
// are released when the replacement finishes. Repeated submissions under one id
// therefore behave as "latest wins". Call sites that need every submission to
// run must mint a distinct id per logical task (see NewTaskID).
package queue

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"boarcore.com/pkg/logger"
	"boarcore.com/pkg/metrics"
	"boarcore.com/pkg/safe"
	"boarcore.com/pkg/trace"
	"boarcore.com/pkg/xerr"
)

const (
	DefaultLanes        = 10
	DefaultTimeout      = 30 * time.Second
	DefaultGlobalSuffix = "global"
)

var (
	ErrNotStarted = errors.New("queue: manager not started")
	ErrStopped    = errors.New("queue: manager stopped")
	ErrEmptyID    = errors.New("queue: empty task id")
)

// Task is one unit of work. The ctx it receives carries the submitter's values
// but is not cancelled when the submitter stops waiting.
type Task func(ctx context.Context) error

type Config struct {
	Lanes        int           `mapstructure:"lanes"`         // per-user lanes, the global lane is extra
	Timeout      time.Duration `mapstructure:"timeout"`       // caller-side liveness budget
	GlobalSuffix string        `mapstructure:"global_suffix"` // keys ending in this use lane 0
}

type Manager struct {
	cfg     Config
	lanes   []*lane
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	started atomic.Bool
	stopped atomic.Bool
}

func NewManager(cfg Config) *Manager {
	if cfg.Lanes <= 0 {
		cfg.Lanes = DefaultLanes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.GlobalSuffix == "" {
		cfg.GlobalSuffix = DefaultGlobalSuffix
	}
	m := &Manager{cfg: cfg, lanes: make([]*lane, cfg.Lanes+1)}
	for i := range m.lanes {
		m.lanes[i] = newLane(i)
	}
	return m
}

// Start launches one runner per lane. The runners exit once ctx is done or
// Stop is called and their lane has drained; later submissions get ErrStopped.
func (m *Manager) Start(ctx context.Context) {
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	for _, ln := range m.lanes {
		ln := ln
		m.wg.Add(1)
		safe.Go(func() {
			defer m.wg.Done()
			ln.run(ctx)
		})
	}
}

// Stop refuses new submissions and waits for every lane to drain.
func (m *Manager) Stop() {
	if !m.started.Load() || !m.stopped.CompareAndSwap(false, true) {
		return
	}
	m.cancel()
	m.wg.Wait()
}

// Lanes is the total lane count including the global lane.
func (m *Manager) Lanes() int { return len(m.lanes) }

// LaneFor maps a resource key to its lane.
func (m *Manager) LaneFor(key string) int {
	if strings.HasSuffix(key, m.cfg.GlobalSuffix) {
		return 0
	}
	return 1 + int(xxhash.Sum64String(key)%uint64(m.cfg.Lanes))
}

// GlobalKey returns a key routed to the global lane for resource name.
func (m *Manager) GlobalKey(name string) string {
	return name + ":" + m.cfg.GlobalSuffix
}

// Pending is the number of tasks waiting in lane, including one running.
func (m *Manager) Pending(lane int) int {
	if lane < 0 || lane >= len(m.lanes) {
		return 0
	}
	return m.lanes[lane].pending()
}

// NewTaskID mints an id that never collides with another submission.
func NewTaskID() string { return uuid.NewString() }

// Submit queues task on key's lane under id and waits for it.
//
// It returns nil when the task (or the task that replaced it) finished
// cleanly, a TaskFailed CodeError wrapping the task's error or panic, a Timeout
// CodeError when the budget elapsed first, or ctx's error. Neither a timeout nor
// ctx cancellation stops the task itself.
func (m *Manager) Submit(ctx context.Context, key, id string, task Task) error {
	if !m.started.Load() {
		return ErrNotStarted
	}
	if m.stopped.Load() {
		return ErrStopped
	}
	if id == "" {
		return ErrEmptyID
	}
	if ctx == nil {
		ctx = context.Background()
	}

	idx := m.LaneFor(key)
	ln := m.lanes[idx]
	e := ln.push(context.WithoutCancel(ctx), id, task)
	if e == nil {
		return ErrStopped
	}

	timer := time.NewTimer(m.cfg.Timeout)
	defer timer.Stop()

	select {
	case <-e.done:
		return e.err
	case <-timer.C:
		metrics.QueueTimeouts.WithLabelValues(ln.label).Inc()
		logger.Warn(ctx, "queue task timed out",
			zap.Int("lane", idx), zap.String("task_id", id), zap.String("key", key),
			zap.Duration("budget", m.cfg.Timeout))
		return xerr.Wrap(errors.New("queue: task "+id+" still running"), xerr.Timeout, xerr.MapErrMsg(xerr.Timeout))
	case <-ctx.Done():
		return ctx.Err()
	}
}

// entry is one pending id. Replacement swaps task and keeps the slot and done
// channel, so every submitter of the id is released together.
type entry struct {
	id   string
	ctx  context.Context
	task Task
	done chan struct{}
	err  error
}

type lane struct {
	idx   int
	label string

	mu    sync.Mutex
	order []*entry
	byID  map[string]*entry
	// running counts the in-flight entry so pending() reflects it
	running int
	wake    chan struct{}
	// closed is set by the runner on exit; pushes after it are refused
	closed bool
}

func newLane(idx int) *lane {
	return &lane{
		idx:   idx,
		label: strconv.Itoa(idx),
		byID:  make(map[string]*entry),
		wake:  make(chan struct{}, 1),
	}
}

// push queues task under id. It returns nil once the lane's runner has exited.
func (l *lane) push(ctx context.Context, id string, task Task) *entry {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	if e, ok := l.byID[id]; ok {
		e.task = task
		e.ctx = ctx
		l.mu.Unlock()
		metrics.QueueReplaced.WithLabelValues(l.label).Inc()
		logger.Debug(ctx, "queue task replaced", zap.Int("lane", l.idx), zap.String("task_id", id))
		return e
	}
	e := &entry{id: id, ctx: ctx, task: task, done: make(chan struct{})}
	l.byID[id] = e
	l.order = append(l.order, e)
	n := len(l.order) + l.running
	l.mu.Unlock()

	metrics.QueuePending.WithLabelValues(l.label).Set(float64(n))
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return e
}

// pop takes the oldest entry off the lane. Once popped, the id is no longer
// pending and a new submission under it queues behind.
func (l *lane) pop() (*entry, Task, context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.order) == 0 {
		return nil, nil, nil
	}
	e := l.order[0]
	l.order[0] = nil
	l.order = l.order[1:]
	delete(l.byID, e.id)
	l.running = 1
	return e, e.task, e.ctx
}

func (l *lane) finish() {
	l.mu.Lock()
	l.running = 0
	n := len(l.order)
	l.mu.Unlock()
	metrics.QueuePending.WithLabelValues(l.label).Set(float64(n))
}

// close marks an idle lane closed and reports whether it did.
func (l *lane) close() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.order) > 0 || l.running > 0 {
		return false
	}
	l.closed = true
	return true
}

func (l *lane) pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.order) + l.running
}

func (l *lane) run(ctx context.Context) {
	for {
		e, task, tctx := l.pop()
		if e == nil {
			select {
			case <-ctx.Done():
				// a push may have raced the cancel
				if l.close() {
					return
				}
			case <-l.wake:
			}
			continue
		}
		l.exec(e, task, tctx)
	}
}

func (l *lane) exec(e *entry, task Task, ctx context.Context) {
	ctx = logger.WithFields(ctx, zap.Int("lane", l.idx), zap.String("task_id", e.id))
	ctx, span := trace.Start(ctx, "queue.task", attribute.Int("queue.lane", l.idx), attribute.String("queue.task_id", e.id))
	begin := time.Now()

	err := safe.Call(func() error { return task(ctx) })

	status := "ok"
	if err != nil {
		status = "failed"
		var pe *safe.PanicError
		switch {
		case errors.As(err, &pe):
			logger.Error(ctx, "queue task panicked", zap.Any("panic", pe.Value), zap.ByteString("stack", pe.Stack))
		case xerr.Code(err) != 0:
			// coded errors are business outcomes the task already decided on
			logger.Info(ctx, "queue task rejected", zap.Error(err))
		default:
			logger.Error(ctx, "queue task failed", zap.Error(err))
		}
		if xerr.Code(err) == 0 {
			err = xerr.Wrap(err, xerr.TaskFailed, xerr.MapErrMsg(xerr.TaskFailed))
		}
	}
	metrics.QueueTaskDuration.WithLabelValues(l.label, status).Observe(time.Since(begin).Seconds())
	trace.End(span, err)

	e.err = err
	close(e.done)
	l.finish()
}
