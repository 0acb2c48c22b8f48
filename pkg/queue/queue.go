// Package queue provides the bounded, drop-on-overflow inbox that sits in
// front of every pipeline node, plus the gate used to pause sources.
package queue

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/emergingrobotics/go-vpipe/pkg/meta"
)

// DefaultCapacity is used when a non-positive capacity is requested
const DefaultCapacity = 8

// Queue is a bounded FIFO of metas.
//
// Frames pushed while the queue holds Capacity items are dropped and
// counted. Controls are always accepted, so a queue may briefly exceed its
// capacity by the number of pending controls. Pop blocks until an item is
// available or the queue is closed.
type Queue struct {
	name     string
	capacity int
	log      *zap.SugaredLogger

	mu     sync.Mutex
	cond   *sync.Cond
	items  []meta.Meta
	closed bool

	pushed  atomic.Uint64
	dropped atomic.Uint64

	dropLimiter   *rate.Limiter
	lastDropLog   time.Time
	droppedLogged uint64
}

// New creates a queue. A nil logger disables drop logging.
func New(name string, capacity int, log *zap.SugaredLogger) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	q := &Queue{
		name:        name,
		capacity:    capacity,
		log:         log,
		items:       make([]meta.Meta, 0, capacity),
		dropLimiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues m. It never blocks. It returns false when the item was not
// accepted: a frame arriving at capacity, or any item after Close.
func (q *Queue) Push(m meta.Meta) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	if m.Kind() == meta.KindFrame && len(q.items) >= q.capacity {
		backlog := len(q.items)
		q.mu.Unlock()
		q.recordDrop(backlog)
		return false
	}
	q.items = append(q.items, m)
	q.pushed.Add(1)
	q.mu.Unlock()
	q.cond.Signal()
	return true
}

func (q *Queue) recordDrop(backlog int) {
	total := q.dropped.Add(1)
	if !q.dropLimiter.Allow() {
		return
	}

	q.mu.Lock()
	now := time.Now()
	delta := total - q.droppedLogged
	perSec := delta
	if !q.lastDropLog.IsZero() {
		if secs := now.Sub(q.lastDropLog).Seconds(); secs > 1 {
			perSec = uint64(float64(delta) / secs)
		}
	}
	q.droppedLogged = total
	q.lastDropLog = now
	q.mu.Unlock()

	q.log.Warnf("[%s] drop_frame backlog=%d dropped=%d(+%d/s)", q.name, backlog, total, perSec)
}

// Pop removes the oldest item, blocking while the queue is empty. The second
// result is false once the queue has been closed.
func (q *Queue) Pop() (meta.Meta, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return nil, false
	}
	m := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return m, true
}

// TryPop removes the oldest item without blocking
func (q *Queue) TryPop() (meta.Meta, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || len(q.items) == 0 {
		return nil, false
	}
	m := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return m, true
}

// Close discards pending items and wakes every blocked Pop. Safe to call
// more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.items = nil
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Closed reports whether Close has been called
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Name returns the queue name used in logs
func (q *Queue) Name() string { return q.name }

// Len returns the current backlog
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Capacity returns the frame capacity
func (q *Queue) Capacity() int { return q.capacity }

// Pushed returns the number of accepted items
func (q *Queue) Pushed() uint64 { return q.pushed.Load() }

// Dropped returns the number of frames dropped on overflow
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }
