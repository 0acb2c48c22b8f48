// Package node implements the pipeline graph: nodes with a bounded inbox, a
// single worker goroutine, and fan-out to subscribers.
package node

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/emergingrobotics/go-vpipe/pkg/logger"
	"github.com/emergingrobotics/go-vpipe/pkg/meta"
	"github.com/emergingrobotics/go-vpipe/pkg/queue"
)

var (
	ErrAlreadyStarted = errors.New("node already started")
	ErrStopped        = errors.New("node stopped")
	ErrSourceInput    = errors.New("source node has no input")
	ErrSelfAttach     = errors.New("node cannot subscribe to itself")
	ErrCycle          = errors.New("attach would create a cycle")
)

// State is the node lifecycle state
type State int32

const (
	StateConstructed State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateConstructed:
		return "constructed"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Handler processes items popped from a node's inbox. A nil result halts
// propagation for that item.
type Handler interface {
	HandleFrame(ctx context.Context, f *meta.Frame) meta.Meta
	HandleControl(ctx context.Context, c *meta.Control) meta.Meta
}

// Starter is implemented by handlers that acquire resources before the
// worker runs
type Starter interface {
	Start(ctx context.Context) error
}

// Stopper is implemented by handlers that release resources after the
// worker has exited
type Stopper interface {
	Stop() error
}

// Producer is the production loop of a source node. It emits metas until
// the stream ends, the gate is shut, or ctx is cancelled.
type Producer func(ctx context.Context, gate *queue.Gate, emit func(meta.Meta)) error

// Node is a vertex of the pipeline graph
type Node struct {
	name    string
	log     *zap.SugaredLogger
	handler Handler
	produce Producer

	capacity int
	in       *queue.Queue
	gate     *queue.Gate

	mu          sync.Mutex
	subscribers []*Node
	upstreams   []*Node

	lifeMu   sync.Mutex
	state    atomic.Int32
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once

	processed atomic.Uint64
	panics    atomic.Uint64
}

// Option configures a Node
type Option func(*Node)

// WithQueueCapacity sets the inbox capacity
func WithQueueCapacity(capacity int) Option {
	return func(n *Node) {
		n.capacity = capacity
	}
}

// WithLogger overrides the node logger
func WithLogger(log *zap.SugaredLogger) Option {
	return func(n *Node) {
		n.log = log
	}
}

// WithGate sets the gate a source node knocks on. Sources get a closed
// gate by default.
func WithGate(g *queue.Gate) Option {
	return func(n *Node) {
		n.gate = g
	}
}

// New creates a processing or sink node
func New(name string, h Handler, opts ...Option) *Node {
	n := newNode(name, opts)
	n.handler = h
	n.in = queue.New(name, n.capacity, n.log)
	return n
}

// NewSource creates a source node driven by a production loop
func NewSource(name string, produce Producer, opts ...Option) *Node {
	n := newNode(name, opts)
	n.produce = produce
	if n.gate == nil {
		n.gate = queue.NewGate(false)
	}
	return n
}

func newNode(name string, opts []Option) *Node {
	n := &Node{
		name:     name,
		capacity: queue.DefaultCapacity,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.log == nil {
		n.log = logger.Named(name)
	}
	return n
}

// Name returns the node name
func (n *Node) Name() string { return n.name }

// State returns the lifecycle state
func (n *Node) State() State { return State(n.state.Load()) }

// Gate returns the production gate of a source node, nil otherwise
func (n *Node) Gate() *queue.Gate { return n.gate }

// IsSource reports whether the node is driven by a production loop
func (n *Node) IsSource() bool { return n.produce != nil }

// Attach subscribes n to each upstream node
func (n *Node) Attach(upstreams ...*Node) error {
	if n.IsSource() {
		return errors.Wrapf(ErrSourceInput, "attach %s", n.name)
	}
	if n.State() >= StateStopping {
		return errors.Wrapf(ErrStopped, "attach %s", n.name)
	}
	for _, up := range upstreams {
		if up == n {
			return errors.Wrapf(ErrSelfAttach, "attach %s", n.name)
		}
		if n.reaches(up) {
			return errors.Wrapf(ErrCycle, "attach %s to %s", n.name, up.name)
		}
		up.addSubscriber(n)
		n.mu.Lock()
		n.upstreams = append(n.upstreams, up)
		n.mu.Unlock()
	}
	return nil
}

func (n *Node) addSubscriber(sub *Node) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, s := range n.subscribers {
		if s == sub {
			return
		}
	}
	n.subscribers = append(n.subscribers, sub)
}

func (n *Node) removeSubscriber(sub *Node) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, s := range n.subscribers {
		if s == sub {
			n.subscribers = append(n.subscribers[:i:i], n.subscribers[i+1:]...)
			return
		}
	}
}

// reaches reports whether target is n or downstream of n
func (n *Node) reaches(target *Node) bool {
	if n == target {
		return true
	}
	for _, s := range n.Subscribers() {
		if s.reaches(target) {
			return true
		}
	}
	return false
}

// Subscribers returns a snapshot of the downstream nodes
func (n *Node) Subscribers() []*Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*Node, len(n.subscribers))
	copy(out, n.subscribers)
	return out
}

// Start launches the worker goroutine. The node stops when ctx is
// cancelled or it is detached.
func (n *Node) Start(ctx context.Context) error {
	n.lifeMu.Lock()
	defer n.lifeMu.Unlock()
	if !n.state.CompareAndSwap(int32(StateConstructed), int32(StateRunning)) {
		return errors.Wrapf(ErrAlreadyStarted, "start %s (%s)", n.name, n.State())
	}

	if s, ok := n.handler.(Starter); ok {
		if err := s.Start(ctx); err != nil {
			n.state.Store(int32(StateStopped))
			close(n.done)
			return errors.Wrapf(err, "start %s", n.name)
		}
	}

	ctx, n.cancel = context.WithCancel(ctx)
	go func() {
		<-ctx.Done()
		n.wake()
	}()

	if n.IsSource() {
		go n.runSource(ctx)
	} else {
		go n.runWorker(ctx)
	}
	n.log.Debugw("node started", "queue_capacity", n.capacity, "source", n.IsSource())
	return nil
}

func (n *Node) runSource(ctx context.Context) {
	defer close(n.done)
	if err := n.produce(ctx, n.gate, n.broadcast); err != nil && !errors.Is(err, context.Canceled) {
		n.log.Errorw("source loop exited", "error", err)
	}
}

func (n *Node) runWorker(ctx context.Context) {
	defer close(n.done)
	for {
		m, ok := n.in.Pop()
		if !ok || ctx.Err() != nil {
			return
		}
		if out := n.handle(ctx, m); out != nil {
			n.broadcast(out)
		}
		n.processed.Add(1)
	}
}

func (n *Node) handle(ctx context.Context, m meta.Meta) (out meta.Meta) {
	defer func() {
		if r := recover(); r != nil {
			n.panics.Add(1)
			n.log.Errorw("handler panic, item dropped", "panic", r, "seq", m.Sequence())
			out = nil
		}
	}()

	switch v := m.(type) {
	case *meta.Frame:
		return n.handler.HandleFrame(ctx, v)
	case *meta.Control:
		return n.handler.HandleControl(ctx, v)
	}
	return nil
}

// broadcast pushes the same meta to every subscriber inbox
func (n *Node) broadcast(m meta.Meta) {
	for _, s := range n.Subscribers() {
		s.in.Push(m)
	}
}

// wake releases a worker blocked on its inbox or gate
func (n *Node) wake() {
	if n.in != nil {
		n.in.Close()
	}
	if n.gate != nil {
		n.gate.Shut()
	}
}

// Stop signals the worker, wakes it, and waits for it to exit. Safe to call
// more than once and before Start.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		n.lifeMu.Lock()
		prev := State(n.state.Swap(int32(StateStopping)))
		if n.cancel != nil {
			n.cancel()
		}
		n.lifeMu.Unlock()
		n.wake()
		if prev == StateConstructed {
			close(n.done)
		}
		<-n.done

		if s, ok := n.handler.(Stopper); ok && prev == StateRunning {
			if err := s.Stop(); err != nil {
				n.log.Warnw("stop hook failed", "error", err)
			}
		}
		n.state.Store(int32(StateStopped))
		n.log.Debugw("node stopped", "processed", n.processed.Load(), "dropped", n.dropped())
	})
}

// Detach stops n and unlinks it from its upstream nodes
func (n *Node) Detach() {
	n.mu.Lock()
	ups := n.upstreams
	n.upstreams = nil
	n.mu.Unlock()
	for _, up := range ups {
		up.removeSubscriber(n)
	}
	n.Stop()
}

// DetachRecursively stops n and then every node downstream of it. The
// subscriber links are kept so the graph can still be inspected.
func (n *Node) DetachRecursively() {
	n.Stop()
	for _, s := range n.Subscribers() {
		s.DetachRecursively()
	}
}

// Done is closed when the worker goroutine has exited
func (n *Node) Done() <-chan struct{} { return n.done }

func (n *Node) dropped() uint64 {
	if n.in == nil {
		return 0
	}
	return n.in.Dropped()
}

// Stats is a point-in-time view of a node
type Stats struct {
	Name      string
	State     State
	Source    bool
	QueueLen  int
	Capacity  int
	Pushed    uint64
	Dropped   uint64
	Processed uint64
	Panics    uint64
}

// Stats returns the node counters
func (n *Node) Stats() Stats {
	s := Stats{
		Name:      n.name,
		State:     n.State(),
		Source:    n.IsSource(),
		Processed: n.processed.Load(),
		Panics:    n.panics.Load(),
	}
	if n.in != nil {
		s.QueueLen = n.in.Len()
		s.Capacity = n.in.Capacity()
		s.Pushed = n.in.Pushed()
		s.Dropped = n.in.Dropped()
	}
	return s
}

// Walk visits n and every node downstream of it once, in breadth-first
// order
func Walk(root *Node, visit func(*Node)) {
	seen := map[*Node]bool{root: true}
	pending := []*Node{root}
	for len(pending) > 0 {
		n := pending[0]
		pending = pending[1:]
		visit(n)
		for _, s := range n.Subscribers() {
			if !seen[s] {
				seen[s] = true
				pending = append(pending, s)
			}
		}
	}
}
