package queue

import "sync"

// Gate pauses and resumes a producer loop. The producer calls Knock before
// each unit of work; Knock blocks while the gate is closed.
type Gate struct {
	mu   sync.Mutex
	cond *sync.Cond
	open bool
	shut bool
}

// NewGate creates a gate in the given state
func NewGate(open bool) *Gate {
	g := &Gate{open: open}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Open lets Knock callers through
func (g *Gate) Open() {
	g.mu.Lock()
	g.open = true
	g.mu.Unlock()
	g.cond.Broadcast()
}

// Close makes subsequent Knock calls block
func (g *Gate) Close() {
	g.mu.Lock()
	g.open = false
	g.mu.Unlock()
}

// IsOpen reports the gate state
func (g *Gate) IsOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open && !g.shut
}

// Knock blocks until the gate is open or shut. It returns false once the
// gate has been shut and the producer should exit.
func (g *Gate) Knock() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for !g.open && !g.shut {
		g.cond.Wait()
	}
	return !g.shut
}

// Shut permanently releases every Knock caller with false
func (g *Gate) Shut() {
	g.mu.Lock()
	g.shut = true
	g.mu.Unlock()
	g.cond.Broadcast()
}
