// Package infer defines the inference engine boundary and the raw tensor
// types it produces.
package infer

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// Engine runs a detection model on one packed RGB image. Outputs are
// returned in no particular order.
type Engine interface {
	// InputInfo describes the expected input image
	InputInfo() StreamInfo
	// Infer should return once ctx ends
	Infer(ctx context.Context, input []byte) ([]Tensor, error)
	Close() error
}

// Session guards an Engine with input validation, a timeout and timing
// statistics. Calls into the engine are serialized.
type Session struct {
	engine  Engine
	info    StreamInfo
	timeout time.Duration

	// call is held for the duration of an engine call
	call sync.Mutex

	mu     sync.Mutex
	closed bool
	stats  SessionStats
}

// SessionOption is a function that configures a Session
type SessionOption func(*Session)

// WithTimeout sets the inference timeout. Zero disables it.
func WithTimeout(d time.Duration) SessionOption {
	return func(s *Session) {
		s.timeout = d
	}
}

// NewSession wraps an engine
func NewSession(engine Engine, opts ...SessionOption) (*Session, error) {
	if engine == nil {
		return nil, errors.Wrap(ErrInvalidInput, "nil engine")
	}
	info := engine.InputInfo()
	if info.Shape.Width <= 0 || info.Shape.Height <= 0 {
		return nil, errors.Wrapf(ErrInvalidInput, "engine input %dx%d", info.Shape.Width, info.Shape.Height)
	}

	s := &Session{
		engine:  engine,
		info:    info,
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// InputInfo returns the engine input description
func (s *Session) InputInfo() StreamInfo { return s.info }

// ValidateInput checks the input byte size against the engine input
func (s *Session) ValidateInput(input []byte) error {
	if want := s.info.FrameSize(); len(input) != want {
		return errors.Wrapf(ErrInputSizeMismatch, "got %d bytes, want %d", len(input), want)
	}
	return nil
}

// Infer validates input and runs the engine on the calling goroutine. The
// timeout is passed to the engine through ctx; a call is never abandoned, so
// the engine is not entered again or closed while it runs.
func (s *Session) Infer(ctx context.Context, input []byte) ([]Tensor, error) {
	s.call.Lock()
	defer s.call.Unlock()

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrSessionClosed
	}
	if err := s.ValidateInput(input); err != nil {
		return nil, err
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	outputs, err := s.engine.Infer(ctx, input)
	s.record(time.Since(start), err)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, errors.Wrapf(ErrInferenceTimeout, "after %s", s.timeout)
		}
		return nil, err
	}
	if len(outputs) == 0 {
		return nil, ErrNoOutputs
	}
	return outputs, nil
}

func (s *Session) record(latency time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.stats.Failures++
		return
	}
	ns := latency.Nanoseconds()
	s.stats.InferenceCount++
	s.stats.TotalLatencyNs += ns
	s.stats.LastLatencyNs = ns
	if s.stats.MinLatencyNs == 0 || ns < s.stats.MinLatencyNs {
		s.stats.MinLatencyNs = ns
	}
	if ns > s.stats.MaxLatencyNs {
		s.stats.MaxLatencyNs = ns
	}
	s.stats.AverageLatencyNs = s.stats.TotalLatencyNs / s.stats.InferenceCount
}

// SessionStats holds session statistics
type SessionStats struct {
	InferenceCount   int64
	Failures         int64
	TotalLatencyNs   int64
	AverageLatencyNs int64
	MinLatencyNs     int64
	MaxLatencyNs     int64
	LastLatencyNs    int64
}

// GetStats returns session statistics
func (s *Session) GetStats() SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Close waits for an in-flight call and then closes the session and its
// engine
func (s *Session) Close() error {
	s.call.Lock()
	defer s.call.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.engine.Close()
}
