package detect

import "github.com/emergingrobotics/go-vpipe/pkg/meta"

// SkipCache decides which frames run real inference and replays the last
// real result on the others. With skip N, frames 0, N+1, 2(N+1), ... of the
// node's input run inference.
//
// A SkipCache belongs to a single inference node and is not safe for
// concurrent use.
type SkipCache struct {
	period  uint64
	counter uint64
	last    []meta.DetectionTarget
}

// NewSkipCache creates a cache; negative skip is treated as 0
func NewSkipCache(skip int) *SkipCache {
	if skip < 0 {
		skip = 0
	}
	return &SkipCache{period: uint64(skip) + 1}
}

// Next advances the frame counter and reports whether the current frame
// must run real inference
func (s *SkipCache) Next() bool {
	run := s.counter%s.period == 0
	s.counter++
	return run
}

// Store replaces the cached result with a deep copy of targets
func (s *SkipCache) Store(targets []meta.DetectionTarget) {
	s.last = meta.CloneTargets(targets)
	if s.last == nil {
		s.last = []meta.DetectionTarget{}
	}
}

// Replay returns deep copies of the cached targets re-tagged for another
// frame, in their original order
func (s *SkipCache) Replay(frameIndex uint64, channel int) []meta.DetectionTarget {
	if len(s.last) == 0 {
		return nil
	}
	out := make([]meta.DetectionTarget, len(s.last))
	for i, t := range s.last {
		out[i] = t.Retag(frameIndex, channel)
	}
	return out
}

// Len returns the number of cached targets
func (s *SkipCache) Len() int { return len(s.last) }

// Reset clears the cache and restarts the counter
func (s *SkipCache) Reset() {
	s.counter = 0
	s.last = nil
}
