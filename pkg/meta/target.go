package meta

import "sync"

// DetectionTarget is one detected object in original-frame pixel units
type DetectionTarget struct {
	Left   int
	Top    int
	Width  int
	Height int

	ClassID int
	Label   string
	Score   float32
	// TrackID is 0 when the target is not tracked
	TrackID int64

	FrameIndex uint64
	Channel    int
}

// Right returns the exclusive right edge
func (t DetectionTarget) Right() int { return t.Left + t.Width }

// Bottom returns the exclusive bottom edge
func (t DetectionTarget) Bottom() int { return t.Top + t.Height }

// Retag returns a copy owned by another frame
func (t DetectionTarget) Retag(frameIndex uint64, channel int) DetectionTarget {
	t.FrameIndex = frameIndex
	t.Channel = channel
	return t
}

// CloneTargets returns an independent copy of a target slice
func CloneTargets(targets []DetectionTarget) []DetectionTarget {
	if targets == nil {
		return nil
	}
	out := make([]DetectionTarget, len(targets))
	copy(out, targets)
	return out
}

// TargetList is an append-only, concurrency-safe list of targets. Entries
// can never be removed or replaced once appended.
type TargetList struct {
	mu    sync.RWMutex
	items []DetectionTarget
}

// Append adds targets at the end of the list
func (l *TargetList) Append(targets ...DetectionTarget) {
	if len(targets) == 0 {
		return
	}
	l.mu.Lock()
	l.items = append(l.items, targets...)
	l.mu.Unlock()
}

// Snapshot returns a copy of the current entries
func (l *TargetList) Snapshot() []DetectionTarget {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return CloneTargets(l.items)
}

// Len returns the number of entries
func (l *TargetList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}
