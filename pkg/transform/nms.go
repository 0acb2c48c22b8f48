package transform

import (
	"sort"
)

// Box is an axis-aligned box in pixel coordinates with corners (X1, Y1) and
// (X2, Y2)
type Box struct {
	X1, Y1, X2, Y2 float32
}

// Candidate is a decoded detection before suppression
type Candidate struct {
	Box     Box
	Score   float32
	ClassID int
}

// Width returns the box width, 0 for degenerate boxes
func (b Box) Width() float32 {
	return max32(0, b.X2-b.X1)
}

// Height returns the box height, 0 for degenerate boxes
func (b Box) Height() float32 {
	return max32(0, b.Y2-b.Y1)
}

// Area returns the non-negative box area
func (b Box) Area() float32 {
	return b.Width() * b.Height()
}

// Center returns the center point of the box
func (b Box) Center() (x, y float32) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// Clamp limits every coordinate to [0, width] x [0, height]. NaN maps to 0.
func (b Box) Clamp(width, height float32) Box {
	return Box{
		X1: clamp32(b.X1, 0, width),
		Y1: clamp32(b.Y1, 0, height),
		X2: clamp32(b.X2, 0, width),
		Y2: clamp32(b.Y2, 0, height),
	}
}

// Scale multiplies x coordinates by sx and y coordinates by sy
func (b Box) Scale(sx, sy float64) Box {
	return Box{
		X1: float32(float64(b.X1) * sx),
		Y1: float32(float64(b.Y1) * sy),
		X2: float32(float64(b.X2) * sx),
		Y2: float32(float64(b.Y2) * sy),
	}
}

// SortByScore returns a copy sorted by score in descending order. Equal
// scores keep their input order.
func SortByScore(candidates []Candidate) []Candidate {
	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})
	return sorted
}

// NMSPerClass applies greedy non-maximum suppression independently per
// class. Within a class the best remaining candidate is kept and every other
// candidate whose IoU with it is at least iouThreshold is discarded. Equal
// scores are resolved in favour of the lower input index.
//
// The result is grouped by ascending class id and ordered by descending
// score within a class.
func NMSPerClass(candidates []Candidate, iouThreshold float32) []Candidate {
	buckets := make(map[int][]Candidate)
	for _, c := range candidates {
		buckets[c.ClassID] = append(buckets[c.ClassID], c)
	}

	classes := make([]int, 0, len(buckets))
	for id := range buckets {
		classes = append(classes, id)
	}
	sort.Ints(classes)

	var kept []Candidate
	for _, id := range classes {
		kept = append(kept, suppress(SortByScore(buckets[id]), iouThreshold)...)
	}
	return kept
}

// NMSAllClasses applies suppression across classes
func NMSAllClasses(candidates []Candidate, iouThreshold float32) []Candidate {
	return suppress(SortByScore(candidates), iouThreshold)
}

func suppress(sorted []Candidate, iouThreshold float32) []Candidate {
	var kept []Candidate
	suppressed := make([]bool, len(sorted))

	for i, c := range sorted {
		if suppressed[i] {
			continue
		}
		kept = append(kept, c)

		for j := i + 1; j < len(sorted); j++ {
			if suppressed[j] {
				continue
			}
			if IoU(c.Box, sorted[j].Box) >= iouThreshold {
				suppressed[j] = true
			}
		}
	}

	return kept
}

// LimitPerClass keeps at most maxPerClass best candidates per class
func LimitPerClass(candidates []Candidate, maxPerClass int) []Candidate {
	sorted := SortByScore(candidates)
	classCount := make(map[int]int)
	var limited []Candidate

	for _, c := range sorted {
		if classCount[c.ClassID] < maxPerClass {
			limited = append(limited, c)
			classCount[c.ClassID]++
		}
	}

	return limited
}

// TopK keeps the k best candidates, preserving their relative input order.
// k <= 0 keeps everything.
func TopK(candidates []Candidate, k int) []Candidate {
	if k <= 0 || len(candidates) <= k {
		return candidates
	}

	idx := make([]int, len(candidates))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return candidates[idx[a]].Score > candidates[idx[b]].Score
	})
	keep := idx[:k]
	sort.Ints(keep)

	out := make([]Candidate, 0, k)
	for _, i := range keep {
		out = append(out, candidates[i])
	}
	return out
}

// IoU calculates the Intersection over Union of two boxes. Degenerate boxes
// have zero area, and a zero union gives 0.
func IoU(a, b Box) float32 {
	x1 := max32(a.X1, b.X1)
	y1 := max32(a.Y1, b.Y1)
	x2 := min32(a.X2, b.X2)
	y2 := min32(a.Y2, b.Y2)

	intersection := max32(0, x2-x1) * max32(0, y2-y1)
	union := a.Area() + b.Area() - intersection
	if union <= 0 {
		return 0.0
	}

	return intersection / union
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

func min32(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func clamp32(v, lo, hi float32) float32 {
	if v != v {
		return lo
	}
	return max32(lo, min32(hi, v))
}
