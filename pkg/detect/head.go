package detect

import (
	"sort"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/emergingrobotics/go-vpipe/pkg/infer"
	"github.com/emergingrobotics/go-vpipe/pkg/transform"
)

// RegChannels is the channel count of a regression map (l, t, r, b)
const RegChannels = 4

var (
	ErrIncompleteHead = errors.New("incomplete head")
	ErrAmbiguousHead  = errors.New("ambiguous head tensors")
)

// HeadTensor is one detection scale: a regression map with distances to
// the box edges in grid-cell units and a classification map of raw logits,
// both CHW over FeatH x FeatW
type HeadTensor struct {
	FeatH      int
	FeatW      int
	NumClasses int
	Reg        []float32
	Cls        []float32
}

// Valid reports whether the maps match the declared geometry
func (h HeadTensor) Valid() bool {
	if h.FeatH <= 0 || h.FeatW <= 0 || h.NumClasses <= 0 {
		return false
	}
	hw := h.FeatH * h.FeatW
	return len(h.Reg) == RegChannels*hw && len(h.Cls) == h.NumClasses*hw
}

// ToCHW converts a raw engine output into float32 CHW data
func ToCHW(t infer.Tensor) (channels, height, width int, data []float32, err error) {
	channels, height, width, err = t.Geometry()
	if err != nil {
		return 0, 0, 0, nil, err
	}
	if channels <= 0 || height <= 0 || width <= 0 {
		return 0, 0, 0, nil, errors.Wrapf(infer.ErrInvalidTensor, "%s: dims %v", t.Name, t.Dims)
	}

	values, err := t.Floats()
	if err != nil {
		return 0, 0, 0, nil, err
	}

	if t.Format != infer.FormatNHWC {
		return channels, height, width, values, nil
	}
	chw := make([]float32, len(values))
	transform.ConvertNHWCtoNCHWF32(values, chw, height, width, channels)
	return channels, height, width, chw, nil
}

type plane struct {
	name     string
	channels int
	data     []float32
}

type headKey struct{ h, w int }

// PairHeads groups engine outputs into heads by feature size. For each size
// the 4-channel tensor is the regression map and the other the
// classification map. When both have 4 channels, a tensor whose name
// mentions reg, box or bbox is taken as the regression map.
//
// Heads that cannot be completed or resolved are dropped; the returned error
// describes every dropped head and tensor and is nil when nothing was lost.
// Heads are ordered by feature height, largest first.
func PairHeads(tensors []infer.Tensor) ([]HeadTensor, error) {
	var problems []error
	groups := make(map[headKey][]plane)
	var order []headKey

	for _, t := range tensors {
		c, h, w, data, err := ToCHW(t)
		if err != nil {
			problems = append(problems, err)
			continue
		}
		k := headKey{h, w}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], plane{name: t.Name, channels: c, data: data})
	}

	var heads []HeadTensor
	for _, k := range order {
		head, err := assemble(k, groups[k])
		if err != nil {
			problems = append(problems, err)
			continue
		}
		heads = append(heads, head)
	}

	sort.SliceStable(heads, func(i, j int) bool {
		if heads[i].FeatH != heads[j].FeatH {
			return heads[i].FeatH > heads[j].FeatH
		}
		return heads[i].FeatW > heads[j].FeatW
	})

	return heads, errors.Join(problems...)
}

func assemble(k headKey, planes []plane) (HeadTensor, error) {
	if len(planes) != 2 {
		if len(planes) > 2 {
			return HeadTensor{}, errors.Wrapf(ErrAmbiguousHead, "%dx%d has %d tensors", k.h, k.w, len(planes))
		}
		return HeadTensor{}, errors.Wrapf(ErrIncompleteHead, "%dx%d has a single tensor %q", k.h, k.w, planes[0].name)
	}

	a, b := planes[0], planes[1]
	var reg, cls plane
	switch {
	case a.channels == RegChannels && b.channels != RegChannels:
		reg, cls = a, b
	case b.channels == RegChannels && a.channels != RegChannels:
		reg, cls = b, a
	case a.channels == RegChannels && b.channels == RegChannels:
		ra, rb := isRegName(a.name), isRegName(b.name)
		switch {
		case ra && !rb:
			reg, cls = a, b
		case rb && !ra:
			reg, cls = b, a
		default:
			return HeadTensor{}, errors.Wrapf(ErrAmbiguousHead, "%dx%d: %q and %q both have 4 channels", k.h, k.w, a.name, b.name)
		}
	default:
		return HeadTensor{}, errors.Wrapf(ErrIncompleteHead, "%dx%d: no 4-channel regression map among %q and %q", k.h, k.w, a.name, b.name)
	}

	return HeadTensor{
		FeatH:      k.h,
		FeatW:      k.w,
		NumClasses: cls.channels,
		Reg:        reg.data,
		Cls:        cls.data,
	}, nil
}

func isRegName(name string) bool {
	n := strings.ToLower(name)
	return strings.Contains(n, "reg") || strings.Contains(n, "box")
}
