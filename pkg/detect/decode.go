package detect

import (
	"math"

	"github.com/emergingrobotics/go-vpipe/pkg/transform"
)

// sigmoidLimit bounds the logit so exp never overflows float32
const sigmoidLimit = 88

// strideTolerance is the largest allowed difference between the horizontal
// and vertical stride of a head
const strideTolerance = 1e-6

// Sigmoid is a saturating logistic function
func Sigmoid(x float32) float32 {
	if x != x {
		return 0
	}
	if x > sigmoidLimit {
		x = sigmoidLimit
	} else if x < -sigmoidLimit {
		x = -sigmoidLimit
	}
	return float32(1 / (1 + math.Exp(-float64(x))))
}

// Decoder turns head tensors into candidate boxes in original-frame pixels
type Decoder struct {
	InputWidth    int
	InputHeight   int
	ConfThreshold float32
}

// NewDecoder creates a decoder for the configured model input size
func NewDecoder(cfg Config) Decoder {
	return Decoder{
		InputWidth:    cfg.InputWidth,
		InputHeight:   cfg.InputHeight,
		ConfThreshold: cfg.ConfThreshold,
	}
}

// Stride returns the stride of a head and whether both axes agree
func (d Decoder) Stride(h HeadTensor) (float64, bool) {
	if h.FeatH <= 0 || h.FeatW <= 0 {
		return 0, false
	}
	sh := float64(d.InputHeight) / float64(h.FeatH)
	sw := float64(d.InputWidth) / float64(h.FeatW)
	return sh, math.Abs(sh-sw) <= strideTolerance
}

// Decode emits one candidate per grid cell whose best class score reaches
// the confidence threshold. Invalid heads and heads with unequal strides are
// skipped. Candidates are ordered by head, then row, then column.
func (d Decoder) Decode(heads []HeadTensor, origW, origH int) []transform.Candidate {
	if origW <= 0 || origH <= 0 || d.InputWidth <= 0 || d.InputHeight <= 0 {
		return nil
	}
	sx := float64(origW) / float64(d.InputWidth)
	sy := float64(origH) / float64(d.InputHeight)

	var out []transform.Candidate
	for _, h := range heads {
		if !h.Valid() {
			continue
		}
		stride, ok := d.Stride(h)
		if !ok {
			continue
		}
		out = d.decodeHead(out, h, float32(stride), sx, sy, float32(origW), float32(origH))
	}
	return out
}

func (d Decoder) decodeHead(out []transform.Candidate, h HeadTensor, stride float32, sx, sy float64, ow, oh float32) []transform.Candidate {
	hw := h.FeatH * h.FeatW
	for row := 0; row < h.FeatH; row++ {
		for col := 0; col < h.FeatW; col++ {
			idx := row*h.FeatW + col

			best, bestScore := -1, float32(-1)
			for c := 0; c < h.NumClasses; c++ {
				if s := Sigmoid(h.Cls[c*hw+idx]); s > bestScore {
					best, bestScore = c, s
				}
			}
			if best < 0 || bestScore < d.ConfThreshold {
				continue
			}

			cx := float32(col) + 0.5
			cy := float32(row) + 0.5
			box := transform.Box{
				X1: (cx - h.Reg[0*hw+idx]) * stride,
				Y1: (cy - h.Reg[1*hw+idx]) * stride,
				X2: (cx + h.Reg[2*hw+idx]) * stride,
				Y2: (cy + h.Reg[3*hw+idx]) * stride,
			}
			// negative distances invert the box
			b := box.Scale(sx, sy).Clamp(ow, oh)
			if b.X2 <= b.X1 || b.Y2 <= b.Y1 {
				continue
			}
			out = append(out, transform.Candidate{
				Box:     b,
				Score:   bestScore,
				ClassID: best,
			})
		}
	}
	return out
}
