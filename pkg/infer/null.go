package infer

import (
	"context"
	"fmt"
	"sync/atomic"
)

// NullEngine is a pure-Go engine that produces well-formed detection heads
// with every class logit far below any threshold. It lets a pipeline run end
// to end without an accelerator.
type NullEngine struct {
	info    StreamInfo
	classes int
	strides []int
	closed  atomic.Bool
}

// NewNullEngine creates a NullEngine for a width x height RGB input. strides
// defaults to 8, 16 and 32.
func NewNullEngine(width, height, classes int, strides ...int) *NullEngine {
	if len(strides) == 0 {
		strides = []int{8, 16, 32}
	}
	return &NullEngine{
		info: StreamInfo{
			Name:     "images",
			Shape:    Shape{Height: height, Width: width, Channels: 3},
			DataType: DataTypeUint8,
			Format:   FormatNHWC,
		},
		classes: classes,
		strides: strides,
	}
}

func (e *NullEngine) InputInfo() StreamInfo { return e.info }

func (e *NullEngine) Infer(ctx context.Context, input []byte) ([]Tensor, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []Tensor
	for _, s := range e.strides {
		h, w := e.info.Shape.Height/s, e.info.Shape.Width/s
		if h == 0 || w == 0 {
			continue
		}
		reg := make([]float32, 4*h*w)
		cls := make([]float32, e.classes*h*w)
		for i := range cls {
			cls[i] = -20
		}
		out = append(out,
			Tensor{Name: fmt.Sprintf("reg_s%d", s), Dims: []int{1, 4, h, w}, Format: FormatNCHW, DataType: DataTypeFloat32, Float: reg},
			Tensor{Name: fmt.Sprintf("cls_s%d", s), Dims: []int{1, e.classes, h, w}, Format: FormatNCHW, DataType: DataTypeFloat32, Float: cls},
		)
	}
	return out, nil
}

func (e *NullEngine) Close() error {
	e.closed.Store(true)
	return nil
}
