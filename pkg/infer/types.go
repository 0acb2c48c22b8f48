package infer

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cockroachdb/errors"

	"github.com/emergingrobotics/go-vpipe/pkg/transform"
)

// DataType represents the data type of a tensor
type DataType int

const (
	DataTypeUint8 DataType = iota
	DataTypeUint16
	DataTypeFloat32
)

func (d DataType) String() string {
	switch d {
	case DataTypeUint8:
		return "uint8"
	case DataTypeUint16:
		return "uint16"
	case DataTypeFloat32:
		return "float32"
	default:
		return fmt.Sprintf("dtype(%d)", int(d))
	}
}

// ElemSize returns the element size in bytes
func (d DataType) ElemSize() int {
	switch d {
	case DataTypeUint16:
		return 2
	case DataTypeFloat32:
		return 4
	default:
		return 1
	}
}

// Format represents the tensor layout
type Format int

const (
	// FormatNCHW is [1, C, H, W]
	FormatNCHW Format = iota
	// FormatNHWC is [1, H, W, C]
	FormatNHWC
	// FormatCHW is [C, H, W] without a batch dimension
	FormatCHW
)

func (f Format) String() string {
	switch f {
	case FormatNCHW:
		return "nchw"
	case FormatNHWC:
		return "nhwc"
	case FormatCHW:
		return "chw"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// Shape represents image-like tensor dimensions
type Shape struct {
	Height   int
	Width    int
	Channels int
}

// Size returns the total number of elements
func (s Shape) Size() int {
	return s.Height * s.Width * s.Channels
}

// StreamInfo describes the engine input
type StreamInfo struct {
	Name     string
	Shape    Shape
	DataType DataType
	Format   Format
}

// FrameSize returns the size in bytes for a single frame
func (s StreamInfo) FrameSize() int {
	return s.Shape.Size() * s.DataType.ElemSize()
}

// Tensor is one raw engine output. Float32 tensors carry their values in
// Float; quantized tensors carry little-endian bytes in Raw together with
// their quantization parameters.
type Tensor struct {
	Name     string
	Dims     []int
	Format   Format
	DataType DataType
	Quant    transform.QuantInfo

	Float []float32
	Raw   []byte
}

// Elements returns the product of the dimensions
func (t Tensor) Elements() int {
	if len(t.Dims) == 0 {
		return 0
	}
	n := 1
	for _, d := range t.Dims {
		n *= d
	}
	return n
}

// Geometry returns channels, height and width according to the layout
func (t Tensor) Geometry() (channels, height, width int, err error) {
	switch t.Format {
	case FormatNCHW:
		if len(t.Dims) != 4 {
			break
		}
		if t.Dims[0] != 1 {
			return 0, 0, 0, errors.Wrapf(ErrInvalidTensor, "%s: batch %d", t.Name, t.Dims[0])
		}
		return t.Dims[1], t.Dims[2], t.Dims[3], nil
	case FormatNHWC:
		if len(t.Dims) != 4 {
			break
		}
		if t.Dims[0] != 1 {
			return 0, 0, 0, errors.Wrapf(ErrInvalidTensor, "%s: batch %d", t.Name, t.Dims[0])
		}
		return t.Dims[3], t.Dims[1], t.Dims[2], nil
	case FormatCHW:
		if len(t.Dims) != 3 {
			break
		}
		return t.Dims[0], t.Dims[1], t.Dims[2], nil
	default:
		return 0, 0, 0, errors.Wrapf(ErrUnsupportedLayout, "%s: %s", t.Name, t.Format)
	}
	return 0, 0, 0, errors.Wrapf(ErrUnsupportedLayout, "%s: %s with dims %v", t.Name, t.Format, t.Dims)
}

// Floats returns the tensor values as float32 in their stored layout,
// dequantizing when needed
func (t Tensor) Floats() ([]float32, error) {
	n := t.Elements()
	switch t.DataType {
	case DataTypeFloat32:
		if t.Float != nil {
			if len(t.Float) != n {
				return nil, errors.Wrapf(ErrBufferSizeMismatch, "%s: %d values for dims %v", t.Name, len(t.Float), t.Dims)
			}
			return t.Float, nil
		}
		if len(t.Raw) != n*4 {
			return nil, errors.Wrapf(ErrBufferSizeMismatch, "%s: %d bytes for dims %v", t.Name, len(t.Raw), t.Dims)
		}
		out := make([]float32, n)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.Raw[i*4:]))
		}
		return out, nil
	case DataTypeUint8:
		if len(t.Raw) != n {
			return nil, errors.Wrapf(ErrBufferSizeMismatch, "%s: %d bytes for dims %v", t.Name, len(t.Raw), t.Dims)
		}
		out := make([]float32, n)
		transform.DequantizeBatch(t.Raw, out, t.Quant)
		return out, nil
	case DataTypeUint16:
		if len(t.Raw) != n*2 {
			return nil, errors.Wrapf(ErrBufferSizeMismatch, "%s: %d bytes for dims %v", t.Name, len(t.Raw), t.Dims)
		}
		vals := make([]uint16, n)
		for i := range vals {
			vals[i] = binary.LittleEndian.Uint16(t.Raw[i*2:])
		}
		out := make([]float32, n)
		transform.DequantizeU16Batch(vals, out, t.Quant)
		return out, nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedType, "%s: %s", t.Name, t.DataType)
	}
}
