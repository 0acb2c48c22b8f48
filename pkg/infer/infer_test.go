//go:build unit

package infer

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergingrobotics/go-vpipe/pkg/transform"
)

type stubEngine struct {
	info   StreamInfo
	out    []Tensor
	err    error
	delay  time.Duration
	closed bool
}

func (e *stubEngine) InputInfo() StreamInfo { return e.info }

func (e *stubEngine) Infer(ctx context.Context, _ []byte) ([]Tensor, error) {
	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return e.out, e.err
}

func (e *stubEngine) Close() error { e.closed = true; return nil }

func rgbInfo(w, h int) StreamInfo {
	return StreamInfo{Name: "in", Shape: Shape{Height: h, Width: w, Channels: 3}, DataType: DataTypeUint8, Format: FormatNHWC}
}

func TestStreamInfoFrameSize(t *testing.T) {
	assert.Equal(t, 640*352*3, rgbInfo(640, 352).FrameSize())
	f := StreamInfo{Shape: Shape{2, 2, 1}, DataType: DataTypeFloat32}
	assert.Equal(t, 16, f.FrameSize())
}

func TestTensorGeometry(t *testing.T) {
	tests := []struct {
		name    string
		tensor  Tensor
		c, h, w int
		wantErr error
	}{
		{"nchw", Tensor{Dims: []int{1, 4, 22, 40}, Format: FormatNCHW}, 4, 22, 40, nil},
		{"nhwc", Tensor{Dims: []int{1, 22, 40, 2}, Format: FormatNHWC}, 2, 22, 40, nil},
		{"chw", Tensor{Dims: []int{80, 11, 20}, Format: FormatCHW}, 80, 11, 20, nil},
		{"batch", Tensor{Dims: []int{2, 4, 22, 40}, Format: FormatNCHW}, 0, 0, 0, ErrInvalidTensor},
		{"rank", Tensor{Dims: []int{4, 22, 40}, Format: FormatNCHW}, 0, 0, 0, ErrUnsupportedLayout},
		{"unknown", Tensor{Dims: []int{4, 22, 40}, Format: Format(9)}, 0, 0, 0, ErrUnsupportedLayout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, h, w, err := tt.tensor.Geometry()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []int{tt.c, tt.h, tt.w}, []int{c, h, w})
		})
	}
}

func TestTensorFloats(t *testing.T) {
	dims := []int{1, 1, 2, 2}

	f, err := Tensor{Dims: dims, DataType: DataTypeFloat32, Float: []float32{1, 2, 3, 4}}.Floats()
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4}, f)

	raw := make([]byte, 16)
	for i, v := range []float32{0.5, -1, 2, 8} {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}
	f, err = Tensor{Dims: dims, DataType: DataTypeFloat32, Raw: raw}.Floats()
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, -1, 2, 8}, f)

	qi := transform.QuantInfo{Scale: 0.5, ZeroPoint: 10}
	f, err = Tensor{Dims: dims, DataType: DataTypeUint8, Raw: []byte{10, 12, 8, 30}, Quant: qi}.Floats()
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1, -1, 10}, f)

	raw16 := make([]byte, 8)
	for i, v := range []uint16{10, 12, 8, 30} {
		binary.LittleEndian.PutUint16(raw16[i*2:], v)
	}
	f, err = Tensor{Dims: dims, DataType: DataTypeUint16, Raw: raw16, Quant: qi}.Floats()
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1, -1, 10}, f)

	_, err = Tensor{Dims: dims, DataType: DataTypeUint8, Raw: []byte{1}}.Floats()
	assert.ErrorIs(t, err, ErrBufferSizeMismatch)
	_, err = Tensor{Dims: dims, DataType: DataTypeFloat32, Float: []float32{1}}.Floats()
	assert.ErrorIs(t, err, ErrBufferSizeMismatch)
	_, err = Tensor{Dims: dims, DataType: DataType(7)}.Floats()
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestSessionValidatesInput(t *testing.T) {
	eng := &stubEngine{info: rgbInfo(4, 2), out: []Tensor{{Name: "x"}}}
	s, err := NewSession(eng)
	require.NoError(t, err)

	_, err = s.Infer(context.Background(), make([]byte, 5))
	assert.ErrorIs(t, err, ErrInputSizeMismatch)

	out, err := s.Infer(context.Background(), make([]byte, 24))
	require.NoError(t, err)
	assert.Len(t, out, 1)

	stats := s.GetStats()
	assert.Equal(t, int64(1), stats.InferenceCount)
	assert.Equal(t, stats.TotalLatencyNs, stats.AverageLatencyNs)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.True(t, eng.closed)
	_, err = s.Infer(context.Background(), make([]byte, 24))
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestSessionRejectsBadEngine(t *testing.T) {
	_, err := NewSession(nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = NewSession(&stubEngine{info: rgbInfo(0, 10)})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSessionTimeout(t *testing.T) {
	eng := &stubEngine{info: rgbInfo(1, 1), delay: time.Second}
	s, err := NewSession(eng, WithTimeout(10*time.Millisecond))
	require.NoError(t, err)

	_, err = s.Infer(context.Background(), make([]byte, 3))
	assert.ErrorIs(t, err, ErrInferenceTimeout)
	assert.Equal(t, int64(1), s.GetStats().Failures)
}

// slowEngine ignores ctx and records overlapping calls
type slowEngine struct {
	info     StreamInfo
	delay    time.Duration
	active   atomic.Int32
	peak     atomic.Int32
	calls    atomic.Int32
	busyShut atomic.Bool
	closed   atomic.Bool
}

func (e *slowEngine) InputInfo() StreamInfo { return e.info }

func (e *slowEngine) Infer(ctx context.Context, _ []byte) ([]Tensor, error) {
	n := e.active.Add(1)
	defer e.active.Add(-1)
	e.calls.Add(1)
	for {
		p := e.peak.Load()
		if n <= p || e.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(e.delay)
	return []Tensor{{Name: "out", Dims: []int{1}, DataType: DataTypeFloat32, Float: []float32{0}}}, nil
}

func (e *slowEngine) Close() error {
	if e.active.Load() > 0 {
		e.busyShut.Store(true)
	}
	e.closed.Store(true)
	return nil
}

func TestSessionNeverOverlapsEngineCalls(t *testing.T) {
	eng := &slowEngine{info: rgbInfo(1, 1), delay: 50 * time.Millisecond}
	s, err := NewSession(eng, WithTimeout(5*time.Millisecond))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Infer(context.Background(), make([]byte, 3))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	require.NoError(t, s.Close())

	assert.Equal(t, int32(3), eng.calls.Load())
	assert.Equal(t, int32(1), eng.peak.Load())
	assert.False(t, eng.busyShut.Load())
	assert.True(t, eng.closed.Load())
}

func TestSessionCloseWaitsForInflightCall(t *testing.T) {
	eng := &slowEngine{info: rgbInfo(1, 1), delay: 100 * time.Millisecond}
	s, err := NewSession(eng)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Infer(context.Background(), make([]byte, 3))
		}()
	}
	require.Eventually(t, func() bool { return eng.active.Load() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, s.Close())
	wg.Wait()

	assert.False(t, eng.busyShut.Load())
	assert.Equal(t, int32(1), eng.peak.Load())
	_, err = s.Infer(context.Background(), make([]byte, 3))
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestSessionNoOutputs(t *testing.T) {
	s, err := NewSession(&stubEngine{info: rgbInfo(1, 1)})
	require.NoError(t, err)
	_, err = s.Infer(context.Background(), make([]byte, 3))
	assert.ErrorIs(t, err, ErrNoOutputs)
}

func TestNullEngine(t *testing.T) {
	e := NewNullEngine(640, 352, 2)
	assert.Equal(t, 640*352*3, e.InputInfo().FrameSize())

	out, err := e.Infer(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, out, 6)

	c, h, w, err := out[2].Geometry()
	require.NoError(t, err)
	assert.Equal(t, []int{4, 22, 40}, []int{c, h, w})

	require.NoError(t, e.Close())
	_, err = e.Infer(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEngineClosed)
}
