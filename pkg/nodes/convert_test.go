//go:build unit

package nodes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/emergingrobotics/go-vpipe/pkg/meta"
	"github.com/emergingrobotics/go-vpipe/testutil"
)

func allBytes(t *testing.T, data []byte, want byte) {
	t.Helper()
	for i, v := range data {
		if v != want {
			t.Fatalf("byte %d = %d, want %d", i, v, want)
		}
	}
}

func TestNV12ToBGR(t *testing.T) {
	ctx := context.Background()
	conv := NewNV12ToBGR(zaptest.NewLogger(t).Sugar())
	in := meta.NewFrame(1, 9, testutil.MakeNV12(6, 4, 126, 128, 128), 6, 4, 25)
	in.Targets().Append(meta.DetectionTarget{Label: "bird"})

	out, ok := conv.HandleFrame(ctx, in).(*meta.Frame)
	require.True(t, ok)
	img := out.Image()
	assert.Equal(t, meta.FormatBGR, img.Format)
	assert.Equal(t, 18, img.Stride)
	allBytes(t, img.Data, 128)

	assert.Equal(t, uint64(9), out.Index())
	assert.Same(t, in.Targets(), out.Targets())
	assert.Equal(t, meta.FormatNV12, in.Image().Format, "input frame is not modified")
}

func TestNV12ToBGRPassesThroughUnconvertible(t *testing.T) {
	ctx := context.Background()
	conv := NewNV12ToBGR(nil)

	odd := meta.NewFrame(0, 0, testutil.MakeNV12(5, 4, 0, 128, 128), 5, 4, 0)
	assert.Same(t, odd, conv.HandleFrame(ctx, odd))

	packed := meta.NewFrame(0, 0, testutil.MakeBGR(4, 4, 1, 2, 3), 4, 4, 0)
	assert.Same(t, packed, conv.HandleFrame(ctx, packed))

	eos := meta.EndOfStream(0, 1)
	assert.Same(t, eos, conv.HandleControl(ctx, eos))
}

func TestBGRToNV12CropsToEvenSize(t *testing.T) {
	ctx := context.Background()
	conv := NewBGRToNV12(false, zaptest.NewLogger(t).Sugar())
	in := meta.NewFrame(0, 3, testutil.MakeBGR(5, 3, 128, 128, 128), 5, 3, 0)

	out, ok := conv.HandleFrame(ctx, in).(*meta.Frame)
	require.True(t, ok)
	img := out.Image()
	assert.Equal(t, meta.FormatNV12, img.Format)
	assert.Equal(t, []int{4, 2}, []int{img.Width, img.Height})

	luma, chroma := img.Planes()
	allBytes(t, luma, 126)
	allBytes(t, chroma, 128)

	w, h := out.OriginalSize()
	assert.Equal(t, []int{4, 2}, []int{w, h})
}

func TestBGRToNV12KeepsOriginalSizeWithoutCrop(t *testing.T) {
	conv := NewBGRToNV12(false, nil)
	in := meta.NewFrame(0, 0, testutil.MakeBGR(4, 2, 0, 0, 0), 1920, 1080, 0)
	out := conv.HandleFrame(context.Background(), in).(*meta.Frame)
	w, h := out.OriginalSize()
	assert.Equal(t, []int{1920, 1080}, []int{w, h})
}

func TestBGRToNV12UsesOverlay(t *testing.T) {
	ctx := context.Background()
	in := meta.NewFrame(0, 0, testutil.MakeBGR(4, 2, 0, 0, 0), 4, 2, 0)
	in.SetOverlay(testutil.MakeBGR(4, 2, 128, 128, 128))

	out := NewBGRToNV12(true, nil).HandleFrame(ctx, in).(*meta.Frame)
	luma, _ := out.Image().Planes()
	allBytes(t, luma, 126)

	plain := NewBGRToNV12(false, nil).HandleFrame(ctx, in).(*meta.Frame)
	luma, _ = plain.Image().Planes()
	allBytes(t, luma, 16)
}

func TestBGRToNV12AcceptsRGB(t *testing.T) {
	img := meta.NewImage(meta.FormatRGB, 2, 2)
	for i := 0; i < len(img.Data); i += 3 {
		img.Data[i] = 255 // red
	}
	in := meta.NewFrame(0, 0, img, 2, 2, 0)
	out := NewBGRToNV12(false, nil).HandleFrame(context.Background(), in).(*meta.Frame)

	luma, chroma := out.Image().Planes()
	// BT.601 red: Y 82, U 90, V 240
	allBytes(t, luma, 82)
	assert.Equal(t, []byte{90, 240}, chroma)
}

func TestBGRToNV12PassesThroughTooSmall(t *testing.T) {
	in := meta.NewFrame(0, 0, testutil.MakeBGR(1, 5, 0, 0, 0), 1, 5, 0)
	assert.Same(t, in, NewBGRToNV12(false, nil).HandleFrame(context.Background(), in))
}

func TestPreprocess(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zap.InfoLevel)
	pre := NewPreprocess(16, 8, 2, zap.New(core).Sugar())

	var last *meta.Frame
	for i := 0; i < 4; i++ {
		in := meta.NewFrame(0, uint64(i), testutil.MakeNV12(32, 16, 126, 128, 128), 1920, 1080, 30)
		out, ok := pre.HandleFrame(ctx, in).(*meta.Frame)
		require.True(t, ok)
		last = out
	}

	img := last.Image()
	assert.Equal(t, meta.FormatBGR, img.Format)
	assert.Equal(t, []int{32, 16}, []int{img.Width, img.Height})
	w, h := last.OriginalSize()
	assert.Equal(t, []int{1920, 1080}, []int{w, h})

	input, ok := last.ModelInput()
	require.True(t, ok)
	assert.Equal(t, meta.FormatRGB, input.Format)
	assert.Equal(t, []int{16, 8}, []int{input.Width, input.Height})
	allBytes(t, input.Data, 128)

	assert.Equal(t, uint64(4), pre.Frames())
	assert.Equal(t, 2, logs.FilterMessage("preprocessed").Len())
}

func TestPreprocessPassesThroughPackedFrames(t *testing.T) {
	pre := NewPreprocess(16, 8, 0, nil)
	in := meta.NewFrame(0, 0, testutil.MakeBGR(4, 4, 0, 0, 0), 4, 4, 0)
	out := pre.HandleFrame(context.Background(), in)
	assert.Same(t, in, out)
	_, ok := in.ModelInput()
	assert.False(t, ok)
}
