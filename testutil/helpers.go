package testutil

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/emergingrobotics/go-vpipe/pkg/meta"
	"github.com/emergingrobotics/go-vpipe/pkg/video"
)

// TempFile creates a temporary file with given content
func TempFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	err := os.WriteFile(path, content, 0644)
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	return path
}

// MakeNV12 creates a tightly packed NV12 image of one colour
func MakeNV12(width, height int, y, u, v byte) meta.Image {
	img := meta.NewImage(meta.FormatNV12, width, height)
	luma, chroma := img.Planes()
	for i := range luma {
		luma[i] = y
	}
	for i := 0; i+1 < len(chroma); i += 2 {
		chroma[i] = u
		chroma[i+1] = v
	}
	return img
}

// MakeBGR creates a tightly packed BGR image of one colour
func MakeBGR(width, height int, b, g, r byte) meta.Image {
	img := meta.NewImage(meta.FormatBGR, width, height)
	for i := 0; i < len(img.Data); i += 3 {
		img.Data[i], img.Data[i+1], img.Data[i+2] = b, g, r
	}
	return img
}

// MakeBuffer wraps a packed NV12 image in a decoder buffer whose rows are
// padded by pad bytes
func MakeBuffer(img meta.Image, pad int) *video.Buffer {
	stride := img.Width + pad
	luma, chroma := img.Planes()
	chromaRows := (img.Height + 1) / 2

	buf := &video.Buffer{
		Width:    img.Width,
		Height:   img.Height,
		YStride:  stride,
		UVStride: stride,
		Y:        make([]byte, stride*img.Height),
		UV:       make([]byte, stride*chromaRows),
	}
	for y := 0; y < img.Height; y++ {
		copy(buf.Y[y*stride:y*stride+img.Width], luma[y*img.Stride:])
	}
	for y := 0; y < chromaRows; y++ {
		copy(buf.UV[y*stride:y*stride+img.Width], chroma[y*img.Stride:])
	}
	return buf
}

// GrayBuffers returns n padded mid-grey pictures
func GrayBuffers(n, width, height int) []*video.Buffer {
	out := make([]*video.Buffer, n)
	for i := range out {
		out[i] = MakeBuffer(MakeNV12(width, height, 126, 128, 128), 16)
	}
	return out
}

// Collect gathers every meta emitted by a source producer
type Collect struct {
	mu    sync.Mutex
	items []meta.Meta
}

// Emit is a producer emit function
func (c *Collect) Emit(m meta.Meta) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, m)
}

// Items returns everything emitted so far
func (c *Collect) Items() []meta.Meta {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]meta.Meta(nil), c.items...)
}

// Frames returns the emitted frames
func (c *Collect) Frames() []*meta.Frame {
	var out []*meta.Frame
	for _, m := range c.Items() {
		if f, ok := m.(*meta.Frame); ok {
			out = append(out, f)
		}
	}
	return out
}

// Controls returns the emitted controls
func (c *Collect) Controls() []*meta.Control {
	var out []*meta.Control
	for _, m := range c.Items() {
		if ctl, ok := m.(*meta.Control); ok {
			out = append(out, ctl)
		}
	}
	return out
}

// WaitFrames waits until at least n frames were emitted
func (c *Collect) WaitFrames(t *testing.T, n int, timeout time.Duration) []*meta.Frame {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		frames := c.Frames()
		if len(frames) >= n {
			return frames
		}
		if time.Now().After(deadline) {
			t.Fatalf("got %d frames within %s, want %d", len(frames), timeout, n)
		}
		time.Sleep(time.Millisecond)
	}
}

// Context returns a context cancelled when the test ends
func Context(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
