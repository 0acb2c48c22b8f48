// Package video defines the decoder and writer boundaries of the pipeline,
// the page-aligned buffer pool behind decoded pictures, and pure-Go
// reference implementations of both ends.
package video

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/emergingrobotics/go-vpipe/pkg/meta"
)

// ErrInvalidBuffer is returned for pictures whose planes do not cover their
// declared geometry
var ErrInvalidBuffer = errors.New("invalid decoded buffer")

// Buffer is one decoded NV12 picture. The planes may be padded: YStride and
// UVStride are row pitches in bytes and each plane may hold extra rows.
type Buffer struct {
	Width    int
	Height   int
	YStride  int
	UVStride int
	Y        []byte
	UV       []byte
	PTS      time.Duration

	// Err marks a picture the decoder could not reconstruct
	Err bool
	// Discard marks a picture the decoder wants dropped
	Discard bool

	block *Block
}

// Skip reports whether the picture must not enter the pipeline
func (b *Buffer) Skip() bool {
	return b.Err || b.Discard
}

func (b *Buffer) chromaRows() int {
	return (b.Height + 1) / 2
}

// Validate checks that both planes cover the picture
func (b *Buffer) Validate() error {
	if b.Width <= 0 || b.Height <= 0 {
		return errors.Wrapf(ErrInvalidBuffer, "size %dx%d", b.Width, b.Height)
	}
	if b.YStride < b.Width || b.UVStride < b.Width {
		return errors.Wrapf(ErrInvalidBuffer, "strides %d/%d below width %d", b.YStride, b.UVStride, b.Width)
	}
	if need := b.YStride*(b.Height-1) + b.Width; len(b.Y) < need {
		return errors.Wrapf(ErrInvalidBuffer, "luma plane %d bytes, want %d", len(b.Y), need)
	}
	if need := b.UVStride*(b.chromaRows()-1) + b.Width; len(b.UV) < need {
		return errors.Wrapf(ErrInvalidBuffer, "chroma plane %d bytes, want %d", len(b.UV), need)
	}
	return nil
}

// CopyTo packs the picture into dst, dropping row padding. dst must be a
// tightly packed NV12 image of the same size.
func (b *Buffer) CopyTo(dst meta.Image) error {
	if err := b.Validate(); err != nil {
		return err
	}
	if dst.Format != meta.FormatNV12 || dst.Width != b.Width || dst.Height != b.Height {
		return errors.Wrapf(ErrInvalidBuffer, "destination %s %dx%d for %dx%d picture",
			dst.Format, dst.Width, dst.Height, b.Width, b.Height)
	}
	if err := dst.Validate(); err != nil {
		return err
	}

	luma, chroma := dst.Planes()
	for y := 0; y < b.Height; y++ {
		copy(luma[y*dst.Stride:y*dst.Stride+b.Width], b.Y[y*b.YStride:])
	}
	for y := 0; y < b.chromaRows(); y++ {
		copy(chroma[y*dst.Stride:y*dst.Stride+b.Width], b.UV[y*b.UVStride:])
	}
	return nil
}

// Image returns a tightly packed copy of the picture
func (b *Buffer) Image() (meta.Image, error) {
	img := meta.NewImage(meta.FormatNV12, b.Width, b.Height)
	if err := b.CopyTo(img); err != nil {
		return meta.Image{}, err
	}
	return img, nil
}

// Release returns pool-backed storage. The planes must not be used
// afterwards.
func (b *Buffer) Release() {
	if b.block != nil {
		b.block.Release()
		b.block = nil
		b.Y, b.UV = nil, nil
	}
}
