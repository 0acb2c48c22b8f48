package meta

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// PixelFormat describes an image payload layout
type PixelFormat int

const (
	// FormatNV12 is a luma plane followed by an interleaved UV plane at half
	// vertical resolution
	FormatNV12 PixelFormat = iota
	// FormatBGR is packed 8-bit BGR
	FormatBGR
	// FormatRGB is packed 8-bit RGB
	FormatRGB
)

func (f PixelFormat) String() string {
	switch f {
	case FormatNV12:
		return "nv12"
	case FormatBGR:
		return "bgr"
	case FormatRGB:
		return "rgb"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// Packed reports whether the format stores all channels in one plane
func (f PixelFormat) Packed() bool {
	return f == FormatBGR || f == FormatRGB
}

// ErrInvalidImage is returned for payloads that do not match their header
var ErrInvalidImage = errors.New("invalid image")

// Image is a pixel buffer. Stride is the row pitch in bytes and may exceed
// the logical row size because of alignment padding.
type Image struct {
	Format PixelFormat
	Width  int
	Height int
	Stride int
	Data   []byte
}

// MinStride returns the tight row pitch for a format
func MinStride(format PixelFormat, width int) int {
	if format.Packed() {
		return width * 3
	}
	return width
}

// SizeFor returns the byte size of a payload with the given row pitch
func SizeFor(format PixelFormat, stride, height int) int {
	if format == FormatNV12 {
		return stride*height + stride*((height+1)/2)
	}
	return stride * height
}

// NewImage allocates a tightly packed image
func NewImage(format PixelFormat, width, height int) Image {
	stride := MinStride(format, width)
	return Image{
		Format: format,
		Width:  width,
		Height: height,
		Stride: stride,
		Data:   make([]byte, SizeFor(format, stride, height)),
	}
}

// Empty reports whether the image carries no pixels
func (img Image) Empty() bool {
	return img.Width == 0 || img.Height == 0 || len(img.Data) == 0
}

// Validate checks the header against the payload size
func (img Image) Validate() error {
	if img.Width <= 0 || img.Height <= 0 {
		return errors.Wrapf(ErrInvalidImage, "non-positive size %dx%d", img.Width, img.Height)
	}
	if img.Stride < MinStride(img.Format, img.Width) {
		return errors.Wrapf(ErrInvalidImage, "stride %d below row size for %s width %d",
			img.Stride, img.Format, img.Width)
	}
	if want := SizeFor(img.Format, img.Stride, img.Height); len(img.Data) < want {
		return errors.Wrapf(ErrInvalidImage, "%s payload %d bytes, want %d", img.Format, len(img.Data), want)
	}
	return nil
}

// Clone returns a deep copy
func (img Image) Clone() Image {
	out := img
	out.Data = make([]byte, len(img.Data))
	copy(out.Data, img.Data)
	return out
}

// Row returns the bytes of row y of a packed image
func (img Image) Row(y int) []byte {
	start := y * img.Stride
	return img.Data[start : start+MinStride(img.Format, img.Width)]
}

// Planes returns the luma and chroma planes of an NV12 image
func (img Image) Planes() (luma, chroma []byte) {
	split := img.Stride * img.Height
	return img.Data[:split], img.Data[split:]
}
