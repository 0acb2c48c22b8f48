package meta

import (
	"fmt"
	"sync/atomic"
)

// Frame is a decoded video frame and its annotations.
//
// The image payload and the frame identity are fixed at construction; stages
// that convert pixels create a new Frame with Derive, which keeps the same
// identity, target list and auxiliary buffers.
type Frame struct {
	channel        int
	index          uint64
	image          Image
	originalWidth  int
	originalHeight int
	fps            int

	targets *TargetList
	aux     *auxBuffers
}

type auxBuffers struct {
	overlay    atomic.Pointer[Image]
	mask       atomic.Pointer[Image]
	modelInput atomic.Pointer[Image]
}

// NewFrame creates a frame meta. originalWidth/originalHeight are the source
// stream dimensions that detection boxes are expressed in.
func NewFrame(channel int, index uint64, img Image, originalWidth, originalHeight, fps int) *Frame {
	return &Frame{
		channel:        channel,
		index:          index,
		image:          img,
		originalWidth:  originalWidth,
		originalHeight: originalHeight,
		fps:            fps,
		targets:        &TargetList{},
		aux:            &auxBuffers{},
	}
}

// Derive returns a frame with a new payload sharing this frame's identity,
// targets and auxiliary buffers
func (f *Frame) Derive(img Image, originalWidth, originalHeight int) *Frame {
	return &Frame{
		channel:        f.channel,
		index:          f.index,
		image:          img,
		originalWidth:  originalWidth,
		originalHeight: originalHeight,
		fps:            f.fps,
		targets:        f.targets,
		aux:            f.aux,
	}
}

func (f *Frame) Kind() Kind       { return KindFrame }
func (f *Frame) Channel() int     { return f.channel }
func (f *Frame) Sequence() uint64 { return f.index }
func (f *Frame) sealed()          {}

// Index is the per-channel frame index
func (f *Frame) Index() uint64 { return f.index }

// Image returns the payload. Callers must not write to its Data.
func (f *Frame) Image() Image { return f.image }

// OriginalSize returns the source stream dimensions
func (f *Frame) OriginalSize() (width, height int) {
	return f.originalWidth, f.originalHeight
}

// FPS is the declared source frame rate, 0 when unknown
func (f *Frame) FPS() int { return f.fps }

// Targets returns the append-only detection list
func (f *Frame) Targets() *TargetList { return f.targets }

// Overlay returns the rendered overlay copy if one was produced
func (f *Frame) Overlay() (Image, bool) { return load(&f.aux.overlay) }

// SetOverlay stores the overlay copy
func (f *Frame) SetOverlay(img Image) { f.aux.overlay.Store(&img) }

// Mask returns the auxiliary mask buffer
func (f *Frame) Mask() (Image, bool) { return load(&f.aux.mask) }

// SetMask stores the mask buffer
func (f *Frame) SetMask(img Image) { f.aux.mask.Store(&img) }

// ModelInput returns the preprocessed inference input
func (f *Frame) ModelInput() (Image, bool) { return load(&f.aux.modelInput) }

// SetModelInput stores the preprocessed inference input
func (f *Frame) SetModelInput(img Image) { f.aux.modelInput.Store(&img) }

func (f *Frame) String() string {
	return fmt.Sprintf("frame{ch=%d idx=%d %s %dx%d targets=%d}",
		f.channel, f.index, f.image.Format, f.image.Width, f.image.Height, f.targets.Len())
}

func load(p *atomic.Pointer[Image]) (Image, bool) {
	img := p.Load()
	if img == nil {
		return Image{}, false
	}
	return *img, true
}
