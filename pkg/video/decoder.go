package video

import (
	"context"

	"github.com/emergingrobotics/go-vpipe/pkg/meta"
)

// Decoder produces NV12 pictures. Next returns io.EOF at the end of the
// stream; a decoder may be opened again after Close to replay it.
type Decoder interface {
	Open(ctx context.Context) error
	Next(ctx context.Context) (*Buffer, error)
	// FPS is the nominal stream rate, 0 when unknown
	FPS() int
	Close() error
}

// Writer consumes images. Open is called once with the geometry and
// rate of the first image.
type Writer interface {
	Open(width, height, fps int) error
	Write(img meta.Image) error
	Close() error
}
