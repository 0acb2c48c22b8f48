package nodes

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/emergingrobotics/go-vpipe/pkg/meta"
	"github.com/emergingrobotics/go-vpipe/pkg/transform"
)

// passControls forwards every control unchanged
type passControls struct{}

func (passControls) HandleControl(ctx context.Context, c *meta.Control) meta.Meta { return c }

func nopIfNil(log *zap.SugaredLogger) *zap.SugaredLogger {
	if log == nil {
		return zap.NewNop().Sugar()
	}
	return log
}

func everySecond() *rate.Limiter {
	return rate.NewLimiter(rate.Every(time.Second), 1)
}

// checkNV12 accepts NV12 images with an even width
func checkNV12(img meta.Image) error {
	if img.Format != meta.FormatNV12 {
		return errors.Wrapf(meta.ErrInvalidImage, "want nv12, got %s", img.Format)
	}
	if err := img.Validate(); err != nil {
		return err
	}
	if img.Width%2 != 0 {
		return errors.Wrapf(meta.ErrInvalidImage, "odd nv12 width %d", img.Width)
	}
	return nil
}

// NV12ToBGR converts frames to packed BGR. Frames it cannot convert pass
// through unchanged.
type NV12ToBGR struct {
	passControls
	log  *zap.SugaredLogger
	warn *rate.Limiter
}

func NewNV12ToBGR(log *zap.SugaredLogger) *NV12ToBGR {
	return &NV12ToBGR{log: nopIfNil(log), warn: everySecond()}
}

func (n *NV12ToBGR) HandleFrame(ctx context.Context, f *meta.Frame) meta.Meta {
	img := f.Image()
	if err := checkNV12(img); err != nil {
		if n.warn.Allow() {
			n.log.Warnw("passing frame through unconverted", "frame", f.Index(), "error", err)
		}
		return f
	}

	bgr := meta.NewImage(meta.FormatBGR, img.Width, img.Height)
	transform.ConvertNV12toBGR(img.Data, img.Stride, img.Width, img.Height, bgr.Data, false)
	ow, oh := f.OriginalSize()
	return f.Derive(bgr, ow, oh)
}

// BGRToNV12 converts packed frames to NV12, cropping odd dimensions to even
// ones. With UseOverlay the rendered overlay is converted when present.
type BGRToNV12 struct {
	passControls
	UseOverlay bool
	log        *zap.SugaredLogger
	warn       *rate.Limiter
}

func NewBGRToNV12(useOverlay bool, log *zap.SugaredLogger) *BGRToNV12 {
	return &BGRToNV12{UseOverlay: useOverlay, log: nopIfNil(log), warn: everySecond()}
}

func (n *BGRToNV12) HandleFrame(ctx context.Context, f *meta.Frame) meta.Meta {
	img := f.Image()
	if n.UseOverlay {
		if overlay, ok := f.Overlay(); ok {
			img = overlay
		}
	}

	w, h := img.Width&^1, img.Height&^1
	err := img.Validate()
	switch {
	case err != nil:
	case !img.Format.Packed():
		err = errors.Wrapf(meta.ErrInvalidImage, "want packed pixels, got %s", img.Format)
	case w == 0 || h == 0:
		err = errors.Wrapf(meta.ErrInvalidImage, "%dx%d is too small", img.Width, img.Height)
	}
	if err != nil {
		if n.warn.Allow() {
			n.log.Warnw("passing frame through unconverted", "frame", f.Index(), "error", err)
		}
		return f
	}

	src := img
	if img.Format == meta.FormatRGB {
		// the converter reads BGR order
		src = meta.NewImage(meta.FormatBGR, img.Width, img.Height)
		for y := 0; y < img.Height; y++ {
			transform.ConvertRGBtoBGR(img.Row(y), src.Row(y))
		}
	}

	nv12 := meta.NewImage(meta.FormatNV12, w, h)
	transform.ConvertBGRtoNV12(src.Data, src.Stride, w, h, nv12.Data)

	ow, oh := f.OriginalSize()
	if w != img.Width || h != img.Height {
		ow, oh = w, h
	}
	return f.Derive(nv12, ow, oh)
}
