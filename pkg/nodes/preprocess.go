package nodes

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/emergingrobotics/go-vpipe/pkg/meta"
	"github.com/emergingrobotics/go-vpipe/pkg/transform"
)

// DefaultPreprocessLogEvery is the number of frames between progress logs
const DefaultPreprocessLogEvery = 300

// Preprocess turns NV12 frames into a full-size BGR frame carrying an RGB
// model input of the model's size
type Preprocess struct {
	passControls
	width    int
	height   int
	logEvery uint64
	log      *zap.SugaredLogger
	warn     *rate.Limiter

	scratch []byte
	frames  uint64
}

// NewPreprocess creates a stage for a width x height model. logEvery <= 0
// uses the default.
func NewPreprocess(width, height, logEvery int, log *zap.SugaredLogger) *Preprocess {
	if logEvery <= 0 {
		logEvery = DefaultPreprocessLogEvery
	}
	return &Preprocess{
		width:    width,
		height:   height,
		logEvery: uint64(logEvery),
		log:      nopIfNil(log),
		warn:     everySecond(),
	}
}

func (p *Preprocess) HandleFrame(ctx context.Context, f *meta.Frame) meta.Meta {
	img := f.Image()
	if err := checkNV12(img); err != nil {
		if p.warn.Allow() {
			p.log.Warnw("passing frame through unprocessed", "frame", f.Index(), "error", err)
		}
		return f
	}

	bgr := meta.NewImage(meta.FormatBGR, img.Width, img.Height)
	transform.ConvertNV12toBGR(img.Data, img.Stride, img.Width, img.Height, bgr.Data, false)

	if need := len(bgr.Data); len(p.scratch) != need {
		p.scratch = make([]byte, need)
	}
	transform.ConvertBGRtoRGB(bgr.Data, p.scratch)

	input := meta.NewImage(meta.FormatRGB, p.width, p.height)
	transform.ResizeBilinear(p.scratch, input.Data, img.Height, img.Width, img.Width*3, p.height, p.width, 3)

	ow, oh := f.OriginalSize()
	out := f.Derive(bgr, ow, oh)
	out.SetModelInput(input)

	p.frames++
	if p.frames%p.logEvery == 0 {
		p.log.Infow("preprocessed", "frames", p.frames,
			"frame_size", [2]int{img.Width, img.Height},
			"model_size", [2]int{p.width, p.height})
	}
	return out
}

// Frames returns the number of frames preprocessed
func (p *Preprocess) Frames() uint64 { return p.frames }
