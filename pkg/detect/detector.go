package detect

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/emergingrobotics/go-vpipe/pkg/infer"
	"github.com/emergingrobotics/go-vpipe/pkg/meta"
)

// ErrInvalidGeometry is returned when the original frame size is unusable
var ErrInvalidGeometry = errors.New("invalid original frame size")

// Detector runs a model session and turns its outputs into targets
type Detector struct {
	cfg     Config
	session *infer.Session
	post    *Postprocessor
	log     *zap.SugaredLogger
	warn    *rate.Limiter
}

// NewDetector validates cfg against the engine. The engine's own input size
// wins over the configured one.
func NewDetector(cfg Config, session *infer.Session, log *zap.SugaredLogger) (*Detector, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if session == nil {
		return nil, errors.New("detector needs a session")
	}

	info := session.InputInfo()
	if info.Shape.Width != cfg.InputWidth || info.Shape.Height != cfg.InputHeight {
		log.Infow("using engine input size",
			"configured", [2]int{cfg.InputWidth, cfg.InputHeight},
			"engine", [2]int{info.Shape.Width, info.Shape.Height})
		cfg.InputWidth = info.Shape.Width
		cfg.InputHeight = info.Shape.Height
	}
	if info.Shape.Channels != 3 || info.DataType != infer.DataTypeUint8 {
		return nil, errors.Wrapf(ErrInvalidConfig, "engine input must be packed uint8 RGB, got %d channels of %s",
			info.Shape.Channels, info.DataType)
	}

	post, err := NewPostprocessor(cfg)
	if err != nil {
		return nil, err
	}

	return &Detector{
		cfg:     post.Config(),
		session: session,
		post:    post,
		log:     log,
		warn:    rate.NewLimiter(rate.Every(time.Second), 1),
	}, nil
}

// Config returns the effective configuration
func (d *Detector) Config() Config { return d.cfg }

// InputSize returns the model input size
func (d *Detector) InputSize() (width, height int) {
	return d.cfg.InputWidth, d.cfg.InputHeight
}

// InputBytes returns the expected model input size in bytes
func (d *Detector) InputBytes() int {
	return d.cfg.InputWidth * d.cfg.InputHeight * 3
}

// Detect runs inference on a packed RGB model input and returns targets in
// original-frame pixels
func (d *Detector) Detect(ctx context.Context, input []byte, origW, origH int, frameIndex uint64, channel int) ([]meta.DetectionTarget, error) {
	if origW <= 0 || origH <= 0 {
		return nil, errors.Wrapf(ErrInvalidGeometry, "%dx%d", origW, origH)
	}

	outputs, err := d.session.Infer(ctx, input)
	if err != nil {
		return nil, errors.Wrapf(err, "infer frame %d", frameIndex)
	}

	heads, err := PairHeads(outputs)
	if err != nil && d.warn.Allow() {
		d.log.Warnw("dropped head tensors", "frame", frameIndex, "error", err)
	}
	if len(heads) == 0 {
		return nil, nil
	}
	return d.post.Run(heads, origW, origH, frameIndex, channel), nil
}

// Stats returns the session timing statistics
func (d *Detector) Stats() infer.SessionStats {
	return d.session.GetStats()
}

// Close releases the session
func (d *Detector) Close() error {
	return d.session.Close()
}
