package nodes

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/emergingrobotics/go-vpipe/pkg/detect"
	"github.com/emergingrobotics/go-vpipe/pkg/meta"
)

// Infer runs the detector on each frame's model input and appends the
// targets. With skip frames configured, frames between real inferences get
// the last real result re-tagged.
type Infer struct {
	det  *detect.Detector
	skip *detect.SkipCache
	log  *zap.SugaredLogger
	warn *rate.Limiter

	frames   atomic.Uint64
	inferred atomic.Uint64
	replayed atomic.Uint64
	dropped  atomic.Uint64
	lastUs   atomic.Int64
	totalUs  atomic.Int64
}

func NewInfer(det *detect.Detector, log *zap.SugaredLogger) *Infer {
	return &Infer{
		det:  det,
		skip: detect.NewSkipCache(det.Config().SkipFrames),
		log:  nopIfNil(log),
		warn: everySecond(),
	}
}

func (n *Infer) HandleFrame(ctx context.Context, f *meta.Frame) meta.Meta {
	n.frames.Add(1)

	input, ok := f.ModelInput()
	if !ok {
		n.drop(f, "no model input, frame was not preprocessed", nil)
		return nil
	}
	w, h := n.det.InputSize()
	if input.Width != w || input.Height != h || len(input.Data) != n.det.InputBytes() {
		n.drop(f, "model input does not match the model", nil,
			"input", [2]int{input.Width, input.Height}, "model", [2]int{w, h})
		return nil
	}

	if !n.skip.Next() {
		f.Targets().Append(n.skip.Replay(f.Index(), f.Channel())...)
		n.replayed.Add(1)
		return f
	}

	ow, oh := f.OriginalSize()
	start := time.Now()
	targets, err := n.det.Detect(ctx, input.Data, ow, oh, f.Index(), f.Channel())
	elapsed := time.Since(start).Microseconds()
	if err != nil {
		n.drop(f, "inference failed", err)
		return nil
	}

	n.lastUs.Store(elapsed)
	n.totalUs.Add(elapsed)
	n.inferred.Add(1)

	n.skip.Store(targets)
	f.Targets().Append(targets...)
	return f
}

func (n *Infer) drop(f *meta.Frame, msg string, err error, kv ...interface{}) {
	dropped := n.dropped.Add(1)
	if !n.warn.Allow() {
		return
	}
	kv = append(kv, "frame", f.Index(), "dropped", dropped)
	if err != nil {
		kv = append(kv, "error", err)
	}
	n.log.Warnw(msg, kv...)
}

// HandleControl restarts the skip schedule when the stream geometry changes
func (n *Infer) HandleControl(ctx context.Context, c *meta.Control) meta.Meta {
	if c.Command == meta.CommandGeometryChanged {
		n.skip.Reset()
	}
	return c
}

// Stop releases the detector
func (n *Infer) Stop() error {
	return n.det.Close()
}

// InferStats are the inference counters and timings
type InferStats struct {
	Frames    uint64
	Inferred  uint64
	Replayed  uint64
	Dropped   uint64
	LastInfer time.Duration
	AvgInfer  time.Duration
}

func (n *Infer) Stats() InferStats {
	s := InferStats{
		Frames:    n.frames.Load(),
		Inferred:  n.inferred.Load(),
		Replayed:  n.replayed.Load(),
		Dropped:   n.dropped.Load(),
		LastInfer: time.Duration(n.lastUs.Load()) * time.Microsecond,
	}
	if s.Inferred > 0 {
		s.AvgInfer = time.Duration(n.totalUs.Load()/int64(s.Inferred)) * time.Microsecond
	}
	return s
}
