// Package nodes holds the pipeline stages: the decoder-driven source, pixel
// conversion, preprocessing, inference, overlay drawing and the sinks.
package nodes

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/emergingrobotics/go-vpipe/pkg/meta"
	"github.com/emergingrobotics/go-vpipe/pkg/queue"
	"github.com/emergingrobotics/go-vpipe/pkg/video"
)

// DefaultRetryInterval is the wait between attempts to open a decoder
const DefaultRetryInterval = time.Second

var errGateShut = errors.New("gate shut")

// SourceConfig controls playback
type SourceConfig struct {
	Channel int
	// Cycle replays the stream from the start when it ends
	Cycle bool
	// Pace holds frames back to the decoder's nominal rate
	Pace          bool
	RetryInterval time.Duration
}

// Source reads pictures from a decoder and emits frames. Frame indices keep
// counting across replays.
type Source struct {
	cfg  SourceConfig
	dec  video.Decoder
	log  *zap.SugaredLogger
	warn *rate.Limiter

	index  uint64
	width  int
	height int

	emitted atomic.Uint64
	skipped atomic.Uint64
	passes  atomic.Uint64
}

func NewSource(dec video.Decoder, cfg SourceConfig, log *zap.SugaredLogger) *Source {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Source{
		cfg:  cfg,
		dec:  dec,
		log:  log,
		warn: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// Produce is the node.Producer of the source. It returns nil when the
// stream ends or the gate is shut; pool exhaustion aborts the run with an
// error.
func (s *Source) Produce(ctx context.Context, gate *queue.Gate, emit func(meta.Meta)) error {
	for {
		if !gate.Knock() {
			return nil
		}

		err := s.pass(ctx, gate, emit)
		switch {
		case err == nil:
			s.passes.Add(1)
			if !s.cfg.Cycle {
				emit(meta.EndOfStream(s.cfg.Channel, s.index))
				s.log.Infow("end of stream", "frames", s.emitted.Load(), "skipped", s.skipped.Load())
				return nil
			}
			s.log.Debugw("replaying stream", "pass", s.passes.Load())
		case errors.Is(err, errGateShut):
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, video.ErrPoolExhausted):
			return errors.Wrap(err, "source aborted")
		default:
			s.log.Warnw("decoder failed, retrying", "in", s.cfg.RetryInterval, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cfg.RetryInterval):
			}
		}
	}
}

// pass plays the stream once
func (s *Source) pass(ctx context.Context, gate *queue.Gate, emit func(meta.Meta)) error {
	if err := s.dec.Open(ctx); err != nil {
		return errors.Wrap(err, "open decoder")
	}
	defer s.dec.Close()

	fps := s.dec.FPS()
	var tick <-chan time.Time
	if s.cfg.Pace && fps > 0 {
		ticker := time.NewTicker(time.Second / time.Duration(fps))
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		if !gate.Knock() {
			return errGateShut
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		buf, err := s.dec.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "decode")
		}

		frame, ok := s.frame(buf, fps)
		if !ok {
			continue
		}
		if frame.Image().Width != s.width || frame.Image().Height != s.height {
			s.width, s.height = frame.Image().Width, frame.Image().Height
			emit(meta.GeometryChanged(s.cfg.Channel, frame.Index(), s.width, s.height, fps))
		}
		emit(frame)
		s.emitted.Add(1)

		if tick != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-tick:
			}
		}
	}
}

// frame copies a decoded picture out of decoder memory
func (s *Source) frame(buf *video.Buffer, fps int) (*meta.Frame, bool) {
	defer buf.Release()

	if buf.Skip() {
		s.skipped.Add(1)
		return nil, false
	}
	img, err := buf.Image()
	if err != nil {
		s.skipped.Add(1)
		if s.warn.Allow() {
			s.log.Warnw("skipping bad picture", "error", err, "skipped", s.skipped.Load())
		}
		return nil, false
	}

	f := meta.NewFrame(s.cfg.Channel, s.index, img, img.Width, img.Height, fps)
	s.index++
	return f, true
}

// SourceStats are the playback counters
type SourceStats struct {
	Emitted uint64
	Skipped uint64
	Passes  uint64
}

func (s *Source) Stats() SourceStats {
	return SourceStats{
		Emitted: s.emitted.Load(),
		Skipped: s.skipped.Load(),
		Passes:  s.passes.Load(),
	}
}
