package nodes

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/emergingrobotics/go-vpipe/pkg/alarm"
	"github.com/emergingrobotics/go-vpipe/pkg/meta"
	"github.com/emergingrobotics/go-vpipe/pkg/video"
	"github.com/emergingrobotics/go-vpipe/pkg/wsfeed"
)

// DefaultWriterFPS is used when a frame does not declare its rate
const DefaultWriterFPS = 25

// Writer hands frames to a video.Writer. The writer is opened lazily with
// the first frame's geometry; a failed open drops that frame and is retried
// with the next one.
type Writer struct {
	out           video.Writer
	preferOverlay bool
	onEOS         func(channel int)
	log           *zap.SugaredLogger
	warn          *rate.Limiter

	open   bool
	width  int
	height int

	written     atomic.Uint64
	dropped     atomic.Uint64
	window      uint64
	windowStart time.Time
}

// NewWriter creates the sink. With preferOverlay the rendered overlay is
// written when a frame has one. onEOS may be nil.
func NewWriter(out video.Writer, preferOverlay bool, onEOS func(channel int), log *zap.SugaredLogger) *Writer {
	return &Writer{
		out:           out,
		preferOverlay: preferOverlay,
		onEOS:         onEOS,
		log:           nopIfNil(log),
		warn:          everySecond(),
	}
}

func (w *Writer) HandleFrame(ctx context.Context, f *meta.Frame) meta.Meta {
	img := f.Image()
	if w.preferOverlay {
		if overlay, ok := f.Overlay(); ok {
			img = overlay
		}
	}

	if w.open && (img.Width != w.width || img.Height != w.height) {
		w.log.Infow("frame size changed, reopening writer",
			"from", [2]int{w.width, w.height}, "to", [2]int{img.Width, img.Height})
		w.close()
	}
	if !w.open {
		fps := f.FPS()
		if fps <= 0 {
			fps = DefaultWriterFPS
		}
		if err := w.out.Open(img.Width, img.Height, fps); err != nil {
			w.drop(f, "open writer failed", err)
			return nil
		}
		w.open = true
		w.width, w.height = img.Width, img.Height
		w.windowStart = time.Now()
		w.log.Infow("writer opened", "size", [2]int{img.Width, img.Height}, "fps", fps, "format", img.Format.String())
	}

	if err := w.out.Write(img); err != nil {
		w.drop(f, "write failed", err)
		return nil
	}
	w.written.Add(1)

	w.window++
	if elapsed := time.Since(w.windowStart); elapsed >= time.Second {
		w.log.Infow("writing", "fps", float64(w.window)/elapsed.Seconds(), "written", w.written.Load())
		w.window = 0
		w.windowStart = time.Now()
	}
	return nil
}

func (w *Writer) drop(f *meta.Frame, msg string, err error) {
	dropped := w.dropped.Add(1)
	if w.warn.Allow() {
		w.log.Warnw(msg, "frame", f.Index(), "dropped", dropped, "error", err)
	}
}

func (w *Writer) HandleControl(ctx context.Context, c *meta.Control) meta.Meta {
	if c.Command == meta.CommandEndOfStream {
		w.log.Infow("end of stream", "channel", c.Channel(), "written", w.written.Load(), "dropped", w.dropped.Load())
		if w.onEOS != nil {
			w.onEOS(c.Channel())
		}
	}
	return nil
}

func (w *Writer) close() {
	if !w.open {
		return
	}
	if err := w.out.Close(); err != nil {
		w.log.Warnw("close writer failed", "error", err)
	}
	w.open = false
}

// Stop closes the underlying writer
func (w *Writer) Stop() error {
	w.close()
	return nil
}

// Written returns the number of frames written
func (w *Writer) Written() uint64 { return w.written.Load() }

// Dropped returns the number of frames the writer refused
func (w *Writer) Dropped() uint64 { return w.dropped.Load() }

// Recorder persists alarm events
type Recorder interface {
	Record(ctx context.Context, events ...alarm.Event) error
}

// Alarm records every target whose label raises alarms
type Alarm struct {
	rec     Recorder
	runID   string
	isAlarm func(label string) bool
	log     *zap.SugaredLogger
	warn    *rate.Limiter

	recorded atomic.Uint64
	failed   atomic.Uint64
}

func NewAlarm(rec Recorder, runID string, isAlarm func(label string) bool, log *zap.SugaredLogger) *Alarm {
	return &Alarm{rec: rec, runID: runID, isAlarm: isAlarm, log: nopIfNil(log), warn: everySecond()}
}

func (a *Alarm) HandleFrame(ctx context.Context, f *meta.Frame) meta.Meta {
	var events []alarm.Event
	now := time.Now()
	for _, t := range f.Targets().Snapshot() {
		if a.isAlarm(t.Label) {
			events = append(events, alarm.EventFromTarget(a.runID, t, now))
		}
	}
	if len(events) == 0 {
		return nil
	}

	if err := a.rec.Record(ctx, events...); err != nil {
		failed := a.failed.Add(uint64(len(events)))
		if a.warn.Allow() {
			a.log.Warnw("recording alarms failed", "frame", f.Index(), "failed", failed, "error", err)
		}
		return nil
	}
	a.recorded.Add(uint64(len(events)))
	a.log.Infow("alarm", "frame", f.Index(), "targets", len(events), "label", events[0].Label)
	return nil
}

func (a *Alarm) HandleControl(ctx context.Context, c *meta.Control) meta.Meta { return nil }

// Recorded returns the number of stored alarm events
func (a *Alarm) Recorded() uint64 { return a.recorded.Load() }

// Broadcaster fans a message out to feed clients
type Broadcaster interface {
	Broadcast(msg []byte) int
}

// Feed publishes a detection summary for every frame
type Feed struct {
	out   Broadcaster
	runID string
	log   *zap.SugaredLogger
	warn  *rate.Limiter

	published atomic.Uint64
}

func NewFeed(out Broadcaster, runID string, log *zap.SugaredLogger) *Feed {
	return &Feed{out: out, runID: runID, log: nopIfNil(log), warn: everySecond()}
}

func (s *Feed) HandleFrame(ctx context.Context, f *meta.Frame) meta.Meta {
	msg, err := wsfeed.NewSummary(s.runID, f.Channel(), f.Index(), f.Targets().Snapshot()).Encode()
	if err != nil {
		if s.warn.Allow() {
			s.log.Warnw("encoding summary failed", "frame", f.Index(), "error", err)
		}
		return nil
	}
	s.out.Broadcast(msg)
	s.published.Add(1)
	return nil
}

func (s *Feed) HandleControl(ctx context.Context, c *meta.Control) meta.Meta { return nil }

// Published returns the number of summaries broadcast
func (s *Feed) Published() uint64 { return s.published.Load() }
