package config

import (
	"github.com/cockroachdb/errors"
)

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	switch c.Source.Kind {
	case "pattern":
		if c.Source.Width <= 0 || c.Source.Height <= 0 {
			return errors.Newf("source.width and source.height must be > 0, got %dx%d", c.Source.Width, c.Source.Height)
		}
	case "raw":
		if c.Source.Path == "" {
			return errors.WithHint(errors.New("source.path cannot be empty for a raw source"),
				"point source.path at a file of tightly packed NV12 pictures")
		}
		if c.Source.Width <= 0 || c.Source.Height <= 0 {
			return errors.WithHint(errors.Newf("source.width and source.height must be > 0, got %dx%d", c.Source.Width, c.Source.Height),
				"raw files carry no header; the picture size must be configured")
		}
	default:
		return errors.WithHint(errors.Newf("unknown source.kind %q", c.Source.Kind), `use "pattern" or "raw"`)
	}
	if c.Source.FPS < 0 || c.Source.Frames < 0 {
		return errors.Newf("source.fps and source.frames must be >= 0, got %d and %d", c.Source.FPS, c.Source.Frames)
	}
	if c.Source.RetryInterval <= 0 {
		return errors.Newf("source.retry_interval must be > 0, got %s", c.Source.RetryInterval)
	}
	if c.Source.PoolSize < 0 {
		return errors.Newf("source.pool_size must be >= 0, got %d", c.Source.PoolSize)
	}

	if c.Queue.Capacity <= 0 {
		return errors.WithHint(errors.Newf("queue.capacity must be > 0, got %d", c.Queue.Capacity),
			"omit queue.capacity for the default of 8")
	}

	if c.Detector.Enabled {
		if c.Detector.Engine != "null" {
			return errors.WithHint(errors.Newf("unknown detector.engine %q", c.Detector.Engine),
				`only the "null" engine is built in`)
		}
		if c.Detector.Classes <= 0 {
			return errors.Newf("detector.classes must be > 0, got %d", c.Detector.Classes)
		}
		if err := c.Detector.Detect().Validate(); err != nil {
			return errors.WithHint(err, "thresholds are in [0, 1] and counts are >= 0")
		}
	}

	switch c.Sink.Kind {
	case "discard":
	case "raw":
		if c.Sink.Path == "" {
			return errors.New("sink.path cannot be empty for a raw sink")
		}
	default:
		return errors.WithHint(errors.Newf("unknown sink.kind %q", c.Sink.Kind), `use "discard" or "raw"`)
	}
	if c.Sink.Format != "bgr" && c.Sink.Format != "nv12" {
		return errors.WithHint(errors.Newf("unknown sink.format %q", c.Sink.Format), `use "bgr" or "nv12"`)
	}

	if c.Alarm.Enabled && c.Alarm.Path == "" {
		return errors.New("alarm.path cannot be empty when alarms are enabled")
	}
	if c.Feed.Enabled && c.Feed.Addr == "" {
		return errors.New("feed.addr cannot be empty when the feed is enabled")
	}
	if c.Board.Enabled && c.Board.Interval <= 0 {
		return errors.Newf("board.interval must be > 0, got %s", c.Board.Interval)
	}
	return nil
}
