// Package detect decodes anchor-free detection heads into labelled,
// suppressed targets in original-frame coordinates.
package detect

import (
	"strconv"

	"github.com/cockroachdb/errors"
)

// DefaultLabels is the label table used when none is configured
var DefaultLabels = []string{"bird", "uav"}

const (
	DefaultConfThreshold = 0.5
	DefaultNMSThreshold  = 0.45
	DefaultInputWidth    = 640
	DefaultInputHeight   = 352
)

// ErrInvalidConfig is returned by Validate
var ErrInvalidConfig = errors.New("invalid detector config")

// Config controls decoding and suppression
type Config struct {
	ConfThreshold float32
	NMSThreshold  float32
	InputWidth    int
	InputHeight   int
	Labels        []string
	// AlarmLabels is the subset of labels that raise alarms. Defaults to
	// Labels.
	AlarmLabels []string
	// SkipFrames is the number of frames between real inferences
	SkipFrames int
	// MaxDetections caps the targets per frame after NMS, 0 for no cap
	MaxDetections int
	// MaxPerClass caps the targets per class after NMS, 0 for no cap
	MaxPerClass int
	// ClassAgnostic suppresses overlapping boxes across classes
	ClassAgnostic bool
}

// DefaultConfig returns the stock detector configuration
func DefaultConfig() Config {
	cfg := Config{
		ConfThreshold: DefaultConfThreshold,
		NMSThreshold:  DefaultNMSThreshold,
		InputWidth:    DefaultInputWidth,
		InputHeight:   DefaultInputHeight,
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills empty label tables
func (c *Config) ApplyDefaults() {
	if len(c.Labels) == 0 {
		c.Labels = append([]string(nil), DefaultLabels...)
	}
	if len(c.AlarmLabels) == 0 {
		c.AlarmLabels = append([]string(nil), c.Labels...)
	}
}

// Validate checks every field
func (c Config) Validate() error {
	if c.ConfThreshold < 0 || c.ConfThreshold > 1 {
		return errors.Wrapf(ErrInvalidConfig, "conf_threshold must be in [0, 1], got %g", c.ConfThreshold)
	}
	if c.NMSThreshold <= 0 || c.NMSThreshold > 1 {
		return errors.Wrapf(ErrInvalidConfig, "nms_threshold must be in (0, 1], got %g", c.NMSThreshold)
	}
	if c.InputWidth <= 0 || c.InputHeight <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "input size must be positive, got %dx%d", c.InputWidth, c.InputHeight)
	}
	if c.SkipFrames < 0 {
		return errors.Wrapf(ErrInvalidConfig, "skip_frames must be >= 0, got %d", c.SkipFrames)
	}
	if c.MaxDetections < 0 {
		return errors.Wrapf(ErrInvalidConfig, "max_detections must be >= 0, got %d", c.MaxDetections)
	}
	if c.MaxPerClass < 0 {
		return errors.Wrapf(ErrInvalidConfig, "max_per_class must be >= 0, got %d", c.MaxPerClass)
	}
	return nil
}

// Label returns the label for a class id, or cls_<id> when the table has no
// entry
func (c Config) Label(classID int) string {
	if classID >= 0 && classID < len(c.Labels) {
		return c.Labels[classID]
	}
	return "cls_" + strconv.Itoa(classID)
}

// IsAlarm reports whether label is an alarm label
func (c Config) IsAlarm(label string) bool {
	for _, l := range c.AlarmLabels {
		if l == label {
			return true
		}
	}
	return false
}
