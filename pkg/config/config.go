// Package config loads the pipeline configuration from a file, VPIPE_
// environment variables and built-in defaults.
package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"

	"github.com/emergingrobotics/go-vpipe/pkg/detect"
	"github.com/emergingrobotics/go-vpipe/pkg/queue"
)

// EnvPrefix is the prefix of environment overrides, e.g.
// VPIPE_DETECTOR_SKIP_FRAMES
const EnvPrefix = "VPIPE"

// Config is the whole pipeline configuration
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Source   SourceConfig   `mapstructure:"source"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Detector DetectorConfig `mapstructure:"detector"`
	OSD      OSDConfig      `mapstructure:"osd"`
	Sink     SinkConfig     `mapstructure:"sink"`
	Alarm    AlarmConfig    `mapstructure:"alarm"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Board    BoardConfig    `mapstructure:"board"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// SourceConfig selects and drives the decoder
type SourceConfig struct {
	// Kind is "pattern" for the synthetic stream or "raw" for an NV12 file
	Kind          string        `mapstructure:"kind"`
	Path          string        `mapstructure:"path"`
	Channel       int           `mapstructure:"channel"`
	Width         int           `mapstructure:"width"`
	Height        int           `mapstructure:"height"`
	FPS           int           `mapstructure:"fps"`
	Frames        int           `mapstructure:"frames"`
	Cycle         bool          `mapstructure:"cycle"`
	Pace          bool          `mapstructure:"pace"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	// PoolSize is the number of decode surfaces, 0 to decode into the heap
	PoolSize    int `mapstructure:"pool_size"`
	StrideAlign int `mapstructure:"stride_align"`
}

type QueueConfig struct {
	Capacity int `mapstructure:"capacity"`
}

// DetectorConfig configures the model and post-processing
type DetectorConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Engine is the inference backend; "null" is the pure-Go engine
	Engine        string        `mapstructure:"engine"`
	Classes       int           `mapstructure:"classes"`
	Timeout       time.Duration `mapstructure:"timeout"`
	ConfThreshold float64       `mapstructure:"conf_threshold"`
	NMSThreshold  float64       `mapstructure:"nms_threshold"`
	InputWidth    int           `mapstructure:"input_width"`
	InputHeight   int           `mapstructure:"input_height"`
	Labels        []string      `mapstructure:"labels"`
	AlarmLabels   []string      `mapstructure:"alarm_labels"`
	SkipFrames    int           `mapstructure:"skip_frames"`
	MaxDetections int           `mapstructure:"max_detections"`
	MaxPerClass   int           `mapstructure:"max_per_class"`
	ClassAgnostic bool          `mapstructure:"class_agnostic"`
	LogEvery      int           `mapstructure:"log_every"`
}

type OSDConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// SinkConfig selects the video writer
type SinkConfig struct {
	// Kind is "discard" or "raw"
	Kind string `mapstructure:"kind"`
	Path string `mapstructure:"path"`
	// Format is "bgr" or "nv12"
	Format string `mapstructure:"format"`
}

type AlarmConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type FeedConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	Buffer  int    `mapstructure:"buffer"`
}

type BoardConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// SetDefaults configures default values for every option
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	v.SetDefault("source.kind", "pattern")
	v.SetDefault("source.path", "")
	v.SetDefault("source.channel", 0)
	v.SetDefault("source.width", 1280)
	v.SetDefault("source.height", 720)
	v.SetDefault("source.fps", 25)
	v.SetDefault("source.frames", 250)
	v.SetDefault("source.cycle", false)
	v.SetDefault("source.pace", false)
	v.SetDefault("source.retry_interval", time.Second)
	v.SetDefault("source.pool_size", 4)
	v.SetDefault("source.stride_align", 64)

	v.SetDefault("queue.capacity", queue.DefaultCapacity)

	v.SetDefault("detector.enabled", true)
	v.SetDefault("detector.engine", "null")
	v.SetDefault("detector.classes", len(detect.DefaultLabels))
	v.SetDefault("detector.timeout", 5*time.Second)
	v.SetDefault("detector.conf_threshold", detect.DefaultConfThreshold)
	v.SetDefault("detector.nms_threshold", detect.DefaultNMSThreshold)
	v.SetDefault("detector.input_width", detect.DefaultInputWidth)
	v.SetDefault("detector.input_height", detect.DefaultInputHeight)
	v.SetDefault("detector.labels", detect.DefaultLabels)
	v.SetDefault("detector.alarm_labels", []string{})
	v.SetDefault("detector.skip_frames", 0)
	v.SetDefault("detector.max_detections", 0)
	v.SetDefault("detector.max_per_class", 0)
	v.SetDefault("detector.class_agnostic", false)
	v.SetDefault("detector.log_every", 300)

	v.SetDefault("osd.enabled", true)

	v.SetDefault("sink.kind", "discard")
	v.SetDefault("sink.path", "")
	v.SetDefault("sink.format", "bgr")

	v.SetDefault("alarm.enabled", false)
	v.SetDefault("alarm.path", "vpipe-alarms.db")

	v.SetDefault("feed.enabled", false)
	v.SetDefault("feed.addr", "127.0.0.1:8765")
	v.SetDefault("feed.buffer", 16)

	v.SetDefault("board.enabled", false)
	v.SetDefault("board.interval", 2*time.Second)
}

// NewViper returns a viper instance with defaults and environment binding
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load reads path (TOML, YAML or JSON by extension) over the defaults,
// applies environment overrides and validates the result. An empty path
// loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := NewViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config file %s", path)
		}
	}
	return LoadWithViper(v)
}

// LoadWithViper unmarshals and validates a prepared viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Detect converts the detector section
func (d DetectorConfig) Detect() detect.Config {
	cfg := detect.Config{
		ConfThreshold: float32(d.ConfThreshold),
		NMSThreshold:  float32(d.NMSThreshold),
		InputWidth:    d.InputWidth,
		InputHeight:   d.InputHeight,
		Labels:        append([]string(nil), d.Labels...),
		AlarmLabels:   append([]string(nil), d.AlarmLabels...),
		SkipFrames:    d.SkipFrames,
		MaxDetections: d.MaxDetections,
		MaxPerClass:   d.MaxPerClass,
		ClassAgnostic: d.ClassAgnostic,
	}
	cfg.ApplyDefaults()
	return cfg
}
