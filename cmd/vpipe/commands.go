package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/emergingrobotics/go-vpipe/pkg/config"
	"github.com/emergingrobotics/go-vpipe/pkg/logger"
	"github.com/emergingrobotics/go-vpipe/pkg/pipeline"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "vpipe",
		Short: "Video detection pipeline",
		Long: `vpipe decodes a video stream, runs an object detector on every frame,
draws the detections and writes the result.

Examples:
  vpipe run                          # synthetic stream through the null engine
  vpipe run --config vpipe.yaml      # run from a config file
  vpipe run --source raw --source-path in.nv12 --width 1280 --height 720
  vpipe labels                       # show the label table`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "config file (yaml, toml or json)")
	root.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().Bool("json", false, "log as JSON")

	root.AddCommand(newRunCommand())
	root.AddCommand(newLabelsCommand())
	root.AddCommand(newVersionCommand())
	return root
}

// flagKeys maps command line flags to config keys
var flagKeys = map[string]string{
	"log-level":      "log.level",
	"json":           "log.json",
	"source":         "source.kind",
	"source-path":    "source.path",
	"width":          "source.width",
	"height":         "source.height",
	"fps":            "source.fps",
	"frames":         "source.frames",
	"cycle":          "source.cycle",
	"pace":           "source.pace",
	"detect":         "detector.enabled",
	"skip-frames":    "detector.skip_frames",
	"conf-threshold": "detector.conf_threshold",
	"sink":           "sink.kind",
	"sink-path":      "sink.path",
	"sink-format":    "sink.format",
	"alarm-db":       "alarm.path",
	"feed-addr":      "feed.addr",
	"board":          "board.enabled",
}

// loadConfig reads the config file and applies flags that were set
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := config.NewViper()
	for flag, key := range flagKeys {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, errors.Wrapf(err, "bind flag %s", flag)
			}
		}
	}
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config file %s", path)
		}
	}
	cfg, err := config.LoadWithViper(v)
	if err != nil {
		return nil, err
	}
	return cfg, applyFeatureFlags(cmd, cfg)
}

// applyFeatureFlags turns on the alarm store and feed when their flags are
// given
func applyFeatureFlags(cmd *cobra.Command, cfg *config.Config) error {
	if cmd.Flags().Changed("alarm-db") {
		cfg.Alarm.Enabled = true
	}
	if cmd.Flags().Changed("feed-addr") {
		cfg.Feed.Enabled = true
	}
	return cfg.Validate()
}

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline until the stream ends or an interrupt",
		Long: `Run the pipeline until the stream ends or an interrupt.

SIGUSR1 pauses the source and SIGUSR2 resumes it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := logger.Initialize(logger.Options{JSON: cfg.Log.JSON, Level: cfg.Log.Level}); err != nil {
				return errors.Wrap(err, "initialize logger")
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runPipeline(ctx, *cfg, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.String("source", "", `source kind, "pattern" or "raw"`)
	f.String("source-path", "", "raw NV12 input file")
	f.Int("width", 0, "source picture width")
	f.Int("height", 0, "source picture height")
	f.Int("fps", 0, "source frame rate")
	f.Int("frames", 0, "pattern length in frames, 0 for endless")
	f.Bool("cycle", false, "replay the stream when it ends")
	f.Bool("pace", false, "hold frames to the source rate")
	f.Bool("detect", true, "run the detector")
	f.Int("skip-frames", 0, "frames between real inferences")
	f.Float64("conf-threshold", 0, "minimum class confidence")
	f.String("sink", "", `sink kind, "discard" or "raw"`)
	f.String("sink-path", "", "raw output file")
	f.String("sink-format", "", `output pixels, "bgr" or "nv12"`)
	f.String("alarm-db", "", "record alarms to this SQLite file")
	f.String("feed-addr", "", "serve the detection feed on this address")
	f.Bool("board", false, "draw the node board")
	return cmd
}

func runPipeline(ctx context.Context, cfg config.Config, out io.Writer) error {
	p, err := pipeline.Build(cfg)
	if err != nil {
		return err
	}

	ctl := make(chan os.Signal, 1)
	signal.Notify(ctl, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(ctl)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-ctl:
				if sig == syscall.SIGUSR1 {
					p.Pause()
				} else {
					p.Resume()
				}
			}
		}
	}()

	err = p.Wait(ctx)
	printSummary(out, p)
	return err
}

func printSummary(out io.Writer, p *pipeline.Pipeline) {
	s := p.Stats()
	data := pterm.TableData{
		{"run", p.ID},
		{"frames emitted", strconv.FormatUint(s.Source.Emitted, 10)},
		{"frames skipped", strconv.FormatUint(s.Source.Skipped, 10)},
		{"inferences", strconv.FormatUint(s.Infer.Inferred, 10)},
		{"replayed", strconv.FormatUint(s.Infer.Replayed, 10)},
		{"avg inference", s.Infer.AvgInfer.String()},
		{"frames written", strconv.FormatUint(s.Written, 10)},
		{"frames dropped", strconv.FormatUint(s.Dropped, 10)},
	}
	table, err := pterm.DefaultTable.WithData(data).Srender()
	if err != nil {
		return
	}
	fmt.Fprintln(out, table)
}

func newLabelsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "labels",
		Short: "Show the class labels and which of them raise alarms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			dc := cfg.Detector.Detect()
			data := pterm.TableData{{"class", "label", "alarm"}}
			for i, label := range dc.Labels {
				alarm := ""
				if dc.IsAlarm(label) {
					alarm = "yes"
				}
				data = append(data, []string{strconv.Itoa(i), label, alarm})
			}
			table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
			if err != nil {
				return errors.Wrap(err, "render labels")
			}
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "vpipe version %s\n", Version)
			fmt.Fprintf(out, "  Build time: %s\n", BuildTime)
			fmt.Fprintf(out, "  Go version: %s\n", GoVersion)
		},
	}
}
