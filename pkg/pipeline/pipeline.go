// Package pipeline assembles the node graph from a configuration and owns
// its lifecycle: start, pause, resume, run to end of stream and stop.
package pipeline

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/emergingrobotics/go-vpipe/pkg/alarm"
	"github.com/emergingrobotics/go-vpipe/pkg/board"
	"github.com/emergingrobotics/go-vpipe/pkg/config"
	"github.com/emergingrobotics/go-vpipe/pkg/detect"
	"github.com/emergingrobotics/go-vpipe/pkg/infer"
	"github.com/emergingrobotics/go-vpipe/pkg/logger"
	"github.com/emergingrobotics/go-vpipe/pkg/meta"
	"github.com/emergingrobotics/go-vpipe/pkg/node"
	"github.com/emergingrobotics/go-vpipe/pkg/nodes"
	"github.com/emergingrobotics/go-vpipe/pkg/queue"
	"github.com/emergingrobotics/go-vpipe/pkg/video"
	"github.com/emergingrobotics/go-vpipe/pkg/wsfeed"
)

var (
	ErrAlreadyStarted = errors.New("pipeline already started")
	ErrNotStarted     = errors.New("pipeline not started")
)

const shutdownTimeout = 2 * time.Second

// Option overrides a component the configuration would otherwise build
type Option func(*Pipeline)

// WithDecoder replaces the configured decoder
func WithDecoder(d video.Decoder) Option {
	return func(p *Pipeline) { p.decoder = d }
}

// WithWriter replaces the configured video writer
func WithWriter(w video.Writer) Option {
	return func(p *Pipeline) { p.out = w }
}

// WithEngine replaces the configured inference engine
func WithEngine(e infer.Engine) Option {
	return func(p *Pipeline) { p.engine = e }
}

// WithRecorder replaces the alarm store. Alarms are recorded even when the
// alarm section is disabled.
func WithRecorder(r nodes.Recorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

// WithBroadcaster replaces the websocket feed. Summaries are published even
// when the feed section is disabled.
func WithBroadcaster(b nodes.Broadcaster) Option {
	return func(p *Pipeline) { p.broadcaster = b }
}

// WithBoardOutput sets where the board is drawn, stdout by default
func WithBoardOutput(w io.Writer) Option {
	return func(p *Pipeline) { p.boardOut = w }
}

// WithLogger overrides the pipeline logger
func WithLogger(log *zap.SugaredLogger) Option {
	return func(p *Pipeline) { p.log = log }
}

// Pipeline is a built node graph
type Pipeline struct {
	ID  string
	cfg config.Config
	log *zap.SugaredLogger

	decoder     video.Decoder
	out         video.Writer
	engine      infer.Engine
	recorder    nodes.Recorder
	broadcaster nodes.Broadcaster
	boardOut    io.Writer

	pool  *video.Pool
	store *alarm.Store
	hub   *wsfeed.Hub

	gate   *queue.Gate
	root   *node.Node
	order  []*node.Node
	source *nodes.Source
	infer  *nodes.Infer
	writer *nodes.Writer
	board  *board.Board

	server   *http.Server
	listener net.Listener

	mu       sync.Mutex
	started  bool
	cancel   context.CancelFunc
	eos      chan struct{}
	eosOnce  sync.Once
	srcDone  chan error
	stopping chan struct{}
	stopOnce sync.Once
	stopErr  error
}

// Build creates every component named by cfg and links the graph. Nothing
// runs until Start.
func Build(cfg config.Config, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Pipeline{
		ID:       uuid.NewString(),
		cfg:      cfg,
		boardOut: os.Stdout,
		gate:     queue.NewGate(false),
		eos:      make(chan struct{}),
		srcDone:  make(chan error, 1),
		stopping: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = logger.Named("pipeline")
	}
	p.log = p.log.With("run", p.ID)

	if err := p.build(); err != nil {
		return nil, errors.CombineErrors(err, p.release())
	}
	p.log.Infow("pipeline built",
		"nodes", len(p.order),
		"source", cfg.Source.Kind,
		"detector", cfg.Detector.Enabled,
		"sink", cfg.Sink.Kind+"/"+cfg.Sink.Format)
	return p, nil
}

func (p *Pipeline) build() error {
	cfg := p.cfg
	if p.decoder == nil {
		dec, err := p.newDecoder()
		if err != nil {
			return err
		}
		p.decoder = dec
	}
	if p.out == nil {
		out, err := p.newWriter()
		if err != nil {
			return err
		}
		p.out = out
	}

	p.source = nodes.NewSource(p.decoder, nodes.SourceConfig{
		Channel:       cfg.Source.Channel,
		Cycle:         cfg.Source.Cycle,
		Pace:          cfg.Source.Pace,
		RetryInterval: cfg.Source.RetryInterval,
	}, p.named("source"))
	p.root = node.NewSource("source", p.produce, node.WithGate(p.gate), node.WithLogger(p.named("source")))
	p.order = append(p.order, p.root)

	isAlarm := func(string) bool { return false }
	tail := p.root
	var detections *node.Node

	if cfg.Detector.Enabled {
		det, err := p.newDetector()
		if err != nil {
			return err
		}
		isAlarm = det.Config().IsAlarm
		w, h := det.InputSize()

		pre, err := p.add("preprocess", nodes.NewPreprocess(w, h, cfg.Detector.LogEvery, p.named("preprocess")), tail)
		if err != nil {
			_ = det.Close()
			return err
		}
		p.infer = nodes.NewInfer(det, p.named("infer"))
		if tail, err = p.add("infer", p.infer, pre); err != nil {
			_ = det.Close()
			return err
		}
		detections = tail
	} else {
		var err error
		if tail, err = p.add("nv12tobgr", nodes.NewNV12ToBGR(p.named("nv12tobgr")), tail); err != nil {
			return err
		}
	}

	if cfg.OSD.Enabled {
		var err error
		if tail, err = p.add("osd", nodes.NewOSD(isAlarm, p.named("osd")), tail); err != nil {
			return err
		}
	}

	preferOverlay := cfg.OSD.Enabled
	if cfg.Sink.Format == "nv12" {
		var err error
		if tail, err = p.add("bgr2nv12", nodes.NewBGRToNV12(cfg.OSD.Enabled, p.named("bgr2nv12")), tail); err != nil {
			return err
		}
		preferOverlay = false
	}

	p.writer = nodes.NewWriter(p.out, preferOverlay, p.endOfStream, p.named("writer"))
	if _, err := p.add("writer", p.writer, tail); err != nil {
		return err
	}

	if detections == nil {
		detections = tail
	}
	if err := p.buildSideSinks(detections, isAlarm); err != nil {
		return err
	}

	if cfg.Board.Enabled {
		p.board = board.New(p.root, p.boardOut, p.named("board"))
	}
	return nil
}

func (p *Pipeline) buildSideSinks(upstream *node.Node, isAlarm func(string) bool) error {
	if p.recorder == nil && p.cfg.Alarm.Enabled {
		store, err := alarm.Open(p.cfg.Alarm.Path)
		if err != nil {
			return err
		}
		p.store = store
		p.recorder = store
	}
	if p.recorder != nil {
		if _, err := p.add("alarm", nodes.NewAlarm(p.recorder, p.ID, isAlarm, p.named("alarm")), upstream); err != nil {
			return err
		}
	}

	if p.broadcaster == nil && p.cfg.Feed.Enabled {
		p.hub = wsfeed.NewHub(p.cfg.Feed.Buffer, p.named("feed"))
		p.broadcaster = p.hub
	}
	if p.broadcaster != nil {
		if _, err := p.add("feed", nodes.NewFeed(p.broadcaster, p.ID, p.named("feed")), upstream); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) named(name string) *zap.SugaredLogger {
	return p.log.Named(name)
}

// add creates a node for h and subscribes it to upstream
func (p *Pipeline) add(name string, h node.Handler, upstream *node.Node) (*node.Node, error) {
	n := node.New(name, h,
		node.WithQueueCapacity(p.cfg.Queue.Capacity),
		node.WithLogger(p.named(name)))
	if err := n.Attach(upstream); err != nil {
		return nil, errors.Wrapf(err, "attach %s", name)
	}
	p.order = append(p.order, n)
	return n, nil
}

func (p *Pipeline) newDecoder() (video.Decoder, error) {
	src := p.cfg.Source
	switch src.Kind {
	case "raw":
		return video.NewRawDecoder(src.Path, src.Width, src.Height, src.FPS)
	default:
		pc := video.PatternConfig{
			Width:       src.Width,
			Height:      src.Height,
			FPS:         src.FPS,
			Frames:      src.Frames,
			StrideAlign: src.StrideAlign,
		}
		if src.PoolSize > 0 {
			pool, err := video.NewPool(pc.PictureSize(), src.PoolSize)
			if err != nil {
				return nil, errors.Wrap(err, "create decode pool")
			}
			p.pool = pool
		}
		return video.NewPatternDecoder(pc, p.pool)
	}
}

func (p *Pipeline) newWriter() (video.Writer, error) {
	switch p.cfg.Sink.Kind {
	case "raw":
		return video.NewRawFile(p.cfg.Sink.Path), nil
	default:
		return &video.Discard{}, nil
	}
}

func (p *Pipeline) newDetector() (*detect.Detector, error) {
	dc := p.cfg.Detector
	if p.engine == nil {
		p.engine = infer.NewNullEngine(dc.InputWidth, dc.InputHeight, dc.Classes)
	}
	session, err := infer.NewSession(p.engine, infer.WithTimeout(dc.Timeout))
	if err != nil {
		return nil, errors.Wrap(err, "create inference session")
	}
	det, err := detect.NewDetector(dc.Detect(), session, p.named("detector"))
	if err != nil {
		_ = session.Close()
		return nil, err
	}
	return det, nil
}

// produce runs the source loop and reports how it ended
func (p *Pipeline) produce(ctx context.Context, gate *queue.Gate, emit func(meta.Meta)) error {
	err := p.source.Produce(ctx, gate, emit)
	p.srcDone <- err
	return err
}

func (p *Pipeline) endOfStream(channel int) {
	p.eosOnce.Do(func() { close(p.eos) })
}

// Start launches every node, sinks first, and then opens the source gate
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return ErrAlreadyStarted
	}
	select {
	case <-p.stopping:
		return node.ErrStopped
	default:
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)

	if p.hub != nil {
		if err := p.serveFeed(); err != nil {
			return err
		}
	}

	for i := len(p.order) - 1; i >= 0; i-- {
		if err := p.order[i].Start(ctx); err != nil {
			return errors.Wrap(err, "start pipeline")
		}
	}

	if p.board != nil {
		go func() {
			if err := p.board.Run(ctx, p.cfg.Board.Interval); err != nil {
				p.log.Warnw("board stopped", "error", err)
			}
		}()
	}

	p.gate.Open()
	p.log.Infow("pipeline started")
	return nil
}

func (p *Pipeline) serveFeed() error {
	ln, err := net.Listen("tcp", p.cfg.Feed.Addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", p.cfg.Feed.Addr)
	}
	mux := http.NewServeMux()
	mux.Handle("/feed", p.hub)
	p.listener = ln
	p.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := p.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.log.Errorw("feed server exited", "error", err)
		}
	}()
	p.log.Infow("feed listening", "addr", ln.Addr().String())
	return nil
}

// FeedAddr returns the feed listener address, empty when not serving
func (p *Pipeline) FeedAddr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listener == nil {
		return ""
	}
	return p.listener.Addr().String()
}

// Pause holds the source before its next frame
func (p *Pipeline) Pause() {
	p.gate.Close()
	p.log.Infow("pipeline paused")
}

// Resume lets a paused source continue
func (p *Pipeline) Resume() {
	p.gate.Open()
	p.log.Infow("pipeline resumed")
}

// Paused reports whether the source gate is closed
func (p *Pipeline) Paused() bool {
	return !p.gate.IsOpen()
}

// Run starts the pipeline if needed and blocks until the writer sees end
// of stream, the source fails, Stop is called or ctx ends. It does not stop
// the pipeline.
func (p *Pipeline) Run(ctx context.Context) error {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		if err := p.Start(ctx); err != nil {
			return err
		}
	}

	srcDone := p.srcDone
	for {
		select {
		case <-p.eos:
			return nil
		case <-p.stopping:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case err := <-srcDone:
			if err != nil {
				return errors.Wrap(err, "source failed")
			}
			// a clean exit is followed by end of stream at the writer
			srcDone = nil
		}
	}
}

// Wait runs the pipeline to completion and stops it
func (p *Pipeline) Wait(ctx context.Context) error {
	err := p.Run(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return errors.CombineErrors(err, p.Stop())
}

// Stop stops the source and then every node downstream of it and releases
// the decode pool, alarm store and feed. Safe to call more than once.
func (p *Pipeline) Stop() error {
	p.stopOnce.Do(func() {
		close(p.stopping)
		p.root.DetachRecursively()

		p.mu.Lock()
		if p.cancel != nil {
			p.cancel()
		}
		p.mu.Unlock()

		p.stopErr = p.release()
		p.log.Infow("pipeline stopped")
	})
	return p.stopErr
}

// release frees everything Build and Start acquired outside the nodes
func (p *Pipeline) release() error {
	var errs []error
	if p.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		errs = append(errs, p.server.Shutdown(ctx))
		cancel()
	}
	if p.hub != nil {
		errs = append(errs, p.hub.Close())
	}
	if p.store != nil {
		errs = append(errs, p.store.Close())
	}
	if p.pool != nil {
		errs = append(errs, p.pool.Close())
	}
	return errors.Join(errs...)
}

// Root returns the source node
func (p *Pipeline) Root() *node.Node { return p.root }

// Nodes returns the stats of every node in breadth-first order
func (p *Pipeline) Nodes() []node.Stats {
	var out []node.Stats
	node.Walk(p.root, func(n *node.Node) {
		out = append(out, n.Stats())
	})
	return out
}

// Stats summarizes a run
type Stats struct {
	Source  nodes.SourceStats
	Infer   nodes.InferStats
	Written uint64
	Dropped uint64
}

func (p *Pipeline) Stats() Stats {
	s := Stats{
		Source:  p.source.Stats(),
		Written: p.writer.Written(),
		Dropped: p.writer.Dropped(),
	}
	if p.infer != nil {
		s.Infer = p.infer.Stats()
	}
	return s
}
