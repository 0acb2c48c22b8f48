package testutil

import (
	"context"
	"encoding/binary"
	"io"
	"math"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/emergingrobotics/go-vpipe/pkg/alarm"
	"github.com/emergingrobotics/go-vpipe/pkg/infer"
	"github.com/emergingrobotics/go-vpipe/pkg/meta"
	"github.com/emergingrobotics/go-vpipe/pkg/transform"
	"github.com/emergingrobotics/go-vpipe/pkg/video"
)

// FakeEngine is an infer.Engine with one detection head whose cells can be
// set to fire
type FakeEngine struct {
	mu          sync.Mutex
	info        infer.StreamInfo
	classes     int
	featH       int
	featW       int
	reg         []float32
	cls         []float32
	quant       *transform.QuantInfo
	inferences  int
	failOnInfer bool
	closed      bool
}

// NewFakeEngine creates an engine for a width x height RGB input with a
// single head at the given stride
func NewFakeEngine(width, height, classes, stride int) *FakeEngine {
	e := &FakeEngine{
		info: infer.StreamInfo{
			Name:     "images",
			Shape:    infer.Shape{Height: height, Width: width, Channels: 3},
			DataType: infer.DataTypeUint8,
			Format:   infer.FormatNHWC,
		},
		classes: classes,
		featH:   height / stride,
		featW:   width / stride,
	}
	hw := e.featH * e.featW
	e.reg = make([]float32, 4*hw)
	e.cls = make([]float32, classes*hw)
	for i := range e.cls {
		e.cls[i] = -12
	}
	return e
}

// AddDetection makes the cell at row, col report class with score and box
// edge distances in grid cells
func (e *FakeEngine) AddDetection(row, col, class int, score float64, l, t, r, b float32) {
	e.mu.Lock()
	defer e.mu.Unlock()

	hw := e.featH * e.featW
	idx := row*e.featW + col
	e.cls[class*hw+idx] = float32(math.Log(score / (1 - score)))
	for i, v := range []float32{l, t, r, b} {
		e.reg[i*hw+idx] = v
	}
}

// SetQuantized makes the engine emit uint8 class logits and uint16 box
// distances
func (e *FakeEngine) SetQuantized(qi transform.QuantInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.quant = &qi
}

// SetFailOnInfer makes Infer fail
func (e *FakeEngine) SetFailOnInfer(fail bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failOnInfer = fail
}

// InferenceCount returns the number of successful inferences
func (e *FakeEngine) InferenceCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inferences
}

// Closed reports whether Close was called
func (e *FakeEngine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *FakeEngine) InputInfo() infer.StreamInfo { return e.info }

func (e *FakeEngine) Infer(ctx context.Context, input []byte) ([]infer.Tensor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, infer.ErrEngineClosed
	}
	if e.failOnInfer {
		return nil, errors.New("fake infer error")
	}
	e.inferences++

	regDims := []int{1, 4, e.featH, e.featW}
	clsDims := []int{1, e.classes, e.featH, e.featW}
	if e.quant == nil {
		return []infer.Tensor{
			{Name: "head0_cls", Dims: clsDims, DataType: infer.DataTypeFloat32, Float: append([]float32(nil), e.cls...)},
			{Name: "head0_reg", Dims: regDims, DataType: infer.DataTypeFloat32, Float: append([]float32(nil), e.reg...)},
		}, nil
	}

	cls := make([]uint8, len(e.cls))
	transform.QuantizeBatch(e.cls, cls, *e.quant)
	reg := make([]byte, 2*len(e.reg))
	for i, v := range e.reg {
		binary.LittleEndian.PutUint16(reg[2*i:], transform.QuantizeU16(v, *e.quant))
	}
	return []infer.Tensor{
		{Name: "head0_cls", Dims: clsDims, DataType: infer.DataTypeUint8, Quant: *e.quant, Raw: cls},
		{Name: "head0_reg", Dims: regDims, DataType: infer.DataTypeUint16, Quant: *e.quant, Raw: reg},
	}, nil
}

func (e *FakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// FakeDecoder replays a scripted list of pictures
type FakeDecoder struct {
	mu         sync.Mutex
	pictures   []*video.Buffer
	fps        int
	pos        int
	open       bool
	opens      int
	closes     int
	failOpens  int
	failNextAt int
	failErr    error
}

// NewFakeDecoder creates a decoder that plays pictures in order
func NewFakeDecoder(fps int, pictures ...*video.Buffer) *FakeDecoder {
	return &FakeDecoder{pictures: pictures, fps: fps, failNextAt: -1}
}

// FailOpens makes the next n calls to Open fail
func (d *FakeDecoder) FailOpens(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failOpens = n
}

// FailNextAt makes Next fail once the stream reaches position pos
func (d *FakeDecoder) FailNextAt(pos int, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failNextAt = pos
	d.failErr = err
}

func (d *FakeDecoder) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.opens++
	if d.failOpens > 0 {
		d.failOpens--
		return errors.New("fake open error")
	}
	d.open = true
	d.pos = 0
	return nil
}

func (d *FakeDecoder) Next(ctx context.Context) (*video.Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.open {
		return nil, errors.New("fake decoder not open")
	}
	if d.pos == d.failNextAt {
		return nil, d.failErr
	}
	if d.pos >= len(d.pictures) {
		return nil, io.EOF
	}
	// hand out a copy so Release and reuse across passes stay independent
	p := *d.pictures[d.pos]
	d.pos++
	return &p, nil
}

func (d *FakeDecoder) FPS() int { return d.fps }

func (d *FakeDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = false
	d.closes++
	return nil
}

// Opens returns the number of Open calls
func (d *FakeDecoder) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

// Closes returns the number of Close calls
func (d *FakeDecoder) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

// OpenCall is one recorded Writer.Open
type OpenCall struct {
	Width, Height, FPS int
}

// FakeWriter records what a video.Writer is asked to do
type FakeWriter struct {
	mu        sync.Mutex
	opens     []OpenCall
	images    []meta.Image
	closes    int
	failOpens int
	failWrite bool
}

func NewFakeWriter() *FakeWriter {
	return &FakeWriter{}
}

// FailOpens makes the next n calls to Open fail
func (w *FakeWriter) FailOpens(n int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failOpens = n
}

// SetFailOnWrite makes Write fail
func (w *FakeWriter) SetFailOnWrite(fail bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failWrite = fail
}

func (w *FakeWriter) Open(width, height, fps int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.failOpens > 0 {
		w.failOpens--
		return errors.New("fake open error")
	}
	w.opens = append(w.opens, OpenCall{width, height, fps})
	return nil
}

func (w *FakeWriter) Write(img meta.Image) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.failWrite {
		return errors.New("fake write error")
	}
	if len(w.opens) == 0 {
		return video.ErrWriterNotOpen
	}
	w.images = append(w.images, img)
	return nil
}

func (w *FakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closes++
	return nil
}

// Opens returns the successful Open calls
func (w *FakeWriter) Opens() []OpenCall {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]OpenCall(nil), w.opens...)
}

// Images returns the written images
func (w *FakeWriter) Images() []meta.Image {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]meta.Image(nil), w.images...)
}

// Closes returns the number of Close calls
func (w *FakeWriter) Closes() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closes
}

// FakeRecorder collects alarm events in memory
type FakeRecorder struct {
	mu     sync.Mutex
	events []alarm.Event
	fail   bool
}

// SetFail makes Record fail
func (r *FakeRecorder) SetFail(fail bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = fail
}

func (r *FakeRecorder) Record(ctx context.Context, events ...alarm.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("fake record error")
	}
	r.events = append(r.events, events...)
	return nil
}

// Events returns the recorded events
func (r *FakeRecorder) Events() []alarm.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]alarm.Event(nil), r.events...)
}

// FakeBroadcaster collects broadcast messages
type FakeBroadcaster struct {
	mu       sync.Mutex
	messages [][]byte
}

func (b *FakeBroadcaster) Broadcast(msg []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, msg)
	return 1
}

// Messages returns the broadcast messages
func (b *FakeBroadcaster) Messages() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.messages...)
}
