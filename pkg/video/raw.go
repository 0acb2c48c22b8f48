package video

import (
	"bufio"
	"context"
	"io"
	"os"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/emergingrobotics/go-vpipe/pkg/meta"
)

// RawDecoder reads tightly packed NV12 pictures back to back from a file
type RawDecoder struct {
	path   string
	width  int
	height int
	fps    int

	file   *os.File
	reader *bufio.Reader
}

// NewRawDecoder describes a raw NV12 file of width x height pictures
func NewRawDecoder(path string, width, height, fps int) (*RawDecoder, error) {
	if path == "" {
		return nil, errors.New("raw decoder needs a path")
	}
	if width <= 0 || height <= 0 {
		return nil, errors.Newf("raw picture size must be positive, got %dx%d", width, height)
	}
	return &RawDecoder{path: path, width: width, height: height, fps: fps}, nil
}

func (d *RawDecoder) Open(ctx context.Context) error {
	f, err := os.Open(d.path)
	if err != nil {
		return errors.Wrapf(err, "open %s", d.path)
	}
	d.file = f
	d.reader = bufio.NewReaderSize(f, 1<<20)
	return nil
}

func (d *RawDecoder) FPS() int { return d.fps }

// Next returns io.EOF at the end of the file. A truncated last picture is
// treated as the end.
func (d *RawDecoder) Next(ctx context.Context) (*Buffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.reader == nil {
		return nil, errors.New("raw decoder is not open")
	}

	img := meta.NewImage(meta.FormatNV12, d.width, d.height)
	if _, err := io.ReadFull(d.reader, img.Data); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, errors.Wrapf(err, "read %s", d.path)
	}

	luma, chroma := img.Planes()
	return &Buffer{
		Width:    d.width,
		Height:   d.height,
		YStride:  img.Stride,
		UVStride: img.Stride,
		Y:        luma,
		UV:       chroma,
	}, nil
}

func (d *RawDecoder) Close() error {
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file, d.reader = nil, nil
	return err
}

// ErrWriterNotOpen is returned by Write before Open
var ErrWriterNotOpen = errors.New("writer is not open")

// RawFile writes images to a file without row padding. NV12 images are
// written plane by plane.
type RawFile struct {
	path string

	mu     sync.Mutex
	file   *os.File
	out    *bufio.Writer
	width  int
	height int
	frames int
}

func NewRawFile(path string) *RawFile {
	return &RawFile{path: path}
}

func (w *RawFile) Open(width, height, fps int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		return errors.Newf("%s is already open", w.path)
	}
	f, err := os.Create(w.path)
	if err != nil {
		return errors.Wrapf(err, "create %s", w.path)
	}
	w.file = f
	w.out = bufio.NewWriterSize(f, 1<<20)
	w.width, w.height = width, height
	return nil
}

func (w *RawFile) Write(img meta.Image) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return ErrWriterNotOpen
	}
	if img.Width != w.width || img.Height != w.height {
		return errors.Wrapf(meta.ErrInvalidImage, "image %dx%d on a %dx%d stream", img.Width, img.Height, w.width, w.height)
	}
	if err := img.Validate(); err != nil {
		return err
	}

	for _, row := range rows(img) {
		if _, err := w.out.Write(row); err != nil {
			return errors.Wrapf(err, "write %s", w.path)
		}
	}
	w.frames++
	return nil
}

// rows returns the unpadded rows of an image, both planes for NV12
func rows(img meta.Image) [][]byte {
	if img.Format.Packed() {
		out := make([][]byte, img.Height)
		for y := range out {
			out[y] = img.Row(y)
		}
		return out
	}

	luma, chroma := img.Planes()
	chromaRows := (img.Height + 1) / 2
	out := make([][]byte, 0, img.Height+chromaRows)
	for y := 0; y < img.Height; y++ {
		out = append(out, luma[y*img.Stride:y*img.Stride+img.Width])
	}
	for y := 0; y < chromaRows; y++ {
		out = append(out, chroma[y*img.Stride:y*img.Stride+img.Width])
	}
	return out
}

// Frames returns the number of images written
func (w *RawFile) Frames() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames
}

func (w *RawFile) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	flushErr := w.out.Flush()
	closeErr := w.file.Close()
	w.file, w.out = nil, nil
	return errors.CombineErrors(flushErr, closeErr)
}

// Discard accepts and drops every image
type Discard struct {
	mu     sync.Mutex
	open   bool
	width  int
	height int
	fps    int
	frames int
}

func (d *Discard) Open(width, height, fps int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = true
	d.width, d.height, d.fps = width, height, fps
	return nil
}

func (d *Discard) Write(img meta.Image) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return ErrWriterNotOpen
	}
	d.frames++
	return nil
}

// Frames returns the number of images accepted
func (d *Discard) Frames() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frames
}

// Geometry returns the size and rate passed to Open
func (d *Discard) Geometry() (width, height, fps int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.width, d.height, d.fps
}

func (d *Discard) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = false
	return nil
}
