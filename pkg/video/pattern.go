package video

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// PatternConfig describes a synthetic stream
type PatternConfig struct {
	Width  int
	Height int
	FPS    int
	// Frames is the stream length, 0 for endless
	Frames int
	// StrideAlign pads rows to a multiple of this many bytes
	StrideAlign int
	// HeightAlign pads the luma plane to a multiple of this many rows
	HeightAlign int
}

// PatternDecoder generates a moving gradient with a bright square. With a
// pool it decodes into pool blocks like a hardware decoder would.
type PatternDecoder struct {
	cfg  PatternConfig
	pool *Pool

	mu     sync.Mutex
	open   bool
	frame  int
	stride int
	rows   int
}

// NewPatternDecoder checks cfg. pool may be nil.
func NewPatternDecoder(cfg PatternConfig, pool *Pool) (*PatternDecoder, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, errors.Newf("pattern size must be positive, got %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.Frames < 0 || cfg.FPS < 0 {
		return nil, errors.Newf("pattern frames and fps must be >= 0")
	}

	d := &PatternDecoder{
		cfg:    cfg,
		pool:   pool,
		stride: alignUp(cfg.Width, cfg.StrideAlign),
		rows:   alignUp(cfg.Height, cfg.HeightAlign),
	}
	if pool != nil && pool.BlockSize() < d.pictureSize() {
		return nil, errors.Newf("pool blocks of %d bytes cannot hold %d byte pictures", pool.BlockSize(), d.pictureSize())
	}
	return d, nil
}

func alignUp(v, align int) int {
	if align <= 1 {
		return v
	}
	return (v + align - 1) / align * align
}

// PictureSize is the padded size of one picture, the pool block size a
// decoder for c needs
func (c PatternConfig) PictureSize() int {
	stride := alignUp(c.Width, c.StrideAlign)
	rows := alignUp(c.Height, c.HeightAlign)
	return stride*rows + stride*((rows+1)/2)
}

func (d *PatternDecoder) pictureSize() int {
	return d.cfg.PictureSize()
}

// PictureSize returns the pool block size the decoder needs
func (d *PatternDecoder) PictureSize() int {
	return d.pictureSize()
}

func (d *PatternDecoder) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = true
	d.frame = 0
	return nil
}

func (d *PatternDecoder) FPS() int { return d.cfg.FPS }

func (d *PatternDecoder) Next(ctx context.Context) (*Buffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return nil, errors.New("pattern decoder is not open")
	}
	if d.cfg.Frames > 0 && d.frame >= d.cfg.Frames {
		return nil, io.EOF
	}

	var (
		data  []byte
		block *Block
	)
	if d.pool != nil {
		b, err := d.pool.Get()
		if err != nil {
			return nil, err
		}
		block = b
		data = b.Bytes()[:d.pictureSize()]
	} else {
		data = make([]byte, d.pictureSize())
	}

	split := d.stride * d.rows
	buf := &Buffer{
		Width:    d.cfg.Width,
		Height:   d.cfg.Height,
		YStride:  d.stride,
		UVStride: d.stride,
		Y:        data[:split],
		UV:       data[split:],
		block:    block,
	}
	if d.cfg.FPS > 0 {
		buf.PTS = time.Duration(d.frame) * time.Second / time.Duration(d.cfg.FPS)
	}
	d.paint(buf, d.frame)
	d.frame++
	return buf, nil
}

func (d *PatternDecoder) paint(b *Buffer, n int) {
	side := b.Height / 4
	if side < 2 {
		side = 2
	}
	sx := (n * 4) % max(1, b.Width-side)
	sy := b.Height / 3

	for y := 0; y < b.Height; y++ {
		row := b.Y[y*b.YStride:]
		for x := 0; x < b.Width; x++ {
			v := byte((x + y + n*2) & 0x7f)
			if x >= sx && x < sx+side && y >= sy && y < sy+side {
				v = 235
			}
			row[x] = v
		}
	}
	for y := 0; y < (b.Height+1)/2; y++ {
		row := b.UV[y*b.UVStride:]
		for x := 0; x+1 < b.Width; x += 2 {
			row[x] = 128
			row[x+1] = 128
		}
	}
}

func (d *PatternDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = false
	return nil
}
