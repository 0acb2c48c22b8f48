package nodes

import (
	"context"
	"fmt"
	"image"
	"image/color"

	"go.uber.org/zap"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/time/rate"

	"github.com/emergingrobotics/go-vpipe/pkg/meta"
)

var (
	boxColor   = color.RGBA{R: 0, G: 220, B: 0, A: 255}
	alarmColor = color.RGBA{R: 230, G: 0, B: 0, A: 255}
	textColor  = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

const boxThickness = 2

// canvas exposes a packed BGR or RGB image as a draw.Image
type canvas struct {
	img meta.Image
}

func (c canvas) ColorModel() color.Model { return color.RGBAModel }

func (c canvas) Bounds() image.Rectangle {
	return image.Rect(0, 0, c.img.Width, c.img.Height)
}

func (c canvas) offset(x, y int) int {
	return y*c.img.Stride + x*3
}

func (c canvas) At(x, y int) color.Color {
	if !(image.Point{x, y}.In(c.Bounds())) {
		return color.RGBA{}
	}
	p := c.img.Data[c.offset(x, y):]
	if c.img.Format == meta.FormatRGB {
		return color.RGBA{R: p[0], G: p[1], B: p[2], A: 255}
	}
	return color.RGBA{R: p[2], G: p[1], B: p[0], A: 255}
}

func (c canvas) Set(x, y int, col color.Color) {
	if !(image.Point{x, y}.In(c.Bounds())) {
		return
	}
	r, g, b, a := col.RGBA()
	if a == 0 {
		return
	}
	p := c.img.Data[c.offset(x, y):]
	if c.img.Format == meta.FormatRGB {
		p[0], p[1], p[2] = uint8(r>>8), uint8(g>>8), uint8(b>>8)
		return
	}
	p[0], p[1], p[2] = uint8(b>>8), uint8(g>>8), uint8(r>>8)
}

// OSD draws boxes and labels on a copy of each packed frame and stores it
// as the frame overlay. Targets whose label raises alarms are drawn in red.
type OSD struct {
	passControls
	isAlarm func(label string) bool
	log     *zap.SugaredLogger
	warn    *rate.Limiter
}

// NewOSD creates the overlay stage. isAlarm may be nil.
func NewOSD(isAlarm func(label string) bool, log *zap.SugaredLogger) *OSD {
	if isAlarm == nil {
		isAlarm = func(string) bool { return false }
	}
	return &OSD{isAlarm: isAlarm, log: nopIfNil(log), warn: everySecond()}
}

func (o *OSD) HandleFrame(ctx context.Context, f *meta.Frame) meta.Meta {
	img := f.Image()
	if !img.Format.Packed() || img.Validate() != nil {
		if o.warn.Allow() {
			o.log.Warnw("no overlay for frame", "frame", f.Index(), "format", img.Format.String())
		}
		return f
	}

	overlay := img.Clone()
	dst := canvas{img: overlay}
	ow, oh := f.OriginalSize()
	for _, t := range f.Targets().Snapshot() {
		r := scaleRect(t, ow, oh, img.Width, img.Height)
		col := boxColor
		if o.isAlarm(t.Label) {
			col = alarmColor
		}
		drawBox(dst, r, col)
		drawLabel(dst, r, fmt.Sprintf("%s %.2f", t.Label, t.Score), col)
	}
	f.SetOverlay(overlay)
	return f
}

// scaleRect maps a target from original-frame pixels to image pixels
func scaleRect(t meta.DetectionTarget, ow, oh, w, h int) image.Rectangle {
	r := image.Rect(t.Left, t.Top, t.Right(), t.Bottom())
	if ow > 0 && oh > 0 && (ow != w || oh != h) {
		r = image.Rect(t.Left*w/ow, t.Top*h/oh, t.Right()*w/ow, t.Bottom()*h/oh)
	}
	return r.Intersect(image.Rect(0, 0, w, h))
}

func drawBox(dst draw.Image, r image.Rectangle, col color.Color) {
	if r.Empty() {
		return
	}
	src := image.NewUniform(col)
	t := boxThickness
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+t),
		image.Rect(r.Min.X, r.Max.Y-t, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+t, r.Max.Y),
		image.Rect(r.Max.X-t, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(r), src, image.Point{}, draw.Src)
	}
}

func drawLabel(dst draw.Image, r image.Rectangle, text string, col color.Color) {
	if r.Empty() {
		return
	}
	face := basicfont.Face7x13
	width := font.MeasureString(face, text).Ceil()
	height := face.Height

	top := r.Min.Y - height
	if top < 0 {
		top = r.Min.Y
	}
	bg := image.Rect(r.Min.X, top, r.Min.X+width+2, top+height)
	draw.Draw(dst, bg, image.NewUniform(col), image.Point{}, draw.Src)

	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(textColor),
		Face: face,
		Dot:  fixed.P(r.Min.X+1, top+face.Ascent),
	}
	d.DrawString(text)
}
