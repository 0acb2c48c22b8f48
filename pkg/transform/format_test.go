//go:build unit

package transform

import (
	"testing"
)

func TestNHWCtoNCHWF32(t *testing.T) {
	nhwc := []float32{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
		10, 11, 12,
	}

	nchw := make([]float32, len(nhwc))
	ConvertNHWCtoNCHWF32(nhwc, nchw, 2, 2, 3)

	expected := []float32{
		1, 4, 7, 10,
		2, 5, 8, 11,
		3, 6, 9, 12,
	}

	for i, e := range expected {
		if nchw[i] != e {
			t.Errorf("nchw[%d] = %f, expected %f", i, nchw[i], e)
		}
	}
}

func TestFormatConversionRoundTrip(t *testing.T) {
	height, width, channels := 4, 5, 6
	size := height * width * channels

	original := make([]float32, size)
	for i := range original {
		original[i] = float32(i)
	}

	nchw := make([]float32, size)
	back := make([]float32, size)
	ConvertNHWCtoNCHWF32(original, nchw, height, width, channels)
	ConvertNCHWtoNHWCF32(nchw, back, height, width, channels)

	for i := range original {
		if back[i] != original[i] {
			t.Fatalf("round trip mismatch at %d: %f vs %f", i, back[i], original[i])
		}
	}
}

func TestBGRtoRGB(t *testing.T) {
	bgr := []uint8{
		10, 20, 30,
		40, 50, 60,
	}
	rgb := make([]uint8, len(bgr))
	ConvertBGRtoRGB(bgr, rgb)

	expected := []uint8{30, 20, 10, 60, 50, 40}
	for i, e := range expected {
		if rgb[i] != e {
			t.Errorf("rgb[%d] = %d, expected %d", i, rgb[i], e)
		}
	}

	back := make([]uint8, len(rgb))
	ConvertRGBtoBGR(rgb, back)
	for i := range bgr {
		if back[i] != bgr[i] {
			t.Errorf("back[%d] = %d, expected %d", i, back[i], bgr[i])
		}
	}
}

func absDiff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}

func TestNV12toBGRKnownColours(t *testing.T) {
	tests := []struct {
		name    string
		y, u, v uint8
		bgr     [3]uint8
	}{
		{"black", 16, 128, 128, [3]uint8{0, 0, 0}},
		{"white", 235, 128, 128, [3]uint8{255, 255, 255}},
		{"grey", 126, 128, 128, [3]uint8{128, 128, 128}},
		{"red", 81, 90, 240, [3]uint8{0, 0, 255}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// 2x2 image with a padded row pitch of 4
			const stride = 4
			src := make([]uint8, stride*2+stride)
			for y := 0; y < 2; y++ {
				src[y*stride] = tt.y
				src[y*stride+1] = tt.y
			}
			src[stride*2] = tt.u
			src[stride*2+1] = tt.v

			dst := make([]uint8, 2*2*3)
			ConvertNV12toBGR(src, stride, 2, 2, dst, false)

			for px := 0; px < 4; px++ {
				for c := 0; c < 3; c++ {
					if absDiff(dst[px*3+c], tt.bgr[c]) > 2 {
						t.Errorf("pixel %d channel %d = %d, expected %d", px, c, dst[px*3+c], tt.bgr[c])
					}
				}
			}

			rgb := make([]uint8, len(dst))
			ConvertNV12toBGR(src, stride, 2, 2, rgb, true)
			if rgb[0] != dst[2] || rgb[2] != dst[0] {
				t.Errorf("rgb output should swap channels: %v vs %v", rgb[:3], dst[:3])
			}
		})
	}
}

func TestBGRtoNV12RoundTrip(t *testing.T) {
	const w, h = 4, 4
	bgr := make([]uint8, w*h*3)
	for i := 0; i < w*h; i++ {
		bgr[i*3] = 40
		bgr[i*3+1] = 120
		bgr[i*3+2] = 200
	}

	nv12 := make([]uint8, w*h*3/2)
	ConvertBGRtoNV12(bgr, w*3, w, h, nv12)

	back := make([]uint8, len(bgr))
	ConvertNV12toBGR(nv12, w, w, h, back, false)

	for i := range bgr {
		if absDiff(back[i], bgr[i]) > 3 {
			t.Fatalf("round trip channel %d = %d, expected ~%d", i, back[i], bgr[i])
		}
	}
}

func TestResizeBilinear(t *testing.T) {
	// 2x2 single-channel image with a padded pitch of 3
	src := []uint8{
		0, 100, 9,
		100, 200, 9,
	}
	dst := make([]uint8, 4*4)
	ResizeBilinear(src, dst, 2, 2, 3, 4, 4, 1)

	if dst[0] != 0 {
		t.Errorf("top-left = %d, expected 0", dst[0])
	}
	if dst[4*4-1] != 200 {
		t.Errorf("bottom-right = %d, expected 200", dst[15])
	}
	if dst[1] != 50 {
		t.Errorf("interpolated = %d, expected 50", dst[1])
	}

	same := make([]uint8, 4)
	ResizeBilinear(src, same, 2, 2, 3, 2, 2, 1)
	expected := []uint8{0, 100, 100, 200}
	for i, e := range expected {
		if same[i] != e {
			t.Errorf("same-size copy [%d] = %d, expected %d", i, same[i], e)
		}
	}
}

func BenchmarkNV12toBGR(b *testing.B) {
	const w, h = 1920, 1080
	src := make([]uint8, w*h*3/2)
	dst := make([]uint8, w*h*3)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ConvertNV12toBGR(src, w, w, h, dst, false)
	}
}
