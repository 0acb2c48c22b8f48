package transform

// ConvertNHWCtoNCHWF32 converts float32 data from NHWC to NCHW format
func ConvertNHWCtoNCHWF32(src, dst []float32, height, width, channels int) {
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			for c := 0; c < channels; c++ {
				srcIdx := (y*width+x)*channels + c
				dstIdx := c*height*width + y*width + x
				dst[dstIdx] = src[srcIdx]
			}
		}
	}
}

// ConvertNCHWtoNHWCF32 converts float32 data from NCHW to NHWC format
func ConvertNCHWtoNHWCF32(src, dst []float32, height, width, channels int) {
	for c := 0; c < channels; c++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				srcIdx := c*height*width + y*width + x
				dstIdx := (y*width+x)*channels + c
				dst[dstIdx] = src[srcIdx]
			}
		}
	}
}

// ConvertBGRtoRGB swaps blue and red channels of a tightly packed image
func ConvertBGRtoRGB(src, dst []uint8) {
	pixels := len(src) / 3
	for i := 0; i < pixels; i++ {
		dst[i*3] = src[i*3+2]   // R (was B)
		dst[i*3+1] = src[i*3+1] // G
		dst[i*3+2] = src[i*3]   // B (was R)
	}
}

// ConvertRGBtoBGR swaps red and blue channels
func ConvertRGBtoBGR(src, dst []uint8) {
	ConvertBGRtoRGB(src, dst) // Same operation
}

// ConvertNV12toBGR converts an NV12 image with the given row pitch into
// tightly packed BGR using BT.601 limited-range coefficients. When rgb is
// true the output channel order is RGB instead.
func ConvertNV12toBGR(src []uint8, stride, width, height int, dst []uint8, rgb bool) {
	luma := src[:stride*height]
	chroma := src[stride*height:]
	ri, bi := 2, 0
	if rgb {
		ri, bi = 0, 2
	}

	for y := 0; y < height; y++ {
		yRow := luma[y*stride:]
		uvRow := chroma[(y/2)*stride:]
		out := dst[y*width*3:]
		for x := 0; x < width; x++ {
			c := int(yRow[x]) - 16
			d := int(uvRow[x&^1]) - 128
			e := int(uvRow[x|1]) - 128

			out[x*3+ri] = clampU8((298*c + 409*e + 128) >> 8)
			out[x*3+1] = clampU8((298*c - 100*d - 208*e + 128) >> 8)
			out[x*3+bi] = clampU8((298*c + 516*d + 128) >> 8)
		}
	}
}

// ConvertBGRtoNV12 converts a packed BGR image with the given row pitch into
// a tight NV12 buffer. width and height must be even. Chroma is the average
// of each 2x2 block.
func ConvertBGRtoNV12(src []uint8, stride, width, height int, dst []uint8) {
	luma := dst[:width*height]
	chroma := dst[width*height:]

	for y := 0; y < height; y++ {
		row := src[y*stride:]
		for x := 0; x < width; x++ {
			b, g, r := int(row[x*3]), int(row[x*3+1]), int(row[x*3+2])
			luma[y*width+x] = clampU8(((66*r + 129*g + 25*b + 128) >> 8) + 16)
		}
	}

	for y := 0; y < height; y += 2 {
		top := src[y*stride:]
		bottom := src[(y+1)*stride:]
		uv := chroma[(y/2)*width:]
		for x := 0; x < width; x += 2 {
			var b, g, r int
			for _, px := range [4][]uint8{top[x*3:], top[x*3+3:], bottom[x*3:], bottom[x*3+3:]} {
				b += int(px[0])
				g += int(px[1])
				r += int(px[2])
			}
			b, g, r = (b+2)/4, (g+2)/4, (r+2)/4
			uv[x] = clampU8(((-38*r - 74*g + 112*b + 128) >> 8) + 128)
			uv[x+1] = clampU8(((112*r - 94*g - 18*b + 128) >> 8) + 128)
		}
	}
}

// ResizeBilinear resizes an image using bilinear interpolation. srcStride
// is the source row pitch in bytes; the destination is tightly packed.
func ResizeBilinear(src, dst []uint8, srcH, srcW, srcStride, dstH, dstW, channels int) {
	if srcH == dstH && srcW == dstW {
		for y := 0; y < dstH; y++ {
			copy(dst[y*dstW*channels:(y+1)*dstW*channels], src[y*srcStride:])
		}
		return
	}

	xRatio := float32(srcW) / float32(dstW)
	yRatio := float32(srcH) / float32(dstH)

	for y := 0; y < dstH; y++ {
		for x := 0; x < dstW; x++ {
			srcX := float32(x) * xRatio
			srcY := float32(y) * yRatio

			x0 := int(srcX)
			y0 := int(srcY)
			x1 := x0 + 1
			y1 := y0 + 1

			if x1 >= srcW {
				x1 = srcW - 1
			}
			if y1 >= srcH {
				y1 = srcH - 1
			}

			xFrac := srcX - float32(x0)
			yFrac := srcY - float32(y0)

			for c := 0; c < channels; c++ {
				v00 := float32(src[y0*srcStride+x0*channels+c])
				v01 := float32(src[y0*srcStride+x1*channels+c])
				v10 := float32(src[y1*srcStride+x0*channels+c])
				v11 := float32(src[y1*srcStride+x1*channels+c])

				v0 := v00*(1-xFrac) + v01*xFrac
				v1 := v10*(1-xFrac) + v11*xFrac
				value := v0*(1-yFrac) + v1*yFrac

				dst[(y*dstW+x)*channels+c] = uint8(value + 0.5)
			}
		}
	}
}

func clampU8(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
