package transform

// QuantInfo contains the affine quantization parameters of a tensor:
// real = (q - ZeroPoint) * Scale
type QuantInfo struct {
	ZeroPoint float32
	Scale     float32
}

// IsIdentity reports whether dequantization leaves values unchanged
func (qi QuantInfo) IsIdentity() bool {
	return qi.ZeroPoint == 0 && (qi.Scale == 0 || qi.Scale == 1)
}

func (qi QuantInfo) scale() float32 {
	if qi.Scale == 0 {
		return 1
	}
	return qi.Scale
}

// Quantize converts a float32 to uint8, rounding and clipping to the range
func Quantize(value float32, qi QuantInfo) uint8 {
	quantized := value/qi.scale() + qi.ZeroPoint

	if quantized < 0 {
		return 0
	}
	if quantized > 255 {
		return 255
	}
	return uint8(quantized + 0.5)
}

// Dequantize converts a uint8 to float32
func Dequantize(value uint8, qi QuantInfo) float32 {
	return (float32(value) - qi.ZeroPoint) * qi.scale()
}

// QuantizeBatch quantizes a batch of float32 values
func QuantizeBatch(input []float32, output []uint8, qi QuantInfo) {
	for i, v := range input {
		output[i] = Quantize(v, qi)
	}
}

// DequantizeBatch dequantizes a batch of uint8 values
func DequantizeBatch(input []uint8, output []float32, qi QuantInfo) {
	for i, v := range input {
		output[i] = Dequantize(v, qi)
	}
}

// QuantizeU16 converts a float32 to uint16
func QuantizeU16(value float32, qi QuantInfo) uint16 {
	quantized := value/qi.scale() + qi.ZeroPoint

	if quantized < 0 {
		return 0
	}
	if quantized > 65535 {
		return 65535
	}
	return uint16(quantized + 0.5)
}

// DequantizeU16 converts a uint16 to float32
func DequantizeU16(value uint16, qi QuantInfo) float32 {
	return (float32(value) - qi.ZeroPoint) * qi.scale()
}

// DequantizeU16Batch dequantizes a batch of uint16 values
func DequantizeU16Batch(input []uint16, output []float32, qi QuantInfo) {
	for i, v := range input {
		output[i] = DequantizeU16(v, qi)
	}
}
