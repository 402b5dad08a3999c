package gguf

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	QK4_0 = 32
	QK4_1 = 32
	QK8_0 = 32
	QK_K  = 256

	q4_0BlockSize = 2 + QK4_0/2
	q4_1BlockSize = 2 + 2 + QK4_1/2
	q8_0BlockSize = 2 + QK8_0
	q4kBlockSize  = 2 + 2 + 12 + 128
	q6kBlockSize  = 2 + 128 + 64 + 16
)

// Dequantize decodes len(dst) elements of type t from data into dst.
// data must hold exactly the encoded size of len(dst) elements.
func Dequantize(dst []float32, t TensorType, data []byte) error {
	want, err := tensorByteSize(t, len(dst))
	if err != nil {
		return err
	}
	if len(data) != want {
		return fmt.Errorf("%s: invalid data length %d for n=%d", t, len(data), len(dst))
	}
	switch t {
	case GGMLTypeF32:
		for i := range dst {
			dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
		}
	case GGMLTypeF16:
		for i := range dst {
			dst[i] = fp16ToFloat32(data[i*2 : i*2+2])
		}
	case GGMLTypeQ4_0:
		dequantizeQ4_0(dst, data)
	case GGMLTypeQ4_1:
		dequantizeQ4_1(dst, data)
	case GGMLTypeQ8_0:
		dequantizeQ8_0(dst, data)
	case GGMLTypeQ4_K:
		dequantizeQ4K(dst, data)
	case GGMLTypeQ6_K:
		dequantizeQ6K(dst, data)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedType, t)
	}
	return nil
}

func DequantizeQ4K(data []byte, n int) ([]float32, error) {
	out := make([]float32, n)
	if err := Dequantize(out, GGMLTypeQ4_K, data); err != nil {
		return nil, err
	}
	return out, nil
}

func DequantizeQ6K(data []byte, n int) ([]float32, error) {
	out := make([]float32, n)
	if err := Dequantize(out, GGMLTypeQ6_K, data); err != nil {
		return nil, err
	}
	return out, nil
}

func dequantizeQ4_0(out []float32, data []byte) {
	for b := range len(out) / QK4_0 {
		blk := data[b*q4_0BlockSize:]
		d := fp16ToFloat32(blk[0:2])
		qs := blk[2:q4_0BlockSize]
		y := out[b*QK4_0:]
		for j := range QK4_0 / 2 {
			y[j] = float32(int(qs[j]&0x0F)-8) * d
			y[j+QK4_0/2] = float32(int(qs[j]>>4)-8) * d
		}
	}
}

func dequantizeQ4_1(out []float32, data []byte) {
	for b := range len(out) / QK4_1 {
		blk := data[b*q4_1BlockSize:]
		d := fp16ToFloat32(blk[0:2])
		m := fp16ToFloat32(blk[2:4])
		qs := blk[4:q4_1BlockSize]
		y := out[b*QK4_1:]
		for j := range QK4_1 / 2 {
			y[j] = float32(qs[j]&0x0F)*d + m
			y[j+QK4_1/2] = float32(qs[j]>>4)*d + m
		}
	}
}

func dequantizeQ8_0(out []float32, data []byte) {
	for b := range len(out) / QK8_0 {
		blk := data[b*q8_0BlockSize:]
		d := fp16ToFloat32(blk[0:2])
		y := out[b*QK8_0:]
		for j := range QK8_0 {
			y[j] = float32(int8(blk[2+j])) * d
		}
	}
}

func dequantizeQ4K(out []float32, data []byte) {
	off := 0
	for b := range len(out) / QK_K {
		d := fp16ToFloat32(data[off : off+2])
		dmin := fp16ToFloat32(data[off+2 : off+4])
		scales := data[off+4 : off+4+12]
		qs := data[off+4+12 : off+q4kBlockSize]

		y := out[b*QK_K:]
		is := 0
		q := qs
		yi := 0
		for j := 0; j < QK_K; j += 64 {
			sc1, m1 := getScaleMinK4(is+0, scales)
			sc2, m2 := getScaleMinK4(is+1, scales)
			d1 := d * float32(sc1)
			d2 := d * float32(sc2)
			mm1 := dmin * float32(m1)
			mm2 := dmin * float32(m2)
			for l := range 32 {
				y[yi] = d1*float32(q[l]&0x0F) - mm1
				yi++
			}
			for l := range 32 {
				y[yi] = d2*float32(q[l]>>4) - mm2
				yi++
			}
			q = q[32:]
			is += 2
		}

		off += q4kBlockSize
	}
}

func dequantizeQ6K(out []float32, data []byte) {
	off := 0
	for b := range len(out) / QK_K {
		d := fp16ToFloat32(data[off : off+2])
		ql := data[off+2 : off+2+128]
		qh := data[off+2+128 : off+2+128+64]
		scales := data[off+2+128+64 : off+q6kBlockSize]

		y := out[b*QK_K:]
		yi := 0
		qlp := ql
		qhp := qh
		scp := scales
		for n := 0; n < QK_K; n += 128 {
			for l := range 32 {
				is := l / 16
				q1 := int8((qlp[l+0]&0x0F)|(((qhp[l]>>0)&3)<<4)) - 32
				q2 := int8((qlp[l+32]&0x0F)|(((qhp[l]>>2)&3)<<4)) - 32
				q3 := int8((qlp[l+0]>>4)|(((qhp[l]>>4)&3)<<4)) - 32
				q4 := int8((qlp[l+32]>>4)|(((qhp[l]>>6)&3)<<4)) - 32
				y[yi+0] = d * float32(int8(scp[is+0])) * float32(q1)
				y[yi+32] = d * float32(int8(scp[is+2])) * float32(q2)
				y[yi+64] = d * float32(int8(scp[is+4])) * float32(q3)
				y[yi+96] = d * float32(int8(scp[is+6])) * float32(q4)
				yi++
			}
			yi += 96
			qlp = qlp[64:]
			qhp = qhp[32:]
			scp = scp[8:]
		}

		off += q6kBlockSize
	}
}

// QuantizeQ8_0 encodes src (a multiple of 32 elements) as Q8_0 blocks.
func QuantizeQ8_0(src []float32) ([]byte, error) {
	if len(src)%QK8_0 != 0 {
		return nil, fmt.Errorf("q8_0: n must be multiple of %d", QK8_0)
	}
	out := make([]byte, 0, len(src)/QK8_0*q8_0BlockSize)
	for b := 0; b < len(src); b += QK8_0 {
		blk := src[b : b+QK8_0]
		var amax float32
		for _, v := range blk {
			if a := float32(math.Abs(float64(v))); a > amax {
				amax = a
			}
		}
		h := float32ToFP16(amax / 127)
		out = binary.LittleEndian.AppendUint16(out, h)
		// Quantize against the stored half-precision scale.
		var id float32
		if d := fp16ToFloat32(out[len(out)-2:]); d != 0 {
			id = 1 / d
		}
		for _, v := range blk {
			q := math.Round(float64(v * id))
			q = math.Max(-127, math.Min(127, q))
			out = append(out, byte(int8(q)))
		}
	}
	return out, nil
}

func getScaleMinK4(j int, scales []byte) (uint8, uint8) {
	if j < 4 {
		return scales[j] & 63, scales[j+4] & 63
	}
	d := (scales[j+4] & 0x0F) | ((scales[j-4] >> 6) << 4)
	m := (scales[j+4] >> 4) | ((scales[j] >> 6) << 4)
	return d, m
}

func fp16ToFloat32(b []byte) float32 {
	if len(b) < 2 {
		return float32(math.NaN())
	}
	h := uint16(b[0]) | uint16(b[1])<<8
	sign := uint32(h>>15) & 0x1
	exp := uint32(h>>10) & 0x1F
	frac := uint32(h & 0x3FF)
	var f uint32
	switch exp {
	case 0:
		if frac == 0 {
			f = sign << 31
		} else {
			e := uint32(127 - 15 + 1)
			for (frac & 0x400) == 0 {
				frac <<= 1
				e--
			}
			frac &= 0x3FF
			f = (sign << 31) | (e << 23) | (frac << 13)
		}
	case 0x1F:
		f = (sign << 31) | 0x7F800000 | (frac << 13)
	default:
		e := exp + (127 - 15)
		f = (sign << 31) | (e << 23) | (frac << 13)
	}
	return math.Float32frombits(f)
}

// float32ToFP16 rounds to nearest half precision; subnormals flush to zero.
func float32ToFP16(v float32) uint16 {
	bits := math.Float32bits(v)
	sign := uint16(bits>>16) & 0x8000
	exp := int32((bits>>23)&0xFF) - 127 + 15
	frac := bits & 0x7FFFFF
	switch {
	case (bits>>23)&0xFF == 0xFF:
		if frac != 0 {
			return sign | 0x7E00
		}
		return sign | 0x7C00
	case exp >= 0x1F:
		return sign | 0x7C00
	case exp <= 0:
		return sign
	}
	h := sign | uint16(exp)<<10 | uint16(frac>>13)
	if frac&0x1000 != 0 {
		h++
	}
	return h
}
