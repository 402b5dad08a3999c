package gguf

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// reader walks an in-memory GGUF image. All integers are little-endian.
type reader struct {
	data []byte
	off  int64
}

func newReader(data []byte) *reader {
	return &reader{data: data}
}

func (r *reader) remaining() int64 {
	return int64(len(r.data)) - r.off
}

// readN returns the next n bytes of the image. The slice aliases data.
func (r *reader) readN(n int) ([]byte, error) {
	if n < 0 || int64(n) > r.remaining() {
		return nil, io.ErrUnexpectedEOF
	}
	b := r.data[r.off : r.off+int64(n)]
	r.off += int64(n)
	return b, nil
}

func (r *reader) readU32() (uint32, error) {
	b, err := r.readN(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) readU64() (uint64, error) {
	b, err := r.readN(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// readString reads a u64 length followed by that many bytes.
func (r *reader) readString() (string, error) {
	n, err := r.readU64()
	if err != nil {
		return "", err
	}
	if n > uint64(r.remaining()) {
		return "", io.ErrUnexpectedEOF
	}
	b, _ := r.readN(int(n))
	return string(b), nil
}

// scalar decodes a fixed-width value of the given size with conv.
func scalar[T any](r *reader, size int, conv func([]byte) T) (any, error) {
	b, err := r.readN(size)
	if err != nil {
		return nil, err
	}
	return conv(b), nil
}

var le = binary.LittleEndian

// readValue decodes one metadata value of type t. Arrays recurse.
func (r *reader) readValue(t ValueType) (any, error) {
	switch t {
	case TypeUint8:
		return scalar(r, 1, func(b []byte) uint8 { return b[0] })
	case TypeInt8:
		return scalar(r, 1, func(b []byte) int8 { return int8(b[0]) })
	case TypeBool:
		return scalar(r, 1, func(b []byte) bool { return b[0] != 0 })
	case TypeUint16:
		return scalar(r, 2, le.Uint16)
	case TypeInt16:
		return scalar(r, 2, func(b []byte) int16 { return int16(le.Uint16(b)) })
	case TypeUint32:
		return scalar(r, 4, le.Uint32)
	case TypeInt32:
		return scalar(r, 4, func(b []byte) int32 { return int32(le.Uint32(b)) })
	case TypeFloat32:
		return scalar(r, 4, func(b []byte) float32 { return math.Float32frombits(le.Uint32(b)) })
	case TypeUint64:
		return scalar(r, 8, le.Uint64)
	case TypeInt64:
		return scalar(r, 8, func(b []byte) int64 { return int64(le.Uint64(b)) })
	case TypeFloat64:
		return scalar(r, 8, func(b []byte) float64 { return math.Float64frombits(le.Uint64(b)) })
	case TypeString:
		return r.readString()
	case TypeArray:
		return r.readArray()
	}
	return nil, fmt.Errorf("%w: value type %d", ErrMalformed, uint32(t))
}

func (r *reader) readArray() (any, error) {
	et, err := r.readU32()
	if err != nil {
		return nil, err
	}
	count, err := r.readU64()
	if err != nil {
		return nil, err
	}
	// Every element takes at least one byte.
	if count > uint64(r.remaining()) {
		return nil, io.ErrUnexpectedEOF
	}
	// Arrays of arrays are not part of the format llama.cpp reads, and
	// unbounded nesting would recurse without limit.
	if ValueType(et) == TypeArray {
		return nil, fmt.Errorf("%w: nested array", ErrMalformed)
	}
	arr := ArrayValue{ElemType: ValueType(et), Values: make([]any, 0, count)}
	for range count {
		v, err := r.readValue(arr.ElemType)
		if err != nil {
			return nil, err
		}
		arr.Values = append(arr.Values, v)
	}
	return arr, nil
}
