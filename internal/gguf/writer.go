package gguf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
)

// Writer assembles a GGUF v3 container in memory. Keys and tensors are
// written in the order they were added.
type Writer struct {
	Alignment uint64

	keys    []string
	kv      map[string]Value
	tensors []pendingTensor
}

type pendingTensor struct {
	info TensorInfo
	data []byte
}

func NewWriter() *Writer {
	return &Writer{Alignment: defaultAlignment, kv: make(map[string]Value)}
}

// Set stores a metadata value. Supported Go types are the GGUF scalars,
// string, and slices of string, int32, uint32, float32.
func (w *Writer) Set(key string, v any) error {
	val, err := toValue(v)
	if err != nil {
		return fmt.Errorf("gguf: key %s: %w", key, err)
	}
	if _, ok := w.kv[key]; !ok {
		w.keys = append(w.keys, key)
	}
	w.kv[key] = val
	return nil
}

// AddTensor appends an already encoded tensor. dims follow ggml order,
// innermost first.
func (w *Writer) AddTensor(name string, typ TensorType, dims []uint64, data []byte) error {
	n, err := tensorElements(dims)
	if err != nil {
		return fmt.Errorf("gguf: tensor %s: %w", name, err)
	}
	want, err := tensorByteSize(typ, n)
	if err != nil {
		return fmt.Errorf("gguf: tensor %s: %w", name, err)
	}
	if len(data) != want {
		return fmt.Errorf("gguf: tensor %s: got %d bytes, want %d", name, len(data), want)
	}
	for _, t := range w.tensors {
		if t.info.Name == name {
			return fmt.Errorf("gguf: duplicate tensor %s", name)
		}
	}
	w.tensors = append(w.tensors, pendingTensor{
		info: TensorInfo{Name: name, NDim: uint32(len(dims)), Dims: append([]uint64(nil), dims...), Type: typ},
		data: data,
	})
	return nil
}

// AddTensorF32 appends an F32 tensor.
func (w *Writer) AddTensorF32(name string, dims []uint64, values []float32) error {
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return w.AddTensor(name, GGMLTypeF32, dims, buf)
}

// WriteTo encodes the container to dst.
func (w *Writer) WriteTo(dst io.Writer) (int64, error) {
	alignment := w.Alignment
	if alignment == 0 {
		alignment = defaultAlignment
	}
	if _, ok := w.kv["general.alignment"]; !ok && alignment != defaultAlignment {
		_ = w.Set("general.alignment", uint32(alignment))
	}

	var buf bytes.Buffer
	buf.WriteString(magicGGUF)
	putU32(&buf, 3)
	putU64(&buf, uint64(len(w.tensors)))
	putU64(&buf, uint64(len(w.keys)))
	for _, k := range w.keys {
		putString(&buf, k)
		v := w.kv[k]
		putU32(&buf, uint32(v.Type))
		if err := putValue(&buf, v.Type, v.Value); err != nil {
			return 0, fmt.Errorf("gguf: key %s: %w", k, err)
		}
	}

	var off uint64
	for i := range w.tensors {
		t := &w.tensors[i]
		off = align(off, alignment)
		t.info.Offset = off
		putString(&buf, t.info.Name)
		putU32(&buf, t.info.NDim)
		for _, d := range t.info.Dims {
			putU64(&buf, d)
		}
		putU32(&buf, uint32(t.info.Type))
		putU64(&buf, t.info.Offset)
		off += uint64(len(t.data))
	}

	pad(&buf, alignment)
	base := buf.Len()
	for _, t := range w.tensors {
		for uint64(buf.Len()-base) < t.info.Offset {
			buf.WriteByte(0)
		}
		buf.Write(t.data)
	}

	n, err := dst.Write(buf.Bytes())
	return int64(n), err
}

// WriteFile writes the container to path atomically.
func (w *Writer) WriteFile(path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".gguf-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := w.WriteTo(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func toValue(v any) (Value, error) {
	switch t := v.(type) {
	case uint8:
		return Value{Type: TypeUint8, Value: t}, nil
	case int8:
		return Value{Type: TypeInt8, Value: t}, nil
	case uint16:
		return Value{Type: TypeUint16, Value: t}, nil
	case int16:
		return Value{Type: TypeInt16, Value: t}, nil
	case uint32:
		return Value{Type: TypeUint32, Value: t}, nil
	case int32:
		return Value{Type: TypeInt32, Value: t}, nil
	case uint64:
		return Value{Type: TypeUint64, Value: t}, nil
	case int64:
		return Value{Type: TypeInt64, Value: t}, nil
	case float32:
		return Value{Type: TypeFloat32, Value: t}, nil
	case float64:
		return Value{Type: TypeFloat64, Value: t}, nil
	case bool:
		return Value{Type: TypeBool, Value: t}, nil
	case string:
		return Value{Type: TypeString, Value: t}, nil
	case []string:
		return arrayOf(TypeString, t), nil
	case []int32:
		return arrayOf(TypeInt32, t), nil
	case []uint32:
		return arrayOf(TypeUint32, t), nil
	case []float32:
		return arrayOf(TypeFloat32, t), nil
	case ArrayValue:
		return Value{Type: TypeArray, Value: t}, nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", v)
	}
}

func arrayOf[T any](elem ValueType, in []T) Value {
	values := make([]any, len(in))
	for i, v := range in {
		values[i] = v
	}
	return Value{Type: TypeArray, Value: ArrayValue{ElemType: elem, Values: values}}
}

func putValue(buf *bytes.Buffer, typ ValueType, v any) error {
	var ok bool
	switch typ {
	case TypeUint8:
		var x uint8
		if x, ok = v.(uint8); ok {
			buf.WriteByte(x)
		}
	case TypeInt8:
		var x int8
		if x, ok = v.(int8); ok {
			buf.WriteByte(byte(x))
		}
	case TypeUint16:
		var x uint16
		if x, ok = v.(uint16); ok {
			_ = binary.Write(buf, binary.LittleEndian, x)
		}
	case TypeInt16:
		var x int16
		if x, ok = v.(int16); ok {
			_ = binary.Write(buf, binary.LittleEndian, x)
		}
	case TypeUint32:
		var x uint32
		if x, ok = v.(uint32); ok {
			putU32(buf, x)
		}
	case TypeInt32:
		var x int32
		if x, ok = v.(int32); ok {
			putU32(buf, uint32(x))
		}
	case TypeUint64:
		var x uint64
		if x, ok = v.(uint64); ok {
			putU64(buf, x)
		}
	case TypeInt64:
		var x int64
		if x, ok = v.(int64); ok {
			putU64(buf, uint64(x))
		}
	case TypeFloat32:
		var x float32
		if x, ok = v.(float32); ok {
			putU32(buf, math.Float32bits(x))
		}
	case TypeFloat64:
		var x float64
		if x, ok = v.(float64); ok {
			putU64(buf, math.Float64bits(x))
		}
	case TypeBool:
		var x bool
		if x, ok = v.(bool); ok {
			if x {
				buf.WriteByte(1)
			} else {
				buf.WriteByte(0)
			}
		}
	case TypeString:
		var x string
		if x, ok = v.(string); ok {
			putString(buf, x)
		}
	case TypeArray:
		var arr ArrayValue
		if arr, ok = v.(ArrayValue); ok {
			putU32(buf, uint32(arr.ElemType))
			putU64(buf, uint64(len(arr.Values)))
			for _, e := range arr.Values {
				if err := putValue(buf, arr.ElemType, e); err != nil {
					return err
				}
			}
		}
	default:
		return fmt.Errorf("unsupported value type %s", typ)
	}
	if !ok {
		return fmt.Errorf("value %T does not match %s", v, typ)
	}
	return nil
}

func putU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func putU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func putString(buf *bytes.Buffer, s string) {
	putU64(buf, uint64(len(s)))
	buf.WriteString(s)
}

func pad(buf *bytes.Buffer, alignment uint64) {
	for uint64(buf.Len())%alignment != 0 {
		buf.WriteByte(0)
	}
}
