// Package gguf reads and writes the GGUF model container used by llama.cpp.
package gguf

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"golang.org/x/sys/unix"
)

const (
	magicGGUF = "GGUF"

	defaultAlignment = 32
)

// SupportedVersions lists the container versions Open accepts.
var SupportedVersions = []uint32{2, 3}

type ValueType uint32

const (
	TypeUint8   ValueType = 0
	TypeInt8    ValueType = 1
	TypeUint16  ValueType = 2
	TypeInt16   ValueType = 3
	TypeUint32  ValueType = 4
	TypeInt32   ValueType = 5
	TypeFloat32 ValueType = 6
	TypeBool    ValueType = 7
	TypeString  ValueType = 8
	TypeArray   ValueType = 9
	TypeUint64  ValueType = 10
	TypeInt64   ValueType = 11
	TypeFloat64 ValueType = 12
)

var valueTypeNames = [...]string{
	TypeUint8: "u8", TypeInt8: "i8", TypeUint16: "u16", TypeInt16: "i16",
	TypeUint32: "u32", TypeInt32: "i32", TypeFloat32: "f32", TypeBool: "bool",
	TypeString: "string", TypeArray: "array", TypeUint64: "u64", TypeInt64: "i64",
	TypeFloat64: "f64",
}

func (t ValueType) String() string {
	if int(t) < len(valueTypeNames) {
		return valueTypeNames[t]
	}
	return fmt.Sprintf("type(%d)", uint32(t))
}

type ArrayValue struct {
	ElemType ValueType
	Values   []any
}

type Value struct {
	Type  ValueType
	Value any
}

type Header struct {
	Version     uint32
	TensorCount uint64
	KVCount     uint64
}

type TensorInfo struct {
	Name   string
	NDim   uint32
	Dims   []uint64
	Type   TensorType
	Offset uint64
}

// Elements returns the number of scalar elements in the tensor.
func (t TensorInfo) Elements() (int, error) {
	return tensorElements(t.Dims)
}

// File is an opened GGUF container. Data holds the whole file, either
// memory-mapped or read into the heap when mmap is unavailable.
type File struct {
	Path       string
	Size       int64
	Header     Header
	KV         map[string]Value
	Tensors    []TensorInfo
	Alignment  uint64
	DataOffset uint64
	// MetaSize is the byte length of the header, metadata and tensor table.
	MetaSize uint64
	Data     []byte

	byName  map[string]int
	mmapped bool
}

// Open maps a GGUF file read-only and parses its header, metadata and
// tensor table. Errors wrap ErrInvalidMagic, ErrUnsupportedVersion,
// ErrTruncated or ErrMalformed when the content is at fault; anything else
// is an I/O error.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if st.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	size := st.Size()
	if size > int64(int(^uint(0)>>1)) {
		return nil, fmt.Errorf("file too large to map: %d bytes", size)
	}
	if size == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrTruncated)
	}

	mmapped := true
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		mmapped = false
		data = make([]byte, size)
		if _, err := io.ReadFull(f, data); err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}

	gf, err := parse(data)
	if err != nil {
		if mmapped {
			_ = unix.Munmap(data)
		}
		return nil, err
	}
	gf.Path = path
	gf.Size = size
	gf.mmapped = mmapped
	return gf, nil
}

// Close releases the mapping. It is safe to call more than once.
func (f *File) Close() error {
	if f == nil || f.Data == nil {
		return nil
	}
	data := f.Data
	f.Data = nil
	if f.mmapped {
		return unix.Munmap(data)
	}
	return nil
}

// Meta returns the raw header, metadata and tensor table bytes.
func (f *File) Meta() []byte {
	if f.Data == nil || f.MetaSize > uint64(len(f.Data)) {
		return nil
	}
	return f.Data[:f.MetaSize]
}

func parse(data []byte) (*File, error) {
	r := newReader(data)

	magic, err := r.readN(4)
	if err != nil {
		return nil, truncated("magic", err)
	}
	if string(magic) != magicGGUF {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMagic, string(magic))
	}

	version, err := r.readU32()
	if err != nil {
		return nil, truncated("version", err)
	}
	if !slices.Contains(SupportedVersions, version) {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
	tensorCount, err := r.readU64()
	if err != nil {
		return nil, truncated("tensor count", err)
	}
	kvCount, err := r.readU64()
	if err != nil {
		return nil, truncated("kv count", err)
	}
	// Every entry needs at least a length-prefixed key and a type tag.
	if kvCount > uint64(r.remaining())/12 || tensorCount > uint64(r.remaining())/24 {
		return nil, fmt.Errorf("%w: header declares %d kv and %d tensors", ErrTruncated, kvCount, tensorCount)
	}

	kv := make(map[string]Value, kvCount)
	for i := range kvCount {
		key, err := r.readString()
		if err != nil {
			return nil, truncated(fmt.Sprintf("key %d", i), err)
		}
		vtypeU32, err := r.readU32()
		if err != nil {
			return nil, truncated("value type for "+key, err)
		}
		vtype := ValueType(vtypeU32)
		val, err := r.readValue(vtype)
		if err != nil {
			return nil, truncated("value for "+key, err)
		}
		kv[key] = Value{Type: vtype, Value: val}
	}

	tensors := make([]TensorInfo, 0, tensorCount)
	byName := make(map[string]int, tensorCount)
	for i := range tensorCount {
		name, err := r.readString()
		if err != nil {
			return nil, truncated(fmt.Sprintf("tensor name %d", i), err)
		}
		nDim, err := r.readU32()
		if err != nil {
			return nil, truncated("tensor dims "+name, err)
		}
		if nDim > 8 {
			return nil, fmt.Errorf("%w: tensor %s has %d dimensions", ErrMalformed, name, nDim)
		}
		dims := make([]uint64, nDim)
		for d := range nDim {
			v, err := r.readU64()
			if err != nil {
				return nil, truncated(fmt.Sprintf("tensor dim %s[%d]", name, d), err)
			}
			dims[d] = v
		}
		ttypeU32, err := r.readU32()
		if err != nil {
			return nil, truncated("tensor type "+name, err)
		}
		offset, err := r.readU64()
		if err != nil {
			return nil, truncated("tensor offset "+name, err)
		}
		byName[name] = len(tensors)
		tensors = append(tensors, TensorInfo{
			Name:   name,
			NDim:   nDim,
			Dims:   dims,
			Type:   TensorType(ttypeU32),
			Offset: offset,
		})
	}

	alignment := uint64(defaultAlignment)
	if v, ok := kv["general.alignment"]; ok {
		if u, ok := asUint64(v.Value); ok && u > 0 {
			alignment = u
		}
	}

	gf := &File{
		Header:     Header{Version: version, TensorCount: tensorCount, KVCount: kvCount},
		KV:         kv,
		Tensors:    tensors,
		Alignment:  alignment,
		DataOffset: align(uint64(r.off), alignment),
		MetaSize:   uint64(r.off),
		Data:       data,
		byName:     byName,
	}
	if err := gf.checkTensorBounds(); err != nil {
		return nil, err
	}
	return gf, nil
}

// checkTensorBounds verifies that every tensor of a known type lies inside
// the file. Tensors of unknown types are left for the consumer to reject.
func (f *File) checkTensorBounds() error {
	size := uint64(len(f.Data))
	for _, t := range f.Tensors {
		n, err := tensorElements(t.Dims)
		if err != nil {
			return fmt.Errorf("%w: tensor %s: %v", ErrMalformed, t.Name, err)
		}
		byteSize, err := tensorByteSize(t.Type, n)
		if err != nil {
			if errors.Is(err, ErrUnsupportedType) {
				continue
			}
			return fmt.Errorf("%w: tensor %s: %v", ErrMalformed, t.Name, err)
		}
		start := f.DataOffset + t.Offset
		if start < f.DataOffset || start+uint64(byteSize) > size {
			return fmt.Errorf("%w: tensor %s ends past EOF", ErrTruncated, t.Name)
		}
	}
	return nil
}

func truncated(what string, err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: reading %s", ErrTruncated, what)
	}
	return fmt.Errorf("read %s: %w", what, err)
}

func align(offset, alignment uint64) uint64 {
	if alignment == 0 {
		return offset
	}
	rem := offset % alignment
	if rem == 0 {
		return offset
	}
	return offset + (alignment - rem)
}
