package gguf

import "fmt"

type TensorType uint32

const (
	GGMLTypeF32  TensorType = 0
	GGMLTypeF16  TensorType = 1
	GGMLTypeQ4_0 TensorType = 2
	GGMLTypeQ4_1 TensorType = 3
	GGMLTypeQ5_0 TensorType = 6
	GGMLTypeQ5_1 TensorType = 7
	GGMLTypeQ8_0 TensorType = 8
	GGMLTypeQ8_1 TensorType = 9
	GGMLTypeQ2_K TensorType = 10
	GGMLTypeQ3_K TensorType = 11
	GGMLTypeQ4_K TensorType = 12
	GGMLTypeQ5_K TensorType = 13
	GGMLTypeQ6_K TensorType = 14
	GGMLTypeQ8_K TensorType = 15
	GGMLTypeI8   TensorType = 24
	GGMLTypeI16  TensorType = 25
	GGMLTypeI32  TensorType = 26
	GGMLTypeI64  TensorType = 27
	GGMLTypeF64  TensorType = 28
	GGMLTypeBF16 TensorType = 30
)

type typeTraits struct {
	name       string
	blockElems int // 0 when this package cannot decode the type
	blockBytes int
}

var tensorTypes = map[TensorType]typeTraits{
	GGMLTypeF32:  {"F32", 1, 4},
	GGMLTypeF16:  {"F16", 1, 2},
	GGMLTypeQ4_0: {"Q4_0", QK4_0, q4_0BlockSize},
	GGMLTypeQ4_1: {"Q4_1", QK4_1, q4_1BlockSize},
	GGMLTypeQ5_0: {name: "Q5_0"},
	GGMLTypeQ5_1: {name: "Q5_1"},
	GGMLTypeQ8_0: {"Q8_0", QK8_0, q8_0BlockSize},
	GGMLTypeQ8_1: {name: "Q8_1"},
	GGMLTypeQ2_K: {name: "Q2_K"},
	GGMLTypeQ3_K: {name: "Q3_K"},
	GGMLTypeQ4_K: {"Q4_K", QK_K, q4kBlockSize},
	GGMLTypeQ5_K: {name: "Q5_K"},
	GGMLTypeQ6_K: {"Q6_K", QK_K, q6kBlockSize},
	GGMLTypeQ8_K: {name: "Q8_K"},
	GGMLTypeI8:   {name: "I8"},
	GGMLTypeI16:  {name: "I16"},
	GGMLTypeI32:  {name: "I32"},
	GGMLTypeI64:  {name: "I64"},
	GGMLTypeF64:  {name: "F64"},
	GGMLTypeBF16: {name: "BF16"},
}

func (t TensorType) String() string {
	if tr, ok := tensorTypes[t]; ok {
		return tr.name
	}
	return fmt.Sprintf("type(%d)", uint32(t))
}

// BlockLayout returns how many elements a block of t holds and how many
// bytes it occupies. ok is false for types this package cannot decode.
func BlockLayout(t TensorType) (elems, bytes int, ok bool) {
	tr := tensorTypes[t]
	return tr.blockElems, tr.blockBytes, tr.blockElems > 0
}

// RowBytes returns the encoded size of n consecutive elements of type t.
func RowBytes(t TensorType, n int) (int, error) {
	return tensorByteSize(t, n)
}

// TensorByName looks a tensor up by its GGUF name.
func (f *File) TensorByName(name string) (TensorInfo, bool) {
	i, ok := f.byName[name]
	if !ok {
		return TensorInfo{}, false
	}
	return f.Tensors[i], true
}

// ReadTensorRaw returns the encoded bytes of a tensor as a view into the
// file image, along with its dims and type.
func ReadTensorRaw(f *File, name string) ([]byte, []uint64, TensorType, error) {
	info, ok := f.TensorByName(name)
	if !ok {
		return nil, nil, 0, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
	}
	n, err := tensorElements(info.Dims)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("tensor %s: %w", name, err)
	}
	byteSize, err := tensorByteSize(info.Type, n)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("tensor %s: %w", name, err)
	}

	off := f.DataOffset + info.Offset
	if f.Data == nil {
		return nil, nil, 0, fmt.Errorf("tensor %s: file is closed", name)
	}
	if uint64(len(f.Data)) < off+uint64(byteSize) {
		return nil, nil, 0, fmt.Errorf("%w: tensor %s", ErrTruncated, name)
	}
	return f.Data[off : off+uint64(byteSize)], info.Dims, info.Type, nil
}

// ReadTensorF32 loads a tensor by name and returns its data as float32 along with its dims.
func ReadTensorF32(f *File, name string) ([]float32, []uint64, error) {
	raw, dims, typ, err := ReadTensorRaw(f, name)
	if err != nil {
		return nil, nil, err
	}
	n, err := tensorElements(dims)
	if err != nil {
		return nil, nil, err
	}
	out := make([]float32, n)
	if err := Dequantize(out, typ, raw); err != nil {
		return nil, nil, fmt.Errorf("tensor %s: %w", name, err)
	}
	return out, dims, nil
}

func tensorElements(dims []uint64) (int, error) {
	if len(dims) == 0 {
		return 0, fmt.Errorf("empty dims")
	}
	var n uint64 = 1
	for _, d := range dims {
		if d == 0 {
			return 0, fmt.Errorf("zero dimension")
		}
		if n > uint64(^uint(0)>>1)/d {
			return 0, fmt.Errorf("tensor too large")
		}
		n *= d
	}
	return int(n), nil
}

func tensorByteSize(t TensorType, n int) (int, error) {
	elems, bytes, ok := BlockLayout(t)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
	}
	if n%elems != 0 {
		return 0, fmt.Errorf("%s: n must be multiple of %d", t, elems)
	}
	return (n / elems) * bytes, nil
}
