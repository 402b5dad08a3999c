package gguf

import "errors"

var (
	ErrInvalidMagic       = errors.New("gguf: invalid magic")
	ErrUnsupportedVersion = errors.New("gguf: unsupported version")
	ErrTruncated          = errors.New("gguf: truncated file")
	ErrMalformed          = errors.New("gguf: malformed file")
	ErrUnsupportedType    = errors.New("unsupported tensor type")
	ErrTensorNotFound     = errors.New("gguf: tensor not found")
)
