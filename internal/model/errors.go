package model

import "errors"

var (
	ErrUnsupportedArch = errors.New("model: unsupported architecture")
	ErrInvalidModel    = errors.New("model: invalid model")
	ErrOutOfMemory     = errors.New("model: allocation failed")
	ErrContextFull     = errors.New("model: context window full")
	ErrTokenRange      = errors.New("model: token id out of range")
)
