package session

import (
	"errors"
	"fmt"
)

// Kind classifies load and generation failures.
type Kind int

const (
	KindNotFound Kind = iota + 1
	KindUnsupportedFormat
	KindTruncated
	KindIOError
	KindInvalidConfig
	KindSessionCorrupt
	KindOutOfMemory
	KindSessionBusy
)

var (
	ErrNotFound          = errors.New("not_found")
	ErrUnsupportedFormat = errors.New("unsupported_format")
	ErrTruncated         = errors.New("truncated")
	ErrIO                = errors.New("io_error")
	ErrInvalidConfig     = errors.New("invalid_config")
	ErrSessionCorrupt    = errors.New("session_corrupt")
	ErrOutOfMemory       = errors.New("out_of_memory")
	ErrSessionBusy       = errors.New("session_busy")
)

// Sentinel returns the package error matching k.
func (k Kind) Sentinel() error {
	switch k {
	case KindNotFound:
		return ErrNotFound
	case KindUnsupportedFormat:
		return ErrUnsupportedFormat
	case KindTruncated:
		return ErrTruncated
	case KindIOError:
		return ErrIO
	case KindInvalidConfig:
		return ErrInvalidConfig
	case KindSessionCorrupt:
		return ErrSessionCorrupt
	case KindOutOfMemory:
		return ErrOutOfMemory
	case KindSessionBusy:
		return ErrSessionBusy
	default:
		return nil
	}
}

func (k Kind) String() string {
	if s := k.Sentinel(); s != nil {
		return s.Error()
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// LoadError reports why a model file could not become a Session.
type LoadError struct {
	Kind Kind
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("load %s: %s", e.Path, e.Kind)
	}
	return fmt.Sprintf("load %s: %s: %v", e.Path, e.Kind, e.Err)
}

func (e *LoadError) Unwrap() []error {
	return unwrap(e.Kind, e.Err)
}

// GenerationError reports a failed Generate call.
type GenerationError struct {
	Kind Kind
	Err  error
}

func (e *GenerationError) Error() string {
	if e.Err == nil {
		return "generate: " + e.Kind.String()
	}
	return fmt.Sprintf("generate: %s: %v", e.Kind, e.Err)
}

func (e *GenerationError) Unwrap() []error {
	return unwrap(e.Kind, e.Err)
}

func unwrap(k Kind, err error) []error {
	var out []error
	if s := k.Sentinel(); s != nil {
		out = append(out, s)
	}
	if err != nil {
		out = append(out, err)
	}
	return out
}

// KindOf returns the Kind carried by err, or 0 when err came from
// elsewhere.
func KindOf(err error) Kind {
	var le *LoadError
	if errors.As(err, &le) {
		return le.Kind
	}
	var ge *GenerationError
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return 0
}
