package bridge

import (
	"errors"

	"github.com/samcharles93/minijarvis/internal/handles"
	"github.com/samcharles93/minijarvis/internal/session"
)

// Status is the integer outcome reported across the boundary.
type Status int32

const (
	StatusOK Status = iota
	StatusNotFound
	StatusUnsupportedFormat
	StatusTruncated
	StatusIOError
	StatusInvalidConfig
	StatusSessionCorrupt
	StatusOutOfMemory
	StatusSessionBusy
	StatusHandleNotFound
	StatusInternal
)

var statusNames = [...]string{
	StatusOK:                "ok",
	StatusNotFound:          "not_found",
	StatusUnsupportedFormat: "unsupported_format",
	StatusTruncated:         "truncated",
	StatusIOError:           "io_error",
	StatusInvalidConfig:     "invalid_config",
	StatusSessionCorrupt:    "session_corrupt",
	StatusOutOfMemory:       "out_of_memory",
	StatusSessionBusy:       "session_busy",
	StatusHandleNotFound:    "handle_not_found",
	StatusInternal:          "internal",
}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "unknown"
}

// StatusOf classifies err. Unrecognised errors are StatusInternal.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	if errors.Is(err, handles.ErrNotFound) {
		return StatusHandleNotFound
	}
	if errors.Is(err, handles.ErrBusy) {
		return StatusSessionBusy
	}
	switch session.KindOf(err) {
	case session.KindNotFound:
		return StatusNotFound
	case session.KindUnsupportedFormat:
		return StatusUnsupportedFormat
	case session.KindTruncated:
		return StatusTruncated
	case session.KindIOError:
		return StatusIOError
	case session.KindInvalidConfig:
		return StatusInvalidConfig
	case session.KindSessionCorrupt:
		return StatusSessionCorrupt
	case session.KindOutOfMemory:
		return StatusOutOfMemory
	case session.KindSessionBusy:
		return StatusSessionBusy
	}
	return StatusInternal
}
