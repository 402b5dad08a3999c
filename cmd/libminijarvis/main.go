// Command libminijarvis builds the session bridge as a C shared library:
//
//	go build -buildmode=c-shared -o libminijarvis.so ./cmd/libminijarvis
//
// Every function is safe to call from any thread. Strings returned by
// mj_generate and mj_generate_status are owned by the caller and must be
// released with mj_free_string.
package main

/*
#include <stdlib.h>
*/
import "C"

import (
	"log/slog"
	"os"
	"sync"
	"unsafe"

	"github.com/samcharles93/minijarvis/internal/bridge"
	"github.com/samcharles93/minijarvis/internal/logger"
)

const (
	envLogFile  = "MINIJARVIS_LOG_FILE"
	envLogLevel = "MINIJARVIS_LOG_LEVEL"
)

var defaultBridge = sync.OnceValue(func() *bridge.Bridge {
	return bridge.New(libraryLogger(os.Getenv(envLogFile), os.Getenv(envLogLevel)))
})

// libraryLogger writes to stderr, and also to a rotated JSON file when one
// is configured.
func libraryLogger(file, level string) logger.Logger {
	lvl := logger.ParseLevel(level)
	handlers := []slog.Handler{slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})}
	if file != "" {
		w := logger.FileWriter(file, logger.FileOptions{})
		handlers = append(handlers, slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
	}
	return logger.Tee(handlers...)
}

//export mj_init
func mj_init(path *C.char, contextSize C.int, temperature C.float, maxTokens C.int) C.longlong {
	if path == nil {
		return 0
	}
	return C.longlong(defaultBridge().Init(C.GoString(path), int(contextSize), float32(temperature), int(maxTokens)))
}

//export mj_init_status
func mj_init_status(path *C.char, contextSize C.int, temperature C.float, maxTokens C.int, handle *C.longlong) C.int {
	if path == nil {
		return C.int(bridge.StatusInvalidConfig)
	}
	h, st := defaultBridge().InitStatus(C.GoString(path), int(contextSize), float32(temperature), int(maxTokens))
	if handle != nil {
		*handle = C.longlong(h)
	}
	return C.int(st)
}

//export mj_generate
func mj_generate(handle C.longlong, prompt *C.char) *C.char {
	if prompt == nil {
		return C.CString("")
	}
	return C.CString(defaultBridge().GenerateText(int64(handle), C.GoString(prompt)))
}

// mj_generate_status always stores a string in *out, even on failure, so
// the caller can free it unconditionally.
//
//export mj_generate_status
func mj_generate_status(handle C.longlong, prompt *C.char, out **C.char) C.int {
	var p *string
	if prompt != nil {
		s := C.GoString(prompt)
		p = &s
	}
	text, st := generateStatus(defaultBridge(), int64(handle), p)
	if out != nil {
		*out = C.CString(text)
	}
	return C.int(st)
}

// generateStatus treats a nil prompt as invalid input with empty output.
func generateStatus(b *bridge.Bridge, h int64, prompt *string) (string, bridge.Status) {
	if prompt == nil {
		return "", bridge.StatusInvalidConfig
	}
	return b.GenerateTextStatus(h, *prompt)
}

//export mj_reset
func mj_reset(handle C.longlong) C.int {
	return C.int(bridge.StatusOf(defaultBridge().Reset(int64(handle))))
}

//export mj_cleanup
func mj_cleanup(handle C.longlong) {
	defaultBridge().Cleanup(int64(handle))
}

//export mj_status_string
func mj_status_string(status C.int) *C.char {
	return C.CString(bridge.Status(status).String())
}

//export mj_free_string
func mj_free_string(s *C.char) {
	if s != nil {
		C.free(unsafe.Pointer(s))
	}
}

//export mj_shutdown
func mj_shutdown() C.int {
	return C.int(bridge.StatusOf(defaultBridge().Shutdown()))
}

func main() {}
