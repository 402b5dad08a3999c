package api

import (
	"errors"
	"fmt"
)

// ErrInvalidRequest matches every error caused by the request itself.
var ErrInvalidRequest = errors.New("invalid request")

type requestError string

func (e requestError) Error() string        { return string(e) }
func (e requestError) Is(target error) bool { return target == ErrInvalidRequest }

func badRequestf(format string, args ...any) error {
	return requestError(fmt.Sprintf(format, args...))
}
