package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
	"github.com/samcharles93/minijarvis/internal/bridge"
)

func writeJSON(c *echo.Context, status int, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.JSONBlob(status, b)
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg, "")
}

// writeRequestError answers 400 for errors caused by the request and 500
// for anything else.
func writeRequestError(c *echo.Context, err error) error {
	if errors.Is(err, ErrInvalidRequest) {
		return writeBadRequest(c, err.Error())
	}
	return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "")
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg, "")
}

func writeError(c *echo.Context, status int, errType, msg, code string) error {
	return writeJSON(c, status, map[string]any{
		"error": ErrorBody{
			Message: msg,
			Type:    errType,
			Code:    code,
		},
	})
}

// writeStatus reports a failed bridge call. The code is the status name.
func writeStatus(c *echo.Context, err error) error {
	st := bridge.StatusOf(err)
	status, errType := httpStatus(st)
	return writeError(c, status, errType, err.Error(), st.String())
}

func httpStatus(st bridge.Status) (int, string) {
	switch st {
	case bridge.StatusOK:
		return http.StatusOK, ""
	case bridge.StatusHandleNotFound:
		return http.StatusNotFound, "not_found_error"
	case bridge.StatusSessionBusy:
		return http.StatusConflict, "conflict_error"
	case bridge.StatusNotFound, bridge.StatusUnsupportedFormat, bridge.StatusTruncated,
		bridge.StatusInvalidConfig:
		return http.StatusBadRequest, "invalid_request_error"
	case bridge.StatusOutOfMemory:
		return http.StatusInsufficientStorage, "server_error"
	default:
		return http.StatusInternalServerError, "server_error"
	}
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	if err := dec.Decode(&out); err != nil {
		if errors.Is(err, io.EOF) {
			return out, badRequestf("request body is empty")
		}
		return out, badRequestf("invalid JSON: %v", err)
	}
	return out, nil
}

func handleParam(c *echo.Context) (int64, error) {
	h, err := strconv.ParseInt(c.Param("handle"), 10, 64)
	if err != nil || h <= 0 {
		return 0, badRequestf("handle must be a positive integer")
	}
	return h, nil
}
