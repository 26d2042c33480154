package api

import (
	"io"
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
)

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

// writeJSON marshals v with goccy and writes it with the given status.
func writeJSON(c *echo.Context, status int, v any) error {
	blob, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.JSONBlob(status, blob)
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg)
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg)
}

func writeConflict(c *echo.Context, msg string) error {
	return writeError(c, http.StatusConflict, "capacity_error", msg)
}

func writeInternal(c *echo.Context, msg string) error {
	return writeError(c, http.StatusInternalServerError, "internal_error", msg)
}

func writeError(c *echo.Context, status int, errType, msg string) error {
	return writeJSON(c, status, ErrorResp{Error: ErrorBody{Message: msg, Type: errType}})
}
