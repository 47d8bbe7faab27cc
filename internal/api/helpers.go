package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
)

// maxBodyBytes caps a request body. Contexts are paragraphs, not books.
const maxBodyBytes = 8 << 20

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, errKindInput, msg)
}

func writeServerError(c *echo.Context, msg string) error {
	return writeError(c, http.StatusInternalServerError, errKindServer, msg)
}

func writeError(c *echo.Context, status int, kind, msg string) error {
	return c.JSON(status, ErrorResponse{Error: kind, Description: msg})
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(io.LimitReader(r, maxBodyBytes))
	if err := dec.Decode(&out); err != nil {
		if errors.Is(err, io.EOF) {
			return out, newInvalidRequest("request body is empty")
		}
		return out, newInvalidRequest(fmt.Sprintf("invalid JSON body: %v", err))
	}
	return out, nil
}
