package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/finmetrics/grounding/internal/api/response"
)

// maxBodyBytes bounds request bodies. A claims batch with inline series is
// the largest legitimate payload.
const maxBodyBytes = 1 << 20

// decodeJSON reads the request body into dst. Unknown fields and trailing
// data are rejected. On failure the problem response has been written and
// false is returned.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			response.BadRequest(w, r, "request body is required")
		case errors.As(err, &maxErr):
			response.BadRequest(w, r, fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit))
		default:
			response.BadRequest(w, r, "invalid request body: "+err.Error())
		}
		return false
	}
	if dec.More() {
		response.BadRequest(w, r, "request body must contain a single JSON object")
		return false
	}
	return true
}
