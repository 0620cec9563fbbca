// Package respond holds the JSON helpers shared by the API features.
package respond

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/dalemusser/selfmap/internal/app/system/limits"
	"github.com/dalemusser/selfmap/internal/domain/apperr"
)

// JSON writes v with status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Decode reads a JSON body into v. Malformed bodies are validation errors.
func Decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, limits.MaxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: malformed JSON body: %v", apperr.ErrValidation, err)
	}
	return nil
}

// Confirmed returns apperr.ErrConfirmationRequired unless the request
// carries confirm=true. Every destructive endpoint calls it first.
func Confirmed(r *http.Request) error {
	ok, _ := strconv.ParseBool(r.URL.Query().Get("confirm"))
	if !ok {
		return fmt.Errorf("%w: repeat the request with ?confirm=true", apperr.ErrConfirmationRequired)
	}
	return nil
}
