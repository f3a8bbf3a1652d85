// Package httputil writes JSON responses. WriteError is the only way an
// error reaches a client.
package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"

	"stagepass/pkg/platform/faults"
)

// maxBodyBytes caps request bodies decoded by DecodeJSON.
const maxBodyBytes = 1 << 20

// Classifier turns an error into a client envelope. Implemented by
// *faults.Mapper.
type Classifier interface {
	Classify(ctx context.Context, err error) faults.Envelope
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// WriteError classifies err and writes the envelope. Rate-limit envelopes
// get a Retry-After header in whole seconds.
func WriteError(w http.ResponseWriter, r *http.Request, classifier Classifier, err error) {
	env := classifier.Classify(r.Context(), err)
	if env.RetryAfter > 0 {
		secs := int(math.Ceil(env.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	w.Header().Set("Cache-Control", "no-store")
	WriteJSON(w, env.StatusCode, env)
}

// DecodeJSON decodes a bounded request body into dst, rejecting unknown
// fields. Failures are validation faults.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return faults.Validation("empty request body", map[string]string{"body": "required"})
		}
		return faults.Validation("malformed request body: "+err.Error(), map[string]string{"body": "must be valid JSON"})
	}
	return nil
}
