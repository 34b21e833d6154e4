package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"courieropt/internal/dispatch"
	"courieropt/internal/opt"
	"courieropt/internal/store"
)

// Problem represents an RFC7807 problem details response body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

// writeError maps service errors onto problem responses.
func writeError(w http.ResponseWriter, r *http.Request, title string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, opt.ErrJobNotFound):
		status = http.StatusNotFound
	case errors.Is(err, opt.ErrDuplicateJob):
		status = http.StatusConflict
	case errors.Is(err, dispatch.ErrRateLimited), errors.Is(err, opt.ErrQueueFull):
		status = http.StatusTooManyRequests
	case errors.Is(err, opt.ErrInvalidProblem), errors.Is(err, opt.ErrUnknownPartner), errors.Is(err, opt.ErrUnknownVehicle),
		errors.Is(err, dispatch.ErrNoPartner), errors.Is(err, dispatch.ErrNoLocation):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, opt.ErrManagerClosed):
		status = http.StatusServiceUnavailable
	}
	writeProblem(w, status, title, err.Error(), r.URL.Path)
}

const maxBody = 4 << 20

// decodeJSON reads an optional JSON body into v. It reports whether a body
// was present.
func decodeJSON(r *http.Request, v any) (bool, error) {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		return true, fmt.Errorf("invalid JSON: %w", err)
	}
	return true, nil
}
