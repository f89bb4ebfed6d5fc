package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"github.com/markdave123-py/citedoc/internal/core"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: msg, Kind: "bad_request"})
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind string) int {
	switch kind {
	case "invalid_file":
		return http.StatusBadRequest
	case "parse_error":
		return http.StatusUnprocessableEntity
	case "not_found":
		return http.StatusNotFound
	case "embedding_error", "service_unavailable":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError logs err and writes it with the status of its kind.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := core.KindOf(err)
	status := statusFor(kind)
	msg := err.Error()

	switch {
	case r.Context().Err() != nil && errors.Is(err, r.Context().Err()):
		hlog.FromRequest(r).Debug().Err(err).Msg("request cancelled")
		return
	case status >= 500:
		hlog.FromRequest(r).Error().Err(err).Str("kind", kind).Msg("request failed")
		if kind == "internal_error" {
			msg = "internal error"
		}
	default:
		hlog.FromRequest(r).Info().Err(err).Str("kind", kind).Msg("request rejected")
	}
	writeJSON(w, status, ErrorResponse{Error: msg, Kind: kind})
}
