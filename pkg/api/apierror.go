// Package api — RFC 7807 Problem Detail error responses for the broker API.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/chantierhq/chantier/pkg/contracts"
)

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
// All API error responses use this format.
type ProblemDetail struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
	// Kind carries the stable error kind so clients can branch without
	// parsing the detail text.
	Kind string `json:"kind,omitempty"`
}

// Error implements the error interface.
func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// WriteError writes an RFC 7807 Problem Detail JSON response.
func WriteError(w http.ResponseWriter, status int, title, detail string) {
	writeProblem(w, &ProblemDetail{
		Type:   fmt.Sprintf("https://chantierhq.dev/errors/%d", status),
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// WriteKindError maps a broker error onto HTTP. Only the curated text
// of a domain error crosses the boundary; anything else (a raw driver
// error that slipped past the storage layer's wrapping) is logged and
// replaced with a fixed message, so internal paths and SQL never reach
// the caller.
func WriteKindError(w http.ResponseWriter, err error) {
	kind := contracts.KindOf(err)
	status := statusFor(kind)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	detail := "A temporary internal error occurred. Please retry."
	var domain *contracts.Error
	if errors.As(err, &domain) {
		detail = domain.Error()
	} else {
		slog.Error("unclassified error reached the API boundary", "error", err)
	}
	writeProblem(w, &ProblemDetail{
		Type:   fmt.Sprintf("https://chantierhq.dev/errors/%s", kind),
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
		Kind:   string(kind),
	})
}

func statusFor(kind contracts.Kind) int {
	switch kind {
	case contracts.KindValidation:
		return http.StatusBadRequest
	case contracts.KindNotFound:
		return http.StatusNotFound
	case contracts.KindConflict, contracts.KindNoChange, contracts.KindAlreadyConsumed, contracts.KindStale:
		return http.StatusConflict
	case contracts.KindExpired:
		return http.StatusGone
	case contracts.KindPermissionDenied:
		return http.StatusForbidden
	default:
		return http.StatusServiceUnavailable
	}
}

func writeProblem(w http.ResponseWriter, problem *ProblemDetail) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(problem.Status)
	_ = json.NewEncoder(w).Encode(problem)
}

// WriteBadRequest writes a 400 error response.
func WriteBadRequest(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusBadRequest, "Bad Request", detail)
}

// WriteUnauthorized writes a 401 error response.
func WriteUnauthorized(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Authentication required"
	}
	WriteError(w, http.StatusUnauthorized, "Unauthorized", detail)
}

// WriteTooManyRequests writes a 429 error response with Retry-After.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteError(w, http.StatusTooManyRequests, "Too Many Requests", "Rate limit exceeded. Retry after the specified interval.")
}

// WriteInternal writes a 500 error response.
// The err parameter is logged but NEVER exposed to the client.
func WriteInternal(w http.ResponseWriter, err error) {
	slog.Error("internal server error", "error", err)
	WriteError(w, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred. Please try again later.")
}
