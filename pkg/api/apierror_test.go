package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chantierhq/chantier/pkg/contracts"
)

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) ProblemDetail {
	t.Helper()
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	var p ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p
}

func TestWriteKindErrorDomainError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteKindError(rec, contracts.E(contracts.KindNotFound, "item 42 not found"))

	p := decodeProblem(t, rec)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NotFound", p.Kind)
	assert.Contains(t, p.Detail, "item 42 not found")
}

// A raw error that slipped past the storage layer's wrapping must not
// reach the caller: no file paths, no driver text.
func TestWriteKindErrorHidesForeignErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteKindError(rec, errors.New("sqlite: I/O error on /var/lib/chantier/legacy.db"))

	p := decodeProblem(t, rec)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "Transient", p.Kind)
	assert.NotContains(t, p.Detail, "sqlite")
	assert.NotContains(t, p.Detail, "/var/lib")
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))
}

func TestWriteKindErrorWrappedTransientStaysGeneric(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteKindError(rec, contracts.WrapTransient(errors.New("dial tcp 10.0.0.5:5432: connection refused")))

	p := decodeProblem(t, rec)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, p.Detail, "10.0.0.5")
	assert.Contains(t, p.Detail, "temporary storage failure")
}
