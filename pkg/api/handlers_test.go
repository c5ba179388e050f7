package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chantierhq/chantier/pkg/actionstore"
	"github.com/chantierhq/chantier/pkg/audit"
	"github.com/chantierhq/chantier/pkg/broker"
	"github.com/chantierhq/chantier/pkg/contracts"
	"github.com/chantierhq/chantier/pkg/mutation"
	"github.com/chantierhq/chantier/pkg/principal"
	"github.com/chantierhq/chantier/pkg/query"
	"github.com/chantierhq/chantier/pkg/store"
)

type testEnv struct {
	handler    http.Handler
	store      *store.MemoryStore
	agentToken string
	userToken  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	s := store.NewMemoryStore()
	price := 349.90
	s.PutItem(contracts.Item{
		ID: 42, SectionID: "sec-plumbing", SectionLabel: "Plumbing",
		ProjectID: "proj-1", Product: "Kitchen Faucet",
		Reference: "GROHE-32663", PriceTTC: &price,
	})

	// Mirror the production wiring: the broker and query surface reach
	// the store only through the capability-checked wrapper.
	guarded := store.Restrict(s)
	b := broker.New(mutation.New(guarded), actionstore.NewMemoryStore(), audit.Nop())
	issuer := principal.NewTokenIssuer([]byte("test-key"), time.Hour)
	server := NewServer(b, query.New(guarded), issuer)
	t.Cleanup(server.Close)

	agentToken, err := issuer.Issue(principal.Agent("user-1"))
	require.NoError(t, err)
	userToken, err := issuer.Issue(principal.Operator("user-1"))
	require.NoError(t, err)

	return &testEnv{
		handler:    server.Handler(),
		store:      s,
		agentToken: agentToken,
		userToken:  userToken,
	}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func TestMissingTokenRejected(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/v1/items/42", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetItem(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/v1/items/42", env.agentToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var item contracts.Item
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &item))
	assert.Equal(t, "Kitchen Faucet", item.Product)
}

func TestGetItemNotFound(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/v1/items/999", env.agentToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	var problem ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, "NotFound", problem.Kind)
}

func TestPreviewConfirmOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/mutations/preview", env.agentToken, PreviewRequest{
		Op: "update_approval", ItemID: 42, Role: "client", NewValue: "approved",
		Hint: "kitchen faucet",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var preview broker.PreviewResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &preview))
	assert.NotEmpty(t, preview.TicketID)
	assert.Contains(t, preview.NLPText, "approved")

	// The agent's own token cannot confirm.
	rec = env.do(t, http.MethodPost, "/v1/mutations/confirm", env.agentToken,
		ConfirmRequest{TicketID: preview.TicketID})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// The user's token can.
	rec = env.do(t, http.MethodPost, "/v1/mutations/confirm", env.userToken,
		ConfirmRequest{TicketID: preview.TicketID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result broker.ConfirmResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Applied)
	assert.NotEmpty(t, result.AuditID)

	// Replay is rejected as a conflict.
	rec = env.do(t, http.MethodPost, "/v1/mutations/confirm", env.userToken,
		ConfirmRequest{TicketID: preview.TicketID})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPreviewValidationMapsTo400(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/mutations/preview", env.agentToken, PreviewRequest{
		Op: "update_field", ItemID: 42, Field: "price_ttc", NewValue: -10,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPreviewHintConflictMapsTo409(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/mutations/preview", env.agentToken, PreviewRequest{
		Op: "update_field", ItemID: 42, Field: "reference", NewValue: "X",
		Hint: "bathroom mirror",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	var problem ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, "Conflict", problem.Kind)
}

func TestUnknownFieldRejected(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/mutations/preview", env.agentToken, PreviewRequest{
		Op: "update_field", ItemID: 42, Field: "section_id", NewValue: "oops",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPeekAndCancelEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/mutations/preview", env.agentToken, PreviewRequest{
		Op: "update_field", ItemID: 42, Field: "reference", NewValue: "GROHE-31368",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var preview broker.PreviewResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &preview))

	rec = env.do(t, http.MethodGet, "/v1/tickets/"+preview.TicketID, env.agentToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodDelete, "/v1/tickets/"+preview.TicketID, env.agentToken, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/mutations/confirm", env.userToken,
		ConfirmRequest{TicketID: preview.TicketID})
	assert.Equal(t, http.StatusConflict, rec.Code, "a cancelled ticket cannot be confirmed")
}

func TestQueryEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/items?search=faucet", env.agentToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var items []contracts.Item
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	assert.Len(t, items, 1)

	rec = env.do(t, http.MethodGet, "/v1/items?section_id=sec-plumbing", env.agentToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/items", env.agentToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "one of search or section_id is required")

	rec = env.do(t, http.MethodGet, "/v1/validation?role=architect", env.agentToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/validation?role=client&project_id=proj-1", env.agentToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/pricing?project_id=proj-1", env.agentToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary store.PricingSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 1, summary.ItemCount)
}

func TestApprovalEndpointAbsentApproval(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/v1/items/42/approval?role=client", env.agentToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": null}`, rec.Body.String())
}
