package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/chantierhq/chantier/pkg/broker"
	"github.com/chantierhq/chantier/pkg/contracts"
	"github.com/chantierhq/chantier/pkg/observability"
	"github.com/chantierhq/chantier/pkg/principal"
	"github.com/chantierhq/chantier/pkg/query"
)

// Server exposes the broker and the query surface over HTTP.
type Server struct {
	broker  *broker.Broker
	queries *query.Service
	issuer  *principal.TokenIssuer
	limiter *RateLimiter
	obs     *observability.Provider
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithObservability enables RED metrics on every request.
func WithObservability(obs *observability.Provider) ServerOption {
	return func(s *Server) { s.obs = obs }
}

// NewServer wires the HTTP surface.
func NewServer(b *broker.Broker, q *query.Service, issuer *principal.TokenIssuer, opts ...ServerOption) *Server {
	s := &Server{
		broker:  b,
		queries: q,
		issuer:  issuer,
		limiter: NewRateLimiter(10, 20),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close releases the server's background resources.
func (s *Server) Close() {
	s.limiter.Close()
}

// Handler returns the routed handler with auth and rate limiting applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/mutations/preview", s.handlePreview)
	mux.HandleFunc("POST /v1/mutations/confirm", s.handleConfirm)
	mux.HandleFunc("GET /v1/tickets/{id}", s.handlePeek)
	mux.HandleFunc("DELETE /v1/tickets/{id}", s.handleCancel)
	mux.HandleFunc("GET /v1/tickets", s.handleMostRecent)
	mux.HandleFunc("GET /v1/items/{id}", s.handleItem)
	mux.HandleFunc("GET /v1/items/{id}/approval", s.handleApproval)
	mux.HandleFunc("GET /v1/items", s.handleItems)
	mux.HandleFunc("GET /v1/validation", s.handleValidation)
	mux.HandleFunc("GET /v1/todo", s.handleTodo)
	mux.HandleFunc("GET /v1/pricing", s.handlePricing)
	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	root.Handle("/", AuthMiddleware(s.issuer, s.limiter.Middleware(mux)))
	return MetricsMiddleware(s.obs, RecoverMiddleware(root))
}

// PreviewRequest is the wire form of a mutation preview.
type PreviewRequest struct {
	Op       string `json:"op"`
	ItemID   int64  `json:"item_id"`
	Role     string `json:"role"`
	Field    string `json:"field,omitempty"`
	NewValue any    `json:"new_value"`
	Hint     string `json:"hint,omitempty"`
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFrom(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req PreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}

	d := contracts.MutationDescriptor{
		Op:       contracts.Op(req.Op),
		ItemID:   req.ItemID,
		Role:     contracts.Role(req.Role),
		NewValue: req.NewValue,
		Hint:     req.Hint,
	}
	if req.Field != "" {
		field, err := contracts.ParseField(req.Field)
		if err != nil {
			WriteKindError(w, err)
			return
		}
		d.Field = field
	}

	result, err := s.broker.Preview(r.Context(), p, d)
	if err != nil {
		WriteKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ConfirmRequest carries the ticket to redeem.
type ConfirmRequest struct {
	TicketID string `json:"ticket_id"`
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFrom(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.TicketID == "" {
		WriteBadRequest(w, "Missing required field: ticket_id")
		return
	}

	result, err := s.broker.Confirm(r.Context(), p, req.TicketID)
	if err != nil {
		WriteKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handlePeek(w http.ResponseWriter, r *http.Request) {
	result, err := s.broker.Peek(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFrom(r.Context())
	if err := s.broker.Cancel(r.Context(), p, r.PathValue("id")); err != nil {
		WriteKindError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMostRecent(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFrom(r.Context())
	action, err := s.broker.MostRecentPending(r.Context(), p)
	if err != nil {
		WriteKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ticket_id":       action.ID,
		"nlp_text":        action.NLPText,
		"structured_text": action.StructuredText,
		"expires_at":      action.ExpiresAt,
	})
}

func (s *Server) handleItem(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		WriteBadRequest(w, "Item id must be an integer")
		return
	}
	item, err := s.queries.Item(r.Context(), id)
	if err != nil {
		WriteKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleApproval(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		WriteBadRequest(w, "Item id must be an integer")
		return
	}
	approval, err := s.queries.Approval(r.Context(), id, contracts.Role(r.URL.Query().Get("role")))
	if err != nil {
		WriteKindError(w, err)
		return
	}
	if approval == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": nil})
		return
	}
	writeJSON(w, http.StatusOK, approval)
}

// handleItems serves both product search and section listing depending
// on which query parameter is present.
func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	projectID := q.Get("project_id")

	switch {
	case q.Get("search") != "":
		items, err := s.queries.SearchItems(r.Context(), q.Get("search"), projectID)
		if err != nil {
			WriteKindError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, items)
	case q.Get("section_id") != "":
		items, err := s.queries.ItemsBySection(r.Context(), q.Get("section_id"), projectID)
		if err != nil {
			WriteKindError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, items)
	default:
		WriteBadRequest(w, "One of search or section_id is required")
	}
}

func (s *Server) handleValidation(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, err := s.queries.ItemsNeedingValidation(r.Context(), contracts.Role(q.Get("role")), q.Get("project_id"))
	if err != nil {
		WriteKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleTodo(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, err := s.queries.TodoItems(r.Context(), contracts.Role(q.Get("role")), q.Get("project_id"))
	if err != nil {
		WriteKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handlePricing(w http.ResponseWriter, r *http.Request) {
	summary, err := s.queries.PricingSummary(r.Context(), r.URL.Query().Get("project_id"))
	if err != nil {
		WriteKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
