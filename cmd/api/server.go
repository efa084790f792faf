package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"disputeflow/arbitration"
	"disputeflow/auth"
	"disputeflow/dispute"
	"disputeflow/escrow"
	"disputeflow/oracle"
)

type ctxKey int

const (
	ctxKeyPrincipalID ctxKey = iota
	ctxKeyAddress
	ctxKeyRole
)

// disputeQueries is the read/submit surface of dispute.Service the handlers
// need; narrowed for testability.
type disputeQueries interface {
	Get(ctx context.Context, disputeID string) (dispute.CaseDetail, error)
	SubmitEvidence(ctx context.Context, disputeID, submitter string, sub dispute.Submission) (dispute.EvidenceRecord, error)
	ByComplainant(ctx context.Context, address string) ([]dispute.Case, error)
	ByRespondent(ctx context.Context, address string) ([]dispute.Case, error)
	Pending(ctx context.Context) ([]dispute.Case, error)
}

// arbitrationEngine is the transition surface of arbitration.Engine.
type arbitrationEngine interface {
	OpenDispute(ctx context.Context, params arbitration.OpenParams) (dispute.Case, error)
	RequestResolution(ctx context.Context, disputeID string) (dispute.Case, error)
	RequestHumanReview(ctx context.Context, disputeID string, actor arbitration.Actor) (dispute.Case, error)
	Finalize(ctx context.Context, disputeID string, actor arbitration.Actor, outcome dispute.Outcome) (dispute.Case, error)
}

type tokenVerifier interface {
	VerifyToken(token string) (auth.Claims, error)
}

// Server wires the domain services to the HTTP surface.
type Server struct {
	authService    *auth.Service
	verifier       tokenVerifier
	disputeService disputeQueries
	engine         arbitrationEngine
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/register", s.handleRegister)
	mux.HandleFunc("/api/auth/login", s.handleLogin)
	mux.HandleFunc("/api/disputes", s.withAuth(s.handleDisputes))
	mux.HandleFunc("/api/disputes/", s.withAuth(s.handleDisputeDetail))
	return mux
}

func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := s.verifier.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyPrincipalID, claims.PrincipalID)
		ctx = context.WithValue(ctx, ctxKeyAddress, claims.Address)
		ctx = context.WithValue(ctx, ctxKeyRole, claims.Role)
		next(w, r.WithContext(ctx))
	}
}

func actorFrom(r *http.Request) arbitration.Actor {
	actor := arbitration.Actor{}
	if id, ok := r.Context().Value(ctxKeyPrincipalID).(string); ok {
		actor.ID = id
	}
	if addr, ok := r.Context().Value(ctxKeyAddress).(string); ok {
		actor.Address = addr
	}
	if role, ok := r.Context().Value(ctxKeyRole).(auth.Role); ok {
		actor.Role = role
	}
	return actor
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	principal, err := s.authService.Register(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrDuplicateEmail):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, auth.ErrWeakPassword):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":    principal.ID,
		"email": principal.Email,
		"role":  principal.Role,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	result, err := s.authService.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token": result.Token,
		"role":  result.Principal.Role,
	})
}

// handleDisputes serves GET /api/disputes (index queries) and POST
// /api/disputes (open).
func (s *Server) handleDisputes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListDisputes(w, r)
	case http.MethodPost:
		s.handleOpenDispute(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleListDisputes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		cases []dispute.Case
		err   error
	)
	switch {
	case q.Get("complainant") != "":
		cases, err = s.disputeService.ByComplainant(r.Context(), q.Get("complainant"))
	case q.Get("respondent") != "":
		cases, err = s.disputeService.ByRespondent(r.Context(), q.Get("respondent"))
	default:
		cases, err = s.disputeService.Pending(r.Context())
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}

	items := make([]caseResponse, 0, len(cases))
	for _, c := range cases {
		items = append(items, toCaseResponse(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(items)})
}

type openDisputeRequest struct {
	TransactionRef string `json:"transactionRef"`
	Respondent     string `json:"respondent"`
	Reason         string `json:"reason"`
}

func (s *Server) handleOpenDispute(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	if actor.Address == "" {
		writeError(w, http.StatusForbidden, "principal has no domain address")
		return
	}

	var req openDisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	rec, err := s.engine.OpenDispute(r.Context(), arbitration.OpenParams{
		TransactionRef: req.TransactionRef,
		Complainant:    actor.Address,
		Respondent:     req.Respondent,
		Reason:         req.Reason,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCaseResponse(rec))
}

// handleDisputeDetail serves /api/disputes/{id} and its sub-resources.
func (s *Server) handleDisputeDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/disputes/")
	if rest == "" {
		writeError(w, http.StatusBadRequest, "missing dispute id")
		return
	}
	id, action, _ := strings.Cut(rest, "/")

	switch action {
	case "":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleGetDispute(w, r, id)
	case "evidence":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleSubmitEvidence(w, r, id)
	case "resolve":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		rec, err := s.engine.RequestResolution(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toCaseResponse(rec))
	case "review":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		rec, err := s.engine.RequestHumanReview(r.Context(), id, actorFrom(r))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toCaseResponse(rec))
	case "finalize":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleFinalize(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "unknown resource")
	}
}

func (s *Server) handleGetDispute(w http.ResponseWriter, r *http.Request, id string) {
	detail, err := s.disputeService.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	resp := caseDetailResponse{
		caseResponse: toCaseResponse(detail.Case),
		Evidence:     make([]evidenceResponse, 0, len(detail.Evidence)),
	}
	for _, e := range detail.Evidence {
		resp.Evidence = append(resp.Evidence, toEvidenceResponse(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

type submitEvidenceRequest struct {
	Type        string  `json:"type"`
	Description string  `json:"description"`
	ContentHash string  `json:"contentHash"`
	URI         *string `json:"uri,omitempty"`
}

func (s *Server) handleSubmitEvidence(w http.ResponseWriter, r *http.Request, id string) {
	actor := actorFrom(r)
	if actor.Address == "" {
		writeError(w, http.StatusForbidden, "principal has no domain address")
		return
	}

	var req submitEvidenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	rec, err := s.disputeService.SubmitEvidence(r.Context(), id, actor.Address, dispute.Submission{
		Type:        dispute.EvidenceType(req.Type),
		Description: req.Description,
		ContentHash: req.ContentHash,
		URI:         req.URI,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEvidenceResponse(rec))
}

type finalizeRequest struct {
	Outcome string `json:"outcome"`
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request, id string) {
	var req finalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	rec, err := s.engine.Finalize(r.Context(), id, actorFrom(r), dispute.Outcome(req.Outcome))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCaseResponse(rec))
}

type caseResponse struct {
	ID                   string   `json:"id"`
	TransactionRef       string   `json:"transactionRef"`
	Complainant          string   `json:"complainant"`
	Respondent           string   `json:"respondent"`
	Reason               string   `json:"reason"`
	Status               string   `json:"status"`
	AIScore              *float64 `json:"aiScore,omitempty"`
	ConfidencePercent    int      `json:"confidencePercent"`
	RequiresHumanReview  bool     `json:"requiresHumanReview"`
	HumanReviewRequested bool     `json:"humanReviewRequested"`
	Resolution           *string  `json:"resolution,omitempty"`
	ResolvedAt           *string  `json:"resolvedAt,omitempty"`
	CreatedAt            string   `json:"createdAt"`
}

type caseDetailResponse struct {
	caseResponse
	Evidence []evidenceResponse `json:"evidence"`
}

type evidenceResponse struct {
	ID          string  `json:"id"`
	DisputeID   string  `json:"disputeId"`
	Seq         int     `json:"seq"`
	Type        string  `json:"type"`
	Description string  `json:"description"`
	ContentHash string  `json:"contentHash"`
	URI         *string `json:"uri,omitempty"`
	SubmittedBy string  `json:"submittedBy"`
	CreatedAt   string  `json:"createdAt"`
}

func toCaseResponse(c dispute.Case) caseResponse {
	resp := caseResponse{
		ID:                   c.ID,
		TransactionRef:       c.TransactionRef,
		Complainant:          c.Complainant,
		Respondent:           c.Respondent,
		Reason:               c.Reason,
		Status:               string(c.Status),
		AIScore:              c.AIScore,
		ConfidencePercent:    c.ConfidencePercent(),
		RequiresHumanReview:  c.RequiresHumanReview(),
		HumanReviewRequested: c.HumanReviewRequested,
		CreatedAt:            c.CreatedAt.Format(time.RFC3339),
	}
	if c.Resolution != nil {
		res := string(*c.Resolution)
		resp.Resolution = &res
	}
	if c.ResolvedAt != nil {
		ts := c.ResolvedAt.Format(time.RFC3339)
		resp.ResolvedAt = &ts
	}
	return resp
}

func toEvidenceResponse(e dispute.EvidenceRecord) evidenceResponse {
	return evidenceResponse{
		ID:          e.ID,
		DisputeID:   e.DisputeID,
		Seq:         e.Seq,
		Type:        string(e.Type),
		Description: e.Description,
		ContentHash: e.ContentHash,
		URI:         e.URI,
		SubmittedBy: e.SubmittedBy,
		CreatedAt:   e.CreatedAt.Format(time.RFC3339),
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dispute.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, dispute.ErrNotParty), errors.Is(err, arbitration.ErrNotArbiter):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, dispute.ErrNotFound), errors.Is(err, escrow.ErrTransactionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, dispute.ErrCaseResolved), errors.Is(err, dispute.ErrBadTransition), errors.Is(err, escrow.ErrNotDisputable):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, oracle.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
