package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"elfmemory/internal/englishgate"
	"elfmemory/internal/ingest"
	"elfmemory/internal/schema"
	"elfmemory/internal/search"
	"elfmemory/internal/sharing"
	"elfmemory/internal/store"
)

type ingestNoteBody struct {
	Type       string          `json:"type"`
	Scope      string          `json:"scope"`
	Key        string          `json:"key,omitempty"`
	Text       string          `json:"text"`
	Importance float64         `json:"importance"`
	Confidence float64         `json:"confidence"`
	SourceRef  json.RawMessage `json:"source_ref,omitempty"`
}

type notesIngestBody struct {
	Notes   []ingestNoteBody `json:"notes"`
	Profile string           `json:"profile,omitempty"`
}

type ingestResultBody struct {
	Op            string `json:"op"`
	NoteID        string `json:"note_id,omitempty"`
	Reason        string `json:"reason,omitempty"`
	BaseDecision  string `json:"base_decision,omitempty"`
	FinalDecision string `json:"final_decision,omitempty"`
}

type ingestResponseBody struct {
	Results   []ingestResultBody `json:"results"`
	RequestID string             `json:"request_id"`
}

// profileDefaults is the stored shape of an ingestion profile's config.
type profileDefaults struct {
	Scope      string  `json:"scope,omitempty"`
	Type       string  `json:"type,omitempty"`
	Importance float64 `json:"importance,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

func (s *Server) handleNotesIngest(w http.ResponseWriter, r *http.Request) {
	cc := callContextFrom(r)
	var body notesIngestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, r, http.StatusBadRequest, CodeInvalidRequest, "malformed JSON body")
		return
	}
	if len(body.Notes) == 0 {
		respondError(w, r, http.StatusBadRequest, CodeInvalidRequest, "no notes supplied", "$.notes")
		return
	}

	defaults := profileDefaults{}
	if body.Profile != "" {
		p, err := s.store.GetIngestionProfile(r.Context(), cc.Tenant, cc.Project, body.Profile)
		if err != nil {
			if errors.Is(err, store.ErrProfileNotFound) {
				respondError(w, r, http.StatusBadRequest, CodeInvalidRequest, "unknown ingestion profile", "$.profile")
				return
			}
			s.internalError(w, r, err)
			return
		}
		_ = json.Unmarshal(p.Config, &defaults)
	}

	req := ingest.DeterministicRequest{
		Tenant:  cc.Tenant,
		Project: cc.Project,
		Agent:   cc.Agent,
		Actor:   cc.Agent,
	}
	for i, n := range body.Notes {
		applyProfileDefaults(&n, defaults)
		if err := sharing.AuthorizeOrgSharedWrite(s.cfg.Security, n.Scope, cc.IsAdmin); err != nil {
			respondError(w, r, http.StatusForbidden, CodeScopeDenied, err.Error(),
				fmt.Sprintf("$.notes[%d].scope", i))
			return
		}
		req.Notes = append(req.Notes, ingest.NoteCandidate{
			Type:       n.Type,
			Scope:      n.Scope,
			Key:        n.Key,
			Text:       n.Text,
			Importance: n.Importance,
			Confidence: n.Confidence,
			SourceRef:  n.SourceRef,
		})
	}

	resp, err := s.ingest.IngestNotes(r.Context(), req)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, ingestResponse(resp, requestIDFrom(r)))
}

func applyProfileDefaults(n *ingestNoteBody, d profileDefaults) {
	if n.Scope == "" {
		n.Scope = d.Scope
	}
	if n.Type == "" {
		n.Type = d.Type
	}
	if n.Importance == 0 && d.Importance > 0 {
		n.Importance = d.Importance
	}
	if n.Confidence == 0 && d.Confidence > 0 {
		n.Confidence = d.Confidence
	}
}

func ingestResponse(resp ingest.Response, requestID string) ingestResponseBody {
	out := ingestResponseBody{RequestID: requestID}
	for _, res := range resp.Results {
		out.Results = append(out.Results, ingestResultBody{
			Op:            string(res.Op),
			NoteID:        res.NoteID,
			Reason:        res.Reason,
			BaseDecision:  res.BaseDecision,
			FinalDecision: res.FinalDecision,
		})
	}
	return out
}

type eventMessageBody struct {
	Index   int    `json:"index"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

type eventsIngestBody struct {
	Messages []eventMessageBody `json:"messages"`
	DryRun   bool               `json:"dry_run,omitempty"`
}

func (s *Server) handleEventsIngest(w http.ResponseWriter, r *http.Request) {
	cc := callContextFrom(r)
	var body eventsIngestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, r, http.StatusBadRequest, CodeInvalidRequest, "malformed JSON body")
		return
	}
	if len(body.Messages) == 0 {
		respondError(w, r, http.StatusBadRequest, CodeInvalidRequest, "no messages supplied", "$.messages")
		return
	}
	for i, m := range body.Messages {
		if gd := englishgate.Check(m.Content); !gd.Allowed {
			respondError(w, r, http.StatusUnprocessableEntity, CodeNonEnglishInput,
				"message content failed the English gate", fmt.Sprintf("$.messages[%d].content", i))
			return
		}
	}

	req := ingest.EventRequest{
		Tenant:  cc.Tenant,
		Project: cc.Project,
		Agent:   cc.Agent,
		Actor:   cc.Agent,
		DryRun:  body.DryRun,
	}
	for i, m := range body.Messages {
		idx := m.Index
		if idx == 0 {
			idx = i
		}
		req.Messages = append(req.Messages, ingest.EventMessage{Index: idx, Role: m.Role, Content: m.Content})
	}

	resp, err := s.ingest.IngestEvent(r.Context(), req)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, ingestResponse(resp, requestIDFrom(r)))
}

type createSearchBody struct {
	Query      string             `json:"query"`
	TopK       int                `json:"top_k,omitempty"`
	CandidateK int                `json:"candidate_k,omitempty"`
	Filter     *schema.FilterExpr `json:"filter,omitempty"`
	RecordHits bool               `json:"record_hits,omitempty"`
}

type createSearchResponse struct {
	SearchID  string                      `json:"search_id"`
	TraceID   string                      `json:"trace_id"`
	Items     []search.NoteResult         `json:"items"`
	RequestID string                      `json:"request_id"`
}

func (s *Server) handleCreateSearch(w http.ResponseWriter, r *http.Request) {
	cc := callContextFrom(r)
	var body createSearchBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, r, http.StatusBadRequest, CodeInvalidRequest, "malformed JSON body")
		return
	}
	gd := englishgate.Check(body.Query)
	if !gd.Allowed {
		respondError(w, r, http.StatusUnprocessableEntity, CodeNonEnglishInput,
			"query failed the English gate", "$.query")
		return
	}
	if err := search.ValidateFilter(body.Filter); err != nil {
		respondError(w, r, http.StatusBadRequest, CodeInvalidRequest, err.Error(), "$.filter")
		return
	}

	resp, trajectory, err := s.search.Search(r.Context(), search.Request{
		Tenant:      cc.Tenant,
		Project:     cc.Project,
		Agent:       cc.Agent,
		ReadProfile: cc.ReadProfile,
		Query:       gd.Normalized,
		TopK:        body.TopK,
		CandidateK:  body.CandidateK,
		Filter:      body.Filter,
		RecordHits:  body.RecordHits,
	})
	if err != nil {
		if errors.Is(err, sharing.ErrUnknownReadProfile) {
			respondError(w, r, http.StatusForbidden, CodeScopeDenied, err.Error(),
				"$.headers['X-ELF-Read-Profile']")
			return
		}
		s.internalError(w, r, err)
		return
	}

	searchID := uuid.NewString()
	out := createSearchResponse{
		SearchID:  searchID,
		TraceID:   resp.TraceID,
		Items:     resp.Items,
		RequestID: requestIDFrom(r),
	}
	s.persistSession(r, cc, searchID, gd.Normalized, resp, trajectory)
	respondJSON(w, r, http.StatusOK, out)
}

// persistSession stores the completed search for the get/timeline/notes
// subresources. Best-effort.
func (s *Server) persistSession(r *http.Request, cc CallContext, searchID, query string,
	resp search.Response, trajectory *schema.RetrievalTrajectory) {
	rawResp, err := json.Marshal(resp)
	if err != nil {
		return
	}
	var rawTraj json.RawMessage
	if trajectory != nil {
		rawTraj, _ = json.Marshal(trajectory)
	}
	if err := s.store.InsertSearchSession(r.Context(), store.SearchSession{
		SearchID:    searchID,
		Tenant:      cc.Tenant,
		Project:     cc.Project,
		Agent:       cc.Agent,
		ReadProfile: cc.ReadProfile,
		Query:       query,
		TraceID:     resp.TraceID,
		Response:    rawResp,
		Trajectory:  rawTraj,
	}); err != nil {
		s.logger.Warn().Err(err).Str("search_id", searchID).Msg("search session persist failed")
	}
}

func (s *Server) loadSession(w http.ResponseWriter, r *http.Request) (store.SearchSession, bool) {
	cc := callContextFrom(r)
	sess, err := s.store.GetSearchSession(r.Context(), cc.Tenant, r.PathValue("searchID"))
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			respondError(w, r, http.StatusNotFound, CodeInvalidRequest, "search not found")
			return store.SearchSession{}, false
		}
		s.internalError(w, r, err)
		return store.SearchSession{}, false
	}
	return sess, true
}

func (s *Server) handleGetSearch(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	respondJSON(w, r, http.StatusOK, map[string]any{
		"search_id":  sess.SearchID,
		"query":      sess.Query,
		"trace_id":   sess.TraceID,
		"response":   json.RawMessage(sess.Response),
		"created_at": sess.CreatedAt.Format(time.RFC3339),
		"request_id": requestIDFrom(r),
	})
}

func (s *Server) handleSearchTimeline(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	respondJSON(w, r, http.StatusOK, map[string]any{
		"search_id":  sess.SearchID,
		"trajectory": json.RawMessage(sess.Trajectory),
		"request_id": requestIDFrom(r),
	})
}

func (s *Server) handleSearchNotes(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	var resp search.Response
	if err := json.Unmarshal(sess.Response, &resp); err != nil {
		s.internalError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, map[string]any{
		"search_id":  sess.SearchID,
		"items":      resp.Items,
		"request_id": requestIDFrom(r),
	})
}

type noteBody struct {
	NoteID     string          `json:"note_id"`
	Tenant     string          `json:"tenant"`
	Project    string          `json:"project"`
	Agent      string          `json:"agent"`
	Scope      string          `json:"scope"`
	Type       string          `json:"type"`
	Key        string          `json:"key,omitempty"`
	Text       string          `json:"text"`
	Importance float64         `json:"importance"`
	Confidence float64         `json:"confidence"`
	Status     string          `json:"status"`
	CreatedAt  string          `json:"created_at"`
	UpdatedAt  string          `json:"updated_at"`
	ExpiresAt  string          `json:"expires_at,omitempty"`
	SourceRef  json.RawMessage `json:"source_ref,omitempty"`
	HitCount   int64           `json:"hit_count"`
	RequestID  string          `json:"request_id"`
}

func noteToBody(n store.Note, requestID string) noteBody {
	b := noteBody{
		NoteID:     n.NoteID,
		Tenant:     n.Tenant,
		Project:    n.Project,
		Agent:      n.Agent,
		Scope:      n.Scope,
		Type:       n.Type,
		Text:       n.Text,
		Importance: n.Importance,
		Confidence: n.Confidence,
		Status:     n.Status,
		CreatedAt:  n.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  n.UpdatedAt.Format(time.RFC3339),
		SourceRef:  n.SourceRef,
		HitCount:   n.HitCount,
		RequestID:  requestID,
	}
	if n.Key != nil {
		b.Key = *n.Key
	}
	if n.ExpiresAt != nil {
		b.ExpiresAt = n.ExpiresAt.Format(time.RFC3339)
	}
	return b
}

// fetchVisibleNote loads a note and enforces tenant and private-scope
// ownership; 404 and 403 are written for the caller.
func (s *Server) fetchVisibleNote(w http.ResponseWriter, r *http.Request) (store.Note, bool) {
	cc := callContextFrom(r)
	n, err := s.store.GetNote(r.Context(), r.PathValue("noteID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, r, http.StatusNotFound, CodeInvalidRequest, "note not found")
			return store.Note{}, false
		}
		s.internalError(w, r, err)
		return store.Note{}, false
	}
	if n.Tenant != cc.Tenant {
		respondError(w, r, http.StatusNotFound, CodeInvalidRequest, "note not found")
		return store.Note{}, false
	}
	if sharing.CanonicalScope(n.Scope) == sharing.ScopeAgentPrivate && n.Agent != cc.Agent {
		respondError(w, r, http.StatusForbidden, CodeScopeDenied, "note is private to another agent")
		return store.Note{}, false
	}
	return n, true
}

func (s *Server) handleGetNote(w http.ResponseWriter, r *http.Request) {
	n, ok := s.fetchVisibleNote(w, r)
	if !ok {
		return
	}
	respondJSON(w, r, http.StatusOK, noteToBody(n, requestIDFrom(r)))
}

type patchNoteBody struct {
	Text       *string          `json:"text,omitempty"`
	Importance *float64         `json:"importance,omitempty"`
	Confidence *float64         `json:"confidence,omitempty"`
	SourceRef  json.RawMessage  `json:"source_ref,omitempty"`
}

func (s *Server) handlePatchNote(w http.ResponseWriter, r *http.Request) {
	n, ok := s.fetchVisibleNote(w, r)
	if !ok {
		return
	}
	var body patchNoteBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, r, http.StatusBadRequest, CodeInvalidRequest, "malformed JSON body")
		return
	}

	text := n.Text
	if body.Text != nil {
		gd := englishgate.Check(*body.Text)
		if !gd.Allowed {
			respondError(w, r, http.StatusUnprocessableEntity, CodeNonEnglishInput,
				"text failed the English gate", "$.text")
			return
		}
		if s.cfg.Memory.MaxNoteChars > 0 && len([]rune(gd.Normalized)) > s.cfg.Memory.MaxNoteChars {
			respondError(w, r, http.StatusBadRequest, CodeInvalidRequest, "text exceeds the length cap", "$.text")
			return
		}
		text = gd.Normalized
	}
	importance := n.Importance
	if body.Importance != nil {
		importance = *body.Importance
	}
	confidence := n.Confidence
	if body.Confidence != nil {
		confidence = *body.Confidence
	}

	updated, err := s.store.UpdateNote(r.Context(), store.UpdateNoteParams{
		NoteID:           n.NoteID,
		Text:             text,
		Importance:       importance,
		Confidence:       confidence,
		EmbeddingVersion: n.EmbeddingVersion,
		SourceRef:        body.SourceRef,
		Reason:           "admin patch",
		Actor:            callContextFrom(r).Agent,
	})
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, noteToBody(updated, requestIDFrom(r)))
}

func (s *Server) handleDeleteNote(w http.ResponseWriter, r *http.Request) {
	n, ok := s.fetchVisibleNote(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteNote(r.Context(), n.NoteID, "explicit delete", callContextFrom(r).Agent); err != nil {
		s.internalError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, map[string]string{
		"note_id":    n.NoteID,
		"status":     store.NoteStatusDeleted,
		"request_id": requestIDFrom(r),
	})
}

type publishBody struct {
	Scope        string `json:"scope"`
	GranteeKind  string `json:"grantee_kind,omitempty"`
	GranteeAgent string `json:"grantee_agent,omitempty"`
}

func (s *Server) handlePublishNote(w http.ResponseWriter, r *http.Request) {
	cc := callContextFrom(r)
	n, ok := s.fetchVisibleNote(w, r)
	if !ok {
		return
	}
	var body publishBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, r, http.StatusBadRequest, CodeInvalidRequest, "malformed JSON body")
		return
	}
	scope := sharing.CanonicalScope(body.Scope)
	if err := sharing.AuthorizeOrgSharedWrite(s.cfg.Security, scope, cc.IsAdmin); err != nil {
		respondError(w, r, http.StatusForbidden, CodeScopeDenied, err.Error(), "$.scope")
		return
	}
	granteeKind := body.GranteeKind
	if granteeKind == "" {
		granteeKind = store.GranteeKindProject
	}
	var granteeAgent *string
	if body.GranteeAgent != "" {
		granteeAgent = &body.GranteeAgent
	}
	published, err := s.sharing.Publish(r.Context(), n, scope, granteeKind, granteeAgent, "publish", cc.Agent)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, noteToBody(published, requestIDFrom(r)))
}

func (s *Server) handleUnpublishNote(w http.ResponseWriter, r *http.Request) {
	cc := callContextFrom(r)
	n, ok := s.fetchVisibleNote(w, r)
	if !ok {
		return
	}
	if err := sharing.AuthorizeOrgSharedWrite(s.cfg.Security, n.Scope, cc.IsAdmin); err != nil {
		respondError(w, r, http.StatusForbidden, CodeScopeDenied, err.Error())
		return
	}
	unpublished, err := s.sharing.Unpublish(r.Context(), n.NoteID, "unpublish", cc.Agent)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, noteToBody(unpublished, requestIDFrom(r)))
}

type grantBody struct {
	GrantID         int64  `json:"grant_id,omitempty"`
	Scope           string `json:"scope"`
	SpaceOwnerAgent string `json:"space_owner_agent"`
	GranteeKind     string `json:"grantee_kind"`
	GranteeAgent    string `json:"grantee_agent,omitempty"`
}

func (s *Server) handleListGrants(w http.ResponseWriter, r *http.Request) {
	cc := callContextFrom(r)
	grants, err := s.sharing.ActiveGrantsFor(r.Context(), cc.Tenant, cc.Project, cc.Agent)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	out := make([]grantBody, len(grants))
	for i, g := range grants {
		out[i] = grantBody{
			GrantID:         g.GrantID,
			Scope:           g.Scope,
			SpaceOwnerAgent: g.SpaceOwnerAgent,
			GranteeKind:     g.GranteeKind,
		}
		if g.GranteeAgent != nil {
			out[i].GranteeAgent = *g.GranteeAgent
		}
	}
	respondJSON(w, r, http.StatusOK, map[string]any{"grants": out, "request_id": requestIDFrom(r)})
}

func (s *Server) handleCreateGrant(w http.ResponseWriter, r *http.Request) {
	cc := callContextFrom(r)
	var body grantBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, r, http.StatusBadRequest, CodeInvalidRequest, "malformed JSON body")
		return
	}
	scope := sharing.CanonicalScope(r.PathValue("space"))
	if body.Scope != "" {
		scope = sharing.CanonicalScope(body.Scope)
	}
	if err := sharing.AuthorizeOrgSharedWrite(s.cfg.Security, scope, cc.IsAdmin); err != nil {
		respondError(w, r, http.StatusForbidden, CodeScopeDenied, err.Error(), "$.scope")
		return
	}
	var granteeAgent *string
	if body.GranteeAgent != "" {
		granteeAgent = &body.GranteeAgent
	}
	g, err := s.sharing.GrantSpace(r.Context(), store.SpaceGrant{
		Tenant:          cc.Tenant,
		Project:         cc.Project,
		Scope:           scope,
		SpaceOwnerAgent: body.SpaceOwnerAgent,
		GranteeKind:     body.GranteeKind,
		GranteeAgent:    granteeAgent,
	})
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusCreated, map[string]any{"grant_id": g.GrantID, "request_id": requestIDFrom(r)})
}

func (s *Server) handleRevokeGrant(w http.ResponseWriter, r *http.Request) {
	cc := callContextFrom(r)
	var body grantBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, r, http.StatusBadRequest, CodeInvalidRequest, "malformed JSON body")
		return
	}
	if body.GrantID == 0 {
		respondError(w, r, http.StatusBadRequest, CodeInvalidRequest, "missing grant id", "$.grant_id")
		return
	}
	scope := sharing.CanonicalScope(r.PathValue("space"))
	if err := sharing.AuthorizeOrgSharedWrite(s.cfg.Security, scope, cc.IsAdmin); err != nil {
		respondError(w, r, http.StatusForbidden, CodeScopeDenied, err.Error())
		return
	}
	if err := s.sharing.RevokeGrant(r.Context(), body.GrantID, cc.Agent); err != nil {
		s.internalError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, map[string]any{"grant_id": body.GrantID, "revoked": true, "request_id": requestIDFrom(r)})
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error().Err(err).Str("path", r.URL.Path).Str("request_id", requestIDFrom(r)).Msg("request failed")
	respondError(w, r, http.StatusInternalServerError, CodeInternalError, "internal error")
}
