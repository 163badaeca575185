package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"elfmemory/internal/config"
	"elfmemory/internal/obs"
	"elfmemory/internal/providers"
	"elfmemory/internal/resolver"
	"elfmemory/internal/schema"
	"elfmemory/internal/store"
	"elfmemory/internal/writegate"
)

// Service runs both ingestion modes against a shared write gate, update
// resolver, and two-stage policy decision pipeline.
type Service struct {
	cfg       config.Config
	store     *store.Store
	embed     *providers.EmbeddingClient
	extractor *providers.ExtractorClient
	metrics   obs.Metrics
	logger    zerolog.Logger
}

// New constructs a Service. metrics may be nil only in tests that don't
// care about instrumentation (obs.OtelMetrics and obs.MockMetrics both
// tolerate a nil receiver on their methods).
func New(cfg config.Config, st *store.Store, embed *providers.EmbeddingClient, extractor *providers.ExtractorClient, metrics obs.Metrics, logger zerolog.Logger) *Service {
	return &Service{cfg: cfg, store: st, embed: embed, extractor: extractor, metrics: metrics, logger: logger}
}

func (s *Service) embeddingVersion() string {
	return EmbeddingVersion(s.cfg.Providers.Embedding.APIBase, s.cfg.Providers.Embedding.Model, s.cfg.Providers.Embedding.Dimensions)
}

// IngestNotes runs the deterministic path: no LLM calls, the
// caller supplies fully-shaped note candidates directly.
func (s *Service) IngestNotes(ctx context.Context, req DeterministicRequest) (Response, error) {
	resp := Response{Results: make([]NoteResult, 0, len(req.Notes))}
	for _, cand := range req.Notes {
		r, err := s.processCandidate(ctx, req.Tenant, req.Project, req.Agent, req.Actor, cand, false)
		if err != nil {
			return resp, err
		}
		resp.Results = append(resp.Results, r)
	}
	return resp, nil
}

// IngestEvent runs the event path: the extractor is called
// exactly once, each returned candidate's evidence is verified against
// the source messages before the candidate is allowed to flow through the
// same write gate, resolver, and persistence as the deterministic path.
func (s *Service) IngestEvent(ctx context.Context, req EventRequest) (Response, error) {
	t0 := time.Now()
	msgs := make([]providers.Message, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = providers.Message{Index: m.Index, Role: m.Role, Content: m.Content}
	}
	maxNotes := s.cfg.Memory.MaxNotesPerAddEvent
	extracted, err := s.extractor.Extract(ctx, msgs, maxNotes)
	if err != nil {
		return Response{}, fmt.Errorf("extract: %w", err)
	}
	s.metrics.ObserveHistogram("ingest_stage_ms", float64(time.Since(t0).Milliseconds()),
		map[string]string{"stage": "extract", "tenant": req.Tenant})

	resp := Response{Results: make([]NoteResult, 0, len(extracted))}
	// Evidence is verified against the post-policy message content: when
	// redaction is enabled the per-message transform runs first, and a
	// quote that only matched the pre-transform content is a policy
	// mismatch, not an extractor fabrication.
	original := make(map[int]EventMessage, len(req.Messages))
	byIndex := make(map[int]EventMessage, len(req.Messages))
	for _, m := range req.Messages {
		original[m.Index] = m
		if s.cfg.Security.RedactionEnabled {
			if redacted, hit := writegate.Redact(m.Content); hit {
				m.Content = redacted
			}
		}
		byIndex[m.Index] = m
	}

	for _, en := range extracted {
		quoteResult, mismatchReason := verifyEvidence(s.cfg.Security, en.Evidence, byIndex)
		if !quoteResult {
			if ok, _ := verifyEvidence(s.cfg.Security, en.Evidence, original); ok {
				mismatchReason = ReasonWritePolicyMismatch
			}
			resp.Results = append(resp.Results, NoteResult{Op: OpRejected, Reason: mismatchReason})
			continue
		}
		scope := en.Scope
		if scope == "" {
			scope = firstWritableScope(s.cfg)
		}
		cand := NoteCandidate{
			Type:       en.Type,
			Scope:      scope,
			Key:        en.Key,
			Text:       en.Text,
			Importance: en.Importance,
			Confidence: en.Confidence,
			SourceRef:  eventSourceRef(en.Evidence),
		}
		if req.DryRun {
			r, err := s.previewCandidate(ctx, req.Tenant, req.Project, req.Agent, cand)
			if err != nil {
				return resp, err
			}
			resp.Results = append(resp.Results, r)
			continue
		}
		r, err := s.processCandidate(ctx, req.Tenant, req.Project, req.Agent, req.Actor, cand, false)
		if err != nil {
			return resp, err
		}
		resp.Results = append(resp.Results, r)
	}
	return resp, nil
}

// verifyEvidence checks that every evidence quote is a verbatim substring
// of the message it claims to come from, and that the quote count and
// lengths fall within the configured bounds. A reference to a message
// index outside the request, or a quote that doesn't appear verbatim,
// rejects the whole candidate.
func verifyEvidence(sec config.SecurityConfig, evidence []providers.Evidence, byIndex map[int]EventMessage) (bool, string) {
	minQuotes := sec.EvidenceMinQuotes
	if minQuotes <= 0 {
		minQuotes = 1
	}
	maxQuotes := sec.EvidenceMaxQuotes
	if maxQuotes <= 0 {
		maxQuotes = 2
	}
	if len(evidence) < minQuotes || len(evidence) > maxQuotes {
		return false, ReasonEvidenceMismatch
	}
	for _, e := range evidence {
		msg, ok := byIndex[e.MessageIndex]
		if !ok {
			return false, ReasonEvidenceMismatch
		}
		if e.Quote == "" || !strings.Contains(msg.Content, e.Quote) {
			return false, ReasonEvidenceMismatch
		}
		if sec.EvidenceMaxQuoteLen > 0 && len([]rune(e.Quote)) > sec.EvidenceMaxQuoteLen {
			return false, ReasonEvidenceMismatch
		}
	}
	return true, ""
}

// eventSourceRef binds the verified evidence quotes into the stored
// note's source_ref so the provenance bundle can surface them later.
func eventSourceRef(evidence []providers.Evidence) json.RawMessage {
	entries := make([]schema.EvidenceEntry, len(evidence))
	for i, e := range evidence {
		entries[i] = schema.EvidenceEntry{MessageIndex: e.MessageIndex, Quote: e.Quote}
	}
	payload, err := json.Marshal(map[string]any{"kind": "event", "evidence": entries})
	if err != nil {
		return nil
	}
	raw, err := json.Marshal(schema.SourceRef{SchemaVersion: schema.SourceRefVersion, Payload: payload})
	if err != nil {
		return nil
	}
	return raw
}

func firstWritableScope(cfg config.Config) string {
	if len(cfg.Scopes.WritableScopes) == 0 {
		return ""
	}
	return cfg.Scopes.WritableScopes[0]
}

// previewCandidate runs the write gate and resolver to compute what
// processCandidate would do, without persisting anything, for dry_run
// event requests.
func (s *Service) previewCandidate(ctx context.Context, tenant, project, agent string, cand NoteCandidate) (NoteResult, error) {
	gd := writegate.Evaluate(s.cfg, writegate.Candidate{Type: cand.Type, Scope: cand.Scope, Text: cand.Text})
	if !gd.Allowed {
		return NoteResult{Op: OpRejected, Reason: string(gd.Reason)}, nil
	}
	action, matchNoteID, err := s.resolve(ctx, tenant, project, agent, cand, gd.Text)
	if err != nil {
		return NoteResult{}, err
	}
	base := baseDecision(action, hasSideEffect(cand.SourceRef))
	final, reason := applyPolicyThreshold(base, cand.Confidence, cand.Importance, s.cfg.Memory.MinConfidence, s.cfg.Memory.MinImportance)
	return NoteResult{
		Op:            opForDecision(action, final),
		NoteID:        matchNoteID,
		Reason:        reason,
		BaseDecision:  base,
		FinalDecision: final,
	}, nil
}

// processCandidate runs the write gate, the update resolver, the two-stage
// policy decision, and (unless the final decision is ignore) the
// transactional persistence, for one candidate note.
func (s *Service) processCandidate(ctx context.Context, tenant, project, agent, actor string, cand NoteCandidate, _ bool) (NoteResult, error) {
	t0 := time.Now()
	defer func() {
		s.metrics.ObserveHistogram("ingest_stage_ms", float64(time.Since(t0).Milliseconds()),
			map[string]string{"stage": "candidate", "tenant": tenant})
	}()

	gd := writegate.Evaluate(s.cfg, writegate.Candidate{Type: cand.Type, Scope: cand.Scope, Text: cand.Text})
	if !gd.Allowed {
		s.metrics.IncCounter("ingest_rejected_total", map[string]string{"reason": string(gd.Reason)})
		return NoteResult{Op: OpRejected, Reason: string(gd.Reason)}, nil
	}
	text := gd.Text

	action, matchNoteID, err := s.resolve(ctx, tenant, project, agent, cand, text)
	if err != nil {
		return NoteResult{}, err
	}

	base := baseDecision(action, hasSideEffect(cand.SourceRef))
	final, reason := applyPolicyThreshold(base, cand.Confidence, cand.Importance, s.cfg.Memory.MinConfidence, s.cfg.Memory.MinImportance)

	if final == decisionIgnore {
		if err := s.store.InsertDecisionLog(ctx, store.DecisionLogEntry{
			Tenant: tenant, Project: project, Agent: agent,
			NoteID:        nilIfEmpty(matchNoteID),
			BaseDecision:  base,
			FinalDecision: final,
			ReasonCode:    reason,
			Confidence:    cand.Confidence,
			Importance:    cand.Importance,
		}); err != nil {
			return NoteResult{}, fmt.Errorf("insert decision log: %w", err)
		}
		return NoteResult{Op: OpNone, NoteID: matchNoteID, Reason: reason, BaseDecision: base, FinalDecision: final}, nil
	}

	noteID, op, err := s.persist(ctx, tenant, project, agent, actor, cand, text, action, matchNoteID)
	if err != nil {
		return NoteResult{}, err
	}

	if err := s.store.InsertDecisionLog(ctx, store.DecisionLogEntry{
		Tenant: tenant, Project: project, Agent: agent,
		NoteID:        nilIfEmpty(noteID),
		BaseDecision:  base,
		FinalDecision: final,
		Confidence:    cand.Confidence,
		Importance:    cand.Importance,
	}); err != nil {
		return NoteResult{}, fmt.Errorf("insert decision log: %w", err)
	}

	return NoteResult{Op: op, NoteID: noteID, BaseDecision: base, FinalDecision: final}, nil
}

// resolve runs the update resolver's key-based path when the candidate
// carries a key, and the similarity-based path otherwise, embedding the
// candidate's full text exactly once.
func (s *Service) resolve(ctx context.Context, tenant, project, agent string, cand NoteCandidate, text string) (resolver.Action, string, error) {
	if cand.Key != "" {
		existing, err := s.store.FindActiveByKey(ctx, tenant, project, agent, cand.Scope, cand.Type, cand.Key)
		found := true
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				found = false
			} else {
				return "", "", err
			}
		}
		dec := resolver.ResolveByKey(resolver.ExistingByKey{Found: found, NoteID: existing.NoteID, Text: existing.Text})
		// Key identity alone doesn't imply content equality; an identical
		// resubmission is an idempotent NONE, not an UPDATE.
		if dec.Action == resolver.ActionUpdate && existing.Text == text {
			return resolver.ActionNone, dec.NoteID, nil
		}
		return dec.Action, dec.NoteID, nil
	}

	vecs, err := s.embed.Embed(ctx, []string{text})
	if err != nil {
		return "", "", fmt.Errorf("embed candidate: %w", err)
	}
	neighbors, err := s.store.MostSimilarPooled(ctx, tenant, project, agent, cand.Scope, cand.Type, s.embeddingVersion(), vecs[0], 5)
	if err != nil {
		return "", "", err
	}
	simNeighbors := make([]resolver.SimilarNote, len(neighbors))
	for i, n := range neighbors {
		simNeighbors[i] = resolver.SimilarNote{NoteID: n.NoteID, Similarity: n.Similarity, UpdatedAt: n.UpdatedAt}
	}
	dec := resolver.ResolveBySimilarity(simNeighbors, s.cfg.Memory.DupSimThreshold, s.cfg.Memory.UpdateSimThreshold)
	return dec.Action, dec.NoteID, nil
}

// persist writes the note mutation the resolver action (possibly
// escalated by a side-effect merge) calls for, inside the store's own
// transactional guarantees.
func (s *Service) persist(ctx context.Context, tenant, project, agent, actor string, cand NoteCandidate, text string, action resolver.Action, matchNoteID string) (string, Op, error) {
	ev := s.embeddingVersion()
	switch action {
	case resolver.ActionAdd:
		n, err := s.store.InsertNote(ctx, store.InsertNoteParams{
			NoteID:           uuid.NewString(),
			Tenant:           tenant,
			Project:          project,
			Agent:            agent,
			Scope:            cand.Scope,
			Type:             cand.Type,
			Key:              nilIfEmpty(cand.Key),
			Text:             text,
			Importance:       cand.Importance,
			Confidence:       cand.Confidence,
			EmbeddingVersion: ev,
			SourceRef:        cand.SourceRef,
			Reason:           "ingest",
			Actor:            actor,
		})
		if err != nil {
			return "", "", fmt.Errorf("insert note: %w", err)
		}
		s.metrics.IncCounter("ingest_op_total", map[string]string{"op": "ADD"})
		return n.NoteID, OpAdd, nil

	case resolver.ActionUpdate:
		n, err := s.store.UpdateNote(ctx, store.UpdateNoteParams{
			NoteID:           matchNoteID,
			Text:             text,
			Importance:       cand.Importance,
			Confidence:       cand.Confidence,
			EmbeddingVersion: ev,
			SourceRef:        cand.SourceRef,
			Reason:           "ingest",
			Actor:            actor,
		})
		if err != nil {
			return "", "", fmt.Errorf("update note: %w", err)
		}
		s.metrics.IncCounter("ingest_op_total", map[string]string{"op": "UPDATE"})
		return n.NoteID, OpUpdate, nil

	default: // resolver.ActionNone escalated by a side effect: merge source_ref, leave text as-is.
		n, err := s.store.GetNote(ctx, matchNoteID)
		if err != nil {
			return "", "", fmt.Errorf("get note for side-effect merge: %w", err)
		}
		n, err = s.store.UpdateNote(ctx, store.UpdateNoteParams{
			NoteID:           matchNoteID,
			Text:             n.Text,
			Importance:       n.Importance,
			Confidence:       n.Confidence,
			EmbeddingVersion: ev,
			SourceRef:        cand.SourceRef,
			Reason:           "side-effect merge",
			Actor:            actor,
		})
		if err != nil {
			return "", "", fmt.Errorf("merge side effect: %w", err)
		}
		s.metrics.IncCounter("ingest_op_total", map[string]string{"op": "UPDATE"})
		return n.NoteID, OpUpdate, nil
	}
}

func opForDecision(action resolver.Action, final string) Op {
	if final == decisionIgnore {
		return OpNone
	}
	switch action {
	case resolver.ActionAdd:
		return OpAdd
	default:
		return OpUpdate
	}
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
