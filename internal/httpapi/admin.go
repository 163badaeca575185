package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"elfmemory/internal/englishgate"
	"elfmemory/internal/ingest"
	"elfmemory/internal/schema"
	"elfmemory/internal/search"
	"elfmemory/internal/sharing"
	"elfmemory/internal/store"
)

// handleAdminRebuild repopulates the derived index from the authoritative
// store. It never calls the embedding provider: every vector it writes was
// persisted at indexing time.
func (s *Server) handleAdminRebuild(w http.ResponseWriter, r *http.Request) {
	ev := ingest.EmbeddingVersion(s.cfg.Providers.Embedding.APIBase,
		s.cfg.Providers.Embedding.Model, s.cfg.Providers.Embedding.Dimensions)
	count, err := s.worker.RebuildFromAuthoritative(r.Context(), ev)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, map[string]any{
		"rebuilt_count": count,
		"error_count":   0,
		"request_id":    requestIDFrom(r),
	})
}

func (s *Server) handleAdminRawSearch(w http.ResponseWriter, r *http.Request) {
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
	resp, err := s.search.SearchRaw(r.Context(), search.Request{
		Tenant:      cc.Tenant,
		Project:     cc.Project,
		Agent:       cc.Agent,
		ReadProfile: cc.ReadProfile,
		Query:       gd.Normalized,
		TopK:        body.TopK,
		CandidateK:  body.CandidateK,
		Filter:      body.Filter,
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
	respondJSON(w, r, http.StatusOK, map[string]any{
		"trace_id":   resp.TraceID,
		"items":      resp.Items,
		"request_id": requestIDFrom(r),
	})
}

func (s *Server) handleAdminRecentTraces(w http.ResponseWriter, r *http.Request) {
	cc := callContextFrom(r)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	traces, err := s.store.RecentTraces(r.Context(), cc.Tenant, limit)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	out := schema.RecentTraces{SchemaVersion: schema.RecentTracesVersion}
	for _, t := range traces {
		out.Traces = append(out.Traces, traceSummary(t))
	}
	respondJSON(w, r, http.StatusOK, map[string]any{
		"recent":     out,
		"request_id": requestIDFrom(r),
	})
}

func traceSummary(t store.TraceRecord) schema.TraceSummary {
	return schema.TraceSummary{
		TraceID:        t.TraceID,
		Tenant:         t.Tenant,
		Query:          t.Query,
		CandidateCount: t.CandidateCount,
		TopK:           t.TopK,
		CreatedAt:      t.CreatedAt.Format(time.RFC3339),
		ExpiresAt:      t.ExpiresAt.Format(time.RFC3339),
	}
}

// loadTraceBundle fetches a trace with children; a missing trace may still
// be pending on the trace outbox, which callers surface as "pending"
// rather than an error.
func (s *Server) loadTraceBundle(w http.ResponseWriter, r *http.Request) (store.TraceRecord, []store.TraceItem, []store.TraceStage, []store.TraceCandidate, bool) {
	trace, items, stages, candidates, err := s.store.TraceBundle(r.Context(), r.PathValue("traceID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondJSON(w, r, http.StatusAccepted, map[string]any{
				"status":     "pending",
				"request_id": requestIDFrom(r),
			})
			return store.TraceRecord{}, nil, nil, nil, false
		}
		s.internalError(w, r, err)
		return store.TraceRecord{}, nil, nil, nil, false
	}
	return trace, items, stages, candidates, true
}

func (s *Server) handleAdminGetTrace(w http.ResponseWriter, r *http.Request) {
	trace, _, _, _, ok := s.loadTraceBundle(w, r)
	if !ok {
		return
	}
	respondJSON(w, r, http.StatusOK, map[string]any{
		"trace":      traceSummary(trace),
		"request_id": requestIDFrom(r),
	})
}

func (s *Server) handleAdminTraceBundle(w http.ResponseWriter, r *http.Request) {
	trace, items, stages, candidates, ok := s.loadTraceBundle(w, r)
	if !ok {
		return
	}
	bundle := schema.TraceBundle{
		SchemaVersion: schema.TraceBundleVersion,
		Trace:         traceSummary(trace),
		Items:         traceItems(items),
	}
	if len(stages) > 0 {
		traj := &schema.RetrievalTrajectory{
			SchemaVersion: schema.RetrievalTrajectoryVersion,
			TraceID:       trace.TraceID,
		}
		for _, st := range stages {
			traj.Stages = append(traj.Stages, schema.TrajectoryStage{
				Name:           st.StageName,
				CandidateIn:    st.CandidateIn,
				CandidateOut:   st.CandidateOut,
				DurationMicros: st.DurationMicros,
			})
		}
		bundle.Trajectory = traj
	}
	for _, c := range candidates {
		bundle.Candidates = append(bundle.Candidates, schema.TraceCandidate{
			ChunkID:       c.ChunkID,
			NoteID:        c.NoteID,
			RetrievalRank: c.RetrievalRank,
			FusionScore:   c.FusionScore,
		})
	}
	respondJSON(w, r, http.StatusOK, map[string]any{
		"bundle":     bundle,
		"request_id": requestIDFrom(r),
	})
}

func traceItems(items []store.TraceItem) []schema.TraceItem {
	out := make([]schema.TraceItem, len(items))
	for i, it := range items {
		var explain schema.RankingExplain
		_ = json.Unmarshal(it.Explain, &explain)
		out[i] = schema.TraceItem{
			ResultHandle: it.TraceID + "/" + strconv.Itoa(it.Rank),
			Rank:         it.Rank,
			NoteID:       it.NoteID,
			ChunkID:      it.ChunkID,
			FinalScore:   it.FinalScore,
			Explain:      explain,
		}
	}
	return out
}

func (s *Server) handleAdminTraceItems(w http.ResponseWriter, r *http.Request) {
	_, items, _, _, ok := s.loadTraceBundle(w, r)
	if !ok {
		return
	}
	respondJSON(w, r, http.StatusOK, map[string]any{
		"items":      traceItems(items),
		"request_id": requestIDFrom(r),
	})
}

func (s *Server) handleAdminTrajectory(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.GetSearchSessionAnyTenant(r.Context(), r.PathValue("searchID"))
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			respondError(w, r, http.StatusNotFound, CodeInvalidRequest, "search not found")
			return
		}
		s.internalError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, map[string]any{
		"search_id":  sess.SearchID,
		"trajectory": json.RawMessage(sess.Trajectory),
		"request_id": requestIDFrom(r),
	})
}

func (s *Server) handleAdminProvenance(w http.ResponseWriter, r *http.Request) {
	noteID := r.PathValue("noteID")
	n, err := s.store.GetNote(r.Context(), noteID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, r, http.StatusNotFound, CodeInvalidRequest, "note not found")
			return
		}
		s.internalError(w, r, err)
		return
	}
	versions, err := s.store.VersionsForNote(r.Context(), noteID)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	jobs, err := s.store.OutboxJobsForNote(r.Context(), noteID)
	if err != nil {
		s.internalError(w, r, err)
		return
	}

	bundle := schema.NoteProvenanceBundle{
		SchemaVersion: schema.NoteProvenanceBundleVersion,
		NoteID:        noteID,
		Evidence:      evidenceFromSourceRef(n.SourceRef),
	}
	for _, v := range versions {
		bundle.Versions = append(bundle.Versions, schema.NoteVersion{
			VersionID: strconv.FormatInt(v.VersionID, 10),
			Op:        v.Op,
			Reason:    v.Reason,
			Actor:     v.Actor,
			CreatedAt: v.CreatedAt.Format(time.RFC3339),
			PrevText:  v.PrevText,
			NewText:   v.NewText,
		})
	}
	for _, j := range jobs {
		info := schema.OutboxJobInfo{
			OutboxID: strconv.FormatInt(j.OutboxID, 10),
			Op:       j.Op,
			Status:   j.Status,
			Attempts: j.Attempts,
		}
		if j.LastError != nil {
			info.LastError = *j.LastError
		}
		bundle.OutboxJobs = append(bundle.OutboxJobs, info)
	}
	respondJSON(w, r, http.StatusOK, map[string]any{
		"bundle":     bundle,
		"request_id": requestIDFrom(r),
	})
}

// evidenceFromSourceRef pulls evidence quotes out of an event-ingested
// note's source_ref; deterministic notes have none.
func evidenceFromSourceRef(raw json.RawMessage) []schema.EvidenceEntry {
	var ref schema.SourceRef
	if err := json.Unmarshal(raw, &ref); err != nil || ref.SchemaVersion != schema.SourceRefVersion {
		return nil
	}
	var payload struct {
		Evidence []schema.EvidenceEntry `json:"evidence"`
	}
	if err := json.Unmarshal(ref.Payload, &payload); err != nil {
		return nil
	}
	return payload.Evidence
}
