package search

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"elfmemory/internal/cache"
	"elfmemory/internal/chunker"
	"elfmemory/internal/config"
	"elfmemory/internal/obs"
	"elfmemory/internal/schema"
	"elfmemory/internal/sharing"
	"elfmemory/internal/store"
	"elfmemory/internal/vectorindex"
)

// Embedder turns query texts into dense vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Reranker scores snippets against the original query.
type Reranker interface {
	Rerank(ctx context.Context, query string, docs []string) ([]float64, error)
}

// QueryExpander produces alternate phrasings of a query.
type QueryExpander interface {
	ExpandQuery(ctx context.Context, query string, maxQueries int) ([]string, error)
}

// maxCandidateK bounds the derived-index fan-out regardless of what the
// structured-filter overfetch multiplier asks for.
const maxCandidateK = 512

// Service runs the search pipeline end to end. rerank, extractor, and
// cache may be nil; the corresponding stage degrades (retrieval-score
// ordering, original-query-only, cache-miss behavior) rather than failing.
type Service struct {
	cfg       config.Config
	store     *store.Store
	index     *vectorindex.Index
	cache     *cache.Cache
	embed     Embedder
	rerank    Reranker
	extractor QueryExpander
	chunker   *chunker.Chunker
	metrics   obs.Metrics
	logger    zerolog.Logger
}

// New constructs a search Service.
func New(cfg config.Config, st *store.Store, idx *vectorindex.Index, c *cache.Cache,
	embed Embedder, rr Reranker, exp QueryExpander, metrics obs.Metrics, logger zerolog.Logger) *Service {
	return &Service{
		cfg:       cfg,
		store:     st,
		index:     idx,
		cache:     c,
		embed:     embed,
		rerank:    rr,
		extractor: exp,
		chunker:   chunker.New(cfg.Chunking.TokenizerID, cfg.Chunking.MaxTokens, cfg.Chunking.OverlapTokens),
		metrics:   metrics,
		logger:    logger,
	}
}

// pipelineResult carries everything both response shapes and the trace
// builder need out of one pipeline run.
type pipelineResult struct {
	traceID       string
	queries       []string
	expansionMode string
	allowedScopes []string
	ranked        []candidate // chunk-level, sorted, pre-aggregation
	aggregated    []candidate // note-level, top-k
	rerankRan     bool
	trajectory    schema.RetrievalTrajectory
	candidateSnap []candidate // post-fusion snapshot for trace candidates
}

// Search runs the full pipeline and returns the compact note-level
// response.
func (s *Service) Search(ctx context.Context, req Request) (Response, *schema.RetrievalTrajectory, error) {
	res, err := s.run(ctx, req)
	if err != nil {
		return Response{}, nil, err
	}
	items := make([]NoteResult, len(res.aggregated))
	for i, c := range res.aggregated {
		items[i] = NoteResult{
			NoteID:     c.NoteID,
			ChunkID:    c.ChunkID,
			Snippet:    c.snippet,
			FinalScore: c.finalScore,
			Rank:       i + 1,
		}
	}
	return Response{TraceID: res.traceID, Items: items}, &res.trajectory, nil
}

// SearchRaw runs the full pipeline and returns chunk-level items with full
// explain, skipping note aggregation. Admin-only surface.
func (s *Service) SearchRaw(ctx context.Context, req Request) (RawResponse, error) {
	res, err := s.run(ctx, req)
	if err != nil {
		return RawResponse{}, err
	}
	topK := req.TopK
	if topK <= 0 || topK > len(res.ranked) {
		topK = len(res.ranked)
	}
	items := make([]RawItem, topK)
	for i := 0; i < topK; i++ {
		c := res.ranked[i]
		items[i] = RawItem{
			ChunkID:       c.ChunkID,
			NoteID:        c.NoteID,
			Snippet:       c.snippet,
			FinalScore:    c.finalScore,
			Rank:          i + 1,
			RetrievalRank: c.RetrievalRank,
			Explain: schema.RankingExplain{
				SchemaVersion: schema.RankingExplainVersion,
				Terms:         c.terms,
				FinalScore:    c.finalScore,
			},
		}
	}
	return RawResponse{TraceID: res.traceID, Items: items}, nil
}

func (s *Service) run(ctx context.Context, req Request) (pipelineResult, error) {
	start := time.Now()
	res := pipelineResult{traceID: uuid.NewString()}
	res.trajectory.SchemaVersion = schema.RetrievalTrajectoryVersion
	res.trajectory.TraceID = res.traceID

	rc, err := sharing.ResolveReadContext(s.cfg.Scopes, req.Tenant, req.Project, req.Agent, req.ReadProfile)
	if err != nil {
		return res, err
	}
	res.allowedScopes = rc.AllowedScopes

	topK := req.TopK
	if topK <= 0 {
		topK = 10
	}
	candidateK := req.CandidateK
	if candidateK <= 0 {
		candidateK = s.cfg.Search.CandidateK
	}
	if candidateK <= 0 {
		candidateK = 50
	}
	// Structured filtering happens after revalidation, so overfetch to
	// leave the filter enough survivors.
	if req.Filter != nil {
		candidateK = clamp(candidateK*3, topK, maxCandidateK)
	}
	filter := retrievalFilter(rc)

	// Baseline retrieval: always needed in dynamic mode to decide whether
	// to expand; in off/always modes the original query's retrieval is
	// part of the normal fan-out below.
	retrieved := map[string][]string{}
	noteOf := map[string]string{}
	var baselineCount int
	var baselineTop float64
	if s.cfg.Search.Expansion.Mode == "dynamic" {
		t0 := time.Now()
		ids, notes, err := s.retrieveOne(ctx, req.Query, rc, filter, candidateK)
		if err != nil {
			return res, err
		}
		retrieved[req.Query] = ids
		mergeNotes(noteOf, notes)
		baselineCount = len(ids)
		if len(ids) > 0 {
			fused := reciprocalRankFuse(s.cfg.Search.RRFK, ids)
			baselineTop = fused[ids[0]]
		}
		s.stage(&res.trajectory, "baseline", 0, baselineCount, t0)
	}

	t0 := time.Now()
	queries, mode, err := s.resolveQueries(ctx, req.Query, baselineCount, baselineTop)
	if err != nil {
		// Expansion failure falls back to the original query.
		s.logger.Warn().Err(err).Msg("query expansion failed, using original query")
		queries, mode = []string{req.Query}, s.cfg.Search.Expansion.Mode
	}
	res.queries = queries
	res.expansionMode = mode
	s.stage(&res.trajectory, "expansion", 1, len(queries), t0)

	// Per-query hybrid retrieval, parallel but position-stable: results
	// land in a slice indexed by query position before fusion.
	t0 = time.Now()
	perQuery := make([][]string, len(queries))
	perNotes := make([]map[string]string, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		if ids, ok := retrieved[q]; ok {
			perQuery[i] = ids
			continue
		}
		i, q := i, q
		g.Go(func() error {
			ids, notes, err := s.retrieveOne(gctx, q, rc, filter, candidateK)
			if err != nil {
				return err
			}
			perQuery[i] = ids
			perNotes[i] = notes
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}
	for _, notes := range perNotes {
		mergeNotes(noteOf, notes)
	}
	cands := multiQueryFuse(s.cfg.Search.RRFK, perQuery, noteOf)
	s.stage(&res.trajectory, "fusion", sumLens(perQuery), len(cands), t0)
	res.candidateSnap = append([]candidate(nil), cands...)

	if mc := s.cfg.Search.MaxCandidates; mc > 0 && mc < candidateK && len(cands) > mc {
		cands = cands[:mc]
	}

	t0 = time.Now()
	in := len(cands)
	cands, err = s.revalidate(ctx, rc, cands)
	if err != nil {
		return res, err
	}
	s.stage(&res.trajectory, "revalidate", in, len(cands), t0)

	if req.Filter != nil {
		t0 = time.Now()
		filtered, impact, err := applyStructuredFilter(cands, req.Filter)
		if err != nil {
			return res, err
		}
		cands = filtered
		res.trajectory.FilterImpact = &impact
		s.stage(&res.trajectory, "filter", impact.BeforeCount, impact.AfterCount, t0)
	}

	t0 = time.Now()
	cands, err = s.stitchSnippets(ctx, cands)
	if err != nil {
		return res, err
	}
	s.stage(&res.trajectory, "snippet", len(cands), len(cands), t0)

	t0 = time.Now()
	res.rerankRan = true
	reranked, err := s.rerankCandidates(ctx, req.Query, cands)
	if err != nil {
		// Rerank failure falls back to retrieval-score ordering.
		s.logger.Warn().Err(err).Msg("rerank failed, falling back to retrieval ordering")
		res.rerankRan = false
	} else {
		cands = reranked
		if s.rerank == nil {
			res.rerankRan = false
		}
	}
	s.stage(&res.trajectory, "rerank", len(cands), len(cands), t0)

	t0 = time.Now()
	applyRanking(s.cfg.Ranking, req.Query, res.rerankRan, cands)
	sortAndTieBreak(cands)
	res.ranked = cands
	res.aggregated = aggregateByNote(cands, topK)
	s.stage(&res.trajectory, "ranking", len(cands), len(res.aggregated), t0)

	if req.RecordHits {
		s.recordHits(ctx, req, res)
	}
	s.enqueueTrace(ctx, req, res, topK)

	s.metrics.ObserveHistogram("search_total_ms", float64(time.Since(start).Milliseconds()), nil)
	s.metrics.IncCounter("search_total", map[string]string{"expansion": res.expansionMode})
	return res, nil
}

// retrieveOne embeds a single query (dense input augmented with the
// project context description when configured; sparse input unchanged)
// and runs its hybrid retrieval.
func (s *Service) retrieveOne(ctx context.Context, query string, rc sharing.ReadContext, filter vectorindex.Filter, candidateK int) ([]string, map[string]string, error) {
	denseInput := query
	if desc := s.cfg.Search.ProjectContexts[rc.Project]; desc != "" {
		denseInput = query + "\n\nProject context:\n" + desc
	}
	vecs, err := s.embed.Embed(ctx, []string{denseInput})
	if err != nil {
		return nil, nil, fmt.Errorf("search: embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, nil, fmt.Errorf("search: embed query: got %d vectors for 1 input", len(vecs))
	}
	return s.hybridRetrieve(ctx, vecs[0], query, filter, candidateK)
}

func (s *Service) recordHits(ctx context.Context, req Request, res pipelineResult) {
	hits := make([]store.NoteHit, len(res.aggregated))
	for i, c := range res.aggregated {
		hits[i] = store.NoteHit{
			NoteID:  c.NoteID,
			ChunkID: c.ChunkID,
			Tenant:  req.Tenant,
			Project: req.Project,
			Agent:   req.Agent,
			TraceID: res.traceID,
		}
	}
	if err := s.store.RecordHits(ctx, hits); err != nil {
		s.logger.Warn().Err(err).Msg("hit accounting failed")
	}
}

// enqueueTrace builds the full trace payload and enqueues it on the trace
// outbox. Best-effort: a failure is logged and the search succeeds anyway.
func (s *Service) enqueueTrace(ctx context.Context, req Request, res pipelineResult, topK int) {
	retention := s.cfg.Search.TraceRetentionDays
	if retention <= 0 {
		retention = 14
	}
	now := time.Now()
	snapshot, _ := json.Marshal(map[string]any{
		"candidate_k":    s.cfg.Search.CandidateK,
		"max_candidates": s.cfg.Search.MaxCandidates,
		"rrf_k":          s.cfg.Search.RRFK,
		"expansion_mode": s.cfg.Search.Expansion.Mode,
	})
	payload := store.TracePayload{
		Trace: store.TraceRecord{
			TraceID:         res.traceID,
			Tenant:          req.Tenant,
			Query:           req.Query,
			ExpansionMode:   res.expansionMode,
			ExpandedQueries: res.queries,
			AllowedScopes:   res.allowedScopes,
			CandidateCount:  len(res.candidateSnap),
			TopK:            topK,
			ConfigSnapshot:  snapshot,
			SchemaVersion:   schema.RankingExplainVersion,
			CreatedAt:       now,
			ExpiresAt:       now.Add(time.Duration(retention) * 24 * time.Hour),
		},
	}
	for i, c := range res.aggregated {
		explain, err := json.Marshal(schema.RankingExplain{
			SchemaVersion: schema.RankingExplainVersion,
			Terms:         c.terms,
			FinalScore:    c.finalScore,
		})
		if err != nil {
			continue
		}
		payload.Items = append(payload.Items, store.TraceItem{
			TraceID:    res.traceID,
			Rank:       i + 1,
			NoteID:     c.NoteID,
			ChunkID:    c.ChunkID,
			FinalScore: c.finalScore,
			Explain:    explain,
		})
	}
	for _, st := range res.trajectory.Stages {
		payload.Stages = append(payload.Stages, store.TraceStage{
			TraceID:        res.traceID,
			StageName:      st.Name,
			CandidateIn:    st.CandidateIn,
			CandidateOut:   st.CandidateOut,
			DurationMicros: st.DurationMicros,
		})
	}
	for _, c := range res.candidateSnap {
		payload.Candidates = append(payload.Candidates, store.TraceCandidate{
			TraceID:       res.traceID,
			ChunkID:       c.ChunkID,
			NoteID:        c.NoteID,
			RetrievalRank: c.RetrievalRank,
			FusionScore:   c.FusionScore,
		})
	}
	if err := s.store.EnqueueTrace(ctx, payload); err != nil {
		s.logger.Warn().Err(err).Str("trace_id", res.traceID).Msg("trace enqueue failed")
	}
}

func (s *Service) stage(tr *schema.RetrievalTrajectory, name string, in, out int, since time.Time) {
	tr.Stages = append(tr.Stages, schema.TrajectoryStage{
		Name:           name,
		CandidateIn:    in,
		CandidateOut:   out,
		DurationMicros: time.Since(since).Microseconds(),
	})
	s.metrics.ObserveHistogram("search_stage_ms", float64(time.Since(since).Milliseconds()),
		map[string]string{"stage": name})
}

func mergeNotes(dst, src map[string]string) {
	for k, v := range src {
		if _, ok := dst[k]; !ok {
			dst[k] = v
		}
	}
}

func sumLens(lists [][]string) int {
	n := 0
	for _, l := range lists {
		n += len(l)
	}
	return n
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
