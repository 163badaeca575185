// Package vectorindex adapts the derived (rebuildable) search index: one
// Qdrant point per chunk, carrying a dense embedding and a hashed sparse
// vector side by side, plus the scope/tenant payload fields the search
// pipeline filters on before fusion ever sees a candidate.
package vectorindex

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// payloadChunkIDField stores the real chunk_id in the point payload;
// Qdrant point ids must be a UUID or unsigned integer, so chunk ids (which
// are "<note_id>:<index>" strings) are mapped through a deterministic
// SHA1-namespaced UUID, with the original id carried in the payload for
// the reverse lookup.
const payloadChunkIDField = "_chunk_id"

// Index is the derived vector index for chunks.
type Index struct {
	client     *qdrant.Client
	collection string
	denseDim   int
}

// Point is one chunk's worth of index content.
type Point struct {
	ChunkID string
	Dense   []float32
	Sparse  SparseVector
	Payload map[string]any
}

// Result is one hit from a similarity query, with the original chunk id
// and the payload fields requested at index time.
type Result struct {
	ChunkID string
	Score   float64
	Payload map[string]any
}

// Filter is a flat conjunction of equality/membership conditions applied
// before vector similarity narrows the candidate set — tenant/project/
// agent/scope/status plus any caller-supplied structured filter fields.
type Filter struct {
	Equals   map[string]string
	AnyOf    map[string][]string
}

// New connects to a Qdrant instance and ensures the collection exists with
// both a "dense" and a "sparse" named vector.
func New(ctx context.Context, dsn, collection string, denseDim int, distance string) (*Index, error) {
	if collection == "" {
		return nil, fmt.Errorf("vectorindex: collection name is required")
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: parse dsn: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsed.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: invalid port in dsn: %w", err)
	}
	cfg := &qdrant.Config{Host: host, Port: portNum}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}

	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: create client: %w", err)
	}

	idx := &Index{client: client, collection: collection, denseDim: denseDim}
	if err := idx.ensureCollection(ctx, distance); err != nil {
		client.Close()
		return nil, fmt.Errorf("vectorindex: ensure collection: %w", err)
	}
	return idx, nil
}

func (idx *Index) Close() error { return idx.client.Close() }

func (idx *Index) ensureCollection(ctx context.Context, distance string) error {
	exists, err := idx.client.CollectionExists(ctx, idx.collection)
	if err != nil {
		return fmt.Errorf("check collection exists: %w", err)
	}
	if exists {
		return nil
	}
	if idx.denseDim <= 0 {
		return fmt.Errorf("dense vector dimension must be > 0")
	}

	var dist qdrant.Distance
	switch strings.ToLower(strings.TrimSpace(distance)) {
	case "l2", "euclidean":
		dist = qdrant.Distance_Euclid
	case "ip", "dot":
		dist = qdrant.Distance_Dot
	default:
		dist = qdrant.Distance_Cosine
	}

	return idx.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: idx.collection,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			"dense": {Size: uint64(idx.denseDim), Distance: dist},
		}),
		SparseVectorsConfig: qdrant.NewSparseVectorsConfig(map[string]*qdrant.SparseVectorParams{
			"sparse": {},
		}),
	})
}

func pointID(chunkID string) *qdrant.PointId {
	if _, err := uuid.Parse(chunkID); err == nil {
		return qdrant.NewIDUUID(chunkID)
	}
	return qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunkID)).String())
}

// Upsert writes or overwrites points. Safe to call repeatedly with the
// same chunk id (e.g. during rebuild-from-authoritative): the point id is
// deterministic, so re-upserting replaces rather than duplicates.
func (idx *Index) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	qpoints := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		payload := make(map[string]any, len(p.Payload)+1)
		for k, v := range p.Payload {
			payload[k] = v
		}
		payload[payloadChunkIDField] = p.ChunkID

		vectors := map[string]*qdrant.Vector{
			"dense": qdrant.NewVectorDense(p.Dense),
		}
		if len(p.Sparse.Indices) > 0 {
			vectors["sparse"] = qdrant.NewVectorSparse(p.Sparse.Indices, p.Sparse.Values)
		}

		qpoints = append(qpoints, &qdrant.PointStruct{
			Id:      pointID(p.ChunkID),
			Vectors: qdrant.NewVectorsMap(vectors),
			Payload: qdrant.NewValueMap(payload),
		})
	}
	_, err := idx.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: idx.collection,
		Points:         qpoints,
	})
	return err
}

// Delete removes points by chunk id.
func (idx *Index) Delete(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	ids := make([]*qdrant.PointId, len(chunkIDs))
	for i, id := range chunkIDs {
		ids[i] = pointID(id)
	}
	_, err := idx.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: idx.collection,
		Points:         qdrant.NewPointsSelector(ids...),
	})
	return err
}

// DeleteByNoteID removes every chunk point belonging to a note, used when
// a note is tombstoned and its outbox job is a DELETE rather than UPSERT.
func (idx *Index) DeleteByNoteID(ctx context.Context, noteID string) error {
	_, err := idx.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: idx.collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("note_id", noteID)},
		}),
	})
	return err
}

func buildFilter(f Filter) *qdrant.Filter {
	if len(f.Equals) == 0 && len(f.AnyOf) == 0 {
		return nil
	}
	var must []*qdrant.Condition
	for field, val := range f.Equals {
		must = append(must, qdrant.NewMatch(field, val))
	}
	for field, vals := range f.AnyOf {
		if len(vals) == 0 {
			continue
		}
		var should []*qdrant.Condition
		for _, v := range vals {
			should = append(should, qdrant.NewMatch(field, v))
		}
		must = append(must, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Filter{
				Filter: &qdrant.Filter{Should: should},
			},
		})
	}
	return &qdrant.Filter{Must: must}
}

// SearchDense runs a single dense-vector similarity query.
func (idx *Index) SearchDense(ctx context.Context, vec []float32, filter Filter, limit int) ([]Result, error) {
	return idx.search(ctx, "dense", qdrant.NewQueryDense(vec), filter, limit)
}

// SearchSparse runs a single sparse (lexical) similarity query, the
// retrieval leg that keeps exact-term matches competitive with dense
// semantic similarity before fusion.
func (idx *Index) SearchSparse(ctx context.Context, vec SparseVector, filter Filter, limit int) ([]Result, error) {
	if len(vec.Indices) == 0 {
		return nil, nil
	}
	return idx.search(ctx, "sparse", qdrant.NewQuerySparse(vec.Indices, vec.Values), filter, limit)
}

func (idx *Index) search(ctx context.Context, using string, query *qdrant.Query, filter Filter, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 10
	}
	lim := uint64(limit)
	hits, err := idx.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: idx.collection,
		Query:          query,
		Using:          &using,
		Limit:          &lim,
		Filter:         buildFilter(filter),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		payload := make(map[string]any, len(h.Payload))
		var chunkID string
		for k, v := range h.Payload {
			if k == payloadChunkIDField {
				chunkID = v.GetStringValue()
				continue
			}
			payload[k] = v.GetStringValue()
		}
		out = append(out, Result{ChunkID: chunkID, Score: float64(h.Score), Payload: payload})
	}
	return out, nil
}
