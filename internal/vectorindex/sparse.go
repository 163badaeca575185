package vectorindex

import (
	"hash/fnv"
	"sort"
	"strings"
)

// sparseDim bounds the hashed sparse vector space. A larger space reduces
// hash collisions between unrelated terms at the cost of a sparser index;
// this value keeps collision rates low for note-sized chunk text without
// requiring a real vocabulary/IDF table.
const sparseDim = 1 << 18

// SparseVector is a hashed bag-of-words term-frequency vector: Indices and
// Values are positionally aligned and sorted by index.
type SparseVector struct {
	Indices []uint32
	Values  []float32
}

// BuildSparseVector hashes each token in text into [0, sparseDim) and
// accumulates term frequency, giving a lexical complement to the dense
// embedding without depending on a global term-statistics store.
func BuildSparseVector(tokens []string) SparseVector {
	counts := make(map[uint32]float32, len(tokens))
	for _, tok := range tokens {
		tok = strings.ToLower(tok)
		if tok == "" {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		idx := h.Sum32() % sparseDim
		counts[idx]++
	}
	if len(counts) == 0 {
		return SparseVector{}
	}
	sv := SparseVector{
		Indices: make([]uint32, 0, len(counts)),
		Values:  make([]float32, 0, len(counts)),
	}
	for idx := range counts {
		sv.Indices = append(sv.Indices, idx)
	}
	sort.Slice(sv.Indices, func(i, j int) bool { return sv.Indices[i] < sv.Indices[j] })
	for _, idx := range sv.Indices {
		sv.Values = append(sv.Values, counts[idx])
	}
	return sv
}
