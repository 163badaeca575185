package search

import (
	"context"
	"fmt"
	"time"

	"elfmemory/internal/sharing"
	"elfmemory/internal/store"
)

// revalidate fetches authoritative note metadata for every candidate and
// drops any whose status is not active, whose expiry has passed, or whose
// scope is no longer visible to the caller, including the agent_private
// ownership check the retrieval-time filter could not express.
func (s *Service) revalidate(ctx context.Context, rc sharing.ReadContext, cands []candidate) ([]candidate, error) {
	ids := make([]string, 0, len(cands))
	seen := make(map[string]bool, len(cands))
	for _, c := range cands {
		if !seen[c.NoteID] {
			seen[c.NoteID] = true
			ids = append(ids, c.NoteID)
		}
	}
	notes, err := s.store.NotesByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("search: revalidate: %w", err)
	}

	now := time.Now()
	out := cands[:0]
	for _, c := range cands {
		n, ok := notes[c.NoteID]
		if !ok || n.Status != store.NoteStatusActive {
			continue
		}
		if n.ExpiresAt != nil && n.ExpiresAt.Before(now) {
			continue
		}
		if !rc.NoteVisible(n) {
			continue
		}
		c.note = toNoteView(n)
		out = append(out, c)
	}
	return out, nil
}

func toNoteView(n store.Note) noteView {
	key := ""
	if n.Key != nil {
		key = *n.Key
	}
	return noteView{
		NoteID:     n.NoteID,
		Tenant:     n.Tenant,
		Project:    n.Project,
		Agent:      n.Agent,
		Scope:      n.Scope,
		Type:       n.Type,
		Key:        key,
		Status:     n.Status,
		Importance: n.Importance,
		Confidence: n.Confidence,
		UpdatedAt:  n.UpdatedAt,
		ExpiresAt:  n.ExpiresAt,
		HitCount:   n.HitCount,
	}
}
