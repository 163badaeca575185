package store

import (
	"context"
	"time"
)

// DecisionLogEntry is one row of the ingest pipeline's append-only
// two-stage policy decision audit.
type DecisionLogEntry struct {
	Tenant        string
	Project       string
	Agent         string
	NoteID        *string
	BaseDecision  string
	FinalDecision string
	ReasonCode    string
	Confidence    float64
	Importance    float64
	CreatedAt     time.Time
}

// InsertDecisionLog records a policy decision. Called for every candidate,
// including ignored ones, so the audit trail accounts for every input even
// when no note row was touched.
func (s *Store) InsertDecisionLog(ctx context.Context, e DecisionLogEntry) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO ingest_decision_log (tenant, project, agent, note_id, base_decision,
                                  final_decision, reason_code, confidence, importance)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		e.Tenant, e.Project, e.Agent, e.NoteID, e.BaseDecision, e.FinalDecision,
		nullIfEmpty(e.ReasonCode), e.Confidence, e.Importance)
	return err
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
