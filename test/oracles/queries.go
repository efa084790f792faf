// Package oracles defines SQL invariant checks run against the database
// while the stress actors are working. Any returned row is a violation.
package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_resolution_paired",
			SQL: `SELECT id FROM dispute_cases
                  WHERE (resolved_at IS NULL) <> (resolution IS NULL)
                     OR (status = 'resolved') <> (resolved_at IS NOT NULL)`,
		},
		{
			Name: "O2_score_range",
			SQL: `SELECT id, ai_score FROM dispute_cases
                  WHERE ai_score IS NOT NULL AND (ai_score < 0 OR ai_score > 1)`,
		},
		{
			Name: "O3_evidence_seq_contiguous",
			SQL: `SELECT dispute_id FROM dispute_evidence
                  GROUP BY dispute_id HAVING MAX(seq) <> COUNT(*) OR MIN(seq) <> 1`,
		},
		{
			Name: "O4_evidence_hash_unique",
			SQL: `SELECT dispute_id, content_hash FROM dispute_evidence
                  GROUP BY dispute_id, content_hash HAVING COUNT(*) > 1`,
		},
		{
			Name: "O5_no_evidence_after_resolution",
			SQL: `SELECT e.id FROM dispute_evidence e
                  JOIN dispute_cases c ON c.id = e.dispute_id
                  WHERE c.resolved_at IS NOT NULL AND e.created_at > c.resolved_at`,
		},
		{
			// A resolution without decisive confidence must have gone
			// through escalation first.
			Name: "O6_low_confidence_needs_escalation",
			SQL: `SELECT c.id FROM dispute_cases c
                  WHERE c.resolution IS NOT NULL
                    AND (c.ai_score IS NULL OR c.ai_score < 0.85)
                    AND NOT EXISTS (
                        SELECT 1 FROM timeline_events e
                        WHERE e.dispute_id = c.id
                          AND e.type IN ('DISPUTE_ESCALATED', 'HUMAN_REVIEW_REQUESTED'))`,
		},
		{
			Name: "O7_timeline_seq_contiguous",
			SQL: `SELECT dispute_id FROM timeline_events
                  GROUP BY dispute_id HAVING MAX(seq) <> COUNT(*) OR MIN(seq) <> 1`,
		},
		{
			Name: "O8_outbox_not_stuck",
			SQL: `SELECT id FROM outbox
                  WHERE status = 'pending' AND now() - created_at > interval '5 minutes'`,
		},
		{
			Name: "O9_resolved_case_has_event",
			SQL: `SELECT c.id FROM dispute_cases c
                  WHERE c.resolved_at IS NOT NULL
                    AND NOT EXISTS (
                        SELECT 1 FROM timeline_events e
                        WHERE e.dispute_id = c.id AND e.type = 'DISPUTE_RESOLVED')`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row
// text) or an empty name when all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
