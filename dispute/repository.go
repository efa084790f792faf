package dispute

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const caseColumns = `id, transaction_ref, complainant, respondent, reason, status::text,
       ai_score, human_review_requested, resolution::text, resolved_at, created_at, updated_at`

const evidenceColumns = `id, dispute_id, seq, evidence_type::text, description, content_hash, uri, submitted_by, created_at`

// Repository is the PostgreSQL-backed store for dispute cases, their
// append-only evidence ledger, the timeline audit trail and the outbox.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateParams enumerates the fields required to open a case. The ID must be
// the derived identifier for (TransactionRef, Complainant, Reason).
type CreateParams struct {
	ID             string
	TransactionRef string
	Complainant    string
	Respondent     string
	Reason         string
}

// CreateCase inserts a new case directly in evidence collection (the open
// state is momentary per the lifecycle). Re-creating an identical triple is
// idempotent: the existing case is returned and created is false.
func (r *Repository) CreateCase(ctx context.Context, params CreateParams) (Case, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Case{}, false, fmt.Errorf("dispute: begin create: %w", err)
	}
	defer tx.Rollback(ctx)

	insertSQL := `
		INSERT INTO dispute_cases (id, transaction_ref, complainant, respondent, reason, status)
		VALUES ($1, $2, $3, $4, $5, 'evidence_collection')
		ON CONFLICT (id) DO NOTHING
		RETURNING ` + caseColumns

	rec, err := scanCase(tx.QueryRow(ctx, insertSQL,
		params.ID, params.TransactionRef, params.Complainant, params.Respondent, params.Reason))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			existing, getErr := r.GetCase(ctx, params.ID)
			if getErr != nil {
				return Case{}, false, getErr
			}
			return existing, false, nil
		}
		return Case{}, false, fmt.Errorf("dispute: insert case: %w", err)
	}

	if err := insertTimelineEvent(ctx, tx, rec.ID, "DISPUTE_OPENED", rec.Complainant, map[string]any{
		"transaction_ref": rec.TransactionRef,
		"respondent":      rec.Respondent,
		"reason":          rec.Reason,
	}); err != nil {
		return Case{}, false, err
	}
	if err := enqueueOutbox(ctx, tx, "dispute.opened", map[string]any{
		"dispute_id":      rec.ID,
		"transaction_ref": rec.TransactionRef,
	}); err != nil {
		return Case{}, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Case{}, false, fmt.Errorf("dispute: commit create: %w", err)
	}
	return rec, true, nil
}

// GetCase fetches a single case by its derived identifier.
func (r *Repository) GetCase(ctx context.Context, disputeID string) (Case, error) {
	query := `SELECT ` + caseColumns + ` FROM dispute_cases WHERE id = $1`

	rec, err := scanCase(r.pool.QueryRow(ctx, query, disputeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Case{}, ErrNotFound
		}
		return Case{}, fmt.Errorf("dispute: get case: %w", err)
	}
	return rec, nil
}

// GetDetail fetches a case together with its ordered evidence.
func (r *Repository) GetDetail(ctx context.Context, disputeID string) (CaseDetail, error) {
	rec, err := r.GetCase(ctx, disputeID)
	if err != nil {
		return CaseDetail{}, err
	}
	evidence, err := r.ListEvidence(ctx, disputeID)
	if err != nil {
		return CaseDetail{}, err
	}
	return CaseDetail{Case: rec, Evidence: evidence}, nil
}

// SubmitEvidence appends a submission to the dispute's evidence ledger.
// Appends for the same dispute are serialized on the case row so positions
// never collide; a resubmission with an identical content hash returns the
// stored record without appending.
func (r *Repository) SubmitEvidence(ctx context.Context, disputeID, submitter string, sub Submission) (EvidenceRecord, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return EvidenceRecord{}, false, fmt.Errorf("dispute: begin submit: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		complainant string
		respondent  string
		status      Status
	)
	const lockSQL = `SELECT complainant, respondent, status::text FROM dispute_cases WHERE id = $1 FOR UPDATE`
	if err := tx.QueryRow(ctx, lockSQL, disputeID).Scan(&complainant, &respondent, &status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return EvidenceRecord{}, false, ErrNotFound
		}
		return EvidenceRecord{}, false, fmt.Errorf("dispute: lock case: %w", err)
	}
	if status == StatusResolved {
		return EvidenceRecord{}, false, ErrCaseResolved
	}
	if submitter != complainant && submitter != respondent {
		return EvidenceRecord{}, false, ErrNotParty
	}

	// Dedup before inserting so retries and double-submissions are cheap.
	existing, err := r.findEvidenceByHash(ctx, tx, disputeID, sub.ContentHash)
	switch {
	case err == nil:
		return existing, false, nil
	case errors.Is(err, pgx.ErrNoRows):
		// first submission of this artifact
	default:
		return EvidenceRecord{}, false, fmt.Errorf("dispute: check duplicate: %w", err)
	}

	insertSQL := `
		INSERT INTO dispute_evidence (id, dispute_id, seq, evidence_type, description, content_hash, uri, submitted_by)
		VALUES ($1, $2,
		        (SELECT COALESCE(MAX(seq), 0) + 1 FROM dispute_evidence WHERE dispute_id = $2),
		        $3, $4, $5, $6, $7)
		RETURNING ` + evidenceColumns

	rec, err := scanEvidence(tx.QueryRow(ctx, insertSQL,
		uuid.NewString(), disputeID, sub.Type, sub.Description, sub.ContentHash, sub.URI, submitter))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// Raced with a duplicate submission outside this lock; the
			// stored record wins.
			dup, dupErr := r.findEvidenceByHashPool(ctx, disputeID, sub.ContentHash)
			if dupErr != nil {
				return EvidenceRecord{}, false, fmt.Errorf("dispute: fetch duplicate: %w", dupErr)
			}
			return dup, false, nil
		}
		return EvidenceRecord{}, false, fmt.Errorf("dispute: insert evidence: %w", err)
	}

	if err := insertTimelineEvent(ctx, tx, disputeID, "EVIDENCE_SUBMITTED", submitter, map[string]any{
		"evidence_id":  rec.ID,
		"seq":          rec.Seq,
		"content_hash": rec.ContentHash,
		"type":         rec.Type,
	}); err != nil {
		return EvidenceRecord{}, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return EvidenceRecord{}, false, fmt.Errorf("dispute: commit submit: %w", err)
	}
	return rec, true, nil
}

// EvidenceCount returns the number of distinct evidence records on the
// dispute.
func (r *Repository) EvidenceCount(ctx context.Context, disputeID string) (int, error) {
	if err := r.ensureExists(ctx, disputeID); err != nil {
		return 0, err
	}
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dispute_evidence WHERE dispute_id = $1`, disputeID).Scan(&n); err != nil {
		return 0, fmt.Errorf("dispute: count evidence: %w", err)
	}
	return n, nil
}

// ListEvidence returns the dispute's evidence in append order.
func (r *Repository) ListEvidence(ctx context.Context, disputeID string) ([]EvidenceRecord, error) {
	if err := r.ensureExists(ctx, disputeID); err != nil {
		return nil, err
	}

	query := `SELECT ` + evidenceColumns + ` FROM dispute_evidence WHERE dispute_id = $1 ORDER BY seq`
	rows, err := r.pool.Query(ctx, query, disputeID)
	if err != nil {
		return nil, fmt.Errorf("dispute: list evidence: %w", err)
	}
	defer rows.Close()

	out := make([]EvidenceRecord, 0, 8)
	for rows.Next() {
		rec, err := scanEvidenceRow(rows)
		if err != nil {
			return nil, fmt.Errorf("dispute: scan evidence: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate evidence: %w", err)
	}
	return out, nil
}

// ByComplainant returns all cases opened by the address, oldest first.
func (r *Repository) ByComplainant(ctx context.Context, address string) ([]Case, error) {
	return r.listCases(ctx, `SELECT `+caseColumns+` FROM dispute_cases WHERE complainant = $1 ORDER BY created_at`, address)
}

// ByRespondent returns all cases naming the address as respondent, oldest
// first.
func (r *Repository) ByRespondent(ctx context.Context, address string) ([]Case, error) {
	return r.listCases(ctx, `SELECT `+caseColumns+` FROM dispute_cases WHERE respondent = $1 ORDER BY created_at`, address)
}

// Pending returns all cases that have not reached a terminal resolution,
// oldest first.
func (r *Repository) Pending(ctx context.Context) ([]Case, error) {
	return r.listCases(ctx, `SELECT `+caseColumns+` FROM dispute_cases WHERE resolved_at IS NULL ORDER BY created_at`)
}

// BeginScoring moves a case into scoring. Re-entry from scoring is allowed
// so an interrupted resolution attempt can be resumed.
func (r *Repository) BeginScoring(ctx context.Context, disputeID string) (Case, error) {
	query := `
		UPDATE dispute_cases
		SET status = 'scoring', updated_at = now()
		WHERE id = $1 AND status IN ('evidence_collection', 'scoring')
		RETURNING ` + caseColumns

	rec, err := scanCase(r.pool.QueryRow(ctx, query, disputeID))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Case{}, fmt.Errorf("dispute: begin scoring: %w", err)
	}
	return Case{}, r.transitionFailure(ctx, disputeID)
}

// RouteHumanReview moves a scoring case into the human-review queue. A nil
// score records an oracle failure: the review flag is forced so the
// escalation is visible; otherwise the flag widens only when the score falls
// below the threshold.
func (r *Repository) RouteHumanReview(ctx context.Context, disputeID string, score *float64) (Case, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Case{}, fmt.Errorf("dispute: begin escalate: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE dispute_cases
		SET status = 'pending_human_review',
		    ai_score = COALESCE($2, ai_score),
		    human_review_requested = human_review_requested OR $2 IS NULL OR $2 < $3,
		    updated_at = now()
		WHERE id = $1 AND status = 'scoring'
		RETURNING ` + caseColumns

	rec, err := scanCase(tx.QueryRow(ctx, query, disputeID, score, HumanReviewThreshold))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Case{}, r.transitionFailure(ctx, disputeID)
		}
		return Case{}, fmt.Errorf("dispute: escalate: %w", err)
	}

	payload := map[string]any{"oracle_failed": score == nil}
	if score != nil {
		payload["ai_score"] = *score
	}
	if err := insertTimelineEvent(ctx, tx, disputeID, "DISPUTE_ESCALATED", "", payload); err != nil {
		return Case{}, err
	}
	if err := enqueueOutbox(ctx, tx, "dispute.escalated", map[string]any{"dispute_id": disputeID}); err != nil {
		return Case{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Case{}, fmt.Errorf("dispute: commit escalate: %w", err)
	}
	return rec, nil
}

// AutoResolve records the score and binds the automated outcome. Both hops
// of scoring -> auto_resolved -> resolved commit atomically; at most one
// resolution ever succeeds for a case.
func (r *Repository) AutoResolve(ctx context.Context, disputeID string, score float64, outcome Outcome) (Case, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Case{}, fmt.Errorf("dispute: begin auto-resolve: %w", err)
	}
	defer tx.Rollback(ctx)

	const markSQL = `
		UPDATE dispute_cases
		SET status = 'auto_resolved', ai_score = $2, updated_at = now()
		WHERE id = $1 AND status = 'scoring' AND human_review_requested = FALSE
		RETURNING id`
	var id string
	if err := tx.QueryRow(ctx, markSQL, disputeID, score).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Case{}, r.transitionFailure(ctx, disputeID)
		}
		return Case{}, fmt.Errorf("dispute: mark auto-resolved: %w", err)
	}

	rec, err := r.resolveTx(ctx, tx, disputeID, StatusAutoResolved, outcome, "")
	if err != nil {
		return Case{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Case{}, fmt.Errorf("dispute: commit auto-resolve: %w", err)
	}
	return rec, nil
}

// Finalize applies an arbiter-supplied outcome to a case awaiting human
// review. A second finalize attempt fails with ErrCaseResolved, never a
// silent no-op.
func (r *Repository) Finalize(ctx context.Context, disputeID string, arbiter string, outcome Outcome) (Case, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Case{}, fmt.Errorf("dispute: begin finalize: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := r.resolveTx(ctx, tx, disputeID, StatusPendingHumanReview, outcome, arbiter)
	if err != nil {
		return Case{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Case{}, fmt.Errorf("dispute: commit finalize: %w", err)
	}
	return rec, nil
}

// SetHumanReviewFlag records an explicit manual-review request from a party
// or operator. The flag widens escalation and cannot be cleared.
func (r *Repository) SetHumanReviewFlag(ctx context.Context, disputeID, requestedBy string) (Case, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Case{}, fmt.Errorf("dispute: begin flag: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE dispute_cases
		SET human_review_requested = TRUE, updated_at = now()
		WHERE id = $1 AND resolved_at IS NULL
		RETURNING ` + caseColumns

	rec, err := scanCase(tx.QueryRow(ctx, query, disputeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Case{}, r.transitionFailure(ctx, disputeID)
		}
		return Case{}, fmt.Errorf("dispute: set review flag: %w", err)
	}

	if err := insertTimelineEvent(ctx, tx, disputeID, "HUMAN_REVIEW_REQUESTED", requestedBy, nil); err != nil {
		return Case{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Case{}, fmt.Errorf("dispute: commit flag: %w", err)
	}
	return rec, nil
}

// resolveTx performs the terminal transition inside the caller's
// transaction. The WHERE status guard is the compare-and-set that upholds
// the single-resolution invariant.
func (r *Repository) resolveTx(ctx context.Context, tx pgx.Tx, disputeID string, from Status, outcome Outcome, arbiter string) (Case, error) {
	query := `
		UPDATE dispute_cases
		SET status = 'resolved', resolution = $2, resolved_at = now(), updated_at = now()
		WHERE id = $1 AND status = $3
		RETURNING ` + caseColumns

	rec, err := scanCase(tx.QueryRow(ctx, query, disputeID, outcome, from))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Case{}, r.transitionFailure(ctx, disputeID)
		}
		return Case{}, fmt.Errorf("dispute: resolve: %w", err)
	}

	payload := map[string]any{"resolution": outcome}
	if rec.AIScore != nil {
		payload["ai_score"] = *rec.AIScore
	}
	if arbiter != "" {
		payload["arbiter"] = arbiter
	}
	if err := insertTimelineEvent(ctx, tx, disputeID, "DISPUTE_RESOLVED", arbiter, payload); err != nil {
		return Case{}, err
	}

	// The escrow ledger is notified of the financial effect, never driven
	// directly from here.
	if err := enqueueOutbox(ctx, tx, "dispute.resolved", map[string]any{
		"dispute_id":      disputeID,
		"transaction_ref": rec.TransactionRef,
		"resolution":      outcome,
	}); err != nil {
		return Case{}, err
	}

	return rec, nil
}

// transitionFailure diagnoses why a guarded update matched no rows and maps
// it to the domain error the caller should see.
func (r *Repository) transitionFailure(ctx context.Context, disputeID string) error {
	var status Status
	err := r.pool.QueryRow(ctx, `SELECT status::text FROM dispute_cases WHERE id = $1`, disputeID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("dispute: inspect status: %w", err)
	}
	if status == StatusResolved {
		return ErrCaseResolved
	}
	return ErrBadTransition
}

func (r *Repository) ensureExists(ctx context.Context, disputeID string) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM dispute_cases WHERE id = $1)`, disputeID).Scan(&exists); err != nil {
		return fmt.Errorf("dispute: check case: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) listCases(ctx context.Context, query string, args ...any) ([]Case, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("dispute: list cases: %w", err)
	}
	defer rows.Close()

	out := make([]Case, 0, 8)
	for rows.Next() {
		rec, err := scanCaseRow(rows)
		if err != nil {
			return nil, fmt.Errorf("dispute: scan case: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate cases: %w", err)
	}
	return out, nil
}

func (r *Repository) findEvidenceByHash(ctx context.Context, tx pgx.Tx, disputeID, hash string) (EvidenceRecord, error) {
	query := `SELECT ` + evidenceColumns + ` FROM dispute_evidence WHERE dispute_id = $1 AND content_hash = $2`
	return scanEvidence(tx.QueryRow(ctx, query, disputeID, hash))
}

func (r *Repository) findEvidenceByHashPool(ctx context.Context, disputeID, hash string) (EvidenceRecord, error) {
	query := `SELECT ` + evidenceColumns + ` FROM dispute_evidence WHERE dispute_id = $1 AND content_hash = $2`
	return scanEvidence(r.pool.QueryRow(ctx, query, disputeID, hash))
}

func scanCase(row pgx.Row) (Case, error) {
	return scanCaseRow(row)
}

func scanCaseRow(row pgx.Row) (Case, error) {
	var (
		rec        Case
		resolution *string
	)
	err := row.Scan(
		&rec.ID,
		&rec.TransactionRef,
		&rec.Complainant,
		&rec.Respondent,
		&rec.Reason,
		&rec.Status,
		&rec.AIScore,
		&rec.HumanReviewRequested,
		&resolution,
		&rec.ResolvedAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return Case{}, err
	}
	if resolution != nil {
		o := Outcome(*resolution)
		rec.Resolution = &o
	}
	return rec, nil
}

func scanEvidence(row pgx.Row) (EvidenceRecord, error) {
	return scanEvidenceRow(row)
}

func scanEvidenceRow(row pgx.Row) (EvidenceRecord, error) {
	var rec EvidenceRecord
	err := row.Scan(
		&rec.ID,
		&rec.DisputeID,
		&rec.Seq,
		&rec.Type,
		&rec.Description,
		&rec.ContentHash,
		&rec.URI,
		&rec.SubmittedBy,
		&rec.CreatedAt,
	)
	if err != nil {
		return EvidenceRecord{}, err
	}
	return rec, nil
}

func insertTimelineEvent(ctx context.Context, tx pgx.Tx, disputeID string, eventType string, actor string, payload map[string]any) error {
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("dispute: marshal timeline payload: %w", err)
	}
	var actorVal any
	if actor != "" {
		actorVal = actor
	}
	const q = `
		INSERT INTO timeline_events (dispute_id, seq, type, actor, payload)
		VALUES ($1, (SELECT COALESCE(MAX(seq), 0) + 1 FROM timeline_events WHERE dispute_id = $1), $2, $3, $4::jsonb)
	`
	if _, err := tx.Exec(ctx, q, disputeID, eventType, actorVal, body); err != nil {
		return fmt.Errorf("dispute: insert timeline event: %w", err)
	}
	return nil
}

func enqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("dispute: marshal outbox payload: %w", err)
	}
	const q = `INSERT INTO outbox (id, topic, payload) VALUES ($1, $2, $3::jsonb)`
	if _, err := tx.Exec(ctx, q, uuid.NewString(), topic, body); err != nil {
		return fmt.Errorf("dispute: enqueue outbox: %w", err)
	}
	return nil
}
