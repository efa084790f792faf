// Package actors holds the concurrent workloads for the arbitration stress
// harness. Each actor loops until stopped, driving the real repository and
// engine against a shared set of dispute cases.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"disputeflow/arbitration"
	"disputeflow/auth"
	"disputeflow/dispute"
)

// Workload carries the shared collaborators and the fixed claim set the
// actors contend over.
type Workload struct {
	Repo   *dispute.Repository
	Engine *arbitration.Engine

	TransactionRef string
	Complainant    string
	Respondent     string
	Reasons        []string
	DisputeIDs     []string
	Hashes         []string
}

func (w *Workload) randomID() string {
	return w.DisputeIDs[rand.Intn(len(w.DisputeIDs))]
}

// expected classifies errors that are legitimate outcomes under contention
// or chaos: domain refusals and dropped connections, never invariant
// violations.
func expected(err error) bool {
	if errors.Is(err, dispute.ErrCaseResolved) ||
		errors.Is(err, dispute.ErrBadTransition) ||
		errors.Is(err, dispute.ErrNotFound) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// admin_shutdown and crash_shutdown from the chaos backend killer
		return pgErr.Code == "57P01" || pgErr.Code == "57P02"
	}
	msg := err.Error()
	return strings.Contains(msg, "conn closed") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "unexpected EOF")
}

// Opener re-opens the same claim triples concurrently. Every open for an
// existing triple must converge on the same derived case.
func Opener(ctx context.Context, w *Workload, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		reason := w.Reasons[rand.Intn(len(w.Reasons))]
		_, err := w.Engine.OpenDispute(ctx, arbitration.OpenParams{
			TransactionRef: w.TransactionRef,
			Complainant:    w.Complainant,
			Respondent:     w.Respondent,
			Reason:         reason,
		})
		if err != nil && !expected(err) {
			return fmt.Errorf("opener: %w", err)
		}
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

// Submitter appends evidence with hashes drawn from a small pool so
// duplicates are frequent. Positions must stay contiguous regardless.
func Submitter(ctx context.Context, w *Workload, stop <-chan struct{}) error {
	types := []dispute.EvidenceType{dispute.EvidenceDocument, dispute.EvidenceScreenshot, dispute.EvidenceMessage}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		submitter := w.Complainant
		if rand.Intn(2) == 0 {
			submitter = w.Respondent
		}
		sub := dispute.Submission{
			Type:        types[rand.Intn(len(types))],
			Description: "stress artifact",
			ContentHash: w.Hashes[rand.Intn(len(w.Hashes))],
		}
		_, _, err := w.Repo.SubmitEvidence(ctx, w.randomID(), submitter, sub)
		if err != nil && !expected(err) {
			return fmt.Errorf("submitter: %w", err)
		}
		time.Sleep(time.Duration(15+rand.Intn(30)) * time.Millisecond)
	}
}

// Resolver requests automated resolution on random cases. Contending
// resolvers must never double-resolve a case.
func Resolver(ctx context.Context, w *Workload, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := w.Engine.RequestResolution(ctx, w.randomID())
		if err != nil && !expected(err) {
			return fmt.Errorf("resolver: %w", err)
		}
		time.Sleep(time.Duration(30+rand.Intn(60)) * time.Millisecond)
	}
}

// Reviewer raises the manual-review flag on random unresolved cases.
func Reviewer(ctx context.Context, w *Workload, stop <-chan struct{}) error {
	actor := arbitration.Actor{ID: "stress-reviewer", Address: w.Respondent}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := w.Engine.RequestHumanReview(ctx, w.randomID(), actor)
		if err != nil && !expected(err) {
			return fmt.Errorf("reviewer: %w", err)
		}
		time.Sleep(time.Duration(50+rand.Intn(100)) * time.Millisecond)
	}
}

// Arbiter finalizes cases from the human-review queue with random verdicts.
func Arbiter(ctx context.Context, w *Workload, stop <-chan struct{}) error {
	outcomes := []dispute.Outcome{
		dispute.OutcomeFavorComplainant,
		dispute.OutcomeFavorRespondent,
		dispute.OutcomeSplit,
		dispute.OutcomeDismissed,
	}
	actor := arbitration.Actor{ID: "stress-arbiter", Role: auth.RoleArbiter}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := w.Engine.Finalize(ctx, w.randomID(), actor, outcomes[rand.Intn(len(outcomes))])
		if err != nil && !expected(err) {
			return fmt.Errorf("arbiter: %w", err)
		}
		time.Sleep(time.Duration(40+rand.Intn(80)) * time.Millisecond)
	}
}

// OutboxWorker consumes pending outbox messages with SKIP LOCKED and marks
// them processed, occasionally simulating a delivery failure.
func OutboxWorker(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			if expected(err) {
				return nil
			}
			return err
		}
		rows, err := tx.Query(ctx, `SELECT id FROM outbox WHERE status='pending' ORDER BY created_at FOR UPDATE SKIP LOCKED LIMIT 10`)
		if err != nil {
			_ = tx.Rollback(ctx)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		ids := make([]string, 0, 10)
		for rows.Next() {
			var id string
			_ = rows.Scan(&id)
			ids = append(ids, id)
		}
		rows.Close()
		for _, id := range ids {
			if rand.Intn(10) == 0 {
				_, _ = tx.Exec(ctx, `UPDATE outbox SET attempts=attempts+1, last_attempt=NOW() WHERE id=$1`, id)
				continue
			}
			_, _ = tx.Exec(ctx, `UPDATE outbox SET status='processed', last_attempt=NOW() WHERE id=$1`, id)
		}
		_ = tx.Commit(ctx)
		time.Sleep(100 * time.Millisecond)
	}
}
