package dispute

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TestRepository_Integration connects to a real PostgreSQL via DATABASE_URL
// and verifies the case lifecycle end to end: idempotent creation, the
// evidence ledger, the confidence transitions and post-resolution
// immutability.
func TestRepository_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	for _, table := range []string{"dispute_cases", "dispute_evidence", "timeline_events", "outbox"} {
		if !tableExists(ctx, t, pool, table) {
			t.Skipf("table %s missing; apply migrations first", table)
		}
	}

	reason := fmt.Sprintf("order never delivered %d", time.Now().UnixNano())
	disputeID, err := DeriveID(testTxRefIntegration, testComplainant, reason)
	if err != nil {
		t.Fatalf("derive id: %v", err)
	}

	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		pool.Exec(ctx2, `DELETE FROM timeline_events WHERE dispute_id = $1`, disputeID)
		pool.Exec(ctx2, `DELETE FROM outbox WHERE payload->>'dispute_id' = $1`, disputeID)
		pool.Exec(ctx2, `DELETE FROM dispute_evidence WHERE dispute_id = $1`, disputeID)
		pool.Exec(ctx2, `DELETE FROM dispute_cases WHERE id = $1`, disputeID)
	})

	repo := NewRepository(pool)
	params := CreateParams{
		ID:             disputeID,
		TransactionRef: testTxRefIntegration,
		Complainant:    testComplainant,
		Respondent:     testRespondent,
		Reason:         reason,
	}

	rec, created, err := repo.CreateCase(ctx, params)
	if err != nil {
		t.Fatalf("create case: %v", err)
	}
	if !created {
		t.Fatal("expected first create to report created")
	}
	if rec.Status != StatusEvidenceCollection {
		t.Fatalf("new case status = %s", rec.Status)
	}

	// Replaying the identical triple must return the existing case.
	again, created, err := repo.CreateCase(ctx, params)
	if err != nil {
		t.Fatalf("create case (replay): %v", err)
	}
	if created || again.ID != rec.ID {
		t.Fatalf("replay minted a new case: created=%v id=%s", created, again.ID)
	}

	// Evidence: a duplicate content hash is absorbed without a new position.
	sub := Submission{Type: EvidenceDocument, Description: "signed invoice", ContentHash: testHash}
	first, appended, err := repo.SubmitEvidence(ctx, disputeID, testComplainant, sub)
	if err != nil {
		t.Fatalf("submit evidence: %v", err)
	}
	if !appended || first.Seq != 1 {
		t.Fatalf("first submission: appended=%v seq=%d", appended, first.Seq)
	}
	dup, appended, err := repo.SubmitEvidence(ctx, disputeID, testRespondent, sub)
	if err != nil {
		t.Fatalf("submit duplicate: %v", err)
	}
	if appended || dup.ID != first.ID {
		t.Fatalf("duplicate was not absorbed: appended=%v id=%s", appended, dup.ID)
	}

	second := Submission{Type: EvidenceScreenshot, Description: "chat log", ContentHash: altContentHash}
	secondRec, appended, err := repo.SubmitEvidence(ctx, disputeID, testRespondent, second)
	if err != nil {
		t.Fatalf("submit second: %v", err)
	}
	if !appended || secondRec.Seq != 2 {
		t.Fatalf("second submission: appended=%v seq=%d", appended, secondRec.Seq)
	}

	count, err := repo.EvidenceCount(ctx, disputeID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("evidence count = %d, want 2", count)
	}

	// Transition to resolved through the automated path.
	if _, err := repo.BeginScoring(ctx, disputeID); err != nil {
		t.Fatalf("begin scoring: %v", err)
	}
	resolved, err := repo.AutoResolve(ctx, disputeID, 0.91, OutcomeFavorComplainant)
	if err != nil {
		t.Fatalf("auto resolve: %v", err)
	}
	if resolved.Status != StatusResolved || resolved.Resolution == nil || *resolved.Resolution != OutcomeFavorComplainant {
		t.Fatalf("resolved case = %+v", resolved)
	}
	if resolved.ResolvedAt == nil {
		t.Fatal("resolved case missing resolved_at")
	}

	// Terminal state is immutable.
	if _, err := repo.AutoResolve(ctx, disputeID, 0.99, OutcomeFavorComplainant); !errors.Is(err, ErrCaseResolved) {
		t.Fatalf("second auto resolve: got %v, want ErrCaseResolved", err)
	}
	if _, _, err := repo.SubmitEvidence(ctx, disputeID, testComplainant, second); !errors.Is(err, ErrCaseResolved) {
		t.Fatalf("evidence after resolution: got %v, want ErrCaseResolved", err)
	}
	if _, err := repo.SetHumanReviewFlag(ctx, disputeID, testRespondent); !errors.Is(err, ErrCaseResolved) {
		t.Fatalf("flag after resolution: got %v, want ErrCaseResolved", err)
	}

	// Timeline carries a contiguous audit trail for the case.
	var evCount, maxSeq int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*), MAX(seq) FROM timeline_events WHERE dispute_id = $1`, disputeID).Scan(&evCount, &maxSeq); err != nil {
		t.Fatalf("verify timeline: %v", err)
	}
	if evCount == 0 || evCount != maxSeq {
		t.Fatalf("timeline not contiguous: count=%d max_seq=%d", evCount, maxSeq)
	}

	var outCount int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE topic = 'dispute.resolved' AND payload->>'dispute_id' = $1`, disputeID).Scan(&outCount); err != nil {
		t.Fatalf("verify outbox: %v", err)
	}
	if outCount != 1 {
		t.Fatalf("expected 1 dispute.resolved outbox message, got %d", outCount)
	}
}

var (
	testTxRefIntegration = "3xJ8mK9vQpLnRtYwZaBcDeFgHiJkMnPqRsTuVwXyZ123"
	altContentHash       = "9f2c6e1a7b3d5048c2e4a6b8d0f1325476980aabbccddeeff00112233445566a"
)

func tableExists(ctx context.Context, t *testing.T, pool *pgxpool.Pool, name string) bool {
	t.Helper()
	var exists bool
	err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)`, name).Scan(&exists)
	if err != nil {
		t.Fatalf("check table %s: %v", name, err)
	}
	return exists
}
