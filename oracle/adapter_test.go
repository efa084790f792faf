package oracle

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"disputeflow/dispute"
)

var testDisputeID = strings.Repeat("ab", 32)

func TestAdapter_RetriesTransientFailures(t *testing.T) {
	calls := 0
	scorer := ScorerFunc(func(ctx context.Context, disputeID string, evidence []dispute.EvidenceRecord) (float64, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("connection reset")
		}
		return 0.9, nil
	})

	adapter := NewAdapter(scorer, WithMaxRetries(5))
	score, err := adapter.Score(context.Background(), testDisputeID, nil)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if score != 0.9 {
		t.Fatalf("score = %v, want 0.9", score)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestAdapter_ExhaustionIsUnavailable(t *testing.T) {
	calls := 0
	scorer := ScorerFunc(func(ctx context.Context, disputeID string, evidence []dispute.EvidenceRecord) (float64, error) {
		calls++
		return 0, errors.New("model overloaded")
	})

	adapter := NewAdapter(scorer, WithMaxRetries(2))
	_, err := adapter.Score(context.Background(), testDisputeID, nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("got %v, want ErrUnavailable", err)
	}
	if calls != 3 {
		t.Fatalf("expected initial attempt plus 2 retries, got %d calls", calls)
	}
}

func TestAdapter_OutOfRangeScoreIsAFault(t *testing.T) {
	scorer := ScorerFunc(func(ctx context.Context, disputeID string, evidence []dispute.EvidenceRecord) (float64, error) {
		return 1.7, nil
	})

	adapter := NewAdapter(scorer, WithMaxRetries(1))
	_, err := adapter.Score(context.Background(), testDisputeID, nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("got %v, want ErrUnavailable for out-of-range score", err)
	}
}

func TestAdapter_BoundaryScoresAccepted(t *testing.T) {
	for _, want := range []float64{0, 1} {
		scorer := ScorerFunc(func(ctx context.Context, disputeID string, evidence []dispute.EvidenceRecord) (float64, error) {
			return want, nil
		})
		got, err := NewAdapter(scorer).Score(context.Background(), testDisputeID, nil)
		if err != nil {
			t.Fatalf("score %v: %v", want, err)
		}
		if got != want {
			t.Fatalf("score = %v, want %v", got, want)
		}
	}
}

func TestAdapter_ContextCancellationStopsRetrying(t *testing.T) {
	scorer := ScorerFunc(func(ctx context.Context, disputeID string, evidence []dispute.EvidenceRecord) (float64, error) {
		return 0, errors.New("still down")
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	adapter := NewAdapter(scorer, WithMaxRetries(10), WithMaxElapsed(time.Minute))
	start := time.Now()
	_, err := adapter.Score(ctx, testDisputeID, nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("got %v, want ErrUnavailable", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("cancelled score took %v, expected an immediate stop", elapsed)
	}
}
