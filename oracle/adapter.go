// Package oracle wraps the external confidence-scoring function behind a
// retrying adapter. The scoring model itself is a boundary: callers plug in
// any Scorer and the adapter only guarantees bounded retries, a per-attempt
// timeout and a validated [0,1] result.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"disputeflow/dispute"
)

// ErrUnavailable signals the oracle could not produce a score within the
// retry budget. Callers may retry later; the arbitration engine instead
// routes the case to human review so it never becomes stuck.
var ErrUnavailable = errors.New("oracle: scoring unavailable")

// Scorer is the pluggable external scoring function. Implementations return
// the confidence that the complainant's position is correct, in [0,1].
type Scorer interface {
	Score(ctx context.Context, disputeID string, evidence []dispute.EvidenceRecord) (float64, error)
}

// ScorerFunc adapts a plain function to the Scorer interface.
type ScorerFunc func(ctx context.Context, disputeID string, evidence []dispute.EvidenceRecord) (float64, error)

func (f ScorerFunc) Score(ctx context.Context, disputeID string, evidence []dispute.EvidenceRecord) (float64, error) {
	return f(ctx, disputeID, evidence)
}

// Adapter retries transient scorer failures with exponential backoff.
type Adapter struct {
	scorer         Scorer
	attemptTimeout time.Duration
	maxElapsed     time.Duration
	maxRetries     uint64
}

// Option customises an Adapter.
type Option func(*Adapter)

// WithAttemptTimeout bounds each individual scorer call.
func WithAttemptTimeout(d time.Duration) Option {
	return func(a *Adapter) { a.attemptTimeout = d }
}

// WithMaxElapsed bounds the total time spent retrying.
func WithMaxElapsed(d time.Duration) Option {
	return func(a *Adapter) { a.maxElapsed = d }
}

// WithMaxRetries bounds the number of retries after the first attempt.
func WithMaxRetries(n uint64) Option {
	return func(a *Adapter) { a.maxRetries = n }
}

func NewAdapter(scorer Scorer, opts ...Option) *Adapter {
	a := &Adapter{
		scorer:         scorer,
		attemptTimeout: 5 * time.Second,
		maxElapsed:     30 * time.Second,
		maxRetries:     3,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Score invokes the scoring function with bounded backoff. After exhausting
// the retry budget it fails with ErrUnavailable. A score outside [0,1] is
// treated as an oracle fault, not stored or clamped.
func (a *Adapter) Score(ctx context.Context, disputeID string, evidence []dispute.EvidenceRecord) (float64, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxElapsedTime = a.maxElapsed

	var score float64
	operation := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, a.attemptTimeout)
		defer cancel()

		s, err := a.scorer.Score(attemptCtx, disputeID, evidence)
		if err != nil {
			return err
		}
		if s < 0 || s > 1 {
			return fmt.Errorf("score %v out of range", s)
		}
		score = s
		return nil
	}

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, a.maxRetries), ctx))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return score, nil
}
