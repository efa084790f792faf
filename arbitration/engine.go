// Package arbitration drives the dispute state machine: case opening,
// confidence-gated resolution routing, and terminal outcomes. Only
// unambiguous automated signals bind a financial outcome; everything else is
// escalated to a human arbiter.
package arbitration

import (
	"context"
	"errors"
	"fmt"

	"disputeflow/auth"
	"disputeflow/dispute"
	"disputeflow/escrow"
	"disputeflow/oracle"
)

// ErrNotArbiter signals the actor lacks the role required to finalize a
// dispute.
var ErrNotArbiter = errors.New("arbitration: actor is not an authorized arbiter")

// Store is the subset of the dispute repository the engine mutates through.
// Every transition method is a compare-and-set: it fails rather than
// silently no-ops when the case is not in the expected state.
type Store interface {
	CreateCase(ctx context.Context, params dispute.CreateParams) (dispute.Case, bool, error)
	GetCase(ctx context.Context, disputeID string) (dispute.Case, error)
	ListEvidence(ctx context.Context, disputeID string) ([]dispute.EvidenceRecord, error)
	BeginScoring(ctx context.Context, disputeID string) (dispute.Case, error)
	RouteHumanReview(ctx context.Context, disputeID string, score *float64) (dispute.Case, error)
	AutoResolve(ctx context.Context, disputeID string, score float64, outcome dispute.Outcome) (dispute.Case, error)
	Finalize(ctx context.Context, disputeID string, arbiter string, outcome dispute.Outcome) (dispute.Case, error)
	SetHumanReviewFlag(ctx context.Context, disputeID, requestedBy string) (dispute.Case, error)
}

// ConfidenceScorer produces a [0,1] confidence that the complainant's
// position is correct. The production implementation is oracle.Adapter.
type ConfidenceScorer interface {
	Score(ctx context.Context, disputeID string, evidence []dispute.EvidenceRecord) (float64, error)
}

// Actor identifies the authenticated principal driving a transition.
type Actor struct {
	ID      string
	Address string
	Role    auth.Role
}

// Engine is the arbitration state machine service.
type Engine struct {
	store  Store
	scorer ConfidenceScorer
	ledger escrow.Ledger
}

func NewEngine(store Store, scorer ConfidenceScorer, ledger escrow.Ledger) *Engine {
	return &Engine{store: store, scorer: scorer, ledger: ledger}
}

// OpenParams enumerates the inputs to open a dispute.
type OpenParams struct {
	TransactionRef string
	Complainant    string
	Respondent     string
	Reason         string
}

// OpenDispute verifies the transaction is contested, derives the case
// identifier and creates the case in evidence collection. Opening the same
// (transaction, complainant, reason) triple again returns the existing case.
func (e *Engine) OpenDispute(ctx context.Context, params OpenParams) (dispute.Case, error) {
	if !dispute.ValidAddress(params.Respondent) {
		return dispute.Case{}, fmt.Errorf("%w: malformed respondent address", dispute.ErrInvalidInput)
	}
	if params.Complainant == params.Respondent {
		return dispute.Case{}, fmt.Errorf("%w: complainant and respondent must differ", dispute.ErrInvalidInput)
	}

	id, err := dispute.DeriveID(params.TransactionRef, params.Complainant, params.Reason)
	if err != nil {
		return dispute.Case{}, err
	}

	if err := e.ledger.Disputable(ctx, params.TransactionRef); err != nil {
		return dispute.Case{}, err
	}

	rec, created, err := e.store.CreateCase(ctx, dispute.CreateParams{
		ID:             id,
		TransactionRef: params.TransactionRef,
		Complainant:    params.Complainant,
		Respondent:     params.Respondent,
		Reason:         params.Reason,
	})
	if err != nil {
		return dispute.Case{}, err
	}
	if !created && rec.Respondent != params.Respondent {
		// Same claim triple, different respondent: the id is content-
		// addressed by the claim, so this is a caller mistake.
		return dispute.Case{}, fmt.Errorf("%w: dispute %s names a different respondent", dispute.ErrInvalidInput, id)
	}
	return rec, nil
}

// RequestResolution moves the case into scoring and routes it based on the
// oracle's confidence. There is no implicit timer; this on-demand call is
// the only trigger. A transient oracle failure routes the case to human
// review rather than leaving it stuck.
func (e *Engine) RequestResolution(ctx context.Context, disputeID string) (dispute.Case, error) {
	if !dispute.ValidDisputeID(disputeID) {
		return dispute.Case{}, fmt.Errorf("%w: malformed dispute id", dispute.ErrInvalidInput)
	}

	rec, err := e.store.BeginScoring(ctx, disputeID)
	if err != nil {
		return dispute.Case{}, err
	}

	evidence, err := e.store.ListEvidence(ctx, disputeID)
	if err != nil {
		return dispute.Case{}, err
	}

	score, err := e.scorer.Score(ctx, disputeID, evidence)
	if err != nil {
		if errors.Is(err, oracle.ErrUnavailable) {
			return e.store.RouteHumanReview(ctx, disputeID, nil)
		}
		return dispute.Case{}, err
	}

	outcome := dispute.OutcomeForScore(score)
	autoResolvable := score >= dispute.AutoResolveFloor && !rec.HumanReviewRequested && outcome != ""
	if !autoResolvable {
		return e.store.RouteHumanReview(ctx, disputeID, &score)
	}

	resolved, err := e.store.AutoResolve(ctx, disputeID, score, outcome)
	if err != nil {
		if errors.Is(err, dispute.ErrBadTransition) {
			// A review request landed between scoring and resolution; the
			// flag only ever widens escalation.
			return e.store.RouteHumanReview(ctx, disputeID, &score)
		}
		return dispute.Case{}, err
	}
	return resolved, nil
}

// RequestHumanReview records an explicit manual-review request. It widens
// escalation and cannot be undone.
func (e *Engine) RequestHumanReview(ctx context.Context, disputeID string, actor Actor) (dispute.Case, error) {
	if !dispute.ValidDisputeID(disputeID) {
		return dispute.Case{}, fmt.Errorf("%w: malformed dispute id", dispute.ErrInvalidInput)
	}
	return e.store.SetHumanReviewFlag(ctx, disputeID, actor.Address)
}

// Finalize applies an arbiter-supplied outcome to a case in the human-review
// queue. This is the only path producing split or dismissed outcomes.
func (e *Engine) Finalize(ctx context.Context, disputeID string, actor Actor, outcome dispute.Outcome) (dispute.Case, error) {
	if actor.Role != auth.RoleArbiter && actor.Role != auth.RoleAdmin {
		return dispute.Case{}, ErrNotArbiter
	}
	if !dispute.ValidDisputeID(disputeID) {
		return dispute.Case{}, fmt.Errorf("%w: malformed dispute id", dispute.ErrInvalidInput)
	}
	if !dispute.ValidOutcome(outcome) {
		return dispute.Case{}, fmt.Errorf("%w: unrecognized outcome %q", dispute.ErrInvalidInput, outcome)
	}
	return e.store.Finalize(ctx, disputeID, actor.ID, outcome)
}
