package dispute

import (
	"context"
	"fmt"
	"strings"
)

// Store abstracts the repository for the service so handlers and tests can
// substitute fakes.
type Store interface {
	GetCase(ctx context.Context, disputeID string) (Case, error)
	GetDetail(ctx context.Context, disputeID string) (CaseDetail, error)
	SubmitEvidence(ctx context.Context, disputeID, submitter string, sub Submission) (EvidenceRecord, bool, error)
	EvidenceCount(ctx context.Context, disputeID string) (int, error)
	ListEvidence(ctx context.Context, disputeID string) ([]EvidenceRecord, error)
	ByComplainant(ctx context.Context, address string) ([]Case, error)
	ByRespondent(ctx context.Context, address string) ([]Case, error)
	Pending(ctx context.Context) ([]Case, error)
}

// Service exposes the evidence ledger and case index operations.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// Get returns the full case, or ErrNotFound.
func (s *Service) Get(ctx context.Context, disputeID string) (CaseDetail, error) {
	if !ValidDisputeID(disputeID) {
		return CaseDetail{}, fmt.Errorf("%w: malformed dispute id", ErrInvalidInput)
	}
	return s.store.GetDetail(ctx, disputeID)
}

// SubmitEvidence validates and appends an evidence submission on behalf of a
// party. Duplicate content hashes are idempotent: the existing record comes
// back and the ledger count is unchanged.
func (s *Service) SubmitEvidence(ctx context.Context, disputeID, submitter string, sub Submission) (EvidenceRecord, error) {
	if !ValidDisputeID(disputeID) {
		return EvidenceRecord{}, fmt.Errorf("%w: malformed dispute id", ErrInvalidInput)
	}
	if !ValidAddress(submitter) {
		return EvidenceRecord{}, fmt.Errorf("%w: malformed submitter address", ErrInvalidInput)
	}
	if !ValidEvidenceType(sub.Type) {
		return EvidenceRecord{}, fmt.Errorf("%w: unrecognized evidence type %q", ErrInvalidInput, sub.Type)
	}
	if !ValidContentHash(sub.ContentHash) {
		return EvidenceRecord{}, fmt.Errorf("%w: malformed content hash", ErrInvalidInput)
	}
	sub.Description = strings.TrimSpace(sub.Description)

	rec, _, err := s.store.SubmitEvidence(ctx, disputeID, submitter, sub)
	return rec, err
}

// Count returns the number of distinct evidence records on the dispute.
func (s *Service) Count(ctx context.Context, disputeID string) (int, error) {
	if !ValidDisputeID(disputeID) {
		return 0, fmt.Errorf("%w: malformed dispute id", ErrInvalidInput)
	}
	return s.store.EvidenceCount(ctx, disputeID)
}

// ListEvidence returns the dispute's evidence in append order.
func (s *Service) ListEvidence(ctx context.Context, disputeID string) ([]EvidenceRecord, error) {
	if !ValidDisputeID(disputeID) {
		return nil, fmt.Errorf("%w: malformed dispute id", ErrInvalidInput)
	}
	return s.store.ListEvidence(ctx, disputeID)
}

// ByComplainant returns cases opened by the address, in creation order.
func (s *Service) ByComplainant(ctx context.Context, address string) ([]Case, error) {
	if !ValidAddress(address) {
		return nil, fmt.Errorf("%w: malformed complainant address", ErrInvalidInput)
	}
	return s.store.ByComplainant(ctx, address)
}

// ByRespondent returns cases naming the address as respondent, in creation
// order.
func (s *Service) ByRespondent(ctx context.Context, address string) ([]Case, error) {
	if !ValidAddress(address) {
		return nil, fmt.Errorf("%w: malformed respondent address", ErrInvalidInput)
	}
	return s.store.ByRespondent(ctx, address)
}

// Pending returns all unresolved cases, in creation order.
func (s *Service) Pending(ctx context.Context) ([]Case, error) {
	return s.store.Pending(ctx)
}
