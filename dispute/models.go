package dispute

import (
	"math"
	"time"
)

// Status represents the lifecycle of a dispute case.
type Status string

const (
	StatusOpen               Status = "open"
	StatusEvidenceCollection Status = "evidence_collection"
	StatusScoring            Status = "scoring"
	StatusAutoResolved       Status = "auto_resolved"
	StatusPendingHumanReview Status = "pending_human_review"
	StatusResolved           Status = "resolved"
)

// Outcome is the terminal decision recorded on a resolved case.
type Outcome string

const (
	OutcomeFavorComplainant Outcome = "favor_complainant"
	OutcomeFavorRespondent  Outcome = "favor_respondent"
	OutcomeSplit            Outcome = "split"
	OutcomeDismissed        Outcome = "dismissed"
)

// EvidenceType classifies a submitted artifact.
type EvidenceType string

const (
	EvidenceDocument   EvidenceType = "document"
	EvidenceScreenshot EvidenceType = "screenshot"
	EvidenceMessage    EvidenceType = "message"
	EvidenceOther      EvidenceType = "other"
)

// HumanReviewThreshold is the confidence floor below which a case always
// escalates to manual arbitration.
const HumanReviewThreshold = 0.70

// AutoResolveFloor is the confidence floor at which the engine may bind an
// outcome without human involvement. Scores in
// [HumanReviewThreshold, AutoResolveFloor) escalate as ambiguous.
const AutoResolveFloor = 0.85

// AutoResolveRespondentCeiling is the symmetric low band of the outcome
// mapping. It can never fire on the automated path because any score below
// HumanReviewThreshold already escalates; it exists so the mapping is total.
const AutoResolveRespondentCeiling = 0.15

// Case mirrors the dispute_cases table. The identifier is derived from
// (transaction ref, complainant, reason) rather than issued by the database.
type Case struct {
	ID                   string
	TransactionRef       string
	Complainant          string
	Respondent           string
	Reason               string
	Status               Status
	AIScore              *float64
	HumanReviewRequested bool
	Resolution           *Outcome
	ResolvedAt           *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Resolved reports whether the case has reached its terminal state.
func (c Case) Resolved() bool {
	return c.ResolvedAt != nil
}

// RequiresHumanReview reports whether the case must go through manual
// arbitration: an explicit request, or a confidence score below the
// threshold. The explicit flag widens escalation but never narrows it.
func (c Case) RequiresHumanReview() bool {
	if c.AIScore == nil {
		return c.HumanReviewRequested
	}
	return c.HumanReviewRequested || *c.AIScore < HumanReviewThreshold
}

// ConfidencePercent maps the confidence score to a rounded 0-100 value for
// presentation. Cases without a score report zero.
func (c Case) ConfidencePercent() int {
	if c.AIScore == nil {
		return 0
	}
	return int(math.Round(*c.AIScore * 100))
}

// Submission is the caller-supplied portion of an evidence record.
type Submission struct {
	Type        EvidenceType
	Description string
	ContentHash string
	URI         *string
}

// EvidenceRecord is a stored, positioned evidence submission. Seq is the
// 1-based append position within the dispute and never changes.
type EvidenceRecord struct {
	ID          string
	DisputeID   string
	Seq         int
	Type        EvidenceType
	Description string
	ContentHash string
	URI         *string
	SubmittedBy string
	CreatedAt   time.Time
}

// CaseDetail bundles a case with its ordered evidence for read paths.
type CaseDetail struct {
	Case     Case
	Evidence []EvidenceRecord
}

// OutcomeForScore maps a confidence score to the automated outcome band.
// The empty outcome means the score is not decisive enough for automated
// resolution. In practice only the high band is reachable: the low band is
// shadowed by the human-review threshold.
func OutcomeForScore(score float64) Outcome {
	switch {
	case score >= AutoResolveFloor:
		return OutcomeFavorComplainant
	case score <= AutoResolveRespondentCeiling:
		return OutcomeFavorRespondent
	default:
		return ""
	}
}

// ValidEvidenceType reports whether t is one of the recognised evidence
// classifications.
func ValidEvidenceType(t EvidenceType) bool {
	switch t {
	case EvidenceDocument, EvidenceScreenshot, EvidenceMessage, EvidenceOther:
		return true
	default:
		return false
	}
}

// ValidOutcome reports whether o is a recognised terminal outcome.
func ValidOutcome(o Outcome) bool {
	switch o {
	case OutcomeFavorComplainant, OutcomeFavorRespondent, OutcomeSplit, OutcomeDismissed:
		return true
	default:
		return false
	}
}
