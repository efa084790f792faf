package dispute

import "errors"

var (
	// ErrInvalidInput signals malformed input: addresses, content hashes,
	// enum values. The request will never succeed as given.
	ErrInvalidInput = errors.New("dispute: invalid input")
	// ErrNotFound signals an unknown dispute identifier.
	ErrNotFound = errors.New("dispute: not found")
	// ErrNotParty signals the actor is neither the complainant nor the
	// respondent of the dispute.
	ErrNotParty = errors.New("dispute: actor is not a party")
	// ErrCaseResolved signals a mutation attempted against a resolved case.
	// Resolved cases are permanently read-only.
	ErrCaseResolved = errors.New("dispute: case already resolved")
	// ErrBadTransition signals a state-machine transition that is not
	// permitted from the case's current status.
	ErrBadTransition = errors.New("dispute: invalid status transition")
)
