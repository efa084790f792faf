package dispute

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	addressMinLen = 32
	addressMaxLen = 44
	reasonMaxLen  = 200

	// base58 alphabet: excludes 0, O, I and l.
	base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"
)

// deriveDomain separates dispute identifiers from any other sha256 usage.
const deriveDomain = "disputeflow/dispute/v1"

// ValidAddress reports whether s is a well-formed domain address: a base58
// string between 32 and 44 characters. Malformed addresses are rejected
// before any derivation or lookup.
func ValidAddress(s string) bool {
	if len(s) < addressMinLen || len(s) > addressMaxLen {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune(base58Alphabet, r) {
			return false
		}
	}
	return true
}

// ValidContentHash reports whether s looks like a content-addressed
// reference: 64 lowercase hex characters. No particular hash algorithm is
// mandated, only the shape.
func ValidContentHash(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

// ValidDisputeID reports whether s has the shape of a derived dispute
// identifier: the 64-hex encoding produced by DeriveID.
func ValidDisputeID(s string) bool {
	return ValidContentHash(s)
}

// DeriveID computes the stable identifier for a dispute from its defining
// triple. It is a pure function: identical inputs always yield the identical
// id, and no central allocator is involved. A different reason string yields
// a disjoint dispute, never an error; disputes are content-addressed by
// their claim.
func DeriveID(transactionRef, complainant, reason string) (string, error) {
	if !ValidAddress(transactionRef) {
		return "", fmt.Errorf("%w: malformed transaction ref", ErrInvalidInput)
	}
	if !ValidAddress(complainant) {
		return "", fmt.Errorf("%w: malformed complainant address", ErrInvalidInput)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" || len(reason) > reasonMaxLen {
		return "", fmt.Errorf("%w: reason must be 1-%d characters", ErrInvalidInput, reasonMaxLen)
	}

	h := sha256.New()
	h.Write([]byte(deriveDomain))
	for _, part := range []string{transactionRef, complainant, reason} {
		// Length-prefix each component so ("ab","c") and ("a","bc") can
		// never collide.
		fmt.Fprintf(h, "|%d:", len(part))
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
