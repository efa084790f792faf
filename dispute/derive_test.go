package dispute

import (
	"errors"
	"math/rand"
	"strings"
	"testing"
)

const testAlphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

func randomAddress(rng *rand.Rand) string {
	n := 32 + rng.Intn(13)
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteByte(testAlphabet[rng.Intn(len(testAlphabet))])
	}
	return b.String()
}

func TestDeriveID_Deterministic(t *testing.T) {
	txRef := "3xJ8mK9vQpLnRtYwZaBcDeFgHiJkMnPqRsTuVwXyZ123"
	complainant := "9aBcDeFgHiJkMnPqRsTuVwXyZ123456789AbCdEfGhij"

	first, err := DeriveID(txRef, complainant, "goods not delivered")
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	second, err := DeriveID(txRef, complainant, "goods not delivered")
	if err != nil {
		t.Fatalf("derive again: %v", err)
	}
	if first != second {
		t.Fatalf("expected identical ids, got %s and %s", first, second)
	}
	if !ValidDisputeID(first) {
		t.Fatalf("derived id %q does not have the expected shape", first)
	}
}

func TestDeriveID_DistinctInputsDistinctIDs(t *testing.T) {
	txRef := "3xJ8mK9vQpLnRtYwZaBcDeFgHiJkMnPqRsTuVwXyZ123"
	complainant := "9aBcDeFgHiJkMnPqRsTuVwXyZ123456789AbCdEfGhij"

	base, err := DeriveID(txRef, complainant, "goods not delivered")
	if err != nil {
		t.Fatalf("derive: %v", err)
	}

	// A typo in the reason yields a disjoint dispute, not an error.
	other, err := DeriveID(txRef, complainant, "goods not deliverd")
	if err != nil {
		t.Fatalf("derive typo: %v", err)
	}
	if base == other {
		t.Fatal("expected different reasons to derive different ids")
	}
}

func TestDeriveID_NoCollisionsOverSample(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	seen := make(map[string]string, 5000)

	for i := 0; i < 5000; i++ {
		txRef := randomAddress(rng)
		complainant := randomAddress(rng)
		reason := randomAddress(rng) // arbitrary short text is fine
		id, err := DeriveID(txRef, complainant, reason)
		if err != nil {
			t.Fatalf("derive sample %d: %v", i, err)
		}
		key := txRef + "|" + complainant + "|" + reason
		if prev, dup := seen[id]; dup && prev != key {
			t.Fatalf("collision: %q and %q both derive %s", prev, key, id)
		}
		seen[id] = key
	}
}

func TestDeriveID_LengthPrefixingPreventsBoundaryCollisions(t *testing.T) {
	// The same concatenated bytes split differently across components must
	// not collide.
	a1 := strings.Repeat("a", 32) + "b"
	a2 := strings.Repeat("a", 33)
	c := strings.Repeat("c", 32)

	id1, err := DeriveID(a1, c, "x")
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	id2, err := DeriveID(a2, c, "x")
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if id1 == id2 {
		t.Fatal("expected boundary-shifted inputs to derive different ids")
	}
}

func TestDeriveID_RejectsMalformedInputs(t *testing.T) {
	valid := "3xJ8mK9vQpLnRtYwZaBcDeFgHiJkMnPqRsTuVwXyZ123"

	cases := []struct {
		name        string
		txRef       string
		complainant string
		reason      string
	}{
		{"short tx ref", "abc", valid, "reason"},
		{"tx ref with excluded chars", strings.Repeat("0", 40), valid, "reason"},
		{"long complainant", valid, strings.Repeat("a", 45), "reason"},
		{"empty reason", valid, valid, ""},
		{"blank reason", valid, valid, "   "},
		{"oversized reason", valid, valid, strings.Repeat("r", 201)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DeriveID(tc.txRef, tc.complainant, tc.reason); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestValidContentHash(t *testing.T) {
	if !ValidContentHash(strings.Repeat("ab", 32)) {
		t.Fatal("expected 64-hex string to be valid")
	}
	if ValidContentHash(strings.Repeat("AB", 32)) {
		t.Fatal("uppercase hex should be rejected")
	}
	if ValidContentHash("abc") {
		t.Fatal("short hash should be rejected")
	}
	if ValidContentHash(strings.Repeat("g", 64)) {
		t.Fatal("non-hex characters should be rejected")
	}
}
