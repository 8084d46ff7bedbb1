package ledger

import (
	"testing"
)

func TestDeriveAddress_Deterministic(t *testing.T) {
	a := DeriveAddress(makeSigner(1), 42)
	b := DeriveAddress(makeSigner(1), 42)

	if a != b {
		t.Error("same authority and seed derived different addresses")
	}
}

func TestDeriveAddress_Distinct(t *testing.T) {
	base := DeriveAddress(makeSigner(1), 42)

	if DeriveAddress(makeSigner(2), 42) == base {
		t.Error("different authorities derived the same address")
	}
	if DeriveAddress(makeSigner(1), 43) == base {
		t.Error("different seeds derived the same address")
	}
}

func TestParseAddress_RoundTrip(t *testing.T) {
	a := DeriveAddress(makeSigner(1), 7)

	parsed, err := ParseAddress(a.String())
	if err != nil {
		t.Fatalf("failed to parse address: %v", err)
	}

	if parsed != a {
		t.Error("parsed address does not match original")
	}
}

func TestParseAddress_Invalid(t *testing.T) {
	if _, err := ParseAddress("zz"); err == nil {
		t.Error("expected error for non-hex input")
	}
	if _, err := ParseAddress("abcd"); err == nil {
		t.Error("expected error for short input")
	}
}
