package client

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"strings"
	"testing"

	"SigLedger/internal/sigcodec"
)

// uniformClaims signs the same message under n distinct keys.
func uniformClaims(t *testing.T, n int, msg []byte) []sigcodec.Claim {
	t.Helper()

	claims := make([]sigcodec.Claim, n)
	for i := range claims {
		priv := testKey(t, byte(i))
		claims[i].PublicKey = pubkeyOf(priv)
		claims[i].Message = msg
		copy(claims[i].Signature[:], ed25519.Sign(priv, msg))
	}

	return claims
}

func TestPlan_SingleBatch(t *testing.T) {
	claims := signedClaims(t, 5)

	batches, err := Plan(claims, callSize(t, claims))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	if len(batches) != 1 {
		t.Fatalf("plan has %d batches, want 1", len(batches))
	}
	if batches[0].Start != 0 || batches[0].End() != 5 {
		t.Errorf("batch spans [%d, %d), want [0, 5)", batches[0].Start, batches[0].End())
	}
}

func TestPlan_RespectsBudget(t *testing.T) {
	claims := signedClaims(t, 10)
	budget := callSize(t, claims[:3])

	batches, err := Plan(claims, budget)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(batches) < 2 {
		t.Fatalf("plan has %d batches, want a split", len(batches))
	}

	next := uint32(0)
	var rejoined []sigcodec.Claim

	for i, b := range batches {
		if b.Start != next {
			t.Fatalf("batch %d starts at %d, want %d", i, b.Start, next)
		}
		next = b.End()

		if len(b.Claims) == 0 {
			t.Fatalf("batch %d is empty", i)
		}
		if size := callSize(t, b.Claims); size > budget {
			t.Errorf("batch %d encodes to %d bytes over the %d budget", i, size, budget)
		}

		// Every batch but the last is maximal: one more claim would
		// overflow the budget.
		if i < len(batches)-1 {
			size, err := sigcodec.CallSize(claims[b.Start : b.End()+1])
			if err == nil && size <= budget {
				t.Errorf("batch %d left room for claim %d", i, b.End())
			}
		}

		rejoined = append(rejoined, b.Claims...)
	}

	if next != uint32(len(claims)) {
		t.Fatalf("plan covers %d claims, want %d", next, len(claims))
	}
	for i := range claims {
		if rejoined[i].PublicKey != claims[i].PublicKey || !bytes.Equal(rejoined[i].Message, claims[i].Message) {
			t.Fatalf("claim %d changed identity across the plan", i)
		}
	}
}

func TestPlan_EntryCapPerBatch(t *testing.T) {
	claims := uniformClaims(t, sigcodec.MaxCallEntries+1, []byte("cap"))

	batches, err := Plan(claims, 32<<10)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	if len(batches) != 2 {
		t.Fatalf("plan has %d batches, want 2", len(batches))
	}
	if len(batches[0].Claims) != sigcodec.MaxCallEntries {
		t.Errorf("first batch holds %d claims, want %d", len(batches[0].Claims), sigcodec.MaxCallEntries)
	}
	if len(batches[1].Claims) != 1 {
		t.Errorf("second batch holds %d claims, want 1", len(batches[1].Claims))
	}
}

func TestPlan_OversizedClaim(t *testing.T) {
	claims := signedClaims(t, 3)
	claims[2].Message = bytes.Repeat([]byte{'m'}, 2000)

	_, err := Plan(claims, 500)
	if !errors.Is(err, sigcodec.ErrPayloadTooLarge) {
		t.Fatalf("error = %v, want %v", err, sigcodec.ErrPayloadTooLarge)
	}
	if !strings.Contains(err.Error(), "claim 2") {
		t.Errorf("error = %v, want the offending claim named", err)
	}
}

func TestPlan_SharedKeyShrinksBatches(t *testing.T) {
	privA := testKey(t, 0x30)
	privB := testKey(t, 0x31)

	sign := func(priv ed25519.PrivateKey, msg string) sigcodec.Claim {
		c := sigcodec.Claim{PublicKey: pubkeyOf(priv), Message: []byte(msg)}
		copy(c.Signature[:], ed25519.Sign(priv, c.Message))
		return c
	}

	shared := []sigcodec.Claim{sign(privA, "left"), sign(privA, "right")}
	distinct := []sigcodec.Claim{sign(privA, "left"), sign(privB, "right")}

	sharedSize := callSize(t, shared)
	distinctSize := callSize(t, distinct)
	if sharedSize >= distinctSize {
		t.Fatalf("shared key call is %d bytes, distinct %d, want smaller", sharedSize, distinctSize)
	}

	// A budget sized for the deduplicated pair keeps it in one batch
	// and splits the pair of strangers.
	batches, err := Plan(shared, sharedSize)
	if err != nil {
		t.Fatalf("Plan shared: %v", err)
	}
	if len(batches) != 1 {
		t.Errorf("shared key plan has %d batches, want 1", len(batches))
	}

	batches, err = Plan(distinct, sharedSize)
	if err != nil {
		t.Fatalf("Plan distinct: %v", err)
	}
	if len(batches) != 2 {
		t.Errorf("distinct key plan has %d batches, want 2", len(batches))
	}
}

func TestPlan_EmptyClaims(t *testing.T) {
	_, err := Plan(nil, 800)
	if !errors.Is(err, sigcodec.ErrEmptyInput) {
		t.Fatalf("error = %v, want %v", err, sigcodec.ErrEmptyInput)
	}
}

func TestPlan_BadBudget(t *testing.T) {
	claims := signedClaims(t, 1)

	if _, err := Plan(claims, 0); err == nil {
		t.Fatal("Plan accepted a zero budget")
	}
	if _, err := Plan(claims, -5); err == nil {
		t.Fatal("Plan accepted a negative budget")
	}
}
