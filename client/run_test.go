package client

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"SigLedger/internal/ledger"
	"SigLedger/internal/sigcodec"
	"SigLedger/internal/step"
)

func TestOrchestrator_RunCompletesPlan(t *testing.T) {
	node, cleanup := newTestNode(t)
	defer cleanup()

	o := newTestOrchestrator(t, node, 1)
	claims := signedClaims(t, 20)
	ctx := context.Background()

	batches, err := o.PlanForNode(ctx, claims)
	if err != nil {
		t.Fatalf("PlanForNode: %v", err)
	}
	if len(batches) < 2 {
		t.Fatalf("plan has %d batches, want a multi-step run", len(batches))
	}

	budget := node.engine.Params().MaxCallPayload
	for _, b := range batches {
		if size := callSize(t, b.Claims); size > budget {
			t.Fatalf("batch at %d encodes to %d bytes over the %d budget", b.Start, size, budget)
		}
	}

	res, err := o.Run(ctx, batches)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Count != 20 {
		t.Fatalf("result count = %d, want 20", res.Count)
	}

	h, err := node.engine.Header(res.Address)
	if err != nil {
		t.Fatalf("Header: %v", err)
	}
	if h.State != ledger.StateFinalized || h.Count != 20 || h.Capacity != 20 {
		t.Fatalf("header = %+v, want finalized 20/20", h)
	}

	for _, i := range []uint32{0, 7, 19} {
		entry, err := node.engine.Entry(res.Address, i)
		if err != nil {
			t.Fatalf("Entry(%d): %v", i, err)
		}
		if entry.PublicKey != claims[i].PublicKey {
			t.Errorf("entry %d pubkey mismatch", i)
		}
		if entry.MessageDigest != sigcodec.Digest(claims[i].Message) {
			t.Errorf("entry %d digest mismatch", i)
		}
		if !entry.Passed {
			t.Errorf("entry %d not passed", i)
		}
	}
}

func TestOrchestrator_RunRecordsFailedChecks(t *testing.T) {
	node, cleanup := newTestNode(t)
	defer cleanup()

	o := newTestOrchestrator(t, node, 2)
	claims := signedClaims(t, 4)
	claims[1].Signature[0] ^= 0xFF
	ctx := context.Background()

	batches, err := Plan(claims, callSize(t, claims))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	res, err := o.Run(ctx, batches)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Count != 4 {
		t.Fatalf("result count = %d, want 4", res.Count)
	}

	wantPassed := []bool{true, false, true, true}
	for i, want := range wantPassed {
		entry, err := node.engine.Entry(res.Address, uint32(i))
		if err != nil {
			t.Fatalf("Entry(%d): %v", i, err)
		}
		if entry.Passed != want {
			t.Errorf("entry %d passed = %v, want %v", i, entry.Passed, want)
		}
	}
}

func TestOrchestrator_RetriesTransportFailures(t *testing.T) {
	node, cleanup := newTestNode(t)
	defer cleanup()

	o := newTestOrchestrator(t, node, 3)
	claims := signedClaims(t, 3)
	ctx := context.Background()

	batches, err := Plan(claims, callSize(t, claims))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	node.failSubmits = 2

	res, err := o.Run(ctx, batches)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Count != 3 {
		t.Fatalf("result count = %d, want 3", res.Count)
	}

	// Two dropped initialize attempts, the one that landed, one append.
	if got := node.submitCount(); got != 4 {
		t.Errorf("submit count = %d, want 4", got)
	}
}

func TestOrchestrator_RecoversReceiptWhenAnswerLost(t *testing.T) {
	node, cleanup := newTestNode(t)
	defer cleanup()

	o := newTestOrchestrator(t, node, 4)
	claims := signedClaims(t, 3)
	ctx := context.Background()

	batches, err := Plan(claims, callSize(t, claims))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	// The initialize executes but its answer is lost. The receipt
	// probe must recover it without a second execution.
	node.swallowNext = true

	res, err := o.Run(ctx, batches)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Count != 3 {
		t.Fatalf("result count = %d, want 3", res.Count)
	}

	if got := node.submitCount(); got != 2 {
		t.Errorf("submit count = %d, want 2 with no resubmission", got)
	}
}

func TestOrchestrator_ExhaustedRetriesAreResumable(t *testing.T) {
	node, cleanup := newTestNode(t)
	defer cleanup()

	o := newTestOrchestrator(t, node, 5)
	o.maxRetries = 2
	claims := signedClaims(t, 4)
	ctx := context.Background()

	batches, err := Plan(claims, callSize(t, claims[:2]))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(batches) != 2 {
		t.Fatalf("plan has %d batches, want 2", len(batches))
	}

	node.failSubmits = 10

	res, err := o.Run(ctx, batches)
	if err == nil {
		t.Fatal("Run succeeded with the transport down")
	}

	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("error = %v, want a TransportError", err)
	}
	if te.Confirmed != 0 {
		t.Errorf("confirmed = %d, want 0", te.Confirmed)
	}
	if !errors.Is(err, errConnDropped) {
		t.Errorf("error does not carry the transport cause: %v", err)
	}

	node.failSubmits = 0

	resumed, err := o.Resume(ctx, batches, res.Seed)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.Count != 4 {
		t.Fatalf("resumed count = %d, want 4", resumed.Count)
	}
	if resumed.Address != res.Address {
		t.Error("resume landed on a different record")
	}
}

func TestOrchestrator_ResumeSkipsConfirmedBatches(t *testing.T) {
	node, cleanup := newTestNode(t)
	defer cleanup()

	priv := testKey(t, 6)
	o := newTestOrchestrator(t, node, 6)
	claims := signedClaims(t, 4)
	ctx := context.Background()

	batches, err := Plan(claims, callSize(t, claims[:2]))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	// Half the run already sits on the record.
	seed := uint64(7)
	addr := seedRecord(t, node, priv, seed, 4, claims[:2])

	res, err := o.Resume(ctx, batches, seed)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if res.Address != addr || res.Count != 4 {
		t.Fatalf("result = %+v, want count 4 at %s", res, addr)
	}

	// Only the second batch went over the wire.
	if got := node.submitCount(); got != 1 {
		t.Errorf("submit count = %d, want 1", got)
	}

	// Resuming the completed run submits nothing further.
	res, err = o.Resume(ctx, batches, seed)
	if err != nil {
		t.Fatalf("Resume of completed run: %v", err)
	}
	if res.Count != 4 {
		t.Errorf("completed resume count = %d, want 4", res.Count)
	}
	if got := node.submitCount(); got != 1 {
		t.Errorf("submit count = %d after completed resume, want 1", got)
	}
}

func TestOrchestrator_RealignsAfterUnconfirmedLanding(t *testing.T) {
	node, cleanup := newTestNode(t)
	defer cleanup()

	priv := testKey(t, 7)
	o := newTestOrchestrator(t, node, 7)
	claims := signedClaims(t, 4)
	ctx := context.Background()

	batches, err := Plan(claims, callSize(t, claims[:2]))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	seed := uint64(9)
	addr := seedRecord(t, node, priv, seed, 4, nil)

	// The first append lands under a nonce this client never built,
	// so the receipt probe misses and the resubmission comes back as
	// a sequence violation to reconcile from.
	node.hijackKey = priv

	res, err := o.Resume(ctx, batches, seed)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if res.Count != 4 {
		t.Fatalf("result count = %d, want 4", res.Count)
	}

	h, err := node.engine.Header(addr)
	if err != nil {
		t.Fatalf("Header: %v", err)
	}
	if h.State != ledger.StateFinalized || h.Count != 4 {
		t.Fatalf("header = %+v, want finalized 4/4", h)
	}

	// Hijacked attempt, violated resubmission, second batch.
	if got := node.submitCount(); got != 3 {
		t.Errorf("submit count = %d, want 3", got)
	}

	for i, c := range claims {
		entry, err := node.engine.Entry(addr, uint32(i))
		if err != nil {
			t.Fatalf("Entry(%d): %v", i, err)
		}
		if entry.PublicKey != c.PublicKey {
			t.Errorf("entry %d pubkey mismatch", i)
		}
	}
}

func TestOrchestrator_ForeignWritesOffBoundaryFatal(t *testing.T) {
	node, cleanup := newTestNode(t)
	defer cleanup()

	priv := testKey(t, 8)
	o := newTestOrchestrator(t, node, 8)
	claims := signedClaims(t, 4)
	ctx := context.Background()

	batches, err := Plan(claims, callSize(t, claims[:2]))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	// One entry this plan never wrote sits on the record.
	seed := uint64(3)
	seedRecord(t, node, priv, seed, 4, claims[:1])

	_, err = o.Resume(ctx, batches, seed)
	if err == nil {
		t.Fatal("Resume adopted a record with foreign writes")
	}
	if !strings.Contains(err.Error(), "batch boundary") {
		t.Errorf("error = %v, want a batch boundary complaint", err)
	}
}

func TestOrchestrator_ResumeRejectsWrongPlan(t *testing.T) {
	node, cleanup := newTestNode(t)
	defer cleanup()

	priv := testKey(t, 9)
	o := newTestOrchestrator(t, node, 9)
	claims := signedClaims(t, 4)
	ctx := context.Background()

	batches, err := Plan(claims, callSize(t, claims))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	seed := uint64(5)
	seedRecord(t, node, priv, seed, 9, nil)

	_, err = o.Resume(ctx, batches, seed)
	if err == nil {
		t.Fatal("Resume adopted a record sized for another plan")
	}
	if !strings.Contains(err.Error(), "capacity") {
		t.Errorf("error = %v, want a capacity complaint", err)
	}
}

func TestOrchestrator_ResumeRejectsShortSealedRecord(t *testing.T) {
	node, cleanup := newTestNode(t)
	defer cleanup()

	priv := testKey(t, 10)
	o := newTestOrchestrator(t, node, 10)
	claims := signedClaims(t, 4)
	ctx := context.Background()

	batches, err := Plan(claims, callSize(t, claims[:2]))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	seed := uint64(6)
	addr := seedRecord(t, node, priv, seed, 4, claims[:2])

	r := node.engine.Submit(step.Build(priv, [32]byte(addr), nil, ledger.EncodeFinalize(), 0))
	if !r.OK {
		t.Fatalf("finalize receipt = %+v", r)
	}

	_, err = o.Resume(ctx, batches, seed)
	if err == nil {
		t.Fatal("Resume adopted a record sealed short of the plan")
	}
	if !strings.Contains(err.Error(), "sealed") {
		t.Errorf("error = %v, want a sealed-short complaint", err)
	}
}

func TestOrchestrator_RunEmptyPlan(t *testing.T) {
	node, cleanup := newTestNode(t)
	defer cleanup()

	o := newTestOrchestrator(t, node, 11)

	_, err := o.Run(context.Background(), nil)
	if !errors.Is(err, sigcodec.ErrEmptyInput) {
		t.Fatalf("error = %v, want %v", err, sigcodec.ErrEmptyInput)
	}
}

func TestOrchestrator_CancellationHaltsRun(t *testing.T) {
	node, cleanup := newTestNode(t)
	defer cleanup()

	o := newTestOrchestrator(t, node, 12)
	o.maxRetries = 1 << 30
	claims := signedClaims(t, 2)

	batches, err := Plan(claims, callSize(t, claims))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	node.failSubmits = 1 << 30

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	res, err := o.Run(ctx, batches)
	if err == nil {
		t.Fatal("Run survived a dead transport past its deadline")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want a deadline error", err)
	}
	if res.Count != 0 {
		t.Errorf("result count = %d, want 0", res.Count)
	}
}

func TestOrchestrator_SealFreezesUnusedCapacity(t *testing.T) {
	node, cleanup := newTestNode(t)
	defer cleanup()

	priv := testKey(t, 13)
	o := newTestOrchestrator(t, node, 13)
	claims := signedClaims(t, 2)
	ctx := context.Background()

	addr := seedRecord(t, node, priv, 11, 8, claims)

	if err := o.Seal(ctx, addr); err != nil {
		t.Fatalf("Seal: %v", err)
	}

	h, err := node.engine.Header(addr)
	if err != nil {
		t.Fatalf("Header: %v", err)
	}
	if h.State != ledger.StateFinalized || h.Count != 2 || h.Capacity != 8 {
		t.Fatalf("header = %+v, want finalized 2/8", h)
	}

	// Sealing a sealed record reports success.
	if err := o.Seal(ctx, addr); err != nil {
		t.Fatalf("second Seal: %v", err)
	}
}

func TestOrchestrator_DiscardRemovesRecord(t *testing.T) {
	node, cleanup := newTestNode(t)
	defer cleanup()

	priv := testKey(t, 14)
	o := newTestOrchestrator(t, node, 14)
	claims := signedClaims(t, 2)
	ctx := context.Background()

	addr := seedRecord(t, node, priv, 12, 2, claims)

	if err := o.Discard(ctx, addr); err != nil {
		t.Fatalf("Discard: %v", err)
	}

	_, err := node.engine.Header(addr)
	if !errors.Is(err, ledger.ErrNotOpen) {
		t.Fatalf("Header after discard = %v, want %v", err, ledger.ErrNotOpen)
	}
}

func TestOrchestrator_SealRejectsForeignAuthority(t *testing.T) {
	node, cleanup := newTestNode(t)
	defer cleanup()

	priv := testKey(t, 15)
	claims := signedClaims(t, 2)
	ctx := context.Background()

	addr := seedRecord(t, node, priv, 13, 8, claims)

	// An orchestrator holding a different key cannot seal the record.
	other := newTestOrchestrator(t, node, 16)

	err := other.Seal(ctx, addr)
	if !errors.Is(err, ledger.ErrUnauthorized) {
		t.Fatalf("Seal = %v, want %v", err, ledger.ErrUnauthorized)
	}
}

func TestPlanForNode_EmptyClaims(t *testing.T) {
	node, cleanup := newTestNode(t)
	defer cleanup()

	o := newTestOrchestrator(t, node, 17)

	_, err := o.PlanForNode(context.Background(), nil)
	if !errors.Is(err, sigcodec.ErrEmptyInput) {
		t.Fatalf("error = %v, want %v", err, sigcodec.ErrEmptyInput)
	}
}
