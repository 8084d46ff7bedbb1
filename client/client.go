// Package client drives multi-step aggregation runs against a node
// and answers consumer checks over sealed records. The orchestrator
// partitions a claim batch into payload-bounded steps, submits them
// in order, and reconciles against the record's authoritative count
// after any failure, so an interrupted run resumes instead of
// restarting.
package client

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"

	"SigLedger/internal/engine"
	"SigLedger/internal/ledger"
	"SigLedger/internal/sigcodec"
	"SigLedger/internal/step"
)

const (
	// retryBaseDelay is the first retry delay after a transport
	// failure.
	retryBaseDelay = 200 * time.Millisecond

	// retryMaxDelay caps the exponential backoff.
	retryMaxDelay = 5 * time.Second

	// retryJitter spreads retries so parallel orchestrators do not
	// hammer a recovering node in lockstep.
	retryJitter = 50 * time.Millisecond

	// defaultMaxRetries bounds retries per step before the run fails
	// as resumable.
	defaultMaxRetries = 8
)

// Transport is the node connection the orchestrator and checker
// drive. The QUIC client implements it; tests substitute fakes.
type Transport interface {
	SubmitStep(ctx context.Context, stepData []byte) (engine.Receipt, error)
	GetParams(ctx context.Context) (engine.Params, error)
	GetHeader(ctx context.Context, addr ledger.Address) (engine.Header, error)
	GetCount(ctx context.Context, addr ledger.Address) (uint32, error)
	GetEntry(ctx context.Context, addr ledger.Address, index uint32) (sigcodec.Entry, error)
	GetReceipt(ctx context.Context, hash [32]byte) (engine.Receipt, bool, error)
}

// Orchestrator submits a planned claim sequence as one aggregation
// record, acting as the record's authority.
type Orchestrator struct {
	transport  Transport          // transport is the node connection
	privKey    ed25519.PrivateKey // privKey signs every step
	maxRetries uint64             // maxRetries bounds transport retries per step
	baseDelay  time.Duration      // baseDelay is the first retry delay
	maxDelay   time.Duration      // maxDelay caps the backoff
}

// NewOrchestrator creates an orchestrator signing with the given key.
func NewOrchestrator(t Transport, privKey ed25519.PrivateKey) *Orchestrator {
	return &Orchestrator{
		transport:  t,
		privKey:    privKey,
		maxRetries: defaultMaxRetries,
		baseDelay:  retryBaseDelay,
		maxDelay:   retryMaxDelay,
	}
}

// Authority returns the orchestrator's public key as a 32-byte array.
func (o *Orchestrator) Authority() [32]byte {
	var pk [32]byte
	copy(pk[:], o.privKey.Public().(ed25519.PublicKey))
	return pk
}

// Result reports where a run ended up. A completed run has Count
// equal to the plan's total; resume an incomplete one with the same
// plan and seed.
type Result struct {
	Address ledger.Address // Address is the record's derived address
	Seed    uint64         // Seed re-derives the address on resume
	Count   uint32         // Count is the confirmed entry count
}

// TransportError reports a step whose retries were exhausted. The run
// is resumable: Confirmed entries are durable and a Resume with the
// same plan and seed continues from them.
type TransportError struct {
	Confirmed uint32 // Confirmed is the last confirmed entry count
	Err       error  // Err is the final transport failure
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failed with %d entries confirmed: %v", e.Confirmed, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// buildStep assembles and signs one step, returning its bytes and the
// step hash used to look up its receipt.
func (o *Orchestrator) buildStep(addr ledger.Address, call, instruction []byte, nonce uint64) ([]byte, [32]byte) {
	data := step.Build(o.privKey, [32]byte(addr), call, instruction, nonce)

	// Self-built envelopes always parse.
	p, _ := step.Parse(data)

	return data, p.Hash
}

// freshSeed draws a random record seed.
func freshSeed() (uint64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("draw seed:\n%w", err)
	}

	return binary.LittleEndian.Uint64(buf[:]), nil
}
