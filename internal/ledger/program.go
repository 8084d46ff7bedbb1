// Package ledger implements the aggregation record: a persistent,
// addressed store of signature verification outcomes, mutated only
// through sequential, authority-signed instructions.
//
// A record moves through four states. It starts uninitialized (no
// stored value), opens on Initialize, seals on Finalize or when the
// last entry lands, and disappears on Close. Appends are strictly
// sequential: each one names the index it expects to write at, and the
// handler rejects it unless that index equals the current count. The
// environment totally orders instructions per record, so this check is
// the whole concurrency story.
//
// Handlers are pure functions from the current stored value to the
// next one. The engine loads the value, applies the handler, and
// persists the outcome atomically; a failed handler changes nothing.
package ledger

import (
	"bytes"
	"fmt"

	"SigLedger/internal/sigcodec"
)

// Initialize creates a record owned by signer. existing is the stored
// value at the record's address, nil when absent.
func Initialize(existing []byte, signer [32]byte, capacity uint32) (*Record, error) {
	if existing != nil {
		return nil, ErrAlreadyInitialized
	}

	if capacity == 0 {
		return nil, fmt.Errorf("%w: record capacity is zero", sigcodec.ErrEmptyInput)
	}

	if capacity > MaxCapacity {
		return nil, fmt.Errorf("%w: capacity %d exceeds %d", sigcodec.ErrPayloadTooLarge, capacity, MaxCapacity)
	}

	return NewRecord(signer, capacity), nil
}

// Append records the outcomes of one verification call. call is the
// payload the facility was invoked with in this step and result is
// what it returned; the call region of the result must be byte
// identical to call, which binds the appended outcomes to signatures
// that were actually checked here. expectedIndex must equal the
// record's count. When the last entry lands the record seals itself.
func Append(existing []byte, signer [32]byte, expectedIndex uint32, call, result []byte) (*Record, error) {
	if existing == nil {
		return nil, fmt.Errorf("%w: record does not exist", ErrNotOpen)
	}

	r, err := DecodeRecord(existing)
	if err != nil {
		return nil, err
	}

	if r.State != StateOpen {
		return nil, fmt.Errorf("%w: record is %s", ErrNotOpen, r.State)
	}

	if signer != r.Authority {
		return nil, ErrUnauthorized
	}

	if len(call) == 0 {
		return nil, fmt.Errorf("%w: step carries no verification call", ErrClaimMismatch)
	}

	res, err := sigcodec.DecodeResults(result)
	if err != nil {
		return nil, err
	}

	if !bytes.Equal(res.CallBytes(), call) {
		return nil, fmt.Errorf("%w: verification ran over different claims", ErrClaimMismatch)
	}

	if expectedIndex != r.Count {
		return nil, fmt.Errorf("%w: expected index %d, count is %d", ErrSequenceViolation, expectedIndex, r.Count)
	}

	n := uint32(res.Len())
	if r.Count+n > r.Capacity {
		return nil, fmt.Errorf("%w: %d entries do not fit, %d of %d used", sigcodec.ErrPayloadTooLarge, n, r.Count, r.Capacity)
	}

	r.appendEntries(res.Entries())

	if r.Count == r.Capacity {
		r.State = StateFinalized
	}

	return r, nil
}

// Finalize seals the record early, freezing any unused capacity.
func Finalize(existing []byte, signer [32]byte) (*Record, error) {
	if existing == nil {
		return nil, fmt.Errorf("%w: record does not exist", ErrNotOpen)
	}

	r, err := DecodeRecord(existing)
	if err != nil {
		return nil, err
	}

	if r.State != StateOpen {
		return nil, fmt.Errorf("%w: record is %s", ErrNotOpen, r.State)
	}

	if signer != r.Authority {
		return nil, ErrUnauthorized
	}

	r.State = StateFinalized

	return r, nil
}

// Close reclaims a finalized record. On success the engine deletes the
// stored value; the record is gone and no longer queryable.
func Close(existing []byte, signer [32]byte) error {
	if existing == nil {
		return fmt.Errorf("%w: record does not exist", ErrNotFinalized)
	}

	r, err := DecodeRecord(existing)
	if err != nil {
		return err
	}

	if r.State != StateFinalized {
		return fmt.Errorf("%w: record is %s", ErrNotFinalized, r.State)
	}

	if signer != r.Authority {
		return ErrUnauthorized
	}

	return nil
}

// Check returns entry index from a finalized record. Open to any
// caller; a record that is absent or still open reports NotFinalized
// so readers only ever see complete, immutable views.
func Check(existing []byte, index uint32) (sigcodec.Entry, error) {
	r, err := loadFinalized(existing)
	if err != nil {
		return sigcodec.Entry{}, err
	}

	return r.EntryAt(index)
}

// Find scans a finalized record for the first entry matching the
// public key and message digest. A miss reports IndexOutOfRange.
func Find(existing []byte, pubkey, digest [32]byte) (uint32, sigcodec.Entry, error) {
	r, err := loadFinalized(existing)
	if err != nil {
		return 0, sigcodec.Entry{}, err
	}

	idx, ok := r.find(pubkey, digest)
	if !ok {
		return 0, sigcodec.Entry{}, fmt.Errorf("%w: no matching entry", ErrIndexOutOfRange)
	}

	e, err := r.EntryAt(idx)
	if err != nil {
		return 0, sigcodec.Entry{}, err
	}

	return idx, e, nil
}

// loadFinalized decodes a record for reading, requiring it sealed.
func loadFinalized(existing []byte) (*Record, error) {
	if existing == nil {
		return nil, fmt.Errorf("%w: record does not exist", ErrNotFinalized)
	}

	r, err := DecodeRecord(existing)
	if err != nil {
		return nil, err
	}

	if r.State != StateFinalized {
		return nil, fmt.Errorf("%w: record is %s", ErrNotFinalized, r.State)
	}

	return r, nil
}
