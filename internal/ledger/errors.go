package ledger

import (
	"errors"
	"fmt"

	"SigLedger/internal/sigcodec"
)

// Protocol errors. Callers discriminate with errors.Is; the validation
// class (empty input, payload too large, malformed proof) is shared
// with package sigcodec.
var (
	// ErrClaimMismatch reports an append whose claims are not bound to
	// the verification call executed in the same step.
	ErrClaimMismatch = errors.New("claims do not match verification call")

	// ErrAlreadyInitialized reports an initialize on an existing record.
	ErrAlreadyInitialized = errors.New("record already initialized")

	// ErrNotOpen reports a mutation on a record that is absent or sealed.
	ErrNotOpen = errors.New("record not open")

	// ErrNotFinalized reports a read or close on a record that is not
	// sealed. Absent records report this too: readers only ever see
	// stable, complete views.
	ErrNotFinalized = errors.New("record not finalized")

	// ErrSequenceViolation reports an append whose expected index does
	// not equal the record's count.
	ErrSequenceViolation = errors.New("append out of sequence")

	// ErrIndexOutOfRange reports an entry index at or beyond count.
	ErrIndexOutOfRange = errors.New("entry index out of range")

	// ErrUnauthorized reports a mutation signed by a key other than the
	// record's authority.
	ErrUnauthorized = errors.New("signer is not the record authority")
)

// Wire codes identify protocol errors across the QUIC and HTTP
// surfaces. Codes 1-4 are validation failures, 10-14 state machine
// violations, 20 authorization. They are part of the protocol and
// never renumbered.
const (
	CodeOK                 uint16 = 0
	CodePayloadTooLarge    uint16 = 1
	CodeMalformedProof     uint16 = 2
	CodeClaimMismatch      uint16 = 3
	CodeEmptyInput         uint16 = 4
	CodeAlreadyInitialized uint16 = 10
	CodeNotOpen            uint16 = 11
	CodeNotFinalized       uint16 = 12
	CodeSequenceViolation  uint16 = 13
	CodeIndexOutOfRange    uint16 = 14
	CodeUnauthorized       uint16 = 20

	// CodeInternal reports a node-side failure (storage, corruption)
	// that is not attributable to the caller.
	CodeInternal uint16 = 99
)

// ErrorCode maps an error to its wire code. Unrecognized errors map to
// CodeInternal; nil maps to CodeOK.
func ErrorCode(err error) uint16 {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, sigcodec.ErrPayloadTooLarge):
		return CodePayloadTooLarge
	case errors.Is(err, sigcodec.ErrMalformedProof):
		return CodeMalformedProof
	case errors.Is(err, ErrClaimMismatch):
		return CodeClaimMismatch
	case errors.Is(err, sigcodec.ErrEmptyInput):
		return CodeEmptyInput
	case errors.Is(err, ErrAlreadyInitialized):
		return CodeAlreadyInitialized
	case errors.Is(err, ErrNotOpen):
		return CodeNotOpen
	case errors.Is(err, ErrNotFinalized):
		return CodeNotFinalized
	case errors.Is(err, ErrSequenceViolation):
		return CodeSequenceViolation
	case errors.Is(err, ErrIndexOutOfRange):
		return CodeIndexOutOfRange
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	default:
		return CodeInternal
	}
}

// CodeError maps a wire code back to its sentinel so remote failures
// keep working with errors.Is on the client side. CodeOK maps to nil.
func CodeError(code uint16) error {
	switch code {
	case CodeOK:
		return nil
	case CodePayloadTooLarge:
		return sigcodec.ErrPayloadTooLarge
	case CodeMalformedProof:
		return sigcodec.ErrMalformedProof
	case CodeClaimMismatch:
		return ErrClaimMismatch
	case CodeEmptyInput:
		return sigcodec.ErrEmptyInput
	case CodeAlreadyInitialized:
		return ErrAlreadyInitialized
	case CodeNotOpen:
		return ErrNotOpen
	case CodeNotFinalized:
		return ErrNotFinalized
	case CodeSequenceViolation:
		return ErrSequenceViolation
	case CodeIndexOutOfRange:
		return ErrIndexOutOfRange
	case CodeUnauthorized:
		return ErrUnauthorized
	default:
		return fmt.Errorf("error code %d", code)
	}
}
