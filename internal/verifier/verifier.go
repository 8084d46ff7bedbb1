// Package verifier implements the trusted verification facility: it
// checks every signature named by a call payload and reports one
// verdict per claim. Verdicts are data, not gates; an invalid
// signature is recorded as failed, it does not fail the call.
package verifier

import (
	"crypto/ed25519"
	"fmt"

	"SigLedger/internal/sigcodec"
)

// Verifier checks the signatures of one call payload and returns the
// facility result: the call bytes followed by one verdict byte per
// claim (1 passed, 0 failed).
type Verifier interface {
	VerifyCall(call []byte) ([]byte, error)
}

// Ed25519 is the ed25519 verification facility.
type Ed25519 struct{}

// VerifyCall parses the call, checks each claim's signature and
// returns the result buffer. Structurally invalid calls error; no
// verdicts are produced for them.
func (Ed25519) VerifyCall(call []byte) ([]byte, error) {
	parsed, err := sigcodec.ParseCall(call)
	if err != nil {
		return nil, fmt.Errorf("parse call:\n%w", err)
	}

	result := make([]byte, len(call)+parsed.Len())
	copy(result, call)

	verdicts := result[len(call):]
	for i := range verdicts {
		entry, err := parsed.At(i)
		if err != nil {
			return nil, fmt.Errorf("read claim %d:\n%w", i, err)
		}

		if ed25519.Verify(ed25519.PublicKey(entry.PublicKey), entry.Message, entry.Signature) {
			verdicts[i] = 1
		}
	}

	return result, nil
}
