// Package sigcodec implements the binary call and result format of the
// signature verification facility.
package sigcodec

import (
	"errors"

	"github.com/zeebo/blake3"
)

const (
	// SignatureSize is the byte length of a claim signature.
	SignatureSize = 64

	// PublicKeySize is the byte length of a claim public key.
	PublicKeySize = 32

	// DigestSize is the byte length of a message digest.
	DigestSize = 32

	// MaxCallEntries is the maximum number of claims in one call; the
	// call header stores the count in a single byte.
	MaxCallEntries = 255

	// MaxMessageSize is the maximum message length; offsets and sizes
	// in the call layout are 16-bit.
	MaxMessageSize = 65535
)

const (
	// headerSize is the count byte plus the reserved zero byte.
	headerSize = 2

	// offsetsSize is the wire size of one offsets entry: seven u16 LE
	// fields.
	offsetsSize = 14

	// selfIndex marks an offset as referring to the call's own data.
	// The facility contract reserves other values for cross-references
	// the environment does not support.
	selfIndex = 0xFFFF
)

// Codec errors. Callers discriminate with errors.Is.
var (
	// ErrEmptyInput reports a call build over zero claims.
	ErrEmptyInput = errors.New("empty input")

	// ErrPayloadTooLarge reports a call that cannot fit its budget or
	// the layout's 16-bit limits.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrMalformedProof reports a call or result buffer that fails
	// structural validation.
	ErrMalformedProof = errors.New("malformed proof")
)

// Claim is one signature to be checked by the facility.
// Transient; never persisted.
type Claim struct {
	PublicKey [PublicKeySize]byte // PublicKey is the signer's key
	Message   []byte              // Message is the signed payload
	Signature [SignatureSize]byte // Signature is the 64-byte signature
}

// Entry is one verification outcome decoded from a facility result.
type Entry struct {
	PublicKey     [PublicKeySize]byte // PublicKey is the claim's key
	MessageDigest [DigestSize]byte    // MessageDigest is blake3 of the message
	Passed        bool                // Passed is the facility's verdict
}

// Digest computes the digest under which a message is recorded.
func Digest(message []byte) [DigestSize]byte {
	return blake3.Sum256(message)
}
