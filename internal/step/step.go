// Package step builds and parses the signed step envelope, the unit
// of submission to a node. A step carries one ledger instruction, the
// facility call payload it belongs with, and the signer's signature
// over the blake3 hash of the unsigned envelope.
package step

import (
	"crypto/ed25519"
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/zeebo/blake3"

	"SigLedger/internal/ledger"
	"SigLedger/internal/sigcodec"
	"SigLedger/internal/types"
)

// Parsed is a step envelope unpacked into plain fields. Byte slices
// alias the envelope buffer and are valid as long as it is.
type Parsed struct {
	Hash        [32]byte // Hash is the declared blake3 hash of the unsigned envelope
	Signer      [32]byte // Signer is the submitting identity's public key
	Signature   []byte   // Signature is the ed25519 signature over Hash
	Record      [32]byte // Record is the target record address
	Call        []byte   // Call is the facility call payload, empty when absent
	Instruction []byte   // Instruction is the encoded ledger instruction
	Nonce       uint64   // Nonce distinguishes otherwise identical steps
}

// Build assembles and signs a step envelope. The hash covers every
// field except itself and the signature, so any later change to the
// payload invalidates the step.
func Build(privKey ed25519.PrivateKey, record [32]byte, call, instruction []byte, nonce uint64) []byte {
	pubKey := privKey.Public().(ed25519.PublicKey)

	unsignedBytes := buildUnsignedStepBytes(pubKey, record[:], call, instruction, nonce)
	hash := blake3.Sum256(unsignedBytes)
	sig := ed25519.Sign(privKey, hash[:])

	builder := flatbuffers.NewBuilder(1024)

	hashVec := builder.CreateByteVector(hash[:])
	signerVec := builder.CreateByteVector(pubKey)
	sigVec := builder.CreateByteVector(sig)
	recordVec := builder.CreateByteVector(record[:])
	callVec := builder.CreateByteVector(call)
	instVec := builder.CreateByteVector(instruction)

	types.StepStart(builder)
	types.StepAddHash(builder, hashVec)
	types.StepAddSigner(builder, signerVec)
	types.StepAddSignature(builder, sigVec)
	types.StepAddRecord(builder, recordVec)
	types.StepAddVerifyCall(builder, callVec)
	types.StepAddInstruction(builder, instVec)
	types.StepAddNonce(builder, nonce)
	stepOff := types.StepEnd(builder)

	builder.Finish(stepOff)

	return builder.FinishedBytes()
}

// Parse unpacks a step envelope and checks its field shapes.
// FlatBuffers accessors index into the buffer with offsets read from
// the buffer itself, so a hostile envelope must fail here, not crash
// the node.
func Parse(data []byte) (p *Parsed, err error) {
	defer func() {
		if r := recover(); r != nil {
			p = nil
			err = fmt.Errorf("%w: unreadable step envelope", sigcodec.ErrMalformedProof)
		}
	}()

	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty step", sigcodec.ErrMalformedProof)
	}

	s := types.GetRootAsStep(data, 0)

	if s.HashLength() != 32 {
		return nil, fmt.Errorf("%w: hash is %d bytes", sigcodec.ErrMalformedProof, s.HashLength())
	}

	if s.SignerLength() != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: signer is %d bytes", sigcodec.ErrMalformedProof, s.SignerLength())
	}

	if s.SignatureLength() != ed25519.SignatureSize {
		return nil, fmt.Errorf("%w: signature is %d bytes", sigcodec.ErrMalformedProof, s.SignatureLength())
	}

	if s.RecordLength() != 32 {
		return nil, fmt.Errorf("%w: record address is %d bytes", sigcodec.ErrMalformedProof, s.RecordLength())
	}

	if s.InstructionLength() == 0 {
		return nil, fmt.Errorf("%w: step carries no instruction", sigcodec.ErrMalformedProof)
	}

	p = &Parsed{
		Signature:   s.SignatureBytes(),
		Call:        s.VerifyCallBytes(),
		Instruction: s.InstructionBytes(),
		Nonce:       s.Nonce(),
	}
	copy(p.Hash[:], s.HashBytes())
	copy(p.Signer[:], s.SignerBytes())
	copy(p.Record[:], s.RecordBytes())

	return p, nil
}

// Digest recomputes the envelope hash from the signed fields.
func (p *Parsed) Digest() [32]byte {
	unsignedBytes := buildUnsignedStepBytes(p.Signer[:], p.Record[:], p.Call, p.Instruction, p.Nonce)
	return blake3.Sum256(unsignedBytes)
}

// Verify checks the declared hash against the signed fields and the
// signature against the declared hash.
func (p *Parsed) Verify() error {
	if p.Digest() != p.Hash {
		return fmt.Errorf("%w: step hash does not cover the envelope", sigcodec.ErrMalformedProof)
	}

	if !ed25519.Verify(p.Signer[:], p.Hash[:], p.Signature) {
		return fmt.Errorf("%w: step signature does not verify", ledger.ErrUnauthorized)
	}

	return nil
}

// buildUnsignedStepBytes creates step bytes without hash and signature
// for hashing. Build and Digest both go through here, so signer and
// node compute the hash over identical bytes.
func buildUnsignedStepBytes(signer []byte, record, call, instruction []byte, nonce uint64) []byte {
	builder := flatbuffers.NewBuilder(512)

	signerVec := builder.CreateByteVector(signer)
	recordVec := builder.CreateByteVector(record)
	callVec := builder.CreateByteVector(call)
	instVec := builder.CreateByteVector(instruction)

	types.StepStart(builder)
	types.StepAddSigner(builder, signerVec)
	types.StepAddRecord(builder, recordVec)
	types.StepAddVerifyCall(builder, callVec)
	types.StepAddInstruction(builder, instVec)
	types.StepAddNonce(builder, nonce)
	stepOff := types.StepEnd(builder)

	builder.Finish(stepOff)

	return builder.FinishedBytes()
}
