package step

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"strings"
	"testing"

	flatbuffers "github.com/google/flatbuffers/go"

	"SigLedger/internal/ledger"
	"SigLedger/internal/sigcodec"
	"SigLedger/internal/types"
)

func TestBuildParse_RoundTrip(t *testing.T) {
	priv := testKey(t, 1)
	record := [32]byte{9, 9, 9}
	call := []byte{3, 0, 1, 2, 3}
	instruction := ledger.EncodeAppend(7)

	data := Build(priv, record, call, instruction, 42)

	p, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	var wantSigner [32]byte
	copy(wantSigner[:], priv.Public().(ed25519.PublicKey))

	if p.Signer != wantSigner {
		t.Errorf("signer = %x, want %x", p.Signer, wantSigner)
	}
	if p.Record != record {
		t.Errorf("record = %x, want %x", p.Record, record)
	}
	if !bytes.Equal(p.Call, call) {
		t.Errorf("call = %x, want %x", p.Call, call)
	}
	if !bytes.Equal(p.Instruction, instruction) {
		t.Errorf("instruction = %x, want %x", p.Instruction, instruction)
	}
	if p.Nonce != 42 {
		t.Errorf("nonce = %d, want 42", p.Nonce)
	}

	if err := p.Verify(); err != nil {
		t.Errorf("Verify: %v", err)
	}
}

func TestBuild_EmptyCall(t *testing.T) {
	priv := testKey(t, 2)

	data := Build(priv, [32]byte{1}, nil, ledger.EncodeFinalize(), 1)

	p, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if len(p.Call) != 0 {
		t.Errorf("call length = %d, want 0", len(p.Call))
	}
	if err := p.Verify(); err != nil {
		t.Errorf("Verify: %v", err)
	}
}

func TestBuild_NonceSeparatesSteps(t *testing.T) {
	priv := testKey(t, 3)
	instruction := ledger.EncodeClose()

	a, err := Parse(Build(priv, [32]byte{5}, nil, instruction, 1))
	if err != nil {
		t.Fatalf("Parse a: %v", err)
	}
	b, err := Parse(Build(priv, [32]byte{5}, nil, instruction, 2))
	if err != nil {
		t.Fatalf("Parse b: %v", err)
	}

	if a.Hash == b.Hash {
		t.Error("steps with different nonces share a hash")
	}
}

func TestBuild_Deterministic(t *testing.T) {
	priv := testKey(t, 4)
	instruction := ledger.EncodeInitialize(10, 77)

	a := Build(priv, [32]byte{8}, nil, instruction, 5)
	b := Build(priv, [32]byte{8}, nil, instruction, 5)

	if !bytes.Equal(a, b) {
		t.Error("identical inputs produced different envelopes")
	}
}

func TestParse_Malformed(t *testing.T) {
	valid := Build(testKey(t, 5), [32]byte{1}, []byte{1, 2}, ledger.EncodeFinalize(), 9)

	cases := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"garbage", []byte{0xde, 0xad, 0xbe, 0xef, 0x01, 0x02}},
		{"truncated", valid[:len(valid)/2]},
		{"offset past end", []byte{0xff, 0xff, 0xff, 0x7f}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse(tc.data); err == nil {
				t.Error("Parse accepted a malformed envelope")
			}
		})
	}
}

func TestParse_FieldSizes(t *testing.T) {
	cases := []struct {
		name       string
		hashLen    int
		signerLen  int
		sigLen     int
		recordLen  int
		instLen    int
		wantInText string
	}{
		{"short hash", 16, 32, 64, 32, 1, "hash"},
		{"short signer", 32, 16, 64, 32, 1, "signer"},
		{"short signature", 32, 32, 32, 32, 1, "signature"},
		{"short record", 32, 32, 64, 8, 1, "record"},
		{"no instruction", 32, 32, 64, 32, 0, "instruction"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data := rawStep(tc.hashLen, tc.signerLen, tc.sigLen, tc.recordLen, tc.instLen)

			_, err := Parse(data)
			if !errors.Is(err, sigcodec.ErrMalformedProof) {
				t.Fatalf("error = %v, want ErrMalformedProof", err)
			}
			if !strings.Contains(err.Error(), tc.wantInText) {
				t.Errorf("error %q does not mention %q", err, tc.wantInText)
			}
		})
	}
}

func TestVerify_TamperedNonce(t *testing.T) {
	p, err := Parse(Build(testKey(t, 6), [32]byte{2}, nil, ledger.EncodeFinalize(), 3))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	p.Nonce++

	err = p.Verify()
	if !errors.Is(err, sigcodec.ErrMalformedProof) {
		t.Fatalf("error = %v, want ErrMalformedProof", err)
	}
}

func TestVerify_TamperedSignature(t *testing.T) {
	p, err := Parse(Build(testKey(t, 7), [32]byte{2}, nil, ledger.EncodeFinalize(), 3))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	sig := bytes.Clone(p.Signature)
	sig[0] ^= 0xFF
	p.Signature = sig

	err = p.Verify()
	if !errors.Is(err, ledger.ErrUnauthorized) {
		t.Fatalf("error = %v, want ErrUnauthorized", err)
	}
}

func TestVerify_ForeignSigner(t *testing.T) {
	p, err := Parse(Build(testKey(t, 8), [32]byte{2}, nil, ledger.EncodeFinalize(), 3))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	other := testKey(t, 9).Public().(ed25519.PublicKey)
	copy(p.Signer[:], other)

	if err := p.Verify(); err == nil {
		t.Error("Verify accepted a swapped signer")
	}
}

// ============================================================
// Helpers
// ============================================================

// testKey derives a deterministic ed25519 key from a seed byte.
func testKey(t *testing.T, seed byte) ed25519.PrivateKey {
	t.Helper()

	raw := make([]byte, ed25519.SeedSize)
	for i := range raw {
		raw[i] = seed
	}

	return ed25519.NewKeyFromSeed(raw)
}

// rawStep assembles an envelope with arbitrary field sizes, bypassing
// Build's shape guarantees.
func rawStep(hashLen, signerLen, sigLen, recordLen, instLen int) []byte {
	builder := flatbuffers.NewBuilder(512)

	hashVec := builder.CreateByteVector(make([]byte, hashLen))
	signerVec := builder.CreateByteVector(make([]byte, signerLen))
	sigVec := builder.CreateByteVector(make([]byte, sigLen))
	recordVec := builder.CreateByteVector(make([]byte, recordLen))
	instVec := builder.CreateByteVector(make([]byte, instLen))

	types.StepStart(builder)
	types.StepAddHash(builder, hashVec)
	types.StepAddSigner(builder, signerVec)
	types.StepAddSignature(builder, sigVec)
	types.StepAddRecord(builder, recordVec)
	types.StepAddInstruction(builder, instVec)
	stepOff := types.StepEnd(builder)

	builder.Finish(stepOff)

	return builder.FinishedBytes()
}
