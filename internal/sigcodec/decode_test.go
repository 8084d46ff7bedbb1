package sigcodec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func mustEncode(t *testing.T, claims []Claim) []byte {
	t.Helper()

	data, err := EncodeCall(claims, MaxMessageSize)
	if err != nil {
		t.Fatalf("failed to encode call: %v", err)
	}
	return data
}

// buildResult encodes the claims and appends one verdict byte per
// claim, mimicking what the verification facility returns.
func buildResult(t *testing.T, claims []Claim, verdicts []byte) []byte {
	t.Helper()

	if len(claims) != len(verdicts) {
		t.Fatalf("claim/verdict mismatch: %d vs %d", len(claims), len(verdicts))
	}
	return append(mustEncode(t, claims), verdicts...)
}

func TestDecodeResultsRoundTrip(t *testing.T) {
	claims := []Claim{
		testClaim(1, "first message"),
		testClaim(2, "second message"),
		testClaim(3, "third message"),
	}
	raw := buildResult(t, claims, []byte{1, 0, 1})

	res, err := DecodeResults(raw)
	if err != nil {
		t.Fatalf("failed to decode results: %v", err)
	}

	if res.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", res.Len())
	}

	wantPassed := []bool{true, false, true}
	for i, c := range claims {
		e, err := res.At(i)
		if err != nil {
			t.Fatalf("failed to read entry %d: %v", i, err)
		}

		if e.PublicKey != c.PublicKey {
			t.Errorf("entry %d: wrong public key", i)
		}
		if e.MessageDigest != Digest(c.Message) {
			t.Errorf("entry %d: wrong message digest", i)
		}
		if e.Passed != wantPassed[i] {
			t.Errorf("entry %d: passed = %v, want %v", i, e.Passed, wantPassed[i])
		}
	}
}

func TestDecodeResultsRestartable(t *testing.T) {
	claims := []Claim{
		testClaim(1, "alpha"),
		testClaim(2, "beta"),
	}
	res, err := DecodeResults(buildResult(t, claims, []byte{1, 1}))
	if err != nil {
		t.Fatalf("failed to decode results: %v", err)
	}

	first, err := res.At(0)
	if err != nil {
		t.Fatalf("first read failed: %v", err)
	}
	again, err := res.At(0)
	if err != nil {
		t.Fatalf("second read failed: %v", err)
	}

	if first != again {
		t.Error("re-reading entry 0 returned a different entry")
	}

	if len(res.Entries()) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(res.Entries()))
	}
}

func TestDecodeResultsCallBytes(t *testing.T) {
	claims := []Claim{testClaim(7, "payload")}
	call := mustEncode(t, claims)

	res, err := DecodeResults(append(bytes.Clone(call), 1))
	if err != nil {
		t.Fatalf("failed to decode results: %v", err)
	}

	if !bytes.Equal(res.CallBytes(), call) {
		t.Error("call region does not match the encoded call")
	}
}

func TestDecodeResultsMalformed(t *testing.T) {
	valid := buildResult(t, []Claim{testClaim(1, "msg")}, []byte{1})

	cases := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"empty input", func(b []byte) []byte {
			return nil
		}},
		{"header only", func(b []byte) []byte {
			return []byte{1, 0}
		}},
		{"zero count", func(b []byte) []byte {
			b[0] = 0
			return b
		}},
		{"reserved byte set", func(b []byte) []byte {
			b[1] = 0xAB
			return b
		}},
		{"count beyond offsets", func(b []byte) []byte {
			b[0] = 9
			return b
		}},
		{"missing verdict", func(b []byte) []byte {
			return b[:len(b)-1]
		}},
		{"verdict byte two", func(b []byte) []byte {
			b[len(b)-1] = 2
			return b
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw := tc.mutate(bytes.Clone(valid))

			if _, err := DecodeResults(raw); !errors.Is(err, ErrMalformedProof) {
				t.Fatalf("expected ErrMalformedProof, got %v", err)
			}
		})
	}
}

func TestDecodeResultsOffsetOutOfRange(t *testing.T) {
	// Offset table layout for entry 0 starts at byte 2: the u16
	// fields follow as signature offset, signature index, pubkey
	// offset, pubkey index, message offset, message size, message
	// index.
	cases := []struct {
		name string
		pos  int
	}{
		{"signature offset", 2},
		{"pubkey offset", 6},
		{"message offset", 10},
		{"message size", 12},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw := buildResult(t, []Claim{testClaim(1, "msg")}, []byte{1})
			binary.LittleEndian.PutUint16(raw[tc.pos:tc.pos+2], 0xFF00)

			if _, err := DecodeResults(raw); !errors.Is(err, ErrMalformedProof) {
				t.Fatalf("expected ErrMalformedProof, got %v", err)
			}
		})
	}
}

func TestDecodeResultsForeignInstructionIndex(t *testing.T) {
	raw := buildResult(t, []Claim{testClaim(1, "msg")}, []byte{1})

	// Point the signature at another instruction's data.
	binary.LittleEndian.PutUint16(raw[4:6], 0)

	if _, err := DecodeResults(raw); !errors.Is(err, ErrMalformedProof) {
		t.Fatalf("expected ErrMalformedProof, got %v", err)
	}
}

func TestParseCallDeclaredCountTooLarge(t *testing.T) {
	call := mustEncode(t, []Claim{testClaim(1, "msg")})
	call[0] = 200

	if _, err := ParseCall(call); !errors.Is(err, ErrMalformedProof) {
		t.Fatalf("expected ErrMalformedProof, got %v", err)
	}
}

func TestParseCallAtOutOfRange(t *testing.T) {
	call, err := ParseCall(mustEncode(t, []Claim{testClaim(1, "msg")}))
	if err != nil {
		t.Fatalf("failed to parse call: %v", err)
	}

	if _, err := call.At(1); !errors.Is(err, ErrMalformedProof) {
		t.Fatalf("expected ErrMalformedProof for entry 1, got %v", err)
	}
	if _, err := call.At(-1); !errors.Is(err, ErrMalformedProof) {
		t.Fatalf("expected ErrMalformedProof for entry -1, got %v", err)
	}
}
