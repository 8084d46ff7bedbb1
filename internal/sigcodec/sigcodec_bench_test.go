package sigcodec

import (
	"fmt"
	"testing"
)

func benchClaims(n, msgSize int) []Claim {
	claims := make([]Claim, n)
	for i := range claims {
		msg := make([]byte, msgSize)
		for j := range msg {
			msg[j] = byte(i + j)
		}

		claims[i] = Claim{Message: msg}
		for j := range claims[i].PublicKey {
			claims[i].PublicKey[j] = byte(i + 1)
		}
		for j := range claims[i].Signature {
			claims[i].Signature[j] = byte(i ^ 0xAA)
		}
	}
	return claims
}

func BenchmarkEncodeCall(b *testing.B) {
	for _, n := range []int{1, 8, 32, 128} {
		b.Run(fmt.Sprintf("claims_%d", n), func(b *testing.B) {
			claims := benchClaims(n, 64)
			b.ResetTimer()

			for i := 0; i < b.N; i++ {
				if _, err := EncodeCall(claims, MaxMessageSize); err != nil {
					b.Fatalf("encode failed: %v", err)
				}
			}
		})
	}
}

func BenchmarkDecodeResults(b *testing.B) {
	for _, n := range []int{1, 8, 32, 128} {
		b.Run(fmt.Sprintf("claims_%d", n), func(b *testing.B) {
			claims := benchClaims(n, 64)
			call, err := EncodeCall(claims, MaxMessageSize)
			if err != nil {
				b.Fatalf("encode failed: %v", err)
			}

			raw := append(call, make([]byte, n)...)
			for i := range claims {
				raw[len(call)+i] = 1
			}
			b.ResetTimer()

			for i := 0; i < b.N; i++ {
				if _, err := DecodeResults(raw); err != nil {
					b.Fatalf("decode failed: %v", err)
				}
			}
		})
	}
}

func BenchmarkCallSize(b *testing.B) {
	claims := benchClaims(32, 64)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := CallSize(claims); err != nil {
			b.Fatalf("size failed: %v", err)
		}
	}
}
