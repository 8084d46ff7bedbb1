package ledger

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// addressTag separates record addresses from other blake3 uses.
var addressTag = []byte("aggrec")

// Address identifies one aggregation record.
type Address [32]byte

// DeriveAddress computes the record address for an authority and seed.
// The derivation is deterministic so a client can re-derive it on
// resume without any stored state.
func DeriveAddress(authority [32]byte, seed uint64) Address {
	buf := make([]byte, 0, 32+8+len(addressTag))
	buf = append(buf, authority[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, seed)
	buf = append(buf, addressTag...)

	return Address(blake3.Sum256(buf))
}

// String returns the address as lowercase hex.
func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// ParseAddress parses a 64-character hex address.
func ParseAddress(s string) (Address, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Address{}, fmt.Errorf("invalid address %q:\n%w", s, err)
	}

	if len(raw) != 32 {
		return Address{}, fmt.Errorf("invalid address %q: %d bytes, want 32", s, len(raw))
	}

	var a Address
	copy(a[:], raw)

	return a, nil
}
