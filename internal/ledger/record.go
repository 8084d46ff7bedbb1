package ledger

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"SigLedger/internal/sigcodec"
)

const (
	// headerSize is the serialized record header length.
	headerSize = 56

	// entrySize is the serialized length of one verification entry.
	entrySize = 72

	// MaxCapacity bounds how many entries one record may hold. A full
	// record stays under five megabytes, well inside a single storage
	// value.
	MaxCapacity = 65536
)

// discriminator marks a storage value as an aggregation record and
// carries the layout version in its last byte.
var discriminator = [8]byte{'A', 'G', 'G', 'R', 0, 0, 0, 1}

// State is the lifecycle state persisted in the record header.
// Uninitialized and Closed records have no stored value at all, so
// only the open and finalized states are ever serialized.
type State uint8

const (
	StateOpen      State = 1
	StateFinalized State = 2
)

// String returns the state name for logs and status output.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateFinalized:
		return "finalized"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Record is a decoded aggregation record.
//
// Serialized layout, all integers little-endian:
// Format: [8B discriminator] [32B authority] [4B capacity] [4B count] [1B state] [7B pad] [count x 72B entry]
// Entry format: [32B public key] [32B message digest] [1B passed] [7B pad]
//
// Only the occupied entry prefix is stored; capacity is enforced
// through the header field.
type Record struct {
	Authority [32]byte // Authority is the only identity allowed to mutate
	Capacity  uint32   // Capacity is the maximum entry count, fixed at initialize
	Count     uint32   // Count is the number of entries written so far
	State     State    // State is open or finalized

	entries []byte // entries is the packed entry region, Count x entrySize
}

// NewRecord creates an empty open record owned by authority.
func NewRecord(authority [32]byte, capacity uint32) *Record {
	return &Record{
		Authority: authority,
		Capacity:  capacity,
		State:     StateOpen,
	}
}

// DecodeRecord parses and validates a stored record value. Failures
// here mean storage corruption, not caller mistakes, and are reported
// as plain errors outside the protocol taxonomy.
func DecodeRecord(data []byte) (*Record, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("corrupt record: %d bytes, header needs %d", len(data), headerSize)
	}

	if !bytes.Equal(data[:8], discriminator[:]) {
		return nil, fmt.Errorf("corrupt record: bad discriminator % x", data[:8])
	}

	r := &Record{
		Capacity: binary.LittleEndian.Uint32(data[40:44]),
		Count:    binary.LittleEndian.Uint32(data[44:48]),
		State:    State(data[48]),
	}
	copy(r.Authority[:], data[8:40])

	if r.State != StateOpen && r.State != StateFinalized {
		return nil, fmt.Errorf("corrupt record: unknown state %d", data[48])
	}

	if r.Count > r.Capacity {
		return nil, fmt.Errorf("corrupt record: count %d exceeds capacity %d", r.Count, r.Capacity)
	}

	want := headerSize + int(r.Count)*entrySize
	if len(data) != want {
		return nil, fmt.Errorf("corrupt record: %d bytes, want %d for %d entries", len(data), want, r.Count)
	}

	r.entries = data[headerSize:]

	return r, nil
}

// Encode serializes the record for storage.
func (r *Record) Encode() []byte {
	buf := make([]byte, headerSize+len(r.entries))

	copy(buf[:8], discriminator[:])
	copy(buf[8:40], r.Authority[:])
	binary.LittleEndian.PutUint32(buf[40:44], r.Capacity)
	binary.LittleEndian.PutUint32(buf[44:48], r.Count)
	buf[48] = byte(r.State)
	copy(buf[headerSize:], r.entries)

	return buf
}

// EntriesBytes returns the packed entry region as stored. The slice
// may alias the decoded value; callers copy before holding on to it.
func (r *Record) EntriesBytes() []byte {
	return r.entries
}

// EntryAt returns entry i. The index must be below Count.
func (r *Record) EntryAt(i uint32) (sigcodec.Entry, error) {
	if i >= r.Count {
		return sigcodec.Entry{}, fmt.Errorf("%w: index %d, count %d", ErrIndexOutOfRange, i, r.Count)
	}

	raw := r.entries[int(i)*entrySize : int(i+1)*entrySize]

	var e sigcodec.Entry
	copy(e.PublicKey[:], raw[0:32])
	copy(e.MessageDigest[:], raw[32:64])
	e.Passed = raw[64] == 1

	return e, nil
}

// AssembleFinalized rebuilds the stored form of a finalized record
// from header metadata and a packed entry region, the inverse of the
// split an export performs. The result passes DecodeRecord.
func AssembleFinalized(authority [32]byte, capacity, count uint32, entries []byte) ([]byte, error) {
	if capacity == 0 || capacity > MaxCapacity {
		return nil, fmt.Errorf("capacity %d out of range", capacity)
	}

	if count > capacity {
		return nil, fmt.Errorf("count %d exceeds capacity %d", count, capacity)
	}

	if len(entries) != int(count)*entrySize {
		return nil, fmt.Errorf("entry region is %d bytes, want %d for %d entries", len(entries), int(count)*entrySize, count)
	}

	r := &Record{
		Authority: authority,
		Capacity:  capacity,
		Count:     count,
		State:     StateFinalized,
		entries:   entries,
	}

	return r.Encode(), nil
}

// appendEntries writes decoded verification outcomes at the end of the
// entry region and advances the count. The caller checks capacity.
// The region is reallocated rather than grown in place; after decode
// it may alias the stored value, which must stay untouched.
func (r *Record) appendEntries(entries []sigcodec.Entry) {
	grown := make([]byte, len(r.entries)+len(entries)*entrySize)
	copy(grown, r.entries)

	for i, e := range entries {
		start := len(r.entries) + i*entrySize
		raw := grown[start : start+entrySize]

		copy(raw[0:32], e.PublicKey[:])
		copy(raw[32:64], e.MessageDigest[:])
		if e.Passed {
			raw[64] = 1
		}
	}

	r.entries = grown
	r.Count += uint32(len(entries))
}

// find scans the entries for the first one matching both the public
// key and the message digest. Returns the index and whether a match
// was found.
func (r *Record) find(pubkey, digest [32]byte) (uint32, bool) {
	for i := uint32(0); i < r.Count; i++ {
		raw := r.entries[int(i)*entrySize : int(i+1)*entrySize]

		if bytes.Equal(raw[0:32], pubkey[:]) && bytes.Equal(raw[32:64], digest[:]) {
			return i, true
		}
	}

	return 0, false
}
