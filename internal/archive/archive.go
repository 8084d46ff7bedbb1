// Package archive seals finalized aggregation records into portable
// export files. An export carries the record's identity, its packed
// entry region and a blake3 checksum inside a FlatBuffers table,
// compressed with zstd. A holder of the file can check entries
// without a node: the view answers through the same lookup code the
// node serves online, so both paths agree on every entry.
package archive

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"SigLedger/internal/ledger"
	"SigLedger/internal/sigcodec"
	"SigLedger/internal/types"
)

// ErrCorrupted reports an export that failed structural or checksum
// validation.
var ErrCorrupted = errors.New("export is corrupted")

// BuildExport packs a finalized record into a compressed export.
// recordBytes is the stored value at addr. Open records are refused;
// an export of a half-filled record would go stale on the next
// append.
func BuildExport(addr ledger.Address, recordBytes []byte) ([]byte, error) {
	if recordBytes == nil {
		return nil, fmt.Errorf("%w: record does not exist", ledger.ErrNotFinalized)
	}

	r, err := ledger.DecodeRecord(recordBytes)
	if err != nil {
		return nil, fmt.Errorf("decode record:\n%w", err)
	}

	if r.State != ledger.StateFinalized {
		return nil, fmt.Errorf("%w: record is %s", ledger.ErrNotFinalized, r.State)
	}

	checksum := computeChecksum(addr, r.Authority, r.Capacity, r.Count, r.EntriesBytes())

	builder := flatbuffers.NewBuilder(1024)

	addressOffset := builder.CreateByteVector(addr[:])
	authorityOffset := builder.CreateByteVector(r.Authority[:])
	entriesOffset := builder.CreateByteVector(r.EntriesBytes())
	checksumOffset := builder.CreateByteVector(checksum[:])

	types.RecordExportStart(builder)
	types.RecordExportAddAddress(builder, addressOffset)
	types.RecordExportAddAuthority(builder, authorityOffset)
	types.RecordExportAddCapacity(builder, r.Capacity)
	types.RecordExportAddCount(builder, r.Count)
	types.RecordExportAddEntries(builder, entriesOffset)
	types.RecordExportAddChecksum(builder, checksumOffset)
	offset := types.RecordExportEnd(builder)
	builder.Finish(offset)

	return compress(builder.FinishedBytes())
}

// Export is a validated, read-only view of an exported record.
type Export struct {
	Address   ledger.Address // Address is the record's on-node address
	Authority [32]byte       // Authority is the identity that owned the record
	Capacity  uint32         // Capacity is the fixed entry limit
	Count     uint32         // Count is the number of sealed entries

	stored []byte // stored is the record reassembled into storage form
}

// OpenExport decompresses and validates an export. Any tampering or
// truncation reports ErrCorrupted.
func OpenExport(data []byte) (*Export, error) {
	raw, err := decompress(data)
	if err != nil {
		return nil, fmt.Errorf("decompress export:\n%w", err)
	}

	p, err := parseExport(raw)
	if err != nil {
		return nil, err
	}

	computed := computeChecksum(p.address, p.authority, p.capacity, p.count, p.entries)
	if !bytes.Equal(computed[:], p.checksum) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupted)
	}

	stored, err := ledger.AssembleFinalized(p.authority, p.capacity, p.count, p.entries)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCorrupted, err)
	}

	return &Export{
		Address:   p.address,
		Authority: p.authority,
		Capacity:  p.capacity,
		Count:     p.count,
		stored:    stored,
	}, nil
}

// Entry returns the outcome stored at index.
func (e *Export) Entry(index uint32) (sigcodec.Entry, error) {
	return ledger.Check(e.stored, index)
}

// Find locates the first entry matching pubkey and digest.
func (e *Export) Find(pubkey, digest [32]byte) (uint32, sigcodec.Entry, error) {
	return ledger.Find(e.stored, pubkey, digest)
}

// parsedExport holds the raw export fields before validation.
type parsedExport struct {
	address   ledger.Address
	authority [32]byte
	capacity  uint32
	count     uint32
	entries   []byte
	checksum  []byte
}

// parseExport extracts the export fields, checking their shape.
// FlatBuffers accessors index the buffer through offsets stored in
// the buffer itself and panic when a corrupt table sends one out of
// bounds; the recover turns that into a validation error.
func parseExport(raw []byte) (p parsedExport, err error) {
	defer func() {
		if recover() != nil {
			p = parsedExport{}
			err = fmt.Errorf("%w: unreadable export table", ErrCorrupted)
		}
	}()

	if len(raw) == 0 {
		return parsedExport{}, fmt.Errorf("%w: export is empty", ErrCorrupted)
	}

	ex := types.GetRootAsRecordExport(raw, 0)

	if ex.AddressLength() != 32 {
		return parsedExport{}, fmt.Errorf("%w: address is %d bytes", ErrCorrupted, ex.AddressLength())
	}

	if ex.AuthorityLength() != 32 {
		return parsedExport{}, fmt.Errorf("%w: authority is %d bytes", ErrCorrupted, ex.AuthorityLength())
	}

	if ex.ChecksumLength() != 32 {
		return parsedExport{}, fmt.Errorf("%w: checksum is %d bytes", ErrCorrupted, ex.ChecksumLength())
	}

	copy(p.address[:], ex.AddressBytes())
	copy(p.authority[:], ex.AuthorityBytes())
	p.capacity = ex.Capacity()
	p.count = ex.Count()

	// Copy out of the FlatBuffers buffer; the view outlives raw.
	entries := ex.EntriesBytes()
	p.entries = make([]byte, len(entries))
	copy(p.entries, entries)

	checksum := ex.ChecksumBytes()
	p.checksum = make([]byte, len(checksum))
	copy(p.checksum, checksum)

	return p, nil
}

// computeChecksum computes a blake3 checksum over the canonical
// export fields.
// Format: address + authority + capacity (4 bytes BE) + count
// (4 bytes BE) + entry region length (4 bytes BE) + entry region
func computeChecksum(addr ledger.Address, authority [32]byte, capacity, count uint32, entries []byte) [32]byte {
	hasher := blake3.New()

	hasher.Write(addr[:])
	hasher.Write(authority[:])

	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], capacity)
	hasher.Write(buf[:])

	binary.BigEndian.PutUint32(buf[:], count)
	hasher.Write(buf[:])

	binary.BigEndian.PutUint32(buf[:], uint32(len(entries)))
	hasher.Write(buf[:])
	hasher.Write(entries)

	var checksum [32]byte
	hasher.Sum(checksum[:0])

	return checksum
}

// compress compresses an export with zstd.
func compress(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create encoder:\n%w", err)
	}
	defer encoder.Close()

	return encoder.EncodeAll(data, nil), nil
}

// decompress reverses compress.
func decompress(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create decoder:\n%w", err)
	}
	defer decoder.Close()

	return decoder.DecodeAll(data, nil)
}
