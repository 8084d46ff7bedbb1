package engine

import (
	"fmt"

	"SigLedger/internal/archive"
	"SigLedger/internal/ledger"
	"SigLedger/internal/sigcodec"
)

// Header describes a record without its entries.
type Header struct {
	Address   ledger.Address // Address is the record's derived address
	Authority [32]byte       // Authority is the owning identity
	Capacity  uint32         // Capacity is the fixed entry limit
	Count     uint32         // Count is the occupied entry count
	State     ledger.State   // State is open or finalized
}

// Header returns a record's header. Unlike Entry and Find this works
// on open records too; clients reconcile against Count while a record
// is still filling.
func (e *Engine) Header(addr ledger.Address) (Header, error) {
	data, err := e.RecordBytes(addr)
	if err != nil {
		return Header{}, err
	}

	r, err := ledger.DecodeRecord(data)
	if err != nil {
		return Header{}, err
	}

	return Header{
		Address:   addr,
		Authority: r.Authority,
		Capacity:  r.Capacity,
		Count:     r.Count,
		State:     r.State,
	}, nil
}

// Count returns the authoritative entry count of a record.
func (e *Engine) Count(addr ledger.Address) (uint32, error) {
	h, err := e.Header(addr)
	if err != nil {
		return 0, err
	}

	return h.Count, nil
}

// Entry returns the outcome stored at index. The record must be
// finalized; outcomes of a record still filling are not readable.
func (e *Engine) Entry(addr ledger.Address, index uint32) (sigcodec.Entry, error) {
	data, err := e.db.Get(recordKey(addr))
	if err != nil {
		return sigcodec.Entry{}, fmt.Errorf("load record:\n%w", err)
	}

	return ledger.Check(data, index)
}

// Find locates the first entry matching pubkey and digest in a
// finalized record.
func (e *Engine) Find(addr ledger.Address, pubkey, digest [32]byte) (uint32, sigcodec.Entry, error) {
	data, err := e.db.Get(recordKey(addr))
	if err != nil {
		return 0, sigcodec.Entry{}, fmt.Errorf("load record:\n%w", err)
	}

	return ledger.Find(data, pubkey, digest)
}

// RecordBytes returns the raw stored value at an address, as written
// by the last committed step. An absent record is ErrNotOpen.
func (e *Engine) RecordBytes(addr ledger.Address) ([]byte, error) {
	data, err := e.db.Get(recordKey(addr))
	if err != nil {
		return nil, fmt.Errorf("load record:\n%w", err)
	}

	if data == nil {
		return nil, fmt.Errorf("%w: record does not exist", ledger.ErrNotOpen)
	}

	return data, nil
}

// Export packs a finalized record into its portable archive form.
// Absent records report NotFinalized, matching Entry and Find.
func (e *Engine) Export(addr ledger.Address) ([]byte, error) {
	data, err := e.db.Get(recordKey(addr))
	if err != nil {
		return nil, fmt.Errorf("load record:\n%w", err)
	}

	if data == nil {
		return nil, fmt.Errorf("%w: record does not exist", ledger.ErrNotFinalized)
	}

	return archive.BuildExport(addr, data)
}

// Receipt returns the retained receipt for a step hash. It consults
// the in-memory window first, then receipts persisted alongside their
// steps.
func (e *Engine) Receipt(hash [32]byte) (Receipt, bool) {
	if r, ok := e.receipts.get(hash); ok {
		return r, true
	}

	data, err := e.db.Get(receiptKey(hash))
	if err != nil || data == nil {
		return Receipt{}, false
	}

	r, err := DecodeReceipt(data)
	if err != nil {
		return Receipt{}, false
	}

	return r, true
}

// IterateRecords calls fn for every stored record. The archive sweep
// and the status endpoint scan through it.
func (e *Engine) IterateRecords(fn func(addr ledger.Address, data []byte) error) error {
	return e.db.IteratePrefix(prefixRecord, func(key, value []byte) error {
		if len(key) != len(prefixRecord)+32 {
			return nil
		}

		var addr ledger.Address
		copy(addr[:], key[len(prefixRecord):])

		return fn(addr, value)
	})
}
