package engine

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// Receipt reports the outcome of one executed step.
type Receipt struct {
	StepHash [32]byte // StepHash identifies the step this receipt answers
	OK       bool     // OK reports whether the ledger accepted the step
	Code     uint16   // Code is the wire error code, CodeOK on success
	Count    uint32   // Count is the record's entry count where known
	Err      string   // Err is the failure message, empty on success
}

// Encode serializes a receipt for storage and transport.
// Format: [32B step hash] [1B ok] [2B code LE] [4B count LE] [2B err len LE] [err bytes]
func (r Receipt) Encode() []byte {
	buf := make([]byte, 41+len(r.Err))

	copy(buf[0:32], r.StepHash[:])
	if r.OK {
		buf[32] = 1
	}
	binary.LittleEndian.PutUint16(buf[33:35], r.Code)
	binary.LittleEndian.PutUint32(buf[35:39], r.Count)
	binary.LittleEndian.PutUint16(buf[39:41], uint16(len(r.Err)))
	copy(buf[41:], r.Err)

	return buf
}

// DecodeReceipt parses a serialized receipt.
func DecodeReceipt(data []byte) (Receipt, error) {
	if len(data) < 41 {
		return Receipt{}, fmt.Errorf("receipt too short: %d bytes", len(data))
	}

	errLen := int(binary.LittleEndian.Uint16(data[39:41]))
	if len(data) != 41+errLen {
		return Receipt{}, fmt.Errorf("receipt length %d does not match declared %d", len(data), 41+errLen)
	}

	var r Receipt
	copy(r.StepHash[:], data[0:32])
	r.OK = data[32] == 1
	r.Code = binary.LittleEndian.Uint16(data[33:35])
	r.Count = binary.LittleEndian.Uint32(data[35:39])
	r.Err = string(data[41:])

	return r, nil
}

// receiptRing retains receipts for recently executed steps so a
// resubmitted step returns its original outcome instead of running
// again. Once a receipt falls out of the window, a resubmission
// re-executes and the sequence check reports what actually happened.
type receiptRing struct {
	byHash map[[32]byte]Receipt // byHash maps step hash to its receipt
	order  [][32]byte           // order is the FIFO eviction ring
	next   int                  // next is the ring slot to overwrite
	size   int                  // size is the number of occupied slots
	mu     sync.RWMutex         // mu protects all fields
}

// newReceiptRing creates a ring retaining up to capacity receipts.
func newReceiptRing(capacity int) *receiptRing {
	return &receiptRing{
		byHash: make(map[[32]byte]Receipt, capacity),
		order:  make([][32]byte, capacity),
	}
}

// get returns the retained receipt for a step hash.
func (c *receiptRing) get(hash [32]byte) (Receipt, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r, ok := c.byHash[hash]
	return r, ok
}

// put retains a receipt, evicting the oldest once full. The first
// receipt for a hash wins; duplicates are ignored.
func (c *receiptRing) put(r Receipt) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.byHash[r.StepHash]; exists {
		return
	}

	if c.size == len(c.order) {
		delete(c.byHash, c.order[c.next])
	} else {
		c.size++
	}

	c.order[c.next] = r.StepHash
	c.next = (c.next + 1) % len(c.order)
	c.byHash[r.StepHash] = r
}
