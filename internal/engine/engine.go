// Package engine executes signed steps against stored aggregation
// records. A single sequencer goroutine consumes submissions one at a
// time, which gives every record a total order of instructions without
// per-record locking. Reads never enter the sequencer; they hit
// storage directly and observe the latest committed value.
package engine

import (
	"encoding/hex"
	"fmt"
	"sync"

	"SigLedger/internal/ledger"
	"SigLedger/internal/logger"
	"SigLedger/internal/sigcodec"
	"SigLedger/internal/step"
	"SigLedger/internal/storage"
	"SigLedger/internal/verifier"
)

const (
	// DefaultMaxCallPayload caps the facility call bytes in one step.
	DefaultMaxCallPayload = 800

	// DefaultMaxStepSize caps a full step envelope.
	DefaultMaxStepSize = 65536

	// inboxBuffer is the buffer size of the submission channel.
	inboxBuffer = 1024

	// receiptWindow is how many receipts the in-memory ring retains.
	receiptWindow = 4096
)

// Key prefixes for storage.
var (
	prefixRecord  = []byte("r:") // r:<address> -> record bytes
	prefixReceipt = []byte("x:") // x:<step hash> -> receipt bytes
)

// Params bounds what a node accepts per step. Clients read them from
// the node instead of assuming protocol constants.
type Params struct {
	MaxCallPayload int // MaxCallPayload is the per-step call payload limit in bytes
	MaxStepSize    int // MaxStepSize is the whole-envelope limit in bytes
}

// Engine owns the sequencer and the stored records.
type Engine struct {
	db       *storage.Storage
	verifier verifier.Verifier
	params   Params

	inbox     chan *task
	committed chan Receipt
	receipts  *receiptRing

	stop chan struct{}
	wg   sync.WaitGroup
}

// task is one submission waiting for the sequencer.
type task struct {
	parsed *step.Parsed
	resp   chan Receipt
}

// New creates an engine over the given storage and starts its
// sequencer. Zero params fall back to the defaults.
func New(db *storage.Storage, v verifier.Verifier, params Params) *Engine {
	if params.MaxCallPayload == 0 {
		params.MaxCallPayload = DefaultMaxCallPayload
	}
	if params.MaxStepSize == 0 {
		params.MaxStepSize = DefaultMaxStepSize
	}

	e := &Engine{
		db:        db,
		verifier:  v,
		params:    params,
		inbox:     make(chan *task, inboxBuffer),
		committed: make(chan Receipt, inboxBuffer),
		receipts:  newReceiptRing(receiptWindow),
		stop:      make(chan struct{}),
	}

	e.wg.Add(1)
	go e.run()

	return e
}

// Params returns the node's per-step limits.
func (e *Engine) Params() Params {
	return e.params
}

// Committed returns the channel of receipts for executed steps.
func (e *Engine) Committed() <-chan Receipt {
	return e.committed
}

// Close stops the sequencer. Committed steps stay durable; queued but
// unexecuted submissions are dropped and their callers unblocked.
func (e *Engine) Close() {
	close(e.stop)
	e.wg.Wait()
}

// Submit validates a step, runs it through the sequencer, and returns
// its receipt. A byte-identical resubmission of a recently executed
// step returns the original receipt without running again.
func (e *Engine) Submit(data []byte) Receipt {
	p, err := e.validateStep(data)
	if err != nil {
		var hash [32]byte
		if p != nil {
			hash = p.Hash
		}
		return Receipt{StepHash: hash, Code: ledger.ErrorCode(err), Err: err.Error()}
	}

	if r, ok := e.receipts.get(p.Hash); ok {
		return r
	}

	t := &task{parsed: p, resp: make(chan Receipt, 1)}

	select {
	case e.inbox <- t:
	case <-e.stop:
		return Receipt{StepHash: p.Hash, Code: ledger.CodeInternal, Err: "engine stopped"}
	}

	select {
	case r := <-t.resp:
		return r
	case <-e.stop:
		return Receipt{StepHash: p.Hash, Code: ledger.CodeInternal, Err: "engine stopped"}
	}
}

// run is the sequencer loop. Every state mutation in the engine
// happens on this goroutine.
func (e *Engine) run() {
	defer e.wg.Done()

	for {
		select {
		case t := <-e.inbox:
			t.resp <- e.execute(t.parsed)
		case <-e.stop:
			return
		}
	}
}

// execute applies one validated step and commits the outcome.
func (e *Engine) execute(p *step.Parsed) Receipt {
	// A duplicate may have slipped past the Submit-side check while
	// its twin was still in the inbox.
	if r, ok := e.receipts.get(p.Hash); ok {
		return r
	}

	inst, err := ledger.DecodeInstruction(p.Instruction)
	if err != nil {
		return e.fail(p, nil, err)
	}

	addr := ledger.Address(p.Record)

	// The record address is bound to signer and seed. An initialize
	// step naming any other address would plant a record the signer
	// could never re-derive.
	if inst.Tag == ledger.TagInitialize {
		if derived := ledger.DeriveAddress(p.Signer, inst.Seed); derived != addr {
			return e.fail(p, nil, fmt.Errorf("%w: record address does not derive from signer and seed", sigcodec.ErrMalformedProof))
		}
	}

	existing, err := e.db.Get(recordKey(addr))
	if err != nil {
		return e.fail(p, nil, fmt.Errorf("load record:\n%w", err))
	}

	var result []byte
	if len(p.Call) > 0 {
		result, err = e.verifier.VerifyCall(p.Call)
		if err != nil {
			return e.fail(p, existing, err)
		}
	}

	var rec *ledger.Record

	switch inst.Tag {
	case ledger.TagInitialize:
		rec, err = ledger.Initialize(existing, p.Signer, inst.Capacity)
	case ledger.TagAppend:
		rec, err = ledger.Append(existing, p.Signer, inst.ExpectedIndex, p.Call, result)
	case ledger.TagFinalize:
		rec, err = ledger.Finalize(existing, p.Signer)
	case ledger.TagClose:
		err = ledger.Close(existing, p.Signer)
	}

	if err != nil {
		return e.fail(p, existing, err)
	}

	receipt := Receipt{StepHash: p.Hash, OK: true, Code: ledger.CodeOK}
	ops := make([]storage.Op, 0, 2)

	if inst.Tag == ledger.TagClose {
		ops = append(ops, storage.Op{Key: recordKey(addr), Delete: true})
	} else {
		receipt.Count = rec.Count
		ops = append(ops, storage.Op{Key: recordKey(addr), Value: rec.Encode()})
	}

	ops = append(ops, storage.Op{Key: receiptKey(p.Hash), Value: receipt.Encode()})

	if err := e.db.Apply(ops); err != nil {
		logger.Error("step commit failed",
			"step", shortHex(p.Hash[:]),
			"error", err,
		)
		return Receipt{StepHash: p.Hash, Code: ledger.CodeInternal, Err: "commit failed"}
	}

	e.receipts.put(receipt)
	e.emit(receipt)

	logger.Debug("step applied",
		"op", inst.Tag,
		"record", shortHex(addr[:]),
		"count", receipt.Count,
	)

	return receipt
}

// fail builds, retains, and emits the receipt for a rejected step.
// Internal failures are not retained: they may be transient and must
// not pin a resubmission to the same outcome.
func (e *Engine) fail(p *step.Parsed, existing []byte, err error) Receipt {
	r := Receipt{
		StepHash: p.Hash,
		Code:     ledger.ErrorCode(err),
		Count:    currentCount(existing),
		Err:      err.Error(),
	}

	if r.Code != ledger.CodeInternal {
		e.receipts.put(r)
	}
	e.emit(r)

	logger.Debug("step rejected",
		"step", shortHex(p.Hash[:]),
		"code", r.Code,
		"error", err,
	)

	return r
}

// emit delivers a receipt to the committed channel.
func (e *Engine) emit(r Receipt) {
	select {
	case e.committed <- r:
	case <-e.stop:
	}
}

// currentCount extracts the entry count from a stored record so a
// rejected step still tells the submitter where the record stands.
func currentCount(existing []byte) uint32 {
	if existing == nil {
		return 0
	}

	r, err := ledger.DecodeRecord(existing)
	if err != nil {
		return 0
	}

	return r.Count
}

// recordKey creates the storage key for a record address.
func recordKey(addr ledger.Address) []byte {
	key := make([]byte, len(prefixRecord)+32)
	copy(key, prefixRecord)
	copy(key[len(prefixRecord):], addr[:])
	return key
}

// receiptKey creates the storage key for a step receipt.
func receiptKey(hash [32]byte) []byte {
	key := make([]byte, len(prefixReceipt)+32)
	copy(key, prefixReceipt)
	copy(key[len(prefixReceipt):], hash[:])
	return key
}

// shortHex renders a key prefix for logs.
func shortHex(b []byte) string {
	if len(b) > 8 {
		b = b[:8]
	}
	return hex.EncodeToString(b)
}
