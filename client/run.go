package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/sethvargo/go-retry"

	"SigLedger/internal/engine"
	"SigLedger/internal/ledger"
	"SigLedger/internal/logger"
	"SigLedger/internal/sigcodec"
)

// PlanForNode partitions claims against the node's advertised payload
// budget. The budget is an environment constant the node reports, not
// something the client hard-codes.
func (o *Orchestrator) PlanForNode(ctx context.Context, claims []sigcodec.Claim) ([]Batch, error) {
	var params engine.Params

	err := o.withRetry(ctx, func(ctx context.Context) error {
		p, err := o.transport.GetParams(ctx)
		if err != nil {
			return err
		}
		params = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read node params:\n%w", err)
	}

	return Plan(claims, params.MaxCallPayload)
}

// Run executes a full aggregation: it derives a fresh record address,
// initializes it with capacity equal to the plan's total, then
// submits every batch in order. On success the record is finalized
// and the result's Count equals the plan's total.
func (o *Orchestrator) Run(ctx context.Context, batches []Batch) (Result, error) {
	seed, err := freshSeed()
	if err != nil {
		return Result{}, err
	}

	return o.Resume(ctx, batches, seed)
}

// Resume continues a run identified by its plan and seed. It
// re-derives the record address, reads the authoritative count, and
// submits only the batches not yet confirmed. The progress cursor is
// an optimization; correctness always comes from the record's count.
// Resuming a completed run reports success without submitting
// anything.
func (o *Orchestrator) Resume(ctx context.Context, batches []Batch, seed uint64) (Result, error) {
	if len(batches) == 0 {
		return Result{}, fmt.Errorf("%w: empty plan", sigcodec.ErrEmptyInput)
	}

	addr := ledger.DeriveAddress(o.Authority(), seed)
	total := planTotal(batches)
	result := Result{Address: addr, Seed: seed}

	cursor, err := o.prepare(ctx, addr, seed, total)
	if err != nil {
		return result, err
	}
	result.Count = cursor

	for i := 0; i < len(batches); {
		batch := batches[i]

		if batch.End() <= cursor {
			// Confirmed on the record, nothing to submit.
			i++
			continue
		}

		if batch.Start != cursor {
			return result, fmt.Errorf("record count %d sits on no batch boundary: %s has writes this plan did not make", cursor, addr)
		}

		call, err := sigcodec.EncodeCall(batch.Claims, 0)
		if err != nil {
			return result, fmt.Errorf("encode batch at %d:\n%w", batch.Start, err)
		}

		data, hash := o.buildStep(addr, call, ledger.EncodeAppend(batch.Start), stepNonce(batch))

		receipt, err := o.submit(ctx, data, hash)
		if err != nil {
			return result, &TransportError{Confirmed: cursor, Err: err}
		}

		switch {
		case receipt.OK:
			cursor = receipt.Count
			result.Count = cursor
			i++

		case receipt.Code == ledger.CodeSequenceViolation:
			// A previous attempt landed without a confirmation. The
			// record's count is the truth; realign to it and let the
			// boundary check above judge the new position.
			count, err := o.readCount(ctx, addr)
			if err != nil {
				return result, &TransportError{Confirmed: cursor, Err: err}
			}

			if count <= cursor {
				return result, fmt.Errorf("sequence violation at %d with record count %d: another writer holds this record", batch.Start, count)
			}

			logger.Info("realigned after sequence violation", "record", addr.String(), "count", count)
			cursor = count
			result.Count = cursor

		default:
			return result, fmt.Errorf("append at %d rejected: %s:\n%w", batch.Start, receipt.Err, ledger.CodeError(receipt.Code))
		}
	}

	result.Count = cursor

	return result, nil
}

// Seal finalizes a record early, freezing unused capacity. Sealing a
// record that is already finalized reports success.
func (o *Orchestrator) Seal(ctx context.Context, addr ledger.Address) error {
	data, hash := o.buildStep(addr, nil, ledger.EncodeFinalize(), 0)

	receipt, err := o.submit(ctx, data, hash)
	if err != nil {
		return fmt.Errorf("finalize:\n%w", err)
	}

	if receipt.OK {
		return nil
	}

	if receipt.Code == ledger.CodeNotOpen {
		header, herr := o.readHeader(ctx, addr)
		if herr == nil && header.State == ledger.StateFinalized {
			return nil
		}
	}

	return fmt.Errorf("finalize rejected: %s:\n%w", receipt.Err, ledger.CodeError(receipt.Code))
}

// Discard closes a finalized record, reclaiming its storage. The
// record stops answering reads; keep an export if the outcome still
// matters.
func (o *Orchestrator) Discard(ctx context.Context, addr ledger.Address) error {
	data, hash := o.buildStep(addr, nil, ledger.EncodeClose(), 0)

	receipt, err := o.submit(ctx, data, hash)
	if err != nil {
		return fmt.Errorf("close:\n%w", err)
	}

	if !receipt.OK {
		return fmt.Errorf("close rejected: %s:\n%w", receipt.Err, ledger.CodeError(receipt.Code))
	}

	return nil
}

// prepare puts the record in a known state and returns the confirmed
// count to continue from. A missing record is initialized, an open
// one adopted as it stands, a finalized one accepted only when
// complete.
func (o *Orchestrator) prepare(ctx context.Context, addr ledger.Address, seed uint64, total uint32) (uint32, error) {
	header, err := o.readHeader(ctx, addr)
	if errors.Is(err, ledger.ErrNotOpen) {
		return 0, o.initialize(ctx, addr, seed, total)
	}
	if err != nil {
		return 0, &TransportError{Confirmed: 0, Err: err}
	}

	if header.Capacity != total {
		return 0, fmt.Errorf("record %s has capacity %d, plan carries %d claims: resumed with the wrong plan", addr, header.Capacity, total)
	}

	if header.State == ledger.StateFinalized && header.Count != total {
		return 0, fmt.Errorf("record %s was sealed at %d of %d entries", addr, header.Count, total)
	}

	return header.Count, nil
}

// initialize creates the record with capacity equal to the plan
// total.
func (o *Orchestrator) initialize(ctx context.Context, addr ledger.Address, seed uint64, total uint32) error {
	data, hash := o.buildStep(addr, nil, ledger.EncodeInitialize(total, seed), 0)

	receipt, err := o.submit(ctx, data, hash)
	if err != nil {
		return &TransportError{Confirmed: 0, Err: err}
	}

	if !receipt.OK {
		return fmt.Errorf("initialize rejected: %s:\n%w", receipt.Err, ledger.CodeError(receipt.Code))
	}

	logger.Debug("record initialized", "record", addr.String(), "capacity", total)

	return nil
}

// submit delivers one step, retrying transport failures with capped,
// jittered exponential backoff. A failed attempt first asks for the
// step's receipt, in case the step landed and only the answer was
// lost.
func (o *Orchestrator) submit(ctx context.Context, data []byte, hash [32]byte) (engine.Receipt, error) {
	var receipt engine.Receipt

	err := retry.Do(ctx, o.backoff(), func(ctx context.Context) error {
		r, err := o.transport.SubmitStep(ctx, data)
		if err == nil {
			receipt = r
			return nil
		}

		if r, ok, rerr := o.transport.GetReceipt(ctx, hash); rerr == nil && ok {
			receipt = r
			return nil
		}

		return retry.RetryableError(fmt.Errorf("submit step:\n%w", err))
	})
	if err != nil {
		return engine.Receipt{}, err
	}

	return receipt, nil
}

// readHeader reads the record header, retrying transport failures.
func (o *Orchestrator) readHeader(ctx context.Context, addr ledger.Address) (engine.Header, error) {
	var header engine.Header

	err := o.withRetry(ctx, func(ctx context.Context) error {
		h, err := o.transport.GetHeader(ctx, addr)
		if err != nil {
			return err
		}
		header = h
		return nil
	})

	return header, err
}

// readCount reads the authoritative entry count, retrying transport
// failures.
func (o *Orchestrator) readCount(ctx context.Context, addr ledger.Address) (uint32, error) {
	var count uint32

	err := o.withRetry(ctx, func(ctx context.Context) error {
		c, err := o.transport.GetCount(ctx, addr)
		if err != nil {
			return err
		}
		count = c
		return nil
	})

	return count, err
}

// withRetry runs fn under the orchestrator's backoff. Errors carrying
// a protocol code are definitive answers and pass through unretried;
// everything else is treated as transport trouble.
func (o *Orchestrator) withRetry(ctx context.Context, fn func(context.Context) error) error {
	return retry.Do(ctx, o.backoff(), func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		if ledger.ErrorCode(err) != ledger.CodeInternal {
			return err
		}

		return retry.RetryableError(err)
	})
}

// backoff builds a fresh retry schedule. WithMaxRetries counts state,
// so every retry loop needs its own.
func (o *Orchestrator) backoff() retry.Backoff {
	b := retry.NewExponential(o.baseDelay)
	b = retry.WithCappedDuration(o.maxDelay, b)
	b = retry.WithJitter(retryJitter, b)

	return retry.WithMaxRetries(o.maxRetries, b)
}

// stepNonce derives the deterministic nonce for a batch's step. A
// retried or resumed step is byte-identical to its first submission,
// so the node's receipt window answers it instead of re-executing.
func stepNonce(batch Batch) uint64 {
	return uint64(batch.Start) + 1
}
