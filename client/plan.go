package client

import (
	"fmt"

	"SigLedger/internal/sigcodec"
)

// Batch is one payload-bounded group of consecutive claims, bound to
// exactly one step.
type Batch struct {
	Start  uint32           // Start is the record index of the batch's first entry
	Claims []sigcodec.Claim // Claims in original order
}

// End returns the record index one past the batch's last entry.
func (b Batch) End() uint32 {
	return b.Start + uint32(len(b.Claims))
}

// Plan greedily partitions claims into the minimum number of ordered
// batches whose encoded call payload fits the budget. No claim is
// split across batches and concatenating the batches in order
// reproduces claims exactly. A claim that cannot fit the budget even
// alone fails with ErrPayloadTooLarge before anything is submitted.
func Plan(claims []sigcodec.Claim, budget int) ([]Batch, error) {
	if len(claims) == 0 {
		return nil, fmt.Errorf("%w: no claims to aggregate", sigcodec.ErrEmptyInput)
	}

	if budget <= 0 {
		return nil, fmt.Errorf("payload budget %d is not positive", budget)
	}

	var batches []Batch

	start := 0
	for start < len(claims) {
		n, err := batchLen(claims[start:], budget)
		if err != nil {
			return nil, fmt.Errorf("claim %d:\n%w", start, err)
		}

		batches = append(batches, Batch{
			Start:  uint32(start),
			Claims: claims[start : start+n],
		})
		start += n
	}

	return batches, nil
}

// planTotal returns the claim count across all batches, which is the
// record capacity a run initializes with.
func planTotal(batches []Batch) uint32 {
	if len(batches) == 0 {
		return 0
	}

	return batches[len(batches)-1].End()
}

// batchLen finds the largest claim prefix whose encoded call fits the
// budget. Deduplication makes the call size non-additive, so each
// candidate prefix is sized as a whole.
func batchLen(claims []sigcodec.Claim, budget int) (int, error) {
	size, err := sigcodec.CallSize(claims[:1])
	if err != nil {
		return 0, err
	}

	if size > budget {
		return 0, fmt.Errorf("%w: a single claim needs %d bytes against a budget of %d", sigcodec.ErrPayloadTooLarge, size, budget)
	}

	n := 1
	for n < len(claims) && n < sigcodec.MaxCallEntries {
		size, err = sigcodec.CallSize(claims[:n+1])
		if err != nil || size > budget {
			// Either over budget or over the layout's own limits;
			// the next batch starts here.
			break
		}
		n++
	}

	return n, nil
}
