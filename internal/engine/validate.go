package engine

import (
	"fmt"

	"SigLedger/internal/sigcodec"
	"SigLedger/internal/step"
)

// validateStep performs full validation of a step before sequencing.
// Size caps come first so an oversized envelope is dropped without
// parsing it. The returned Parsed is non-nil whenever the envelope
// itself was readable, even if validation failed afterwards.
func (e *Engine) validateStep(data []byte) (*step.Parsed, error) {
	if len(data) > e.params.MaxStepSize {
		return nil, fmt.Errorf("%w: step is %d bytes, limit %d", sigcodec.ErrPayloadTooLarge, len(data), e.params.MaxStepSize)
	}

	p, err := step.Parse(data)
	if err != nil {
		return nil, err
	}

	if len(p.Call) > e.params.MaxCallPayload {
		return p, fmt.Errorf("%w: call payload is %d bytes, limit %d", sigcodec.ErrPayloadTooLarge, len(p.Call), e.params.MaxCallPayload)
	}

	if err := p.Verify(); err != nil {
		return p, err
	}

	return p, nil
}
