package sigcodec

import (
	"encoding/binary"
	"fmt"
)

// CallEntry is one claim as laid out inside a call payload.
// Slices are views into the parsed buffer, valid as long as it is.
type CallEntry struct {
	Signature []byte // Signature is the 64-byte signature
	PublicKey []byte // PublicKey is the 32-byte key
	Message   []byte // Message is the signed payload
}

// Call is a parsed facility call payload.
type Call struct {
	data  []byte
	count int
}

// ParseCall validates a call payload's header and offset table and
// returns a random-access view over its entries. Entry bounds are
// checked on access; the buffer is untrusted and nothing is read
// before its range is proven to lie inside the buffer.
func ParseCall(data []byte) (*Call, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: call is %d bytes, header needs %d", ErrMalformedProof, len(data), headerSize)
	}

	count := int(data[0])
	if data[1] != 0 {
		return nil, fmt.Errorf("%w: reserved header byte is 0x%02x", ErrMalformedProof, data[1])
	}

	if count == 0 {
		return nil, fmt.Errorf("%w: call declares zero entries", ErrMalformedProof)
	}

	if len(data) < headerSize+count*offsetsSize {
		return nil, fmt.Errorf("%w: call declares %d entries but holds %d bytes", ErrMalformedProof, count, len(data))
	}

	return &Call{data: data, count: count}, nil
}

// Len returns the number of entries the call declares.
func (c *Call) Len() int {
	return c.count
}

// Bytes returns the underlying call payload.
func (c *Call) Bytes() []byte {
	return c.data
}

// At extracts entry i, bounds-checking every referenced range.
func (c *Call) At(i int) (CallEntry, error) {
	if i < 0 || i >= c.count {
		return CallEntry{}, fmt.Errorf("%w: entry %d of %d", ErrMalformedProof, i, c.count)
	}

	off := c.data[headerSize+i*offsetsSize : headerSize+(i+1)*offsetsSize]

	sigOff := int(binary.LittleEndian.Uint16(off[0:2]))
	sigIdx := binary.LittleEndian.Uint16(off[2:4])
	pkOff := int(binary.LittleEndian.Uint16(off[4:6]))
	pkIdx := binary.LittleEndian.Uint16(off[6:8])
	msgOff := int(binary.LittleEndian.Uint16(off[8:10]))
	msgSize := int(binary.LittleEndian.Uint16(off[10:12]))
	msgIdx := binary.LittleEndian.Uint16(off[12:14])

	if sigIdx != selfIndex || pkIdx != selfIndex || msgIdx != selfIndex {
		return CallEntry{}, fmt.Errorf("%w: entry %d references another instruction", ErrMalformedProof, i)
	}

	if sigOff+SignatureSize > len(c.data) {
		return CallEntry{}, fmt.Errorf("%w: entry %d signature at %d overruns %d bytes", ErrMalformedProof, i, sigOff, len(c.data))
	}

	if pkOff+PublicKeySize > len(c.data) {
		return CallEntry{}, fmt.Errorf("%w: entry %d public key at %d overruns %d bytes", ErrMalformedProof, i, pkOff, len(c.data))
	}

	if msgOff+msgSize > len(c.data) {
		return CallEntry{}, fmt.Errorf("%w: entry %d message at %d+%d overruns %d bytes", ErrMalformedProof, i, msgOff, msgSize, len(c.data))
	}

	return CallEntry{
		Signature: c.data[sigOff : sigOff+SignatureSize],
		PublicKey: c.data[pkOff : pkOff+PublicKeySize],
		Message:   c.data[msgOff : msgOff+msgSize],
	}, nil
}

// Results is a decoded facility result: the original call payload
// followed by one verdict byte per entry, fully validated.
type Results struct {
	callBytes []byte
	entries   []Entry
}

// DecodeResults validates a facility result buffer and decodes every
// entry up front. The trailing verdict region must hold exactly one
// byte per declared entry and every entry's offsets must resolve
// inside the call region; any violation is ErrMalformedProof and no
// partial result is returned.
func DecodeResults(raw []byte) (*Results, error) {
	if len(raw) < headerSize {
		return nil, fmt.Errorf("%w: result is %d bytes, header needs %d", ErrMalformedProof, len(raw), headerSize)
	}

	count := int(raw[0])
	if count == 0 {
		return nil, fmt.Errorf("%w: result declares zero entries", ErrMalformedProof)
	}

	if len(raw) < headerSize+count*offsetsSize+count {
		return nil, fmt.Errorf("%w: result declares %d entries but holds %d bytes", ErrMalformedProof, count, len(raw))
	}

	split := len(raw) - count
	call, err := ParseCall(raw[:split])
	if err != nil {
		return nil, err
	}

	verdicts := raw[split:]
	for i, v := range verdicts {
		if v > 1 {
			return nil, fmt.Errorf("%w: entry %d verdict byte is 0x%02x", ErrMalformedProof, i, v)
		}
	}

	entries := make([]Entry, count)
	for i := range entries {
		ce, err := call.At(i)
		if err != nil {
			return nil, err
		}

		copy(entries[i].PublicKey[:], ce.PublicKey)
		entries[i].MessageDigest = Digest(ce.Message)
		entries[i].Passed = verdicts[i] == 1
	}

	return &Results{callBytes: call.Bytes(), entries: entries}, nil
}

// Len returns the number of entries in the result.
func (r *Results) Len() int {
	return len(r.entries)
}

// CallBytes returns the call region of the result, byte-identical to
// the payload the facility was invoked with.
func (r *Results) CallBytes() []byte {
	return r.callBytes
}

// At returns decoded entry i.
func (r *Results) At(i int) (Entry, error) {
	if i < 0 || i >= len(r.entries) {
		return Entry{}, fmt.Errorf("%w: entry %d of %d", ErrMalformedProof, i, len(r.entries))
	}

	return r.entries[i], nil
}

// Entries returns all decoded entries in claim order.
func (r *Results) Entries() []Entry {
	return r.entries
}
