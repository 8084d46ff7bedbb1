package sigcodec

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// callLayout holds the byte positions assigned to each claim's parts.
// Positions are absolute offsets into the encoded call.
type callLayout struct {
	size   int   // size is the total encoded length
	msgOff []int // msgOff is the message offset per claim
	sigOff []int // sigOff is the signature offset per claim
	pkOff  []int // pkOff is the public key offset per claim
}

// EncodeCall builds the facility call payload for the given claims,
// preserving their order in the eventual result. A budget > 0 bounds
// the encoded size; ErrPayloadTooLarge reports a call that cannot fit
// it. Repeated public keys and messages already contained at the start
// of an earlier claim's message are encoded once and referenced.
//
// Format: [1B count] [1B zero] [count x 14B offsets] [packed bytes],
// each offsets entry holding seven u16 LE fields: signature offset,
// signature index, pubkey offset, pubkey index, message offset,
// message size, message index. Index fields are always 0xFFFF.
func EncodeCall(claims []Claim, budget int) ([]byte, error) {
	lay, err := layoutCall(claims)
	if err != nil {
		return nil, err
	}

	if budget > 0 && lay.size > budget {
		return nil, fmt.Errorf("%w: encoded call is %d bytes, budget %d", ErrPayloadTooLarge, lay.size, budget)
	}

	buf := make([]byte, lay.size)
	buf[0] = byte(len(claims))
	buf[1] = 0

	for i, c := range claims {
		entry := buf[headerSize+i*offsetsSize:]
		binary.LittleEndian.PutUint16(entry[0:2], uint16(lay.sigOff[i]))
		binary.LittleEndian.PutUint16(entry[2:4], selfIndex)
		binary.LittleEndian.PutUint16(entry[4:6], uint16(lay.pkOff[i]))
		binary.LittleEndian.PutUint16(entry[6:8], selfIndex)
		binary.LittleEndian.PutUint16(entry[8:10], uint16(lay.msgOff[i]))
		binary.LittleEndian.PutUint16(entry[10:12], uint16(len(c.Message)))
		binary.LittleEndian.PutUint16(entry[12:14], selfIndex)

		copy(buf[lay.msgOff[i]:], c.Message)
		copy(buf[lay.sigOff[i]:], c.Signature[:])
		copy(buf[lay.pkOff[i]:], c.PublicKey[:])
	}

	return buf, nil
}

// CallSize returns the exact encoded size of the call for the given
// claims, accounting for deduplication. Used by batch planning.
func CallSize(claims []Claim) (int, error) {
	lay, err := layoutCall(claims)
	if err != nil {
		return 0, err
	}

	return lay.size, nil
}

// layoutCall assigns packed-region positions to every claim part.
// A claim's message reuses the position of an earlier message that
// starts with it; a claim's public key reuses the position of an
// identical earlier key. Signatures are never shared.
func layoutCall(claims []Claim) (*callLayout, error) {
	if len(claims) == 0 {
		return nil, ErrEmptyInput
	}

	if len(claims) > MaxCallEntries {
		return nil, fmt.Errorf("%w: %d claims exceed %d per call", ErrPayloadTooLarge, len(claims), MaxCallEntries)
	}

	n := len(claims)
	lay := &callLayout{
		msgOff: make([]int, n),
		sigOff: make([]int, n),
		pkOff:  make([]int, n),
	}

	size := headerSize + n*offsetsSize

	for i := range claims {
		c := &claims[i]

		if len(c.Message) > MaxMessageSize {
			return nil, fmt.Errorf("%w: claim %d message is %d bytes, limit %d", ErrPayloadTooLarge, i, len(c.Message), MaxMessageSize)
		}

		lay.msgOff[i] = -1
		for j := 0; j < i; j++ {
			if bytes.HasPrefix(claims[j].Message, c.Message) {
				lay.msgOff[i] = lay.msgOff[j]
				break
			}
		}
		if lay.msgOff[i] < 0 {
			lay.msgOff[i] = size
			size += len(c.Message)
		}

		lay.sigOff[i] = size
		size += SignatureSize

		lay.pkOff[i] = -1
		for j := 0; j < i; j++ {
			if claims[j].PublicKey == c.PublicKey {
				lay.pkOff[i] = lay.pkOff[j]
				break
			}
		}
		if lay.pkOff[i] < 0 {
			lay.pkOff[i] = size
			size += PublicKeySize
		}
	}

	// Offsets are u16; the whole call must stay addressable.
	if size > MaxMessageSize {
		return nil, fmt.Errorf("%w: encoded call is %d bytes, layout limit %d", ErrPayloadTooLarge, size, MaxMessageSize)
	}

	lay.size = size

	return lay, nil
}
