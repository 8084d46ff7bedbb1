package ledger

import (
	"encoding/binary"
	"fmt"

	"SigLedger/internal/sigcodec"
)

// Tag identifies a ledger instruction.
type Tag uint8

const (
	TagInitialize Tag = 0
	TagAppend     Tag = 1
	TagFinalize   Tag = 2
	TagClose      Tag = 3
)

// String returns the instruction name for logs and receipts.
func (t Tag) String() string {
	switch t {
	case TagInitialize:
		return "initialize"
	case TagAppend:
		return "append"
	case TagFinalize:
		return "finalize"
	case TagClose:
		return "close"
	default:
		return fmt.Sprintf("tag(%d)", uint8(t))
	}
}

// Instruction is a decoded ledger instruction. Fields beyond Tag are
// meaningful only for the tags that carry them.
type Instruction struct {
	Tag           Tag    // Tag selects the operation
	Capacity      uint32 // Capacity is the record size, initialize only
	Seed          uint64 // Seed feeds the address derivation, initialize only
	ExpectedIndex uint32 // ExpectedIndex is the sequencing guard, append only
}

// EncodeInitialize encodes an initialize instruction.
// Format: [1B tag=0] [4B capacity u32 LE] [8B seed u64 LE]
func EncodeInitialize(capacity uint32, seed uint64) []byte {
	buf := make([]byte, 13)
	buf[0] = byte(TagInitialize)
	binary.LittleEndian.PutUint32(buf[1:5], capacity)
	binary.LittleEndian.PutUint64(buf[5:13], seed)

	return buf
}

// EncodeAppend encodes an append instruction.
// Format: [1B tag=1] [4B expected index u32 LE]
func EncodeAppend(expectedIndex uint32) []byte {
	buf := make([]byte, 5)
	buf[0] = byte(TagAppend)
	binary.LittleEndian.PutUint32(buf[1:5], expectedIndex)

	return buf
}

// EncodeFinalize encodes a finalize instruction.
// Format: [1B tag=2]
func EncodeFinalize() []byte {
	return []byte{byte(TagFinalize)}
}

// EncodeClose encodes a close instruction.
// Format: [1B tag=3]
func EncodeClose() []byte {
	return []byte{byte(TagClose)}
}

// DecodeInstruction parses an instruction buffer. The length must
// match the tag exactly; trailing bytes are rejected.
func DecodeInstruction(data []byte) (Instruction, error) {
	if len(data) == 0 {
		return Instruction{}, fmt.Errorf("%w: empty instruction", sigcodec.ErrMalformedProof)
	}

	in := Instruction{Tag: Tag(data[0])}
	body := data[1:]

	switch in.Tag {
	case TagInitialize:
		if len(body) != 12 {
			return Instruction{}, fmt.Errorf("%w: initialize body is %d bytes, want 12", sigcodec.ErrMalformedProof, len(body))
		}
		in.Capacity = binary.LittleEndian.Uint32(body[0:4])
		in.Seed = binary.LittleEndian.Uint64(body[4:12])

	case TagAppend:
		if len(body) != 4 {
			return Instruction{}, fmt.Errorf("%w: append body is %d bytes, want 4", sigcodec.ErrMalformedProof, len(body))
		}
		in.ExpectedIndex = binary.LittleEndian.Uint32(body[0:4])

	case TagFinalize, TagClose:
		if len(body) != 0 {
			return Instruction{}, fmt.Errorf("%w: %s carries %d unexpected bytes", sigcodec.ErrMalformedProof, in.Tag, len(body))
		}

	default:
		return Instruction{}, fmt.Errorf("%w: unknown instruction tag %d", sigcodec.ErrMalformedProof, data[0])
	}

	return in, nil
}
