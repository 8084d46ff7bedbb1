// Package network carries the step protocol over QUIC. A client opens
// one bidirectional stream per request, writes a single framed
// request and reads a single framed response. Submissions and reads
// share the connection; the node orders submissions internally, so
// the transport needs no ordering of its own.
package network

import (
	"encoding/binary"
	"fmt"
	"io"

	"SigLedger/internal/engine"
	"SigLedger/internal/ledger"
	"SigLedger/internal/sigcodec"
)

const (
	// maxMessageSize is the maximum allowed message size (16 MB).
	maxMessageSize = 16 << 20

	// lengthPrefixSize is the size of the length prefix in bytes.
	lengthPrefixSize = 4

	// alpnProtocol is the ALPN protocol identifier.
	alpnProtocol = "sigledger/1"
)

// Request message types.
const (
	MsgSubmitStep uint8 = 1
	MsgGetParams  uint8 = 2
	MsgGetHeader  uint8 = 3
	MsgGetCount   uint8 = 4
	MsgGetEntry   uint8 = 5
	MsgGetReceipt uint8 = 6
	MsgFind       uint8 = 7
	MsgExport     uint8 = 8
)

// RemoteError is a protocol failure reported by the node. Unwrap
// yields the matching taxonomy sentinel, so errors.Is keeps working
// on errors that crossed the wire.
type RemoteError struct {
	Code uint16 // Code is the taxonomy code
	Msg  string // Msg is the node's error text
}

func (e *RemoteError) Error() string {
	return e.Msg
}

func (e *RemoteError) Unwrap() error {
	return ledger.CodeError(e.Code)
}

// writeMessage writes a length-prefixed message to the writer.
// Format: [4 bytes big-endian length] [payload]
func writeMessage(w io.Writer, data []byte) error {
	if len(data) > maxMessageSize {
		return fmt.Errorf("message too large: %d > %d", len(data), maxMessageSize)
	}

	var lengthBuf [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(lengthBuf[:], uint32(len(data)))

	if _, err := w.Write(lengthBuf[:]); err != nil {
		return fmt.Errorf("write length: %w", err)
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}

	return nil
}

// readMessage reads a length-prefixed message from the reader.
func readMessage(r io.Reader) ([]byte, error) {
	var lengthBuf [lengthPrefixSize]byte

	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return nil, fmt.Errorf("read length: %w", err)
	}

	length := binary.BigEndian.Uint32(lengthBuf[:])

	if length > maxMessageSize {
		return nil, fmt.Errorf("message too large: %d > %d", length, maxMessageSize)
	}

	data := make([]byte, length)

	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}

	return data, nil
}

// encodeRequest frames a request.
// Format: [1 byte message type] [body]
func encodeRequest(msgType uint8, body []byte) []byte {
	buf := make([]byte, 1+len(body))
	buf[0] = msgType
	copy(buf[1:], body)

	return buf
}

// decodeRequest splits a request frame into type and body.
func decodeRequest(data []byte) (uint8, []byte, error) {
	if len(data) == 0 {
		return 0, nil, fmt.Errorf("empty request")
	}

	return data[0], data[1:], nil
}

// encodeResponse frames a successful response.
// Format: [2 bytes code LE] [body]
func encodeResponse(body []byte) []byte {
	buf := make([]byte, 2+len(body))
	binary.LittleEndian.PutUint16(buf[:2], ledger.CodeOK)
	copy(buf[2:], body)

	return buf
}

// encodeErrorResponse frames a failure with its taxonomy code; the
// body carries the node's error text.
func encodeErrorResponse(code uint16, msg string) []byte {
	buf := make([]byte, 2+len(msg))
	binary.LittleEndian.PutUint16(buf[:2], code)
	copy(buf[2:], msg)

	return buf
}

// decodeResponse splits a response frame, turning a non-zero code
// into a RemoteError.
func decodeResponse(data []byte) ([]byte, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("response is %d bytes, need at least 2", len(data))
	}

	code := binary.LittleEndian.Uint16(data[:2])
	if code != ledger.CodeOK {
		return nil, &RemoteError{Code: code, Msg: string(data[2:])}
	}

	return data[2:], nil
}

// headerWireSize is the encoded size of a record header.
// Format: [32 bytes address] [32 bytes authority]
// [4 bytes capacity LE] [4 bytes count LE] [1 byte state]
const headerWireSize = 73

func encodeHeader(h engine.Header) []byte {
	buf := make([]byte, headerWireSize)
	copy(buf[0:32], h.Address[:])
	copy(buf[32:64], h.Authority[:])
	binary.LittleEndian.PutUint32(buf[64:68], h.Capacity)
	binary.LittleEndian.PutUint32(buf[68:72], h.Count)
	buf[72] = uint8(h.State)

	return buf
}

func decodeHeader(data []byte) (engine.Header, error) {
	if len(data) != headerWireSize {
		return engine.Header{}, fmt.Errorf("header is %d bytes, want %d", len(data), headerWireSize)
	}

	var h engine.Header
	copy(h.Address[:], data[0:32])
	copy(h.Authority[:], data[32:64])
	h.Capacity = binary.LittleEndian.Uint32(data[64:68])
	h.Count = binary.LittleEndian.Uint32(data[68:72])
	h.State = ledger.State(data[72])

	return h, nil
}

// entryWireSize is the encoded size of a verification entry.
// Format: [32 bytes public key] [32 bytes message digest] [1 byte passed]
const entryWireSize = 65

func encodeEntry(e sigcodec.Entry) []byte {
	buf := make([]byte, entryWireSize)
	copy(buf[0:32], e.PublicKey[:])
	copy(buf[32:64], e.MessageDigest[:])
	if e.Passed {
		buf[64] = 1
	}

	return buf
}

func decodeEntry(data []byte) (sigcodec.Entry, error) {
	if len(data) != entryWireSize {
		return sigcodec.Entry{}, fmt.Errorf("entry is %d bytes, want %d", len(data), entryWireSize)
	}

	var e sigcodec.Entry
	copy(e.PublicKey[:], data[0:32])
	copy(e.MessageDigest[:], data[32:64])
	e.Passed = data[64] == 1

	return e, nil
}

// paramsWireSize is the encoded size of the node parameters.
// Format: [4 bytes max call payload LE] [4 bytes max step size LE]
const paramsWireSize = 8

func encodeParams(p engine.Params) []byte {
	buf := make([]byte, paramsWireSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(p.MaxCallPayload))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(p.MaxStepSize))

	return buf
}

func decodeParams(data []byte) (engine.Params, error) {
	if len(data) != paramsWireSize {
		return engine.Params{}, fmt.Errorf("params is %d bytes, want %d", len(data), paramsWireSize)
	}

	return engine.Params{
		MaxCallPayload: int(binary.LittleEndian.Uint32(data[0:4])),
		MaxStepSize:    int(binary.LittleEndian.Uint32(data[4:8])),
	}, nil
}

// decodeAddress reads a record address from a request body.
func decodeAddress(data []byte) (ledger.Address, error) {
	if len(data) != 32 {
		return ledger.Address{}, fmt.Errorf("address is %d bytes, want 32", len(data))
	}

	var addr ledger.Address
	copy(addr[:], data)

	return addr, nil
}
