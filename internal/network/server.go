package network

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"SigLedger/internal/engine"
	"SigLedger/internal/ledger"
	"SigLedger/internal/logger"
)

// Server answers the step protocol over QUIC, fronting one engine.
// Clients do not authenticate at the transport; every mutation they
// send is a self-signed step the engine verifies.
type Server struct {
	engine     *engine.Engine
	listenAddr string
	tlsConfig  *tls.Config
	quicConfig *quic.Config

	listener *quic.Listener

	conns   map[*quic.Conn]struct{} // conns tracks live client connections
	connsMu sync.Mutex              // connsMu protects conns

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a server for the engine, identified by the node's
// ed25519 key.
func NewServer(e *engine.Engine, key ed25519.PrivateKey, listenAddr string) (*Server, error) {
	if key == nil {
		return nil, fmt.Errorf("private key is required")
	}

	if listenAddr == "" {
		return nil, fmt.Errorf("listen address is required")
	}

	cert, err := generateCertificate(key)
	if err != nil {
		return nil, fmt.Errorf("generate certificate: %w", err)
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{alpnProtocol},
	}

	quicConfig := &quic.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		engine:     e,
		listenAddr: listenAddr,
		tlsConfig:  tlsConfig,
		quicConfig: quicConfig,
		conns:      make(map[*quic.Conn]struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Addr returns the listener's address. Returns empty string if not
// started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

// Start starts the listener and begins accepting connections.
func (s *Server) Start() error {
	listener, err := quic.ListenAddr(s.listenAddr, s.tlsConfig, s.quicConfig)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	s.listener = listener

	s.wg.Add(1)
	go s.acceptLoop()

	logger.Info("quic server listening", "addr", listener.Addr().String())

	return nil
}

// Close stops the server and closes all client connections, so
// clients fail fast and redial instead of waiting out idle timeouts.
func (s *Server) Close() error {
	s.cancel()

	if s.listener != nil {
		s.listener.Close()
	}

	s.connsMu.Lock()
	for conn := range s.conns {
		conn.CloseWithError(0, "server shutting down")
	}
	s.conns = make(map[*quic.Conn]struct{})
	s.connsMu.Unlock()

	s.wg.Wait()

	return nil
}

// acceptLoop accepts incoming connections.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept(s.ctx)
		if err != nil {
			return // Listener closed
		}

		s.connsMu.Lock()
		s.conns[conn] = struct{}{}
		s.connsMu.Unlock()

		go s.handleConn(conn)
	}
}

// handleConn accepts request streams on one client connection.
func (s *Server) handleConn(conn *quic.Conn) {
	defer func() {
		s.connsMu.Lock()
		delete(s.conns, conn)
		s.connsMu.Unlock()
	}()

	for {
		stream, err := conn.AcceptStream(s.ctx)
		if err != nil {
			return // Connection closed
		}

		go s.handleStream(stream)
	}
}

// handleStream serves one request: read a framed request, route it,
// write a framed response.
func (s *Server) handleStream(stream *quic.Stream) {
	defer stream.Close()

	data, err := readMessage(stream)
	if err != nil {
		return
	}

	response := s.handleRequest(data)

	if err := writeMessage(stream, response); err != nil {
		logger.Debug("write response", "error", err)
	}
}

// handleRequest routes a request frame to the engine. Malformed
// frames are the caller's fault and answer with the malformed code;
// everything else carries the code of the engine's error.
func (s *Server) handleRequest(data []byte) []byte {
	msgType, body, err := decodeRequest(data)
	if err != nil {
		return encodeErrorResponse(ledger.CodeMalformedProof, err.Error())
	}

	switch msgType {
	case MsgSubmitStep:
		// The receipt reports protocol failures itself; the response
		// code stays OK so the client always gets the receipt back.
		receipt := s.engine.Submit(body)
		return encodeResponse(receipt.Encode())

	case MsgGetParams:
		return encodeResponse(encodeParams(s.engine.Params()))

	case MsgGetHeader:
		addr, err := decodeAddress(body)
		if err != nil {
			return encodeErrorResponse(ledger.CodeMalformedProof, err.Error())
		}

		h, err := s.engine.Header(addr)
		if err != nil {
			return errorResponse(err)
		}

		return encodeResponse(encodeHeader(h))

	case MsgGetCount:
		addr, err := decodeAddress(body)
		if err != nil {
			return encodeErrorResponse(ledger.CodeMalformedProof, err.Error())
		}

		count, err := s.engine.Count(addr)
		if err != nil {
			return errorResponse(err)
		}

		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], count)

		return encodeResponse(buf[:])

	case MsgGetEntry:
		if len(body) != 36 {
			return encodeErrorResponse(ledger.CodeMalformedProof, fmt.Sprintf("entry request is %d bytes, want 36", len(body)))
		}

		addr, err := decodeAddress(body[:32])
		if err != nil {
			return encodeErrorResponse(ledger.CodeMalformedProof, err.Error())
		}

		index := binary.LittleEndian.Uint32(body[32:36])

		e, err := s.engine.Entry(addr, index)
		if err != nil {
			return errorResponse(err)
		}

		return encodeResponse(encodeEntry(e))

	case MsgGetReceipt:
		if len(body) != 32 {
			return encodeErrorResponse(ledger.CodeMalformedProof, fmt.Sprintf("receipt request is %d bytes, want 32", len(body)))
		}

		var hash [32]byte
		copy(hash[:], body)

		r, ok := s.engine.Receipt(hash)
		if !ok {
			return encodeResponse([]byte{0})
		}

		return encodeResponse(append([]byte{1}, r.Encode()...))

	case MsgFind:
		if len(body) != 96 {
			return encodeErrorResponse(ledger.CodeMalformedProof, fmt.Sprintf("find request is %d bytes, want 96", len(body)))
		}

		addr, err := decodeAddress(body[:32])
		if err != nil {
			return encodeErrorResponse(ledger.CodeMalformedProof, err.Error())
		}

		var pubkey, digest [32]byte
		copy(pubkey[:], body[32:64])
		copy(digest[:], body[64:96])

		index, e, err := s.engine.Find(addr, pubkey, digest)
		if err != nil {
			return errorResponse(err)
		}

		response := make([]byte, 4+entryWireSize)
		binary.LittleEndian.PutUint32(response[:4], index)
		copy(response[4:], encodeEntry(e))

		return encodeResponse(response)

	case MsgExport:
		addr, err := decodeAddress(body)
		if err != nil {
			return encodeErrorResponse(ledger.CodeMalformedProof, err.Error())
		}

		export, err := s.engine.Export(addr)
		if err != nil {
			return errorResponse(err)
		}

		return encodeResponse(export)

	default:
		return encodeErrorResponse(ledger.CodeMalformedProof, fmt.Sprintf("unknown message type %d", msgType))
	}
}

// errorResponse frames an engine error with its taxonomy code.
func errorResponse(err error) []byte {
	return encodeErrorResponse(ledger.ErrorCode(err), err.Error())
}
