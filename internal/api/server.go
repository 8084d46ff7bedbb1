// Package api serves the node's HTTP surface. Every operation the
// QUIC protocol offers is reachable here too, so curl and browsers
// can drive a node without speaking the binary protocol.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"SigLedger/internal/engine"
	"SigLedger/internal/ledger"
	"SigLedger/internal/logger"
)

const (
	// maxStepBody caps a submitted step envelope. The engine enforces
	// its own tighter limit and answers with a receipt.
	maxStepBody = 16 << 20 // 16 MB
)

// Server is the HTTP API server.
type Server struct {
	addr   string         // addr is the HTTP listen address
	engine *engine.Engine // engine executes steps and serves reads
	server *http.Server   // server is the underlying HTTP server
}

// New creates a new HTTP API server over an engine.
func New(addr string, e *engine.Engine) *Server {
	return &Server{
		addr:   addr,
		engine: e,
	}
}

// Handler returns the route table. Start serves it; tests can drive
// it directly.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /step", s.handleSubmitStep)
	mux.HandleFunc("GET /record/{addr}", s.handleRecord)
	mux.HandleFunc("GET /record/{addr}/entry/{index}", s.handleEntry)
	mux.HandleFunc("GET /record/{addr}/find", s.handleFind)
	mux.HandleFunc("GET /record/{addr}/export", s.handleExport)
	mux.HandleFunc("GET /receipt/{hash}", s.handleReceipt)
	mux.HandleFunc("GET /params", s.handleParams)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)

	return mux
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http api started", "addr", s.addr)

		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// handleSubmitStep handles POST /step requests. The body is a raw
// step envelope; the response is the receipt as JSON, with the HTTP
// status following the receipt's code.
func (s *Server) handleSubmitStep(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxStepBody+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "empty step")
		return
	}

	if len(body) > maxStepBody {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("step exceeds %d bytes", maxStepBody))
		return
	}

	receipt := s.engine.Submit(body)

	logger.Debug("http step submitted", "hash", shortHash(receipt.StepHash), "ok", receipt.OK)

	writeJSON(w, httpStatus(receipt.Code), receiptJSON(receipt))
}

// handleParams handles GET /params requests.
func (s *Server) handleParams(w http.ResponseWriter, r *http.Request) {
	p := s.engine.Params()

	writeJSON(w, http.StatusOK, map[string]any{
		"maxCallPayload": p.MaxCallPayload,
		"maxStepSize":    p.MaxStepSize,
	})
}

// handleHealth handles GET /health requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleStatus handles GET /status requests. The tallies come from a
// storage scan, which is fine at monitoring frequency.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var records, open, finalized int

	err := s.engine.IterateRecords(func(addr ledger.Address, data []byte) error {
		records++

		rec, err := ledger.DecodeRecord(data)
		if err != nil {
			return nil
		}

		switch rec.State {
		case ledger.StateOpen:
			open++
		case ledger.StateFinalized:
			finalized++
		}

		return nil
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to scan records")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"records":   records,
		"open":      open,
		"finalized": finalized,
	})
}

// httpStatus maps a protocol error code to an HTTP status.
func httpStatus(code uint16) int {
	switch code {
	case ledger.CodeOK:
		return http.StatusOK
	case ledger.CodePayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case ledger.CodeMalformedProof, ledger.CodeClaimMismatch, ledger.CodeEmptyInput:
		return http.StatusBadRequest
	case ledger.CodeAlreadyInitialized, ledger.CodeNotFinalized, ledger.CodeSequenceViolation:
		return http.StatusConflict
	case ledger.CodeNotOpen, ledger.CodeIndexOutOfRange:
		return http.StatusNotFound
	case ledger.CodeUnauthorized:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// writeEngineError writes an engine failure with its protocol code so
// HTTP clients see the same taxonomy QUIC clients do.
func writeEngineError(w http.ResponseWriter, err error) {
	code := ledger.ErrorCode(err)

	writeJSON(w, httpStatus(code), map[string]any{
		"code":  code,
		"error": err.Error(),
	})
}
