package api

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"

	"SigLedger/internal/archive"
	"SigLedger/internal/engine"
	"SigLedger/internal/ledger"
	"SigLedger/internal/sigcodec"
)

// handleRecord handles GET /record/{addr} requests.
func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.recordAddress(w, r)
	if !ok {
		return
	}

	h, err := s.engine.Header(addr)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"address":   h.Address.String(),
		"authority": hex.EncodeToString(h.Authority[:]),
		"capacity":  h.Capacity,
		"count":     h.Count,
		"state":     h.State.String(),
	})
}

// handleEntry handles GET /record/{addr}/entry/{index} requests.
func (s *Server) handleEntry(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.recordAddress(w, r)
	if !ok {
		return
	}

	index, err := strconv.ParseUint(r.PathValue("index"), 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid entry index %q", r.PathValue("index")))
		return
	}

	entry, err := s.engine.Entry(addr, uint32(index))
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, entryJSON(uint32(index), entry))
}

// handleFind handles GET /record/{addr}/find requests. The pubkey and
// digest query parameters are hex-encoded 32-byte values.
func (s *Server) handleFind(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.recordAddress(w, r)
	if !ok {
		return
	}

	pubkey, err := parseKeyParam(r.URL.Query().Get("pubkey"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid pubkey parameter: %v", err))
		return
	}

	digest, err := parseKeyParam(r.URL.Query().Get("digest"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid digest parameter: %v", err))
		return
	}

	index, entry, err := s.engine.Find(addr, pubkey, digest)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, entryJSON(index, entry))
}

// handleExport handles GET /record/{addr}/export requests. The body
// is the compressed export exactly as the archive writes it to disk.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.recordAddress(w, r)
	if !ok {
		return
	}

	data, err := s.engine.Export(addr)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/zstd")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", addr.String()+archive.ExportSuffix))
	w.Write(data)
}

// handleReceipt handles GET /receipt/{hash} requests.
func (s *Server) handleReceipt(w http.ResponseWriter, r *http.Request) {
	hash, err := parseKeyParam(r.PathValue("hash"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid step hash: %v", err))
		return
	}

	receipt, ok := s.engine.Receipt(hash)
	if !ok {
		writeError(w, http.StatusNotFound, "no receipt for this step hash")
		return
	}

	writeJSON(w, http.StatusOK, receiptJSON(receipt))
}

// recordAddress parses the address path segment, answering the
// request itself on failure.
func (s *Server) recordAddress(w http.ResponseWriter, r *http.Request) (ledger.Address, bool) {
	addr, err := ledger.ParseAddress(r.PathValue("addr"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid record address: %v", err))
		return ledger.Address{}, false
	}

	return addr, true
}

// parseKeyParam decodes a hex-encoded 32-byte value.
func parseKeyParam(s string) ([32]byte, error) {
	var key [32]byte

	if s == "" {
		return key, fmt.Errorf("missing value")
	}

	raw, err := hex.DecodeString(s)
	if err != nil {
		return key, fmt.Errorf("invalid hex: %w", err)
	}

	if len(raw) != len(key) {
		return key, fmt.Errorf("want %d bytes, got %d", len(key), len(raw))
	}

	copy(key[:], raw)

	return key, nil
}

// receiptJSON shapes a receipt for JSON responses.
func receiptJSON(r engine.Receipt) map[string]any {
	out := map[string]any{
		"stepHash": hex.EncodeToString(r.StepHash[:]),
		"ok":       r.OK,
		"code":     r.Code,
		"count":    r.Count,
	}

	if r.Err != "" {
		out["error"] = r.Err
	}

	return out
}

// entryJSON shapes an entry for JSON responses.
func entryJSON(index uint32, e sigcodec.Entry) map[string]any {
	return map[string]any{
		"index":         index,
		"publicKey":     hex.EncodeToString(e.PublicKey[:]),
		"messageDigest": hex.EncodeToString(e.MessageDigest[:]),
		"passed":        e.Passed,
	}
}

// shortHash renders the first bytes of a step hash for logs.
func shortHash(hash [32]byte) string {
	return hex.EncodeToString(hash[:8])
}
