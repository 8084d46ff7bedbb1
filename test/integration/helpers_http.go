package integration

import (
	"encoding/json"
	"io"
	"net/http"
	"testing"
)

// recordInfo mirrors the GET /record/{addr} response.
type recordInfo struct {
	Address   string `json:"address"`   // Address is the record address in hex
	Authority string `json:"authority"` // Authority is the owner's public key in hex
	Capacity  uint32 `json:"capacity"`  // Capacity is the fixed entry limit
	Count     uint32 `json:"count"`     // Count is the number of sealed entries
	State     string `json:"state"`     // State is "open" or "finalized"
}

// entryInfo mirrors the GET /record/{addr}/entry/{index} response.
type entryInfo struct {
	Index         uint32 `json:"index"`         // Index is the entry's position
	PublicKey     string `json:"publicKey"`     // PublicKey is the claim's key in hex
	MessageDigest string `json:"messageDigest"` // MessageDigest is the message digest in hex
	Passed        bool   `json:"passed"`        // Passed is the verification verdict
}

// statusInfo mirrors the GET /status response.
type statusInfo struct {
	Records   int `json:"records"`   // Records is the total record count
	Open      int `json:"open"`      // Open is the count of open records
	Finalized int `json:"finalized"` // Finalized is the count of finalized records
}

// httpGetJSON fetches a path from the node's HTTP API and decodes the
// JSON response, failing the test on any non-200 status.
func httpGetJSON(t *testing.T, n *node, path string, out any) {
	t.Helper()

	resp, err := n.httpSrv.Client().Get(n.httpSrv.URL + path)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("GET %s returned %d: %s", path, resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("GET %s returned invalid JSON: %v", path, err)
	}
}

// httpGetBytes fetches a path from the node's HTTP API and returns
// the raw body.
func httpGetBytes(t *testing.T, n *node, path string) []byte {
	t.Helper()

	resp, err := n.httpSrv.Client().Get(n.httpSrv.URL + path)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("GET %s body read failed: %v", path, err)
	}

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s returned %d: %s", path, resp.StatusCode, body)
	}

	return body
}
