package integration

import (
	"context"
	"crypto/ed25519"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"SigLedger/internal/api"
	"SigLedger/internal/engine"
	"SigLedger/internal/network"
	"SigLedger/internal/sigcodec"
	"SigLedger/internal/storage"
	"SigLedger/internal/verifier"
)

const (
	// dialTimeout bounds a single QUIC dial against a local node.
	dialTimeout = 5 * time.Second

	// testTimeout bounds one whole scenario.
	testTimeout = 30 * time.Second
)

// node is a full in-process node: pebble storage, engine, QUIC server
// and HTTP API wired together the way cmd/node wires them. Tests
// restart it on the same data directory to exercise recovery.
type node struct {
	dir string
	key ed25519.PrivateKey

	db      *storage.Storage
	engine  *engine.Engine
	quic    *network.Server
	httpSrv *httptest.Server
}

// startNode brings up a node on a fresh temporary directory. The node
// and its directory are torn down when the test finishes.
func startNode(t *testing.T) *node {
	t.Helper()

	dir, err := os.MkdirTemp("", "sigledger-e2e-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	_, key, err := ed25519.GenerateKey(nil)
	if err != nil {
		os.RemoveAll(dir)
		t.Fatalf("failed to generate node key: %v", err)
	}

	n := &node{dir: dir, key: key}
	if err := n.open(); err != nil {
		os.RemoveAll(dir)
		t.Fatalf("failed to start node: %v", err)
	}

	t.Cleanup(func() {
		n.stop()
		os.RemoveAll(dir)
	})

	return n
}

// open wires the node's subsystems over its data directory.
func (n *node) open() error {
	db, err := storage.New(filepath.Join(n.dir, "db"))
	if err != nil {
		return err
	}

	e := engine.New(db, verifier.Ed25519{}, engine.Params{})

	quic, err := network.NewServer(e, n.key, "127.0.0.1:0")
	if err != nil {
		e.Close()
		db.Close()
		return err
	}

	if err := quic.Start(); err != nil {
		e.Close()
		db.Close()
		return err
	}

	n.db = db
	n.engine = e
	n.quic = quic
	n.httpSrv = httptest.NewServer(api.New("127.0.0.1:0", e).Handler())

	return nil
}

// stop tears the node down in reverse dependency order. Safe to call
// on a node that is already stopped.
func (n *node) stop() {
	if n.httpSrv != nil {
		n.httpSrv.Close()
		n.httpSrv = nil
	}

	if n.quic != nil {
		n.quic.Close()
		n.quic = nil
	}

	if n.engine != nil {
		n.engine.Close()
		n.engine = nil
	}

	if n.db != nil {
		n.db.Close()
		n.db = nil
	}
}

// restart stops the node and brings it back up over the same data
// directory and key. Listen addresses change, so callers dial again.
func (n *node) restart(t *testing.T) {
	t.Helper()

	n.stop()

	if err := n.open(); err != nil {
		t.Fatalf("failed to restart node: %v", err)
	}
}

// dialNode opens a QUIC client against the node, closed with the test.
func dialNode(t *testing.T, n *node) *network.Client {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	cli, err := network.Dial(ctx, n.quic.Addr())
	if err != nil {
		t.Fatalf("failed to dial node at %s: %v", n.quic.Addr(), err)
	}

	t.Cleanup(func() { cli.Close() })

	return cli
}

// submitOK submits a raw step over QUIC and fails unless it lands.
func submitOK(t *testing.T, ctx context.Context, cli *network.Client, stepData []byte) engine.Receipt {
	t.Helper()

	receipt, err := cli.SubmitStep(ctx, stepData)
	if err != nil {
		t.Fatalf("failed to submit step: %v", err)
	}

	if !receipt.OK {
		t.Fatalf("step rejected with code %d: %s", receipt.Code, receipt.Err)
	}

	return receipt
}

// testKey derives a deterministic signing key from a seed byte.
func testKey(seed byte) ed25519.PrivateKey {
	raw := make([]byte, ed25519.SeedSize)
	for i := range raw {
		raw[i] = seed
	}

	return ed25519.NewKeyFromSeed(raw)
}

// pubkeyOf returns the 32-byte public key of a signing key.
func pubkeyOf(key ed25519.PrivateKey) [32]byte {
	var pk [32]byte
	copy(pk[:], key.Public().(ed25519.PublicKey))

	return pk
}

// signedClaims builds n valid claims from n distinct signers.
func signedClaims(t *testing.T, n int) []sigcodec.Claim {
	t.Helper()

	claims := make([]sigcodec.Claim, n)
	for i := range claims {
		key := testKey(byte(i + 1))
		msg := []byte{'r', 'u', 'n', byte(i)}

		claims[i] = sigcodec.Claim{
			PublicKey: pubkeyOf(key),
			Message:   msg,
		}
		copy(claims[i].Signature[:], ed25519.Sign(key, msg))
	}

	return claims
}

// callSize returns the encoded payload size of the claims.
func callSize(t *testing.T, claims []sigcodec.Claim) int {
	t.Helper()

	size, err := sigcodec.CallSize(claims)
	if err != nil {
		t.Fatalf("failed to size claims: %v", err)
	}

	return size
}

// mustEncodeCall encodes claims into a call payload.
func mustEncodeCall(t *testing.T, claims []sigcodec.Claim) []byte {
	t.Helper()

	call, err := sigcodec.EncodeCall(claims, 32<<10)
	if err != nil {
		t.Fatalf("failed to encode call: %v", err)
	}

	return call
}

// waitForFile polls until path exists and returns its contents.
func waitForFile(t *testing.T, path string, timeout time.Duration) []byte {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}

		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("file %s did not appear within %v", path, timeout)

	return nil
}
