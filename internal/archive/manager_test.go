package archive

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"SigLedger/internal/ledger"
)

// fakeSource serves records from a map, standing in for the engine.
type fakeSource struct {
	records map[ledger.Address][]byte
}

func (s *fakeSource) IterateRecords(fn func(addr ledger.Address, data []byte) error) error {
	for addr, data := range s.records {
		if err := fn(addr, data); err != nil {
			return err
		}
	}

	return nil
}

func newTestArchiveDir(t *testing.T) (string, func()) {
	t.Helper()

	dir, err := os.MkdirTemp("", "archive_test_*")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}

	return dir, func() { os.RemoveAll(dir) }
}

func TestManager_SweepExportsFinalized(t *testing.T) {
	dir, cleanup := newTestArchiveDir(t)
	defer cleanup()

	sealedAuthority := testAuthority(0xB1)
	sealedAddr := ledger.DeriveAddress(sealedAuthority, 1)
	sealed := buildFinalizedRecord(t, sealedAuthority, 2, []bool{true, false})

	openAuthority := testAuthority(0xB2)
	openAddr := ledger.DeriveAddress(openAuthority, 2)
	open, err := ledger.Initialize(nil, openAuthority, 4)
	if err != nil {
		t.Fatalf("initialize open record: %v", err)
	}

	source := &fakeSource{records: map[ledger.Address][]byte{
		sealedAddr: sealed,
		openAddr:   open.Encode(),
	}}

	m := NewManager(source, dir, time.Hour)

	n, err := m.Sweep()
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("sweep exported %d records, want 1", n)
	}

	if _, err := os.Stat(filepath.Join(dir, openAddr.String()+ExportSuffix)); err == nil {
		t.Error("open record was exported")
	}

	data, err := os.ReadFile(filepath.Join(dir, sealedAddr.String()+ExportSuffix))
	if err != nil {
		t.Fatalf("read export file: %v", err)
	}

	ex, err := OpenExport(data)
	if err != nil {
		t.Fatalf("open export file: %v", err)
	}
	if ex.Address != sealedAddr || ex.Count != 2 {
		t.Error("export file does not match the sealed record")
	}
}

func TestManager_SweepSkipsExisting(t *testing.T) {
	dir, cleanup := newTestArchiveDir(t)
	defer cleanup()

	authority := testAuthority(0xB3)
	addr := ledger.DeriveAddress(authority, 3)
	source := &fakeSource{records: map[ledger.Address][]byte{
		addr: buildFinalizedRecord(t, authority, 1, []bool{true}),
	}}

	m := NewManager(source, dir, time.Hour)

	if n, err := m.Sweep(); err != nil || n != 1 {
		t.Fatalf("first sweep: n=%d err=%v, want 1 and nil", n, err)
	}

	if n, err := m.Sweep(); err != nil || n != 0 {
		t.Fatalf("second sweep: n=%d err=%v, want 0 and nil", n, err)
	}
}

func TestManager_SweepSkipsUndecodable(t *testing.T) {
	dir, cleanup := newTestArchiveDir(t)
	defer cleanup()

	goodAuthority := testAuthority(0xB4)
	goodAddr := ledger.DeriveAddress(goodAuthority, 4)
	badAddr := ledger.DeriveAddress(testAuthority(0xB5), 5)

	source := &fakeSource{records: map[ledger.Address][]byte{
		goodAddr: buildFinalizedRecord(t, goodAuthority, 1, []bool{true}),
		badAddr:  []byte("rotten value"),
	}}

	m := NewManager(source, dir, time.Hour)

	n, err := m.Sweep()
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("sweep exported %d records, want 1", n)
	}
}

func TestManager_StartSweepsAndStops(t *testing.T) {
	dir, cleanup := newTestArchiveDir(t)
	defer cleanup()

	authority := testAuthority(0xB6)
	addr := ledger.DeriveAddress(authority, 6)
	source := &fakeSource{records: map[ledger.Address][]byte{
		addr: buildFinalizedRecord(t, authority, 1, []bool{true}),
	}}

	m := NewManager(source, dir, 10*time.Millisecond)
	m.Start()

	// Wait for the startup sweep
	time.Sleep(100 * time.Millisecond)

	if _, err := os.Stat(filepath.Join(dir, addr.String()+ExportSuffix)); err != nil {
		t.Errorf("expected export file after startup sweep: %v", err)
	}

	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop() timed out")
	}
}
