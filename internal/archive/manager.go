package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"SigLedger/internal/ledger"
	"SigLedger/internal/logger"
)

const (
	// defaultSweepInterval is how often the manager scans for newly
	// finalized records.
	defaultSweepInterval = 30 * time.Second

	// ExportSuffix names export files written by the manager and the
	// HTTP download endpoint.
	ExportSuffix = ".aggr"
)

// RecordSource yields stored records for sweeping. The engine
// satisfies it.
type RecordSource interface {
	IterateRecords(fn func(addr ledger.Address, data []byte) error) error
}

// Manager periodically exports finalized records to a directory.
// Each record is written once; a file already on disk is skipped on
// later sweeps, so deleting one re-exports it.
type Manager struct {
	source   RecordSource
	dir      string
	interval time.Duration

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewManager creates a manager sweeping source into dir. A zero
// interval selects the default.
func NewManager(source RecordSource, dir string, interval time.Duration) *Manager {
	if interval <= 0 {
		interval = defaultSweepInterval
	}

	return &Manager{
		source:   source,
		dir:      dir,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start begins the periodic sweep loop.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.loop()
}

// Stop stops the manager and waits for the loop to finish.
func (m *Manager) Stop() {
	close(m.stop)
	m.wg.Wait()
}

// loop sweeps once at startup to catch records finalized before a
// restart, then on every tick.
func (m *Manager) loop() {
	defer m.wg.Done()

	if _, err := m.Sweep(); err != nil {
		logger.Error("archive sweep", "error", err)
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			if _, err := m.Sweep(); err != nil {
				logger.Error("archive sweep", "error", err)
			}
		}
	}
}

// Sweep exports every finalized record that has no file on disk yet
// and returns how many it wrote. Records that fail to decode are
// logged and skipped so one bad value cannot stall the whole sweep.
func (m *Manager) Sweep() (int, error) {
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return 0, fmt.Errorf("create archive dir:\n%w", err)
	}

	exported := 0

	err := m.source.IterateRecords(func(addr ledger.Address, data []byte) error {
		r, err := ledger.DecodeRecord(data)
		if err != nil {
			logger.Error("skip undecodable record", "record", addr.String(), "error", err)
			return nil
		}

		if r.State != ledger.StateFinalized {
			return nil
		}

		path := filepath.Join(m.dir, addr.String()+ExportSuffix)
		if _, err := os.Stat(path); err == nil {
			return nil
		}

		export, err := BuildExport(addr, data)
		if err != nil {
			return fmt.Errorf("build export %s:\n%w", addr, err)
		}

		if err := writeFileAtomic(path, export); err != nil {
			return fmt.Errorf("write export %s:\n%w", addr, err)
		}

		exported++
		logger.Debug("record archived", "record", addr.String(), "bytes", len(export))

		return nil
	})

	return exported, err
}

// writeFileAtomic writes data to path through a rename so a reader
// never observes a partial export.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}

	return nil
}
