package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"SigLedger/internal/api"
	"SigLedger/internal/archive"
	"SigLedger/internal/engine"
	"SigLedger/internal/logger"
	"SigLedger/internal/network"
	"SigLedger/internal/storage"
	"SigLedger/internal/verifier"
)

// Node represents a running sigledger node.
type Node struct {
	cfg     *Config
	storage *storage.Storage
	engine  *engine.Engine
	network *network.Server
	api     *api.Server
	archive *archive.Manager

	stop chan struct{} // stop ends the receipt logging goroutine
}

// NewNode creates and initializes a new node.
func NewNode(cfg *Config) (*Node, error) {
	n := &Node{cfg: cfg, stop: make(chan struct{})}

	if err := n.initStorage(); err != nil {
		return nil, err
	}

	n.initEngine()

	if err := n.initNetwork(); err != nil {
		n.Close()
		return nil, err
	}

	n.initAPI()
	n.initArchive()

	return n, nil
}

// initStorage initializes the Pebble storage.
func (n *Node) initStorage() error {
	if err := os.MkdirAll(n.cfg.DataPath, 0755); err != nil {
		return fmt.Errorf("create data directory:\n%w", err)
	}

	db, err := storage.New(filepath.Join(n.cfg.DataPath, "db"))
	if err != nil {
		return fmt.Errorf("init storage:\n%w", err)
	}

	n.storage = db

	return nil
}

// initEngine initializes the step sequencer.
func (n *Node) initEngine() {
	params := engine.Params{MaxCallPayload: n.cfg.MaxCallPayload}
	n.engine = engine.New(n.storage, verifier.Ed25519{}, params)
}

// initNetwork initializes the QUIC protocol server.
func (n *Node) initNetwork() error {
	srv, err := network.NewServer(n.engine, n.cfg.PrivateKey, n.cfg.QUICAddress)
	if err != nil {
		return fmt.Errorf("init network:\n%w", err)
	}

	n.network = srv

	return nil
}

// initAPI initializes the HTTP API server.
func (n *Node) initAPI() {
	n.api = api.New(n.cfg.HTTPAddress, n.engine)
}

// initArchive initializes the export sweeper when a directory is
// configured.
func (n *Node) initArchive() {
	if n.cfg.ArchiveDir == "" {
		return
	}

	n.archive = archive.NewManager(n.engine, n.cfg.ArchiveDir, n.cfg.ArchiveInterval)
}

// Run starts all subsystems and blocks until shutdown signal.
func (n *Node) Run() error {
	if err := n.network.Start(); err != nil {
		return fmt.Errorf("start network:\n%w", err)
	}

	if err := n.api.Start(); err != nil {
		return fmt.Errorf("start api:\n%w", err)
	}

	if n.archive != nil {
		n.archive.Start()
	}

	go n.logReceipts()

	return n.waitForShutdown()
}

// logReceipts mirrors every executed step into the log.
func (n *Node) logReceipts() {
	for {
		select {
		case r := <-n.engine.Committed():
			if r.OK {
				logger.Info("step committed",
					"step", hex.EncodeToString(r.StepHash[:8]),
					"count", r.Count,
				)
			} else {
				logger.Warn("step rejected",
					"step", hex.EncodeToString(r.StepHash[:8]),
					"code", r.Code,
					"error", r.Err,
				)
			}
		case <-n.stop:
			return
		}
	}
}

// waitForShutdown blocks until SIGINT or SIGTERM is received.
func (n *Node) waitForShutdown() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	return n.Close()
}

// Close shuts down all node components gracefully.
func (n *Node) Close() error {
	if n.api != nil {
		n.api.Stop()
	}

	if n.network != nil {
		n.network.Close()
	}

	if n.archive != nil {
		n.archive.Stop()
	}

	close(n.stop)

	if n.engine != nil {
		n.engine.Close()
	}

	if n.storage != nil {
		n.storage.Close()
	}

	return nil
}
