package badger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/kasuganosora/geoaccess/pkg/logger"
)

// DefaultGCDiscardRatio ratio of stale data a value log file needs before GC rewrites it
const DefaultGCDiscardRatio = 0.5

// maxPendingWrites bounds the batch size used by Restore.
const maxPendingWrites = 256

// MaintenanceManager handles database maintenance operations
type MaintenanceManager struct {
	db  *badger.DB
	log logger.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
}

// NewMaintenanceManager creates a new MaintenanceManager
func NewMaintenanceManager(db *badger.DB, log logger.Logger) *MaintenanceManager {
	return &MaintenanceManager{db: db, log: log}
}

// Start runs value log GC every interval until Stop.
func (m *MaintenanceManager) Start(interval time.Duration, discardRatio float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})
	go m.runGC(interval, discardRatio, m.stopCh, m.done)
}

// Stop ends the background loop and waits for it.
func (m *MaintenanceManager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	done := m.done
	m.mu.Unlock()
	<-done
}

func (m *MaintenanceManager) runGC(interval time.Duration, ratio float64, stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := m.RunGC(ratio); err != nil {
				m.log.Warn("value log gc: %v", err)
			}
		}
	}
}

// RunGC runs value log garbage collection until nothing is left to rewrite.
func (m *MaintenanceManager) RunGC(discardRatio float64) error {
	for {
		err := m.db.RunValueLogGC(discardRatio)
		if err == nil {
			continue
		}
		// ErrNoRewrite means no files need GC; in-memory databases reject GC
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
			return nil
		}
		return err
	}
}

// RunCompaction flattens the LSM tree
func (m *MaintenanceManager) RunCompaction() error {
	return m.db.Flatten(2)
}

// DatabaseStats represents database statistics
type DatabaseStats struct {
	LSMSize  int64 `json:"lsm_size"`
	VLogSize int64 `json:"vlog_size"`
	Keys     int64 `json:"keys"`
}

// Stats counts the live keys and reports the on-disk sizes.
func (m *MaintenanceManager) Stats(ctx context.Context) (*DatabaseStats, error) {
	lsm, vlog := m.db.Size()
	stats := &DatabaseStats{LSMSize: lsm, VLogSize: vlog}
	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if stats.Keys%scanCheckInterval == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			stats.Keys++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// Backup writes a full backup to w and returns the version it covers.
func (m *MaintenanceManager) Backup(ctx context.Context, w io.Writer) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	since, err := m.db.Backup(w, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to create backup: %w", err)
	}
	return since, nil
}

// Restore loads a backup written by Backup. The data source's catalog is
// not refreshed; reopen the source afterwards.
func (m *MaintenanceManager) Restore(ctx context.Context, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.db.Load(r, maxPendingWrites); err != nil {
		return fmt.Errorf("failed to restore backup: %w", err)
	}
	return nil
}
