package badger

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/kasuganosora/geoaccess/pkg/logger"
	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
)

// Capabilities Badger 驱动能力
func Capabilities() domain.Capabilities {
	return domain.Capabilities{
		Transactions:           true,
		QueryObjects:           true,
		NativeQuery:            true,
		Execute:                true,
		PreparedQuery:          true,
		BatchExecutor:          true,
		DataSetTypePersistence: true,
		DataSetPersistence:     true,
		RandomAccess:           true,
		Create:                 true,
		Drop:                   true,
		LastInsertID:           true,
	}
}

// Source implements domain.DataSource using Badger KV store
type Source struct {
	*domain.BaseDataSource

	log   logger.Logger
	store *store

	mu    sync.RWMutex
	db    *badger.DB
	maint *MaintenanceManager
}

// NewSource creates a closed Badger data source.
func NewSource(info domain.ConnectionInfo) *Source {
	return &Source{
		BaseDataSource: domain.NewBaseDataSource(domain.DataSourceTypeBadger, info, Capabilities()),
		log:            logger.Named("badger"),
		store:          newStore(),
	}
}

// Open opens the database and loads the dataset types into the catalog.
func (s *Source) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.IsOpened() {
		return nil
	}

	cfg, err := ConfigFrom(s.ConnectionInfo())
	if err != nil {
		return err
	}
	db, err := badger.Open(cfg.Options(s.log))
	if err != nil {
		return domain.NewErrConnection(domain.DataSourceTypeBadger, "failed to open badger database", err)
	}
	s.db = db
	if err := s.fillCatalog(); err != nil {
		s.db = nil
		_ = db.Close()
		return domain.NewErrConnection(domain.DataSourceTypeBadger, "failed to load dataset types", err)
	}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.maint = NewMaintenanceManager(db, s.log)
		s.maint.Start(cfg.GCInterval, DefaultGCDiscardRatio)
	}
	s.SetOpened(true)
	s.log.Debug("opened badger data source %s (%s)", s.ID(), s.ConnectionInfo().Redacted())
	return nil
}

// Close closes the database connection
func (s *Source) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.IsOpened() {
		return nil
	}
	s.SetOpened(false)
	if s.maint != nil {
		s.maint.Stop()
		s.maint = nil
	}
	db := s.db
	s.db = nil
	if err := db.Close(); err != nil {
		return domain.NewErrBackend(domain.DataSourceTypeBadger, "Close", err)
	}
	return nil
}

func (s *Source) IsValid(ctx context.Context) bool {
	db := s.DB()
	return s.IsOpened() && db != nil && !db.IsClosed()
}

// DB returns the database behind an open source.
func (s *Source) DB() *badger.DB {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db
}

// Maintenance returns the maintenance manager for the open database.
func (s *Source) Maintenance() (*MaintenanceManager, error) {
	if err := s.CheckOpen(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.maint != nil {
		return s.maint, nil
	}
	return NewMaintenanceManager(s.db, s.log), nil
}

func (s *Source) Transactor(ctx context.Context) (domain.Transactor, error) {
	if err := s.CheckOpen(); err != nil {
		return nil, err
	}
	return newTransactor(s, s.DB()), nil
}

// refreshCatalog reloads the committed dataset types.
func (s *Source) refreshCatalog() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return domain.NewErrNotOpen(domain.DataSourceTypeBadger)
	}
	return s.fillCatalog()
}

func (s *Source) fillCatalog() error {
	var types []*domain.DataSetType
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		types, err = s.store.loadTypes(txn)
		return err
	})
	if err != nil {
		return err
	}
	c := s.Catalog()
	c.Clear()
	for _, dt := range types {
		c.Put(dt)
	}
	return nil
}

// Exists reports whether PATH holds a Badger database.
func (s *Source) Exists(ctx context.Context, info domain.ConnectionInfo) (bool, error) {
	if err := info.Require(domain.DataSourceTypeBadger, domain.InfoPath); err != nil {
		return false, err
	}
	_, err := os.Stat(filepath.Join(info.Get(domain.InfoPath), badger.ManifestFilename))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, domain.NewErrBackend(domain.DataSourceTypeBadger, "Exists", err)
	}
	return true, nil
}

// Create initializes an empty database at PATH.
func (s *Source) Create(ctx context.Context, info domain.ConnectionInfo) error {
	if err := s.Capabilities().Require(domain.DataSourceTypeBadger, domain.OpCreate); err != nil {
		return err
	}
	ok, err := s.Exists(ctx, info)
	if err != nil {
		return err
	}
	if ok {
		return domain.NewErrBackend(domain.DataSourceTypeBadger, "Create", os.ErrExist)
	}
	cfg, err := ConfigFrom(info)
	if err != nil {
		return err
	}
	cfg.InMemory = false
	db, err := badger.Open(cfg.Options(s.log))
	if err != nil {
		return domain.NewErrBackend(domain.DataSourceTypeBadger, "Create", err)
	}
	return domain.NewErrBackend(domain.DataSourceTypeBadger, "Create", db.Close())
}

// Drop removes the database directory at PATH.
func (s *Source) Drop(ctx context.Context, info domain.ConnectionInfo) error {
	if err := s.Capabilities().Require(domain.DataSourceTypeBadger, domain.OpDrop); err != nil {
		return err
	}
	ok, err := s.Exists(ctx, info)
	if err != nil {
		return err
	}
	if !ok {
		return domain.NewErrBackend(domain.DataSourceTypeBadger, "Drop", os.ErrNotExist)
	}
	return domain.NewErrBackend(domain.DataSourceTypeBadger, "Drop", os.RemoveAll(info.Get(domain.InfoPath)))
}

// ==================== Factory ====================

// BadgerFactory Badger 数据源工厂
type BadgerFactory struct{}

// NewBadgerFactory 创建 Badger 数据源工厂
func NewBadgerFactory() *BadgerFactory {
	return &BadgerFactory{}
}

// GetType 实现DataSourceFactory接口
func (f *BadgerFactory) GetType() domain.DataSourceType {
	return domain.DataSourceTypeBadger
}

// Create 实现DataSourceFactory接口
func (f *BadgerFactory) Create(info domain.ConnectionInfo) (domain.DataSource, error) {
	return NewSource(info), nil
}
