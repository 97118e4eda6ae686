package sqldb

import (
	"context"
	"database/sql"
	"strings"
	"sync"

	"github.com/kasuganosora/geoaccess/pkg/logger"
	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
)

// capabilities shared by every SQL engine
func sqlCapabilities() domain.Capabilities {
	return domain.Capabilities{
		Transactions:           true,
		SpatialPushdown:        true,
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

// PostGISCapabilities PostGIS 驱动能力
func PostGISCapabilities() domain.Capabilities { return sqlCapabilities() }

// MySQLCapabilities MySQL 驱动能力
func MySQLCapabilities() domain.Capabilities { return sqlCapabilities() }

// SQLiteCapabilities SQLite 驱动能力
func SQLiteCapabilities() domain.Capabilities { return sqlCapabilities() }

// Source implements domain.DataSource using database/sql. The dialect
// supplies everything engine specific.
type Source struct {
	*domain.BaseDataSource

	dialect Dialect
	log     logger.Logger

	mu  sync.RWMutex
	db  *sql.DB
	cfg *Config
}

// NewSource creates a closed SQL data source.
func NewSource(d Dialect, caps domain.Capabilities, info domain.ConnectionInfo) *Source {
	return &Source{
		BaseDataSource: domain.NewBaseDataSource(d.Type(), info, caps),
		dialect:        d,
		log:            logger.Named(strings.ToLower(string(d.Type()))),
	}
}

// Dialect returns the engine dialect.
func (s *Source) Dialect() Dialect { return s.dialect }

// DB returns the pool behind an open source.
func (s *Source) DB() *sql.DB {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db
}

// Open opens the database connection, configures the pool and loads the
// table list into the catalog.
func (s *Source) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.IsOpened() {
		return nil
	}

	driver := s.dialect.Type()
	info := s.ConnectionInfo()
	if err := info.Require(driver, s.dialect.RequiredKeys()...); err != nil {
		return err
	}
	cfg, err := ParseConfig(driver, info)
	if err != nil {
		return err
	}
	dsn, err := s.dialect.BuildDSN(cfg)
	if err != nil {
		return domain.NewErrConnection(driver, "build DSN", err)
	}

	db, err := sql.Open(s.dialect.DriverName(), dsn)
	if err != nil {
		return domain.NewErrConnection(driver, "open database", err)
	}

	// Configure pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	if cfg.InMemory {
		// an in-memory database lives as long as one of its connections
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	} else {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	// Verify connectivity
	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return domain.NewErrConnection(driver, "ping", err)
	}

	if setup, ok := s.dialect.(Setup); ok {
		if err := setup.Setup(ctx, db); err != nil {
			db.Close()
			return domain.NewErrConnection(driver, "prepare database", err)
		}
	}
	if err := s.fillCatalog(ctx, db); err != nil {
		db.Close()
		return domain.NewErrConnection(driver, "load catalog", err)
	}

	s.db = db
	s.cfg = cfg
	s.SetOpened(true)
	s.log.Debug("opened %s data source %s (%s)", driver, s.ID(), info.Redacted())
	return nil
}

// Close closes the database connection.
func (s *Source) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.IsOpened() {
		return nil
	}
	s.SetOpened(false)
	db := s.db
	s.db = nil
	if err := db.Close(); err != nil {
		return domain.NewErrBackend(s.dialect.Type(), "Close", err)
	}
	s.log.Debug("closed %s data source %s", s.dialect.Type(), s.ID())
	return nil
}

func (s *Source) IsValid(ctx context.Context) bool {
	db := s.DB()
	if !s.IsOpened() || db == nil {
		return false
	}
	return db.PingContext(ctx) == nil
}

// Transactor reserves a pooled connection for the new session.
func (s *Source) Transactor(ctx context.Context) (domain.Transactor, error) {
	if err := s.CheckOpen(); err != nil {
		return nil, err
	}
	db := s.DB()
	if db == nil {
		return nil, domain.NewErrNotOpen(s.dialect.Type())
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, domain.NewErrBackend(s.dialect.Type(), "Transactor", err)
	}
	return newTransactor(s, conn), nil
}

func (s *Source) reader(q Querier) catalogReader {
	return catalogReader{d: s.dialect, q: q}
}

// fillCatalog replaces the catalog with the current table list.
func (s *Source) fillCatalog(ctx context.Context, q Querier) error {
	r := s.reader(q)
	names, err := r.tables(ctx)
	if err != nil {
		return err
	}
	types := make([]*domain.DataSetType, 0, len(names))
	for _, name := range names {
		dt, err := r.load(ctx, name, false)
		if err != nil {
			return err
		}
		types = append(types, dt)
	}
	c := s.Catalog()
	c.Clear()
	for _, dt := range types {
		c.Put(dt)
	}
	return nil
}

// reloadTypes refreshes the catalog entries of names after a schema change.
func (s *Source) reloadTypes(ctx context.Context, q Querier, names ...string) error {
	r := s.reader(q)
	for _, name := range names {
		dt, err := r.load(ctx, name, false)
		if domain.IsDataSetNotFound(err) {
			s.Catalog().Remove(name)
			continue
		}
		if err != nil {
			return err
		}
		s.Catalog().Put(dt)
	}
	return nil
}

// adminConfig parses info for Exists/Create/Drop.
func (s *Source) adminConfig(info domain.ConnectionInfo) (*Config, error) {
	keys := s.dialect.RequiredKeys()
	if len(keys) == 0 {
		keys = []string{domain.InfoPath}
	}
	if err := info.Require(s.dialect.Type(), keys...); err != nil {
		return nil, err
	}
	return ParseConfig(s.dialect.Type(), info)
}

// Exists reports whether the database described by info exists.
func (s *Source) Exists(ctx context.Context, info domain.ConnectionInfo) (bool, error) {
	cfg, err := s.adminConfig(info)
	if err != nil {
		return false, err
	}
	ok, err := s.dialect.Exists(ctx, cfg)
	if err != nil {
		return false, domain.NewErrBackend(s.dialect.Type(), "Exists", err)
	}
	return ok, nil
}

// Create creates the database described by info.
func (s *Source) Create(ctx context.Context, info domain.ConnectionInfo) error {
	if err := s.Capabilities().Require(s.dialect.Type(), domain.OpCreate); err != nil {
		return err
	}
	cfg, err := s.adminConfig(info)
	if err != nil {
		return err
	}
	s.log.Info("creating %s database %s", s.dialect.Type(), info.Redacted())
	return domain.NewErrBackend(s.dialect.Type(), "Create", s.dialect.Create(ctx, cfg))
}

// Drop removes the database described by info.
func (s *Source) Drop(ctx context.Context, info domain.ConnectionInfo) error {
	if err := s.Capabilities().Require(s.dialect.Type(), domain.OpDrop); err != nil {
		return err
	}
	cfg, err := s.adminConfig(info)
	if err != nil {
		return err
	}
	s.log.Info("dropping %s database %s", s.dialect.Type(), info.Redacted())
	return domain.NewErrBackend(s.dialect.Type(), "Drop", s.dialect.Drop(ctx, cfg))
}

// ==================== Factory ====================

// Factory SQL 数据源工厂
type Factory struct {
	dialect Dialect
	caps    domain.Capabilities
}

// NewFactory creates a factory for one dialect.
func NewFactory(d Dialect, caps domain.Capabilities) *Factory {
	return &Factory{dialect: d, caps: caps}
}

// GetType 实现DataSourceFactory接口
func (f *Factory) GetType() domain.DataSourceType {
	return f.dialect.Type()
}

// Create 实现DataSourceFactory接口
func (f *Factory) Create(info domain.ConnectionInfo) (domain.DataSource, error) {
	return NewSource(f.dialect, f.caps, info), nil
}
