package memory

import (
	"context"
	"sync"

	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
)

const (
	// InfoStore names a shared store; sources opened with the same name see
	// the same data. Without it each source gets a private store.
	InfoStore = "STORE"
	// InfoSpatialIndex disables R-tree pushdown when set to false.
	InfoSpatialIndex = "SPATIAL_INDEX"
)

// 命名存储，进程内共享
var (
	storesMu sync.Mutex
	stores   = make(map[string]*Engine)
)

func lookupStore(name string) (*Engine, bool) {
	storesMu.Lock()
	defer storesMu.Unlock()
	e, ok := stores[name]
	return e, ok
}

// Capabilities 内存驱动能力
func Capabilities() domain.Capabilities {
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

// Source 内存数据源
type Source struct {
	*domain.BaseDataSource

	mu     sync.Mutex
	engine *Engine
}

// NewSource creates a closed memory data source.
func NewSource(info domain.ConnectionInfo) *Source {
	caps := Capabilities()
	// 无法解析的 SPATIAL_INDEX 在 Open 时报错
	if indexed, err := info.Bool(InfoSpatialIndex, true); err != nil || !indexed {
		caps.SpatialPushdown = false
	}
	return &Source{BaseDataSource: domain.NewBaseDataSource(domain.DataSourceTypeMemory, info, caps)}
}

// Open attaches the source to its store, creating it on first use.
func (s *Source) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.IsOpened() {
		return nil
	}

	info := s.ConnectionInfo()
	opts, err := engineOptions(info)
	if err != nil {
		return err
	}
	if name := info.Get(InfoStore); name != "" {
		storesMu.Lock()
		e, ok := stores[name]
		if !ok {
			e = NewEngine(domain.DataSourceTypeMemory, opts...)
			stores[name] = e
		}
		storesMu.Unlock()
		s.engine = e
	} else if s.engine == nil {
		s.engine = NewEngine(domain.DataSourceTypeMemory, opts...)
	}
	s.engine.FillCatalog(s.Catalog())
	s.SetOpened(true)
	s.engine.log.Debug("opened memory data source %s (%s)", s.ID(), info.Redacted())
	return nil
}

// Close keeps named stores alive for other sources; a private store is
// discarded.
func (s *Source) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.IsOpened() {
		return nil
	}
	s.SetOpened(false)
	if s.ConnectionInfo().Get(InfoStore) == "" {
		s.engine = nil
	}
	return nil
}

func (s *Source) IsValid(ctx context.Context) bool { return s.IsOpened() }

// Engine returns the store behind an open source.
func (s *Source) Engine() *Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine
}

func (s *Source) Transactor(ctx context.Context) (domain.Transactor, error) {
	if err := s.CheckOpen(); err != nil {
		return nil, err
	}
	return s.Engine().NewTransactor(s), nil
}

// Exists reports whether the named store exists.
func (s *Source) Exists(ctx context.Context, info domain.ConnectionInfo) (bool, error) {
	if err := info.Require(domain.DataSourceTypeMemory, InfoStore); err != nil {
		return false, err
	}
	_, ok := lookupStore(info.Get(InfoStore))
	return ok, nil
}

// Create registers an empty named store.
func (s *Source) Create(ctx context.Context, info domain.ConnectionInfo) error {
	if err := info.Require(domain.DataSourceTypeMemory, InfoStore); err != nil {
		return err
	}
	name := info.Get(InfoStore)
	storesMu.Lock()
	defer storesMu.Unlock()
	if _, ok := stores[name]; ok {
		return domain.NewErrBackend(domain.DataSourceTypeMemory, "Create", domain.NewErrDataSetTypeExists(name))
	}
	opts, err := engineOptions(info)
	if err != nil {
		return err
	}
	stores[name] = NewEngine(domain.DataSourceTypeMemory, opts...)
	return nil
}

// Drop forgets a named store. Sources already attached keep their data.
func (s *Source) Drop(ctx context.Context, info domain.ConnectionInfo) error {
	if err := info.Require(domain.DataSourceTypeMemory, InfoStore); err != nil {
		return err
	}
	name := info.Get(InfoStore)
	storesMu.Lock()
	defer storesMu.Unlock()
	if _, ok := stores[name]; !ok {
		return domain.NewErrBackend(domain.DataSourceTypeMemory, "Drop", domain.NewErrDataSetNotFound(name))
	}
	delete(stores, name)
	return nil
}

// ==================== Factory ====================

// MemoryFactory 内存数据源工厂
type MemoryFactory struct{}

// NewMemoryFactory 创建内存数据源工厂
func NewMemoryFactory() *MemoryFactory {
	return &MemoryFactory{}
}

// GetType 实现DataSourceFactory接口
func (f *MemoryFactory) GetType() domain.DataSourceType {
	return domain.DataSourceTypeMemory
}

// Create 实现DataSourceFactory接口
func (f *MemoryFactory) Create(info domain.ConnectionInfo) (domain.DataSource, error) {
	return NewSource(info), nil
}

func engineOptions(info domain.ConnectionInfo) ([]Option, error) {
	indexed, err := info.Bool(InfoSpatialIndex, true)
	if err != nil {
		return nil, domain.NewErrConnection(domain.DataSourceTypeMemory, "invalid connection parameter", err)
	}
	if !indexed {
		return []Option{WithoutSpatialIndex()}, nil
	}
	return nil, nil
}
