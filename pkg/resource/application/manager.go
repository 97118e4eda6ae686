package application

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
)

// ==================== 数据源管理器 ====================

// DataSourceManager keeps live data sources keyed by id.
type DataSourceManager struct {
	sources      map[string]domain.DataSource
	registry     *Registry
	defaultDS    string
	enabledTypes map[domain.DataSourceType]bool
	mu           sync.RWMutex
}

// NewDataSourceManager 创建使用全局注册表的管理器
func NewDataSourceManager() *DataSourceManager {
	return NewDataSourceManagerWithRegistry(globalRegistry)
}

// NewDataSourceManagerWithRegistry 使用指定注册表创建数据源管理器
func NewDataSourceManagerWithRegistry(registry *Registry) *DataSourceManager {
	return &DataSourceManager{
		sources:      make(map[string]domain.DataSource),
		registry:     registry,
		enabledTypes: make(map[domain.DataSourceType]bool),
	}
}

// SetEnabledTypes 设置启用的驱动类型，空表示全部启用
func (m *DataSourceManager) SetEnabledTypes(types []domain.DataSourceType) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.enabledTypes = make(map[domain.DataSourceType]bool)
	for _, t := range types {
		m.enabledTypes[t] = true
	}
}

// IsTypeEnabled 检查驱动类型是否启用
func (m *DataSourceManager) IsTypeEnabled(t domain.DataSourceType) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isTypeEnabled(t)
}

func (m *DataSourceManager) isTypeEnabled(t domain.DataSourceType) bool {
	if len(m.enabledTypes) == 0 {
		return true
	}
	return m.enabledTypes[t]
}

// Register 以 id 注册数据源，第一个注册的成为默认数据源
func (m *DataSourceManager) Register(id string, ds domain.DataSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sources[id]; exists {
		return fmt.Errorf("data source %s already registered", id)
	}
	if m.defaultDS == "" {
		m.defaultDS = id
	}
	m.sources[id] = ds
	return nil
}

// Detach 移除数据源但不关闭
func (m *DataSourceManager) Detach(id string) (domain.DataSource, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ds, ok := m.sources[id]
	if !ok {
		return nil, false
	}
	delete(m.sources, id)
	if m.defaultDS == id {
		m.defaultDS = m.firstID()
	}
	return ds, true
}

// Unregister 关闭并移除数据源
func (m *DataSourceManager) Unregister(ctx context.Context, id string) error {
	ds, ok := m.Detach(id)
	if !ok {
		return fmt.Errorf("data source %s not found", id)
	}
	if err := ds.Close(ctx); err != nil {
		return fmt.Errorf("failed to close data source %s: %w", id, err)
	}
	return nil
}

// DetachAll 移除所有数据源，返回被移除的数据源
func (m *DataSourceManager) DetachAll() []domain.DataSource {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.DataSource, 0, len(m.sources))
	for _, id := range m.sortedIDs() {
		out = append(out, m.sources[id])
	}
	m.sources = make(map[string]domain.DataSource)
	m.defaultDS = ""
	return out
}

// Find 按 id 查找
func (m *DataSourceManager) Find(id string) (domain.DataSource, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ds, ok := m.sources[id]
	return ds, ok
}

// Get returns the data source registered under id, creating and registering
// an unopened one from the registry when absent.
func (m *DataSourceManager) Get(id string, driver domain.DataSourceType, info domain.ConnectionInfo) (domain.DataSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ds, ok := m.sources[id]; ok {
		if ds.Type() != driver {
			return nil, fmt.Errorf("data source %s is a %s data source, not %s", id, ds.Type(), driver)
		}
		return ds, nil
	}
	if !m.isTypeEnabled(driver) {
		return nil, fmt.Errorf("driver %s is not enabled", driver)
	}
	ds, err := m.registry.Create(driver, info)
	if err != nil {
		return nil, err
	}
	if m.defaultDS == "" {
		m.defaultDS = id
	}
	m.sources[id] = ds
	return ds, nil
}

// CreateAndRegister 创建、打开并注册数据源
func (m *DataSourceManager) CreateAndRegister(ctx context.Context, id string, driver domain.DataSourceType, info domain.ConnectionInfo) (domain.DataSource, error) {
	if !m.IsTypeEnabled(driver) {
		return nil, fmt.Errorf("driver %s is not enabled", driver)
	}
	ds, err := m.registry.Create(driver, info)
	if err != nil {
		return nil, fmt.Errorf("failed to create data source: %w", err)
	}
	if err := ds.Open(ctx); err != nil {
		return nil, fmt.Errorf("failed to open data source %s: %w", id, err)
	}
	if err := m.Register(id, ds); err != nil {
		_ = ds.Close(ctx)
		return nil, err
	}
	return ds, nil
}

// GetDefault 获取默认数据源
func (m *DataSourceManager) GetDefault() (domain.DataSource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.defaultDS == "" {
		return nil, fmt.Errorf("no default data source set")
	}
	return m.sources[m.defaultDS], nil
}

// SetDefault 设置默认数据源
func (m *DataSourceManager) SetDefault(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sources[id]; !ok {
		return fmt.Errorf("data source %s not found", id)
	}
	m.defaultDS = id
	return nil
}

// GetDefaultID 获取默认数据源 id
func (m *DataSourceManager) GetDefaultID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaultDS
}

// List 按 id 排序列出
func (m *DataSourceManager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedIDs()
}

func (m *DataSourceManager) sortedIDs() []string {
	ids := make([]string, 0, len(m.sources))
	for id := range m.sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *DataSourceManager) firstID() string {
	ids := m.sortedIDs()
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

type namedDS struct {
	id string
	ds domain.DataSource
}

func (m *DataSourceManager) snapshot() []namedDS {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]namedDS, 0, len(m.sources))
	for _, id := range m.sortedIDs() {
		out = append(out, namedDS{id, m.sources[id]})
	}
	return out
}

// OpenAll 打开所有未打开的数据源
func (m *DataSourceManager) OpenAll(ctx context.Context) error {
	for _, s := range m.snapshot() {
		if !s.ds.IsOpened() {
			if err := s.ds.Open(ctx); err != nil {
				return fmt.Errorf("failed to open data source %s: %w", s.id, err)
			}
		}
	}
	return nil
}

// CloseAll 关闭所有数据源，返回最后一个错误
func (m *DataSourceManager) CloseAll(ctx context.Context) error {
	var lastErr error
	for _, s := range m.snapshot() {
		if !s.ds.IsOpened() {
			continue
		}
		if err := s.ds.Close(ctx); err != nil {
			lastErr = fmt.Errorf("failed to close data source %s: %w", s.id, err)
		}
	}
	return lastErr
}

// GetStatus 获取各数据源打开状态
func (m *DataSourceManager) GetStatus() map[string]bool {
	status := make(map[string]bool)
	for _, s := range m.snapshot() {
		status[s.id] = s.ds.IsOpened()
	}
	return status
}

// GetRegistry 获取注册表
func (m *DataSourceManager) GetRegistry() *Registry {
	return m.registry
}

// ==================== 全局数据源管理器 ====================

var defaultManager = NewDataSourceManager()

// GetDefaultManager 获取默认数据源管理器
func GetDefaultManager() *DataSourceManager {
	return defaultManager
}
