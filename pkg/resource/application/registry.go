package application

import (
	"fmt"
	"sort"
	"sync"

	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
)

// ==================== 驱动注册表 ====================

// FactoryFunc 函数形式的工厂
type FactoryFunc struct {
	Type domain.DataSourceType
	Fn   func(info domain.ConnectionInfo) (domain.DataSource, error)
}

func (f FactoryFunc) GetType() domain.DataSourceType { return f.Type }

func (f FactoryFunc) Create(info domain.ConnectionInfo) (domain.DataSource, error) {
	return f.Fn(info)
}

// Registry 驱动工厂注册表，按驱动类型索引
type Registry struct {
	factories map[domain.DataSourceType]domain.DataSourceFactory
	mu        sync.RWMutex
}

// NewRegistry 创建注册表
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[domain.DataSourceType]domain.DataSourceFactory),
	}
}

// Register 注册驱动工厂
func (r *Registry) Register(factory domain.DataSourceFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	factoryType := factory.GetType()
	if _, exists := r.factories[factoryType]; exists {
		return fmt.Errorf("driver %s already registered", factoryType)
	}

	r.factories[factoryType] = factory
	return nil
}

// Unregister 注销驱动工厂
func (r *Registry) Unregister(factoryType domain.DataSourceType) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[factoryType]; !exists {
		return fmt.Errorf("driver %s not found", factoryType)
	}

	delete(r.factories, factoryType)
	return nil
}

// Get 获取驱动工厂
func (r *Registry) Get(factoryType domain.DataSourceType) (domain.DataSourceFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[factoryType]
	if !ok {
		return nil, fmt.Errorf("driver %s not found", factoryType)
	}
	return factory, nil
}

// Create 使用工厂创建数据源（未打开）
func (r *Registry) Create(factoryType domain.DataSourceType, info domain.ConnectionInfo) (domain.DataSource, error) {
	factory, err := r.Get(factoryType)
	if err != nil {
		return nil, err
	}
	return factory.Create(info)
}

// List 按名称排序列出已注册的驱动
func (r *Registry) List() []domain.DataSourceType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]domain.DataSourceType, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Exists 检查驱动是否存在
func (r *Registry) Exists(factoryType domain.DataSourceType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.factories[factoryType]
	return exists
}

// Clear 清空所有注册的驱动
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories = make(map[domain.DataSourceType]domain.DataSourceFactory)
}

// ==================== 全局注册表 ====================

var globalRegistry = NewRegistry()

// GetRegistry 获取全局注册表
func GetRegistry() *Registry {
	return globalRegistry
}

// RegisterDriver 在全局注册表中注册驱动，进程启动时调用
func RegisterDriver(factory domain.DataSourceFactory) error {
	return globalRegistry.Register(factory)
}

// UnregisterAll 清空全局注册表，进程退出时调用
func UnregisterAll() {
	globalRegistry.Clear()
}

// CreateDataSource 使用全局注册表创建数据源
func CreateDataSource(driver domain.DataSourceType, info domain.ConnectionInfo) (domain.DataSource, error) {
	return globalRegistry.Create(driver, info)
}

// GetSupportedTypes 获取已注册的驱动类型
func GetSupportedTypes() []domain.DataSourceType {
	return globalRegistry.List()
}
