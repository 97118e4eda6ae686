package domain

import "sync"

// Catalog is a DataSource's registry of known DataSetTypes, kept in
// insertion order. Stored types are shared; callers clone before mutating.
type Catalog struct {
	mu    sync.RWMutex
	order []string
	types map[string]*DataSetType
}

// NewCatalog 创建空目录
func NewCatalog() *Catalog {
	return &Catalog{types: make(map[string]*DataSetType)}
}

// Add 添加类型，名称重复时返回 ErrDataSetTypeExists
func (c *Catalog) Add(dt *DataSetType) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.types[dt.Name]; exists {
		return NewErrDataSetTypeExists(dt.Name)
	}
	c.types[dt.Name] = dt
	c.order = append(c.order, dt.Name)
	return nil
}

// Put 添加或替换类型
func (c *Catalog) Put(dt *DataSetType) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.types[dt.Name]; !exists {
		c.order = append(c.order, dt.Name)
	}
	c.types[dt.Name] = dt
}

// Get 获取类型
func (c *Catalog) Get(name string) (*DataSetType, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dt, ok := c.types[name]
	return dt, ok
}

// Contains 是否包含
func (c *Catalog) Contains(name string) bool {
	_, ok := c.Get(name)
	return ok
}

// Remove 删除类型
func (c *Catalog) Remove(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.types[name]; !exists {
		return false
	}
	delete(c.types, name)
	for i, n := range c.order {
		if n == name {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return true
}

// Rename 重命名类型
func (c *Catalog) Rename(oldName, newName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	dt, ok := c.types[oldName]
	if !ok {
		return NewErrDataSetNotFound(oldName)
	}
	if _, exists := c.types[newName]; exists {
		return NewErrDataSetTypeExists(newName)
	}
	delete(c.types, oldName)
	dt.Name = newName
	c.types[newName] = dt
	for i, n := range c.order {
		if n == oldName {
			c.order[i] = newName
			break
		}
	}
	return nil
}

// Names 按插入顺序返回名称
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return append([]string(nil), c.order...)
}

// Len 类型数量
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.order)
}

// Clear 清空
func (c *Catalog) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order = nil
	c.types = make(map[string]*DataSetType)
}
