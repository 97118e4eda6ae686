package dataaccess

import (
	"context"
	"fmt"
	"sync"

	"github.com/kasuganosora/geoaccess/pkg/resource/application"
	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
)

// Router 数据集到数据源的路由器
type Router struct {
	mu        sync.RWMutex
	routes    map[string]string // 数据集名到数据源 id 的映射
	defaultID string
	manager   *application.DataSourceManager
}

// NewRouter 创建路由器，mgr 为 nil 时使用默认管理器
func NewRouter(mgr *application.DataSourceManager) *Router {
	if mgr == nil {
		mgr = application.GetDefaultManager()
	}
	return &Router{
		routes:  make(map[string]string),
		manager: mgr,
	}
}

// Manager 返回底层管理器
func (r *Router) Manager() *application.DataSourceManager { return r.manager }

// Route 路由数据集到数据源，未配置路由时使用默认数据源
func (r *Router) Route(dataset string) (domain.DataSource, error) {
	r.mu.RLock()
	id, ok := r.routes[dataset]
	if !ok {
		id = r.defaultID
	}
	r.mu.RUnlock()

	if id == "" {
		ds, err := r.manager.GetDefault()
		if err != nil {
			return nil, fmt.Errorf("no route for dataset %s: %w", dataset, err)
		}
		return ds, nil
	}
	ds, found := r.manager.Find(id)
	if !found {
		return nil, fmt.Errorf("dataset %s routes to unknown data source %s", dataset, id)
	}
	return ds, nil
}

// AddRoute 添加路由
func (r *Router) AddRoute(dataset, dataSourceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[dataset] = dataSourceID
}

// RemoveRoute 移除路由
func (r *Router) RemoveRoute(dataset string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.routes, dataset)
}

// SetDefaultDataSource 设置默认数据源，空串表示使用管理器的默认数据源
func (r *Router) SetDefaultDataSource(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultID = id
}

// GetRoutes 获取所有路由
func (r *Router) GetRoutes() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]string, len(r.routes))
	for k, v := range r.routes {
		out[k] = v
	}
	return out
}

// Discover asks every open data source for its datasets and adds a route
// for each name that has none yet. Sources are visited in id order, so the
// first source exposing a name wins.
func (r *Router) Discover(ctx context.Context) error {
	for _, id := range r.manager.List() {
		ds, ok := r.manager.Find(id)
		if !ok || !ds.IsOpened() {
			continue
		}
		t, err := ds.Transactor(ctx)
		if err != nil {
			return err
		}
		names, err := GetDataSets(ctx, t)
		t.Close(ctx)
		if err != nil {
			return fmt.Errorf("discover datasets of %s: %w", id, err)
		}

		r.mu.Lock()
		for _, n := range names {
			if _, exists := r.routes[n]; !exists {
				r.routes[n] = id
			}
		}
		r.mu.Unlock()
	}
	return nil
}
