package dataaccess

import (
	"context"
	"fmt"

	"github.com/kasuganosora/geoaccess/pkg/geometry"
	"github.com/kasuganosora/geoaccess/pkg/query"
	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
)

// Result 物化的查询结果
type Result struct {
	Type *domain.DataSetType `json:"type"`
	Rows []domain.Row        `json:"rows"`
}

// Service 数据访问服务接口
type Service interface {
	// Query 执行原生查询字符串，limit > 0 时截断结果
	Query(ctx context.Context, q string, limit int) (*Result, error)

	// Filter 空间过滤（能下推时下推）
	Filter(ctx context.Context, dataset, property string, env geometry.Envelope, rel geometry.SpatialRelation, limit int) (*Result, error)

	// Describe 获取完整数据集类型
	Describe(ctx context.Context, dataset string) (*domain.DataSetType, error)

	// Extent 获取数据集范围
	Extent(ctx context.Context, dataset, property string) (geometry.Envelope, error)

	// Insert 插入数据
	Insert(ctx context.Context, dataset string, rows []domain.Row) (int64, error)

	// Update 更新数据
	Update(ctx context.Context, dataset string, values domain.Row, where query.Expression) (int64, error)

	// Delete 删除数据
	Delete(ctx context.Context, dataset string, where query.Expression) (int64, error)

	// CreateFromModel 按 gorm 结构体模型创建数据集
	CreateFromModel(ctx context.Context, model interface{}) (*domain.DataSetType, error)
}

// DataService routes each call to the data source owning the dataset and
// runs it on a short lived transactor.
type DataService struct {
	router *Router
}

// NewDataService 创建数据访问服务
func NewDataService(router *Router) *DataService {
	return &DataService{router: router}
}

// Router 返回路由器
func (s *DataService) Router() *Router { return s.router }

func (s *DataService) withTransactor(ctx context.Context, dataset string, fn func(domain.Transactor) error) error {
	ds, err := s.router.Route(dataset)
	if err != nil {
		return fmt.Errorf("route failed: %w", err)
	}
	t, err := ds.Transactor(ctx)
	if err != nil {
		return err
	}
	defer t.Close(ctx)
	return fn(t)
}

func (s *DataService) Query(ctx context.Context, q string, limit int) (*Result, error) {
	sel, err := query.ParseSelect(q)
	if err != nil {
		return nil, err
	}
	names := sel.DataSetNames()
	if len(names) != 1 {
		return nil, fmt.Errorf("query must reference exactly one dataset, got %d", len(names))
	}

	var res *Result
	err = s.withTransactor(ctx, names[0], func(t domain.Transactor) error {
		ds, err := t.Query(ctx, sel, domain.ForwardOnly, domain.AccessRead)
		if err != nil {
			return fmt.Errorf("query data failed: %w", err)
		}
		defer ds.Close()
		res, err = collect(ds, limit)
		return err
	})
	return res, err
}

func (s *DataService) Filter(ctx context.Context, dataset, property string, env geometry.Envelope, rel geometry.SpatialRelation, limit int) (*Result, error) {
	var res *Result
	err := s.withTransactor(ctx, dataset, func(t domain.Transactor) error {
		ds, err := t.GetDataSetByEnvelope(ctx, dataset, property, env, rel, domain.ForwardOnly, domain.AccessRead)
		if err != nil {
			return fmt.Errorf("filter data failed: %w", err)
		}
		defer ds.Close()
		res, err = collect(ds, limit)
		return err
	})
	return res, err
}

func collect(ds domain.DataSet, limit int) (*Result, error) {
	rows, err := ReadAll(ds, limit)
	if err != nil {
		return nil, err
	}
	return &Result{Type: ds.Type(), Rows: rows}, nil
}

func (s *DataService) Describe(ctx context.Context, dataset string) (*domain.DataSetType, error) {
	var dt *domain.DataSetType
	err := s.withTransactor(ctx, dataset, func(t domain.Transactor) error {
		var err error
		dt, err = GetDataSetType(ctx, t, dataset, true)
		return err
	})
	return dt, err
}

func (s *DataService) Extent(ctx context.Context, dataset, property string) (geometry.Envelope, error) {
	env := geometry.EmptyEnvelope()
	err := s.withTransactor(ctx, dataset, func(t domain.Transactor) error {
		var err error
		env, err = LoadExtent(ctx, t, dataset, property)
		return err
	})
	return env, err
}

func (s *DataService) persist(ctx context.Context, dataset string, fn func(domain.DataSetPersistence) (int64, error)) (int64, error) {
	var n int64
	err := s.withTransactor(ctx, dataset, func(t domain.Transactor) error {
		p, err := t.DataSetPersistence(ctx)
		if err != nil {
			return err
		}
		defer p.Close()
		return InTransaction(ctx, t, func() error {
			var err error
			n, err = fn(p)
			return err
		})
	})
	return n, err
}

func (s *DataService) Insert(ctx context.Context, dataset string, rows []domain.Row) (int64, error) {
	n, err := s.persist(ctx, dataset, func(p domain.DataSetPersistence) (int64, error) {
		return p.Add(ctx, dataset, rows)
	})
	if err != nil {
		return 0, fmt.Errorf("insert data failed: %w", err)
	}
	return n, nil
}

func (s *DataService) Update(ctx context.Context, dataset string, values domain.Row, where query.Expression) (int64, error) {
	n, err := s.persist(ctx, dataset, func(p domain.DataSetPersistence) (int64, error) {
		return p.Update(ctx, dataset, values, where)
	})
	if err != nil {
		return 0, fmt.Errorf("update data failed: %w", err)
	}
	return n, nil
}

func (s *DataService) Delete(ctx context.Context, dataset string, where query.Expression) (int64, error) {
	n, err := s.persist(ctx, dataset, func(p domain.DataSetPersistence) (int64, error) {
		return p.Remove(ctx, dataset, where)
	})
	if err != nil {
		return 0, fmt.Errorf("delete data failed: %w", err)
	}
	return n, nil
}

// CreateFromModel derives the dataset type from a gorm-style model and
// creates it on the source the model's table name routes to.
func (s *DataService) CreateFromModel(ctx context.Context, model interface{}) (*domain.DataSetType, error) {
	dt, err := DataSetTypeFromModel(model)
	if err != nil {
		return nil, err
	}
	err = s.withTransactor(ctx, dt.Name, func(t domain.Transactor) error {
		tp, err := t.DataSetTypePersistence(ctx)
		if err != nil {
			return err
		}
		defer tp.Close()
		return tp.Create(ctx, dt)
	})
	if err != nil {
		return nil, fmt.Errorf("create dataset %s failed: %w", dt.Name, err)
	}
	return dt, nil
}
