package domain

import (
	"context"
	"time"

	"github.com/kasuganosora/geoaccess/pkg/geometry"
	"github.com/kasuganosora/geoaccess/pkg/query"
	"github.com/twpayne/go-geom"
)

// DataSource 数据源句柄
//
// A DataSource may be shared between goroutines for issuing transactors.
// Transactors and the DataSets they produce are single goroutine.
type DataSource interface {
	// ID 数据源标识
	ID() string

	// Type 驱动类型
	Type() DataSourceType

	// ConnectionInfo 连接参数副本
	ConnectionInfo() ConnectionInfo

	// SetConnectionInfo 替换连接参数，仅在打开前有效
	SetConnectionInfo(info ConnectionInfo)

	// Capabilities 静态能力描述
	Capabilities() Capabilities

	// Catalog 已知数据集类型
	Catalog() *Catalog

	// Open 校验参数并连接后端
	Open(ctx context.Context) error

	// Close 释放后端资源，已签发的 Transactor 随之失效
	Close(ctx context.Context) error

	// IsOpened 是否已打开
	IsOpened() bool

	// IsValid 轻量连通性检查，不改变状态
	IsValid(ctx context.Context) bool

	// Transactor 获取会话，未打开时返回 ErrNotOpen
	Transactor(ctx context.Context) (Transactor, error)

	// Exists 检查 info 描述的存储是否存在
	Exists(ctx context.Context, info ConnectionInfo) (bool, error)

	// Create 创建 info 描述的存储
	Create(ctx context.Context, info ConnectionInfo) error

	// Drop 删除 info 描述的存储
	Drop(ctx context.Context, info ConnectionInfo) error
}

// DataSourceFactory 数据源工厂接口
type DataSourceFactory interface {
	// Create 创建数据源
	Create(info ConnectionInfo) (DataSource, error)

	// GetType 支持的数据源类型
	GetType() DataSourceType
}

// Transactor is a connection scoped session. It is not safe for concurrent
// use; only Cancel may be called from another goroutine.
type Transactor interface {
	DataSource() DataSource

	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	IsInTransaction() bool

	GetDataSet(ctx context.Context, name string, trav TraverseType, access AccessPolicy) (DataSet, error)
	// property may be empty to use the default geometry property.
	GetDataSetByEnvelope(ctx context.Context, name, property string, env geometry.Envelope, rel geometry.SpatialRelation, trav TraverseType, access AccessPolicy) (DataSet, error)
	GetDataSetByGeometry(ctx context.Context, name, property string, g geom.T, rel geometry.SpatialRelation, trav TraverseType, access AccessPolicy) (DataSet, error)

	Query(ctx context.Context, sel *query.Select, trav TraverseType, access AccessPolicy) (DataSet, error)
	QueryString(ctx context.Context, q string, trav TraverseType, access AccessPolicy) (DataSet, error)

	Execute(ctx context.Context, cmd query.Command) (int64, error)
	ExecuteString(ctx context.Context, cmd string) (int64, error)

	Prepared(ctx context.Context, name string) (PreparedQuery, error)
	BatchExecutor(ctx context.Context) (BatchExecutor, error)
	CatalogLoader(ctx context.Context) (CatalogLoader, error)
	DataSetTypePersistence(ctx context.Context) (DataSetTypePersistence, error)
	DataSetPersistence(ctx context.Context) (DataSetPersistence, error)

	// Cancel 尽力取消进行中的操作
	Cancel()

	// LastInsertID 仅在自增插入后立即有效。驱动不支持时返回 0，
	// 0 不表示错误，调用方先检查 Capabilities().LastInsertID
	LastInsertID() int64

	// Close 释放会话，未提交的事务被回滚
	Close(ctx context.Context) error
}

// CatalogLoader 元数据加载器
type CatalogLoader interface {
	GetDataSets(ctx context.Context) ([]string, error)
	// full=false 只返回属性与默认几何属性
	GetDataSetType(ctx context.Context, name string, full bool) (*DataSetType, error)
	GetProperties(ctx context.Context, name string) ([]*Property, error)
	GetPrimaryKey(ctx context.Context, name string) (*PrimaryKey, error)
	GetUniqueKeys(ctx context.Context, name string) ([]*UniqueKey, error)
	GetIndexes(ctx context.Context, name string) ([]*Index, error)
	GetCheckConstraints(ctx context.Context, name string) ([]*CheckConstraint, error)
	GetExtent(ctx context.Context, name, property string) (geometry.Envelope, error)
	DataSetExists(ctx context.Context, name string) (bool, error)
	Close() error
}

// PreparedQuery 预编译语句，参数以 ? 占位，序号从 0 开始
type PreparedQuery interface {
	Name() string
	Prepare(ctx context.Context, q string) error
	Bind(i int, v interface{}) error
	Query(ctx context.Context, trav TraverseType, access AccessPolicy) (DataSet, error)
	Execute(ctx context.Context) (int64, error)
	Close() error
}

// BatchExecutor 批量命令执行器
type BatchExecutor interface {
	Add(cmd query.Command) error
	AddString(cmd string) error
	Len() int
	Execute(ctx context.Context) (int64, error)
	Close() error
}

// DataSetTypePersistence 结构变更
type DataSetTypePersistence interface {
	Create(ctx context.Context, dt *DataSetType) error
	Drop(ctx context.Context, name string) error
	Rename(ctx context.Context, oldName, newName string) error
	AddProperty(ctx context.Context, name string, p *Property) error
	DropProperty(ctx context.Context, name, property string) error
	Close() error
}

// DataSetPersistence 数据变更
type DataSetPersistence interface {
	Add(ctx context.Context, name string, rows []Row) (int64, error)
	Update(ctx context.Context, name string, values Row, where query.Expression) (int64, error)
	Remove(ctx context.Context, name string, where query.Expression) (int64, error)
	Close() error
}

// DataSet is a cursor over rows of one DataSetType. A fresh cursor is
// positioned before the first row.
type DataSet interface {
	Type() *DataSetType
	TraverseType() TraverseType
	AccessPolicy() AccessPolicy

	// Size 行数，未知时为 -1
	Size() int
	IsEmpty() bool

	MoveNext() bool
	MovePrevious() (bool, error)
	MoveFirst() (bool, error)
	MoveLast() (bool, error)
	MoveBeforeFirst() error
	Move(i int) (bool, error)

	IsBeforeBegin() bool
	IsAtBegin() bool
	IsAtEnd() bool
	IsAfterEnd() bool
	Position() int

	Get(i int) (interface{}, error)
	GetByName(name string) (interface{}, error)
	IsNull(name string) (bool, error)
	GetString(name string) (string, error)
	GetInt64(name string) (int64, error)
	GetFloat64(name string) (float64, error)
	GetBool(name string) (bool, error)
	GetTime(name string) (time.Time, error)
	GetBytes(name string) ([]byte, error)
	GetGeometry(name string) (geom.T, error)
	GetRaster(name string) (*Raster, error)
	Row() (Row, error)

	// Extent 计算几何属性范围，空名使用默认几何属性
	Extent(property string) (geometry.Envelope, error)

	// Err 返回遍历中遇到的错误
	Err() error
	Close() error
}

// Raster 不透明的栅格载荷
type Raster struct {
	Format   string            `json:"format"`
	Envelope geometry.Envelope `json:"envelope"`
	SRID     int               `json:"srid,omitempty"`
	Width    int               `json:"width"`
	Height   int               `json:"height"`
	Data     []byte            `json:"-"`
}
