package parquet

import (
	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
	"github.com/kasuganosora/geoaccess/pkg/resource/file"
)

// ParquetSource Parquet文件数据源，一个文件一个数据集
type ParquetSource struct {
	*file.FileDataSource
}

// NewParquetSource 创建Parquet数据源
func NewParquetSource(info domain.ConnectionInfo) *ParquetSource {
	caps := file.CapabilitiesFrom(info)
	// 没有数据集就没有 schema，不能创建空文件
	caps.Create = false
	s := &ParquetSource{FileDataSource: file.NewFileDataSource(domain.DataSourceTypeParquet, info, caps, parquetFormat{})}
	s.Bind(s)
	return s
}

// ParquetFactory Parquet 数据源工厂
type ParquetFactory struct{}

// NewParquetFactory 创建 Parquet 数据源工厂
func NewParquetFactory() *ParquetFactory {
	return &ParquetFactory{}
}

// GetType 实现DataSourceFactory接口
func (f *ParquetFactory) GetType() domain.DataSourceType {
	return domain.DataSourceTypeParquet
}

// Create 实现DataSourceFactory接口
func (f *ParquetFactory) Create(info domain.ConnectionInfo) (domain.DataSource, error) {
	return NewParquetSource(info), nil
}
