package csv

import (
	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
	"github.com/kasuganosora/geoaccess/pkg/resource/file"
)

// CSVSource CSV文件数据源。文件在 Open 时整体读入内存，
// WRITABLE=true 时每次提交写回
type CSVSource struct {
	*file.FileDataSource
}

// NewCSVSource 创建CSV数据源
func NewCSVSource(info domain.ConnectionInfo) *CSVSource {
	s := &CSVSource{FileDataSource: file.NewFileDataSource(domain.DataSourceTypeCSV, info, file.CapabilitiesFrom(info), csvFormat{})}
	s.Bind(s)
	return s
}

// CSVFactory CSV 数据源工厂
type CSVFactory struct{}

// NewCSVFactory 创建 CSV 数据源工厂
func NewCSVFactory() *CSVFactory {
	return &CSVFactory{}
}

// GetType 实现DataSourceFactory接口
func (f *CSVFactory) GetType() domain.DataSourceType {
	return domain.DataSourceTypeCSV
}

// Create 实现DataSourceFactory接口
func (f *CSVFactory) Create(info domain.ConnectionInfo) (domain.DataSource, error) {
	return NewCSVSource(info), nil
}
