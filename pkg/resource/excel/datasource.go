package excel

import (
	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
	"github.com/kasuganosora/geoaccess/pkg/resource/file"
)

// ExcelSource Excel工作簿数据源，每个非空工作表是一个数据集
type ExcelSource struct {
	*file.FileDataSource
}

// NewExcelSource 创建Excel数据源
func NewExcelSource(info domain.ConnectionInfo) *ExcelSource {
	s := &ExcelSource{FileDataSource: file.NewFileDataSource(domain.DataSourceTypeExcel, info, file.CapabilitiesFrom(info), excelFormat{})}
	s.Bind(s)
	return s
}

// ExcelFactory Excel 数据源工厂
type ExcelFactory struct{}

// NewExcelFactory 创建 Excel 数据源工厂
func NewExcelFactory() *ExcelFactory {
	return &ExcelFactory{}
}

// GetType 实现DataSourceFactory接口
func (f *ExcelFactory) GetType() domain.DataSourceType {
	return domain.DataSourceTypeExcel
}

// Create 实现DataSourceFactory接口
func (f *ExcelFactory) Create(info domain.ConnectionInfo) (domain.DataSource, error) {
	return NewExcelSource(info), nil
}
