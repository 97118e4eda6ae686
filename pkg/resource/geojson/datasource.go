package geojson

import (
	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
	"github.com/kasuganosora/geoaccess/pkg/resource/file"
)

// GeoJSONSource GeoJSON 文件数据源，一个 FeatureCollection 对应一个数据集。
// 默认只读，WRITABLE=true 时提交写回
type GeoJSONSource struct {
	*file.FileDataSource
}

// NewGeoJSONSource 创建 GeoJSON 数据源
func NewGeoJSONSource(info domain.ConnectionInfo) *GeoJSONSource {
	s := &GeoJSONSource{FileDataSource: file.NewFileDataSource(domain.DataSourceTypeGeoJSON, info, file.CapabilitiesFrom(info), geojsonFormat{})}
	s.Bind(s)
	return s
}

// GeoJSONFactory GeoJSON 数据源工厂
type GeoJSONFactory struct{}

// NewGeoJSONFactory 创建 GeoJSON 数据源工厂
func NewGeoJSONFactory() *GeoJSONFactory {
	return &GeoJSONFactory{}
}

// GetType 实现 DataSourceFactory 接口
func (f *GeoJSONFactory) GetType() domain.DataSourceType {
	return domain.DataSourceTypeGeoJSON
}

// Create 实现 DataSourceFactory 接口
func (f *GeoJSONFactory) Create(info domain.ConnectionInfo) (domain.DataSource, error) {
	return NewGeoJSONSource(info), nil
}
