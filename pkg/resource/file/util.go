package file

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/twpayne/go-geom"

	"github.com/kasuganosora/geoaccess/pkg/geometry"
	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
)

// ==================== 文件操作工具函数 ====================

// GetFileExtension 获取文件扩展名
func GetFileExtension(filePath string) string {
	return strings.ToLower(filepath.Ext(filePath))
}

// DataSetName 单数据集文件的数据集名，取不带扩展名的文件名
func DataSetName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// GetDataSourceTypeFromFileExt 根据文件扩展名获取数据源类型
func GetDataSourceTypeFromFileExt(filePath string) domain.DataSourceType {
	switch GetFileExtension(filePath) {
	case ".csv", ".tsv", ".txt":
		return domain.DataSourceTypeCSV
	case ".xlsx", ".xlsm":
		return domain.DataSourceTypeExcel
	case ".geojson", ".json":
		return domain.DataSourceTypeGeoJSON
	case ".parquet":
		return domain.DataSourceTypeParquet
	case ".sqlite", ".db", ".gpkg":
		return domain.DataSourceTypeSQLite
	default:
		return ""
	}
}

// FormatCell renders a value as text for text-based formats. Geometries
// are written as WKT and times as RFC 3339.
func FormatCell(v interface{}) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case geom.T:
		return geometry.FormatWKT(x)
	case time.Time:
		return x.Format(time.RFC3339), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case []byte:
		return string(x), nil
	}
	return fmt.Sprintf("%v", v), nil
}

// RowCells renders a row in property order.
func RowCells(dt *domain.DataSetType, r domain.Row) ([]string, error) {
	cells := make([]string, len(dt.Properties))
	for i, p := range dt.Properties {
		s, err := FormatCell(r[p.Name])
		if err != nil {
			return nil, fmt.Errorf("property %s: %w", p.Name, err)
		}
		cells[i] = s
	}
	return cells, nil
}
