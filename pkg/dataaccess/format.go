package dataaccess

import (
	"fmt"
	"time"

	"github.com/kasuganosora/geoaccess/pkg/geometry"
	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
	"github.com/twpayne/go-geom"
)

// NullValue is how a missing value is rendered.
const NullValue = "NULL"

// Columns 结果列名，按数据集类型的属性顺序
func (r *Result) Columns() []string {
	if r.Type == nil {
		return nil
	}
	return r.Type.PropertyNames()
}

// Values 按列顺序返回第 i 行的显示值
func (r *Result) Values(i int) []string {
	cols := r.Columns()
	out := make([]string, len(cols))
	for j, c := range cols {
		out[j] = FormatValue(r.Rows[i][c])
	}
	return out
}

// FormatValue renders a row value for display. Geometries are written as
// WKT and rasters as a short summary.
func FormatValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return NullValue
	case geom.T:
		s, err := geometry.FormatWKT(x)
		if err != nil {
			return fmt.Sprintf("<%s>", geometry.TypeName(x))
		}
		return s
	case *domain.Raster:
		if x == nil {
			return NullValue
		}
		return fmt.Sprintf("<raster %s %dx%d %d bytes>", x.Format, x.Width, x.Height, len(x.Data))
	case []byte:
		return fmt.Sprintf("<%d bytes>", len(x))
	case time.Time:
		return x.Format(time.RFC3339)
	case string:
		return x
	}
	return fmt.Sprint(v)
}
