package resource

import (
	"errors"
	"fmt"

	"github.com/kasuganosora/geoaccess/pkg/resource/application"
	"github.com/kasuganosora/geoaccess/pkg/resource/badger"
	"github.com/kasuganosora/geoaccess/pkg/resource/csv"
	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
	"github.com/kasuganosora/geoaccess/pkg/resource/excel"
	"github.com/kasuganosora/geoaccess/pkg/resource/geojson"
	"github.com/kasuganosora/geoaccess/pkg/resource/memory"
	"github.com/kasuganosora/geoaccess/pkg/resource/parquet"
	"github.com/kasuganosora/geoaccess/pkg/resource/sqldb"
	"github.com/kasuganosora/geoaccess/pkg/resource/wcs"
	"github.com/kasuganosora/geoaccess/pkg/resource/wms"
)

// Factories 返回所有内置驱动工厂
func Factories() []domain.DataSourceFactory {
	return []domain.DataSourceFactory{
		// 内存与键值
		memory.NewMemoryFactory(),
		badger.NewBadgerFactory(),

		// 文件
		csv.NewCSVFactory(),
		excel.NewExcelFactory(),
		geojson.NewGeoJSONFactory(),
		parquet.NewParquetFactory(),

		// SQL
		sqldb.NewPostGISFactory(),
		sqldb.NewMySQLFactory(),
		sqldb.NewSQLiteFactory(),

		// OGC Web 服务
		wms.NewFactory(),
		wcs.NewFactory(),
	}
}

// RegisterAll 注册所有内置驱动。已注册的类型会被报告，其余照常注册
func RegisterAll(registry *application.Registry) error {
	var errs []error
	for _, f := range Factories() {
		if err := registry.Register(f); err != nil {
			errs = append(errs, fmt.Errorf("register %s: %w", f.GetType(), err))
		}
	}
	return errors.Join(errs...)
}

// RegisterDrivers 在全局注册表中注册所有内置驱动，进程启动时调用
func RegisterDrivers() error {
	return RegisterAll(application.GetRegistry())
}

// UnregisterDrivers 清空全局注册表，进程退出时调用
func UnregisterDrivers() {
	application.UnregisterAll()
}
