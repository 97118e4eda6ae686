package main

import (
	"context"
	"fmt"

	"github.com/kasuganosora/geoaccess/pkg/config"
	"github.com/kasuganosora/geoaccess/pkg/dataaccess"
	"github.com/kasuganosora/geoaccess/pkg/logger"
	"github.com/kasuganosora/geoaccess/pkg/monitor"
	"github.com/kasuganosora/geoaccess/pkg/resource"
	"github.com/kasuganosora/geoaccess/pkg/resource/application"
)

// env 一次命令执行期间打开的数据源及其服务
type env struct {
	cfg     *config.Config
	log     logger.Logger
	manager *application.DataSourceManager
	monitor *monitor.Monitor // nil when metrics are disabled
	router  *dataaccess.Router
	service *dataaccess.DataService
}

func newEnv(ctx context.Context, cfg *config.Config, log logger.Logger) (*env, error) {
	registry := application.NewRegistry()
	if err := resource.RegisterAll(registry); err != nil {
		return nil, err
	}

	e := &env{
		cfg:     cfg,
		log:     log,
		manager: application.NewDataSourceManagerWithRegistry(registry),
	}
	if cfg.Metrics.Enabled {
		e.monitor = monitor.New(cfg.Metrics.SlowThreshold(), cfg.Metrics.MaxSlowEntries)
	}

	for _, d := range cfg.DataSources {
		if err := e.attach(ctx, d); err != nil {
			e.Close(ctx)
			return nil, err
		}
	}
	if id := cfg.DefaultDataSource(); id != "" {
		if err := e.manager.SetDefault(id); err != nil {
			e.Close(ctx)
			return nil, err
		}
	}

	e.router = dataaccess.NewRouter(e.manager)
	if err := e.router.Discover(ctx); err != nil {
		e.Close(ctx)
		return nil, err
	}
	e.service = dataaccess.NewDataService(e.router)
	return e, nil
}

func (e *env) attach(ctx context.Context, d config.DataSourceInfo) error {
	ds, err := e.manager.GetRegistry().Create(d.DriverType(), d.Info())
	if err != nil {
		return fmt.Errorf("创建数据源 %s 失败: %w", d.ID, err)
	}
	if e.monitor != nil {
		ds = e.monitor.WrapSource(ds)
	}
	if err := ds.Open(ctx); err != nil {
		return fmt.Errorf("打开数据源 %s 失败: %w", d.ID, err)
	}
	if err := e.manager.Register(d.ID, ds); err != nil {
		_ = ds.Close(ctx)
		return err
	}
	e.log.Debug("数据源 %s (%s) 已打开", d.ID, d.DriverType())
	return nil
}

// Close 关闭全部数据源
func (e *env) Close(ctx context.Context) {
	if err := e.manager.CloseAll(ctx); err != nil {
		e.log.Warn("关闭数据源失败: %v", err)
	}
}
