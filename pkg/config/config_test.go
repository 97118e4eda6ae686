package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, "info", config.Log.Level)
	assert.Equal(t, "text", config.Log.Format)

	assert.Equal(t, "127.0.0.1", config.Server.Host)
	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, "geoaccess", config.Server.Name)
	assert.Equal(t, "stdio", config.Server.Transport)

	assert.True(t, config.Metrics.Enabled)
	assert.Equal(t, "/metrics", config.Metrics.Path)
	assert.Equal(t, time.Second, config.Metrics.SlowThreshold())
	assert.Equal(t, 1000, config.Metrics.MaxSlowEntries)

	assert.Empty(t, config.DataSources)
	assert.NoError(t, config.Validate())
}

func TestLoadConfig_EmptyPath(t *testing.T) {
	config, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 8080, config.Server.Port)
}

func TestLoadConfig_NotExist(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "配置文件不存在")
}

func TestLoadConfig_JSON(t *testing.T) {
	cfg := map[string]interface{}{
		"log":    map[string]interface{}{"level": "debug"},
		"server": map[string]interface{}{"port": 9090},
		"datasources": []map[string]interface{}{
			{
				"id":   "roads",
				"type": "postgis",
				"connection_info": map[string]string{
					"HOST":   "localhost",
					"DBNAME": "gis",
				},
			},
			{"id": "mem", "type": "MEMORY", "default": true},
		},
	}
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	path := writeFile(t, "geoaccess.json", string(data))

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", config.Log.Level)
	// 未指定的字段保持默认值
	assert.Equal(t, "text", config.Log.Format)
	assert.Equal(t, 9090, config.Server.Port)
	assert.Equal(t, "127.0.0.1", config.Server.Host)

	require.Len(t, config.DataSources, 2)
	roads := config.DataSources[0]
	assert.Equal(t, domain.DataSourceTypePostGIS, roads.DriverType())
	assert.Equal(t, "gis", roads.Info().Get("DBNAME"))
	assert.Equal(t, "mem", config.DefaultDataSource())
}

func TestLoadConfig_TOML(t *testing.T) {
	path := writeFile(t, "geoaccess.toml", `
[log]
level = "warn"
format = "json"

[server]
port = 7000
transport = "http"

[metrics]
slow_threshold_ms = 250

[[datasources]]
id = "tiles"
type = "wms"
title = "Base maps"

  [datasources.connection_info]
  URI = "https://maps.example.com/wms"
  VERSION = "1.3.0"

[[datasources]]
id = "dem"
type = "wcs"

  [datasources.connection_info]
  URI = "https://maps.example.com/wcs"
  VERSION = "2.0.1"
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "warn", config.Log.Level)
	assert.Equal(t, "json", config.Log.Format)
	assert.Equal(t, 7000, config.Server.Port)
	assert.Equal(t, "http", config.Server.Transport)
	assert.Equal(t, 250*time.Millisecond, config.Metrics.SlowThreshold())
	assert.Equal(t, "/metrics", config.Metrics.Path)

	require.Len(t, config.DataSources, 2)
	assert.Equal(t, "Base maps", config.DataSources[0].Title)
	assert.Equal(t, domain.DataSourceTypeWMS, config.DataSources[0].DriverType())
	assert.Equal(t, "1.3.0", config.DataSources[0].Info().Get("VERSION"))
	assert.Equal(t, domain.DataSourceTypeWCS, config.DataSources[1].DriverType())
	assert.Equal(t, "tiles", config.DefaultDataSource())
}

func TestLoadConfig_InvalidSyntax(t *testing.T) {
	_, err := LoadConfig(writeFile(t, "bad.json", `{"log": `))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "解析配置文件失败")

	_, err = LoadConfig(writeFile(t, "bad.toml", "[log\nlevel ="))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "解析配置文件失败")
}

func TestInfo_IsCopy(t *testing.T) {
	ds := DataSourceInfo{ID: "a", Type: "csv", ConnectionInfo: map[string]string{"PATH": "/tmp/a.csv"}}
	info := ds.Info()
	info["PATH"] = "changed"
	assert.Equal(t, "/tmp/a.csv", ds.ConnectionInfo["PATH"])
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{"bad level", func(c *Config) { c.Log.Level = "verbose" }, "无效的日志级别"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "无效的日志格式"},
		{"port zero", func(c *Config) { c.Server.Port = 0 }, "无效的端口号"},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }, "无效的端口号"},
		{"bad transport", func(c *Config) { c.Server.Transport = "grpc" }, "无效的传输方式"},
		{"negative threshold", func(c *Config) { c.Metrics.SlowThresholdMS = -1 }, "慢操作阈值"},
		{"no slow entries", func(c *Config) { c.Metrics.MaxSlowEntries = 0 }, "慢操作记录数"},
		{"metrics path", func(c *Config) { c.Metrics.Path = "metrics" }, "无效的监控路径"},
		{"missing id", func(c *Config) {
			c.DataSources = []DataSourceInfo{{Type: "memory"}}
		}, "缺少 id"},
		{"missing type", func(c *Config) {
			c.DataSources = []DataSourceInfo{{ID: "a"}}
		}, "缺少 type"},
		{"duplicate id", func(c *Config) {
			c.DataSources = []DataSourceInfo{{ID: "a", Type: "memory"}, {ID: "a", Type: "csv"}}
		}, "重复"},
		{"two defaults", func(c *Config) {
			c.DataSources = []DataSourceInfo{
				{ID: "a", Type: "memory", Default: true},
				{ID: "b", Type: "memory", Default: true},
			}
		}, "默认数据源"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.modify(config)
			err := config.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestValidate_MetricsPathIgnoredWhenDisabled(t *testing.T) {
	config := DefaultConfig()
	config.Metrics.Enabled = false
	config.Metrics.Path = ""
	assert.NoError(t, config.Validate())
}

func TestLoadConfigOrDefault_Env(t *testing.T) {
	path := writeFile(t, "env.toml", "[server]\nport = 6001\n")
	t.Setenv(EnvConfigPath, path)

	config := LoadConfigOrDefault()
	assert.Equal(t, 6001, config.Server.Port)
}

func TestLoadConfigOrDefault_Fallback(t *testing.T) {
	t.Setenv(EnvConfigPath, filepath.Join(t.TempDir(), "nope.toml"))
	t.Chdir(t.TempDir())

	config := LoadConfigOrDefault()
	assert.Equal(t, DefaultConfig(), config)
}

func TestDefaultDataSource_Empty(t *testing.T) {
	assert.Equal(t, "", DefaultConfig().DefaultDataSource())
}

func TestNewLogger(t *testing.T) {
	config := DefaultConfig()
	config.Log.Level = "debug"
	l, err := config.NewLogger()
	require.NoError(t, err)
	assert.Equal(t, "DEBUG", l.GetLevel().String())

	config.Log.Format = "json"
	l, err = config.NewLogger()
	require.NoError(t, err)
	assert.NotNil(t, l)
}

func TestGetListenAddress(t *testing.T) {
	config := DefaultConfig()
	config.Server.Host = "0.0.0.0"
	config.Server.Port = 9000
	assert.Equal(t, "0.0.0.0:9000", config.GetListenAddress())
}
