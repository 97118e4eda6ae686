package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kasuganosora/geoaccess/pkg/logger"
	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
	"github.com/pelletier/go-toml"
)

// EnvConfigPath 指定配置文件路径的环境变量
const EnvConfigPath = "GEOACCESS_CONFIG"

// Config 应用程序配置
type Config struct {
	Log         LogConfig        `json:"log" toml:"log"`
	Server      ServerConfig     `json:"server" toml:"server"`
	Metrics     MetricsConfig    `json:"metrics" toml:"metrics"`
	DataSources []DataSourceInfo `json:"datasources" toml:"datasources"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `json:"level" toml:"level"`
	Format string `json:"format" toml:"format"` // json or text
}

// ServerConfig MCP 服务器配置
type ServerConfig struct {
	Host    string `json:"host" toml:"host"`
	Port    int    `json:"port" toml:"port"`
	Name    string `json:"name" toml:"name"`
	Version string `json:"version" toml:"version"`
	// Transport 为 stdio 或 http
	Transport string `json:"transport" toml:"transport"`
}

// MetricsConfig 监控配置
type MetricsConfig struct {
	Enabled         bool   `json:"enabled" toml:"enabled"`
	Path            string `json:"path" toml:"path"`
	SlowThresholdMS int    `json:"slow_threshold_ms" toml:"slow_threshold_ms"`
	MaxSlowEntries  int    `json:"max_slow_entries" toml:"max_slow_entries"`
}

// SlowThreshold 慢操作阈值
func (m MetricsConfig) SlowThreshold() time.Duration {
	return time.Duration(m.SlowThresholdMS) * time.Millisecond
}

// DataSourceInfo 一个命名数据源的定义
type DataSourceInfo struct {
	ID             string            `json:"id" toml:"id"`
	Type           string            `json:"type" toml:"type"`
	Title          string            `json:"title" toml:"title"`
	Default        bool              `json:"default" toml:"default"`
	ConnectionInfo map[string]string `json:"connection_info" toml:"connection_info"`
}

// DriverType 返回大写的驱动类型
func (d DataSourceInfo) DriverType() domain.DataSourceType {
	return domain.DataSourceType(strings.ToUpper(strings.TrimSpace(d.Type)))
}

// Info 返回连接信息副本
func (d DataSourceInfo) Info() domain.ConnectionInfo {
	return domain.ConnectionInfo(d.ConnectionInfo).Clone()
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Host:      "127.0.0.1",
			Port:      8080,
			Name:      "geoaccess",
			Version:   "1.0.0",
			Transport: "stdio",
		},
		Metrics: MetricsConfig{
			Enabled:         true,
			Path:            "/metrics",
			SlowThresholdMS: 1000,
			MaxSlowEntries:  1000,
		},
	}
}

// LoadConfig 从文件加载配置，.toml 按 TOML 解析，其余按 JSON 解析
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("配置文件不存在: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	config := DefaultConfig()
	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".toml":
		err = toml.Unmarshal(data, config)
	default:
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadConfigOrDefault 尝试从环境变量和常见位置加载配置文件
func LoadConfigOrDefault() *Config {
	if envPath := os.Getenv(EnvConfigPath); envPath != "" {
		if config, err := LoadConfig(envPath); err == nil {
			return config
		}
	}

	possiblePaths := []string{
		"geoaccess.toml",
		"geoaccess.json",
		"./config/geoaccess.toml",
		"./config/geoaccess.json",
		"/etc/geoaccess/geoaccess.toml",
	}
	for _, path := range possiblePaths {
		if absPath, err := filepath.Abs(path); err == nil {
			if config, err := LoadConfig(absPath); err == nil {
				return config
			}
		}
	}

	return DefaultConfig()
}

// Validate 验证配置
func (c *Config) Validate() error {
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("无效的日志级别: %s", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("无效的日志格式: %s", c.Log.Format)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("无效的端口号: %d", c.Server.Port)
	}
	switch c.Server.Transport {
	case "stdio", "http":
	default:
		return fmt.Errorf("无效的传输方式: %s", c.Server.Transport)
	}

	if c.Metrics.SlowThresholdMS < 0 {
		return fmt.Errorf("慢操作阈值不能为负数")
	}
	if c.Metrics.MaxSlowEntries < 1 {
		return fmt.Errorf("慢操作记录数必须大于0")
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("无效的监控路径: %q", c.Metrics.Path)
	}

	seen := make(map[string]bool, len(c.DataSources))
	defaults := 0
	for i, ds := range c.DataSources {
		if ds.ID == "" {
			return fmt.Errorf("第 %d 个数据源缺少 id", i+1)
		}
		if seen[ds.ID] {
			return fmt.Errorf("数据源 id 重复: %s", ds.ID)
		}
		seen[ds.ID] = true
		if ds.DriverType() == "" {
			return fmt.Errorf("数据源 %s 缺少 type", ds.ID)
		}
		if ds.Default {
			defaults++
		}
	}
	if defaults > 1 {
		return fmt.Errorf("最多只能有一个默认数据源")
	}
	return nil
}

// DefaultDataSource 返回默认数据源 id，未标记时取第一个
func (c *Config) DefaultDataSource() string {
	for _, ds := range c.DataSources {
		if ds.Default {
			return ds.ID
		}
	}
	if len(c.DataSources) > 0 {
		return c.DataSources[0].ID
	}
	return ""
}

// NewLogger 按日志配置创建日志
func (c *Config) NewLogger() (logger.Logger, error) {
	level, err := logger.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	if c.Log.Format == "json" {
		l, err := logger.NewProductionLogger(level)
		if err != nil {
			return nil, err
		}
		return l, nil
	}
	return logger.NewZapLogger(level, os.Stderr), nil
}

// GetListenAddress 返回监听地址
func (c *Config) GetListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
