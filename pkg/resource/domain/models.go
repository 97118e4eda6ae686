package domain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DataSourceType 数据源驱动类型
type DataSourceType string

// String 返回数据源类型的字符串表示
func (t DataSourceType) String() string {
	return string(t)
}

const (
	// DataSourceTypeMemory 内存数据源
	DataSourceTypeMemory DataSourceType = "MEMORY"
	// DataSourceTypeCSV CSV文件数据源
	DataSourceTypeCSV DataSourceType = "CSV"
	// DataSourceTypeExcel Excel文件数据源
	DataSourceTypeExcel DataSourceType = "EXCEL"
	// DataSourceTypeGeoJSON GeoJSON 文件数据源
	DataSourceTypeGeoJSON DataSourceType = "GEOJSON"
	// DataSourceTypeParquet Parquet文件数据源
	DataSourceTypeParquet DataSourceType = "PARQUET"
	// DataSourceTypeBadger Badger KV 数据源
	DataSourceTypeBadger DataSourceType = "BADGER"
	// DataSourceTypePostGIS PostgreSQL/PostGIS数据源
	DataSourceTypePostGIS DataSourceType = "POSTGIS"
	// DataSourceTypeMySQL MySQL数据源
	DataSourceTypeMySQL DataSourceType = "MYSQL"
	// DataSourceTypeSQLite SQLite数据源
	DataSourceTypeSQLite DataSourceType = "SQLITE"
	// DataSourceTypeWMS OGC Web Map Service
	DataSourceTypeWMS DataSourceType = "WMS"
	// DataSourceTypeWCS OGC Web Coverage Service
	DataSourceTypeWCS DataSourceType = "WCS"
)

// 常用连接参数键
const (
	InfoURI            = "URI"
	InfoVersion        = "VERSION"
	InfoCoverageName   = "COVERAGE_NAME"
	InfoFormat         = "FORMAT"
	InfoPath           = "PATH"
	InfoEncoding       = "ENCODING"
	InfoGeometryColumn = "GEOMETRY_COLUMN"
	InfoPrimaryKey     = "PRIMARY_KEY"
	InfoSRID           = "SRID"
	InfoHasHeader      = "HAS_HEADER"
	InfoDelimiter      = "DELIMITER"
	InfoWritable       = "WRITABLE"
	InfoHost           = "HOST"
	InfoPort           = "PORT"
	InfoUser           = "USER"
	InfoPassword       = "PASSWORD"
	InfoDBName         = "DBNAME"
	InfoSchema         = "SCHEMA"
	InfoSSLMode        = "SSLMODE"
	InfoConnectTimeout = "connect_timeout"
	InfoTimeoutMS      = "timeout_ms"
	InfoMaxOpenConns   = "max_open_conns"
	InfoInMemory       = "IN_MEMORY"
)

// ConnectionInfo 连接参数，字符串键值对，键名区分大小写
type ConnectionInfo map[string]string

// Get 获取参数，不存在时返回空串
func (c ConnectionInfo) Get(key string) string {
	return c[key]
}

// Lookup 获取参数并报告是否存在且非空
func (c ConnectionInfo) Lookup(key string) (string, bool) {
	v, ok := c[key]
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// Require 校验必需参数，缺失时返回 ErrConnection
func (c ConnectionInfo) Require(driver DataSourceType, keys ...string) error {
	var missing []string
	for _, k := range keys {
		if _, ok := c.Lookup(k); !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return NewErrConnection(driver, fmt.Sprintf("missing required connection parameter(s): %s", strings.Join(missing, ", ")), nil)
}

// Int 读取整数参数
func (c ConnectionInfo) Int(key string, def int) (int, error) {
	v, ok := c.Lookup(key)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def, fmt.Errorf("connection parameter %s: %w", key, err)
	}
	return n, nil
}

// Bool 读取布尔参数，取值同 strconv.ParseBool
func (c ConnectionInfo) Bool(key string, def bool) (bool, error) {
	v, ok := c.Lookup(key)
	if !ok {
		return def, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def, fmt.Errorf("connection parameter %s: %w", key, err)
	}
	return b, nil
}

// Duration 读取时长参数。纯数字按秒解释，否则按 time.ParseDuration 解析
func (c ConnectionInfo) Duration(key string, def time.Duration) (time.Duration, error) {
	v, ok := c.Lookup(key)
	if !ok {
		return def, nil
	}
	v = strings.TrimSpace(v)
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("connection parameter %s: %w", key, err)
	}
	return d, nil
}

// Clone 复制参数表
func (c ConnectionInfo) Clone() ConnectionInfo {
	out := make(ConnectionInfo, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Redacted 返回隐藏密码后的字符串，用于日志
func (c ConnectionInfo) Redacted() string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := c[k]
		if strings.EqualFold(k, InfoPassword) {
			v = "***"
		}
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, " ")
}

// TraverseType 游标遍历方式
type TraverseType int

const (
	// ForwardOnly 只能向前移动
	ForwardOnly TraverseType = iota
	// RandomAccess 可任意定位
	RandomAccess
)

func (t TraverseType) String() string {
	if t == RandomAccess {
		return "RANDOM_ACCESS"
	}
	return "FORWARD_ONLY"
}

// AccessPolicy 访问策略
type AccessPolicy int

const (
	// AccessRead 只读
	AccessRead AccessPolicy = iota
	// AccessReadWrite 读写
	AccessReadWrite
)

func (a AccessPolicy) String() string {
	if a == AccessReadWrite {
		return "RW"
	}
	return "R"
}

// Row 行数据
type Row map[string]interface{}

// Clone 浅拷贝一行
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
