package sqldb

import (
	"fmt"
	"strings"
	"time"

	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
)

// 连接参数键（SQL 驱动专用）
const (
	InfoMaxIdleConns    = "max_idle_conns"
	InfoConnMaxLifetime = "conn_max_lifetime"
	InfoConnMaxIdleTime = "conn_max_idle_time"
	InfoCharset         = "CHARSET"
	InfoCollation       = "COLLATION"
)

// Config holds the parsed connection parameters of a SQL data source
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string

	// SQLite database file; ":memory:" style names are built by the dialect
	Path     string
	InMemory bool

	// Connection pool
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// TLS/SSL
	SSLMode string

	// MySQL-specific
	Charset   string
	Collation string

	// PostgreSQL-specific
	Schema string

	ConnectTimeout time.Duration
}

// ParseConfig extracts Config from connection info and applies defaults
func ParseConfig(driver domain.DataSourceType, info domain.ConnectionInfo) (*Config, error) {
	cfg := &Config{
		Host:      info.Get(domain.InfoHost),
		User:      info.Get(domain.InfoUser),
		Password:  info.Get(domain.InfoPassword),
		DBName:    info.Get(domain.InfoDBName),
		Path:      info.Get(domain.InfoPath),
		SSLMode:   strings.ToLower(info.Get(domain.InfoSSLMode)),
		Charset:   info.Get(InfoCharset),
		Collation: info.Get(InfoCollation),
		Schema:    info.Get(domain.InfoSchema),
	}

	var err error
	invalid := func(err error) error {
		return domain.NewErrConnection(driver, "invalid connection parameter", err)
	}
	if cfg.InMemory, err = info.Bool(domain.InfoInMemory, false); err != nil {
		return nil, invalid(err)
	}
	if cfg.Port, err = info.Int(domain.InfoPort, 0); err != nil {
		return nil, invalid(err)
	}
	if cfg.MaxOpenConns, err = info.Int(domain.InfoMaxOpenConns, 0); err != nil {
		return nil, invalid(err)
	}
	if cfg.MaxIdleConns, err = info.Int(InfoMaxIdleConns, 0); err != nil {
		return nil, invalid(err)
	}
	if cfg.ConnMaxLifetime, err = info.Duration(InfoConnMaxLifetime, 0); err != nil {
		return nil, invalid(err)
	}
	if cfg.ConnMaxIdleTime, err = info.Duration(InfoConnMaxIdleTime, 0); err != nil {
		return nil, invalid(err)
	}
	if cfg.ConnectTimeout, err = info.Duration(domain.InfoConnectTimeout, 0); err != nil {
		return nil, invalid(err)
	}
	if ms, err := info.Int(domain.InfoTimeoutMS, 0); err != nil {
		return nil, invalid(err)
	} else if ms > 0 && cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = time.Duration(ms) * time.Millisecond
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, invalid(fmt.Errorf("port %d out of range", cfg.Port))
	}

	// Apply defaults
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = 300 * time.Second
	}
	if cfg.ConnMaxIdleTime <= 0 {
		cfg.ConnMaxIdleTime = 60 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.Charset == "" {
		cfg.Charset = "utf8mb4"
	}
	if cfg.Collation == "" {
		cfg.Collation = "utf8mb4_unicode_ci"
	}
	if cfg.Schema == "" {
		cfg.Schema = "public"
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}
	return cfg, nil
}
