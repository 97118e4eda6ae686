package sqldb

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/kasuganosora/geoaccess/pkg/geometry"
	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
	"github.com/twpayne/go-geom"
)

// MySQLDialect implements Dialect for MySQL 8 spatial types.
type MySQLDialect struct{}

func (d *MySQLDialect) Type() domain.DataSourceType { return domain.DataSourceTypeMySQL }

func (d *MySQLDialect) DriverName() string { return "mysql" }

func (d *MySQLDialect) RequiredKeys() []string {
	return []string{domain.InfoHost, domain.InfoUser, domain.InfoDBName}
}

func (d *MySQLDialect) BuildDSN(cfg *Config) (string, error) {
	port := cfg.Port
	if port <= 0 {
		port = 3306
	}

	c := mysqldriver.NewConfig()
	c.User = cfg.User
	c.Passwd = cfg.Password
	c.Net = "tcp"
	c.Addr = fmt.Sprintf("%s:%d", cfg.Host, port)
	c.DBName = cfg.DBName
	c.AllowNativePasswords = true
	c.Collation = cfg.Collation
	c.Params = map[string]string{
		"charset": cfg.Charset,
	}
	c.ParseTime = true
	c.Loc = time.UTC
	c.Timeout = cfg.ConnectTimeout

	// TLS
	switch strings.ToLower(cfg.SSLMode) {
	case "true", "required", "require":
		c.TLSConfig = "true"
	case "skip-verify", "preferred":
		c.TLSConfig = "skip-verify"
	case "false", "disable", "":
		c.TLSConfig = "false"
	default:
		c.TLSConfig = cfg.SSLMode
	}

	return c.FormatDSN(), nil
}

func (d *MySQLDialect) QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (d *MySQLDialect) Placeholder(n int) string {
	return "?"
}

// GeometryFromWKB reads WKB as longitude/latitude regardless of the SRS axis order.
func (d *MySQLDialect) GeometryFromWKB(placeholder string, srid int) string {
	if srid == 0 {
		return fmt.Sprintf("ST_GeomFromWKB(%s)", placeholder)
	}
	return fmt.Sprintf("ST_GeomFromWKB(%s, %d, 'axis-order=long-lat')", placeholder, srid)
}

// SpatialFunction maps relations to MySQL functions. MySQL has no
// ST_Covers/ST_CoveredBy; Contains and Within stand in for them.
func (d *MySQLDialect) SpatialFunction(rel geometry.SpatialRelation) string {
	switch rel {
	case geometry.Covers:
		return geometry.Contains.FunctionName()
	case geometry.CoveredBy:
		return geometry.Within.FunctionName()
	}
	return rel.FunctionName()
}

func (d *MySQLDialect) TablesQuery() string {
	return "SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_SCHEMA = DATABASE() AND TABLE_TYPE = 'BASE TABLE' ORDER BY TABLE_NAME"
}

func (d *MySQLDialect) ColumnsQuery() string {
	return `SELECT COLUMN_NAME AS column_name, COLUMN_TYPE AS column_type, IS_NULLABLE AS is_nullable,
       COLUMN_KEY AS column_key, EXTRA AS extra, COALESCE(SRS_ID, 0) AS srid,
       CASE WHEN DATA_TYPE IN ('geometry','point','linestring','polygon','multipoint','multilinestring','multipolygon','geomcollection','geometrycollection')
            THEN UPPER(DATA_TYPE) ELSE '' END AS geometry_type,
       COALESCE(CHARACTER_MAXIMUM_LENGTH, 0) AS size
FROM INFORMATION_SCHEMA.COLUMNS
WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?
ORDER BY ORDINAL_POSITION`
}

func (d *MySQLDialect) IndexesQuery() string {
	return `SELECT INDEX_NAME AS index_name, COLUMN_NAME AS column_name,
       NON_UNIQUE = 0 AS is_unique, INDEX_NAME = 'PRIMARY' AS is_primary, INDEX_TYPE AS method
FROM INFORMATION_SCHEMA.STATISTICS
WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?
ORDER BY INDEX_NAME, SEQ_IN_INDEX`
}

func (d *MySQLDialect) ChecksQuery() string {
	return `SELECT cc.CONSTRAINT_NAME AS constraint_name, cc.CHECK_CLAUSE AS check_clause
FROM INFORMATION_SCHEMA.CHECK_CONSTRAINTS cc
JOIN INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
  ON tc.CONSTRAINT_SCHEMA = cc.CONSTRAINT_SCHEMA AND tc.CONSTRAINT_NAME = cc.CONSTRAINT_NAME
WHERE tc.TABLE_SCHEMA = DATABASE() AND tc.TABLE_NAME = ? AND tc.CONSTRAINT_TYPE = 'CHECK'
ORDER BY cc.CONSTRAINT_NAME`
}

func (d *MySQLDialect) MapColumnType(dbType string) domain.PropertyType {
	// Handle tinyint(1) as bool
	if strings.EqualFold(strings.TrimSpace(dbType), "tinyint(1)") {
		return domain.TypeBoolean
	}

	t := baseType(dbType)
	if geometryTypes[t] || t == "geomcollection" {
		return domain.TypeGeometry
	}

	switch t {
	case "tinyint", "smallint", "mediumint", "int", "integer", "year":
		return domain.TypeInt32
	case "bigint":
		return domain.TypeInt64
	case "float", "double", "real":
		return domain.TypeDouble
	case "decimal", "numeric":
		return domain.TypeNumeric
	case "blob", "tinyblob", "mediumblob", "longblob", "binary", "varbinary":
		return domain.TypeBytes
	case "date", "time", "datetime", "timestamp":
		return domain.TypeDateTime
	case "bit", "bool", "boolean":
		return domain.TypeBoolean
	default:
		return domain.TypeString
	}
}

func (d *MySQLDialect) ColumnType(p *domain.Property) string {
	auto := ""
	if p.AutoIncrement {
		auto = " AUTO_INCREMENT"
	}
	switch p.Type {
	case domain.TypeInt32:
		return "INT" + auto
	case domain.TypeInt64:
		return "BIGINT" + auto
	case domain.TypeDouble:
		return "DOUBLE"
	case domain.TypeNumeric:
		return "DECIMAL(38,10)"
	case domain.TypeBoolean:
		return "BOOLEAN"
	case domain.TypeDateTime:
		return "DATETIME(6)"
	case domain.TypeBytes, domain.TypeRaster:
		return "LONGBLOB"
	case domain.TypeGeometry:
		if p.SRID != 0 {
			return fmt.Sprintf("%s SRID %d", geometrySubtype(p), p.SRID)
		}
		return geometrySubtype(p)
	}
	if p.Size > 0 {
		return fmt.Sprintf("VARCHAR(%d)", p.Size)
	}
	return "TEXT"
}

func (d *MySQLDialect) IndexSQL(table string, idx *domain.Index) string {
	switch idx.Type {
	case domain.IndexTypeRTree:
		return fmt.Sprintf("CREATE SPATIAL INDEX %s ON %s (%s)",
			d.QuoteIdentifier(idx.Name), qualify(d, table), quoteList(d, idx.Properties))
	case domain.IndexTypeHash:
		return fmt.Sprintf("CREATE INDEX %s ON %s (%s) USING HASH",
			d.QuoteIdentifier(idx.Name), qualify(d, table), quoteList(d, idx.Properties))
	}
	return fmt.Sprintf("CREATE INDEX %s ON %s (%s)",
		d.QuoteIdentifier(idx.Name), qualify(d, table), quoteList(d, idx.Properties))
}

// DecodeGeometry reads MySQL's internal format: a little-endian uint32
// SRID followed by WKB.
func (d *MySQLDialect) DecodeGeometry(v interface{}) (geom.T, error) {
	var data []byte
	switch val := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		data = val
	case string:
		data = []byte(val)
	default:
		return geometry.FromValue(v)
	}
	if len(data) == 0 {
		return nil, nil
	}
	if len(data) < 5 {
		return nil, fmt.Errorf("mysql geometry value too short (%d bytes)", len(data))
	}
	srid := int(binary.LittleEndian.Uint32(data[:4]))
	g, err := geometry.DecodeWKB(data[4:])
	if err != nil {
		return nil, err
	}
	return geometry.WithSRID(g, srid), nil
}

func (d *MySQLDialect) LastInsertID(ctx context.Context, q Querier, res sql.Result) (int64, error) {
	return res.LastInsertId()
}

func (d *MySQLDialect) admin(cfg *Config) *Config {
	c := *cfg
	c.DBName = ""
	return &c
}

func (d *MySQLDialect) Exists(ctx context.Context, cfg *Config) (bool, error) {
	var found bool
	err := withAdminDB(ctx, d, d.admin(cfg), func(db *sql.DB) error {
		var name string
		err := db.QueryRowContext(ctx, "SELECT SCHEMA_NAME FROM INFORMATION_SCHEMA.SCHEMATA WHERE SCHEMA_NAME = ?", cfg.DBName).Scan(&name)
		if err == sql.ErrNoRows {
			return nil
		}
		found = err == nil
		return err
	})
	return found, err
}

func (d *MySQLDialect) Create(ctx context.Context, cfg *Config) error {
	return withAdminDB(ctx, d, d.admin(cfg), func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE %s CHARACTER SET %s COLLATE %s",
			d.QuoteIdentifier(cfg.DBName), cfg.Charset, cfg.Collation))
		return err
	})
}

func (d *MySQLDialect) Drop(ctx context.Context, cfg *Config) error {
	return withAdminDB(ctx, d, d.admin(cfg), func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, "DROP DATABASE "+d.QuoteIdentifier(cfg.DBName))
		return err
	})
}

// NewMySQLFactory 创建 MySQL 数据源工厂
func NewMySQLFactory() *Factory {
	return NewFactory(&MySQLDialect{}, MySQLCapabilities())
}
