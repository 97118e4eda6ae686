package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"

	"github.com/kasuganosora/geoaccess/pkg/geometry"
	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
	"github.com/twpayne/go-geom"
)

// PostGISDialect implements Dialect for PostgreSQL with PostGIS.
type PostGISDialect struct{}

func (d *PostGISDialect) Type() domain.DataSourceType { return domain.DataSourceTypePostGIS }

func (d *PostGISDialect) DriverName() string { return "postgres" }

func (d *PostGISDialect) RequiredKeys() []string {
	return []string{domain.InfoHost, domain.InfoUser, domain.InfoDBName}
}

func (d *PostGISDialect) BuildDSN(cfg *Config) (string, error) {
	port := cfg.Port
	if port <= 0 {
		port = 5432
	}

	parts := []string{
		fmt.Sprintf("host=%s", dsnValue(cfg.Host)),
		fmt.Sprintf("port=%d", port),
		fmt.Sprintf("user=%s", dsnValue(cfg.User)),
		fmt.Sprintf("password=%s", dsnValue(cfg.Password)),
		fmt.Sprintf("dbname=%s", dsnValue(cfg.DBName)),
		fmt.Sprintf("sslmode=%s", cfg.SSLMode),
	}

	if cfg.Schema != "" {
		parts = append(parts, fmt.Sprintf("search_path=%s", dsnValue(cfg.Schema)))
	}
	if secs := int(cfg.ConnectTimeout.Seconds()); secs > 0 {
		parts = append(parts, fmt.Sprintf("connect_timeout=%d", secs))
	}

	return strings.Join(parts, " "), nil
}

// dsnValue quotes a key/value DSN value when it needs it.
func dsnValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

func (d *PostGISDialect) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (d *PostGISDialect) Placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}

func (d *PostGISDialect) GeometryFromWKB(placeholder string, srid int) string {
	if srid == 0 {
		return fmt.Sprintf("ST_GeomFromWKB(%s)", placeholder)
	}
	return fmt.Sprintf("ST_GeomFromWKB(%s, %d)", placeholder, srid)
}

func (d *PostGISDialect) SpatialFunction(rel geometry.SpatialRelation) string {
	return rel.FunctionName()
}

func (d *PostGISDialect) TablesQuery() string {
	return `SELECT table_name FROM information_schema.tables
WHERE table_schema = current_schema() AND table_type = 'BASE TABLE' AND table_name <> 'spatial_ref_sys'
ORDER BY table_name`
}

func (d *PostGISDialect) ColumnsQuery() string {
	// Join with key_column_usage to detect primary keys and geometry_columns for SRIDs
	return `SELECT c.column_name,
       CASE WHEN c.data_type = 'USER-DEFINED' THEN c.udt_name ELSE c.data_type END AS column_type,
       c.is_nullable,
       CASE WHEN kcu.column_name IS NOT NULL THEN 'PRI' ELSE '' END AS column_key,
       CASE WHEN c.column_default LIKE 'nextval(%' OR c.is_identity = 'YES' THEN 'auto_increment' ELSE '' END AS extra,
       COALESCE(g.srid, 0) AS srid,
       COALESCE(g.type, '') AS geometry_type,
       COALESCE(c.character_maximum_length, 0) AS size
FROM information_schema.columns c
LEFT JOIN information_schema.table_constraints tc
  ON tc.table_schema = c.table_schema AND tc.table_name = c.table_name AND tc.constraint_type = 'PRIMARY KEY'
LEFT JOIN information_schema.key_column_usage kcu
  ON kcu.constraint_name = tc.constraint_name AND kcu.table_schema = tc.table_schema AND kcu.column_name = c.column_name
LEFT JOIN geometry_columns g
  ON g.f_table_schema = c.table_schema AND g.f_table_name = c.table_name AND g.f_geometry_column = c.column_name
WHERE c.table_schema = current_schema() AND c.table_name = $1
ORDER BY c.ordinal_position`
}

func (d *PostGISDialect) IndexesQuery() string {
	return `SELECT i.relname AS index_name, a.attname AS column_name,
       ix.indisunique AS is_unique, ix.indisprimary AS is_primary, am.amname AS method
FROM pg_index ix
JOIN pg_class t ON t.oid = ix.indrelid
JOIN pg_class i ON i.oid = ix.indexrelid
JOIN pg_am am ON am.oid = i.relam
JOIN pg_namespace n ON n.oid = t.relnamespace
JOIN LATERAL unnest(ix.indkey) WITH ORDINALITY AS k(attnum, ord) ON true
JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = k.attnum
WHERE n.nspname = current_schema() AND t.relname = $1
ORDER BY i.relname, k.ord`
}

func (d *PostGISDialect) ChecksQuery() string {
	return `SELECT con.conname AS constraint_name, pg_get_constraintdef(con.oid) AS check_clause
FROM pg_constraint con
JOIN pg_class t ON t.oid = con.conrelid
JOIN pg_namespace n ON n.oid = t.relnamespace
WHERE con.contype = 'c' AND n.nspname = current_schema() AND t.relname = $1
ORDER BY con.conname`
}

func (d *PostGISDialect) ExtentQuery(table, column string) string {
	return fmt.Sprintf("SELECT ST_XMin(e), ST_YMin(e), ST_XMax(e), ST_YMax(e) FROM (SELECT ST_Extent(%s) AS e FROM %s) s",
		d.QuoteIdentifier(column), qualify(d, table))
}

func (d *PostGISDialect) MapColumnType(dbType string) domain.PropertyType {
	t := baseType(dbType)

	// Strip ARRAY suffix
	t = strings.TrimSuffix(t, "[]")

	switch t {
	case "smallint", "integer", "serial", "smallserial", "int2", "int4":
		return domain.TypeInt32
	case "bigint", "bigserial", "int8":
		return domain.TypeInt64
	case "real", "float4", "double precision", "float8":
		return domain.TypeDouble
	case "numeric", "decimal", "money":
		return domain.TypeNumeric
	case "boolean", "bool":
		return domain.TypeBoolean
	case "date", "time", "time without time zone", "time with time zone", "timetz",
		"timestamp", "timestamp without time zone", "timestamp with time zone", "timestamptz":
		return domain.TypeDateTime
	case "bytea":
		return domain.TypeBytes
	case "geometry", "geography":
		return domain.TypeGeometry
	case "raster":
		return domain.TypeRaster
	default:
		// character types, json, uuid, user-defined
		return domain.TypeString
	}
}

func (d *PostGISDialect) ColumnType(p *domain.Property) string {
	switch p.Type {
	case domain.TypeInt32:
		if p.AutoIncrement {
			return "SERIAL"
		}
		return "INTEGER"
	case domain.TypeInt64:
		if p.AutoIncrement {
			return "BIGSERIAL"
		}
		return "BIGINT"
	case domain.TypeDouble:
		return "DOUBLE PRECISION"
	case domain.TypeNumeric:
		return "NUMERIC"
	case domain.TypeBoolean:
		return "BOOLEAN"
	case domain.TypeDateTime:
		return "TIMESTAMP"
	case domain.TypeBytes:
		return "BYTEA"
	case domain.TypeGeometry:
		if p.SRID == 0 && geometrySubtype(p) == "GEOMETRY" {
			return "geometry"
		}
		return fmt.Sprintf("geometry(%s, %d)", geometrySubtype(p), p.SRID)
	case domain.TypeRaster:
		return "raster"
	}
	if p.Size > 0 {
		return fmt.Sprintf("VARCHAR(%d)", p.Size)
	}
	return "TEXT"
}

func (d *PostGISDialect) IndexSQL(table string, idx *domain.Index) string {
	using := ""
	switch idx.Type {
	case domain.IndexTypeRTree:
		using = " USING GIST"
	case domain.IndexTypeHash:
		using = " USING HASH"
	}
	return fmt.Sprintf("CREATE INDEX %s ON %s%s (%s)",
		d.QuoteIdentifier(idx.Name), qualify(d, table), using, quoteList(d, idx.Properties))
}

// DecodeGeometry reads the hex EWKB text PostGIS returns for geometry columns.
func (d *PostGISDialect) DecodeGeometry(v interface{}) (geom.T, error) {
	return geometry.FromValue(v)
}

// LastInsertID reads lastval() on the connection that ran the insert.
func (d *PostGISDialect) LastInsertID(ctx context.Context, q Querier, res sql.Result) (int64, error) {
	var id int64
	if err := q.QueryRowContext(ctx, "SELECT lastval()").Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (d *PostGISDialect) admin(cfg *Config) *Config {
	c := *cfg
	c.DBName = "postgres"
	return &c
}

func (d *PostGISDialect) Exists(ctx context.Context, cfg *Config) (bool, error) {
	var found bool
	err := withAdminDB(ctx, d, d.admin(cfg), func(db *sql.DB) error {
		var one int
		err := db.QueryRowContext(ctx, "SELECT 1 FROM pg_database WHERE datname = $1", cfg.DBName).Scan(&one)
		if err == sql.ErrNoRows {
			return nil
		}
		found = err == nil
		return err
	})
	return found, err
}

// Create creates the database and enables PostGIS in it. PostGIS may be
// unavailable; the database stays usable without it.
func (d *PostGISDialect) Create(ctx context.Context, cfg *Config) error {
	err := withAdminDB(ctx, d, d.admin(cfg), func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, "CREATE DATABASE "+d.QuoteIdentifier(cfg.DBName))
		return err
	})
	if err != nil {
		return err
	}
	_ = withAdminDB(ctx, d, cfg, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS postgis")
		return err
	})
	return nil
}

func (d *PostGISDialect) Drop(ctx context.Context, cfg *Config) error {
	return withAdminDB(ctx, d, d.admin(cfg), func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, "DROP DATABASE "+d.QuoteIdentifier(cfg.DBName))
		return err
	})
}

// withAdminDB runs fn on a short-lived pool built from cfg.
func withAdminDB(ctx context.Context, d Dialect, cfg *Config, fn func(*sql.DB) error) error {
	dsn, err := d.BuildDSN(cfg)
	if err != nil {
		return err
	}
	db, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	db.SetMaxOpenConns(1)
	return fn(db)
}

// NewPostGISFactory 创建 PostGIS 数据源工厂
func NewPostGISFactory() *Factory {
	return NewFactory(&PostGISDialect{}, PostGISCapabilities())
}
