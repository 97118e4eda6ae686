package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/kasuganosora/geoaccess/pkg/geometry"
	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
	"github.com/twpayne/go-geom"
)

// geometryColumnsTable records geometry subtypes and SRIDs, which SQLite
// column declarations cannot carry.
const geometryColumnsTable = "geometry_columns"

// SQLiteDialect implements Dialect for SQLite. Geometries are stored as
// EWKB blobs and evaluated by the ST_ functions registered in functions.go.
type SQLiteDialect struct{}

func (d *SQLiteDialect) Type() domain.DataSourceType { return domain.DataSourceTypeSQLite }

func (d *SQLiteDialect) DriverName() string { return "sqlite" }

// RequiredKeys is empty: PATH is only required for file databases.
func (d *SQLiteDialect) RequiredKeys() []string { return nil }

func (d *SQLiteDialect) BuildDSN(cfg *Config) (string, error) {
	if err := registerFunctions(); err != nil {
		return "", err
	}
	params := url.Values{}
	params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", cfg.ConnectTimeout.Milliseconds()))
	params.Add("_pragma", "foreign_keys(1)")
	if cfg.InMemory {
		name := cfg.Path
		if name == "" {
			name = uuid.NewString()
		}
		params.Set("mode", "memory")
		params.Set("cache", "shared")
		return "file:" + name + "?" + params.Encode(), nil
	}
	if cfg.Path == "" {
		return "", fmt.Errorf("%s is required unless %s is set", domain.InfoPath, domain.InfoInMemory)
	}
	return cfg.Path + "?" + params.Encode(), nil
}

func (d *SQLiteDialect) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (d *SQLiteDialect) Placeholder(n int) string {
	return "?"
}

func (d *SQLiteDialect) GeometryFromWKB(placeholder string, srid int) string {
	return fmt.Sprintf("ST_GeomFromWKB(%s, %d)", placeholder, srid)
}

func (d *SQLiteDialect) SpatialFunction(rel geometry.SpatialRelation) string {
	return rel.FunctionName()
}

func (d *SQLiteDialect) TablesQuery() string {
	return `SELECT name FROM sqlite_master
WHERE type = 'table' AND name NOT LIKE 'sqlite_%' AND name <> '` + geometryColumnsTable + `'
ORDER BY name`
}

func (d *SQLiteDialect) ColumnsQuery() string {
	return `SELECT p.name AS column_name, p.type AS column_type,
       CASE WHEN p."notnull" = 0 AND p.pk = 0 THEN 'YES' ELSE 'NO' END AS is_nullable,
       CASE WHEN p.pk > 0 THEN 'PRI' ELSE '' END AS column_key,
       CASE WHEN p.pk = 1 AND upper(p.type) = 'INTEGER'
             AND (SELECT count(*) FROM pragma_table_info(?1) WHERE pk > 0) = 1
            THEN 'auto_increment' ELSE '' END AS extra,
       COALESCE(g.srid, 0) AS srid,
       COALESCE(g.geometry_type, '') AS geometry_type,
       0 AS size
FROM pragma_table_info(?1) p
LEFT JOIN ` + geometryColumnsTable + ` g ON g.f_table_name = ?1 AND g.f_geometry_column = p.name
ORDER BY p.cid`
}

func (d *SQLiteDialect) IndexesQuery() string {
	return `SELECT il.name AS index_name, ii.name AS column_name,
       il."unique" AS is_unique, il.origin = 'pk' AS is_primary, 'btree' AS method
FROM pragma_index_list(?1) il
JOIN pragma_index_info(il.name) ii
ORDER BY il.name, ii.seqno`
}

// ChecksQuery is empty: SQLite keeps check constraints only in the table SQL.
func (d *SQLiteDialect) ChecksQuery() string { return "" }

func (d *SQLiteDialect) ExtentQuery(table, column string) string {
	c := d.QuoteIdentifier(column)
	return fmt.Sprintf("SELECT MIN(ST_MinX(%s)), MIN(ST_MinY(%s)), MAX(ST_MaxX(%s)), MAX(ST_MaxY(%s)) FROM %s",
		c, c, c, c, qualify(d, table))
}

// MapColumnType follows SQLite's type affinity rules after recognising the
// declared types this driver writes.
func (d *SQLiteDialect) MapColumnType(dbType string) domain.PropertyType {
	t := baseType(dbType)
	if geometryTypes[t] {
		return domain.TypeGeometry
	}
	switch t {
	case "":
		return domain.TypeUnknown
	case "boolean", "bool":
		return domain.TypeBoolean
	case "date", "datetime", "timestamp", "time":
		return domain.TypeDateTime
	case "numeric", "decimal":
		return domain.TypeNumeric
	case "raster":
		return domain.TypeRaster
	}
	switch {
	case strings.Contains(t, "int"):
		return domain.TypeInt64
	case strings.Contains(t, "char"), strings.Contains(t, "clob"), strings.Contains(t, "text"):
		return domain.TypeString
	case strings.Contains(t, "blob"):
		return domain.TypeBytes
	case strings.Contains(t, "real"), strings.Contains(t, "floa"), strings.Contains(t, "doub"):
		return domain.TypeDouble
	}
	return domain.TypeNumeric
}

func (d *SQLiteDialect) ColumnType(p *domain.Property) string {
	switch p.Type {
	case domain.TypeInt32, domain.TypeInt64:
		if p.AutoIncrement {
			return "INTEGER PRIMARY KEY AUTOINCREMENT"
		}
		return "INTEGER"
	case domain.TypeDouble:
		return "REAL"
	case domain.TypeNumeric:
		return "NUMERIC"
	case domain.TypeBoolean:
		return "BOOLEAN"
	case domain.TypeDateTime:
		return "DATETIME"
	case domain.TypeBytes:
		return "BLOB"
	case domain.TypeGeometry:
		return geometrySubtype(p)
	case domain.TypeRaster:
		return "RASTER"
	}
	if p.Size > 0 {
		return fmt.Sprintf("VARCHAR(%d)", p.Size)
	}
	return "TEXT"
}

// IndexSQL builds b-tree indexes only; spatial filters are evaluated by
// the registered functions.
func (d *SQLiteDialect) IndexSQL(table string, idx *domain.Index) string {
	if idx.Type == domain.IndexTypeRTree {
		return ""
	}
	return fmt.Sprintf("CREATE INDEX %s ON %s (%s)",
		d.QuoteIdentifier(idx.Name), qualify(d, table), quoteList(d, idx.Properties))
}

func (d *SQLiteDialect) DecodeGeometry(v interface{}) (geom.T, error) {
	return geometry.FromValue(v)
}

func (d *SQLiteDialect) LastInsertID(ctx context.Context, q Querier, res sql.Result) (int64, error) {
	return res.LastInsertId()
}

// Setup creates the geometry column registry.
func (d *SQLiteDialect) Setup(ctx context.Context, q Querier) error {
	_, err := q.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+geometryColumnsTable+` (
	f_table_name TEXT NOT NULL,
	f_geometry_column TEXT NOT NULL,
	geometry_type TEXT NOT NULL,
	srid INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (f_table_name, f_geometry_column)
)`)
	return err
}

func (d *SQLiteDialect) RegisterGeometry(ctx context.Context, q Querier, table string, p *domain.Property) error {
	_, err := q.ExecContext(ctx,
		"INSERT OR REPLACE INTO "+geometryColumnsTable+" (f_table_name, f_geometry_column, geometry_type, srid) VALUES (?, ?, ?, ?)",
		unqualified(table), p.Name, geometrySubtype(p), p.SRID)
	return err
}

// UnregisterGeometry removes one column, or every column of table when
// column is empty.
func (d *SQLiteDialect) UnregisterGeometry(ctx context.Context, q Querier, table, column string) error {
	if column == "" {
		_, err := q.ExecContext(ctx, "DELETE FROM "+geometryColumnsTable+" WHERE f_table_name = ?", unqualified(table))
		return err
	}
	_, err := q.ExecContext(ctx, "DELETE FROM "+geometryColumnsTable+" WHERE f_table_name = ? AND f_geometry_column = ?",
		unqualified(table), column)
	return err
}

func (d *SQLiteDialect) RenameGeometryTable(ctx context.Context, q Querier, oldName, newName string) error {
	_, err := q.ExecContext(ctx, "UPDATE "+geometryColumnsTable+" SET f_table_name = ? WHERE f_table_name = ?",
		unqualified(newName), unqualified(oldName))
	return err
}

func (d *SQLiteDialect) Exists(ctx context.Context, cfg *Config) (bool, error) {
	if cfg.Path == "" {
		return false, fmt.Errorf("%s is required", domain.InfoPath)
	}
	_, err := os.Stat(cfg.Path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// Create creates the database file with the geometry column registry.
func (d *SQLiteDialect) Create(ctx context.Context, cfg *Config) error {
	ok, err := d.Exists(ctx, cfg)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("%s: %w", cfg.Path, os.ErrExist)
	}
	c := *cfg
	c.InMemory = false
	return withAdminDB(ctx, d, &c, func(db *sql.DB) error {
		return d.Setup(ctx, db)
	})
}

// Drop removes the database file and its journal files.
func (d *SQLiteDialect) Drop(ctx context.Context, cfg *Config) error {
	ok, err := d.Exists(ctx, cfg)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", cfg.Path, os.ErrNotExist)
	}
	for _, suffix := range []string{"-wal", "-shm", "-journal"} {
		_ = os.Remove(cfg.Path + suffix)
	}
	return os.Remove(cfg.Path)
}

// NewSQLiteFactory 创建 SQLite 数据源工厂
func NewSQLiteFactory() *Factory {
	return NewFactory(&SQLiteDialect{}, SQLiteCapabilities())
}
