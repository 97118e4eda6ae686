// Package sqldb implements the SQL data source drivers on top of
// database/sql. The engines differ only in their Dialect: POSTGIS (lib/pq),
// MYSQL (go-sql-driver/mysql) and SQLITE (modernc.org/sqlite).
package sqldb

import (
	"context"
	"database/sql"
	"regexp"
	"strconv"
	"strings"

	"github.com/kasuganosora/geoaccess/pkg/query"
	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
	"github.com/twpayne/go-geom"
)

// Querier is the part of *sql.DB, *sql.Conn and *sql.Tx the drivers use.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Dialect abstracts database-specific SQL differences.
//
// Catalog queries take the table name as their only argument and return
// lower-case column aliases:
//
//	ColumnsQuery:  column_name, column_type, is_nullable, column_key, extra, srid, geometry_type, size
//	IndexesQuery:  index_name, column_name, is_unique, is_primary, method
//	ChecksQuery:   constraint_name, check_clause
type Dialect interface {
	query.Dialect

	// Type 驱动类型
	Type() domain.DataSourceType

	// DriverName returns the database/sql driver name
	DriverName() string

	// RequiredKeys lists the connection parameters Open insists on
	RequiredKeys() []string

	// BuildDSN constructs a DSN string from config
	BuildDSN(cfg *Config) (string, error)

	// TablesQuery returns SQL to list user tables of the current schema
	TablesQuery() string

	ColumnsQuery() string
	IndexesQuery() string
	// ChecksQuery is empty when the engine exposes no check constraint catalog
	ChecksQuery() string

	// MapColumnType maps a database type name to a property type
	MapColumnType(dbType string) domain.PropertyType

	// ColumnType renders the column type of p for CREATE TABLE / ADD COLUMN
	ColumnType(p *domain.Property) string

	// IndexSQL renders CREATE INDEX for idx, empty when the engine cannot
	// build that index type
	IndexSQL(table string, idx *domain.Index) string

	// DecodeGeometry converts a scanned geometry column value
	DecodeGeometry(v interface{}) (geom.T, error)

	// LastInsertID reads the id generated by the insert that produced res.
	// q is the connection that ran the insert.
	LastInsertID(ctx context.Context, q Querier, res sql.Result) (int64, error)

	// Exists/Create/Drop administer the database named by cfg
	Exists(ctx context.Context, cfg *Config) (bool, error)
	Create(ctx context.Context, cfg *Config) error
	Drop(ctx context.Context, cfg *Config) error
}

// ExtentQuerier is implemented by dialects that compute extents in the
// database. The query returns minx, miny, maxx, maxy.
type ExtentQuerier interface {
	ExtentQuery(table, column string) string
}

// GeometryRegistry is implemented by dialects that keep geometry column
// metadata in a table of their own.
type GeometryRegistry interface {
	RegisterGeometry(ctx context.Context, q Querier, table string, p *domain.Property) error
	UnregisterGeometry(ctx context.Context, q Querier, table, column string) error
	RenameGeometryTable(ctx context.Context, q Querier, oldName, newName string) error
}

// Setup is implemented by dialects that prepare a freshly opened database.
type Setup interface {
	Setup(ctx context.Context, q Querier) error
}

var sizePattern = regexp.MustCompile(`\((\d+)`)

// typeSize extracts n from "varchar(n)".
func typeSize(dbType string) int {
	m := sizePattern.FindStringSubmatch(dbType)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

// baseType strips parameters and modifiers: "varchar(255)" -> "varchar".
func baseType(dbType string) string {
	t := strings.ToLower(strings.TrimSpace(dbType))
	if idx := strings.Index(t, "("); idx >= 0 {
		t = t[:idx]
	}
	t = strings.TrimSuffix(strings.TrimSpace(t), " unsigned")
	return strings.TrimSpace(t)
}

// geometryTypes are the OGC subtypes accepted as column types.
var geometryTypes = map[string]bool{
	"geometry":           true,
	"point":              true,
	"linestring":         true,
	"polygon":            true,
	"multipoint":         true,
	"multilinestring":    true,
	"multipolygon":       true,
	"geometrycollection": true,
}

// geometrySubtype returns the upper-case subtype of p, GEOMETRY when unset.
func geometrySubtype(p *domain.Property) string {
	if p.GeometryType == "" {
		return "GEOMETRY"
	}
	return strings.ToUpper(p.GeometryType)
}

// qualify quotes "schema.table" part by part.
func qualify(d query.Dialect, name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = d.QuoteIdentifier(p)
	}
	return strings.Join(parts, ".")
}

// quoteList quotes each name and joins them with commas.
func quoteList(d query.Dialect, names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = d.QuoteIdentifier(n)
	}
	return strings.Join(quoted, ", ")
}

// unqualified drops a schema prefix.
func unqualified(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return name
}
