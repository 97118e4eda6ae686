package sqldb

import (
	"encoding/binary"
	"strings"
	"testing"
	"time"

	"github.com/kasuganosora/geoaccess/pkg/geometry"
	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
	"github.com/twpayne/go-geom"
)

func TestPostGISDialect_DriverName(t *testing.T) {
	d := &PostGISDialect{}
	if d.DriverName() != "postgres" {
		t.Errorf("expected postgres, got %s", d.DriverName())
	}
}

func TestDialect_QuoteIdentifier(t *testing.T) {
	tests := []struct {
		d           Dialect
		input, want string
	}{
		{&PostGISDialect{}, "wells", `"wells"`},
		{&PostGISDialect{}, `my"table`, `"my""table"`},
		{&MySQLDialect{}, "wells", "`wells`"},
		{&MySQLDialect{}, "my`table", "`my``table`"},
		{&SQLiteDialect{}, "order", `"order"`},
	}
	for _, tt := range tests {
		got := tt.d.QuoteIdentifier(tt.input)
		if got != tt.want {
			t.Errorf("%s QuoteIdentifier(%q) = %q, want %q", tt.d.Type(), tt.input, got, tt.want)
		}
	}
}

func TestDialect_Placeholder(t *testing.T) {
	tests := []struct {
		d    Dialect
		n    int
		want string
	}{
		{&PostGISDialect{}, 1, "$1"},
		{&PostGISDialect{}, 10, "$10"},
		{&MySQLDialect{}, 3, "?"},
		{&SQLiteDialect{}, 3, "?"},
	}
	for _, tt := range tests {
		got := tt.d.Placeholder(tt.n)
		if got != tt.want {
			t.Errorf("%s Placeholder(%d) = %q, want %q", tt.d.Type(), tt.n, got, tt.want)
		}
	}
}

func TestDialect_GeometryFromWKB(t *testing.T) {
	tests := []struct {
		d    Dialect
		srid int
		want string
	}{
		{&PostGISDialect{}, 0, "ST_GeomFromWKB($1)"},
		{&PostGISDialect{}, 4326, "ST_GeomFromWKB($1, 4326)"},
		{&MySQLDialect{}, 4326, "ST_GeomFromWKB($1, 4326, 'axis-order=long-lat')"},
		{&SQLiteDialect{}, 0, "ST_GeomFromWKB($1, 0)"},
	}
	for _, tt := range tests {
		got := tt.d.GeometryFromWKB("$1", tt.srid)
		if got != tt.want {
			t.Errorf("%s GeometryFromWKB(%d) = %q, want %q", tt.d.Type(), tt.srid, got, tt.want)
		}
	}
}

func TestMySQLDialect_SpatialFunction(t *testing.T) {
	d := &MySQLDialect{}
	tests := []struct {
		rel  geometry.SpatialRelation
		want string
	}{
		{geometry.Intersects, "ST_Intersects"},
		{geometry.Covers, "ST_Contains"},
		{geometry.CoveredBy, "ST_Within"},
	}
	for _, tt := range tests {
		if got := d.SpatialFunction(tt.rel); got != tt.want {
			t.Errorf("SpatialFunction(%s) = %q, want %q", tt.rel, got, tt.want)
		}
	}
}

func TestPostGISDialect_MapColumnType(t *testing.T) {
	d := &PostGISDialect{}
	tests := []struct {
		input string
		want  domain.PropertyType
	}{
		{"integer", domain.TypeInt32},
		{"bigint", domain.TypeInt64},
		{"serial", domain.TypeInt32},
		{"character varying", domain.TypeString},
		{"text", domain.TypeString},
		{"double precision", domain.TypeDouble},
		{"numeric(10,2)", domain.TypeNumeric},
		{"boolean", domain.TypeBoolean},
		{"timestamp without time zone", domain.TypeDateTime},
		{"bytea", domain.TypeBytes},
		{"geometry", domain.TypeGeometry},
		{"geography", domain.TypeGeometry},
		{"raster", domain.TypeRaster},
		{"uuid", domain.TypeString},
	}
	for _, tt := range tests {
		if got := d.MapColumnType(tt.input); got != tt.want {
			t.Errorf("MapColumnType(%q) = %s, want %s", tt.input, got, tt.want)
		}
	}
}

func TestMySQLDialect_MapColumnType(t *testing.T) {
	d := &MySQLDialect{}
	tests := []struct {
		input string
		want  domain.PropertyType
	}{
		{"int(11)", domain.TypeInt32},
		{"int unsigned", domain.TypeInt32},
		{"bigint(20)", domain.TypeInt64},
		{"tinyint(1)", domain.TypeBoolean},
		{"tinyint(4)", domain.TypeInt32},
		{"varchar(255)", domain.TypeString},
		{"double", domain.TypeDouble},
		{"decimal(38,10)", domain.TypeNumeric},
		{"datetime(6)", domain.TypeDateTime},
		{"longblob", domain.TypeBytes},
		{"point", domain.TypeGeometry},
		{"geomcollection", domain.TypeGeometry},
		{"json", domain.TypeString},
	}
	for _, tt := range tests {
		if got := d.MapColumnType(tt.input); got != tt.want {
			t.Errorf("MapColumnType(%q) = %s, want %s", tt.input, got, tt.want)
		}
	}
}

func TestSQLiteDialect_MapColumnType(t *testing.T) {
	d := &SQLiteDialect{}
	tests := []struct {
		input string
		want  domain.PropertyType
	}{
		{"INTEGER", domain.TypeInt64},
		{"BIGINT", domain.TypeInt64},
		{"VARCHAR(20)", domain.TypeString},
		{"TEXT", domain.TypeString},
		{"REAL", domain.TypeDouble},
		{"DOUBLE PRECISION", domain.TypeDouble},
		{"BLOB", domain.TypeBytes},
		{"BOOLEAN", domain.TypeBoolean},
		{"DATETIME", domain.TypeDateTime},
		{"NUMERIC", domain.TypeNumeric},
		{"POINT", domain.TypeGeometry},
		{"MULTIPOLYGON", domain.TypeGeometry},
		{"", domain.TypeUnknown},
	}
	for _, tt := range tests {
		if got := d.MapColumnType(tt.input); got != tt.want {
			t.Errorf("MapColumnType(%q) = %s, want %s", tt.input, got, tt.want)
		}
	}
}

func TestDialect_ColumnType(t *testing.T) {
	id := domain.NewProperty("id", domain.TypeInt64)
	id.AutoIncrement = true
	name := domain.NewProperty("name", domain.TypeString)
	name.Size = 40
	pt := domain.NewGeometryProperty("geom", "point", 4326)
	shape := domain.NewGeometryProperty("shape", "", 0)

	tests := []struct {
		d    Dialect
		p    *domain.Property
		want string
	}{
		{&PostGISDialect{}, id, "BIGSERIAL"},
		{&PostGISDialect{}, name, "VARCHAR(40)"},
		{&PostGISDialect{}, pt, "geometry(POINT, 4326)"},
		{&PostGISDialect{}, shape, "geometry"},
		{&MySQLDialect{}, id, "BIGINT AUTO_INCREMENT"},
		{&MySQLDialect{}, pt, "POINT SRID 4326"},
		{&MySQLDialect{}, shape, "GEOMETRY"},
		{&SQLiteDialect{}, id, "INTEGER PRIMARY KEY AUTOINCREMENT"},
		{&SQLiteDialect{}, pt, "POINT"},
		{&SQLiteDialect{}, domain.NewProperty("note", domain.TypeString), "TEXT"},
	}
	for _, tt := range tests {
		if got := tt.d.ColumnType(tt.p); got != tt.want {
			t.Errorf("%s ColumnType(%s) = %q, want %q", tt.d.Type(), tt.p.Name, got, tt.want)
		}
	}
}

func TestDialect_IndexSQL(t *testing.T) {
	rtree := &domain.Index{Name: "idx_geom", Type: domain.IndexTypeRTree, Properties: []string{"geom"}}

	if got, want := (&PostGISDialect{}).IndexSQL("wells", rtree), `CREATE INDEX "idx_geom" ON "wells" USING GIST ("geom")`; got != want {
		t.Errorf("postgis IndexSQL = %q, want %q", got, want)
	}
	if got, want := (&MySQLDialect{}).IndexSQL("wells", rtree), "CREATE SPATIAL INDEX `idx_geom` ON `wells` (`geom`)"; got != want {
		t.Errorf("mysql IndexSQL = %q, want %q", got, want)
	}
	if got := (&SQLiteDialect{}).IndexSQL("wells", rtree); got != "" {
		t.Errorf("sqlite IndexSQL for RTREE = %q, want empty", got)
	}
	btree := &domain.Index{Name: "idx_code", Type: domain.IndexTypeBTree, Properties: []string{"code", "depth"}}
	if got, want := (&SQLiteDialect{}).IndexSQL("main.wells", btree), `CREATE INDEX "idx_code" ON "main"."wells" ("code", "depth")`; got != want {
		t.Errorf("sqlite IndexSQL = %q, want %q", got, want)
	}
}

func TestPostGISDialect_BuildDSN(t *testing.T) {
	d := &PostGISDialect{}
	cfg := &Config{
		Host:           "db.local",
		User:           "gis",
		Password:       "it's secret",
		DBName:         "geo",
		SSLMode:        "disable",
		Schema:         "public",
		ConnectTimeout: 5 * time.Second,
	}
	dsn, err := d.BuildDSN(cfg)
	if err != nil {
		t.Fatalf("BuildDSN: %v", err)
	}
	for _, want := range []string{"host=db.local", "port=5432", "user=gis", `password='it\'s secret'`, "dbname=geo", "search_path=public", "connect_timeout=5"} {
		if !strings.Contains(dsn, want) {
			t.Errorf("DSN %q does not contain %q", dsn, want)
		}
	}
}

func TestMySQLDialect_BuildDSN(t *testing.T) {
	d := &MySQLDialect{}
	cfg := &Config{
		Host:      "127.0.0.1",
		Port:      3307,
		User:      "root",
		Password:  "pw",
		DBName:    "geo",
		Charset:   "utf8mb4",
		Collation: "utf8mb4_unicode_ci",
		SSLMode:   "disable",
	}
	dsn, err := d.BuildDSN(cfg)
	if err != nil {
		t.Fatalf("BuildDSN: %v", err)
	}
	for _, want := range []string{"root:pw@tcp(127.0.0.1:3307)/geo", "parseTime=true", "charset=utf8mb4"} {
		if !strings.Contains(dsn, want) {
			t.Errorf("DSN %q does not contain %q", dsn, want)
		}
	}
}

func TestSQLiteDialect_BuildDSN(t *testing.T) {
	d := &SQLiteDialect{}

	dsn, err := d.BuildDSN(&Config{Path: "/tmp/geo.db", ConnectTimeout: time.Second})
	if err != nil {
		t.Fatalf("BuildDSN: %v", err)
	}
	if !strings.HasPrefix(dsn, "/tmp/geo.db?") || !strings.Contains(dsn, "busy_timeout%281000%29") {
		t.Errorf("unexpected file DSN %q", dsn)
	}

	dsn, err = d.BuildDSN(&Config{InMemory: true, Path: "shared"})
	if err != nil {
		t.Fatalf("BuildDSN: %v", err)
	}
	if !strings.HasPrefix(dsn, "file:shared?") || !strings.Contains(dsn, "mode=memory") {
		t.Errorf("unexpected memory DSN %q", dsn)
	}

	if _, err := d.BuildDSN(&Config{}); err == nil {
		t.Error("expected error without PATH")
	}
}

func TestMySQLDialect_DecodeGeometry(t *testing.T) {
	d := &MySQLDialect{}
	wkb, err := geometry.EncodeWKB(geom.NewPointFlat(geom.XY, []float64{1, 2}))
	if err != nil {
		t.Fatal(err)
	}
	data := make([]byte, 4, 4+len(wkb))
	binary.LittleEndian.PutUint32(data, 4326)
	data = append(data, wkb...)

	g, err := d.DecodeGeometry(data)
	if err != nil {
		t.Fatalf("DecodeGeometry: %v", err)
	}
	p, ok := g.(*geom.Point)
	if !ok {
		t.Fatalf("expected *geom.Point, got %T", g)
	}
	if p.X() != 1 || p.Y() != 2 || p.SRID() != 4326 {
		t.Errorf("unexpected point %v srid %d", p.FlatCoords(), p.SRID())
	}

	if _, err := d.DecodeGeometry([]byte{1, 2}); err == nil {
		t.Error("expected error for truncated value")
	}
	if g, err := d.DecodeGeometry(nil); err != nil || g != nil {
		t.Errorf("DecodeGeometry(nil) = %v, %v", g, err)
	}
}

func TestBaseTypeAndSize(t *testing.T) {
	tests := []struct {
		input string
		base  string
		size  int
	}{
		{"varchar(255)", "varchar", 255},
		{"INT UNSIGNED", "int", 0},
		{"decimal(10,2)", "decimal", 10},
		{"text", "text", 0},
	}
	for _, tt := range tests {
		if got := baseType(tt.input); got != tt.base {
			t.Errorf("baseType(%q) = %q, want %q", tt.input, got, tt.base)
		}
		if got := typeSize(tt.input); got != tt.size {
			t.Errorf("typeSize(%q) = %d, want %d", tt.input, got, tt.size)
		}
	}
}
