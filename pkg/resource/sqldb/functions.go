package sqldb

import (
	"database/sql/driver"
	"fmt"
	"sync"

	"github.com/kasuganosora/geoaccess/pkg/geometry"
	"github.com/twpayne/go-geom"
	"modernc.org/sqlite"
)

var (
	registerOnce sync.Once
	registerErr  error
)

// scalarFunc is a SQLite scalar function body.
type scalarFunc func(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error)

// registerFunctions installs the ST_ functions used by rendered queries.
// Registration is process wide and applies to connections opened later.
func registerFunctions() error {
	registerOnce.Do(func() {
		funcs := map[string]struct {
			nArg int32
			fn   scalarFunc
		}{
			"ST_GeomFromWKB":  {-1, stGeomFromWKB},
			"ST_GeomFromText": {-1, stGeomFromText},
			"ST_AsText":       {1, stAsText},
			"ST_AsBinary":     {1, stAsBinary},
			"ST_SRID":         {1, stSRID},
			"ST_MinX":         {1, envelopeAccessor(func(e geometry.Envelope) float64 { return e.MinX })},
			"ST_MinY":         {1, envelopeAccessor(func(e geometry.Envelope) float64 { return e.MinY })},
			"ST_MaxX":         {1, envelopeAccessor(func(e geometry.Envelope) float64 { return e.MaxX })},
			"ST_MaxY":         {1, envelopeAccessor(func(e geometry.Envelope) float64 { return e.MaxY })},
		}
		for _, rel := range []geometry.SpatialRelation{
			geometry.Intersects, geometry.Disjoint, geometry.Touches, geometry.Overlaps, geometry.Crosses,
			geometry.Within, geometry.Contains, geometry.Covers, geometry.CoveredBy, geometry.Equals,
		} {
			funcs[rel.FunctionName()] = struct {
				nArg int32
				fn   scalarFunc
			}{2, relationFunc(rel)}
		}
		for name, f := range funcs {
			if err := sqlite.RegisterDeterministicScalarFunction(name, f.nArg, f.fn); err != nil {
				registerErr = fmt.Errorf("register %s: %w", name, err)
				return
			}
		}
	})
	return registerErr
}

// geomArg decodes a stored geometry argument; NULL yields nil.
func geomArg(v driver.Value) (geom.T, error) {
	if v == nil {
		return nil, nil
	}
	return geometry.FromValue(v)
}

func sridArg(args []driver.Value) (int, error) {
	if len(args) < 2 || args[1] == nil {
		return 0, nil
	}
	n, ok := args[1].(int64)
	if !ok {
		return 0, fmt.Errorf("srid must be an integer, got %T", args[1])
	}
	return int(n), nil
}

// storeGeom encodes g as the EWKB blob kept in geometry columns.
func storeGeom(g geom.T, srid int) (driver.Value, error) {
	if srid != 0 {
		g = geometry.WithSRID(g, srid)
	}
	return geometry.EncodeEWKB(g)
}

func stGeomFromWKB(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) == 0 || len(args) > 2 {
		return nil, fmt.Errorf("ST_GeomFromWKB takes 1 or 2 arguments")
	}
	data, ok := args[0].([]byte)
	if !ok {
		if args[0] == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("ST_GeomFromWKB expects a blob, got %T", args[0])
	}
	srid, err := sridArg(args)
	if err != nil {
		return nil, err
	}
	g, err := geometry.DecodeWKB(data)
	if err != nil {
		return nil, err
	}
	return storeGeom(g, srid)
}

func stGeomFromText(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) == 0 || len(args) > 2 {
		return nil, fmt.Errorf("ST_GeomFromText takes 1 or 2 arguments")
	}
	if args[0] == nil {
		return nil, nil
	}
	s, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("ST_GeomFromText expects text, got %T", args[0])
	}
	srid, err := sridArg(args)
	if err != nil {
		return nil, err
	}
	g, err := geometry.ParseWKT(s)
	if err != nil {
		return nil, err
	}
	return storeGeom(g, srid)
}

func stAsText(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	g, err := geomArg(args[0])
	if err != nil || g == nil {
		return nil, err
	}
	return geometry.FormatWKT(g)
}

func stAsBinary(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	g, err := geomArg(args[0])
	if err != nil || g == nil {
		return nil, err
	}
	return geometry.EncodeWKB(g)
}

func stSRID(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	g, err := geomArg(args[0])
	if err != nil || g == nil {
		return nil, err
	}
	return int64(g.SRID()), nil
}

func envelopeAccessor(pick func(geometry.Envelope) float64) scalarFunc {
	return func(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
		g, err := geomArg(args[0])
		if err != nil || g == nil {
			return nil, err
		}
		env, ok := geometry.EnvelopeOf(g)
		if !ok {
			return nil, nil
		}
		return pick(env), nil
	}
}

// relationFunc evaluates rel; NULL operands yield NULL like in SQL.
func relationFunc(rel geometry.SpatialRelation) scalarFunc {
	return func(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
		a, err := geomArg(args[0])
		if err != nil {
			return nil, err
		}
		b, err := geomArg(args[1])
		if err != nil {
			return nil, err
		}
		if a == nil || b == nil {
			return nil, nil
		}
		ok, err := geometry.Relate(a, b, rel)
		if err != nil {
			return nil, err
		}
		if ok {
			return int64(1), nil
		}
		return int64(0), nil
	}
}
