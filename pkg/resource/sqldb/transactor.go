package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/kasuganosora/geoaccess/pkg/dataaccess"
	"github.com/kasuganosora/geoaccess/pkg/geometry"
	"github.com/kasuganosora/geoaccess/pkg/logger"
	"github.com/kasuganosora/geoaccess/pkg/query"
	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
)

// Transactor is a session on one pooled connection. Session state such as
// lastval() and the open transaction stays on that connection.
type Transactor struct {
	domain.BaseTransactor
	src    *Source
	d      Dialect
	log    logger.Logger
	conn   *sql.Conn
	tx     *sql.Tx
	lastID int64

	// tables whose schema changed inside the open transaction
	dirty map[string]bool
}

func newTransactor(src *Source, conn *sql.Conn) *Transactor {
	t := &Transactor{src: src, d: src.dialect, log: src.log, conn: conn, dirty: map[string]bool{}}
	t.Init(t, src)
	return t
}

func (t *Transactor) driver() domain.DataSourceType { return t.d.Type() }

// q returns the open transaction or the session connection.
func (t *Transactor) q() Querier {
	if t.tx != nil {
		return t.tx
	}
	return t.conn
}

func (t *Transactor) backend(op string, err error) error {
	if err == nil {
		return nil
	}
	var notFound *domain.ErrDataSetNotFound
	var noProp *domain.ErrPropertyNotFound
	if errors.As(err, &notFound) || errors.As(err, &noProp) {
		return err
	}
	return domain.NewErrBackend(t.driver(), op, err)
}

// ==================== Transactions ====================

func (t *Transactor) Begin(ctx context.Context) error {
	if err := t.CheckOpen(); err != nil {
		return err
	}
	if err := t.MarkBegin(); err != nil {
		return err
	}
	tx, err := t.conn.BeginTx(ctx, nil)
	if err != nil {
		_ = t.MarkEnd("Begin")
		return domain.NewErrBackend(t.driver(), "begin", err)
	}
	t.tx = tx
	t.log.Debug("begin transaction")
	return nil
}

// Commit commits the transaction. A failed commit still ends it.
func (t *Transactor) Commit(ctx context.Context) error {
	if err := t.CheckOpen(); err != nil {
		return err
	}
	if !t.IsInTransaction() {
		return domain.NewErrNoActiveTransaction(t.driver(), "Commit")
	}
	tx := t.tx
	t.tx = nil
	_ = t.MarkEnd("Commit")
	if err := tx.Commit(); err != nil {
		t.log.Warn("commit failed: %v", err)
		t.syncCatalog(ctx)
		return domain.NewErrBackend(t.driver(), "commit", err)
	}
	t.log.Debug("commit transaction")
	t.syncCatalog(ctx)
	return nil
}

func (t *Transactor) Rollback(ctx context.Context) error {
	if err := t.MarkEnd("Rollback"); err != nil {
		return err
	}
	tx := t.tx
	t.tx = nil
	err := tx.Rollback()
	t.log.Debug("rollback transaction")
	t.syncCatalog(ctx)
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return domain.NewErrBackend(t.driver(), "rollback", err)
	}
	return nil
}

// schemaChanged refreshes the catalog for names now, or at the end of the
// open transaction.
func (t *Transactor) schemaChanged(ctx context.Context, names ...string) error {
	if t.tx != nil {
		for _, n := range names {
			t.dirty[n] = true
		}
		return nil
	}
	return t.src.reloadTypes(ctx, t.conn, names...)
}

func (t *Transactor) syncCatalog(ctx context.Context) {
	if len(t.dirty) == 0 || !t.src.IsOpened() {
		return
	}
	names := make([]string, 0, len(t.dirty))
	for n := range t.dirty {
		names = append(names, n)
	}
	t.dirty = map[string]bool{}
	if err := t.src.reloadTypes(ctx, t.conn, names...); err != nil {
		t.log.Warn("refresh catalog: %v", err)
	}
}

// typeOf returns the catalog type of name, reading the database for tables
// created outside this source. Types seen inside a transaction are not
// cached.
func (t *Transactor) typeOf(ctx context.Context, name string) (*domain.DataSetType, error) {
	if dt, ok := t.src.Catalog().Get(name); ok && !t.dirty[name] {
		return dt, nil
	}
	dt, err := t.src.reader(t.q()).load(ctx, name, false)
	if err != nil {
		return nil, err
	}
	if t.tx == nil {
		t.src.Catalog().Put(dt)
	}
	return dt, nil
}

// ==================== Retrieval ====================

func (t *Transactor) GetDataSet(ctx context.Context, name string, trav domain.TraverseType, access domain.AccessPolicy) (domain.DataSet, error) {
	return t.Query(ctx, query.SelectAll(name), trav, access)
}

// Query renders sel in the engine dialect. Spatial filters become ST_
// function calls evaluated by the database.
func (t *Transactor) Query(ctx context.Context, sel *query.Select, trav domain.TraverseType, access domain.AccessPolicy) (domain.DataSet, error) {
	if err := t.CheckOpen(); err != nil {
		return nil, err
	}
	ctx, done := t.OpContext(ctx)
	defer done()

	var (
		hint *domain.DataSetType
		name string
	)
	if names := sel.DataSetNames(); len(names) == 1 {
		name = names[0]
		dt, err := t.typeOf(ctx, name)
		if err != nil {
			return nil, t.backend("query", err)
		}
		hint = dt
	}

	stmt := tagSRID(hint, sel)
	sqlText, args, err := query.Render(t.d, stmt)
	if err != nil {
		return nil, domain.NewErrBackend(t.driver(), "render", err)
	}
	if hasSpatialFilter(sel.WhereExpr()) {
		t.log.Debug("spatial filter pushed down: %s", sqlText)
	}
	return t.run(ctx, name, hint, sqlText, args, trav, access)
}

// QueryString runs native SQL. When q parses as a single-table SELECT the
// table's catalog type types the result columns.
func (t *Transactor) QueryString(ctx context.Context, q string, trav domain.TraverseType, access domain.AccessPolicy) (domain.DataSet, error) {
	if err := t.CheckOpen(); err != nil {
		return nil, err
	}
	ctx, done := t.OpContext(ctx)
	defer done()

	var (
		hint *domain.DataSetType
		name string
	)
	if sel, err := query.ParseSelect(q); err == nil {
		if names := sel.DataSetNames(); len(names) == 1 {
			if dt, err := t.typeOf(ctx, names[0]); err == nil {
				name, hint = names[0], dt
			}
		}
	}
	return t.run(ctx, name, hint, q, nil, trav, access)
}

// run executes a query and materialises the result; the session connection
// cannot serve another statement while a cursor is open.
func (t *Transactor) run(ctx context.Context, name string, hint *domain.DataSetType, sqlText string, args []interface{}, trav domain.TraverseType, access domain.AccessPolicy) (domain.DataSet, error) {
	rows, err := t.q().QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, domain.NewErrBackend(t.driver(), "query", err)
	}
	defer rows.Close()

	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, domain.NewErrBackend(t.driver(), "query", err)
	}
	dt := resultType(t.d, name, hint, colTypes)
	data, err := ScanRows(rows, t.d, dt)
	if err != nil {
		return nil, domain.NewErrBackend(t.driver(), "query", err)
	}
	return domain.NewRowSet(t.driver(), dt, data, trav, access), nil
}

// ==================== Commands ====================

func (t *Transactor) Execute(ctx context.Context, cmd query.Command) (int64, error) {
	if err := t.CheckOpen(); err != nil {
		return 0, err
	}
	ctx, done := t.OpContext(ctx)
	defer done()

	dt, err := t.typeOf(ctx, cmd.TargetDataSet())
	if err != nil {
		return 0, t.backend("execute", err)
	}
	if err := checkColumns(dt, cmd); err != nil {
		return 0, err
	}

	stmt := tagSRID(dt, cmd)
	sqlText, args, err := query.Render(t.d, stmt)
	if err != nil {
		return 0, domain.NewErrBackend(t.driver(), "render", err)
	}
	res, err := t.q().ExecContext(ctx, sqlText, args...)
	if err != nil {
		return 0, domain.NewErrBackend(t.driver(), "execute", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, domain.NewErrBackend(t.driver(), "execute", err)
	}

	if ins, ok := cmd.(*query.Insert); ok && affected > 0 && generatesKey(dt, ins) {
		id, err := t.d.LastInsertID(ctx, t.q(), res)
		if err != nil {
			t.log.Warn("last insert id on %s: %v", dt.Name, err)
		} else if id != 0 {
			t.lastID = id
		}
	}
	return affected, nil
}

// ExecuteString runs a command. Statements the command parser does not
// cover (DDL, engine extensions) are passed to the database unchanged.
func (t *Transactor) ExecuteString(ctx context.Context, cmd string) (int64, error) {
	if c, err := query.ParseCommand(cmd); err == nil {
		return t.Execute(ctx, c)
	}
	if err := t.CheckOpen(); err != nil {
		return 0, err
	}
	ctx, done := t.OpContext(ctx)
	defer done()

	res, err := t.q().ExecContext(ctx, cmd)
	if err != nil {
		return 0, domain.NewErrBackend(t.driver(), "execute", err)
	}
	if isDDL(cmd) {
		if t.tx != nil {
			for _, n := range t.src.Catalog().Names() {
				t.dirty[n] = true
			}
		} else if err := t.src.fillCatalog(ctx, t.conn); err != nil {
			t.log.Warn("refresh catalog: %v", err)
		}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		// DDL statements report no row count on some drivers
		return 0, nil
	}
	return affected, nil
}

func isDDL(stmt string) bool {
	s := strings.ToUpper(strings.TrimSpace(stmt))
	for _, prefix := range []string{"CREATE ", "DROP ", "ALTER ", "RENAME "} {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

func checkColumns(dt *domain.DataSetType, cmd query.Command) error {
	var cols []string
	switch c := cmd.(type) {
	case *query.Insert:
		cols = c.Columns
	case *query.Update:
		for _, a := range c.Assignments {
			cols = append(cols, a.Column)
		}
	}
	for _, col := range cols {
		if !dt.HasProperty(col) {
			return domain.NewErrPropertyNotFound(col, dt.Name)
		}
	}
	return nil
}

// generatesKey reports whether ins leaves an auto-increment column to the
// database.
func generatesKey(dt *domain.DataSetType, ins *query.Insert) bool {
	for _, p := range dt.Properties {
		if !p.AutoIncrement {
			continue
		}
		if len(ins.Columns) == 0 {
			return false
		}
		for _, c := range ins.Columns {
			if c == p.Name {
				return false
			}
		}
		return true
	}
	return false
}

// ==================== SRID tagging ====================

// tagSRID gives geometry literals without an SRID the SRID of the column
// they are compared with or written to. stmt itself is not modified.
func tagSRID(dt *domain.DataSetType, stmt query.Statement) query.Statement {
	if dt == nil {
		return stmt
	}
	sridOf := func(e query.Expression) int {
		pn, ok := e.(*query.PropertyName)
		if !ok {
			return 0
		}
		p, ok := dt.Property(unqualified(pn.Name))
		if !ok || !p.IsGeometry() {
			return 0
		}
		return p.SRID
	}

	out := query.Transform(stmt, func(e query.Expression) query.Expression {
		fn, ok := e.(*query.Function)
		if !ok || len(fn.Args) != 2 {
			return e
		}
		if _, ok := geometry.RelationFromFunction(fn.Name); !ok {
			return e
		}
		if srid := sridOf(fn.Args[0]); srid != 0 {
			fn.Args[1] = withSRID(fn.Args[1], srid)
		} else if srid := sridOf(fn.Args[1]); srid != 0 {
			fn.Args[0] = withSRID(fn.Args[0], srid)
		}
		return fn
	})

	switch c := out.(type) {
	case *query.Insert:
		cols := c.Columns
		if len(cols) == 0 {
			cols = dt.PropertyNames()
		}
		for _, row := range c.Values {
			for j := range row {
				if j < len(cols) {
					row[j] = withSRID(row[j], sridOf(query.Prop(cols[j])))
				}
			}
		}
	case *query.Update:
		for i, a := range c.Assignments {
			c.Assignments[i].Value = withSRID(a.Value, sridOf(query.Prop(a.Column)))
		}
	}
	return out
}

func withSRID(e query.Expression, srid int) query.Expression {
	lg, ok := e.(*query.LiteralGeom)
	if !ok || srid == 0 || lg.EffectiveSRID() != 0 {
		return e
	}
	return &query.LiteralGeom{Geom: lg.Geom, SRID: srid}
}

func hasSpatialFilter(expr query.Expression) bool {
	switch e := expr.(type) {
	case *query.Function:
		_, ok := geometry.RelationFromFunction(e.Name)
		return ok
	case *query.BinaryExpr:
		return hasSpatialFilter(e.Left) || hasSpatialFilter(e.Right)
	case *query.UnaryExpr:
		return hasSpatialFilter(e.Expr)
	}
	return false
}

// ==================== Helpers ====================

func (t *Transactor) Prepared(ctx context.Context, name string) (domain.PreparedQuery, error) {
	return dataaccess.NewPreparedQuery(t, name), nil
}

func (t *Transactor) BatchExecutor(ctx context.Context) (domain.BatchExecutor, error) {
	return dataaccess.NewBatchExecutor(t), nil
}

func (t *Transactor) CatalogLoader(ctx context.Context) (domain.CatalogLoader, error) {
	if err := t.CheckOpen(); err != nil {
		return nil, err
	}
	return &catalogLoader{t: t}, nil
}

func (t *Transactor) DataSetTypePersistence(ctx context.Context) (domain.DataSetTypePersistence, error) {
	if err := t.CheckOpen(); err != nil {
		return nil, err
	}
	return &typePersistence{t: t}, nil
}

func (t *Transactor) DataSetPersistence(ctx context.Context) (domain.DataSetPersistence, error) {
	if err := t.CheckOpen(); err != nil {
		return nil, err
	}
	return dataaccess.NewDataSetPersistence(t), nil
}

func (t *Transactor) LastInsertID() int64 { return t.lastID }

// Close rolls back an open transaction and returns the connection to the
// pool.
func (t *Transactor) Close(ctx context.Context) error {
	var err error
	if t.IsInTransaction() {
		err = t.Rollback(ctx)
	}
	if t.conn != nil {
		if cerr := t.conn.Close(); cerr != nil && !errors.Is(cerr, sql.ErrConnDone) && err == nil {
			err = domain.NewErrBackend(t.driver(), "close", cerr)
		}
		t.conn = nil
	}
	return err
}

// ==================== CatalogLoader ====================

// catalogLoader reads the database catalog through the session connection.
type catalogLoader struct {
	t *Transactor
}

func (l *catalogLoader) reader() catalogReader { return l.t.src.reader(l.t.q()) }

func (l *catalogLoader) GetDataSets(ctx context.Context) ([]string, error) {
	if err := l.t.CheckOpen(); err != nil {
		return nil, err
	}
	names, err := l.reader().tables(ctx)
	return names, l.t.backend("catalog", err)
}

func (l *catalogLoader) GetDataSetType(ctx context.Context, name string, full bool) (*domain.DataSetType, error) {
	if err := l.t.CheckOpen(); err != nil {
		return nil, err
	}
	dt, err := l.reader().load(ctx, name, full)
	if err != nil {
		return nil, l.t.backend("catalog", err)
	}
	return dt, nil
}

func (l *catalogLoader) GetProperties(ctx context.Context, name string) ([]*domain.Property, error) {
	dt, err := l.GetDataSetType(ctx, name, false)
	if err != nil {
		return nil, err
	}
	return dt.Properties, nil
}

func (l *catalogLoader) GetPrimaryKey(ctx context.Context, name string) (*domain.PrimaryKey, error) {
	dt, err := l.GetDataSetType(ctx, name, false)
	if err != nil {
		return nil, err
	}
	return dt.PrimaryKey, nil
}

func (l *catalogLoader) GetUniqueKeys(ctx context.Context, name string) ([]*domain.UniqueKey, error) {
	dt, err := l.GetDataSetType(ctx, name, true)
	if err != nil {
		return nil, err
	}
	return dt.UniqueKeys, nil
}

func (l *catalogLoader) GetIndexes(ctx context.Context, name string) ([]*domain.Index, error) {
	dt, err := l.GetDataSetType(ctx, name, true)
	if err != nil {
		return nil, err
	}
	return dt.Indexes, nil
}

func (l *catalogLoader) GetCheckConstraints(ctx context.Context, name string) ([]*domain.CheckConstraint, error) {
	dt, err := l.GetDataSetType(ctx, name, true)
	if err != nil {
		return nil, err
	}
	return dt.CheckConstraints, nil
}

// GetExtent computes the extent of property, or of the default geometry
// property when empty.
func (l *catalogLoader) GetExtent(ctx context.Context, name, property string) (geometry.Envelope, error) {
	dt, err := l.GetDataSetType(ctx, name, false)
	if err != nil {
		return geometry.EmptyEnvelope(), err
	}
	var p *domain.Property
	if property == "" {
		p = dt.DefaultGeometryProperty()
	} else if found, ok := dt.Property(property); ok && found.IsGeometry() {
		p = found
	}
	if p == nil {
		if property == "" {
			property = "<default geometry>"
		}
		return geometry.EmptyEnvelope(), domain.NewErrPropertyNotFound(property, name)
	}
	env, err := l.reader().extent(ctx, dt, p)
	if err != nil {
		return geometry.EmptyEnvelope(), l.t.backend("extent", err)
	}
	return env, nil
}

func (l *catalogLoader) DataSetExists(ctx context.Context, name string) (bool, error) {
	names, err := l.GetDataSets(ctx)
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if strings.EqualFold(n, unqualified(name)) {
			return true, nil
		}
	}
	return false, nil
}

func (l *catalogLoader) Close() error { return nil }

var _ domain.CatalogLoader = (*catalogLoader)(nil)
