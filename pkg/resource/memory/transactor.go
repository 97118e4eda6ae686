package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/kasuganosora/geoaccess/pkg/dataaccess"
	"github.com/kasuganosora/geoaccess/pkg/geometry"
	"github.com/kasuganosora/geoaccess/pkg/logger"
	"github.com/kasuganosora/geoaccess/pkg/query"
	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
)

// scanCheckInterval is how often long scans look at the context.
const scanCheckInterval = 1024

// Transactor is a session on an Engine. Outside a transaction every command
// is applied and published on its own; inside one, commands work on a
// private fork published by Commit.
type Transactor struct {
	domain.BaseTransactor
	engine *Engine
	log    logger.Logger
	tx     *state
	lastID int64
}

func (t *Transactor) driver() domain.DataSourceType { return t.engine.driver }

func (t *Transactor) view() *state {
	if t.tx != nil {
		return t.tx
	}
	return t.engine.current()
}

func (t *Transactor) require(op domain.Operation) error {
	return t.Source.Capabilities().Require(t.driver(), op)
}

// write runs fn on the transaction state, or applies and publishes it at
// once when no transaction is active.
func (t *Transactor) write(ctx context.Context, fn func(*state) error) error {
	if t.tx != nil {
		return fn(t.tx)
	}
	work, err := t.engine.apply(ctx, fn)
	if err != nil {
		return err
	}
	t.syncCatalog(work)
	return nil
}

// syncCatalog mirrors the datasets changed in work into the owner's catalog.
func (t *Transactor) syncCatalog(work *state) {
	catalog := t.Source.Catalog()
	modified, dropped := work.changes()
	for _, name := range dropped {
		catalog.Remove(name)
	}
	for _, name := range modified {
		catalog.Put(work.tables[name].dt.Clone())
	}
}

// ==================== Transactions ====================

func (t *Transactor) Begin(ctx context.Context) error {
	if err := t.CheckOpen(); err != nil {
		return err
	}
	if err := t.require(domain.OpTransactions); err != nil {
		return err
	}
	if err := t.MarkBegin(); err != nil {
		return err
	}
	t.tx = t.engine.current().fork()
	t.log.Debug("begin transaction")
	return nil
}

func (t *Transactor) Commit(ctx context.Context) error {
	if err := t.CheckOpen(); err != nil {
		return err
	}
	if !t.IsInTransaction() {
		return domain.NewErrNoActiveTransaction(t.driver(), "Commit")
	}
	work := t.tx
	t.tx = nil
	if err := t.MarkEnd("Commit"); err != nil {
		return err
	}
	if err := t.engine.commit(ctx, work); err != nil {
		t.log.Warn("commit failed, transaction discarded: %v", err)
		return err
	}
	t.syncCatalog(work)
	t.log.Debug("commit transaction")
	return nil
}

func (t *Transactor) Rollback(ctx context.Context) error {
	if err := t.MarkEnd("Rollback"); err != nil {
		return err
	}
	t.tx = nil
	t.log.Debug("rollback transaction")
	return nil
}

// ==================== Retrieval ====================

func (t *Transactor) GetDataSet(ctx context.Context, name string, trav domain.TraverseType, access domain.AccessPolicy) (domain.DataSet, error) {
	return t.Query(ctx, query.SelectAll(name), trav, access)
}

func (t *Transactor) checkCursor(trav domain.TraverseType, access domain.AccessPolicy, name string) error {
	caps := t.Source.Capabilities()
	if trav == domain.RandomAccess && !caps.RandomAccess {
		return domain.NewErrUnsupportedOperation(t.driver(), string(domain.OpRandomAccess))
	}
	if access == domain.AccessReadWrite && caps.ReadOnly {
		return domain.NewErrReadOnly(name, "open a read-write dataset")
	}
	return nil
}

func (t *Transactor) Query(ctx context.Context, sel *query.Select, trav domain.TraverseType, access domain.AccessPolicy) (domain.DataSet, error) {
	if err := t.CheckOpen(); err != nil {
		return nil, err
	}
	names := sel.DataSetNames()
	if len(names) != 1 {
		return nil, domain.NewErrBackend(t.driver(), "query", fmt.Errorf("expected one dataset in FROM, got %d", len(names)))
	}
	if err := t.checkCursor(trav, access, names[0]); err != nil {
		return nil, err
	}
	ctx, done := t.OpContext(ctx)
	defer done()

	tbl, err := t.view().table(names[0])
	if err != nil {
		return nil, err
	}
	rows, err := t.candidates(ctx, tbl, sel.WhereExpr())
	if err != nil {
		return nil, err
	}
	return domain.SelectRows(t.driver(), tbl.dt, rows, sel, trav, access)
}

func (t *Transactor) QueryString(ctx context.Context, q string, trav domain.TraverseType, access domain.AccessPolicy) (domain.DataSet, error) {
	if err := t.require(domain.OpNativeQuery); err != nil {
		return nil, err
	}
	sel, err := query.ParseSelect(q)
	if err != nil {
		return nil, domain.NewErrBackend(t.driver(), "parse", err)
	}
	return t.Query(ctx, sel, trav, access)
}

// candidates returns the rows a filter can match: an R-tree lookup when the
// filter carries a spatial predicate against a literal, every row otherwise.
// The full filter is still evaluated on the result.
func (t *Transactor) candidates(ctx context.Context, tbl *table, where query.Expression) ([]domain.Row, error) {
	if t.engine.spatialIndex {
		if lk, ok := spatialLookup(where); ok && tbl.dt.HasProperty(lk.property) {
			idx, byID, err := tbl.spatialIndex(lk.property)
			if err != nil {
				return nil, domain.NewErrBackend(t.driver(), "index", err)
			}
			var ids []int64
			if lk.inside {
				ids = idx.SearchContained(lk.env)
			} else {
				ids = idx.SearchIntersects(lk.env)
			}
			sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
			rows := make([]domain.Row, len(ids))
			for i, id := range ids {
				rows[i] = byID[id]
			}
			t.log.Debug("spatial pushdown on %s.%s: %d of %d rows", tbl.dt.Name, lk.property, len(rows), len(tbl.rows))
			return rows, nil
		}
	}
	rows := make([]domain.Row, 0, len(tbl.rows))
	for i, r := range tbl.rows {
		if i%scanCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rows = append(rows, r.row)
	}
	return rows, nil
}

// indexLookup is an R-tree search derived from a spatial predicate.
type indexLookup struct {
	property string
	env      geometry.Envelope
	// inside: matches lie within env, not merely touch it
	inside bool
}

// spatialLookup finds a predicate ST_<rel>(property, literal) whose matches
// must intersect the literal's envelope. Conjunctions are searched; any
// other boolean form disables the lookup.
func spatialLookup(expr query.Expression) (indexLookup, bool) {
	switch e := expr.(type) {
	case *query.BinaryExpr:
		if e.Op != query.OpAnd {
			return indexLookup{}, false
		}
		if p, ok := spatialLookup(e.Left); ok {
			return p, true
		}
		return spatialLookup(e.Right)
	case *query.Function:
		rel, ok := geometry.RelationFromFunction(e.Name)
		if !ok || rel == geometry.Disjoint || len(e.Args) != 2 {
			return indexLookup{}, false
		}
		prop, ok := e.Args[0].(*query.PropertyName)
		if !ok {
			return indexLookup{}, false
		}
		p := indexLookup{
			property: prop.Name,
			inside:   rel == geometry.Within || rel == geometry.CoveredBy || rel == geometry.Equals,
		}
		switch lit := e.Args[1].(type) {
		case *query.LiteralEnvelope:
			p.env = lit.Envelope
			return p, true
		case *query.LiteralGeom:
			if env, ok := geometry.EnvelopeOf(lit.Geom); ok {
				p.env = env
				return p, true
			}
		}
	}
	return indexLookup{}, false
}

// ==================== Commands ====================

func (t *Transactor) Execute(ctx context.Context, cmd query.Command) (int64, error) {
	if err := t.CheckOpen(); err != nil {
		return 0, err
	}
	if err := t.require(domain.OpExecute); err != nil {
		return 0, err
	}
	ctx, done := t.OpContext(ctx)
	defer done()

	var affected int64
	err := t.write(ctx, func(st *state) error {
		tbl, err := st.writable(cmd.TargetDataSet())
		if err != nil {
			return err
		}
		switch c := cmd.(type) {
		case *query.Insert:
			affected, err = t.insert(tbl, c)
		case *query.Update:
			affected, err = t.update(ctx, tbl, c)
		case *query.Delete:
			affected, err = t.delete(ctx, tbl, c)
		default:
			err = fmt.Errorf("unsupported command %T", cmd)
		}
		return err
	})
	if err != nil {
		if domain.IsDataSetNotFound(err) || domain.IsPropertyNotFound(err) || domain.IsBackendError(err) {
			return 0, err
		}
		return 0, domain.NewErrBackend(t.driver(), "execute", err)
	}
	return affected, nil
}

func (t *Transactor) ExecuteString(ctx context.Context, cmd string) (int64, error) {
	if err := t.require(domain.OpNativeQuery); err != nil {
		return 0, err
	}
	c, err := query.ParseCommand(cmd)
	if err != nil {
		return 0, domain.NewErrBackend(t.driver(), "parse", err)
	}
	return t.Execute(ctx, c)
}

func (t *Transactor) insert(tbl *table, c *query.Insert) (int64, error) {
	var n int64
	for _, values := range c.Values {
		if len(c.Columns) > 0 && len(values) != len(c.Columns) {
			return n, fmt.Errorf("column count %d does not match value count %d", len(c.Columns), len(values))
		}
		cols := c.Columns
		if len(cols) == 0 {
			cols = tbl.dt.PropertyNames()
			if len(values) != len(cols) {
				return n, fmt.Errorf("%s has %d properties, got %d values", tbl.dt.Name, len(cols), len(values))
			}
		}
		row := make(domain.Row, len(cols))
		for i, col := range cols {
			v, err := query.Eval(values[i], query.MapRecord{})
			if err != nil {
				return n, err
			}
			row[col] = v
		}
		generated, err := tbl.insert(row)
		if err != nil {
			return n, err
		}
		if generated != 0 {
			t.lastID = generated
		}
		n++
	}
	return n, nil
}

func (t *Transactor) update(ctx context.Context, tbl *table, c *query.Update) (int64, error) {
	for _, a := range c.Assignments {
		if !tbl.dt.HasProperty(a.Column) {
			return 0, domain.NewErrPropertyNotFound(a.Column, tbl.dt.Name)
		}
	}
	var where query.Expression
	if c.Where != nil {
		where = c.Where.Expr
	}

	var n int64
	for i := range tbl.rows {
		if i%scanCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return n, err
			}
		}
		old := tbl.rows[i].row
		ok, err := query.Match(where, query.MapRecord(old))
		if err != nil {
			return n, err
		}
		if !ok {
			continue
		}
		next := old.Clone()
		for _, a := range c.Assignments {
			v, err := query.Eval(a.Value, query.MapRecord(old))
			if err != nil {
				return n, err
			}
			p, _ := tbl.dt.Property(a.Column)
			if next[a.Column], err = domain.ConvertForProperty(p, v); err != nil {
				return n, err
			}
		}
		if err := tbl.checkRow(next, i); err != nil {
			return n, err
		}
		tbl.rows[i].row = next
		n++
	}
	if n > 0 {
		tbl.invalidate()
	}
	return n, nil
}

func (t *Transactor) delete(ctx context.Context, tbl *table, c *query.Delete) (int64, error) {
	var where query.Expression
	if c.Where != nil {
		where = c.Where.Expr
	}
	kept := tbl.rows[:0:0]
	for i, r := range tbl.rows {
		if i%scanCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
		}
		ok, err := query.Match(where, query.MapRecord(r.row))
		if err != nil {
			return 0, err
		}
		if !ok {
			kept = append(kept, r)
		}
	}
	n := int64(len(tbl.rows) - len(kept))
	if n > 0 {
		removed := make([]storedRow, 0, n)
		j := 0
		for _, r := range tbl.rows {
			if j < len(kept) && kept[j].id == r.id {
				j++
				continue
			}
			removed = append(removed, r)
		}
		tbl.rows = kept
		tbl.unindex(removed)
	}
	return n, nil
}

// ==================== Helpers ====================

func (t *Transactor) Prepared(ctx context.Context, name string) (domain.PreparedQuery, error) {
	if err := t.require(domain.OpPreparedQuery); err != nil {
		return nil, err
	}
	return dataaccess.NewPreparedQuery(t, name), nil
}

func (t *Transactor) BatchExecutor(ctx context.Context) (domain.BatchExecutor, error) {
	if err := t.require(domain.OpBatchExecutor); err != nil {
		return nil, err
	}
	return dataaccess.NewBatchExecutor(t), nil
}

func (t *Transactor) CatalogLoader(ctx context.Context) (domain.CatalogLoader, error) {
	if err := t.CheckOpen(); err != nil {
		return nil, err
	}
	return &catalogLoader{SchemaCatalogLoader: domain.NewSchemaCatalogLoader(schemaOf{t}, t), t: t}, nil
}

func (t *Transactor) DataSetTypePersistence(ctx context.Context) (domain.DataSetTypePersistence, error) {
	if err := t.require(domain.OpDataSetTypePersistence); err != nil {
		return nil, err
	}
	return &typePersistence{t: t}, nil
}

func (t *Transactor) DataSetPersistence(ctx context.Context) (domain.DataSetPersistence, error) {
	if err := t.require(domain.OpDataSetPersistence); err != nil {
		return nil, err
	}
	return dataaccess.NewDataSetPersistence(t), nil
}

func (t *Transactor) LastInsertID() int64 { return t.lastID }

// Close rolls back an open transaction.
func (t *Transactor) Close(ctx context.Context) error {
	if t.IsInTransaction() {
		return t.Rollback(ctx)
	}
	return nil
}
