package badger

import (
	"context"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/kasuganosora/geoaccess/pkg/dataaccess"
	"github.com/kasuganosora/geoaccess/pkg/logger"
	"github.com/kasuganosora/geoaccess/pkg/query"
	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
)

// Transactor is a session on a Badger database. Outside a transaction each
// command runs in its own db.Update; Begin opens a read-write Badger
// transaction that Commit publishes. Concurrent transactions writing the
// same keys fail at Commit with a conflict.
type Transactor struct {
	domain.BaseTransactor
	src    *Source
	db     *badger.DB
	st     *store
	log    logger.Logger
	txn    *badger.Txn
	lastID int64
}

func newTransactor(src *Source, db *badger.DB) *Transactor {
	t := &Transactor{src: src, db: db, st: src.store, log: src.log}
	t.Init(t, src)
	return t
}

func (t *Transactor) driver() domain.DataSourceType { return domain.DataSourceTypeBadger }

func (t *Transactor) require(op domain.Operation) error {
	return t.Source.Capabilities().Require(t.driver(), op)
}

func (t *Transactor) view(fn func(*badger.Txn) error) error {
	if t.txn != nil {
		return fn(t.txn)
	}
	return t.db.View(fn)
}

func (t *Transactor) update(fn func(*badger.Txn) error) error {
	if t.txn != nil {
		return fn(t.txn)
	}
	return t.db.Update(fn)
}

// alter is update for schema changes; the catalog follows autocommitted
// changes at once and transactional ones at Commit.
func (t *Transactor) alter(fn func(*badger.Txn) error) error {
	if err := t.update(fn); err != nil {
		return err
	}
	if t.txn == nil {
		return t.src.refreshCatalog()
	}
	return nil
}

// ==================== Transactions ====================

func (t *Transactor) Begin(ctx context.Context) error {
	if err := t.CheckOpen(); err != nil {
		return err
	}
	if err := t.MarkBegin(); err != nil {
		return err
	}
	t.txn = t.db.NewTransaction(true)
	t.log.Debug("begin transaction")
	return nil
}

// Commit publishes the transaction. A failed commit still ends it.
func (t *Transactor) Commit(ctx context.Context) error {
	if err := t.CheckOpen(); err != nil {
		return err
	}
	if !t.IsInTransaction() {
		return domain.NewErrNoActiveTransaction(t.driver(), "Commit")
	}
	txn := t.txn
	t.txn = nil
	_ = t.MarkEnd("Commit")
	if err := txn.Commit(); err != nil {
		txn.Discard()
		t.log.Warn("commit failed: %v", err)
		return domain.NewErrBackend(t.driver(), "commit", err)
	}
	t.log.Debug("commit transaction")
	return t.src.refreshCatalog()
}

func (t *Transactor) Rollback(ctx context.Context) error {
	if err := t.MarkEnd("Rollback"); err != nil {
		return err
	}
	t.txn.Discard()
	t.txn = nil
	t.log.Debug("rollback transaction")
	return nil
}

// ==================== Retrieval ====================

func (t *Transactor) GetDataSet(ctx context.Context, name string, trav domain.TraverseType, access domain.AccessPolicy) (domain.DataSet, error) {
	return t.Query(ctx, query.SelectAll(name), trav, access)
}

func (t *Transactor) Query(ctx context.Context, sel *query.Select, trav domain.TraverseType, access domain.AccessPolicy) (domain.DataSet, error) {
	if err := t.CheckOpen(); err != nil {
		return nil, err
	}
	names := sel.DataSetNames()
	if len(names) != 1 {
		return nil, domain.NewErrBackend(t.driver(), "query", fmt.Errorf("expected one dataset in FROM, got %d", len(names)))
	}
	ctx, done := t.OpContext(ctx)
	defer done()

	var (
		dt   *domain.DataSetType
		rows []domain.Row
	)
	err := t.view(func(txn *badger.Txn) error {
		var err error
		if dt, err = t.st.getType(txn, names[0]); err != nil {
			return err
		}
		rows, err = t.candidates(ctx, txn, dt, sel.WhereExpr())
		return err
	})
	if err != nil {
		if domain.IsDataSetNotFound(err) {
			return nil, err
		}
		return nil, domain.NewErrBackend(t.driver(), "query", err)
	}
	return domain.SelectRows(t.driver(), dt, rows, sel, trav, access)
}

func (t *Transactor) QueryString(ctx context.Context, q string, trav domain.TraverseType, access domain.AccessPolicy) (domain.DataSet, error) {
	sel, err := query.ParseSelect(q)
	if err != nil {
		return nil, domain.NewErrBackend(t.driver(), "parse", err)
	}
	return t.Query(ctx, sel, trav, access)
}

// candidates returns the rows a filter can match: a key entry lookup when
// the filter fixes a single-property key, every row otherwise.
func (t *Transactor) candidates(ctx context.Context, txn *badger.Txn, dt *domain.DataSetType, where query.Expression) ([]domain.Row, error) {
	if key, value, ok := keyLookup(dt, where); ok {
		r, found, err := t.st.lookup(txn, dt, key, value)
		if err != nil {
			return nil, err
		}
		t.log.Debug("key lookup on %s.%s", dt.Name, key[0])
		if !found {
			return nil, nil
		}
		return []domain.Row{r.row}, nil
	}
	stored, err := t.st.scan(ctx, txn, dt)
	if err != nil {
		return nil, err
	}
	rows := make([]domain.Row, len(stored))
	for i, r := range stored {
		rows[i] = r.row
	}
	return rows, nil
}

// keyLookup finds a conjunct "property = literal" on a single-property key.
func keyLookup(dt *domain.DataSetType, expr query.Expression) ([]string, string, bool) {
	e, ok := expr.(*query.BinaryExpr)
	if !ok {
		return nil, "", false
	}
	switch e.Op {
	case query.OpAnd:
		if key, v, ok := keyLookup(dt, e.Left); ok {
			return key, v, true
		}
		return keyLookup(dt, e.Right)
	case query.OpEQ:
	default:
		return nil, "", false
	}
	prop, pok := e.Left.(*query.PropertyName)
	lit, lok := e.Right.(*query.Literal)
	if !pok || !lok {
		prop, pok = e.Right.(*query.PropertyName)
		lit, lok = e.Left.(*query.Literal)
	}
	if !pok || !lok || lit.Value == nil {
		return nil, "", false
	}
	p, found := dt.Property(prop.Name)
	if !found || p.IsGeometry() {
		return nil, "", false
	}
	for _, key := range keys(dt) {
		if len(key) != 1 || key[0] != p.Name {
			continue
		}
		v, err := domain.ConvertForProperty(p, lit.Value)
		if err != nil {
			return nil, "", false
		}
		return key, keyValue(domain.Row{p.Name: v}, key), true
	}
	return nil, "", false
}

// ==================== Commands ====================

func (t *Transactor) Execute(ctx context.Context, cmd query.Command) (int64, error) {
	if err := t.CheckOpen(); err != nil {
		return 0, err
	}
	ctx, done := t.OpContext(ctx)
	defer done()

	var affected int64
	err := t.update(func(txn *badger.Txn) error {
		affected = 0
		dt, err := t.st.getType(txn, cmd.TargetDataSet())
		if err != nil {
			return err
		}
		switch c := cmd.(type) {
		case *query.Insert:
			affected, err = t.insert(txn, dt, c)
		case *query.Update:
			affected, err = t.updateRows(ctx, txn, dt, c)
		case *query.Delete:
			affected, err = t.deleteRows(ctx, txn, dt, c)
		default:
			err = fmt.Errorf("unsupported command %T", cmd)
		}
		return err
	})
	if err != nil {
		if domain.IsDataSetNotFound(err) || domain.IsPropertyNotFound(err) {
			return 0, err
		}
		return 0, domain.NewErrBackend(t.driver(), "execute", err)
	}
	return affected, nil
}

func (t *Transactor) ExecuteString(ctx context.Context, cmd string) (int64, error) {
	c, err := query.ParseCommand(cmd)
	if err != nil {
		return 0, domain.NewErrBackend(t.driver(), "parse", err)
	}
	return t.Execute(ctx, c)
}

func (t *Transactor) insert(txn *badger.Txn, dt *domain.DataSetType, c *query.Insert) (int64, error) {
	var n int64
	for _, values := range c.Values {
		cols := c.Columns
		if len(cols) == 0 {
			cols = dt.PropertyNames()
		}
		if len(values) != len(cols) {
			return n, fmt.Errorf("column count %d does not match value count %d", len(cols), len(values))
		}
		row := make(domain.Row, len(cols))
		for i, col := range cols {
			v, err := query.Eval(values[i], query.MapRecord{})
			if err != nil {
				return n, err
			}
			row[col] = v
		}
		generated, err := t.st.insert(txn, dt, row)
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

// matching scans dt and keeps the rows where matches.
func (t *Transactor) matching(ctx context.Context, txn *badger.Txn, dt *domain.DataSetType, where *query.Where) ([]storedRow, error) {
	var expr query.Expression
	if where != nil {
		expr = where.Expr
	}
	all, err := t.st.scan(ctx, txn, dt)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, r := range all {
		ok, err := query.Match(expr, query.MapRecord(r.row))
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (t *Transactor) updateRows(ctx context.Context, txn *badger.Txn, dt *domain.DataSetType, c *query.Update) (int64, error) {
	for _, a := range c.Assignments {
		if !dt.HasProperty(a.Column) {
			return 0, domain.NewErrPropertyNotFound(a.Column, dt.Name)
		}
	}
	rows, err := t.matching(ctx, txn, dt, c.Where)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, r := range rows {
		next := r.row.Clone()
		for _, a := range c.Assignments {
			v, err := query.Eval(a.Value, query.MapRecord(r.row))
			if err != nil {
				return n, err
			}
			p, _ := dt.Property(a.Column)
			if next[a.Column], err = domain.ConvertForProperty(p, v); err != nil {
				return n, err
			}
		}
		if err := t.st.replace(txn, dt, r.id, r.row, next); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (t *Transactor) deleteRows(ctx context.Context, txn *badger.Txn, dt *domain.DataSetType, c *query.Delete) (int64, error) {
	rows, err := t.matching(ctx, txn, dt, c.Where)
	if err != nil {
		return 0, err
	}
	for _, r := range rows {
		if err := t.st.remove(txn, dt, r.id, r.row); err != nil {
			return 0, err
		}
	}
	return int64(len(rows)), nil
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
	return domain.NewSchemaCatalogLoader(schemaOf{t}, t), nil
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

// Close rolls back an open transaction.
func (t *Transactor) Close(ctx context.Context) error {
	if t.IsInTransaction() {
		return t.Rollback(ctx)
	}
	return nil
}
