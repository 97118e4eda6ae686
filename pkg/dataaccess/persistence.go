package dataaccess

import (
	"context"
	"errors"
	"sort"

	"github.com/kasuganosora/geoaccess/pkg/query"
	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
	"github.com/twpayne/go-geom"
)

// CommandPersistence implements DataSetPersistence by issuing INSERT,
// UPDATE and DELETE commands through the transactor's Execute.
type CommandPersistence struct {
	t domain.Transactor
}

// NewDataSetPersistence 创建基于命令的数据持久化
func NewDataSetPersistence(t domain.Transactor) *CommandPersistence {
	return &CommandPersistence{t: t}
}

func valueExpr(v interface{}) query.Expression {
	if g, ok := v.(geom.T); ok {
		return &query.LiteralGeom{Geom: g}
	}
	return query.Lit(v)
}

// columnsOf orders the keys of r by the catalog type when known and
// alphabetically otherwise.
func (p *CommandPersistence) columnsOf(name string, r domain.Row) []string {
	var cols []string
	if ds := p.t.DataSource(); ds != nil {
		if dt, ok := ds.Catalog().Get(name); ok {
			for _, pn := range dt.PropertyNames() {
				if _, present := r[pn]; present {
					cols = append(cols, pn)
				}
			}
			if len(cols) == len(r) {
				return cols
			}
		}
	}
	cols = cols[:0]
	for k := range r {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// Add inserts rows one command at a time so LastInsertID stays meaningful.
func (p *CommandPersistence) Add(ctx context.Context, name string, rows []domain.Row) (int64, error) {
	var total int64
	for _, r := range rows {
		if len(r) == 0 {
			continue
		}
		cols := p.columnsOf(name, r)
		values := make([]query.Expression, len(cols))
		for i, c := range cols {
			values[i] = valueExpr(r[c])
		}
		n, err := p.t.Execute(ctx, &query.Insert{
			DataSet: &query.DataSetName{Name: name},
			Columns: cols,
			Values:  [][]query.Expression{values},
		})
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (p *CommandPersistence) Update(ctx context.Context, name string, values domain.Row, where query.Expression) (int64, error) {
	if len(values) == 0 {
		return 0, errors.New("no values to update")
	}
	cols := make([]string, 0, len(values))
	for k := range values {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	assignments := make([]query.Assignment, len(cols))
	for i, c := range cols {
		assignments[i] = query.Assignment{Column: c, Value: valueExpr(values[c])}
	}
	return p.t.Execute(ctx, &query.Update{
		DataSet:     &query.DataSetName{Name: name},
		Assignments: assignments,
		Where:       query.NewWhere(where),
	})
}

func (p *CommandPersistence) Remove(ctx context.Context, name string, where query.Expression) (int64, error) {
	return p.t.Execute(ctx, &query.Delete{
		DataSet: &query.DataSetName{Name: name},
		Where:   query.NewWhere(where),
	})
}

func (p *CommandPersistence) Close() error { return nil }
