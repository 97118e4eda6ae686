package dataaccess

import (
	"context"
	"errors"
	"fmt"

	"github.com/kasuganosora/geoaccess/pkg/query"
	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
)

// Prepared is a PreparedQuery for drivers that evaluate the portable object
// model. The statement is parsed once; each run binds the current
// arguments into a copy and hands it to Query or Execute.
type Prepared struct {
	name  string
	t     domain.Transactor
	stmt  query.Statement
	args  []interface{}
	bound []bool
}

// NewPreparedQuery 创建预编译语句
func NewPreparedQuery(t domain.Transactor, name string) *Prepared {
	return &Prepared{name: name, t: t}
}

func (p *Prepared) Name() string { return p.name }

func (p *Prepared) Prepare(ctx context.Context, q string) error {
	stmt, err := query.Parse(q)
	if err != nil {
		return err
	}
	n := query.CountParams(stmt)
	p.stmt = stmt
	p.args = make([]interface{}, n)
	p.bound = make([]bool, n)
	return nil
}

// Bind sets parameter i, counted from zero in text order.
func (p *Prepared) Bind(i int, v interface{}) error {
	if p.stmt == nil {
		return errors.New("statement is not prepared")
	}
	if i < 0 || i >= len(p.args) {
		return fmt.Errorf("parameter index %d out of range [0, %d)", i, len(p.args))
	}
	p.args[i] = v
	p.bound[i] = true
	return nil
}

func (p *Prepared) statement() (query.Statement, error) {
	if p.stmt == nil {
		return nil, errors.New("statement is not prepared")
	}
	for i, ok := range p.bound {
		if !ok {
			return nil, fmt.Errorf("parameter %d is not bound", i)
		}
	}
	return query.Bind(p.stmt, p.args)
}

func (p *Prepared) Query(ctx context.Context, trav domain.TraverseType, access domain.AccessPolicy) (domain.DataSet, error) {
	stmt, err := p.statement()
	if err != nil {
		return nil, err
	}
	sel, ok := stmt.(*query.Select)
	if !ok {
		return nil, fmt.Errorf("prepared statement %s is not a query", p.name)
	}
	return p.t.Query(ctx, sel, trav, access)
}

func (p *Prepared) Execute(ctx context.Context) (int64, error) {
	stmt, err := p.statement()
	if err != nil {
		return 0, err
	}
	cmd, ok := stmt.(query.Command)
	if !ok {
		return 0, fmt.Errorf("prepared statement %s is not a command", p.name)
	}
	return p.t.Execute(ctx, cmd)
}

func (p *Prepared) Close() error {
	p.stmt = nil
	p.args = nil
	p.bound = nil
	return nil
}
