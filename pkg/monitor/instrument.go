package monitor

import (
	"context"
	"strings"
	"time"

	"github.com/kasuganosora/geoaccess/pkg/geometry"
	"github.com/kasuganosora/geoaccess/pkg/logger"
	"github.com/kasuganosora/geoaccess/pkg/query"
	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
	"github.com/twpayne/go-geom"
)

// Monitor 组合指标与慢操作日志，并包装数据源
type Monitor struct {
	Metrics *MetricsCollector
	Slow    *SlowOperationLog
	log     logger.Logger
}

// New 创建监控器
func New(slowThreshold time.Duration, maxSlowEntries int) *Monitor {
	return &Monitor{
		Metrics: NewMetricsCollector(),
		Slow:    NewSlowOperationLog(slowThreshold, maxSlowEntries),
		log:     logger.Named("monitor"),
	}
}

type observation struct {
	driver    domain.DataSourceType
	op        string
	dataset   string
	statement string
	start     time.Time
	rows      int64
}

func (m *Monitor) observe(o observation, err error) {
	d := time.Since(o.start)
	m.Metrics.RecordOperation(o.driver, o.op, o.dataset, d, err)
	m.Metrics.RecordRows(o.driver, o.rows)
	if !m.Slow.IsSlow(d) {
		return
	}
	m.Metrics.RecordSlow(o.driver, o.op)
	entry := SlowOperation{
		Driver:    o.driver,
		Operation: o.op,
		DataSet:   o.dataset,
		Statement: o.statement,
		Duration:  d,
		RowCount:  o.rows,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	m.Slow.Record(entry)
	m.log.Warn("slow %s %s on %s: %v", o.driver, o.op, o.dataset, d)
}

// WrapSource 返回记录指标的数据源，其 Transactor 均被包装
func (m *Monitor) WrapSource(ds domain.DataSource) domain.DataSource {
	if w, ok := ds.(*Source); ok && w.mon == m {
		return w
	}
	return &Source{DataSource: ds, mon: m}
}

// WrapTransactor 包装单个 Transactor
func (m *Monitor) WrapTransactor(t domain.Transactor) domain.Transactor {
	return &Transactor{Transactor: t, mon: m, driver: t.DataSource().Type()}
}

// Source 带监控的数据源
type Source struct {
	domain.DataSource
	mon *Monitor
}

// Unwrap 返回被包装的数据源
func (s *Source) Unwrap() domain.DataSource { return s.DataSource }

func (s *Source) Open(ctx context.Context) error {
	o := observation{driver: s.Type(), op: "Open", start: time.Now()}
	err := s.DataSource.Open(ctx)
	s.mon.observe(o, err)
	return err
}

func (s *Source) Transactor(ctx context.Context) (domain.Transactor, error) {
	t, err := s.DataSource.Transactor(ctx)
	if err != nil {
		return nil, err
	}
	return &Transactor{Transactor: t, mon: s.mon, driver: s.Type(), source: s}, nil
}

// Transactor 带监控的 Transactor
type Transactor struct {
	domain.Transactor
	mon    *Monitor
	driver domain.DataSourceType
	source domain.DataSource
	inTx   bool
}

func (t *Transactor) begin(op, dataset, statement string) observation {
	return observation{driver: t.driver, op: op, dataset: dataset, statement: statement, start: time.Now()}
}

// settle 在事务可能结束后同步活跃事务计数
func (t *Transactor) settle() {
	if t.inTx && !t.Transactor.IsInTransaction() {
		t.inTx = false
		t.mon.Metrics.EndTransaction(t.driver)
	}
}

func (t *Transactor) DataSource() domain.DataSource {
	if t.source != nil {
		return t.source
	}
	return t.Transactor.DataSource()
}

func (t *Transactor) Begin(ctx context.Context) error {
	o := t.begin("Begin", "", "")
	err := t.Transactor.Begin(ctx)
	t.mon.observe(o, err)
	if err == nil && !t.inTx {
		t.inTx = true
		t.mon.Metrics.BeginTransaction(t.driver)
	}
	return err
}

func (t *Transactor) Commit(ctx context.Context) error {
	o := t.begin("Commit", "", "")
	err := t.Transactor.Commit(ctx)
	t.mon.observe(o, err)
	t.settle()
	return err
}

func (t *Transactor) Rollback(ctx context.Context) error {
	o := t.begin("Rollback", "", "")
	err := t.Transactor.Rollback(ctx)
	t.mon.observe(o, err)
	t.settle()
	return err
}

func (t *Transactor) GetDataSet(ctx context.Context, name string, trav domain.TraverseType, access domain.AccessPolicy) (domain.DataSet, error) {
	o := t.begin("GetDataSet", name, "")
	ds, err := t.Transactor.GetDataSet(ctx, name, trav, access)
	t.mon.observe(o, err)
	return ds, err
}

func (t *Transactor) GetDataSetByEnvelope(ctx context.Context, name, property string, env geometry.Envelope, rel geometry.SpatialRelation, trav domain.TraverseType, access domain.AccessPolicy) (domain.DataSet, error) {
	o := t.begin("GetDataSetByEnvelope", name, env.BBox())
	ds, err := t.Transactor.GetDataSetByEnvelope(ctx, name, property, env, rel, trav, access)
	t.mon.observe(o, err)
	return ds, err
}

func (t *Transactor) GetDataSetByGeometry(ctx context.Context, name, property string, g geom.T, rel geometry.SpatialRelation, trav domain.TraverseType, access domain.AccessPolicy) (domain.DataSet, error) {
	o := t.begin("GetDataSetByGeometry", name, "")
	ds, err := t.Transactor.GetDataSetByGeometry(ctx, name, property, g, rel, trav, access)
	t.mon.observe(o, err)
	return ds, err
}

func (t *Transactor) Query(ctx context.Context, sel *query.Select, trav domain.TraverseType, access domain.AccessPolicy) (domain.DataSet, error) {
	var stmt string
	if sel != nil {
		stmt = sel.String()
	}
	o := t.begin("Query", firstDataSet(sel), stmt)
	ds, err := t.Transactor.Query(ctx, sel, trav, access)
	t.mon.observe(o, err)
	return ds, err
}

func (t *Transactor) QueryString(ctx context.Context, q string, trav domain.TraverseType, access domain.AccessPolicy) (domain.DataSet, error) {
	o := t.begin("QueryString", "", q)
	ds, err := t.Transactor.QueryString(ctx, q, trav, access)
	t.mon.observe(o, err)
	return ds, err
}

func (t *Transactor) Execute(ctx context.Context, cmd query.Command) (int64, error) {
	var name string
	if cmd != nil {
		name = cmd.TargetDataSet()
	}
	o := t.begin("Execute", name, "")
	n, err := t.Transactor.Execute(ctx, cmd)
	o.rows = n
	t.mon.observe(o, err)
	return n, err
}

func (t *Transactor) ExecuteString(ctx context.Context, cmd string) (int64, error) {
	o := t.begin("ExecuteString", "", strings.TrimSpace(cmd))
	n, err := t.Transactor.ExecuteString(ctx, cmd)
	o.rows = n
	t.mon.observe(o, err)
	return n, err
}

func (t *Transactor) DataSetPersistence(ctx context.Context) (domain.DataSetPersistence, error) {
	p, err := t.Transactor.DataSetPersistence(ctx)
	if err != nil {
		return nil, err
	}
	return &persistence{DataSetPersistence: p, t: t}, nil
}

func (t *Transactor) Close(ctx context.Context) error {
	err := t.Transactor.Close(ctx)
	if t.inTx {
		t.inTx = false
		t.mon.Metrics.EndTransaction(t.driver)
	}
	return err
}

type persistence struct {
	domain.DataSetPersistence
	t *Transactor
}

func (p *persistence) Add(ctx context.Context, name string, rows []domain.Row) (int64, error) {
	o := p.t.begin("Add", name, "")
	n, err := p.DataSetPersistence.Add(ctx, name, rows)
	o.rows = n
	p.t.mon.observe(o, err)
	return n, err
}

func (p *persistence) Update(ctx context.Context, name string, values domain.Row, where query.Expression) (int64, error) {
	o := p.t.begin("Update", name, "")
	n, err := p.DataSetPersistence.Update(ctx, name, values, where)
	o.rows = n
	p.t.mon.observe(o, err)
	return n, err
}

func (p *persistence) Remove(ctx context.Context, name string, where query.Expression) (int64, error) {
	o := p.t.begin("Remove", name, "")
	n, err := p.DataSetPersistence.Remove(ctx, name, where)
	o.rows = n
	p.t.mon.observe(o, err)
	return n, err
}

func firstDataSet(sel *query.Select) string {
	if sel == nil {
		return ""
	}
	if names := sel.DataSetNames(); len(names) > 0 {
		return names[0]
	}
	return ""
}

var (
	_ domain.DataSource = (*Source)(nil)
	_ domain.Transactor = (*Transactor)(nil)
)
