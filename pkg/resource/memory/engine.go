package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/kasuganosora/geoaccess/pkg/logger"
	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
)

// TableSnapshot is the committed content of one dataset.
type TableSnapshot struct {
	Type *domain.DataSetType
	Rows []domain.Row
}

// CommitHook persists a committed state. It runs with the engine locked;
// returning an error aborts the commit.
type CommitHook func(ctx context.Context, tables []TableSnapshot) error

// Option configures an Engine.
type Option func(*Engine)

// WithoutSpatialIndex disables R-tree pushdown: spatial filters are
// evaluated row by row.
func WithoutSpatialIndex() Option {
	return func(e *Engine) { e.spatialIndex = false }
}

// WithCommitHook sets the hook run on every commit.
func WithCommitHook(hook CommitHook) Option {
	return func(e *Engine) { e.hook = hook }
}

// WithLogger overrides the engine logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// Engine is the in-memory storage shared by the memory driver and the file
// drivers that load their content into memory. Committed states are
// immutable; readers take the current one without further locking.
type Engine struct {
	driver       domain.DataSourceType
	spatialIndex bool
	hook         CommitHook
	log          logger.Logger

	mu sync.RWMutex
	st *state
}

// NewEngine creates an empty engine reporting errors as driver.
func NewEngine(driver domain.DataSourceType, opts ...Option) *Engine {
	e := &Engine{
		driver:       driver,
		spatialIndex: true,
		st:           newState(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logger.Named(strings.ToLower(string(driver)))
	}
	return e
}

// Driver 引擎所属驱动类型
func (e *Engine) Driver() domain.DataSourceType { return e.driver }

// SpatialIndexEnabled reports whether spatial filters use the R-tree.
func (e *Engine) SpatialIndexEnabled() bool { return e.spatialIndex }

func (e *Engine) current() *state {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.st
}

// Load replaces dataset dt.Name with rows, bypassing key checks and the
// commit hook. File drivers use it to populate the engine on Open.
func (e *Engine) Load(dt *domain.DataSetType, rows []domain.Row) error {
	if err := dt.Validate(); err != nil {
		return err
	}
	t := newTable(dt.Clone())
	if err := t.load(rows); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	next := e.st.fork()
	next.put(t)
	e.st = next.seal()
	return nil
}

// Reset drops every dataset.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.st = newState()
}

// Names lists the committed datasets in creation order.
func (e *Engine) Names() []string {
	return e.current().names()
}

// Tables returns the committed content of every dataset.
func (e *Engine) Tables() []TableSnapshot {
	return snapshotOf(e.current())
}

func snapshotOf(s *state) []TableSnapshot {
	out := make([]TableSnapshot, 0, len(s.order))
	for _, name := range s.order {
		t := s.tables[name]
		out = append(out, TableSnapshot{Type: t.dt, Rows: t.allRows()})
	}
	return out
}

// FillCatalog replaces the content of c with the committed types.
func (e *Engine) FillCatalog(c *domain.Catalog) {
	s := e.current()
	c.Clear()
	for _, name := range s.order {
		c.Put(s.tables[name].dt.Clone())
	}
}

// apply runs fn on a fork of the committed state and publishes it.
func (e *Engine) apply(ctx context.Context, fn func(*state) error) (*state, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	work := e.st.fork()
	if err := fn(work); err != nil {
		return nil, err
	}
	return work, e.publish(ctx, work)
}

// commit publishes the changes of a transaction's working state.
func (e *Engine) commit(ctx context.Context, work *state) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.publish(ctx, work)
}

func (e *Engine) publish(ctx context.Context, work *state) error {
	next, err := e.st.merge(work)
	if err != nil {
		return domain.NewErrBackend(e.driver, "commit", err)
	}
	if e.hook != nil {
		if err := e.hook(ctx, snapshotOf(next)); err != nil {
			return domain.NewErrBackend(e.driver, "commit", err)
		}
	}
	e.st = next
	return nil
}

// NewTransactor creates a session on the engine. owner is the DataSource
// reported by the transactor and whose catalog and capabilities apply.
func (e *Engine) NewTransactor(owner domain.DataSource) *Transactor {
	t := &Transactor{engine: e, log: e.log}
	t.Init(t, owner)
	return t
}
