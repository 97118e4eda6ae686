package domain

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/kasuganosora/geoaccess/pkg/geometry"
	"github.com/kasuganosora/geoaccess/pkg/query"
	"github.com/twpayne/go-geom"
)

// ==================== BaseDataSource ====================

// BaseDataSource holds the state every driver shares: identity, connection
// info, capabilities, catalog and the open flag. Drivers embed it and
// implement Open, Close, IsValid and Transactor.
type BaseDataSource struct {
	id      string
	driver  DataSourceType
	caps    Capabilities
	catalog *Catalog

	mu     sync.RWMutex
	info   ConnectionInfo
	opened bool
}

// NewBaseDataSource creates the shared state with a fresh id.
func NewBaseDataSource(driver DataSourceType, info ConnectionInfo, caps Capabilities) *BaseDataSource {
	if info == nil {
		info = ConnectionInfo{}
	}
	return &BaseDataSource{
		id:      uuid.NewString(),
		driver:  driver,
		caps:    caps,
		catalog: NewCatalog(),
		info:    info.Clone(),
	}
}

func (b *BaseDataSource) ID() string                 { return b.id }
func (b *BaseDataSource) Type() DataSourceType       { return b.driver }
func (b *BaseDataSource) Capabilities() Capabilities { return b.caps }
func (b *BaseDataSource) Catalog() *Catalog          { return b.catalog }

func (b *BaseDataSource) ConnectionInfo() ConnectionInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.info.Clone()
}

func (b *BaseDataSource) SetConnectionInfo(info ConnectionInfo) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.info = info.Clone()
}

func (b *BaseDataSource) IsOpened() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.opened
}

// SetOpened flips the open flag.
func (b *BaseDataSource) SetOpened(opened bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opened = opened
}

// CheckOpen returns ErrNotOpen when the data source is closed.
func (b *BaseDataSource) CheckOpen() error {
	if !b.IsOpened() {
		return NewErrNotOpen(b.driver)
	}
	return nil
}

func (b *BaseDataSource) Exists(ctx context.Context, info ConnectionInfo) (bool, error) {
	return false, NewErrUnsupportedOperation(b.driver, "Exists")
}

func (b *BaseDataSource) Create(ctx context.Context, info ConnectionInfo) error {
	return NewErrUnsupportedOperation(b.driver, "Create")
}

func (b *BaseDataSource) Drop(ctx context.Context, info ConnectionInfo) error {
	return NewErrUnsupportedOperation(b.driver, "Drop")
}

// ==================== BaseTransactor ====================

// BaseTransactor provides the parts of Transactor that do not depend on a
// backend: local transaction state, cancellation, the default spatial filter
// composition and stubs for optional operations.
//
// Self must point at the embedding transactor so that the default spatial
// filter reaches the driver's Query and CatalogLoader.
type BaseTransactor struct {
	Self   Transactor
	Source DataSource

	inTx bool

	cancelMu sync.Mutex
	cancel   context.CancelFunc
}

// Init wires the back references.
func (b *BaseTransactor) Init(self Transactor, source DataSource) {
	b.Self = self
	b.Source = source
}

func (b *BaseTransactor) driver() DataSourceType {
	if b.Source == nil {
		return ""
	}
	return b.Source.Type()
}

func (b *BaseTransactor) DataSource() DataSource { return b.Source }

// CheckOpen fails fast once the data source has been closed.
func (b *BaseTransactor) CheckOpen() error {
	if b.Source == nil || !b.Source.IsOpened() {
		return NewErrNotOpen(b.driver())
	}
	return nil
}

func (b *BaseTransactor) IsInTransaction() bool { return b.inTx }

// MarkBegin records a started transaction.
func (b *BaseTransactor) MarkBegin() error {
	if b.inTx {
		return NewErrTransactionInProgress(b.driver())
	}
	b.inTx = true
	return nil
}

// MarkEnd records the end of the current transaction.
func (b *BaseTransactor) MarkEnd(op string) error {
	if !b.inTx {
		return NewErrNoActiveTransaction(b.driver(), op)
	}
	b.inTx = false
	return nil
}

// OpContext derives a cancellable context for one operation. The returned
// func must be called when the operation ends.
func (b *BaseTransactor) OpContext(ctx context.Context) (context.Context, func()) {
	opCtx, cancel := context.WithCancel(ctx)
	b.cancelMu.Lock()
	b.cancel = cancel
	b.cancelMu.Unlock()
	return opCtx, func() {
		b.cancelMu.Lock()
		b.cancel = nil
		b.cancelMu.Unlock()
		cancel()
	}
}

func (b *BaseTransactor) Cancel() {
	b.cancelMu.Lock()
	defer b.cancelMu.Unlock()
	if b.cancel != nil {
		b.cancel()
	}
}

// LastInsertID returns 0 for drivers without Capabilities.LastInsertID.
func (b *BaseTransactor) LastInsertID() int64 { return 0 }

// GetDataSetByEnvelope composes SELECT * FROM name WHERE ST_<rel>(property, env)
// and runs it through Self.Query.
func (b *BaseTransactor) GetDataSetByEnvelope(ctx context.Context, name, property string, env geometry.Envelope, rel geometry.SpatialRelation, trav TraverseType, access AccessPolicy) (DataSet, error) {
	p, err := b.ResolveGeometryProperty(ctx, name, property)
	if err != nil {
		return nil, err
	}
	return b.Self.Query(ctx, query.EnvelopeFilter(name, p.Name, env, p.SRID, rel), trav, access)
}

// GetDataSetByGeometry is the geometry variant of GetDataSetByEnvelope.
func (b *BaseTransactor) GetDataSetByGeometry(ctx context.Context, name, property string, g geom.T, rel geometry.SpatialRelation, trav TraverseType, access AccessPolicy) (DataSet, error) {
	p, err := b.ResolveGeometryProperty(ctx, name, property)
	if err != nil {
		return nil, err
	}
	return b.Self.Query(ctx, query.GeometryFilter(name, p.Name, g, rel), trav, access)
}

// ResolveGeometryProperty looks up property, or the default geometry
// property when empty, in the catalog or through the CatalogLoader.
func (b *BaseTransactor) ResolveGeometryProperty(ctx context.Context, name, property string) (*Property, error) {
	if err := b.CheckOpen(); err != nil {
		return nil, err
	}
	dt, ok := b.Source.Catalog().Get(name)
	if !ok {
		loader, err := b.Self.CatalogLoader(ctx)
		if err != nil {
			return nil, err
		}
		defer loader.Close()
		dt, err = loader.GetDataSetType(ctx, name, false)
		if err != nil {
			return nil, err
		}
	}
	if property == "" {
		p := dt.DefaultGeometryProperty()
		if p == nil {
			return nil, NewErrPropertyNotFound("<default geometry>", name)
		}
		return p, nil
	}
	p, ok := dt.Property(property)
	if !ok {
		return nil, NewErrPropertyNotFound(property, name)
	}
	return p, nil
}

func (b *BaseTransactor) unsupported(op string) error {
	return NewErrUnsupportedOperation(b.driver(), op)
}

func (b *BaseTransactor) Begin(ctx context.Context) error    { return b.unsupported("Begin") }
func (b *BaseTransactor) Commit(ctx context.Context) error   { return b.unsupported("Commit") }
func (b *BaseTransactor) Rollback(ctx context.Context) error { return b.unsupported("Rollback") }

func (b *BaseTransactor) QueryString(ctx context.Context, q string, trav TraverseType, access AccessPolicy) (DataSet, error) {
	return nil, b.unsupported("QueryString")
}

func (b *BaseTransactor) Execute(ctx context.Context, cmd query.Command) (int64, error) {
	return 0, b.unsupported("Execute")
}

func (b *BaseTransactor) ExecuteString(ctx context.Context, cmd string) (int64, error) {
	return 0, b.unsupported("ExecuteString")
}

func (b *BaseTransactor) Prepared(ctx context.Context, name string) (PreparedQuery, error) {
	return nil, b.unsupported("Prepared")
}

func (b *BaseTransactor) BatchExecutor(ctx context.Context) (BatchExecutor, error) {
	return nil, b.unsupported("BatchExecutor")
}

func (b *BaseTransactor) DataSetTypePersistence(ctx context.Context) (DataSetTypePersistence, error) {
	return nil, b.unsupported("DataSetTypePersistence")
}

func (b *BaseTransactor) DataSetPersistence(ctx context.Context) (DataSetPersistence, error) {
	return nil, b.unsupported("DataSetPersistence")
}

// ==================== SchemaCatalogLoader ====================

// SchemaSource supplies dataset types for drivers that keep their schema
// locally (files, key/value stores, service capabilities).
type SchemaSource interface {
	DataSetNames(ctx context.Context) ([]string, error)
	DataSetTypeOf(ctx context.Context, name string) (*DataSetType, error)
}

// SchemaCatalogLoader implements CatalogLoader over a SchemaSource. Extents
// are computed by scanning the dataset through the transactor.
type SchemaCatalogLoader struct {
	Source     SchemaSource
	Transactor Transactor
}

// NewSchemaCatalogLoader creates a loader
func NewSchemaCatalogLoader(src SchemaSource, t Transactor) *SchemaCatalogLoader {
	return &SchemaCatalogLoader{Source: src, Transactor: t}
}

func (l *SchemaCatalogLoader) GetDataSets(ctx context.Context) ([]string, error) {
	return l.Source.DataSetNames(ctx)
}

func (l *SchemaCatalogLoader) GetDataSetType(ctx context.Context, name string, full bool) (*DataSetType, error) {
	dt, err := l.Source.DataSetTypeOf(ctx, name)
	if err != nil {
		return nil, err
	}
	if !full {
		return dt.Shallow(), nil
	}
	c := dt.Clone()
	c.FullyLoaded = true
	return c, nil
}

func (l *SchemaCatalogLoader) GetProperties(ctx context.Context, name string) ([]*Property, error) {
	dt, err := l.GetDataSetType(ctx, name, false)
	if err != nil {
		return nil, err
	}
	return dt.Properties, nil
}

func (l *SchemaCatalogLoader) GetPrimaryKey(ctx context.Context, name string) (*PrimaryKey, error) {
	dt, err := l.GetDataSetType(ctx, name, true)
	if err != nil {
		return nil, err
	}
	return dt.PrimaryKey, nil
}

func (l *SchemaCatalogLoader) GetUniqueKeys(ctx context.Context, name string) ([]*UniqueKey, error) {
	dt, err := l.GetDataSetType(ctx, name, true)
	if err != nil {
		return nil, err
	}
	return dt.UniqueKeys, nil
}

func (l *SchemaCatalogLoader) GetIndexes(ctx context.Context, name string) ([]*Index, error) {
	dt, err := l.GetDataSetType(ctx, name, true)
	if err != nil {
		return nil, err
	}
	return dt.Indexes, nil
}

func (l *SchemaCatalogLoader) GetCheckConstraints(ctx context.Context, name string) ([]*CheckConstraint, error) {
	dt, err := l.GetDataSetType(ctx, name, true)
	if err != nil {
		return nil, err
	}
	return dt.CheckConstraints, nil
}

func (l *SchemaCatalogLoader) GetExtent(ctx context.Context, name, property string) (geometry.Envelope, error) {
	ds, err := l.Transactor.GetDataSet(ctx, name, RandomAccess, AccessRead)
	if err != nil {
		return geometry.EmptyEnvelope(), err
	}
	defer ds.Close()
	return ds.Extent(property)
}

func (l *SchemaCatalogLoader) DataSetExists(ctx context.Context, name string) (bool, error) {
	names, err := l.Source.DataSetNames(ctx)
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if n == name {
			return true, nil
		}
	}
	return false, nil
}

func (l *SchemaCatalogLoader) Close() error { return nil }
