package ows

import (
	"context"
	"errors"
	"sort"

	"github.com/kasuganosora/geoaccess/pkg/geometry"
	"github.com/kasuganosora/geoaccess/pkg/query"
	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
	"github.com/twpayne/go-geom"
)

// RasterProperty is the single property every OGC dataset exposes.
const RasterProperty = "raster"

var errEmptyEnvelope = errors.New("empty request envelope")

// Layer 服务端的一个可取图层（WMS layer 或 WCS coverage）
type Layer struct {
	Name     string
	Title    string
	SRID     int
	Envelope geometry.Envelope
}

// DataSetType 图层的数据集类型：一个名为 raster 的栅格属性
func (l *Layer) DataSetType() *domain.DataSetType {
	dt := domain.NewDataSetType(l.Name)
	dt.Title = l.Title
	p := domain.NewProperty(RasterProperty, domain.TypeRaster)
	p.SRID = l.SRID
	_ = dt.AddProperty(p)
	return dt
}

// Service is the part of a WMS or WCS data source the shared transactor
// needs: the layer list and a way to fetch a raster for a bounding box.
type Service interface {
	domain.DataSource
	Layers() []*Layer
	Layer(name string) (*Layer, bool)
	Fetch(ctx context.Context, l *Layer, env geometry.Envelope) (*domain.Raster, error)
}

// Transactor 只读栅格会话。事务与变更均不支持
type Transactor struct {
	domain.BaseTransactor
	svc Service
}

// NewTransactor creates a transactor over svc.
func NewTransactor(svc Service) *Transactor {
	t := &Transactor{svc: svc}
	t.Init(t, svc)
	return t
}

func (t *Transactor) layer(name string) (*Layer, error) {
	if err := t.CheckOpen(); err != nil {
		return nil, err
	}
	l, ok := t.svc.Layer(name)
	if !ok {
		return nil, domain.NewErrDataSetNotFound(name)
	}
	return l, nil
}

func (t *Transactor) checkCursor(name string, access domain.AccessPolicy) error {
	if access == domain.AccessReadWrite {
		return domain.NewErrReadOnly(name, "open a read-write dataset")
	}
	return nil
}

func (t *Transactor) checkProperty(l *Layer, property string) error {
	if property != "" && property != RasterProperty {
		return domain.NewErrPropertyNotFound(property, l.Name)
	}
	return nil
}

func (t *Transactor) fetch(ctx context.Context, l *Layer, env geometry.Envelope, trav domain.TraverseType, access domain.AccessPolicy) (domain.DataSet, error) {
	if err := t.checkCursor(l.Name, access); err != nil {
		return nil, err
	}
	ctx, done := t.OpContext(ctx)
	defer done()
	r, err := t.svc.Fetch(ctx, l, env)
	if err != nil {
		return nil, domain.NewErrBackend(t.svc.Type(), "fetch "+l.Name, err)
	}
	rows := []domain.Row{{RasterProperty: r}}
	return domain.NewRowSet(t.svc.Type(), l.DataSetType(), rows, trav, access), nil
}

// GetDataSet 取整个图层范围的栅格
func (t *Transactor) GetDataSet(ctx context.Context, name string, trav domain.TraverseType, access domain.AccessPolicy) (domain.DataSet, error) {
	l, err := t.layer(name)
	if err != nil {
		return nil, err
	}
	return t.fetch(ctx, l, l.Envelope, trav, access)
}

// GetDataSetByEnvelope 以 env 作为请求范围下推给服务端。rel 对栅格没有意义，忽略
func (t *Transactor) GetDataSetByEnvelope(ctx context.Context, name, property string, env geometry.Envelope, rel geometry.SpatialRelation, trav domain.TraverseType, access domain.AccessPolicy) (domain.DataSet, error) {
	l, err := t.layer(name)
	if err != nil {
		return nil, err
	}
	if err := t.checkProperty(l, property); err != nil {
		return nil, err
	}
	if !env.IsValid() {
		return nil, domain.NewErrBackend(t.svc.Type(), "fetch "+name, errEmptyEnvelope)
	}
	return t.fetch(ctx, l, env, trav, access)
}

// GetDataSetByGeometry requests the bounding box of g.
func (t *Transactor) GetDataSetByGeometry(ctx context.Context, name, property string, g geom.T, rel geometry.SpatialRelation, trav domain.TraverseType, access domain.AccessPolicy) (domain.DataSet, error) {
	env, ok := geometry.EnvelopeOf(g)
	if !ok {
		env = geometry.EmptyEnvelope()
	}
	return t.GetDataSetByEnvelope(ctx, name, property, env, rel, trav, access)
}

func (t *Transactor) Query(ctx context.Context, sel *query.Select, trav domain.TraverseType, access domain.AccessPolicy) (domain.DataSet, error) {
	return nil, domain.NewErrUnsupportedOperation(t.svc.Type(), "Query")
}

func (t *Transactor) CatalogLoader(ctx context.Context) (domain.CatalogLoader, error) {
	if err := t.CheckOpen(); err != nil {
		return nil, err
	}
	return &catalogLoader{SchemaCatalogLoader: domain.NewSchemaCatalogLoader(schemaOf{t.svc}, t), svc: t.svc}, nil
}

func (t *Transactor) Close(ctx context.Context) error { return nil }

// schemaOf exposes the service layers as a SchemaSource.
type schemaOf struct{ svc Service }

func (s schemaOf) DataSetNames(ctx context.Context) ([]string, error) {
	layers := s.svc.Layers()
	names := make([]string, 0, len(layers))
	for _, l := range layers {
		names = append(names, l.Name)
	}
	sort.Strings(names)
	return names, nil
}

func (s schemaOf) DataSetTypeOf(ctx context.Context, name string) (*domain.DataSetType, error) {
	l, ok := s.svc.Layer(name)
	if !ok {
		return nil, domain.NewErrDataSetNotFound(name)
	}
	return l.DataSetType(), nil
}

// catalogLoader answers extents from the service metadata instead of
// downloading the raster.
type catalogLoader struct {
	*domain.SchemaCatalogLoader
	svc Service
}

func (l *catalogLoader) GetExtent(ctx context.Context, name, property string) (geometry.Envelope, error) {
	layer, ok := l.svc.Layer(name)
	if !ok {
		return geometry.EmptyEnvelope(), domain.NewErrDataSetNotFound(name)
	}
	if property != "" && property != RasterProperty {
		return geometry.EmptyEnvelope(), domain.NewErrPropertyNotFound(property, name)
	}
	return layer.Envelope, nil
}

var (
	_ domain.Transactor    = (*Transactor)(nil)
	_ domain.CatalogLoader = (*catalogLoader)(nil)
)
