package memory

import (
	"context"
	"fmt"

	"github.com/kasuganosora/geoaccess/pkg/geometry"
	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
)

// schemaOf exposes the transactor's view as a SchemaSource.
type schemaOf struct{ t *Transactor }

func (s schemaOf) DataSetNames(ctx context.Context) ([]string, error) {
	return s.t.view().names(), nil
}

func (s schemaOf) DataSetTypeOf(ctx context.Context, name string) (*domain.DataSetType, error) {
	tbl, err := s.t.view().table(name)
	if err != nil {
		return nil, err
	}
	return tbl.dt, nil
}

// catalogLoader answers extents from the spatial index when one is enabled.
type catalogLoader struct {
	*domain.SchemaCatalogLoader
	t *Transactor
}

func (l *catalogLoader) GetExtent(ctx context.Context, name, property string) (geometry.Envelope, error) {
	tbl, err := l.t.view().table(name)
	if err != nil {
		return geometry.EmptyEnvelope(), err
	}
	if property == "" {
		p := tbl.dt.DefaultGeometryProperty()
		if p == nil {
			return geometry.EmptyEnvelope(), domain.NewErrPropertyNotFound("<default geometry>", name)
		}
		property = p.Name
	}
	p, ok := tbl.dt.Property(property)
	if !ok || !p.IsGeometry() {
		return geometry.EmptyEnvelope(), domain.NewErrPropertyNotFound(property, name)
	}
	if !l.t.engine.spatialIndex {
		return domain.ExtentOf(tbl.allRows(), property)
	}
	idx, _, err := tbl.spatialIndex(property)
	if err != nil {
		return geometry.EmptyEnvelope(), domain.NewErrBackend(l.t.driver(), "extent", err)
	}
	env, _ := idx.Bounds()
	return env, nil
}

// ==================== DataSetTypePersistence ====================

type typePersistence struct {
	t *Transactor
}

func (p *typePersistence) Create(ctx context.Context, dt *domain.DataSetType) error {
	if err := dt.Validate(); err != nil {
		return err
	}
	c := dt.Clone()
	c.FullyLoaded = true
	return p.t.write(ctx, func(st *state) error {
		return st.create(c)
	})
}

func (p *typePersistence) Drop(ctx context.Context, name string) error {
	return p.t.write(ctx, func(st *state) error {
		return st.drop(name)
	})
}

func (p *typePersistence) Rename(ctx context.Context, oldName, newName string) error {
	return p.t.write(ctx, func(st *state) error {
		return st.rename(oldName, newName)
	})
}

// AddProperty appends a property; existing rows get NULL.
func (p *typePersistence) AddProperty(ctx context.Context, name string, prop *domain.Property) error {
	return p.t.write(ctx, func(st *state) error {
		tbl, err := st.writable(name)
		if err != nil {
			return err
		}
		np := prop.Clone()
		if !np.Nullable && len(tbl.rows) > 0 {
			return fmt.Errorf("cannot add NOT NULL property %s to non-empty %s", np.Name, name)
		}
		if err := tbl.dt.AddProperty(np); err != nil {
			return err
		}
		for i := range tbl.rows {
			r := tbl.rows[i].row.Clone()
			r[np.Name] = nil
			tbl.rows[i].row = r
		}
		tbl.invalidate()
		return nil
	})
}

func (p *typePersistence) DropProperty(ctx context.Context, name, property string) error {
	return p.t.write(ctx, func(st *state) error {
		tbl, err := st.writable(name)
		if err != nil {
			return err
		}
		if err := tbl.dt.RemoveProperty(property); err != nil {
			return err
		}
		for i := range tbl.rows {
			r := tbl.rows[i].row.Clone()
			delete(r, property)
			tbl.rows[i].row = r
		}
		tbl.invalidate()
		return nil
	})
}

func (p *typePersistence) Close() error { return nil }
