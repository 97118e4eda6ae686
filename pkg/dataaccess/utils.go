package dataaccess

import (
	"context"
	"fmt"

	"github.com/kasuganosora/geoaccess/pkg/geometry"
	"github.com/kasuganosora/geoaccess/pkg/resource/application"
	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
)

// copyBatchSize is the number of rows handed to DataSetPersistence.Add at once.
const copyBatchSize = 500

// withLoader opens a CatalogLoader for the duration of fn.
func withLoader(ctx context.Context, t domain.Transactor, fn func(domain.CatalogLoader) error) error {
	loader, err := t.CatalogLoader(ctx)
	if err != nil {
		return err
	}
	defer loader.Close()
	return fn(loader)
}

// LoadFull fills dt with everything the backend knows about it: properties,
// keys, indexes and check constraints. Calling it twice yields the same
// result.
func LoadFull(ctx context.Context, t domain.Transactor, dt *domain.DataSetType) error {
	return withLoader(ctx, t, func(loader domain.CatalogLoader) error {
		full, err := loader.GetDataSetType(ctx, dt.Name, true)
		if err != nil {
			return err
		}
		full = full.Clone()

		dt.ClearConstraints()
		dt.Properties = full.Properties
		dt.DefaultGeometry = full.DefaultGeometry
		dt.DefaultRaster = full.DefaultRaster
		if dt.Title == "" {
			dt.Title = full.Title
		}
		dt.PrimaryKey = full.PrimaryKey
		dt.UniqueKeys = full.UniqueKeys
		dt.Indexes = full.Indexes
		dt.CheckConstraints = full.CheckConstraints
		dt.FullyLoaded = true
		return nil
	})
}

// LoadProperties replaces the properties of dt with the backend's.
func LoadProperties(ctx context.Context, t domain.Transactor, dt *domain.DataSetType) error {
	return withLoader(ctx, t, func(loader domain.CatalogLoader) error {
		props, err := loader.GetProperties(ctx, dt.Name)
		if err != nil {
			return err
		}
		dt.Properties = nil
		dt.DefaultGeometry = ""
		dt.DefaultRaster = ""
		for _, p := range props {
			if err := dt.AddProperty(p.Clone()); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadExtent returns the extent of property, or of the default geometry
// property when property is empty.
func LoadExtent(ctx context.Context, t domain.Transactor, name, property string) (geometry.Envelope, error) {
	env := geometry.EmptyEnvelope()
	err := withLoader(ctx, t, func(loader domain.CatalogLoader) error {
		var err error
		env, err = loader.GetExtent(ctx, name, property)
		return err
	})
	return env, err
}

// GetDataSets lists the dataset names of the backend.
func GetDataSets(ctx context.Context, t domain.Transactor) ([]string, error) {
	var names []string
	err := withLoader(ctx, t, func(loader domain.CatalogLoader) error {
		var err error
		names, err = loader.GetDataSets(ctx)
		return err
	})
	return names, err
}

// GetDataSetType loads a dataset type, fully when full is set.
func GetDataSetType(ctx context.Context, t domain.Transactor, name string, full bool) (*domain.DataSetType, error) {
	var dt *domain.DataSetType
	err := withLoader(ctx, t, func(loader domain.CatalogLoader) error {
		var err error
		dt, err = loader.GetDataSetType(ctx, name, full)
		return err
	})
	return dt, err
}

// GetDataSet opens a forward-only read cursor on name.
func GetDataSet(ctx context.Context, t domain.Transactor, name string) (domain.DataSet, error) {
	return t.GetDataSet(ctx, name, domain.ForwardOnly, domain.AccessRead)
}

// GetDataSource finds a live data source in mgr (the default manager when
// nil) and opens it when opened is set.
func GetDataSource(ctx context.Context, mgr *application.DataSourceManager, id string, opened bool) (domain.DataSource, error) {
	if mgr == nil {
		mgr = application.GetDefaultManager()
	}
	ds, ok := mgr.Find(id)
	if !ok {
		return nil, fmt.Errorf("data source %s not found", id)
	}
	if opened && !ds.IsOpened() {
		if err := ds.Open(ctx); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

// GetOIDPropertyNames returns the properties that identify a row: the
// primary key, else the first unique key, else every property that is not
// geometry, raster or floating point.
func GetOIDPropertyNames(dt *domain.DataSetType) []string {
	if dt.PrimaryKey != nil && len(dt.PrimaryKey.Properties) > 0 {
		return append([]string(nil), dt.PrimaryKey.Properties...)
	}
	if len(dt.UniqueKeys) > 0 && len(dt.UniqueKeys[0].Properties) > 0 {
		return append([]string(nil), dt.UniqueKeys[0].Properties...)
	}
	var names []string
	for _, p := range dt.Properties {
		if p.IsGeometry() || p.IsRaster() || p.IsFloating() {
			continue
		}
		names = append(names, p.Name)
	}
	return names
}

// ReadAll drains ds into rows, stopping after limit rows when limit > 0.
func ReadAll(ds domain.DataSet, limit int) ([]domain.Row, error) {
	var rows []domain.Row
	for ds.MoveNext() {
		r, err := ds.Row()
		if err != nil {
			return nil, err
		}
		rows = append(rows, r)
		if limit > 0 && len(rows) >= limit {
			break
		}
	}
	if err := ds.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

// Copy appends every remaining row of src to dataset name through dst's
// DataSetPersistence, inside one scoped transaction.
func Copy(ctx context.Context, src domain.DataSet, dst domain.Transactor, name string) (int64, error) {
	p, err := dst.DataSetPersistence(ctx)
	if err != nil {
		return 0, err
	}
	defer p.Close()

	var total int64
	err = InTransaction(ctx, dst, func() error {
		batch := make([]domain.Row, 0, copyBatchSize)
		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			n, err := p.Add(ctx, name, batch)
			if err != nil {
				return fmt.Errorf("copy into %s: %w", name, err)
			}
			total += n
			batch = batch[:0]
			return nil
		}
		for src.MoveNext() {
			r, err := src.Row()
			if err != nil {
				return err
			}
			batch = append(batch, r)
			if len(batch) == copyBatchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		if err := src.Err(); err != nil {
			return err
		}
		return flush()
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}
