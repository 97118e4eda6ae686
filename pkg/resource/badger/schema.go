package badger

import (
	"context"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
)

// schemaOf reads dataset types through the transactor, so an open
// transaction sees its own schema changes.
type schemaOf struct{ t *Transactor }

func (s schemaOf) DataSetNames(ctx context.Context) ([]string, error) {
	var names []string
	err := s.t.view(func(txn *badger.Txn) error {
		types, err := s.t.st.loadTypes(txn)
		for _, dt := range types {
			names = append(names, dt.Name)
		}
		return err
	})
	return names, err
}

func (s schemaOf) DataSetTypeOf(ctx context.Context, name string) (*domain.DataSetType, error) {
	var dt *domain.DataSetType
	err := s.t.view(func(txn *badger.Txn) error {
		var err error
		dt, err = s.t.st.getType(txn, name)
		return err
	})
	return dt, err
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
	return p.t.alter(func(txn *badger.Txn) error {
		return p.t.st.createType(txn, c)
	})
}

func (p *typePersistence) Drop(ctx context.Context, name string) error {
	return p.t.alter(func(txn *badger.Txn) error {
		return p.t.st.drop(txn, name)
	})
}

func (p *typePersistence) Rename(ctx context.Context, oldName, newName string) error {
	return p.t.alter(func(txn *badger.Txn) error {
		return p.t.st.rename(txn, oldName, newName)
	})
}

// AddProperty appends a property. Stored rows omit NULLs, so existing rows
// read the new property as NULL without being rewritten.
func (p *typePersistence) AddProperty(ctx context.Context, name string, prop *domain.Property) error {
	return p.t.alter(func(txn *badger.Txn) error {
		dt, err := p.t.st.getType(txn, name)
		if err != nil {
			return err
		}
		np := prop.Clone()
		if !np.Nullable {
			rows, err := p.t.st.scan(ctx, txn, dt)
			if err != nil {
				return err
			}
			if len(rows) > 0 {
				return fmt.Errorf("cannot add NOT NULL property %s to non-empty %s", np.Name, name)
			}
		}
		if err := dt.AddProperty(np); err != nil {
			return err
		}
		return p.t.st.putType(txn, dt)
	})
}

// DropProperty removes a property and rewrites the rows without it.
func (p *typePersistence) DropProperty(ctx context.Context, name, property string) error {
	return p.t.alter(func(txn *badger.Txn) error {
		dt, err := p.t.st.getType(txn, name)
		if err != nil {
			return err
		}
		rows, err := p.t.st.scan(ctx, txn, dt)
		if err != nil {
			return err
		}
		if err := dt.RemoveProperty(property); err != nil {
			return err
		}
		for _, r := range rows {
			if err := p.t.st.putRow(txn, dt, r.id, r.row); err != nil {
				return err
			}
		}
		return p.t.st.putType(txn, dt)
	})
}

func (p *typePersistence) Close() error { return nil }
