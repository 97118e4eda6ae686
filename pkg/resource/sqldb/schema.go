package sqldb

import (
	"context"
	"fmt"
	"strings"

	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
)

// typePersistence maps schema changes to DDL. Inside a transaction the
// statements join it where the engine allows transactional DDL; MySQL
// commits implicitly.
type typePersistence struct {
	t *Transactor
}

func (p *typePersistence) exec(ctx context.Context, stmts ...string) error {
	for _, stmt := range stmts {
		p.t.log.Debug("ddl: %s", stmt)
		if _, err := p.t.q().ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", stmt, err)
		}
	}
	return nil
}

func (p *typePersistence) registry() (GeometryRegistry, bool) {
	r, ok := p.t.d.(GeometryRegistry)
	return r, ok
}

// columnDef renders "name TYPE [NOT NULL]".
func (p *typePersistence) columnDef(prop *domain.Property) string {
	def := p.t.d.QuoteIdentifier(prop.Name) + " " + p.t.d.ColumnType(prop)
	if !prop.Nullable && !strings.Contains(def, "PRIMARY KEY") {
		def += " NOT NULL"
	}
	return def
}

// createTableSQL renders CREATE TABLE with keys and check constraints.
func (p *typePersistence) createTableSQL(dt *domain.DataSetType) string {
	d := p.t.d
	var defs []string
	inlinePK := false
	for _, prop := range dt.Properties {
		def := p.columnDef(prop)
		inlinePK = inlinePK || strings.Contains(def, "PRIMARY KEY")
		defs = append(defs, def)
	}
	if dt.PrimaryKey != nil && len(dt.PrimaryKey.Properties) > 0 && !inlinePK {
		defs = append(defs, "PRIMARY KEY ("+quoteList(d, dt.PrimaryKey.Properties)+")")
	}
	for _, uk := range dt.UniqueKeys {
		c := "UNIQUE (" + quoteList(d, uk.Properties) + ")"
		if uk.Name != "" {
			c = "CONSTRAINT " + d.QuoteIdentifier(uk.Name) + " " + c
		}
		defs = append(defs, c)
	}
	for _, cc := range dt.CheckConstraints {
		c := "CHECK (" + cc.Expression + ")"
		if cc.Name != "" {
			c = "CONSTRAINT " + d.QuoteIdentifier(cc.Name) + " " + c
		}
		defs = append(defs, c)
	}
	return fmt.Sprintf("CREATE TABLE %s (\n\t%s\n)", qualify(d, dt.Name), strings.Join(defs, ",\n\t"))
}

func (p *typePersistence) Create(ctx context.Context, dt *domain.DataSetType) error {
	if err := p.t.CheckOpen(); err != nil {
		return err
	}
	if err := dt.Validate(); err != nil {
		return err
	}
	if _, err := p.t.typeOf(ctx, dt.Name); err == nil {
		return domain.NewErrDataSetTypeExists(dt.Name)
	}

	stmts := []string{p.createTableSQL(dt)}
	for _, idx := range dt.Indexes {
		if s := p.t.d.IndexSQL(dt.Name, idx); s != "" {
			stmts = append(stmts, s)
		} else {
			p.t.log.Debug("index %s (%s) not supported, skipped", idx.Name, idx.Type)
		}
	}
	if err := p.exec(ctx, stmts...); err != nil {
		return domain.NewErrBackend(p.t.driver(), "create dataset", err)
	}
	if reg, ok := p.registry(); ok {
		for _, prop := range dt.Properties {
			if !prop.IsGeometry() {
				continue
			}
			if err := reg.RegisterGeometry(ctx, p.t.q(), dt.Name, prop); err != nil {
				return domain.NewErrBackend(p.t.driver(), "register geometry", err)
			}
		}
	}
	return p.changed(ctx, dt.Name)
}

func (p *typePersistence) Drop(ctx context.Context, name string) error {
	if err := p.t.CheckOpen(); err != nil {
		return err
	}
	if _, err := p.t.typeOf(ctx, name); err != nil {
		return p.t.backend("drop dataset", err)
	}
	if err := p.exec(ctx, "DROP TABLE "+qualify(p.t.d, name)); err != nil {
		return domain.NewErrBackend(p.t.driver(), "drop dataset", err)
	}
	if reg, ok := p.registry(); ok {
		if err := reg.UnregisterGeometry(ctx, p.t.q(), name, ""); err != nil {
			return domain.NewErrBackend(p.t.driver(), "unregister geometry", err)
		}
	}
	return p.changed(ctx, name)
}

func (p *typePersistence) Rename(ctx context.Context, oldName, newName string) error {
	if err := p.t.CheckOpen(); err != nil {
		return err
	}
	if _, err := p.t.typeOf(ctx, oldName); err != nil {
		return p.t.backend("rename dataset", err)
	}
	if _, err := p.t.typeOf(ctx, newName); err == nil {
		return domain.NewErrDataSetTypeExists(newName)
	}
	stmt := fmt.Sprintf("ALTER TABLE %s RENAME TO %s", qualify(p.t.d, oldName), p.t.d.QuoteIdentifier(unqualified(newName)))
	if err := p.exec(ctx, stmt); err != nil {
		return domain.NewErrBackend(p.t.driver(), "rename dataset", err)
	}
	if reg, ok := p.registry(); ok {
		if err := reg.RenameGeometryTable(ctx, p.t.q(), oldName, newName); err != nil {
			return domain.NewErrBackend(p.t.driver(), "rename geometry", err)
		}
	}
	return p.changed(ctx, oldName, newName)
}

func (p *typePersistence) AddProperty(ctx context.Context, name string, prop *domain.Property) error {
	if err := p.t.CheckOpen(); err != nil {
		return err
	}
	dt, err := p.t.typeOf(ctx, name)
	if err != nil {
		return p.t.backend("add property", err)
	}
	if dt.HasProperty(prop.Name) {
		return domain.NewErrBackend(p.t.driver(), "add property", fmt.Errorf("property %s already exists in %s", prop.Name, name))
	}
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", qualify(p.t.d, name), p.columnDef(prop))
	if err := p.exec(ctx, stmt); err != nil {
		return domain.NewErrBackend(p.t.driver(), "add property", err)
	}
	if reg, ok := p.registry(); ok && prop.IsGeometry() {
		if err := reg.RegisterGeometry(ctx, p.t.q(), name, prop); err != nil {
			return domain.NewErrBackend(p.t.driver(), "register geometry", err)
		}
	}
	return p.changed(ctx, name)
}

func (p *typePersistence) DropProperty(ctx context.Context, name, property string) error {
	if err := p.t.CheckOpen(); err != nil {
		return err
	}
	dt, err := p.t.typeOf(ctx, name)
	if err != nil {
		return p.t.backend("drop property", err)
	}
	prop, ok := dt.Property(property)
	if !ok {
		return domain.NewErrPropertyNotFound(property, name)
	}
	stmt := fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", qualify(p.t.d, name), p.t.d.QuoteIdentifier(property))
	if err := p.exec(ctx, stmt); err != nil {
		return domain.NewErrBackend(p.t.driver(), "drop property", err)
	}
	if reg, ok := p.registry(); ok && prop.IsGeometry() {
		if err := reg.UnregisterGeometry(ctx, p.t.q(), name, property); err != nil {
			return domain.NewErrBackend(p.t.driver(), "unregister geometry", err)
		}
	}
	return p.changed(ctx, name)
}

func (p *typePersistence) changed(ctx context.Context, names ...string) error {
	if err := p.t.schemaChanged(ctx, names...); err != nil {
		return domain.NewErrBackend(p.t.driver(), "refresh catalog", err)
	}
	return nil
}

func (p *typePersistence) Close() error { return nil }
