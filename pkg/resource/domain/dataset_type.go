package domain

import (
	"errors"
	"fmt"
)

// IndexType 索引类型
type IndexType string

const (
	IndexTypeBTree IndexType = "BTREE"
	IndexTypeHash  IndexType = "HASH"
	IndexTypeRTree IndexType = "RTREE"
)

// PrimaryKey 主键
type PrimaryKey struct {
	Name       string   `json:"name,omitempty"`
	Properties []string `json:"properties"`
}

// UniqueKey 唯一键
type UniqueKey struct {
	Name       string   `json:"name,omitempty"`
	Properties []string `json:"properties"`
}

// Index 索引
type Index struct {
	Name       string    `json:"name"`
	Type       IndexType `json:"type"`
	Properties []string  `json:"properties"`
}

// CheckConstraint 检查约束
type CheckConstraint struct {
	Name       string `json:"name"`
	Expression string `json:"expression"`
}

// DataSetType describes the schema of one dataset.
type DataSetType struct {
	Name             string             `json:"name"`
	Title            string             `json:"title,omitempty"`
	Properties       []*Property        `json:"properties"`
	DefaultGeometry  string             `json:"default_geometry,omitempty"`
	DefaultRaster    string             `json:"default_raster,omitempty"`
	PrimaryKey       *PrimaryKey        `json:"primary_key,omitempty"`
	UniqueKeys       []*UniqueKey       `json:"unique_keys,omitempty"`
	Indexes          []*Index           `json:"indexes,omitempty"`
	CheckConstraints []*CheckConstraint `json:"check_constraints,omitempty"`
	FullyLoaded      bool               `json:"fully_loaded"`
}

// NewDataSetType creates an empty type.
func NewDataSetType(name string) *DataSetType {
	return &DataSetType{Name: name}
}

// AddProperty appends a property. The first geometry or raster property
// becomes the default one when none is set.
func (t *DataSetType) AddProperty(p *Property) error {
	if p == nil || p.Name == "" {
		return errors.New("property name cannot be empty")
	}
	if t.HasProperty(p.Name) {
		return fmt.Errorf("property %s already exists in %s", p.Name, t.Name)
	}
	t.Properties = append(t.Properties, p)
	if p.IsGeometry() && t.DefaultGeometry == "" {
		t.DefaultGeometry = p.Name
	}
	if p.IsRaster() && t.DefaultRaster == "" {
		t.DefaultRaster = p.Name
	}
	return nil
}

// RemoveProperty removes a property that no key or index references.
func (t *DataSetType) RemoveProperty(name string) error {
	idx := t.PropertyIndex(name)
	if idx < 0 {
		return NewErrPropertyNotFound(name, t.Name)
	}
	for _, refs := range t.keyReferences() {
		for _, r := range refs {
			if r == name {
				return fmt.Errorf("property %s is referenced by a key or index of %s", name, t.Name)
			}
		}
	}
	t.Properties = append(t.Properties[:idx], t.Properties[idx+1:]...)
	if t.DefaultGeometry == name {
		t.DefaultGeometry = ""
	}
	if t.DefaultRaster == name {
		t.DefaultRaster = ""
	}
	return nil
}

// HasProperty checks if a property exists
func (t *DataSetType) HasProperty(name string) bool {
	return t.PropertyIndex(name) >= 0
}

// Property retrieves a property by name
func (t *DataSetType) Property(name string) (*Property, bool) {
	if i := t.PropertyIndex(name); i >= 0 {
		return t.Properties[i], true
	}
	return nil, false
}

// PropertyIndex returns the position of a property or -1.
func (t *DataSetType) PropertyIndex(name string) int {
	for i, p := range t.Properties {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// PropertyNames returns all property names in order.
func (t *DataSetType) PropertyNames() []string {
	names := make([]string, len(t.Properties))
	for i, p := range t.Properties {
		names[i] = p.Name
	}
	return names
}

// DefaultGeometryProperty returns the default geometry property or nil.
func (t *DataSetType) DefaultGeometryProperty() *Property {
	if t.DefaultGeometry != "" {
		if p, ok := t.Property(t.DefaultGeometry); ok {
			return p
		}
	}
	for _, p := range t.Properties {
		if p.IsGeometry() {
			return p
		}
	}
	return nil
}

// DefaultRasterProperty returns the default raster property or nil.
func (t *DataSetType) DefaultRasterProperty() *Property {
	if t.DefaultRaster != "" {
		if p, ok := t.Property(t.DefaultRaster); ok {
			return p
		}
	}
	for _, p := range t.Properties {
		if p.IsRaster() {
			return p
		}
	}
	return nil
}

// SetPrimaryKey replaces the primary key. Every referenced property must exist.
func (t *DataSetType) SetPrimaryKey(pk *PrimaryKey) error {
	if pk == nil {
		t.PrimaryKey = nil
		return nil
	}
	if len(pk.Properties) == 0 {
		return errors.New("primary key must reference at least one property")
	}
	if err := t.checkRefs(pk.Properties); err != nil {
		return err
	}
	t.PrimaryKey = pk
	return nil
}

// AddUniqueKey adds a unique key over existing properties.
func (t *DataSetType) AddUniqueKey(uk *UniqueKey) error {
	if uk == nil || len(uk.Properties) == 0 {
		return errors.New("unique key must reference at least one property")
	}
	if err := t.checkRefs(uk.Properties); err != nil {
		return err
	}
	t.UniqueKeys = append(t.UniqueKeys, uk)
	return nil
}

// AddIndex adds an index over existing properties.
func (t *DataSetType) AddIndex(idx *Index) error {
	if idx == nil || len(idx.Properties) == 0 {
		return errors.New("index must reference at least one property")
	}
	if err := t.checkRefs(idx.Properties); err != nil {
		return err
	}
	for _, existing := range t.Indexes {
		if existing.Name == idx.Name {
			return fmt.Errorf("index %s already exists in %s", idx.Name, t.Name)
		}
	}
	t.Indexes = append(t.Indexes, idx)
	return nil
}

// AddCheckConstraint adds a check constraint.
func (t *DataSetType) AddCheckConstraint(cc *CheckConstraint) error {
	if cc == nil || cc.Expression == "" {
		return errors.New("check constraint expression cannot be empty")
	}
	t.CheckConstraints = append(t.CheckConstraints, cc)
	return nil
}

// ClearConstraints drops keys, indexes and checks and resets FullyLoaded.
func (t *DataSetType) ClearConstraints() {
	t.PrimaryKey = nil
	t.UniqueKeys = nil
	t.Indexes = nil
	t.CheckConstraints = nil
	t.FullyLoaded = false
}

// Validate checks that every key and index references existing properties.
func (t *DataSetType) Validate() error {
	if t.Name == "" {
		return errors.New("dataset type name cannot be empty")
	}
	seen := make(map[string]bool, len(t.Properties))
	for _, p := range t.Properties {
		if p.Name == "" {
			return fmt.Errorf("dataset type %s has an unnamed property", t.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("dataset type %s has duplicate property %s", t.Name, p.Name)
		}
		seen[p.Name] = true
	}
	if t.PrimaryKey != nil && len(t.PrimaryKey.Properties) == 0 {
		return fmt.Errorf("primary key of %s is empty", t.Name)
	}
	for _, refs := range t.keyReferences() {
		if err := t.checkRefs(refs); err != nil {
			return err
		}
	}
	if t.DefaultGeometry != "" && !t.HasProperty(t.DefaultGeometry) {
		return NewErrPropertyNotFound(t.DefaultGeometry, t.Name)
	}
	if t.DefaultRaster != "" && !t.HasProperty(t.DefaultRaster) {
		return NewErrPropertyNotFound(t.DefaultRaster, t.Name)
	}
	return nil
}

func (t *DataSetType) keyReferences() [][]string {
	var refs [][]string
	if t.PrimaryKey != nil {
		refs = append(refs, t.PrimaryKey.Properties)
	}
	for _, uk := range t.UniqueKeys {
		refs = append(refs, uk.Properties)
	}
	for _, idx := range t.Indexes {
		refs = append(refs, idx.Properties)
	}
	return refs
}

func (t *DataSetType) checkRefs(names []string) error {
	for _, n := range names {
		if !t.HasProperty(n) {
			return NewErrPropertyNotFound(n, t.Name)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (t *DataSetType) Clone() *DataSetType {
	c := &DataSetType{
		Name:            t.Name,
		Title:           t.Title,
		DefaultGeometry: t.DefaultGeometry,
		DefaultRaster:   t.DefaultRaster,
		FullyLoaded:     t.FullyLoaded,
	}
	c.Properties = make([]*Property, len(t.Properties))
	for i, p := range t.Properties {
		c.Properties[i] = p.Clone()
	}
	if t.PrimaryKey != nil {
		c.PrimaryKey = &PrimaryKey{Name: t.PrimaryKey.Name, Properties: append([]string(nil), t.PrimaryKey.Properties...)}
	}
	for _, uk := range t.UniqueKeys {
		c.UniqueKeys = append(c.UniqueKeys, &UniqueKey{Name: uk.Name, Properties: append([]string(nil), uk.Properties...)})
	}
	for _, idx := range t.Indexes {
		c.Indexes = append(c.Indexes, &Index{Name: idx.Name, Type: idx.Type, Properties: append([]string(nil), idx.Properties...)})
	}
	for _, cc := range t.CheckConstraints {
		c.CheckConstraints = append(c.CheckConstraints, &CheckConstraint{Name: cc.Name, Expression: cc.Expression})
	}
	return c
}

// Shallow returns a copy with properties and default geometry/raster only.
func (t *DataSetType) Shallow() *DataSetType {
	c := t.Clone()
	c.ClearConstraints()
	return c
}
