package memory

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/kasuganosora/geoaccess/pkg/geometry"
	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
)

// ==================== Table ====================

type storedRow struct {
	id  int64
	row domain.Row
}

// table holds one dataset. Committed tables are never mutated; writers
// clone them first (see state.writable).
type table struct {
	dt      *domain.DataSetType
	rows    []storedRow
	nextID  int64
	autoInc map[string]int64

	idxMu   sync.Mutex
	indexes map[string]*RTreeIndex
	byID    map[int64]domain.Row
}

func newTable(dt *domain.DataSetType) *table {
	return &table{dt: dt, nextID: 1, autoInc: make(map[string]int64)}
}

func (t *table) clone() *table {
	c := &table{
		dt:      t.dt.Clone(),
		rows:    append([]storedRow(nil), t.rows...),
		nextID:  t.nextID,
		autoInc: make(map[string]int64, len(t.autoInc)),
	}
	for k, v := range t.autoInc {
		c.autoInc[k] = v
	}
	return c
}

// invalidate drops the lazily built indexes after a mutation.
func (t *table) invalidate() {
	t.idxMu.Lock()
	t.indexes = nil
	t.byID = nil
	t.idxMu.Unlock()
}

// unindex drops removed rows from the indexes already built.
func (t *table) unindex(removed []storedRow) {
	t.idxMu.Lock()
	defer t.idxMu.Unlock()
	for property, idx := range t.indexes {
		for _, r := range removed {
			g, err := geometry.FromValue(r.row[property])
			if err != nil {
				t.indexes, t.byID = nil, nil
				return
			}
			if env, ok := geometry.EnvelopeOf(g); ok {
				idx.Delete(env, r.id)
			}
		}
	}
	for _, r := range removed {
		delete(t.byID, r.id)
	}
}

func (t *table) allRows() []domain.Row {
	out := make([]domain.Row, len(t.rows))
	for i, r := range t.rows {
		out[i] = r.row
	}
	return out
}

// spatialIndex returns the R-tree over property, building it on first use.
func (t *table) spatialIndex(property string) (*RTreeIndex, map[int64]domain.Row, error) {
	t.idxMu.Lock()
	defer t.idxMu.Unlock()

	if idx, ok := t.indexes[property]; ok {
		return idx, t.byID, nil
	}
	if t.indexes == nil {
		t.indexes = make(map[string]*RTreeIndex)
	}
	if t.byID == nil {
		t.byID = make(map[int64]domain.Row, len(t.rows))
		for _, r := range t.rows {
			t.byID[r.id] = r.row
		}
	}
	idx := NewRTreeIndex()
	for _, r := range t.rows {
		g, err := geometry.FromValue(r.row[property])
		if err != nil {
			return nil, nil, fmt.Errorf("index %s.%s: %w", t.dt.Name, property, err)
		}
		if env, ok := geometry.EnvelopeOf(g); ok {
			idx.Insert(env, r.id)
		}
	}
	t.indexes[property] = idx
	return idx, t.byID, nil
}

// normalize converts every value of r and fills NULLs for missing
// properties.
func (t *table) normalize(r domain.Row) (domain.Row, error) {
	return domain.NormalizeRow(t.dt, r)
}

// load appends rows without constraint checks.
func (t *table) load(rows []domain.Row) error {
	for _, r := range rows {
		n, err := t.normalize(r)
		if err != nil {
			return err
		}
		t.trackAuto(n)
		t.rows = append(t.rows, storedRow{id: t.nextID, row: n})
		t.nextID++
	}
	t.invalidate()
	return nil
}

func (t *table) trackAuto(r domain.Row) {
	for _, p := range t.dt.Properties {
		if !p.AutoIncrement {
			continue
		}
		if v, err := domain.ToInt64(r[p.Name]); err == nil && r[p.Name] != nil && v > t.autoInc[p.Name] {
			t.autoInc[p.Name] = v
		}
	}
}

// insert adds one row and returns the last generated auto-increment value.
func (t *table) insert(r domain.Row) (int64, error) {
	n, err := t.normalize(r)
	if err != nil {
		return 0, err
	}
	var generated int64
	for _, p := range t.dt.Properties {
		if p.AutoIncrement && n[p.Name] == nil {
			t.autoInc[p.Name]++
			generated = t.autoInc[p.Name]
			n[p.Name] = generated
		}
	}
	if err := t.checkRow(n, -1); err != nil {
		return 0, err
	}
	t.trackAuto(n)
	t.rows = append(t.rows, storedRow{id: t.nextID, row: n})
	t.nextID++
	t.invalidate()
	return generated, nil
}

// checkRow enforces NOT NULL and key uniqueness. skip is the position of
// the row being replaced, or -1.
func (t *table) checkRow(r domain.Row, skip int) error {
	for _, p := range t.dt.Properties {
		if !p.Nullable && r[p.Name] == nil {
			return fmt.Errorf("property %s of %s cannot be NULL", p.Name, t.dt.Name)
		}
	}
	for _, key := range t.keys() {
		k := keyOf(r, key)
		if k == "" {
			continue
		}
		for i, other := range t.rows {
			if i != skip && keyOf(other.row, key) == k {
				return fmt.Errorf("duplicate value for key (%s) of %s", strings.Join(key, ", "), t.dt.Name)
			}
		}
	}
	return nil
}

func (t *table) keys() [][]string {
	var keys [][]string
	if t.dt.PrimaryKey != nil {
		keys = append(keys, t.dt.PrimaryKey.Properties)
	}
	for _, uk := range t.dt.UniqueKeys {
		keys = append(keys, uk.Properties)
	}
	return keys
}

// keyOf renders the key values of r; empty when any part is NULL.
func keyOf(r domain.Row, key []string) string {
	parts := make([]string, len(key))
	for i, k := range key {
		v := r[k]
		if v == nil {
			return ""
		}
		parts[i] = fmt.Sprintf("%T:%v", v, v)
	}
	return strings.Join(parts, "\x00")
}

// ==================== State ====================

// state is one version of the whole store. A forked state shares unchanged
// tables with its parent and copies a table the first time it writes to it.
// Committed tables are immutable, so the table pointer identifies its
// version: base keeps the pointers the fork started from.
type state struct {
	tables  map[string]*table
	base    map[string]*table
	order   []string
	owned   map[string]bool
	dropped map[string]bool
}

func newState() *state {
	return &state{
		tables:  make(map[string]*table),
		base:    make(map[string]*table),
		owned:   make(map[string]bool),
		dropped: make(map[string]bool),
	}
}

func (s *state) fork() *state {
	f := newState()
	for k, v := range s.tables {
		f.tables[k] = v
		f.base[k] = v
	}
	f.order = append([]string(nil), s.order...)
	return f
}

func (s *state) names() []string {
	return append([]string(nil), s.order...)
}

func (s *state) table(name string) (*table, error) {
	t, ok := s.tables[name]
	if !ok {
		return nil, domain.NewErrDataSetNotFound(name)
	}
	return t, nil
}

// writable returns a private copy of the table.
func (s *state) writable(name string) (*table, error) {
	t, err := s.table(name)
	if err != nil {
		return nil, err
	}
	if !s.owned[name] {
		t = t.clone()
		s.tables[name] = t
		s.owned[name] = true
	}
	return t, nil
}

func (s *state) create(dt *domain.DataSetType) error {
	if _, exists := s.tables[dt.Name]; exists {
		return domain.NewErrDataSetTypeExists(dt.Name)
	}
	s.tables[dt.Name] = newTable(dt)
	s.order = append(s.order, dt.Name)
	s.owned[dt.Name] = true
	delete(s.dropped, dt.Name)
	return nil
}

// put replaces or adds a table wholesale.
func (s *state) put(t *table) {
	if _, exists := s.tables[t.dt.Name]; !exists {
		s.order = append(s.order, t.dt.Name)
	}
	s.tables[t.dt.Name] = t
	s.owned[t.dt.Name] = true
	delete(s.dropped, t.dt.Name)
}

func (s *state) drop(name string) error {
	if _, ok := s.tables[name]; !ok {
		return domain.NewErrDataSetNotFound(name)
	}
	delete(s.tables, name)
	delete(s.owned, name)
	s.dropped[name] = true
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *state) rename(oldName, newName string) error {
	if _, exists := s.tables[newName]; exists {
		return domain.NewErrDataSetTypeExists(newName)
	}
	t, err := s.writable(oldName)
	if err != nil {
		return err
	}
	if err := s.drop(oldName); err != nil {
		return err
	}
	t.dt.Name = newName
	s.put(t)
	return nil
}

// ErrConflict reports a commit whose datasets were changed by another
// transaction after it began.
var ErrConflict = errors.New("concurrent modification")

// merge applies the tables changed in work on top of s and returns the new
// state. Tables work did not touch keep the version in s, so concurrent
// transactions on different datasets do not lose each other's writes. A
// table work changed must still be the one work forked from.
func (s *state) merge(work *state) (*state, error) {
	if err := s.checkBase(work); err != nil {
		return nil, err
	}
	out := s.fork()
	for name := range work.dropped {
		if _, ok := out.tables[name]; ok && !work.owned[name] {
			_ = out.drop(name)
		}
	}
	for _, name := range work.order {
		if !work.owned[name] {
			continue
		}
		out.put(work.tables[name])
	}
	return out.seal(), nil
}

func (s *state) checkBase(work *state) error {
	names := make([]string, 0, len(work.owned)+len(work.dropped))
	for name := range work.owned {
		names = append(names, name)
	}
	for name := range work.dropped {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if s.tables[name] != work.base[name] {
			return fmt.Errorf("dataset %s: %w", name, ErrConflict)
		}
	}
	return nil
}

// seal clears the change tracking of a state about to be published.
func (s *state) seal() *state {
	s.base = make(map[string]*table)
	s.owned = make(map[string]bool)
	s.dropped = make(map[string]bool)
	return s
}

// changes lists the datasets work created, modified or dropped.
func (s *state) changes() (modified []string, dropped []string) {
	for _, name := range s.order {
		if s.owned[name] {
			modified = append(modified, name)
		}
	}
	for name := range s.dropped {
		if _, ok := s.tables[name]; !ok {
			dropped = append(dropped, name)
		}
	}
	sort.Strings(dropped)
	return modified, dropped
}
