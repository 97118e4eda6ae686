package domain

import (
	"fmt"
	"io"
	"time"

	"github.com/kasuganosora/geoaccess/pkg/geometry"
	"github.com/twpayne/go-geom"
)

// rowAccess implements the typed getters over the current row.
type rowAccess struct {
	driver  DataSourceType
	dt      *DataSetType
	current Row
	onRow   bool
}

func (r *rowAccess) Type() *DataSetType { return r.dt }

func (r *rowAccess) row() (Row, error) {
	if !r.onRow {
		return nil, NewErrInvalidPosition("cursor is not on a row")
	}
	return r.current, nil
}

func (r *rowAccess) GetByName(name string) (interface{}, error) {
	row, err := r.row()
	if err != nil {
		return nil, err
	}
	v, ok := row[name]
	if !ok && !r.dt.HasProperty(name) {
		return nil, NewErrPropertyNotFound(name, r.dt.Name)
	}
	return v, nil
}

func (r *rowAccess) Get(i int) (interface{}, error) {
	if i < 0 || i >= len(r.dt.Properties) {
		return nil, fmt.Errorf("property index %d out of range [0,%d)", i, len(r.dt.Properties))
	}
	return r.GetByName(r.dt.Properties[i].Name)
}

func (r *rowAccess) IsNull(name string) (bool, error) {
	v, err := r.GetByName(name)
	if err != nil {
		return false, err
	}
	return v == nil, nil
}

func (r *rowAccess) GetString(name string) (string, error) {
	v, err := r.GetByName(name)
	if err != nil {
		return "", err
	}
	if g, ok := v.(geom.T); ok {
		return geometry.FormatWKT(g)
	}
	return ToString(v), nil
}

func (r *rowAccess) GetInt64(name string) (int64, error) {
	v, err := r.GetByName(name)
	if err != nil || v == nil {
		return 0, err
	}
	return ToInt64(v)
}

func (r *rowAccess) GetFloat64(name string) (float64, error) {
	v, err := r.GetByName(name)
	if err != nil || v == nil {
		return 0, err
	}
	return ToFloat64(v)
}

func (r *rowAccess) GetBool(name string) (bool, error) {
	v, err := r.GetByName(name)
	if err != nil || v == nil {
		return false, err
	}
	return ToBool(v)
}

func (r *rowAccess) GetTime(name string) (time.Time, error) {
	v, err := r.GetByName(name)
	if err != nil || v == nil {
		return time.Time{}, err
	}
	return ToTime(v)
}

func (r *rowAccess) GetBytes(name string) ([]byte, error) {
	v, err := r.GetByName(name)
	if err != nil || v == nil {
		return nil, err
	}
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	case geom.T:
		return geometry.EncodeWKB(b)
	}
	return nil, fmt.Errorf("property %s: cannot convert %T to bytes", name, v)
}

func (r *rowAccess) GetGeometry(name string) (geom.T, error) {
	if name == "" {
		p := r.dt.DefaultGeometryProperty()
		if p == nil {
			return nil, NewErrPropertyNotFound("<default geometry>", r.dt.Name)
		}
		name = p.Name
	}
	v, err := r.GetByName(name)
	if err != nil || v == nil {
		return nil, err
	}
	g, err := geometry.FromValue(v)
	if err != nil {
		return nil, fmt.Errorf("property %s: %w", name, err)
	}
	if g != nil && g.SRID() == 0 {
		if p, ok := r.dt.Property(name); ok && p.SRID != 0 {
			g = geometry.WithSRID(g, p.SRID)
		}
	}
	return g, nil
}

func (r *rowAccess) GetRaster(name string) (*Raster, error) {
	if name == "" {
		p := r.dt.DefaultRasterProperty()
		if p == nil {
			return nil, NewErrPropertyNotFound("<default raster>", r.dt.Name)
		}
		name = p.Name
	}
	v, err := r.GetByName(name)
	if err != nil || v == nil {
		return nil, err
	}
	switch rv := v.(type) {
	case *Raster:
		return rv, nil
	case Raster:
		return &rv, nil
	}
	return nil, fmt.Errorf("property %s: %T is not a raster", name, v)
}

func (r *rowAccess) Row() (Row, error) {
	row, err := r.row()
	if err != nil {
		return nil, err
	}
	return row.Clone(), nil
}

func (r *rowAccess) geometryProperty(property string) (string, error) {
	if property != "" {
		if !r.dt.HasProperty(property) {
			return "", NewErrPropertyNotFound(property, r.dt.Name)
		}
		return property, nil
	}
	p := r.dt.DefaultGeometryProperty()
	if p == nil {
		return "", NewErrPropertyNotFound("<default geometry>", r.dt.Name)
	}
	return p.Name, nil
}

// RowSet is a materialised DataSet backed by a slice of rows.
type RowSet struct {
	rowAccess
	rows   []Row
	pos    int
	trav   TraverseType
	access AccessPolicy
	closed bool
}

// NewRowSet wraps rows; the rows are not copied.
func NewRowSet(driver DataSourceType, dt *DataSetType, rows []Row, trav TraverseType, access AccessPolicy) *RowSet {
	return &RowSet{
		rowAccess: rowAccess{driver: driver, dt: dt},
		rows:      rows,
		pos:       -1,
		trav:      trav,
		access:    access,
	}
}

func (s *RowSet) TraverseType() TraverseType { return s.trav }
func (s *RowSet) AccessPolicy() AccessPolicy { return s.access }
func (s *RowSet) Size() int                  { return len(s.rows) }
func (s *RowSet) IsEmpty() bool              { return len(s.rows) == 0 }
func (s *RowSet) Position() int              { return s.pos }
func (s *RowSet) IsBeforeBegin() bool        { return s.pos < 0 }
func (s *RowSet) IsAtBegin() bool            { return s.pos == 0 && len(s.rows) > 0 }
func (s *RowSet) IsAtEnd() bool              { return len(s.rows) > 0 && s.pos == len(s.rows)-1 }
func (s *RowSet) IsAfterEnd() bool           { return s.pos >= len(s.rows) }
func (s *RowSet) Err() error                 { return nil }

// Rows exposes the backing rows.
func (s *RowSet) Rows() []Row { return s.rows }

func (s *RowSet) seek(i int) bool {
	switch {
	case i < 0:
		s.pos = -1
	case i >= len(s.rows):
		s.pos = len(s.rows)
	default:
		s.pos = i
	}
	s.onRow = s.pos >= 0 && s.pos < len(s.rows)
	if s.onRow {
		s.current = s.rows[s.pos]
	} else {
		s.current = nil
	}
	return s.onRow
}

func (s *RowSet) randomOnly(op string) error {
	if s.closed {
		return NewErrInvalidPosition("dataset is closed")
	}
	if s.trav != RandomAccess {
		return NewErrUnsupportedOperation(s.driver, op+" on a forward-only dataset")
	}
	return nil
}

func (s *RowSet) MoveNext() bool {
	if s.closed || s.pos >= len(s.rows) {
		return false
	}
	return s.seek(s.pos + 1)
}

func (s *RowSet) MovePrevious() (bool, error) {
	if err := s.randomOnly("MovePrevious"); err != nil {
		return false, err
	}
	if s.pos < 0 {
		return false, nil
	}
	return s.seek(s.pos - 1), nil
}

// MoveFirst on a forward-only dataset is only valid before the cursor has
// passed the first row.
func (s *RowSet) MoveFirst() (bool, error) {
	if s.trav != RandomAccess && s.pos > 0 {
		return false, NewErrUnsupportedOperation(s.driver, "MoveFirst on a forward-only dataset")
	}
	if s.closed {
		return false, NewErrInvalidPosition("dataset is closed")
	}
	return s.seek(0), nil
}

func (s *RowSet) MoveLast() (bool, error) {
	if err := s.randomOnly("MoveLast"); err != nil {
		return false, err
	}
	return s.seek(len(s.rows) - 1), nil
}

func (s *RowSet) MoveBeforeFirst() error {
	if err := s.randomOnly("MoveBeforeFirst"); err != nil {
		return err
	}
	s.seek(-1)
	return nil
}

func (s *RowSet) Move(i int) (bool, error) {
	if err := s.randomOnly("Move"); err != nil {
		return false, err
	}
	if i < 0 || i >= len(s.rows) {
		return false, NewErrInvalidPosition(fmt.Sprintf("row %d out of range [0,%d)", i, len(s.rows)))
	}
	return s.seek(i), nil
}

// Set changes a value of the current row; requires the RW policy.
func (s *RowSet) Set(name string, v interface{}) error {
	if s.access != AccessReadWrite {
		return NewErrReadOnly(s.dt.Name, "set "+name)
	}
	row, err := s.row()
	if err != nil {
		return err
	}
	if !s.dt.HasProperty(name) {
		return NewErrPropertyNotFound(name, s.dt.Name)
	}
	row[name] = v
	return nil
}

// Extent scans every row regardless of the cursor position.
func (s *RowSet) Extent(property string) (geometry.Envelope, error) {
	name, err := s.geometryProperty(property)
	if err != nil {
		return geometry.EmptyEnvelope(), err
	}
	return ExtentOf(s.rows, name)
}

func (s *RowSet) Close() error {
	s.closed = true
	s.rows = nil
	s.seek(-1)
	return nil
}

// ExtentOf expands the envelopes of property over rows.
func ExtentOf(rows []Row, property string) (geometry.Envelope, error) {
	env := geometry.EmptyEnvelope()
	for _, row := range rows {
		g, err := geometry.FromValue(row[property])
		if err != nil {
			return env, err
		}
		if g == nil {
			continue
		}
		if e, ok := geometry.EnvelopeOf(g); ok {
			env = env.Expand(e)
		}
	}
	return env, nil
}

// RowIterator yields rows until io.EOF.
type RowIterator interface {
	Next() (Row, error)
	Close() error
}

// StreamSet is a forward-only DataSet reading from a RowIterator.
type StreamSet struct {
	rowAccess
	it     RowIterator
	access AccessPolicy
	pos    int
	peeked Row
	done   bool
	err    error
}

// NewStreamSet wraps it; the iterator is closed with the dataset.
func NewStreamSet(driver DataSourceType, dt *DataSetType, it RowIterator, access AccessPolicy) *StreamSet {
	return &StreamSet{rowAccess: rowAccess{driver: driver, dt: dt}, it: it, access: access, pos: -1}
}

func (s *StreamSet) TraverseType() TraverseType { return ForwardOnly }
func (s *StreamSet) AccessPolicy() AccessPolicy { return s.access }
func (s *StreamSet) Size() int                  { return -1 }
func (s *StreamSet) Position() int              { return s.pos }
func (s *StreamSet) IsBeforeBegin() bool        { return s.pos < 0 }
func (s *StreamSet) IsAtBegin() bool            { return s.pos == 0 && s.onRow }
func (s *StreamSet) IsAfterEnd() bool           { return s.done && !s.onRow && s.pos >= 0 }
func (s *StreamSet) Err() error                 { return s.err }

func (s *StreamSet) fetch() (Row, bool) {
	if s.peeked != nil {
		row := s.peeked
		s.peeked = nil
		return row, true
	}
	if s.done {
		return nil, false
	}
	row, err := s.it.Next()
	if err != nil {
		s.done = true
		if err != io.EOF {
			s.err = err
		}
		return nil, false
	}
	return row, true
}

func (s *StreamSet) peek() bool {
	if s.peeked != nil {
		return true
	}
	row, ok := s.fetch()
	if ok {
		s.peeked = row
	}
	return ok
}

func (s *StreamSet) IsEmpty() bool {
	if s.pos >= 0 {
		return false
	}
	return !s.peek()
}

func (s *StreamSet) IsAtEnd() bool {
	return s.onRow && !s.peek()
}

func (s *StreamSet) MoveNext() bool {
	if s.done && s.peeked == nil && !s.onRow && s.pos >= 0 {
		return false
	}
	row, ok := s.fetch()
	s.pos++
	s.onRow = ok
	s.current = row
	return ok
}

func (s *StreamSet) MovePrevious() (bool, error) {
	return false, NewErrUnsupportedOperation(s.driver, "MovePrevious on a forward-only dataset")
}

func (s *StreamSet) MoveFirst() (bool, error) {
	switch {
	case s.pos < 0:
		return s.MoveNext(), nil
	case s.pos == 0:
		return s.onRow, nil
	}
	return false, NewErrUnsupportedOperation(s.driver, "MoveFirst on a forward-only dataset")
}

func (s *StreamSet) MoveLast() (bool, error) {
	return false, NewErrUnsupportedOperation(s.driver, "MoveLast on a forward-only dataset")
}

func (s *StreamSet) MoveBeforeFirst() error {
	return NewErrUnsupportedOperation(s.driver, "MoveBeforeFirst on a forward-only dataset")
}

func (s *StreamSet) Move(int) (bool, error) {
	return false, NewErrUnsupportedOperation(s.driver, "Move on a forward-only dataset")
}

func (s *StreamSet) Extent(string) (geometry.Envelope, error) {
	return geometry.EmptyEnvelope(), NewErrUnsupportedOperation(s.driver, "Extent on a forward-only dataset")
}

func (s *StreamSet) Close() error {
	s.done = true
	s.onRow = false
	s.current = nil
	s.peeked = nil
	return s.it.Close()
}

// SliceIterator adapts a slice to RowIterator.
type SliceIterator struct {
	rows []Row
	i    int
}

func NewSliceIterator(rows []Row) *SliceIterator { return &SliceIterator{rows: rows} }

func (it *SliceIterator) Next() (Row, error) {
	if it.i >= len(it.rows) {
		return nil, io.EOF
	}
	row := it.rows[it.i]
	it.i++
	return row, nil
}

func (it *SliceIterator) Close() error { return nil }
