package geometry

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/twpayne/go-geom"
)

// Envelope is an axis-aligned bounding box.
type Envelope struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

// NewEnvelope creates an envelope, normalising the corner order.
func NewEnvelope(x1, y1, x2, y2 float64) Envelope {
	return Envelope{
		MinX: math.Min(x1, x2),
		MinY: math.Min(y1, y2),
		MaxX: math.Max(x1, x2),
		MaxY: math.Max(y1, y2),
	}
}

// EmptyEnvelope returns an envelope that any Expand call will replace.
func EmptyEnvelope() Envelope {
	return Envelope{
		MinX: math.Inf(1),
		MinY: math.Inf(1),
		MaxX: math.Inf(-1),
		MaxY: math.Inf(-1),
	}
}

// EnvelopeOf returns the bounds of g; ok is false for empty geometries.
func EnvelopeOf(g geom.T) (Envelope, bool) {
	if g == nil || g.Empty() {
		return EmptyEnvelope(), false
	}
	b := g.Bounds()
	if b == nil || b.IsEmpty() {
		return EmptyEnvelope(), false
	}
	return Envelope{MinX: b.Min(0), MinY: b.Min(1), MaxX: b.Max(0), MaxY: b.Max(1)}, true
}

// IsValid reports whether the corners are ordered.
func (e Envelope) IsValid() bool {
	return e.MinX <= e.MaxX && e.MinY <= e.MaxY
}

// Intersects reports whether the two boxes share at least one point.
func (e Envelope) Intersects(other Envelope) bool {
	return e.MinX <= other.MaxX && e.MaxX >= other.MinX &&
		e.MinY <= other.MaxY && e.MaxY >= other.MinY
}

// Contains reports whether other lies entirely inside e.
func (e Envelope) Contains(other Envelope) bool {
	return e.MinX <= other.MinX && e.MaxX >= other.MaxX &&
		e.MinY <= other.MinY && e.MaxY >= other.MaxY
}

// Within reports whether e lies entirely inside other.
func (e Envelope) Within(other Envelope) bool {
	return other.Contains(e)
}

// ContainsPoint reports whether (x, y) lies inside or on the box.
func (e Envelope) ContainsPoint(x, y float64) bool {
	return x >= e.MinX && x <= e.MaxX && y >= e.MinY && y <= e.MaxY
}

// Expand returns the smallest envelope covering e and other.
func (e Envelope) Expand(other Envelope) Envelope {
	if !other.IsValid() {
		return e
	}
	if !e.IsValid() {
		return other
	}
	return Envelope{
		MinX: math.Min(e.MinX, other.MinX),
		MinY: math.Min(e.MinY, other.MinY),
		MaxX: math.Max(e.MaxX, other.MaxX),
		MaxY: math.Max(e.MaxY, other.MaxY),
	}
}

// Intersection returns the overlapping part; ok is false when the boxes are disjoint.
func (e Envelope) Intersection(other Envelope) (Envelope, bool) {
	if !e.Intersects(other) {
		return EmptyEnvelope(), false
	}
	return Envelope{
		MinX: math.Max(e.MinX, other.MinX),
		MinY: math.Max(e.MinY, other.MinY),
		MaxX: math.Min(e.MaxX, other.MaxX),
		MaxY: math.Min(e.MaxY, other.MaxY),
	}, true
}

func (e Envelope) Width() float64  { return e.MaxX - e.MinX }
func (e Envelope) Height() float64 { return e.MaxY - e.MinY }

// Area returns the box area, zero for invalid boxes.
func (e Envelope) Area() float64 {
	if !e.IsValid() {
		return 0
	}
	return e.Width() * e.Height()
}

// Enlargement is the area increase needed to cover other.
func (e Envelope) Enlargement(other Envelope) float64 {
	return e.Expand(other).Area() - e.Area()
}

// Center returns the centre point of the box.
func (e Envelope) Center() (float64, float64) {
	return (e.MinX + e.MaxX) / 2, (e.MinY + e.MaxY) / 2
}

// Polygon converts the envelope into a closed counter-clockwise ring.
func (e Envelope) Polygon(srid int) *geom.Polygon {
	p := geom.NewPolygonFlat(geom.XY, []float64{
		e.MinX, e.MinY,
		e.MaxX, e.MinY,
		e.MaxX, e.MaxY,
		e.MinX, e.MaxY,
		e.MinX, e.MinY,
	}, []int{10})
	if srid != 0 {
		p.SetSRID(srid)
	}
	return p
}

// BBox renders the envelope in OGC request order: minx,miny,maxx,maxy.
func (e Envelope) BBox() string {
	return fmt.Sprintf("%g,%g,%g,%g", e.MinX, e.MinY, e.MaxX, e.MaxY)
}

// ParseBBox parses "minx,miny,maxx,maxy".
func ParseBBox(s string) (Envelope, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Envelope{}, fmt.Errorf("bbox must be minx,miny,maxx,maxy, got %q", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return Envelope{}, fmt.Errorf("invalid bbox coordinate %q", p)
		}
		v[i] = f
	}
	return NewEnvelope(v[0], v[1], v[2], v[3]), nil
}

func (e Envelope) String() string {
	if !e.IsValid() {
		return "ENVELOPE(EMPTY)"
	}
	return fmt.Sprintf("ENVELOPE(%g %g, %g %g)", e.MinX, e.MinY, e.MaxX, e.MaxY)
}
