package geometry

import (
	"fmt"
	"math"
	"sort"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"github.com/twpayne/go-geom/xy/lineintersection"
	"github.com/twpayne/go-geom/xy/lineintersector"
	"github.com/twpayne/go-geom/xy/location"
)

const boundaryTolerance = 1e-10

var intersector = lineintersector.RobustLineIntersector{}

type segment struct {
	a, b geom.Coord
	ring bool // part of a polygon boundary
}

// shape is the flattened view of a geometry used by the predicates.
type shape struct {
	points   []geom.Coord
	lines    [][]geom.Coord
	polygons [][][]float64 // flat XY rings, exterior first
	edges    []segment
	vertices []geom.Coord
	dim      int
	env      Envelope
}

// Relate evaluates rel(a, b).
func Relate(a, b geom.T, rel SpatialRelation) (bool, error) {
	if a == nil || b == nil {
		return false, nil
	}
	sa, err := toShape(a)
	if err != nil {
		return false, err
	}
	sb, err := toShape(b)
	if err != nil {
		return false, err
	}

	switch rel {
	case Intersects:
		return sa.intersects(sb), nil
	case Disjoint:
		return !sa.intersects(sb), nil
	case Touches:
		return sa.touches(sb), nil
	case Overlaps:
		return sa.overlaps(sb), nil
	case Crosses:
		return sa.crosses(sb), nil
	case Within:
		return sb.contains(sa), nil
	case CoveredBy:
		return sb.covers(sa), nil
	case Contains:
		return sa.contains(sb), nil
	case Covers:
		return sa.covers(sb), nil
	case Equals:
		return sa.covers(sb) && sb.covers(sa), nil
	default:
		return false, fmt.Errorf("unsupported spatial relation: %s", rel)
	}
}

// RelateEnvelope evaluates rel(g, env) with env promoted to a polygon.
func RelateEnvelope(g geom.T, env Envelope, rel SpatialRelation) (bool, error) {
	return Relate(g, env.Polygon(0), rel)
}

func toShape(g geom.T) (*shape, error) {
	s := &shape{}
	if err := s.add(g); err != nil {
		return nil, err
	}
	s.env = EmptyEnvelope()
	for _, p := range s.vertices {
		s.env = s.env.Expand(Envelope{MinX: p[0], MinY: p[1], MaxX: p[0], MaxY: p[1]})
	}
	return s, nil
}

func (s *shape) add(g geom.T) error {
	switch v := g.(type) {
	case *geom.Point:
		if v.Empty() {
			return nil
		}
		p := geom.Coord{v.X(), v.Y()}
		s.points = append(s.points, p)
		s.vertices = append(s.vertices, p)
	case *geom.MultiPoint:
		for i := 0; i < v.NumPoints(); i++ {
			if err := s.add(v.Point(i)); err != nil {
				return err
			}
		}
	case *geom.LineString:
		pts := xyCoords(v.Coords())
		if len(pts) == 0 {
			return nil
		}
		s.lines = append(s.lines, pts)
		s.addPath(pts, false)
		s.raise(1)
	case *geom.MultiLineString:
		for i := 0; i < v.NumLineStrings(); i++ {
			if err := s.add(v.LineString(i)); err != nil {
				return err
			}
		}
	case *geom.Polygon:
		var rings [][]float64
		for i := 0; i < v.NumLinearRings(); i++ {
			pts := xyCoords(v.LinearRing(i).Coords())
			if len(pts) == 0 {
				continue
			}
			if !sameCoord(pts[0], pts[len(pts)-1]) {
				pts = append(pts, pts[0])
			}
			s.addPath(pts, true)
			flat := make([]float64, 0, 2*len(pts))
			for _, p := range pts {
				flat = append(flat, p[0], p[1])
			}
			rings = append(rings, flat)
		}
		if len(rings) > 0 {
			s.polygons = append(s.polygons, rings)
		}
		s.raise(2)
	case *geom.MultiPolygon:
		for i := 0; i < v.NumPolygons(); i++ {
			if err := s.add(v.Polygon(i)); err != nil {
				return err
			}
		}
	case *geom.GeometryCollection:
		for _, child := range v.Geoms() {
			if err := s.add(child); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unsupported geometry type %T", g)
	}
	return nil
}

func (s *shape) raise(dim int) {
	if dim > s.dim {
		s.dim = dim
	}
}

func (s *shape) addPath(pts []geom.Coord, ring bool) {
	s.vertices = append(s.vertices, pts...)
	for i := 1; i < len(pts); i++ {
		s.edges = append(s.edges, segment{a: pts[i-1], b: pts[i], ring: ring})
	}
}

func xyCoords(coords []geom.Coord) []geom.Coord {
	pts := make([]geom.Coord, 0, len(coords))
	for _, c := range coords {
		pts = append(pts, geom.Coord{c.X(), c.Y()})
	}
	return pts
}

func sameCoord(a, b geom.Coord) bool {
	return a[0] == b[0] && a[1] == b[1]
}

// ==================== Point location ====================

// locate classifies p against the whole shape: interior wins over boundary.
func (s *shape) locate(p geom.Coord) location.Type {
	best := location.Exterior
	for _, poly := range s.polygons {
		switch locateInPolygon(poly, p) {
		case location.Interior:
			return location.Interior
		case location.Boundary:
			best = location.Boundary
		}
	}
	for _, line := range s.lines {
		closed := len(line) > 1 && sameCoord(line[0], line[len(line)-1])
		for i := 1; i < len(line); i++ {
			if !onSegment(p, line[i-1], line[i]) {
				continue
			}
			if !closed && (near(p, line[0]) || near(p, line[len(line)-1])) {
				best = location.Boundary
				continue
			}
			return location.Interior
		}
		if len(line) == 1 && near(p, line[0]) {
			return location.Interior
		}
	}
	for _, q := range s.points {
		if near(p, q) {
			return location.Interior
		}
	}
	return best
}

// inArea reports whether p lies strictly inside one of the polygons.
func (s *shape) inArea(p geom.Coord) bool {
	for _, poly := range s.polygons {
		if locateInPolygon(poly, p) == location.Interior {
			return true
		}
	}
	return false
}

func locateInPolygon(rings [][]float64, p geom.Coord) location.Type {
	for _, r := range rings {
		if onRing(r, p) {
			return location.Boundary
		}
	}
	if xy.LocatePointInRing(geom.XY, p, rings[0]) == location.Exterior {
		return location.Exterior
	}
	for _, hole := range rings[1:] {
		if xy.LocatePointInRing(geom.XY, p, hole) != location.Exterior {
			return location.Exterior
		}
	}
	return location.Interior
}

func onRing(r []float64, p geom.Coord) bool {
	for i := 2; i+1 < len(r); i += 2 {
		if onSegment(p, geom.Coord{r[i-2], r[i-1]}, geom.Coord{r[i], r[i+1]}) {
			return true
		}
	}
	return false
}

func onSegment(p, a, b geom.Coord) bool {
	return xy.DistanceFromPointToLine(p, a, b) < boundaryTolerance
}

func near(a, b geom.Coord) bool {
	return math.Hypot(a[0]-b[0], a[1]-b[1]) < boundaryTolerance
}

// ==================== Segment arrangement ====================

func boxesMeet(s, t segment) bool {
	return math.Min(s.a[0], s.b[0]) <= math.Max(t.a[0], t.b[0]) &&
		math.Min(t.a[0], t.b[0]) <= math.Max(s.a[0], s.b[0]) &&
		math.Min(s.a[1], s.b[1]) <= math.Max(t.a[1], t.b[1]) &&
		math.Min(t.a[1], t.b[1]) <= math.Max(s.a[1], s.b[1])
}

// crossesProperly: the segments meet in a single point interior to both.
func crossesProperly(s, t segment) bool {
	if !boxesMeet(s, t) {
		return false
	}
	o1 := xy.OrientationIndex(t.a, t.b, s.a)
	o2 := xy.OrientationIndex(t.a, t.b, s.b)
	o3 := xy.OrientationIndex(s.a, s.b, t.a)
	o4 := xy.OrientationIndex(s.a, s.b, t.b)
	return o1*o2 < 0 && o3*o4 < 0
}

// pieces splits s where it meets any of others and returns the midpoint of
// every resulting piece. Each piece lies entirely on one side of others.
func pieces(s segment, others []segment) []geom.Coord {
	dx, dy := s.b[0]-s.a[0], s.b[1]-s.a[1]
	length2 := dx*dx + dy*dy
	if length2 == 0 {
		return nil
	}
	ts := []float64{0, 1}
	for _, o := range others {
		if !boxesMeet(s, o) {
			continue
		}
		res := lineintersector.LineIntersectsLine(intersector, s.a, s.b, o.a, o.b)
		if !res.HasIntersection() {
			continue
		}
		for _, c := range res.Intersection() {
			t := ((c[0]-s.a[0])*dx + (c[1]-s.a[1])*dy) / length2
			if t > 0 && t < 1 {
				ts = append(ts, t)
			}
		}
	}
	sort.Float64s(ts)
	mids := make([]geom.Coord, 0, len(ts)-1)
	for i := 1; i < len(ts); i++ {
		if ts[i]-ts[i-1] < boundaryTolerance {
			continue
		}
		t := (ts[i] + ts[i-1]) / 2
		mids = append(mids, geom.Coord{s.a[0] + t*dx, s.a[1] + t*dy})
	}
	return mids
}

func collinearOverlap(s, t segment) bool {
	if !boxesMeet(s, t) {
		return false
	}
	res := lineintersector.LineIntersectsLine(intersector, s.a, s.b, t.a, t.b)
	if res.Type() != lineintersection.CollinearIntersection {
		return false
	}
	pts := res.Intersection()
	return len(pts) == 2 && !near(pts[0], pts[1])
}

// interiorPoint returns a point strictly inside the polygon, found on a
// horizontal scan line that avoids every vertex.
func interiorPoint(rings [][]float64) (geom.Coord, bool) {
	ext := rings[0]
	minY, maxY := math.Inf(1), math.Inf(-1)
	for i := 1; i < len(ext); i += 2 {
		minY = math.Min(minY, ext[i])
		maxY = math.Max(maxY, ext[i])
	}
	if !(maxY > minY) {
		return nil, false
	}
	center := (minY + maxY) / 2
	lo, hi := minY, maxY
	for _, r := range rings {
		for i := 1; i < len(r); i += 2 {
			y := r[i]
			if y <= center && y > lo {
				lo = y
			}
			if y > center && y < hi {
				hi = y
			}
		}
	}
	scan := (lo + hi) / 2

	var xs []float64
	for _, r := range rings {
		for i := 2; i+1 < len(r); i += 2 {
			x1, y1, x2, y2 := r[i-2], r[i-1], r[i], r[i+1]
			if (y1 > scan) != (y2 > scan) {
				xs = append(xs, x1+(scan-y1)*(x2-x1)/(y2-y1))
			}
		}
	}
	sort.Float64s(xs)
	var (
		best  float64
		point geom.Coord
	)
	for i := 0; i+1 < len(xs); i += 2 {
		if w := xs[i+1] - xs[i]; w > best {
			best = w
			point = geom.Coord{(xs[i] + xs[i+1]) / 2, scan}
		}
	}
	return point, best > 0
}

// ==================== Predicates ====================

func (s *shape) intersects(other *shape) bool {
	if !s.env.Intersects(other.env) {
		return false
	}
	for _, e1 := range s.edges {
		for _, e2 := range other.edges {
			if !boxesMeet(e1, e2) {
				continue
			}
			res := lineintersector.LineIntersectsLine(intersector, e1.a, e1.b, e2.a, e2.b)
			if res.HasIntersection() {
				return true
			}
		}
	}
	for _, p := range other.vertices {
		if s.locate(p) != location.Exterior {
			return true
		}
	}
	for _, p := range s.vertices {
		if other.locate(p) != location.Exterior {
			return true
		}
	}
	return false
}

// interiorsIntersect reports whether the interiors of s and other share a
// point.
func (s *shape) interiorsIntersect(other *shape) bool {
	if !s.env.Intersects(other.env) {
		return false
	}
	for _, e1 := range s.edges {
		for _, e2 := range other.edges {
			if crossesProperly(e1, e2) {
				return true
			}
		}
	}
	if s.reachesInterior(other) || other.reachesInterior(s) {
		return true
	}
	for _, poly := range s.polygons {
		if p, ok := interiorPoint(poly); ok && other.locate(p) != location.Exterior {
			return true
		}
	}
	for _, poly := range other.polygons {
		if p, ok := interiorPoint(poly); ok && s.locate(p) != location.Exterior {
			return true
		}
	}
	return false
}

// reachesInterior tests the vertices of s and the pieces of its edges cut
// by other. A point of s inside the area of other, or interior to both,
// puts interior points of s in the interior of other.
func (s *shape) reachesInterior(other *shape) bool {
	hit := func(p geom.Coord) bool {
		if other.inArea(p) {
			return true
		}
		return other.locate(p) == location.Interior && s.locate(p) == location.Interior
	}
	for _, v := range s.vertices {
		if hit(v) {
			return true
		}
	}
	for _, e := range s.edges {
		for _, m := range pieces(e, other.edges) {
			if hit(m) {
				return true
			}
		}
	}
	return false
}

// covers reports whether no point of other lies outside s.
func (s *shape) covers(other *shape) bool {
	if len(other.vertices) == 0 || other.dim > s.dim || !s.env.Contains(other.env) {
		return false
	}
	for _, v := range other.vertices {
		if s.locate(v) == location.Exterior {
			return false
		}
	}
	for _, e := range other.edges {
		for _, m := range pieces(e, s.edges) {
			if s.locate(m) == location.Exterior {
				return false
			}
		}
	}
	if len(other.polygons) == 0 {
		return true
	}
	// boundary of s inside the area of other means other reaches past s
	for _, e := range s.edges {
		if !e.ring {
			continue
		}
		if other.inArea(e.a) {
			return false
		}
		for _, m := range pieces(e, other.edges) {
			if other.inArea(m) {
				return false
			}
		}
	}
	return true
}

func (s *shape) contains(other *shape) bool {
	return s.covers(other) && s.interiorsIntersect(other)
}

// touches: the shapes meet but their interiors do not.
func (s *shape) touches(other *shape) bool {
	if s.dim == 0 && other.dim == 0 {
		return false
	}
	return s.intersects(other) && !s.interiorsIntersect(other)
}

func (s *shape) overlaps(other *shape) bool {
	if s.dim != other.dim {
		return false
	}
	if s.dim == 1 && !s.sharesLine(other) {
		return false
	}
	return s.interiorsIntersect(other) && !s.covers(other) && !other.covers(s)
}

func (s *shape) crosses(other *shape) bool {
	switch {
	case s.dim == 2 && other.dim == 2, s.dim == 0 && other.dim == 0:
		return false
	case s.dim == 1 && other.dim == 1:
		return s.interiorsIntersect(other) && !s.sharesLine(other)
	case s.dim < other.dim:
		return s.interiorsIntersect(other) && !other.covers(s)
	default:
		return s.interiorsIntersect(other) && !s.covers(other)
	}
}

// sharesLine reports whether two edges run along each other.
func (s *shape) sharesLine(other *shape) bool {
	for _, e1 := range s.edges {
		for _, e2 := range other.edges {
			if collinearOverlap(e1, e2) {
				return true
			}
		}
	}
	return false
}
