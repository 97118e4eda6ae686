package geometry

import (
	"fmt"
	"strings"
)

// SpatialRelation names a binary topological predicate.
type SpatialRelation int

const (
	Intersects SpatialRelation = iota
	Disjoint
	Touches
	Overlaps
	Crosses
	Within
	Contains
	Covers
	CoveredBy
	Equals
)

var relationNames = map[SpatialRelation]string{
	Intersects: "INTERSECTS",
	Disjoint:   "DISJOINT",
	Touches:    "TOUCHES",
	Overlaps:   "OVERLAPS",
	Crosses:    "CROSSES",
	Within:     "WITHIN",
	Contains:   "CONTAINS",
	Covers:     "COVERS",
	CoveredBy:  "COVEREDBY",
	Equals:     "EQUALS",
}

var relationFunctions = map[SpatialRelation]string{
	Intersects: "ST_Intersects",
	Disjoint:   "ST_Disjoint",
	Touches:    "ST_Touches",
	Overlaps:   "ST_Overlaps",
	Crosses:    "ST_Crosses",
	Within:     "ST_Within",
	Contains:   "ST_Contains",
	Covers:     "ST_Covers",
	CoveredBy:  "ST_CoveredBy",
	Equals:     "ST_Equals",
}

func (r SpatialRelation) String() string {
	if s, ok := relationNames[r]; ok {
		return s
	}
	return fmt.Sprintf("SpatialRelation(%d)", int(r))
}

// FunctionName returns the ST_ function implementing the relation.
func (r SpatialRelation) FunctionName() string {
	return relationFunctions[r]
}

// ParseSpatialRelation accepts both "INTERSECTS" and "ST_Intersects" forms.
func ParseSpatialRelation(s string) (SpatialRelation, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	name = strings.TrimPrefix(name, "ST_")
	for r, n := range relationNames {
		if n == name {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown spatial relation: %s", s)
}

// RelationFromFunction maps an ST_ function name back to its relation.
func RelationFromFunction(fn string) (SpatialRelation, bool) {
	if !strings.HasPrefix(strings.ToUpper(fn), "ST_") {
		return 0, false
	}
	r, err := ParseSpatialRelation(fn)
	return r, err == nil
}
