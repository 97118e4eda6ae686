package memory

import (
	"math"

	"github.com/kasuganosora/geoaccess/pkg/geometry"
)

const (
	rtreeMinEntries = 2
	rtreeMaxEntries = 8
)

// RTreeIndex is an in-memory R-tree over row ids with quadratic split. It
// is not safe for concurrent mutation; the owning table serialises access.
type RTreeIndex struct {
	root *rtreeNode
	size int
}

type rtreeNode struct {
	bbox     geometry.Envelope
	children []*rtreeNode // non-nil for internal nodes
	entries  []rtreeEntry // non-nil for leaf nodes
	isLeaf   bool
}

type rtreeEntry struct {
	bbox  geometry.Envelope
	rowID int64
}

// NewRTreeIndex creates an empty index.
func NewRTreeIndex() *RTreeIndex {
	return &RTreeIndex{root: &rtreeNode{isLeaf: true, bbox: geometry.EmptyEnvelope()}}
}

// Insert adds one entry.
func (idx *RTreeIndex) Insert(bbox geometry.Envelope, rowID int64) {
	entry := rtreeEntry{bbox: bbox, rowID: rowID}
	if split := idx.insert(idx.root, entry); split != nil {
		newRoot := &rtreeNode{children: []*rtreeNode{idx.root, split}}
		newRoot.bbox = recalcBBox(newRoot)
		idx.root = newRoot
	}
	idx.size++
}

// Delete removes the entry of rowID stored under bbox.
func (idx *RTreeIndex) Delete(bbox geometry.Envelope, rowID int64) bool {
	removed := idx.delete(idx.root, bbox, rowID)
	if !removed {
		return false
	}
	idx.size--
	for !idx.root.isLeaf && len(idx.root.children) == 1 {
		idx.root = idx.root.children[0]
	}
	if !idx.root.isLeaf && len(idx.root.children) == 0 {
		idx.root = &rtreeNode{isLeaf: true, bbox: geometry.EmptyEnvelope()}
	}
	return true
}

// SearchIntersects returns the row ids whose boxes intersect bbox.
func (idx *RTreeIndex) SearchIntersects(bbox geometry.Envelope) []int64 {
	var results []int64
	idx.searchIntersects(idx.root, bbox, &results)
	return results
}

// SearchContained returns the row ids whose boxes lie inside bbox.
func (idx *RTreeIndex) SearchContained(bbox geometry.Envelope) []int64 {
	var results []int64
	idx.searchContained(idx.root, bbox, &results)
	return results
}

// Bounds returns the box covering every entry.
func (idx *RTreeIndex) Bounds() (geometry.Envelope, bool) {
	if idx.size == 0 {
		return geometry.EmptyEnvelope(), false
	}
	return idx.root.bbox, true
}

// Size returns the number of entries in the index.
func (idx *RTreeIndex) Size() int { return idx.size }

// ==================== R-Tree Core Operations ====================

// insert adds entry below node and returns the sibling produced when node
// had to split.
func (idx *RTreeIndex) insert(node *rtreeNode, entry rtreeEntry) *rtreeNode {
	if node.isLeaf {
		node.entries = append(node.entries, entry)
		node.bbox = node.bbox.Expand(entry.bbox)
		if len(node.entries) > rtreeMaxEntries {
			return splitLeaf(node)
		}
		return nil
	}

	// Choose the child that needs the least enlargement
	bestIdx := 0
	bestEnlargement := math.MaxFloat64
	bestArea := math.MaxFloat64
	for i, child := range node.children {
		enlargement := child.bbox.Enlargement(entry.bbox)
		area := child.bbox.Area()
		if enlargement < bestEnlargement || (enlargement == bestEnlargement && area < bestArea) {
			bestEnlargement = enlargement
			bestArea = area
			bestIdx = i
		}
	}

	if split := idx.insert(node.children[bestIdx], entry); split != nil {
		node.children = append(node.children, split)
	}
	node.bbox = recalcBBox(node)
	if len(node.children) > rtreeMaxEntries {
		return splitInternal(node)
	}
	return nil
}

func (idx *RTreeIndex) delete(node *rtreeNode, bbox geometry.Envelope, rowID int64) bool {
	if node.isLeaf {
		for i, e := range node.entries {
			if e.rowID == rowID && e.bbox == bbox {
				node.entries = append(node.entries[:i], node.entries[i+1:]...)
				node.bbox = recalcBBox(node)
				return true
			}
		}
		return false
	}

	for i, child := range node.children {
		if !child.bbox.Intersects(bbox) {
			continue
		}
		if idx.delete(child, bbox, rowID) {
			if (child.isLeaf && len(child.entries) == 0) || (!child.isLeaf && len(child.children) == 0) {
				node.children = append(node.children[:i], node.children[i+1:]...)
			}
			node.bbox = recalcBBox(node)
			return true
		}
	}
	return false
}

func (idx *RTreeIndex) searchIntersects(node *rtreeNode, bbox geometry.Envelope, results *[]int64) {
	if node.isLeaf {
		for _, e := range node.entries {
			if e.bbox.Intersects(bbox) {
				*results = append(*results, e.rowID)
			}
		}
		return
	}
	for _, child := range node.children {
		if child.bbox.Intersects(bbox) {
			idx.searchIntersects(child, bbox, results)
		}
	}
}

func (idx *RTreeIndex) searchContained(node *rtreeNode, bbox geometry.Envelope, results *[]int64) {
	if node.isLeaf {
		for _, e := range node.entries {
			if bbox.Contains(e.bbox) {
				*results = append(*results, e.rowID)
			}
		}
		return
	}
	for _, child := range node.children {
		if child.bbox.Intersects(bbox) {
			idx.searchContained(child, bbox, results)
		}
	}
}

// ==================== Node Splitting (Quadratic Split) ====================

// splitLeaf keeps one group in node and returns the other.
func splitLeaf(node *rtreeNode) *rtreeNode {
	entries := node.entries
	boxes := make([]geometry.Envelope, len(entries))
	for i, e := range entries {
		boxes[i] = e.bbox
	}
	left, right := distribute(boxes)

	node.entries = make([]rtreeEntry, 0, len(left))
	for _, i := range left {
		node.entries = append(node.entries, entries[i])
	}
	sibling := &rtreeNode{isLeaf: true, entries: make([]rtreeEntry, 0, len(right))}
	for _, i := range right {
		sibling.entries = append(sibling.entries, entries[i])
	}
	node.bbox = recalcBBox(node)
	sibling.bbox = recalcBBox(sibling)
	return sibling
}

func splitInternal(node *rtreeNode) *rtreeNode {
	children := node.children
	boxes := make([]geometry.Envelope, len(children))
	for i, c := range children {
		boxes[i] = c.bbox
	}
	left, right := distribute(boxes)

	node.children = make([]*rtreeNode, 0, len(left))
	for _, i := range left {
		node.children = append(node.children, children[i])
	}
	sibling := &rtreeNode{children: make([]*rtreeNode, 0, len(right))}
	for _, i := range right {
		sibling.children = append(sibling.children, children[i])
	}
	node.bbox = recalcBBox(node)
	sibling.bbox = recalcBBox(sibling)
	return sibling
}

// distribute splits box positions into two groups of at least
// rtreeMinEntries each, seeded by the pair that wastes the most area.
func distribute(boxes []geometry.Envelope) ([]int, []int) {
	seed1, seed2 := pickSeeds(boxes)
	left, right := []int{seed1}, []int{seed2}
	leftBox, rightBox := boxes[seed1], boxes[seed2]

	remaining := len(boxes) - 2
	for i, b := range boxes {
		if i == seed1 || i == seed2 {
			continue
		}
		// Ensure minimum entries
		switch {
		case len(left)+remaining <= rtreeMinEntries:
			left, leftBox = append(left, i), leftBox.Expand(b)
		case len(right)+remaining <= rtreeMinEntries:
			right, rightBox = append(right, i), rightBox.Expand(b)
		default:
			enlargeLeft := leftBox.Enlargement(b)
			enlargeRight := rightBox.Enlargement(b)
			if enlargeLeft < enlargeRight || (enlargeLeft == enlargeRight && leftBox.Area() <= rightBox.Area()) {
				left, leftBox = append(left, i), leftBox.Expand(b)
			} else {
				right, rightBox = append(right, i), rightBox.Expand(b)
			}
		}
		remaining--
	}
	return left, right
}

// pickSeeds selects two boxes that would waste the most area if grouped together.
func pickSeeds(boxes []geometry.Envelope) (int, int) {
	maxWaste := -math.MaxFloat64
	s1, s2 := 0, 1
	for i := 0; i < len(boxes); i++ {
		for j := i + 1; j < len(boxes); j++ {
			combined := boxes[i].Expand(boxes[j])
			waste := combined.Area() - boxes[i].Area() - boxes[j].Area()
			if waste > maxWaste {
				maxWaste = waste
				s1, s2 = i, j
			}
		}
	}
	return s1, s2
}

// ==================== Helpers ====================

func recalcBBox(node *rtreeNode) geometry.Envelope {
	bb := geometry.EmptyEnvelope()
	if node.isLeaf {
		for _, e := range node.entries {
			bb = bb.Expand(e.bbox)
		}
		return bb
	}
	for _, c := range node.children {
		bb = bb.Expand(c.bbox)
	}
	return bb
}
