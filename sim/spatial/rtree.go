// Package spatial implements a point R-tree used to answer radius and
// rectangle queries over the 2-D positions of tracked exercise elements.
//
// The tree keeps its balanced node layout when serialized, so a persisted
// blob is restored without re-inserting any entry. The layout is only valid
// for the branching factor it was built with; see Version and MaxEntries.
package spatial

import (
	"container/heap"
	"math"
	"slices"
	"sort"
)

const (
	// Version identifies the persisted node layout together with MaxEntries.
	// Changing either requires migrating every persisted tree.
	Version = 1

	// MaxEntries is the branching factor pinned to Version.
	MaxEntries = 9

	// minEntries follows the usual 40% fill factor.
	minEntries = 4
)

// Point is a position on the exercise map.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is an axis-aligned rectangle. Min coordinates are inclusive, as are
// max coordinates.
type Rect struct {
	MinX float64 `json:"minX"`
	MinY float64 `json:"minY"`
	MaxX float64 `json:"maxX"`
	MaxY float64 `json:"maxY"`
}

// RectAround returns the bounding square of the circle at center with the given radius.
func RectAround(center Point, radius float64) Rect {
	return Rect{MinX: center.X - radius, MinY: center.Y - radius, MaxX: center.X + radius, MaxY: center.Y + radius}
}

func pointRect(p Point) Rect {
	return Rect{MinX: p.X, MinY: p.Y, MaxX: p.X, MaxY: p.Y}
}

// ContainsPoint reports whether p lies inside r (borders included).
func (r Rect) ContainsPoint(p Point) bool {
	return p.X >= r.MinX && p.X <= r.MaxX && p.Y >= r.MinY && p.Y <= r.MaxY
}

func (r Rect) contains(o Rect) bool {
	return r.MinX <= o.MinX && r.MinY <= o.MinY && o.MaxX <= r.MaxX && o.MaxY <= r.MaxY
}

func (r Rect) intersects(o Rect) bool {
	return o.MinX <= r.MaxX && o.MinY <= r.MaxY && o.MaxX >= r.MinX && o.MaxY >= r.MinY
}

func (r Rect) extend(o Rect) Rect {
	return Rect{
		MinX: math.Min(r.MinX, o.MinX),
		MinY: math.Min(r.MinY, o.MinY),
		MaxX: math.Max(r.MaxX, o.MaxX),
		MaxY: math.Max(r.MaxY, o.MaxY),
	}
}

func (r Rect) area() float64   { return (r.MaxX - r.MinX) * (r.MaxY - r.MinY) }
func (r Rect) margin() float64 { return (r.MaxX - r.MinX) + (r.MaxY - r.MinY) }

func (r Rect) enlargedArea(o Rect) float64 {
	return (math.Max(o.MaxX, r.MaxX) - math.Min(o.MinX, r.MinX)) *
		(math.Max(o.MaxY, r.MaxY) - math.Min(o.MinY, r.MinY))
}

func (r Rect) intersectionArea(o Rect) float64 {
	minX := math.Max(r.MinX, o.MinX)
	minY := math.Max(r.MinY, o.MinY)
	maxX := math.Min(r.MaxX, o.MaxX)
	maxY := math.Min(r.MaxY, o.MaxY)
	return math.Max(0, maxX-minX) * math.Max(0, maxY-minY)
}

// squaredDistance returns the squared distance from p to the closest point of r.
func (r Rect) squaredDistance(p Point) float64 {
	dx := axisDistance(p.X, r.MinX, r.MaxX)
	dy := axisDistance(p.Y, r.MinY, r.MaxY)
	return dx*dx + dy*dy
}

func axisDistance(k, lo, hi float64) float64 {
	if k < lo {
		return lo - k
	}
	if k <= hi {
		return 0
	}
	return k - hi
}

// Entry is a single element stored in the tree.
type Entry struct {
	ID string `json:"id"`
	Point
}

// node is either a leaf holding entries or an inner node holding children.
// Leaves have height 1.
type node struct {
	Leaf     bool    `json:"leaf"`
	Height   int     `json:"height"`
	Box      Rect    `json:"box"`
	Children []*node `json:"children,omitempty"`
	Entries  []Entry `json:"entries,omitempty"`
}

func newLeaf() *node {
	return &node{Leaf: true, Height: 1}
}

func (n *node) len() int {
	if n.Leaf {
		return len(n.Entries)
	}
	return len(n.Children)
}

func (n *node) empty() bool { return n.len() == 0 }

func (n *node) boxAt(i int) Rect {
	if n.Leaf {
		return pointRect(n.Entries[i].Point)
	}
	return n.Children[i].Box
}

// boxOf returns the bounding box of entries [from, to).
func (n *node) boxOf(from, to int) Rect {
	box := n.boxAt(from)
	for i := from + 1; i < to; i++ {
		box = box.extend(n.boxAt(i))
	}
	return box
}

// recalc recomputes the node's bounding box from its content.
// An empty node gets the zero rectangle.
func (n *node) recalc() {
	if n.empty() {
		n.Box = Rect{}
		return
	}
	n.Box = n.boxOf(0, n.len())
}

func (n *node) sortBy(less func(a, b Rect) bool) {
	if n.Leaf {
		sort.SliceStable(n.Entries, func(i, j int) bool {
			return less(pointRect(n.Entries[i].Point), pointRect(n.Entries[j].Point))
		})
		return
	}
	sort.SliceStable(n.Children, func(i, j int) bool {
		return less(n.Children[i].Box, n.Children[j].Box)
	})
}

// splitOff moves entries [at:] into a new sibling node.
func (n *node) splitOff(at int) *node {
	sibling := &node{Leaf: n.Leaf, Height: n.Height}
	if n.Leaf {
		sibling.Entries = slices.Clone(n.Entries[at:])
		n.Entries = slices.Clip(n.Entries[:at])
	} else {
		sibling.Children = slices.Clone(n.Children[at:])
		n.Children = slices.Clip(n.Children[:at])
	}
	n.recalc()
	sibling.recalc()
	return sibling
}

// Tree is a point R-tree mapping element ids to positions.
//
// Thread-safety: NOT thread-safe. A tree is owned by exactly one exercise snapshot.
type Tree struct {
	root *node
	size int
}

// New creates an empty tree.
func New() *Tree {
	return &Tree{root: newLeaf()}
}

// Len returns the number of entries stored.
func (t *Tree) Len() int {
	return t.size
}

// Insert adds id at p. Inserting the same id twice stores two entries.
func (t *Tree) Insert(id string, p Point) {
	box := pointRect(p)
	path := t.chooseLeaf(box)
	leaf := path[len(path)-1]
	leaf.Entries = append(leaf.Entries, Entry{ID: id, Point: p})
	t.size++

	// Only the leaf can have been empty; inner nodes always hold children.
	for _, n := range path {
		if n.Leaf && n.len() == 1 {
			n.Box = box
		} else {
			n.Box = n.Box.extend(box)
		}
	}

	level := len(path) - 1
	for level >= 0 && path[level].len() > MaxEntries {
		t.split(path, level)
		level--
	}
}

// chooseLeaf descends from the root to the leaf needing least enlargement.
func (t *Tree) chooseLeaf(box Rect) []*node {
	path := []*node{t.root}
	n := t.root
	for !n.Leaf {
		var target *node
		minArea, minEnlargement := math.Inf(1), math.Inf(1)
		for _, child := range n.Children {
			area := child.Box.area()
			enlargement := box.enlargedArea(child.Box) - area
			if enlargement < minEnlargement {
				minEnlargement = enlargement
				if area < minArea {
					minArea = area
				}
				target = child
			} else if enlargement == minEnlargement && area < minArea {
				minArea = area
				target = child
			}
		}
		if target == nil {
			target = n.Children[0]
		}
		n = target
		path = append(path, n)
	}
	return path
}

func (t *Tree) split(path []*node, level int) {
	n := path[level]
	total := n.len()
	chooseSplitAxis(n, minEntries, total)
	sibling := n.splitOff(chooseSplitIndex(n, minEntries, total))

	if level > 0 {
		parent := path[level-1]
		parent.Children = append(parent.Children, sibling)
		return
	}
	root := &node{Height: n.Height + 1, Children: []*node{n, sibling}}
	root.recalc()
	t.root = root
}

func compareMinX(a, b Rect) bool { return a.MinX < b.MinX }
func compareMinY(a, b Rect) bool { return a.MinY < b.MinY }

// chooseSplitAxis sorts the node's entries along the axis with the smallest
// total margin over all distributions.
func chooseSplitAxis(n *node, m, total int) {
	xMargin := allDistMargin(n, m, total, compareMinX)
	yMargin := allDistMargin(n, m, total, compareMinY)
	if xMargin < yMargin {
		n.sortBy(compareMinX)
	}
}

func allDistMargin(n *node, m, total int, less func(a, b Rect) bool) float64 {
	n.sortBy(less)
	left := n.boxOf(0, m)
	right := n.boxOf(total-m, total)
	margin := left.margin() + right.margin()
	for i := m; i < total-m; i++ {
		left = left.extend(n.boxAt(i))
		margin += left.margin()
	}
	for i := total - m - 1; i >= m; i-- {
		right = right.extend(n.boxAt(i))
		margin += right.margin()
	}
	return margin
}

func chooseSplitIndex(n *node, m, total int) int {
	index := -1
	minOverlap, minArea := math.Inf(1), math.Inf(1)
	for i := m; i <= total-m; i++ {
		left := n.boxOf(0, i)
		right := n.boxOf(i, total)
		overlap := left.intersectionArea(right)
		area := left.area() + right.area()
		if overlap < minOverlap {
			minOverlap = overlap
			index = i
			if area < minArea {
				minArea = area
			}
		} else if overlap == minOverlap && area < minArea {
			minArea = area
			index = i
		}
	}
	if index <= 0 {
		return total - m
	}
	return index
}

// Remove deletes the entry id stored at p. The point must be the one used at
// insertion; entries cannot be found by id alone. Returns false if no such
// entry exists.
func (t *Tree) Remove(id string, p Point) bool {
	if !t.root.remove(id, p) {
		return false
	}
	t.size--
	if t.root.empty() {
		t.root = newLeaf()
	}
	return true
}

func (n *node) remove(id string, p Point) bool {
	if n.empty() || !n.Box.ContainsPoint(p) {
		return false
	}
	if n.Leaf {
		idx := slices.IndexFunc(n.Entries, func(e Entry) bool {
			return e.ID == id && e.Point == p
		})
		if idx < 0 {
			return false
		}
		n.Entries = slices.Delete(n.Entries, idx, idx+1)
		n.recalc()
		return true
	}
	for i, child := range n.Children {
		if child.remove(id, p) {
			if child.empty() {
				n.Children = slices.Delete(n.Children, i, i+1)
			}
			n.recalc()
			return true
		}
	}
	return false
}

// Move relocates id from one point to another. Returns false, leaving the
// tree untouched, if id is not stored at from.
func (t *Tree) Move(id string, from, to Point) bool {
	if !t.Remove(id, from) {
		return false
	}
	t.Insert(id, to)
	return true
}

// Contains reports whether id is stored at exactly p.
func (t *Tree) Contains(id string, p Point) bool {
	for _, e := range t.searchEntries(pointRect(p)) {
		if e.ID == id && e.Point == p {
			return true
		}
	}
	return false
}

// Search returns the ids of all entries inside r, in unspecified order.
func (t *Tree) Search(r Rect) []string {
	entries := t.searchEntries(r)
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}

func (t *Tree) searchEntries(r Rect) []Entry {
	var result []Entry
	if t.root.empty() || !r.intersects(t.root.Box) {
		return result
	}
	stack := []*node{t.root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n.Leaf {
			for _, e := range n.Entries {
				if r.ContainsPoint(e.Point) {
					result = append(result, e)
				}
			}
			continue
		}
		for _, child := range n.Children {
			if !r.intersects(child.Box) {
				continue
			}
			if r.contains(child.Box) {
				result = collectAll(child, result)
			} else {
				stack = append(stack, child)
			}
		}
	}
	return result
}

func collectAll(n *node, into []Entry) []Entry {
	if n.Leaf {
		return append(into, n.Entries...)
	}
	for _, child := range n.Children {
		into = collectAll(child, into)
	}
	return into
}

// SearchRadius returns the ids of all entries within radius of center,
// nearest first. Entries at equal distance are ordered by id.
// A radius <= 0 yields no results.
func (t *Tree) SearchRadius(center Point, radius float64) []string {
	if radius <= 0 || t.root.empty() {
		return nil
	}
	limit := radius * radius
	var ids []string
	q := &candidateQueue{}
	heap.Push(q, candidate{dist: t.root.Box.squaredDistance(center), node: t.root})
	for q.Len() > 0 {
		c := heap.Pop(q).(candidate)
		if c.node == nil {
			ids = append(ids, c.entry.ID)
			continue
		}
		if c.node.Leaf {
			for i := range c.node.Entries {
				e := c.node.Entries[i]
				if d := squaredPointDistance(center, e.Point); d <= limit {
					heap.Push(q, candidate{dist: d, entry: e})
				}
			}
			continue
		}
		for _, child := range c.node.Children {
			if d := child.Box.squaredDistance(center); d <= limit {
				heap.Push(q, candidate{dist: d, node: child})
			}
		}
	}
	return ids
}

func squaredPointDistance(a, b Point) float64 {
	dx, dy := a.X-b.X, a.Y-b.Y
	return dx*dx + dy*dy
}

// candidate is a queued node or entry of a nearest-first traversal.
type candidate struct {
	dist  float64
	node  *node
	entry Entry
}

// candidateQueue implements heap.Interface. Nodes sort before entries at equal
// distance, so every entry at that distance is queued before the first one is
// emitted and ties come out by id.
type candidateQueue []candidate

func (q candidateQueue) Len() int { return len(q) }
func (q candidateQueue) Less(i, j int) bool {
	if q[i].dist != q[j].dist {
		return q[i].dist < q[j].dist
	}
	iEntry, jEntry := q[i].node == nil, q[j].node == nil
	if iEntry != jEntry {
		return jEntry
	}
	if iEntry {
		return q[i].entry.ID < q[j].entry.ID
	}
	return false
}
func (q candidateQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *candidateQueue) Push(x any) {
	*q = append(*q, x.(candidate))
}

func (q *candidateQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
