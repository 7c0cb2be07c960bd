package network

import (
	"fmt"
	"sort"

	"conduitnet.ai/internal/persistence/regioncodec"
	"conduitnet.ai/internal/sim/grid"
)

type nodeKey struct {
	Pos  grid.Pos
	Kind grid.Kind
}

// conduit is the adjacency of one node. A face whose bit is set in sinks is a
// boundary edge: its bit is set in edges too, and it has no mirror.
type conduit struct {
	edges grid.DirSet
	sinks grid.DirSet
}

func (c *conduit) nodeEdges() grid.DirSet { return c.edges &^ c.sinks }

// SinkRef names a sink within one pipe kind.
type SinkRef struct {
	Pos    grid.Pos
	Facing grid.Dir
}

func (s SinkRef) Less(o SinkRef) bool {
	if s.Pos != o.Pos {
		return s.Pos.Less(o.Pos)
	}
	return s.Facing < o.Facing
}

func (s SinkRef) String() string { return fmt.Sprintf("%s/%s", s.Pos, s.Facing) }

// Block is the host block position the sink faces into.
func (s SinkRef) Block() grid.Pos { return s.Pos.Add(s.Facing) }

// Region owns the conduit nodes of one chunk column and their derived path
// index. It is not safe for concurrent use.
type Region struct {
	key   grid.RegionKey
	nodes map[nodeKey]*conduit

	paths [len(grid.AllKinds)]map[SinkRef][]PathEntry
	// deps lists the other regions the last recalculation walked into or was
	// stopped at.
	deps map[grid.RegionKey]struct{}

	sinkCount int
	mods      uint64
	recalcs   uint64
}

func newRegion(key grid.RegionKey) *Region {
	return &Region{
		key:   key,
		nodes: map[nodeKey]*conduit{},
		deps:  map[grid.RegionKey]struct{}{},
	}
}

func (r *Region) Key() grid.RegionKey { return r.key }

func (r *Region) NodeCount() int { return len(r.nodes) }

func (r *Region) SinkCount() int { return r.sinkCount }

func (r *Region) node(p grid.Pos, k grid.Kind) *conduit {
	return r.nodes[nodeKey{Pos: p, Kind: k}]
}

func (r *Region) checkOwns(p grid.Pos) error {
	if !r.key.Contains(p) {
		return fmt.Errorf("%s outside region %s: %w", p, r.key, ErrNetworkNotLoaded)
	}
	return nil
}

func (r *Region) touch() { r.mods++ }

func (r *Region) insertNode(p grid.Pos, k grid.Kind) error {
	if err := r.checkOwns(p); err != nil {
		return err
	}
	nk := nodeKey{Pos: p, Kind: k}
	if _, ok := r.nodes[nk]; ok {
		return fmt.Errorf("%s node at %s: %w", k, p, ErrNodeAlreadyExists)
	}
	r.nodes[nk] = &conduit{}
	r.touch()
	return nil
}

// deleteNode drops the node with its local adjacency. Mirrors held by
// neighbours are the caller's concern.
func (r *Region) deleteNode(p grid.Pos, k grid.Kind) (conduit, error) {
	nk := nodeKey{Pos: p, Kind: k}
	c, ok := r.nodes[nk]
	if !ok {
		return conduit{}, fmt.Errorf("%s node at %s: %w", k, p, ErrNodeNotFound)
	}
	r.sinkCount -= c.sinks.Len()
	delete(r.nodes, nk)
	r.touch()
	return *c, nil
}

func (r *Region) hasNode(p grid.Pos, k grid.Kind) bool { return r.node(p, k) != nil }

func (r *Region) setEdge(p grid.Pos, d grid.Dir, k grid.Kind) {
	if c := r.node(p, k); c != nil {
		c.edges = c.edges.With(d)
		r.touch()
	}
}

func (r *Region) clearEdge(p grid.Pos, d grid.Dir, k grid.Kind) bool {
	c := r.node(p, k)
	if c == nil || !c.nodeEdges().Has(d) {
		return false
	}
	c.edges = c.edges.Without(d)
	r.touch()
	return true
}

func (r *Region) hasNodeEdge(p grid.Pos, d grid.Dir, k grid.Kind) bool {
	c := r.node(p, k)
	return c != nil && c.nodeEdges().Has(d)
}

func (r *Region) attachSink(p grid.Pos, facing grid.Dir, k grid.Kind) error {
	c := r.node(p, k)
	if c == nil {
		return fmt.Errorf("%s node at %s: %w", k, p, ErrNodeNotFound)
	}
	if c.sinks.Has(facing) {
		return fmt.Errorf("%s sink at %s facing %s: %w", k, p, facing, ErrSinkAlreadyExists)
	}
	if c.edges.Has(facing) {
		return fmt.Errorf("%s edge at %s facing %s: %w", k, p, facing, ErrEdgeAlreadyExists)
	}
	c.edges = c.edges.With(facing)
	c.sinks = c.sinks.With(facing)
	r.sinkCount++
	r.touch()
	return nil
}

func (r *Region) removeSink(p grid.Pos, facing grid.Dir, k grid.Kind) error {
	c := r.node(p, k)
	if c == nil || !c.sinks.Has(facing) {
		return fmt.Errorf("%s sink at %s facing %s: %w", k, p, facing, ErrSinkNotFound)
	}
	c.edges = c.edges.Without(facing)
	c.sinks = c.sinks.Without(facing)
	r.sinkCount--
	r.touch()
	return nil
}

func (r *Region) removeAllSinks(p grid.Pos, k grid.Kind) ([]grid.Dir, error) {
	c := r.node(p, k)
	if c == nil {
		return nil, fmt.Errorf("%s node at %s: %w", k, p, ErrNodeNotFound)
	}
	removed := c.sinks.Dirs()
	if len(removed) == 0 {
		return nil, nil
	}
	c.edges &^= c.sinks
	c.sinks = 0
	r.sinkCount -= len(removed)
	r.touch()
	return removed, nil
}

func (r *Region) hasSink(p grid.Pos, facing grid.Dir, k grid.Kind) bool {
	c := r.node(p, k)
	return c != nil && c.sinks.Has(facing)
}

// sinksOf returns the region's sinks of one kind in SinkRef order.
func (r *Region) sinksOf(k grid.Kind) []SinkRef {
	var out []SinkRef
	for nk, c := range r.nodes {
		if nk.Kind != k || c.sinks.Empty() {
			continue
		}
		for _, d := range c.sinks.Dirs() {
			out = append(out, SinkRef{Pos: nk.Pos, Facing: d})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func (r *Region) sortedNodeKeys() []nodeKey {
	keys := make([]nodeKey, 0, len(r.nodes))
	for nk := range r.nodes {
		keys = append(keys, nk)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Pos != keys[j].Pos {
			return keys[i].Pos.Less(keys[j].Pos)
		}
		return keys[i].Kind < keys[j].Kind
	})
	return keys
}

// NodeView is a by-value view of one node.
type NodeView struct {
	Pos   grid.Pos
	Kind  grid.Kind
	Edges grid.DirSet
	Sinks grid.DirSet
}

// Walk visits the live nodes in position order. It returns
// ErrConcurrentModification when the region changes while the walk is in
// progress; the visit is abandoned at that point. fn returning false stops
// the walk early.
func (r *Region) Walk(fn func(NodeView) bool) error {
	start := r.mods
	for _, nk := range r.sortedNodeKeys() {
		c := r.nodes[nk]
		if c == nil || r.mods != start {
			return fmt.Errorf("region %s: %w", r.key, ErrConcurrentModification)
		}
		if !fn(NodeView{Pos: nk.Pos, Kind: nk.Kind, Edges: c.edges, Sinks: c.sinks}) {
			return nil
		}
		if r.mods != start {
			return fmt.Errorf("region %s: %w", r.key, ErrConcurrentModification)
		}
	}
	return nil
}

func (r *Region) export(worldID string) regioncodec.RegionV1 {
	out := regioncodec.RegionV1{
		Version: regioncodec.Version,
		WorldID: worldID,
		CX:      r.key.CX,
		CZ:      r.key.CZ,
		Nodes:   make([]regioncodec.NodeV1, 0, len(r.nodes)),
	}
	for _, nk := range r.sortedNodeKeys() {
		c := r.nodes[nk]
		out.Nodes = append(out.Nodes, regioncodec.NodeV1{
			Pos:   nk.Pos.ToArray(),
			Kind:  nk.Kind.String(),
			Edges: uint8(c.edges),
			Sinks: uint8(c.sinks),
		})
	}
	out.Canonicalize()
	return out
}

func importRegion(in regioncodec.RegionV1) (*Region, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	r := newRegion(in.Key())
	for _, n := range in.Nodes {
		k, err := grid.ParseKind(n.Kind)
		if err != nil {
			return nil, err
		}
		c := &conduit{edges: grid.DirSet(n.Edges), sinks: grid.DirSet(n.Sinks)}
		r.nodes[nodeKey{Pos: grid.PosFromArray(n.Pos), Kind: k}] = c
		r.sinkCount += c.sinks.Len()
	}
	return r, nil
}
