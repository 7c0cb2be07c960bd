package network

import (
	"sort"

	"conduitnet.ai/internal/sim/grid"
)

// PathEntry is one directed route between two sinks of the same kind. Cost is
// the hop count between the sinks' nodes.
type PathEntry struct {
	Source SinkRef
	Target SinkRef
	Cost   int
}

// adjacency resolves nodes across the loaded regions of one dimension.
type adjacency interface {
	// lookup returns the node at p and whether p's region is loaded.
	lookup(p grid.Pos, k grid.Kind) (c *conduit, loaded bool)
}

// recalculate rebuilds every per-kind path index of the region. Searches
// start at the region's own sinks and follow stored adjacency into any
// loaded neighbour; a search stops at a region that is not loaded.
func (r *Region) recalculate(adj adjacency) {
	deps := map[grid.RegionKey]struct{}{}
	for _, k := range grid.AllKinds {
		r.paths[k] = r.buildIndex(adj, k, deps)
	}
	r.deps = deps
	r.recalcs++
}

func (r *Region) buildIndex(adj adjacency, k grid.Kind, deps map[grid.RegionKey]struct{}) map[SinkRef][]PathEntry {
	sources := r.sinksOf(k)
	if len(sources) == 0 {
		return nil
	}
	index := make(map[SinkRef][]PathEntry, len(sources))

	// Sinks on one node share a search.
	reached := map[grid.Pos][]PathEntry{}
	for _, src := range sources {
		found, ok := reached[src.Pos]
		if !ok {
			found = r.search(adj, src.Pos, k, deps)
			reached[src.Pos] = found
		}
		entries := make([]PathEntry, 0, len(found))
		for _, e := range found {
			if e.Target == src {
				continue
			}
			e.Source = src
			entries = append(entries, e)
		}
		if len(entries) > 0 {
			index[src] = entries
		}
	}
	return index
}

// search runs a breadth-first walk from start and returns an entry (without
// Source) for every sink found, ordered by cost then target region and ref.
func (r *Region) search(adj adjacency, start grid.Pos, k grid.Kind, deps map[grid.RegionKey]struct{}) []PathEntry {
	dist := map[grid.Pos]int{start: 0}
	queue := []grid.Pos{start}
	var out []PathEntry

	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]

		c, _ := adj.lookup(p, k)
		if c == nil {
			continue
		}
		for _, d := range c.sinks.Dirs() {
			out = append(out, PathEntry{Target: SinkRef{Pos: p, Facing: d}, Cost: dist[p]})
		}
		for _, d := range c.nodeEdges().Dirs() {
			np := p.Add(d)
			if _, seen := dist[np]; seen {
				continue
			}
			if nk := grid.RegionOf(np); nk != r.key {
				deps[nk] = struct{}{}
			}
			nc, loaded := adj.lookup(np, k)
			if !loaded || nc == nil || !nc.nodeEdges().Has(d.Opposite()) {
				continue
			}
			dist[np] = dist[p] + 1
			queue = append(queue, np)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Cost != out[j].Cost {
			return out[i].Cost < out[j].Cost
		}
		ri, rj := grid.RegionOf(out[i].Target.Pos), grid.RegionOf(out[j].Target.Pos)
		if ri != rj {
			return ri.Less(rj)
		}
		return out[i].Target.Less(out[j].Target)
	})
	return out
}

// pathsFrom returns the cached entries for one source sink.
func (r *Region) pathsFrom(src SinkRef, k grid.Kind) []PathEntry {
	if !k.Valid() {
		return nil
	}
	return r.paths[k][src]
}

func (r *Region) pathCount() int {
	n := 0
	for _, idx := range r.paths {
		for _, entries := range idx {
			n += len(entries)
		}
	}
	return n
}

func (r *Region) dependsOn(key grid.RegionKey) bool {
	_, ok := r.deps[key]
	return ok
}
