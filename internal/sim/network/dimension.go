package network

import (
	"sort"

	"conduitnet.ai/internal/sim/grid"
)

// horizontalDirs are the faces that can cross a region boundary.
var horizontalDirs = [4]grid.Dir{grid.North, grid.South, grid.West, grid.East}

// Dimension holds the active regions of one world instance.
type Dimension struct {
	id      string
	regions map[grid.RegionKey]*Region
	tick    uint64
}

func newDimension(id string) *Dimension {
	return &Dimension{id: id, regions: map[grid.RegionKey]*Region{}}
}

func (d *Dimension) ID() string { return d.id }

func (d *Dimension) Tick() uint64 { return d.tick }

func (d *Dimension) Region(key grid.RegionKey) *Region { return d.regions[key] }

func (d *Dimension) RegionAt(p grid.Pos) *Region { return d.regions[grid.RegionOf(p)] }

// Keys returns the loaded region keys in CX, CZ order.
func (d *Dimension) Keys() []grid.RegionKey {
	keys := make([]grid.RegionKey, 0, len(d.regions))
	for k := range d.regions {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

func (d *Dimension) lookup(p grid.Pos, k grid.Kind) (*conduit, bool) {
	r := d.regions[grid.RegionOf(p)]
	if r == nil {
		return nil, false
	}
	return r.node(p, k), true
}

// dependents returns the loaded regions whose path index was built by
// walking into, or stopping at, key.
func (d *Dimension) dependents(key grid.RegionKey) []grid.RegionKey {
	var out []grid.RegionKey
	for k, r := range d.regions {
		if k != key && r.dependsOn(key) {
			out = append(out, k)
		}
	}
	return out
}

// reconcile drops cross-region edges between key and its loaded neighbours
// that lack a mirror on the other side. Payloads of neighbouring regions may
// have been saved at different times. It returns the number of edge halves
// dropped and the neighbour regions that changed.
func (d *Dimension) reconcile(key grid.RegionKey) (int, []grid.RegionKey) {
	r := d.regions[key]
	if r == nil {
		return 0, nil
	}
	dropped := 0
	changed := map[grid.RegionKey]struct{}{}

	check := func(owner *Region, nk nodeKey, c *conduit) {
		for _, dir := range horizontalDirs {
			if !c.nodeEdges().Has(dir) {
				continue
			}
			np := nk.Pos.Add(dir)
			nr := d.regions[grid.RegionOf(np)]
			if nr == nil || nr == owner {
				continue
			}
			if nr != r && owner != r {
				continue
			}
			if nr.hasNodeEdge(np, dir.Opposite(), nk.Kind) {
				continue
			}
			c.edges = c.edges.Without(dir)
			owner.touch()
			dropped++
			if owner != r {
				changed[owner.key] = struct{}{}
			}
		}
	}

	for nk, c := range r.nodes {
		check(r, nk, c)
	}
	for _, dir := range horizontalDirs {
		v := dir.Vec()
		nkey := grid.RegionKey{CX: key.CX + v.X, CZ: key.CZ + v.Z}
		nr := d.regions[nkey]
		if nr == nil {
			continue
		}
		for nk, c := range nr.nodes {
			check(nr, nk, c)
		}
	}

	out := make([]grid.RegionKey, 0, len(changed))
	for k := range changed {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return dropped, out
}
