package network

import (
	"errors"
	"fmt"

	"conduitnet.ai/internal/sim/grid"
)

// Snapshot is an immutable copy of one world, published by the simulation
// goroutine for readers on other goroutines.
type Snapshot struct {
	World   string
	Tick    uint64
	Seq     uint64
	Regions []RegionSnapshot
}

type RegionSnapshot struct {
	Key     grid.RegionKey
	Nodes   []NodeView
	Sinks   int
	Paths   int
	Recalcs uint64
}

// Snapshot returns the latest published copy of a world. Safe for concurrent
// use.
func (r *Registry) Snapshot(world string) (*Snapshot, bool) {
	v, ok := r.published.Load(world)
	if !ok {
		return nil, false
	}
	return v.(*Snapshot), true
}

func (r *Registry) publish(d *Dimension) {
	if !r.publishSnap || d == nil {
		return
	}
	r.snapSeq++
	snap := &Snapshot{World: d.id, Tick: d.tick, Seq: r.snapSeq}
	for _, key := range d.Keys() {
		reg := d.regions[key]
		rs := RegionSnapshot{
			Key:     key,
			Nodes:   make([]NodeView, 0, len(reg.nodes)),
			Sinks:   reg.sinkCount,
			Paths:   reg.pathCount(),
			Recalcs: reg.recalcs,
		}
		if err := reg.Walk(func(v NodeView) bool {
			rs.Nodes = append(rs.Nodes, v)
			return true
		}); err != nil {
			r.log.Printf("world %s: snapshot: %v", d.id, err)
			return
		}
		snap.Regions = append(snap.Regions, rs)
	}
	r.published.Store(d.id, snap)
}

// CheckInvariants walks every loaded region of a world and reports node edges
// whose mirror is missing inside the loaded part of the world, and sink bits
// without a boundary edge.
func (r *Registry) CheckInvariants(world string) error {
	d := r.worlds[world]
	if d == nil {
		return fmt.Errorf("world %q: %w", world, ErrNetworkNotLoaded)
	}
	var errs []error
	for _, key := range d.Keys() {
		err := d.regions[key].Walk(func(v NodeView) bool {
			if v.Sinks&^v.Edges != 0 {
				errs = append(errs, fmt.Errorf("%s node at %s: sink without boundary edge", v.Kind, v.Pos))
			}
			for _, dir := range (v.Edges &^ v.Sinks).Dirs() {
				np := v.Pos.Add(dir)
				nr := d.RegionAt(np)
				if nr == nil {
					continue
				}
				if !nr.hasNodeEdge(np, dir.Opposite(), v.Kind) {
					errs = append(errs, fmt.Errorf("%s edge %s->%s has no mirror", v.Kind, v.Pos, np))
				}
			}
			return true
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
