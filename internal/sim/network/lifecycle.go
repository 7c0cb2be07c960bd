package network

import (
	"fmt"

	"conduitnet.ai/internal/persistence/regioncodec"
	"conduitnet.ai/internal/sim/grid"
)

// RegionLoaded activates a region from its stored payload. An empty payload
// activates an empty region. Cross-region edges that lost their mirror while
// the region was away are dropped, then the region and every loaded region
// whose routes touch it are recalculated.
func (r *Registry) RegionLoaded(world string, key grid.RegionKey, payload []byte) error {
	d := r.worlds[world]
	if d != nil && d.regions[key] != nil {
		return fmt.Errorf("world %q region %s: %w", world, key, ErrRegionAlreadyLoaded)
	}

	reg := newRegion(key)
	if len(payload) > 0 {
		in, err := regioncodec.Decode(payload)
		if err != nil {
			return fmt.Errorf("world %q region %s: %w", world, key, err)
		}
		if in.Key() != key {
			return fmt.Errorf("world %q region %s: payload belongs to region %s", world, key, in.Key())
		}
		if in.WorldID != "" && in.WorldID != world {
			r.log.Printf("world %s region %s: payload was saved for world %q", world, key, in.WorldID)
		}
		reg, err = importRegion(in)
		if err != nil {
			return fmt.Errorf("world %q region %s: %w", world, key, err)
		}
	}

	if d == nil {
		d = newDimension(world)
		r.worlds[world] = d
	}
	d.regions[key] = reg

	dropped, changed := d.reconcile(key)
	if dropped > 0 {
		r.log.Printf("world %s region %s: dropped %d unmirrored edge halves on load", world, key, dropped)
		r.metrics.RecordReconciled(world, dropped)
	}

	set := map[grid.RegionKey]struct{}{key: {}}
	for _, k := range d.dependents(key) {
		set[k] = struct{}{}
	}
	for _, k := range changed {
		set[k] = struct{}{}
		for _, dep := range d.dependents(k) {
			set[dep] = struct{}{}
		}
	}
	r.recalculate(d, set, "load")
	r.metrics.SetActiveRegions(world, len(d.regions))
	r.publish(d)
	return nil
}

// RegionUnloaded deactivates a region and returns its final payload. Regions
// whose routes ran into it are recalculated. The world is dropped with its
// last region.
func (r *Registry) RegionUnloaded(world string, key grid.RegionKey) ([]byte, error) {
	payload, err := r.SaveRegion(world, key)
	if err != nil {
		return nil, err
	}
	d := r.worlds[world]
	delete(d.regions, key)

	set := map[grid.RegionKey]struct{}{}
	for _, k := range d.dependents(key) {
		set[k] = struct{}{}
	}
	r.recalculate(d, set, "unload")
	r.metrics.SetActiveRegions(world, len(d.regions))

	if len(d.regions) == 0 {
		delete(r.worlds, world)
		r.published.Delete(world)
		return payload, nil
	}
	r.publish(d)
	return payload, nil
}

// SaveRegion encodes a loaded region without unloading it.
func (r *Registry) SaveRegion(world string, key grid.RegionKey) ([]byte, error) {
	d := r.worlds[world]
	if d == nil || d.regions[key] == nil {
		return nil, fmt.Errorf("world %q region %s: %w", world, key, ErrNetworkNotLoaded)
	}
	payload, err := regioncodec.Encode(d.regions[key].export(world), r.compression)
	if err != nil {
		return nil, fmt.Errorf("world %q region %s: %w", world, key, err)
	}
	return payload, nil
}
