package network

import (
	"io"
	"log"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"conduitnet.ai/internal/sim/grid"
)

var propRegions = []grid.RegionKey{{CX: 0, CZ: 0}, {CX: 1, CZ: 0}}

// applyOps decodes each op into one edit around the boundary between the two
// property regions and applies it. Edit errors are expected and ignored.
func applyOps(r *Registry, ops []int) {
	tx := r.BeginTransaction()
	for _, op := range ops {
		kind := grid.AllKinds[op%2]
		op /= 2
		pos := grid.Pos{X: 13 + op%6, Y: (op / 6) % 2, Z: (op / 12) % 2}
		op /= 24
		dir := grid.AllDirs[op%6]
		op /= 6
		switch op % 6 {
		case 0, 1:
			_ = r.AddNode(tx, testWorld, pos, kind)
		case 2:
			_ = r.InsertEdge(tx, testWorld, pos, pos.Add(dir), kind)
		case 3:
			_ = r.AttachSink(tx, testWorld, pos, dir, kind)
		case 4:
			if op%12 < 6 {
				_ = r.RemoveEdge(tx, testWorld, pos, pos.Add(dir), kind)
			} else {
				_ = r.RemoveSink(tx, testWorld, pos, dir, kind)
			}
		case 5:
			_ = r.RemoveNode(tx, testWorld, pos, kind)
		}
	}
	_, _ = tx.Commit()
}

func newPropRegistry(caps CapabilityResolver) *Registry {
	r := NewRegistry(Options{Logger: log.New(io.Discard, "", 0), Capabilities: caps})
	for _, k := range propRegions {
		_ = r.RegionLoaded(testWorld, k, nil)
	}
	return r
}

func allPaths(r *Registry) map[SinkRef][]PathEntry {
	out := map[SinkRef][]PathEntry{}
	d := r.Dimension(testWorld)
	for _, key := range d.Keys() {
		for _, k := range grid.AllKinds {
			for src, entries := range d.Region(key).paths[k] {
				out[src] = append(out[src], entries...)
			}
		}
	}
	return out
}

func TestNetworkProperties(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping property-based test in short mode")
	}
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	opsGen := gen.SliceOf(gen.IntRange(0, 1<<16))

	properties.Property("edges stay mirrored", prop.ForAll(
		func(ops []int) bool {
			r := newPropRegistry(nil)
			applyOps(r, ops)
			return r.CheckInvariants(testWorld) == nil
		},
		opsGen,
	))

	properties.Property("removed nodes leave no edges behind", prop.ForAll(
		func(ops []int) bool {
			r := newPropRegistry(nil)
			applyOps(r, ops)
			d := r.Dimension(testWorld)
			var victims []nodeKey
			for _, key := range d.Keys() {
				victims = append(victims, d.Region(key).sortedNodeKeys()...)
			}
			tx := r.BeginTransaction()
			for _, v := range victims {
				if err := r.RemoveNode(tx, testWorld, v.Pos, v.Kind); err != nil {
					// Mirror in an unloaded region.
					continue
				}
				for _, dir := range grid.AllDirs {
					if ok, _ := r.HasEdge(testWorld, v.Pos.Add(dir), v.Pos, v.Kind); ok {
						return false
					}
				}
			}
			_, _ = tx.Commit()
			return r.CheckInvariants(testWorld) == nil
		},
		opsGen,
	))

	properties.Property("payload round trip preserves graph and routes", prop.ForAll(
		func(ops []int) bool {
			r := newPropRegistry(nil)
			applyOps(r, ops)
			want := allPaths(r)
			payloads := map[grid.RegionKey][]byte{}
			for _, k := range propRegions {
				b, err := r.SaveRegion(testWorld, k)
				if err != nil {
					return false
				}
				payloads[k] = b
			}
			fresh := NewRegistry(Options{Logger: log.New(io.Discard, "", 0)})
			for _, k := range propRegions {
				if err := fresh.RegionLoaded(testWorld, k, payloads[k]); err != nil {
					return false
				}
			}
			for _, k := range propRegions {
				a := r.Dimension(testWorld).Region(k).export(testWorld)
				b := fresh.Dimension(testWorld).Region(k).export(testWorld)
				if !reflect.DeepEqual(a, b) {
					return false
				}
			}
			return reflect.DeepEqual(want, allPaths(fresh))
		},
		opsGen,
	))

	properties.Property("ticks conserve quantity", prop.ForAll(
		func(ops []int, amounts []int64) bool {
			ts := tanks{}
			i := 0
			caps := CapabilityFunc(func(_ string, pos grid.Pos, facing grid.Dir, _ grid.Kind) (Capability, bool) {
				b := pos.Add(facing)
				if t, ok := ts[b]; ok {
					return t, true
				}
				if len(amounts) == 0 {
					return nil, false
				}
				a := amounts[i%len(amounts)]
				i++
				t := &tank{amount: a % 50, capacity: 50, source: a%3 == 0}
				ts[b] = t
				return t, true
			})
			r := newPropRegistry(caps)
			applyOps(r, ops)
			// Materialize every tank before measuring.
			d := r.Dimension(testWorld)
			for _, key := range d.Keys() {
				for _, k := range grid.AllKinds {
					for _, s := range d.Region(key).sinksOf(k) {
						caps.Capability(testWorld, s.Pos, s.Facing, k)
					}
				}
			}
			before := ts.total()
			for n := 0; n < 3; n++ {
				if _, err := r.Tick(testWorld); err != nil {
					return false
				}
			}
			for _, t := range ts {
				if t.amount < 0 || t.amount > t.capacity {
					return false
				}
			}
			return ts.total() == before
		},
		opsGen,
		gen.SliceOf(gen.Int64Range(0, 1000)),
	))

	properties.TestingRun(t)
}
