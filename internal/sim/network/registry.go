package network

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"conduitnet.ai/internal/metrics"
	"conduitnet.ai/internal/persistence/regioncodec"
	"conduitnet.ai/internal/sim/grid"
)

type Options struct {
	Logger       *log.Logger
	Capabilities CapabilityResolver
	Metrics      *metrics.Registry
	// Compression applied to payloads returned by RegionUnloaded/SaveRegion.
	Compression regioncodec.Compression
	// PublishSnapshots makes the registry publish a read-only Snapshot per
	// world after every commit, tick, load and unload.
	PublishSnapshots bool
	// PublishEveryTicks thins tick publishing to every Nth tick. Commits and
	// lifecycle calls always publish. Zero means every tick.
	PublishEveryTicks uint64
}

// Registry is the entry point to the conduit network. All edits, commits,
// lifecycle calls and ticks must come from one goroutine (the simulation
// thread). Snapshot is the only method safe to call from other goroutines.
type Registry struct {
	log         *log.Logger
	caps        CapabilityResolver
	metrics     *metrics.Registry
	compression regioncodec.Compression
	publishSnap bool
	publishTick uint64

	worlds map[string]*Dimension

	published sync.Map // world id -> *Snapshot
	snapSeq   uint64
}

func NewRegistry(opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Registry{
		log:         logger,
		caps:        opts.Capabilities,
		metrics:     opts.Metrics,
		compression: opts.Compression,
		publishSnap: opts.PublishSnapshots,
		publishTick: opts.PublishEveryTicks,
		worlds:      map[string]*Dimension{},
	}
}

func (r *Registry) BeginTransaction() *Transaction { return newTransaction(r) }

// Worlds returns the ids of worlds with at least one loaded region.
func (r *Registry) Worlds() []string {
	out := make([]string, 0, len(r.worlds))
	for id := range r.worlds {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Dimension(world string) *Dimension { return r.worlds[world] }

func (r *Registry) LoadedRegions(world string) []grid.RegionKey {
	d := r.worlds[world]
	if d == nil {
		return nil
	}
	return d.Keys()
}

func (r *Registry) regionAt(world string, p grid.Pos) (*Dimension, *Region, error) {
	d := r.worlds[world]
	if d == nil {
		return nil, nil, fmt.Errorf("world %q: %w", world, ErrNetworkNotLoaded)
	}
	reg := d.RegionAt(p)
	if reg == nil {
		return d, nil, fmt.Errorf("world %q region %s: %w", world, grid.RegionOf(p), ErrNetworkNotLoaded)
	}
	return d, reg, nil
}

func (r *Registry) fail(op string, err error) error {
	r.metrics.RecordEditError(op, Code(err))
	return err
}

func checkKind(k grid.Kind) error {
	if !k.Valid() {
		return fmt.Errorf("%s: %w", k, ErrInvalidKind)
	}
	return nil
}

// AddNode inserts a node without edges.
func (r *Registry) AddNode(tx *Transaction, world string, pos grid.Pos, kind grid.Kind) error {
	const op = "add_node"
	if err := tx.check(r); err != nil {
		return r.fail(op, err)
	}
	if err := checkKind(kind); err != nil {
		return r.fail(op, err)
	}
	_, reg, err := r.regionAt(world, pos)
	if err != nil {
		return r.fail(op, err)
	}
	if err := reg.insertNode(pos, kind); err != nil {
		return r.fail(op, err)
	}
	tx.markModified(world, reg.key)
	return nil
}

// RemoveNode deletes a node together with its sinks and every edge incident
// to it, including the mirror halves stored at its neighbours. Nothing is
// changed when a neighbour holding a mirror lies in an unloaded region.
func (r *Registry) RemoveNode(tx *Transaction, world string, pos grid.Pos, kind grid.Kind) error {
	const op = "remove_node"
	if err := tx.check(r); err != nil {
		return r.fail(op, err)
	}
	if err := checkKind(kind); err != nil {
		return r.fail(op, err)
	}
	d, reg, err := r.regionAt(world, pos)
	if err != nil {
		return r.fail(op, err)
	}
	c := reg.node(pos, kind)
	if c == nil {
		return r.fail(op, fmt.Errorf("%s node at %s: %w", kind, pos, ErrNodeNotFound))
	}
	dirs := c.nodeEdges().Dirs()
	for _, dir := range dirs {
		np := pos.Add(dir)
		if d.RegionAt(np) == nil {
			return r.fail(op, fmt.Errorf("neighbour %s of %s in region %s: %w", np, pos, grid.RegionOf(np), ErrNetworkNotLoaded))
		}
	}

	for _, dir := range dirs {
		np := pos.Add(dir)
		nr := d.RegionAt(np)
		if nr.clearEdge(np, dir.Opposite(), kind) {
			tx.markModified(world, nr.key)
		}
	}
	if _, err := reg.deleteNode(pos, kind); err != nil {
		return r.fail(op, err)
	}
	tx.markModified(world, reg.key)
	return nil
}

// InsertEdge connects two adjacent nodes of the same kind. The edge is stored
// at both ends, which may lie in different regions.
func (r *Registry) InsertEdge(tx *Transaction, world string, a, b grid.Pos, kind grid.Kind) error {
	const op = "insert_edge"
	if err := tx.check(r); err != nil {
		return r.fail(op, err)
	}
	if err := checkKind(kind); err != nil {
		return r.fail(op, err)
	}
	dir, ok := grid.DirBetween(a, b)
	if !ok {
		return r.fail(op, fmt.Errorf("%s and %s: %w", a, b, ErrNotAdjacent))
	}
	_, ra, err := r.regionAt(world, a)
	if err != nil {
		return r.fail(op, err)
	}
	_, rb, err := r.regionAt(world, b)
	if err != nil {
		return r.fail(op, err)
	}
	ca, cb := ra.node(a, kind), rb.node(b, kind)
	if ca == nil {
		return r.fail(op, fmt.Errorf("%s node at %s: %w", kind, a, ErrNodeNotFound))
	}
	if cb == nil {
		return r.fail(op, fmt.Errorf("%s node at %s: %w", kind, b, ErrNodeNotFound))
	}
	if ca.edges.Has(dir) || cb.edges.Has(dir.Opposite()) {
		return r.fail(op, fmt.Errorf("%s edge %s-%s: %w", kind, a, b, ErrEdgeAlreadyExists))
	}
	ra.setEdge(a, dir, kind)
	rb.setEdge(b, dir.Opposite(), kind)
	tx.markModified(world, ra.key)
	tx.markModified(world, rb.key)
	return nil
}

func (r *Registry) RemoveEdge(tx *Transaction, world string, a, b grid.Pos, kind grid.Kind) error {
	const op = "remove_edge"
	if err := tx.check(r); err != nil {
		return r.fail(op, err)
	}
	if err := checkKind(kind); err != nil {
		return r.fail(op, err)
	}
	dir, ok := grid.DirBetween(a, b)
	if !ok {
		return r.fail(op, fmt.Errorf("%s and %s: %w", a, b, ErrNotAdjacent))
	}
	_, ra, err := r.regionAt(world, a)
	if err != nil {
		return r.fail(op, err)
	}
	_, rb, err := r.regionAt(world, b)
	if err != nil {
		return r.fail(op, err)
	}
	if !ra.hasNodeEdge(a, dir, kind) || !rb.hasNodeEdge(b, dir.Opposite(), kind) {
		return r.fail(op, fmt.Errorf("%s edge %s-%s: %w", kind, a, b, ErrEdgeNotFound))
	}
	ra.clearEdge(a, dir, kind)
	rb.clearEdge(b, dir.Opposite(), kind)
	tx.markModified(world, ra.key)
	tx.markModified(world, rb.key)
	return nil
}

// AttachSink adds a sink and its boundary edge on one face of a node.
func (r *Registry) AttachSink(tx *Transaction, world string, pos grid.Pos, facing grid.Dir, kind grid.Kind) error {
	const op = "attach_sink"
	if err := tx.check(r); err != nil {
		return r.fail(op, err)
	}
	if err := checkKind(kind); err != nil {
		return r.fail(op, err)
	}
	if !facing.Valid() {
		return r.fail(op, fmt.Errorf("facing %s: %w", facing, ErrInvalidFacing))
	}
	_, reg, err := r.regionAt(world, pos)
	if err != nil {
		return r.fail(op, err)
	}
	if err := reg.attachSink(pos, facing, kind); err != nil {
		return r.fail(op, err)
	}
	tx.markModified(world, reg.key)
	return nil
}

// RemoveSink removes a sink and its boundary edge.
func (r *Registry) RemoveSink(tx *Transaction, world string, pos grid.Pos, facing grid.Dir, kind grid.Kind) error {
	const op = "remove_sink"
	if err := tx.check(r); err != nil {
		return r.fail(op, err)
	}
	if err := checkKind(kind); err != nil {
		return r.fail(op, err)
	}
	_, reg, err := r.regionAt(world, pos)
	if err != nil {
		return r.fail(op, err)
	}
	if err := reg.removeSink(pos, facing, kind); err != nil {
		return r.fail(op, err)
	}
	tx.markModified(world, reg.key)
	return nil
}

// RemoveAllSinks removes every sink of kind at pos, keeping the node. It
// returns the faces that held a sink.
func (r *Registry) RemoveAllSinks(tx *Transaction, world string, pos grid.Pos, kind grid.Kind) ([]grid.Dir, error) {
	const op = "remove_all_sinks"
	if err := tx.check(r); err != nil {
		return nil, r.fail(op, err)
	}
	if err := checkKind(kind); err != nil {
		return nil, r.fail(op, err)
	}
	_, reg, err := r.regionAt(world, pos)
	if err != nil {
		return nil, r.fail(op, err)
	}
	removed, err := reg.removeAllSinks(pos, kind)
	if err != nil {
		return nil, r.fail(op, err)
	}
	tx.markModified(world, reg.key)
	return removed, nil
}

func (r *Registry) HasNode(world string, pos grid.Pos, kind grid.Kind) (bool, error) {
	_, reg, err := r.regionAt(world, pos)
	if err != nil {
		return false, err
	}
	return reg.hasNode(pos, kind), nil
}

func (r *Registry) HasSink(world string, pos grid.Pos, facing grid.Dir, kind grid.Kind) (bool, error) {
	_, reg, err := r.regionAt(world, pos)
	if err != nil {
		return false, err
	}
	return reg.hasSink(pos, facing, kind), nil
}

// HasEdge reports whether a node edge from a toward b is stored at a.
func (r *Registry) HasEdge(world string, a, b grid.Pos, kind grid.Kind) (bool, error) {
	dir, ok := grid.DirBetween(a, b)
	if !ok {
		return false, fmt.Errorf("%s and %s: %w", a, b, ErrNotAdjacent)
	}
	_, reg, err := r.regionAt(world, a)
	if err != nil {
		return false, err
	}
	return reg.hasNodeEdge(a, dir, kind), nil
}

// Paths returns a copy of the cached routes from one sink.
func (r *Registry) Paths(world string, pos grid.Pos, facing grid.Dir, kind grid.Kind) ([]PathEntry, error) {
	_, reg, err := r.regionAt(world, pos)
	if err != nil {
		return nil, err
	}
	if !reg.hasSink(pos, facing, kind) {
		return nil, fmt.Errorf("%s sink at %s facing %s: %w", kind, pos, facing, ErrSinkNotFound)
	}
	entries := reg.pathsFrom(SinkRef{Pos: pos, Facing: facing}, kind)
	out := make([]PathEntry, len(entries))
	copy(out, entries)
	return out, nil
}

// recalculate rebuilds the given regions of d once each and returns how many
// were rebuilt.
func (r *Registry) recalculate(d *Dimension, keys map[grid.RegionKey]struct{}, cause string) int {
	ordered := make([]grid.RegionKey, 0, len(keys))
	for k := range keys {
		ordered = append(ordered, k)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Less(ordered[j]) })

	n := 0
	for _, k := range ordered {
		reg := d.regions[k]
		if reg == nil {
			continue
		}
		start := time.Now()
		reg.recalculate(d)
		r.metrics.RecordRecalc(d.id, cause, time.Since(start))
		n++
	}
	return n
}
