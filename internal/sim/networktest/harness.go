package networktest

import (
	"io"
	"log"
	"testing"

	"conduitnet.ai/internal/persistence/regioncodec"
	"conduitnet.ai/internal/sim/grid"
	"conduitnet.ai/internal/sim/network"
	"conduitnet.ai/internal/sim/scenario"
)

// Harness drives a registry and an in-memory host through exported APIs
// only, so tests can live outside the network package.
type Harness struct {
	T       *testing.T
	Reg     *network.Registry
	Buffers *scenario.Buffers
	World   string

	// stored holds payloads of regions unloaded through the harness.
	stored map[grid.RegionKey][]byte
}

func NewHarness(t *testing.T, world string, keys ...grid.RegionKey) *Harness {
	t.Helper()
	bs := scenario.NewBuffers()
	h := &Harness{
		T:       t,
		Buffers: bs,
		World:   world,
		Reg: network.NewRegistry(network.Options{
			Logger:           log.New(io.Discard, "", 0),
			Capabilities:     bs,
			Compression:      regioncodec.CompressZstd,
			PublishSnapshots: true,
		}),
		stored: map[grid.RegionKey][]byte{},
	}
	for _, k := range keys {
		h.Load(k)
	}
	return h
}

// NewScenarioHarness loads every region a scenario occupies, installs its
// buffers and applies its edits in one committed transaction.
func NewScenarioHarness(t *testing.T, path string) *Harness {
	t.Helper()
	s, err := scenario.Load(path)
	if err != nil {
		t.Fatalf("scenario.Load: %v", err)
	}
	h := NewHarness(t, s.World, s.Regions()...)
	if err := s.Install(h.Buffers); err != nil {
		t.Fatalf("install buffers: %v", err)
	}
	h.Edit(func(tx *network.Transaction) error { return s.Apply(h.Reg, tx) })
	return h
}

// Edit runs fn in a fresh transaction and commits it.
func (h *Harness) Edit(fn func(tx *network.Transaction) error) int {
	h.T.Helper()
	tx := h.Reg.BeginTransaction()
	if err := fn(tx); err != nil {
		h.T.Fatalf("edit: %v", err)
	}
	n, err := tx.Commit()
	if err != nil {
		h.T.Fatalf("commit: %v", err)
	}
	return n
}

// Load activates a region from the payload stored by a previous Unload, or
// empty when there is none.
func (h *Harness) Load(key grid.RegionKey) {
	h.T.Helper()
	if err := h.Reg.RegionLoaded(h.World, key, h.stored[key]); err != nil {
		h.T.Fatalf("RegionLoaded %s: %v", key, err)
	}
}

func (h *Harness) Unload(key grid.RegionKey) {
	h.T.Helper()
	payload, err := h.Reg.RegionUnloaded(h.World, key)
	if err != nil {
		h.T.Fatalf("RegionUnloaded %s: %v", key, err)
	}
	h.stored[key] = payload
}

// Step produces, then ticks the world once.
func (h *Harness) Step() network.TickReport {
	h.T.Helper()
	h.Buffers.Produce()
	rep, err := h.Reg.Tick(h.World)
	if err != nil {
		h.T.Fatalf("tick: %v", err)
	}
	return rep
}

func (h *Harness) StepFor(n int) []network.TickReport {
	h.T.Helper()
	out := make([]network.TickReport, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, h.Step())
	}
	return out
}

func (h *Harness) Amount(pos grid.Pos, kind grid.Kind) int64 {
	h.T.Helper()
	b := h.Buffers.Get(h.World, pos, kind)
	if b == nil {
		h.T.Fatalf("no %s buffer at %s", kind, pos)
	}
	return b.Amount
}

func (h *Harness) Total(kind grid.Kind) int64 { return h.Buffers.Total(h.World, kind) }

func (h *Harness) MustHold() {
	h.T.Helper()
	if err := h.Reg.CheckInvariants(h.World); err != nil {
		h.T.Fatalf("invariants: %v", err)
	}
}
