package networktest

import (
	"testing"

	"conduitnet.ai/internal/sim/grid"
	"conduitnet.ai/internal/sim/network"
)

var (
	generator = grid.Pos{X: 13, Y: 64, Z: 0}
	battery   = grid.Pos{X: 18, Y: 64, Z: 0}
	capacitor = grid.Pos{X: 16, Y: 64, Z: 3}
)

func TestConservationOverManyTicks(t *testing.T) {
	h := NewScenarioHarness(t, repoScenario)
	for i := 0; i < 20; i++ {
		h.Buffers.Produce()
		before := h.Total(grid.Energy) + h.Total(grid.Item)
		if _, err := h.Reg.Tick(h.World); err != nil {
			t.Fatalf("tick: %v", err)
		}
		if after := h.Total(grid.Energy) + h.Total(grid.Item); after != before {
			t.Fatalf("tick %d: total %d -> %d", i, before, after)
		}
	}
	// The battery is the cheaper target and absorbs everything until full.
	if got := h.Amount(capacitor, grid.Energy); got != 0 {
		t.Fatalf("capacitor got %d before battery filled", got)
	}
	if got := h.Amount(battery, grid.Energy); got != 20*40 {
		t.Fatalf("battery=%d", got)
	}
	// Once it is full the next tier takes over.
	h.StepFor(10)
	if got := h.Amount(battery, grid.Energy); got != 1000 {
		t.Fatalf("battery=%d, want full", got)
	}
	if got := h.Amount(capacitor, grid.Energy); got != 200 {
		t.Fatalf("capacitor=%d", got)
	}
	h.MustHold()
}

func TestUnloadCutsRoutesUntilReload(t *testing.T) {
	h := NewScenarioHarness(t, repoScenario)
	h.StepFor(3)
	charged := h.Amount(battery, grid.Energy)
	if charged != 120 {
		t.Fatalf("battery=%d after 3 ticks, want 120", charged)
	}

	east := grid.RegionKey{CX: 1, CZ: 0}
	h.Unload(east)
	rep := h.Step()
	if rep.Moved[grid.Energy] != 0 {
		t.Fatalf("energy moved into unloaded region: %d", rep.Moved[grid.Energy])
	}
	snap, ok := h.Reg.Snapshot(h.World)
	if !ok {
		t.Fatalf("no snapshot")
	}
	for _, rs := range snap.Regions {
		if rs.Key == east {
			t.Fatalf("snapshot still lists unloaded region")
		}
	}

	h.Load(east)
	h.MustHold()
	rep = h.Step()
	// Two ticks of production wait in the generator, both go out at once.
	if rep.Moved[grid.Energy] != 80 {
		t.Fatalf("moved=%d after reload, want 80", rep.Moved[grid.Energy])
	}
	if got := h.Amount(battery, grid.Energy); got != charged+80 {
		t.Fatalf("battery=%d", got)
	}
}

func TestRemovingJunctionReroutesToNothing(t *testing.T) {
	h := NewScenarioHarness(t, repoScenario)
	n := h.Edit(func(tx *network.Transaction) error {
		return h.Reg.RemoveNode(tx, h.World, grid.Pos{X: 15, Y: 64, Z: 0}, grid.Energy)
	})
	if n != 2 {
		t.Fatalf("recalculated %d regions, want 2", n)
	}
	h.MustHold()
	rep := h.Step()
	if rep.Moved[grid.Energy] != 0 {
		t.Fatalf("energy crossed a removed node: %d", rep.Moved[grid.Energy])
	}
	if got := h.Amount(generator, grid.Energy); got != 40 {
		t.Fatalf("generator=%d", got)
	}
}
