package scenario

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"conduitnet.ai/internal/sim/grid"
	"conduitnet.ai/internal/sim/network"
)

func loadRepoScenario(t *testing.T) Scenario {
	t.Helper()
	s, err := Load("../../../configs/scenario.yaml")
	if err != nil {
		t.Fatalf("load scenario: %v", err)
	}
	return s
}

func TestRepoScenarioAppliesAndMoves(t *testing.T) {
	s := loadRepoScenario(t)
	bs := NewBuffers()
	if err := s.Install(bs); err != nil {
		t.Fatalf("install: %v", err)
	}
	reg := network.NewRegistry(network.Options{Logger: log.New(io.Discard, "", 0), Capabilities: bs})
	for _, k := range s.Regions() {
		if err := reg.RegionLoaded(s.World, k, nil); err != nil {
			t.Fatalf("load region %s: %v", k, err)
		}
	}
	tx := reg.BeginTransaction()
	if err := s.Apply(reg, tx); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := reg.CheckInvariants(s.World); err != nil {
		t.Fatalf("invariants: %v", err)
	}

	beforeItems := bs.Total(s.World, grid.Item)
	rep, err := reg.Tick(s.World)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if got := bs.Total(s.World, grid.Item); got != beforeItems {
		t.Fatalf("items not conserved: %d -> %d", beforeItems, got)
	}
	// The hopper one hop away fills before the barrel three hops away.
	hopper := bs.Get(s.World, grid.Pos{X: -1, Y: 69, Z: -3}, grid.Item)
	barrel := bs.Get(s.World, grid.Pos{X: 2, Y: 70, Z: -3}, grid.Item)
	if hopper.Amount != 5 || barrel.Amount != 635 {
		t.Fatalf("hopper=%d barrel=%d", hopper.Amount, barrel.Amount)
	}
	if rep.Moved[grid.Item] != 640 {
		t.Fatalf("moved items=%d", rep.Moved[grid.Item])
	}

	// Energy starts empty and only moves once produced.
	if rep.Moved[grid.Energy] != 0 {
		t.Fatalf("moved energy before production: %d", rep.Moved[grid.Energy])
	}
	bs.Produce()
	rep, err = reg.Tick(s.World)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if rep.Moved[grid.Energy] != 40 {
		t.Fatalf("moved energy=%d want 40", rep.Moved[grid.Energy])
	}
	if got := bs.Total(s.World, grid.Energy); got != 40 {
		t.Fatalf("energy total=%d", got)
	}
}

func TestBuffersCapability(t *testing.T) {
	bs := NewBuffers()
	b := bs.Put(Buffer{World: "w", Pos: grid.Pos{X: 1}, Kind: grid.Fluid, Amount: 20, Capacity: 10, Production: 3, Push: true})
	if b.Amount != 10 {
		t.Fatalf("amount should be clamped to capacity: %d", b.Amount)
	}
	c, ok := bs.Capability("w", grid.Pos{}, grid.East, grid.Fluid)
	if !ok {
		t.Fatalf("capability not found")
	}
	if _, ok := bs.Capability("w", grid.Pos{}, grid.East, grid.Item); ok {
		t.Fatalf("capability should be per kind")
	}
	if got := c.Withdraw(grid.Fluid, 4); got != 4 {
		t.Fatalf("withdraw=%d", got)
	}
	if got := c.Offer(grid.Fluid, 100); got != 4 {
		t.Fatalf("offer=%d", got)
	}
	if got := c.CapacityRemaining(grid.Fluid); got != 0 {
		t.Fatalf("remaining=%d", got)
	}
	if got := c.AvailableToSend(grid.Item); got != 0 {
		t.Fatalf("kind mismatch should send nothing: %d", got)
	}
	b.Amount = 0
	bs.Produce()
	bs.Produce()
	if b.Amount != 6 {
		t.Fatalf("produced=%d", b.Amount)
	}
	if len(bs.All()) != 1 || bs.Total("w", grid.Fluid) != 6 {
		t.Fatalf("unexpected totals")
	}
}

func TestLoadRejectsInvalidScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("nodes:\n  - {pos: [0, 0, 0], kind: ITEM}\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for scenario without world")
	}
}
