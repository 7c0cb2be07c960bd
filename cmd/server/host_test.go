package main

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"testing"

	persistlog "conduitnet.ai/internal/persistence/log"
	"conduitnet.ai/internal/persistence/regioncodec"
	"conduitnet.ai/internal/persistence/regionstore"
	"conduitnet.ai/internal/sim/grid"
	"conduitnet.ai/internal/sim/network"
	"conduitnet.ai/internal/sim/scenario"
	"conduitnet.ai/internal/sim/tuning"
)

func newTestHost(t *testing.T, store *regionstore.Store, dataDir string) *host {
	t.Helper()
	tune := tuning.Defaults()
	tune.AutosaveEveryTicks = 0
	bs := scenario.NewBuffers()
	transfers := persistlog.NewTransferLogger(dataDir)
	t.Cleanup(func() { _ = transfers.Close() })
	return &host{
		log:   log.New(io.Discard, "", 0),
		tune:  tune,
		store: store,
		reg: network.NewRegistry(network.Options{
			Logger:       log.New(io.Discard, "", 0),
			Capabilities: bs,
			Compression:  regioncodec.CompressSnappy,
		}),
		buffers:   bs,
		transfers: transfers,
	}
}

func TestHostSeedsThenResumesFromStore(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()
	store, err := regionstore.Open(filepath.Join(dataDir, "index", "regions.sqlite"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	sc, err := scenario.Load("../../configs/scenario.yaml")
	if err != nil {
		t.Fatalf("load scenario: %v", err)
	}

	battery := grid.Pos{X: 18, Y: 64, Z: 0}
	generator := network.SinkRef{Pos: grid.Pos{X: 14, Y: 64, Z: 0}, Facing: grid.West}

	h := newTestHost(t, store, dataDir)
	if err := h.activate(ctx); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := h.seed(ctx, sc); err != nil {
		t.Fatalf("seed: %v", err)
	}
	for i := 0; i < 3; i++ {
		h.step(ctx)
	}
	if got := h.buffers.Get(sc.World, battery, grid.Energy).Amount; got != 120 {
		t.Fatalf("battery=%d want 120", got)
	}
	if err := h.unloadAll(ctx); err != nil {
		t.Fatalf("unload: %v", err)
	}
	if len(h.reg.Worlds()) != 0 {
		t.Fatalf("worlds still loaded: %v", h.reg.Worlds())
	}
	rows, err := store.List(ctx, sc.World)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 9 {
		t.Fatalf("stored regions=%d want 9", len(rows))
	}

	// A second host on the same store restores the graph and skips the
	// scenario edits.
	h2 := newTestHost(t, store, dataDir)
	if err := h2.activate(ctx); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := h2.seed(ctx, sc); err != nil {
		t.Fatalf("seed: %v", err)
	}
	paths, err := h2.reg.Paths(sc.World, generator.Pos, generator.Facing, grid.Energy)
	if err != nil {
		t.Fatalf("paths: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("paths=%+v want 2 entries", paths)
	}
	if err := h2.reg.CheckInvariants(sc.World); err != nil {
		t.Fatalf("invariants: %v", err)
	}
	h2.step(ctx)
	if got := h2.buffers.Get(sc.World, battery, grid.Energy).Amount; got != 40 {
		t.Fatalf("battery after resume=%d want 40", got)
	}
}

func TestHostRestoresStoredRegionsOutsideRange(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()
	store, err := regionstore.Open(filepath.Join(dataDir, "index", "regions.sqlite"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	sc, err := scenario.Load("../../configs/scenario.yaml")
	if err != nil {
		t.Fatalf("load scenario: %v", err)
	}
	generator := network.SinkRef{Pos: grid.Pos{X: 14, Y: 64, Z: 0}, Facing: grid.West}

	// Only region 0,0 is configured; the scenario also reaches 1,0 and two
	// regions at cz=-1.
	narrow := func(h *host) {
		h.tune.Worlds = []tuning.WorldConfig{{ID: sc.World}}
	}

	h := newTestHost(t, store, dataDir)
	narrow(h)
	if err := h.activate(ctx); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := h.seed(ctx, sc); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := h.unloadAll(ctx); err != nil {
		t.Fatalf("unload: %v", err)
	}
	rows, err := store.List(ctx, sc.World)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("stored regions=%d want 4", len(rows))
	}

	h2 := newTestHost(t, store, dataDir)
	narrow(h2)
	if err := h2.activate(ctx); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if got := len(h2.reg.LoadedRegions(sc.World)); got != 4 {
		t.Fatalf("active regions=%d want 4", got)
	}
	paths, err := h2.reg.Paths(sc.World, generator.Pos, generator.Facing, grid.Energy)
	if err != nil {
		t.Fatalf("paths: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("paths=%+v want 2 entries", paths)
	}
	if err := h2.reg.CheckInvariants(sc.World); err != nil {
		t.Fatalf("invariants: %v", err)
	}
}

func TestOnlyWorld(t *testing.T) {
	ws := []tuning.WorldConfig{{ID: "overworld"}, {ID: "nether"}}
	if got := onlyWorld(ws, "nether"); len(got) != 1 || got[0].ID != "nether" {
		t.Fatalf("onlyWorld: %+v", got)
	}
	if got := onlyWorld(ws, "the_end"); got != nil {
		t.Fatalf("unknown world: %+v", got)
	}
}
