package main

import (
	"context"
	"fmt"
	"log"
	"time"

	persistlog "conduitnet.ai/internal/persistence/log"
	"conduitnet.ai/internal/persistence/regionstore"
	"conduitnet.ai/internal/sim/grid"
	"conduitnet.ai/internal/sim/network"
	"conduitnet.ai/internal/sim/scenario"
	"conduitnet.ai/internal/sim/tuning"
)

// host plays the voxel world for the registry: it keeps the configured
// regions active, owns the buffers behind every sink and persists payloads.
// Every method runs on the simulation goroutine.
type host struct {
	log       *log.Logger
	tune      tuning.Tuning
	store     *regionstore.Store
	reg       *network.Registry
	buffers   *scenario.Buffers
	transfers *persistlog.TransferLogger

	steps uint64
}

// activate loads every configured region, from its stored payload when there
// is one, then every other region the store holds for a configured world.
func (h *host) activate(ctx context.Context) error {
	for _, wc := range h.tune.Worlds {
		stored := 0
		for _, key := range wc.Regions.Keys() {
			ok, err := h.load(ctx, wc.ID, key)
			if err != nil {
				return err
			}
			if ok {
				stored++
			}
		}
		rows, err := h.store.List(ctx, wc.ID)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if d := h.reg.Dimension(wc.ID); d != nil && d.Region(row.Key) != nil {
				continue
			}
			if _, err := h.load(ctx, wc.ID, row.Key); err != nil {
				return err
			}
			stored++
		}
		h.log.Printf("world %s: %d regions active (%d from store)", wc.ID, len(h.reg.LoadedRegions(wc.ID)), stored)
	}
	return nil
}

func (h *host) load(ctx context.Context, world string, key grid.RegionKey) (bool, error) {
	payload, ok, err := h.store.Get(ctx, world, key)
	if err != nil {
		return false, err
	}
	if err := h.reg.RegionLoaded(world, key, payload); err != nil {
		return false, fmt.Errorf("load %s %s: %w", world, key, err)
	}
	return ok, nil
}

// seed installs the scenario buffers and, when the store holds nothing for
// the scenario world yet, applies its edits in one transaction.
func (h *host) seed(ctx context.Context, sc scenario.Scenario) error {
	if err := sc.Install(h.buffers); err != nil {
		return err
	}
	rows, err := h.store.List(ctx, sc.World)
	if err != nil {
		return err
	}
	if len(rows) > 0 {
		h.log.Printf("world %s: store holds %d regions, scenario edits skipped", sc.World, len(rows))
		return nil
	}

	for _, key := range sc.Regions() {
		if d := h.reg.Dimension(sc.World); d != nil && d.Region(key) != nil {
			continue
		}
		if _, err := h.load(ctx, sc.World, key); err != nil {
			return err
		}
	}
	tx := h.reg.BeginTransaction()
	applyErr := sc.Apply(h.reg, tx)
	// Commit even on failure so the edits that did apply get routes.
	n, err := tx.Commit()
	if applyErr != nil {
		return fmt.Errorf("apply scenario: %w", applyErr)
	}
	if err != nil {
		return err
	}
	h.log.Printf("world %s: scenario applied by tx %s, %d regions recalculated", sc.World, tx.ID(), n)
	return h.saveAll(ctx)
}

// step runs one host tick: production, transfer, logging, autosave.
func (h *host) step(ctx context.Context) []network.TickReport {
	h.steps++
	h.buffers.Produce()
	reps := h.reg.TickAll()
	for _, rep := range reps {
		if err := h.transfers.WriteTick(rep); err != nil {
			h.log.Printf("transfer log: %v", err)
		}
		h.store.RecordTick(rep)
	}
	if every := uint64(h.tune.AutosaveEveryTicks); every > 0 && h.steps%every == 0 {
		if err := h.saveAll(ctx); err != nil {
			h.log.Printf("autosave: %v", err)
		}
	}
	return reps
}

func (h *host) saveAll(ctx context.Context) error {
	start := time.Now()
	saved := 0
	for _, world := range h.reg.Worlds() {
		d := h.reg.Dimension(world)
		for _, key := range d.Keys() {
			payload, err := h.reg.SaveRegion(world, key)
			if err != nil {
				return err
			}
			if err := h.store.Put(ctx, world, key, payload, d.Region(key).NodeCount()); err != nil {
				return err
			}
			saved++
		}
	}
	h.log.Printf("saved %d regions in %s", saved, time.Since(start).Round(time.Millisecond))
	return nil
}

// unloadAll deactivates every region and stores its final payload.
func (h *host) unloadAll(ctx context.Context) error {
	for _, world := range h.reg.Worlds() {
		d := h.reg.Dimension(world)
		for _, key := range d.Keys() {
			nodes := d.Region(key).NodeCount()
			payload, err := h.reg.RegionUnloaded(world, key)
			if err != nil {
				return err
			}
			if err := h.store.Put(ctx, world, key, payload, nodes); err != nil {
				return err
			}
		}
	}
	return nil
}

// run drives step at the configured tick rate until ctx is done, then unloads
// everything.
func (h *host) run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second / time.Duration(h.tune.TickRateHz))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// ctx is already cancelled; persist with a fresh deadline.
			saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := h.unloadAll(saveCtx); err != nil {
				return fmt.Errorf("unload: %w", err)
			}
			h.log.Printf("stopped after %d steps", h.steps)
			return nil
		case <-ticker.C:
			h.step(ctx)
		}
	}
}
