package main

import (
	"testing"

	persistlog "conduitnet.ai/internal/persistence/log"
	"conduitnet.ai/internal/persistence/regioncodec"
	"conduitnet.ai/internal/sim/grid"
	"conduitnet.ai/internal/sim/network"
)

func TestDecodeDumpSplitsEdgesAndSinks(t *testing.T) {
	edges := grid.DirSet(0).With(grid.East).With(grid.Down)
	payload, err := regioncodec.Encode(regioncodec.RegionV1{
		WorldID: "overworld",
		CX:      -1,
		Nodes: []regioncodec.NodeV1{
			{Pos: [3]int{-2, 5, 0}, Kind: "ITEM", Edges: uint8(edges), Sinks: uint8(grid.DirSet(0).With(grid.Down))},
		},
	}, regioncodec.CompressSnappy)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := decodeDump(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Format != regioncodec.CompressSnappy.String() || got.CX != -1 || len(got.Nodes) != 1 {
		t.Fatalf("unexpected dump: %+v", got)
	}
	n := got.Nodes[0]
	if len(n.Edges) != 1 || n.Edges[0] != "EAST" || len(n.Sinks) != 1 || n.Sinks[0] != "DOWN" {
		t.Fatalf("unexpected node: %+v", n)
	}
	if _, err := decodeDump([]byte("nope")); err == nil {
		t.Fatalf("expected error for short payload")
	}
}

func TestReadTransfersFilters(t *testing.T) {
	dir := t.TempDir()
	l := persistlog.NewTransferLogger(dir)
	src := network.SinkRef{Pos: grid.Pos{X: 1}, Facing: grid.West}
	dst := network.SinkRef{Pos: grid.Pos{X: 3}, Facing: grid.East}
	for _, rep := range []network.TickReport{
		{World: "overworld", Tick: 1},
		{World: "overworld", Tick: 2},
		{World: "nether", Tick: 2},
		{World: "overworld", Tick: 3},
	} {
		rep.Transfers = []network.Transfer{{Kind: grid.Energy, From: src, To: dst, Quantity: 5, Cost: 2}}
		rep.Moved = map[grid.Kind]int64{grid.Energy: 5}
		if err := l.WriteTick(rep); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	got, err := readTransfers(dir+"/transfers", "overworld", 2, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 || got[0].Tick != 2 || got[1].Tick != 3 {
		t.Fatalf("unexpected entries: %+v", got)
	}
	all, err := readTransfers(dir+"/transfers", "", 0, 2)
	if err != nil || len(all) != 3 {
		t.Fatalf("all: %d err=%v", len(all), err)
	}
}
