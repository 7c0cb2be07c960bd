package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	persistlog "conduitnet.ai/internal/persistence/log"
	"conduitnet.ai/internal/persistence/regioncodec"
	"conduitnet.ai/internal/sim/grid"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "regions":
			regionsCmd(os.Args[2:])
			return
		case "dump":
			dumpCmd(os.Args[2:])
			return
		case "ticks":
			ticksCmd(os.Args[2:])
			return
		case "transfers":
			transfersCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "watch":
			watchCmd(os.Args[2:])
			return
		}
	}
	regionsCmd(os.Args[1:])
}

type nodeDump struct {
	Pos   [3]int   `json:"pos"`
	Kind  string   `json:"kind"`
	Edges []string `json:"edges"`
	Sinks []string `json:"sinks,omitempty"`
}

type regionDump struct {
	WorldID string     `json:"world_id"`
	CX      int        `json:"cx"`
	CZ      int        `json:"cz"`
	Format  string     `json:"compression"`
	Bytes   int        `json:"bytes"`
	Nodes   []nodeDump `json:"nodes"`
}

func dumpCmd(args []string) {
	fs := flag.NewFlagSet("dump", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	worldID := fs.String("world", "", "world id")
	cx := fs.Int("cx", 0, "region x")
	cz := fs.Int("cz", 0, "region z")
	_ = fs.Parse(args)

	if strings.TrimSpace(*worldID) == "" {
		fmt.Fprintln(os.Stderr, "missing -world")
		os.Exit(2)
	}
	store := openStore(*dataDir, *dbPath)
	defer store.Close()

	key := grid.RegionKey{CX: *cx, CZ: *cz}
	payload, ok, err := store.Get(bg, *worldID, key)
	if err != nil {
		fmt.Fprintln(os.Stderr, "get:", err)
		os.Exit(1)
	}
	if !ok {
		fmt.Fprintf(os.Stderr, "no payload stored for %s %s\n", *worldID, key)
		os.Exit(2)
	}
	out, err := decodeDump(payload)
	if err != nil {
		fmt.Fprintln(os.Stderr, "decode:", err)
		os.Exit(1)
	}
	printJSON(out)
}

func decodeDump(payload []byte) (regionDump, error) {
	r, err := regioncodec.Decode(payload)
	if err != nil {
		return regionDump{}, err
	}
	out := regionDump{
		WorldID: r.WorldID,
		CX:      r.CX,
		CZ:      r.CZ,
		Format:  regioncodec.Compression(payload[4]).String(),
		Bytes:   len(payload),
		Nodes:   make([]nodeDump, 0, len(r.Nodes)),
	}
	for _, n := range r.Nodes {
		edges, sinks := grid.DirSet(n.Edges), grid.DirSet(n.Sinks)
		out.Nodes = append(out.Nodes, nodeDump{
			Pos:   n.Pos,
			Kind:  n.Kind,
			Edges: dirNames(edges &^ sinks),
			Sinks: dirNames(sinks),
		})
	}
	return out, nil
}

func dirNames(s grid.DirSet) []string {
	var out []string
	for _, d := range s.Dirs() {
		out = append(out, d.String())
	}
	return out
}

func transfersCmd(args []string) {
	fs := flag.NewFlagSet("transfers", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id filter (optional)")
	sinceTick := fs.Uint64("since_tick", 0, "first tick (inclusive)")
	toTick := fs.Uint64("to_tick", 0, "last tick (inclusive, optional)")
	_ = fs.Parse(args)

	entries, err := readTransfers(filepath.Join(*dataDir, "transfers"), *worldID, *sinceTick, *toTick)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read transfers:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		printJSON(e)
	}
}

// readTransfers reads every hourly transfer file in name order and keeps the
// entries of world (any world when empty) within [since, to].
func readTransfers(dir, world string, since, to uint64) ([]persistlog.TransferEntry, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "transfers-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var out []persistlog.TransferEntry
	for _, name := range names {
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		dec, err := zstd.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		sc := bufio.NewScanner(dec)
		sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
		for sc.Scan() {
			var e persistlog.TransferEntry
			if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
				dec.Close()
				_ = f.Close()
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			if world != "" && e.World != world {
				continue
			}
			if e.Tick < since || (to != 0 && e.Tick > to) {
				continue
			}
			out = append(out, e)
		}
		err = sc.Err()
		dec.Close()
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	return out, nil
}
