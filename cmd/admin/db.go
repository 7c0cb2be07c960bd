package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"conduitnet.ai/internal/persistence/regionstore"
)

var bg = context.Background()

func openStore(dataDir, dbPath string) *regionstore.Store {
	path := strings.TrimSpace(dbPath)
	if path == "" {
		path = filepath.Join(dataDir, "index", "regions.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	store, err := regionstore.Open(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	return store
}

func regionsCmd(args []string) {
	fs := flag.NewFlagSet("regions", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	worldID := fs.String("world", "", "world id (optional)")
	_ = fs.Parse(args)

	store := openStore(*dataDir, *dbPath)
	defer store.Close()

	rows, err := store.List(bg, strings.TrimSpace(*worldID))
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	for _, r := range rows {
		printJSON(struct {
			World     string `json:"world_id"`
			CX        int    `json:"cx"`
			CZ        int    `json:"cz"`
			Nodes     int    `json:"nodes"`
			Bytes     int    `json:"bytes"`
			UpdatedAt string `json:"updated_at"`
		}{r.World, r.Key.CX, r.Key.CZ, r.Nodes, r.Bytes, r.UpdatedAt})
	}
}

func ticksCmd(args []string) {
	fs := flag.NewFlagSet("ticks", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	worldID := fs.String("world", "", "world id")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	if strings.TrimSpace(*worldID) == "" {
		fmt.Fprintln(os.Stderr, "missing -world")
		os.Exit(2)
	}
	store := openStore(*dataDir, *dbPath)
	defer store.Close()

	rows, err := store.RecentTicks(bg, *worldID, *limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	for _, r := range rows {
		printJSON(struct {
			Tick        uint64          `json:"tick"`
			MovedEnergy int64           `json:"moved_energy"`
			MovedItem   int64           `json:"moved_item"`
			MovedFluid  int64           `json:"moved_fluid"`
			Transfers   int             `json:"transfers"`
			Skipped     int             `json:"skipped"`
			Raw         json.RawMessage `json:"raw"`
		}{r.Tick, r.MovedEnergy, r.MovedItem, r.MovedFluid, r.Transfers, r.Skipped, json.RawMessage(r.RawJSON)})
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
