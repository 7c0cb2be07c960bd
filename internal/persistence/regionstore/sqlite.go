package regionstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"conduitnet.ai/internal/sim/grid"
	"conduitnet.ai/internal/sim/network"
)

// Store keeps region payloads and a tick index in SQLite. Payload calls are
// synchronous; tick rows go through a buffered queue drained by one writer
// goroutine and are dropped when the writer falls behind.
type Store struct {
	db *sql.DB

	ch   chan network.TickReport
	wg   sync.WaitGroup
	once sync.Once

	closed      atomic.Bool
	dropTotal   atomic.Uint64
	writeErrors atomic.Uint64
}

type RegionRow struct {
	World     string
	Key       grid.RegionKey
	Nodes     int
	Bytes     int
	UpdatedAt string
}

type TickRow struct {
	World       string
	Tick        uint64
	MovedEnergy int64
	MovedItem   int64
	MovedFluid  int64
	Transfers   int
	Skipped     int
	RawJSON     string
}

type Stats struct {
	QueueDepth    int
	QueueCapacity int
	DropTotal     uint64
	WriteErrors   uint64
}

func Open(path string) (*Store, error) {
	return open(path, 65536)
}

func open(path string, queue int) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db, ch: make(chan network.TickReport, queue)}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`INSERT OR IGNORE INTO meta(key,value) VALUES('schema_version','1');`,
		`CREATE TABLE IF NOT EXISTS regions (
			world_id TEXT NOT NULL,
			cx INTEGER NOT NULL,
			cz INTEGER NOT NULL,
			payload BLOB NOT NULL,
			nodes INTEGER NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (world_id, cx, cz)
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			world_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			moved_energy INTEGER NOT NULL,
			moved_item INTEGER NOT NULL,
			moved_fluid INTEGER NOT NULL,
			transfers INTEGER NOT NULL,
			skipped INTEGER NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (world_id, tick)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Put stores the payload of one region, replacing any earlier one.
func (s *Store) Put(ctx context.Context, world string, key grid.RegionKey, payload []byte, nodes int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO regions(world_id,cx,cz,payload,nodes,updated_at) VALUES(?,?,?,?,?,?)`,
		world, key.CX, key.CZ, payload, nodes, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("put region %s %s: %w", world, key, err)
	}
	return nil
}

// Get returns the stored payload of a region, and false when none is stored.
func (s *Store) Get(ctx context.Context, world string, key grid.RegionKey) ([]byte, bool, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM regions WHERE world_id=? AND cx=? AND cz=?`,
		world, key.CX, key.CZ,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get region %s %s: %w", world, key, err)
	}
	return payload, true, nil
}

func (s *Store) Delete(ctx context.Context, world string, key grid.RegionKey) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM regions WHERE world_id=? AND cx=? AND cz=?`, world, key.CX, key.CZ)
	return err
}

// List returns the stored regions of a world, or of every world when world is
// empty, ordered by world, cx, cz.
func (s *Store) List(ctx context.Context, world string) ([]RegionRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT world_id, cx, cz, nodes, length(payload), updated_at FROM regions
		 WHERE (?='' OR world_id=?) ORDER BY world_id, cx, cz`,
		world, world,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RegionRow
	for rows.Next() {
		var r RegionRow
		if err := rows.Scan(&r.World, &r.Key.CX, &r.Key.CZ, &r.Nodes, &r.Bytes, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecordTick queues a tick report for the index. It never blocks.
func (s *Store) RecordTick(rep network.TickReport) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- rep:
	default:
		s.dropTotal.Add(1)
	}
}

// RecentTicks returns up to limit rows of a world, newest first.
func (s *Store) RecentTicks(ctx context.Context, world string, limit int) ([]TickRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT world_id, tick, moved_energy, moved_item, moved_fluid, transfers, skipped, raw_json
		 FROM ticks WHERE world_id=? ORDER BY tick DESC LIMIT ?`,
		world, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TickRow
	for rows.Next() {
		var r TickRow
		var tick int64
		if err := rows.Scan(&r.World, &tick, &r.MovedEnergy, &r.MovedItem, &r.MovedFluid, &r.Transfers, &r.Skipped, &r.RawJSON); err != nil {
			return nil, err
		}
		r.Tick = uint64(tick)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
		DropTotal:     s.dropTotal.Load(),
		WriteErrors:   s.writeErrors.Load(),
	}
}

type tickJSON struct {
	Moved     map[string]int64 `json:"moved"`
	Transfers int              `json:"transfers"`
	Skipped   int              `json:"skipped"`
	Micros    int64            `json:"duration_us"`
}

func (s *Store) loop() {
	ctx := context.Background()
	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(world_id,tick,moved_energy,moved_item,moved_fluid,transfers,skipped,raw_json) VALUES(?,?,?,?,?,?,?,?)`)
	defer func() {
		if insertTick != nil {
			_ = insertTick.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second
	)
	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			s.writeErrors.Add(1)
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeErrors.Add(1)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for rep := range s.ch {
		begin()
		if tx == nil || insertTick == nil {
			continue
		}
		moved := map[string]int64{}
		for k, q := range rep.Moved {
			moved[k.String()] = q
		}
		raw, _ := json.Marshal(tickJSON{
			Moved:     moved,
			Transfers: len(rep.Transfers),
			Skipped:   rep.Skipped,
			Micros:    rep.Duration.Microseconds(),
		})
		if _, err := tx.Stmt(insertTick).Exec(
			rep.World,
			int64(rep.Tick),
			rep.Moved[grid.Energy],
			rep.Moved[grid.Item],
			rep.Moved[grid.Fluid],
			len(rep.Transfers),
			rep.Skipped,
			string(raw),
		); err != nil {
			s.writeErrors.Add(1)
			_ = tx.Rollback()
			tx = nil
			continue
		}
		opCount++
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait || len(s.ch) == 0 {
			commit()
		}
	}
	commit()
}
