package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"conduitnet.ai/internal/sim/grid"
	"conduitnet.ai/internal/sim/network"
)

// JSONLZstdWriter appends JSON lines to zstd files rotated every UTC hour:
// <dir>/<prefix>-YYYY-MM-DD-HH.jsonl.zst. Each rotation starts a new zstd
// frame, so a file reopened within the same hour stays decodable.
type JSONLZstdWriter struct {
	dir    string
	prefix string
	now    func() time.Time

	mu   sync.Mutex
	hour string
	f    *os.File
	enc  *zstd.Encoder
	buf  *bufio.Writer
}

func NewJSONLZstdWriter(dir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{dir: dir, prefix: prefix, now: time.Now}
}

func (w *JSONLZstdWriter) Write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if hour := w.now().UTC().Format("2006-01-02-15"); hour != w.hour {
		if err := w.openLocked(hour); err != nil {
			return err
		}
	}
	b = append(b, '\n')
	if _, err := w.buf.Write(b); err != nil {
		return err
	}
	return w.buf.Flush()
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

// Path returns the file the writer would use at t.
func (w *JSONLZstdWriter) Path(t time.Time) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, t.UTC().Format("2006-01-02-15")))
}

func (w *JSONLZstdWriter) openLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(w.dir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f, w.enc, w.hour = f, enc, hour
	w.buf = bufio.NewWriterSize(enc, 64*1024)
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err error
	if w.buf != nil {
		err = w.buf.Flush()
		w.buf = nil
	}
	if w.enc != nil {
		if cerr := w.enc.Close(); err == nil {
			err = cerr
		}
		w.enc = nil
	}
	if w.f != nil {
		if cerr := w.f.Close(); err == nil {
			err = cerr
		}
		w.f = nil
	}
	w.hour = ""
	return err
}

// TransferEntry is the logged form of one tick report.
type TransferEntry struct {
	World     string           `json:"world_id"`
	Tick      uint64           `json:"tick"`
	Moved     map[string]int64 `json:"moved"`
	Skipped   int              `json:"skipped,omitempty"`
	Transfers []TransferLine   `json:"transfers"`
}

type TransferLine struct {
	Kind     string `json:"kind"`
	From     SinkID `json:"from"`
	To       SinkID `json:"to"`
	Quantity int64  `json:"qty"`
	Cost     int    `json:"cost"`
}

type SinkID struct {
	Pos    [3]int `json:"pos"`
	Facing string `json:"facing"`
}

func sinkID(s network.SinkRef) SinkID {
	return SinkID{Pos: s.Pos.ToArray(), Facing: s.Facing.String()}
}

func NewTransferEntry(rep network.TickReport) TransferEntry {
	e := TransferEntry{
		World:     rep.World,
		Tick:      rep.Tick,
		Moved:     map[string]int64{},
		Skipped:   rep.Skipped,
		Transfers: make([]TransferLine, 0, len(rep.Transfers)),
	}
	for _, k := range grid.AllKinds {
		if q := rep.Moved[k]; q != 0 {
			e.Moved[k.String()] = q
		}
	}
	for _, t := range rep.Transfers {
		e.Transfers = append(e.Transfers, TransferLine{
			Kind:     t.Kind.String(),
			From:     sinkID(t.From),
			To:       sinkID(t.To),
			Quantity: t.Quantity,
			Cost:     t.Cost,
		})
	}
	return e
}

// TransferLogger writes one line per tick that moved anything.
type TransferLogger struct{ w *JSONLZstdWriter }

func NewTransferLogger(dataDir string) *TransferLogger {
	return &TransferLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "transfers"), "transfers")}
}

func (l *TransferLogger) WriteTick(rep network.TickReport) error {
	if len(rep.Transfers) == 0 {
		return nil
	}
	return l.w.Write(NewTransferEntry(rep))
}

func (l *TransferLogger) Close() error { return l.w.Close() }
