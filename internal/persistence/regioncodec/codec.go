package regioncodec

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
	"sort"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"

	"conduitnet.ai/internal/sim/grid"
)

const Version = 1

var magic = [4]byte{'C', 'N', 'R', '1'}

type Compression uint8

const (
	CompressNone Compression = iota
	CompressZstd
	CompressSnappy
)

func ParseCompression(s string) (Compression, error) {
	switch s {
	case "", "zstd":
		return CompressZstd, nil
	case "none":
		return CompressNone, nil
	case "snappy":
		return CompressSnappy, nil
	}
	return 0, fmt.Errorf("unknown payload compression %q", s)
}

func (c Compression) String() string {
	switch c {
	case CompressNone:
		return "none"
	case CompressZstd:
		return "zstd"
	case CompressSnappy:
		return "snappy"
	}
	return fmt.Sprintf("compression(%d)", uint8(c))
}

// RegionV1 is the persisted structure of one region. The path index is not
// part of it; it is rebuilt on activation.
type RegionV1 struct {
	Version int      `json:"version"`
	WorldID string   `json:"world_id"`
	CX      int      `json:"cx"`
	CZ      int      `json:"cz"`
	Nodes   []NodeV1 `json:"nodes"`
}

// NodeV1 holds one conduit node. Edges and Sinks are direction bitmasks in
// grid.Dir ordinal order; every sink bit has its edge bit set as well.
type NodeV1 struct {
	Pos   [3]int `json:"pos"`
	Kind  string `json:"kind"`
	Edges uint8  `json:"edges"`
	Sinks uint8  `json:"sinks,omitempty"`
}

func (r RegionV1) Key() grid.RegionKey { return grid.RegionKey{CX: r.CX, CZ: r.CZ} }

// Canonicalize sorts nodes by position then kind. An empty region holds an
// empty, non-nil node list.
func (r *RegionV1) Canonicalize() {
	if r.Nodes == nil {
		r.Nodes = []NodeV1{}
	}
	sort.Slice(r.Nodes, func(i, j int) bool {
		a, b := grid.PosFromArray(r.Nodes[i].Pos), grid.PosFromArray(r.Nodes[j].Pos)
		if a != b {
			return a.Less(b)
		}
		return r.Nodes[i].Kind < r.Nodes[j].Kind
	})
}

func (r RegionV1) Validate() error {
	if r.Version != Version {
		return fmt.Errorf("region payload version %d unsupported", r.Version)
	}
	key := r.Key()
	type nk struct {
		p grid.Pos
		k grid.Kind
	}
	seen := make(map[nk]bool, len(r.Nodes))
	for i, n := range r.Nodes {
		p := grid.PosFromArray(n.Pos)
		if !key.Contains(p) {
			return fmt.Errorf("nodes[%d] at %s outside region %s", i, p, key)
		}
		k, err := grid.ParseKind(n.Kind)
		if err != nil {
			return fmt.Errorf("nodes[%d]: %w", i, err)
		}
		if seen[nk{p, k}] {
			return fmt.Errorf("nodes[%d]: duplicate %s node at %s", i, k, p)
		}
		seen[nk{p, k}] = true
		edges, sinks := grid.DirSet(n.Edges), grid.DirSet(n.Sinks)
		if !edges.Valid() || !sinks.Valid() {
			return fmt.Errorf("nodes[%d]: direction mask out of range", i)
		}
		if sinks&^edges != 0 {
			return fmt.Errorf("nodes[%d]: sink without boundary edge at %s", i, p)
		}
	}
	return nil
}

func Encode(r RegionV1, c Compression) ([]byte, error) {
	if r.Version == 0 {
		r.Version = Version
	}
	var raw bytes.Buffer
	if err := gob.NewEncoder(&raw).Encode(&r); err != nil {
		return nil, fmt.Errorf("gob encode: %w", err)
	}

	var out bytes.Buffer
	out.Write(magic[:])
	out.WriteByte(byte(c))
	switch c {
	case CompressNone:
		out.Write(raw.Bytes())
	case CompressZstd:
		enc, err := zstd.NewWriter(&out, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, err
		}
		if _, err := enc.Write(raw.Bytes()); err != nil {
			_ = enc.Close()
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
	case CompressSnappy:
		out.Write(snappy.Encode(nil, raw.Bytes()))
	default:
		return nil, fmt.Errorf("unknown payload compression %d", c)
	}
	return out.Bytes(), nil
}

func Decode(b []byte) (RegionV1, error) {
	var r RegionV1
	if len(b) < len(magic)+1 {
		return r, fmt.Errorf("region payload too short: %d bytes", len(b))
	}
	if !bytes.Equal(b[:len(magic)], magic[:]) {
		return r, fmt.Errorf("region payload: bad magic %q", b[:len(magic)])
	}
	body := b[len(magic)+1:]

	var src io.Reader
	switch Compression(b[len(magic)]) {
	case CompressNone:
		src = bytes.NewReader(body)
	case CompressZstd:
		dec, err := zstd.NewReader(bytes.NewReader(body))
		if err != nil {
			return r, err
		}
		defer dec.Close()
		src = dec
	case CompressSnappy:
		raw, err := snappy.Decode(nil, body)
		if err != nil {
			return r, fmt.Errorf("snappy decode: %w", err)
		}
		src = bytes.NewReader(raw)
	default:
		return r, fmt.Errorf("region payload: unknown compression %d", b[len(magic)])
	}

	if err := gob.NewDecoder(src).Decode(&r); err != nil {
		return r, fmt.Errorf("gob decode: %w", err)
	}
	// gob drops empty slices.
	if r.Nodes == nil {
		r.Nodes = []NodeV1{}
	}
	if err := r.Validate(); err != nil {
		return r, err
	}
	return r, nil
}
