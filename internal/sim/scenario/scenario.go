package scenario

import (
	"fmt"
	"os"
	"sort"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"conduitnet.ai/internal/sim/grid"
	"conduitnet.ai/internal/sim/network"
)

var validate = validator.New()

// Scenario seeds a network and its host buffers from YAML. Positions are
// [x, y, z]; kinds and facings use their upper-case names.
type Scenario struct {
	World   string       `yaml:"world" validate:"required"`
	Nodes   []NodeSpec   `yaml:"nodes" validate:"dive"`
	Lines   []LineSpec   `yaml:"lines" validate:"dive"`
	Edges   []EdgeSpec   `yaml:"edges" validate:"dive"`
	Sinks   []SinkSpec   `yaml:"sinks" validate:"dive"`
	Buffers []BufferSpec `yaml:"buffers" validate:"dive"`
}

type NodeSpec struct {
	Pos  [3]int `yaml:"pos"`
	Kind string `yaml:"kind" validate:"required"`
}

// LineSpec is a run of nodes, each linked to the next.
type LineSpec struct {
	Kind string   `yaml:"kind" validate:"required"`
	Path [][3]int `yaml:"path" validate:"min=1"`
}

type EdgeSpec struct {
	A    [3]int `yaml:"a"`
	B    [3]int `yaml:"b"`
	Kind string `yaml:"kind" validate:"required"`
}

type SinkSpec struct {
	Pos    [3]int `yaml:"pos"`
	Facing string `yaml:"facing" validate:"required"`
	Kind   string `yaml:"kind" validate:"required"`
}

type BufferSpec struct {
	Pos        [3]int `yaml:"pos"`
	Kind       string `yaml:"kind" validate:"required"`
	Amount     int64  `yaml:"amount" validate:"min=0"`
	Capacity   int64  `yaml:"capacity" validate:"min=1"`
	Production int64  `yaml:"production" validate:"min=0"`
	Push       bool   `yaml:"push"`
}

func Load(path string) (Scenario, error) {
	var s Scenario
	raw, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return s, fmt.Errorf("scenario %s: %w", path, err)
	}
	if err := validate.Struct(s); err != nil {
		return s, fmt.Errorf("scenario %s: %w", path, err)
	}
	return s, nil
}

// Apply performs the scenario's edits through tx. Nodes listed more than once
// (for example shared by two lines) are added once. The caller commits.
func (s Scenario) Apply(reg *network.Registry, tx *network.Transaction) error {
	added := map[[4]int]bool{}
	addNode := func(pos [3]int, kindName string) error {
		k, err := grid.ParseKind(kindName)
		if err != nil {
			return err
		}
		id := [4]int{pos[0], pos[1], pos[2], int(k)}
		if added[id] {
			return nil
		}
		added[id] = true
		if err := reg.AddNode(tx, s.World, grid.PosFromArray(pos), k); err != nil {
			return fmt.Errorf("node %v: %w", pos, err)
		}
		return nil
	}
	link := func(a, b [3]int, kindName string) error {
		k, err := grid.ParseKind(kindName)
		if err != nil {
			return err
		}
		if err := reg.InsertEdge(tx, s.World, grid.PosFromArray(a), grid.PosFromArray(b), k); err != nil {
			return fmt.Errorf("edge %v-%v: %w", a, b, err)
		}
		return nil
	}

	for _, n := range s.Nodes {
		if err := addNode(n.Pos, n.Kind); err != nil {
			return err
		}
	}
	for _, l := range s.Lines {
		for i, pos := range l.Path {
			if err := addNode(pos, l.Kind); err != nil {
				return err
			}
			if i > 0 {
				if err := link(l.Path[i-1], pos, l.Kind); err != nil {
					return err
				}
			}
		}
	}
	for _, e := range s.Edges {
		if err := link(e.A, e.B, e.Kind); err != nil {
			return err
		}
	}
	for _, sk := range s.Sinks {
		k, err := grid.ParseKind(sk.Kind)
		if err != nil {
			return err
		}
		d, err := grid.ParseDir(sk.Facing)
		if err != nil {
			return err
		}
		if err := reg.AttachSink(tx, s.World, grid.PosFromArray(sk.Pos), d, k); err != nil {
			return fmt.Errorf("sink %v %s: %w", sk.Pos, d, err)
		}
	}
	return nil
}

// Install adds the scenario's buffers to bs.
func (s Scenario) Install(bs *Buffers) error {
	for _, b := range s.Buffers {
		k, err := grid.ParseKind(b.Kind)
		if err != nil {
			return err
		}
		bs.Put(Buffer{
			World:      s.World,
			Pos:        grid.PosFromArray(b.Pos),
			Kind:       k,
			Amount:     b.Amount,
			Capacity:   b.Capacity,
			Production: b.Production,
			Push:       b.Push,
		})
	}
	return nil
}

// Regions lists the distinct regions the scenario's nodes occupy.
func (s Scenario) Regions() []grid.RegionKey {
	seen := map[grid.RegionKey]bool{}
	var out []grid.RegionKey
	add := func(pos [3]int) {
		k := grid.RegionOf(grid.PosFromArray(pos))
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	for _, n := range s.Nodes {
		add(n.Pos)
	}
	for _, l := range s.Lines {
		for _, pos := range l.Path {
			add(pos)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
