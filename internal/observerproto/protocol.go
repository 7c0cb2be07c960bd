package observerproto

import (
	"conduitnet.ai/internal/sim/grid"
	"conduitnet.ai/internal/sim/network"
)

// Version is the observer protocol version.
const Version = "0.1"

const (
	TypeSubscribe = "SUBSCRIBE"
	TypeSnapshot  = "NETWORK_SNAPSHOT"
	TypeError     = "ERROR"
)

// Client -> Server. First message on the observer WS connection; re-sending
// it switches the watched world.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	WorldID         string `json:"world_id"`
}

// HTTP response for GET /observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string   `json:"protocol_version"`
	Worlds          []string `json:"worlds"`
	TickRateHz      int      `json:"tick_rate_hz"`
	RegionSize      int      `json:"region_size"`
}

// Server -> Client. Sent whenever the world's published snapshot changes.
type SnapshotMsg struct {
	Type            string        `json:"type"`
	ProtocolVersion string        `json:"protocol_version"`
	WorldID         string        `json:"world_id"`
	Tick            uint64        `json:"tick"`
	Seq             uint64        `json:"seq"`
	Regions         []RegionState `json:"regions"`
}

type RegionState struct {
	CX      int         `json:"cx"`
	CZ      int         `json:"cz"`
	Sinks   int         `json:"sinks"`
	Paths   int         `json:"paths"`
	Recalcs uint64      `json:"recalcs"`
	Nodes   []NodeState `json:"nodes"`
}

type NodeState struct {
	Pos   [3]int   `json:"pos"`
	Kind  string   `json:"kind"`
	Edges []string `json:"edges"`
	Sinks []string `json:"sinks,omitempty"`
}

type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}

func NewError(code, message string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, Code: code, Message: message}
}

func dirNames(s grid.DirSet) []string {
	dirs := s.Dirs()
	out := make([]string, 0, len(dirs))
	for _, d := range dirs {
		out = append(out, d.String())
	}
	return out
}

// FromSnapshot converts a published snapshot to its wire form. Node edges and
// sinks are listed separately; a face holding a sink is not listed as an edge.
func FromSnapshot(s *network.Snapshot) SnapshotMsg {
	msg := SnapshotMsg{
		Type:            TypeSnapshot,
		ProtocolVersion: Version,
		WorldID:         s.World,
		Tick:            s.Tick,
		Seq:             s.Seq,
		Regions:         make([]RegionState, 0, len(s.Regions)),
	}
	for _, r := range s.Regions {
		rs := RegionState{
			CX:      r.Key.CX,
			CZ:      r.Key.CZ,
			Sinks:   r.Sinks,
			Paths:   r.Paths,
			Recalcs: r.Recalcs,
			Nodes:   make([]NodeState, 0, len(r.Nodes)),
		}
		for _, n := range r.Nodes {
			ns := NodeState{
				Pos:   n.Pos.ToArray(),
				Kind:  n.Kind.String(),
				Edges: dirNames(n.Edges &^ n.Sinks),
			}
			if !n.Sinks.Empty() {
				ns.Sinks = dirNames(n.Sinks)
			}
			rs.Nodes = append(rs.Nodes, ns)
		}
		msg.Regions = append(msg.Regions, rs)
	}
	return msg
}
