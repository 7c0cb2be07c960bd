package scenario

import (
	"sort"

	"conduitnet.ai/internal/sim/grid"
	"conduitnet.ai/internal/sim/network"
)

// Buffer is a host block storing one kind. A buffer with Push set offers its
// whole content to the network each tick.
type Buffer struct {
	World      string
	Pos        grid.Pos
	Kind       grid.Kind
	Amount     int64
	Capacity   int64
	Production int64
	Push       bool
}

func (b *Buffer) AvailableToSend(k grid.Kind) int64 {
	if k != b.Kind || !b.Push {
		return 0
	}
	return b.Amount
}

func (b *Buffer) Offer(k grid.Kind, qty int64) int64 {
	if k != b.Kind || qty <= 0 {
		return 0
	}
	if free := b.Capacity - b.Amount; qty > free {
		qty = free
	}
	b.Amount += qty
	return qty
}

func (b *Buffer) CapacityRemaining(k grid.Kind) int64 {
	if k != b.Kind {
		return 0
	}
	return b.Capacity - b.Amount
}

func (b *Buffer) Withdraw(k grid.Kind, qty int64) int64 {
	if k != b.Kind || qty <= 0 {
		return 0
	}
	if qty > b.Amount {
		qty = b.Amount
	}
	b.Amount -= qty
	return qty
}

type bufferKey struct {
	world string
	pos   grid.Pos
	kind  grid.Kind
}

// Buffers is an in-memory host: it resolves a sink to the buffer in the
// block the sink faces. Not safe for concurrent use; it lives on the
// simulation goroutine with the registry.
type Buffers struct {
	byKey map[bufferKey]*Buffer
}

func NewBuffers() *Buffers {
	return &Buffers{byKey: map[bufferKey]*Buffer{}}
}

// Put stores a copy of b, replacing any buffer of the same kind at the same
// block, and returns the stored buffer.
func (bs *Buffers) Put(b Buffer) *Buffer {
	if b.Amount > b.Capacity {
		b.Amount = b.Capacity
	}
	nb := &b
	bs.byKey[bufferKey{world: b.World, pos: b.Pos, kind: b.Kind}] = nb
	return nb
}

func (bs *Buffers) Get(world string, pos grid.Pos, kind grid.Kind) *Buffer {
	return bs.byKey[bufferKey{world: world, pos: pos, kind: kind}]
}

func (bs *Buffers) Capability(world string, pos grid.Pos, facing grid.Dir, kind grid.Kind) (network.Capability, bool) {
	b := bs.byKey[bufferKey{world: world, pos: pos.Add(facing), kind: kind}]
	if b == nil {
		return nil, false
	}
	return b, true
}

// Produce adds each buffer's production, capped at its capacity.
func (bs *Buffers) Produce() {
	for _, b := range bs.byKey {
		if b.Production <= 0 {
			continue
		}
		b.Amount += b.Production
		if b.Amount > b.Capacity {
			b.Amount = b.Capacity
		}
	}
}

func (bs *Buffers) Total(world string, kind grid.Kind) int64 {
	var n int64
	for k, b := range bs.byKey {
		if k.world == world && k.kind == kind {
			n += b.Amount
		}
	}
	return n
}

// All returns the buffers ordered by world, position and kind.
func (bs *Buffers) All() []*Buffer {
	out := make([]*Buffer, 0, len(bs.byKey))
	for _, b := range bs.byKey {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].World != out[j].World {
			return out[i].World < out[j].World
		}
		if out[i].Pos != out[j].Pos {
			return out[i].Pos.Less(out[j].Pos)
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}
