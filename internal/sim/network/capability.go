package network

import "conduitnet.ai/internal/sim/grid"

// Capability is the host-side storage behind a sink: a battery, a chest, a
// tank. Quantities are discrete units of one Kind.
type Capability interface {
	// AvailableToSend is how much the host offers to push this tick.
	AvailableToSend(kind grid.Kind) int64
	// Offer hands qty to the host and returns the accepted part.
	Offer(kind grid.Kind, qty int64) int64
	CapacityRemaining(kind grid.Kind) int64
	// Withdraw debits qty from the host and returns the debited part.
	Withdraw(kind grid.Kind, qty int64) int64
}

// CapabilityResolver finds the capability a sink at pos is facing. It reports
// false when the host has nothing there.
type CapabilityResolver interface {
	Capability(world string, pos grid.Pos, facing grid.Dir, kind grid.Kind) (Capability, bool)
}

// CapabilityFunc adapts a function to CapabilityResolver.
type CapabilityFunc func(world string, pos grid.Pos, facing grid.Dir, kind grid.Kind) (Capability, bool)

func (f CapabilityFunc) Capability(world string, pos grid.Pos, facing grid.Dir, kind grid.Kind) (Capability, bool) {
	return f(world, pos, facing, kind)
}
