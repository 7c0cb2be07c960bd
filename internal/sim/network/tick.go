package network

import (
	"fmt"
	"time"

	"conduitnet.ai/internal/sim/grid"
)

// Transfer is the quantity moved from one sink to another during one tick.
type Transfer struct {
	Kind     grid.Kind
	From     SinkRef
	To       SinkRef
	Quantity int64
	Cost     int
}

type TickReport struct {
	World     string
	Tick      uint64
	Transfers []Transfer
	Moved     map[grid.Kind]int64
	// Skipped counts path entries that no longer matched the live network or
	// the host: unloaded target region, vanished sink, missing capability.
	Skipped  int
	Duration time.Duration
}

type transferKey struct {
	kind grid.Kind
	from SinkRef
	to   SinkRef
}

type consumer struct {
	ref       SinkRef
	cost      int
	cap       Capability
	saturated bool
}

type tickState struct {
	d      *Dimension
	report *TickReport
	index  map[transferKey]int
}

func (s *tickState) record(k grid.Kind, from SinkRef, c *consumer, qty int64) {
	key := transferKey{kind: k, from: from, to: c.ref}
	if i, ok := s.index[key]; ok {
		s.report.Transfers[i].Quantity += qty
	} else {
		s.index[key] = len(s.report.Transfers)
		s.report.Transfers = append(s.report.Transfers, Transfer{
			Kind:     k,
			From:     from,
			To:       c.ref,
			Quantity: qty,
			Cost:     c.cost,
		})
	}
	s.report.Moved[k] += qty
}

// Tick advances one world by one step: every sink whose capability has
// something to send pushes it along its cached routes, cheapest tier first.
// Quantity nobody accepts stays at the source.
func (r *Registry) Tick(world string) (TickReport, error) {
	d := r.worlds[world]
	if d == nil {
		return TickReport{}, fmt.Errorf("world %q: %w", world, ErrNetworkNotLoaded)
	}
	start := time.Now()
	d.tick++
	report := TickReport{World: world, Tick: d.tick, Moved: map[grid.Kind]int64{}}
	st := &tickState{d: d, report: &report, index: map[transferKey]int{}}

	if r.caps != nil {
		for _, key := range d.Keys() {
			reg := d.regions[key]
			if reg.sinkCount == 0 {
				continue
			}
			for _, k := range grid.AllKinds {
				for _, src := range reg.sinksOf(k) {
					r.push(st, reg, src, k)
				}
			}
		}
	}

	report.Duration = time.Since(start)
	if report.Skipped > 0 {
		r.log.Printf("world %s tick %d: skipped %d stale path entries", world, report.Tick, report.Skipped)
	}
	r.metrics.RecordTick(world, report.Duration, report.Skipped)
	for _, k := range grid.AllKinds {
		if q := report.Moved[k]; q > 0 {
			r.metrics.RecordMoved(world, k.String(), q, countTransfers(report.Transfers, k))
		}
	}
	if r.publishTick <= 1 || d.tick%r.publishTick == 0 {
		r.publish(d)
	}
	return report, nil
}

// TickAll ticks every loaded world in id order.
func (r *Registry) TickAll() []TickReport {
	worlds := r.Worlds()
	out := make([]TickReport, 0, len(worlds))
	for _, w := range worlds {
		rep, err := r.Tick(w)
		if err != nil {
			continue
		}
		out = append(out, rep)
	}
	return out
}

func (r *Registry) push(st *tickState, reg *Region, src SinkRef, k grid.Kind) {
	entries := reg.pathsFrom(src, k)
	if len(entries) == 0 {
		return
	}
	srcCap, ok := r.caps.Capability(st.d.id, src.Pos, src.Facing, k)
	if !ok {
		return
	}
	remaining := srcCap.AvailableToSend(k)
	if remaining <= 0 {
		return
	}

	consumers := make([]*consumer, 0, len(entries))
	for _, e := range entries {
		if e.Target.Block() == src.Block() {
			continue
		}
		tr := st.d.RegionAt(e.Target.Pos)
		if tr == nil || !tr.hasSink(e.Target.Pos, e.Target.Facing, k) {
			st.report.Skipped++
			continue
		}
		c, ok := r.caps.Capability(st.d.id, e.Target.Pos, e.Target.Facing, k)
		if !ok {
			st.report.Skipped++
			continue
		}
		consumers = append(consumers, &consumer{ref: e.Target, cost: e.Cost, cap: c})
	}

	// Entries are sorted by cost, so each tier is a contiguous run.
	for i := 0; i < len(consumers) && remaining > 0; {
		j := i
		for j < len(consumers) && consumers[j].cost == consumers[i].cost {
			j++
		}
		remaining = r.fillTier(st, src, srcCap, k, consumers[i:j], remaining)
		i = j
	}
}

// fillTier splits remaining evenly across the tier's consumers, capped by
// their free capacity, and repeats until the tier is saturated or nothing is
// left. Each share is withdrawn from the source before it is offered; what a
// consumer refuses goes back to the source. It returns what is still unsent,
// and zero once the source runs dry.
func (r *Registry) fillTier(st *tickState, src SinkRef, srcCap Capability, k grid.Kind, tier []*consumer, remaining int64) int64 {
	open := make([]*consumer, 0, len(tier))
	for remaining > 0 {
		open = open[:0]
		for _, c := range tier {
			if !c.saturated && c.cap.CapacityRemaining(k) > 0 {
				open = append(open, c)
			}
		}
		if len(open) == 0 {
			break
		}
		n := int64(len(open))
		share, extra := remaining/n, remaining%n
		progress := false
		for idx, c := range open {
			want := share
			if int64(idx) < extra {
				want++
			}
			if want == 0 {
				continue
			}
			if free := c.cap.CapacityRemaining(k); free < want {
				want = free
			}
			if want <= 0 {
				c.saturated = true
				continue
			}

			taken := clamp(srcCap.Withdraw(k, want), want)
			dry := taken < want
			if dry {
				r.log.Printf("world %s: %s %s released %d of %d available", st.d.id, k, src, taken, want)
			}
			accepted := int64(0)
			if taken > 0 {
				accepted = clamp(c.cap.Offer(k, taken), taken)
			}
			if accepted < taken {
				c.saturated = true
				back := taken - accepted
				if got := srcCap.Offer(k, back); got != back {
					r.log.Printf("world %s: %s %s took back %d of %d refused", st.d.id, k, src, got, back)
				}
			}
			if accepted > 0 {
				remaining -= accepted
				progress = true
				st.record(k, src, c, accepted)
			}
			if dry {
				return 0
			}
		}
		if !progress {
			break
		}
	}
	return remaining
}

func clamp(v, limit int64) int64 {
	if v < 0 {
		return 0
	}
	if v > limit {
		return limit
	}
	return v
}

func countTransfers(ts []Transfer, k grid.Kind) int {
	n := 0
	for _, t := range ts {
		if t.Kind == k {
			n++
		}
	}
	return n
}
