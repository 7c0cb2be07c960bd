package network

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"conduitnet.ai/internal/sim/grid"
)

type regionRef struct {
	World string
	Key   grid.RegionKey
}

// Transaction batches edits. Edits apply to the graph immediately; Commit
// rebuilds the path index of every touched region exactly once. There is no
// rollback, and a transaction that is never committed leaves the touched
// path indexes stale.
type Transaction struct {
	id      string
	reg     *Registry
	touched map[regionRef]struct{}
	order   []regionRef
	closed  bool
}

func (t *Transaction) ID() string { return t.id }

// Touched returns the distinct regions marked by edits so far.
func (t *Transaction) Touched() int { return len(t.order) }

func (t *Transaction) markModified(world string, key grid.RegionKey) {
	ref := regionRef{World: world, Key: key}
	if _, ok := t.touched[ref]; ok {
		return
	}
	t.touched[ref] = struct{}{}
	t.order = append(t.order, ref)
}

func (t *Transaction) check(r *Registry) error {
	if t == nil || t.closed {
		return ErrTransactionClosed
	}
	if t.reg != r {
		return fmt.Errorf("transaction %s belongs to another registry: %w", t.id, ErrTransactionClosed)
	}
	return nil
}

// Commit recalculates the touched regions, plus loaded regions whose routes
// pass through a touched one. Each region is recalculated at most once. It
// returns the number of regions recalculated.
func (t *Transaction) Commit() (int, error) {
	if t == nil || t.closed {
		return 0, ErrTransactionClosed
	}
	t.closed = true

	byWorld := map[string]map[grid.RegionKey]struct{}{}
	for _, ref := range t.order {
		d := t.reg.worlds[ref.World]
		if d == nil || d.regions[ref.Key] == nil {
			// Unloaded between edit and commit; activation rebuilds it.
			continue
		}
		set := byWorld[ref.World]
		if set == nil {
			set = map[grid.RegionKey]struct{}{}
			byWorld[ref.World] = set
		}
		set[ref.Key] = struct{}{}
		for _, dep := range d.dependents(ref.Key) {
			set[dep] = struct{}{}
		}
	}

	worlds := make([]string, 0, len(byWorld))
	for w := range byWorld {
		worlds = append(worlds, w)
	}
	sort.Strings(worlds)

	n := 0
	for _, w := range worlds {
		n += t.reg.recalculate(t.reg.worlds[w], byWorld[w], "commit")
		t.reg.publish(t.reg.worlds[w])
	}
	return n, nil
}

func newTransaction(r *Registry) *Transaction {
	return &Transaction{
		id:      uuid.NewString(),
		reg:     r,
		touched: map[regionRef]struct{}{},
	}
}
