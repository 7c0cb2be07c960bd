package networktest

import (
	"reflect"
	"testing"
)

const repoScenario = "../../../configs/scenario.yaml"

func TestDeterminism_SameScenarioSameTransfers(t *testing.T) {
	h1 := NewScenarioHarness(t, repoScenario)
	h2 := NewScenarioHarness(t, repoScenario)

	for i := 0; i < 40; i++ {
		r1, r2 := h1.Step(), h2.Step()
		if r1.Tick != r2.Tick {
			t.Fatalf("tick mismatch: %d vs %d", r1.Tick, r2.Tick)
		}
		if !reflect.DeepEqual(r1.Transfers, r2.Transfers) {
			t.Fatalf("transfers differ at tick %d:\n%+v\n%+v", r1.Tick, r1.Transfers, r2.Transfers)
		}
		if !reflect.DeepEqual(r1.Moved, r2.Moved) {
			t.Fatalf("moved differs at tick %d: %v vs %v", r1.Tick, r1.Moved, r2.Moved)
		}
	}
	for _, b := range h1.Buffers.All() {
		if got := h2.Amount(b.Pos, b.Kind); got != b.Amount {
			t.Fatalf("buffer %s %s: %d vs %d", b.Pos, b.Kind, b.Amount, got)
		}
	}
}
