package mathx

import "testing"

func TestFloorDiv(t *testing.T) {
	cases := []struct {
		a, b, want int
	}{
		{0, 16, 0},
		{15, 16, 0},
		{16, 16, 1},
		{-1, 16, -1},
		{-16, 16, -1},
		{-17, 16, -2},
	}
	for _, c := range cases {
		if got := FloorDiv(c.a, c.b); got != c.want {
			t.Fatalf("FloorDiv(%d,%d)=%d want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestAbsInt(t *testing.T) {
	for _, c := range [][2]int{{0, 0}, {3, 3}, {-3, 3}} {
		if got := AbsInt(c[0]); got != c[1] {
			t.Fatalf("AbsInt(%d)=%d want %d", c[0], got, c[1])
		}
	}
}
