package grid

import (
	"fmt"

	"conduitnet.ai/internal/sim/mathx"
)

// RegionSize is the horizontal footprint of a region (chunk) in blocks.
const RegionSize = 16

type Pos struct {
	X int
	Y int
	Z int
}

func (p Pos) Add(d Dir) Pos {
	v := d.Vec()
	return Pos{X: p.X + v.X, Y: p.Y + v.Y, Z: p.Z + v.Z}
}

func (p Pos) Offset(dx, dy, dz int) Pos {
	return Pos{X: p.X + dx, Y: p.Y + dy, Z: p.Z + dz}
}

func (p Pos) ToArray() [3]int { return [3]int{p.X, p.Y, p.Z} }

func PosFromArray(a [3]int) Pos { return Pos{X: a[0], Y: a[1], Z: a[2]} }

// Less orders positions by X, then Y, then Z.
func (p Pos) Less(o Pos) bool {
	if p.X != o.X {
		return p.X < o.X
	}
	if p.Y != o.Y {
		return p.Y < o.Y
	}
	return p.Z < o.Z
}

func (p Pos) String() string { return fmt.Sprintf("(%d,%d,%d)", p.X, p.Y, p.Z) }

// DirBetween returns the direction from a to b when the two positions are
// unit-grid adjacent.
func DirBetween(a, b Pos) (Dir, bool) {
	dx, dy, dz := b.X-a.X, b.Y-a.Y, b.Z-a.Z
	if mathx.AbsInt(dx)+mathx.AbsInt(dy)+mathx.AbsInt(dz) != 1 {
		return 0, false
	}
	for _, d := range AllDirs {
		v := d.Vec()
		if v.X == dx && v.Y == dy && v.Z == dz {
			return d, true
		}
	}
	return 0, false
}

type RegionKey struct {
	CX int
	CZ int
}

func RegionOf(p Pos) RegionKey {
	return RegionKey{CX: mathx.FloorDiv(p.X, RegionSize), CZ: mathx.FloorDiv(p.Z, RegionSize)}
}

func (k RegionKey) Contains(p Pos) bool { return RegionOf(p) == k }

func (k RegionKey) Less(o RegionKey) bool {
	if k.CX != o.CX {
		return k.CX < o.CX
	}
	return k.CZ < o.CZ
}

func (k RegionKey) String() string { return fmt.Sprintf("[%d,%d]", k.CX, k.CZ) }
