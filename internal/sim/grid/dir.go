package grid

import (
	"fmt"
	"strings"
)

// Dir is an axis-aligned face direction. The declaration order is persisted
// as bit positions in region payloads and must not change.
type Dir uint8

const (
	Down Dir = iota
	Up
	North
	South
	West
	East
)

var AllDirs = [6]Dir{Down, Up, North, South, West, East}

var dirVecs = [6]Pos{
	Down:  {X: 0, Y: -1, Z: 0},
	Up:    {X: 0, Y: 1, Z: 0},
	North: {X: 0, Y: 0, Z: -1},
	South: {X: 0, Y: 0, Z: 1},
	West:  {X: -1, Y: 0, Z: 0},
	East:  {X: 1, Y: 0, Z: 0},
}

var dirNames = [6]string{"DOWN", "UP", "NORTH", "SOUTH", "WEST", "EAST"}

func (d Dir) Valid() bool { return d <= East }

func (d Dir) Vec() Pos {
	if !d.Valid() {
		return Pos{}
	}
	return dirVecs[d]
}

func (d Dir) Opposite() Dir {
	// Pairs are adjacent in declaration order.
	return d ^ 1
}

func (d Dir) String() string {
	if !d.Valid() {
		return fmt.Sprintf("DIR(%d)", uint8(d))
	}
	return dirNames[d]
}

func ParseDir(s string) (Dir, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for _, d := range AllDirs {
		if dirNames[d] == s {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown direction %q", s)
}

// DirSet is a set of directions packed into the low six bits.
type DirSet uint8

const allDirsMask DirSet = 1<<6 - 1

func (s DirSet) Has(d Dir) bool { return d.Valid() && s&(1<<d) != 0 }

func (s DirSet) With(d Dir) DirSet { return s | 1<<d }

func (s DirSet) Without(d Dir) DirSet { return s &^ (1 << d) }

func (s DirSet) Empty() bool { return s&allDirsMask == 0 }

// Valid reports whether only the six direction bits are used.
func (s DirSet) Valid() bool { return s&^allDirsMask == 0 }

func (s DirSet) Len() int {
	n := 0
	for _, d := range AllDirs {
		if s.Has(d) {
			n++
		}
	}
	return n
}

func (s DirSet) Dirs() []Dir {
	out := make([]Dir, 0, 6)
	for _, d := range AllDirs {
		if s.Has(d) {
			out = append(out, d)
		}
	}
	return out
}
