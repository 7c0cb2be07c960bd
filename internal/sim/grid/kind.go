package grid

import (
	"fmt"
	"strings"
)

// Kind is the medium a conduit carries.
type Kind uint8

const (
	Energy Kind = iota
	Item
	Fluid
)

var AllKinds = [3]Kind{Energy, Item, Fluid}

var kindNames = [3]string{"ENERGY", "ITEM", "FLUID"}

func (k Kind) Valid() bool { return k <= Fluid }

func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("KIND(%d)", uint8(k))
	}
	return kindNames[k]
}

func ParseKind(s string) (Kind, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for _, k := range AllKinds {
		if kindNames[k] == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown pipe kind %q", s)
}
