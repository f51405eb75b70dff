package modpack

import (
	"fmt"

	"github.com/keithlinneman/modpack-server/internal/xerrors"
)

// Category selects one of the served trees.
type Category int

const (
	Mods Category = iota + 1
	Configs
)

// Categories lists every known category in manifest order.
func Categories() []Category { return []Category{Mods, Configs} }

// String returns the canonical name, used as manifest key and metric label.
func (c Category) String() string {
	switch c {
	case Mods:
		return "mods"
	case Configs:
		return "configs"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// WireName is the token clients use in download URLs. configs is addressed
// as "config" for compatibility with existing launchers.
func (c Category) WireName() string {
	switch c {
	case Mods:
		return "mods"
	case Configs:
		return "config"
	default:
		return ""
	}
}

func (c Category) Valid() bool { return c == Mods || c == Configs }

// ParseCategory maps a wire token to a Category. Only "mods" and "config"
// are accepted; "configs" is not a wire token.
func ParseCategory(token string) (Category, error) {
	switch token {
	case "mods":
		return Mods, nil
	case "config":
		return Configs, nil
	default:
		return 0, xerrors.Mark(fmt.Errorf("unknown directory %q", token), ErrInvalidCategory, "")
	}
}
