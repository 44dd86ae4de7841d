package model

import (
	"fmt"
	"strings"
)

// EntityKind discriminates the things that can occupy a grid cell.
type EntityKind int

const (
	KindParticle EntityKind = iota + 1
	KindTile
	KindMarker
)

func (k EntityKind) String() string {
	switch k {
	case KindParticle:
		return "particle"
	case KindTile:
		return "tile"
	case KindMarker:
		return "marker"
	default:
		return fmt.Sprintf("EntityKind(%d)", int(k))
	}
}

// ParseEntityKind maps "particle", "tile" or "marker" to a kind.
func ParseEntityKind(s string) (EntityKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "particle":
		return KindParticle, nil
	case "tile":
		return KindTile, nil
	case "marker":
		return KindMarker, nil
	default:
		return 0, fmt.Errorf("unknown entity kind %q", s)
	}
}

// KindFilter restricts scans to a single entity kind. The zero value matches
// every kind.
type KindFilter struct {
	Kind EntityKind
}

// AnyKind matches particles, tiles and markers.
var AnyKind = KindFilter{}

// Only returns a filter matching only k.
func Only(k EntityKind) KindFilter {
	return KindFilter{Kind: k}
}

// Match reports whether k passes the filter.
func (f KindFilter) Match(k EntityKind) bool {
	return f.Kind == 0 || f.Kind == k
}

// Entity is a snapshot of something placed on the grid. Tiles and markers are
// immobile background; particles move and run algorithms.
type Entity struct {
	ID     int        `json:"id"`
	Number int        `json:"number,omitempty"` // 1-based particle ordinal; 0 for tiles and markers
	Kind   EntityKind `json:"kind"`
	Coord  Coord      `json:"coord"`
	Color  Color      `json:"color"`
}

// IsParticle reports whether the entity is a particle.
func (e Entity) IsParticle() bool {
	return e.Kind == KindParticle
}
