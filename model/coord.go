package model

import (
	"fmt"
	"math"
)

// Coord is a hex grid position in axial coordinates. The implicit third cube
// coordinate is s = -q - r.
type Coord struct {
	Q int `json:"q"`
	R int `json:"r"`
}

// FromCartesian converts the offset-row form used by scenario files
// (x = q + r/2, y = r) into axial coordinates. Inputs that do not sit on a
// lattice point are rounded to the nearest one.
func FromCartesian(x, y float64) Coord {
	r := int(math.Round(y))
	q := int(math.Round(x - float64(r)/2))
	return Coord{Q: q, R: r}
}

// Cartesian returns the offset-row form of c.
func (c Coord) Cartesian() (x, y float64) {
	return float64(c.Q) + float64(c.R)/2, float64(c.R)
}

// S returns the implicit third cube coordinate.
func (c Coord) S() int {
	return -c.Q - c.R
}

// Add returns c translated by o.
func (c Coord) Add(o Coord) Coord {
	return Coord{Q: c.Q + o.Q, R: c.R + o.R}
}

// Neighbor returns the adjacent coordinate in direction d.
func (c Coord) Neighbor(d Direction) Coord {
	return c.Add(d.Offset())
}

// Neighbors returns the six adjacent coordinates in compass order.
func (c Coord) Neighbors() [6]Coord {
	var out [6]Coord
	for i, d := range Directions {
		out[i] = c.Neighbor(d)
	}
	return out
}

// Ring returns the coordinates exactly radius hops from c, starting west of c
// and walking the directions in compass order. Radius 0 yields c itself.
func (c Coord) Ring(radius int) []Coord {
	if radius < 0 {
		return nil
	}
	if radius == 0 {
		return []Coord{c}
	}
	out := make([]Coord, 0, 6*radius)
	pos := c.Add(Coord{Q: -radius})
	for _, d := range Directions {
		for i := 0; i < radius; i++ {
			out = append(out, pos)
			pos = pos.Neighbor(d)
		}
	}
	return out
}

// Distance returns the hop distance between two coordinates.
func Distance(a, b Coord) int {
	dq := abs(a.Q - b.Q)
	dr := abs(a.R - b.R)
	ds := abs(a.S() - b.S())
	return (dq + dr + ds) / 2
}

func (c Coord) String() string {
	x, y := c.Cartesian()
	return fmt.Sprintf("(%g, %g)", x, y)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
