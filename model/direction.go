package model

import (
	"errors"
	"fmt"
)

// ErrUnknownDirection is returned when a value outside the six-way compass
// is used as a direction.
var ErrUnknownDirection = errors.New("unknown direction")

// Direction is one of the six hex compass directions.
type Direction int

const (
	NE Direction = iota
	E
	SE
	SW
	W
	NW
)

// Directions lists the compass in index order.
var Directions = [6]Direction{NE, E, SE, SW, W, NW}

// offsets holds the axial unit step for each direction.
var offsets = [6]Coord{
	NE: {Q: 0, R: 1},
	E:  {Q: 1, R: 0},
	SE: {Q: 1, R: -1},
	SW: {Q: 0, R: -1},
	W:  {Q: -1, R: 0},
	NW: {Q: -1, R: 1},
}

var directionNames = [6]string{"NE", "E", "SE", "SW", "W", "NW"}

// ParseDirection converts a raw compass index into a Direction.
func ParseDirection(v int) (Direction, error) {
	d := Direction(v)
	if !d.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrUnknownDirection, v)
	}
	return d, nil
}

// Valid reports whether d is one of the six compass directions.
func (d Direction) Valid() bool {
	return d >= NE && d <= NW
}

// Opposite returns the direction rotated by 180 degrees.
func (d Direction) Opposite() Direction {
	return (d + 3) % 6
}

// Rotate returns the direction turned clockwise by n steps (negative n turns
// counter-clockwise).
func (d Direction) Rotate(n int) Direction {
	v := (int(d) + n) % 6
	if v < 0 {
		v += 6
	}
	return Direction(v)
}

// Offset returns the axial unit step for d. Invalid directions yield the zero
// offset.
func (d Direction) Offset() Coord {
	if !d.Valid() {
		return Coord{}
	}
	return offsets[d]
}

func (d Direction) String() string {
	if !d.Valid() {
		return fmt.Sprintf("Direction(%d)", int(d))
	}
	return directionNames[d]
}
