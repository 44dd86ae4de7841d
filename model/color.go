package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownColor is returned for palette values outside 1..9.
var ErrUnknownColor = errors.New("unknown color")

// Color is an opaque palette index. The core never interprets it; renderers
// map it to RGB via RGB().
type Color int

const (
	Black Color = iota + 1
	Gray
	Red
	Green
	Blue
	Yellow
	Orange
	Cyan
	Violet
)

var colorNames = map[Color]string{
	Black:  "black",
	Gray:   "gray",
	Red:    "red",
	Green:  "green",
	Blue:   "blue",
	Yellow: "yellow",
	Orange: "orange",
	Cyan:   "cyan",
	Violet: "violet",
}

var colorRGB = map[Color][3]float64{
	Black:  {0.0, 0.0, 0.0},
	Gray:   {0.3, 0.3, 0.3},
	Red:    {0.8, 0.0, 0.0},
	Green:  {0.0, 0.8, 0.0},
	Blue:   {0.0, 0.0, 0.8},
	Yellow: {0.8, 0.8, 0.0},
	Orange: {0.8, 0.3, 0.0},
	Cyan:   {0.0, 0.8, 0.8},
	Violet: {0.8, 0.2, 0.6},
}

// ColorFromIndex validates a raw palette index.
func ColorFromIndex(i int) (Color, error) {
	c := Color(i)
	if !c.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrUnknownColor, i)
	}
	return c, nil
}

// ParseColor resolves a palette name (case-insensitive). "violett" and
// "grey" are accepted as aliases.
func ParseColor(name string) (Color, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	switch n {
	case "violett":
		n = "violet"
	case "grey":
		n = "gray"
	}
	for c, cn := range colorNames {
		if cn == n {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownColor, name)
}

// Valid reports whether c is part of the palette.
func (c Color) Valid() bool {
	return c >= Black && c <= Violet
}

// RGB returns the renderer colour triple for c.
func (c Color) RGB() [3]float64 {
	return colorRGB[c]
}

func (c Color) String() string {
	if n, ok := colorNames[c]; ok {
		return n
	}
	return fmt.Sprintf("Color(%d)", int(c))
}
