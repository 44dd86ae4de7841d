package model

import (
	"errors"
	"testing"
)

func TestOppositeIsInvolution(t *testing.T) {
	for _, d := range Directions {
		if got := d.Opposite().Opposite(); got != d {
			t.Fatalf("Opposite(Opposite(%v)) = %v", d, got)
		}
		if d.Opposite() == d {
			t.Fatalf("Opposite(%v) must differ from %v", d, d)
		}
	}
}

func TestOppositeOffsetsCancel(t *testing.T) {
	for _, d := range Directions {
		sum := d.Offset().Add(d.Opposite().Offset())
		if sum != (Coord{}) {
			t.Fatalf("offset(%v)+offset(%v) = %v, want zero", d, d.Opposite(), sum)
		}
	}
}

func TestParseDirection(t *testing.T) {
	for i := 0; i < 6; i++ {
		d, err := ParseDirection(i)
		if err != nil {
			t.Fatalf("ParseDirection(%d): %v", i, err)
		}
		if int(d) != i {
			t.Fatalf("ParseDirection(%d) = %v", i, d)
		}
	}
	for _, bad := range []int{-1, 6, 42} {
		if _, err := ParseDirection(bad); !errors.Is(err, ErrUnknownDirection) {
			t.Fatalf("ParseDirection(%d) err = %v, want ErrUnknownDirection", bad, err)
		}
	}
}

func TestRotate(t *testing.T) {
	tests := []struct {
		d    Direction
		n    int
		want Direction
	}{
		{NE, 1, E},
		{NW, 1, NE},
		{NE, -1, NW},
		{SE, 6, SE},
		{W, -7, SW},
	}
	for _, tt := range tests {
		if got := tt.d.Rotate(tt.n); got != tt.want {
			t.Fatalf("%v.Rotate(%d) = %v, want %v", tt.d, tt.n, got, tt.want)
		}
	}
}
