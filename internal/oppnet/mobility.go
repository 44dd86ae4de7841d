package oppnet

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/signalsfoundry/swarm-simulator/model"
)

// MobilityMode selects how a particle picks its next step.
type MobilityMode int

const (
	// MobilityStatic keeps the particle at its anchor, stepping back when
	// displaced.
	MobilityStatic MobilityMode = iota
	// MobilityRandomWalk picks a uniformly random direction every step.
	MobilityRandomWalk
	// MobilityBackAndForth walks Span steps along a heading, then reverses.
	MobilityBackAndForth
	// MobilityCircle turns the heading one compass step per call.
	MobilityCircle
)

var mobilityNames = map[MobilityMode]string{
	MobilityStatic:       "static",
	MobilityRandomWalk:   "random_walk",
	MobilityBackAndForth: "back_and_forth",
	MobilityCircle:       "circle",
}

// ParseMobilityMode maps a configuration string to a mode.
func ParseMobilityMode(s string) (MobilityMode, error) {
	n := strings.ToLower(strings.TrimSpace(s))
	for m, name := range mobilityNames {
		if name == n {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: mobility mode %q", ErrUnknownMode, s)
}

func (m MobilityMode) String() string {
	if n, ok := mobilityNames[m]; ok {
		return n
	}
	return fmt.Sprintf("MobilityMode(%d)", int(m))
}

// DefaultSpan is the leg length used by back-and-forth mobility.
const DefaultSpan = 3

// MobilityModel is the per-particle movement plan.
type MobilityModel struct {
	Mode   MobilityMode
	Anchor model.Coord
	Span   int

	heading model.Direction
	steps   int
	rng     *rand.Rand
}

// NewMobilityModel anchors a model at the particle's starting coordinate. The
// initial heading is drawn from rng.
func NewMobilityModel(anchor model.Coord, mode MobilityMode, rng *rand.Rand) *MobilityModel {
	m := &MobilityModel{
		Mode:   mode,
		Anchor: anchor,
		Span:   DefaultSpan,
		rng:    rng,
	}
	if rng != nil {
		m.heading = model.Direction(rng.IntN(len(model.Directions)))
	}
	return m
}

// Heading returns the current heading for the directional modes.
func (m *MobilityModel) Heading() model.Direction { return m.heading }

// NextDirection returns the next step from current. The boolean is false when
// the model wants the particle to stay put.
func (m *MobilityModel) NextDirection(current model.Coord) (model.Direction, bool) {
	switch m.Mode {
	case MobilityStatic:
		return towards(current, m.Anchor)
	case MobilityRandomWalk:
		if m.rng == nil {
			return model.NE, true
		}
		return model.Direction(m.rng.IntN(len(model.Directions))), true
	case MobilityBackAndForth:
		span := m.Span
		if span <= 0 {
			span = DefaultSpan
		}
		if m.steps == span {
			m.heading = m.heading.Opposite()
			m.steps = 0
		}
		m.steps++
		return m.heading, true
	case MobilityCircle:
		d := m.heading
		m.heading = m.heading.Rotate(1)
		return d, true
	default:
		return 0, false
	}
}

// towards picks the first direction, in compass order, that brings from
// closer to to.
func towards(from, to model.Coord) (model.Direction, bool) {
	dist := model.Distance(from, to)
	if dist == 0 {
		return 0, false
	}
	for _, d := range model.Directions {
		if model.Distance(from.Neighbor(d), to) < dist {
			return d, true
		}
	}
	return 0, false
}
