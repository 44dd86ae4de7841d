// Package scenario provides the built-in initial placements a run can start
// from. Scenario files are handled by core.LoadScenarioFile.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/signalsfoundry/swarm-simulator/core"
	"github.com/signalsfoundry/swarm-simulator/model"
)

// ErrUnknownScenario is returned by Lookup for names that are not registered.
var ErrUnknownScenario = errors.New("unknown scenario")

// Params tunes the size of the parametric scenarios. Zero means the
// scenario's default.
type Params struct {
	Size int
}

// Builder returns a scenario for p.
type Builder func(p Params) core.Scenario

type entry struct {
	description string
	build       Builder
}

var builtins = map[string]entry{
	"ring": {
		description: "centre particle, 6 particles, 12 tiles and 18 markers in concentric rings",
		build:       func(Params) core.Scenario { return core.ScenarioFunc(ring) },
	},
	"ring18": {
		description: "18 particles filling the first two rings around an empty centre",
		build:       func(Params) core.Scenario { return core.ScenarioFunc(ring18) },
	},
	"wheel": {
		description: "one particle and its 6 neighbours",
		build:       func(Params) core.Scenario { return Hexagon(1) },
	},
	"hexagon": {
		description: "every cell within Size hops of the origin (default 3)",
		build:       func(p Params) core.Scenario { return Hexagon(defaultSize(p.Size, 3)) },
	},
	"line": {
		description: "Size particles on a straight east-west line (default 10)",
		build:       func(p Params) core.Scenario { return Line(defaultSize(p.Size, 10)) },
	},
	"random": {
		description: "Size particles grown into one connected cluster from the origin (default 50)",
		build:       func(p Params) core.Scenario { return RandomCluster(defaultSize(p.Size, 50)) },
	},
}

func defaultSize(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Names returns the registered scenario names in sorted order.
func Names() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns the one-line description of name.
func Describe(name string) string {
	return builtins[strings.ToLower(name)].description
}

// Lookup builds the named scenario.
func Lookup(name string, p Params) (core.Scenario, error) {
	e, ok := builtins[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownScenario, name, strings.Join(Names(), ", "))
	}
	return e.build(p), nil
}

func ring(_ context.Context, w *core.World) error {
	origin := model.Coord{}
	if _, err := w.AddParticle(origin, model.Red); err != nil {
		return err
	}
	for _, c := range origin.Ring(1) {
		if _, err := w.AddParticle(c, model.Black); err != nil {
			return err
		}
	}
	for _, c := range origin.Ring(2) {
		if _, err := w.AddTile(c, model.Gray); err != nil {
			return err
		}
	}
	for _, c := range origin.Ring(3) {
		if _, err := w.AddMarker(c, model.Red); err != nil {
			return err
		}
	}
	return nil
}

func ring18(_ context.Context, w *core.World) error {
	origin := model.Coord{}
	for radius := 1; radius <= 2; radius++ {
		for _, c := range origin.Ring(radius) {
			if _, err := w.AddParticle(c, model.Black); err != nil {
				return err
			}
		}
	}
	return nil
}

// Hexagon fills every cell within radius hops of the origin with a particle.
func Hexagon(radius int) core.Scenario {
	return core.ScenarioFunc(func(_ context.Context, w *core.World) error {
		for r := 0; r <= radius; r++ {
			for _, c := range (model.Coord{}).Ring(r) {
				if _, err := w.AddParticle(c, model.Black); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// Line places n particles eastwards from the origin.
func Line(n int) core.Scenario {
	return core.ScenarioFunc(func(_ context.Context, w *core.World) error {
		for i := 0; i < n; i++ {
			if _, err := w.AddParticle(model.Coord{Q: i}, model.Black); err != nil {
				return err
			}
		}
		return nil
	})
}

// RandomCluster grows n particles from the origin, each new one attached to a
// random free neighbour of a random placed one. The world's seeded RNG makes
// the shape reproducible.
func RandomCluster(n int) core.Scenario {
	return core.ScenarioFunc(func(_ context.Context, w *core.World) error {
		if n <= 0 {
			return nil
		}
		rng := w.Rand()
		placed := []model.Coord{{}}
		if _, err := w.AddParticle(model.Coord{}, model.Black); err != nil {
			return err
		}
		for attempts := 0; len(placed) < n; attempts++ {
			if attempts > 100*n {
				return fmt.Errorf("random cluster: placed %d of %d particles", len(placed), n)
			}
			base := placed[rng.IntN(len(placed))]
			c := base.Neighbor(model.Directions[rng.IntN(len(model.Directions))])
			if _, taken := w.EntityAt(c); taken || !w.InBounds(c) {
				continue
			}
			if _, err := w.AddParticle(c, model.Black); err != nil {
				return err
			}
			placed = append(placed, c)
		}
		return nil
	})
}
