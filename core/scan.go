package core

import "github.com/signalsfoundry/swarm-simulator/model"

// ScanWithin walks the lattice breadth-first from origin up to hop steps and
// returns the occupants that pass filter. Results come in BFS layer order with
// neighbours expanded in direction order, so repeated scans of an unchanged
// world are identical. hop 0 yields only the occupant of origin; a negative
// hop yields nothing.
func (w *World) ScanWithin(origin model.Coord, hop int, filter model.KindFilter) []model.Entity {
	if hop < 0 {
		return nil
	}

	var found []model.Entity
	visit := func(c model.Coord) {
		if e, ok := w.kb.At(c); ok && filter.Match(e.Kind) {
			found = append(found, e)
		}
	}

	seen := map[model.Coord]struct{}{origin: {}}
	frontier := []model.Coord{origin}
	visit(origin)

	for depth := 0; depth < hop; depth++ {
		next := make([]model.Coord, 0, len(frontier)*2)
		for _, c := range frontier {
			for _, n := range c.Neighbors() {
				if _, ok := seen[n]; ok {
					continue
				}
				seen[n] = struct{}{}
				next = append(next, n)
				visit(n)
			}
		}
		frontier = next
	}
	return found
}
