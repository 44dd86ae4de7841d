// Package scanning is a demonstration solution for the neighbourhood scans:
// the particle at the origin scans everything around it in round 1 and each
// entity kind separately in round 2.
package scanning

import (
	"context"
	"fmt"
	"sync"

	"github.com/signalsfoundry/swarm-simulator/core"
	"github.com/signalsfoundry/swarm-simulator/internal/logging"
	"github.com/signalsfoundry/swarm-simulator/kb"
	"github.com/signalsfoundry/swarm-simulator/model"
)

const DefaultRadius = 5

// Scan names the result sets a Solution collects.
const (
	ScanMatters   = "matters"
	ScanParticles = "particles"
	ScanTiles     = "tiles"
	ScanMarkers   = "markers"
)

type Solution struct {
	Origin model.Coord
	Radius int

	mu      sync.Mutex
	results map[string][]model.Entity
}

func New(radius int) *Solution {
	if radius <= 0 {
		radius = DefaultRadius
	}
	return &Solution{Radius: radius, results: make(map[string][]model.Entity)}
}

func (s *Solution) Round(ctx context.Context, run *core.Run) error {
	round := run.World.ActualRound()
	if round > 2 {
		return nil
	}
	p, ok := run.World.ParticleAt(s.Origin)
	if !ok {
		return fmt.Errorf("scanning: no particle at %v: %w", s.Origin, kb.ErrEntityNotFound)
	}

	if round == 1 {
		s.keep(ctx, run.Log, ScanMatters, p.ScanForMattersWithin(s.Radius))
		return nil
	}
	particles := p.ScanForParticlesWithin(s.Radius)
	found := make([]model.Entity, 0, len(particles))
	for _, q := range particles {
		if e, ok := run.World.EntityAt(q.Coords()); ok {
			found = append(found, e)
		}
	}
	s.keep(ctx, run.Log, ScanParticles, found)
	s.keep(ctx, run.Log, ScanTiles, p.ScanForTilesWithin(s.Radius))
	s.keep(ctx, run.Log, ScanMarkers, p.ScanForMarkersWithin(s.Radius))
	return nil
}

// Results returns the entities found by the named scan.
func (s *Solution) Results(scan string) []model.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Entity(nil), s.results[scan]...)
}

func (s *Solution) keep(ctx context.Context, log logging.Logger, scan string, found []model.Entity) {
	s.mu.Lock()
	s.results[scan] = found
	s.mu.Unlock()

	log.Info(ctx, "scan complete",
		logging.String("scan", scan),
		logging.Int("radius", s.Radius),
		logging.Int("found", len(found)),
	)
	for _, e := range found {
		log.Debug(ctx, "scan hit",
			logging.String("scan", scan),
			logging.String("kind", e.Kind.String()),
			logging.String("coord", e.Coord.String()),
		)
	}
}
