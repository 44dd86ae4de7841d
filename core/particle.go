package core

import (
	"fmt"

	"github.com/signalsfoundry/swarm-simulator/kb"
	"github.com/signalsfoundry/swarm-simulator/model"
)

// Particle is a lightweight handle to a particle in a World. Handles stay
// valid across moves; after removal the accessors report zero values.
type Particle struct {
	world *World
	id    int
}

func (p *Particle) ID() int { return p.id }

func (p *Particle) entity() (model.Entity, bool) {
	return p.world.kb.Get(p.id)
}

// Alive reports whether the particle is still in the world.
func (p *Particle) Alive() bool {
	_, ok := p.entity()
	return ok
}

// Number is the 1-based ordinal assigned at placement.
func (p *Particle) Number() int {
	e, _ := p.entity()
	return e.Number
}

// Coords returns the current coordinate.
func (p *Particle) Coords() model.Coord {
	e, _ := p.entity()
	return e.Coord
}

func (p *Particle) Color() model.Color {
	e, _ := p.entity()
	return e.Color
}

func (p *Particle) SetColor(c model.Color) error {
	return p.world.kb.SetColor(p.id, c)
}

// MatterIn returns the entity adjacent in direction d.
func (p *Particle) MatterIn(d model.Direction) (model.Entity, bool) {
	e, ok := p.entity()
	if !ok || !d.Valid() {
		return model.Entity{}, false
	}
	return p.world.kb.At(e.Coord.Neighbor(d))
}

// ParticleIn reports whether a particle is adjacent in direction d.
func (p *Particle) ParticleIn(d model.Direction) bool {
	e, ok := p.MatterIn(d)
	return ok && e.IsParticle()
}

// GetParticleIn returns the adjacent particle in direction d.
func (p *Particle) GetParticleIn(d model.Direction) (*Particle, bool) {
	e, ok := p.MatterIn(d)
	if !ok || !e.IsParticle() {
		return nil, false
	}
	return &Particle{world: p.world, id: e.ID}, true
}

// MoveTo queues a one-hop move for the end of the round. A later call in the
// same round replaces the earlier one. Targets outside the extent are
// clamped at commit: the particle stays where it is.
func (p *Particle) MoveTo(d model.Direction) error {
	if !d.Valid() {
		return fmt.Errorf("move particle %d: %w: %d", p.id, model.ErrUnknownDirection, int(d))
	}
	if !p.Alive() {
		return fmt.Errorf("move particle %d: %w", p.id, kb.ErrEntityNotFound)
	}
	p.world.queueMove(p.id, d)
	return nil
}

// MoveToInBounds queues the move only if the target lies inside the extent.
func (p *Particle) MoveToInBounds(d model.Direction) bool {
	e, ok := p.entity()
	if !ok || !d.Valid() {
		return false
	}
	if !p.world.kb.InBounds(e.Coord.Neighbor(d)) {
		return false
	}
	p.world.queueMove(p.id, d)
	return true
}

// PendingMove returns the move queued for this round, if any.
func (p *Particle) PendingMove() (model.Direction, bool) {
	return p.world.pendingMove(p.id)
}

// ScanForMattersWithin returns every entity within hop steps, the particle
// itself included.
func (p *Particle) ScanForMattersWithin(hop int) []model.Entity {
	return p.scan(hop, model.AnyKind)
}

// ScanForParticlesWithin returns the particles within hop steps.
func (p *Particle) ScanForParticlesWithin(hop int) []*Particle {
	found := p.scan(hop, model.Only(model.KindParticle))
	out := make([]*Particle, 0, len(found))
	for _, e := range found {
		out = append(out, &Particle{world: p.world, id: e.ID})
	}
	return out
}

func (p *Particle) ScanForTilesWithin(hop int) []model.Entity {
	return p.scan(hop, model.Only(model.KindTile))
}

func (p *Particle) ScanForMarkersWithin(hop int) []model.Entity {
	return p.scan(hop, model.Only(model.KindMarker))
}

func (p *Particle) scan(hop int, filter model.KindFilter) []model.Entity {
	e, ok := p.entity()
	if !ok {
		return nil
	}
	return p.world.ScanWithin(e.Coord, hop, filter)
}

func (p *Particle) String() string {
	return fmt.Sprintf("particle#%d", p.id)
}
