package core

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/signalsfoundry/swarm-simulator/internal/logging"
	"github.com/signalsfoundry/swarm-simulator/kb"
	"github.com/signalsfoundry/swarm-simulator/model"
)

// WorldConfig fixes the extent, the round limit and the RNG seed of a world.
// MaxRound 0 means the run ends only when a solution calls SetEnd.
type WorldConfig struct {
	XSize    float64
	YSize    float64
	MaxRound int
	Seed     uint64
}

// WorldOption configures optional World behaviour.
type WorldOption func(*World)

// WithWorldLogger wires a structured logger into the world.
func WithWorldLogger(l logging.Logger) WorldOption {
	return func(w *World) {
		if l != nil {
			w.log = l
		}
	}
}

// World owns the entity store, the round counter and the moves queued by the
// active solution during the current round.
type World struct {
	kb  *kb.KnowledgeBase
	cfg WorldConfig
	rng *rand.Rand
	log logging.Logger

	mu      sync.Mutex
	round   int
	ended   bool
	pending map[int]model.Direction
}

// NewWorld constructs an empty world.
func NewWorld(cfg WorldConfig, opts ...WorldOption) *World {
	w := &World{
		kb:      kb.NewKnowledgeBase(kb.Bounds{XSize: cfg.XSize, YSize: cfg.YSize}),
		cfg:     cfg,
		rng:     rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		log:     logging.Noop(),
		pending: make(map[int]model.Direction),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// Rand returns the run-scoped random source. It is not safe for concurrent
// use; solutions run on the engine goroutine.
func (w *World) Rand() *rand.Rand { return w.rng }

func (w *World) XSize() float64 { return w.cfg.XSize }
func (w *World) YSize() float64 { return w.cfg.YSize }
func (w *World) MaxRound() int  { return w.cfg.MaxRound }

// ActualRound returns the 1-based number of the round in progress, or 0
// before the first round.
func (w *World) ActualRound() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.round
}

// SetEnd asks the engine to terminate after the current round.
func (w *World) SetEnd() {
	w.mu.Lock()
	w.ended = true
	w.mu.Unlock()
}

// Ended reports whether SetEnd was called.
func (w *World) Ended() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ended
}

// InBounds reports whether c lies inside the world extent.
func (w *World) InBounds(c model.Coord) bool { return w.kb.InBounds(c) }

// AddParticle places a particle. A failed placement leaves the world unchanged.
func (w *World) AddParticle(at model.Coord, color model.Color) (*Particle, error) {
	e, err := w.kb.Add(model.KindParticle, at, color)
	if err != nil {
		return nil, fmt.Errorf("add particle at %v: %w", at, err)
	}
	return &Particle{world: w, id: e.ID}, nil
}

// AddTile places a tile.
func (w *World) AddTile(at model.Coord, color model.Color) (model.Entity, error) {
	e, err := w.kb.Add(model.KindTile, at, color)
	if err != nil {
		return model.Entity{}, fmt.Errorf("add tile at %v: %w", at, err)
	}
	return e, nil
}

// AddMarker places a marker.
func (w *World) AddMarker(at model.Coord, color model.Color) (model.Entity, error) {
	e, err := w.kb.Add(model.KindMarker, at, color)
	if err != nil {
		return model.Entity{}, fmt.Errorf("add marker at %v: %w", at, err)
	}
	return e, nil
}

// RemoveParticle deletes a particle and frees its coordinate. Any move it
// queued this round is dropped.
func (w *World) RemoveParticle(id int) error {
	e, ok := w.kb.Get(id)
	if !ok {
		return fmt.Errorf("remove particle %d: %w", id, kb.ErrEntityNotFound)
	}
	if !e.IsParticle() {
		return fmt.Errorf("remove particle %d: %w", id, ErrNotParticle)
	}
	if _, err := w.kb.Remove(id); err != nil {
		return fmt.Errorf("remove particle %d: %w", id, err)
	}
	w.mu.Lock()
	delete(w.pending, id)
	w.mu.Unlock()
	return nil
}

// EntityAt returns whatever occupies c.
func (w *World) EntityAt(c model.Coord) (model.Entity, bool) {
	return w.kb.At(c)
}

// ParticleAt returns the particle at c, if any.
func (w *World) ParticleAt(c model.Coord) (*Particle, bool) {
	e, ok := w.kb.At(c)
	if !ok || !e.IsParticle() {
		return nil, false
	}
	return &Particle{world: w, id: e.ID}, true
}

// ParticleList returns handles for every live particle ordered by Number.
func (w *World) ParticleList() []*Particle {
	entities := w.kb.List(model.Only(model.KindParticle))
	sort.Slice(entities, func(i, j int) bool { return entities[i].Number < entities[j].Number })
	out := make([]*Particle, 0, len(entities))
	for _, e := range entities {
		out = append(out, &Particle{world: w, id: e.ID})
	}
	return out
}

// ParticleCount returns the number of live particles.
func (w *World) ParticleCount() int {
	return w.kb.Count(model.Only(model.KindParticle))
}

// Entities returns every entity ordered by ID.
func (w *World) Entities() []model.Entity {
	return w.kb.List(model.AnyKind)
}

// Subscribe forwards KB change events to fn.
func (w *World) Subscribe(fn func(kb.Event)) (unsubscribe func()) {
	return w.kb.Subscribe(fn)
}

// Snapshot is a read-only picture of the world after a committed round.
type Snapshot struct {
	Round    int            `json:"round"`
	Entities []model.Entity `json:"entities"`
}

// Snapshot captures the current round and every entity.
func (w *World) Snapshot() Snapshot {
	return Snapshot{Round: w.ActualRound(), Entities: w.Entities()}
}

func (w *World) queueMove(id int, d model.Direction) {
	w.mu.Lock()
	w.pending[id] = d
	w.mu.Unlock()
}

func (w *World) pendingMove(id int) (model.Direction, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	d, ok := w.pending[id]
	return d, ok
}

func (w *World) advanceRound() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.round++
	return w.round
}

func (w *World) discardMoves() {
	w.mu.Lock()
	w.pending = make(map[int]model.Direction)
	w.mu.Unlock()
}

// commitMoves applies queued moves in particle-id order. Targets outside the
// extent leave the particle in place; targets occupied at commit time reject
// the move. It returns the number of particles that actually moved.
func (w *World) commitMoves(ctx context.Context) int {
	w.mu.Lock()
	pending := w.pending
	w.pending = make(map[int]model.Direction)
	w.mu.Unlock()

	if len(pending) == 0 {
		return 0
	}
	ids := make([]int, 0, len(pending))
	for id := range pending {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	moved := 0
	for _, id := range ids {
		e, ok := w.kb.Get(id)
		if !ok {
			continue
		}
		target := e.Coord.Neighbor(pending[id])
		if !w.kb.InBounds(target) {
			continue
		}
		if _, err := w.kb.Move(id, target); err != nil {
			if !errors.Is(err, kb.ErrOccupied) {
				w.log.Warn(ctx, "move failed",
					logging.Int("particle_id", id),
					logging.Err(err),
				)
			}
			continue
		}
		moved++
	}
	return moved
}
