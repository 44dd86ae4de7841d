package kb

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/signalsfoundry/swarm-simulator/model"
)

var (
	// ErrOccupied indicates a placement or move onto a coordinate that
	// already holds an entity.
	ErrOccupied = errors.New("coordinate already occupied")
	// ErrOutOfBounds indicates a coordinate outside the world extent.
	ErrOutOfBounds = errors.New("coordinate outside world extent")
	// ErrEntityNotFound indicates a lookup by ID found nothing.
	ErrEntityNotFound = errors.New("entity not found")
	// ErrInvalidEntity indicates an entity with an unknown kind.
	ErrInvalidEntity = errors.New("invalid entity")
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventEntityAdded EventType = iota
	EventEntityMoved
	EventEntityRecolored
	EventEntityRemoved
)

// Event is emitted to subscribers when an entity changes.
type Event struct {
	Type   EventType
	Entity model.Entity
	// From is the previous coordinate for EventEntityMoved.
	From model.Coord
}

// Bounds is the fixed world extent in cartesian units: |x| <= XSize and
// |y| <= YSize. A non-positive size leaves that axis unbounded.
type Bounds struct {
	XSize float64
	YSize float64
}

// Contains reports whether c lies inside the extent.
func (b Bounds) Contains(c model.Coord) bool {
	x, y := c.Cartesian()
	if b.XSize > 0 && math.Abs(x) > b.XSize {
		return false
	}
	if b.YSize > 0 && math.Abs(y) > b.YSize {
		return false
	}
	return true
}

// KnowledgeBase is an in-memory, thread-safe store for grid entities. It
// enforces the one-entity-per-coordinate invariant and the world extent.
type KnowledgeBase struct {
	mu sync.RWMutex

	bounds   Bounds
	entities map[int]*model.Entity
	byCoord  map[model.Coord]int

	nextID     int
	nextNumber int

	subs    map[int]func(Event)
	nextSub int
}

// NewKnowledgeBase constructs an empty KB with the given extent.
func NewKnowledgeBase(bounds Bounds) *KnowledgeBase {
	return &KnowledgeBase{
		bounds:   bounds,
		entities: make(map[int]*model.Entity),
		byCoord:  make(map[model.Coord]int),
		subs:     make(map[int]func(Event)),
	}
}

// Bounds returns the world extent.
func (kb *KnowledgeBase) Bounds() Bounds {
	return kb.bounds
}

// InBounds reports whether c lies inside the world extent.
func (kb *KnowledgeBase) InBounds(c model.Coord) bool {
	return kb.bounds.Contains(c)
}

// Add places a new entity. It fails with ErrOccupied or ErrOutOfBounds and
// leaves the KB untouched in that case.
func (kb *KnowledgeBase) Add(kind model.EntityKind, at model.Coord, color model.Color) (model.Entity, error) {
	if kind != model.KindParticle && kind != model.KindTile && kind != model.KindMarker {
		return model.Entity{}, fmt.Errorf("%w: kind %v", ErrInvalidEntity, kind)
	}
	if !color.Valid() {
		return model.Entity{}, fmt.Errorf("%w: %d", model.ErrUnknownColor, int(color))
	}
	if !kb.bounds.Contains(at) {
		return model.Entity{}, fmt.Errorf("%w: %v", ErrOutOfBounds, at)
	}

	kb.mu.Lock()
	if existing, taken := kb.byCoord[at]; taken {
		kb.mu.Unlock()
		return model.Entity{}, fmt.Errorf("%w: %v holds entity %d", ErrOccupied, at, existing)
	}
	kb.nextID++
	e := &model.Entity{
		ID:    kb.nextID,
		Kind:  kind,
		Coord: at,
		Color: color,
	}
	if kind == model.KindParticle {
		kb.nextNumber++
		e.Number = kb.nextNumber
	}
	kb.entities[e.ID] = e
	kb.byCoord[at] = e.ID
	snapshot := *e
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	notify(subs, Event{Type: EventEntityAdded, Entity: snapshot})
	return snapshot, nil
}

// Get returns the entity with the given ID.
func (kb *KnowledgeBase) Get(id int) (model.Entity, bool) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	e, ok := kb.entities[id]
	if !ok {
		return model.Entity{}, false
	}
	return *e, true
}

// At returns the occupant of c, if any.
func (kb *KnowledgeBase) At(c model.Coord) (model.Entity, bool) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	id, ok := kb.byCoord[c]
	if !ok {
		return model.Entity{}, false
	}
	return *kb.entities[id], true
}

// Occupied reports whether c holds an entity.
func (kb *KnowledgeBase) Occupied(c model.Coord) bool {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	_, ok := kb.byCoord[c]
	return ok
}

// Move relocates an entity. Moving onto the current coordinate is a no-op.
func (kb *KnowledgeBase) Move(id int, to model.Coord) (model.Entity, error) {
	if !kb.bounds.Contains(to) {
		return model.Entity{}, fmt.Errorf("%w: %v", ErrOutOfBounds, to)
	}

	kb.mu.Lock()
	e, ok := kb.entities[id]
	if !ok {
		kb.mu.Unlock()
		return model.Entity{}, fmt.Errorf("%w: %d", ErrEntityNotFound, id)
	}
	from := e.Coord
	if from == to {
		snapshot := *e
		kb.mu.Unlock()
		return snapshot, nil
	}
	if other, taken := kb.byCoord[to]; taken {
		kb.mu.Unlock()
		return model.Entity{}, fmt.Errorf("%w: %v holds entity %d", ErrOccupied, to, other)
	}
	delete(kb.byCoord, from)
	kb.byCoord[to] = id
	e.Coord = to
	snapshot := *e
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	notify(subs, Event{Type: EventEntityMoved, Entity: snapshot, From: from})
	return snapshot, nil
}

// SetColor changes an entity's colour tag.
func (kb *KnowledgeBase) SetColor(id int, color model.Color) error {
	if !color.Valid() {
		return fmt.Errorf("%w: %d", model.ErrUnknownColor, int(color))
	}

	kb.mu.Lock()
	e, ok := kb.entities[id]
	if !ok {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrEntityNotFound, id)
	}
	if e.Color == color {
		kb.mu.Unlock()
		return nil
	}
	e.Color = color
	snapshot := *e
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	notify(subs, Event{Type: EventEntityRecolored, Entity: snapshot})
	return nil
}

// Remove deletes an entity and frees its coordinate.
func (kb *KnowledgeBase) Remove(id int) (model.Entity, error) {
	kb.mu.Lock()
	e, ok := kb.entities[id]
	if !ok {
		kb.mu.Unlock()
		return model.Entity{}, fmt.Errorf("%w: %d", ErrEntityNotFound, id)
	}
	delete(kb.entities, id)
	delete(kb.byCoord, e.Coord)
	snapshot := *e
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	notify(subs, Event{Type: EventEntityRemoved, Entity: snapshot})
	return snapshot, nil
}

// List returns a snapshot of all entities matching filter, ordered by ID.
func (kb *KnowledgeBase) List(filter model.KindFilter) []model.Entity {
	kb.mu.RLock()
	res := make([]model.Entity, 0, len(kb.entities))
	for _, e := range kb.entities {
		if filter.Match(e.Kind) {
			res = append(res, *e)
		}
	}
	kb.mu.RUnlock()

	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// Count returns the number of entities matching filter.
func (kb *KnowledgeBase) Count(filter model.KindFilter) int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	n := 0
	for _, e := range kb.entities {
		if filter.Match(e.Kind) {
			n++
		}
	}
	return n
}

// Subscribe registers a callback for KB events. It returns an unsubscribe
// function. Callbacks run outside the KB lock and may call back into the KB.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.nextSub++
	id := kb.nextSub
	kb.subs[id] = fn

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		delete(kb.subs, id)
	}
}

func (kb *KnowledgeBase) subscribersLocked() []func(Event) {
	if len(kb.subs) == 0 {
		return nil
	}
	ids := make([]int, 0, len(kb.subs))
	for id := range kb.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		out = append(out, kb.subs[id])
	}
	return out
}

func notify(subs []func(Event), ev Event) {
	for _, sub := range subs {
		sub(ev)
	}
}
