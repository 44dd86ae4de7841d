package core

import (
	"context"
	"errors"
	"testing"

	"github.com/signalsfoundry/swarm-simulator/kb"
	"github.com/signalsfoundry/swarm-simulator/model"
)

func newTestWorld(t *testing.T, cfg WorldConfig) *World {
	t.Helper()
	return NewWorld(cfg)
}

func mustParticle(t *testing.T, w *World, c model.Coord) *Particle {
	t.Helper()
	p, err := w.AddParticle(c, model.Black)
	if err != nil {
		t.Fatalf("AddParticle(%v): %v", c, err)
	}
	return p
}

func TestAddParticleConflictIsNoop(t *testing.T) {
	w := newTestWorld(t, WorldConfig{})
	mustParticle(t, w, model.Coord{})

	if _, err := w.AddTile(model.Coord{}, model.Gray); !errors.Is(err, kb.ErrOccupied) {
		t.Fatalf("expected ErrOccupied, got %v", err)
	}
	if got := len(w.Entities()); got != 1 {
		t.Fatalf("entities = %d, want 1", got)
	}
}

func TestAddParticleOutOfBounds(t *testing.T) {
	w := newTestWorld(t, WorldConfig{XSize: 1, YSize: 1})
	if _, err := w.AddParticle(model.Coord{Q: 3}, model.Black); !errors.Is(err, kb.ErrOutOfBounds) {
		t.Fatalf("expected ErrOutOfBounds, got %v", err)
	}
}

func TestRemoveParticle(t *testing.T) {
	w := newTestWorld(t, WorldConfig{})
	p := mustParticle(t, w, model.Coord{})
	tile, _ := w.AddTile(model.Coord{Q: 1}, model.Gray)

	if err := w.RemoveParticle(tile.ID); !errors.Is(err, ErrNotParticle) {
		t.Fatalf("removing a tile: got %v, want ErrNotParticle", err)
	}
	if err := w.RemoveParticle(p.ID()); err != nil {
		t.Fatalf("RemoveParticle: %v", err)
	}
	if _, ok := w.ParticleAt(model.Coord{}); ok {
		t.Fatalf("coordinate still reports a particle")
	}
	if p.Alive() {
		t.Fatalf("handle still alive after removal")
	}
	if err := w.RemoveParticle(p.ID()); !errors.Is(err, kb.ErrEntityNotFound) {
		t.Fatalf("second removal: got %v, want ErrEntityNotFound", err)
	}
}

func TestParticleListOrderedByNumber(t *testing.T) {
	w := newTestWorld(t, WorldConfig{})
	for i := 0; i < 4; i++ {
		mustParticle(t, w, model.Coord{Q: i})
	}
	list := w.ParticleList()
	for i, p := range list {
		if p.Number() != i+1 {
			t.Fatalf("list[%d].Number = %d", i, p.Number())
		}
	}
}

func TestNeighbourLookup(t *testing.T) {
	w := newTestWorld(t, WorldConfig{})
	center := mustParticle(t, w, model.Coord{})
	east := mustParticle(t, w, model.Coord{Q: 1})
	if _, err := w.AddTile(model.Coord{Q: -1}, model.Gray); err != nil {
		t.Fatalf("AddTile: %v", err)
	}

	if !center.ParticleIn(model.E) {
		t.Fatalf("expected particle east of center")
	}
	if center.ParticleIn(model.W) {
		t.Fatalf("tile reported as particle")
	}
	got, ok := center.GetParticleIn(model.E)
	if !ok || got.ID() != east.ID() {
		t.Fatalf("GetParticleIn(E) = %v, %v", got, ok)
	}
	if !east.ParticleIn(model.E.Opposite()) {
		t.Fatalf("adjacency is not symmetric")
	}
}

func TestMoveCommittedAfterRound(t *testing.T) {
	w := newTestWorld(t, WorldConfig{})
	p := mustParticle(t, w, model.Coord{})

	if err := p.MoveTo(model.NE); err != nil {
		t.Fatalf("MoveTo: %v", err)
	}
	if p.Coords() != (model.Coord{}) {
		t.Fatalf("move applied before commit")
	}
	if moved := w.commitMoves(context.Background()); moved != 1 {
		t.Fatalf("moved = %d, want 1", moved)
	}
	if p.Coords() != (model.Coord{R: 1}) {
		t.Fatalf("coords = %v after commit", p.Coords())
	}
}

func TestMoveToRejectsUnknownDirection(t *testing.T) {
	w := newTestWorld(t, WorldConfig{})
	p := mustParticle(t, w, model.Coord{})
	if err := p.MoveTo(model.Direction(9)); !errors.Is(err, model.ErrUnknownDirection) {
		t.Fatalf("expected ErrUnknownDirection, got %v", err)
	}
}

func TestMoveOutOfExtentIsClamped(t *testing.T) {
	w := newTestWorld(t, WorldConfig{XSize: 1, YSize: 1})
	p := mustParticle(t, w, model.Coord{Q: 1})

	if p.MoveToInBounds(model.E) {
		t.Fatalf("MoveToInBounds accepted an out-of-extent move")
	}
	if _, queued := p.PendingMove(); queued {
		t.Fatalf("refused move was queued")
	}
	if err := p.MoveTo(model.E); err != nil {
		t.Fatalf("MoveTo: %v", err)
	}
	if moved := w.commitMoves(context.Background()); moved != 0 {
		t.Fatalf("moved = %d, want 0", moved)
	}
	if p.Coords() != (model.Coord{Q: 1}) {
		t.Fatalf("particle left the extent: %v", p.Coords())
	}
}

func TestCommitResolvesConflictsByID(t *testing.T) {
	w := newTestWorld(t, WorldConfig{})
	a := mustParticle(t, w, model.Coord{})
	b := mustParticle(t, w, model.Coord{Q: 2})

	// Both aim for (1,0); the lower id wins.
	_ = a.MoveTo(model.E)
	_ = b.MoveTo(model.W)
	if moved := w.commitMoves(context.Background()); moved != 1 {
		t.Fatalf("moved = %d, want 1", moved)
	}
	if a.Coords() != (model.Coord{Q: 1}) || b.Coords() != (model.Coord{Q: 2}) {
		t.Fatalf("a=%v b=%v", a.Coords(), b.Coords())
	}
}

func TestCommitRejectsTargetOccupiedAtCommit(t *testing.T) {
	w := newTestWorld(t, WorldConfig{})
	a := mustParticle(t, w, model.Coord{})
	b := mustParticle(t, w, model.Coord{Q: 1})

	// a commits first while b still holds (1,0).
	_ = a.MoveTo(model.E)
	_ = b.MoveTo(model.E)
	w.commitMoves(context.Background())
	if a.Coords() != (model.Coord{}) {
		t.Fatalf("a moved onto an occupied coordinate: %v", a.Coords())
	}
	if b.Coords() != (model.Coord{Q: 2}) {
		t.Fatalf("b = %v, want (2,0)", b.Coords())
	}
}

func TestRemovalDropsPendingMove(t *testing.T) {
	w := newTestWorld(t, WorldConfig{})
	p := mustParticle(t, w, model.Coord{})
	_ = p.MoveTo(model.E)
	if err := w.RemoveParticle(p.ID()); err != nil {
		t.Fatalf("RemoveParticle: %v", err)
	}
	if moved := w.commitMoves(context.Background()); moved != 0 {
		t.Fatalf("removed particle moved")
	}
}
