package core

import (
	"context"
	"math/rand/v2"

	"github.com/google/uuid"

	"github.com/signalsfoundry/swarm-simulator/internal/logging"
)

// Run is the context of one simulation run. It is passed to every solution
// call and replaces process-wide accumulators.
type Run struct {
	ID    uuid.UUID
	World *World
	Log   logging.Logger
	Rand  *rand.Rand
}

// Solution is the per-round algorithm driving the swarm. Round is called once
// per round; moves it queues are committed after it returns.
type Solution interface {
	Round(ctx context.Context, run *Run) error
}

// SolutionFunc adapts a plain function to Solution.
type SolutionFunc func(ctx context.Context, run *Run) error

func (f SolutionFunc) Round(ctx context.Context, run *Run) error { return f(ctx, run) }

// Initializer is implemented by solutions that need a hook before the first
// round's Round call.
type Initializer interface {
	Init(ctx context.Context, run *Run) error
}

// Scenario populates the world before round 1.
type Scenario interface {
	Populate(ctx context.Context, w *World) error
}

// ScenarioFunc adapts a plain function to Scenario.
type ScenarioFunc func(ctx context.Context, w *World) error

func (f ScenarioFunc) Populate(ctx context.Context, w *World) error { return f(ctx, w) }
