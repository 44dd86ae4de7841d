package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/swarm-simulator/internal/logging"
)

// EngineState is the lifecycle phase of a SimulationEngine.
type EngineState int

const (
	StateSetup EngineState = iota
	StateRunning
	StateTerminated
)

func (s EngineState) String() string {
	switch s {
	case StateSetup:
		return "setup"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("EngineState(%d)", int(s))
	}
}

// RoundRecorder observes committed rounds. Implementations must be cheap;
// they run on the engine goroutine.
type RoundRecorder interface {
	ObserveRound(duration time.Duration, particles, moves int)
}

// EngineOption configures optional SimulationEngine behaviour.
type EngineOption func(*SimulationEngine)

// WithEngineLogger wires a structured logger into the engine. The engine
// logs and the Run's Log go through l unchanged, so callers scope it to the
// run with logging.WithRunLogger.
func WithEngineLogger(l logging.Logger) EngineOption {
	return func(se *SimulationEngine) {
		if l != nil {
			se.log = l
		}
	}
}

// WithRoundRecorder attaches a metrics recorder.
func WithRoundRecorder(r RoundRecorder) EngineOption {
	return func(se *SimulationEngine) { se.recorder = r }
}

// WithTracer overrides the tracer used for round spans.
func WithTracer(t trace.Tracer) EngineOption {
	return func(se *SimulationEngine) {
		if t != nil {
			se.tracer = t
		}
	}
}

// WithRunID fixes the run id instead of generating one.
func WithRunID(id uuid.UUID) EngineOption {
	return func(se *SimulationEngine) { se.runID = id }
}

// SimulationEngine drives a solution round by round over a World.
type SimulationEngine struct {
	World    *World
	solution Solution

	log      logging.Logger
	recorder RoundRecorder
	tracer   trace.Tracer
	runID    uuid.UUID
	run      *Run

	mu                   sync.Mutex
	state                EngineState
	setUp                bool
	err                  error
	tickListeners        []func(int)
	terminationListeners []func(int, error)
}

// NewSimulationEngine prepares an engine. Setup must be called before Step.
func NewSimulationEngine(world *World, solution Solution, opts ...EngineOption) *SimulationEngine {
	se := &SimulationEngine{
		World:    world,
		solution: solution,
		log:      logging.Noop(),
		tracer:   otel.Tracer("github.com/signalsfoundry/swarm-simulator/core"),
		state:    StateSetup,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(se)
		}
	}
	if se.runID == uuid.Nil {
		se.runID = uuid.New()
	}
	se.run = &Run{
		ID:    se.runID,
		World: world,
		Log:   se.log,
		Rand:  world.Rand(),
	}
	return se
}

// RegisterTickListener registers fn to run after every committed round.
func (se *SimulationEngine) RegisterTickListener(fn func(round int)) {
	se.mu.Lock()
	se.tickListeners = append(se.tickListeners, fn)
	se.mu.Unlock()
}

// RegisterTerminationListener registers fn to run once when the run ends.
// err is nil for a normal end.
func (se *SimulationEngine) RegisterTerminationListener(fn func(round int, err error)) {
	se.mu.Lock()
	se.terminationListeners = append(se.terminationListeners, fn)
	se.mu.Unlock()
}

// RunContext returns the run context shared with the solution.
func (se *SimulationEngine) RunContext() *Run { return se.run }

func (se *SimulationEngine) State() EngineState {
	se.mu.Lock()
	defer se.mu.Unlock()
	return se.state
}

// Err returns the error that aborted the run, if any.
func (se *SimulationEngine) Err() error {
	se.mu.Lock()
	defer se.mu.Unlock()
	return se.err
}

// Setup populates the world from scenario. It may run only once.
func (se *SimulationEngine) Setup(ctx context.Context, scenario Scenario) error {
	se.mu.Lock()
	if se.setUp {
		se.mu.Unlock()
		return ErrAlreadySetUp
	}
	se.setUp = true
	se.mu.Unlock()

	if scenario != nil {
		if err := scenario.Populate(ctx, se.World); err != nil {
			se.terminate(ctx, 0, err)
			return fmt.Errorf("scenario setup: %w", err)
		}
	}
	se.log.Info(ctx, "scenario loaded",
		logging.Int("particles", se.World.ParticleCount()),
		logging.Int("entities", len(se.World.Entities())),
		logging.Float("x_size", se.World.XSize()),
		logging.Float("y_size", se.World.YSize()),
	)
	return nil
}

// Step runs one round. It reports whether the run has terminated.
func (se *SimulationEngine) Step(ctx context.Context) (bool, error) {
	se.mu.Lock()
	switch {
	case !se.setUp:
		se.mu.Unlock()
		return false, ErrNotSetUp
	case se.state == StateTerminated:
		se.mu.Unlock()
		return true, ErrTerminated
	}
	se.state = StateRunning
	se.mu.Unlock()

	round := se.World.advanceRound()
	ctx, span := se.tracer.Start(ctx, "simulation.round",
		trace.WithAttributes(attribute.Int("round", round)),
	)
	defer span.End()

	start := time.Now()
	var err error
	if init, ok := se.solution.(Initializer); ok && round == 1 {
		err = se.invoke(ctx, init.Init)
	}
	if err == nil {
		err = se.invoke(ctx, se.solution.Round)
	}
	if err != nil {
		se.World.discardMoves()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		se.log.Error(ctx, "solution failed; aborting run",
			logging.Int("round", round),
			logging.Err(err),
		)
		se.terminate(ctx, round, err)
		return true, fmt.Errorf("round %d: %w", round, err)
	}

	moves := se.World.commitMoves(ctx)
	particles := se.World.ParticleCount()
	span.SetAttributes(
		attribute.Int("particles", particles),
		attribute.Int("moves", moves),
	)
	if se.recorder != nil {
		se.recorder.ObserveRound(time.Since(start), particles, moves)
	}

	se.mu.Lock()
	listeners := append([]func(int){}, se.tickListeners...)
	se.mu.Unlock()
	for _, fn := range listeners {
		fn(round)
	}

	maxRound := se.World.MaxRound()
	if se.World.Ended() || (maxRound > 0 && round >= maxRound) {
		se.terminate(ctx, round, nil)
		return true, nil
	}
	return false, nil
}

// Run steps until the run terminates or ctx is cancelled. Cancellation is
// observed between rounds.
func (se *SimulationEngine) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		done, err := se.Step(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

func (se *SimulationEngine) invoke(ctx context.Context, fn func(context.Context, *Run) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrSolutionPanic, r)
		}
	}()
	return fn(ctx, se.run)
}

func (se *SimulationEngine) terminate(ctx context.Context, round int, cause error) {
	se.mu.Lock()
	if se.state == StateTerminated {
		se.mu.Unlock()
		return
	}
	se.state = StateTerminated
	se.err = cause
	listeners := append([]func(int, error){}, se.terminationListeners...)
	se.mu.Unlock()

	se.log.Info(ctx, "simulation terminated",
		logging.Int("round", round),
		logging.Bool("aborted", cause != nil),
	)
	for _, fn := range listeners {
		fn(round, cause)
	}
}
