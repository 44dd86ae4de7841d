package core

import "errors"

var (
	// ErrMissingConfiguration indicates a solution queried per-particle
	// configuration that was never bound.
	ErrMissingConfiguration = errors.New("missing particle configuration")
	// ErrTerminated indicates Step was called on a finished run.
	ErrTerminated = errors.New("simulation terminated")
	// ErrNotSetUp indicates Step was called before Setup.
	ErrNotSetUp = errors.New("simulation not set up")
	// ErrAlreadySetUp indicates Setup was called twice.
	ErrAlreadySetUp = errors.New("simulation already set up")
	// ErrSolutionPanic wraps a panic raised by solution code.
	ErrSolutionPanic = errors.New("solution panicked")
	// ErrNotParticle indicates an entity lookup that expected a particle.
	ErrNotParticle = errors.New("entity is not a particle")
)
