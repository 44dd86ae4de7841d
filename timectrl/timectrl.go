package timectrl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ErrUnknownMode is returned by ParseMode for unrecognised pacing names.
var ErrUnknownMode = errors.New("unknown pacing mode")

// Mode describes how the TimeController paces rounds.
type Mode int

const (
	// RealTime runs one round per Tick of wall-clock time.
	RealTime Mode = iota
	// Accelerated runs rounds back to back as fast as the loop allows.
	Accelerated
)

// ParseMode maps a pacing name to its Mode. The empty string selects
// Accelerated.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "realtime", "real_time", "real-time":
		return RealTime, nil
	case "", "accelerated", "fast":
		return Accelerated, nil
	default:
		return Accelerated, fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

func (m Mode) String() string {
	if m == RealTime {
		return "realtime"
	}
	return "accelerated"
}

// StepFunc advances the simulation by one round and reports whether it has
// finished.
type StepFunc func(ctx context.Context) (done bool, err error)

// TimeController paces a round-stepping function and notifies registered
// listeners after every round.
type TimeController struct {
	mu   sync.RWMutex
	Tick time.Duration
	Mode Mode

	round     int
	listeners []func(int)
}

// NewTimeController constructs a controller.
func NewTimeController(tick time.Duration, mode Mode) *TimeController {
	return &TimeController{
		Tick: tick,
		Mode: mode,
	}
}

// Round returns the number of rounds driven so far.
func (tc *TimeController) Round() int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.round
}

// AddListener registers a callback invoked after every round.
func (tc *TimeController) AddListener(fn func(round int)) {
	tc.mu.Lock()
	tc.listeners = append(tc.listeners, fn)
	tc.mu.Unlock()
}

// Run calls step until it reports done, returns an error, or ctx is
// cancelled. In RealTime mode each call waits for the next tick.
func (tc *TimeController) Run(ctx context.Context, step StepFunc) error {
	var tickC <-chan time.Time
	if tc.Mode == RealTime && tc.Tick > 0 {
		ticker := time.NewTicker(tc.Tick)
		defer ticker.Stop()
		tickC = ticker.C
	}

	for {
		if tickC != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-tickC:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		done, err := step(ctx)
		if err != nil {
			return err
		}

		tc.mu.Lock()
		tc.round++
		round := tc.round
		listeners := append([]func(int){}, tc.listeners...)
		tc.mu.Unlock()

		for _, fn := range listeners {
			fn(round)
		}
		if done {
			return nil
		}
	}
}
