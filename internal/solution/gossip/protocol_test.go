package gossip

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/signalsfoundry/swarm-simulator/core"
	"github.com/signalsfoundry/swarm-simulator/internal/scenario"
	"github.com/signalsfoundry/swarm-simulator/model"
)

type fakeRecorder struct {
	exchanges, reanchors, adoptions int
	mean                            float64
}

func (f *fakeRecorder) IncExchanges()             { f.exchanges++ }
func (f *fakeRecorder) IncReanchors()             { f.reanchors++ }
func (f *fakeRecorder) IncEpochAdoptions()        { f.adoptions++ }
func (f *fakeRecorder) SetMeanEstimate(v float64) { f.mean = v }

func newEngine(t *testing.T, name string, cfg core.WorldConfig, p *Protocol) *core.SimulationEngine {
	t.Helper()
	s, err := scenario.Lookup(name, scenario.Params{Size: 2})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	eng := core.NewSimulationEngine(core.NewWorld(cfg), p)
	if err := eng.Setup(context.Background(), s); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	return eng
}

func totalSum(p *Protocol, w *core.World) float64 {
	var total float64
	for _, pt := range w.ParticleList() {
		s, _ := p.State(pt.ID())
		total += s.Sum
	}
	return total
}

func TestWheelConvergesToSeven(t *testing.T) {
	rec := &fakeRecorder{}
	cfg := DefaultConfig()
	cfg.MasterID = 1 // the hub of the wheel
	p := New(cfg, WithRecorder(rec))
	eng := newEngine(t, "wheel", core.WorldConfig{MaxRound: 100, Seed: 42}, p)

	eng.RegisterTickListener(func(round int) {
		if total := totalSum(p, eng.World); math.Abs(total-1) > 1e-9 {
			t.Errorf("round %d: total sum %v, want 1", round, total)
		}
	})
	if err := eng.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if hub := eng.World.ParticleList()[0]; hub.Number() != 1 || hub.Coords() != (model.Coord{}) {
		t.Fatalf("particle 1 is at %v, want the wheel hub", hub.Coords())
	}

	for _, pt := range eng.World.ParticleList() {
		s, ok := p.State(pt.ID())
		if !ok {
			t.Fatalf("particle %d has no state", pt.Number())
		}
		if s.ParticleCount < 6 || s.ParticleCount > 8 {
			t.Fatalf("particle %d estimates %d, want 7±1", pt.Number(), s.ParticleCount)
		}
	}
	if rec.exchanges == 0 || rec.exchanges != p.History().Exchanges() {
		t.Fatalf("recorded %d exchanges, history %d", rec.exchanges, p.History().Exchanges())
	}
	if rec.adoptions < 6 {
		t.Fatalf("only %d epoch adoptions for 6 followers", rec.adoptions)
	}
	if math.Abs(rec.mean-7) > 1 {
		t.Fatalf("mean estimate gauge = %v", rec.mean)
	}
	sum, ok := p.Summary()
	if !ok || sum.Rounds != 100 || sum.Particles != 7 {
		t.Fatalf("summary = %+v, %v", sum, ok)
	}
}

func TestRing18TerminatesOnce(t *testing.T) {
	p := New(DefaultConfig())
	eng := newEngine(t, "ring18", core.WorldConfig{MaxRound: 500, Seed: 3}, p)

	terminations := 0
	eng.RegisterTerminationListener(func(round int, err error) {
		terminations++
		if round != 500 || err != nil {
			t.Errorf("terminated at round %d with %v", round, err)
		}
	})
	if err := eng.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if done, err := eng.Step(context.Background()); !done || !errors.Is(err, core.ErrTerminated) {
		t.Fatalf("Step after termination = %v, %v", done, err)
	}
	if terminations != 1 || eng.World.ActualRound() != 500 || !eng.World.Ended() {
		t.Fatalf("terminations=%d round=%d ended=%v", terminations, eng.World.ActualRound(), eng.World.Ended())
	}
	if len(p.History().Rounds()) != 500 {
		t.Fatalf("history has %d rounds", len(p.History().Rounds()))
	}
}

func TestPickerDrawnAtMostOncePerRound(t *testing.T) {
	seen := map[[2]int]int{}
	p := New(DefaultConfig(), WithPickObserver(func(round, id int) {
		seen[[2]int{round, id}]++
	}))
	eng := newEngine(t, "hexagon", core.WorldConfig{MaxRound: 20, Seed: 9}, p)
	if err := eng.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(seen) != 20*19 {
		t.Fatalf("%d distinct picks, want every particle every round", len(seen))
	}
	for key, n := range seen {
		if n != 1 {
			t.Fatalf("particle %d picked %d times in round %d", key[1], n, key[0])
		}
	}
}

func TestVersionsNeverDecrease(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinRounds = 10
	p := New(cfg)
	eng := newEngine(t, "hexagon", core.WorldConfig{MaxRound: 300, Seed: 17}, p)

	last := map[int]int{}
	eng.RegisterTickListener(func(round int) {
		for _, pt := range eng.World.ParticleList() {
			s, _ := p.State(pt.ID())
			if s.VersionNumber < last[pt.ID()] {
				t.Errorf("round %d: particle %d version fell %d -> %d", round, pt.Number(), last[pt.ID()], s.VersionNumber)
			}
			last[pt.ID()] = s.VersionNumber
		}
	})
	if err := eng.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	top := 0
	for _, v := range last {
		top = max(top, v)
	}
	if top <= masterVersion {
		t.Fatalf("no epoch after the first in 300 rounds (max version %d)", top)
	}
}

func TestConfiguredMaster(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MasterID = 4
	p := New(cfg)
	eng := newEngine(t, "hexagon", core.WorldConfig{MaxRound: 1}, p)
	if err := p.Init(context.Background(), eng.RunContext()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	for _, pt := range eng.World.ParticleList() {
		s, _ := p.State(pt.ID())
		if isMaster := pt.Number() == 4; (s.Sum == 1) != isMaster || (s.VersionNumber == 2) != isMaster {
			t.Fatalf("particle %d: sum %v version %d", pt.Number(), s.Sum, s.VersionNumber)
		}
	}
}

func TestUnknownMasterAbortsRun(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MasterID = 99
	eng := newEngine(t, "wheel", core.WorldConfig{MaxRound: 10}, New(cfg))
	if err := eng.Run(context.Background()); !errors.Is(err, ErrUnknownMaster) {
		t.Fatalf("expected ErrUnknownMaster, got %v", err)
	}
	if eng.State() != core.StateTerminated {
		t.Fatalf("engine state = %v", eng.State())
	}
}

func TestScheduledRemovals(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Removals = []Removal{{Round: 2, Count: 5}}
	p := New(cfg)
	eng := newEngine(t, "hexagon", core.WorldConfig{MaxRound: 3, Seed: 1}, p)
	if err := eng.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := eng.World.ParticleCount(); got != 14 {
		t.Fatalf("particles = %d, want 14", got)
	}
	rounds := p.History().Rounds()
	if rounds[0].Actual != 19 || rounds[1].Actual != 14 {
		t.Fatalf("actual counts = %d, %d", rounds[0].Actual, rounds[1].Actual)
	}
}

func TestMobileParticlesMove(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mobile = true
	p := New(cfg)
	eng := newEngine(t, "wheel", core.WorldConfig{MaxRound: 1, Seed: 5}, p)
	before := map[int]model.Coord{}
	for _, pt := range eng.World.ParticleList() {
		before[pt.ID()] = pt.Coords()
	}
	if err := eng.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	moved := 0
	for _, pt := range eng.World.ParticleList() {
		if pt.Coords() != before[pt.ID()] {
			moved++
		}
	}
	if moved == 0 {
		t.Fatalf("no particle moved")
	}
}

func TestColorsFollowEstimate(t *testing.T) {
	p := New(DefaultConfig())
	eng := newEngine(t, "hexagon", core.WorldConfig{MaxRound: 5, Seed: 2}, p)
	if err := eng.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, pt := range eng.World.ParticleList() {
		s, _ := p.State(pt.ID())
		if pt.Color() != ColorFor(s.ParticleCount) {
			t.Fatalf("particle %d colour %v for estimate %d", pt.Number(), pt.Color(), s.ParticleCount)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"negative min rounds", func(c *Config) { c.MinRounds = -1 }, true},
		{"aging above one", func(c *Config) { c.AgingFactor = 1.5 }, true},
		{"bad removal", func(c *Config) { c.Removals = []Removal{{Round: 0, Count: 1}} }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tc.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
