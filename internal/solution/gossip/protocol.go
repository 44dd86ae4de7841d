// Package gossip implements a push-sum cardinality estimator: every particle
// converges on the number of live particles in the swarm by pairwise
// averaging with random neighbours, and epochs restart the estimate once a
// particle sees it settle.
package gossip

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/signalsfoundry/swarm-simulator/core"
	"github.com/signalsfoundry/swarm-simulator/internal/logging"
	"github.com/signalsfoundry/swarm-simulator/internal/stats"
	"github.com/signalsfoundry/swarm-simulator/model"
)

// ErrUnknownMaster is returned when the configured master particle does not
// exist at round 1.
var ErrUnknownMaster = errors.New("gossip: unknown master particle")

// Removal schedules churn: Count random particles leave the swarm after the
// exchanges of Round.
type Removal struct {
	Round int `yaml:"round" json:"round"`
	Count int `yaml:"count" json:"count"`
}

// Config tunes the protocol.
type Config struct {
	MinRounds   int       `yaml:"min_rounds"`
	AgingFactor float64   `yaml:"aging_factor"`
	Mobile      bool      `yaml:"mobile"`
	MasterID    int       `yaml:"master"` // particle number; 0 draws one at random
	Removals    []Removal `yaml:"removals"`
}

func DefaultConfig() Config {
	return Config{MinRounds: DefaultMinRounds, AgingFactor: DefaultAgingFactor}
}

// Validate checks the ranges of the tunables.
func (c Config) Validate() error {
	var errs []error
	if c.MinRounds < 0 {
		errs = append(errs, fmt.Errorf("min_rounds must be >= 0, got %d", c.MinRounds))
	}
	if c.AgingFactor < 0 || c.AgingFactor > 1 {
		errs = append(errs, fmt.Errorf("aging_factor must be within [0,1], got %v", c.AgingFactor))
	}
	if c.MasterID < 0 {
		errs = append(errs, fmt.Errorf("master must be >= 0, got %d", c.MasterID))
	}
	for i, r := range c.Removals {
		if r.Round <= 0 || r.Count < 0 {
			errs = append(errs, fmt.Errorf("removals[%d]: round must be > 0 and count >= 0", i))
		}
	}
	return errors.Join(errs...)
}

// Recorder receives protocol counters. observability.SimCollector implements
// it.
type Recorder interface {
	IncExchanges()
	IncReanchors()
	IncEpochAdoptions()
	SetMeanEstimate(v float64)
}

type Option func(*Protocol)

func WithRecorder(r Recorder) Option {
	return func(p *Protocol) { p.recorder = r }
}

// WithPickObserver registers fn to be told about every picker drawn from the
// round's queue.
func WithPickObserver(fn func(round, particleID int)) Option {
	return func(p *Protocol) { p.onPick = fn }
}

// WithHistory records into h instead of a private history.
func WithHistory(h *stats.History) Option {
	return func(p *Protocol) { p.history = h }
}

// Protocol is the gossip solution. It satisfies core.Solution and
// core.Initializer.
type Protocol struct {
	cfg      Config
	states   *core.SideTable[*State]
	history  *stats.History
	recorder Recorder
	onPick   func(round, particleID int)

	mu      sync.Mutex
	summary *stats.RunSummary
}

func New(cfg Config, opts ...Option) *Protocol {
	if cfg.MinRounds == 0 {
		cfg.MinRounds = DefaultMinRounds
	}
	if cfg.AgingFactor == 0 {
		cfg.AgingFactor = DefaultAgingFactor
	}
	p := &Protocol{
		cfg:    cfg,
		states: core.NewSideTable[*State]("gossip state"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.history == nil {
		p.history = stats.NewHistory()
	}
	return p
}

// Init gives every particle its initial state and appoints the master.
func (p *Protocol) Init(ctx context.Context, run *core.Run) error {
	w := run.World
	p.states.Bind(w)

	particles := w.ParticleList()
	for _, pt := range particles {
		p.states.Set(pt.ID(), NewState(p.cfg.MinRounds))
	}
	if len(particles) == 0 {
		return nil
	}

	var master *core.Particle
	if p.cfg.MasterID > 0 {
		for _, pt := range particles {
			if pt.Number() == p.cfg.MasterID {
				master = pt
				break
			}
		}
		if master == nil {
			return fmt.Errorf("%w: number %d", ErrUnknownMaster, p.cfg.MasterID)
		}
	} else {
		master = particles[run.Rand.IntN(len(particles))]
	}
	p.state(master.ID()).MakeMaster()
	run.Log.Info(ctx, "gossip master appointed",
		logging.Int("particle", master.Number()),
		logging.String("coord", master.Coords().String()),
	)
	return nil
}

// Round runs one draw loop followed by sampling, colouring, mobility and
// churn.
func (p *Protocol) Round(ctx context.Context, run *core.Run) error {
	w := run.World
	round := w.ActualRound()

	queue := w.ParticleList()
	run.Rand.Shuffle(len(queue), func(i, j int) { queue[i], queue[j] = queue[j], queue[i] })

	for _, picker := range queue {
		if !picker.Alive() {
			continue
		}
		if p.onPick != nil {
			p.onPick(round, picker.ID())
		}
		partner, ok := randomNeighbour(picker, run.Rand)
		if !ok {
			continue
		}
		ps, ns := p.state(picker.ID()), p.state(partner.ID())
		out := Interact(ps, ns, p.cfg.AgingFactor, run.Rand)
		if out.Reanchored {
			run.Log.Debug(ctx, "particle re-anchored as master",
				logging.Int("round", round),
				logging.Int("particle", picker.Number()),
				logging.Int("version", ps.VersionNumber),
				logging.Int("estimate", ps.BroadcastMasterEstimate),
			)
			if p.recorder != nil {
				p.recorder.IncReanchors()
			}
		}
		if out.Adopted && p.recorder != nil {
			p.recorder.IncEpochAdoptions()
		}
		if out.Exchanged {
			p.history.AddExchange(picker.Coords(), partner.Coords())
			if p.recorder != nil {
				p.recorder.IncExchanges()
			}
		}
	}

	if err := p.applyRemovals(ctx, run, round); err != nil {
		return err
	}

	summary := p.sample(w, round)
	p.history.Record(summary)
	if p.recorder != nil {
		p.recorder.SetMeanEstimate(summary.Mean)
	}

	for _, pt := range w.ParticleList() {
		if err := pt.SetColor(ColorFor(p.state(pt.ID()).ParticleCount)); err != nil {
			return fmt.Errorf("colour particle %d: %w", pt.Number(), err)
		}
		if p.cfg.Mobile {
			if d, ok := freeDirection(pt, run.Rand); ok {
				if err := pt.MoveTo(d); err != nil {
					return err
				}
			}
		}
	}

	if maxRound := w.MaxRound(); maxRound > 0 && round >= maxRound {
		p.finish(ctx, run)
		w.SetEnd()
	}
	return nil
}

// State returns a copy of the state of particle id.
func (p *Protocol) State(id int) (State, bool) {
	s, ok := p.states.Get(id)
	if !ok {
		return State{}, false
	}
	return *s, true
}

// History exposes the per-round record of the run.
func (p *Protocol) History() *stats.History { return p.history }

// Summary returns the end-of-run report once the run reached its last round.
func (p *Protocol) Summary() (stats.RunSummary, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.summary == nil {
		return stats.RunSummary{}, false
	}
	return *p.summary, true
}

// state returns the entry of id, creating one for particles that joined
// after round 1.
func (p *Protocol) state(id int) *State {
	if s, ok := p.states.Get(id); ok {
		return s
	}
	s := NewState(p.cfg.MinRounds)
	p.states.Set(id, s)
	return s
}

func (p *Protocol) sample(w *core.World, round int) stats.RoundSummary {
	particles := w.ParticleList()
	counts := make([]float64, len(particles))
	averages := make([]float64, len(particles))
	broadcasts := make([]float64, len(particles))
	for i, pt := range particles {
		s := p.state(pt.ID())
		counts[i] = float64(s.ParticleCount)
		averages[i] = s.Average
		broadcasts[i] = float64(s.BroadcastMasterEstimate)
	}
	return stats.SummarizeRound(round, len(particles), counts, averages, broadcasts)
}

func (p *Protocol) applyRemovals(ctx context.Context, run *core.Run, round int) error {
	for _, r := range p.cfg.Removals {
		if r.Round != round {
			continue
		}
		particles := run.World.ParticleList()
		n := min(r.Count, len(particles))
		run.Rand.Shuffle(len(particles), func(i, j int) { particles[i], particles[j] = particles[j], particles[i] })
		for _, pt := range particles[:n] {
			if err := run.World.RemoveParticle(pt.ID()); err != nil {
				return fmt.Errorf("remove particle %d: %w", pt.Number(), err)
			}
		}
		run.Log.Info(ctx, "particles removed",
			logging.Int("round", round),
			logging.Int("removed", n),
			logging.Int("remaining", run.World.ParticleCount()),
		)
	}
	return nil
}

func (p *Protocol) finish(ctx context.Context, run *core.Run) {
	sum := p.history.Summarize()
	p.mu.Lock()
	p.summary = &sum
	p.mu.Unlock()

	run.Log.Info(ctx, "gossip run summary",
		logging.Int("rounds", sum.Rounds),
		logging.Int("particles", sum.Particles),
		logging.Float("mean_estimate", sum.MeanEstimate),
		logging.Float("absolute_deviation", sum.AbsoluteDeviation),
		logging.Float("relative_deviation_percent", sum.RelativeDeviation),
		logging.Float("min_all_time", sum.MinAllTime),
		logging.Float("max_all_time", sum.MaxAllTime),
		logging.Float("std_dev_percent", sum.RelativeStdDev),
		logging.Int("exchanges", sum.Exchanges),
		logging.Float("exchanges_per_node", sum.ExchangesPerNode),
		logging.Float("heat_std_dev_percent", sum.HeatStdDevPercent),
	)
}

// randomNeighbour draws uniformly among the occupied neighbour directions.
func randomNeighbour(pt *core.Particle, rng *rand.Rand) (*core.Particle, bool) {
	var dirs []model.Direction
	for _, d := range model.Directions {
		if pt.ParticleIn(d) {
			dirs = append(dirs, d)
		}
	}
	if len(dirs) == 0 {
		return nil, false
	}
	return pt.GetParticleIn(dirs[rng.IntN(len(dirs))])
}

// freeDirection draws uniformly among the neighbour directions holding no
// entity.
func freeDirection(pt *core.Particle, rng *rand.Rand) (model.Direction, bool) {
	var dirs []model.Direction
	for _, d := range model.Directions {
		if _, taken := pt.MatterIn(d); !taken {
			dirs = append(dirs, d)
		}
	}
	if len(dirs) == 0 {
		return 0, false
	}
	return dirs[rng.IntN(len(dirs))], true
}
