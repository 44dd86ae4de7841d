// Package bottleneck drives the opportunistic network through a crowded
// swarm: a few edge particles seed traffic that the rest carry towards its
// destinations while moving under their mobility models.
package bottleneck

import (
	"context"
	"fmt"
	"sync"

	"github.com/signalsfoundry/swarm-simulator/core"
	"github.com/signalsfoundry/swarm-simulator/internal/logging"
	"github.com/signalsfoundry/swarm-simulator/internal/oppnet"
)

// Config tunes the solution. Zero values take the defaults of DefaultConfig.
type Config struct {
	Algorithm       oppnet.Algorithm
	Mobility        oppnet.MobilityMode
	DeliveryDelay   int
	EdgeParticles   int
	EdgeRadius      int
	CoreRadius      int
	MessagesPerEdge int
}

func DefaultConfig() Config {
	return Config{
		Algorithm:       oppnet.Epidemic,
		Mobility:        oppnet.MobilityRandomWalk,
		EdgeParticles:   4,
		EdgeRadius:      2,
		CoreRadius:      3,
		MessagesPerEdge: 5,
	}
}

type Solution struct {
	cfg  Config
	opts []oppnet.Option

	mu  sync.Mutex
	net *oppnet.Network
}

// New returns the solution; opts are applied to the network created at
// round 1.
func New(cfg Config, opts ...oppnet.Option) *Solution {
	def := DefaultConfig()
	if cfg.EdgeParticles <= 0 {
		cfg.EdgeParticles = def.EdgeParticles
	}
	if cfg.EdgeRadius <= 0 {
		cfg.EdgeRadius = def.EdgeRadius
	}
	if cfg.CoreRadius <= 0 {
		cfg.CoreRadius = def.CoreRadius
	}
	if cfg.MessagesPerEdge <= 0 {
		cfg.MessagesPerEdge = def.MessagesPerEdge
	}
	return &Solution{cfg: cfg, opts: opts}
}

// Network returns the routing layer once Init has run.
func (s *Solution) Network() *oppnet.Network {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.net
}

// Init binds a mobility model and routing parameters to every particle and
// seeds traffic from the edge particles.
func (s *Solution) Init(ctx context.Context, run *core.Run) error {
	opts := append([]oppnet.Option{oppnet.WithLogger(run.Log)}, s.opts...)
	net := oppnet.NewNetwork(run.World, opts...)
	s.mu.Lock()
	s.net = net
	s.mu.Unlock()

	particles := run.World.ParticleList()
	edge := min(s.cfg.EdgeParticles, len(particles))
	for i, p := range particles {
		radius := s.cfg.CoreRadius
		if i < edge {
			radius = s.cfg.EdgeRadius
		}
		net.BindMobility(p, oppnet.NewMobilityModel(p.Coords(), s.cfg.Mobility, run.Rand))
		params := oppnet.RoutingParameters{
			Algorithm:     s.cfg.Algorithm,
			ScanRadius:    radius,
			DeliveryDelay: s.cfg.DeliveryDelay,
		}
		if err := net.BindRouting(p, params); err != nil {
			return fmt.Errorf("bind routing for particle %d: %w", p.Number(), err)
		}
	}

	msgs, err := net.GenerateRandomMessages(particles[:edge], s.cfg.MessagesPerEdge, run.World.ActualRound())
	if err != nil {
		return err
	}
	run.Log.Info(ctx, "bottleneck traffic seeded",
		logging.Int("edge_particles", edge),
		logging.Int("messages", len(msgs)),
		logging.String("algorithm", s.cfg.Algorithm.String()),
		logging.String("mobility", s.cfg.Mobility.String()),
	)
	return nil
}

func (s *Solution) Round(ctx context.Context, run *core.Run) error {
	net := s.Network()
	if net == nil {
		return fmt.Errorf("bottleneck: network not initialised: %w", core.ErrMissingConfiguration)
	}
	round := run.World.ActualRound()
	if round > 1 {
		particles := run.World.ParticleList()
		for _, p := range particles {
			m, err := net.Mobility(p)
			if err != nil {
				return err
			}
			if d, ok := m.NextDirection(p.Coords()); ok {
				p.MoveToInBounds(d)
			}
		}
		if err := net.NextStep(particles, round); err != nil {
			return err
		}
	}
	if err := net.ProcessEventQueue(ctx); err != nil {
		run.Log.Warn(ctx, "receipt handler failed", logging.Err(err))
	}

	if maxRound := run.World.MaxRound(); maxRound > 0 && round >= maxRound {
		st := net.Stats()
		run.Log.Info(ctx, "bottleneck run summary",
			logging.Int("generated", st.Generated),
			logging.Int("forwarded", st.Forwarded),
			logging.Int("delivered", st.Delivered),
			logging.Int("expired", st.Expired),
			logging.Float("mean_latency", st.MeanLatency()),
			logging.Float("mean_hops", st.MeanHops()),
		)
	}
	return nil
}
