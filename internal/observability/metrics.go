package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SimCollector bundles the Prometheus metrics of a simulation run. It
// implements core.RoundRecorder, gossip.Recorder and oppnet.Recorder so the
// engine and the solutions drive it directly.
type SimCollector struct {
	gatherer prometheus.Gatherer

	Rounds        prometheus.Counter
	RoundDuration prometheus.Histogram
	Particles     prometheus.Gauge
	Moves         prometheus.Counter

	GossipExchanges    prometheus.Counter
	GossipReanchors    prometheus.Counter
	GossipAdoptions    prometheus.Counter
	GossipMeanEstimate prometheus.Gauge

	Messages         *prometheus.CounterVec
	MessagesInFlight prometheus.Gauge
}

// NewSimCollector registers the simulator metrics against reg, defaulting to
// the global Prometheus registry when nil. Metrics already registered by an
// earlier collector are reused.
func NewSimCollector(reg prometheus.Registerer) (*SimCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	c := &SimCollector{gatherer: gatherer}

	var err error
	if c.Rounds, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "swarm_rounds_total",
		Help: "Number of committed simulation rounds.",
	}), "swarm_rounds_total"); err != nil {
		return nil, err
	}
	if c.RoundDuration, err = registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "swarm_round_duration_seconds",
		Help:    "Wall-clock duration of one round including the solution and move commit.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}), "swarm_round_duration_seconds"); err != nil {
		return nil, err
	}
	if c.Particles, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "swarm_particles",
		Help: "Live particles after the latest round.",
	}), "swarm_particles"); err != nil {
		return nil, err
	}
	if c.Moves, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "swarm_moves_committed_total",
		Help: "Particle moves committed by the scheduler.",
	}), "swarm_moves_committed_total"); err != nil {
		return nil, err
	}

	if c.GossipExchanges, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "swarm_gossip_exchanges_total",
		Help: "Pairwise push-sum exchanges.",
	}), "swarm_gossip_exchanges_total"); err != nil {
		return nil, err
	}
	if c.GossipReanchors, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "swarm_gossip_reanchors_total",
		Help: "Particles that started a new estimation epoch.",
	}), "swarm_gossip_reanchors_total"); err != nil {
		return nil, err
	}
	if c.GossipAdoptions, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "swarm_gossip_epoch_adoptions_total",
		Help: "Particles reset into a newer epoch.",
	}), "swarm_gossip_epoch_adoptions_total"); err != nil {
		return nil, err
	}
	if c.GossipMeanEstimate, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "swarm_gossip_mean_estimate",
		Help: "Mean population estimate across live particles.",
	}), "swarm_gossip_mean_estimate"); err != nil {
		return nil, err
	}

	if c.Messages, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "swarm_oppnet_messages_total",
		Help: "Opportunistic network message events, labeled by event.",
	}, []string{"event"}), "swarm_oppnet_messages_total"); err != nil {
		return nil, err
	}
	if c.MessagesInFlight, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "swarm_oppnet_messages_in_flight",
		Help: "Message copies currently held by carriers.",
	}), "swarm_oppnet_messages_in_flight"); err != nil {
		return nil, err
	}
	return c, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SimCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimCollector) Handler() http.Handler {
	gatherer := c.Gatherer()
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveRound records one committed round.
func (c *SimCollector) ObserveRound(d time.Duration, particles, moves int) {
	if c == nil {
		return
	}
	c.Rounds.Inc()
	c.RoundDuration.Observe(d.Seconds())
	c.Particles.Set(float64(particles))
	c.Moves.Add(float64(moves))
}

func (c *SimCollector) IncExchanges() {
	if c == nil {
		return
	}
	c.GossipExchanges.Inc()
}

func (c *SimCollector) IncReanchors() {
	if c == nil {
		return
	}
	c.GossipReanchors.Inc()
}

func (c *SimCollector) IncEpochAdoptions() {
	if c == nil {
		return
	}
	c.GossipAdoptions.Inc()
}

func (c *SimCollector) SetMeanEstimate(v float64) {
	if c == nil {
		return
	}
	c.GossipMeanEstimate.Set(v)
}

// IncMessages counts one message event such as "delivered".
func (c *SimCollector) IncMessages(event string) {
	if c == nil {
		return
	}
	c.Messages.WithLabelValues(event).Inc()
}

func (c *SimCollector) SetMessagesInFlight(n int) {
	if c == nil {
		return
	}
	c.MessagesInFlight.Set(float64(n))
}
