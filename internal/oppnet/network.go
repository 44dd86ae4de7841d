package oppnet

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/signalsfoundry/swarm-simulator/core"
	"github.com/signalsfoundry/swarm-simulator/internal/logging"
	"github.com/signalsfoundry/swarm-simulator/kb"
)

// Message lifecycle events reported to a Recorder.
const (
	EventGenerated = "generated"
	EventForwarded = "forwarded"
	EventDelivered = "delivered"
	EventExpired   = "expired"
	EventDropped   = "dropped"
)

// Recorder receives message lifecycle counts. observability.SimCollector
// implements it.
type Recorder interface {
	IncMessages(event string)
	SetMessagesInFlight(n int)
}

// Delivery is one queued hand-over of a message to its receiver.
type Delivery struct {
	Message  Message
	Receiver int
	Carrier  int
	Round    int
}

// ReceiptHandler is invoked for every processed delivery.
type ReceiptHandler func(ctx context.Context, d Delivery) error

// Stats aggregates message outcomes over a run.
type Stats struct {
	Generated  int
	Forwarded  int
	Delivered  int
	Expired    int
	Dropped    int
	LatencySum int
	HopSum     int
}

// MeanLatency is the average number of rounds from creation to delivery.
func (s Stats) MeanLatency() float64 {
	if s.Delivered == 0 {
		return 0
	}
	return float64(s.LatencySum) / float64(s.Delivered)
}

// MeanHops is the average hop count of delivered messages.
func (s Stats) MeanHops() float64 {
	if s.Delivered == 0 {
		return 0
	}
	return float64(s.HopSum) / float64(s.Delivered)
}

// Option configures a Network.
type Option func(*Network)

// WithCapacity limits each carrier's storage in bytes.
func WithCapacity(bytes int) Option {
	return func(n *Network) { n.storage = NewStorage(bytes) }
}

// WithMessageTTL sets the lifetime, in rounds, of generated messages.
func WithMessageTTL(rounds int) Option {
	return func(n *Network) { n.ttl = rounds }
}

// WithReceiptHandler installs the delivery callback.
func WithReceiptHandler(h ReceiptHandler) Option {
	return func(n *Network) { n.handler = h }
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(n *Network) { n.recorder = r }
}

// WithLogger wires a structured logger into the network.
func WithLogger(l logging.Logger) Option {
	return func(n *Network) {
		if l != nil {
			n.log = l
		}
	}
}

type queueKey struct {
	id       uuid.UUID
	receiver int
}

// Network is the opportunistic routing layer of one run: per-particle
// mobility and routing configuration, carrier storage and the delivery queue.
type Network struct {
	world    *core.World
	storage  *Storage
	mobility *core.SideTable[*MobilityModel]
	routing  *core.SideTable[RoutingParameters]
	ttl      int
	handler  ReceiptHandler
	recorder Recorder
	log      logging.Logger

	mu          sync.Mutex
	queue       []Delivery
	queued      map[queueKey]struct{}
	delivered   map[uuid.UUID]struct{}
	received    map[uuid.UUID]map[int]struct{}
	stats       Stats
	unsubscribe func()
}

// NewNetwork attaches a routing layer to w.
func NewNetwork(w *core.World, opts ...Option) *Network {
	n := &Network{
		world:     w,
		storage:   NewStorage(0),
		mobility:  core.NewSideTable[*MobilityModel]("mobility model"),
		routing:   core.NewSideTable[RoutingParameters]("routing parameters"),
		log:       logging.Noop(),
		queued:    make(map[queueKey]struct{}),
		delivered: make(map[uuid.UUID]struct{}),
		received:  make(map[uuid.UUID]map[int]struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(n)
		}
	}
	n.mobility.Bind(w)
	n.routing.Bind(w)
	n.unsubscribe = w.Subscribe(func(ev kb.Event) {
		if ev.Type == kb.EventEntityRemoved && ev.Entity.IsParticle() {
			n.storage.Forget(ev.Entity.ID)
		}
	})
	return n
}

// Close detaches the network from the world.
func (n *Network) Close() {
	n.mobility.Unbind()
	n.routing.Unbind()
	if n.unsubscribe != nil {
		n.unsubscribe()
	}
}

// Storage exposes carrier storage.
func (n *Network) Storage() *Storage { return n.storage }

// BindMobility attaches (or explicitly replaces) a particle's mobility model.
func (n *Network) BindMobility(p *core.Particle, m *MobilityModel) {
	n.mobility.Set(p.ID(), m)
}

// Mobility returns the particle's mobility model.
func (n *Network) Mobility(p *core.Particle) (*MobilityModel, error) {
	return n.mobility.MustGet(p.ID())
}

// BindRouting attaches (or explicitly replaces) a particle's routing
// parameters.
func (n *Network) BindRouting(p *core.Particle, params RoutingParameters) error {
	if err := params.Validate(); err != nil {
		return fmt.Errorf("bind routing for particle %d: %w", p.ID(), err)
	}
	n.routing.Set(p.ID(), params)
	return nil
}

// Routing returns the particle's routing parameters.
func (n *Network) Routing(p *core.Particle) (RoutingParameters, error) {
	return n.routing.MustGet(p.ID())
}

// Stats returns a snapshot of the message counters.
func (n *Network) Stats() Stats {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stats
}

// Delivered reports whether a unicast message reached its destination.
func (n *Network) Delivered(id uuid.UUID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.delivered[id]
	return ok
}

// Queued returns the number of deliveries waiting for ProcessEventQueue.
func (n *Network) Queued() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.queue)
}

// GenerateRandomMessages creates amount unicast messages per particle, each
// addressed to a random other live particle, and stores them at their origin.
func (n *Network) GenerateRandomMessages(particles []*core.Particle, amount, round int) ([]Message, error) {
	all := n.world.ParticleList()
	rng := n.world.Rand()

	var (
		out  []Message
		errs []error
	)
	for _, p := range particles {
		if !p.Alive() {
			continue
		}
		others := make([]*core.Particle, 0, len(all))
		for _, o := range all {
			if o.ID() != p.ID() {
				others = append(others, o)
			}
		}
		if len(others) == 0 {
			continue
		}
		delay := 0
		if params, err := n.Routing(p); err == nil {
			delay = params.DeliveryDelay
		}
		for i := 0; i < amount; i++ {
			dst := others[rng.IntN(len(others))]
			m := Message{
				ID:            uuid.New(),
				Origin:        p.ID(),
				Destination:   dst.ID(),
				Payload:       []byte(fmt.Sprintf("message %d from %d to %d", i+1, p.Number(), dst.Number())),
				CreatedRound:  round,
				DeliveryDelay: delay,
				TTL:           n.ttl,
				LastHopRound:  round,
			}
			if err := n.storage.StoreMessage(p.ID(), m); err != nil {
				errs = append(errs, err)
				n.count(EventDropped)
				continue
			}
			n.count(EventGenerated)
			out = append(out, m)
		}
	}
	return out, errors.Join(errs...)
}

// Broadcast stores a broadcast message at origin.
func (n *Network) Broadcast(origin *core.Particle, payload []byte, round int) (Message, error) {
	delay := 0
	if params, err := n.Routing(origin); err == nil {
		delay = params.DeliveryDelay
	}
	m := Message{
		ID:            uuid.New(),
		Origin:        origin.ID(),
		Broadcast:     true,
		Payload:       append([]byte(nil), payload...),
		CreatedRound:  round,
		DeliveryDelay: delay,
		TTL:           n.ttl,
		LastHopRound:  round,
	}
	if err := n.storage.StoreMessage(origin.ID(), m); err != nil {
		n.count(EventDropped)
		return Message{}, err
	}
	n.count(EventGenerated)
	return m, nil
}

// NextStep advances every carried message by at most one hop. Expired
// messages are dropped, messages whose receiver is in range and whose delay
// has elapsed are queued for delivery, the rest are forwarded per the
// carrier's algorithm. Particles without routing parameters are reported and
// skipped.
func (n *Network) NextStep(particles []*core.Particle, round int) error {
	var errs []error
	for _, carrier := range particles {
		if !carrier.Alive() {
			continue
		}
		params, err := n.Routing(carrier)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for range n.storage.EvictExpired(carrier.ID(), round) {
			n.count(EventExpired)
		}

		var inRange []*core.Particle
		for _, o := range carrier.ScanForParticlesWithin(params.ScanRadius) {
			if o.ID() != carrier.ID() {
				inRange = append(inRange, o)
			}
		}

		for _, m := range n.storage.Carried(carrier.ID()) {
			if m.Hops > 0 && m.LastHopRound == round {
				continue
			}
			if m.Broadcast {
				n.queueBroadcast(carrier, m, inRange, round)
			} else if m.Deliverable(round) && (m.Destination == carrier.ID() || containsParticle(inRange, m.Destination)) {
				n.enqueue(Delivery{Message: m, Receiver: m.Destination, Carrier: carrier.ID(), Round: round})
				continue
			}
			n.forward(carrier, params, m, inRange, round)
		}
	}
	n.reportInFlight()
	return errors.Join(errs...)
}

func (n *Network) queueBroadcast(carrier *core.Particle, m Message, inRange []*core.Particle, round int) {
	if !m.Deliverable(round) {
		return
	}
	for _, o := range inRange {
		if o.ID() == m.Origin || n.hasReceived(m.ID, o.ID()) {
			continue
		}
		n.enqueue(Delivery{Message: m, Receiver: o.ID(), Carrier: carrier.ID(), Round: round})
	}
}

func (n *Network) forward(carrier *core.Particle, params RoutingParameters, m Message, inRange []*core.Particle, round int) {
	if params.Algorithm == DirectDelivery {
		return
	}
	candidates := make([]*core.Particle, 0, len(inRange))
	for _, o := range inRange {
		if !n.storage.Holds(o.ID(), m.ID) {
			candidates = append(candidates, o)
		}
	}
	if len(candidates) == 0 {
		return
	}

	switch params.Algorithm {
	case Epidemic:
		for _, o := range candidates {
			n.handOver(o.ID(), m, round)
		}
	case FirstContact:
		o := candidates[n.world.Rand().IntN(len(candidates))]
		if n.handOver(o.ID(), m, round) {
			_, _ = n.storage.RetrieveMessage(carrier.ID(), m.ID)
		}
	}
}

func (n *Network) handOver(to int, m Message, round int) bool {
	if err := n.storage.StoreMessage(to, m.forwarded(round)); err != nil {
		n.count(EventDropped)
		return false
	}
	n.count(EventForwarded)
	return true
}

func (n *Network) enqueue(d Delivery) {
	key := queueKey{id: d.Message.ID, receiver: d.Receiver}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, dup := n.queued[key]; dup {
		return
	}
	n.queued[key] = struct{}{}
	n.queue = append(n.queue, d)
}

func (n *Network) hasReceived(id uuid.UUID, receiver int) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.received[id][receiver]
	return ok
}

// ProcessEventQueue delivers every queued event of the round. Delivered
// unicast messages are purged from all carriers. A failing receipt handler
// does not stop the queue; its errors are joined.
func (n *Network) ProcessEventQueue(ctx context.Context) error {
	n.mu.Lock()
	queue := n.queue
	n.queue = nil
	n.queued = make(map[queueKey]struct{})
	n.mu.Unlock()

	var errs []error
	for _, d := range queue {
		if !n.markDelivered(d) {
			continue
		}
		if n.handler != nil {
			if err := n.handler(ctx, d); err != nil {
				errs = append(errs, fmt.Errorf("deliver %s to particle %d: %w", d.Message.ID, d.Receiver, err))
			}
		}
		if !d.Message.Broadcast {
			n.storage.Purge(d.Message.ID)
		}
		n.count(EventDelivered)
		n.log.Debug(ctx, "message delivered",
			logging.String("message_id", d.Message.ID.String()),
			logging.Int("receiver", d.Receiver),
			logging.Int("hops", d.Message.Hops),
			logging.Int("latency", d.Round-d.Message.CreatedRound),
		)
	}
	n.reportInFlight()
	return errors.Join(errs...)
}

// markDelivered records d and reports whether it is a first delivery.
func (n *Network) markDelivered(d Delivery) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if d.Message.Broadcast {
		got := n.received[d.Message.ID]
		if got == nil {
			got = make(map[int]struct{})
			n.received[d.Message.ID] = got
		}
		if _, ok := got[d.Receiver]; ok {
			return false
		}
		got[d.Receiver] = struct{}{}
	} else {
		if _, ok := n.delivered[d.Message.ID]; ok {
			return false
		}
		n.delivered[d.Message.ID] = struct{}{}
	}
	n.stats.LatencySum += d.Round - d.Message.CreatedRound
	n.stats.HopSum += d.Message.Hops
	return true
}

func (n *Network) count(event string) {
	n.mu.Lock()
	switch event {
	case EventGenerated:
		n.stats.Generated++
	case EventForwarded:
		n.stats.Forwarded++
	case EventDelivered:
		n.stats.Delivered++
	case EventExpired:
		n.stats.Expired++
	case EventDropped:
		n.stats.Dropped++
	}
	n.mu.Unlock()
	if n.recorder != nil {
		n.recorder.IncMessages(event)
	}
}

func (n *Network) reportInFlight() {
	if n.recorder != nil {
		n.recorder.SetMessagesInFlight(n.storage.Total())
	}
}

func containsParticle(ps []*core.Particle, id int) bool {
	for _, p := range ps {
		if p.ID() == id {
			return true
		}
	}
	return false
}
