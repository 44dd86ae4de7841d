package oppnet

import (
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrStorageFull indicates a carrier has no room for a message.
	ErrStorageFull = errors.New("carrier storage full")
	// ErrMessageNotFound indicates a carrier does not hold the message.
	ErrMessageNotFound = errors.New("message not found")
	// ErrUnknownMode indicates an unrecognised mobility mode or routing
	// algorithm.
	ErrUnknownMode = errors.New("unknown mode")
)

// Message is a store-carry-forward payload. Copies held by different
// carriers share the same ID.
type Message struct {
	ID            uuid.UUID
	Origin        int
	Destination   int // particle id; ignored for broadcasts
	Broadcast     bool
	Payload       []byte
	CreatedRound  int
	DeliveryDelay int
	TTL           int // lifetime in rounds; 0 never expires
	Hops          int
	LastHopRound  int
}

// SizeBytes is the storage footprint of the message.
func (m Message) SizeBytes() int {
	return len(m.Payload)
}

// Expired reports whether the message has outlived its TTL at round.
func (m Message) Expired(round int) bool {
	return m.TTL > 0 && round-m.CreatedRound >= m.TTL
}

// Deliverable reports whether the delivery delay has elapsed at round.
func (m Message) Deliverable(round int) bool {
	return round-m.CreatedRound >= m.DeliveryDelay
}

// forwarded returns the copy a neighbour receives at round.
func (m Message) forwarded(round int) Message {
	c := m
	c.Payload = append([]byte(nil), m.Payload...)
	c.Hops++
	c.LastHopRound = round
	return c
}
