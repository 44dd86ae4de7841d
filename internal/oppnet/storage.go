package oppnet

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Storage holds the messages each carrier is carrying. A capacity of 0 means
// unlimited.
type Storage struct {
	mu       sync.Mutex
	capacity int
	carriers map[int]*carrierStore
}

type carrierStore struct {
	used     int
	messages []Message
}

// NewStorage creates per-carrier storage with the given byte capacity.
func NewStorage(capacity int) *Storage {
	return &Storage{
		capacity: capacity,
		carriers: make(map[int]*carrierStore),
	}
}

func (s *Storage) carrierLocked(id int) *carrierStore {
	c, ok := s.carriers[id]
	if !ok {
		c = &carrierStore{}
		s.carriers[id] = c
	}
	return c
}

// StoreMessage adds a message to a carrier. Storing an ID the carrier already
// holds is a no-op.
func (s *Storage) StoreMessage(carrier int, m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.carrierLocked(carrier)
	for _, held := range c.messages {
		if held.ID == m.ID {
			return nil
		}
	}
	if s.capacity > 0 && c.used+m.SizeBytes() > s.capacity {
		return fmt.Errorf("%w: carrier %d holds %d of %d bytes, message needs %d",
			ErrStorageFull, carrier, c.used, s.capacity, m.SizeBytes())
	}
	c.messages = append(c.messages, m)
	c.used += m.SizeBytes()
	return nil
}

// RetrieveMessage removes and returns a message from a carrier.
func (s *Storage) RetrieveMessage(carrier int, id uuid.UUID) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.carriers[carrier]
	if ok {
		for i, m := range c.messages {
			if m.ID == id {
				c.messages = append(c.messages[:i], c.messages[i+1:]...)
				c.used -= m.SizeBytes()
				return m, nil
			}
		}
	}
	return Message{}, fmt.Errorf("%w: %s on carrier %d", ErrMessageNotFound, id, carrier)
}

// Holds reports whether carrier holds a copy of id.
func (s *Storage) Holds(carrier int, id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carriers[carrier]
	if !ok {
		return false
	}
	for _, m := range c.messages {
		if m.ID == id {
			return true
		}
	}
	return false
}

// StorageUsage returns the bytes used by a carrier and the capacity.
func (s *Storage) StorageUsage(carrier int) (used, capacity int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.carriers[carrier]; ok {
		used = c.used
	}
	return used, s.capacity
}

// EvictExpired drops the carrier's messages whose TTL elapsed at round and
// returns them.
func (s *Storage) EvictExpired(carrier int, round int) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.carriers[carrier]
	if !ok {
		return nil
	}
	var evicted []Message
	kept := c.messages[:0]
	for _, m := range c.messages {
		if m.Expired(round) {
			evicted = append(evicted, m)
			c.used -= m.SizeBytes()
			continue
		}
		kept = append(kept, m)
	}
	c.messages = kept
	return evicted
}

// Carried returns a copy of the carrier's messages in arrival order.
func (s *Storage) Carried(carrier int) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carriers[carrier]
	if !ok {
		return nil
	}
	return append([]Message(nil), c.messages...)
}

// Purge removes every copy of id from every carrier and returns how many were
// dropped.
func (s *Storage) Purge(id uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	dropped := 0
	for _, c := range s.carriers {
		kept := c.messages[:0]
		for _, m := range c.messages {
			if m.ID == id {
				c.used -= m.SizeBytes()
				dropped++
				continue
			}
			kept = append(kept, m)
		}
		c.messages = kept
	}
	return dropped
}

// Forget drops a carrier and everything it carries.
func (s *Storage) Forget(carrier int) {
	s.mu.Lock()
	delete(s.carriers, carrier)
	s.mu.Unlock()
}

// Total returns the number of message copies held network-wide.
func (s *Storage) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.carriers {
		n += len(c.messages)
	}
	return n
}
