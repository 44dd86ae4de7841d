package oppnet

import (
	"fmt"
	"strings"
)

// Algorithm is the forwarding discipline of a carrier.
type Algorithm int

const (
	// Epidemic copies every message to every carrier in range.
	Epidemic Algorithm = iota
	// FirstContact hands each message to one random carrier in range.
	FirstContact
	// DirectDelivery never forwards; only the origin delivers.
	DirectDelivery
)

var algorithmNames = map[Algorithm]string{
	Epidemic:       "epidemic",
	FirstContact:   "first_contact",
	DirectDelivery: "direct_delivery",
}

// ParseAlgorithm maps a configuration string to an Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	n := strings.ToLower(strings.TrimSpace(s))
	for a, name := range algorithmNames {
		if name == n {
			return a, nil
		}
	}
	return 0, fmt.Errorf("%w: routing algorithm %q", ErrUnknownMode, s)
}

func (a Algorithm) String() string {
	if n, ok := algorithmNames[a]; ok {
		return n
	}
	return fmt.Sprintf("Algorithm(%d)", int(a))
}

// RoutingParameters configure one particle's routing behaviour.
type RoutingParameters struct {
	Algorithm     Algorithm
	ScanRadius    int
	DeliveryDelay int
}

// Validate checks the parameters before they are bound to a particle.
func (p RoutingParameters) Validate() error {
	if _, ok := algorithmNames[p.Algorithm]; !ok {
		return fmt.Errorf("%w: routing algorithm %d", ErrUnknownMode, int(p.Algorithm))
	}
	if p.ScanRadius < 0 {
		return fmt.Errorf("scan radius must be >= 0, got %d", p.ScanRadius)
	}
	if p.DeliveryDelay < 0 {
		return fmt.Errorf("delivery delay must be >= 0, got %d", p.DeliveryDelay)
	}
	return nil
}
