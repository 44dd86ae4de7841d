// Package solution maps solution names to constructors for the CLI.
package solution

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/signalsfoundry/swarm-simulator/core"
	"github.com/signalsfoundry/swarm-simulator/internal/oppnet"
	"github.com/signalsfoundry/swarm-simulator/internal/solution/bottleneck"
	"github.com/signalsfoundry/swarm-simulator/internal/solution/gossip"
	"github.com/signalsfoundry/swarm-simulator/internal/solution/scanning"
)

var ErrUnknownSolution = errors.New("unknown solution")

// Options carries the settings every constructor may draw from.
type Options struct {
	Gossip        gossip.Config
	GossipOptions []gossip.Option

	Bottleneck     bottleneck.Config
	NetworkOptions []oppnet.Option

	ScanRadius int
}

type factory struct {
	description string
	build       func(Options) core.Solution
}

var factories = map[string]factory{
	"gossip": {
		description: "push-sum population estimator with epoch re-anchoring",
		build: func(o Options) core.Solution {
			return gossip.New(o.Gossip, o.GossipOptions...)
		},
	},
	"scanning": {
		description: "scans the neighbourhood of the particle at the origin",
		build: func(o Options) core.Solution {
			return scanning.New(o.ScanRadius)
		},
	},
	"bottleneck": {
		description: "opportunistic routing of edge traffic through a moving swarm",
		build: func(o Options) core.Solution {
			return bottleneck.New(o.Bottleneck, o.NetworkOptions...)
		},
	},
}

// Names returns the registered solution names in sorted order.
func Names() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func Describe(name string) string {
	return factories[strings.ToLower(name)].description
}

// New builds the named solution.
func New(name string, o Options) (core.Solution, error) {
	f, ok := factories[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownSolution, name, strings.Join(Names(), ", "))
	}
	return f.build(o), nil
}
