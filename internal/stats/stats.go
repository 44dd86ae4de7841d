// Package stats keeps the run-scoped history of population estimates and
// derives per-round and end-of-run summaries from it.
package stats

import (
	"math"
	"sort"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/signalsfoundry/swarm-simulator/model"
)

// RoundSummary aggregates the per-particle estimates of one round.
type RoundSummary struct {
	Round         int     `json:"round"`
	Actual        int     `json:"actual"` // live particles
	Mean          float64 `json:"mean"`
	Min           float64 `json:"min"`
	Max           float64 `json:"max"`
	StdDev        float64 `json:"std_dev"`
	StdDevPercent float64 `json:"std_dev_percent"` // StdDev relative to Mean
	MeanAverage   float64 `json:"mean_average"`    // mean of the aged averages
	MeanBroadcast float64 `json:"mean_broadcast"`  // mean of the broadcast master estimates
}

// SummarizeRound reduces one round's samples. counts, averages and
// broadcasts hold one value per live particle.
func SummarizeRound(round, actual int, counts, averages, broadcasts []float64) RoundSummary {
	s := RoundSummary{Round: round, Actual: actual}
	if len(counts) == 0 {
		return s
	}
	s.Mean, s.StdDev = stat.PopMeanStdDev(counts, nil)
	s.Min = floats.Min(counts)
	s.Max = floats.Max(counts)
	if s.Mean != 0 {
		s.StdDevPercent = s.StdDev / s.Mean * 100
	}
	if len(averages) > 0 {
		s.MeanAverage = stat.Mean(averages, nil)
	}
	if len(broadcasts) > 0 {
		s.MeanBroadcast = stat.Mean(broadcasts, nil)
	}
	return s
}

// RunSummary is the end-of-run report.
type RunSummary struct {
	Rounds            int     `json:"rounds"`
	Particles         int     `json:"particles"`
	MeanEstimate      float64 `json:"mean_estimate"`
	AbsoluteDeviation float64 `json:"absolute_deviation"`
	RelativeDeviation float64 `json:"relative_deviation_percent"`
	MinAllTime        float64 `json:"min_all_time"`
	MaxAllTime        float64 `json:"max_all_time"`
	MinLastRound      float64 `json:"min_last_round"`
	MaxLastRound      float64 `json:"max_last_round"`
	StdDevLastRound   float64 `json:"std_dev_last_round"`
	RelativeStdDev    float64 `json:"relative_std_dev_percent"`
	Exchanges         int     `json:"exchanges"`
	ExchangesPerNode  float64 `json:"exchanges_per_node"`
	HeatMean          float64 `json:"heat_mean"`
	HeatStdDev        float64 `json:"heat_std_dev"`
	HeatStdDevPercent float64 `json:"heat_std_dev_percent"`
}

// History records round summaries and the exchange heat map of one run. It is
// safe for concurrent readers while the engine appends.
type History struct {
	mu        sync.RWMutex
	rounds    []RoundSummary
	heat      map[model.Coord]int
	exchanges int
}

func NewHistory() *History {
	return &History{heat: make(map[model.Coord]int)}
}

// Record appends a round summary.
func (h *History) Record(s RoundSummary) {
	h.mu.Lock()
	h.rounds = append(h.rounds, s)
	h.mu.Unlock()
}

// Rounds returns a copy of the recorded summaries.
func (h *History) Rounds() []RoundSummary {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]RoundSummary(nil), h.rounds...)
}

// Last returns the most recent summary.
func (h *History) Last() (RoundSummary, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.rounds) == 0 {
		return RoundSummary{}, false
	}
	return h.rounds[len(h.rounds)-1], true
}

// AddExchange counts one pairwise exchange between particles at a and b.
func (h *History) AddExchange(a, b model.Coord) {
	h.mu.Lock()
	h.exchanges++
	h.heat[a]++
	h.heat[b]++
	h.mu.Unlock()
}

func (h *History) Exchanges() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.exchanges
}

// HeatMap returns a copy of the per-coordinate exchange counts.
func (h *History) HeatMap() map[model.Coord]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[model.Coord]int, len(h.heat))
	for c, n := range h.heat {
		out[c] = n
	}
	return out
}

// Summarize builds the end-of-run report from everything recorded so far.
func (h *History) Summarize() RunSummary {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out RunSummary
	out.Rounds = len(h.rounds)
	out.Exchanges = h.exchanges
	if len(h.rounds) > 0 {
		last := h.rounds[len(h.rounds)-1]
		out.Particles = last.Actual
		out.MeanEstimate = last.Mean
		out.MinLastRound = last.Min
		out.MaxLastRound = last.Max
		out.StdDevLastRound = last.StdDev
		if last.Mean != 0 {
			out.RelativeStdDev = last.StdDev / last.Mean * 100
		}
		out.AbsoluteDeviation = last.Mean - float64(last.Actual)
		if last.Actual > 0 {
			out.RelativeDeviation = (last.Mean/float64(last.Actual) - 1) * 100
			out.ExchangesPerNode = float64(h.exchanges) / float64(last.Actual)
		}

		mins := make([]float64, len(h.rounds))
		maxs := make([]float64, len(h.rounds))
		for i, r := range h.rounds {
			mins[i] = r.Min
			maxs[i] = r.Max
		}
		out.MinAllTime = floats.Min(mins)
		out.MaxAllTime = floats.Max(maxs)
	}

	if len(h.heat) > 0 {
		coords := make([]model.Coord, 0, len(h.heat))
		for c := range h.heat {
			coords = append(coords, c)
		}
		sort.Slice(coords, func(i, j int) bool {
			if coords[i].R != coords[j].R {
				return coords[i].R < coords[j].R
			}
			return coords[i].Q < coords[j].Q
		})
		counts := make([]float64, len(coords))
		for i, c := range coords {
			counts[i] = float64(h.heat[c])
		}
		out.HeatMean, out.HeatStdDev = stat.PopMeanStdDev(counts, nil)
		if out.HeatMean != 0 {
			out.HeatStdDevPercent = out.HeatStdDev / out.HeatMean * 100
		}
	}
	if math.IsNaN(out.HeatStdDev) {
		out.HeatStdDev = 0
	}
	return out
}
