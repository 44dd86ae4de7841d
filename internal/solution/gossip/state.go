package gossip

import (
	"math"
	"math/rand/v2"

	"github.com/signalsfoundry/swarm-simulator/model"
)

const (
	DefaultAgingFactor = 0.1
	DefaultMinRounds   = 140

	initialVersion = 1
	masterVersion  = 2
)

// State is the per-particle push-sum record. Sum carries the mass that is
// conserved by every exchange; ParticleCount is the estimate derived from it.
// Current* hold the values seen in the latest exchange, Min, Max and Average
// their exponentially aged counterparts.
type State struct {
	Sum           float64
	ParticleCount int
	VersionNumber int

	CurrentMin     float64
	CurrentMax     float64
	CurrentAverage float64

	Min     float64
	Max     float64
	Average float64

	ActualRound int
	MinRounds   int

	BroadcastMasterEstimate int
}

// NewState returns the state every particle starts with.
func NewState(minRounds int) *State {
	if minRounds <= 0 {
		minRounds = DefaultMinRounds
	}
	return &State{
		VersionNumber:           initialVersion,
		CurrentMax:              1,
		CurrentAverage:          1,
		Max:                     1,
		Average:                 1,
		MinRounds:               minRounds,
		BroadcastMasterEstimate: 1,
	}
}

// MakeMaster turns s into the initial mass holder of the first epoch.
func (s *State) MakeMaster() {
	s.Sum = 1
	s.VersionNumber = masterVersion
}

// Stable reports whether the aged extremes have settled around both the aged
// average and the current estimate, and the particle has taken part in at
// least MinRounds exchanges since its last reset.
func (s *State) Stable(alpha float64) bool {
	if s.ActualRound < s.MinRounds {
		return false
	}
	avgTol := math.Ceil(s.Average * alpha / 2)
	count := float64(s.ParticleCount)
	countTol := math.Ceil(count * alpha / 2)
	return math.Abs(s.Max-s.Average) < avgTol &&
		math.Abs(s.Min-s.Average) < avgTol &&
		math.Abs(s.Max-count) < countTol &&
		math.Abs(s.Min-count) < countTol
}

// Reanchor starts a new epoch with s as its single mass holder. The epoch
// number grows by a random step in [1, max(1, round(Average))].
func (s *State) Reanchor(rng *rand.Rand) {
	s.BroadcastMasterEstimate = s.ParticleCount
	s.Sum = 1
	s.ParticleCount = 1
	s.CurrentMin = 1
	s.CurrentMax = 1
	s.CurrentAverage = 1
	step := max(1, int(math.Round(s.Average)))
	s.VersionNumber += 1 + rng.IntN(step)
	s.ActualRound = 0
}

// Adopt resets s into the epoch of winner. The broadcast estimate is only
// taken over once s has run for half its minimum rounds.
func (s *State) Adopt(winner *State) {
	s.Sum = 0
	s.ParticleCount = 0
	s.CurrentMin = 0
	s.CurrentMax = 1
	s.CurrentAverage = 1
	s.VersionNumber = winner.VersionNumber
	if float64(s.ActualRound) >= float64(s.MinRounds)/2 {
		s.BroadcastMasterEstimate = winner.BroadcastMasterEstimate
	}
	s.MinRounds = winner.MinRounds
	s.ActualRound = 0
}

// age folds the current values into the aged ones.
func (s *State) age(alpha float64) {
	s.Min = (1-alpha)*s.Min + alpha*s.CurrentMin
	s.Max = (1-alpha)*s.Max + alpha*s.CurrentMax
	s.Average = (1-alpha)*s.Average + alpha*s.CurrentAverage
}

// maxEstimate caps the estimate of a sum too small to invert into an int.
const maxEstimate = math.MaxInt32

// estimate returns round(1/sum), 0 for a sum without mass and maxEstimate
// when the inverse does not fit.
func estimate(sum float64) int {
	if !(sum > 0) {
		return 0
	}
	inv := math.Round(1 / sum)
	if inv > maxEstimate {
		return maxEstimate
	}
	return int(inv)
}

// Exchange performs one push-sum step between a and b. Both end with the
// mean of their sums, the estimate round(1/sum), current values taken from
// the two estimates, and freshly aged values. The caller checks that both
// are in the same epoch and hold mass.
func Exchange(a, b *State, alpha float64) {
	sum := (a.Sum + b.Sum) / 2
	a.Sum, b.Sum = sum, sum

	count := estimate(sum)
	a.ParticleCount, b.ParticleCount = count, count

	lo := float64(min(a.ParticleCount, b.ParticleCount))
	hi := float64(max(a.ParticleCount, b.ParticleCount))
	avg := float64(a.ParticleCount+b.ParticleCount) / 2
	for _, s := range []*State{a, b} {
		s.CurrentMin, s.CurrentMax, s.CurrentAverage = lo, hi, avg
		s.age(alpha)
	}
}

// Outcome reports what one interaction did.
type Outcome struct {
	Reanchored bool
	Adopted    bool // one side switched epochs
	Exchanged  bool
}

// Interact runs a full picker/partner interaction: the stability test on the
// picker, epoch reconciliation, then the exchange when both share an epoch
// and at least one holds mass.
func Interact(picker, partner *State, alpha float64, rng *rand.Rand) Outcome {
	var out Outcome
	if picker.Stable(alpha) {
		picker.Reanchor(rng)
		out.Reanchored = true
	}

	switch {
	case picker.VersionNumber < partner.VersionNumber:
		picker.Adopt(partner)
		out.Adopted = true
	case picker.VersionNumber > partner.VersionNumber:
		partner.Adopt(picker)
		out.Adopted = true
	}

	if picker.VersionNumber == partner.VersionNumber && (picker.Sum != 0 || partner.Sum != 0) {
		Exchange(picker, partner, alpha)
		picker.ActualRound++
		out.Exchanged = true
	}
	return out
}

// ColorFor maps an estimate to its display band.
func ColorFor(count int) model.Color {
	switch {
	case count >= 200:
		return model.Yellow
	case count >= 100:
		return model.Blue
	case count >= 50:
		return model.Green
	case count >= 20:
		return model.Red
	case count >= 10:
		return model.Gray
	default:
		return model.Black
	}
}
