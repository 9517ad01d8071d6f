package badges

import (
	"math"
	"time"

	"github.com/routeflow/fleet-tracker/internal/routestats"
)

const (
	// DecayWindow keeps the rare-working badge active after a trigger even
	// between non-triggering sightings.
	DecayWindow = 14 * 24 * time.Hour

	// LoanWindow is the trailing window over which operator-mismatch
	// sightings are counted.
	LoanWindow = 45 * time.Minute

	lowShareThreshold  = 0.01
	lowCountThreshold  = 3
	zScoreThreshold    = -2.5
	loanSightingsFloor = 2
)

// Rare-working trigger reasons.
const (
	ReasonLowShare     = "low-share"
	ReasonZScore       = "z-score"
	ReasonOperatorLoan = "operator-loan"
)

// RareInput is the state the rare-working evaluator runs against.
type RareInput struct {
	Now          time.Time
	Distribution routestats.Distribution
	Route        string

	// OperatorMismatch is true when the current operator differs from the
	// vehicle's home operator; MismatchCount is the number of sightings
	// under the mismatched operator within the trailing loan window.
	OperatorMismatch bool
	MismatchCount    int

	SuppressedUntil *time.Time
	DecayAt         *time.Time
	Diverted        bool
}

// RareScore is the computed statistical snapshot for the current route.
type RareScore struct {
	Share  float64
	Count  int
	ZScore float64
}

// RareResult is the evaluator outcome. Triggered means the trigger
// conditions held on this evaluation; Fresh additionally means no decay
// window was already active, which is what warrants a history event.
// Active reflects the decay-window semantics.
type RareResult struct {
	Triggered    bool
	Fresh        bool
	Active       bool
	Reason       string
	OperatorLoan bool
	Score        RareScore
	DecayAt      *time.Time
}

// EvaluateRare scores the current route against the vehicle's usual-route
// distribution and applies the trigger, suppression and decay rules.
func EvaluateRare(in RareInput) RareResult {
	usage := in.Distribution.Usage(in.Route)
	score := RareScore{
		Share:  usage.Share,
		Count:  usage.Count,
		ZScore: zScore(usage.Count, in.Distribution),
	}

	res := RareResult{Score: score, DecayAt: in.DecayAt}
	wasActive := in.DecayAt != nil && in.DecayAt.After(in.Now)

	// A manual suppression window silences the badge entirely.
	if in.SuppressedUntil != nil && in.SuppressedUntil.After(in.Now) {
		return res
	}

	reason := ""
	if in.Route != "" {
		if score.Share < lowShareThreshold && score.Count < lowCountThreshold {
			reason = ReasonLowShare
		} else if score.ZScore < zScoreThreshold {
			reason = ReasonZScore
		}
	}

	loan := in.OperatorMismatch && in.MismatchCount >= loanSightingsFloor
	if loan {
		// The loan reason takes precedence over the route-based reason;
		// both flags coexist.
		reason = ReasonOperatorLoan
	}
	res.OperatorLoan = loan

	// A planned diversion on the route blocks new triggers but does not
	// cut short an already-running decay window.
	if in.Diverted {
		res.Active = wasActive
		return res
	}

	if reason != "" {
		decay := in.Now.Add(DecayWindow)
		res.Triggered = true
		res.Fresh = !wasActive
		res.Active = true
		res.Reason = reason
		res.DecayAt = &decay
		return res
	}

	res.Active = wasActive
	return res
}

// zScore computes the z-score of count against the full set of per-route
// counts using the population standard deviation. A single-route sample has
// no defined deviation, so a ratio of count to total stands in; a zero
// deviation falls back to the ratio of the target to the mean.
func zScore(count int, dist routestats.Distribution) float64 {
	counts := dist.Counts()
	if len(counts) == 0 {
		return 0
	}
	if len(counts) == 1 {
		if dist.Total == 0 {
			return 0
		}
		return float64(count) / float64(dist.Total)
	}

	sum := 0
	for _, c := range counts {
		sum += c
	}
	mean := float64(sum) / float64(len(counts))

	variance := 0.0
	for _, c := range counts {
		d := float64(c) - mean
		variance += d * d
	}
	variance /= float64(len(counts))
	stddev := math.Sqrt(variance)

	if stddev == 0 {
		if mean == 0 {
			return 0
		}
		return float64(count) / mean
	}

	return (float64(count) - mean) / stddev
}
