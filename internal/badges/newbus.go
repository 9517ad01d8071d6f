package badges

import (
	"time"
)

const (
	primaryNewWindow     = 30 * 24 * time.Hour
	reactivatedNewWindow = 45 * 24 * time.Hour
	defaultNewExpiry     = 45 * 24 * time.Hour
	lowActivityExpiry    = 60 * 24 * time.Hour

	// lowActivityRate is the daily sighting rate (total over the 90-day
	// window / 90) at or below which the expiry is extended.
	lowActivityRate = 0.1
)

// NewBusInput is the state the new-bus evaluator runs against.
type NewBusInput struct {
	Now            time.Time
	FirstSeen      time.Time
	ReactivatedAt  *time.Time
	ExtendedUntil  *time.Time
	TotalSightings int
}

// NewBusResult is the evaluator outcome. ExpiresAt carries the computed
// expiry to persist as the extended-until timer.
type NewBusResult struct {
	IsNew     bool
	Reason    string
	ExpiresAt *time.Time
}

// New-bus reasons.
const (
	ReasonFirstSeen   = "first-seen"
	ReasonReactivated = "reactivated"
	ReasonExtended    = "extended"
)

// EvaluateNewBus runs the new-bus state machine. It distinguishes a
// genuinely new vehicle from one reactivated after storage or maintenance,
// and extends the expiry for infrequently-tracked vehicles so the badge
// does not flap.
func EvaluateNewBus(in NewBusInput) NewBusResult {
	var base time.Time
	var reason string

	switch {
	case !in.FirstSeen.IsZero() && in.Now.Sub(in.FirstSeen) <= primaryNewWindow:
		base = in.FirstSeen
		reason = ReasonFirstSeen
	case in.ReactivatedAt != nil && in.Now.Sub(*in.ReactivatedAt) <= reactivatedNewWindow:
		base = *in.ReactivatedAt
		reason = ReasonReactivated
	case in.ExtendedUntil != nil && in.ExtendedUntil.After(in.Now):
		expiry := *in.ExtendedUntil
		return NewBusResult{IsNew: true, Reason: ReasonExtended, ExpiresAt: &expiry}
	default:
		return NewBusResult{}
	}

	expiry := base.Add(defaultNewExpiry)
	if dailyRate(in.TotalSightings) <= lowActivityRate {
		expiry = base.Add(lowActivityExpiry)
	}
	// Never shrink an existing longer expiry.
	if in.ExtendedUntil != nil && in.ExtendedUntil.After(expiry) {
		expiry = *in.ExtendedUntil
	}

	return NewBusResult{IsNew: true, Reason: reason, ExpiresAt: &expiry}
}

func dailyRate(total int) float64 {
	return float64(total) / 90
}
