package routestats

import (
	"math"
	"time"
)

// Window is the trailing window over which the usual-route distribution is
// computed.
const Window = 90 * 24 * time.Hour

// RouteUsage is the per-route slice of a vehicle's distribution.
type RouteUsage struct {
	Count    int       `json:"count"`
	Share    float64   `json:"share"`
	LastSeen time.Time `json:"lastSeen"`
}

// Sample is one per-route count as read from the sighting log.
type Sample struct {
	Route    string
	Count    int
	LastSeen time.Time
}

// Distribution is a vehicle's route-frequency histogram over the trailing
// window. It is the statistical baseline for anomaly scoring and is
// recomputed after every ingested sighting, never cached.
type Distribution struct {
	Routes map[string]RouteUsage `json:"routes,omitempty"`
	Total  int                   `json:"total"`
}

// Calculate builds the distribution from per-route samples. Share is
// count/total rounded to 6 decimals; a zero total yields an empty
// distribution.
func Calculate(samples []Sample) Distribution {
	total := 0
	for _, s := range samples {
		total += s.Count
	}
	if total == 0 {
		return Distribution{Total: 0}
	}

	routes := make(map[string]RouteUsage, len(samples))
	for _, s := range samples {
		if s.Route == "" || s.Count == 0 {
			continue
		}
		routes[s.Route] = RouteUsage{
			Count:    s.Count,
			Share:    roundShare(float64(s.Count) / float64(total)),
			LastSeen: s.LastSeen,
		}
	}

	return Distribution{Routes: routes, Total: total}
}

// Usage returns the usage entry for one route, zero-valued when the route
// was not seen in the window.
func (d Distribution) Usage(route string) RouteUsage {
	if d.Routes == nil {
		return RouteUsage{}
	}
	return d.Routes[route]
}

// Counts returns the full set of per-route counts, the population the
// rare-working z-score is computed against.
func (d Distribution) Counts() []int {
	counts := make([]int, 0, len(d.Routes))
	for _, usage := range d.Routes {
		counts = append(counts, usage.Count)
	}
	return counts
}

func roundShare(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
