package service_test

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/routeflow/fleet-tracker/internal/db"
	"github.com/routeflow/fleet-tracker/internal/service"
)

// memStore is an in-memory Store for tests. It applies writes eagerly, which
// is fine for the success paths the tests exercise.
type memStore struct {
	profiles  map[string]db.VehicleProfile
	operators map[string]db.Operator
	sightings map[string]map[time.Time]db.Sighting
	events    []db.HistoryEvent
	requests  map[uuid.UUID]db.EditRequest
}

func newMemStore() *memStore {
	return &memStore{
		profiles:  make(map[string]db.VehicleProfile),
		operators: make(map[string]db.Operator),
		sightings: make(map[string]map[time.Time]db.Sighting),
		requests:  make(map[uuid.UUID]db.EditRequest),
	}
}

func (s *memStore) InTx(ctx context.Context, fn func(ops service.StoreOps) error) error {
	return fn(s)
}

func copyProfile(p db.VehicleProfile) db.VehicleProfile {
	overrides := make(map[string]db.BadgeOverride, len(p.Overrides))
	for k, v := range p.Overrides {
		overrides[k] = v
	}
	p.Overrides = overrides
	p.Badges = append([]string(nil), p.Badges...)
	return p
}

func (s *memStore) GetProfile(ctx context.Context, vehicleKey string) (*db.VehicleProfile, error) {
	p, ok := s.profiles[vehicleKey]
	if !ok {
		return nil, nil
	}
	cp := copyProfile(p)
	return &cp, nil
}

func (s *memStore) CreateProfile(ctx context.Context, profile *db.VehicleProfile) error {
	s.profiles[profile.VehicleKey] = copyProfile(*profile)
	return nil
}

func (s *memStore) UpdateProfile(ctx context.Context, profile *db.VehicleProfile) error {
	s.profiles[profile.VehicleKey] = copyProfile(*profile)
	return nil
}

func (s *memStore) GetOrCreateOperator(ctx context.Context, name string) (*db.Operator, error) {
	key := strings.ToLower(name)
	if op, ok := s.operators[key]; ok {
		cp := op
		return &cp, nil
	}
	op := db.Operator{ID: uuid.New(), Name: name, CreatedAt: time.Now().UTC()}
	s.operators[key] = op
	cp := op
	return &cp, nil
}

func (s *memStore) UpsertSighting(ctx context.Context, sighting *db.Sighting) error {
	byTime, ok := s.sightings[sighting.VehicleKey]
	if !ok {
		byTime = make(map[time.Time]db.Sighting)
		s.sightings[sighting.VehicleKey] = byTime
	}
	// Identity is (vehicle key, observed at); a repeat replaces in place.
	byTime[sighting.ObservedAt] = *sighting
	return nil
}

func (s *memStore) LatestSightingBefore(ctx context.Context, vehicleKey string, before time.Time) (*db.Sighting, error) {
	var latest *db.Sighting
	for at, sighting := range s.sightings[vehicleKey] {
		if !at.Before(before) {
			continue
		}
		if latest == nil || at.After(latest.ObservedAt) {
			cp := sighting
			latest = &cp
		}
	}
	return latest, nil
}

func (s *memStore) RouteCountsSince(ctx context.Context, vehicleKey string, since time.Time) ([]db.RouteCount, error) {
	byRoute := make(map[string]*db.RouteCount)
	for at, sighting := range s.sightings[vehicleKey] {
		if at.Before(since) || sighting.Route == "" {
			continue
		}
		rc, ok := byRoute[sighting.Route]
		if !ok {
			rc = &db.RouteCount{Route: sighting.Route}
			byRoute[sighting.Route] = rc
		}
		rc.Count++
		if at.After(rc.LastSeen) {
			rc.LastSeen = at
		}
	}
	out := make([]db.RouteCount, 0, len(byRoute))
	for _, rc := range byRoute {
		out = append(out, *rc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Route < out[j].Route })
	return out, nil
}

func (s *memStore) CountSightingsByOperatorSince(ctx context.Context, vehicleKey string, operatorID uuid.UUID, since time.Time) (int, error) {
	count := 0
	for at, sighting := range s.sightings[vehicleKey] {
		if at.Before(since) {
			continue
		}
		if sighting.OperatorID != nil && *sighting.OperatorID == operatorID {
			count++
		}
	}
	return count, nil
}

func (s *memStore) InsertHistoryEvent(ctx context.Context, event *db.HistoryEvent) error {
	s.events = append(s.events, *event)
	return nil
}

func (s *memStore) ListHistoryEvents(ctx context.Context, vehicleKey string, limit int) ([]db.HistoryEvent, error) {
	var out []db.HistoryEvent
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		if s.events[i].VehicleKey == vehicleKey {
			out = append(out, s.events[i])
		}
	}
	return out, nil
}

func (s *memStore) CreateEditRequest(ctx context.Context, req *db.EditRequest) error {
	s.requests[req.ID] = *req
	return nil
}

func (s *memStore) GetEditRequest(ctx context.Context, id uuid.UUID) (*db.EditRequest, error) {
	req, ok := s.requests[id]
	if !ok {
		return nil, nil
	}
	cp := req
	return &cp, nil
}

func (s *memStore) ListEditRequests(ctx context.Context, status db.EditRequestStatus) ([]db.EditRequest, error) {
	var out []db.EditRequest
	for _, req := range s.requests {
		if status == "" || req.Status == status {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) UpdateEditRequest(ctx context.Context, req *db.EditRequest) error {
	s.requests[req.ID] = *req
	return nil
}

// eventsOfType counts recorded history events of one type for a vehicle.
func (s *memStore) eventsOfType(vehicleKey, eventType string) int {
	count := 0
	for _, event := range s.events {
		if event.VehicleKey == vehicleKey && event.EventType == eventType {
			count++
		}
	}
	return count
}
