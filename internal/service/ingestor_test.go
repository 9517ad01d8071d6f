package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/routeflow/fleet-tracker/internal/badges"
	"github.com/routeflow/fleet-tracker/internal/db"
	"github.com/routeflow/fleet-tracker/internal/service"
)

func newTestIngestor(store *memStore) *service.Ingestor {
	return service.NewIngestor(store, nil, nil, "", zap.NewNop())
}

func TestIngest_CreatesProfileWithNewBusBadge(t *testing.T) {
	store := newMemStore()
	ingestor := newTestIngestor(store)
	observedAt := time.Now().UTC().Add(-1 * time.Hour)

	result, err := ingestor.Ingest(context.Background(), service.Observation{
		VehicleID:  "lx09 fyt",
		Route:      "43",
		Operator:   "Metroline",
		ObservedAt: observedAt,
	})
	if err != nil {
		t.Fatalf("Failed to ingest: %v", err)
	}

	if !result.Created {
		t.Error("Expected profile to be created")
	}
	profile, ok := store.profiles["LX09FYT"]
	if !ok {
		t.Fatal("Expected profile stored under canonical key LX09FYT")
	}
	if profile.Status != db.StatusActive {
		t.Errorf("Expected default status Active, got %s", profile.Status)
	}
	if profile.HomeOperatorID == nil || profile.CurrentOperatorID == nil {
		t.Fatal("Expected home and current operator set on creation")
	}
	if !containsBadge(result.Badges, badges.BadgeNewBus) {
		t.Errorf("Expected new-bus badge for a first-seen vehicle, got %v", result.Badges)
	}
	if store.eventsOfType("LX09FYT", db.EventProfileCreated) != 1 {
		t.Error("Expected one profile-created event")
	}
}

func TestIngest_MissingIdentifier(t *testing.T) {
	store := newMemStore()
	ingestor := newTestIngestor(store)

	_, err := ingestor.Ingest(context.Background(), service.Observation{Route: "43"})
	var vErr *service.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("Expected validation error, got %v", err)
	}
}

func TestIngest_IdempotentOnRepeatObservation(t *testing.T) {
	store := newMemStore()
	ingestor := newTestIngestor(store)
	observedAt := time.Now().UTC().Add(-1 * time.Hour)
	obs := service.Observation{VehicleID: "LX09FYT", Route: "43", ObservedAt: observedAt}

	if _, err := ingestor.Ingest(context.Background(), obs); err != nil {
		t.Fatalf("Failed to ingest: %v", err)
	}
	result, err := ingestor.Ingest(context.Background(), obs)
	if err != nil {
		t.Fatalf("Failed to re-ingest: %v", err)
	}

	if len(store.sightings["LX09FYT"]) != 1 {
		t.Errorf("Expected a single sighting after repeat, got %d", len(store.sightings["LX09FYT"]))
	}
	if result.Distribution.Total != 1 {
		t.Errorf("Expected distribution total 1, got %d", result.Distribution.Total)
	}
}

func TestIngest_BackfillKeepsSeenRangeOrdered(t *testing.T) {
	store := newMemStore()
	ingestor := newTestIngestor(store)
	newer := time.Now().UTC().Add(-1 * time.Hour)
	older := newer.Add(-24 * time.Hour)

	if _, err := ingestor.Ingest(context.Background(), service.Observation{VehicleID: "LX09FYT", Route: "43", ObservedAt: newer}); err != nil {
		t.Fatalf("Failed to ingest: %v", err)
	}
	if _, err := ingestor.Ingest(context.Background(), service.Observation{VehicleID: "LX09FYT", Route: "43", ObservedAt: older}); err != nil {
		t.Fatalf("Failed to ingest backfill: %v", err)
	}

	profile := store.profiles["LX09FYT"]
	if !profile.FirstSeen.Equal(older) {
		t.Errorf("Expected first seen %v, got %v", older, profile.FirstSeen)
	}
	if !profile.LastSeen.Equal(newer) {
		t.Errorf("Expected last seen %v, got %v", newer, profile.LastSeen)
	}
}

func TestIngest_FutureTimestampClamped(t *testing.T) {
	store := newMemStore()
	ingestor := newTestIngestor(store)
	future := time.Now().UTC().Add(1 * time.Hour)

	result, err := ingestor.Ingest(context.Background(), service.Observation{VehicleID: "LX09FYT", ObservedAt: future})
	if err != nil {
		t.Fatalf("Failed to ingest: %v", err)
	}

	if !result.Sighting.ObservedAt.Before(future) {
		t.Errorf("Expected far-future timestamp clamped to now, got %v", result.Sighting.ObservedAt)
	}
}

func TestIngest_RareRouteTriggersOnce(t *testing.T) {
	store := newMemStore()
	ingestor := newTestIngestor(store)
	base := time.Now().UTC().Add(-48 * time.Hour)

	for i := 0; i < 150; i++ {
		obs := service.Observation{VehicleID: "LX09FYT", Route: "43", ObservedAt: base.Add(time.Duration(i) * time.Minute)}
		if _, err := ingestor.Ingest(context.Background(), obs); err != nil {
			t.Fatalf("Failed to ingest sighting %d: %v", i, err)
		}
	}

	rareAt := base.Add(200 * time.Minute)
	result, err := ingestor.Ingest(context.Background(), service.Observation{VehicleID: "LX09FYT", Route: "999", ObservedAt: rareAt})
	if err != nil {
		t.Fatalf("Failed to ingest rare sighting: %v", err)
	}

	if !result.Rare.Triggered || !result.Rare.Fresh {
		t.Fatalf("Expected fresh rare-working trigger, got %+v", result.Rare)
	}
	if result.Rare.Reason != badges.ReasonLowShare {
		t.Errorf("Expected low-share reason, got %q", result.Rare.Reason)
	}
	if !containsBadge(result.Badges, badges.BadgeRareWorking) {
		t.Errorf("Expected rare-working badge, got %v", result.Badges)
	}
	if store.eventsOfType("LX09FYT", db.EventRareWorking) != 1 {
		t.Error("Expected one rare-working history event")
	}

	// A second rare sighting inside the decay window keeps the badge but
	// records no further event.
	result, err = ingestor.Ingest(context.Background(), service.Observation{VehicleID: "LX09FYT", Route: "999", ObservedAt: rareAt.Add(10 * time.Minute)})
	if err != nil {
		t.Fatalf("Failed to ingest follow-up: %v", err)
	}
	if !containsBadge(result.Badges, badges.BadgeRareWorking) {
		t.Errorf("Expected badge to persist through the decay window, got %v", result.Badges)
	}
	if store.eventsOfType("LX09FYT", db.EventRareWorking) != 1 {
		t.Error("Expected no additional rare-working event inside the decay window")
	}
}

func TestIngest_OperatorLoan(t *testing.T) {
	store := newMemStore()
	ingestor := newTestIngestor(store)
	base := time.Now().UTC().Add(-2 * time.Hour)

	if _, err := ingestor.Ingest(context.Background(), service.Observation{VehicleID: "LX09FYT", Route: "43", Operator: "Metroline", ObservedAt: base}); err != nil {
		t.Fatalf("Failed to ingest: %v", err)
	}

	if _, err := ingestor.Ingest(context.Background(), service.Observation{VehicleID: "LX09FYT", Route: "43", Operator: "Arriva", ObservedAt: base.Add(10 * time.Minute)}); err != nil {
		t.Fatalf("Failed to ingest first mismatch: %v", err)
	}
	if store.eventsOfType("LX09FYT", db.EventOperatorUpdated) != 1 {
		t.Error("Expected operator-updated event on the first mismatch")
	}

	result, err := ingestor.Ingest(context.Background(), service.Observation{VehicleID: "LX09FYT", Route: "43", Operator: "Arriva", ObservedAt: base.Add(20 * time.Minute)})
	if err != nil {
		t.Fatalf("Failed to ingest second mismatch: %v", err)
	}

	if !result.Rare.OperatorLoan {
		t.Fatal("Expected operator-loan flag after two mismatched sightings")
	}
	if !containsBadge(result.Badges, badges.BadgeOperatorLoan) {
		t.Errorf("Expected operator-loan badge, got %v", result.Badges)
	}

	// Home operator is immutable.
	profile := store.profiles["LX09FYT"]
	home := store.operators["metroline"]
	if profile.HomeOperatorID == nil || *profile.HomeOperatorID != home.ID {
		t.Error("Expected home operator to remain the first resolved operator")
	}
}

func TestIngest_WithdrawnStatus(t *testing.T) {
	store := newMemStore()
	ingestor := newTestIngestor(store)
	base := time.Now().UTC().Add(-1 * time.Hour)

	if _, err := ingestor.Ingest(context.Background(), service.Observation{VehicleID: "LX09FYT", Route: "43", ObservedAt: base}); err != nil {
		t.Fatalf("Failed to ingest: %v", err)
	}

	result, err := ingestor.Ingest(context.Background(), service.Observation{VehicleID: "LX09FYT", Status: "Withdrawn", ObservedAt: base.Add(time.Minute)})
	if err != nil {
		t.Fatalf("Failed to ingest status change: %v", err)
	}

	if !containsBadge(result.Badges, badges.BadgeWithdrawn) {
		t.Errorf("Expected withdrawn badge, got %v", result.Badges)
	}
	if store.eventsOfType("LX09FYT", db.EventStatusUpdated) != 1 {
		t.Error("Expected one status-updated event")
	}
}

func TestIngest_EmptyFieldNeverClearsProfile(t *testing.T) {
	store := newMemStore()
	ingestor := newTestIngestor(store)
	base := time.Now().UTC().Add(-1 * time.Hour)

	if _, err := ingestor.Ingest(context.Background(), service.Observation{VehicleID: "LX09FYT", Route: "43", FleetNumber: "VW1203", ObservedAt: base}); err != nil {
		t.Fatalf("Failed to ingest: %v", err)
	}
	if _, err := ingestor.Ingest(context.Background(), service.Observation{VehicleID: "LX09FYT", ObservedAt: base.Add(time.Minute)}); err != nil {
		t.Fatalf("Failed to ingest sparse observation: %v", err)
	}

	profile := store.profiles["LX09FYT"]
	if profile.CurrentRoute != "43" {
		t.Errorf("Expected route preserved, got %q", profile.CurrentRoute)
	}
	if profile.FleetNumber != "VW1203" {
		t.Errorf("Expected fleet number preserved, got %q", profile.FleetNumber)
	}
}

func TestIngest_SpeedEstimate(t *testing.T) {
	store := newMemStore()
	ingestor := newTestIngestor(store)
	base := time.Now().UTC().Add(-1 * time.Hour)

	lat1, lon1 := 51.5080, -0.1281
	lat2, lon2 := 51.5101, -0.1340

	if _, err := ingestor.Ingest(context.Background(), service.Observation{VehicleID: "LX09FYT", Latitude: &lat1, Longitude: &lon1, ObservedAt: base}); err != nil {
		t.Fatalf("Failed to ingest: %v", err)
	}
	result, err := ingestor.Ingest(context.Background(), service.Observation{VehicleID: "LX09FYT", Latitude: &lat2, Longitude: &lon2, ObservedAt: base.Add(2 * time.Minute)})
	if err != nil {
		t.Fatalf("Failed to ingest: %v", err)
	}

	if result.SpeedKPH == nil {
		t.Fatal("Expected a speed estimate with two positioned sightings")
	}
	if *result.SpeedKPH <= 0 || *result.SpeedKPH > 100 {
		t.Errorf("Expected a plausible speed, got %f", *result.SpeedKPH)
	}
}

func TestIngest_PinnedOverrideForcesBadge(t *testing.T) {
	store := newMemStore()
	ingestor := newTestIngestor(store)
	base := time.Now().UTC().Add(-1 * time.Hour)

	if _, err := ingestor.Ingest(context.Background(), service.Observation{VehicleID: "LX09FYT", Route: "43", ObservedAt: base}); err != nil {
		t.Fatalf("Failed to ingest: %v", err)
	}

	profile := store.profiles["LX09FYT"]
	profile.Overrides = map[string]db.BadgeOverride{
		badges.BadgeRareWorking: {Pinned: true},
	}
	store.profiles["LX09FYT"] = profile

	result, err := ingestor.Ingest(context.Background(), service.Observation{VehicleID: "LX09FYT", Route: "43", ObservedAt: base.Add(time.Minute)})
	if err != nil {
		t.Fatalf("Failed to ingest: %v", err)
	}

	if !containsBadge(result.Badges, badges.BadgeRareWorking) {
		t.Errorf("Expected pinned badge regardless of candidates, got %v", result.Badges)
	}
}

func TestIngestRaw_ArrivalPayload(t *testing.T) {
	store := newMemStore()
	ingestor := newTestIngestor(store)

	body := []byte(`{"vehicleId":"LX09 FYT","lineName":"43","destinationName":"Friern Barnet","expectedArrival":"2026-03-15T10:30:45Z"}`)
	result, err := ingestor.IngestRaw(context.Background(), body)
	if err != nil {
		t.Fatalf("Failed to ingest raw payload: %v", err)
	}

	if result.Sighting.VehicleKey != "LX09FYT" {
		t.Errorf("Expected key LX09FYT, got %q", result.Sighting.VehicleKey)
	}
	expected := time.Date(2026, 3, 15, 10, 30, 45, 0, time.UTC)
	if !result.Sighting.ObservedAt.Equal(expected) {
		t.Errorf("Expected observed at %v, got %v", expected, result.Sighting.ObservedAt)
	}
}

func TestIngestRaw_InvalidJSON(t *testing.T) {
	store := newMemStore()
	ingestor := newTestIngestor(store)

	if _, err := ingestor.IngestRaw(context.Background(), []byte("not json")); err == nil {
		t.Error("Expected error for malformed payload")
	}
}

func containsBadge(set []string, badge string) bool {
	for _, b := range set {
		if b == badge {
			return true
		}
	}
	return false
}
