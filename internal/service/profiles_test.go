package service_test

import (
	"context"
	"testing"

	"github.com/routeflow/fleet-tracker/internal/db"
	"github.com/routeflow/fleet-tracker/internal/service"
)

func TestProfiles_GetUnknown(t *testing.T) {
	profiles := service.NewProfiles(newMemStore())

	profile, err := profiles.Get(context.Background(), "LX09FYT")
	if err != nil {
		t.Fatalf("Failed to get profile: %v", err)
	}
	if profile != nil {
		t.Errorf("Expected nil for an unknown vehicle, got %+v", profile)
	}
}

func TestProfiles_GetNormalizesKey(t *testing.T) {
	store := newMemStore()
	profiles := service.NewProfiles(store)
	seedVehicle(t, store, "LX09FYT")

	profile, err := profiles.Get(context.Background(), " lx09-fyt ")
	if err != nil {
		t.Fatalf("Failed to get profile: %v", err)
	}
	if profile == nil || profile.VehicleKey != "LX09FYT" {
		t.Errorf("Expected profile under canonical key, got %+v", profile)
	}
}

func TestProfiles_History(t *testing.T) {
	store := newMemStore()
	profiles := service.NewProfiles(store)
	seedVehicle(t, store, "LX09FYT")

	events, err := profiles.History(context.Background(), "LX09FYT", 0)
	if err != nil {
		t.Fatalf("Failed to load history: %v", err)
	}
	if len(events) != 1 || events[0].EventType != db.EventProfileCreated {
		t.Errorf("Expected one profile-created event, got %v", events)
	}
}
