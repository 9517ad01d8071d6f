package service

import (
	"context"
	"fmt"

	"github.com/routeflow/fleet-tracker/internal/db"
	"github.com/routeflow/fleet-tracker/internal/normalize"
)

// Profiles exposes read access to vehicle profiles and their history.
type Profiles struct {
	store Store
}

func NewProfiles(store Store) *Profiles {
	return &Profiles{store: store}
}

// Get returns the profile for a registration, nil when unknown.
func (p *Profiles) Get(ctx context.Context, registration string) (*db.VehicleProfile, error) {
	key := normalize.RegKey(registration)
	if key == "" {
		return nil, &ValidationError{Reason: "no resolvable vehicle identifier"}
	}

	var profile *db.VehicleProfile
	err := p.store.InTx(ctx, func(ops StoreOps) error {
		loaded, err := ops.GetProfile(ctx, key)
		if err != nil {
			return fmt.Errorf("failed to load profile: %w", err)
		}
		profile = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// History returns the most recent history events for a registration.
func (p *Profiles) History(ctx context.Context, registration string, limit int) ([]db.HistoryEvent, error) {
	key := normalize.RegKey(registration)
	if key == "" {
		return nil, &ValidationError{Reason: "no resolvable vehicle identifier"}
	}
	if limit <= 0 {
		limit = 100
	}

	var events []db.HistoryEvent
	err := p.store.InTx(ctx, func(ops StoreOps) error {
		loaded, err := ops.ListHistoryEvents(ctx, key, limit)
		if err != nil {
			return fmt.Errorf("failed to load history: %w", err)
		}
		events = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}
