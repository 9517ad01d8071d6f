package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/routeflow/fleet-tracker/internal/db"
)

// StoreOps is the set of persistence operations available inside one
// transaction. Every ingestion runs against a single StoreOps scope and is
// committed or rolled back as a unit.
type StoreOps interface {
	GetProfile(ctx context.Context, vehicleKey string) (*db.VehicleProfile, error)
	CreateProfile(ctx context.Context, profile *db.VehicleProfile) error
	UpdateProfile(ctx context.Context, profile *db.VehicleProfile) error

	GetOrCreateOperator(ctx context.Context, name string) (*db.Operator, error)

	UpsertSighting(ctx context.Context, sighting *db.Sighting) error
	LatestSightingBefore(ctx context.Context, vehicleKey string, before time.Time) (*db.Sighting, error)
	RouteCountsSince(ctx context.Context, vehicleKey string, since time.Time) ([]db.RouteCount, error)
	CountSightingsByOperatorSince(ctx context.Context, vehicleKey string, operatorID uuid.UUID, since time.Time) (int, error)

	InsertHistoryEvent(ctx context.Context, event *db.HistoryEvent) error
	ListHistoryEvents(ctx context.Context, vehicleKey string, limit int) ([]db.HistoryEvent, error)

	CreateEditRequest(ctx context.Context, req *db.EditRequest) error
	GetEditRequest(ctx context.Context, id uuid.UUID) (*db.EditRequest, error)
	ListEditRequests(ctx context.Context, status db.EditRequestStatus) ([]db.EditRequest, error)
	UpdateEditRequest(ctx context.Context, req *db.EditRequest) error
}

// Store opens one transactional scope per call. fn runs against the
// transaction; any error rolls the whole scope back.
type Store interface {
	InTx(ctx context.Context, fn func(ops StoreOps) error) error
}

// ValidationError marks bad or missing required input. It is surfaced to
// the caller and never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}
