package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/routeflow/fleet-tracker/internal/db"
	"github.com/routeflow/fleet-tracker/internal/routestats"
	"github.com/routeflow/fleet-tracker/internal/service"
)

// Repository is the pgx-backed implementation of the service store. Every
// ingestion runs against one transaction via InTx.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InTx opens a transaction, runs fn against it, and commits on success.
// Any error rolls the whole scope back.
func (r *Repository) InTx(ctx context.Context, fn func(ops service.StoreOps) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&txOps{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type txOps struct {
	tx pgx.Tx
}

const profileColumns = `
	vehicle_key, registration, fleet_number, status, vehicle_type, wrap,
	first_seen, last_seen, current_route, route_updated_at,
	current_operator_id, home_operator_id,
	usual_routes, badges, overrides, new_bus, rare, rare_score,
	created_at, updated_at
`

// GetProfile loads one profile by its canonical key, nil when unknown.
func (o *txOps) GetProfile(ctx context.Context, vehicleKey string) (*db.VehicleProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM vehicle_profiles WHERE vehicle_key = $1 FOR UPDATE`

	row := o.tx.QueryRow(ctx, query, vehicleKey)
	profile, err := scanProfile(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query profile: %w", err)
	}
	return profile, nil
}

// CreateProfile inserts a new profile row.
func (o *txOps) CreateProfile(ctx context.Context, p *db.VehicleProfile) error {
	query := `
		INSERT INTO vehicle_profiles (` + profileColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`

	args, err := profileArgs(p)
	if err != nil {
		return err
	}
	if _, err := o.tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert profile: %w", err)
	}
	return nil
}

// UpdateProfile rewrites all mutable profile columns. The vehicle key is
// immutable after creation.
func (o *txOps) UpdateProfile(ctx context.Context, p *db.VehicleProfile) error {
	query := `
		UPDATE vehicle_profiles SET
			registration = $2, fleet_number = $3, status = $4, vehicle_type = $5, wrap = $6,
			first_seen = $7, last_seen = $8, current_route = $9, route_updated_at = $10,
			current_operator_id = $11, home_operator_id = $12,
			usual_routes = $13, badges = $14, overrides = $15, new_bus = $16, rare = $17, rare_score = $18,
			created_at = $19, updated_at = $20
		WHERE vehicle_key = $1
	`

	args, err := profileArgs(p)
	if err != nil {
		return err
	}
	if _, err := o.tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	return nil
}

// GetOrCreateOperator resolves an operator identity by name,
// case-insensitively, creating it when unseen.
func (o *txOps) GetOrCreateOperator(ctx context.Context, name string) (*db.Operator, error) {
	query := `SELECT id, name, created_at FROM operators WHERE lower(name) = lower($1)`

	var op db.Operator
	err := o.tx.QueryRow(ctx, query, name).Scan(&op.ID, &op.Name, &op.CreatedAt)
	if err == nil {
		return &op, nil
	}
	if err != pgx.ErrNoRows {
		return nil, fmt.Errorf("failed to query operator: %w", err)
	}

	insert := `
		INSERT INTO operators (id, name, created_at)
		VALUES ($1, $2, $3)
		RETURNING id, name, created_at
	`
	err = o.tx.QueryRow(ctx, insert, uuid.New(), name, time.Now().UTC()).Scan(&op.ID, &op.Name, &op.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create operator: %w", err)
	}
	return &op, nil
}

// UpsertSighting inserts one sighting, idempotently per
// (vehicle key, observed-at instant): a duplicate submission overwrites the
// non-identity fields.
func (o *txOps) UpsertSighting(ctx context.Context, s *db.Sighting) error {
	query := `
		INSERT INTO sightings (
			id, vehicle_key, observed_at, latitude, longitude,
			route, stop_code, destination, operator_id, raw_payload
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (vehicle_key, observed_at) DO UPDATE SET
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			route = EXCLUDED.route,
			stop_code = EXCLUDED.stop_code,
			destination = EXCLUDED.destination,
			operator_id = EXCLUDED.operator_id,
			raw_payload = EXCLUDED.raw_payload
	`

	_, err := o.tx.Exec(ctx, query,
		s.ID, s.VehicleKey, s.ObservedAt, s.Latitude, s.Longitude,
		s.Route, s.StopCode, s.Destination, s.OperatorID, s.RawPayload,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert sighting: %w", err)
	}
	return nil
}

// LatestSightingBefore returns the newest sighting strictly before the
// given instant, nil when there is none.
func (o *txOps) LatestSightingBefore(ctx context.Context, vehicleKey string, before time.Time) (*db.Sighting, error) {
	query := `
		SELECT id, vehicle_key, observed_at, latitude, longitude,
		       route, stop_code, destination, operator_id, raw_payload
		FROM sightings
		WHERE vehicle_key = $1 AND observed_at < $2
		ORDER BY observed_at DESC
		LIMIT 1
	`

	var s db.Sighting
	err := o.tx.QueryRow(ctx, query, vehicleKey, before).Scan(
		&s.ID, &s.VehicleKey, &s.ObservedAt, &s.Latitude, &s.Longitude,
		&s.Route, &s.StopCode, &s.Destination, &s.OperatorID, &s.RawPayload,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest sighting: %w", err)
	}
	return &s, nil
}

// RouteCountsSince returns per-route sighting counts over the trailing
// window, the input to the usual-route distribution.
func (o *txOps) RouteCountsSince(ctx context.Context, vehicleKey string, since time.Time) ([]db.RouteCount, error) {
	query := `
		SELECT route, COUNT(*), MAX(observed_at)
		FROM sightings
		WHERE vehicle_key = $1 AND observed_at >= $2 AND route <> ''
		GROUP BY route
	`

	rows, err := o.tx.Query(ctx, query, vehicleKey, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query route counts: %w", err)
	}
	defer rows.Close()

	var counts []db.RouteCount
	for rows.Next() {
		var c db.RouteCount
		if err := rows.Scan(&c.Route, &c.Count, &c.LastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan route count: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return counts, nil
}

// CountSightingsByOperatorSince counts sightings under one operator within
// a trailing window, used for operator-loan detection.
func (o *txOps) CountSightingsByOperatorSince(ctx context.Context, vehicleKey string, operatorID uuid.UUID, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM sightings
		WHERE vehicle_key = $1 AND operator_id = $2 AND observed_at >= $3
	`

	var count int
	if err := o.tx.QueryRow(ctx, query, vehicleKey, operatorID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count operator sightings: %w", err)
	}
	return count, nil
}

// InsertHistoryEvent appends one audit trail entry. Events are never
// mutated or deleted.
func (o *txOps) InsertHistoryEvent(ctx context.Context, e *db.HistoryEvent) error {
	query := `
		INSERT INTO history_events (id, vehicle_key, event_type, occurred_at, detail)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := o.tx.Exec(ctx, query, e.ID, e.VehicleKey, e.EventType, e.OccurredAt, e.Detail)
	if err != nil {
		return fmt.Errorf("failed to insert history event: %w", err)
	}
	return nil
}

// ListHistoryEvents returns the newest events for a vehicle.
func (o *txOps) ListHistoryEvents(ctx context.Context, vehicleKey string, limit int) ([]db.HistoryEvent, error) {
	query := `
		SELECT id, vehicle_key, event_type, occurred_at, detail
		FROM history_events
		WHERE vehicle_key = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`

	rows, err := o.tx.Query(ctx, query, vehicleKey, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history events: %w", err)
	}
	defer rows.Close()

	var events []db.HistoryEvent
	for rows.Next() {
		var e db.HistoryEvent
		if err := rows.Scan(&e.ID, &e.VehicleKey, &e.EventType, &e.OccurredAt, &e.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan history event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return events, nil
}

// CreateEditRequest inserts a pending edit request.
func (o *txOps) CreateEditRequest(ctx context.Context, req *db.EditRequest) error {
	query := `
		INSERT INTO edit_requests (
			id, vehicle_key, action, badge, notes, status,
			created_by, reviewed_by, created_at, reviewed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := o.tx.Exec(ctx, query,
		req.ID, req.VehicleKey, req.Action, req.Badge, req.Notes, req.Status,
		req.CreatedBy, req.ReviewedBy, req.CreatedAt, req.ReviewedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert edit request: %w", err)
	}
	return nil
}

// GetEditRequest loads one edit request by id, nil when unknown.
func (o *txOps) GetEditRequest(ctx context.Context, id uuid.UUID) (*db.EditRequest, error) {
	query := `
		SELECT id, vehicle_key, action, badge, notes, status,
		       created_by, reviewed_by, created_at, reviewed_at
		FROM edit_requests
		WHERE id = $1
		FOR UPDATE
	`

	var req db.EditRequest
	err := o.tx.QueryRow(ctx, query, id).Scan(
		&req.ID, &req.VehicleKey, &req.Action, &req.Badge, &req.Notes, &req.Status,
		&req.CreatedBy, &req.ReviewedBy, &req.CreatedAt, &req.ReviewedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query edit request: %w", err)
	}
	return &req, nil
}

// ListEditRequests returns requests filtered by status ("" for all),
// newest first.
func (o *txOps) ListEditRequests(ctx context.Context, status db.EditRequestStatus) ([]db.EditRequest, error) {
	query := `
		SELECT id, vehicle_key, action, badge, notes, status,
		       created_by, reviewed_by, created_at, reviewed_at
		FROM edit_requests
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
	`

	rows, err := o.tx.Query(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to query edit requests: %w", err)
	}
	defer rows.Close()

	var reqs []db.EditRequest
	for rows.Next() {
		var req db.EditRequest
		if err := rows.Scan(
			&req.ID, &req.VehicleKey, &req.Action, &req.Badge, &req.Notes, &req.Status,
			&req.CreatedBy, &req.ReviewedBy, &req.CreatedAt, &req.ReviewedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan edit request: %w", err)
		}
		reqs = append(reqs, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return reqs, nil
}

// UpdateEditRequest rewrites the review fields of one request.
func (o *txOps) UpdateEditRequest(ctx context.Context, req *db.EditRequest) error {
	query := `
		UPDATE edit_requests
		SET status = $2, reviewed_by = $3, reviewed_at = $4
		WHERE id = $1
	`

	_, err := o.tx.Exec(ctx, query, req.ID, req.Status, req.ReviewedBy, req.ReviewedAt)
	if err != nil {
		return fmt.Errorf("failed to update edit request: %w", err)
	}
	return nil
}

func profileArgs(p *db.VehicleProfile) ([]any, error) {
	usualRoutes, err := json.Marshal(p.UsualRoutes)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal usual routes: %w", err)
	}
	badgeSet, err := json.Marshal(p.Badges)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal badges: %w", err)
	}
	overrides, err := json.Marshal(p.Overrides)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal overrides: %w", err)
	}
	newBus, err := json.Marshal(p.NewBus)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal new-bus state: %w", err)
	}
	rare, err := json.Marshal(p.Rare)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rare state: %w", err)
	}
	var rareScore []byte
	if p.RareScore != nil {
		rareScore, err = json.Marshal(p.RareScore)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal rare score: %w", err)
		}
	}

	return []any{
		p.VehicleKey, p.Registration, p.FleetNumber, string(p.Status), p.VehicleType, p.Wrap,
		p.FirstSeen, p.LastSeen, p.CurrentRoute, p.RouteUpdatedAt,
		p.CurrentOperatorID, p.HomeOperatorID,
		usualRoutes, badgeSet, overrides, newBus, rare, rareScore,
		p.CreatedAt, p.UpdatedAt,
	}, nil
}

func scanProfile(row pgx.Row) (*db.VehicleProfile, error) {
	var p db.VehicleProfile
	var status string
	var usualRoutes, badgeSet, overrides, newBus, rare, rareScore []byte

	err := row.Scan(
		&p.VehicleKey, &p.Registration, &p.FleetNumber, &status, &p.VehicleType, &p.Wrap,
		&p.FirstSeen, &p.LastSeen, &p.CurrentRoute, &p.RouteUpdatedAt,
		&p.CurrentOperatorID, &p.HomeOperatorID,
		&usualRoutes, &badgeSet, &overrides, &newBus, &rare, &rareScore,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Status = db.VehicleStatus(status)
	if len(usualRoutes) > 0 {
		if err := json.Unmarshal(usualRoutes, &p.UsualRoutes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal usual routes: %w", err)
		}
	} else {
		p.UsualRoutes = routestats.Distribution{}
	}
	if len(badgeSet) > 0 {
		if err := json.Unmarshal(badgeSet, &p.Badges); err != nil {
			return nil, fmt.Errorf("failed to unmarshal badges: %w", err)
		}
	}
	if len(overrides) > 0 {
		if err := json.Unmarshal(overrides, &p.Overrides); err != nil {
			return nil, fmt.Errorf("failed to unmarshal overrides: %w", err)
		}
	}
	if p.Overrides == nil {
		p.Overrides = map[string]db.BadgeOverride{}
	}
	if len(newBus) > 0 {
		if err := json.Unmarshal(newBus, &p.NewBus); err != nil {
			return nil, fmt.Errorf("failed to unmarshal new-bus state: %w", err)
		}
	}
	if len(rare) > 0 {
		if err := json.Unmarshal(rare, &p.Rare); err != nil {
			return nil, fmt.Errorf("failed to unmarshal rare state: %w", err)
		}
	}
	if len(rareScore) > 0 {
		var score db.RareScore
		if err := json.Unmarshal(rareScore, &score); err != nil {
			return nil, fmt.Errorf("failed to unmarshal rare score: %w", err)
		}
		p.RareScore = &score
	}

	return &p, nil
}
