package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/routeflow/fleet-tracker/internal/badges"
	"github.com/routeflow/fleet-tracker/internal/db"
	"github.com/routeflow/fleet-tracker/internal/diversions"
	"github.com/routeflow/fleet-tracker/internal/geo"
	"github.com/routeflow/fleet-tracker/internal/logging"
	"github.com/routeflow/fleet-tracker/internal/mq"
	"github.com/routeflow/fleet-tracker/internal/normalize"
	"github.com/routeflow/fleet-tracker/internal/routestats"
	"github.com/routeflow/fleet-tracker/tools/timeparser"
)

// FutureTolerance is how far into the future an observation timestamp may
// lie before it is clamped to now.
const FutureTolerance = 5 * time.Minute

// Observation is one normalized vehicle observation, the input to Ingest.
// A zero ObservedAt is substituted with now.
type Observation struct {
	VehicleID    string
	Registration string
	ObservedAt   time.Time
	Route        string
	StopCode     string
	Destination  string
	Operator     string
	Status       string
	FleetNumber  string
	VehicleType  string
	Wrap         string
	Latitude     *float64
	Longitude    *float64
	Raw          []byte
}

// Result is the outcome of one ingestion.
type Result struct {
	Profile      *db.VehicleProfile
	Sighting     *db.Sighting
	Badges       []string
	NewBus       badges.NewBusResult
	Rare         badges.RareResult
	Distribution routestats.Distribution
	Created      bool
	SpeedKPH     *float64
}

// EventPublisher emits processed-sighting events after a successful commit.
type EventPublisher interface {
	PublishSightingEvent(ctx context.Context, event mq.SightingEvent, routingKey string) error
}

// Ingestor orchestrates one observation end-to-end: normalize, upsert
// profile, record sighting, recompute the usual-route distribution, run the
// badge inference engine and persist the result, all inside a single
// transaction.
type Ingestor struct {
	store      Store
	diversions diversions.Lookup
	publisher  EventPublisher
	routingKey string
	logger     *zap.Logger
	now        func() time.Time
}

// NewIngestor creates an ingestor. publisher may be nil when no event
// emission is wanted.
func NewIngestor(store Store, lookup diversions.Lookup, publisher EventPublisher, routingKey string, logger *zap.Logger) *Ingestor {
	if lookup == nil {
		lookup = diversions.None{}
	}
	return &Ingestor{
		store:      store,
		diversions: lookup,
		publisher:  publisher,
		routingKey: routingKey,
		logger:     logger,
		now:        time.Now,
	}
}

// IngestRaw decodes a raw observation payload (the direct ingestion path
// used by the message consumer) and ingests it.
func (i *Ingestor) IngestRaw(ctx context.Context, body []byte) (*Result, error) {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal observation: %w", err)
	}

	ext := normalize.ExtractObservation(payload)
	observedAt, err := timeparser.ParseObservationTime(ext.Timestamp)
	if err != nil {
		// Absent or unreadable timestamps fall back to now inside Ingest.
		observedAt = time.Time{}
	}

	return i.Ingest(ctx, Observation{
		VehicleID:    ext.VehicleID,
		Registration: ext.Registration,
		ObservedAt:   observedAt,
		Route:        ext.Route,
		StopCode:     ext.Stop,
		Destination:  ext.Destination,
		Operator:     ext.Operator,
		Status:       ext.Status,
		FleetNumber:  ext.FleetNumber,
		VehicleType:  ext.VehicleType,
		Wrap:         ext.Wrap,
		Latitude:     ext.Latitude,
		Longitude:    ext.Longitude,
		Raw:          body,
	})
}

// Ingest processes one observation. All persisted side effects happen in a
// single transaction; a failure rolls the whole ingestion back.
func (i *Ingestor) Ingest(ctx context.Context, obs Observation) (*Result, error) {
	key := normalize.RegKey(obs.VehicleID)
	if key == "" {
		key = normalize.RegKey(obs.Registration)
	}
	if key == "" {
		return nil, &ValidationError{Reason: "observation has no resolvable vehicle identifier"}
	}

	now := i.now().UTC()
	observedAt := timeparser.ClampFuture(obs.ObservedAt, now, FutureTolerance)
	vehicleLogger := logging.WithVehicle(i.logger, key)

	var result *Result
	err := i.store.InTx(ctx, func(ops StoreOps) error {
		res, err := i.ingestTx(ctx, ops, key, observedAt, obs, vehicleLogger)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	i.publishResult(ctx, key, observedAt, result, vehicleLogger)
	return result, nil
}

func (i *Ingestor) ingestTx(ctx context.Context, ops StoreOps, key string, observedAt time.Time, obs Observation, logger *zap.Logger) (*Result, error) {
	var operator *db.Operator
	if name := normalize.Text(obs.Operator); name != "" {
		op, err := ops.GetOrCreateOperator(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve operator: %w", err)
		}
		operator = op
	}

	profile, err := ops.GetProfile(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}

	created := profile == nil
	if created {
		profile, err = i.createProfile(ctx, ops, key, observedAt, obs, operator)
		if err != nil {
			return nil, err
		}
	} else if err := i.applyUpdates(ctx, ops, profile, observedAt, obs, operator); err != nil {
		return nil, err
	}

	speed, err := i.estimateSpeed(ctx, ops, key, observedAt, obs)
	if err != nil {
		logger.Warn("speed estimate unavailable", zap.Error(err))
	}

	sighting := &db.Sighting{
		ID:          uuid.New(),
		VehicleKey:  key,
		ObservedAt:  observedAt,
		Latitude:    obs.Latitude,
		Longitude:   obs.Longitude,
		Route:       normalize.Text(obs.Route),
		StopCode:    normalize.Text(obs.StopCode),
		Destination: normalize.Text(obs.Destination),
		RawPayload:  obs.Raw,
	}
	if operator != nil {
		id := operator.ID
		sighting.OperatorID = &id
	}
	if err := ops.UpsertSighting(ctx, sighting); err != nil {
		return nil, fmt.Errorf("failed to record sighting: %w", err)
	}

	counts, err := ops.RouteCountsSince(ctx, key, observedAt.Add(-routestats.Window))
	if err != nil {
		return nil, fmt.Errorf("failed to load route counts: %w", err)
	}
	samples := make([]routestats.Sample, 0, len(counts))
	for _, c := range counts {
		samples = append(samples, routestats.Sample{Route: c.Route, Count: c.Count, LastSeen: c.LastSeen})
	}
	dist := routestats.Calculate(samples)
	profile.UsualRoutes = dist

	newRes := badges.EvaluateNewBus(badges.NewBusInput{
		Now:            observedAt,
		FirstSeen:      profile.FirstSeen,
		ReactivatedAt:  profile.NewBus.ReactivatedAt,
		ExtendedUntil:  profile.NewBus.ExtendedUntil,
		TotalSightings: dist.Total,
	})
	if newRes.IsNew {
		profile.NewBus.ExtendedUntil = newRes.ExpiresAt
	}

	rareRes, err := i.evaluateRare(ctx, ops, profile, observedAt, sighting.Route, logger)
	if err != nil {
		return nil, err
	}

	if rareRes.Triggered {
		at := observedAt
		if rareRes.Fresh {
			profile.Rare.StartedAt = &at
		}
		profile.Rare.LastSeenAt = &at
		profile.Rare.DecayAt = rareRes.DecayAt
	}
	profile.RareScore = &db.RareScore{
		Route:      sighting.Route,
		Share:      rareRes.Score.Share,
		Count:      rareRes.Score.Count,
		ZScore:     rareRes.Score.ZScore,
		Reason:     rareRes.Reason,
		Triggered:  rareRes.Triggered,
		ComputedAt: observedAt,
	}

	var candidates []string
	if newRes.IsNew {
		candidates = append(candidates, badges.BadgeNewBus)
	}
	if profile.Status == db.StatusWithdrawn {
		candidates = append(candidates, badges.BadgeWithdrawn)
	}
	if rareRes.Active {
		candidates = append(candidates, badges.BadgeRareWorking)
	}
	if rareRes.OperatorLoan {
		candidates = append(candidates, badges.BadgeOperatorLoan)
	}
	profile.Badges = badges.ResolveOverrides(candidates, profile.Overrides)
	profile.UpdatedAt = observedAt

	if rareRes.Fresh {
		detail, _ := json.Marshal(map[string]any{
			"route":  sighting.Route,
			"share":  rareRes.Score.Share,
			"count":  rareRes.Score.Count,
			"zScore": rareRes.Score.ZScore,
			"reason": rareRes.Reason,
		})
		if err := ops.InsertHistoryEvent(ctx, &db.HistoryEvent{
			ID:         uuid.New(),
			VehicleKey: key,
			EventType:  db.EventRareWorking,
			OccurredAt: observedAt,
			Detail:     detail,
		}); err != nil {
			return nil, fmt.Errorf("failed to record rare-working event: %w", err)
		}
	}

	if err := ops.UpdateProfile(ctx, profile); err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}

	return &Result{
		Profile:      profile,
		Sighting:     sighting,
		Badges:       profile.Badges,
		NewBus:       newRes,
		Rare:         rareRes,
		Distribution: dist,
		Created:      created,
		SpeedKPH:     speed,
	}, nil
}

func (i *Ingestor) createProfile(ctx context.Context, ops StoreOps, key string, observedAt time.Time, obs Observation, operator *db.Operator) (*db.VehicleProfile, error) {
	registration := normalize.Text(obs.Registration)
	if registration == "" {
		registration = normalize.Text(obs.VehicleID)
	}

	profile := &db.VehicleProfile{
		VehicleKey:   key,
		Registration: registration,
		FleetNumber:  normalize.Text(obs.FleetNumber),
		Status:       db.StatusActive,
		VehicleType:  normalize.Text(obs.VehicleType),
		Wrap:         normalize.Text(obs.Wrap),
		FirstSeen:    observedAt,
		LastSeen:     observedAt,
		CurrentRoute: normalize.Text(obs.Route),
		Overrides:    map[string]db.BadgeOverride{},
		CreatedAt:    observedAt,
		UpdatedAt:    observedAt,
	}
	if profile.CurrentRoute != "" {
		at := observedAt
		profile.RouteUpdatedAt = &at
	}
	if status, ok := parseStatus(obs.Status); ok {
		profile.Status = status
	}
	if operator != nil {
		id := operator.ID
		// First resolved operator becomes the immutable home operator.
		profile.HomeOperatorID = &id
		profile.CurrentOperatorID = &id
	}

	if err := ops.CreateProfile(ctx, profile); err != nil {
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}

	detail, _ := json.Marshal(map[string]any{
		"registration": profile.Registration,
		"operator":     normalize.Text(obs.Operator),
	})
	if err := ops.InsertHistoryEvent(ctx, &db.HistoryEvent{
		ID:         uuid.New(),
		VehicleKey: key,
		EventType:  db.EventProfileCreated,
		OccurredAt: observedAt,
		Detail:     detail,
	}); err != nil {
		return nil, fmt.Errorf("failed to record profile-created event: %w", err)
	}

	return profile, nil
}

// applyUpdates applies field-level updates only when the incoming value is
// non-empty and differs from the stored one; an empty incoming value never
// nulls out an existing field.
func (i *Ingestor) applyUpdates(ctx context.Context, ops StoreOps, profile *db.VehicleProfile, observedAt time.Time, obs Observation, operator *db.Operator) error {
	if v := normalize.Text(obs.Registration); v != "" && v != profile.Registration {
		profile.Registration = v
	}
	if v := normalize.Text(obs.FleetNumber); v != "" && v != profile.FleetNumber {
		profile.FleetNumber = v
	}
	if v := normalize.Text(obs.VehicleType); v != "" && v != profile.VehicleType {
		profile.VehicleType = v
	}
	if v := normalize.Text(obs.Wrap); v != "" && v != profile.Wrap {
		profile.Wrap = v
	}
	if v := normalize.Text(obs.Route); v != "" && v != profile.CurrentRoute {
		profile.CurrentRoute = v
		at := observedAt
		profile.RouteUpdatedAt = &at
	}

	if status, ok := parseStatus(obs.Status); ok && status != profile.Status {
		from := profile.Status
		// Coming back into service resets the new-bus reactivated timer.
		if status == db.StatusActive && (from == db.StatusFactory || from == db.StatusAwaitingService) {
			at := observedAt
			profile.NewBus.ReactivatedAt = &at
		}
		profile.Status = status

		detail, _ := json.Marshal(map[string]any{"from": string(from), "to": string(status)})
		if err := ops.InsertHistoryEvent(ctx, &db.HistoryEvent{
			ID:         uuid.New(),
			VehicleKey: profile.VehicleKey,
			EventType:  db.EventStatusUpdated,
			OccurredAt: observedAt,
			Detail:     detail,
		}); err != nil {
			return fmt.Errorf("failed to record status event: %w", err)
		}
	}

	if operator != nil {
		id := operator.ID
		if profile.HomeOperatorID == nil {
			// Home operator is set once and never overwritten.
			profile.HomeOperatorID = &id
		}
		if profile.CurrentOperatorID == nil || *profile.CurrentOperatorID != id {
			detail, _ := json.Marshal(map[string]any{"operator": operator.Name})
			if err := ops.InsertHistoryEvent(ctx, &db.HistoryEvent{
				ID:         uuid.New(),
				VehicleKey: profile.VehicleKey,
				EventType:  db.EventOperatorUpdated,
				OccurredAt: observedAt,
				Detail:     detail,
			}); err != nil {
				return fmt.Errorf("failed to record operator event: %w", err)
			}
			profile.CurrentOperatorID = &id
		}
	}

	if observedAt.Before(profile.FirstSeen) {
		profile.FirstSeen = observedAt
	}
	if observedAt.After(profile.LastSeen) {
		profile.LastSeen = observedAt
	}

	return nil
}

func (i *Ingestor) evaluateRare(ctx context.Context, ops StoreOps, profile *db.VehicleProfile, observedAt time.Time, route string, logger *zap.Logger) (badges.RareResult, error) {
	mismatch := profile.CurrentOperatorID != nil && profile.HomeOperatorID != nil &&
		*profile.CurrentOperatorID != *profile.HomeOperatorID

	mismatchCount := 0
	if mismatch {
		count, err := ops.CountSightingsByOperatorSince(ctx, profile.VehicleKey, *profile.CurrentOperatorID, observedAt.Add(-badges.LoanWindow))
		if err != nil {
			return badges.RareResult{}, fmt.Errorf("failed to count operator-mismatch sightings: %w", err)
		}
		mismatchCount = count
	}

	diverted := false
	if route != "" {
		d, err := i.diversions.Diverted(ctx, route, observedAt)
		if err != nil {
			logger.Warn("diversion lookup failed, assuming none",
				zap.Error(err),
				zap.String("route", route),
			)
		} else {
			diverted = d
		}
	}

	return badges.EvaluateRare(badges.RareInput{
		Now:              observedAt,
		Distribution:     profile.UsualRoutes,
		Route:            route,
		OperatorMismatch: mismatch,
		MismatchCount:    mismatchCount,
		SuppressedUntil:  profile.Rare.SuppressedUntil,
		DecayAt:          profile.Rare.DecayAt,
		Diverted:         diverted,
	}), nil
}

func (i *Ingestor) estimateSpeed(ctx context.Context, ops StoreOps, key string, observedAt time.Time, obs Observation) (*float64, error) {
	if obs.Latitude == nil || obs.Longitude == nil {
		return nil, nil
	}
	prev, err := ops.LatestSightingBefore(ctx, key, observedAt)
	if err != nil {
		return nil, err
	}
	if prev == nil || prev.Latitude == nil || prev.Longitude == nil {
		return nil, nil
	}
	elapsed := observedAt.Sub(prev.ObservedAt)
	if elapsed <= 0 {
		return nil, nil
	}
	speed := geo.SpeedKPH(*prev.Latitude, *prev.Longitude, *obs.Latitude, *obs.Longitude, elapsed)
	return &speed, nil
}

func (i *Ingestor) publishResult(ctx context.Context, key string, observedAt time.Time, result *Result, logger *zap.Logger) {
	if i.publisher == nil || result == nil {
		return
	}

	event := mq.SightingEvent{
		VehicleKey: key,
		Route:      result.Sighting.Route,
		ObservedAt: observedAt.Format(time.RFC3339),
		Badges:     result.Badges,
		IsNewBus:   result.NewBus.IsNew,
		RareReason: result.Rare.Reason,
		RareScore:  result.Rare.Score.ZScore,
		SpeedKPH:   result.SpeedKPH,
		ProfileNew: result.Created,
	}
	if err := i.publisher.PublishSightingEvent(ctx, event, i.routingKey); err != nil {
		// Publish failures never fail an already-committed ingestion.
		logger.Error("failed to publish sighting event", zap.Error(err))
	}
}

func parseStatus(raw string) (db.VehicleStatus, bool) {
	cleaned := strings.ToLower(strings.ReplaceAll(normalize.Text(raw), " ", ""))
	if cleaned == "" {
		return "", false
	}
	status, ok := db.KnownStatuses[cleaned]
	return status, ok
}
