package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/routeflow/fleet-tracker/internal/badges"
	"github.com/routeflow/fleet-tracker/internal/db"
	"github.com/routeflow/fleet-tracker/internal/normalize"
)

// EditRequests manages the badge pin/unpin review workflow. Requests are
// terminal once approved or rejected; approval applies the override and
// recomputes the badge set.
type EditRequests struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

func NewEditRequests(store Store, logger *zap.Logger) *EditRequests {
	return &EditRequests{store: store, logger: logger, now: time.Now}
}

// EditRequestInput describes a new change proposal.
type EditRequestInput struct {
	Vehicle   string
	Action    string
	Badge     string
	Notes     string
	CreatedBy string
}

// Create files a pending edit request for an existing vehicle.
func (e *EditRequests) Create(ctx context.Context, in EditRequestInput) (*db.EditRequest, error) {
	key := normalize.RegKey(in.Vehicle)
	if key == "" {
		return nil, &ValidationError{Reason: "edit request has no resolvable vehicle identifier"}
	}
	if in.Action != db.ActionPinBadge && in.Action != db.ActionUnpinBadge {
		return nil, &ValidationError{Reason: fmt.Sprintf("unknown action '%s'", in.Action)}
	}
	if !badges.Known(in.Badge) {
		return nil, &ValidationError{Reason: fmt.Sprintf("unknown badge '%s'", in.Badge)}
	}

	req := &db.EditRequest{
		ID:         uuid.New(),
		VehicleKey: key,
		Action:     in.Action,
		Badge:      in.Badge,
		Notes:      normalize.Text(in.Notes),
		Status:     db.EditPending,
		CreatedBy:  normalize.Text(in.CreatedBy),
		CreatedAt:  e.now().UTC(),
	}

	err := e.store.InTx(ctx, func(ops StoreOps) error {
		profile, err := ops.GetProfile(ctx, key)
		if err != nil {
			return fmt.Errorf("failed to load profile: %w", err)
		}
		if profile == nil {
			return &ValidationError{Reason: fmt.Sprintf("unknown vehicle '%s'", key)}
		}
		if err := ops.CreateEditRequest(ctx, req); err != nil {
			return fmt.Errorf("failed to create edit request: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("edit request created",
		zap.String("id", req.ID.String()),
		zap.String("vehicle_key", key),
		zap.String("action", req.Action),
		zap.String("badge", req.Badge),
	)
	return req, nil
}

// Approve applies a pending request's override, recomputes the badge set
// and freezes the request. Returns the updated profile.
func (e *EditRequests) Approve(ctx context.Context, id uuid.UUID, reviewer string) (*db.VehicleProfile, error) {
	now := e.now().UTC()
	var profile *db.VehicleProfile

	err := e.store.InTx(ctx, func(ops StoreOps) error {
		req, err := e.pendingRequest(ctx, ops, id)
		if err != nil {
			return err
		}

		p, err := ops.GetProfile(ctx, req.VehicleKey)
		if err != nil {
			return fmt.Errorf("failed to load profile: %w", err)
		}
		if p == nil {
			return &ValidationError{Reason: fmt.Sprintf("unknown vehicle '%s'", req.VehicleKey)}
		}

		override := db.BadgeOverride{UpdatedAt: now, UpdatedBy: normalize.Text(reviewer)}
		if req.Action == db.ActionPinBadge {
			override.Pinned = true
		} else {
			override.Unpinned = true
		}
		if p.Overrides == nil {
			p.Overrides = map[string]db.BadgeOverride{}
		}
		p.Overrides[req.Badge] = override
		p.Badges = badges.ResolveOverrides(candidatesFromProfile(p, now), p.Overrides)
		p.UpdatedAt = now

		detail, _ := json.Marshal(map[string]any{
			"requestId": req.ID.String(),
			"action":    req.Action,
			"badge":     req.Badge,
			"reviewer":  normalize.Text(reviewer),
		})
		if err := ops.InsertHistoryEvent(ctx, &db.HistoryEvent{
			ID:         uuid.New(),
			VehicleKey: req.VehicleKey,
			EventType:  db.EventBadgeOverride,
			OccurredAt: now,
			Detail:     detail,
		}); err != nil {
			return fmt.Errorf("failed to record override event: %w", err)
		}

		if err := ops.UpdateProfile(ctx, p); err != nil {
			return fmt.Errorf("failed to update profile: %w", err)
		}

		req.Status = db.EditApproved
		req.ReviewedBy = normalize.Text(reviewer)
		req.ReviewedAt = &now
		if err := ops.UpdateEditRequest(ctx, req); err != nil {
			return fmt.Errorf("failed to update edit request: %w", err)
		}

		profile = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	return profile, nil
}

// Reject freezes a pending request without touching the profile.
func (e *EditRequests) Reject(ctx context.Context, id uuid.UUID, reviewer string) (*db.EditRequest, error) {
	now := e.now().UTC()
	var rejected *db.EditRequest

	err := e.store.InTx(ctx, func(ops StoreOps) error {
		req, err := e.pendingRequest(ctx, ops, id)
		if err != nil {
			return err
		}
		req.Status = db.EditRejected
		req.ReviewedBy = normalize.Text(reviewer)
		req.ReviewedAt = &now
		if err := ops.UpdateEditRequest(ctx, req); err != nil {
			return fmt.Errorf("failed to update edit request: %w", err)
		}
		rejected = req
		return nil
	})
	if err != nil {
		return nil, err
	}

	return rejected, nil
}

// List returns edit requests filtered by status ("" for all).
func (e *EditRequests) List(ctx context.Context, status db.EditRequestStatus) ([]db.EditRequest, error) {
	var out []db.EditRequest
	err := e.store.InTx(ctx, func(ops StoreOps) error {
		reqs, err := ops.ListEditRequests(ctx, status)
		if err != nil {
			return fmt.Errorf("failed to list edit requests: %w", err)
		}
		out = reqs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *EditRequests) pendingRequest(ctx context.Context, ops StoreOps, id uuid.UUID) (*db.EditRequest, error) {
	req, err := ops.GetEditRequest(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load edit request: %w", err)
	}
	if req == nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("unknown edit request '%s'", id)}
	}
	if req.Status != db.EditPending {
		return nil, &ValidationError{Reason: fmt.Sprintf("edit request '%s' is already %s", id, req.Status)}
	}
	return req, nil
}

// candidatesFromProfile reconstructs the candidate badge set from stored
// profile state, without a fresh observation to evaluate against. The
// operator-loan candidate cannot be recomputed outside an ingestion, so its
// current presence is carried.
func candidatesFromProfile(profile *db.VehicleProfile, now time.Time) []string {
	var candidates []string

	newRes := badges.EvaluateNewBus(badges.NewBusInput{
		Now:            now,
		FirstSeen:      profile.FirstSeen,
		ReactivatedAt:  profile.NewBus.ReactivatedAt,
		ExtendedUntil:  profile.NewBus.ExtendedUntil,
		TotalSightings: profile.UsualRoutes.Total,
	})
	if newRes.IsNew {
		candidates = append(candidates, badges.BadgeNewBus)
	}
	if profile.Status == db.StatusWithdrawn {
		candidates = append(candidates, badges.BadgeWithdrawn)
	}
	suppressed := profile.Rare.SuppressedUntil != nil && profile.Rare.SuppressedUntil.After(now)
	if !suppressed && profile.Rare.DecayAt != nil && profile.Rare.DecayAt.After(now) {
		candidates = append(candidates, badges.BadgeRareWorking)
	}
	for _, badge := range profile.Badges {
		if badge == badges.BadgeOperatorLoan {
			candidates = append(candidates, badge)
		}
	}

	return candidates
}
