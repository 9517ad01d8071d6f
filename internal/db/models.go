package db

import (
	"time"

	"github.com/google/uuid"

	"github.com/routeflow/fleet-tracker/internal/routestats"
)

// VehicleStatus is the lifecycle status of a vehicle profile.
type VehicleStatus string

const (
	StatusActive          VehicleStatus = "Active"
	StatusFactory         VehicleStatus = "Factory"
	StatusAwaitingService VehicleStatus = "AwaitingService"
	StatusInactive        VehicleStatus = "Inactive"
	StatusStored          VehicleStatus = "Stored"
	StatusWithdrawn       VehicleStatus = "Withdrawn"
)

// KnownStatuses maps the accepted status spellings to the canonical enum.
var KnownStatuses = map[string]VehicleStatus{
	"active":          StatusActive,
	"factory":         StatusFactory,
	"awaitingservice": StatusAwaitingService,
	"inactive":        StatusInactive,
	"stored":          StatusStored,
	"withdrawn":       StatusWithdrawn,
}

// Operator is a bus operator identity, resolved case-insensitively by name.
type Operator struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time
}

// BadgeOverride is one human-editable override entry for a badge. Several
// key spellings are accepted in stored payloads; the resolver treats the
// pinned group and the suppressed group each as a whole.
type BadgeOverride struct {
	Pinned     bool      `json:"pinned,omitempty"`
	Enabled    bool      `json:"enabled,omitempty"`
	Suppressed bool      `json:"suppressed,omitempty"`
	Disabled   bool      `json:"disabled,omitempty"`
	Unpinned   bool      `json:"unpinned,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
	UpdatedBy  string    `json:"updatedBy,omitempty"`
}

// ForcesInclude reports whether this override pins the badge into the final
// set regardless of the computed candidate state.
func (o BadgeOverride) ForcesInclude() bool {
	return o.Pinned || o.Enabled
}

// ForcesExclude reports whether this override removes the badge from the
// final set regardless of the computed candidate state.
func (o BadgeOverride) ForcesExclude() bool {
	return o.Suppressed || o.Disabled || o.Unpinned
}

// NewBusState is the persisted new-bus lifecycle state.
type NewBusState struct {
	ReactivatedAt *time.Time `json:"reactivatedAt,omitempty"`
	ExtendedUntil *time.Time `json:"extendedUntil,omitempty"`
}

// RareState is the persisted rare-working lifecycle state.
type RareState struct {
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	LastSeenAt      *time.Time `json:"lastSeenAt,omitempty"`
	SuppressedUntil *time.Time `json:"suppressedUntil,omitempty"`
	DecayAt         *time.Time `json:"decayAt,omitempty"`
}

// RareScore is the last computed rare-working score snapshot.
type RareScore struct {
	Route      string    `json:"route"`
	Share      float64   `json:"share"`
	Count      int       `json:"count"`
	ZScore     float64   `json:"zScore"`
	Reason     string    `json:"reason,omitempty"`
	Triggered  bool      `json:"triggered"`
	ComputedAt time.Time `json:"computedAt"`
}

// VehicleProfile is the per-vehicle profile, keyed by the canonical
// registration key. Profiles are never deleted.
type VehicleProfile struct {
	VehicleKey        string
	Registration      string
	FleetNumber       string
	Status            VehicleStatus
	VehicleType       string
	Wrap              string
	FirstSeen         time.Time
	LastSeen          time.Time
	CurrentRoute      string
	RouteUpdatedAt    *time.Time
	CurrentOperatorID *uuid.UUID
	HomeOperatorID    *uuid.UUID
	UsualRoutes       routestats.Distribution
	Badges            []string
	Overrides         map[string]BadgeOverride
	NewBus            NewBusState
	Rare              RareState
	RareScore         *RareScore
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Sighting is one observed vehicle position/arrival, unique per
// (vehicle key, observed-at instant).
type Sighting struct {
	ID          uuid.UUID
	VehicleKey  string
	ObservedAt  time.Time
	Latitude    *float64
	Longitude   *float64
	Route       string
	StopCode    string
	Destination string
	OperatorID  *uuid.UUID
	RawPayload  []byte
}

// History event types.
const (
	EventProfileCreated  = "profile-created"
	EventStatusUpdated   = "status-updated"
	EventOperatorUpdated = "operator-updated"
	EventBadgeOverride   = "badge-override"
	EventRareWorking     = "rare-working-triggered"
)

// HistoryEvent is one append-only audit trail entry for a vehicle.
type HistoryEvent struct {
	ID         uuid.UUID
	VehicleKey string
	EventType  string
	OccurredAt time.Time
	Detail     []byte
}

// EditRequestStatus is the review state of an edit request.
type EditRequestStatus string

const (
	EditPending  EditRequestStatus = "pending"
	EditApproved EditRequestStatus = "approved"
	EditRejected EditRequestStatus = "rejected"
)

// Edit request actions.
const (
	ActionPinBadge   = "pin-badge"
	ActionUnpinBadge = "unpin-badge"
)

// EditRequest is a human-reviewable badge change proposal. Terminal once
// approved or rejected.
type EditRequest struct {
	ID         uuid.UUID
	VehicleKey string
	Action     string
	Badge      string
	Notes      string
	Status     EditRequestStatus
	CreatedBy  string
	ReviewedBy string
	CreatedAt  time.Time
	ReviewedAt *time.Time
}

// RouteCount is one per-route sighting count row over a trailing window.
type RouteCount struct {
	Route    string
	Count    int
	LastSeen time.Time
}
