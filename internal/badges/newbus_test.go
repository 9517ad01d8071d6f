package badges_test

import (
	"testing"
	"time"

	"github.com/routeflow/fleet-tracker/internal/badges"
)

var now = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func TestEvaluateNewBus_WithinPrimaryWindow(t *testing.T) {
	firstSeen := now.Add(-10 * 24 * time.Hour)

	res := badges.EvaluateNewBus(badges.NewBusInput{
		Now:            now,
		FirstSeen:      firstSeen,
		TotalSightings: 200,
	})

	if !res.IsNew {
		t.Fatal("Expected new-bus within the 30-day window")
	}
	if res.Reason != badges.ReasonFirstSeen {
		t.Errorf("Expected reason %q, got %q", badges.ReasonFirstSeen, res.Reason)
	}
	expected := firstSeen.Add(45 * 24 * time.Hour)
	if res.ExpiresAt == nil || !res.ExpiresAt.Equal(expected) {
		t.Errorf("Expected expiry %v, got %v", expected, res.ExpiresAt)
	}
}

func TestEvaluateNewBus_PastPrimaryWindow(t *testing.T) {
	res := badges.EvaluateNewBus(badges.NewBusInput{
		Now:            now,
		FirstSeen:      now.Add(-40 * 24 * time.Hour),
		TotalSightings: 200,
	})

	if res.IsNew {
		t.Error("Expected no new-bus past the 30-day window")
	}
}

func TestEvaluateNewBus_Reactivated(t *testing.T) {
	reactivated := now.Add(-20 * 24 * time.Hour)

	res := badges.EvaluateNewBus(badges.NewBusInput{
		Now:            now,
		FirstSeen:      now.Add(-400 * 24 * time.Hour),
		ReactivatedAt:  &reactivated,
		TotalSightings: 200,
	})

	if !res.IsNew {
		t.Fatal("Expected new-bus within the 45-day reactivation window")
	}
	if res.Reason != badges.ReasonReactivated {
		t.Errorf("Expected reason %q, got %q", badges.ReasonReactivated, res.Reason)
	}
}

func TestEvaluateNewBus_LowActivityExtendsExpiry(t *testing.T) {
	firstSeen := now.Add(-10 * 24 * time.Hour)

	// 5 sightings over the 90-day window is well under the activity floor.
	res := badges.EvaluateNewBus(badges.NewBusInput{
		Now:            now,
		FirstSeen:      firstSeen,
		TotalSightings: 5,
	})

	if !res.IsNew {
		t.Fatal("Expected new-bus")
	}
	expected := firstSeen.Add(60 * 24 * time.Hour)
	if res.ExpiresAt == nil || !res.ExpiresAt.Equal(expected) {
		t.Errorf("Expected extended expiry %v, got %v", expected, res.ExpiresAt)
	}
}

func TestEvaluateNewBus_NeverShrinksStoredExpiry(t *testing.T) {
	firstSeen := now.Add(-10 * 24 * time.Hour)
	stored := firstSeen.Add(80 * 24 * time.Hour)

	res := badges.EvaluateNewBus(badges.NewBusInput{
		Now:            now,
		FirstSeen:      firstSeen,
		ExtendedUntil:  &stored,
		TotalSightings: 200,
	})

	if !res.IsNew {
		t.Fatal("Expected new-bus")
	}
	if res.ExpiresAt == nil || !res.ExpiresAt.Equal(stored) {
		t.Errorf("Expected stored expiry %v preserved, got %v", stored, res.ExpiresAt)
	}
}

func TestEvaluateNewBus_ExtendedTimerAlone(t *testing.T) {
	extended := now.Add(5 * 24 * time.Hour)

	res := badges.EvaluateNewBus(badges.NewBusInput{
		Now:            now,
		FirstSeen:      now.Add(-100 * 24 * time.Hour),
		ExtendedUntil:  &extended,
		TotalSightings: 5,
	})

	if !res.IsNew {
		t.Fatal("Expected new-bus while the extension timer runs")
	}
	if res.Reason != badges.ReasonExtended {
		t.Errorf("Expected reason %q, got %q", badges.ReasonExtended, res.Reason)
	}
}
