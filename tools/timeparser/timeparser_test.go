package timeparser_test

import (
	"testing"
	"time"

	"github.com/routeflow/fleet-tracker/tools/timeparser"
)

func TestParseObservationTime_RFC3339(t *testing.T) {
	result, err := timeparser.ParseObservationTime("2026-03-15T10:30:45Z")
	if err != nil {
		t.Fatalf("Failed to parse timestamp: %v", err)
	}

	expected := time.Date(2026, 3, 15, 10, 30, 45, 0, time.UTC)
	if !result.Equal(expected) {
		t.Errorf("Expected %v, got %v", expected, result)
	}
}

func TestParseObservationTime_UKFormat(t *testing.T) {
	result, err := timeparser.ParseObservationTime("15/03/2026 10:30:45")
	if err != nil {
		t.Fatalf("Failed to parse timestamp: %v", err)
	}

	expected := time.Date(2026, 3, 15, 10, 30, 45, 0, time.UTC)
	if !result.Equal(expected) {
		t.Errorf("Expected %v, got %v", expected, result)
	}
}

func TestParseObservationTime_EpochSeconds(t *testing.T) {
	result, err := timeparser.ParseObservationTime(float64(1767225600))
	if err != nil {
		t.Fatalf("Failed to parse timestamp: %v", err)
	}

	expected := time.Unix(1767225600, 0).UTC()
	if !result.Equal(expected) {
		t.Errorf("Expected %v, got %v", expected, result)
	}
}

func TestParseObservationTime_EpochMillis(t *testing.T) {
	result, err := timeparser.ParseObservationTime(float64(1767225600000))
	if err != nil {
		t.Fatalf("Failed to parse timestamp: %v", err)
	}

	expected := time.Unix(1767225600, 0).UTC()
	if !result.Equal(expected) {
		t.Errorf("Expected %v, got %v", expected, result)
	}
}

func TestParseObservationTime_EpochString(t *testing.T) {
	result, err := timeparser.ParseObservationTime("1767225600")
	if err != nil {
		t.Fatalf("Failed to parse timestamp: %v", err)
	}

	expected := time.Unix(1767225600, 0).UTC()
	if !result.Equal(expected) {
		t.Errorf("Expected %v, got %v", expected, result)
	}
}

func TestParseObservationTime_VendorDateToken(t *testing.T) {
	result, err := timeparser.ParseObservationTime("/Date(1767225600000)/")
	if err != nil {
		t.Fatalf("Failed to parse timestamp: %v", err)
	}

	expected := time.Unix(1767225600, 0).UTC()
	if !result.Equal(expected) {
		t.Errorf("Expected %v, got %v", expected, result)
	}
}

func TestParseObservationTime_Invalid(t *testing.T) {
	_, err := timeparser.ParseObservationTime("not-a-timestamp")
	if err == nil {
		t.Error("Expected error for invalid timestamp")
	}
}

func TestParseObservationTime_Nil(t *testing.T) {
	_, err := timeparser.ParseObservationTime(nil)
	if err == nil {
		t.Error("Expected error for nil timestamp")
	}
}

func TestClampFuture_WithinTolerance(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	observed := now.Add(2 * time.Minute)

	result := timeparser.ClampFuture(observed, now, 5*time.Minute)
	if !result.Equal(observed) {
		t.Errorf("Expected %v, got %v", observed, result)
	}
}

func TestClampFuture_BeyondTolerance(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	observed := now.Add(10 * time.Minute)

	result := timeparser.ClampFuture(observed, now, 5*time.Minute)
	if !result.Equal(now) {
		t.Errorf("Expected clamp to now %v, got %v", now, result)
	}
}

func TestClampFuture_Zero(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	result := timeparser.ClampFuture(time.Time{}, now, 5*time.Minute)
	if !result.Equal(now) {
		t.Errorf("Expected now %v for zero timestamp, got %v", now, result)
	}
}
