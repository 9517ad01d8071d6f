package normalize

import (
	"strconv"
	"strings"
)

var nonAlphanumeric = func(r rune) bool {
	return !(r >= 'A' && r <= 'Z') && !(r >= '0' && r <= '9')
}

// RegKey canonicalizes a vehicle registration into the stable identity key:
// uppercase with everything except A-Z and 0-9 stripped. Returns "" when
// nothing usable remains.
func RegKey(s string) string {
	upper := strings.ToUpper(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range upper {
		if !nonAlphanumeric(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Text trims and collapses internal whitespace in free text.
func Text(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// LineKey canonicalizes a service line identifier for case-insensitive
// deduplication.
func LineKey(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// DedupeLines removes case-insensitive duplicates from a list of line
// identifiers, preserving first-seen order and spelling.
func DedupeLines(lines []string) []string {
	seen := make(map[string]struct{}, len(lines))
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		key := LineKey(line)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, strings.TrimSpace(line))
	}
	return out
}

// Extracted is the canonical shape pulled out of a raw observation payload.
// Timestamp is left as the raw value; timeparser owns its interpretation.
type Extracted struct {
	VehicleID    string
	Registration string
	Route        string
	Destination  string
	Stop         string
	Operator     string
	Status       string
	FleetNumber  string
	VehicleType  string
	Wrap         string
	Latitude     *float64
	Longitude    *float64
	Timestamp    any
}

// fieldRules lists the accepted payload keys for one logical field, in
// priority order. Extraction is table-driven rather than a branch chain so
// new vendor spellings are a one-line change.
var (
	vehicleIDRules    = []string{"vehicleId", "vehicleRef", "vehicle_id", "registration", "reg", "vrm"}
	registrationRules = []string{"registration", "reg", "vrm", "vehicleId"}
	routeRules        = []string{"lineName", "lineId", "line", "route"}
	destinationRules  = []string{"destinationName", "destination", "towards"}
	stopRules         = []string{"naptanId", "stationName", "stopCode", "stop"}
	operatorRules     = []string{"operatorName", "operator", "operatorCode"}
	statusRules       = []string{"status", "vehicleStatus"}
	fleetNumberRules  = []string{"fleetNumber", "fleetId", "fleet_number"}
	vehicleTypeRules  = []string{"vehicleType", "vehicle_type", "type"}
	wrapRules         = []string{"wrap", "livery"}
	latitudeRules     = []string{"latitude", "lat"}
	longitudeRules    = []string{"longitude", "lon", "lng"}
	timestampRules    = []string{"timestamp", "observedAt", "recordedAt", "time", "expectedArrival"}
)

// ExtractObservation applies the accessor tables to a decoded payload.
func ExtractObservation(payload map[string]any) Extracted {
	return Extracted{
		VehicleID:    firstString(payload, vehicleIDRules),
		Registration: firstString(payload, registrationRules),
		Route:        firstString(payload, routeRules),
		Destination:  firstString(payload, destinationRules),
		Stop:         firstString(payload, stopRules),
		Operator:     firstString(payload, operatorRules),
		Status:       firstString(payload, statusRules),
		FleetNumber:  firstString(payload, fleetNumberRules),
		VehicleType:  firstString(payload, vehicleTypeRules),
		Wrap:         firstString(payload, wrapRules),
		Latitude:     firstFloat(payload, latitudeRules),
		Longitude:    firstFloat(payload, longitudeRules),
		Timestamp:    firstValue(payload, timestampRules),
	}
}

func firstValue(payload map[string]any, keys []string) any {
	for _, key := range keys {
		if v, ok := payload[key]; ok && v != nil {
			return v
		}
	}
	return nil
}

func firstString(payload map[string]any, keys []string) string {
	for _, key := range keys {
		v, ok := payload[key]
		if !ok || v == nil {
			continue
		}
		switch s := v.(type) {
		case string:
			if trimmed := Text(s); trimmed != "" {
				return trimmed
			}
		case float64:
			return strconv.FormatFloat(s, 'f', -1, 64)
		case int:
			return strconv.Itoa(s)
		}
	}
	return ""
}

func firstFloat(payload map[string]any, keys []string) *float64 {
	for _, key := range keys {
		v, ok := payload[key]
		if !ok || v == nil {
			continue
		}
		switch f := v.(type) {
		case float64:
			val := f
			return &val
		case int:
			val := float64(f)
			return &val
		case string:
			if parsed, err := strconv.ParseFloat(strings.TrimSpace(f), 64); err == nil {
				return &parsed
			}
		}
	}
	return nil
}
