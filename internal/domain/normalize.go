package domain

import (
	"strconv"
	"strings"
	"time"
)

// SchemaVersion stamps normalized events so later schema changes can be
// distinguished in the store.
const SchemaVersion = "1"

// unitAliases maps the unit spellings seen across hub integrations to one
// canonical label per unit.
var unitAliases = map[string]string{
	"°c":      "C",
	"c":       "C",
	"celsius": "C",
	"°f":      "F",
	"f":       "F",
	"%":       "percent",
	"percent": "percent",
	"hpa":     "hPa",
	"mbar":    "hPa",
	"km/h":    "km/h",
	"kmh":     "km/h",
	"m/s":     "m/s",
	"mph":     "mph",
	"w":       "W",
	"kw":      "kW",
	"wh":      "Wh",
	"kwh":     "kWh",
	"v":       "V",
	"a":       "A",
	"lx":      "lx",
	"lux":     "lx",
	"ppm":     "ppm",
	"ppb":     "ppb",
	"µg/m³":   "ug/m3",
	"ug/m3":   "ug/m3",
	"mm":      "mm",
	"in":      "in",
	"dbm":     "dBm",
	"db":      "dB",
}

// Normalize coerces and derives fields for a validated FlatEvent. The input
// is not modified; the returned NormalizedEvent embeds a copy.
//
// Callers must validate first: Normalize assumes new_state and its state
// value are present.
func Normalize(event FlatEvent) NormalizedEvent {
	raw := ""
	if event.NewState != nil && event.NewState.State != nil {
		raw = *event.NewState.State
	}

	return NormalizedEvent{
		FlatEvent:                      event,
		NumericValue:                   coerceNumeric(raw),
		RawValue:                       raw,
		Unit:                           normalizeUnit(event.NewState),
		DurationInPreviousStateSeconds: durationInPreviousState(event),
		TimeOfDay:                      deriveTimeOfDay(event.TimeFired),
		NormalizedAt:                   clock.Now(),
		SchemaVersion:                  SchemaVersion,
	}
}

// coerceNumeric parses the state string as a number, returning nil for
// non-numeric states ("on", "home", "unavailable", ...).
func coerceNumeric(raw string) *float64 {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

// normalizeUnit resolves the unit_of_measurement attribute to its canonical
// label. Unknown labels pass through trimmed; missing ones yield "".
func normalizeUnit(s *StateSnapshot) string {
	if s == nil {
		return ""
	}
	raw, ok := s.Attributes["unit_of_measurement"].(string)
	if !ok {
		return ""
	}
	raw = strings.TrimSpace(raw)
	if canonical, ok := unitAliases[strings.ToLower(raw)]; ok {
		return canonical
	}
	return raw
}

// durationInPreviousState computes how long the entity sat in its previous
// state: the gap between the old state's last_updated and this event's origin
// timestamp. Nil when there is no previous state or no usable timestamps.
func durationInPreviousState(event FlatEvent) *float64 {
	if event.OldState == nil || event.OldState.LastUpdated.IsZero() || event.TimeFired.IsZero() {
		return nil
	}
	secs := event.TimeFired.Sub(event.OldState.LastUpdated).Seconds()
	if secs < 0 {
		secs = 0
	}
	return &secs
}

// deriveTimeOfDay buckets the origin timestamp by UTC hour:
// morning 05-11, afternoon 12-16, evening 17-21, night otherwise.
func deriveTimeOfDay(t time.Time) string {
	switch h := t.UTC().Hour(); {
	case h >= 5 && h < 12:
		return "morning"
	case h >= 12 && h < 17:
		return "afternoon"
	case h >= 17 && h < 22:
		return "evening"
	default:
		return "night"
	}
}
