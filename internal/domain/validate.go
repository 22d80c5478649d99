package domain

import (
	"fmt"
	"regexp"
	"time"
)

// entityIDRe matches domain-qualified entity identifiers:
// lowercase, underscore-delimited, exactly one dot, e.g. "sensor.attic_temp".
var entityIDRe = regexp.MustCompile(`^[a-z][a-z_]*\.[a-z0-9_]+$`)

// knownDomains lists the hub domains this service understands. An entity in
// another domain is accepted with a warning, never rejected, so events from
// new integrations keep flowing.
var knownDomains = map[string]struct{}{
	"alarm_control_panel": {},
	"automation":          {},
	"binary_sensor":       {},
	"button":              {},
	"camera":              {},
	"climate":             {},
	"cover":               {},
	"device_tracker":      {},
	"fan":                 {},
	"humidifier":          {},
	"input_boolean":       {},
	"input_number":        {},
	"light":               {},
	"lock":                {},
	"media_player":        {},
	"number":              {},
	"person":              {},
	"scene":               {},
	"script":              {},
	"select":              {},
	"sensor":              {},
	"sun":                 {},
	"switch":              {},
	"update":              {},
	"vacuum":              {},
	"weather":             {},
	"zone":                {},
}

const (
	// maxFutureSkew tolerates minor clock drift between hub and service.
	maxFutureSkew = 5 * time.Minute
	// maxEventAge rejects timestamps that cannot be real event times.
	maxEventAge = 10 * 365 * 24 * time.Hour
)

// Validate checks a FlatEvent's structural invariants in a fixed order and
// returns the full list of failures. A result with any error means the event
// is rejected; warnings alone do not block persistence.
func Validate(event FlatEvent) ValidationResult {
	result := ValidationResult{
		Domain:    event.Domain(),
		EventType: event.EventType,
	}

	if event.EntityID == "" {
		result.Errors = append(result.Errors, "entity_id is missing")
	} else if !entityIDRe.MatchString(event.EntityID) {
		result.Errors = append(result.Errors, fmt.Sprintf("entity_id %q does not match domain.object_id", event.EntityID))
	} else if _, ok := knownDomains[result.Domain]; !ok {
		result.Warnings = append(result.Warnings, fmt.Sprintf("unknown domain %q", result.Domain))
	}

	if event.EventType == "" {
		result.Errors = append(result.Errors, "event_type is missing")
	}

	result.Errors = append(result.Errors, validateNewState(event.NewState)...)

	result.IsValid = len(result.Errors) == 0
	return result
}

// validateNewState checks the new state object: the state value must be
// present (empty string is legal, null is not), both timestamps must be set
// and fall inside the sane window.
func validateNewState(s *StateSnapshot) []string {
	if s == nil {
		return []string{"new_state is missing"}
	}

	var errs []string
	if s.State == nil {
		errs = append(errs, "new_state.state is null")
	}
	if s.LastChanged.IsZero() {
		errs = append(errs, "new_state.last_changed is missing")
	} else if msg := checkTimestampWindow("new_state.last_changed", s.LastChanged); msg != "" {
		errs = append(errs, msg)
	}
	if s.LastUpdated.IsZero() {
		errs = append(errs, "new_state.last_updated is missing")
	} else if msg := checkTimestampWindow("new_state.last_updated", s.LastUpdated); msg != "" {
		errs = append(errs, msg)
	}
	return errs
}

func checkTimestampWindow(field string, t time.Time) string {
	now := clock.Now()
	if t.After(now.Add(maxFutureSkew)) {
		return fmt.Sprintf("%s is %s in the future", field, t.Sub(now).Round(time.Second))
	}
	if t.Before(now.Add(-maxEventAge)) {
		return fmt.Sprintf("%s is implausibly old (%s)", field, t.UTC().Format(time.RFC3339))
	}
	return ""
}
