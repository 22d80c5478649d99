package domain

import "time"

// RawEvent is the hub's native event envelope as pushed over the WebSocket
// subscription. Ephemeral; it exists only between the stream client and the
// extractor.
type RawEvent struct {
	EventType string       `json:"event_type"`
	Data      RawEventData `json:"data"`
	Origin    string       `json:"origin,omitempty"`
	TimeFired time.Time    `json:"time_fired"`
	Context   EventContext `json:"context"`
}

// RawEventData is the nested payload of a state_changed envelope.
type RawEventData struct {
	EntityID string    `json:"entity_id"`
	OldState *RawState `json:"old_state"`
	NewState *RawState `json:"new_state"`
}

// RawState is a hub state object. The hub duplicates the entity identifier
// inside each state object; the extractor strips it.
// State is a pointer so validation can distinguish null from empty string.
type RawState struct {
	EntityID    string         `json:"entity_id,omitempty"`
	State       *string        `json:"state"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	LastChanged time.Time      `json:"last_changed"`
	LastUpdated time.Time      `json:"last_updated"`
}

// EventContext is the hub's correlation identifier set.
type EventContext struct {
	ID       string `json:"id"`
	ParentID string `json:"parent_id,omitempty"`
	UserID   string `json:"user_id,omitempty"`
}

// StateSnapshot is a state value plus its attributes and timestamps, without
// an entity identifier. The identifier lives exactly once on the FlatEvent.
type StateSnapshot struct {
	State       *string        `json:"state"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	LastChanged time.Time      `json:"last_changed"`
	LastUpdated time.Time      `json:"last_updated"`
}

// StateChange summarizes the transition between old and new state values.
// From is nil for first-seen entities.
type StateChange struct {
	From    *string `json:"from"`
	To      *string `json:"to"`
	Changed bool    `json:"changed"`
}

// FlatEvent is the canonical internal event produced by the extractor.
// Each pipeline stage produces a new, extended copy; a FlatEvent is never
// mutated in place after creation.
type FlatEvent struct {
	EntityID    string         `json:"entity_id"`
	EventType   string         `json:"event_type"`
	TimeFired   time.Time      `json:"time_fired"`
	OldState    *StateSnapshot `json:"old_state,omitempty"`
	NewState    *StateSnapshot `json:"new_state"`
	StateChange StateChange    `json:"state_change"`

	// Enrichment fields, attached by the enrichment gateway.
	Weather         *WeatherConditions `json:"weather,omitempty"`
	WeatherEnriched bool               `json:"weather_enriched"`
}

// WithWeather returns a copy of the event with the weather snapshot attached.
func (e FlatEvent) WithWeather(w WeatherConditions) FlatEvent {
	e.Weather = &w
	e.WeatherEnriched = true
	return e
}

// Domain returns the entity's domain, the part before the first dot,
// or "" if the entity ID has no separator.
func (e FlatEvent) Domain() string {
	for i := 0; i < len(e.EntityID); i++ {
		if e.EntityID[i] == '.' {
			return e.EntityID[:i]
		}
	}
	return ""
}

// WeatherConditions is an ambient weather snapshot used for enrichment.
// Owned by the enrichment cache; shared read-only once attached to an event.
type WeatherConditions struct {
	TemperatureC float64   `json:"temperature_c"`
	HumidityPct  float64   `json:"humidity_pct"`
	PressureHpa  float64   `json:"pressure_hpa"`
	WindSpeedMS  float64   `json:"wind_speed_ms"`
	Condition    string    `json:"condition"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// ValidationResult reports the outcome of validating a single FlatEvent.
// Errors reject the event; warnings do not.
type ValidationResult struct {
	IsValid   bool     `json:"is_valid"`
	Errors    []string `json:"errors,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
	Domain    string   `json:"domain"`
	EventType string   `json:"event_type"`
}

// NormalizedEvent is a validated FlatEvent plus coerced and derived fields.
// Immutable once produced; the unit of work handed to the batch writer.
type NormalizedEvent struct {
	FlatEvent

	// NumericValue is the new state coerced to a number, nil when the state
	// does not parse as one. RawValue always retains the original string.
	NumericValue *float64 `json:"numeric_value"`
	RawValue     string   `json:"raw_value"`
	Unit         string   `json:"unit,omitempty"`

	// DurationInPreviousStateSeconds is the gap between the previous state's
	// last_updated and this event's origin timestamp. Nil without an old state.
	DurationInPreviousStateSeconds *float64 `json:"duration_in_previous_state_seconds"`

	TimeOfDay     string    `json:"time_of_day"`
	NormalizedAt  time.Time `json:"normalized_at"`
	SchemaVersion string    `json:"schema_version"`
}
