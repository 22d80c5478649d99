package domain

import (
	"errors"
	"fmt"
)

// ErrNoNewState marks an envelope whose data payload carries no new state.
// Such an event has nothing to persist and is dropped by the extractor.
var ErrNoNewState = errors.New("event has no new state")

// Extract flattens a hub envelope into the canonical FlatEvent: the entity
// identifier moves to the top level, duplicate identifiers are stripped from
// the state objects, and the old-to-new transition is summarized.
//
// Extraction is purely structural; semantic checks belong to Validate.
func Extract(raw RawEvent) (FlatEvent, error) {
	if raw.Data.NewState == nil {
		return FlatEvent{}, fmt.Errorf("extract %q: %w", raw.Data.EntityID, ErrNoNewState)
	}

	entityID := raw.Data.EntityID
	if entityID == "" {
		// Some hub versions omit data.entity_id and only set it on the states.
		entityID = raw.Data.NewState.EntityID
	}

	flat := FlatEvent{
		EntityID:  entityID,
		EventType: raw.EventType,
		TimeFired: raw.TimeFired,
		NewState:  stripIdentifier(raw.Data.NewState),
		OldState:  stripIdentifier(raw.Data.OldState),
	}
	flat.StateChange = summarizeChange(flat.OldState, flat.NewState)
	return flat, nil
}

// stripIdentifier copies a hub state object into a StateSnapshot, dropping
// the nested entity identifier. Returns nil for an absent state.
func stripIdentifier(s *RawState) *StateSnapshot {
	if s == nil {
		return nil
	}
	return &StateSnapshot{
		State:       s.State,
		Attributes:  s.Attributes,
		LastChanged: s.LastChanged,
		LastUpdated: s.LastUpdated,
	}
}

// summarizeChange compares old and new state values. A missing old state
// means the entity was first seen: changed=true with a nil from.
func summarizeChange(oldState, newState *StateSnapshot) StateChange {
	change := StateChange{To: newState.State}
	if oldState == nil {
		change.Changed = true
		return change
	}
	change.From = oldState.State
	change.Changed = !equalStateValues(oldState.State, newState.State)
	return change
}

func equalStateValues(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
