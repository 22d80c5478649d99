// Package domain models state-change events from a home-automation hub.
//
// # Data Source
//
// Events originate from the hub's WebSocket API. After authenticating with a
// long-lived access token, the stream client subscribes to state_changed
// events and the hub pushes one envelope per entity state transition. Each
// envelope carries the entity identifier inside its data payload and repeats
// it inside both state objects; the extractor hoists the identifier to the
// top level and strips the duplicates.
//
// # Entity Identifiers
//
// Entity IDs are domain-qualified: "<domain>.<object_id>", e.g. "sensor.attic_temp"
// or "light.kitchen". Domains and object IDs are lowercase with underscores.
// The domain determines how a state value is usually interpreted (sensors
// report measurements, switches report on/off, and so on), but validation
// only warns on domains it does not recognize so new integrations keep flowing.
//
// # State Values
//
// The hub reports every state as a string. "22.5" is a temperature reading,
// "on" a switch position, "home" a presence zone. Normalization coerces values
// that parse as numbers into a numeric field and leaves the rest null, always
// retaining the raw string. The empty string is a legal state (some sensors
// report it before first measurement); a null state is not.
//
// # Timestamps
//
// Each state object carries last_changed (the state value last flipped) and
// last_updated (the state or its attributes were last written). The envelope
// itself carries time_fired, the origin timestamp, which increases
// monotonically per connection. Duration in the previous state is derived as
// time_fired minus the old state's last_updated.
//
// # Units
//
// Sensor attributes carry a unit_of_measurement label whose spelling varies
// by integration ("°C", "C", "celsius"). Normalization maps known spellings
// to a single canonical label per unit; unknown labels pass through trimmed.
//
// # Time-of-Day Buckets
//
// Events are bucketed by origin-hour for later analysis: morning (05-11),
// afternoon (12-16), evening (17-21), night otherwise. Buckets use UTC, the
// same zone the hub reports timestamps in.
package domain
