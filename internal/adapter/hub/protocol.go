package hub

import "encoding/json"

// The hub speaks a message-framed JSON protocol over the WebSocket. The
// server opens with auth_required; the client answers with auth and, after
// auth_ok, subscribes to state_changed events. Event envelopes then arrive
// as type=event messages carrying the raw payload.
const (
	msgTypeAuthRequired = "auth_required"
	msgTypeAuth         = "auth"
	msgTypeAuthOK       = "auth_ok"
	msgTypeAuthInvalid  = "auth_invalid"
	msgTypeSubscribe    = "subscribe_events"
	msgTypeResult       = "result"
	msgTypeEvent        = "event"
	msgTypePing         = "ping"
	msgTypePong         = "pong"
)

// eventTypeStateChanged is the only event class this service subscribes to.
const eventTypeStateChanged = "state_changed"

// message is the hub's wire frame. Fields are a union across message types;
// unused ones stay empty and are omitted on the wire.
type message struct {
	ID          int             `json:"id,omitempty"`
	Type        string          `json:"type"`
	AccessToken string          `json:"access_token,omitempty"`
	EventType   string          `json:"event_type,omitempty"`
	Success     *bool           `json:"success,omitempty"`
	Event       json.RawMessage `json:"event,omitempty"`
	Message     string          `json:"message,omitempty"`
	HubVersion  string          `json:"ha_version,omitempty"`
}
