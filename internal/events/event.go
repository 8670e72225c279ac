package events

import (
	"encoding/json"
)

// Kind distinguishes update events from error events.
type Kind string

const (
	// KindUpdate carries a new telemetry payload for a key.
	KindUpdate Kind = "update"

	// KindError reports that a background stream failed and stopped.
	KindError Kind = "error"
)

// Event is a transient message travelling from a stream task to feed
// subscribers. Events are never persisted.
type Event struct {
	Kind    Kind
	Key     string
	Payload json.RawMessage
}

// Update returns an update event for key carrying payload.
func Update(key string, payload json.RawMessage) Event {
	return Event{Kind: KindUpdate, Key: key, Payload: payload}
}

// Failure returns an error event for key carrying err's message.
func Failure(key string, err error) Event {
	payload, _ := json.Marshal(map[string]string{"message": err.Error()})
	return Event{Kind: KindError, Key: key, Payload: payload}
}

// Name is the wire name of the event: "<key>_update" or "error".
func (e Event) Name() string {
	if e.Kind == KindUpdate {
		return e.Key + "_update"
	}
	return string(KindError)
}

// MarshalJSON encodes the event as {"event": ..., "key": ..., "data": ...}.
func (e Event) MarshalJSON() ([]byte, error) {
	data := e.Payload
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	return json.Marshal(struct {
		Event string          `json:"event"`
		Key   string          `json:"key,omitempty"`
		Data  json.RawMessage `json:"data"`
	}{
		Event: e.Name(),
		Key:   e.Key,
		Data:  data,
	})
}

// Publisher accepts events for delivery to subscribers.
type Publisher interface {
	Publish(ev Event)
}
