package store

import "encoding/json"

// Record is the latest known value of one telemetry key.
//
// Records are replaced wholesale on every update and never deleted.
type Record struct {
	// Value is the display value derived from the payload (e.g. "42.5%").
	Value string `json:"value"`

	// Timestamp is the wall-clock receive time in seconds since the epoch.
	Timestamp float64 `json:"timestamp"`

	// Raw is the gateway payload the value was derived from.
	Raw json.RawMessage `json:"raw_data"`
}

// Clone returns a copy of r that shares no memory with it.
func (r Record) Clone() Record {
	if r.Raw != nil {
		r.Raw = append(json.RawMessage(nil), r.Raw...)
	}
	return r
}

// Store defines the shared telemetry cache.
//
// Store implementations must be safe for concurrent access. Updates to the
// same key are last-write-wins, and reads never hand out memory that a
// later writer could mutate.
type Store interface {
	// Update replaces the record for key.
	Update(key string, record Record)

	// Get returns the record for key and whether it exists.
	Get(key string) (Record, bool)

	// GetAll returns a snapshot of every stored record, keyed by telemetry key.
	// The returned map is a copy; modifications do not affect the store.
	GetAll() map[string]Record
}
