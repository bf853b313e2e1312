package session

import (
	"sort"
	"time"
)

// Event is delivered to the session owner's mailbox.
type Event interface {
	VehicleName() string
}

// KV is one telemetry entry.
type KV struct {
	Key   string `json:"key" msgpack:"key"`
	Value string `json:"value" msgpack:"value"`
}

// TelemetryReceived carries one get_info result, sorted by key.
type TelemetryReceived struct {
	Vehicle string
	Info    []KV
	At      time.Time
}

// ConnectionChanged reports that the session opened or closed.
type ConnectionChanged struct {
	Vehicle   string
	Connected bool
}

// ConnectionLost reports the RPC failure that terminated the session.
// It is sent at most once, before the final ConnectionChanged.
type ConnectionLost struct {
	Vehicle string
	Err     error
}

func (e TelemetryReceived) VehicleName() string { return e.Vehicle }
func (e ConnectionChanged) VehicleName() string { return e.Vehicle }
func (e ConnectionLost) VehicleName() string    { return e.Vehicle }

func sortedPairs(m map[string]string) []KV {
	out := make([]KV, 0, len(m))
	for k, v := range m {
		out = append(out, KV{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
