package audit

import (
	"encoding/json"
	"sort"
	"time"
)

// Entry is a single append-only audit record. EventData is sanitized
// before the entry is signed: password/api_key/secret keys are stripped
// entirely and any key matching "token" has its value replaced with
// "[REDACTED]".
type Entry struct {
	ID           int64          `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	EventType    string         `json:"event_type"`
	Actor        string         `json:"actor"`
	TenantID     string         `json:"tenant_id"`
	EventData    map[string]any `json:"event_data"`
	PreviousHash string         `json:"previous_hash"`
	Signature    string         `json:"signature"`
}

// canonicalJSON renders entry deterministically for signing: fields in a
// fixed order, map keys sorted, no insignificant whitespace. The
// signature field itself is never part of what gets signed.
func canonicalJSON(e Entry) ([]byte, error) {
	type canonical struct {
		ID           int64          `json:"id"`
		Timestamp    string         `json:"timestamp"`
		EventType    string         `json:"event_type"`
		Actor        string         `json:"actor"`
		TenantID     string         `json:"tenant_id"`
		EventData    map[string]any `json:"event_data"`
		PreviousHash string         `json:"previous_hash"`
	}
	c := canonical{
		ID:           e.ID,
		Timestamp:    e.Timestamp.UTC().Format(time.RFC3339Nano),
		EventType:    e.EventType,
		Actor:        e.Actor,
		TenantID:     e.TenantID,
		EventData:    sortedCopy(e.EventData),
		PreviousHash: e.PreviousHash,
	}
	// encoding/json already sorts map[string]any keys on marshal; sortedCopy
	// exists to make that guarantee explicit and independent of the
	// standard library's internal behavior.
	return json.Marshal(c)
}

func sortedCopy(data map[string]any) map[string]any {
	if data == nil {
		return map[string]any{}
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(map[string]any, len(data))
	for _, k := range keys {
		out[k] = data[k]
	}
	return out
}
