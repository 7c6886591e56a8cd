// events.go: transport boundary for storage finalize events arriving on the bus.
package ingest

import (
	"encoding/json"
	"fmt"
)

// StorageEvent is the decoded form of an object-finalized notification. The
// event source delivers these at least once, possibly concurrently; every
// handler downstream of this decode must tolerate duplicates.
type StorageEvent struct {
	Bucket      string `json:"bucket"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
}

// DecodeStorageEvent parses a storage event payload off the bus.
func DecodeStorageEvent(payload []byte) (*StorageEvent, error) {
	var event StorageEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("decoding storage event: %w", err)
	}
	if event.Name == "" {
		return nil, fmt.Errorf("storage event has no object name")
	}
	return &event, nil
}
