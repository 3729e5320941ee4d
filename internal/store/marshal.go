package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/fieldledger/internal/event"
)

// marshalEvent serializes the client-supplied portion of an event.
// RecordedAt and CommitSeq are never part of the payload - they live in
// their own columns and only the append path writes them.
func marshalEvent(ev event.Event) (string, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("marshal event %s: %w", ev.ID, err)
	}
	return string(data), nil
}

// unmarshalEvent restores an event payload.
func unmarshalEvent(payload string) (event.Event, error) {
	var ev event.Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return event.Event{}, fmt.Errorf("unmarshal event payload: %w", err)
	}
	return ev, nil
}
