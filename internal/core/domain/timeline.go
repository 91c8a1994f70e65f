package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// CurrentAttributesSchemaVersion is the version written for every new record.
// Version 0 records hold the bare payload without the {"data": ...} wrapper.
const CurrentAttributesSchemaVersion = 1

type EventType string

const (
	EventCreated EventType = "CREATED"
	EventUpdated EventType = "UPDATED"
	EventDeleted EventType = "DELETED"
)

func (t EventType) Valid() bool {
	switch t {
	case EventCreated, EventUpdated, EventDeleted:
		return true
	}
	return false
}

func ParseEventType(raw string) (EventType, error) {
	t := EventType(raw)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidEventType, raw)
	}
	return t, nil
}

// TimelineEvent is one persisted, immutable entry of an element's history.
type TimelineEvent struct {
	ID            int64           `json:"id"`
	Tenant        string          `json:"tenant"`
	EventType     EventType       `json:"eventType"`
	ElementType   string          `json:"elementType"`
	ElementID     string          `json:"elementId"`
	Timestamp     time.Time       `json:"timestamp"`
	ModifiedBy    string          `json:"modifiedBy"`
	SchemaVersion int             `json:"schemaVersion"`
	Attributes    json.RawMessage `json:"attributes"`
}

// Attributes is the document stored in TimelineEvent.Attributes.
type Attributes struct {
	Data any `json:"data"`
}

// FieldChange is a single diff entry of an UPDATED record.
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

type TimelineFilter struct {
	Tenant      string
	ElementType string
	AfterID     int64
	Limit       int
}
