package domain

import "time"

// TimelineMessage is the payload handed from capture to the dispatch queue.
type TimelineMessage struct {
	EventType   EventType      `json:"timelineEventType"`
	ElementType string         `json:"elementType"`
	ElementID   string         `json:"elementId"`
	Tenant      string         `json:"tenant"`
	Timestamp   time.Time      `json:"timestamp"`
	ModifiedBy  string         `json:"modifiedBy"`
	Attributes  map[string]any `json:"attributes"`
}

func (m TimelineMessage) Validate() error {
	if !m.EventType.Valid() {
		return ErrInvalidEventType
	}
	if err := ValidateElementType(m.ElementType); err != nil {
		return err
	}
	if m.ElementID == "" {
		return ErrMissingIdentity
	}
	if m.Tenant == "" {
		return ErrMissingTenant
	}
	return nil
}
