package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// FallbackActor is recorded as modifiedBy when an element has no audit fields set.
const FallbackActor = "system"

// ElementSnapshot is the captured state of one business entity. Tenant is
// optional here; capture resolves it from the context when empty.
type ElementSnapshot struct {
	ElementType string
	ElementID   string
	Tenant      string
	CreatedBy   string
	UpdatedBy   string
	Attributes  map[string]any
}

func (s ElementSnapshot) HasTenant() bool {
	return s.Tenant != ""
}

func (s ElementSnapshot) ModifiedBy() string {
	if s.UpdatedBy != "" {
		return s.UpdatedBy
	}
	if s.CreatedBy != "" {
		return s.CreatedBy
	}
	return FallbackActor
}

// Timelined is implemented by persisted entities whose lifecycle is captured.
type Timelined interface {
	TimelineSnapshot() (ElementSnapshot, error)
}

// SnapshotAttributes flattens v into a field map using its JSON representation.
func SnapshotAttributes(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return DecodeObject(raw)
}

// DecodeObject decodes a JSON object keeping numbers as json.Number.
func DecodeObject(raw []byte) (map[string]any, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var out map[string]any
	if err := decoder.Decode(&out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("json value is not an object")
	}
	return out, nil
}
