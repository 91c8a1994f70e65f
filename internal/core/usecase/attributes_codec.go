package usecase

import (
	"encoding/json"
	"fmt"

	"github.com/atvirokodosprendimai/timeline/internal/core/domain"
)

type Upcaster interface {
	FromVersion() int
	ToVersion() int
	Upcast(attributes json.RawMessage) (json.RawMessage, error)
}

// AttributesCodec reads and writes the {"data": ...} document of timeline records.
type AttributesCodec struct {
	upcasters map[int]Upcaster
}

// NewAttributesCodec registers the given upcasters on top of the built-in
// version 0 upcaster, which wraps a bare payload into {"data": ...}.
func NewAttributesCodec(upcasters ...Upcaster) *AttributesCodec {
	m := make(map[int]Upcaster, len(upcasters)+1)
	m[0] = bareDataUpcaster{}
	for _, up := range upcasters {
		m[up.FromVersion()] = up
	}
	return &AttributesCodec{upcasters: m}
}

func (c *AttributesCodec) Normalize(event domain.TimelineEvent) (domain.TimelineEvent, error) {
	v := event.SchemaVersion
	attributes := event.Attributes
	for v < domain.CurrentAttributesSchemaVersion {
		up, ok := c.upcasters[v]
		if !ok {
			return domain.TimelineEvent{}, fmt.Errorf("missing upcaster from version %d", v)
		}
		next, err := up.Upcast(attributes)
		if err != nil {
			return domain.TimelineEvent{}, fmt.Errorf("upcast %d->%d: %w", up.FromVersion(), up.ToVersion(), err)
		}
		attributes = next
		v = up.ToVersion()
	}

	event.SchemaVersion = v
	event.Attributes = attributes
	return event, nil
}

// Payload returns the data object of a record, upcasting legacy shapes first.
func (c *AttributesCodec) Payload(event domain.TimelineEvent) (map[string]any, error) {
	normalized, err := c.Normalize(event)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedAttributes, err)
	}
	doc, err := domain.DecodeObject(normalized.Attributes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedAttributes, err)
	}
	raw, ok := doc["data"]
	if !ok {
		return nil, fmt.Errorf("%w: missing data", domain.ErrMalformedAttributes)
	}
	if raw == nil {
		return map[string]any{}, nil
	}
	data, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: data is %T, not an object", domain.ErrMalformedAttributes, raw)
	}
	return data, nil
}

func (c *AttributesCodec) Encode(payload any) (json.RawMessage, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(domain.Attributes{Data: payload})
	if err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}
	return raw, nil
}

type bareDataUpcaster struct{}

func (bareDataUpcaster) FromVersion() int { return 0 }
func (bareDataUpcaster) ToVersion() int   { return 1 }

func (bareDataUpcaster) Upcast(attributes json.RawMessage) (json.RawMessage, error) {
	if !json.Valid(attributes) {
		return nil, fmt.Errorf("attributes are not valid json")
	}
	return json.Marshal(map[string]json.RawMessage{"data": attributes})
}
