package usecase

import (
	"fmt"
	"sync"

	"github.com/atvirokodosprendimai/timeline/internal/core/domain"
)

// RecordFactory builds the record stored for a message, before the processor
// sets its timestamp and attributes.
type RecordFactory func(msg domain.TimelineMessage) domain.TimelineEvent

// DefaultRecordFactory copies the identifying fields of the message.
func DefaultRecordFactory(msg domain.TimelineMessage) domain.TimelineEvent {
	return domain.TimelineEvent{
		Tenant:        msg.Tenant,
		EventType:     msg.EventType,
		ElementType:   msg.ElementType,
		ElementID:     msg.ElementID,
		ModifiedBy:    msg.ModifiedBy,
		SchemaVersion: domain.CurrentAttributesSchemaVersion,
	}
}

// RecordRegistry maps element types to record factories. Messages for
// unregistered element types are rejected.
type RecordRegistry struct {
	mu        sync.RWMutex
	factories map[string]RecordFactory
}

func NewRecordRegistry() *RecordRegistry {
	return &RecordRegistry{factories: map[string]RecordFactory{}}
}

// Register binds elementType to factory; a nil factory means DefaultRecordFactory.
func (r *RecordRegistry) Register(elementType string, factory RecordFactory) error {
	if err := domain.ValidateElementType(elementType); err != nil {
		return err
	}
	if factory == nil {
		factory = DefaultRecordFactory
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[elementType] = factory
	return nil
}

func (r *RecordRegistry) Registered(elementType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[elementType]
	return ok
}

func (r *RecordRegistry) New(msg domain.TimelineMessage) (domain.TimelineEvent, error) {
	r.mu.RLock()
	factory, ok := r.factories[msg.ElementType]
	r.mu.RUnlock()
	if !ok {
		return domain.TimelineEvent{}, fmt.Errorf("%w: %s is not registered", domain.ErrInvalidElementType, msg.ElementType)
	}
	return factory(msg), nil
}
