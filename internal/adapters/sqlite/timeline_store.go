package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/atvirokodosprendimai/timeline/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/timeline/internal/core/domain"
)

type timelineEventModel struct {
	ID            int64          `gorm:"column:id;primaryKey;autoIncrement"`
	Tenant        string         `gorm:"column:tenant;not null"`
	EventType     string         `gorm:"column:event_type;not null"`
	ElementType   string         `gorm:"column:element_type;not null"`
	ElementID     string         `gorm:"column:element_id;not null"`
	OccurredAt    time.Time      `gorm:"column:occurred_at;not null"`
	ModifiedBy    string         `gorm:"column:modified_by;not null"`
	SchemaVersion int            `gorm:"column:schema_version;not null"`
	Attributes    datatypes.JSON `gorm:"column:attributes;not null"`
}

func (timelineEventModel) TableName() string {
	return "timeline_events"
}

// TimelineStore keeps timeline records in sqlite. Rows are only ever inserted.
type TimelineStore struct {
	db *gormsqlite.DB
}

func NewTimelineStore(db *gormsqlite.DB) *TimelineStore {
	return &TimelineStore{db: db}
}

func (s *TimelineStore) Append(ctx context.Context, event domain.TimelineEvent) (domain.TimelineEvent, error) {
	model := timelineEventModel{
		Tenant:        event.Tenant,
		EventType:     string(event.EventType),
		ElementType:   event.ElementType,
		ElementID:     event.ElementID,
		OccurredAt:    event.Timestamp.UTC(),
		ModifiedBy:    event.ModifiedBy,
		SchemaVersion: event.SchemaVersion,
		Attributes:    datatypes.JSON(event.Attributes),
	}
	err := s.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Create(&model).Error
	})
	if err != nil {
		return domain.TimelineEvent{}, fmt.Errorf("insert timeline event: %w", err)
	}
	return model.toDomain(), nil
}

func (s *TimelineStore) FindByElement(ctx context.Context, elementType, elementID, tenant string) ([]domain.TimelineEvent, error) {
	var rows []timelineEventModel
	err := s.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("element_type = ? AND element_id = ? AND tenant = ?", elementType, elementID, tenant).
			Order("id ASC").
			Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("find timeline by element: %w", err)
	}
	return toDomainEvents(rows), nil
}

func (s *TimelineStore) FindLatest(ctx context.Context, elementID, elementType string) (domain.TimelineEvent, error) {
	var row timelineEventModel
	err := s.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("element_id = ? AND element_type = ?", elementID, elementType).
			Order("occurred_at DESC, id DESC").
			First(&row).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.TimelineEvent{}, domain.ErrNotFound
		}
		return domain.TimelineEvent{}, fmt.Errorf("find latest timeline event: %w", err)
	}
	return row.toDomain(), nil
}

func (s *TimelineStore) FindHistory(ctx context.Context, elementID, elementType string) ([]domain.TimelineEvent, error) {
	var rows []timelineEventModel
	err := s.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("element_id = ? AND element_type = ?", elementID, elementType).
			Order("occurred_at ASC, id ASC").
			Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("find timeline history: %w", err)
	}
	return toDomainEvents(rows), nil
}

func (s *TimelineStore) List(ctx context.Context, filter domain.TimelineFilter) ([]domain.TimelineEvent, error) {
	var rows []timelineEventModel
	err := s.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		query := tx.Model(&timelineEventModel{}).Where("tenant = ?", filter.Tenant)
		if filter.ElementType != "" {
			query = query.Where("element_type = ?", filter.ElementType)
		}
		if filter.AfterID > 0 {
			query = query.Where("id > ?", filter.AfterID)
		}
		return query.Order("id ASC").Limit(filter.Limit).Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list timeline events: %w", err)
	}
	return toDomainEvents(rows), nil
}

func (m timelineEventModel) toDomain() domain.TimelineEvent {
	return domain.TimelineEvent{
		ID:            m.ID,
		Tenant:        m.Tenant,
		EventType:     domain.EventType(m.EventType),
		ElementType:   m.ElementType,
		ElementID:     m.ElementID,
		Timestamp:     m.OccurredAt.UTC(),
		ModifiedBy:    m.ModifiedBy,
		SchemaVersion: m.SchemaVersion,
		Attributes:    json.RawMessage(m.Attributes),
	}
}

func toDomainEvents(rows []timelineEventModel) []domain.TimelineEvent {
	result := make([]domain.TimelineEvent, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result
}
