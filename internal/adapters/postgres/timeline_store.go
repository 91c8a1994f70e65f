package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/atvirokodosprendimai/timeline/internal/core/domain"
)

const selectColumns = "id, tenant, event_type, element_type, element_id, occurred_at, modified_by, schema_version, attributes"

// Open connects through the pgx database/sql driver.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// TimelineStore is the postgres implementation of ports.TimelineStore.
type TimelineStore struct {
	db *sql.DB
}

func NewTimelineStore(db *sql.DB) *TimelineStore {
	return &TimelineStore{db: db}
}

func (s *TimelineStore) Append(ctx context.Context, event domain.TimelineEvent) (domain.TimelineEvent, error) {
	const q = `INSERT INTO timeline_events (tenant, event_type, element_type, element_id, occurred_at, modified_by, schema_version, attributes)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`

	event.Timestamp = event.Timestamp.UTC()
	err := s.db.QueryRowContext(ctx, q,
		event.Tenant,
		string(event.EventType),
		event.ElementType,
		event.ElementID,
		event.Timestamp,
		event.ModifiedBy,
		event.SchemaVersion,
		string(event.Attributes),
	).Scan(&event.ID)
	if err != nil {
		return domain.TimelineEvent{}, fmt.Errorf("insert timeline event: %w", err)
	}
	return event, nil
}

func (s *TimelineStore) FindByElement(ctx context.Context, elementType, elementID, tenant string) ([]domain.TimelineEvent, error) {
	q := "SELECT " + selectColumns + " FROM timeline_events WHERE element_type = $1 AND element_id = $2 AND tenant = $3 ORDER BY id ASC"
	return s.query(ctx, "find timeline by element", q, elementType, elementID, tenant)
}

func (s *TimelineStore) FindLatest(ctx context.Context, elementID, elementType string) (domain.TimelineEvent, error) {
	q := "SELECT " + selectColumns + " FROM timeline_events WHERE element_id = $1 AND element_type = $2 ORDER BY occurred_at DESC, id DESC LIMIT 1"
	event, err := scanEvent(s.db.QueryRowContext(ctx, q, elementID, elementType))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.TimelineEvent{}, domain.ErrNotFound
		}
		return domain.TimelineEvent{}, fmt.Errorf("find latest timeline event: %w", err)
	}
	return event, nil
}

func (s *TimelineStore) FindHistory(ctx context.Context, elementID, elementType string) ([]domain.TimelineEvent, error) {
	q := "SELECT " + selectColumns + " FROM timeline_events WHERE element_id = $1 AND element_type = $2 ORDER BY occurred_at ASC, id ASC"
	return s.query(ctx, "find timeline history", q, elementID, elementType)
}

func (s *TimelineStore) List(ctx context.Context, filter domain.TimelineFilter) ([]domain.TimelineEvent, error) {
	var (
		where = []string{"tenant = $1"}
		args  = []any{filter.Tenant}
	)
	if filter.ElementType != "" {
		args = append(args, filter.ElementType)
		where = append(where, fmt.Sprintf("element_type = $%d", len(args)))
	}
	if filter.AfterID > 0 {
		args = append(args, filter.AfterID)
		where = append(where, fmt.Sprintf("id > $%d", len(args)))
	}
	args = append(args, filter.Limit)
	q := fmt.Sprintf("SELECT %s FROM timeline_events WHERE %s ORDER BY id ASC LIMIT $%d", selectColumns, strings.Join(where, " AND "), len(args))
	return s.query(ctx, "list timeline events", q, args...)
}

func (s *TimelineStore) query(ctx context.Context, op, q string, args ...any) ([]domain.TimelineEvent, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var result []domain.TimelineEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		result = append(result, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (domain.TimelineEvent, error) {
	var (
		event      domain.TimelineEvent
		eventType  string
		attributes []byte
	)
	if err := row.Scan(
		&event.ID,
		&event.Tenant,
		&eventType,
		&event.ElementType,
		&event.ElementID,
		&event.Timestamp,
		&event.ModifiedBy,
		&event.SchemaVersion,
		&attributes,
	); err != nil {
		return domain.TimelineEvent{}, err
	}
	event.EventType = domain.EventType(eventType)
	event.Timestamp = event.Timestamp.UTC()
	event.Attributes = json.RawMessage(attributes)
	return event, nil
}
