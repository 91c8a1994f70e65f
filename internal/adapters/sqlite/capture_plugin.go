package sqlite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	"gorm.io/gorm"

	"github.com/atvirokodosprendimai/timeline/internal/core/domain"
	"github.com/atvirokodosprendimai/timeline/internal/core/ports"
	"github.com/atvirokodosprendimai/timeline/internal/logging"
)

const pendingCaptureKey = "timeline:pending_capture"

// CapturePlugin hooks gorm create, update and delete so that every committed
// change of a domain.Timelined model produces a timeline message.
//
// Messages are prepared after the statement runs and before gorm commits its
// implicit transaction, so a missing tenant or identity rolls the write back.
// They are dispatched after the commit; dispatch failures are only logged.
//
// Bulk updates and deletes (Model(&T{}).Where(...).Updates(map) and the like)
// carry no loaded row, so they are not captured.
type CapturePlugin struct {
	capturer ports.EventCapturer
	logger   *slog.Logger
}

func NewCapturePlugin(capturer ports.EventCapturer, logger *slog.Logger) *CapturePlugin {
	return &CapturePlugin{capturer: capturer, logger: logging.OrDefault(logger)}
}

func (p *CapturePlugin) Name() string {
	return "timeline:capture"
}

func (p *CapturePlugin) Initialize(db *gorm.DB) error {
	const commit = "gorm:commit_or_rollback_transaction"
	cb := db.Callback()
	err := errors.Join(
		cb.Create().After("gorm:after_create").Before(commit).Register("timeline:create_prepare", p.prepare(domain.EventCreated)),
		cb.Create().After(commit).Register("timeline:create_dispatch", p.dispatch),
		cb.Update().After("gorm:after_update").Before(commit).Register("timeline:update_prepare", p.prepare(domain.EventUpdated)),
		cb.Update().After(commit).Register("timeline:update_dispatch", p.dispatch),
		cb.Delete().After("gorm:after_delete").Before(commit).Register("timeline:delete_prepare", p.prepare(domain.EventDeleted)),
		cb.Delete().After(commit).Register("timeline:delete_dispatch", p.dispatch),
	)
	if err != nil {
		return fmt.Errorf("register timeline callbacks: %w", err)
	}
	return nil
}

func (p *CapturePlugin) prepare(kind domain.EventType) func(*gorm.DB) {
	return func(tx *gorm.DB) {
		if tx.Error != nil || tx.RowsAffected == 0 || tx.Statement == nil {
			return
		}
		targets := timelinedTargets(tx.Statement)
		if len(targets) == 0 {
			return
		}

		ctx := statementContext(tx)
		msgs := make([]domain.TimelineMessage, 0, len(targets))
		for _, target := range targets {
			snap, err := target.TimelineSnapshot()
			if err != nil {
				_ = tx.AddError(fmt.Errorf("timeline snapshot: %w", err))
				return
			}
			if snap.ElementID == "" && kind != domain.EventCreated {
				p.logger.Debug("bulk write not captured",
					"event_type", string(kind),
					"element_type", snap.ElementType,
					"table", tx.Statement.Table,
				)
				continue
			}
			msg, err := p.capturer.Prepare(ctx, kind, snap)
			if err != nil {
				_ = tx.AddError(err)
				return
			}
			msgs = append(msgs, msg)
		}
		if len(msgs) > 0 {
			tx.InstanceSet(pendingCaptureKey, msgs)
		}
	}
}

func (p *CapturePlugin) dispatch(tx *gorm.DB) {
	if tx.Error != nil || tx.Statement == nil {
		return
	}
	pending, ok := tx.InstanceGet(pendingCaptureKey)
	if !ok {
		return
	}
	msgs, _ := pending.([]domain.TimelineMessage)
	ctx := statementContext(tx)
	for _, msg := range msgs {
		if err := p.capturer.Dispatch(ctx, msg); err != nil {
			p.logger.Warn("timeline dispatch failed",
				"event_type", string(msg.EventType),
				"element_type", msg.ElementType,
				"element_id", msg.ElementID,
				"tenant", msg.Tenant,
				"error", err,
			)
		}
	}
}

func statementContext(tx *gorm.DB) context.Context {
	if tx.Statement.Context != nil {
		return tx.Statement.Context
	}
	return context.Background()
}

// timelinedTargets returns the written values that opt into capture.
func timelinedTargets(stmt *gorm.Statement) []domain.Timelined {
	if t, ok := stmt.Dest.(domain.Timelined); ok {
		return []domain.Timelined{t}
	}

	rv := stmt.ReflectValue
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]domain.Timelined, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			if t, ok := asTimelined(rv.Index(i)); ok {
				out = append(out, t)
			}
		}
		return out
	case reflect.Struct, reflect.Pointer:
		if t, ok := asTimelined(rv); ok {
			return []domain.Timelined{t}
		}
	}
	return nil
}

func asTimelined(v reflect.Value) (domain.Timelined, bool) {
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil, false
		}
		v = v.Elem()
	}
	if !v.IsValid() || !v.CanInterface() {
		return nil, false
	}
	t, ok := v.Interface().(domain.Timelined)
	return t, ok
}
