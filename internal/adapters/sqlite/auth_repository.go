package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/atvirokodosprendimai/timeline/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/timeline/internal/core/domain"
)

// apiKeyRow is not captured on the timeline; it does not implement domain.Timelined.
type apiKeyRow struct {
	TokenHash string    `gorm:"column:token_hash;primaryKey"`
	TenantID  string    `gorm:"column:tenant_id;not null"`
	Name      string    `gorm:"column:name;not null"`
	Active    bool      `gorm:"column:active;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null;autoCreateTime:false"`
}

func (apiKeyRow) TableName() string {
	return "api_keys"
}

func (r apiKeyRow) toDomain() domain.APIKey {
	return domain.APIKey{
		TokenHash: r.TokenHash,
		TenantID:  r.TenantID,
		Name:      r.Name,
		Active:    r.Active,
		CreatedAt: r.CreatedAt.UTC(),
	}
}

// APIKeyRepository resolves hashed API tokens to tenants.
type APIKeyRepository struct {
	db *gormsqlite.DB
}

func NewAPIKeyRepository(db *gormsqlite.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

func (r *APIKeyRepository) FindByTokenHash(ctx context.Context, tokenHash string) (domain.APIKey, error) {
	var row apiKeyRow
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Take(&row, "token_hash = ?", tokenHash).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.APIKey{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.APIKey{}, fmt.Errorf("find api key: %w", err)
	}
	return row.toDomain(), nil
}

// Upsert keeps the original created_at of an existing key.
func (r *APIKeyRepository) Upsert(ctx context.Context, key domain.APIKey) error {
	row := apiKeyRow{
		TokenHash: key.TokenHash,
		TenantID:  key.TenantID,
		Name:      key.Name,
		Active:    key.Active,
		CreatedAt: key.CreatedAt.UTC(),
	}
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "token_hash"}},
			DoUpdates: clause.AssignmentColumns([]string{"tenant_id", "name", "active"}),
		}).Create(&row).Error
	})
	if err != nil {
		return fmt.Errorf("upsert api key %s: %w", key.Name, err)
	}
	return nil
}
