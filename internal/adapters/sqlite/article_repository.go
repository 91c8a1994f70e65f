package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/atvirokodosprendimai/timeline/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/timeline/internal/core/domain"
)

type articleModel struct {
	ID        string            `gorm:"column:id;primaryKey"`
	Tenant    string            `gorm:"column:tenant;not null"`
	Version   int64             `gorm:"column:version;not null"`
	Title     string            `gorm:"column:title;not null"`
	Body      string            `gorm:"column:body;not null"`
	Published bool              `gorm:"column:published;not null"`
	Metadata  datatypes.JSONMap `gorm:"column:metadata"`
	CreatedBy string            `gorm:"column:created_by;not null"`
	UpdatedBy string            `gorm:"column:updated_by;not null"`
	CreatedAt time.Time         `gorm:"column:created_at;not null;autoCreateTime:false"`
	UpdatedAt time.Time         `gorm:"column:updated_at;not null;autoUpdateTime:false"`
}

func (articleModel) TableName() string {
	return "articles"
}

// TimelineSnapshot makes articles visible to the capture plugin.
func (m articleModel) TimelineSnapshot() (domain.ElementSnapshot, error) {
	attributes, err := domain.SnapshotAttributes(m.toDomain())
	if err != nil {
		return domain.ElementSnapshot{}, err
	}
	return domain.ElementSnapshot{
		ElementType: domain.ArticleElementType,
		ElementID:   m.ID,
		Tenant:      m.Tenant,
		CreatedBy:   m.CreatedBy,
		UpdatedBy:   m.UpdatedBy,
		Attributes:  attributes,
	}, nil
}

// ArticleRepository writes through the write pool without an explicit
// transaction so that capture callbacks run after gorm commits.
type ArticleRepository struct {
	db *gormsqlite.DB
}

func NewArticleRepository(db *gormsqlite.DB) *ArticleRepository {
	return &ArticleRepository{db: db}
}

func (r *ArticleRepository) Create(ctx context.Context, article domain.Article) (domain.Article, error) {
	model := fromDomainArticle(article)
	if err := r.db.W.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.Article{}, fmt.Errorf("create article: %w", err)
	}
	return model.toDomain(), nil
}

func (r *ArticleRepository) Update(ctx context.Context, article domain.Article) (domain.Article, error) {
	model := fromDomainArticle(article)
	result := r.db.W.WithContext(ctx).
		Model(&model).
		Select("*").
		Where("tenant = ?", article.Tenant).
		Updates(&model)
	if result.Error != nil {
		return domain.Article{}, fmt.Errorf("update article: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.Article{}, domain.ErrNotFound
	}
	return model.toDomain(), nil
}

func (r *ArticleRepository) Delete(ctx context.Context, tenant, id string) (bool, error) {
	var model articleModel
	err := r.db.W.WithContext(ctx).Where("tenant = ? AND id = ?", tenant, id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("load article: %w", err)
	}

	result := r.db.W.WithContext(ctx).Where("tenant = ?", tenant).Delete(&model)
	if result.Error != nil {
		return false, fmt.Errorf("delete article: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *ArticleRepository) Get(ctx context.Context, tenant, id string) (domain.Article, error) {
	var model articleModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("tenant = ? AND id = ?", tenant, id).First(&model).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Article{}, domain.ErrNotFound
		}
		return domain.Article{}, fmt.Errorf("get article: %w", err)
	}
	return model.toDomain(), nil
}

func (r *ArticleRepository) List(ctx context.Context, tenant string, limit int) ([]domain.Article, error) {
	var rows []articleModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("tenant = ?", tenant).Order("created_at ASC, id ASC").Limit(limit).Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	result := make([]domain.Article, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func fromDomainArticle(a domain.Article) articleModel {
	var metadata datatypes.JSONMap
	if a.Metadata != nil {
		metadata = datatypes.JSONMap(a.Metadata)
	}
	return articleModel{
		ID:        a.ID,
		Tenant:    a.Tenant,
		Version:   a.Version,
		Title:     a.Title,
		Body:      a.Body,
		Published: a.Published,
		Metadata:  metadata,
		CreatedBy: a.CreatedBy,
		UpdatedBy: a.UpdatedBy,
		CreatedAt: a.CreatedAt.UTC(),
		UpdatedAt: a.UpdatedAt.UTC(),
	}
}

func (m articleModel) toDomain() domain.Article {
	var metadata map[string]any
	if m.Metadata != nil {
		metadata = map[string]any(m.Metadata)
	}
	return domain.Article{
		ID:        m.ID,
		Tenant:    m.Tenant,
		Version:   m.Version,
		Title:     m.Title,
		Body:      m.Body,
		Published: m.Published,
		Metadata:  metadata,
		CreatedBy: m.CreatedBy,
		UpdatedBy: m.UpdatedBy,
		CreatedAt: m.CreatedAt.UTC(),
		UpdatedAt: m.UpdatedAt.UTC(),
	}
}
