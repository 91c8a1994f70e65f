package ports

import (
	"context"

	"github.com/atvirokodosprendimai/timeline/internal/core/domain"
)

type ArticleRepository interface {
	Create(ctx context.Context, article domain.Article) (domain.Article, error)
	Update(ctx context.Context, article domain.Article) (domain.Article, error)
	Delete(ctx context.Context, tenant, id string) (bool, error)
	Get(ctx context.Context, tenant, id string) (domain.Article, error)
	List(ctx context.Context, tenant string, limit int) ([]domain.Article, error)
}
