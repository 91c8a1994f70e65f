package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/atvirokodosprendimai/timeline/internal/core/domain"
	"github.com/atvirokodosprendimai/timeline/internal/core/ports"
)

// ArticleService manages articles on behalf of the tenant and actor found in
// the request context. Timeline capture happens in the repository.
type ArticleService struct {
	repo ports.ArticleRepository
	now  func() time.Time
}

func NewArticleService(repo ports.ArticleRepository) *ArticleService {
	return &ArticleService{repo: repo, now: time.Now}
}

func (s *ArticleService) Create(ctx context.Context, in domain.Article) (domain.Article, error) {
	tenant, ok := domain.TenantFromContext(ctx)
	if !ok {
		return domain.Article{}, domain.ErrMissingTenant
	}
	if err := in.Validate(); err != nil {
		return domain.Article{}, err
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	} else if err := domain.ValidateKey(in.ID); err != nil {
		return domain.Article{}, err
	}

	actor, _ := domain.ActorFromContext(ctx)
	now := s.now().UTC()
	in.Tenant = tenant
	in.Version = 1
	in.CreatedBy = actor
	in.UpdatedBy = ""
	in.CreatedAt = now
	in.UpdatedAt = now
	return s.repo.Create(ctx, in)
}

// Update replaces the editable fields of an existing article.
func (s *ArticleService) Update(ctx context.Context, id string, in domain.Article) (domain.Article, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return domain.Article{}, err
	}
	if err := in.Validate(); err != nil {
		return domain.Article{}, err
	}

	actor, _ := domain.ActorFromContext(ctx)
	current.Title = in.Title
	current.Body = in.Body
	current.Published = in.Published
	current.Metadata = in.Metadata
	current.UpdatedBy = actor
	current.UpdatedAt = s.now().UTC()
	current.Version++
	return s.repo.Update(ctx, current)
}

func (s *ArticleService) Delete(ctx context.Context, id string) (bool, error) {
	tenant, ok := domain.TenantFromContext(ctx)
	if !ok {
		return false, domain.ErrMissingTenant
	}
	if err := domain.ValidateKey(id); err != nil {
		return false, err
	}
	return s.repo.Delete(ctx, tenant, id)
}

func (s *ArticleService) Get(ctx context.Context, id string) (domain.Article, error) {
	tenant, ok := domain.TenantFromContext(ctx)
	if !ok {
		return domain.Article{}, domain.ErrMissingTenant
	}
	if err := domain.ValidateKey(id); err != nil {
		return domain.Article{}, err
	}
	return s.repo.Get(ctx, tenant, id)
}

func (s *ArticleService) List(ctx context.Context, limit int) ([]domain.Article, error) {
	tenant, ok := domain.TenantFromContext(ctx)
	if !ok {
		return nil, domain.ErrMissingTenant
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return s.repo.List(ctx, tenant, limit)
}
