package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/atvirokodosprendimai/timeline/internal/core/domain"
	"github.com/atvirokodosprendimai/timeline/internal/core/ports"
)

var ErrUnauthorized = errors.New("unauthorized")

type AuthService struct {
	repo ports.APIKeyRepository
}

func NewAuthService(repo ports.APIKeyRepository) *AuthService {
	return &AuthService{repo: repo}
}

// Authorize resolves token and returns ctx carrying the key's tenant and
// name as the acting user, which timeline capture reads back.
func (s *AuthService) Authorize(ctx context.Context, token string) (context.Context, domain.APIKey, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return ctx, domain.APIKey{}, ErrUnauthorized
	}

	apiKey, err := s.repo.FindByTokenHash(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return ctx, domain.APIKey{}, ErrUnauthorized
		}
		return ctx, domain.APIKey{}, err
	}
	if !apiKey.Active {
		return ctx, domain.APIKey{}, ErrUnauthorized
	}

	ctx = domain.WithTenant(ctx, apiKey.TenantID)
	if apiKey.Name != "" {
		ctx = domain.WithActor(ctx, apiKey.Name)
	}
	return ctx, apiKey, nil
}

// Bootstrap registers an active key for tenant, used to seed a fresh database.
func (s *AuthService) Bootstrap(ctx context.Context, token, tenant, name string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	if err := domain.ValidateKey(tenant); err != nil {
		return err
	}
	return s.repo.Upsert(ctx, domain.APIKey{
		TokenHash: HashToken(token),
		TenantID:  tenant,
		Name:      name,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	})
}

func HashToken(token string) string {
	digest := sha256.Sum256([]byte(token))
	return hex.EncodeToString(digest[:])
}
