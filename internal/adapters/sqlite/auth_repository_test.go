package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/atvirokodosprendimai/timeline/internal/core/domain"
)

func TestAPIKeyRepositoryUpsertKeepsCreatedAt(t *testing.T) {
	repo := NewAPIKeyRepository(openTestDB(t))
	ctx := context.Background()
	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := repo.Upsert(ctx, domain.APIKey{TokenHash: "h1", TenantID: "t1", Name: "seed", Active: true, CreatedAt: first}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := repo.Upsert(ctx, domain.APIKey{TokenHash: "h1", TenantID: "t2", Name: "renamed", Active: false, CreatedAt: first.Add(time.Hour)}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := repo.FindByTokenHash(ctx, "h1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.TenantID != "t2" || got.Name != "renamed" || got.Active {
		t.Fatalf("update not applied: %+v", got)
	}
	if !got.CreatedAt.Equal(first) {
		t.Fatalf("created_at = %v, want %v", got.CreatedAt, first)
	}
}

func TestAPIKeyRepositoryMissingKey(t *testing.T) {
	repo := NewAPIKeyRepository(openTestDB(t))
	_, err := repo.FindByTokenHash(context.Background(), "nope")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
