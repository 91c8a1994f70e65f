package domain

import "context"

type tenantContextKey struct{}
type actorContextKey struct{}

// WithTenant stores the tenant acting in ctx.
func WithTenant(ctx context.Context, tenant string) context.Context {
	return context.WithValue(ctx, tenantContextKey{}, tenant)
}

func TenantFromContext(ctx context.Context) (string, bool) {
	tenant, ok := ctx.Value(tenantContextKey{}).(string)
	if !ok || tenant == "" {
		return "", false
	}
	return tenant, true
}

// WithActor stores the acting user name in ctx.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (string, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(string)
	if !ok || actor == "" {
		return "", false
	}
	return actor, true
}
