package services

import "context"

type ctxKey int

const (
	tenantKey ctxKey = iota
	bearerKey
)

// WithTenant scopes backend calls made with ctx to a restaurant subdomain.
func WithTenant(ctx context.Context, subdomain string) context.Context {
	return context.WithValue(ctx, tenantKey, subdomain)
}

func TenantFrom(ctx context.Context) string {
	s, _ := ctx.Value(tenantKey).(string)
	return s
}

// WithBearer overrides the backend token used for staff calls made with ctx.
func WithBearer(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, bearerKey, token)
}

func bearerFrom(ctx context.Context) string {
	s, _ := ctx.Value(bearerKey).(string)
	return s
}
