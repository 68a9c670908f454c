package auth

import (
	"context"
	"errors"
)

type ctxKey int

const ctxTenantScope ctxKey = iota

// WithTenantScope records the tenant a verified token grants.
func WithTenantScope(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, ctxTenantScope, tenantID)
}

func TenantScope(ctx context.Context) (string, error) {
	v := ctx.Value(ctxTenantScope)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("tenant scope not in context")
}
