// Package middleware provides HTTP middleware and the ambient tenant
// context used by the multi-tenant repository factory.
package middleware

import (
	"context"
	"net/http"
)

// DefaultTenantID is the single-tenant fallback used when no tenant is set
// on the call context.
const DefaultTenantID = "default"

const headerTenantID = "X-Tenant-ID"

type tenantCtxKey struct{}

// TenantID is middleware that extracts the tenant ID from the X-Tenant-ID
// header and stores it in the request context. Falls back to
// DefaultTenantID if absent.
func TenantID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tid := r.Header.Get(headerTenantID)
		if tid == "" {
			tid = DefaultTenantID
		}
		next.ServeHTTP(w, r.WithContext(WithTenant(r.Context(), tid)))
	})
}

// WithTenant returns a context carrying the given tenant ID. Non-HTTP
// callers (MCP tools, tests) use this to select a tenant explicitly.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantCtxKey{}, tenantID)
}

// TenantIDFromContext returns the tenant ID stored in ctx, or
// DefaultTenantID if absent.
func TenantIDFromContext(ctx context.Context) string {
	if tid, ok := ctx.Value(tenantCtxKey{}).(string); ok && tid != "" {
		return tid
	}
	return DefaultTenantID
}
