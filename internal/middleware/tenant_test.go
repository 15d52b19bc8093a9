package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTenantIDMiddleware(t *testing.T) {
	var seen string
	handler := TenantID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TenantIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Tenant-ID", "acme")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "acme" {
		t.Fatalf("expected acme, got %q", seen)
	}

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if seen != DefaultTenantID {
		t.Fatalf("expected default tenant, got %q", seen)
	}
}

func TestWithTenantRoundTrip(t *testing.T) {
	ctx := WithTenant(context.Background(), "globex")
	if got := TenantIDFromContext(ctx); got != "globex" {
		t.Fatalf("expected globex, got %q", got)
	}
	if got := TenantIDFromContext(context.Background()); got != DefaultTenantID {
		t.Fatalf("expected default tenant, got %q", got)
	}
	if got := TenantIDFromContext(WithTenant(context.Background(), "")); got != DefaultTenantID {
		t.Fatalf("empty tenant must fall back to default, got %q", got)
	}
}
