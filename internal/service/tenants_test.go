package service_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/planvault/planvault/internal/domain/entity"
	"github.com/planvault/planvault/internal/middleware"
	"github.com/planvault/planvault/internal/service"
)

func newTenantFactories(t *testing.T, root string) *service.TenantFactories {
	t.Helper()
	tf, err := service.NewTenantFactories(service.TenantFactoriesOptions{
		Root: root,
		Log:  slog.Default(),
	})
	if err != nil {
		t.Fatalf("NewTenantFactories: %v", err)
	}
	t.Cleanup(tf.Close)
	return tf
}

func TestTenantResolution(t *testing.T) {
	tf := newTenantFactories(t, t.TempDir())

	if got := tf.Tenant(context.Background()); got != middleware.DefaultTenantID {
		t.Fatalf("expected default tenant, got %q", got)
	}
	ctx := middleware.WithTenant(context.Background(), "acme")
	if got := tf.Tenant(ctx); got != "acme" {
		t.Fatalf("expected acme, got %q", got)
	}
}

func TestForMemoizesPerTenant(t *testing.T) {
	tf := newTenantFactories(t, t.TempDir())
	ctx := middleware.WithTenant(context.Background(), "acme")

	a, err := tf.For(ctx)
	if err != nil {
		t.Fatalf("For: %v", err)
	}
	b, err := tf.For(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatal("same tenant must return the identical factory")
	}

	other, err := tf.For(middleware.WithTenant(context.Background(), "globex"))
	if err != nil {
		t.Fatal(err)
	}
	if other == a {
		t.Fatal("different tenants must not share a factory")
	}
}

func TestTenantsAreIsolatedOnDisk(t *testing.T) {
	root := t.TempDir()
	tf := newTenantFactories(t, root)

	acme := middleware.WithTenant(context.Background(), "acme")
	globex := middleware.WithTenant(context.Background(), "globex")

	fa, err := tf.For(acme)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fa.EntityRepo(entity.KindRequirement, "p-1").Create(acme, &entity.Entity{ID: "r-1"}); err != nil {
		t.Fatal(err)
	}

	fg, err := tf.For(globex)
	if err != nil {
		t.Fatal(err)
	}
	exists, err := fg.EntityRepo(entity.KindRequirement, "p-1").Exists(globex, "r-1")
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Fatal("tenant data leaked across subtrees")
	}
	if _, err := os.Stat(filepath.Join(root, "acme", "plans", "p-1")); err != nil {
		t.Fatalf("expected acme subtree on disk: %v", err)
	}
}

func TestFailedInitIsEvictedAndRetried(t *testing.T) {
	root := t.TempDir()
	tf := newTenantFactories(t, root)
	ctx := middleware.WithTenant(context.Background(), "broken")

	// A regular file where the tenant's lock directory should go makes
	// initialization fail.
	if err := os.MkdirAll(filepath.Join(root, "broken"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "broken", ".locks"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := tf.For(ctx); err == nil {
		t.Fatal("expected initialization to fail")
	}

	// Once the obstacle is gone, the same tenant must initialize cleanly.
	if err := os.Remove(filepath.Join(root, "broken", ".locks")); err != nil {
		t.Fatal(err)
	}
	if _, err := tf.For(ctx); err != nil {
		t.Fatalf("retry after eviction should succeed: %v", err)
	}
}

func TestCustomResolver(t *testing.T) {
	tf, err := service.NewTenantFactories(service.TenantFactoriesOptions{
		Root:     t.TempDir(),
		Log:      slog.Default(),
		Resolver: func(context.Context) string { return "pinned" },
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(tf.Close)

	if got := tf.Tenant(context.Background()); got != "pinned" {
		t.Fatalf("expected pinned, got %q", got)
	}
}

func TestCloseRejectsFurtherUse(t *testing.T) {
	tf := newTenantFactories(t, t.TempDir())
	tf.Close()

	if _, err := tf.For(context.Background()); err == nil {
		t.Fatal("expected an error after Close")
	}
}
