package storage

import (
	"context"
	"testing"
)

func TestTenantContext(t *testing.T) {
	ctx := context.Background()

	if got := GetTenant(ctx); got != "" {
		t.Errorf("empty context should have no tenant, got %q", got)
	}

	ctx = SetTenant(ctx, "tenant-a")
	if got := GetTenant(ctx); got != "tenant-a" {
		t.Errorf("GetTenant = %q, want tenant-a", got)
	}

	// Nested override wins.
	inner := SetTenant(ctx, "tenant-b")
	if got := GetTenant(inner); got != "tenant-b" {
		t.Errorf("GetTenant = %q, want tenant-b", got)
	}
	if got := GetTenant(ctx); got != "tenant-a" {
		t.Errorf("outer context mutated: %q", got)
	}
}
