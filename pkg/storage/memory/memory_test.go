package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stapel-ai/stapel/pkg/api"
	"github.com/stapel-ai/stapel/pkg/storage"
	"github.com/stapel-ai/stapel/pkg/transport"
)

func testRun(id string, createdAt int64) *api.Run {
	return &api.Run{
		ID:        id,
		Object:    "batch_run",
		Status:    api.RunStatusCompleted,
		Model:     "gpt-test",
		CreatedAt: createdAt,
	}
}

func TestSaveGetDelete(t *testing.T) {
	s := New(0)
	ctx := context.Background()

	run := testRun("run_a", 100)
	if err := s.SaveRun(ctx, run); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetRun(ctx, "run_a")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "run_a" {
		t.Errorf("got %q", got.ID)
	}

	if err := s.SaveRun(ctx, run); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("duplicate save: %v", err)
	}

	if err := s.DeleteRun(ctx, "run_a"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetRun(ctx, "run_a"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("deleted run still readable: %v", err)
	}
	if err := s.DeleteRun(ctx, "run_a"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second delete: %v", err)
	}
}

func TestTenantScoping(t *testing.T) {
	s := New(0)

	ctxA := storage.SetTenant(context.Background(), "tenant-a")
	ctxB := storage.SetTenant(context.Background(), "tenant-b")

	if err := s.SaveRun(ctxA, testRun("run_a", 1)); err != nil {
		t.Fatal(err)
	}

	if _, err := s.GetRun(ctxB, "run_a"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("cross-tenant read should fail, got %v", err)
	}
	if err := s.DeleteRun(ctxB, "run_a"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("cross-tenant delete should fail, got %v", err)
	}
	if _, err := s.GetRun(ctxA, "run_a"); err != nil {
		t.Errorf("owner read failed: %v", err)
	}
}

func TestLRUEviction(t *testing.T) {
	s := New(2)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if err := s.SaveRun(ctx, testRun(fmt.Sprintf("run_%d", i), int64(i))); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := s.GetRun(ctx, "run_1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("oldest entry should be evicted, got %v", err)
	}
	if _, err := s.GetRun(ctx, "run_3"); err != nil {
		t.Errorf("newest entry missing: %v", err)
	}
}

func TestListRuns(t *testing.T) {
	s := New(0)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		run := testRun(fmt.Sprintf("run_%d", i), int64(i*100))
		if i == 2 {
			run.Status = api.RunStatusPartial
		}
		if err := s.SaveRun(ctx, run); err != nil {
			t.Fatal(err)
		}
	}

	// Default order is newest first.
	list, err := s.ListRuns(ctx, transport.ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(list.Data) != 5 || list.Data[0].ID != "run_5" {
		t.Errorf("default list: %+v", list.Data)
	}

	// Limit with pagination cursor.
	list, err = s.ListRuns(ctx, transport.ListOptions{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(list.Data) != 2 || !list.HasMore || list.LastID != "run_4" {
		t.Errorf("limited list: %+v hasMore=%v", list.Data, list.HasMore)
	}

	list, err = s.ListRuns(ctx, transport.ListOptions{Limit: 2, After: list.LastID})
	if err != nil {
		t.Fatal(err)
	}
	if len(list.Data) != 2 || list.Data[0].ID != "run_3" {
		t.Errorf("page 2: %+v", list.Data)
	}

	// Status filter.
	list, err = s.ListRuns(ctx, transport.ListOptions{Status: "partial"})
	if err != nil {
		t.Fatal(err)
	}
	if len(list.Data) != 1 || list.Data[0].ID != "run_2" {
		t.Errorf("status filter: %+v", list.Data)
	}

	// Ascending order.
	list, err = s.ListRuns(ctx, transport.ListOptions{Order: "asc"})
	if err != nil {
		t.Fatal(err)
	}
	if list.Data[0].ID != "run_1" {
		t.Errorf("asc order: %+v", list.Data)
	}
}
