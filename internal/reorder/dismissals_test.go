package reorder

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"labcore/pkg/domain"
)

func exerciseDismissals(t *testing.T, d Dismissals) {
	t.Helper()
	ctx := context.Background()
	session := "s-" + uuid.NewString()
	suggestions := []domain.ReorderSuggestion{{InventoryItemID: "a"}, {InventoryItemID: "b"}, {InventoryItemID: "c"}}

	if err := d.Dismiss(ctx, session, "b"); err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	dismissed, err := d.Dismissed(ctx, session)
	if err != nil {
		t.Fatalf("dismissed: %v", err)
	}
	got := Filter(suggestions, dismissed)
	if len(got) != 2 || got[0].InventoryItemID != "a" || got[1].InventoryItemID != "c" {
		t.Fatalf("filter = %+v", got)
	}
	other, _ := d.Dismissed(ctx, session+"-other")
	if len(Filter(suggestions, other)) != 3 {
		t.Fatalf("overlay leaked into another session")
	}
	if err := d.Clear(ctx, session); err != nil {
		t.Fatalf("clear: %v", err)
	}
	dismissed, _ = d.Dismissed(ctx, session)
	if len(Filter(suggestions, dismissed)) != 3 {
		t.Fatalf("cleared session should re-surface everything")
	}
	if err := d.Dismiss(ctx, "", "a"); !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestMemoryDismissals(t *testing.T) {
	exerciseDismissals(t, NewMemoryDismissals(0))
}

func TestMemoryDismissalsExpire(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d := NewMemoryDismissals(time.Hour)
	d.SetNowFunc(func() time.Time { return now })
	if err := d.Dismiss(context.Background(), "s", "a"); err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	now = now.Add(59 * time.Minute)
	if got, _ := d.Dismissed(context.Background(), "s"); !got["a"] {
		t.Fatalf("dismissal expired early")
	}
	now = now.Add(2 * time.Minute)
	if got, _ := d.Dismissed(context.Background(), "s"); got["a"] {
		t.Fatalf("dismissal outlived its session")
	}
}

func TestRedisDismissals(t *testing.T) {
	addr := os.Getenv("LABCORE_REDIS_ADDR")
	if addr == "" {
		t.Skip("LABCORE_REDIS_ADDR not set")
	}
	client, err := NewRedisClient(context.Background(), RedisOptions{Addr: addr})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()
	exerciseDismissals(t, NewRedisDismissals(client, time.Minute))
}
