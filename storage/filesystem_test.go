package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ephemhq/ephem/models"
)

func newTestStore(t *testing.T) *FilesystemStore {
	t.Helper()
	store, err := NewFilesystemStore(t.TempDir(), "", "")
	if err != nil {
		t.Fatalf("failed to create filesystem store: %v", err)
	}
	return store
}

func TestCreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	expires := time.Now().Add(time.Hour).Truncate(time.Second)

	res := &models.Resource{
		Slug:         "abc123",
		Kind:         models.KindPaste,
		CreatedAt:    time.Now().Truncate(time.Second),
		ExpiresAt:    &expires,
		UsageCeiling: 5,
		Content:      []byte("hello"),
		Size:         5,
	}
	if err := store.Create(ctx, res); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := store.Get(ctx, models.KindPaste, "abc123")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Slug != "abc123" || got.Kind != models.KindPaste {
		t.Errorf("got %s/%s, want paste/abc123", got.Kind, got.Slug)
	}
	if string(got.Content) != "hello" {
		t.Errorf("content = %q, want %q", got.Content, "hello")
	}
	if got.UsageCeiling != 5 {
		t.Errorf("ceiling = %d, want 5", got.UsageCeiling)
	}

	if _, err := store.Get(ctx, models.KindURL, "abc123"); !errors.Is(err, ErrNotFound) {
		t.Errorf("get on other kind: %v, want ErrNotFound", err)
	}
}

func TestCreateDuplicateSlugFails(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := &models.Resource{Slug: "abc123", Kind: models.KindURL, CreatedAt: time.Now()}
	if err := store.Create(ctx, first); err != nil {
		t.Fatalf("first create: %v", err)
	}

	second := &models.Resource{Slug: "abc123", Kind: models.KindURL, CreatedAt: time.Now()}
	if err := store.Create(ctx, second); !errors.Is(err, ErrSlugTaken) {
		t.Fatalf("second create: %v, want ErrSlugTaken", err)
	}

	// Different kind, same slug: fine.
	other := &models.Resource{Slug: "abc123", Kind: models.KindQR, CreatedAt: time.Now()}
	if err := store.Create(ctx, other); err != nil {
		t.Fatalf("create on other kind: %v", err)
	}
}

func TestIncrementUsageHonorsCeiling(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	res := &models.Resource{Slug: "capped", Kind: models.KindPaste, CreatedAt: time.Now(), UsageCeiling: 2}
	if err := store.Create(ctx, res); err != nil {
		t.Fatalf("create: %v", err)
	}

	for want := int64(1); want <= 2; want++ {
		count, err := store.IncrementUsage(ctx, models.KindPaste, "capped")
		if err != nil {
			t.Fatalf("increment %d: %v", want, err)
		}
		if count != want {
			t.Errorf("count = %d, want %d", count, want)
		}
	}

	if _, err := store.IncrementUsage(ctx, models.KindPaste, "capped"); !errors.Is(err, ErrCeilingReached) {
		t.Fatalf("over-ceiling increment: %v, want ErrCeilingReached", err)
	}

	if _, err := store.IncrementUsage(ctx, models.KindPaste, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("increment on absent record: %v, want ErrNotFound", err)
	}
}

func TestIncrementUsageUnlimitedWithoutCeiling(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	res := &models.Resource{Slug: "open", Kind: models.KindURL, CreatedAt: time.Now()}
	if err := store.Create(ctx, res); err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 0; i < 50; i++ {
		if _, err := store.IncrementUsage(ctx, models.KindURL, "open"); err != nil {
			t.Fatalf("increment %d: %v", i, err)
		}
	}
}

func TestConcurrentIncrementsNeverExceedCeiling(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	const ceiling = 10

	res := &models.Resource{Slug: "raced", Kind: models.KindFile, CreatedAt: time.Now(), UsageCeiling: ceiling}
	if err := store.Create(ctx, res); err != nil {
		t.Fatalf("create: %v", err)
	}

	const callers = 40
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.IncrementUsage(ctx, models.KindFile, "raced"); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != ceiling {
		t.Errorf("%d increments succeeded, want exactly %d", succeeded, ceiling)
	}
	got, _ := store.Get(ctx, models.KindFile, "raced")
	if got.UsageCount != ceiling {
		t.Errorf("final count = %d, want %d", got.UsageCount, ceiling)
	}
}

func TestPayloadRoundTripAndIdempotentDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.StorePayload(ctx, models.KindFile, "blob1", []byte("payload bytes")); err != nil {
		t.Fatalf("store payload: %v", err)
	}
	got, err := store.GetPayload(ctx, models.KindFile, "blob1")
	if err != nil {
		t.Fatalf("get payload: %v", err)
	}
	if string(got) != "payload bytes" {
		t.Errorf("payload = %q", got)
	}

	if err := store.DeletePayload(ctx, models.KindFile, "blob1"); err != nil {
		t.Fatalf("delete payload: %v", err)
	}
	// Idempotent: deleting again succeeds.
	if err := store.DeletePayload(ctx, models.KindFile, "blob1"); err != nil {
		t.Fatalf("second delete payload: %v", err)
	}
	if _, err := store.GetPayload(ctx, models.KindFile, "blob1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("get after delete: %v, want ErrNotFound", err)
	}
}

func TestBulkDeletes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	old := now.Add(-100 * 24 * time.Hour)

	records := []*models.Resource{
		{Slug: "expired1", Kind: models.KindPaste, CreatedAt: now, ExpiresAt: &past},
		{Slug: "expired2", Kind: models.KindPaste, CreatedAt: now, ExpiresAt: &past},
		{Slug: "alive", Kind: models.KindPaste, CreatedAt: now, ExpiresAt: &future},
		{Slug: "done", Kind: models.KindPaste, CreatedAt: now, UsageCount: 4, UsageCeiling: 4},
		{Slug: "idle", Kind: models.KindPaste, CreatedAt: old},
	}
	for _, res := range records {
		if err := store.Create(ctx, res); err != nil {
			t.Fatalf("create %s: %v", res.Slug, err)
		}
	}

	expired, err := store.DeleteExpired(ctx, models.KindPaste, now)
	if err != nil || expired != 2 {
		t.Fatalf("DeleteExpired = %d, %v; want 2, nil", expired, err)
	}
	exhausted, err := store.DeleteExhausted(ctx, models.KindPaste)
	if err != nil || exhausted != 1 {
		t.Fatalf("DeleteExhausted = %d, %v; want 1, nil", exhausted, err)
	}
	idle, err := store.DeleteIdle(ctx, models.KindPaste, now.Add(-90*24*time.Hour))
	if err != nil || idle != 1 {
		t.Fatalf("DeleteIdle = %d, %v; want 1, nil", idle, err)
	}

	if ok, _ := store.Exists(ctx, models.KindPaste, "alive"); !ok {
		t.Error("live record was bulk-deleted")
	}
}

func TestFindDead(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	past := now.Add(-time.Hour)

	records := []*models.Resource{
		{Slug: "gone1", Kind: models.KindFile, CreatedAt: now, ExpiresAt: &past},
		{Slug: "gone2", Kind: models.KindFile, CreatedAt: now, UsageCount: 1, UsageCeiling: 1},
		{Slug: "fresh", Kind: models.KindFile, CreatedAt: now},
	}
	for _, res := range records {
		if err := store.Create(ctx, res); err != nil {
			t.Fatalf("create %s: %v", res.Slug, err)
		}
	}

	dead, err := store.FindDead(ctx, models.KindFile, now, 100)
	if err != nil {
		t.Fatalf("find dead: %v", err)
	}
	if len(dead) != 2 {
		t.Fatalf("found %d dead records, want 2", len(dead))
	}
	for _, res := range dead {
		if res.Slug == "fresh" {
			t.Error("live record reported dead")
		}
	}
}
