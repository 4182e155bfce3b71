package gate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ephemhq/ephem/models"
	"github.com/ephemhq/ephem/storage"
)

func testStore(t *testing.T) *storage.FilesystemStore {
	t.Helper()
	store, err := storage.NewFilesystemStore(t.TempDir(), "", "")
	if err != nil {
		t.Fatalf("failed to create filesystem store: %v", err)
	}
	return store
}

func mustCreate(t *testing.T, store *storage.FilesystemStore, res *models.Resource) {
	t.Helper()
	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now()
	}
	if err := store.Create(context.Background(), res); err != nil {
		t.Fatalf("failed to create resource: %v", err)
	}
}

func TestOpenNotFound(t *testing.T) {
	g := New(testStore(t))
	if _, err := g.Open(context.Background(), models.KindPaste, "missing", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestOpenExpiredBeforeSweep(t *testing.T) {
	store := testStore(t)
	past := time.Now().Add(-time.Hour)
	mustCreate(t, store, &models.Resource{
		Slug: "oldpaste", Kind: models.KindPaste,
		CreatedAt: time.Now().Add(-48 * time.Hour),
		ExpiresAt: &past,
		Content:   []byte("stale"),
	})

	// Logical death precedes physical deletion: the record is still on
	// disk, the gate must refuse it anyway.
	g := New(store)
	if _, err := g.Open(context.Background(), models.KindPaste, "oldpaste", ""); !errors.Is(err, ErrExpired) {
		t.Fatalf("got %v, want ErrExpired", err)
	}
}

func TestOpenExhausted(t *testing.T) {
	store := testStore(t)
	mustCreate(t, store, &models.Resource{
		Slug: "usedup", Kind: models.KindPaste,
		UsageCount: 3, UsageCeiling: 3,
	})

	g := New(store)
	if _, err := g.Open(context.Background(), models.KindPaste, "usedup", ""); !errors.Is(err, ErrExhausted) {
		t.Fatalf("got %v, want ErrExhausted", err)
	}
}

func TestOpenPasswordGating(t *testing.T) {
	store := testStore(t)
	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	mustCreate(t, store, &models.Resource{
		Slug: "locked", Kind: models.KindPaste,
		PasswordHash: hash,
		Content:      []byte("secret"),
	})

	g := New(store)
	ctx := context.Background()

	if _, err := g.Open(ctx, models.KindPaste, "locked", ""); !errors.Is(err, ErrPasswordRequired) {
		t.Fatalf("no password: got %v, want ErrPasswordRequired", err)
	}
	if _, err := g.Open(ctx, models.KindPaste, "locked", "wrong"); !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("wrong password: got %v, want ErrInvalidPassword", err)
	}

	// Failed attempts are free.
	res, err := store.Get(ctx, models.KindPaste, "locked")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if res.UsageCount != 0 {
		t.Fatalf("usage count = %d after failed attempts, want 0", res.UsageCount)
	}

	access, err := g.Open(ctx, models.KindPaste, "locked", "hunter2")
	if err != nil {
		t.Fatalf("correct password: %v", err)
	}
	if access.UsageCount != 1 {
		t.Errorf("usage count = %d after grant, want 1", access.UsageCount)
	}
	if string(access.Resource.Content) != "secret" {
		t.Errorf("content = %q, want %q", access.Resource.Content, "secret")
	}
}

func TestOpenIncrementsExactlyOnce(t *testing.T) {
	store := testStore(t)
	mustCreate(t, store, &models.Resource{
		Slug: "counted", Kind: models.KindURL,
		TargetURL: "https://example.com",
	})

	g := New(store)
	for want := int64(1); want <= 3; want++ {
		access, err := g.Open(context.Background(), models.KindURL, "counted", "")
		if err != nil {
			t.Fatalf("open %d: %v", want, err)
		}
		if access.UsageCount != want {
			t.Errorf("usage count = %d, want %d", access.UsageCount, want)
		}
	}
}

func TestConcurrentOpensNeverOvershootCeiling(t *testing.T) {
	store := testStore(t)
	mustCreate(t, store, &models.Resource{
		Slug: "burnonce", Kind: models.KindPaste,
		UsageCeiling: 1,
		Content:      []byte("read me once"),
	})

	g := New(store)
	const callers = 2
	var wg sync.WaitGroup
	var mu sync.Mutex
	granted, exhausted := 0, 0

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.Open(context.Background(), models.KindPaste, "burnonce", "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				granted++
			case errors.Is(err, ErrExhausted):
				exhausted++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if granted != 1 || exhausted != 1 {
		t.Fatalf("granted=%d exhausted=%d, want exactly 1 and 1", granted, exhausted)
	}

	res, err := store.Get(context.Background(), models.KindPaste, "burnonce")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if res.UsageCount > res.UsageCeiling {
		t.Fatalf("usage count %d exceeds ceiling %d", res.UsageCount, res.UsageCeiling)
	}
}

func TestConcurrentOpensAtBoundary(t *testing.T) {
	store := testStore(t)
	const ceiling = 5
	mustCreate(t, store, &models.Resource{
		Slug: "limited", Kind: models.KindFile,
		UsageCeiling: ceiling,
		Filename:     "x.bin",
	})

	g := New(store)
	const callers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := g.Open(context.Background(), models.KindFile, "limited", ""); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if granted != ceiling {
		t.Fatalf("granted %d of %d concurrent accesses, want exactly %d", granted, callers, ceiling)
	}
	res, _ := store.Get(context.Background(), models.KindFile, "limited")
	if res.UsageCount != ceiling {
		t.Fatalf("usage count = %d, want %d", res.UsageCount, ceiling)
	}
}

func TestPeekDoesNotConsume(t *testing.T) {
	store := testStore(t)
	mustCreate(t, store, &models.Resource{
		Slug: "peeked", Kind: models.KindPaste,
		UsageCeiling: 1,
	})

	g := New(store)
	for i := 0; i < 5; i++ {
		if _, err := g.Peek(context.Background(), models.KindPaste, "peeked"); err != nil {
			t.Fatalf("peek %d: %v", i, err)
		}
	}
	res, _ := store.Get(context.Background(), models.KindPaste, "peeked")
	if res.UsageCount != 0 {
		t.Fatalf("peek consumed uses: count = %d", res.UsageCount)
	}
}
