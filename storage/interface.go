package storage

import (
	"context"
	"errors"
	"time"

	"github.com/ephemhq/ephem/models"
)

// Sentinel errors shared by all backends. Callers branch on these rather
// than inspecting error strings.
var (
	// ErrNotFound is returned when no record exists for a (kind, slug).
	ErrNotFound = errors.New("resource not found")

	// ErrSlugTaken is returned by Create when a live record already holds
	// the slug. The store's uniqueness constraint is the authoritative
	// collision signal; allocator-side existence checks are only an
	// optimistic pre-check.
	ErrSlugTaken = errors.New("slug already taken")

	// ErrCeilingReached is returned by IncrementUsage when the conditional
	// increment finds the usage ceiling already met.
	ErrCeilingReached = errors.New("usage ceiling reached")

	// ErrUnavailable wraps backend connectivity failures so callers can
	// surface them as transient.
	ErrUnavailable = errors.New("storage unavailable")
)

// ResourceStore is the persistence interface for all resource kinds.
//
// Implementations must make Create and IncrementUsage atomic: Create fails
// with ErrSlugTaken on a duplicate (kind, slug) rather than overwriting,
// and IncrementUsage verifies the ceiling and applies the increment as a
// single operation, never a read followed by a separate write.
type ResourceStore interface {
	// Create persists a new resource. Returns ErrSlugTaken if a record
	// with the same kind and slug already exists.
	Create(ctx context.Context, res *models.Resource) error

	// Get retrieves a resource by kind and slug. Logically dead records
	// (expired, exhausted) are still returned; the access gate decides
	// what to do with them. Returns ErrNotFound when absent.
	Get(ctx context.Context, kind models.Kind, slug string) (*models.Resource, error)

	// Exists reports whether a record exists for the kind and slug.
	Exists(ctx context.Context, kind models.Kind, slug string) (bool, error)

	// Delete removes a resource record. Deleting an absent record is not
	// an error.
	Delete(ctx context.Context, kind models.Kind, slug string) error

	// IncrementUsage atomically increments the usage count if the record's
	// ceiling is unset or not yet reached, returning the post-increment
	// count. Returns ErrCeilingReached when the condition fails and
	// ErrNotFound when the record is absent.
	IncrementUsage(ctx context.Context, kind models.Kind, slug string) (int64, error)

	// FindDead returns up to limit records of the kind that are expired at
	// now or have reached their ceiling. Used by the sweeper for kinds
	// whose payload must be deleted alongside the record.
	FindDead(ctx context.Context, kind models.Kind, now time.Time, limit int) ([]*models.Resource, error)

	// DeleteExpired bulk-deletes records of the kind whose expiry time is
	// at or before now, returning how many were removed.
	DeleteExpired(ctx context.Context, kind models.Kind, now time.Time) (int64, error)

	// DeleteExhausted bulk-deletes records of the kind that have a ceiling
	// and have reached it, returning how many were removed.
	DeleteExhausted(ctx context.Context, kind models.Kind) (int64, error)

	// DeleteIdle bulk-deletes records of the kind created before the given
	// time that were never used, returning how many were removed.
	DeleteIdle(ctx context.Context, kind models.Kind, before time.Time) (int64, error)

	// StorePayload saves out-of-band content for a resource.
	StorePayload(ctx context.Context, kind models.Kind, slug string, content []byte) error

	// GetPayload retrieves out-of-band content. Returns ErrNotFound when
	// no payload exists.
	GetPayload(ctx context.Context, kind models.Kind, slug string) ([]byte, error)

	// DeletePayload removes out-of-band content. Idempotent: deleting an
	// absent payload succeeds.
	DeletePayload(ctx context.Context, kind models.Kind, slug string) error

	// Close releases backend connections.
	Close() error
}
