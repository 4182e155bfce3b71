// Package sweeper physically removes resources whose lifecycle has ended:
// expired records, records that hit their usage ceiling, and long-idle
// records nobody ever used.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ephemhq/ephem/config"
	"github.com/ephemhq/ephem/internal/metrics"
	"github.com/ephemhq/ephem/models"
	"github.com/ephemhq/ephem/storage"
)

// deadBatchSize bounds how many payload-owning records one sweep iteration
// loads at a time.
const deadBatchSize = 200

// Sweeper deletes dead resources across every kind. One kind failing never
// aborts the others; per-kind errors are collected and reported together.
type Sweeper struct {
	store storage.ResourceStore
	now   func() time.Time
}

// New creates a sweeper over the given store.
func New(store storage.ResourceStore) *Sweeper {
	return &Sweeper{store: store, now: time.Now}
}

// Sweep runs one full pass over all resource kinds and returns the total
// number of records deleted. The returned error joins any per-kind
// failures; a non-nil error does not mean nothing was deleted.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	now := s.now()
	var total int64
	var errs []error

	for _, kind := range models.Kinds {
		deleted, err := s.sweepKind(ctx, kind, now)
		total += deleted
		if err != nil {
			metrics.SweepErrors.WithLabelValues(string(kind)).Inc()
			errs = append(errs, fmt.Errorf("sweep %s: %w", kind, err))
		}
	}

	// Idle-retention rule: zero-use QR records older than the idle window
	// are low-value storage; drop them even without an explicit expiry.
	idleDeleted, err := s.store.DeleteIdle(ctx, models.KindQR, now.Add(-config.IdleRetention))
	total += idleDeleted
	if idleDeleted > 0 {
		metrics.SweepDeletions.WithLabelValues(string(models.KindQR), "idle").Add(float64(idleDeleted))
	}
	if err != nil {
		metrics.SweepErrors.WithLabelValues(string(models.KindQR)).Inc()
		errs = append(errs, fmt.Errorf("sweep idle %s: %w", models.KindQR, err))
	}

	return total, errors.Join(errs...)
}

// sweepKind removes the dead records of one kind. Kinds with out-of-band
// payloads are swept record by record so the payload is deleted before its
// metadata; inline kinds use the store's bulk deletes.
func (s *Sweeper) sweepKind(ctx context.Context, kind models.Kind, now time.Time) (int64, error) {
	if kind.HasExternalPayload() {
		return s.sweepWithPayloads(ctx, kind, now)
	}

	var total int64
	expired, err := s.store.DeleteExpired(ctx, kind, now)
	total += expired
	if expired > 0 {
		metrics.SweepDeletions.WithLabelValues(string(kind), "expired").Add(float64(expired))
	}
	if err != nil {
		return total, err
	}

	// Second pass: some kinds can be exhausted without ever expiring.
	exhausted, err := s.store.DeleteExhausted(ctx, kind)
	total += exhausted
	if exhausted > 0 {
		metrics.SweepDeletions.WithLabelValues(string(kind), "exhausted").Add(float64(exhausted))
	}
	return total, err
}

func (s *Sweeper) sweepWithPayloads(ctx context.Context, kind models.Kind, now time.Time) (int64, error) {
	var total int64
	for {
		dead, err := s.store.FindDead(ctx, kind, now, deadBatchSize)
		if err != nil {
			return total, err
		}
		if len(dead) == 0 {
			return total, nil
		}
		for _, res := range dead {
			// Payload first, so a crash between the two deletes leaves a
			// record pointing at a missing payload rather than an orphaned
			// payload nothing references. DeletePayload tolerates the
			// payload already being gone.
			if err := s.store.DeletePayload(ctx, kind, res.Slug); err != nil {
				return total, fmt.Errorf("delete payload %s/%s: %w", kind, res.Slug, err)
			}
			if err := s.store.Delete(ctx, kind, res.Slug); err != nil {
				return total, fmt.Errorf("delete record %s/%s: %w", kind, res.Slug, err)
			}
			total++
			metrics.SweepDeletions.WithLabelValues(string(kind), "dead").Inc()
		}
		if len(dead) < deadBatchSize {
			return total, nil
		}
	}
}

// Run executes one sweep immediately, then repeats on the interval until
// ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	s.logPass(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.logPass(ctx)
		}
	}
}

func (s *Sweeper) logPass(ctx context.Context) {
	deleted, err := s.Sweep(ctx)
	if err != nil {
		log.Printf("[WARN] Sweep finished with errors (deleted %d): %v", deleted, err)
		return
	}
	if deleted > 0 {
		log.Printf("Sweep deleted %d dead resources", deleted)
	}
}
