// Package quota enforces fixed-window request budgets per client and
// category.
package quota

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ephemhq/ephem/config"
)

// ExceededError reports a denied request along with how long the client
// should wait before retrying.
type ExceededError struct {
	Category   string
	RetryAfter time.Duration
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s, retry after %s", e.Category, e.RetryAfter)
}

// Result describes the outcome of a quota check.
type Result struct {
	Admitted      bool
	Limit         int
	Remaining     int
	WindowResetAt time.Time
	RetryAfter    time.Duration // zero when admitted
}

type ledgerKey struct {
	ClientID string
	Category string
}

type ledgerEntry struct {
	Count         int
	WindowResetAt time.Time
}

// Ledger tracks fixed-window counters keyed by (clientID, category).
// Categories are independent: spending one budget never touches another.
// Windows are replaced wholesale at their boundary, not merged, which
// permits double-budget bursts across a boundary; that is the accepted
// trade-off of fixed-window counting.
//
// All access goes through one mutex, so check-and-increment is a single
// critical section per key.
type Ledger struct {
	mu      sync.Mutex
	entries map[ledgerKey]*ledgerEntry
	limits  map[string]config.QuotaLimit
	now     func() time.Time
}

// NewLedger creates a ledger with the given per-category limits.
func NewLedger(limits map[string]config.QuotaLimit) *Ledger {
	return &Ledger{
		entries: make(map[ledgerKey]*ledgerEntry),
		limits:  limits,
		now:     time.Now,
	}
}

// CheckAndConsume records one request from the client in the category and
// reports whether it is admitted. Denied requests still advance the
// counter; they do not extend the window. On denial the error is an
// *ExceededError carrying the category and retry delay.
func (l *Ledger) CheckAndConsume(clientID, category string) (Result, error) {
	limit, ok := l.limits[category]
	if !ok {
		limit = l.limits[config.QuotaGeneral]
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	key := ledgerKey{ClientID: clientID, Category: category}

	entry, exists := l.entries[key]
	if !exists || !now.Before(entry.WindowResetAt) {
		// First request in a fresh window. The old window, if any, is
		// replaced outright.
		entry = &ledgerEntry{Count: 1, WindowResetAt: now.Add(limit.Window)}
		l.entries[key] = entry
	} else {
		entry.Count++
	}

	result := Result{
		Limit:         limit.Limit,
		WindowResetAt: entry.WindowResetAt,
	}
	if remaining := limit.Limit - entry.Count; remaining > 0 {
		result.Remaining = remaining
	}
	if entry.Count <= limit.Limit {
		result.Admitted = true
		return result, nil
	}
	result.RetryAfter = entry.WindowResetAt.Sub(now)
	return result, &ExceededError{Category: category, RetryAfter: result.RetryAfter}
}

// Reap drops entries whose window has already elapsed and returns how many
// were removed. Without it the ledger grows without bound under many
// distinct clients.
func (l *Ledger) Reap() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	reaped := 0
	for key, entry := range l.entries {
		if !now.Before(entry.WindowResetAt) {
			delete(l.entries, key)
			reaped++
		}
	}
	return reaped
}

// Size returns the number of live ledger entries.
func (l *Ledger) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// RunReaper reaps elapsed entries on the given interval until ctx is
// cancelled.
func (l *Ledger) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if reaped := l.Reap(); reaped > 0 {
				log.Printf("Quota reaper: dropped %d elapsed entries", reaped)
			}
		}
	}
}
