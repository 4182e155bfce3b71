// Package gate decides whether a resource may be served: it validates
// expiry, usage ceilings, and password gating, and applies the atomic usage
// increment on success.
package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/ephemhq/ephem/internal/metrics"
	"github.com/ephemhq/ephem/models"
	"github.com/ephemhq/ephem/storage"
)

// Terminal access states. Expired and exhausted resources are gone for
// good; password failures mean the caller may prompt and retry.
var (
	ErrNotFound         = errors.New("resource not found")
	ErrExpired          = errors.New("resource expired")
	ErrExhausted        = errors.New("resource exhausted")
	ErrPasswordRequired = errors.New("password required")
	ErrInvalidPassword  = errors.New("invalid password")
)

// Store is the slice of the persistence layer the gate needs.
type Store interface {
	Get(ctx context.Context, kind models.Kind, slug string) (*models.Resource, error)
	IncrementUsage(ctx context.Context, kind models.Kind, slug string) (int64, error)
}

// Access is a granted request: the resource plus its usage count
// immediately after this access was counted.
type Access struct {
	Resource   *models.Resource
	UsageCount int64
}

// Gate is the per-resource access state machine.
type Gate struct {
	store Store
	now   func() time.Time
}

// New creates a gate over the given store.
func New(store Store) *Gate {
	return &Gate{store: store, now: time.Now}
}

// Open runs the full access sequence for one attempt: not-found, expiry,
// ceiling, and password checks, then the atomic conditional increment.
// Exactly one increment is applied per granted access; every failure path
// leaves the usage count untouched.
func (g *Gate) Open(ctx context.Context, kind models.Kind, slug, password string) (*Access, error) {
	res, err := g.store.Get(ctx, kind, slug)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			metrics.AccessOutcomes.WithLabelValues(string(kind), "not_found").Inc()
			return nil, ErrNotFound
		}
		metrics.AccessOutcomes.WithLabelValues(string(kind), "error").Inc()
		return nil, fmt.Errorf("load resource: %w", err)
	}

	if res.IsExpired(g.now()) {
		metrics.AccessOutcomes.WithLabelValues(string(kind), "expired").Inc()
		return nil, ErrExpired
	}
	if res.IsExhausted() {
		metrics.AccessOutcomes.WithLabelValues(string(kind), "exhausted").Inc()
		return nil, ErrExhausted
	}

	// Failed password attempts are free: no increment on either branch.
	if res.HasPassword() {
		if password == "" {
			metrics.AccessOutcomes.WithLabelValues(string(kind), "password_required").Inc()
			return nil, ErrPasswordRequired
		}
		if bcrypt.CompareHashAndPassword([]byte(res.PasswordHash), []byte(password)) != nil {
			metrics.AccessOutcomes.WithLabelValues(string(kind), "invalid_password").Inc()
			return nil, ErrInvalidPassword
		}
	}

	// Time may have passed since the check at the top; a resource can
	// expire mid-request.
	if res.IsExpired(g.now()) {
		metrics.AccessOutcomes.WithLabelValues(string(kind), "expired").Inc()
		return nil, ErrExpired
	}

	// The ceiling is re-validated inside the store's conditional
	// increment, so two concurrent calls cannot both slip past the check
	// above and overshoot.
	count, err := g.store.IncrementUsage(ctx, kind, slug)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrCeilingReached):
			metrics.AccessOutcomes.WithLabelValues(string(kind), "exhausted").Inc()
			return nil, ErrExhausted
		case errors.Is(err, storage.ErrNotFound):
			// Swept between load and increment.
			metrics.AccessOutcomes.WithLabelValues(string(kind), "not_found").Inc()
			return nil, ErrNotFound
		default:
			metrics.AccessOutcomes.WithLabelValues(string(kind), "error").Inc()
			return nil, fmt.Errorf("increment usage: %w", err)
		}
	}

	metrics.AccessOutcomes.WithLabelValues(string(kind), "granted").Inc()
	res.UsageCount = count
	return &Access{Resource: res, UsageCount: count}, nil
}

// Peek runs the liveness checks without consuming a use or requiring a
// password. Used for metadata lookups.
func (g *Gate) Peek(ctx context.Context, kind models.Kind, slug string) (*models.Resource, error) {
	res, err := g.store.Get(ctx, kind, slug)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load resource: %w", err)
	}
	if res.IsExpired(g.now()) {
		return nil, ErrExpired
	}
	if res.IsExhausted() {
		return nil, ErrExhausted
	}
	return res, nil
}

// HashPassword hashes a plaintext password for storage on a new resource.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}
